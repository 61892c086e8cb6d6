// Package ollama embeds text with a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultModel   = "nomic-embed-text"
	DefaultBaseURL = "http://localhost:11434"

	embedPath     = "/api/embed"
	maxErrorBytes = 512
)

// Embedder calls the Ollama embed API. It satisfies memory.BatchEmbedder.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
}

type Option func(*Embedder)

// WithHTTPClient replaces the default client, which times out after 60s.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Embedder) {
		if c != nil {
			e.client = c
		}
	}
}

// NewEmbedder returns an embedder for model on the server at baseURL. Empty
// arguments select DefaultBaseURL and DefaultModel.
func NewEmbedder(baseURL, model string, opts ...Option) *Embedder {
	e := &Embedder{
		baseURL: strings.TrimSuffix(orDefault(baseURL, DefaultBaseURL), "/"),
		model:   orDefault(model, DefaultModel),
		client:  &http.Client{Timeout: time.Minute},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// Embed returns the vector of a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{"model": e.model, "input": texts})
	if err != nil {
		return nil, fmt.Errorf("ollama: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+embedPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed call: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(raw, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw[:min(len(raw), maxErrorBytes)]))
		}
		return nil, fmt.Errorf("ollama: %s: %s", resp.Status, msg)
	}
	return parseEmbeddings(raw, len(texts), e.model)
}

func parseEmbeddings(raw []byte, want int, model string) ([][]float32, error) {
	rows := gjson.GetBytes(raw, "embeddings").Array()
	if len(rows) != want {
		return nil, fmt.Errorf("ollama: model %s returned %d embeddings for %d inputs", model, len(rows), want)
	}
	out := make([][]float32, len(rows))
	for i, row := range rows {
		values := row.Array()
		if len(values) == 0 {
			return nil, fmt.Errorf("ollama: model %s returned an empty embedding", model)
		}
		vec := make([]float32, len(values))
		for j, v := range values {
			vec[j] = float32(v.Float())
		}
		out[i] = vec
	}
	return out, nil
}
