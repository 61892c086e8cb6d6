package agentcard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// WellKnownPath is where the card is published.
	WellKnownPath = "/.well-known/agent-card.json"
	// DefaultMediaType is the media type the card is served with.
	DefaultMediaType = "application/json"

	maxCardBytes = 1 << 20
)

// PublishHandler serves card as JSON. The body is encoded once and tagged
// with a strong ETag so clients can revalidate with If-None-Match.
func PublishHandler(card *AgentCard) http.Handler {
	if card == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "agent card not configured", http.StatusNotFound)
		})
	}
	payload, encErr := json.Marshal(card)
	sum := sha256.Sum256(payload)
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if encErr != nil {
			http.Error(w, "agent card cannot be encoded", http.StatusInternalServerError)
			return
		}
		h := w.Header()
		h.Set("ETag", etag)
		h.Set("Cache-Control", "public, max-age=300")
		if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		h.Set("Content-Type", DefaultMediaType)
		_, _ = w.Write(payload)
	})
}

// Fetch downloads and validates the card published under baseURL.
func Fetch(ctx context.Context, baseURL string) (*AgentCard, error) {
	return FetchWith(ctx, http.DefaultClient, baseURL)
}

// FetchWith is Fetch using hc. A nil client means http.DefaultClient.
func FetchWith(ctx context.Context, hc *http.Client, baseURL string) (*AgentCard, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	target := strings.TrimSuffix(baseURL, "/") + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("agent card request: %w", err)
	}
	req.Header.Set("Accept", DefaultMediaType)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch agent card: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxCardBytes))
		return nil, fmt.Errorf("fetch agent card %s: unexpected status %s", target, resp.Status)
	}

	var card AgentCard
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxCardBytes))
	if err := dec.Decode(&card); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return &card, nil
}
