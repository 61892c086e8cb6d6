package memory

import (
	"context"
	"errors"
	"fmt"
)

// ErrCollectionNotFound is returned when searching a collection that was
// never created.
var ErrCollectionNotFound = errors.New("memory: collection not found")

// VectorStore is the storage behind a ProfileIndex. Collections are created
// lazily with the dimension of the first vector written to them.
type VectorStore interface {
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns at most limit points scoring at least scoreThreshold,
	// best first.
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error)
	// CreateCollection is a no-op for an existing collection.
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	Count(ctx context.Context, collection string) (int, error)
}

// Point is one stored chunk.
type Point struct {
	ID        string         `json:"id"`
	Vector    []float32      `json:"vector,omitempty"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

// Text returns the chunk text kept in the payload.
func (p Point) Text() string {
	s, _ := p.Payload["text"].(string)
	return s
}

type SearchResult struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Point Point   `json:"point"`
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that can vectorize several texts
// in one round trip.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedAll embeds texts in order, batching when e supports it.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if b, ok := e.(BatchEmbedder); ok && len(texts) > 1 {
		vecs, err := b.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		return vecs, nil
	}
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		vecs[i] = vec
	}
	return vecs, nil
}
