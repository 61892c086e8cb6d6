// Package memory provides the vector storage and embedding helpers behind
// profile retrieval.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// InMemory is an in-process VectorStore scoring by cosine similarity.
type InMemory struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	size   uint64
	order  []string
	points map[string]Point
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{collections: make(map[string]*collection)}
}

// CreateCollection creates name if it does not exist. Re-creating with a
// different vector size is an error.
func (m *InMemory) CreateCollection(_ context.Context, name string, vectorSize uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		if c.size != vectorSize {
			return fmt.Errorf("memory: collection %q has vector size %d, not %d", name, c.size, vectorSize)
		}
		return nil
	}
	m.collections[name] = &collection{size: vectorSize, points: make(map[string]Point)}
	return nil
}

// Upsert adds or replaces points by ID.
func (m *InMemory) Upsert(_ context.Context, name string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	for _, p := range points {
		if uint64(len(p.Vector)) != c.size {
			return fmt.Errorf("memory: point %s has %d dimensions, collection expects %d", p.ID, len(p.Vector), c.size)
		}
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.points[p.ID] = p
	}
	return nil
}

// Search returns the best matches at or above scoreThreshold.
func (m *InMemory) Search(_ context.Context, name string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	results := make([]SearchResult, 0, len(c.points))
	for _, id := range c.order {
		p := c.points[id]
		score := cosine(vector, p.Vector)
		if score < scoreThreshold {
			continue
		}
		results = append(results, SearchResult{ID: id, Score: score, Point: p})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count returns the number of points in name.
func (m *InMemory) Count(_ context.Context, name string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return len(c.points), nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
