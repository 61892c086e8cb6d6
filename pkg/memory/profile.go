package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultProfileCollection is used when no profile id is given.
const DefaultProfileCollection = "user_profile"

// profileNamespace seeds deterministic point ids so re-indexing the same
// chunk replaces it.
var profileNamespace = uuid.MustParse("6f1c2a8e-4d0b-4c41-9a55-3f7d2e8b9c10")

// Section is one retrieved piece of a profile.
type Section struct {
	Text     string         `json:"text"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ProfileIndex stores profile documents as embedded chunks, one collection
// per profile id.
type ProfileIndex struct {
	store        VectorStore
	embedder     Embedder
	chunkSize    int
	chunkOverlap int
	fallback     string
}

// ProfileOption configures a ProfileIndex.
type ProfileOption func(*ProfileIndex)

// WithChunking sets the chunk window and overlap used by Index.
func WithChunking(size, overlap int) ProfileOption {
	return func(p *ProfileIndex) {
		if size > 0 {
			p.chunkSize = size
		}
		if overlap >= 0 {
			p.chunkOverlap = overlap
		}
	}
}

// WithDefaultCollection sets the collection used for requests without a
// profile id.
func WithDefaultCollection(name string) ProfileOption {
	return func(p *ProfileIndex) {
		if name = strings.TrimSpace(name); name != "" {
			p.fallback = name
		}
	}
}

// NewProfileIndex creates a ProfileIndex.
func NewProfileIndex(store VectorStore, embedder Embedder, opts ...ProfileOption) (*ProfileIndex, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("memory: profile index needs a store and an embedder")
	}
	p := &ProfileIndex{store: store, embedder: embedder, chunkSize: 1000, chunkOverlap: 200, fallback: DefaultProfileCollection}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CollectionName returns the collection holding profileID.
func CollectionName(profileID string) string {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return DefaultProfileCollection
	}
	return profileID
}

func (p *ProfileIndex) collection(profileID string) string {
	if strings.TrimSpace(profileID) == "" {
		return p.fallback
	}
	return CollectionName(profileID)
}

// Index chunks text, embeds every chunk and upserts it into the profile's
// collection, creating the collection on first use. It returns the number of
// chunks stored.
func (p *ProfileIndex) Index(ctx context.Context, profileID, text string, metadata map[string]any) (int, error) {
	chunks := Chunk(text, p.chunkSize, p.chunkOverlap)
	if len(chunks) == 0 {
		return 0, nil
	}
	name := p.collection(profileID)
	now := time.Now().Unix()

	vecs, err := EmbedAll(ctx, p.embedder, chunks)
	if err != nil {
		return 0, err
	}
	if err := p.store.CreateCollection(ctx, name, uint64(len(vecs[0]))); err != nil {
		return 0, err
	}
	points := make([]Point, 0, len(chunks))
	for i, chunk := range chunks {
		vec := vecs[i]
		payload := map[string]any{
			"text":        chunk,
			"chunk_index": i,
			"timestamp":   now,
		}
		for k, v := range metadata {
			payload[k] = v
		}
		points = append(points, Point{
			ID:        uuid.NewSHA1(profileNamespace, []byte(name+"\x00"+chunk)).String(),
			Vector:    vec,
			Payload:   payload,
			Timestamp: now,
		})
	}
	if err := p.store.Upsert(ctx, name, points); err != nil {
		return 0, fmt.Errorf("failed to store profile chunks: %w", err)
	}
	return len(points), nil
}

// Retrieve returns the sections of profileID most similar to query.
func (p *ProfileIndex) Retrieve(ctx context.Context, profileID, query string, limit int, minScore float32) ([]Section, error) {
	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := p.store.Search(ctx, p.collection(profileID), vec, limit, minScore)
	if err != nil {
		return nil, err
	}
	sections := make([]Section, 0, len(results))
	for _, r := range results {
		text := r.Point.Text()
		if text == "" {
			continue
		}
		meta := make(map[string]any, len(r.Point.Payload))
		for k, v := range r.Point.Payload {
			if k != "text" {
				meta[k] = v
			}
		}
		sections = append(sections, Section{Text: text, Score: r.Score, Metadata: meta})
	}
	return sections, nil
}

// Count returns the number of chunks indexed for profileID.
func (p *ProfileIndex) Count(ctx context.Context, profileID string) (int, error) {
	return p.store.Count(ctx, p.collection(profileID))
}
