package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profileDoc = `Senior backend engineer. Built Go microservices on Kubernetes with gRPC and PostgreSQL.
Led migration of payment APIs to event-driven architecture with Kafka.
Hobbies include landscape photography and trail running in the mountains.`

func TestProfileIndexRetrievesRelevantSection(t *testing.T) {
	ctx := context.Background()
	idx, err := NewProfileIndex(NewInMemory(), NewHashEmbedder(0), WithChunking(90, 0))
	require.NoError(t, err)

	n, err := idx.Index(ctx, "alice", profileDoc, map[string]any{"source": "cv.pdf"})
	require.NoError(t, err)
	assert.Greater(t, n, 1)

	count, err := idx.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, n, count)

	sections, err := idx.Retrieve(ctx, "alice", "go kubernetes grpc microservices", 2, 0.05)
	require.NoError(t, err)
	require.NotEmpty(t, sections)
	assert.Contains(t, sections[0].Text, "Kubernetes")
	assert.Equal(t, "cv.pdf", sections[0].Metadata["source"])

	// re-indexing replaces chunks instead of duplicating them
	_, err = idx.Index(ctx, "alice", profileDoc, nil)
	require.NoError(t, err)
	count, err = idx.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func TestProfileIndexUnknownProfile(t *testing.T) {
	idx, err := NewProfileIndex(NewInMemory(), NewHashEmbedder(16))
	require.NoError(t, err)
	_, err = idx.Retrieve(context.Background(), "", "go", 5, 0)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	assert.Equal(t, DefaultProfileCollection, CollectionName("  "))
}

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk("   ", 10, 2))
	assert.Equal(t, []string{"short"}, Chunk("short", 100, 10))

	text := strings.Repeat("word ", 50) + "end."
	chunks := Chunk(text, 40, 10)
	require.Greater(t, len(chunks), 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 40)
	}

	sentences := "First sentence here. Second sentence follows. Third one."
	got := Chunk(sentences, 30, 0)
	assert.Equal(t, "First sentence here.", got[0])
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(32)
	a, _ := e.Embed(context.Background(), "Go and Kubernetes")
	b, _ := e.Embed(context.Background(), "kubernetes GO and")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.Equal(t, []string{"c++", "node.js", "c#"}, Tokenize("C++, Node.js; C#."))
}

func TestProfileIndexDefaultCollection(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	idx, err := NewProfileIndex(store, NewHashEmbedder(16), WithDefaultCollection("shared_profiles"))
	require.NoError(t, err)

	_, err = idx.Index(ctx, "", profileDoc, nil)
	require.NoError(t, err)
	n, err := store.Count(ctx, "shared_profiles")
	require.NoError(t, err)
	assert.Positive(t, n)
}
