package qdrant

import (
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	payload := map[string]any{
		"text":        "Go microservices",
		"chunk_index": 2,
		"score":       0.5,
		"tags":        []string{"go", "grpc"},
		"meta":        map[string]string{"source": "cv.pdf"},
		"current":     true,
	}
	values, err := pb.TryValueMap(normalizePayload(payload))
	require.NoError(t, err)

	got := fromValueMap(values)
	assert.Equal(t, "Go microservices", got["text"])
	assert.Equal(t, int64(2), got["chunk_index"])
	assert.Equal(t, 0.5, got["score"])
	assert.Equal(t, []any{"go", "grpc"}, got["tags"])
	assert.Equal(t, map[string]any{"source": "cv.pdf"}, got["meta"])
	assert.Equal(t, true, got["current"])
}

func TestPointID(t *testing.T) {
	assert.Equal(t, "7", pointID(pb.NewIDNum(7)))
	assert.Equal(t, "6f1c2a8e-4d0b-4c41-9a55-3f7d2e8b9c10", pointID(pb.NewIDUUID("6f1c2a8e-4d0b-4c41-9a55-3f7d2e8b9c10")))
}
