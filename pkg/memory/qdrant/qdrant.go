// Package qdrant implements memory.VectorStore on a Qdrant server over gRPC.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jllopis/resumeflow/pkg/memory"
)

// Store talks to the Qdrant points and collections services.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	service     pb.QdrantClient
}

// New connects to a Qdrant gRPC endpoint such as "localhost:6334". The
// connection is established lazily on the first request.
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		service:     pb.NewQdrantClient(conn),
	}, nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping runs the server health check.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.service.HealthCheck(ctx, &pb.HealthCheckRequest{}); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// CreateCollection creates a cosine collection unless it already exists.
func (s *Store) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return fmt.Errorf("qdrant: collection exists %s: %w", name, err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes points. IDs must be UUIDs.
func (s *Store) Upsert(ctx context.Context, collection string, points []memory.Point) error {
	qPoints := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := pb.TryValueMap(normalizePayload(p.Payload))
		if err != nil {
			return fmt.Errorf("qdrant: payload of %s: %w", p.ID, err)
		}
		qPoints = append(qPoints, &pb.PointStruct{
			Id:      pb.NewIDUUID(p.ID),
			Vectors: pb.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         qPoints,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert into %s: %w", collection, err)
	}
	return nil
}

// Search returns the nearest points with their payloads.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]memory.SearchResult, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		ScoreThreshold: &scoreThreshold,
		WithPayload:    pb.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %s: %w", collection, err)
	}

	results := make([]memory.SearchResult, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		id := pointID(r.GetId())
		results = append(results, memory.SearchResult{
			ID:    id,
			Score: r.GetScore(),
			Point: memory.Point{ID: id, Payload: fromValueMap(r.GetPayload())},
		})
	}
	return results, nil
}

// Count returns the exact number of points in collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count %s: %w", collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func pointID(id *pb.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// normalizePayload rewrites slice and map types the qdrant value builder
// does not accept into their generic forms.
func normalizePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []string:
		list := make([]any, len(val))
		for i, s := range val {
			list[i] = s
		}
		return list
	case []any:
		list := make([]any, len(val))
		for i, item := range val {
			list[i] = normalizeValue(item)
		}
		return list
	case map[string]any:
		return normalizePayload(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return m
	default:
		return v
	}
}

func fromValueMap(in map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *pb.Value) any {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_StructValue:
		return fromValueMap(kind.StructValue.GetFields())
	case *pb.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]any, len(items))
		for i, item := range items {
			list[i] = fromValue(item)
		}
		return list
	default:
		return nil
	}
}

var _ memory.VectorStore = (*Store)(nil)
