package compose

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// AuditStore persists stage events.
type AuditStore interface {
	Record(ctx context.Context, event StageEvent) error
	List(ctx context.Context, filter AuditFilter) ([]StageEvent, error)
}

// AuditFilter limits audit queries.
type AuditFilter struct {
	RunID  string
	Stage  string
	Status StageStatus
	Limit  int
}

// MemoryAuditStore keeps stage events in memory.
type MemoryAuditStore struct {
	mu     sync.Mutex
	events []StageEvent
}

// NewMemoryAuditStore returns an in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// Record appends an event.
func (s *MemoryAuditStore) Record(_ context.Context, event StageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered events in recording order.
func (s *MemoryAuditStore) List(_ context.Context, filter AuditFilter) ([]StageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StageEvent, 0, len(s.events))
	for _, ev := range s.events {
		if filter.RunID != "" && ev.RunID != filter.RunID {
			continue
		}
		if filter.Stage != "" && ev.Stage != filter.Stage {
			continue
		}
		if filter.Status != "" && ev.Status != filter.Status {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func encodeKeys(keys []string) (string, error) {
	if len(keys) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(keys)
	return string(raw), err
}

func decodeKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil
	}
	return keys
}

func normalizeAuditTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
