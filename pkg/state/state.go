// Package state holds the per-run key/value bag shared by pipeline stages.
//
// A Store grows through deltas applied by the composition engine. Every key
// has exactly one owner: the first owner that writes it. Stages never see the
// Store itself; they read from an immutable Snapshot and return a Delta.
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/copystructure"
)

// SeedOwner owns the keys written before the first stage runs.
const SeedOwner = "orchestrator"

var (
	// ErrOwnerConflict is returned when a key is written by a second owner.
	ErrOwnerConflict = errors.New("state: key already owned by another writer")
	// ErrFrozen is returned when writing to a frozen store.
	ErrFrozen = errors.New("state: store is frozen")
)

// Delta is the set of keys a stage produced.
type Delta map[string]any

// Keys returns the delta keys in sorted order.
func (d Delta) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Store is the mutable state of one pipeline run.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
	owners map[string]string
	frozen bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		values: make(map[string]any),
		owners: make(map[string]string),
	}
}

// Get returns the value for key, or def when the key is absent.
func (s *Store) Get(key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

// Owner returns the writer recorded for key.
func (s *Store) Owner(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[key]
	return owner, ok
}

// Set writes a seed value owned by SeedOwner.
func (s *Store) Set(key string, value any) error {
	return s.Apply(SeedOwner, Delta{key: value})
}

// Apply merges delta into the store on behalf of owner. The whole delta is
// rejected when any key is owned by a different writer.
func (s *Store) Apply(owner string, delta Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	for _, key := range delta.Keys() {
		if prev, ok := s.owners[key]; ok && prev != owner {
			return fmt.Errorf("%w: %q owned by %s, written by %s", ErrOwnerConflict, key, prev, owner)
		}
	}
	for key, value := range delta {
		s.values[key] = value
		s.owners[key] = owner
	}
	return nil
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot returns a deep copy of the current values.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{values: deepCopy(s.values)}
}

// Branch returns an independent store with a deep copy of the values and
// their owners. Writes to the branch never reach s.
func (s *Store) Branch() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners := make(map[string]string, len(s.owners))
	for k, v := range s.owners {
		owners[k] = v
	}
	return &Store{values: deepCopy(s.values), owners: owners}
}

// Freeze stops further writes and returns the final snapshot.
func (s *Store) Freeze() Snapshot {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
	return s.Snapshot()
}

// Frozen reports whether Freeze was called.
func (s *Store) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Snapshot is a read-only view of the store at one point in time.
type Snapshot struct {
	values map[string]any
}

// NewSnapshot builds a snapshot from a plain map. The map is copied.
func NewSnapshot(values map[string]any) Snapshot {
	return Snapshot{values: deepCopy(values)}
}

// Get returns the value for key, or def when absent.
func (s Snapshot) Get(key string, def any) any {
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

// Lookup returns the value for key and whether it exists.
func (s Snapshot) Lookup(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// String returns the value for key when it is a string.
func (s Snapshot) String(key string) string {
	v, _ := s.values[key].(string)
	return v
}

// Map returns the value for key when it is an object.
func (s Snapshot) Map(key string) map[string]any {
	v, _ := s.values[key].(map[string]any)
	return v
}

// Keys returns the snapshot keys in sorted order.
func (s Snapshot) Keys() []string {
	return Delta(s.values).Keys()
}

// Len returns the number of keys.
func (s Snapshot) Len() int { return len(s.values) }

// Clone returns an independent deep copy.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{values: deepCopy(s.values)}
}

// ToMap returns a deep copy of the values.
func (s Snapshot) ToMap() map[string]any {
	return deepCopy(s.values)
}

func deepCopy(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if v == nil {
			out[k] = nil
			continue
		}
		c, err := copystructure.Copy(v)
		if err != nil {
			// uncopyable values (funcs, channels) are shared as-is
			out[k] = v
			continue
		}
		out[k] = c
	}
	return out
}
