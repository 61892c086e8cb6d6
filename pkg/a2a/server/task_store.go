package server

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default pagination for ListTasks.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// TaskFilter defines filtering and pagination for listing tasks.
type TaskFilter struct {
	Status TaskStatus
	Limit  int
	Offset int
}

func (f TaskFilter) normalized() TaskFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// TaskStore owns task records. Transition rejects edges the lifecycle does
// not allow with an INVALID_TRANSITION error and leaves the task unchanged.
type TaskStore interface {
	Create(ctx context.Context, skillID string, input map[string]any) (*Task, error)
	Get(ctx context.Context, taskID string) (*Task, error)
	// List returns one page sorted by created_at descending and the total
	// number of tasks matching the filter.
	List(ctx context.Context, filter TaskFilter) ([]*Task, int, error)
	Transition(ctx context.Context, taskID string, update Update) (*Task, error)
	Count(ctx context.Context) (int, error)
}

// NewTaskID returns a fresh task identifier.
func NewTaskID() string {
	return "task-" + uuid.NewString()
}

// MemoryTaskStore keeps tasks in memory.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewMemoryTaskStore creates a new in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]*Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a pending task.
func (s *MemoryTaskStore) Create(_ context.Context, skillID string, input map[string]any) (*Task, error) {
	if skillID == "" {
		return nil, NewInvalidParamsError("skill_id is required")
	}
	now := s.now()
	task := &Task{
		ID:        NewTaskID(),
		SkillID:   skillID,
		Input:     maps.Clone(input),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if task.Input == nil {
		task.Input = map[string]any{}
	}
	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()
	return task.Clone(), nil
}

// Get returns a copy of the task.
func (s *MemoryTaskStore) Get(_ context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, NewTaskNotFoundError(taskID)
	}
	return task.Clone(), nil
}

// List filters by status, sorts by creation time (newest first, id as
// tie-break) and paginates.
func (s *MemoryTaskStore) List(_ context.Context, filter TaskFilter) ([]*Task, int, error) {
	filter = filter.normalized()
	s.mu.RLock()
	matched := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		matched = append(matched, task.Clone())
	}
	s.mu.RUnlock()

	sortTasks(matched)
	total := len(matched)
	if filter.Offset >= total {
		return []*Task{}, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)
	return matched[filter.Offset:end], total, nil
}

// Transition applies update when the edge is legal.
func (s *MemoryTaskStore) Transition(_ context.Context, taskID string, update Update) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, NewTaskNotFoundError(taskID)
	}
	if !CanTransition(task.Status, update.Status) {
		return task.Clone(), NewInvalidTransitionError(taskID, task.Status, update.Status)
	}
	task.apply(update, s.now())
	return task.Clone(), nil
}

// Count returns the number of stored tasks.
func (s *MemoryTaskStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks), nil
}

func sortTasks(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID > tasks[j].ID
	})
}
