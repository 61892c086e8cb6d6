package server

import (
	"maps"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// transitions lists the legal target states per source state. Terminal
// states have no entry.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusCancelled},
}

// ParseStatus returns the status named s.
func ParseStatus(s string) (TaskStatus, bool) {
	switch st := TaskStatus(s); st {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return st, true
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Task is an asynchronously tracked skill execution.
type Task struct {
	ID          string         `json:"id"`
	SkillID     string         `json:"skill_id"`
	Input       map[string]any `json:"input"`
	Status      TaskStatus     `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no maps with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Input = maps.Clone(t.Input)
	out.Output = maps.Clone(t.Output)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}

// Update describes one state change applied by a TaskStore.
type Update struct {
	Status TaskStatus
	Output map[string]any
	Error  string
}

// apply moves t to u.Status, stamping times. The caller has checked the edge.
func (t *Task) apply(u Update, now time.Time) {
	t.Status = u.Status
	t.UpdatedAt = now
	if u.Output != nil {
		t.Output = u.Output
	}
	if u.Error != "" {
		t.Error = u.Error
	}
	if u.Status.IsTerminal() {
		t.CompletedAt = &now
	}
}
