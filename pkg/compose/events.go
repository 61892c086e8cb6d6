package compose

import (
	"context"
	"time"
)

// StageStatus is the outcome recorded for one stage.
type StageStatus string

const (
	StageOK      StageStatus = "ok"
	StageFailed  StageStatus = "failed"
	StagePartial StageStatus = "partial"
	StageError   StageStatus = "error"
)

// StageEvent describes one finished stage.
type StageEvent struct {
	RunID      string      `json:"run_id"`
	Stage      string      `json:"stage"`
	Status     StageStatus `json:"status"`
	Keys       []string    `json:"keys,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Observer receives stage events while a run progresses. Stages of a
// parallel group report from their own goroutines, so observers must be safe
// for concurrent use.
type Observer func(StageEvent)

type observerKey struct{}

type runIDKey struct{}

// WithObserver attaches obs to every run started with the returned context.
func WithObserver(ctx context.Context, obs Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, obs)
}

// ObserverFrom returns the observer attached to ctx.
func ObserverFrom(ctx context.Context) Observer {
	obs, _ := ctx.Value(observerKey{}).(Observer)
	return obs
}

// WithRunID sets the identifier used in logs, spans and audit records.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run identifier carried by ctx.
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
