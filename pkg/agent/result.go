package agent

import (
	"fmt"

	"github.com/jllopis/resumeflow/pkg/state"
)

// Status is the outcome of one agent run.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Result is either OK with a delta or Failed with a reason.
type Result struct {
	Status Status
	Delta  state.Delta
	Reason string
}

// OK returns a successful result carrying delta.
func OK(delta state.Delta) Result {
	if delta == nil {
		delta = state.Delta{}
	}
	return Result{Status: StatusOK, Delta: delta}
}

// Failed returns a failed result.
func Failed(reason string) Result {
	return Result{Status: StatusFailed, Reason: reason}
}

// Failedf returns a failed result with a formatted reason.
func Failedf(format string, args ...any) Result {
	return Failed(fmt.Sprintf(format, args...))
}

// FromError converts err into a failed result.
func FromError(err error) Result {
	if err == nil {
		return Failed("unknown error")
	}
	return Failed(err.Error())
}

// IsOK reports whether the run succeeded.
func (r Result) IsOK() bool { return r.Status == StatusOK }
