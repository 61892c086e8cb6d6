// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/jllopis/resumeflow/pkg/errors"
)

// CircuitBreakerState is the admission state of a breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig configures a CircuitBreaker. Zero values take the
// defaults noted on each field.
type CircuitBreakerConfig struct {
	Name string
	// FailureThreshold consecutive failures open the circuit (5).
	FailureThreshold int
	// SuccessThreshold probe successes close it again (2).
	SuccessThreshold int
	// Timeout is the cool-down before probes are admitted (30s).
	Timeout time.Duration
	// MaxProbes bounds concurrent calls while half-open (1).
	MaxProbes int
	// OnStateChange is invoked, outside the lock, after every transition.
	OnStateChange func(name string, from, to CircuitBreakerState)
}

// CircuitBreaker fails calls fast after repeated failures of the wrapped
// operation. Cancellation of the caller's context is not counted.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     CircuitBreakerState
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

type transition struct{ from, to CircuitBreakerState }

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxProbes < 1 {
		cfg.MaxProbes = 1
	}
	if cfg.Name == "" {
		cfg.Name = "circuit_breaker"
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, state: StateClosed}
}

// Call runs fn when the breaker admits it. A rejected call returns a
// CodeToolFailure error carrying the breaker name and the time left before
// the next probe.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, rejected, moved := cb.admit()
	cb.notify(moved)
	if rejected != nil {
		return rejected
	}

	err := fn(ctx)

	cb.notify(cb.record(err, probe))
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, rejected error, moved *transition) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		wait := cb.cfg.Timeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return false, errors.New(errors.CodeToolFailure, "circuit breaker open", nil).
				WithContext("breaker", cb.cfg.Name).
				WithContext("retry_in", wait.Round(time.Millisecond).String()), nil
		}
		moved = cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.MaxProbes {
			return false, errors.New(errors.CodeToolFailure, "circuit breaker probing", nil).
				WithContext("breaker", cb.cfg.Name), moved
		}
		cb.probes++
		return true, nil, moved
	}
	return false, nil, moved
}

func (cb *CircuitBreaker) record(err error, probe bool) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probes--
	}
	if err != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)) {
		return nil
	}

	switch {
	case err != nil && cb.state == StateHalfOpen:
		return cb.setState(StateOpen)
	case err != nil:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold {
			return cb.setState(StateOpen)
		}
	case cb.state == StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			return cb.setState(StateClosed)
		}
	default:
		cb.failures = 0
	}
	return nil
}

// setState must hold cb.mu.
func (cb *CircuitBreaker) setState(to CircuitBreakerState) *transition {
	from := cb.state
	cb.state = to
	cb.failures, cb.successes = 0, 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if from == to {
		return nil
	}
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t != nil && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
	}
}

// State reports the current state. An open breaker whose cool-down has
// elapsed still reports open until the next call.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setState(StateClosed)
	cb.mu.Unlock()
	cb.notify(t)
}

// Open forces the breaker open for one cool-down period.
func (cb *CircuitBreaker) Open() {
	cb.mu.Lock()
	t := cb.setState(StateOpen)
	cb.mu.Unlock()
	cb.notify(t)
}
