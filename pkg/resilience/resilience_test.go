// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	rerrors "github.com/jllopis/resumeflow/pkg/errors"
)

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRecoverableTypedError(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), fastRetry(), func(context.Context) (int, error) {
		attempts++
		return 0, rerrors.New(rerrors.CodeInvalidInput, "bad arguments", nil)
	})
	if err == nil || attempts != 1 {
		t.Fatalf("expected single attempt with error, got %d attempts err=%v", attempts, err)
	}
}

func TestRetryReturnsValue(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastRetry(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", rerrors.New(rerrors.CodeToolFailure, "busy", nil).WithRecoverable(true)
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("expected ok, got %q err=%v", v, err)
	}
}

func TestRetryReportsAttempts(t *testing.T) {
	var seen []int
	cfg := fastRetry().WithMaxAttempts(3).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		if err == nil || delay < 0 {
			t.Errorf("unexpected hook args err=%v delay=%v", err, delay)
		}
		seen = append(seen, attempt)
	})
	_ = cfg.Do(context.Background(), func(context.Context) error { return errors.New("flaky") })
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("expected hooks for attempts 1 and 2, got %v", seen)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultRetryConfig().WithInitialDelay(time.Hour)
	attempts := 0
	err := cfg.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("transient")
	})
	if !rerrors.HasCode(err, rerrors.CodeContextLost) {
		t.Fatalf("expected CONTEXT_LOST, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "resume-tools",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})
	fail := func(context.Context) error { return errors.New("down") }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	_ = cb.Call(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	called := false
	err := cb.Call(ctx, func(context.Context) error { called = true; return nil })
	if called || !rerrors.HasCode(err, rerrors.CodeToolFailure) {
		t.Fatalf("expected fast failure while open, called=%v err=%v", called, err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Call(ctx, ok); err != nil {
		t.Fatalf("expected half-open probe to pass: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Millisecond})
	ctx := context.Background()
	_ = cb.Call(ctx, func(context.Context) error { return errors.New("x") })
	time.Sleep(5 * time.Millisecond)
	_ = cb.Call(ctx, func(context.Context) error { return errors.New("still down") })
	if cb.State() != StateOpen {
		t.Fatalf("expected reopen after half-open failure, got %s", cb.State())
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after reset")
	}
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	var moves []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "tools",
		FailureThreshold: 1,
		Timeout:          time.Hour,
		OnStateChange: func(name string, from, to CircuitBreakerState) {
			moves = append(moves, name+":"+string(from)+"->"+string(to))
		},
	})
	ctx := context.Background()

	_ = cb.Call(ctx, func(context.Context) error { return context.Canceled })
	if cb.State() != StateClosed {
		t.Fatalf("cancellation must not open the breaker")
	}
	_ = cb.Call(ctx, func(context.Context) error { return errors.New("down") })
	err := cb.Call(ctx, func(context.Context) error { return nil })
	te := rerrors.As(err)
	if te == nil || te.Context["breaker"] != "tools" || te.Context["retry_in"] == nil {
		t.Fatalf("expected open breaker error with context, got %v", err)
	}
	if len(moves) != 1 || moves[0] != "tools:closed->open" {
		t.Fatalf("unexpected transitions %v", moves)
	}
}

func TestWithFallback(t *testing.T) {
	ctx := context.Background()
	v, out, err := WithFallback(ctx,
		func(context.Context) (int, error) { return 0, errors.New("tool down") },
		Static(42),
	)
	if err != nil || v != 42 || !out.Degraded || out.PrimaryErr == nil {
		t.Fatalf("unexpected fallback outcome v=%d out=%+v err=%v", v, out, err)
	}

	v, out, err = WithFallback(ctx,
		func(context.Context) (int, error) { return 7, nil },
		Static(42),
	)
	if err != nil || v != 7 || out.Degraded {
		t.Fatalf("primary result expected, got v=%d out=%+v", v, out)
	}

	_, _, err = WithFallback[int](ctx, func(context.Context) (int, error) { return 0, errors.New("x") }, nil)
	if err == nil {
		t.Fatal("expected primary error without fallback")
	}
}
