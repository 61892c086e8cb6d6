// SPDX-License-Identifier: Apache-2.0

// Package resilience wraps calls to tools and remote job pages with retries,
// circuit breaking and local fallbacks.
package resilience

import (
	"context"
	stderrors "errors"
	"math/rand/v2"
	"time"

	"github.com/jllopis/resumeflow/pkg/errors"
)

// RetryConfig is an exponential backoff policy. The zero value makes a
// single attempt.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Multiplier grows the delay between attempts; values below 1 mean 2.
	Multiplier float64
	// Jitter spreads each delay by up to ±Jitter of its value.
	Jitter float64
	// IsRecoverable decides whether an error is worth another attempt.
	// Nil means Recoverable.
	IsRecoverable func(error) bool
	// OnRetry, when set, is told about every failed attempt that will be
	// retried and the delay before the next one.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig makes three attempts starting at 200ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2,
		Jitter:        0.1,
		IsRecoverable: Recoverable,
	}
}

func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

func (rc RetryConfig) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) RetryConfig {
	rc.OnRetry = fn
	return rc
}

// Do is Retry for functions without a result.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, rc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry calls fn until it succeeds, returns an unrecoverable error or the
// attempts run out, in which case the last error is returned. Cancellation
// while waiting yields a CodeContextLost error.
func Retry[T any](ctx context.Context, rc RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = Recoverable
	}
	attempts := max(rc.MaxAttempts, 1)
	delay := rc.InitialDelay

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil || attempt >= attempts || !recoverable(err) {
			return v, err
		}

		wait := rc.spread(delay)
		if rc.OnRetry != nil {
			rc.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			var zero T
			return zero, errors.New(errors.CodeContextLost, "context canceled during retry", err).
				WithContext("attempt", attempt).
				WithContext("max_attempts", attempts)
		}
		delay = rc.next(delay)
	}
}

func (rc RetryConfig) next(d time.Duration) time.Duration {
	m := rc.Multiplier
	if m < 1 {
		m = 2
	}
	d = time.Duration(float64(d) * m)
	if rc.MaxDelay > 0 {
		d = min(d, rc.MaxDelay)
	}
	return d
}

func (rc RetryConfig) spread(d time.Duration) time.Duration {
	if rc.MaxDelay > 0 {
		d = min(d, rc.MaxDelay)
	}
	if rc.Jitter <= 0 || d <= 0 {
		return d
	}
	offset := (rand.Float64()*2 - 1) * rc.Jitter * float64(d)
	return max(0, d+time.Duration(offset))
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recoverable is the default retry predicate: caller cancellation is final,
// typed errors follow their Recoverable flag and anything else is retried.
func Recoverable(err error) bool {
	switch {
	case err == nil:
		return false
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return false
	}
	var te *errors.Error
	if stderrors.As(err, &te) {
		return te.Recoverable
	}
	return true
}
