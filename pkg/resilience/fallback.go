// SPDX-License-Identifier: Apache-2.0

package resilience

import "context"

// FallbackFunc produces a substitute value after the primary call failed.
type FallbackFunc[T any] func(ctx context.Context, primaryErr error) (T, error)

// Outcome reports which path produced a value.
type Outcome struct {
	// Degraded is true when the fallback produced the value.
	Degraded bool
	// PrimaryErr is the error that triggered the fallback.
	PrimaryErr error
}

// WithFallback runs primary and, if it fails, fallback.
func WithFallback[T any](ctx context.Context, primary func(ctx context.Context) (T, error), fallback FallbackFunc[T]) (T, Outcome, error) {
	v, err := primary(ctx)
	if err == nil {
		return v, Outcome{}, nil
	}
	if fallback == nil {
		return v, Outcome{PrimaryErr: err}, err
	}
	fv, ferr := fallback(ctx, err)
	return fv, Outcome{Degraded: true, PrimaryErr: err}, ferr
}

// Static returns a fallback that always yields value.
func Static[T any](value T) FallbackFunc[T] {
	return func(context.Context, error) (T, error) { return value, nil }
}
