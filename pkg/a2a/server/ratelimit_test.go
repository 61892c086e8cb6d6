package server

import (
	"context"
	"testing"
)

func TestKeyedRateLimiterIsolatesCallers(t *testing.T) {
	l := NewKeyedRateLimiter(2)
	ctx := context.Background()

	if !l.Allow(ctx, "token:a") || !l.Allow(ctx, "token:a") {
		t.Fatalf("expected burst of 2 to be allowed")
	}
	if l.Allow(ctx, "token:a") {
		t.Fatalf("expected third request to be limited")
	}
	if !l.Allow(ctx, "token:b") {
		t.Fatalf("other callers must keep their own budget")
	}
}
