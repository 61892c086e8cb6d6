package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedRateLimiter keeps one token bucket per caller key.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewKeyedRateLimiter allows perMinute requests per minute for each key,
// with bursts up to the same amount.
func NewKeyedRateLimiter(perMinute int) *KeyedRateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &KeyedRateLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow implements RateLimiter.
func (l *KeyedRateLimiter) Allow(_ context.Context, key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
