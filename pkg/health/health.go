// SPDX-License-Identifier: Apache-2.0

// Package health aggregates component health checks for the /health route.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status represents the health state of a component.
type Status string

const (
	// Healthy indicates the component is fully operational.
	Healthy Status = "HEALTHY"

	// Degraded indicates the component is operational but with reduced capacity.
	Degraded Status = "DEGRADED"

	// Unhealthy indicates the component is not operational.
	Unhealthy Status = "UNHEALTHY"
)

// Result represents the result of a health check.
type Result struct {
	Status    Status         `json:"status"`
	Component string         `json:"component"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	LastCheck time.Time      `json:"last_check"`
	Error     string         `json:"error,omitempty"`
}

// Checker checks the health of a component.
type Checker interface {
	// Check returns the current health status of the component.
	// The context can be used to implement timeouts.
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) Result

// Check calls f and stamps LastCheck when f leaves it empty.
func (f CheckerFunc) Check(ctx context.Context) Result {
	result := f(ctx)
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now()
	}
	return result
}

// Static returns a checker that always reports status.
func Static(status Status, message string) Checker {
	return CheckerFunc(func(context.Context) Result {
		return Result{Status: status, Message: message}
	})
}

// Provider runs registered checkers. Results are cached for the configured
// TTL so that frequent probes do not hammer dependencies.
type Provider struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	cache    map[string]Result
	cacheTTL time.Duration
	now      func() time.Time
}

// NewProvider creates a provider. A zero TTL defaults to 10 seconds; a
// negative TTL disables caching.
func NewProvider(cacheTTL time.Duration) *Provider {
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Second
	}
	return &Provider{
		checkers: make(map[string]Checker),
		cache:    make(map[string]Result),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Register adds a checker for a component, replacing any previous one.
func (p *Provider) Register(name string, checker Checker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkers[name] = checker
	delete(p.cache, name)
}

// Check runs the checker registered under name.
func (p *Provider) Check(ctx context.Context, name string) (Result, error) {
	p.mu.RLock()
	checker, exists := p.checkers[name]
	cached, hit := p.cache[name]
	p.mu.RUnlock()

	if !exists {
		return Result{}, fmt.Errorf("checker not registered: %s", name)
	}
	if hit && p.cacheTTL > 0 && p.now().Sub(cached.LastCheck) < p.cacheTTL {
		return cached, nil
	}

	result := checker.Check(ctx)
	result.Component = name
	if result.LastCheck.IsZero() {
		result.LastCheck = p.now()
	}
	if p.cacheTTL > 0 {
		p.mu.Lock()
		p.cache[name] = result
		p.mu.Unlock()
	}
	return result, nil
}

// CheckAll checks every registered component, sorted by name.
// Overall status is Unhealthy if any component is, else Degraded if any
// component is, else Healthy.
func (p *Provider) CheckAll(ctx context.Context) ([]Result, Status) {
	p.mu.RLock()
	names := make([]string, 0, len(p.checkers))
	for name := range p.checkers {
		names = append(names, name)
	}
	p.mu.RUnlock()
	sort.Strings(names)

	results := make([]Result, 0, len(names))
	overall := Healthy
	for _, name := range names {
		result, err := p.Check(ctx, name)
		if err != nil {
			continue
		}
		results = append(results, result)
		switch result.Status {
		case Unhealthy:
			overall = Unhealthy
		case Degraded:
			if overall == Healthy {
				overall = Degraded
			}
		}
	}
	return results, overall
}
