// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent defines the contract every pipeline stage implements.
//
// An agent declares the state keys it reads and writes, receives an immutable
// snapshot and returns a Result. It never mutates shared state; everything it
// produces travels in the Result delta.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/jllopis/resumeflow/pkg/state"
)

// Agent is a named pipeline stage with a declared read/write contract.
type Agent interface {
	Name() string
	Reads() []string
	Writes() []string
	Run(ctx context.Context, snap state.Snapshot) Result
}

// RunFunc executes the stage behavior.
type RunFunc func(ctx context.Context, snap state.Snapshot) Result

var ErrMissingRun = errors.New("agent run function is required")

// Stage is a simple Agent backed by a RunFunc.
type Stage struct {
	name   string
	reads  []string
	writes []string
	run    RunFunc
}

// Option configures a Stage.
type Option func(*Stage) error

// New creates a stage with a required name and options.
func New(name string, opts ...Option) (*Stage, error) {
	s := &Stage{name: name}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.name == "" {
		return nil, errors.New("agent name is required")
	}
	if s.run == nil {
		return nil, ErrMissingRun
	}
	if len(s.writes) == 0 {
		return nil, fmt.Errorf("agent %s declares no output keys", s.name)
	}
	return s, nil
}

// MustNew is New that panics on error. Intended for static pipeline tables.
func MustNew(name string, opts ...Option) *Stage {
	s, err := New(name, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// WithReads declares the keys the stage reads.
func WithReads(keys ...string) Option {
	return func(s *Stage) error {
		s.reads = append([]string(nil), keys...)
		return nil
	}
}

// WithWrites declares the keys the stage writes.
func WithWrites(keys ...string) Option {
	return func(s *Stage) error {
		seen := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			if k == "" {
				return errors.New("empty output key")
			}
			if _, dup := seen[k]; dup {
				return fmt.Errorf("output key %q declared twice", k)
			}
			seen[k] = struct{}{}
		}
		s.writes = append([]string(nil), keys...)
		return nil
	}
}

// WithRun sets the stage behavior.
func WithRun(run RunFunc) Option {
	return func(s *Stage) error {
		s.run = run
		return nil
	}
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// Reads returns a copy of the declared input keys.
func (s *Stage) Reads() []string { return append([]string(nil), s.reads...) }

// Writes returns a copy of the declared output keys.
func (s *Stage) Writes() []string { return append([]string(nil), s.writes...) }

// Run executes the stage.
func (s *Stage) Run(ctx context.Context, snap state.Snapshot) Result {
	return s.run(ctx, snap)
}
