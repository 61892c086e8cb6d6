// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const defaultWatchInterval = time.Second

// Watcher polls configuration files and reloads the configuration when the
// content of any of them changes. Listeners run on the polling goroutine.
type Watcher struct {
	paths    []string
	profile  string
	interval time.Duration
	logger   *slog.Logger

	current atomic.Pointer[Config]
	digests map[string][]byte

	mu        sync.Mutex
	listeners []func(*Config)

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling period.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchProfile applies the profile overlay on every reload.
func WithWatchProfile(profile string) WatcherOption {
	return func(w *Watcher) { w.profile = profile }
}

// WithWatchLogger sets the watcher logger.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads the configuration from paths and records their content.
// paths[0] is the main file; later entries only trigger reloads.
func NewWatcher(paths []string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		paths:    paths,
		interval: defaultWatchInterval,
		logger:   slog.Default(),
		digests:  make(map[string][]byte, len(paths)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.changed()
	cfg, err := w.load()
	if err != nil {
		return nil, err
	}
	w.current.Store(cfg)
	return w, nil
}

// OnChange registers fn to receive every successfully reloaded config.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Config returns the latest loaded configuration.
func (w *Watcher) Config() *Config {
	return w.current.Load()
}

// Start polls in the background until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-ticker.C:
				if w.changed() {
					w.reload()
				}
			}
		}
	}()
}

// Stop ends polling and waits for the goroutine started by Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.done
	}
}

// changed reports whether any watched file has new content. Missing files
// keep their previous digest.
func (w *Watcher) changed() bool {
	dirty := false
	for _, path := range w.paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		sum := sha256.Sum256(data)
		if prev, ok := w.digests[path]; !ok || !bytes.Equal(prev, sum[:]) {
			w.digests[path] = sum[:]
			dirty = true
		}
	}
	return dirty
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		w.logger.Error("config reload failed, keeping previous", slog.String("error", err.Error()))
		return
	}
	w.current.Store(cfg)
	w.logger.Info("config reloaded", slog.Any("files", w.paths))

	w.mu.Lock()
	listeners := slices.Clone(w.listeners)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

func (w *Watcher) load() (*Config, error) {
	if len(w.paths) == 0 {
		return Load("")
	}
	return LoadWithProfile(w.paths[0], w.profile)
}

// WatchConfig watches configPath plus its profile overlay, when one exists,
// and starts polling. It returns the watcher and the initial config.
func WatchConfig(ctx context.Context, configPath string, opts ...WatcherOption) (*Watcher, *Config, error) {
	var probe Watcher
	for _, opt := range opts {
		opt(&probe)
	}
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
		if overlay := ProfileConfigPath(configPath, probe.profile); overlay != "" {
			if _, err := os.Stat(overlay); err == nil {
				paths = append(paths, overlay)
			}
		}
	}
	w, err := NewWatcher(paths, opts...)
	if err != nil {
		return nil, nil, err
	}
	w.Start(ctx)
	return w, w.Config(), nil
}

// ReloadableConfig holds a Config that a Watcher listener can swap while
// request paths read it.
type ReloadableConfig struct {
	p atomic.Pointer[Config]
}

func NewReloadableConfig(cfg *Config) *ReloadableConfig {
	r := &ReloadableConfig{}
	r.p.Store(cfg)
	return r
}

func (r *ReloadableConfig) Get() *Config { return r.p.Load() }

func (r *ReloadableConfig) Update(cfg *Config) {
	if cfg != nil {
		r.p.Store(cfg)
	}
}

func (r *ReloadableConfig) Log() LogConfig { return r.Get().Log }

func (r *ReloadableConfig) Tools() ToolsConfig { return r.Get().Tools }

func (r *ReloadableConfig) Auth() AuthConfig { return r.Get().Auth }
