// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// ConfigureSlog installs a logger built by NewLogger as the slog default.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	logger := NewLogger(output, level, format)
	slog.SetDefault(logger)
	return logger
}

// NewLogger returns a logger that stamps records with the active trace and
// the attributes attached with WithLogAttrs. format is "json" or "text"; a
// nil output discards everything.
func NewLogger(output io.Writer, level, format string) *slog.Logger {
	return slog.New(newHandler(output, ParseLevel(level), format))
}

// ConfigureDynamicSlog is ConfigureSlog with a level that can be changed
// while the process runs.
func ConfigureDynamicSlog(output io.Writer, level *slog.LevelVar, format string) *slog.Logger {
	logger := slog.New(newHandler(output, level, format))
	slog.SetDefault(logger)
	return logger
}

// Component tags logger with a component name. A nil logger means the
// default one.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", name))
}

// ParseLevel maps a level name to a slog level; unknown names are info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return l
}

type logAttrsKey struct{}

// WithLogAttrs returns a context whose log records carry attrs, for example
// the run id of a pipeline or the id of a task.
func WithLogAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	prev, _ := ctx.Value(logAttrsKey{}).([]slog.Attr)
	return context.WithValue(ctx, logAttrsKey{}, append(slices.Clip(prev), attrs...))
}

func newHandler(output io.Writer, level slog.Leveler, format string) slog.Handler {
	if output == nil {
		output = io.Discard
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return contextHandler{slog.NewJSONHandler(output, opts)}
	}
	return contextHandler{slog.NewTextHandler(output, opts)}
}

// contextHandler adds trace ids and context attributes to each record
// unless the call site already set the same key.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx == nil {
		return h.Handler.Handle(ctx, record)
	}
	present := map[string]bool{}
	record.Attrs(func(a slog.Attr) bool {
		present[a.Key] = true
		return true
	})
	add := func(a slog.Attr) {
		if !present[a.Key] {
			present[a.Key] = true
			record.AddAttrs(a)
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		add(slog.String("trace_id", sc.TraceID().String()))
		add(slog.String("span_id", sc.SpanID().String()))
	}
	if attrs, ok := ctx.Value(logAttrsKey{}).([]slog.Attr); ok {
		for _, a := range attrs {
			add(a)
		}
	}
	return h.Handler.Handle(ctx, record)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
