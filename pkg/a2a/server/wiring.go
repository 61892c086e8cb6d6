package server

import (
	"log/slog"

	"github.com/jllopis/resumeflow/pkg/a2a/agentcard"
	"github.com/jllopis/resumeflow/pkg/telemetry"
)

// HandlerOption customizes the Handler wiring.
type HandlerOption func(*Handler)

// WithStore overrides the task store.
func WithStore(store TaskStore) HandlerOption {
	return func(h *Handler) {
		if store != nil {
			h.Store = store
		}
	}
}

// WithAgentCard configures the card used for skill validation and discovery.
func WithAgentCard(card *agentcard.AgentCard) HandlerOption {
	return func(h *Handler) {
		if card != nil {
			h.Card = card
		}
	}
}

// WithDescriber exposes the pipeline topology through agent/info.
func WithDescriber(d Describer) HandlerOption {
	return func(h *Handler) {
		h.Pipeline = d
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.Logger = telemetry.Component(logger, "a2a")
		}
	}
}

// WithMetrics records task transitions and errors.
func WithMetrics(m *telemetry.Metrics) HandlerOption {
	return func(h *Handler) {
		h.Metrics = m
	}
}

// NewHandler wires a Handler to an executor with an in-memory task store.
func NewHandler(exec Executor, opts ...HandlerOption) *Handler {
	handler := &Handler{
		Store:    NewMemoryTaskStore(),
		Executor: exec,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}
