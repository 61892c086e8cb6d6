// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp is the tool-protocol client. A Manager keeps one lazily
// established session per named endpoint:
//
//	unconnected -> connecting (dial + initialize) -> ready
//
// Ready sessions are reused without re-handshaking. Tool discovery is cached
// per session; calls, resources and prompts always reach the server.
// Disconnect drops the protocol session, then closes the transport and
// evicts the endpoint's cache.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jllopis/resumeflow/pkg/decode"
	"github.com/jllopis/resumeflow/pkg/errors"
	"github.com/jllopis/resumeflow/pkg/resilience"
	"github.com/jllopis/resumeflow/pkg/telemetry"
)

// ConnState is the connection state of one endpoint.
type ConnState string

const (
	StateUnconnected ConnState = "unconnected"
	StateConnecting  ConnState = "connecting"
	StateReady       ConnState = "ready"
)

// EndpointConfig describes how to reach a tool process.
type EndpointConfig struct {
	Name    string            `koanf:"name" json:"name"`
	Command string            `koanf:"command" json:"command"`
	Args    []string          `koanf:"args" json:"args,omitempty"`
	Env     map[string]string `koanf:"env" json:"env,omitempty"`
	// Timeout bounds each request; zero uses the client default.
	Timeout time.Duration `koanf:"timeout" json:"timeout,omitempty"`
	// Retries is the number of extra attempts for failed requests.
	Retries int `koanf:"retries" json:"retries,omitempty"`
}

func (c EndpointConfig) environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// DialFunc attaches a transport for an endpoint. The returned client must be
// started but not yet initialized.
type DialFunc func(ctx context.Context, cfg EndpointConfig) (client.MCPClient, error)

// StdioDialer launches the endpoint command as a subprocess speaking the
// protocol over stdin/stdout.
func StdioDialer(_ context.Context, cfg EndpointConfig) (client.MCPClient, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("endpoint %q has no command", cfg.Name)
	}
	return client.NewStdioMCPClient(cfg.Command, cfg.environ(), cfg.Args...)
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Endpoint string
	Name     string
	IsError  bool
	// Text joins every text content item.
	Text string
	// Decoded is the tiered decode of StructuredContent or, when absent, Text.
	Decoded decode.Result
}

// Err returns a ToolFailure when the server flagged the result as an error.
func (r *ToolResult) Err() error {
	if r == nil || !r.IsError {
		return nil
	}
	return errors.New(errors.CodeToolFailure, "tool "+r.Name+" returned an error", nil).
		WithContext("endpoint", r.Endpoint).
		WithContext("detail", r.Text)
}

// Stats reports manager counters.
type Stats struct {
	Endpoints  int `json:"endpoints"`
	Ready      int `json:"ready"`
	Handshakes int `json:"handshakes"`
	Calls      int `json:"calls"`
	Failures   int `json:"failures"`
}

type session struct {
	client *Client
	init   *mcp.InitializeResult
	tools  []mcp.Tool
}

type endpoint struct {
	cfg     EndpointConfig
	state   ConnState
	sess    *session
	breaker *resilience.CircuitBreaker
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the stdio dialer.
func WithDialer(dial DialFunc) Option {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records handshakes and calls.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClientInfo sets the implementation reported during initialize.
func WithClientInfo(name, version string) Option {
	return func(m *Manager) {
		m.info = mcp.Implementation{Name: name, Version: version}
	}
}

// WithBreaker configures the per-endpoint circuit breaker for tool calls.
func WithBreaker(failures int, cooldown time.Duration) Option {
	return func(m *Manager) {
		m.breakerFailures = failures
		m.breakerCooldown = cooldown
	}
}

// WithToolFilter restricts the tools the manager lists and calls.
func WithToolFilter(f *ToolFilter) Option {
	return func(m *Manager) { m.filter = f }
}

// Manager owns the tool sessions of a process. It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	group     singleflight.Group
	closed    atomic.Bool

	dial    DialFunc
	info    mcp.Implementation
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer

	breakerFailures int
	breakerCooldown time.Duration
	filter          *ToolFilter

	handshakes atomic.Int64
	calls      atomic.Int64
	failures   atomic.Int64
}

// NewManager builds a Manager for the given endpoints.
func NewManager(endpoints []EndpointConfig, opts ...Option) (*Manager, error) {
	m := &Manager{
		endpoints:       make(map[string]*endpoint),
		dial:            StdioDialer,
		info:            mcp.Implementation{Name: "resumeflow", Version: "dev"},
		logger:          slog.Default(),
		tracer:          otel.Tracer("resumeflow/mcp"),
		breakerFailures: 5,
		breakerCooldown: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = telemetry.Component(m.logger, "mcp")
	for _, cfg := range endpoints {
		if err := m.Register(cfg); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register adds or replaces an endpoint. Replacing a connected endpoint
// disconnects it first.
func (m *Manager) Register(cfg EndpointConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return errors.New(errors.CodeInvalidInput, "endpoint name is required", nil)
	}
	if m.closed.Load() {
		return errors.New(errors.CodeToolFailure, "tool manager is shut down", nil)
	}
	if _, ok := m.lookup(cfg.Name); ok {
		if err := m.Disconnect(cfg.Name); err != nil {
			m.logger.Warn("disconnect before re-register failed", "endpoint", cfg.Name, "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[cfg.Name] = &endpoint{
		cfg:   cfg,
		state: StateUnconnected,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "mcp:" + cfg.Name,
			FailureThreshold: m.breakerFailures,
			Timeout:          m.breakerCooldown,
			OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
				m.logger.Warn("tool breaker state changed", "breaker", name, "from", string(from), "to", string(to))
			},
		}),
	}
	return nil
}

// Endpoints returns the registered endpoint names, sorted.
func (m *Manager) Endpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.endpoints))
	for name := range m.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// States returns the connection state of every endpoint.
func (m *Manager) States() map[string]ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ConnState, len(m.endpoints))
	for name, ep := range m.endpoints {
		out[name] = ep.state
	}
	return out
}

// IsConnected reports whether name has a ready session.
func (m *Manager) IsConnected(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[name]
	return ok && ep.state == StateReady
}

// ServerInfo returns the initialize result of a ready session.
func (m *Manager) ServerInfo(name string) (*mcp.InitializeResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[name]
	if !ok || ep.sess == nil {
		return nil, false
	}
	return ep.sess.init, true
}

// Stats returns manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	ready := 0
	for _, ep := range m.endpoints {
		if ep.state == StateReady {
			ready++
		}
	}
	total := len(m.endpoints)
	m.mu.Unlock()
	return Stats{
		Endpoints:  total,
		Ready:      ready,
		Handshakes: int(m.handshakes.Load()),
		Calls:      int(m.calls.Load()),
		Failures:   int(m.failures.Load()),
	}
}

// Connect establishes the session for name if it is not ready yet.
func (m *Manager) Connect(ctx context.Context, name string) error {
	_, err := m.session(ctx, name)
	return err
}

// ListTools returns the tools of an endpoint, discovering them on first use.
func (m *Manager) ListTools(ctx context.Context, name string) ([]mcp.Tool, error) {
	sess, err := m.session(ctx, name)
	if err != nil {
		return nil, err
	}
	if tools, ok := m.cachedTools(name, sess); ok {
		return m.filter.Apply(tools), nil
	}

	v, err, _ := m.group.Do("tools:"+name, func() (any, error) {
		if tools, ok := m.cachedTools(name, sess); ok {
			return tools, nil
		}
		var tools []mcp.Tool
		err := m.traced(ctx, name, "tools/list", "", func(ctx context.Context) error {
			var err error
			tools, err = sess.client.ListTools(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		m.storeTools(name, sess, tools)
		return tools, nil
	})
	if err != nil {
		return nil, err
	}
	return m.filter.Apply(cloneTools(v.([]mcp.Tool))), nil
}

// Tool returns the descriptor of one tool.
func (m *Manager) Tool(ctx context.Context, endpointName, toolName string) (mcp.Tool, error) {
	if !m.filter.Allowed(toolName) {
		return mcp.Tool{}, forbiddenTool(endpointName, toolName)
	}
	tools, err := m.ListTools(ctx, endpointName)
	if err != nil {
		return mcp.Tool{}, err
	}
	for _, t := range tools {
		if t.Name == toolName {
			return t, nil
		}
	}
	return mcp.Tool{}, errors.New(errors.CodeToolFailure, "tool not offered by endpoint", nil).
		WithContext("endpoint", endpointName).
		WithContext("tool", toolName)
}

// CallTool invokes a tool. Results are never cached.
func (m *Manager) CallTool(ctx context.Context, name, tool string, args map[string]any) (*ToolResult, error) {
	if !m.filter.Allowed(tool) {
		return nil, forbiddenTool(name, tool)
	}
	sess, err := m.session(ctx, name)
	if err != nil {
		return nil, err
	}
	ep, ok := m.lookup(name)
	if !ok {
		return nil, unknownEndpoint(name)
	}

	var raw *mcp.CallToolResult
	err = ep.breaker.Call(ctx, func(ctx context.Context) error {
		return m.traced(ctx, name, "tools/call", tool, func(ctx context.Context) error {
			var err error
			raw, err = sess.client.CallTool(ctx, tool, args)
			return err
		})
	})
	if err != nil {
		return nil, errors.As(err).WithContext("tool", tool)
	}
	return toToolResult(name, tool, raw), nil
}

func forbiddenTool(endpoint, tool string) error {
	return errors.New(errors.CodeForbidden, "tool is not allowed", nil).
		WithContext("endpoint", endpoint).
		WithContext("tool", tool)
}

// ReadResource reads a resource from an endpoint.
func (m *Manager) ReadResource(ctx context.Context, name, uri string) ([]mcp.ResourceContents, error) {
	sess, err := m.session(ctx, name)
	if err != nil {
		return nil, err
	}
	var out []mcp.ResourceContents
	err = m.traced(ctx, name, "resources/read", uri, func(ctx context.Context) error {
		var err error
		out, err = sess.client.ReadResource(ctx, uri)
		return err
	})
	return out, err
}

// ListResources lists the resources of an endpoint.
func (m *Manager) ListResources(ctx context.Context, name string) ([]mcp.Resource, error) {
	sess, err := m.session(ctx, name)
	if err != nil {
		return nil, err
	}
	var out []mcp.Resource
	err = m.traced(ctx, name, "resources/list", "", func(ctx context.Context) error {
		var err error
		out, err = sess.client.ListResources(ctx)
		return err
	})
	return out, err
}

// GetPrompt renders a prompt from an endpoint.
func (m *Manager) GetPrompt(ctx context.Context, name, prompt string, args map[string]string) (*mcp.GetPromptResult, error) {
	sess, err := m.session(ctx, name)
	if err != nil {
		return nil, err
	}
	var out *mcp.GetPromptResult
	err = m.traced(ctx, name, "prompts/get", prompt, func(ctx context.Context) error {
		var err error
		out, err = sess.client.GetPrompt(ctx, prompt, args)
		return err
	})
	return out, err
}

// ListPrompts lists the prompts of an endpoint.
func (m *Manager) ListPrompts(ctx context.Context, name string) ([]mcp.Prompt, error) {
	sess, err := m.session(ctx, name)
	if err != nil {
		return nil, err
	}
	var out []mcp.Prompt
	err = m.traced(ctx, name, "prompts/list", "", func(ctx context.Context) error {
		var err error
		out, err = sess.client.ListPrompts(ctx)
		return err
	})
	return out, err
}

// Disconnect tears down the session of name: the protocol session is
// dropped, then the transport is closed and the tool cache evicted.
// Disconnecting an unconnected endpoint is a no-op.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	ep, ok := m.endpoints[name]
	if !ok {
		m.mu.Unlock()
		return unknownEndpoint(name)
	}
	sess := ep.sess
	ep.sess = nil
	ep.state = StateUnconnected
	if sess != nil {
		sess.init = nil
		sess.tools = nil
	}
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := sess.client.Close(); err != nil {
		return errors.New(errors.CodeToolFailure, "closing transport failed", err).
			WithContext("endpoint", name)
	}
	m.logger.Debug("tool endpoint disconnected", "endpoint", name)
	return nil
}

// Shutdown disconnects every endpoint. Individual failures are logged and do
// not stop the remaining teardowns.
func (m *Manager) Shutdown(ctx context.Context) {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	for _, name := range m.Endpoints() {
		if ctx.Err() != nil {
			m.logger.Warn("shutdown interrupted", "error", ctx.Err())
			return
		}
		if err := m.Disconnect(name); err != nil {
			m.logger.Error("tool endpoint teardown failed", "endpoint", name, "error", err)
		}
	}
}

// session returns the ready session of name, connecting on first use.
// Concurrent callers share one dial and handshake.
func (m *Manager) session(ctx context.Context, name string) (*session, error) {
	if m.closed.Load() {
		return nil, errors.New(errors.CodeToolFailure, "tool manager is shut down", nil)
	}
	m.mu.Lock()
	ep, ok := m.endpoints[name]
	if !ok {
		m.mu.Unlock()
		return nil, unknownEndpoint(name)
	}
	if ep.state == StateReady && ep.sess != nil {
		sess := ep.sess
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("connect:"+name, func() (any, error) {
		return m.connect(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*session), nil
}

func (m *Manager) connect(ctx context.Context, name string) (*session, error) {
	m.mu.Lock()
	ep, ok := m.endpoints[name]
	if !ok {
		m.mu.Unlock()
		return nil, unknownEndpoint(name)
	}
	if ep.state == StateReady && ep.sess != nil {
		sess := ep.sess
		m.mu.Unlock()
		return sess, nil
	}
	ep.state = StateConnecting
	cfg := ep.cfg
	m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, "MCP.Connect",
		trace.WithAttributes(attribute.String(telemetry.AttrToolEndpoint, name)))
	defer span.End()

	sess, err := m.handshake(ctx, cfg)
	m.mu.Lock()
	if err != nil {
		if ep.state == StateConnecting {
			ep.state = StateUnconnected
		}
		m.mu.Unlock()
		m.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn("tool endpoint handshake failed", "endpoint", name, "error", err)
		return nil, err
	}
	// Shutdown, Disconnect or Register may have run during the handshake.
	if m.closed.Load() || ep.state != StateConnecting || m.endpoints[name] != ep {
		m.mu.Unlock()
		if cerr := sess.client.Close(); cerr != nil {
			m.logger.Debug("closing abandoned transport", "endpoint", name, "error", cerr)
		}
		err := errors.New(errors.CodeToolFailure, "endpoint disconnected during handshake", nil).
			WithContext("endpoint", name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer m.mu.Unlock()
	ep.sess = sess
	ep.state = StateReady
	m.handshakes.Add(1)
	m.metrics.RecordHandshake(ctx, name)
	m.logger.Info("tool endpoint ready",
		"endpoint", name,
		"server", sess.init.ServerInfo.Name,
		"protocol", sess.init.ProtocolVersion,
	)
	return sess, nil
}

func (m *Manager) handshake(ctx context.Context, cfg EndpointConfig) (*session, error) {
	raw, err := m.dial(ctx, cfg)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "dial failed", err).
			WithContext("endpoint", cfg.Name).
			WithRecoverable(true)
	}
	opts := []ClientOption{WithTimeout(cfg.Timeout)}
	if cfg.Retries > 0 {
		opts = append(opts, WithRetry(cfg.Retries, 0))
	}
	c := NewClient(raw, opts...)
	init, err := c.Initialize(ctx, mcp.LATEST_PROTOCOL_VERSION, m.info)
	if err != nil {
		if cerr := c.Close(); cerr != nil {
			m.logger.Debug("closing transport after failed handshake", "endpoint", cfg.Name, "error", cerr)
		}
		return nil, errors.As(err).WithContext("endpoint", cfg.Name)
	}
	return &session{client: c, init: init}, nil
}

func (m *Manager) traced(ctx context.Context, name, op, target string, fn func(context.Context) error) error {
	ctx, span := m.tracer.Start(ctx, "MCP."+op,
		trace.WithAttributes(telemetry.ToolAttributes(name, op, target)...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	m.calls.Add(1)
	m.metrics.RecordToolCall(ctx, name, op, err == nil)
	span.SetAttributes(attribute.Bool(telemetry.AttrToolSuccess, err == nil))
	if err != nil {
		m.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn("tool request failed", "endpoint", name, "op", op, "target", target, "error", err)
		return err
	}
	m.logger.Debug("tool request", "endpoint", name, "op", op, "target", target, "duration", time.Since(start))
	return nil
}

func (m *Manager) lookup(name string) (*endpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[name]
	return ep, ok
}

func (m *Manager) cachedTools(name string, sess *session) ([]mcp.Tool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[name]
	if !ok || ep.sess != sess || sess.tools == nil {
		return nil, false
	}
	return cloneTools(sess.tools), true
}

// storeTools caches tools only if sess is still the endpoint's session, so a
// discovery racing a Disconnect does not repopulate an evicted cache.
func (m *Manager) storeTools(name string, sess *session, tools []mcp.Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[name]
	if !ok || ep.sess != sess {
		return
	}
	if tools == nil {
		tools = []mcp.Tool{}
	}
	sess.tools = cloneTools(tools)
}

func cloneTools(tools []mcp.Tool) []mcp.Tool {
	out := make([]mcp.Tool, len(tools))
	copy(out, tools)
	return out
}

func unknownEndpoint(name string) error {
	return errors.New(errors.CodeToolFailure, "unknown tool endpoint", nil).
		WithContext("endpoint", name)
}

func toToolResult(endpointName, tool string, res *mcp.CallToolResult) *ToolResult {
	out := &ToolResult{Endpoint: endpointName, Name: tool}
	if res == nil {
		out.IsError = true
		out.Decoded = decode.Text("")
		return out
	}
	out.IsError = res.IsError
	out.Text = extractTextContent(res.Content)
	if res.StructuredContent != nil {
		if b, err := json.Marshal(res.StructuredContent); err == nil {
			out.Decoded = decode.Bytes(b)
			return out
		}
	}
	out.Decoded = decode.Text(out.Text)
	return out
}
