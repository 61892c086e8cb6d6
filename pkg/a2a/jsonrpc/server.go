// Package jsonrpc exposes the task server over JSON-RPC 2.0.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jllopis/resumeflow/pkg/a2a/server"
	"github.com/jllopis/resumeflow/pkg/telemetry"
)

// Version is the protocol version carried by every envelope.
const Version = "2.0"

// maxBodyBytes bounds a request body.
const maxBodyBytes = 8 << 20

// Method names.
const (
	MethodSendMessage = "message/send"
	MethodCreateTask  = "tasks/create"
	MethodGetTask     = "tasks/get"
	MethodListTasks   = "tasks/list"
	MethodCancelTask  = "tasks/cancel"
	MethodListSkills  = "skills/list"
	MethodAgentInfo   = "agent/info"
)

// Request is a JSON-RPC request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

type methodFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Option configures a Server.
type Option func(*Server)

// WithAuthenticator rejects requests the authenticator refuses with
// AuthFailed.
func WithAuthenticator(auth server.Authenticator) Option {
	return func(s *Server) {
		s.auth = auth
	}
}

// WithRateLimiter rejects requests over the limit with RateLimited.
func WithRateLimiter(l server.RateLimiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = telemetry.Component(logger, "jsonrpc")
		}
	}
}

// Server dispatches JSON-RPC requests to a task handler.
type Server struct {
	handler *server.Handler
	auth    server.Authenticator
	limiter server.RateLimiter
	logger  *slog.Logger
	methods map[string]methodFunc
	names   []string
}

// New creates a JSON-RPC server for handler.
func New(handler *server.Handler, opts ...Option) *Server {
	s := &Server{handler: handler, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.register(MethodSendMessage, bind(handler.SendMessage))
	s.register(MethodCreateTask, bind(handler.CreateTask))
	s.register(MethodGetTask, bind(handler.GetTask))
	s.register(MethodListTasks, bind(handler.ListTasks))
	s.register(MethodCancelTask, bind(handler.CancelTask))
	s.register(MethodListSkills, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return handler.ListSkills(ctx)
	})
	s.register(MethodAgentInfo, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return handler.AgentInfo(ctx)
	})
	return s
}

func (s *Server) register(name string, fn methodFunc) {
	if s.methods == nil {
		s.methods = make(map[string]methodFunc)
	}
	s.methods[name] = fn
	s.names = append(s.names, name)
}

// Methods lists the available methods in registration order.
func (s *Server) Methods() []string {
	return append([]string(nil), s.names...)
}

// bind adapts a typed handler method to the method table. Missing params
// decode to the zero value.
func bind[P any, R any](fn func(context.Context, P) (*R, error)) methodFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params P
		if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, &Error{Code: CodeInvalidParams, Message: "invalid params", Data: map[string]any{"error": err.Error()}}
			}
		}
		return fn(ctx, params)
	}
}

// ServeHTTP handles one JSON-RPC request per POST body.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, Response{JSONRPC: Version, Error: &Error{Code: CodeParseError, Message: "read body failed"}})
		return
	}
	req, rpcErr := ParseRequest(body)
	if rpcErr != nil {
		writeJSON(w, Response{JSONRPC: Version, ID: req.ID, Error: rpcErr})
		return
	}
	if rpcErr := s.Admit(ctx, r, req.Method); rpcErr != nil {
		writeJSON(w, Response{JSONRPC: Version, ID: req.ID, Error: rpcErr})
		return
	}
	writeJSON(w, s.Dispatch(ctx, req))
}

// ParseRequest decodes and validates an envelope.
func ParseRequest(body []byte) (Request, *Error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return Request{}, &Error{Code: CodeInvalidRequest, Message: "batch requests are not supported"}
	}
	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return Request{}, &Error{Code: CodeParseError, Message: "parse error", Data: map[string]any{"error": err.Error()}}
	}
	if req.JSONRPC != Version || req.Method == "" {
		return req, &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	}
	return req, nil
}

// Admit runs the auth and rate-limit hooks for one request.
func (s *Server) Admit(ctx context.Context, r *http.Request, method string) *Error {
	authCtx := server.RequestAuthContext(r, method)
	if s.auth != nil {
		if err := s.auth.Authenticate(ctx, authCtx); err != nil {
			s.logger.WarnContext(ctx, "authentication failed", telemetry.AttrRPCMethod, method, "error", err)
			return FromError(server.NewUnauthorizedError(err.Error()))
		}
	}
	if s.limiter != nil {
		key := server.RateLimitKey(authCtx)
		if !s.limiter.Allow(ctx, key) {
			return FromError(server.NewRateLimitedError(key))
		}
	}
	return nil
}

// Dispatch runs req through the method table. It never panics; a panic in
// a method becomes an InternalError response.
func (s *Server) Dispatch(ctx context.Context, req Request) (resp Response) {
	resp = Response{JSONRPC: Version, ID: req.ID}
	fn, ok := s.methods[req.Method]
	if !ok {
		resp.Error = &Error{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("method %q not found", req.Method),
			Data:    map[string]any{"available_methods": s.Methods()},
		}
		return resp
	}

	ctx, span := otel.Tracer("resumeflow/jsonrpc").Start(ctx, req.Method)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrRPCMethod, req.Method))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "rpc method panicked", telemetry.AttrRPCMethod, req.Method, "panic", r)
			resp.Result = nil
			resp.Error = internalError(fmt.Sprintf("panic: %v", r), nil)
		}
	}()

	result, err := fn(ctx, req.Params)
	if err != nil {
		span.RecordError(err)
		rpcErr, ok := err.(*Error)
		if !ok {
			rpcErr = FromError(err)
		}
		s.logger.WarnContext(ctx, "rpc method failed",
			telemetry.AttrRPCMethod, req.Method, "code", rpcErr.Code, "error", err)
		resp.Error = rpcErr
		return resp
	}
	s.logger.DebugContext(ctx, "rpc method served",
		telemetry.AttrRPCMethod, req.Method, "duration_ms", time.Since(start).Milliseconds())
	resp.Result = result
	return resp
}

func writeJSON(w http.ResponseWriter, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
