// Package httpjson exposes the task server as REST routes, an SSE stream
// and the health and discovery endpoints. Task routes are translated into
// JSON-RPC requests and dispatched through the same method table.
package httpjson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/resumeflow/pkg/a2a/agentcard"
	"github.com/jllopis/resumeflow/pkg/a2a/jsonrpc"
	"github.com/jllopis/resumeflow/pkg/a2a/server"
	"github.com/jllopis/resumeflow/pkg/health"
	"github.com/jllopis/resumeflow/pkg/telemetry"
)

// Option configures a Server.
type Option func(*Server)

// WithHealth serves checks registered on p at /health.
func WithHealth(p *health.Provider) Option {
	return func(s *Server) {
		s.health = p
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = telemetry.Component(logger, "http")
		}
	}
}

// Server routes HTTP requests to the task handler.
type Server struct {
	handler *server.Handler
	rpc     *jsonrpc.Server
	health  *health.Provider
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New builds the route table. rpc must wrap handler.
func New(handler *server.Handler, rpc *jsonrpc.Server, opts ...Option) *Server {
	s := &Server{handler: handler, rpc: rpc, logger: slog.Default(), mux: http.NewServeMux()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.mux.Handle("POST /rpc", rpc)
	s.mux.Handle("POST /v1/message:send", rpc)
	s.mux.HandleFunc("POST /v1/message:send/stream", s.handleStream)
	s.mux.HandleFunc("POST /v1/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /v1/tasks", s.handleListTasks)
	s.mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("DELETE /v1/tasks/{id}", s.handleCancelTask)
	s.mux.HandleFunc("GET /v1/skills", s.route(jsonrpc.MethodListSkills))
	s.mux.HandleFunc("GET /v1/agent/info", s.route(jsonrpc.MethodAgentInfo))
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET "+agentcard.WellKnownPath, agentcard.PublishHandler(handler.Card))
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// dispatch admits r and runs method with params through the JSON-RPC table.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, method string, params any) {
	if rpcErr := s.rpc.Admit(r.Context(), r, method); rpcErr != nil {
		writeError(w, rpcErr)
		return
	}
	raw, err := json.Marshal(params)
	if err != nil {
		writeError(w, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()})
		return
	}
	resp := s.rpc.Dispatch(r.Context(), jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  raw,
	})
	if resp.Error != nil {
		writeError(w, resp.Error)
		return
	}
	writeJSON(w, http.StatusOK, resp.Result)
}

func (s *Server) route(method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.dispatch(w, r, method, nil)
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var params server.CreateTaskParams
	if err := decodeBody(r, &params); err != nil {
		writeError(w, err)
		return
	}
	s.dispatch(w, r, jsonrpc.MethodCreateTask, params)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := server.ListTasksParams{Status: q.Get("status")}
	var err *jsonrpc.Error
	if params.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeError(w, err)
		return
	}
	if params.Offset, err = queryInt(q.Get("offset")); err != nil {
		writeError(w, err)
		return
	}
	s.dispatch(w, r, jsonrpc.MethodListTasks, params)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, jsonrpc.MethodGetTask, server.TaskParams{TaskID: r.PathValue("id")})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, jsonrpc.MethodCancelTask, server.TaskParams{TaskID: r.PathValue("id")})
}

// handleStream runs message/send and reports progress as server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if rpcErr := s.rpc.Admit(r.Context(), r, jsonrpc.MethodSendMessage); rpcErr != nil {
		writeError(w, rpcErr)
		return
	}
	var params server.SendMessageParams
	if err := decodeBody(r, &params); err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: "streaming not supported"})
		return
	}

	started := false
	emit := func(ev server.StreamEvent) {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := writeEvent(w, ev); err != nil {
			s.logger.WarnContext(r.Context(), "stream write failed", "event", ev.Type, "error", err)
			return
		}
		flusher.Flush()
	}
	if err := s.handler.SendMessageStream(r.Context(), params, emit); err != nil {
		writeError(w, jsonrpc.FromError(err))
	}
}

func writeEvent(w io.Writer, ev server.StreamEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

type healthResponse struct {
	Status            health.Status   `json:"status"`
	Agent             agentIdentity   `json:"agent"`
	OrchestratorWired bool            `json:"orchestrator_wired"`
	TasksCount        int             `json:"tasks_count"`
	Checks            []health.Result `json:"checks,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}

type agentIdentity struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:            health.Healthy,
		OrchestratorWired: s.handler.Executor != nil,
		TasksCount:        s.handler.TaskCount(ctx),
		Timestamp:         time.Now().UTC(),
	}
	if card := s.handler.Card; card != nil {
		resp.Agent = agentIdentity{ID: card.ID, Version: card.Version}
	}
	if s.health != nil {
		resp.Checks, resp.Status = s.health.CheckAll(ctx)
	}
	if !resp.OrchestratorWired {
		resp.Status = health.Unhealthy
	}
	code := http.StatusOK
	if resp.Status == health.Unhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	info := map[string]any{
		"endpoints": map[string]string{
			"rpc":        "/v1/message:send",
			"stream":     "/v1/message:send/stream",
			"tasks":      "/v1/tasks",
			"skills":     "/v1/skills",
			"agent_info": "/v1/agent/info",
			"health":     "/health",
			"agent_card": agentcard.WellKnownPath,
		},
	}
	if card := s.handler.Card; card != nil {
		info["name"] = card.Name
		info["version"] = card.Version
		info["description"] = card.Description
		info["protocol"] = "JSON-RPC 2.0"
	}
	writeJSON(w, http.StatusOK, info)
}

func decodeBody(r *http.Request, target any) *jsonrpc.Error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		return &jsonrpc.Error{Code: jsonrpc.CodeParseError, Message: "read body failed"}
	}
	if len(body) == 0 {
		return &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "request body is required"}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &jsonrpc.Error{Code: jsonrpc.CodeParseError, Message: "invalid json", Data: map[string]any{"error": err.Error()}}
	}
	return nil
}

func queryInt(value string) (int, *jsonrpc.Error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: fmt.Sprintf("invalid integer %q", value)}
	}
	return n, nil
}

type errorBody struct {
	Error *jsonrpc.Error `json:"error"`
}

func writeError(w http.ResponseWriter, err *jsonrpc.Error) {
	writeJSON(w, httpStatusFromCode(err.Code), errorBody{Error: err})
}

func httpStatusFromCode(code int) int {
	switch code {
	case jsonrpc.CodeTaskNotFound, jsonrpc.CodeMethodNotFound:
		return http.StatusNotFound
	case jsonrpc.CodeParseError, jsonrpc.CodeInvalidRequest, jsonrpc.CodeInvalidParams, jsonrpc.CodeSkillNotFound:
		return http.StatusBadRequest
	case jsonrpc.CodeAuthFailed:
		return http.StatusUnauthorized
	case jsonrpc.CodeInsufficientPermissions:
		return http.StatusForbidden
	case jsonrpc.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
