package httpjson

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jllopis/resumeflow/pkg/a2a/agentcard"
	"github.com/jllopis/resumeflow/pkg/a2a/jsonrpc"
	"github.com/jllopis/resumeflow/pkg/a2a/server"
	"github.com/jllopis/resumeflow/pkg/compose"
	"github.com/jllopis/resumeflow/pkg/health"
)

type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, skillID string, input map[string]any) (map[string]any, error) {
	if obs := compose.ObserverFrom(ctx); obs != nil {
		obs(compose.StageEvent{Stage: "profile_retriever", Status: compose.StageOK})
		obs(compose.StageEvent{Stage: "skills_matcher", Status: compose.StageOK})
	}
	return map[string]any{"skill": skillID, "optimized_resume": "# Resume"}, nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *server.Handler) {
	t.Helper()
	card := &agentcard.AgentCard{
		ID:      "resume-optimizer-agent",
		Name:    "Resume Optimizer Agent",
		Version: "1.0.0",
		Skills:  []agentcard.Skill{{ID: "optimize-resume"}, {ID: "calculate-ats-score"}},
	}
	h := server.NewHandler(stubExecutor{}, server.WithAgentCard(card))
	return New(h, jsonrpc.New(h), opts...), h
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestTaskRoutes(t *testing.T) {
	srv, h := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/v1/tasks", `{"skill_id":"calculate-ats-score","input":{"resume_text":"a"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var created server.TaskResult
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Task.Status != server.StatusPending {
		t.Fatalf("expected pending, got %s", created.Task.Status)
	}
	h.Wait()

	rec = do(t, srv, http.MethodGet, "/v1/tasks/"+created.Task.ID, "")
	var got server.TaskResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Task.Status != server.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Task.Status)
	}

	rec = do(t, srv, http.MethodGet, "/v1/tasks?status=completed&limit=5", "")
	var page server.ListTasksResult
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 1 || page.Limit != 5 {
		t.Fatalf("unexpected page %+v", page)
	}

	rec = do(t, srv, http.MethodDelete, "/v1/tasks/"+created.Task.ID, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 cancelling a completed task, got %d", rec.Code)
	}

	rec = do(t, srv, http.MethodGet, "/v1/tasks/task-unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = do(t, srv, http.MethodGet, "/v1/tasks?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestCreateTaskUnknownSkill(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/v1/tasks", `{"skill_id":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Error jsonrpc.Error `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != jsonrpc.CodeInvalidParams {
		t.Fatalf("expected -32602, got %d", body.Error.Code)
	}
}

func TestRPCRoute(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/v1/message:send",
		`{"jsonrpc":"2.0","id":"a","method":"message/send","params":{"skill_id":"calculate-ats-score","input":{"x":1}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"skill_id":"calculate-ats-score"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestStreamEmitsStageEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/v1/message:send/stream", `{"skill_id":"optimize-resume","input":{"resume_content":"x"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if strings.Count(body, "event: stage\n") != 2 {
		t.Fatalf("expected two stage events, got %s", body)
	}
	if !strings.HasPrefix(body, "event: started\n") || !strings.Contains(body, "event: completed\n") {
		t.Fatalf("unexpected stream %s", body)
	}
}

func TestStreamValidationIsPlainError(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/v1/message:send/stream", `{"skill_id":"nope","input":{"a":"b"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthAndDiscovery(t *testing.T) {
	provider := health.NewProvider(0)
	provider.Register("tools", health.Static(health.Degraded, "no endpoints"))
	srv, _ := newTestServer(t, WithHealth(provider))

	rec := do(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != string(health.Degraded) || got["orchestrator_wired"] != true {
		t.Fatalf("unexpected health %v", got)
	}
	if got["tasks_count"] != float64(0) {
		t.Fatalf("unexpected tasks_count %v", got["tasks_count"])
	}

	rec = do(t, srv, http.MethodGet, agentcard.WellKnownPath, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected card, got %d", rec.Code)
	}

	rec = do(t, srv, http.MethodGet, "/", "")
	if !strings.Contains(rec.Body.String(), "Resume Optimizer Agent") {
		t.Fatalf("unexpected root %s", rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/v1/agent/info", "")
	if !strings.Contains(rec.Body.String(), `"resume-optimizer-agent"`) {
		t.Fatalf("unexpected info %s", rec.Body.String())
	}
}

func TestAuthOnRESTRoutes(t *testing.T) {
	card := &agentcard.AgentCard{ID: "a", Name: "a", Version: "1", Skills: []agentcard.Skill{{ID: "optimize-resume"}}}
	h := server.NewHandler(stubExecutor{}, server.WithAgentCard(card))
	rpc := jsonrpc.New(h, jsonrpc.WithAuthenticator(server.NewAuthenticator(server.AuthConfig{RequireBearer: true})))
	srv := New(h, rpc)

	rec := do(t, srv, http.MethodGet, "/v1/skills", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/skills", nil)
	req.Header.Set("Authorization", "Bearer abc")
	out := httptest.NewRecorder()
	srv.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", out.Code)
	}
}
