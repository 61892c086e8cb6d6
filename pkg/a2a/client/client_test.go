package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/resumeflow/pkg/a2a/agentcard"
	"github.com/jllopis/resumeflow/pkg/a2a/httpjson"
	"github.com/jllopis/resumeflow/pkg/a2a/jsonrpc"
	"github.com/jllopis/resumeflow/pkg/a2a/server"
)

type okExecutor struct{}

func (okExecutor) Execute(_ context.Context, skillID string, input map[string]any) (map[string]any, error) {
	return map[string]any{"skill": skillID, "total_score": 72.0}, nil
}

func newTestServer(t *testing.T, opts ...jsonrpc.Option) (*httptest.Server, *server.Handler) {
	t.Helper()
	card := &agentcard.AgentCard{
		ID:      "resume-optimizer-agent",
		Name:    "Resume Optimizer Agent",
		Version: "1.0.0",
		Skills:  []agentcard.Skill{{ID: "optimize-resume"}, {ID: "calculate-ats-score"}},
	}
	h := server.NewHandler(okExecutor{}, server.WithAgentCard(card))
	srv := httptest.NewServer(httpjson.New(h, jsonrpc.New(h, opts...)))
	t.Cleanup(srv.Close)
	return srv, h
}

func TestClientTaskLifecycle(t *testing.T) {
	srv, h := newTestServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	task, err := c.CreateTask(ctx, "calculate-ats-score", map[string]any{"resume_text": "a", "job_description": "b"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != server.StatusPending {
		t.Fatalf("expected pending, got %s", task.Status)
	}
	h.Wait()

	got, err := c.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != server.StatusCompleted || got.Output["total_score"] != 72.0 {
		t.Fatalf("unexpected task %+v", got)
	}

	page, err := c.ListTasks(ctx, server.ListTasksParams{Status: "completed"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected one task, got %d", page.Total)
	}

	_, err = c.CancelTask(ctx, task.ID)
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.CodeInvalidParams {
		t.Fatalf("expected invalid params, got %v", err)
	}

	skills, err := c.ListSkills(ctx)
	if err != nil || skills.Total != 2 {
		t.Fatalf("ListSkills: %v %+v", err, skills)
	}
	card, err := c.AgentCard(ctx)
	if err != nil || card.ID != "resume-optimizer-agent" {
		t.Fatalf("AgentCard: %v", err)
	}
}

func TestClientSendMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	res, err := New(srv.URL).SendMessage(context.Background(), server.SendMessageParams{
		SkillID: "calculate-ats-score",
		Input:   map[string]any{"resume_text": "a"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Result["skill"] != "calculate-ats-score" {
		t.Fatalf("unexpected result %v", res.Result)
	}
}

func TestClientBearerToken(t *testing.T) {
	srv, _ := newTestServer(t, jsonrpc.WithAuthenticator(server.NewAuthenticator(server.AuthConfig{RequireBearer: true})))

	_, err := New(srv.URL).ListSkills(context.Background())
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.CodeAuthFailed {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if _, err := New(srv.URL, WithBearerToken("secret")).ListSkills(context.Background()); err != nil {
		t.Fatalf("expected success with token, got %v", err)
	}
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"skills":[],"total":0}}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, WithRetries(2)).ListSkills(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithTimeout(20*time.Millisecond)).ListSkills(context.Background())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}
