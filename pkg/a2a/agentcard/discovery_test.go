package agentcard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func demoCard() *AgentCard {
	return &AgentCard{
		ProtocolVersion:     ProtocolVersion,
		ID:                  "demo-agent",
		Name:                "demo-agent",
		Version:             "1.0.0",
		PreferredTransport:  "jsonrpc",
		SupportedTransports: []string{"jsonrpc", "http"},
		Skills: []Skill{{
			ID:   "echo",
			Name: "Echo",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"text": map[string]any{"type": "string"}},
				"required":   []string{"text"},
			},
		}},
	}
}

func TestPublishHandler_NoCard(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, WellKnownPath, nil)
	rec := httptest.NewRecorder()

	PublishHandler(nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPublishHandler_ServesCard(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, WellKnownPath, nil)
	rec := httptest.NewRecorder()

	PublishHandler(demoCard()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != DefaultMediaType {
		t.Fatalf("expected content type %q", DefaultMediaType)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["preferredTransport"] != "jsonrpc" {
		t.Fatalf("expected camelCase fields, got %v", got)
	}
}

func TestFetch_Success(t *testing.T) {
	server := httptest.NewServer(PublishHandler(demoCard()))
	defer server.Close()

	got, err := Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if got.Name != "demo-agent" {
		t.Fatalf("expected name %q, got %q", "demo-agent", got.Name)
	}
	if ids := got.SkillIDs(); len(ids) != 1 || ids[0] != "echo" {
		t.Fatalf("unexpected skills %v", ids)
	}
}

func TestFetch_NonOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := Fetch(context.Background(), server.URL); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func TestPublishHandler_NotModified(t *testing.T) {
	h := PublishHandler(demoCard())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, WellKnownPath, nil))
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}

	req := httptest.NewRequest(http.MethodGet, WellKnownPath, nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("304 must not carry a body")
	}
}

func TestFetch_RejectsInvalidCard(t *testing.T) {
	card := demoCard()
	card.Skills = nil
	server := httptest.NewServer(PublishHandler(card))
	defer server.Close()

	_, err := FetchWith(context.Background(), server.Client(), server.URL+"/")
	if err == nil || !strings.Contains(err.Error(), "at least one skill") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := demoCard().Validate(); err != nil {
		t.Fatalf("expected valid card, got %v", err)
	}

	card := demoCard()
	card.Skills = append(card.Skills, Skill{ID: "echo"})
	card.PreferredTransport = "grpc"
	err := card.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"duplicate id", "preferred transport"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}

	card = demoCard()
	card.Skills[0].InputSchema["required"] = []string{"missing"}
	if err := card.Validate(); err == nil {
		t.Fatalf("expected error for required field without property")
	}
}

func TestLoadFileAndMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "card.yaml")
	doc := `
name: custom-agent
version: 2.0.0
provider:
  organization: Example Org
skills:
  - id: echo
    name: Echo
    input_schema:
      type: object
      properties:
        text:
          type: string
        count:
          type: integer
          default: 3
      required: [text]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := loaded.Skills[0].Required(); len(got) != 1 || got[0] != "text" {
		t.Fatalf("unexpected required %v", got)
	}
	props := loaded.Skills[0].InputSchema["properties"].(map[string]any)
	count := props["count"].(map[string]any)
	if count["default"] != float64(3) {
		t.Fatalf("expected numbers normalized to float64, got %T", count["default"])
	}

	base := demoCard()
	base.Merge(loaded)
	if base.Name != "custom-agent" || base.Version != "2.0.0" {
		t.Fatalf("merge did not apply identity: %+v", base)
	}
	if base.ID != "demo-agent" {
		t.Fatalf("empty override fields must not clear base, got id %q", base.ID)
	}
	if base.Provider == nil || base.Provider.Organization != "Example Org" {
		t.Fatalf("expected provider from override")
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("merged card invalid: %v", err)
	}
}
