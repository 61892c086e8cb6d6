package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jllopis/resumeflow/pkg/memory"
)

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

func fakeOllama(t *testing.T, calls *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != embedPath {
			http.NotFound(w, r)
			return
		}
		*calls++
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != DefaultModel {
			t.Errorf("unexpected model %q", req.Model)
		}
		rows := make([][]float64, len(req.Input))
		for i, in := range req.Input {
			rows[i] = []float64{float64(len(in)), -1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": rows})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbed(t *testing.T) {
	var calls int
	srv := fakeOllama(t, &calls)

	vec, err := NewEmbedder(srv.URL+"/", "").Embed(context.Background(), "golang")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 6 || vec[1] != -1 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestEmbedAllUsesOneRequest(t *testing.T) {
	var calls int
	srv := fakeOllama(t, &calls)

	vecs, err := memory.EmbedAll(context.Background(), NewEmbedder(srv.URL, ""), []string{"go", "kubernetes", "sql"})
	if err != nil {
		t.Fatalf("EmbedAll: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single batch request, got %d", calls)
	}
	if len(vecs) != 3 || vecs[1][0] != 10 {
		t.Fatalf("unexpected vectors %v", vecs)
	}
}

func TestEmbedErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"missing\" not found"}`))
	}))
	defer srv.Close()

	_, err := NewEmbedder(srv.URL, "missing").Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), `model "missing" not found`) {
		t.Fatalf("expected server error message, got %v", err)
	}
}
