package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Tools.Timeout != 30*time.Second {
		t.Errorf("expected 30s tool timeout, got %v", cfg.Tools.Timeout)
	}
	if cfg.Memory.Provider != "inmemory" || cfg.Memory.Embedder != "hash" {
		t.Errorf("unexpected memory defaults %+v", cfg.Memory)
	}
	if cfg.Audit.Driver != "memory" {
		t.Errorf("expected memory audit driver, got %s", cfg.Audit.Driver)
	}
	if cfg.Telemetry.Exporter != "none" {
		t.Errorf("expected telemetry disabled by default, got %s", cfg.Telemetry.Exporter)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("RESUMEFLOW_SERVER_TASK_STORE", "sqlite")
	t.Setenv("RESUMEFLOW_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.TaskStore != "sqlite" {
		t.Errorf("expected task store sqlite from env, got %s", cfg.Server.TaskStore)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug level from env, got %s", cfg.Log.Level)
	}
}

func TestLoadWithProfile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yaml")
	writeFile(t, base, `
log:
  level: info
tools:
  endpoints:
    resume_tools:
      command: resumeflow
      args: [tools, serve]
`)
	writeFile(t, filepath.Join(dir, "config.dev.yaml"), `
log:
  level: debug
`)

	cases := []struct {
		profile string
		level   string
	}{
		{"", "info"},
		{"dev", "debug"},
		{"prod", "info"},
	}
	for _, tc := range cases {
		cfg, err := LoadWithProfile(base, tc.profile)
		if err != nil {
			t.Fatalf("LoadWithProfile(%q) failed: %v", tc.profile, err)
		}
		if cfg.Log.Level != tc.level {
			t.Errorf("profile %q: expected level %s, got %s", tc.profile, tc.level, cfg.Log.Level)
		}
		eps := cfg.Tools.EndpointList()
		if len(eps) != 1 || eps[0].Name != "resume_tools" || eps[0].Command != "resumeflow" {
			t.Fatalf("unexpected endpoints %+v", eps)
		}
		if eps[0].Timeout != 30*time.Second || eps[0].Retries != 1 {
			t.Errorf("expected tool defaults applied to endpoint, got %+v", eps[0])
		}
	}
}

func TestLoadWithCLIOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	writeFile(t, path, `
server:
  addr: ":9000"
memory:
  provider: qdrant
`)
	t.Setenv("RESUMEFLOW_MEMORY_PROVIDER", "none")

	cfg, err := LoadWithCLI([]string{
		"serve",
		"--config", path,
		"--set", "memory.provider=inmemory",
		"--set=auth.require_bearer=true",
		"--set", "memory.retrieval_limit=12",
		"--set", `tools.endpoints={"scorer":{"command":"scorer","args":["--stdio"],"timeout":"5s"}}`,
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("expected file addr, got %s", cfg.Server.Addr)
	}
	if cfg.Memory.Provider != "inmemory" {
		t.Errorf("expected cli override to win over env, got %s", cfg.Memory.Provider)
	}
	if !cfg.Auth.RequireBearer {
		t.Errorf("expected require_bearer=true")
	}
	if cfg.Memory.RetrievalLimit != 12 {
		t.Errorf("expected retrieval limit 12, got %d", cfg.Memory.RetrievalLimit)
	}
	ep, ok := cfg.Tools.Endpoints["scorer"]
	if !ok {
		t.Fatalf("expected scorer endpoint override")
	}
	if ep.Command != "scorer" || ep.Timeout != 5*time.Second {
		t.Errorf("unexpected endpoint %+v", ep)
	}
}

func TestLoadWithCLIProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "audit:\n  driver: memory\n")
	writeFile(t, filepath.Join(dir, "config.prod.yaml"), "audit:\n  driver: sqlite\n")

	cfg, err := LoadWithCLI([]string{"--config=" + path, "--profile", "prod"})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.Audit.Driver != "sqlite" {
		t.Errorf("expected prod overlay, got %s", cfg.Audit.Driver)
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	if _, _, err := parseCLIOverrides([]string{"--config"}); err == nil {
		t.Fatalf("expected error for missing --config value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set"}); err == nil {
		t.Fatalf("expected error for missing --set value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set", "invalid"}); err == nil {
		t.Fatalf("expected error for invalid --set value")
	}
}

func TestProfileConfigPath(t *testing.T) {
	if got := ProfileConfigPath("/etc/resumeflow/config.yaml", "dev"); got != "/etc/resumeflow/config.dev.yaml" {
		t.Errorf("unexpected overlay path %s", got)
	}
	if got := ProfileConfigPath("config.yaml", ""); got != "" {
		t.Errorf("expected no overlay without profile, got %s", got)
	}
}
