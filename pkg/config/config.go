// Package config loads layered settings: defaults, a YAML file with an
// optional profile overlay, RESUMEFLOW_ environment variables and --set
// command-line overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/resumeflow/pkg/mcp"
	"github.com/jllopis/resumeflow/pkg/telemetry"
)

// EnvPrefix is the prefix of environment overrides.
// RESUMEFLOW_SERVER_ADDR -> server.addr
const EnvPrefix = "RESUMEFLOW_"

type Config struct {
	Log       LogConfig        `koanf:"log"`
	Server    ServerConfig     `koanf:"server"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Tools     ToolsConfig      `koanf:"tools"`
	Memory    MemoryConfig     `koanf:"memory"`
	Audit     AuditConfig      `koanf:"audit"`
	Extract   ExtractConfig    `koanf:"extract"`
	Auth      AuthConfig       `koanf:"auth"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	// BaseURL is advertised in the agent card; derived from Addr when empty.
	BaseURL         string        `koanf:"base_url"`
	CardPath        string        `koanf:"card_path"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	TaskStore       string        `koanf:"task_store"` // memory, sqlite
	TaskDSN         string        `koanf:"task_dsn"`
}

type ToolsConfig struct {
	// Default names the endpoint the tool-backed stages call.
	Default         string                        `koanf:"default"`
	Timeout         time.Duration                 `koanf:"timeout"`
	Retries         int                           `koanf:"retries"`
	BreakerFailures int                           `koanf:"breaker_failures"`
	BreakerCooldown time.Duration                 `koanf:"breaker_cooldown"`
	// Allow and Deny hold tool names or glob patterns; deny wins.
	Allow     []string                      `koanf:"allow"`
	Deny      []string                      `koanf:"deny"`
	Endpoints map[string]mcp.EndpointConfig `koanf:"endpoints"`
}

// EndpointList returns the configured endpoints sorted by name, with names,
// timeouts and retries filled in.
func (t ToolsConfig) EndpointList() []mcp.EndpointConfig {
	names := slices.Sorted(maps.Keys(t.Endpoints))
	out := make([]mcp.EndpointConfig, 0, len(names))
	for _, name := range names {
		ep := t.Endpoints[name]
		ep.Name = name
		if ep.Timeout == 0 {
			ep.Timeout = t.Timeout
		}
		if ep.Retries == 0 {
			ep.Retries = t.Retries
		}
		out = append(out, ep)
	}
	return out
}

type MemoryConfig struct {
	Provider        string  `koanf:"provider"` // none, inmemory, qdrant
	QdrantAddr      string  `koanf:"qdrant_addr"`
	Collection      string  `koanf:"collection"`
	Embedder        string  `koanf:"embedder"` // hash, ollama
	EmbedderBaseURL string  `koanf:"embedder_base_url"`
	EmbedderModel   string  `koanf:"embedder_model"`
	RetrievalLimit  int     `koanf:"retrieval_limit"`
	MinScore        float32 `koanf:"min_score"`
	IndexResume     bool    `koanf:"index_resume"`
}

type AuditConfig struct {
	Driver string `koanf:"driver"` // none, memory, sqlite
	DSN    string `koanf:"dsn"`
}

type ExtractConfig struct {
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	Retries      int           `koanf:"retries"`
	UserAgent    string        `koanf:"user_agent"`
}

type AuthConfig struct {
	RequireBearer bool `koanf:"require_bearer"`
	RequireMTLS   bool `koanf:"require_mtls"`
	// RateLimit is requests per minute per caller; zero disables limiting.
	RateLimit int `koanf:"rate_limit"`
}

var defaults = map[string]any{
	"log.level":                 "info",
	"log.format":                "text",
	"server.addr":               ":8080",
	"server.shutdown_timeout":   "15s",
	"server.task_store":         "memory",
	"server.task_dsn":           "file:resumeflow-tasks.db",
	"telemetry.exporter":        "none",
	"telemetry.otlp_endpoint":   "localhost:4317",
	"telemetry.otlp_insecure":   true,
	"telemetry.metric_interval": "30s",
	"telemetry.sample_ratio":    1.0,
	"tools.default":             "resume_tools",
	"tools.timeout":             "30s",
	"tools.retries":             1,
	"tools.breaker_failures":    5,
	"tools.breaker_cooldown":    "30s",
	"memory.provider":           "inmemory",
	"memory.qdrant_addr":        "localhost:6334",
	"memory.collection":         "user_profile",
	"memory.embedder":           "hash",
	"memory.embedder_base_url":  "http://localhost:11434",
	"memory.embedder_model":     "nomic-embed-text",
	"memory.retrieval_limit":    5,
	"memory.min_score":          0.1,
	"memory.index_resume":       true,
	"audit.driver":              "memory",
	"audit.dsn":                 "file:resumeflow-audit.db",
	"extract.fetch_timeout":     "20s",
	"extract.retries":           3,
	"extract.user_agent":        "resumeflow/1.0",
	"auth.require_bearer":       false,
	"auth.require_mtls":         false,
	"auth.rate_limit":           0,
}

func newKoanf() (*koanf.Koanf, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// Load reads path (optional) and environment overrides.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile loads path and then the profile overlay next to it
// (config.yaml + "dev" -> config.dev.yaml) when that file exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	k, err := load(path, profile)
	if err != nil {
		return nil, err
	}
	return unmarshal(k)
}

// LoadWithCLI loads configuration honoring --config, --profile and repeated
// --set key=value arguments. Unrelated arguments are ignored.
func LoadWithCLI(args []string) (*Config, error) {
	opts, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	k, err := load(opts.configPath, opts.profile)
	if err != nil {
		return nil, err
	}
	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("apply --set %s: %w", key, err)
		}
	}
	return unmarshal(k)
}

// ProfileConfigPath returns the overlay path for profile.
func ProfileConfigPath(path, profile string) string {
	if path == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

func load(path, profile string) (*koanf.Koanf, error) {
	k, err := newKoanf()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if overlay := ProfileConfigPath(path, profile); overlay != "" {
			if _, err := os.Stat(overlay); err == nil {
				if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load profile %s: %w", overlay, err)
				}
			}
		}
	}
	// Only the first underscore separates section from key, so
	// RESUMEFLOW_SERVER_TASK_STORE maps to server.task_store.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}
	return k, nil
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type cliOptions struct {
	configPath string
	profile    string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]any, error) {
	var opts cliOptions
	overrides := map[string]any{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, inline := strings.Cut(arg, "=")
		switch name {
		case "--config", "--profile", "--set":
		default:
			continue
		}
		if !inline {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.configPath = value
		case "--profile":
			opts.profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return opts, nil, fmt.Errorf("invalid --set value %q, expected key=value", value)
			}
			overrides[strings.TrimSpace(key)] = parseValue(raw)
		}
	}
	return opts, overrides, nil
}

// parseValue decodes JSON literals (numbers, booleans, objects, arrays) and
// keeps anything else as a string.
func parseValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v
	}
	return raw
}
