package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/resumeflow/pkg/a2a/agentcard"
	"github.com/jllopis/resumeflow/pkg/a2a/httpjson"
	"github.com/jllopis/resumeflow/pkg/a2a/jsonrpc"
	"github.com/jllopis/resumeflow/pkg/a2a/server"
	"github.com/jllopis/resumeflow/pkg/compose"
	"github.com/jllopis/resumeflow/pkg/config"
	"github.com/jllopis/resumeflow/pkg/health"
	"github.com/jllopis/resumeflow/pkg/mcp"
	"github.com/jllopis/resumeflow/pkg/memory"
	"github.com/jllopis/resumeflow/pkg/memory/ollama"
	"github.com/jllopis/resumeflow/pkg/memory/qdrant"
	"github.com/jllopis/resumeflow/pkg/orchestrator"
	"github.com/jllopis/resumeflow/pkg/resilience"
	"github.com/jllopis/resumeflow/pkg/resume"
	"github.com/jllopis/resumeflow/pkg/telemetry"
)

// appOptions are the process level choices that are not configuration.
type appOptions struct {
	version string
	// embeddedTools serves the resume tools in process instead of dialing
	// the configured endpoints.
	embeddedTools bool
	logger        *slog.Logger
}

// app holds the wired components of one process.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tools   *mcp.Manager
	orch    *orchestrator.Orchestrator
	handler *server.Handler
	health  *health.Provider
	http    http.Handler
	closers []func() error
}

// newPipeline wires everything the orchestrator depends on.
func newPipeline(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		health:  health.NewProvider(5 * time.Second),
	}

	if err := a.wireTools(opts); err != nil {
		a.close(ctx)
		return nil, err
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithRetrieval(cfg.Memory.RetrievalLimit, cfg.Memory.MinScore),
		orchestrator.WithIndexResume(cfg.Memory.IndexResume),
		orchestrator.WithExtractor(newExtractor(cfg.Extract, logger)),
	}
	if a.tools != nil {
		orchOpts = append(orchOpts, orchestrator.WithTools(a.tools, cfg.Tools.Default))
	}
	profiles, err := a.wireMemory()
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if profiles != nil {
		orchOpts = append(orchOpts, orchestrator.WithProfiles(profiles))
	}
	audit, err := a.wireAudit()
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if audit != nil {
		orchOpts = append(orchOpts, orchestrator.WithAuditStore(audit))
	}

	a.orch, err = orchestrator.New(orchOpts...)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

// newServerApp extends the pipeline with the task server and its routes.
func newServerApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a, err := newPipeline(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	card, err := a.card(opts.version)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	store, err := a.wireTaskStore(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.handler = server.NewHandler(a.orch,
		server.WithStore(store),
		server.WithAgentCard(card),
		server.WithDescriber(a.orch),
		server.WithLogger(a.logger),
		server.WithMetrics(a.metrics),
	)
	rpcOpts := []jsonrpc.Option{jsonrpc.WithLogger(a.logger)}
	if cfg.Auth.RequireBearer || cfg.Auth.RequireMTLS {
		rpcOpts = append(rpcOpts, jsonrpc.WithAuthenticator(server.NewAuthenticator(server.AuthConfig{
			RequireBearer: cfg.Auth.RequireBearer,
			RequireMTLS:   cfg.Auth.RequireMTLS,
		})))
	}
	if cfg.Auth.RateLimit > 0 {
		rpcOpts = append(rpcOpts, jsonrpc.WithRateLimiter(server.NewKeyedRateLimiter(cfg.Auth.RateLimit)))
	}
	rpc := jsonrpc.New(a.handler, rpcOpts...)
	a.http = httpjson.New(a.handler, rpc, httpjson.WithHealth(a.health), httpjson.WithLogger(a.logger))
	return a, nil
}

func (a *app) wireTools(opts appOptions) error {
	cfg := a.cfg.Tools
	endpoints := cfg.EndpointList()
	mopts := []mcp.Option{
		mcp.WithLogger(a.logger),
		mcp.WithMetrics(a.metrics),
		mcp.WithClientInfo("resumeflow", opts.version),
		mcp.WithBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
	}
	if len(cfg.Allow) > 0 || len(cfg.Deny) > 0 {
		mopts = append(mopts, mcp.WithToolFilter(mcp.NewToolFilter(cfg.Allow, cfg.Deny)))
	}
	if opts.embeddedTools {
		srv := resume.NewToolServer(opts.version)
		mopts = append(mopts, mcp.WithDialer(srv.Dialer()))
		endpoints = []mcp.EndpointConfig{{
			Name:    resume.DefaultToolEndpoint,
			Timeout: cfg.Timeout,
			Retries: cfg.Retries,
		}}
		a.cfg.Tools.Default = resume.DefaultToolEndpoint
	}
	if len(endpoints) == 0 {
		a.logger.Warn("no tool endpoints configured; tool-backed stages use local fallbacks")
		a.health.Register("tools", health.Static(health.Degraded, "no tool endpoints configured"))
		return nil
	}
	m, err := mcp.NewManager(endpoints, mopts...)
	if err != nil {
		return fmt.Errorf("tool manager: %w", err)
	}
	a.tools = m
	a.health.Register("tools", health.ToolsChecker(m))
	return nil
}

func (a *app) wireMemory() (*memory.ProfileIndex, error) {
	cfg := a.cfg.Memory
	var store memory.VectorStore
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "inmemory":
		store = memory.NewInMemory()
	case "qdrant":
		qs, err := qdrant.New(cfg.QdrantAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, qs.Close)
		a.health.Register("vector_store", health.PingChecker(qs))
		store = qs
	default:
		return nil, fmt.Errorf("memory: unknown provider %q", cfg.Provider)
	}

	var embedder memory.Embedder
	switch strings.ToLower(cfg.Embedder) {
	case "", "hash":
		embedder = memory.NewHashEmbedder(memory.DefaultHashDimensions)
	case "ollama":
		embedder = ollama.NewEmbedder(cfg.EmbedderBaseURL, cfg.EmbedderModel)
	default:
		return nil, fmt.Errorf("memory: unknown embedder %q", cfg.Embedder)
	}
	return memory.NewProfileIndex(store, embedder, memory.WithDefaultCollection(cfg.Collection))
}

func (a *app) wireAudit() (compose.AuditStore, error) {
	cfg := a.cfg.Audit
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return nil, nil
	case "memory":
		return compose.NewMemoryAuditStore(), nil
	case "sqlite":
		store, err := compose.OpenSQLiteAuditStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		a.health.Register("audit", health.PingChecker(store))
		return store, nil
	default:
		return nil, fmt.Errorf("audit: unknown driver %q", cfg.Driver)
	}
}

func (a *app) wireTaskStore(ctx context.Context) (server.TaskStore, error) {
	cfg := a.cfg.Server
	switch strings.ToLower(cfg.TaskStore) {
	case "", "memory":
		return server.NewMemoryTaskStore(), nil
	case "sqlite":
		store, err := server.OpenSQLiteTaskStore(cfg.TaskDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		n, err := store.MarkInterrupted(ctx)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			a.logger.Warn("marked interrupted tasks as failed", slog.Int("count", n))
		}
		a.health.Register("task_store", health.PingChecker(store))
		return store, nil
	default:
		return nil, fmt.Errorf("server: unknown task store %q", cfg.TaskStore)
	}
}

func (a *app) card(version string) (*agentcard.AgentCard, error) {
	card := orchestrator.Card(baseURL(a.cfg.Server), version)
	if path := a.cfg.Server.CardPath; path != "" {
		override, err := agentcard.LoadFile(path)
		if err != nil {
			return nil, err
		}
		card.Merge(override)
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return card, nil
}

// close waits for background tasks and releases resources in reverse
// order of acquisition.
func (a *app) close(ctx context.Context) {
	if a.handler != nil {
		a.handler.Wait()
	}
	if a.tools != nil {
		a.tools.Shutdown(ctx)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

func newExtractor(cfg config.ExtractConfig, logger *slog.Logger) *resume.JobExtractor {
	retry := resilience.DefaultRetryConfig()
	if cfg.Retries > 0 {
		retry.MaxAttempts = cfg.Retries
	}
	opts := []resume.ExtractorOption{
		resume.WithFetchRetry(retry),
		resume.WithUserAgent(cfg.UserAgent),
		resume.WithExtractorLogger(logger),
	}
	if cfg.FetchTimeout > 0 {
		opts = append(opts, resume.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}))
	}
	return resume.NewJobExtractor(opts...)
}

func baseURL(cfg config.ServerConfig) string {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/")
	}
	addr := cfg.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
