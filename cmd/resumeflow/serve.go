package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/resumeflow/pkg/config"
	"github.com/jllopis/resumeflow/pkg/telemetry"
)

type serveOptions struct {
	embeddedTools bool
	watch         bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task server",
		Long: `Run the HTTP server exposing JSON-RPC (/rpc), the REST task routes and the
agent card. Tasks still running at shutdown are awaited.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.embeddedTools, "embedded-tools", false, "serve the resume tools in process instead of dialing tools.endpoints")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reload the log level when the config file changes")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(telemetry.ParseLevel(cfg.Log.Level))
	logger := telemetry.ConfigureDynamicSlog(os.Stderr, level, cfg.Log.Format)

	shutdownTelemetry, err := telemetry.InitWithConfig("resumeflow", version, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if opts.watch && root.configPath != "" {
		watcher, _, err := config.WatchConfig(ctx, root.configPath, config.WithWatchProfile(root.profile))
		if err != nil {
			return NewConfigError(err, root.configPath)
		}
		defer watcher.Stop()
		live := config.NewReloadableConfig(cfg)
		watcher.OnChange(func(next *config.Config) {
			live.Update(next)
			level.Set(telemetry.ParseLevel(live.Log().Level))
			logger.Info("configuration reloaded", slog.String("log_level", live.Log().Level))
		})
	}

	a, err := newServerApp(ctx, cfg, appOptions{version: version, embeddedTools: opts.embeddedTools, logger: logger})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.http,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.Server.Addr), slog.String("url", baseURL(cfg.Server)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			a.close(context.Background())
			return err
		}
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	a.close(sctx)
	return nil
}
