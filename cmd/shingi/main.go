// Command shingi runs the deliberation MCP server on stdio.
//
// stdout carries the MCP transport, so all logging goes to stderr.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shingi-ai/shingi"
	"github.com/shingi-ai/shingi/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("SHINGI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := shingi.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("shingi starting", "version", version, "graph_enabled", cfg.Graph.Enabled)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	sys, err := shingi.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sys.Close(10 * time.Second)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sys.ServeStdio()
	}()

	// The stdio transport ends when the MCP client hangs up; a signal
	// ends it from our side.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
	}

	slog.Info("shingi shutting down")
	return nil
}
