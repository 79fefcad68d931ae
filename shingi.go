// Package shingi assembles the deliberation server programmatically.
//
// The shingi binary is a thin wrapper over this package; embedders can
// construct a System from a Config and either serve MCP over stdio or
// drive the Orchestrator directly.
package shingi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shingi-ai/shingi/internal/adapter"
	"github.com/shingi-ai/shingi/internal/cache"
	"github.com/shingi-ai/shingi/internal/config"
	"github.com/shingi-ai/shingi/internal/deliberate"
	"github.com/shingi-ai/shingi/internal/embedding"
	"github.com/shingi-ai/shingi/internal/graph"
	"github.com/shingi-ai/shingi/internal/mcp"
	"github.com/shingi-ai/shingi/internal/retrieval"
	"github.com/shingi-ai/shingi/internal/similarity"
	"github.com/shingi-ai/shingi/internal/storage"
	"github.com/shingi-ai/shingi/internal/toolexec"
	"github.com/shingi-ai/shingi/internal/worker"
)

// Config is the full server configuration. LoadConfig reads it from the
// environment; embedders may also build one by hand and Validate it.
type Config = config.Config

// LoadConfig reads configuration from environment variables and
// validates it.
func LoadConfig() (Config, error) {
	return config.Load()
}

// System is a fully wired deliberation server.
type System struct {
	Catalog      *adapter.Catalog
	Orchestrator *deliberate.Orchestrator

	// Graph is nil when the decision graph is disabled; deliberations
	// then run without memory.
	Graph *graph.Graph

	cfg    Config
	mcpSrv *mcp.Server
	store  *storage.Store
	worker *worker.Worker
	logger *slog.Logger
}

// New wires adapters, the similarity backend, the decision graph, and
// the orchestrator from cfg. The background worker is started
// immediately; Close stops it.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*System, error) {
	adapters, err := adapter.ParseSpecs(cfg.AdapterSpecs)
	if err != nil {
		return nil, fmt.Errorf("shingi: %w", err)
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("shingi: no adapter backends configured")
	}
	catalog, err := adapter.NewCatalog(adapters)
	if err != nil {
		return nil, fmt.Errorf("shingi: %w", err)
	}

	stats := &cache.Stats{}
	embCache := cache.NewEmbeddingCache(cfg.Graph.EmbeddingCacheSize, stats)
	provider := newEmbeddingProvider(cfg.Embedding, logger)
	backend := similarity.Select(cfg.Embedding.Backend, provider, embCache, logger)
	logger.Info("similarity backend selected", "backend", backend.Name())

	executor := toolexec.New(cfg.Deliberation.Tools, logger)

	sys := &System{Catalog: catalog, cfg: cfg, logger: logger}

	if cfg.Graph.Enabled {
		store, err := storage.Open(cfg.Graph.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("shingi: %w", err)
		}
		sys.store = store

		queryCache := cache.NewQueryCache(cfg.Graph.QueryCacheSize, cfg.Graph.QueryTTL, stats)
		retriever := retrieval.New(store, backend, queryCache, cfg.Graph, logger)

		sys.worker = worker.New(store, backend, cfg.Worker, retriever.InvalidateQueries, logger)
		sys.worker.Start(ctx)

		sys.Graph = graph.New(store, retriever, backend, sys.worker, stats, cfg.Graph, cfg.Worker, logger)
		logger.Info("decision graph ready", "db_path", cfg.Graph.DBPath)
	}

	var memory deliberate.Memory
	if sys.Graph != nil {
		memory = sys.Graph
	}
	sys.Orchestrator = deliberate.NewOrchestrator(catalog, executor, memory, backend,
		cfg.Deliberation, cfg.Graph.TranscriptDir, logger)
	sys.mcpSrv = mcp.New(sys.Orchestrator, sys.Graph, catalog, cfg.Deliberation, logger)

	return sys, nil
}

// ServeStdio blocks serving MCP on stdin/stdout until the client
// disconnects.
func (s *System) ServeStdio() error {
	return s.mcpSrv.ServeStdio()
}

// Close stops the background worker, waiting up to timeout for its
// in-flight job, and closes the store.
func (s *System) Close(timeout time.Duration) {
	if s.worker != nil {
		s.worker.Stop(timeout)
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("shingi: close store", "error", err)
		}
	}
}

// newEmbeddingProvider picks the embedding provider: explicit "ollama" or
// "noop", or "auto" which probes the Ollama endpoint once at startup.
func newEmbeddingProvider(cfg config.EmbeddingConfig, logger *slog.Logger) embedding.Provider {
	switch cfg.Provider {
	case "noop":
		return embedding.NewNoopProvider(cfg.Dimensions)
	case "ollama":
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.Model, cfg.Dimensions)
	}
	if embedding.Reachable(cfg.OllamaURL) {
		logger.Info("embedding: ollama reachable", "url", cfg.OllamaURL, "model", cfg.Model)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.Model, cfg.Dimensions)
	}
	logger.Info("embedding: ollama unreachable, falling back to lexical similarity", "url", cfg.OllamaURL)
	return embedding.NewNoopProvider(cfg.Dimensions)
}
