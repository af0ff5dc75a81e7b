// recalld is the long-term memory retrieval service: hybrid search over a
// user's memories with conflict resolution, result caching, and reminders.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"dev.helix.recall/internal/cache"
	"dev.helix.recall/internal/config"
	"dev.helix.recall/internal/embedding"
	"dev.helix.recall/internal/engine"
	"dev.helix.recall/internal/handlers"
	"dev.helix.recall/internal/index"
	"dev.helix.recall/internal/index/graph"
	"dev.helix.recall/internal/index/keyword"
	"dev.helix.recall/internal/index/qdrant"
	"dev.helix.recall/internal/memory"
	"dev.helix.recall/internal/store/postgres"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("recalld exited with error")
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	resultCache, err := buildCache(cfg, logger, registry)
	if err != nil {
		return err
	}
	defer func() { _ = resultCache.Close() }()

	vectorIdx, err := buildVectorIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}

	graphIdx, closeGraph, err := buildGraphIndex(cfg, logger)
	if err != nil {
		return err
	}
	defer closeGraph()

	embedder := buildEmbedder(cfg)

	eng := engine.New(
		store,
		vectorIdx,
		keyword.New(),
		graphIdx,
		embedder,
		resultCache,
		engine.Config{
			CandidateLimit:   cfg.Engine.CandidateLimit,
			SubsystemTimeout: cfg.Engine.SubsystemTimeout,
			GraphMaxDepth:    cfg.Engine.GraphMaxDepth,
			RerankTopN:       cfg.Engine.RerankTopN,
			DefaultPageSize:  cfg.Engine.DefaultPageSize,
			MaxPageSize:      cfg.Engine.MaxPageSize,
			ConflictRetries:  cfg.Engine.ConflictRetries,
		},
		logger,
		engine.NewMetrics(registry),
	)

	router := handlers.NewRouter(eng, registry, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("recalld listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (memory.Store, func(), error) {
	if !cfg.Database.Enabled {
		logger.Info("Using in-memory store (standalone mode)")
		return memory.NewInMemoryStore(), func() {}, nil
	}

	pg, err := postgres.New(ctx, postgres.Config{
		URL:      cfg.Database.URL,
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func buildCache(cfg *config.Config, logger *logrus.Logger, registry *prometheus.Registry) (cache.ResultCache, error) {
	metrics := cache.NewMetrics(registry)
	if !cfg.Redis.Enabled {
		logger.Info("Using in-process result cache")
		return cache.NewMemoryCache(cfg.Redis.TTL, logger, metrics), nil
	}
	return cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	}, logger, metrics)
}

func buildVectorIndex(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (index.VectorIndex, error) {
	if !cfg.Qdrant.Enabled {
		logger.Info("Using local exact-scan vector index")
		return index.NewLocalVectorIndex(), nil
	}

	idx, err := qdrant.New(&qdrant.Config{
		URL:        cfg.Qdrant.URL,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		VectorSize: cfg.Qdrant.VectorSize,
		Timeout:    cfg.Qdrant.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := idx.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure Qdrant collection: %w", err)
	}
	return idx, nil
}

func buildGraphIndex(cfg *config.Config, logger *logrus.Logger) (index.GraphIndex, func(), error) {
	if !cfg.Neo4j.Enabled {
		logger.Info("Using in-process graph index")
		return graph.NewMemoryGraph(), func() {}, nil
	}

	idx, err := graph.NewNeo4j(&graph.Config{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.Username,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
		Timeout:  cfg.Neo4j.Timeout,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Neo4j: %w", err)
	}
	return idx, func() { _ = idx.Close(context.Background()) }, nil
}

func buildEmbedder(cfg *config.Config) engine.Embedder {
	if cfg.Embedding.Provider == "http" {
		return embedding.NewHTTPEmbedder(embedding.Config{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   cfg.Embedding.Timeout,
		})
	}
	return embedding.NewLocalEmbedder(cfg.Embedding.Dimension)
}
