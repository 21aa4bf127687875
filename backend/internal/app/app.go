// Package app wires configuration into running components. The server and
// the operator CLI share it.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"contactgraph/backend/internal/api"
	"contactgraph/backend/internal/cache"
	"contactgraph/backend/internal/discovery"
	"contactgraph/backend/internal/embedding"
	"contactgraph/backend/internal/graph"
	"contactgraph/backend/internal/groups"
	"contactgraph/backend/internal/jobs"
	"contactgraph/backend/internal/metrics"
	"contactgraph/backend/internal/review"
	"contactgraph/backend/internal/store"
	"contactgraph/backend/pkg/config"
)

// App holds every component built from a Config.
type App struct {
	Config  *config.Config
	Graph   graph.Store
	DB      *store.DB
	Metrics *metrics.Collector
	Reviews *review.Service
	Tracker *jobs.Tracker
	Groups  *groups.Engine

	logger  *zap.Logger
	closers []func(context.Context) error
}

// Build connects to the configured backends. Optional collaborators (NATS,
// Qdrant) are skipped when their address is empty.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: log, Metrics: metrics.NewCollector("contactgraph")}
	if err := a.build(ctx); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.Config, a.logger

	switch cfg.StoreBackend {
	case config.BackendMemory:
		a.Graph = graph.NewMemoryStore()
		log.Warn("Using in-memory graph store, data is lost on exit")
	default:
		driver, err := graph.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return err
		}
		retry := graph.DefaultRetry
		retry.MaxAttempts = cfg.GraphMaxRetries
		retry.CallTimeout = cfg.GraphCallTimeout
		repo := graph.NewRepository(driver,
			graph.WithDatabase(cfg.Neo4jDatabase),
			graph.WithRetry(retry),
			graph.WithLogger(log))
		a.closers = append(a.closers, repo.Close)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
		a.Graph = repo
		log.Info("Connected to Neo4j", zap.String("uri", cfg.Neo4jURI))
	}

	db, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open review store: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	var inv cache.Invalidator = cache.Nop{}
	if cfg.NATSURL != "" {
		nc, err := cache.Connect(cfg.NATSURL, cfg.CacheSubject)
		if err != nil {
			return err
		}
		inv = nc
		a.closers = append(a.closers, func(context.Context) error { return nc.Close() })
		log.Info("Publishing cache invalidations", zap.String("subject", cfg.CacheSubject))
	}

	engineOpts := []discovery.EngineOption{discovery.WithLogger(log)}
	if cfg.QdrantAddr != "" {
		q, err := embedding.NewQdrantProvider(cfg.QdrantAddr, cfg.QdrantCollection)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return q.Close() })
		breaker := embedding.NewBreaker(q, embedding.DefaultBreakerConfig("qdrant"), log)
		engineOpts = append(engineOpts, discovery.WithEmbeddings(breaker))
		log.Info("Embedding provider enabled", zap.String("addr", cfg.QdrantAddr))
	}
	if cfg.EmbeddingURL != "" {
		bcfg := embedding.DefaultBreakerConfig("embeddings-api")
		bcfg.CallTimeout = 30 * time.Second
		gen := embedding.NewGeneratorBreaker(embedding.NewOpenAIGenerator(cfg.EmbeddingURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel), bcfg, log)
		engineOpts = append(engineOpts, discovery.WithGenerator(gen))
		log.Info("Embedding generation enabled", zap.String("url", cfg.EmbeddingURL), zap.String("model", cfg.EmbeddingModel))
	}

	a.Reviews = review.NewService(db, a.Graph,
		review.WithCache(inv),
		review.WithMetrics(a.Metrics),
		review.WithLogger(log))
	a.Tracker = jobs.NewTracker(discovery.NewEngine(engineOpts...), a.Graph, db, a.Reviews,
		jobs.WithBudget(cfg.JobBudget),
		jobs.WithLease(cfg.JobLease),
		jobs.WithCache(inv),
		jobs.WithMetrics(a.Metrics),
		jobs.WithLogger(log))
	a.Groups = groups.NewEngine(a.Graph, log)

	// lease based, so safe while another process shares the database
	if _, err := a.Tracker.RecoverStale(ctx); err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	return nil
}

// Defaults are the discovery options applied to requests that leave them unset.
func (a *App) Defaults() discovery.Options {
	return discovery.Options{MinTagSimilarity: a.Config.MinTagSimilarity}
}

// Server returns the HTTP layer over the app's components.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Deps{
		Tracker:     a.Tracker,
		Reviews:     a.Reviews,
		Groups:      a.Groups,
		Graph:       a.Graph,
		Metrics:     a.Metrics,
		Logger:      a.logger,
		Defaults:    a.Defaults(),
		DefaultWait: a.Config.DefaultWait,
		Production:  a.Config.IsProduction(),
	})
}

// Close waits for in-flight jobs, then releases every backend in reverse
// order of creation.
func (a *App) Close(ctx context.Context) error {
	var first error
	if a.Tracker != nil {
		if err := a.Tracker.Shutdown(ctx); err != nil {
			a.logger.Error("Discovery jobs still running at shutdown", zap.Error(err))
			first = err
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
