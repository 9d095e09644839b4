// Package app wires the knowledge engine components from configuration.
// Both the API server and the operator CLI build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/cache"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/config"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/feedback"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/ingest"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/learning"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/llm"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/metrics"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/monitoring"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/responder"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/retrieval"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// Options adjusts how the application is assembled.
type Options struct {
	// DB is used instead of opening one from configuration.
	DB *sql.DB
	// Migrate applies pending schema migrations on startup.
	Migrate bool
	// Fallback overrides the configured model fallback.
	Fallback responder.Fallback
	// Registry receives the Prometheus collectors. A fresh registry is
	// created when nil.
	Registry *prometheus.Registry
}

// App holds every wired component.
type App struct {
	Config    *config.Config
	Logger    *observability.Logger
	DB        *sql.DB
	Repos     *storage.Repositories
	Cache     cache.Client
	Publisher cache.Publisher
	// Redis is set only when the redis cache driver is configured.
	Redis *cache.RedisClient

	Registry   *prometheus.Registry
	Collectors *metrics.Collectors
	Metrics    *metrics.Aggregator

	Audit      *monitoring.AuditLogger
	Sweeper    *monitoring.PendingSweeper
	TokenGuard *monitoring.TokenGuard

	FAQCache  *retrieval.FAQCache
	Retrieval *retrieval.Engine
	Learner   *learning.Learner
	Feedback  *feedback.Engine
	Responder *responder.Responder
	Ingest    *ingest.Pipeline
	Fallback  responder.Fallback

	ownsDB bool
}

// New builds the application. Close releases the database and cache.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger, DB: opts.DB}

	if a.DB == nil {
		db, err := OpenDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.ownsDB = true
	}

	if opts.Migrate {
		applied, err := storage.Migrate(ctx, a.DB, cfg.Database.Driver)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			logger.Info().Strs("versions", applied).Msg("Applied migrations")
		}
	}

	if err := a.initCache(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Registry = opts.Registry
	if a.Registry == nil {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	a.Collectors = metrics.NewCollectors(a.Registry, cfg.Metrics.Namespace)

	a.Repos = storage.NewRepositories(a.DB)
	a.Audit = monitoring.NewAuditLogger(logger, a.Publisher)
	a.Metrics = metrics.NewAggregator(a.Repos.Metrics, a.Collectors, cfg.Metrics, logger)

	faqCacheCfg := retrieval.DefaultFAQCacheConfig()
	faqCacheCfg.TTL = cfg.Cache.TTL
	a.FAQCache = retrieval.NewFAQCache(a.Repos.FAQ, a.Cache, logger, faqCacheCfg)
	a.Retrieval = retrieval.NewEngine(a.Repos.FAQ, a.Repos.Knowledge, cfg.Learning, logger, retrieval.WithFAQCache(a.FAQCache))

	a.Learner = learning.NewLearner(a.Repos.Knowledge, cfg.Learning, a.Audit, logger)
	a.Feedback = feedback.NewEngine(feedback.Stores{
		Logs:      a.Repos.Logs,
		Knowledge: a.Repos.Knowledge,
		Pending:   a.Repos.Pending,
		Training:  a.Repos.Training,
	}, a.Learner, a.Metrics, feedback.Config{Learning: cfg.Learning, Implicit: cfg.Implicit}, a.Audit, logger)

	a.Fallback = opts.Fallback
	if a.Fallback == nil {
		a.Fallback = newFallback(ctx, cfg.LLM, logger)
	}

	a.Responder = responder.New(responder.Deps{
		Finder:     a.Retrieval,
		Fallback:   a.Fallback,
		Usage:      a.Metrics,
		Implicit:   a.Feedback,
		Logs:       a.Repos.Logs,
		Pending:    a.Repos.Pending,
		Collectors: a.Collectors,
	}, cfg.Learning, logger)

	a.Ingest = ingest.NewPipeline(logger, a.Repos.FAQ, a.Audit, a.FAQCache)
	a.Sweeper = monitoring.NewPendingSweeper(logger, a.Audit, a.Repos.Pending, monitoring.SweeperConfig{
		Window:   cfg.Implicit.Window,
		Interval: cfg.Implicit.SweepInterval,
	})
	a.TokenGuard = monitoring.NewTokenGuard(logger, a.Audit, a.Repos.Knowledge, 0)

	return a, nil
}

// OpenDatabase connects to the configured database.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case storage.DriverPostgres:
		return storage.Open(ctx, storage.DriverPostgres, cfg.Postgres.DSN, storage.OpenOptions{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
	default:
		return storage.Open(ctx, storage.DriverSQLite, cfg.SQLite.Path, storage.OpenOptions{
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			JournalMode:  cfg.SQLite.JournalMode,
		})
	}
}

func (a *App) initCache(ctx context.Context) error {
	if a.Config.Cache.Driver != "redis" {
		a.Cache = cache.NewMemoryClient(a.Config.Cache.MaxEntries)
		a.Publisher = cache.NopPublisher{}
		return nil
	}

	rc := a.Config.Cache.Redis
	client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
		URL:      rc.URL,
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		PoolSize: rc.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	a.Redis = client
	a.Cache = client
	a.Publisher = client
	return nil
}

// newFallback returns the Gemini generator when one is configured. A
// misconfigured provider is logged and the engine runs without fallback.
func newFallback(ctx context.Context, cfg config.LLMConfig, logger *observability.Logger) responder.Fallback {
	if cfg.Provider != "gemini" {
		return nil
	}
	gen, err := llm.NewGenerator(ctx, cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Gemini fallback disabled")
		return nil
	}
	logger.Info().Str("model", gen.Model()).Msg("Gemini fallback enabled")
	return gen
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	return a.DB.PingContext(ctx)
}

// Close releases the cache and, when it was opened here, the database.
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.ownsDB && a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
