package stageflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/stageflow/internal/config"
	"github.com/aretw0/stageflow/internal/logging"
	"github.com/aretw0/stageflow/pkg/adapters/file"
	"github.com/aretw0/stageflow/pkg/adapters/loam"
	"github.com/aretw0/stageflow/pkg/adapters/memory"
	"github.com/aretw0/stageflow/pkg/adapters/redis"
	"github.com/aretw0/stageflow/pkg/adapters/sqlite"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/observability"
	"github.com/aretw0/stageflow/pkg/orchestrator"
	"github.com/aretw0/stageflow/pkg/persistence/middleware"
	"github.com/aretw0/stageflow/pkg/ports"
	"github.com/aretw0/stageflow/pkg/resolver"
	"github.com/aretw0/stageflow/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
)

// Config is the engine configuration. See LoadConfig and DefaultConfig.
type Config = config.Config

// LoadConfig reads a config file (stageflow.yaml when path is empty) and
// applies STAGEFLOW_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns an in-memory configuration reading definitions
// from ./workflows.
func DefaultConfig() *Config {
	return config.Default()
}

// Engine is the high-level entry point for the stageflow library.
// It embeds the orchestrator and owns the storage it opened.
type Engine struct {
	*orchestrator.Orchestrator

	// Metrics is set when metrics are enabled.
	Metrics *observability.Metrics
	// Registry is the registry Metrics were registered on when no
	// Registerer was supplied.
	Registry *prometheus.Registry

	repo    ports.Repository
	loader  ports.WorkflowLoader
	closers []func() error
	logger  *slog.Logger
}

// Option defines a functional option for configuring the Engine.
type Option func(*settings)

type settings struct {
	logger     *slog.Logger
	loader     ports.WorkflowLoader
	repo       ports.Repository
	registerer prometheus.Registerer
	hooks      []domain.LifecycleHooks
	extra      []orchestrator.Option
}

// WithLogger sets a custom structured logger instead of the one built from
// the log section of the config.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithLoader injects a WorkflowLoader, bypassing the definitions directory.
func WithLoader(l ports.WorkflowLoader) Option {
	return func(s *settings) {
		s.loader = l
	}
}

// WithRepository injects a Repository, bypassing the configured backend.
// The engine does not close injected repositories.
func WithRepository(repo ports.Repository) Option {
	return func(s *settings) {
		s.repo = repo
	}
}

// WithRegisterer registers metrics on reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = reg
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *settings) {
		s.hooks = append(s.hooks, hooks)
	}
}

// WithOrchestratorOptions passes raw options to the orchestrator. They are
// applied after the ones derived from the config.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(s *settings) {
		s.extra = append(s.extra, opts...)
	}
}

// Open builds an Engine from cfg. A nil cfg means DefaultConfig.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		level, _ := logging.ParseLevel(cfg.Log.Level)
		s.logger = logging.NewWithWriter(os.Stderr, logging.Format(cfg.Log.Format), level)
	}

	eng := &Engine{logger: s.logger, loader: s.loader, repo: s.repo}
	if eng.loader == nil {
		loader, err := openLoader(cfg, s.logger)
		if err != nil {
			return nil, err
		}
		eng.loader = loader
	}

	locks := []session.Option{
		session.WithLockTTL(cfg.Session.LockTTL),
		session.WithLogger(s.logger),
	}
	if eng.repo == nil {
		locker, err := eng.openRepository(ctx, cfg)
		if err != nil {
			_ = eng.Close()
			return nil, err
		}
		if locker != nil {
			locks = append(locks, session.WithLocker(locker))
		}
	}

	strategy, _ := resolver.ParseStrategy(cfg.Resolver.Strategy)
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(s.logger),
		orchestrator.WithLockManager(session.NewManager(locks...)),
		orchestrator.WithResolver(resolver.New(
			resolver.WithStrategy(strategy),
			resolver.WithLogger(s.logger),
		)),
	}
	if cfg.Resolver.WeightOrdering {
		orchOpts = append(orchOpts, orchestrator.WithWeightOrdering())
	}
	if cfg.Session.AutoComplete {
		orchOpts = append(orchOpts, orchestrator.WithAutoComplete())
	}
	if len(cfg.RedactKeys) > 0 {
		orchOpts = append(orchOpts, orchestrator.WithMiddleware(middleware.NewRedactionMiddleware(cfg.RedactKeys)))
	}
	if cfg.Metrics.Enabled {
		reg := s.registerer
		if reg == nil {
			eng.Registry = prometheus.NewRegistry()
			reg = eng.Registry
		}
		eng.Metrics = observability.NewMetrics(reg)
		orchOpts = append(orchOpts, orchestrator.WithHooks(eng.Metrics.Hooks()))
	}
	if cfg.Log.Audit {
		orchOpts = append(orchOpts, orchestrator.WithHooks(observability.AuditHooks(s.logger)))
	}
	for _, h := range s.hooks {
		orchOpts = append(orchOpts, orchestrator.WithHooks(h))
	}
	orchOpts = append(orchOpts, s.extra...)

	eng.Orchestrator = orchestrator.New(eng.repo, eng.loader, orchOpts...)
	s.logger.Debug("engine opened", "backend", cfg.Backend, "definitions", cfg.Definitions.Dir)
	return eng, nil
}

// openLoader reads definitions from a plain directory or a Loam repository.
func openLoader(cfg *Config, logger *slog.Logger) (ports.WorkflowLoader, error) {
	if cfg.Definitions.Source == config.SourceLoam {
		return loam.Open(cfg.Definitions.Dir, loam.WithLogger(logger))
	}
	return file.NewLoader(cfg.Definitions.Dir, file.WithLogger(logger)), nil
}

// openRepository opens the configured backend and returns the distributed
// locker that goes with it, if any.
func (e *Engine) openRepository(ctx context.Context, cfg *Config) (ports.DistributedLocker, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLite.Path, sqlite.WithLogger(e.logger))
		if err != nil {
			return nil, err
		}
		e.repo = store
		e.closers = append(e.closers, store.Close)
		return nil, nil
	case config.BackendRedis:
		store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.Redis.TTL),
			redis.WithLogger(e.logger),
		)
		e.closers = append(e.closers, store.Close)
		if err := store.Client().Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		e.repo = store
		return redis.NewLocker(store.Client(), cfg.Redis.Prefix), nil
	default:
		e.repo = memory.NewStore()
		return nil, nil
	}
}

// Repository returns the undecorated repository the engine stores into.
func (e *Engine) Repository() ports.Repository {
	return e.repo
}

// Loader returns the workflow loader.
func (e *Engine) Loader() ports.WorkflowLoader {
	return e.loader
}

// Close releases the storage opened by Open.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	e.closers = nil
	return errors.Join(errs...)
}
