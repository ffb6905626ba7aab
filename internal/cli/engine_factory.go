package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/stageflow"
	"github.com/aretw0/stageflow/internal/config"
	"github.com/aretw0/stageflow/internal/logging"
)

// DefaultBackend is the CLI's backend when neither a flag, the config file
// nor STAGEFLOW_BACKEND names one. Each invocation is a new process, so
// state has to outlive it.
const DefaultBackend = config.BackendSQLite

// LoadConfig reads the config and applies flag overrides on top.
func LoadConfig(opts Options) (*stageflow.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, config.WithDefault("backend", DefaultBackend))
	if err != nil {
		return nil, err
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.DefinitionsDir != "" {
		cfg.Definitions.Dir = opts.DefinitionsDir
	}
	if opts.SQLitePath != "" {
		cfg.SQLite.Path = opts.SQLitePath
	}
	if opts.RedisAddr != "" {
		cfg.Redis.Addr = opts.RedisAddr
	}
	if opts.Debug {
		cfg.Log.Level = "debug"
		cfg.Log.Audit = true
	}
	return cfg, cfg.Validate()
}

// OpenEngine builds an engine with the CLI conventions: silent unless
// --debug, in which case every lifecycle event is logged to Stderr.
func OpenEngine(ctx context.Context, opts Options) (*stageflow.Engine, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}

	eng, err := stageflow.Open(ctx, cfg, stageflow.WithLogger(createLogger(opts.Debug)))
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return eng, nil
}

// createLogger configures the application logger.
// In debug mode, it writes to Stderr (to keep Stdout for command output).
func createLogger(debug bool) *slog.Logger {
	if debug {
		return logging.New(slog.LevelDebug)
	}
	return logging.NewNop()
}
