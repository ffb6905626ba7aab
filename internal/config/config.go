// Package config loads stageflow settings from a YAML file and STAGEFLOW_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/stageflow/internal/logging"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/resolver"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// STAGEFLOW_REDIS_ADDR for redis.addr.
const EnvPrefix = "STAGEFLOW"

// FileName is the config file looked up when no explicit path is given.
const FileName = "stageflow"

// Definition sources.
const (
	SourceDir  = "dir"
	SourceLoam = "loam"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds the configuration for the application.
type Config struct {
	Backend string `mapstructure:"backend"`

	Definitions struct {
		Dir    string `mapstructure:"dir"`
		Source string `mapstructure:"source"`
	} `mapstructure:"definitions"`

	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`

	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		Prefix   string        `mapstructure:"prefix"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		Audit  bool   `mapstructure:"audit"`
	} `mapstructure:"log"`

	Resolver struct {
		Strategy       string `mapstructure:"strategy"`
		WeightOrdering bool   `mapstructure:"weight_ordering"`
	} `mapstructure:"resolver"`

	Session struct {
		AutoComplete bool          `mapstructure:"auto_complete"`
		LockTTL      time.Duration `mapstructure:"lock_ttl"`
	} `mapstructure:"session"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`

	RedactKeys []string `mapstructure:"redact_keys"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err) // defaults always decode
	}
	return cfg
}

// LoadOption adjusts how Load builds the configuration.
type LoadOption func(*viper.Viper)

// WithDefault replaces the built-in default of key. Files and environment
// variables still take precedence.
func WithDefault(key string, value any) LoadOption {
	return func(v *viper.Viper) {
		v.SetDefault(key, value)
	}
}

// Load reads path (or stageflow.yaml from the working directory and
// ./config when path is empty), then applies environment overrides.
// A missing default file is not an error; a missing explicit path is.
func Load(path string, opts ...LoadOption) (*Config, error) {
	v := newViper()
	for _, opt := range opts {
		opt(v)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so Unmarshal sees env overrides.
	v.SetDefault("backend", BackendMemory)
	v.SetDefault("definitions.dir", "workflows")
	v.SetDefault("definitions.source", SourceDir)
	v.SetDefault("sqlite.path", "stageflow.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "stageflow:")
	v.SetDefault("redis.ttl", time.Duration(0))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", string(logging.FormatText))
	v.SetDefault("log.audit", false)
	v.SetDefault("resolver.strategy", "auto")
	v.SetDefault("resolver.weight_ordering", false)
	v.SetDefault("session.auto_complete", false)
	v.SetDefault("session.lock_ttl", 30*time.Second)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("redact_keys", []string{})
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	return &cfg, nil
}

// Validate checks enumerations and backend-specific requirements.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return &domain.ValidationError{Field: "sqlite.path", Reason: "required for the sqlite backend"}
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return &domain.ValidationError{Field: "redis.addr", Reason: "required for the redis backend"}
		}
	default:
		return &domain.ValidationError{
			Field:    "backend",
			Value:    c.Backend,
			Expected: []string{BackendMemory, BackendSQLite, BackendRedis},
			Reason:   "unknown backend",
		}
	}
	switch c.Definitions.Source {
	case SourceDir, SourceLoam:
	default:
		return &domain.ValidationError{
			Field:    "definitions.source",
			Value:    c.Definitions.Source,
			Expected: []string{SourceDir, SourceLoam},
			Reason:   "unknown definition source",
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return &domain.ValidationError{Field: "log.level", Value: c.Log.Level, Reason: err.Error()}
	}
	switch logging.Format(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		return &domain.ValidationError{
			Field:    "log.format",
			Value:    c.Log.Format,
			Expected: []string{string(logging.FormatText), string(logging.FormatJSON)},
			Reason:   "unknown log format",
		}
	}
	if _, err := resolver.ParseStrategy(c.Resolver.Strategy); err != nil {
		return err
	}
	if c.Session.LockTTL < 0 || c.Redis.TTL < 0 {
		return &domain.ValidationError{Field: "ttl", Reason: "durations must not be negative"}
	}
	return nil
}
