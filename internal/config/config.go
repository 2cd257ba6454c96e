// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the service settings.
type Config struct {
	ProjectID           string        `env:"GCP_PROJECT_ID"`
	FirestoreDatabase   string        `env:"FIRESTORE_DATABASE" envDefault:"(default)"`
	Port                int           `env:"PORT" envDefault:"8080"`
	Subscription        string        `env:"PUBSUB_SUBSCRIPTION"`
	MaxConcurrency      int           `env:"MAX_CONCURRENCY" envDefault:"10"`
	HandlerTimeout      time.Duration `env:"HANDLER_TIMEOUT" envDefault:"60s"`
	BackfillConcurrency int           `env:"BACKFILL_CONCURRENCY" envDefault:"8"`
	PushEnabled         bool          `env:"PUSH_ENABLED" envDefault:"true"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks settings after flag overrides have been applied.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ProjectID) == "" {
		return fmt.Errorf("GCP_PROJECT_ID environment variable not set")
	}
	if c.Port <= 0 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.BackfillConcurrency <= 0 {
		return fmt.Errorf("backfill concurrency must be positive, got %d", c.BackfillConcurrency)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// Logger builds the production JSON logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
