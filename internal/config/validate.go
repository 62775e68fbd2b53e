package config

import (
	"fmt"
	"time"

	"github.com/willibrandon/tollgate/internal/logger"
	"github.com/willibrandon/tollgate/internal/traffic"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// EvaluationConfig controls the alert evaluation loop.
type EvaluationConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

// RetentionConfig controls sample pruning. Samples must outlive the widest
// query window.
type RetentionConfig struct {
	Samples       time.Duration `mapstructure:"samples"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
}

// ValidateConfig validates the configuration values.
func ValidateConfig(cfg *Config) error {
	switch cfg.Storage.Driver {
	case DriverSQLite:
		if cfg.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path cannot be empty")
		}
	case DriverPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required when storage.driver is postgres")
		}
		if cfg.Storage.PoolMaxConns < 1 {
			return fmt.Errorf("storage.pool_max_conns must be >= 1, got %d", cfg.Storage.PoolMaxConns)
		}
	default:
		return fmt.Errorf("storage.driver must be one of: [%s %s], got %q", DriverSQLite, DriverPostgres, cfg.Storage.Driver)
	}

	if err := validateRange("evaluation.interval", cfg.Evaluation.Interval, 5*time.Second, time.Hour); err != nil {
		return err
	}
	if cfg.Evaluation.Concurrency < 1 || cfg.Evaluation.Concurrency > 64 {
		return fmt.Errorf("evaluation.concurrency must be between 1 and 64, got %d", cfg.Evaluation.Concurrency)
	}

	// Retention must exceed the 24h report window.
	if cfg.Retention.Samples <= traffic.Window24h.Duration() {
		return fmt.Errorf("retention.samples must be greater than %v, got %v", traffic.Window24h.Duration(), cfg.Retention.Samples)
	}
	if cfg.Retention.Samples > 2160*time.Hour {
		return fmt.Errorf("retention.samples must be at most 2160h, got %v", cfg.Retention.Samples)
	}
	if err := validateRange("retention.prune_interval", cfg.Retention.PruneInterval, time.Minute, 24*time.Hour); err != nil {
		return err
	}
	if cfg.Retention.BatchSize < 1 || cfg.Retention.BatchSize > 100000 {
		return fmt.Errorf("retention.batch_size must be between 1 and 100000, got %d", cfg.Retention.BatchSize)
	}

	if cfg.Server.Enabled {
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
		}
		if cfg.Server.ReadTimeout <= 0 || cfg.Server.WriteTimeout <= 0 {
			return fmt.Errorf("server timeouts must be positive")
		}
	}

	if cfg.Cache.Enabled {
		if cfg.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required when cache is enabled")
		}
		if err := validateRange("cache.ttl", cfg.Cache.TTL, time.Second, 10*time.Minute); err != nil {
			return err
		}
	}
	if cfg.Cache.RedisDB < 0 {
		return fmt.Errorf("cache.redis_db must be >= 0, got %d", cfg.Cache.RedisDB)
	}

	seen := make(map[string]bool)
	for i, svc := range cfg.Services {
		if err := traffic.ValidateServiceID(svc.ID); err != nil {
			return fmt.Errorf("services[%d]: %w", i, err)
		}
		if seen[svc.ID] {
			return fmt.Errorf("services[%d]: duplicate service id %q", i, svc.ID)
		}
		seen[svc.ID] = true
	}

	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

func validateRange(field string, value, min, max time.Duration) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %v and %v, got %v", field, min, max, value)
	}
	return nil
}
