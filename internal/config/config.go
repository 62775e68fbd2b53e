package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the root configuration structure.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Server     ServerConfig     `mapstructure:"server"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Services   []ServiceConfig  `mapstructure:"services"`
	Log        LogConfig        `mapstructure:"log"`
	Debug      bool             `mapstructure:"debug"`
}

// StorageConfig selects and configures the sample and alert store.
type StorageConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver       string `mapstructure:"driver"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	PostgresDSN  string `mapstructure:"postgres_dsn"`
	PoolMaxConns int    `mapstructure:"pool_max_conns"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Bind         string        `mapstructure:"bind"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Bind, strconv.Itoa(s.Port))
}

// CacheConfig configures the optional Redis report cache.
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// ServiceConfig declares a managed service registered at startup.
type ServiceConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultDir returns ~/.config/tollgate, falling back to the temp dir.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "tollgate")
}

// LoadConfig loads configuration from tollgate.yaml in the default search
// paths and TOLLGATE_ environment variables. A missing file is not an error.
func LoadConfig() (*Config, error) {
	return LoadConfigFromPath("")
}

// LoadConfigFromPath loads configuration from an explicit file. An empty
// path searches $HOME/.config/tollgate and the working directory.
func LoadConfigFromPath(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tollgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TOLLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file or env is present.
func Default() *Config {
	v := viper.New()
	applyDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// applyDefaults sets default configuration values.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", filepath.Join(DefaultDir(), "tollgate.db"))
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.pool_max_conns", 10)

	v.SetDefault("evaluation.enabled", true)
	v.SetDefault("evaluation.interval", "60s")
	v.SetDefault("evaluation.concurrency", 4)

	v.SetDefault("retention.samples", "168h")
	v.SetDefault("retention.prune_interval", "1h")
	v.SetDefault("retention.batch_size", 1000)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.bind", "127.0.0.1")
	v.SetDefault("server.port", 8089)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", "30s")

	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")

	v.SetDefault("debug", false)
}
