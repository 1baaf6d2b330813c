// Package config loads the service configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quantlark/tracer/internal/core"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Pools   PoolsConfig   `mapstructure:"pools"`
	Trading TradingConfig `mapstructure:"trading"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	APIKey      string `mapstructure:"api_key"`
	RunTTLHours int    `mapstructure:"run_ttl_hours"`
	MaxRuns     int    `mapstructure:"max_runs"`
	Development bool   `mapstructure:"development"`
}

type StorageConfig struct {
	Bars    BarStorageConfig `mapstructure:"bars"`
	Archive ArchiveConfig    `mapstructure:"archive"`
}

// BarStorageConfig selects the bar backend: "sqlite" or "parquet".
type BarStorageConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`  // sqlite database path
	Path string `mapstructure:"path"` // parquet data directory
}

// ArchiveConfig selects the report archive backend: "localfs", "s3" or
// "" to disable archiving.
type ArchiveConfig struct {
	Type string   `mapstructure:"type"`
	Path string   `mapstructure:"path"`
	S3   S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// PoolsConfig sizes the two worker pools.
type PoolsConfig struct {
	Interactive PoolConfig `mapstructure:"interactive"`
	Batch       PoolConfig `mapstructure:"batch"`
}

type PoolConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// TradingConfig carries run defaults applied when a request omits them.
type TradingConfig struct {
	DefaultInterval string        `mapstructure:"default_interval"`
	RunTimeout      time.Duration `mapstructure:"run_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetEnvPrefix("TRACER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand ${VAR} references in string values.
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			RunTTLHours: 1,
			MaxRuns:     100,
		},
		Storage: StorageConfig{
			Bars: BarStorageConfig{
				Type: "sqlite",
				DSN:  "tracer.db",
			},
			Archive: ArchiveConfig{
				Type: "localfs",
				Path: "archive",
			},
		},
		Pools: PoolsConfig{
			Interactive: PoolConfig{Workers: 4, QueueSize: 16},
			Batch:       PoolConfig{Workers: 2, QueueSize: 64},
		},
		Trading: TradingConfig{
			DefaultInterval: "1h",
			RunTimeout:      2 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxRuns < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("max_runs must be positive, got %d", c.Server.MaxRuns))
	}

	switch c.Storage.Bars.Type {
	case "sqlite":
		if c.Storage.Bars.DSN == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("bars dsn required when type is sqlite"))
		}
	case "parquet":
		if c.Storage.Bars.Path == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("bars path required when type is parquet"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown bar storage type %q", c.Storage.Bars.Type))
	}

	switch c.Storage.Archive.Type {
	case "", "localfs":
	case "s3":
		if c.Storage.Archive.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("s3 bucket required when archive type is s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown archive type %q", c.Storage.Archive.Type))
	}

	for name, p := range map[string]PoolConfig{
		"interactive": c.Pools.Interactive,
		"batch":       c.Pools.Batch,
	} {
		if p.Workers < 1 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("%s pool workers must be positive, got %d", name, p.Workers))
		}
		if p.QueueSize < 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("%s pool queue_size cannot be negative, got %d", name, p.QueueSize))
		}
	}

	if _, err := core.ParseInterval(c.Trading.DefaultInterval); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}

	return nil
}
