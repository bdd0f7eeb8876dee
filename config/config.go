// Package config loads service configuration from YAML, environment
// variables and defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigError describes a configuration value the service cannot start with.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// Config holds all configuration for the Argus service.
type Config struct {
	Logging struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"logging"`

	Ingest struct {
		QueueSize    int           `mapstructure:"queue_size"`
		PushTimeout  time.Duration `mapstructure:"push_timeout"`
		PopTimeout   time.Duration `mapstructure:"pop_timeout"`
		Workers      int           `mapstructure:"workers"`
		DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	} `mapstructure:"ingest"`

	Buffer struct {
		Capacity int `mapstructure:"capacity"`
	} `mapstructure:"buffer"`

	Correlation struct {
		Interval  time.Duration `mapstructure:"interval"`
		Cooldown  time.Duration `mapstructure:"cooldown"`
		RulesPath string        `mapstructure:"rules_path"`
	} `mapstructure:"correlation"`

	ThreatIntel struct {
		IndicatorsPath string        `mapstructure:"indicators_path"`
		SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"threat_intel"`

	API struct {
		Host      string `mapstructure:"host"`
		Port      int    `mapstructure:"port"`
		RateLimit struct {
			RequestsPerSecond float64 `mapstructure:"requests_per_second"`
			Burst             int     `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	ClickHouse struct {
		Enabled       bool          `mapstructure:"enabled"`
		Addr          string        `mapstructure:"addr"`
		Database      string        `mapstructure:"database"`
		Username      string        `mapstructure:"username"`
		Password      string        `mapstructure:"password"`
		BatchSize     int           `mapstructure:"batch_size"`
		FlushInterval time.Duration `mapstructure:"flush_interval"`
		Backlog       int           `mapstructure:"backlog"`
	} `mapstructure:"clickhouse"`

	SQLite struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"sqlite"`
}

func setDefaults() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.development", false)

	viper.SetDefault("ingest.queue_size", 4096)
	viper.SetDefault("ingest.push_timeout", 100*time.Millisecond)
	viper.SetDefault("ingest.pop_timeout", 200*time.Millisecond)
	viper.SetDefault("ingest.workers", 3)
	viper.SetDefault("ingest.drain_timeout", 5*time.Second)

	viper.SetDefault("buffer.capacity", 100000)

	viper.SetDefault("correlation.interval", 30*time.Second)
	viper.SetDefault("correlation.cooldown", 5*time.Minute)
	viper.SetDefault("correlation.rules_path", "./config/rules.yaml")

	viper.SetDefault("threat_intel.indicators_path", "./config/indicators.yaml")
	viper.SetDefault("threat_intel.sweep_interval", time.Hour)

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.rate_limit.requests_per_second", 50)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("clickhouse.enabled", false)
	viper.SetDefault("clickhouse.addr", "localhost:9000")
	viper.SetDefault("clickhouse.database", "argus")
	viper.SetDefault("clickhouse.username", "default")
	viper.SetDefault("clickhouse.password", "")
	viper.SetDefault("clickhouse.batch_size", 1000)
	viper.SetDefault("clickhouse.flush_interval", 5*time.Second)
	viper.SetDefault("clickhouse.backlog", 10000)

	viper.SetDefault("sqlite.enabled", true)
	viper.SetDefault("sqlite.path", "./data/argus.db")
}

// LoadConfig reads configuration from argus.yaml (searched in . and
// ./config), environment variables prefixed ARGUS_, then defaults. A missing
// config file is fine; an invalid value is a startup failure.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("argus")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	viper.SetEnvPrefix("ARGUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and env vars.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Ingest.QueueSize < 1 {
		return &ConfigError{Key: "ingest.queue_size", Reason: "must be at least 1"}
	}
	if c.Ingest.Workers < 1 {
		return &ConfigError{Key: "ingest.workers", Reason: "must be at least 1"}
	}
	if c.Buffer.Capacity < 1 {
		return &ConfigError{Key: "buffer.capacity", Reason: "must be at least 1"}
	}
	if c.Correlation.Interval <= 0 {
		return &ConfigError{Key: "correlation.interval", Reason: "must be positive"}
	}
	if c.Correlation.Cooldown < 0 {
		return &ConfigError{Key: "correlation.cooldown", Reason: "must not be negative"}
	}
	if c.ThreatIntel.SweepInterval <= 0 {
		return &ConfigError{Key: "threat_intel.sweep_interval", Reason: "must be positive"}
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return &ConfigError{Key: "api.port", Reason: "must be a valid TCP port"}
	}
	if c.API.RateLimit.RequestsPerSecond <= 0 {
		return &ConfigError{Key: "api.rate_limit.requests_per_second", Reason: "must be positive"}
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Addr == "" {
		return &ConfigError{Key: "clickhouse.addr", Reason: "required when clickhouse is enabled"}
	}
	if c.SQLite.Enabled && c.SQLite.Path == "" {
		return &ConfigError{Key: "sqlite.path", Reason: "required when sqlite is enabled"}
	}
	return nil
}

// APIAddr returns the host:port the management API binds.
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
