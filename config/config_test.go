package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	setDefaults()

	var cfg Config
	require.NoError(t, viper.Unmarshal(&cfg))
	return &cfg
}

func TestDefaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 4096, cfg.Ingest.QueueSize)
	assert.Equal(t, 3, cfg.Ingest.Workers)
	assert.Equal(t, 100000, cfg.Buffer.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Correlation.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Correlation.Cooldown)
	assert.Equal(t, time.Hour, cfg.ThreatIntel.SweepInterval)
	assert.Equal(t, 8081, cfg.API.Port)
	assert.False(t, cfg.ClickHouse.Enabled)
	assert.True(t, cfg.SQLite.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"zero queue", func(c *Config) { c.Ingest.QueueSize = 0 }, "ingest.queue_size"},
		{"zero workers", func(c *Config) { c.Ingest.Workers = 0 }, "ingest.workers"},
		{"zero buffer", func(c *Config) { c.Buffer.Capacity = 0 }, "buffer.capacity"},
		{"zero interval", func(c *Config) { c.Correlation.Interval = 0 }, "correlation.interval"},
		{"negative cooldown", func(c *Config) { c.Correlation.Cooldown = -time.Second }, "correlation.cooldown"},
		{"zero sweep", func(c *Config) { c.ThreatIntel.SweepInterval = 0 }, "threat_intel.sweep_interval"},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"zero rate", func(c *Config) { c.API.RateLimit.RequestsPerSecond = 0 }, "api.rate_limit.requests_per_second"},
		{"clickhouse without addr", func(c *Config) { c.ClickHouse.Enabled = true; c.ClickHouse.Addr = "" }, "clickhouse.addr"},
		{"sqlite without path", func(c *Config) { c.SQLite.Path = "" }, "sqlite.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.key, cerr.Key)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("ARGUS_INGEST_WORKERS", "7")
	t.Setenv("ARGUS_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Ingest.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestAPIAddr(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 9000
	assert.Equal(t, "127.0.0.1:9000", cfg.APIAddr())
}
