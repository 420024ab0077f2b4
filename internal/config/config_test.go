package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pricingd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.True(t, cfg.SyncEnabled)
	assert.Equal(t, 6*time.Hour, cfg.Scheduler.Interval)
	assert.True(t, cfg.Scheduler.IncludeMonthly)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
listen_addr: ":9090"
database:
  dsn: postgres://pricing@localhost/pricing
scheduler:
  interval: 2h
  monthly_limit: 24
redis:
  addr: localhost:6379
  prefix: staging
providers:
  goldapi_api_key: gk-test
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "postgres://pricing@localhost/pricing", cfg.Database.DSN)
	assert.Equal(t, 2*time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 24, cfg.Scheduler.MonthlyLimit)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "staging", cfg.Redis.Prefix)
	assert.Equal(t, "gk-test", cfg.Providers.Keys().GoldAPI)

	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Scheduler.IncludeMonthly)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
scheduler:
  interval: 2h
`)
	t.Setenv("PRICING_LOG_LEVEL", "warn")
	t.Setenv("PRICING_SYNC_INTERVAL", "45m")
	t.Setenv("OPENEXCHANGERATES_API_KEY", "oxr-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 45*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "oxr-test", cfg.Providers.OpenExchangeRates)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }, false},
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }, false},
		{"negative monthly limit", func(c *Config) { c.Scheduler.MonthlyLimit = -1 }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
