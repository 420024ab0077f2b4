// Package config assembles the daemon configuration from built-in defaults,
// an optional YAML file, and environment variables. Environment wins over the
// file, the file wins over defaults.
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hisabapp/pricingd/internal/cache"
	"github.com/hisabapp/pricingd/internal/provider"
	"github.com/hisabapp/pricingd/internal/scheduler"
	"github.com/hisabapp/pricingd/internal/store"
)

// ProviderKeys carries the upstream API credentials. Any key may be empty;
// the registry demotes the matching provider in its selection order.
type ProviderKeys struct {
	OpenExchangeRates string `yaml:"openexchangerates_api_key" env:"OPENEXCHANGERATES_API_KEY"`
	GoldAPI           string `yaml:"goldapi_api_key" env:"GOLDAPI_API_KEY"`
	MetalsDev         string `yaml:"metalsdev_api_key" env:"METALS_DEV_API_KEY"`
	CoinMarketCap     string `yaml:"coinmarketcap_api_key" env:"COINMARKETCAP_API_KEY"`
}

// Keys converts to the provider registry's credential set.
func (k ProviderKeys) Keys() provider.Keys {
	return provider.Keys{
		OpenExchangeRates: k.OpenExchangeRates,
		GoldAPI:           k.GoldAPI,
		MetalsDev:         k.MetalsDev,
		CoinMarketCap:     k.CoinMarketCap,
	}
}

// Config is the complete daemon configuration.
type Config struct {
	LogLevel    string `yaml:"log_level" env:"PRICING_LOG_LEVEL"`
	ListenAddr  string `yaml:"listen_addr" env:"PRICING_LISTEN_ADDR"`
	SyncEnabled bool   `yaml:"sync_enabled" env:"PRICING_SYNC_ENABLED"`

	Database  store.Config     `yaml:"database"`
	Redis     cache.Config     `yaml:"redis"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Providers ProviderKeys     `yaml:"providers"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:    "info",
		ListenAddr:  ":8080",
		SyncEnabled: true,
		Database:    store.DefaultConfig(),
		Scheduler:   scheduler.DefaultConfig(),
	}
}

// Load builds the configuration. A .env file in the working directory is
// applied to the environment first, so local runs behave like deployed ones.
// An empty path skips the YAML layer.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var logLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if !logLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Scheduler.MonthlyLimit < 0 {
		return fmt.Errorf("monthly limit must not be negative, got %d", c.Scheduler.MonthlyLimit)
	}
	return nil
}
