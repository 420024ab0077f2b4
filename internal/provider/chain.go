package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// historicalDay reports whether day lies strictly before today in UTC.
func historicalDay(day time.Time, now func() time.Time) bool {
	return day.Before(now().UTC().Truncate(24 * time.Hour))
}

// ChainedFX tries primary first and falls back on any classified failure.
// A latest-only primary is skipped outright for historical dates instead of
// burning a request that cannot answer.
type ChainedFX struct {
	primary  FXProvider
	fallback FXProvider
	log      zerolog.Logger
	now      func() time.Time
}

func NewChainedFX(primary, fallback FXProvider, log zerolog.Logger) *ChainedFX {
	return &ChainedFX{primary: primary, fallback: fallback, log: log, now: time.Now}
}

func (c *ChainedFX) Name() string {
	return c.primary.Name() + "+" + c.fallback.Name()
}

func (c *ChainedFX) RequiresAPIKey() bool { return false }
func (c *ChainedFX) IsConfigured() bool   { return true }

func (c *ChainedFX) SupportsHistorical() bool {
	return c.primary.SupportsHistorical() || c.fallback.SupportsHistorical()
}

// Rates returns the first non-empty answer. The winning provider's own name
// travels in each row's Source field, never the chain's.
func (c *ChainedFX) Rates(ctx context.Context, day time.Time) ([]FXRate, error) {
	if !historicalDay(day, c.now) || c.primary.SupportsHistorical() {
		rates, err := c.primary.Rates(ctx, day)
		if err == nil && len(rates) > 0 {
			return rates, nil
		}
		if err != nil {
			c.log.Warn().Err(err).Str("provider", c.primary.Name()).
				Time("date", day).Msg("fx provider failed, trying fallback")
		}
	}
	return c.fallback.Rates(ctx, day)
}

// ChainedMetal tries primary first and falls back on any classified failure.
type ChainedMetal struct {
	primary  MetalProvider
	fallback MetalProvider
	log      zerolog.Logger
	now      func() time.Time
}

func NewChainedMetal(primary, fallback MetalProvider, log zerolog.Logger) *ChainedMetal {
	return &ChainedMetal{primary: primary, fallback: fallback, log: log, now: time.Now}
}

func (c *ChainedMetal) Name() string {
	return c.primary.Name() + "+" + c.fallback.Name()
}

func (c *ChainedMetal) RequiresAPIKey() bool { return false }
func (c *ChainedMetal) IsConfigured() bool   { return true }

func (c *ChainedMetal) SupportsHistorical() bool {
	return c.primary.SupportsHistorical() || c.fallback.SupportsHistorical()
}

func (c *ChainedMetal) Prices(ctx context.Context, day time.Time) ([]MetalPrice, error) {
	if !historicalDay(day, c.now) || c.primary.SupportsHistorical() {
		prices, err := c.primary.Prices(ctx, day)
		if err == nil && len(prices) > 0 {
			return prices, nil
		}
		if err != nil {
			c.log.Warn().Err(err).Str("provider", c.primary.Name()).
				Time("date", day).Msg("metal provider failed, trying fallback")
		}
	}
	return c.fallback.Prices(ctx, day)
}

// ChainedCrypto tries primary first and falls back on any classified failure.
type ChainedCrypto struct {
	primary  CryptoProvider
	fallback CryptoProvider
	log      zerolog.Logger
	now      func() time.Time
}

func NewChainedCrypto(primary, fallback CryptoProvider, log zerolog.Logger) *ChainedCrypto {
	return &ChainedCrypto{primary: primary, fallback: fallback, log: log, now: time.Now}
}

func (c *ChainedCrypto) Name() string {
	return c.primary.Name() + "+" + c.fallback.Name()
}

func (c *ChainedCrypto) RequiresAPIKey() bool { return false }
func (c *ChainedCrypto) IsConfigured() bool   { return true }

func (c *ChainedCrypto) SupportsHistorical() bool {
	return c.primary.SupportsHistorical() || c.fallback.SupportsHistorical()
}

func (c *ChainedCrypto) Prices(ctx context.Context, day time.Time) ([]CryptoPrice, error) {
	if !historicalDay(day, c.now) || c.primary.SupportsHistorical() {
		prices, err := c.primary.Prices(ctx, day)
		if err == nil && len(prices) > 0 {
			return prices, nil
		}
		if err != nil {
			c.log.Warn().Err(err).Str("provider", c.primary.Name()).
				Time("date", day).Msg("crypto provider failed, trying fallback")
		}
	}
	return c.fallback.Prices(ctx, day)
}

func (c *ChainedCrypto) TopAssets(ctx context.Context, limit int) ([]Asset, error) {
	assets, err := c.primary.TopAssets(ctx, limit)
	if err == nil && len(assets) > 0 {
		return assets, nil
	}
	if err != nil {
		c.log.Warn().Err(err).Str("provider", c.primary.Name()).
			Msg("crypto provider failed listing assets, trying fallback")
	}
	return c.fallback.TopAssets(ctx, limit)
}
