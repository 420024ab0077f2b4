// Package provider wraps the upstream pricing APIs behind one uniform
// interface per asset class, with chained fallback and classified errors.
package provider

import (
	"context"
	"errors"
	"time"
)

// Classified provider failures. Adapters raise nothing else; callers
// downgrade all of them to "this source has no answer".
var (
	// ErrRateLimited signals upstream throttling (HTTP 429).
	ErrRateLimited = errors.New("provider rate limit exceeded")
	// ErrAuthentication signals a bad or missing API key (HTTP 401/403).
	ErrAuthentication = errors.New("provider authentication failed")
	// ErrNetwork signals connectivity problems or timeouts.
	ErrNetwork = errors.New("provider network error")
	// ErrBadResponse signals a malformed or unexpected API payload.
	ErrBadResponse = errors.New("provider returned bad response")
)

// IsClassified reports whether err belongs to the provider failure taxonomy.
func IsClassified(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrBadResponse)
}

// FXRate is one priced currency: 1 USD = RateToUSD units of Currency.
type FXRate struct {
	Currency  string
	RateToUSD float64
	Source    string
}

// MetalPrice is one priced metal in USD per gram.
type MetalPrice struct {
	Metal           string
	PricePerGramUSD float64
	Source          string
}

// CryptoPrice is one priced crypto asset in USD per coin.
type CryptoPrice struct {
	Symbol   string
	Name     string
	PriceUSD float64
	Rank     int
	Source   string
}

// Asset is a catalog entry from a top-assets listing.
type Asset struct {
	Symbol string
	Name   string
	Rank   int
}

// FXProvider fetches FX rates for a calendar date.
type FXProvider interface {
	Name() string
	RequiresAPIKey() bool
	IsConfigured() bool
	// SupportsHistorical reports whether the adapter can serve dates in the
	// past; latest-only free tiers return false.
	SupportsHistorical() bool
	Rates(ctx context.Context, day time.Time) ([]FXRate, error)
}

// MetalProvider fetches precious metal prices for a calendar date.
type MetalProvider interface {
	Name() string
	RequiresAPIKey() bool
	IsConfigured() bool
	SupportsHistorical() bool
	Prices(ctx context.Context, day time.Time) ([]MetalPrice, error)
}

// CryptoProvider fetches cryptocurrency prices for a calendar date.
type CryptoProvider interface {
	Name() string
	RequiresAPIKey() bool
	IsConfigured() bool
	SupportsHistorical() bool
	Prices(ctx context.Context, day time.Time) ([]CryptoPrice, error)
	TopAssets(ctx context.Context, limit int) ([]Asset, error)
}

// TroyOunceGrams converts troy-ounce quotes into per-gram prices.
const TroyOunceGrams = 31.1035
