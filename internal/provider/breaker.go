package provider

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    2 * time.Minute,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// BreakerFX shields an upstream FX provider behind a circuit breaker so a
// dead API stops eating the daemon's request budget during backfill.
type BreakerFX struct {
	inner FXProvider
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerFX(inner FXProvider) *BreakerFX {
	return &BreakerFX{inner: inner, cb: newBreaker(inner.Name())}
}

func (b *BreakerFX) Name() string             { return b.inner.Name() }
func (b *BreakerFX) RequiresAPIKey() bool     { return b.inner.RequiresAPIKey() }
func (b *BreakerFX) IsConfigured() bool       { return b.inner.IsConfigured() }
func (b *BreakerFX) SupportsHistorical() bool { return b.inner.SupportsHistorical() }

func (b *BreakerFX) Rates(ctx context.Context, day time.Time) ([]FXRate, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Rates(ctx, day)
	})
	if err != nil {
		return nil, classifyBreakerErr(err)
	}
	return out.([]FXRate), nil
}

// BreakerMetal shields an upstream metal provider behind a circuit breaker.
type BreakerMetal struct {
	inner MetalProvider
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerMetal(inner MetalProvider) *BreakerMetal {
	return &BreakerMetal{inner: inner, cb: newBreaker(inner.Name())}
}

func (b *BreakerMetal) Name() string             { return b.inner.Name() }
func (b *BreakerMetal) RequiresAPIKey() bool     { return b.inner.RequiresAPIKey() }
func (b *BreakerMetal) IsConfigured() bool       { return b.inner.IsConfigured() }
func (b *BreakerMetal) SupportsHistorical() bool { return b.inner.SupportsHistorical() }

func (b *BreakerMetal) Prices(ctx context.Context, day time.Time) ([]MetalPrice, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Prices(ctx, day)
	})
	if err != nil {
		return nil, classifyBreakerErr(err)
	}
	return out.([]MetalPrice), nil
}

// BreakerCrypto shields an upstream crypto provider behind a circuit breaker.
type BreakerCrypto struct {
	inner CryptoProvider
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerCrypto(inner CryptoProvider) *BreakerCrypto {
	return &BreakerCrypto{inner: inner, cb: newBreaker(inner.Name())}
}

func (b *BreakerCrypto) Name() string             { return b.inner.Name() }
func (b *BreakerCrypto) RequiresAPIKey() bool     { return b.inner.RequiresAPIKey() }
func (b *BreakerCrypto) IsConfigured() bool       { return b.inner.IsConfigured() }
func (b *BreakerCrypto) SupportsHistorical() bool { return b.inner.SupportsHistorical() }

func (b *BreakerCrypto) Prices(ctx context.Context, day time.Time) ([]CryptoPrice, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Prices(ctx, day)
	})
	if err != nil {
		return nil, classifyBreakerErr(err)
	}
	return out.([]CryptoPrice), nil
}

func (b *BreakerCrypto) TopAssets(ctx context.Context, limit int) ([]Asset, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.TopAssets(ctx, limit)
	})
	if err != nil {
		return nil, classifyBreakerErr(err)
	}
	return out.([]Asset), nil
}

// classifyBreakerErr folds the breaker's own open/half-open rejections into
// the provider taxonomy so callers see one error surface.
func classifyBreakerErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return ErrRateLimited
	}
	return err
}
