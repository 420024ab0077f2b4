// Package snapshot layers the three pricing tiers behind one repository:
// PostgreSQL first, the Redis mirror second, the upstream providers last.
// Hits in an upper tier backfill the tiers below; every lookup resolves the
// requested calendar date to its cadence-effective date first.
package snapshot

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/hisabapp/pricingd/internal/cache"
	"github.com/hisabapp/pricingd/internal/cadence"
	"github.com/hisabapp/pricingd/internal/metrics"
	"github.com/hisabapp/pricingd/internal/provider"
	"github.com/hisabapp/pricingd/internal/rates"
	"github.com/hisabapp/pricingd/internal/store"
	"github.com/hisabapp/pricingd/internal/sync"
)

// Store is the slice of the persistence layer the repository reads and
// backfills.
type Store interface {
	FXSnapshot(ctx context.Context, day time.Time) (time.Time, map[string]float64, error)
	MetalSnapshot(ctx context.Context, day time.Time) (time.Time, map[string]float64, error)
	CryptoSnapshot(ctx context.Context, day time.Time, symbols []string) (time.Time, []store.CryptoQuote, error)
	UpsertFXRates(ctx context.Context, day time.Time, cad cadence.Cadence, rates []provider.FXRate) (int, error)
	UpsertMetalPrices(ctx context.Context, day time.Time, cad cadence.Cadence, prices []provider.MetalPrice) (int, error)
	UpsertCryptoPrices(ctx context.Context, day time.Time, cad cadence.Cadence, prices []provider.CryptoPrice) (int, error)
}

// Mirror is the shared remote snapshot cache.
type Mirror interface {
	Get(ctx context.Context, class string, cad cadence.Cadence, day time.Time) (*cache.Envelope, error)
	Put(ctx context.Context, class string, cad cadence.Cadence, day time.Time, source string, data interface{}) (string, error)
}

// Syncer fetches one date from the upstream providers into the store.
type Syncer interface {
	SyncDate(ctx context.Context, day time.Time, classes []string, cad cadence.Cadence) (sync.DateResult, error)
}

// CryptoInfo is one crypto quote in a snapshot view.
type CryptoInfo struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Rank  int     `json:"rank"`
}

// Availability reports which classes a snapshot date ended up covering.
type Availability struct {
	Date    time.Time       `json:"date"`
	Cadence cadence.Cadence `json:"cadence"`
	FX      bool            `json:"fx"`
	Metals  bool            `json:"metals"`
	Crypto  bool            `json:"crypto"`
}

// Repository resolves and serves snapshots across the three tiers.
type Repository struct {
	store  Store
	mirror Mirror // nil disables the remote tier
	syncer Syncer // nil disables the upstream tier
	log    zerolog.Logger
	now    func() time.Time
}

func NewRepository(st Store, mirror Mirror, syncer Syncer, log zerolog.Logger) *Repository {
	return &Repository{store: st, mirror: mirror, syncer: syncer, log: log, now: time.Now}
}

// Ensure makes the snapshot for the requested date exist in the local store,
// pulling from the mirror or upstream as needed. It resolves the requested
// date to its cadence-effective date first and never fails: classes that
// cannot be filled come back false.
func (r *Repository) Ensure(ctx context.Context, requested time.Time) Availability {
	effective, cad := cadence.Resolve(requested, r.now())

	return Availability{
		Date:    effective,
		Cadence: cad,
		FX:      r.EnsureFX(ctx, effective, cad) != nil,
		Metals:  r.EnsureMetals(ctx, effective, cad) != nil,
		Crypto:  r.EnsureCrypto(ctx, effective, cad) != nil,
	}
}

// EnsureFX returns the USD rate table for exactly this effective date,
// filling it from the mirror or upstream when the store misses. Returns nil
// when every tier fails.
func (r *Repository) EnsureFX(ctx context.Context, effective time.Time, cad cadence.Cadence) map[string]float64 {
	got, data, err := r.store.FXSnapshot(ctx, effective)
	if err != nil {
		r.log.Warn().Err(err).Time("date", effective).Msg("local fx lookup failed")
	} else if len(data) > 0 && got.Equal(effective) {
		metrics.TierHits.WithLabelValues(sync.ClassFX, "store").Inc()
		return data
	}

	if env := r.mirrorGet(ctx, sync.ClassFX, cad, effective); env != nil {
		var rates map[string]float64
		if err := json.Unmarshal(env.Data, &rates); err != nil {
			r.log.Warn().Err(err).Time("date", effective).Msg("bad fx envelope in mirror")
		} else if len(rates) > 0 {
			metrics.TierHits.WithLabelValues(sync.ClassFX, "mirror").Inc()
			r.storeFX(ctx, effective, cad, rates, envelopeSource(env))
			return rates
		}
	}

	if r.syncFromUpstream(ctx, sync.ClassFX, effective, cad) {
		if got, data, err := r.store.FXSnapshot(ctx, effective); err == nil && got.Equal(effective) {
			metrics.TierHits.WithLabelValues(sync.ClassFX, "upstream").Inc()
			r.mirrorPut(ctx, sync.ClassFX, cad, effective, data)
			return data
		}
	}

	r.log.Warn().Time("date", effective).Str("cadence", string(cad)).Msg("all fx sources failed")
	return nil
}

// EnsureMetals mirrors EnsureFX for metal prices (USD per gram).
func (r *Repository) EnsureMetals(ctx context.Context, effective time.Time, cad cadence.Cadence) map[string]float64 {
	got, data, err := r.store.MetalSnapshot(ctx, effective)
	if err != nil {
		r.log.Warn().Err(err).Time("date", effective).Msg("local metal lookup failed")
	} else if len(data) > 0 && got.Equal(effective) {
		metrics.TierHits.WithLabelValues(sync.ClassMetals, "store").Inc()
		return data
	}

	if env := r.mirrorGet(ctx, sync.ClassMetals, cad, effective); env != nil {
		var prices map[string]float64
		if err := json.Unmarshal(env.Data, &prices); err != nil {
			r.log.Warn().Err(err).Time("date", effective).Msg("bad metals envelope in mirror")
		} else if len(prices) > 0 {
			metrics.TierHits.WithLabelValues(sync.ClassMetals, "mirror").Inc()
			r.storeMetals(ctx, effective, cad, prices, envelopeSource(env))
			return prices
		}
	}

	if r.syncFromUpstream(ctx, sync.ClassMetals, effective, cad) {
		if got, data, err := r.store.MetalSnapshot(ctx, effective); err == nil && got.Equal(effective) {
			metrics.TierHits.WithLabelValues(sync.ClassMetals, "upstream").Inc()
			r.mirrorPut(ctx, sync.ClassMetals, cad, effective, data)
			return data
		}
	}

	r.log.Warn().Time("date", effective).Str("cadence", string(cad)).Msg("all metal sources failed")
	return nil
}

// EnsureCrypto mirrors EnsureFX for crypto quotes, keyed by symbol.
func (r *Repository) EnsureCrypto(ctx context.Context, effective time.Time, cad cadence.Cadence) map[string]CryptoInfo {
	got, quotes, err := r.store.CryptoSnapshot(ctx, effective, nil)
	if err != nil {
		r.log.Warn().Err(err).Time("date", effective).Msg("local crypto lookup failed")
	} else if len(quotes) > 0 && got.Equal(effective) {
		metrics.TierHits.WithLabelValues(sync.ClassCrypto, "store").Inc()
		return cryptoView(quotes, 1.0)
	}

	if env := r.mirrorGet(ctx, sync.ClassCrypto, cad, effective); env != nil {
		var coins map[string]CryptoInfo
		if err := json.Unmarshal(env.Data, &coins); err != nil {
			r.log.Warn().Err(err).Time("date", effective).Msg("bad crypto envelope in mirror")
		} else if len(coins) > 0 {
			metrics.TierHits.WithLabelValues(sync.ClassCrypto, "mirror").Inc()
			r.storeCrypto(ctx, effective, cad, coins, envelopeSource(env))
			return coins
		}
	}

	if r.syncFromUpstream(ctx, sync.ClassCrypto, effective, cad) {
		if got, quotes, err := r.store.CryptoSnapshot(ctx, effective, nil); err == nil && got.Equal(effective) {
			view := cryptoView(quotes, 1.0)
			metrics.TierHits.WithLabelValues(sync.ClassCrypto, "upstream").Inc()
			r.mirrorPut(ctx, sync.ClassCrypto, cad, effective, view)
			return view
		}
	}

	r.log.Warn().Time("date", effective).Str("cadence", string(cad)).Msg("all crypto sources failed")
	return nil
}

// mirrorGet reads the remote tier; failures degrade to a miss.
func (r *Repository) mirrorGet(ctx context.Context, class string, cad cadence.Cadence, day time.Time) *cache.Envelope {
	if r.mirror == nil {
		return nil
	}
	env, err := r.mirror.Get(ctx, class, cad, day)
	if err != nil {
		r.log.Warn().Err(err).Str("class", class).Time("date", day).Msg("mirror lookup failed")
		return nil
	}
	return env
}

// mirrorPut writes the remote tier best-effort after an upstream fetch.
func (r *Repository) mirrorPut(ctx context.Context, class string, cad cadence.Cadence, day time.Time, data interface{}) {
	if r.mirror == nil {
		return
	}
	if _, err := r.mirror.Put(ctx, class, cad, day, "upstream", data); err != nil {
		r.log.Warn().Err(err).Str("class", class).Time("date", day).Msg("failed to mirror snapshot")
	}
}

func (r *Repository) syncFromUpstream(ctx context.Context, class string, day time.Time, cad cadence.Cadence) bool {
	if r.syncer == nil {
		return false
	}
	res, err := r.syncer.SyncDate(ctx, day, []string{class}, cad)
	if err != nil {
		r.log.Warn().Err(err).Str("class", class).Time("date", day).Msg("upstream sync rejected")
		return false
	}
	return res.Results[class].Status == "success"
}

func envelopeSource(env *cache.Envelope) string {
	if env.Source != "" {
		return env.Source
	}
	return "mirror"
}

// storeFX backfills the local tier from mirror data; failures are logged,
// the caller still serves the data it has.
func (r *Repository) storeFX(ctx context.Context, day time.Time, cad cadence.Cadence, table map[string]float64, source string) {
	rows := make([]provider.FXRate, 0, len(table))
	for currency, rate := range table {
		rows = append(rows, provider.FXRate{Currency: currency, RateToUSD: rate, Source: source})
	}
	if _, err := r.store.UpsertFXRates(ctx, day, cad, rows); err != nil {
		r.log.Warn().Err(err).Time("date", day).Msg("failed to backfill fx from mirror")
	}
}

func (r *Repository) storeMetals(ctx context.Context, day time.Time, cad cadence.Cadence, table map[string]float64, source string) {
	rows := make([]provider.MetalPrice, 0, len(table))
	for metal, price := range table {
		rows = append(rows, provider.MetalPrice{Metal: metal, PricePerGramUSD: price, Source: source})
	}
	if _, err := r.store.UpsertMetalPrices(ctx, day, cad, rows); err != nil {
		r.log.Warn().Err(err).Time("date", day).Msg("failed to backfill metals from mirror")
	}
}

func (r *Repository) storeCrypto(ctx context.Context, day time.Time, cad cadence.Cadence, coins map[string]CryptoInfo, source string) {
	rows := make([]provider.CryptoPrice, 0, len(coins))
	for symbol, info := range coins {
		rows = append(rows, provider.CryptoPrice{
			Symbol:   symbol,
			Name:     info.Name,
			PriceUSD: info.Price,
			Rank:     info.Rank,
			Source:   source,
		})
	}
	if _, err := r.store.UpsertCryptoPrices(ctx, day, cad, rows); err != nil {
		r.log.Warn().Err(err).Time("date", day).Msg("failed to backfill crypto from mirror")
	}
}

func cryptoView(quotes []store.CryptoQuote, usdToBase float64) map[string]CryptoInfo {
	view := make(map[string]CryptoInfo, len(quotes))
	for _, q := range quotes {
		view[q.Symbol] = CryptoInfo{
			Name:  q.Name,
			Price: round2(q.PriceUSD * usdToBase),
			Rank:  q.Rank,
		}
	}
	return view
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

// FXView returns the cross-rate table for the most recent stored date on or
// before the requested date, converted to the given base currency. Each
// factor converts one unit of its currency into base. A zero effective date
// means no data.
func (r *Repository) FXView(ctx context.Context, day time.Time, base string) (time.Time, map[string]float64, error) {
	effective, usdRates, err := r.store.FXSnapshot(ctx, day)
	if err != nil || effective.IsZero() {
		return time.Time{}, nil, err
	}
	return effective, rates.CrossRates(usdRates, base), nil
}

// MetalsView returns per-gram metal prices converted to the base currency.
func (r *Repository) MetalsView(ctx context.Context, day time.Time, base string) (time.Time, map[string]float64, error) {
	effective, usdPrices, err := r.store.MetalSnapshot(ctx, day)
	if err != nil || effective.IsZero() {
		return time.Time{}, nil, err
	}

	usdToBase := r.usdToBase(ctx, day, base)
	view := make(map[string]float64, len(usdPrices))
	for metal, price := range usdPrices {
		view[metal] = round4(price * usdToBase)
	}
	return effective, view, nil
}

// CryptoView returns crypto quotes converted to the base currency, optionally
// filtered by symbol.
func (r *Repository) CryptoView(ctx context.Context, day time.Time, base string, symbols []string) (time.Time, map[string]CryptoInfo, error) {
	effective, quotes, err := r.store.CryptoSnapshot(ctx, day, symbols)
	if err != nil || effective.IsZero() {
		return time.Time{}, nil, err
	}
	return effective, cryptoView(quotes, r.usdToBase(ctx, day, base)), nil
}

// usdToBase is the factor converting USD amounts into base. Missing FX data
// degrades to 1.0 so USD views keep working.
func (r *Repository) usdToBase(ctx context.Context, day time.Time, base string) float64 {
	if base == "" || base == "USD" {
		return 1.0
	}
	_, factors, err := r.FXView(ctx, day, base)
	if err != nil || factors == nil {
		return 1.0
	}
	if f, ok := factors["USD"]; ok && f > 0 {
		return f
	}
	return 1.0
}
