// Package sync pulls pricing data from the provider chains and lands it in
// the persistent store, one date and asset class at a time. Provider
// failures are downgraded to per-class results; a sync never aborts the
// caller's loop.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hisabapp/pricingd/internal/cadence"
	"github.com/hisabapp/pricingd/internal/metrics"
	"github.com/hisabapp/pricingd/internal/provider"
	"github.com/hisabapp/pricingd/internal/store"
)

// Asset class identifiers as stored in sync_log.data_type.
const (
	ClassFX     = "fx"
	ClassMetals = "metals"
	ClassCrypto = "crypto"
)

// AllClasses lists every syncable asset class in sync order.
var AllClasses = []string{ClassFX, ClassMetals, ClassCrypto}

// Store is the slice of the persistence layer the sync service writes to.
type Store interface {
	UpsertFXRates(ctx context.Context, day time.Time, cad cadence.Cadence, rates []provider.FXRate) (int, error)
	UpsertMetalPrices(ctx context.Context, day time.Time, cad cadence.Cadence, prices []provider.MetalPrice) (int, error)
	UpsertCryptoPrices(ctx context.Context, day time.Time, cad cadence.Cadence, prices []provider.CryptoPrice) (int, error)
	UpsertCryptoAssets(ctx context.Context, assets []provider.Asset) (int, error)
	AppendSyncLog(ctx context.Context, e store.SyncLogEntry) error
}

// ClassResult is the outcome for one asset class on one date.
type ClassResult struct {
	Status   string `json:"status"`
	Records  int    `json:"records"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DateResult is the outcome of syncing one date.
type DateResult struct {
	Date    time.Time              `json:"date"`
	Cadence cadence.Cadence        `json:"cadence"`
	Results map[string]ClassResult `json:"results"`
	// Success means every requested class succeeded.
	Success bool `json:"success"`
}

// Synced reports whether at least one class landed. A date with one good
// class still counts as covered.
func (r DateResult) Synced() bool {
	for _, cr := range r.Results {
		if cr.Status == "success" {
			return true
		}
	}
	return false
}

// ClassSummary aggregates one class over a range sync.
type ClassSummary struct {
	Provider       string   `json:"provider"`
	Status         string   `json:"status"`
	DatesRequested int      `json:"dates_requested"`
	DatesSynced    int      `json:"dates_synced"`
	RecordsAdded   int      `json:"records_added"`
	Errors         []string `json:"errors,omitempty"`
}

// RangeResult is the outcome of syncing a date range.
type RangeResult struct {
	Classes map[string]*ClassSummary `json:"classes"`
	Success bool                     `json:"success"`
}

// ErrSyncDisabled is returned when network sync is switched off by
// configuration.
var ErrSyncDisabled = fmt.Errorf("network sync is disabled")

// Service syncs provider data into the store.
type Service struct {
	providers *provider.Registry
	store     Store
	log       zerolog.Logger
	enabled   bool
}

func NewService(providers *provider.Registry, st Store, enabled bool, log zerolog.Logger) *Service {
	return &Service{providers: providers, store: st, log: log, enabled: enabled}
}

// CanSync reports whether network sync is allowed.
func (s *Service) CanSync() bool { return s.enabled }

// SyncDate syncs one date across the requested classes (nil means all),
// tagging stored rows with the given cadence. Each class gets its own
// result; provider failures never surface as an error.
func (s *Service) SyncDate(ctx context.Context, day time.Time, classes []string, cad cadence.Cadence) (DateResult, error) {
	return s.syncDate(ctx, uuid.NewString(), day, classes, cad)
}

func (s *Service) syncDate(ctx context.Context, runID string, day time.Time, classes []string, cad cadence.Cadence) (DateResult, error) {
	res := DateResult{Date: day, Cadence: cad, Results: map[string]ClassResult{}}
	if !s.enabled {
		return res, ErrSyncDisabled
	}
	if len(classes) == 0 {
		classes = AllClasses
	}

	for _, class := range classes {
		var cr ClassResult
		switch class {
		case ClassFX:
			cr = s.syncFX(ctx, day, cad)
		case ClassMetals:
			cr = s.syncMetals(ctx, day, cad)
		case ClassCrypto:
			cr = s.syncCrypto(ctx, day, cad)
		default:
			return res, fmt.Errorf("unknown asset class %q", class)
		}
		res.Results[class] = cr
		s.logSync(ctx, runID, day, class, cad, cr)
	}

	res.Success = true
	for _, cr := range res.Results {
		if cr.Status != "success" {
			res.Success = false
			break
		}
	}
	return res, nil
}

// SyncRange walks [start, end] day by day, summarizing per class. One run ID
// ties the whole range together in sync_log.
func (s *Service) SyncRange(ctx context.Context, start, end time.Time, classes []string, cad cadence.Cadence) (RangeResult, error) {
	if !s.enabled {
		return RangeResult{}, ErrSyncDisabled
	}
	if len(classes) == 0 {
		classes = AllClasses
	}

	runID := uuid.NewString()
	out := RangeResult{Classes: map[string]*ClassSummary{}}
	for _, class := range classes {
		out.Classes[class] = &ClassSummary{}
	}

	for day := cadence.Midnight(start); !day.After(cadence.Midnight(end)); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		dr, err := s.syncDate(ctx, runID, day, classes, cad)
		if err != nil {
			return out, err
		}
		for class, cr := range dr.Results {
			sum := out.Classes[class]
			sum.DatesRequested++
			sum.Provider = cr.Provider
			if cr.Status == "success" {
				sum.DatesSynced++
				sum.RecordsAdded += cr.Records
			} else if cr.Error != "" {
				sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %s", day.Format("2006-01-02"), cr.Error))
			}
		}
	}

	out.Success = true
	for _, sum := range out.Classes {
		switch {
		case sum.DatesSynced == sum.DatesRequested:
			sum.Status = "success"
		case sum.DatesSynced > 0:
			sum.Status = "partial"
		default:
			sum.Status = "failed"
			out.Success = false
		}
	}
	return out, nil
}

// RefreshAssets updates the crypto asset catalog from the provider's
// top-assets listing.
func (s *Service) RefreshAssets(ctx context.Context, limit int) (int, error) {
	if !s.enabled {
		return 0, ErrSyncDisabled
	}

	assets, err := s.providers.Crypto.TopAssets(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list top assets: %w", err)
	}
	if len(assets) == 0 {
		return 0, nil
	}
	return s.store.UpsertCryptoAssets(ctx, assets)
}

func (s *Service) syncFX(ctx context.Context, day time.Time, cad cadence.Cadence) ClassResult {
	name := s.providers.FX.Name()
	rates, err := s.providers.FX.Rates(ctx, day)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(ClassFX).Inc()
		return ClassResult{Status: "failed", Provider: name, Error: err.Error()}
	}
	if len(rates) == 0 {
		return ClassResult{Status: "failed", Provider: name, Error: "no rates returned"}
	}
	name = rates[0].Source

	n, err := s.store.UpsertFXRates(ctx, day, cad, rates)
	if err != nil {
		return ClassResult{Status: "failed", Provider: name, Error: err.Error()}
	}
	return ClassResult{Status: "success", Provider: name, Records: n}
}

func (s *Service) syncMetals(ctx context.Context, day time.Time, cad cadence.Cadence) ClassResult {
	name := s.providers.Metals.Name()
	prices, err := s.providers.Metals.Prices(ctx, day)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(ClassMetals).Inc()
		return ClassResult{Status: "failed", Provider: name, Error: err.Error()}
	}
	if len(prices) == 0 {
		return ClassResult{Status: "failed", Provider: name, Error: "no prices returned"}
	}
	name = prices[0].Source

	n, err := s.store.UpsertMetalPrices(ctx, day, cad, prices)
	if err != nil {
		return ClassResult{Status: "failed", Provider: name, Error: err.Error()}
	}
	return ClassResult{Status: "success", Provider: name, Records: n}
}

func (s *Service) syncCrypto(ctx context.Context, day time.Time, cad cadence.Cadence) ClassResult {
	name := s.providers.Crypto.Name()
	prices, err := s.providers.Crypto.Prices(ctx, day)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(ClassCrypto).Inc()
		return ClassResult{Status: "failed", Provider: name, Error: err.Error()}
	}
	if len(prices) == 0 {
		return ClassResult{Status: "failed", Provider: name, Error: "no prices returned"}
	}
	name = prices[0].Source

	n, err := s.store.UpsertCryptoPrices(ctx, day, cad, prices)
	if err != nil {
		return ClassResult{Status: "failed", Provider: name, Error: err.Error()}
	}
	return ClassResult{Status: "success", Provider: name, Records: n}
}

// logSync records the attempt; a failed log write is worth a warning, not a
// failed sync.
func (s *Service) logSync(ctx context.Context, runID string, day time.Time, class string, cad cadence.Cadence, cr ClassResult) {
	err := s.store.AppendSyncLog(ctx, store.SyncLogEntry{
		RunID:    runID,
		Date:     day,
		DataType: class,
		Provider: cr.Provider,
		Status:   cr.Status,
		Records:  cr.Records,
		Error:    cr.Error,
		Cadence:  cad,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("class", class).Time("date", day).Msg("failed to append sync log")
	}
}
