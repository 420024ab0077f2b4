// Package scheduler runs the background sync daemon: compute the required
// snapshot ladder, find the dates the store lacks, fill each through the
// snapshot repository, persist the daemon state, and backfill the remote
// mirror. A cycle can fail; the daemon does not.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hisabapp/pricingd/internal/cadence"
	"github.com/hisabapp/pricingd/internal/metrics"
	"github.com/hisabapp/pricingd/internal/snapshot"
	"github.com/hisabapp/pricingd/internal/store"
	"github.com/hisabapp/pricingd/internal/sync"
)

// maxReportedErrors caps how many per-date errors land in daemon_state.
const maxReportedErrors = 5

// stopCheckInterval bounds how long a stop request waits during the
// between-cycle sleep.
const stopCheckInterval = 30 * time.Second

// startupDelay lets the process finish wiring before the first cycle.
const startupDelay = 10 * time.Second

// Repo fills one effective date per asset class.
type Repo interface {
	EnsureFX(ctx context.Context, effective time.Time, cad cadence.Cadence) map[string]float64
	EnsureMetals(ctx context.Context, effective time.Time, cad cadence.Cadence) map[string]float64
	EnsureCrypto(ctx context.Context, effective time.Time, cad cadence.Cadence) map[string]snapshot.CryptoInfo
}

// Store is the slice of persistence the daemon reads and updates.
type Store interface {
	HasSnapshot(ctx context.Context, day time.Time) (bool, error)
	FXSnapshot(ctx context.Context, day time.Time) (time.Time, map[string]float64, error)
	MetalSnapshot(ctx context.Context, day time.Time) (time.Time, map[string]float64, error)
	CryptoSnapshot(ctx context.Context, day time.Time, symbols []string) (time.Time, []store.CryptoQuote, error)
	PutDaemonState(ctx context.Context, st store.DaemonState) error
}

// Mirror is the remote cache surface the backfill pass writes to.
type Mirror interface {
	Has(ctx context.Context, class string, cad cadence.Cadence, day time.Time) (bool, error)
	Put(ctx context.Context, class string, cad cadence.Cadence, day time.Time, source string, data interface{}) (string, error)
}

// Config tunes the daemon loop.
type Config struct {
	Interval       time.Duration `yaml:"interval" env:"PRICING_SYNC_INTERVAL"`
	IncludeMonthly bool          `yaml:"include_monthly" env:"PRICING_INCLUDE_MONTHLY"`
	// MonthlyLimit caps monthly backfill per cycle; 0 syncs all the way
	// back to the epoch.
	MonthlyLimit int    `yaml:"monthly_limit" env:"PRICING_MONTHLY_LIMIT"`
	Version      string `yaml:"-"`
}

// DefaultConfig returns the stock daemon cadence.
func DefaultConfig() Config {
	return Config{Interval: 6 * time.Hour, IncludeMonthly: true}
}

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	Required int
	Missing  int
	Synced   int
	Errors   []string
	Outcome  string
}

// Orchestrator drives the periodic sync.
type Orchestrator struct {
	repo   Repo
	store  Store
	mirror Mirror // nil disables backfill
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

func New(repo Repo, st Store, mirror Mirror, cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	return &Orchestrator{repo: repo, store: st, mirror: mirror, cfg: cfg, log: log, now: time.Now}
}

// Run loops until ctx is cancelled. Stop requests are honored within
// stopCheckInterval even mid-sleep.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info().
		Dur("interval", o.cfg.Interval).
		Bool("include_monthly", o.cfg.IncludeMonthly).
		Int("monthly_limit", o.cfg.MonthlyLimit).
		Msg("sync daemon starting")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(startupDelay):
	}

	for {
		res := o.RunCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.log.Info().
			Int("required", res.Required).
			Int("missing", res.Missing).
			Int("synced", res.Synced).
			Int("errors", len(res.Errors)).
			Str("outcome", res.Outcome).
			Msg("sync cycle complete")

		next := o.now().Add(o.cfg.Interval)
		o.log.Info().Time("next_sync", next).Msg("sleeping until next cycle")
		if err := o.sleepUntil(ctx, next); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) sleepUntil(ctx context.Context, next time.Time) error {
	for o.now().Before(next) {
		wait := stopCheckInterval
		if remaining := next.Sub(o.now()); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// RunCycle executes one sync cycle and records its outcome in daemon_state.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleResult {
	started := o.now()
	defer func() {
		metrics.CycleDuration.Observe(o.now().Sub(started).Seconds())
	}()

	today := started.UTC()
	required := cadence.RequiredAll(today, o.cfg.IncludeMonthly, o.cfg.MonthlyLimit)

	tiers := map[cadence.Cadence]int{}
	for _, snap := range required {
		tiers[snap.Cadence]++
	}
	for cad, n := range tiers {
		metrics.RequiredSnapshots.WithLabelValues(string(cad)).Set(float64(n))
	}

	missing := o.findMissing(ctx, required)
	metrics.MissingSnapshots.Set(float64(len(missing)))
	o.log.Info().
		Int("required", len(required)).
		Int("missing", len(missing)).
		Msg("computed snapshot ladder")

	res := CycleResult{Required: len(required), Missing: len(missing)}

	for _, snap := range missing {
		if ctx.Err() != nil {
			break
		}

		fxOK := o.repo.EnsureFX(ctx, snap.Date, snap.Cadence) != nil
		metalsOK := o.repo.EnsureMetals(ctx, snap.Date, snap.Cadence) != nil
		cryptoOK := o.repo.EnsureCrypto(ctx, snap.Date, snap.Cadence) != nil

		// One good class still makes the date count as covered.
		if fxOK || metalsOK || cryptoOK {
			res.Synced++
			metrics.SnapshotsSynced.Inc()
			o.log.Debug().
				Time("date", snap.Date).
				Str("cadence", string(snap.Cadence)).
				Bool("fx", fxOK).Bool("metals", metalsOK).Bool("crypto", cryptoOK).
				Msg("snapshot ensured")
		} else {
			res.Errors = append(res.Errors,
				fmt.Sprintf("%s: all sources failed", snap.Date.Format("2006-01-02")))
		}
	}

	switch {
	case len(res.Errors) == 0:
		res.Outcome = "success"
	case res.Synced > 0:
		res.Outcome = "partial"
	default:
		res.Outcome = "failed"
	}
	metrics.SyncCycles.WithLabelValues(res.Outcome).Inc()

	o.persistState(ctx, res)
	o.backfillMirror(ctx, required)
	return res
}

func (o *Orchestrator) findMissing(ctx context.Context, required []cadence.Snapshot) []cadence.Snapshot {
	var missing []cadence.Snapshot
	for _, snap := range required {
		if ctx.Err() != nil {
			break
		}
		ok, err := o.store.HasSnapshot(ctx, snap.Date)
		if err != nil {
			o.log.Warn().Err(err).Time("date", snap.Date).Msg("presence check failed, treating as missing")
			missing = append(missing, snap)
			continue
		}
		if !ok {
			missing = append(missing, snap)
		}
	}
	return missing
}

func (o *Orchestrator) persistState(ctx context.Context, res CycleResult) {
	now := o.now().UTC()
	next := now.Add(o.cfg.Interval)

	var errSummary string
	if len(res.Errors) > 0 {
		capped := res.Errors
		if len(capped) > maxReportedErrors {
			capped = capped[:maxReportedErrors]
		}
		errSummary = strings.Join(capped, "; ")
	}

	err := o.store.PutDaemonState(ctx, store.DaemonState{
		LastSyncAt:      &now,
		LastSyncResult:  res.Outcome,
		LastError:       errSummary,
		NextSyncAt:      &next,
		SnapshotsSynced: res.Synced,
		DaemonVersion:   o.cfg.Version,
	})
	if err != nil {
		o.log.Warn().Err(err).Msg("failed to persist daemon state")
	}
}

// backfillMirror uploads snapshots the store has but the mirror lacks.
// Ensures write through on fetch, but data synced before the mirror was
// configured, or while it was down, exists only locally until this pass.
func (o *Orchestrator) backfillMirror(ctx context.Context, required []cadence.Snapshot) {
	if o.mirror == nil {
		return
	}

	const source = "backfill"
	uploaded := 0
	for _, snap := range required {
		if ctx.Err() != nil {
			break
		}

		effective, fxData, err := o.store.FXSnapshot(ctx, snap.Date)
		if err != nil || !effective.Equal(snap.Date) || len(fxData) == 0 {
			continue
		}

		if ok, err := o.mirror.Has(ctx, sync.ClassFX, snap.Cadence, snap.Date); err != nil {
			o.log.Warn().Err(err).Time("date", snap.Date).Msg("mirror check failed, skipping backfill")
			continue
		} else if !ok {
			if _, err := o.mirror.Put(ctx, sync.ClassFX, snap.Cadence, snap.Date, source, fxData); err != nil {
				o.log.Warn().Err(err).Time("date", snap.Date).Msg("fx backfill failed")
			} else {
				uploaded++
				metrics.MirrorBackfills.WithLabelValues(sync.ClassFX).Inc()
			}
		}

		if effective, metals, err := o.store.MetalSnapshot(ctx, snap.Date); err == nil && effective.Equal(snap.Date) && len(metals) > 0 {
			if ok, err := o.mirror.Has(ctx, sync.ClassMetals, snap.Cadence, snap.Date); err == nil && !ok {
				if _, err := o.mirror.Put(ctx, sync.ClassMetals, snap.Cadence, snap.Date, source, metals); err != nil {
					o.log.Warn().Err(err).Time("date", snap.Date).Msg("metals backfill failed")
				} else {
					metrics.MirrorBackfills.WithLabelValues(sync.ClassMetals).Inc()
				}
			}
		}

		if effective, quotes, err := o.store.CryptoSnapshot(ctx, snap.Date, nil); err == nil && effective.Equal(snap.Date) && len(quotes) > 0 {
			if ok, err := o.mirror.Has(ctx, sync.ClassCrypto, snap.Cadence, snap.Date); err == nil && !ok {
				coins := make(map[string]snapshot.CryptoInfo, len(quotes))
				for _, q := range quotes {
					coins[q.Symbol] = snapshot.CryptoInfo{Name: q.Name, Price: q.PriceUSD, Rank: q.Rank}
				}
				if _, err := o.mirror.Put(ctx, sync.ClassCrypto, snap.Cadence, snap.Date, source, coins); err != nil {
					o.log.Warn().Err(err).Time("date", snap.Date).Msg("crypto backfill failed")
				} else {
					metrics.MirrorBackfills.WithLabelValues(sync.ClassCrypto).Inc()
				}
			}
		}
	}

	if uploaded > 0 {
		o.log.Info().Int("uploaded", uploaded).Msg("mirror backfill complete")
	}
}
