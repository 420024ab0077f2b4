// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncCycles counts completed sync cycles by outcome
	// (success, partial, failed).
	SyncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricingd_sync_cycles_total",
		Help: "Completed sync cycles by outcome.",
	}, []string{"outcome"})

	// CycleDuration observes wall time per sync cycle.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricingd_sync_cycle_duration_seconds",
		Help:    "Duration of sync cycles.",
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
	})

	// RequiredSnapshots tracks how many snapshot dates the cadence ladder
	// currently demands, by tier.
	RequiredSnapshots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pricingd_required_snapshots",
		Help: "Snapshot dates required by the cadence ladder.",
	}, []string{"cadence"})

	// MissingSnapshots tracks how many required dates the store lacked at
	// the start of the last cycle.
	MissingSnapshots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricingd_missing_snapshots",
		Help: "Required snapshot dates absent from the store at cycle start.",
	})

	// SnapshotsSynced counts snapshot dates filled by the daemon.
	SnapshotsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricingd_snapshots_synced_total",
		Help: "Snapshot dates filled from any source.",
	})

	// MirrorBackfills counts objects uploaded to the remote cache by the
	// post-cycle backfill pass.
	MirrorBackfills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricingd_mirror_backfills_total",
		Help: "Snapshots backfilled into the remote cache.",
	}, []string{"class"})

	// TierHits counts which tier answered a snapshot ensure
	// (store, mirror, upstream).
	TierHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricingd_snapshot_tier_hits_total",
		Help: "Snapshot ensures answered, by asset class and tier.",
	}, []string{"class", "tier"})

	// ProviderErrors counts failed provider fetches by asset class.
	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricingd_provider_errors_total",
		Help: "Failed upstream provider fetches.",
	}, []string{"class"})
)
