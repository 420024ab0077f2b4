package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hisabapp/pricingd/internal/cadence"
	"github.com/hisabapp/pricingd/internal/provider"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state, data coverage, and provider selection",
		RunE:  runStatus,
	}
	cmd.Flags().Int("log-limit", 10, "Recent sync log entries to include")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	state, err := st.GetDaemonState(ctx)
	if err != nil {
		return err
	}
	coverage, err := st.DataCoverage(ctx)
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("log-limit")
	recent, err := st.RecentSyncLog(ctx, limit)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read sync log")
	}

	today := cadence.Midnight(time.Now())
	reg := provider.NewRegistry(cfg.Providers.Keys(), log.Logger)
	required := cadence.RequiredAll(today, cfg.Scheduler.IncludeMonthly, cfg.Scheduler.MonthlyLimit)

	return printJSON(map[string]interface{}{
		"version":            version,
		"sync_enabled":       cfg.SyncEnabled,
		"redis_enabled":      cfg.Redis.Enabled(),
		"daemon":             state,
		"coverage":           coverage,
		"providers":          reg.Statuses(),
		"required_snapshots": len(required),
		"tiers":              cadence.TierBoundaries(today),
		"recent_sync_log":    recent,
	})
}
