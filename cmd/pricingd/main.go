package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hisabapp/pricingd/internal/cache"
	"github.com/hisabapp/pricingd/internal/config"
	"github.com/hisabapp/pricingd/internal/provider"
	"github.com/hisabapp/pricingd/internal/store"
	"github.com/hisabapp/pricingd/internal/sync"
)

const (
	appName = "pricingd"
	version = "1.0.0"
)

var (
	cfgPath string
	cfg     config.Config
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Pricing snapshot daemon for FX, metal, and crypto prices",
		Version: version,
		Long: `pricingd keeps a local PostgreSQL mirror of FX rates, precious metal
prices, and crypto quotes on a 3-tier cadence: daily snapshots for the last
30 days, weekly Mondays for the 60 days before that, and monthly first-of-month
snapshots back to January 2000. A shared Redis mirror lets instances fill
gaps from each other before falling back to the upstream providers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}
			lvl, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(lvl)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file")

	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg(appName + " failed")
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, cfg.Database)
}

// openMirror returns the Redis snapshot cache, or nil when Redis is not
// configured.
func openMirror() *cache.Cache {
	if !cfg.Redis.Enabled() {
		return nil
	}
	return cache.New(cfg.Redis)
}

func newSyncService(st *store.Store) *sync.Service {
	reg := provider.NewRegistry(cfg.Providers.Keys(), log.Logger)
	return sync.NewService(reg, st, cfg.SyncEnabled, log.Logger)
}
