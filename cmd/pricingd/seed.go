package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hisabapp/pricingd/internal/seed"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import historical snapshots from a seed directory",
		Long: `Imports fx.csv, metals.csv, and crypto.csv from the given directory.
When a version is supplied it is recorded in the meta table and re-running
the same version is a no-op.`,
		RunE: runSeed,
	}

	cmd.Flags().String("dir", "", "Directory holding the seed CSV files (required)")
	cmd.Flags().String("seed-version", "", "Version tag for this seed data set")
	cmd.MarkFlagRequired("dir")
	return cmd
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	dir, _ := cmd.Flags().GetString("dir")
	seedVersion, _ := cmd.Flags().GetString("seed-version")

	res, err := seed.NewImporter(st, log.Logger).ApplyDir(ctx, dir, seedVersion)
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Printf("seed version %s already applied\n", seedVersion)
		return nil
	}
	fmt.Printf("imported %d fx rates, %d metal prices, %d crypto prices\n",
		res.FXRates, res.MetalPrices, res.CryptoPrices)
	return nil
}
