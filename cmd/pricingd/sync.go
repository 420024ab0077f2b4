package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hisabapp/pricingd/internal/cadence"
	"github.com/hisabapp/pricingd/internal/sync"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync pricing data for a date or range",
		Long: `Fetches FX rates, metal prices, and crypto quotes from the upstream
providers and stores them. With no flags it syncs today. Dates are resolved
against the cadence ladder, so a request deep in the past lands on its weekly
or monthly snapshot date.`,
		RunE: runSync,
	}

	cmd.Flags().String("date", "", "Single date to sync (YYYY-MM-DD, default today)")
	cmd.Flags().String("from", "", "Range start (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Range end (YYYY-MM-DD, default today)")
	cmd.Flags().StringSlice("classes", nil, "Asset classes to sync (fx,metals,crypto; default all)")
	cmd.Flags().Bool("assets", false, "Refresh the crypto asset catalog instead of price data")
	cmd.Flags().Int("top", 100, "Asset catalog size for --assets")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := newSyncService(st)

	if refresh, _ := cmd.Flags().GetBool("assets"); refresh {
		top, _ := cmd.Flags().GetInt("top")
		n, err := svc.RefreshAssets(ctx, top)
		if err != nil {
			return err
		}
		fmt.Printf("refreshed %d crypto assets\n", n)
		return nil
	}

	classes, _ := cmd.Flags().GetStringSlice("classes")
	for _, class := range classes {
		switch class {
		case sync.ClassFX, sync.ClassMetals, sync.ClassCrypto:
		default:
			return fmt.Errorf("unknown asset class %q (want %s)", class, strings.Join(sync.AllClasses, ", "))
		}
	}

	today := cadence.Midnight(time.Now())

	if from, _ := cmd.Flags().GetString("from"); from != "" {
		start, err := parseDay(from)
		if err != nil {
			return err
		}
		end := today
		if to, _ := cmd.Flags().GetString("to"); to != "" {
			if end, err = parseDay(to); err != nil {
				return err
			}
		}
		if end.Before(start) {
			return fmt.Errorf("range end %s is before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
		}

		res, err := svc.SyncRange(ctx, start, end, classes, cadence.Daily)
		if err != nil {
			return err
		}
		return printJSON(res)
	}

	day := today
	if date, _ := cmd.Flags().GetString("date"); date != "" {
		if day, err = parseDay(date); err != nil {
			return err
		}
	}
	effective, cad := cadence.Resolve(day, today)

	res, err := svc.SyncDate(ctx, effective, classes, cad)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func parseDay(s string) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return day, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
