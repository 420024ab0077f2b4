// Package seed imports historical pricing snapshots from CSV exports so a
// fresh database starts with coverage instead of waiting for the backfill to
// walk the monthly ladder. A seed directory carries a version; applying the
// same version twice is a no-op.
package seed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/hisabapp/pricingd/internal/cadence"
	"github.com/hisabapp/pricingd/internal/provider"
)

// MetaKey is the meta table key recording the applied seed version.
const MetaKey = "seed_version"

const dateFormat = "2006-01-02"

// Store is the persistence surface the importer writes through.
type Store interface {
	UpsertFXRates(ctx context.Context, day time.Time, cad cadence.Cadence, rates []provider.FXRate) (int, error)
	UpsertMetalPrices(ctx context.Context, day time.Time, cad cadence.Cadence, prices []provider.MetalPrice) (int, error)
	UpsertCryptoPrices(ctx context.Context, day time.Time, cad cadence.Cadence, prices []provider.CryptoPrice) (int, error)
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Importer loads seed CSVs into the store.
type Importer struct {
	store Store
	log   zerolog.Logger
}

func NewImporter(st Store, log zerolog.Logger) *Importer {
	return &Importer{store: st, log: log}
}

// Result counts what an import run wrote.
type Result struct {
	FXRates      int
	MetalPrices  int
	CryptoPrices int
	Skipped      bool
}

// ApplyDir imports fx.csv, metals.csv, and crypto.csv from dir. Missing files
// are skipped. When version matches the recorded seed version the whole run
// is skipped.
func (im *Importer) ApplyDir(ctx context.Context, dir, version string) (Result, error) {
	var res Result

	if version != "" {
		applied, err := im.store.GetMeta(ctx, MetaKey)
		if err != nil {
			return res, fmt.Errorf("failed to read seed version: %w", err)
		}
		if applied == version {
			im.log.Info().Str("version", version).Msg("seed already applied")
			res.Skipped = true
			return res, nil
		}
	}

	imports := []struct {
		file string
		run  func(context.Context, io.Reader) (int, error)
		dst  *int
	}{
		{"fx.csv", im.ImportFX, &res.FXRates},
		{"metals.csv", im.ImportMetals, &res.MetalPrices},
		{"crypto.csv", im.ImportCrypto, &res.CryptoPrices},
	}

	for _, imp := range imports {
		path := filepath.Join(dir, imp.file)
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("failed to open %s: %w", path, err)
		}

		n, err := imp.run(ctx, f)
		f.Close()
		if err != nil {
			return res, fmt.Errorf("failed to import %s: %w", imp.file, err)
		}
		*imp.dst = n
		im.log.Info().Str("file", imp.file).Int("records", n).Msg("seed file imported")
	}

	if version != "" {
		if err := im.store.SetMeta(ctx, MetaKey, version); err != nil {
			return res, fmt.Errorf("failed to record seed version: %w", err)
		}
	}
	return res, nil
}

// ImportFX reads rows of date,currency,rate_to_usd[,snapshot_type] and
// upserts them grouped per date.
func (im *Importer) ImportFX(ctx context.Context, r io.Reader) (int, error) {
	return im.importRows(ctx, r, 3, func(ctx context.Context, day time.Time, cad cadence.Cadence, rows [][]string) (int, error) {
		rates := make([]provider.FXRate, 0, len(rows))
		for _, row := range rows {
			rate, err := strconv.ParseFloat(row[2], 64)
			if err != nil {
				return 0, fmt.Errorf("invalid rate %q for %s: %w", row[2], row[1], err)
			}
			rates = append(rates, provider.FXRate{Currency: row[1], RateToUSD: rate, Source: "seed"})
		}
		return im.store.UpsertFXRates(ctx, day, cad, rates)
	})
}

// ImportMetals reads rows of date,metal,price_per_gram_usd[,snapshot_type].
func (im *Importer) ImportMetals(ctx context.Context, r io.Reader) (int, error) {
	return im.importRows(ctx, r, 3, func(ctx context.Context, day time.Time, cad cadence.Cadence, rows [][]string) (int, error) {
		prices := make([]provider.MetalPrice, 0, len(rows))
		for _, row := range rows {
			price, err := strconv.ParseFloat(row[2], 64)
			if err != nil {
				return 0, fmt.Errorf("invalid price %q for %s: %w", row[2], row[1], err)
			}
			prices = append(prices, provider.MetalPrice{Metal: row[1], PricePerGramUSD: price, Source: "seed"})
		}
		return im.store.UpsertMetalPrices(ctx, day, cad, prices)
	})
}

// ImportCrypto reads rows of date,symbol,name,price_usd,rank[,snapshot_type].
func (im *Importer) ImportCrypto(ctx context.Context, r io.Reader) (int, error) {
	return im.importRows(ctx, r, 5, func(ctx context.Context, day time.Time, cad cadence.Cadence, rows [][]string) (int, error) {
		prices := make([]provider.CryptoPrice, 0, len(rows))
		for _, row := range rows {
			price, err := strconv.ParseFloat(row[3], 64)
			if err != nil {
				return 0, fmt.Errorf("invalid price %q for %s: %w", row[3], row[1], err)
			}
			rank, err := strconv.Atoi(row[4])
			if err != nil {
				return 0, fmt.Errorf("invalid rank %q for %s: %w", row[4], row[1], err)
			}
			prices = append(prices, provider.CryptoPrice{
				Symbol: row[1], Name: row[2], PriceUSD: price, Rank: rank, Source: "seed",
			})
		}
		return im.store.UpsertCryptoPrices(ctx, day, cad, prices)
	})
}

type dateGroup struct {
	day time.Time
	cad cadence.Cadence
}

// importRows parses a CSV with a header row, groups records by date and
// snapshot type, and hands each group to upsert. The snapshot type column is
// the one past minCols and defaults to daily.
func (im *Importer) importRows(ctx context.Context, r io.Reader,
	minCols int,
	upsert func(context.Context, time.Time, cadence.Cadence, [][]string) (int, error),
) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < minCols {
		return 0, fmt.Errorf("expected at least %d columns, got %d", minCols, len(header))
	}

	groups := map[dateGroup][][]string{}
	var order []dateGroup
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		if len(row) < minCols {
			return 0, fmt.Errorf("line %d: expected at least %d columns, got %d", line, minCols, len(row))
		}

		day, err := time.ParseInLocation(dateFormat, row[0], time.UTC)
		if err != nil {
			return 0, fmt.Errorf("line %d: invalid date %q: %w", line, row[0], err)
		}

		cad := cadence.Daily
		if len(row) > minCols && row[minCols] != "" {
			switch c := cadence.Cadence(row[minCols]); c {
			case cadence.Daily, cadence.Weekly, cadence.Monthly:
				cad = c
			default:
				return 0, fmt.Errorf("line %d: unknown snapshot type %q", line, row[minCols])
			}
		}

		g := dateGroup{day: day, cad: cad}
		if _, seen := groups[g]; !seen {
			order = append(order, g)
		}
		groups[g] = append(groups[g], row)
	}

	total := 0
	for _, g := range order {
		n, err := upsert(ctx, g.day, g.cad, groups[g])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
