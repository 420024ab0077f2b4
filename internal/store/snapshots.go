package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hisabapp/pricingd/internal/cadence"
	"github.com/hisabapp/pricingd/internal/provider"
)

// CryptoQuote is one stored crypto price row.
type CryptoQuote struct {
	Symbol   string  `db:"symbol"`
	Name     string  `db:"name"`
	PriceUSD float64 `db:"price_usd"`
	Rank     int     `db:"rank"`
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

// UpsertFXRates writes one date's FX rows, replacing any existing row for the
// same (date, currency). Returns the number of rows written.
func (s *Store) UpsertFXRates(ctx context.Context, day time.Time, cad cadence.Cadence, rates []provider.FXRate) (int, error) {
	if len(rates) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fx_rates (date, currency, rate_to_usd, source, snapshot_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date, currency) DO UPDATE
		SET rate_to_usd = EXCLUDED.rate_to_usd,
		    source = EXCLUDED.source,
		    snapshot_type = EXCLUDED.snapshot_type`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare fx upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rates {
		if _, err := stmt.ExecContext(ctx, day, r.Currency, r.RateToUSD, r.Source, cad); err != nil {
			if isUniqueViolation(err) {
				return 0, fmt.Errorf("concurrent fx write for %s/%s: %w", day.Format("2006-01-02"), r.Currency, err)
			}
			return 0, fmt.Errorf("failed to upsert fx rate %s: %w", r.Currency, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit fx rates: %w", err)
	}
	return len(rates), nil
}

// UpsertMetalPrices writes one date's metal rows. Returns rows written.
func (s *Store) UpsertMetalPrices(ctx context.Context, day time.Time, cad cadence.Cadence, prices []provider.MetalPrice) (int, error) {
	if len(prices) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metal_prices (date, metal, price_per_gram_usd, source, snapshot_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date, metal) DO UPDATE
		SET price_per_gram_usd = EXCLUDED.price_per_gram_usd,
		    source = EXCLUDED.source,
		    snapshot_type = EXCLUDED.snapshot_type`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare metal upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range prices {
		if _, err := stmt.ExecContext(ctx, day, p.Metal, p.PricePerGramUSD, p.Source, cad); err != nil {
			return 0, fmt.Errorf("failed to upsert metal price %s: %w", p.Metal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit metal prices: %w", err)
	}
	return len(prices), nil
}

// UpsertCryptoPrices writes one date's crypto rows and refreshes the asset
// catalog for ranked coins. Returns price rows written.
func (s *Store) UpsertCryptoPrices(ctx context.Context, day time.Time, cad cadence.Cadence, prices []provider.CryptoPrice) (int, error) {
	if len(prices) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	priceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO crypto_prices (date, symbol, name, price_usd, rank, source, snapshot_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (date, symbol) DO UPDATE
		SET name = EXCLUDED.name,
		    price_usd = EXCLUDED.price_usd,
		    rank = EXCLUDED.rank,
		    source = EXCLUDED.source,
		    snapshot_type = EXCLUDED.snapshot_type`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare crypto upsert: %w", err)
	}
	defer priceStmt.Close()

	assetStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO crypto_assets (symbol, name, rank, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (symbol) DO UPDATE
		SET name = EXCLUDED.name,
		    rank = EXCLUDED.rank,
		    updated_at = now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare asset upsert: %w", err)
	}
	defer assetStmt.Close()

	for _, p := range prices {
		if _, err := priceStmt.ExecContext(ctx, day, p.Symbol, p.Name, p.PriceUSD, p.Rank, p.Source, cad); err != nil {
			return 0, fmt.Errorf("failed to upsert crypto price %s: %w", p.Symbol, err)
		}
		if p.Rank > 0 {
			if _, err := assetStmt.ExecContext(ctx, p.Symbol, p.Name, p.Rank); err != nil {
				return 0, fmt.Errorf("failed to upsert crypto asset %s: %w", p.Symbol, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit crypto prices: %w", err)
	}
	return len(prices), nil
}

// effectiveDate finds the most recent stored date on or before day for the
// given table. Returns a zero time when nothing qualifies.
func (s *Store) effectiveDate(ctx context.Context, table string, day time.Time) (time.Time, error) {
	var effective sql.NullTime
	query := fmt.Sprintf(`SELECT MAX(date) FROM %s WHERE date <= $1`, table)
	if err := s.db.QueryRowxContext(ctx, query, day).Scan(&effective); err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve effective date in %s: %w", table, err)
	}
	if !effective.Valid {
		return time.Time{}, nil
	}
	return effective.Time.UTC(), nil
}

// FXSnapshot returns the USD rate table for the most recent stored date on or
// before day. USD itself is always present at 1.0. A zero effective date
// means no data qualifies.
func (s *Store) FXSnapshot(ctx context.Context, day time.Time) (time.Time, map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	effective, err := s.effectiveDate(ctx, "fx_rates", day)
	if err != nil || effective.IsZero() {
		return time.Time{}, nil, err
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT currency, rate_to_usd FROM fx_rates WHERE date = $1`, effective)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to query fx rates: %w", err)
	}
	defer rows.Close()

	rates := make(map[string]float64)
	for rows.Next() {
		var currency string
		var rate float64
		if err := rows.Scan(&currency, &rate); err != nil {
			return time.Time{}, nil, fmt.Errorf("failed to scan fx rate: %w", err)
		}
		rates[currency] = rate
	}
	if err := rows.Err(); err != nil {
		return time.Time{}, nil, fmt.Errorf("error iterating fx rates: %w", err)
	}
	if len(rates) == 0 {
		return time.Time{}, nil, nil
	}

	rates["USD"] = 1.0
	return effective, rates, nil
}

// MetalSnapshot returns USD-per-gram prices for the most recent stored date
// on or before day.
func (s *Store) MetalSnapshot(ctx context.Context, day time.Time) (time.Time, map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	effective, err := s.effectiveDate(ctx, "metal_prices", day)
	if err != nil || effective.IsZero() {
		return time.Time{}, nil, err
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT metal, price_per_gram_usd FROM metal_prices WHERE date = $1`, effective)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to query metal prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[string]float64)
	for rows.Next() {
		var metal string
		var price float64
		if err := rows.Scan(&metal, &price); err != nil {
			return time.Time{}, nil, fmt.Errorf("failed to scan metal price: %w", err)
		}
		prices[metal] = price
	}
	if err := rows.Err(); err != nil {
		return time.Time{}, nil, fmt.Errorf("error iterating metal prices: %w", err)
	}
	if len(prices) == 0 {
		return time.Time{}, nil, nil
	}
	return effective, prices, nil
}

// CryptoSnapshot returns USD crypto quotes for the most recent stored date on
// or before day, rank-ordered. An empty symbols filter returns everything.
func (s *Store) CryptoSnapshot(ctx context.Context, day time.Time, symbols []string) (time.Time, []CryptoQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	effective, err := s.effectiveDate(ctx, "crypto_prices", day)
	if err != nil || effective.IsZero() {
		return time.Time{}, nil, err
	}

	query := `SELECT symbol, name, price_usd, COALESCE(rank, 0) AS rank
		FROM crypto_prices WHERE date = $1 ORDER BY rank`
	args := []interface{}{effective}
	if len(symbols) > 0 {
		query = `SELECT symbol, name, price_usd, COALESCE(rank, 0) AS rank
			FROM crypto_prices WHERE date = $1 AND symbol = ANY($2) ORDER BY rank`
		args = append(args, pq.Array(symbols))
	}

	var quotes []CryptoQuote
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to query crypto prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q CryptoQuote
		if err := rows.StructScan(&q); err != nil {
			return time.Time{}, nil, fmt.Errorf("failed to scan crypto price: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return time.Time{}, nil, fmt.Errorf("error iterating crypto prices: %w", err)
	}
	if len(quotes) == 0 {
		return time.Time{}, nil, nil
	}
	return effective, quotes, nil
}

// HasSnapshot reports whether any FX rows exist for exactly this date. FX
// presence stands in for the whole snapshot when computing missing dates.
func (s *Store) HasSnapshot(ctx context.Context, day time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var count int
	err := s.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM fx_rates WHERE date = $1`, day).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot presence: %w", err)
	}
	return count > 0, nil
}

// ClassCoverage summarizes stored dates for one asset class or cadence tier.
type ClassCoverage struct {
	MinDate    *time.Time `db:"min_date" json:"min_date"`
	MaxDate    *time.Time `db:"max_date" json:"max_date"`
	TotalDates int        `db:"total_dates" json:"total_dates"`
}

// Coverage reports stored date ranges per asset class and, for FX as the
// presence proxy, per cadence tier.
type Coverage struct {
	FX      ClassCoverage `json:"fx"`
	Metals  ClassCoverage `json:"metals"`
	Crypto  ClassCoverage `json:"crypto"`
	Daily   ClassCoverage `json:"daily_snapshots"`
	Weekly  ClassCoverage `json:"weekly_snapshots"`
	Monthly ClassCoverage `json:"monthly_snapshots"`
}

func (s *Store) classCoverage(ctx context.Context, query string, args ...interface{}) (ClassCoverage, error) {
	var cov ClassCoverage
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&cov.MinDate, &cov.MaxDate, &cov.TotalDates); err != nil {
		return ClassCoverage{}, err
	}
	return cov, nil
}

// DataCoverage summarizes what the store holds.
func (s *Store) DataCoverage(ctx context.Context) (Coverage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var cov Coverage
	var err error

	if cov.FX, err = s.classCoverage(ctx,
		`SELECT MIN(date), MAX(date), COUNT(DISTINCT date) FROM fx_rates`); err != nil {
		return Coverage{}, fmt.Errorf("failed to read fx coverage: %w", err)
	}
	if cov.Metals, err = s.classCoverage(ctx,
		`SELECT MIN(date), MAX(date), COUNT(DISTINCT date) FROM metal_prices`); err != nil {
		return Coverage{}, fmt.Errorf("failed to read metal coverage: %w", err)
	}
	if cov.Crypto, err = s.classCoverage(ctx,
		`SELECT MIN(date), MAX(date), COUNT(DISTINCT date) FROM crypto_prices`); err != nil {
		return Coverage{}, fmt.Errorf("failed to read crypto coverage: %w", err)
	}

	for cad, dst := range map[cadence.Cadence]*ClassCoverage{
		cadence.Daily:   &cov.Daily,
		cadence.Weekly:  &cov.Weekly,
		cadence.Monthly: &cov.Monthly,
	} {
		c, err := s.classCoverage(ctx,
			`SELECT MIN(date), MAX(date), COUNT(DISTINCT date) FROM fx_rates WHERE snapshot_type = $1`, cad)
		if err != nil {
			return Coverage{}, fmt.Errorf("failed to read %s coverage: %w", cad, err)
		}
		*dst = c
	}
	return cov, nil
}
