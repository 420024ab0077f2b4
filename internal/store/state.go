package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hisabapp/pricingd/internal/cadence"
	"github.com/hisabapp/pricingd/internal/provider"
)

// SyncLogEntry records one provider sync attempt for one date and class.
type SyncLogEntry struct {
	RunID    string          `db:"run_id"`
	Date     time.Time       `db:"sync_date"`
	DataType string          `db:"data_type"`
	Provider string          `db:"provider"`
	Status   string          `db:"status"`
	Records  int             `db:"records_count"`
	Error    string          `db:"error_message"`
	Cadence  cadence.Cadence `db:"snapshot_type"`
	SyncedAt time.Time       `db:"synced_at"`
}

// AppendSyncLog records a sync attempt.
func (s *Store) AppendSyncLog(ctx context.Context, e SyncLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var errMsg sql.NullString
	if e.Error != "" {
		errMsg = sql.NullString{String: e.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_log (run_id, sync_date, data_type, provider, status, records_count, error_message, snapshot_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.RunID, e.Date, e.DataType, e.Provider, e.Status, e.Records, errMsg, e.Cadence)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// RecentSyncLog returns the latest sync attempts, newest first.
func (s *Store) RecentSyncLog(ctx context.Context, limit int) ([]SyncLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT run_id, sync_date, data_type, provider, status, records_count,
		       COALESCE(error_message, '') AS error_message, snapshot_type, synced_at
		FROM sync_log
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	var entries []SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		if err := rows.StructScan(&e); err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}
	return entries, nil
}

// DaemonState is the singleton row describing the background sync loop.
type DaemonState struct {
	LastSyncAt      *time.Time `db:"last_sync_at" json:"last_sync_at"`
	LastSyncResult  string     `db:"last_sync_result" json:"last_sync_result"`
	LastError       string     `db:"last_error" json:"last_error"`
	NextSyncAt      *time.Time `db:"next_sync_at" json:"next_sync_at"`
	SnapshotsSynced int        `db:"snapshots_synced" json:"snapshots_synced"`
	DaemonVersion   string     `db:"daemon_version" json:"daemon_version"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// GetDaemonState reads the singleton daemon row. Returns nil when the daemon
// has never run.
func (s *Store) GetDaemonState(ctx context.Context) (*DaemonState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var st DaemonState
	err := s.db.QueryRowxContext(ctx, `
		SELECT last_sync_at, COALESCE(last_sync_result, '') AS last_sync_result,
		       COALESCE(last_error, '') AS last_error, next_sync_at,
		       snapshots_synced, COALESCE(daemon_version, '') AS daemon_version, updated_at
		FROM daemon_state WHERE id = 1`).StructScan(&st)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read daemon state: %w", err)
	}
	return &st, nil
}

// PutDaemonState replaces the singleton daemon row.
func (s *Store) PutDaemonState(ctx context.Context, st DaemonState) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_state (id, last_sync_at, last_sync_result, last_error, next_sync_at, snapshots_synced, daemon_version, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE
		SET last_sync_at = EXCLUDED.last_sync_at,
		    last_sync_result = EXCLUDED.last_sync_result,
		    last_error = EXCLUDED.last_error,
		    next_sync_at = EXCLUDED.next_sync_at,
		    snapshots_synced = EXCLUDED.snapshots_synced,
		    daemon_version = EXCLUDED.daemon_version,
		    updated_at = now()`,
		st.LastSyncAt, st.LastSyncResult, st.LastError, st.NextSyncAt, st.SnapshotsSynced, st.DaemonVersion)
	if err != nil {
		return fmt.Errorf("failed to write daemon state: %w", err)
	}
	return nil
}

// UpsertCryptoAssets refreshes the asset catalog from a top-assets listing.
func (s *Store) UpsertCryptoAssets(ctx context.Context, assets []provider.Asset) (int, error) {
	if len(assets) == 0 {
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
		INSERT INTO crypto_assets (symbol, name, rank, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (symbol) DO UPDATE
		SET name = EXCLUDED.name, rank = EXCLUDED.rank, updated_at = now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare asset upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range assets {
		if _, err := stmt.ExecContext(ctx, a.Symbol, a.Name, a.Rank); err != nil {
			return 0, fmt.Errorf("failed to upsert asset %s: %w", a.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit assets: %w", err)
	}
	return len(assets), nil
}

// TopCryptoAssets lists the asset catalog ordered by market cap rank.
func (s *Store) TopCryptoAssets(ctx context.Context, limit int) ([]provider.Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT symbol, name, rank FROM crypto_assets ORDER BY rank LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query crypto assets: %w", err)
	}
	defer rows.Close()

	var assets []provider.Asset
	for rows.Next() {
		var a provider.Asset
		if err := rows.Scan(&a.Symbol, &a.Name, &a.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan crypto asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating crypto assets: %w", err)
	}
	return assets, nil
}

// SetMeta writes a metadata key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta %q: %w", key, err)
	}
	return nil
}

// GetMeta reads a metadata key; missing keys return an empty string.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var value string
	err := s.db.QueryRowxContext(ctx, `SELECT value FROM meta WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta %q: %w", key, err)
	}
	return value, nil
}
