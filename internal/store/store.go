// Package store persists pricing snapshots in PostgreSQL. All prices are
// stored against USD: FX rows as 1 USD = rate units of currency, metals as
// USD per gram, crypto as USD per coin. Each row carries the cadence tier it
// was captured under.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config holds database connection configuration.
type Config struct {
	DSN             string        `yaml:"dsn" env:"PRICING_DB_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"PRICING_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"PRICING_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"PRICING_DB_CONN_MAX_LIFETIME"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env:"PRICING_DB_QUERY_TIMEOUT"`
}

// DefaultConfig returns reasonable defaults for database connections.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// Store wraps the snapshot tables behind typed queries with per-query
// timeouts.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to PostgreSQL, verifies connectivity, and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(db, cfg.QueryTimeout)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. Used by tests with a mock driver.
func New(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping tests basic connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS fx_rates (
	id BIGSERIAL PRIMARY KEY,
	date DATE NOT NULL,
	currency TEXT NOT NULL,
	rate_to_usd DOUBLE PRECISION NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	snapshot_type TEXT NOT NULL DEFAULT 'daily',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (date, currency)
);
CREATE INDEX IF NOT EXISTS idx_fx_rates_date ON fx_rates(date);
CREATE INDEX IF NOT EXISTS idx_fx_rates_snapshot ON fx_rates(date, snapshot_type);

CREATE TABLE IF NOT EXISTS metal_prices (
	id BIGSERIAL PRIMARY KEY,
	date DATE NOT NULL,
	metal TEXT NOT NULL,
	price_per_gram_usd DOUBLE PRECISION NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	snapshot_type TEXT NOT NULL DEFAULT 'daily',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (date, metal)
);
CREATE INDEX IF NOT EXISTS idx_metal_prices_date ON metal_prices(date);
CREATE INDEX IF NOT EXISTS idx_metal_prices_snapshot ON metal_prices(date, snapshot_type);

CREATE TABLE IF NOT EXISTS crypto_prices (
	id BIGSERIAL PRIMARY KEY,
	date DATE NOT NULL,
	symbol TEXT NOT NULL,
	name TEXT NOT NULL,
	price_usd DOUBLE PRECISION NOT NULL,
	rank INTEGER,
	source TEXT NOT NULL DEFAULT '',
	snapshot_type TEXT NOT NULL DEFAULT 'daily',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (date, symbol)
);
CREATE INDEX IF NOT EXISTS idx_crypto_prices_date ON crypto_prices(date);
CREATE INDEX IF NOT EXISTS idx_crypto_prices_rank ON crypto_prices(rank);
CREATE INDEX IF NOT EXISTS idx_crypto_prices_snapshot ON crypto_prices(date, snapshot_type);

CREATE TABLE IF NOT EXISTS crypto_assets (
	symbol TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	rank INTEGER NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_crypto_assets_rank ON crypto_assets(rank);

CREATE TABLE IF NOT EXISTS sync_log (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL DEFAULT '',
	sync_date DATE NOT NULL,
	data_type TEXT NOT NULL,
	provider TEXT NOT NULL,
	status TEXT NOT NULL,
	records_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	snapshot_type TEXT NOT NULL DEFAULT 'daily',
	synced_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_sync_log_date ON sync_log(sync_date, data_type);

CREATE TABLE IF NOT EXISTS daemon_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_sync_at TIMESTAMPTZ,
	last_sync_result TEXT,
	last_error TEXT,
	next_sync_at TIMESTAMPTZ,
	snapshots_synced INTEGER NOT NULL DEFAULT 0,
	daemon_version TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
