package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hisabapp/pricingd/internal/cadence"
	"github.com/hisabapp/pricingd/internal/provider"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock"), time.Second), mock
}

func testDay() time.Time {
	return time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
}

func TestUpsertFXRates_WritesAllRowsInOneTx(t *testing.T) {
	s, mock := newMockStore(t)
	day := testDay()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO fx_rates"))
	prep.ExpectExec().
		WithArgs(day, "EUR", 0.92, "openexchangerates", cadence.Daily).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs(day, "CAD", 1.35, "openexchangerates", cadence.Daily).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	n, err := s.UpsertFXRates(context.Background(), day, cadence.Daily, []provider.FXRate{
		{Currency: "EUR", RateToUSD: 0.92, Source: "openexchangerates"},
		{Currency: "CAD", RateToUSD: 1.35, Source: "openexchangerates"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertFXRates_EmptyInputIsNoop(t *testing.T) {
	s, mock := newMockStore(t)

	n, err := s.UpsertFXRates(context.Background(), testDay(), cadence.Daily, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCryptoPrices_RefreshesAssetCatalog(t *testing.T) {
	s, mock := newMockStore(t)
	day := testDay()

	mock.ExpectBegin()
	prices := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO crypto_prices"))
	assets := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO crypto_assets"))
	prices.ExpectExec().
		WithArgs(day, "BTC", "Bitcoin", 97000.5, 1, "coingecko", cadence.Daily).
		WillReturnResult(sqlmock.NewResult(1, 1))
	assets.ExpectExec().
		WithArgs("BTC", "Bitcoin", 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prices.ExpectExec().
		WithArgs(day, "ZZZ", "Unranked", 1.0, 0, "coingecko", cadence.Daily).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	n, err := s.UpsertCryptoPrices(context.Background(), day, cadence.Daily, []provider.CryptoPrice{
		{Symbol: "BTC", Name: "Bitcoin", PriceUSD: 97000.5, Rank: 1, Source: "coingecko"},
		{Symbol: "ZZZ", Name: "Unranked", PriceUSD: 1.0, Rank: 0, Source: "coingecko"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet(), "unranked coins must not touch the catalog")
}

func TestFXSnapshot_FallsBackToPriorDateAndForcesUSD(t *testing.T) {
	s, mock := newMockStore(t)
	day := testDay()
	effective := day.AddDate(0, 0, -3)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(date) FROM fx_rates WHERE date <= $1")).
		WithArgs(day).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(effective))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT currency, rate_to_usd FROM fx_rates WHERE date = $1")).
		WithArgs(effective).
		WillReturnRows(sqlmock.NewRows([]string{"currency", "rate_to_usd"}).
			AddRow("EUR", 0.92).
			AddRow("CAD", 1.35))

	got, rates, err := s.FXSnapshot(context.Background(), day)
	require.NoError(t, err)
	assert.True(t, got.Equal(effective))
	assert.Equal(t, 1.0, rates["USD"])
	assert.Equal(t, 0.92, rates["EUR"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFXSnapshot_NoDataReturnsZeroDate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(date) FROM fx_rates WHERE date <= $1")).
		WithArgs(testDay()).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	got, rates, err := s.FXSnapshot(context.Background(), testDay())
	require.NoError(t, err)
	assert.True(t, got.IsZero())
	assert.Nil(t, rates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCryptoSnapshot_SymbolFilter(t *testing.T) {
	s, mock := newMockStore(t)
	day := testDay()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(date) FROM crypto_prices WHERE date <= $1")).
		WithArgs(day).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(day))
	mock.ExpectQuery("SELECT symbol, name, price_usd").
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "name", "price_usd", "rank"}).
			AddRow("BTC", "Bitcoin", 97000.5, 1))

	effective, quotes, err := s.CryptoSnapshot(context.Background(), day, []string{"BTC"})
	require.NoError(t, err)
	assert.True(t, effective.Equal(day))
	require.Len(t, quotes, 1)
	assert.Equal(t, "BTC", quotes[0].Symbol)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasSnapshot(t *testing.T) {
	s, mock := newMockStore(t)
	day := testDay()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM fx_rates WHERE date = $1")).
		WithArgs(day).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	ok, err := s.HasSnapshot(context.Background(), day)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM fx_rates WHERE date = $1")).
		WithArgs(day).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	ok, err = s.HasSnapshot(context.Background(), day)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendSyncLog_EmptyErrorStoredAsNull(t *testing.T) {
	s, mock := newMockStore(t)
	day := testDay()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_log")).
		WithArgs("run-1", day, "fx", "openexchangerates", "success", 168, nil, cadence.Daily).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.AppendSyncLog(context.Background(), SyncLogEntry{
		RunID:    "run-1",
		Date:     day,
		DataType: "fx",
		Provider: "openexchangerates",
		Status:   "success",
		Records:  168,
		Cadence:  cadence.Daily,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDaemonState_RoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, time.January, 15, 6, 0, 0, 0, time.UTC)
	next := now.Add(time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daemon_state")).
		WithArgs(now, "success", "", next, 99, "1.4.0").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.PutDaemonState(context.Background(), DaemonState{
		LastSyncAt:      &now,
		LastSyncResult:  "success",
		NextSyncAt:      &next,
		SnapshotsSynced: 99,
		DaemonVersion:   "1.4.0",
	})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT last_sync_at").
		WillReturnRows(sqlmock.NewRows([]string{
			"last_sync_at", "last_sync_result", "last_error", "next_sync_at",
			"snapshots_synced", "daemon_version", "updated_at",
		}).AddRow(now, "success", "", next, 99, "1.4.0", now))

	st, err := s.GetDaemonState(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "success", st.LastSyncResult)
	assert.Equal(t, 99, st.SnapshotsSynced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDaemonState_NeverRan(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT last_sync_at").
		WillReturnRows(sqlmock.NewRows([]string{
			"last_sync_at", "last_sync_result", "last_error", "next_sync_at",
			"snapshots_synced", "daemon_version", "updated_at",
		}))

	st, err := s.GetDaemonState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMeta_MissingKeyIsEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM meta WHERE key = $1")).
		WithArgs("seed_version").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	v, err := s.GetMeta(context.Background(), "seed_version")
	require.NoError(t, err)
	assert.Equal(t, "", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}
