package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hisabapp/pricingd/internal/cadence"
	"github.com/hisabapp/pricingd/internal/provider"
)

type fxWrite struct {
	day   time.Time
	cad   cadence.Cadence
	rates []provider.FXRate
}

type fakeStore struct {
	fx     []fxWrite
	metals int
	crypto int
	meta   map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{meta: map[string]string{}}
}

func (f *fakeStore) UpsertFXRates(_ context.Context, day time.Time, cad cadence.Cadence, rates []provider.FXRate) (int, error) {
	f.fx = append(f.fx, fxWrite{day: day, cad: cad, rates: rates})
	return len(rates), nil
}

func (f *fakeStore) UpsertMetalPrices(_ context.Context, _ time.Time, _ cadence.Cadence, prices []provider.MetalPrice) (int, error) {
	f.metals += len(prices)
	return len(prices), nil
}

func (f *fakeStore) UpsertCryptoPrices(_ context.Context, _ time.Time, _ cadence.Cadence, prices []provider.CryptoPrice) (int, error) {
	f.crypto += len(prices)
	return len(prices), nil
}

func (f *fakeStore) GetMeta(_ context.Context, key string) (string, error) {
	return f.meta[key], nil
}

func (f *fakeStore) SetMeta(_ context.Context, key, value string) error {
	f.meta[key] = value
	return nil
}

func TestImportFX_GroupsByDateAndCadence(t *testing.T) {
	st := newFakeStore()
	im := NewImporter(st, zerolog.Nop())

	csv := strings.Join([]string{
		"date,currency,rate_to_usd,snapshot_type",
		"2025-06-01,EUR,0.92,monthly",
		"2025-06-01,CAD,1.35,monthly",
		"2026-01-14,EUR,0.93",
	}, "\n")

	n, err := im.ImportFX(context.Background(), strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, st.fx, 2)
	assert.Equal(t, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), st.fx[0].day)
	assert.Equal(t, cadence.Monthly, st.fx[0].cad)
	assert.Len(t, st.fx[0].rates, 2)
	assert.Equal(t, "seed", st.fx[0].rates[0].Source)
	assert.Equal(t, cadence.Daily, st.fx[1].cad)
}

func TestImportFX_RejectsBadRows(t *testing.T) {
	im := NewImporter(newFakeStore(), zerolog.Nop())

	cases := map[string]string{
		"bad date":     "date,currency,rate_to_usd\nyesterday,EUR,0.92",
		"bad rate":     "date,currency,rate_to_usd\n2026-01-14,EUR,cheap",
		"bad cadence":  "date,currency,rate_to_usd,snapshot_type\n2026-01-14,EUR,0.92,hourly",
		"short row":    "date,currency,rate_to_usd\n2026-01-14,EUR",
		"short header": "date,currency\n2026-01-14,EUR",
	}
	for name, csv := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := im.ImportFX(context.Background(), strings.NewReader(csv))
			assert.Error(t, err)
		})
	}
}

func TestImportFX_EmptyInput(t *testing.T) {
	im := NewImporter(newFakeStore(), zerolog.Nop())
	n, err := im.ImportFX(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImportCrypto(t *testing.T) {
	st := newFakeStore()
	im := NewImporter(st, zerolog.Nop())

	csv := strings.Join([]string{
		"date,symbol,name,price_usd,rank",
		"2026-01-14,BTC,Bitcoin,97000,1",
		"2026-01-14,ETH,Ethereum,3500,2",
	}, "\n")

	n, err := im.ImportCrypto(context.Background(), strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, st.crypto)
}

func writeSeedDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"fx.csv":     "date,currency,rate_to_usd\n2026-01-14,EUR,0.93\n",
		"metals.csv": "date,metal,price_per_gram_usd\n2026-01-14,gold,100.5\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestApplyDir(t *testing.T) {
	st := newFakeStore()
	im := NewImporter(st, zerolog.Nop())

	res, err := im.ApplyDir(context.Background(), writeSeedDir(t), "2026.1")
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.FXRates)
	assert.Equal(t, 1, res.MetalPrices)
	assert.Zero(t, res.CryptoPrices, "missing crypto.csv is skipped")
	assert.Equal(t, "2026.1", st.meta[MetaKey])
}

func TestApplyDir_SameVersionSkips(t *testing.T) {
	st := newFakeStore()
	st.meta[MetaKey] = "2026.1"
	im := NewImporter(st, zerolog.Nop())

	res, err := im.ApplyDir(context.Background(), writeSeedDir(t), "2026.1")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, st.fx)
}

func TestApplyDir_NewVersionReapplies(t *testing.T) {
	st := newFakeStore()
	st.meta[MetaKey] = "2026.1"
	im := NewImporter(st, zerolog.Nop())

	res, err := im.ApplyDir(context.Background(), writeSeedDir(t), "2026.2")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, "2026.2", st.meta[MetaKey])
}
