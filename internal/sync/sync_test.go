package sync

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hisabapp/pricingd/internal/cadence"
	"github.com/hisabapp/pricingd/internal/provider"
	"github.com/hisabapp/pricingd/internal/store"
)

type fakeStore struct {
	fxWrites     int
	metalWrites  int
	cryptoWrites int
	assetWrites  int
	logEntries   []store.SyncLogEntry
	fxErr        error
}

func (f *fakeStore) UpsertFXRates(_ context.Context, _ time.Time, _ cadence.Cadence, rates []provider.FXRate) (int, error) {
	if f.fxErr != nil {
		return 0, f.fxErr
	}
	f.fxWrites += len(rates)
	return len(rates), nil
}

func (f *fakeStore) UpsertMetalPrices(_ context.Context, _ time.Time, _ cadence.Cadence, prices []provider.MetalPrice) (int, error) {
	f.metalWrites += len(prices)
	return len(prices), nil
}

func (f *fakeStore) UpsertCryptoPrices(_ context.Context, _ time.Time, _ cadence.Cadence, prices []provider.CryptoPrice) (int, error) {
	f.cryptoWrites += len(prices)
	return len(prices), nil
}

func (f *fakeStore) UpsertCryptoAssets(_ context.Context, assets []provider.Asset) (int, error) {
	f.assetWrites += len(assets)
	return len(assets), nil
}

func (f *fakeStore) AppendSyncLog(_ context.Context, e store.SyncLogEntry) error {
	f.logEntries = append(f.logEntries, e)
	return nil
}

type fakeFX struct {
	rates []provider.FXRate
	err   error
}

func (f *fakeFX) Name() string             { return "fake-fx" }
func (f *fakeFX) RequiresAPIKey() bool     { return false }
func (f *fakeFX) IsConfigured() bool       { return true }
func (f *fakeFX) SupportsHistorical() bool { return true }

func (f *fakeFX) Rates(context.Context, time.Time) ([]provider.FXRate, error) {
	return f.rates, f.err
}

type fakeMetal struct {
	prices []provider.MetalPrice
	err    error
}

func (f *fakeMetal) Name() string             { return "fake-metal" }
func (f *fakeMetal) RequiresAPIKey() bool     { return false }
func (f *fakeMetal) IsConfigured() bool       { return true }
func (f *fakeMetal) SupportsHistorical() bool { return true }

func (f *fakeMetal) Prices(context.Context, time.Time) ([]provider.MetalPrice, error) {
	return f.prices, f.err
}

type fakeCrypto struct {
	prices []provider.CryptoPrice
	assets []provider.Asset
	err    error
}

func (f *fakeCrypto) Name() string             { return "fake-crypto" }
func (f *fakeCrypto) RequiresAPIKey() bool     { return false }
func (f *fakeCrypto) IsConfigured() bool       { return true }
func (f *fakeCrypto) SupportsHistorical() bool { return true }

func (f *fakeCrypto) Prices(context.Context, time.Time) ([]provider.CryptoPrice, error) {
	return f.prices, f.err
}

func (f *fakeCrypto) TopAssets(context.Context, int) ([]provider.Asset, error) {
	return f.assets, f.err
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newService(st Store, fx provider.FXProvider, metal provider.MetalProvider, crypto provider.CryptoProvider) *Service {
	reg := &provider.Registry{FX: fx, Metals: metal, Crypto: crypto}
	return NewService(reg, st, true, zerolog.Nop())
}

func healthyProviders() (*fakeFX, *fakeMetal, *fakeCrypto) {
	return &fakeFX{rates: []provider.FXRate{
			{Currency: "EUR", RateToUSD: 0.92, Source: "fake-fx"},
			{Currency: "CAD", RateToUSD: 1.35, Source: "fake-fx"},
		}},
		&fakeMetal{prices: []provider.MetalPrice{
			{Metal: "gold", PricePerGramUSD: 100, Source: "fake-metal"},
		}},
		&fakeCrypto{prices: []provider.CryptoPrice{
			{Symbol: "BTC", Name: "Bitcoin", PriceUSD: 97000, Rank: 1, Source: "fake-crypto"},
		}}
}

func TestSyncDate_AllClassesSucceed(t *testing.T) {
	st := &fakeStore{}
	fx, metal, crypto := healthyProviders()
	svc := newService(st, fx, metal, crypto)

	res, err := svc.SyncDate(context.Background(), day(2026, time.January, 15), nil, cadence.Daily)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Synced())
	assert.Equal(t, 2, st.fxWrites)
	assert.Equal(t, 1, st.metalWrites)
	assert.Equal(t, 1, st.cryptoWrites)

	require.Len(t, st.logEntries, 3)
	runID := st.logEntries[0].RunID
	require.NotEmpty(t, runID)
	for _, e := range st.logEntries {
		assert.Equal(t, runID, e.RunID, "one date shares one run")
		assert.Equal(t, "success", e.Status)
		assert.Equal(t, cadence.Daily, e.Cadence)
	}
}

func TestSyncDate_ProviderFailureIsPerClass(t *testing.T) {
	st := &fakeStore{}
	fx, metal, crypto := healthyProviders()
	fx.err = provider.ErrRateLimited
	svc := newService(st, fx, metal, crypto)

	res, err := svc.SyncDate(context.Background(), day(2026, time.January, 15), nil, cadence.Daily)
	require.NoError(t, err, "provider failures must not error the sync call")
	assert.False(t, res.Success)
	assert.True(t, res.Synced(), "metals and crypto still landed")
	assert.Equal(t, "failed", res.Results[ClassFX].Status)
	assert.Contains(t, res.Results[ClassFX].Error, "rate limit")
	assert.Equal(t, "success", res.Results[ClassMetals].Status)
}

func TestSyncDate_EmptyAnswerIsFailure(t *testing.T) {
	st := &fakeStore{}
	fx, metal, crypto := healthyProviders()
	crypto.prices = nil
	svc := newService(st, fx, metal, crypto)

	res, err := svc.SyncDate(context.Background(), day(2026, time.January, 15), []string{ClassCrypto}, cadence.Weekly)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.Synced())
	assert.Equal(t, "no prices returned", res.Results[ClassCrypto].Error)
	assert.Equal(t, 0, st.cryptoWrites)
}

func TestSyncDate_StoreFailureReported(t *testing.T) {
	st := &fakeStore{fxErr: assert.AnError}
	fx, metal, crypto := healthyProviders()
	svc := newService(st, fx, metal, crypto)

	res, err := svc.SyncDate(context.Background(), day(2026, time.January, 15), []string{ClassFX}, cadence.Daily)
	require.NoError(t, err)
	assert.Equal(t, "failed", res.Results[ClassFX].Status)
	assert.NotEmpty(t, res.Results[ClassFX].Error)
}

func TestSyncDate_Disabled(t *testing.T) {
	st := &fakeStore{}
	fx, metal, crypto := healthyProviders()
	reg := &provider.Registry{FX: fx, Metals: metal, Crypto: crypto}
	svc := NewService(reg, st, false, zerolog.Nop())

	_, err := svc.SyncDate(context.Background(), day(2026, time.January, 15), nil, cadence.Daily)
	assert.ErrorIs(t, err, ErrSyncDisabled)
	assert.Empty(t, st.logEntries)
}

func TestSyncRange_SummarizesPerClass(t *testing.T) {
	st := &fakeStore{}
	fx, metal, crypto := healthyProviders()
	metal.err = provider.ErrNetwork
	svc := newService(st, fx, metal, crypto)

	res, err := svc.SyncRange(context.Background(),
		day(2026, time.January, 13), day(2026, time.January, 15), nil, cadence.Daily)
	require.NoError(t, err)

	assert.Equal(t, "success", res.Classes[ClassFX].Status)
	assert.Equal(t, 3, res.Classes[ClassFX].DatesRequested)
	assert.Equal(t, 3, res.Classes[ClassFX].DatesSynced)
	assert.Equal(t, 6, res.Classes[ClassFX].RecordsAdded)

	assert.Equal(t, "failed", res.Classes[ClassMetals].Status)
	assert.Len(t, res.Classes[ClassMetals].Errors, 3)
	assert.False(t, res.Success)

	// The whole range shares one run ID.
	runID := st.logEntries[0].RunID
	for _, e := range st.logEntries {
		assert.Equal(t, runID, e.RunID)
	}
}

func TestSyncRange_PartialStatus(t *testing.T) {
	st := &fakeStore{}
	fx, metal, crypto := healthyProviders()
	svc := newService(st, fx, metal, crypto)

	calls := 0
	flaky := &flakyFX{inner: fx, failEvery: 2, calls: &calls}
	svc.providers.FX = flaky

	res, err := svc.SyncRange(context.Background(),
		day(2026, time.January, 13), day(2026, time.January, 15), []string{ClassFX}, cadence.Daily)
	require.NoError(t, err)
	assert.Equal(t, "partial", res.Classes[ClassFX].Status)
	assert.True(t, res.Success, "partial coverage still counts as overall success")
}

type flakyFX struct {
	inner     *fakeFX
	failEvery int
	calls     *int
}

func (f *flakyFX) Name() string             { return f.inner.Name() }
func (f *flakyFX) RequiresAPIKey() bool     { return false }
func (f *flakyFX) IsConfigured() bool       { return true }
func (f *flakyFX) SupportsHistorical() bool { return true }

func (f *flakyFX) Rates(ctx context.Context, day time.Time) ([]provider.FXRate, error) {
	*f.calls++
	if *f.calls%f.failEvery == 0 {
		return nil, provider.ErrNetwork
	}
	return f.inner.Rates(ctx, day)
}

func TestRefreshAssets(t *testing.T) {
	st := &fakeStore{}
	fx, metal, crypto := healthyProviders()
	crypto.assets = []provider.Asset{
		{Symbol: "BTC", Name: "Bitcoin", Rank: 1},
		{Symbol: "ETH", Name: "Ethereum", Rank: 2},
	}
	svc := newService(st, fx, metal, crypto)

	n, err := svc.RefreshAssets(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, st.assetWrites)
}
