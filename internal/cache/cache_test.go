package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hisabapp/pricingd/internal/cadence"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// gzipEnvelope reproduces the stored wire bytes for an envelope.
func gzipEnvelope(t *testing.T, env Envelope) []byte {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func fxEnvelope(t *testing.T, rates map[string]float64) Envelope {
	t.Helper()
	raw, err := json.Marshal(rates)
	require.NoError(t, err)
	return Envelope{
		Version:       "1.0",
		Type:          "fx",
		Cadence:       cadence.Weekly,
		EffectiveDate: "2025-12-01",
		Base:          "USD",
		Source:        "openexchangerates",
		Data:          raw,
	}
}

func TestKey_Format(t *testing.T) {
	c := NewWithClient(nil, "")
	assert.Equal(t,
		"pricing/fx/weekly/2025-12-01.json.gz",
		c.Key("fx", cadence.Weekly, day(2025, time.December, 1)))

	prefixed := NewWithClient(nil, "snapshots")
	assert.Equal(t,
		"snapshots/pricing/crypto/monthly/2010-06-01.json.gz",
		prefixed.Key("crypto", cadence.Monthly, day(2010, time.June, 1)))
}

func TestPut_StoresGzippedEnvelopeWithoutTTL(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb, "")

	rates := map[string]float64{"CAD": 1.35, "EUR": 0.92}
	wire := gzipEnvelope(t, fxEnvelope(t, rates))

	mock.ExpectSet("pricing/fx/weekly/2025-12-01.json.gz", wire, 0).SetVal("OK")

	key, err := c.Put(context.Background(), "fx", cadence.Weekly,
		day(2025, time.December, 1), "openexchangerates", rates)
	require.NoError(t, err)
	assert.Equal(t, "pricing/fx/weekly/2025-12-01.json.gz", key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_RoundTripsData(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb, "")

	rates := map[string]float64{"CAD": 1.35, "EUR": 0.92}
	wire := gzipEnvelope(t, fxEnvelope(t, rates))

	mock.ExpectGet("pricing/fx/weekly/2025-12-01.json.gz").SetVal(string(wire))

	env, err := c.Get(context.Background(), "fx", cadence.Weekly, day(2025, time.December, 1))
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "USD", env.Base)
	assert.Equal(t, cadence.Weekly, env.Cadence)

	var got map[string]float64
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, rates, got, "data must survive the mirror byte-identically")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_MissReturnsNil(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb, "")

	mock.ExpectGet("pricing/fx/daily/2026-01-15.json.gz").RedisNil()

	env, err := c.Get(context.Background(), "fx", cadence.Daily, day(2026, time.January, 15))
	require.NoError(t, err)
	assert.Nil(t, env)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_UnknownVersionTreatedAsMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb, "")

	env := fxEnvelope(t, map[string]float64{"EUR": 0.92})
	env.Version = "9.9"
	wire := gzipEnvelope(t, env)

	mock.ExpectGet("pricing/fx/weekly/2025-12-01.json.gz").SetVal(string(wire))

	got, err := c.Get(context.Background(), "fx", cadence.Weekly, day(2025, time.December, 1))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHas(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb, "")

	mock.ExpectExists("pricing/metals/daily/2026-01-15.json.gz").SetVal(1)

	ok, err := c.Has(context.Background(), "metals", cadence.Daily, day(2026, time.January, 15))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
