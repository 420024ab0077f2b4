// Package cache mirrors pricing snapshots into Redis as a shared second
// tier. Objects are gzip-compressed JSON envelopes keyed by asset class,
// cadence, and effective date, so every instance pointed at the same Redis
// sees the same snapshots.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hisabapp/pricingd/internal/cadence"
)

// envelopeVersion tags stored payloads so a future format change can skip
// stale objects instead of misreading them.
const envelopeVersion = "1.0"

// Config holds Redis connection configuration.
type Config struct {
	Addr     string `yaml:"addr" env:"PRICING_REDIS_ADDR"`
	Password string `yaml:"password" env:"PRICING_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"PRICING_REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"PRICING_REDIS_PREFIX"`
}

// Enabled reports whether a Redis endpoint is configured at all.
func (c Config) Enabled() bool { return c.Addr != "" }

// Envelope is the stored snapshot payload. Data holds the class-specific
// body: currency->rate for fx, metal->price for metals, a symbol-keyed quote
// table for crypto. Base is always USD.
type Envelope struct {
	Version       string          `json:"version"`
	Type          string          `json:"type"`
	Cadence       cadence.Cadence `json:"cadence"`
	EffectiveDate string          `json:"effective_date"`
	Base          string          `json:"base"`
	Source        string          `json:"source"`
	Data          json.RawMessage `json:"data"`
}

// Cache is a Redis-backed snapshot mirror.
type Cache struct {
	rdb    redis.Cmdable
	prefix string
}

// New connects a snapshot cache to Redis.
func New(cfg Config) *Cache {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.Prefix)
}

// NewWithClient wraps an existing Redis client. Used by tests with a mock.
func NewWithClient(rdb redis.Cmdable, prefix string) *Cache {
	return &Cache{rdb: rdb, prefix: prefix}
}

// Key builds the object key: {prefix}pricing/{class}/{cadence}/{date}.json.gz
func (c *Cache) Key(class string, cad cadence.Cadence, day time.Time) string {
	key := fmt.Sprintf("pricing/%s/%s/%s.json.gz", class, cad, day.Format("2006-01-02"))
	if c.prefix != "" {
		key = c.prefix + "/" + key
	}
	return key
}

// Put stores a snapshot envelope. Snapshots are immutable facts about a past
// date, so entries carry no TTL.
func (c *Cache) Put(ctx context.Context, class string, cad cadence.Cadence, day time.Time, source string, data interface{}) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot data: %w", err)
	}

	env := Envelope{
		Version:       envelopeVersion,
		Type:          class,
		Cadence:       cad,
		EffectiveDate: day.Format("2006-01-02"),
		Base:          "USD",
		Source:        source,
		Data:          raw,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return "", fmt.Errorf("failed to compress envelope: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to flush gzip: %w", err)
	}

	key := c.Key(class, cad, day)
	if err := c.rdb.Set(ctx, key, buf.Bytes(), 0).Err(); err != nil {
		return "", fmt.Errorf("failed to store snapshot %s: %w", key, err)
	}
	return key, nil
}

// Get retrieves a snapshot envelope. A miss returns (nil, nil); envelopes
// with an unknown version are treated as misses.
func (c *Cache) Get(ctx context.Context, class string, cad cadence.Cadence, day time.Time) (*Envelope, error) {
	key := c.Key(class, cad, day)

	compressed, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot %s: %w", key, err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip for %s: %w", key, err)
	}
	body, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", key, err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope %s: %w", key, err)
	}
	if env.Version != envelopeVersion {
		return nil, nil
	}
	return &env, nil
}

// Has reports whether a snapshot object exists without fetching it.
func (c *Cache) Has(ctx context.Context, class string, cad cadence.Cadence, day time.Time) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.Key(class, cad, day)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot presence: %w", err)
	}
	return n > 0, nil
}
