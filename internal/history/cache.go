package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketstream/internal/market"

	"go.uber.org/zap"
)

// DefaultTTL is how long a cached history response stays fresh.
const DefaultTTL = 60 * time.Second

// absent stands in for an unset time bound so "no start" never collides
// with any concrete start time.
const absent = "null"

// Query is one history request.
type Query struct {
	Symbol    string
	Interval  string
	Limit     int
	StartTime *int64
	EndTime   *int64
}

// Fingerprint is the cache key, e.g. "candles:BTCUSDT:1m:1000:null:null".
func (q Query) Fingerprint() string {
	return fmt.Sprintf("candles:%s:%s:%d:%s:%s",
		strings.ToUpper(strings.TrimSpace(q.Symbol)),
		strings.TrimSpace(q.Interval),
		q.Limit,
		bound(q.StartTime),
		bound(q.EndTime),
	)
}

func bound(v *int64) string {
	if v == nil {
		return absent
	}
	return strconv.FormatInt(*v, 10)
}

// Store is a TTL key-value backend (Redis in production).
type Store interface {
	// Get returns found=false with a nil error on a plain miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache stores serialized bar lists by query fingerprint. It fails open:
// backend errors are logged and reported as misses.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewCache(store Store, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, logger: logger}
}

// Get returns the cached bars for q, or false on a miss or backend error.
func (c *Cache) Get(ctx context.Context, q Query) ([]market.Bar, bool) {
	key := q.Fingerprint()

	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed, falling through", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !found {
		c.logger.Debug("cache miss", zap.String("key", key))
		return nil, false
	}

	var bars []market.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		c.logger.Warn("cache entry undecodable, ignoring", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	c.logger.Debug("cache hit", zap.String("key", key), zap.Int("bars", len(bars)))
	return bars, true
}

// Set stores bars for q with the cache TTL. Failures are logged only.
func (c *Cache) Set(ctx context.Context, q Query, bars []market.Bar) {
	key := q.Fingerprint()

	raw, err := json.Marshal(bars)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.logger.Debug("cache set", zap.String("key", key), zap.Int("bars", len(bars)))
}
