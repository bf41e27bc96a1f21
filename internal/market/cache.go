// Package market caches candle series in Redis so repeated cycles and the
// replay tool do not hammer the exchange. The cache is strictly fail-open:
// any Redis problem is a cache miss, never an error.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/marketvigil/vigil/internal/exchange"
)

const cacheOpTimeout = 500 * time.Millisecond

// CandleCache stores candle series keyed by symbol and interval.
type CandleCache struct {
	client *redis.Client
	ttl    time.Duration
}

type cacheEntry struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	CachedAt time.Time       `json:"cached_at"`
	Candles  exchange.Series `json:"candles"`
}

// NewCandleCache builds the cache. A nil client returns nil; all methods on
// a nil cache behave as misses, so Redis stays optional.
func NewCandleCache(client *redis.Client, ttl time.Duration) *CandleCache {
	if client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	return &CandleCache{client: client, ttl: ttl}
}

func cacheKey(symbol, interval string) string {
	return fmt.Sprintf("vigil:candles:%s:%s", symbol, interval)
}

// Get returns the cached series and true on a hit.
func (c *CandleCache) Get(ctx context.Context, symbol, interval string) (exchange.Series, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	cctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	key := cacheKey(symbol, interval)
	cached, err := c.client.Get(cctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("Redis get error, treating as miss")
		}
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached candles")
		return nil, false
	}
	return entry.Candles, true
}

// Set stores a series under the configured TTL. Errors are logged and
// swallowed.
func (c *CandleCache) Set(ctx context.Context, symbol, interval string, series exchange.Series) {
	if c == nil || c.client == nil || len(series) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	entry := cacheEntry{
		Symbol:   symbol,
		Interval: interval,
		CachedAt: time.Now(),
		Candles:  series,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to marshal candles for cache")
		return
	}
	if err := c.client.Set(cctx, cacheKey(symbol, interval), payload, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("symbol", symbol).Msg("Redis set error, skipping cache")
	}
}

// Invalidate drops one cached series.
func (c *CandleCache) Invalidate(ctx context.Context, symbol, interval string) {
	if c == nil || c.client == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.client.Del(cctx, cacheKey(symbol, interval)).Err(); err != nil {
		log.Debug().Err(err).Str("symbol", symbol).Msg("Redis del error")
	}
}
