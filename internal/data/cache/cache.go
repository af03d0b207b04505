package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

var (
	// ErrNotFound is returned when no series is cached for a key
	ErrNotFound = interfaces.ErrNotFound
	// ErrIntegrity is returned when a loaded series does not match its stored content hash
	ErrIntegrity = errors.New("cache entry failed integrity check")
)

// Cache stores candle series keyed by (symbol, timeframe, source) so backtests
// replay against exactly the data they saw the first time.
// Saving a key again overwrites the previous series.
type Cache struct {
	store interfaces.CandleStore
	now   func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
}

// New creates a cache over the given store
func New(store interfaces.CandleStore) *Cache {
	return &Cache{store: store, now: time.Now}
}

// Save validates and persists a series, returning its content hash
func (c *Cache) Save(ctx context.Context, key interfaces.CacheKey, series interfaces.Series) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	if err := series.Validate(); err != nil {
		return "", fmt.Errorf("series %s: %w", key, err)
	}

	hash := ContentHash(series)
	entry := interfaces.CacheEntry{
		Key:       key,
		Candles:   normalize(series),
		Hash:      hash,
		UpdatedAt: c.now().UTC(),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", key, err)
	}
	c.writes.Add(1)

	log.Debug().Str("key", key.String()).Int("candles", len(series)).
		Str("hash", hash[:12]).Msg("Cached series saved")
	return hash, nil
}

// Load returns the cached series for a key after verifying its content hash
func (c *Cache) Load(ctx context.Context, key interfaces.CacheKey) (interfaces.Series, error) {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.misses.Add(1)
		}
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}

	if got := ContentHash(entry.Candles); entry.Hash != "" && got != entry.Hash {
		log.Warn().Str("key", key.String()).Str("stored", entry.Hash).Str("computed", got).
			Msg("Cached series hash mismatch")
		return nil, fmt.Errorf("%s: %w", key, ErrIntegrity)
	}
	c.hits.Add(1)
	return normalize(entry.Candles), nil
}

// Has reports whether a series is cached for the key
func (c *Cache) Has(ctx context.Context, key interfaces.CacheKey) (bool, error) {
	_, err := c.store.Get(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Hash returns the stored content hash for a key
func (c *Cache) Hash(ctx context.Context, key interfaces.CacheKey) (string, error) {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return entry.Hash, nil
}

// Delete removes a cached series. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key interfaces.CacheKey) error {
	if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every cached key
func (c *Cache) Keys(ctx context.Context) ([]interfaces.CacheKey, error) {
	return c.store.Keys(ctx)
}

// Stats returns hit/miss counters for the cache
func (c *Cache) Stats() interfaces.CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	ratio := 0.0
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return interfaces.CacheStats{
		Hits:     hits,
		Misses:   misses,
		Writes:   c.writes.Load(),
		HitRatio: ratio,
	}
}

// normalize copies the series with all timestamps in UTC
func normalize(series interfaces.Series) interfaces.Series {
	out := make(interfaces.Series, len(series))
	for i, c := range series {
		c.Timestamp = c.Timestamp.UTC()
		out[i] = c
	}
	return out
}
