package macro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache stores snapshots with a time-to-live
type SnapshotCache interface {
	Get(ctx context.Context, key string) (*Snapshot, bool, error)
	Set(ctx context.Context, key string, snap *Snapshot, ttl time.Duration) error
}

// MemorySnapshotCache is an in-process SnapshotCache
type MemorySnapshotCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	snap    Snapshot
	expires time.Time
}

// NewMemorySnapshotCache creates an empty in-memory cache
func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the cached snapshot if it has not expired
func (c *MemorySnapshotCache) Get(ctx context.Context, key string) (*Snapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || (!e.expires.IsZero() && c.now().After(e.expires)) {
		return nil, false, nil
	}
	snap := cloneSnapshot(e.snap)
	return &snap, true, nil
}

// Set stores a copy of snap. A non-positive ttl never expires.
func (c *MemorySnapshotCache) Set(ctx context.Context, key string, snap *Snapshot, ttl time.Duration) error {
	if snap == nil {
		return errors.New("cannot cache nil snapshot")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := memoryEntry{snap: cloneSnapshot(*snap)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func cloneSnapshot(s Snapshot) Snapshot {
	values := make(map[string]float64, len(s.Values))
	for k, v := range s.Values {
		values[k] = v
	}
	s.Values = values
	return s
}

// RedisSnapshotCache stores JSON encoded snapshots in Redis under a key prefix
type RedisSnapshotCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisSnapshotCache creates a Redis backed cache. An empty prefix defaults to "macro".
func NewRedisSnapshotCache(rdb *redis.Client, prefix string) *RedisSnapshotCache {
	if prefix == "" {
		prefix = "macro"
	}
	return &RedisSnapshotCache{rdb: rdb, prefix: prefix}
}

func (c *RedisSnapshotCache) key(key string) string {
	return c.prefix + ":snapshot:" + key
}

// Get returns the cached snapshot. Corrupt entries are deleted and reported as misses.
func (c *RedisSnapshotCache) Get(ctx context.Context, key string) (*Snapshot, bool, error) {
	b, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", c.key(key), err)
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		_ = c.rdb.Del(ctx, c.key(key)).Err()
		return nil, false, nil
	}
	return &snap, true, nil
}

// Set stores snap with the given ttl
func (c *RedisSnapshotCache) Set(ctx context.Context, key string, snap *Snapshot, ttl time.Duration) error {
	if snap == nil {
		return errors.New("cannot cache nil snapshot")
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(key), b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key(key), err)
	}
	return nil
}
