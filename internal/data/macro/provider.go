package macro

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/point10890-crypto/closing-bet-sub002/internal/net/circuit"
	"github.com/point10890-crypto/closing-bet-sub002/internal/net/ratelimit"
)

// DefaultTTL is how long a fetched snapshot is reused
const DefaultTTL = 4 * time.Hour

// CachedProvider serves snapshots cache-aside: cached copy while fresh, otherwise the source
type CachedProvider struct {
	source Source
	cache  SnapshotCache
	ttl    time.Duration
}

// NewCachedProvider wraps source with cache. A non-positive ttl uses DefaultTTL.
func NewCachedProvider(source Source, cache SnapshotCache, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cache == nil {
		cache = NewMemorySnapshotCache()
	}
	return &CachedProvider{source: source, cache: cache, ttl: ttl}
}

// Snapshot returns the cached snapshot or fetches and caches a fresh one.
// Cache failures degrade to a direct fetch.
func (p *CachedProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	key := p.source.Name()

	snap, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("source", key).Msg("Macro snapshot cache read failed")
	} else if ok {
		log.Debug().Str("source", key).Time("taken", snap.Timestamp).Msg("Macro snapshot cache hit")
		return snap, nil
	}

	snap, err = p.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch macro snapshot from %s: %w", key, err)
	}
	if snap.Empty() {
		return nil, fmt.Errorf("%s returned no indicators: %w", key, ErrNoSnapshot)
	}

	if err := p.cache.Set(ctx, key, snap, p.ttl); err != nil {
		log.Warn().Err(err).Str("source", key).Msg("Macro snapshot cache write failed")
	}
	log.Debug().Str("source", key).Int("indicators", len(snap.Values)).Msg("Macro snapshot fetched")
	return snap, nil
}

// GuardedSource protects an upstream Source with a circuit breaker and a rate limiter
type GuardedSource struct {
	inner   Source
	breaker *circuit.Breaker
	limiter *ratelimit.Limiter
}

// NewGuardedSource wraps inner. Either guard may be nil.
func NewGuardedSource(inner Source, breaker *circuit.Breaker, limiter *ratelimit.Limiter) *GuardedSource {
	return &GuardedSource{inner: inner, breaker: breaker, limiter: limiter}
}

func (g *GuardedSource) Name() string { return g.inner.Name() }

// Fetch waits for a rate limit token then calls the source through the breaker
func (g *GuardedSource) Fetch(ctx context.Context) (*Snapshot, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, g.inner.Name()); err != nil {
			return nil, err
		}
	}
	if g.breaker == nil {
		return g.inner.Fetch(ctx)
	}

	var snap *Snapshot
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		snap, err = g.inner.Fetch(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
