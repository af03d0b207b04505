package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/point10890-crypto/closing-bet-sub002/internal/config"
	"github.com/point10890-crypto/closing-bet-sub002/internal/data/cache"
	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/data/macro"
	"github.com/point10890-crypto/closing-bet-sub002/internal/data/pit"
	"github.com/point10890-crypto/closing-bet-sub002/internal/gates"
	"github.com/point10890-crypto/closing-bet-sub002/internal/infrastructure/db"
	"github.com/point10890-crypto/closing-bet-sub002/internal/metrics"
	"github.com/point10890-crypto/closing-bet-sub002/internal/net/circuit"
	"github.com/point10890-crypto/closing-bet-sub002/internal/net/ratelimit"
)

// services holds the collaborators shared by the subcommands
type services struct {
	cfg     *config.AppConfig
	cache   *cache.Cache
	db      *db.Manager
	redis   *redis.Client
	metrics *metrics.Registry
	breaker *circuit.Breaker
	closers []func() error
}

func openServices(cfg *config.AppConfig) (*services, error) {
	s := &services{cfg: cfg, metrics: metrics.NewRegistry()}

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.db = manager
	s.closers = append(s.closers, manager.Close)

	store, err := s.openCandleStore()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.cache = cache.New(store)

	if cfg.Macro.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.Macro.RedisAddr})
		s.closers = append(s.closers, s.redis.Close)
	}
	return s, nil
}

func (s *services) openCandleStore() (interfaces.CandleStore, error) {
	switch s.cfg.Cache.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(s.cfg.Cache.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		store, err := cache.OpenSQLite(s.cfg.Cache.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		return store, nil
	case config.BackendPostgres:
		if !s.db.IsEnabled() {
			return nil, fmt.Errorf("cache backend %q requires database.enabled", config.BackendPostgres)
		}
		return s.db.Repository().Candles, nil
	default:
		return cache.NewFileStore(s.cfg.Cache.Dir), nil
	}
}

// Close releases every opened connection, newest first
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	s.closers = nil
}

// macroProvider chains the snapshot file through the breaker, the rate limiter and a TTL cache.
// It returns nil when no snapshot file is configured.
func (s *services) macroProvider() macro.Provider {
	if s.cfg.Macro.SnapshotFile == "" {
		return nil
	}

	s.breaker = circuit.NewBreaker(s.cfg.Macro.Circuit, func(name string, from, to circuit.State) {
		s.metrics.RecordBreakerState(name, int(to))
	})
	s.metrics.RecordBreakerState(s.breaker.Name(), int(s.breaker.State()))
	limiter := ratelimit.NewLimiter(s.cfg.Macro.RateLimit)
	source := macro.NewGuardedSource(macro.NewFileSource(s.cfg.Macro.SnapshotFile), s.breaker, limiter)

	var snapshots macro.SnapshotCache
	if s.redis != nil {
		snapshots = macro.NewRedisSnapshotCache(s.redis, s.cfg.Macro.RedisPrefix)
	}
	return macro.NewCachedProvider(source, snapshots, s.cfg.Macro.TTL)
}

func (s *services) conditions() ([]gates.Condition, error) {
	if s.cfg.Macro.ConditionsFile == "" {
		return gates.DefaultConditions(), nil
	}
	return gates.LoadConditions(s.cfg.Macro.ConditionsFile)
}

func (s *services) universeStore() *db.UniverseStore {
	return db.NewUniverseStore(s.db, pit.NewStore(s.cfg.Cache.UniverseDir))
}

// loadSeries reads one cached series
func (s *services) loadSeries(ctx context.Context, symbol string, tf interfaces.Timeframe, source string) (interfaces.Series, error) {
	series, err := s.cache.Load(ctx, interfaces.CacheKey{Symbol: symbol, Timeframe: tf, Source: source})
	if err != nil {
		return nil, fmt.Errorf("load %s %s from %s: %w", symbol, tf, source, err)
	}
	return series, nil
}

// loadBasket reads every symbol of a breadth basket, skipping symbols that are not cached
func (s *services) loadBasket(ctx context.Context, symbols []string, tf interfaces.Timeframe, source string) map[string]interfaces.Series {
	basket := make(map[string]interfaces.Series, len(symbols))
	for _, symbol := range symbols {
		series, err := s.loadSeries(ctx, symbol, tf, source)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Basket series unavailable")
			continue
		}
		basket[symbol] = series
	}
	return basket
}
