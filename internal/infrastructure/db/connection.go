package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // PostgreSQL driver

	"github.com/point10890-crypto/closing-bet-sub002/internal/persistence"
	"github.com/point10890-crypto/closing-bet-sub002/internal/persistence/postgres"
)

// Config holds database connection configuration
type Config struct {
	DSN             string        `yaml:"dsn" env:"PG_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"PG_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"PG_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"PG_CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"PG_CONN_MAX_IDLE_TIME" default:"5m"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env:"PG_QUERY_TIMEOUT" default:"30s"`
	Enabled         bool          `yaml:"enabled" env:"PG_ENABLED"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"PG_AUTO_MIGRATE"`
}

// DefaultConfig returns a disabled configuration with pool defaults
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// connectTimeout bounds the initial connect and ping
const connectTimeout = 10 * time.Second

// Manager owns the PostgreSQL handle and the repositories built on it.
// A disabled manager has no handle and a nil Repository.
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *persistence.Repository
	health *healthChecker
}

// NewManager connects when config.Enabled and optionally applies the schema
func NewManager(config Config) (*Manager, error) {
	if !config.Enabled {
		return &Manager{config: config, health: &healthChecker{}}, nil
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if config.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return NewManagerWithDB(db, config), nil
}

// NewManagerWithDB wraps an already-open connection
func NewManagerWithDB(db *sqlx.DB, config Config) *Manager {
	config.Enabled = true
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = DefaultConfig().QueryTimeout
	}

	return &Manager{
		db:     db,
		config: config,
		repos: &persistence.Repository{
			Candles:  postgres.NewCandleRepo(db, config.QueryTimeout),
			Universe: postgres.NewUniverseRepo(db, config.QueryTimeout),
			Gates:    postgres.NewGateRepo(db, config.QueryTimeout),
		},
		health: &healthChecker{db: db, timeout: config.QueryTimeout},
	}
}

// Repository returns the repositories, nil when the database is disabled
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// Health returns the health checker
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// DB returns the underlying handle, nil when disabled
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// IsEnabled reports whether a live handle exists
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled && m.db != nil
}

// Close closes the handle if one is open
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// healthChecker pings the database and verifies the cache schema is in place
type healthChecker struct {
	db      *sqlx.DB // nil when disabled
	timeout time.Duration
}

const tablesQuery = `
SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_name = ANY($1)`

func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	now := time.Now()
	if h.db == nil {
		return persistence.HealthCheck{
			Healthy:        true,
			Errors:         []string{"Database persistence disabled"},
			ConnectionPool: map[string]int{},
			LastCheck:      now,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	check := persistence.HealthCheck{Healthy: true, LastCheck: now}
	if err := h.db.PingContext(ctx); err != nil {
		check.Healthy = false
		check.Errors = append(check.Errors, fmt.Sprintf("ping failed: %v", err))
	} else if missing, err := h.missingTables(ctx); err != nil {
		check.Healthy = false
		check.Errors = append(check.Errors, fmt.Sprintf("schema check failed: %v", err))
	} else if len(missing) > 0 {
		check.Healthy = false
		check.Errors = append(check.Errors, fmt.Sprintf("missing tables: %v", missing))
	}

	check.ConnectionPool = h.pool()
	check.ResponseTimeMS = time.Since(now).Milliseconds()
	return check
}

func (h *healthChecker) missingTables(ctx context.Context) ([]string, error) {
	var found []string
	if err := h.db.SelectContext(ctx, &found, tablesQuery, pq.Array(postgres.Tables)); err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(found))
	for _, name := range found {
		present[name] = true
	}
	var missing []string
	for _, name := range postgres.Tables {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

func (h *healthChecker) Ping(ctx context.Context) error {
	if h.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(ctx)
}

func (h *healthChecker) Stats(ctx context.Context) map[string]interface{} {
	if h.db == nil {
		return map[string]interface{}{"enabled": false, "status": "disabled"}
	}
	out := map[string]interface{}{"enabled": true}
	for k, v := range h.pool() {
		out[k] = v
	}
	return out
}

func (h *healthChecker) pool() map[string]int {
	st := h.db.Stats()
	return map[string]int{
		"max_open_connections": st.MaxOpenConnections,
		"open_connections":     st.OpenConnections,
		"in_use":               st.InUse,
		"idle":                 st.Idle,
		"wait_count":           int(st.WaitCount),
		"wait_duration_ms":     int(st.WaitDuration.Milliseconds()),
	}
}
