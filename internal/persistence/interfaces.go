package persistence

import (
	"context"
	"time"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

// TimeRange represents a time window for data queries with PIT integrity
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether ts falls inside the inclusive range
func (tr TimeRange) Contains(ts time.Time) bool {
	return !ts.Before(tr.From) && !ts.After(tr.To)
}

// GateSnapshot is one persisted market gate evaluation
type GateSnapshot struct {
	Timestamp  time.Time          `json:"ts" db:"ts"`
	Status     string             `json:"status" db:"status"`
	Score      float64            `json:"score" db:"score"`
	Components map[string]float64 `json:"components" db:"components"`
	Reasons    []string           `json:"reasons" db:"reasons"`
	CreatedAt  time.Time          `json:"created_at" db:"created_at"`
}

// CandleRepo persists cached series in PostgreSQL
type CandleRepo interface {
	interfaces.CandleStore

	// Range retrieves the candles of a key inside a time window (PIT-ordered)
	Range(ctx context.Context, key interfaces.CacheKey, tr TimeRange) (interfaces.Series, error)
}

// UniverseRepo persists point-in-time universe snapshots
type UniverseRepo interface {
	interfaces.UniverseStore

	// Dates lists snapshot dates for a source within a window
	Dates(ctx context.Context, source string, tr TimeRange) ([]time.Time, error)
}

// GateRepo keeps market gate history for audits and dashboards
type GateRepo interface {
	// Upsert inserts or replaces the gate snapshot for its timestamp
	Upsert(ctx context.Context, snapshot GateSnapshot) error

	// Latest returns the most recent gate snapshot, nil when none exist
	Latest(ctx context.Context) (*GateSnapshot, error)

	// ListRange retrieves gate history within a window, newest first
	ListRange(ctx context.Context, tr TimeRange) ([]GateSnapshot, error)

	// StatusCounts returns how often each status occurred within a window
	StatusCounts(ctx context.Context, tr TimeRange) (map[string]int64, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Candles  CandleRepo
	Universe UniverseRepo
	Gates    GateRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error

	// Stats returns connection pool and query statistics
	Stats(ctx context.Context) map[string]interface{}
}
