package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/data/pit"
	"github.com/point10890-crypto/closing-bet-sub002/internal/persistence"
)

const sqlDate = "2006-01-02"

// universeRepo implements UniverseRepo for PostgreSQL
type universeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewUniverseRepo creates a new PostgreSQL universe snapshot repository
func NewUniverseRepo(db *sqlx.DB, timeout time.Duration) persistence.UniverseRepo {
	return &universeRepo{
		db:      db,
		timeout: timeout,
	}
}

// Save inserts a snapshot; existing (date, source) rows are left untouched
func (r *universeRepo) Save(ctx context.Context, snapshot interfaces.UniverseSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if snapshot.Source == "" {
		return fmt.Errorf("snapshot source is required")
	}
	day := pit.Day(snapshot.Date).Format(sqlDate)

	metadata := snapshot.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	symbols := snapshot.Symbols
	if symbols == nil {
		symbols = []string{}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO universe_snapshots (snapshot_date, source, symbols, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (snapshot_date, source) DO NOTHING`,
		day, snapshot.Source, pq.Array(symbols), metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to insert universe snapshot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %s: %w", snapshot.Source, day, pit.ErrSnapshotExists)
	}
	return nil
}

// Get retrieves the snapshot for an exact date and source
func (r *universeRepo) Get(ctx context.Context, date time.Time, source string) (*interfaces.UniverseSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	day := pit.Day(date).Format(sqlDate)

	var (
		snapshot     interfaces.UniverseSnapshot
		symbols      []string
		metadataJSON []byte
	)
	err := r.db.QueryRowxContext(ctx, `
		SELECT snapshot_date, source, symbols, metadata, created_at
		FROM universe_snapshots
		WHERE snapshot_date = $1 AND source = $2`,
		day, source).
		Scan(&snapshot.Date, &snapshot.Source, pq.Array(&symbols), &metadataJSON, &snapshot.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", source, day, pit.ErrSnapshotNotFound)
		}
		return nil, fmt.Errorf("failed to get universe snapshot: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &snapshot.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	snapshot.Symbols = symbols
	snapshot.Date = pit.Day(snapshot.Date)
	return &snapshot, nil
}

// Dates lists snapshot dates for a source within a window
func (r *universeRepo) Dates(ctx context.Context, source string, tr persistence.TimeRange) ([]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var dates []time.Time
	if err := r.db.SelectContext(ctx, &dates, `
		SELECT snapshot_date
		FROM universe_snapshots
		WHERE source = $1 AND snapshot_date >= $2 AND snapshot_date <= $3
		ORDER BY snapshot_date ASC`,
		source, pit.Day(tr.From).Format(sqlDate), pit.Day(tr.To).Format(sqlDate)); err != nil {
		return nil, fmt.Errorf("failed to list universe dates: %w", err)
	}

	for i := range dates {
		dates[i] = pit.Day(dates[i])
	}
	return dates, nil
}
