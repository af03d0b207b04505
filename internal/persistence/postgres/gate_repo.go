package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/point10890-crypto/closing-bet-sub002/internal/persistence"
)

// gateRepo implements GateRepo for PostgreSQL
type gateRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewGateRepo creates a new PostgreSQL gate history repository
func NewGateRepo(db *sqlx.DB, timeout time.Duration) persistence.GateRepo {
	return &gateRepo{
		db:      db,
		timeout: timeout,
	}
}

func isValidStatus(status string) bool {
	switch status {
	case "GREEN", "YELLOW", "RED":
		return true
	}
	return false
}

// Upsert inserts or replaces the gate snapshot for its timestamp
func (r *gateRepo) Upsert(ctx context.Context, snapshot persistence.GateSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !isValidStatus(snapshot.Status) {
		return fmt.Errorf("invalid gate status: %s", snapshot.Status)
	}
	if snapshot.Score < 0 || snapshot.Score > 100 {
		return fmt.Errorf("gate score %.2f outside [0,100]", snapshot.Score)
	}

	componentsJSON, err := json.Marshal(snapshot.Components)
	if err != nil {
		return fmt.Errorf("failed to marshal components: %w", err)
	}
	reasonsJSON, err := json.Marshal(snapshot.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}

	query := `
		INSERT INTO gate_snapshots (ts, status, score, components, reasons)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ts) DO UPDATE SET
			status = EXCLUDED.status,
			score = EXCLUDED.score,
			components = EXCLUDED.components,
			reasons = EXCLUDED.reasons
		RETURNING created_at`

	err = r.db.QueryRowxContext(ctx, query,
		snapshot.Timestamp, snapshot.Status, snapshot.Score, componentsJSON, reasonsJSON).
		Scan(&snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert gate snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent gate snapshot, nil when none exist
func (r *gateRepo) Latest(ctx context.Context) (*persistence.GateSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx, `
		SELECT ts, status, score, components, reasons, created_at
		FROM gate_snapshots
		ORDER BY ts DESC
		LIMIT 1`)
	snapshot, err := scanGateSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest gate snapshot: %w", err)
	}
	return snapshot, nil
}

// ListRange retrieves gate history within a window, newest first
func (r *gateRepo) ListRange(ctx context.Context, tr persistence.TimeRange) ([]persistence.GateSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT ts, status, score, components, reasons, created_at
		FROM gate_snapshots
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts DESC`, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query gate range: %w", err)
	}
	defer rows.Close()

	var snapshots []persistence.GateSnapshot
	for rows.Next() {
		snapshot, err := scanGateSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gate snapshot: %w", err)
		}
		snapshots = append(snapshots, *snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gate range iteration error: %w", err)
	}
	return snapshots, nil
}

// StatusCounts returns how often each status occurred within a window
func (r *gateRepo) StatusCounts(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT status, COUNT(*)
		FROM gate_snapshots
		WHERE ts >= $1 AND ts <= $2
		GROUP BY status`, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query gate status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanGateSnapshot(row scanner) (*persistence.GateSnapshot, error) {
	var (
		snapshot       persistence.GateSnapshot
		componentsJSON []byte
		reasonsJSON    []byte
	)
	if err := row.Scan(&snapshot.Timestamp, &snapshot.Status, &snapshot.Score,
		&componentsJSON, &reasonsJSON, &snapshot.CreatedAt); err != nil {
		return nil, err
	}
	if len(componentsJSON) > 0 {
		if err := json.Unmarshal(componentsJSON, &snapshot.Components); err != nil {
			return nil, fmt.Errorf("failed to unmarshal components: %w", err)
		}
	}
	if len(reasonsJSON) > 0 {
		if err := json.Unmarshal(reasonsJSON, &snapshot.Reasons); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reasons: %w", err)
		}
	}
	return &snapshot, nil
}
