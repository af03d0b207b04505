package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/persistence"
)

// candleRepo implements CandleRepo for PostgreSQL
type candleRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCandleRepo creates a new PostgreSQL candle repository
func NewCandleRepo(db *sqlx.DB, timeout time.Duration) persistence.CandleRepo {
	return &candleRepo{
		db:      db,
		timeout: timeout,
	}
}

type candleRow struct {
	TsNs   int64   `db:"ts_ns"`
	Open   float64 `db:"open"`
	High   float64 `db:"high"`
	Low    float64 `db:"low"`
	Close  float64 `db:"close"`
	Volume float64 `db:"volume"`
}

func (r candleRow) candle() interfaces.Candle {
	return interfaces.Candle{
		Timestamp: time.Unix(0, r.TsNs).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}

type seriesRow struct {
	Symbol    string `db:"symbol"`
	Timeframe string `db:"timeframe"`
	Source    string `db:"source"`
	Hash      string `db:"hash"`
	UpdatedNs int64  `db:"updated_ns"`
}

// Put replaces the stored series of a key atomically
func (r *candleRepo) Put(ctx context.Context, entry interfaces.CacheEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(entry.Candles)/1000+1))
	defer cancel()

	key := entry.Key
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cached_candles WHERE symbol = $1 AND timeframe = $2 AND source = $3`,
		key.Symbol, string(key.Timeframe), key.Source); err != nil {
		return fmt.Errorf("failed to clear candles: %w", err)
	}

	if len(entry.Candles) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cached_candles (symbol, timeframe, source, ts_ns, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, c := range entry.Candles {
			if _, err := stmt.ExecContext(ctx,
				key.Symbol, string(key.Timeframe), key.Source, c.Timestamp.UnixNano(),
				c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
				return fmt.Errorf("failed to insert candle: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cached_series (symbol, timeframe, source, hash, updated_ns)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol, timeframe, source) DO UPDATE SET
			hash = EXCLUDED.hash,
			updated_ns = EXCLUDED.updated_ns`,
		key.Symbol, string(key.Timeframe), key.Source, entry.Hash, entry.UpdatedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to upsert series metadata: %w", err)
	}

	return tx.Commit()
}

// Get retrieves the full series of a key
func (r *candleRepo) Get(ctx context.Context, key interfaces.CacheKey) (*interfaces.CacheEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var meta seriesRow
	err := r.db.QueryRowxContext(ctx, `
		SELECT symbol, timeframe, source, hash, updated_ns
		FROM cached_series
		WHERE symbol = $1 AND timeframe = $2 AND source = $3`,
		key.Symbol, string(key.Timeframe), key.Source).StructScan(&meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get series metadata: %w", err)
	}

	var rows []candleRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT ts_ns, open, high, low, close, volume
		FROM cached_candles
		WHERE symbol = $1 AND timeframe = $2 AND source = $3
		ORDER BY ts_ns ASC`,
		key.Symbol, string(key.Timeframe), key.Source); err != nil {
		return nil, fmt.Errorf("failed to list candles: %w", err)
	}

	series := make(interfaces.Series, 0, len(rows))
	for _, row := range rows {
		series = append(series, row.candle())
	}

	return &interfaces.CacheEntry{
		Key:       key,
		Candles:   series,
		Hash:      meta.Hash,
		UpdatedAt: time.Unix(0, meta.UpdatedNs).UTC(),
	}, nil
}

// Range retrieves candles of a key inside a time window (PIT-ordered)
func (r *candleRepo) Range(ctx context.Context, key interfaces.CacheKey, tr persistence.TimeRange) (interfaces.Series, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []candleRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT ts_ns, open, high, low, close, volume
		FROM cached_candles
		WHERE symbol = $1 AND timeframe = $2 AND source = $3 AND ts_ns >= $4 AND ts_ns <= $5
		ORDER BY ts_ns ASC`,
		key.Symbol, string(key.Timeframe), key.Source, tr.From.UnixNano(), tr.To.UnixNano()); err != nil {
		return nil, fmt.Errorf("failed to list candles in range: %w", err)
	}

	series := make(interfaces.Series, 0, len(rows))
	for _, row := range rows {
		series = append(series, row.candle())
	}
	return series, nil
}

// Delete removes a key and its candles
func (r *candleRepo) Delete(ctx context.Context, key interfaces.CacheKey) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM cached_series WHERE symbol = $1 AND timeframe = $2 AND source = $3`,
		key.Symbol, string(key.Timeframe), key.Source)
	if err != nil {
		return fmt.Errorf("failed to delete series metadata: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return interfaces.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cached_candles WHERE symbol = $1 AND timeframe = $2 AND source = $3`,
		key.Symbol, string(key.Timeframe), key.Source); err != nil {
		return fmt.Errorf("failed to delete candles: %w", err)
	}

	return tx.Commit()
}

// Keys lists every stored key
func (r *candleRepo) Keys(ctx context.Context) ([]interfaces.CacheKey, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []seriesRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT symbol, timeframe, source, hash, updated_ns
		FROM cached_series
		ORDER BY source, timeframe, symbol`); err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}

	keys := make([]interfaces.CacheKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, interfaces.CacheKey{
			Symbol:    row.Symbol,
			Timeframe: interfaces.Timeframe(row.Timeframe),
			Source:    row.Source,
		})
	}
	return keys, nil
}
