package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema creates the tables used by the PostgreSQL repositories.
// Candle timestamps are BIGINT unix nanoseconds so they round-trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS cached_series (
	symbol     TEXT   NOT NULL,
	timeframe  TEXT   NOT NULL,
	source     TEXT   NOT NULL,
	hash       TEXT   NOT NULL,
	updated_ns BIGINT NOT NULL,
	PRIMARY KEY (symbol, timeframe, source)
);

CREATE TABLE IF NOT EXISTS cached_candles (
	symbol    TEXT             NOT NULL,
	timeframe TEXT             NOT NULL,
	source    TEXT             NOT NULL,
	ts_ns     BIGINT           NOT NULL,
	open      DOUBLE PRECISION NOT NULL,
	high      DOUBLE PRECISION NOT NULL,
	low       DOUBLE PRECISION NOT NULL,
	close     DOUBLE PRECISION NOT NULL,
	volume    DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, timeframe, source, ts_ns)
);

CREATE TABLE IF NOT EXISTS universe_snapshots (
	snapshot_date DATE        NOT NULL,
	source        TEXT        NOT NULL,
	symbols       TEXT[]      NOT NULL,
	metadata      JSONB       NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (snapshot_date, source)
);

CREATE TABLE IF NOT EXISTS gate_snapshots (
	ts         TIMESTAMPTZ      PRIMARY KEY,
	status     TEXT             NOT NULL,
	score      DOUBLE PRECISION NOT NULL,
	components JSONB            NOT NULL DEFAULT '{}',
	reasons    JSONB            NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ      NOT NULL DEFAULT NOW()
);
`

// Tables lists every table Schema creates
var Tables = []string{"cached_series", "cached_candles", "universe_snapshots", "gate_snapshots"}

// Migrate applies Schema
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
