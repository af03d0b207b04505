package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/data/pit"
	"github.com/point10890-crypto/closing-bet-sub002/internal/persistence"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

var testKey = interfaces.CacheKey{Symbol: "005930", Timeframe: interfaces.TF1d, Source: "krx"}

func TestCandleRepo_Put(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCandleRepo(db, time.Second)

	ts := time.Date(2024, 5, 2, 6, 30, 0, 17, time.UTC)
	entry := interfaces.CacheEntry{
		Key: testKey,
		Candles: interfaces.Series{
			{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
			{Timestamp: ts.AddDate(0, 0, 1), Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 200},
		},
		Hash:      "abc",
		UpdatedAt: ts,
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cached_candles").
		WithArgs("005930", "1d", "krx").
		WillReturnResult(sqlmock.NewResult(0, 5))
	prep := mock.ExpectPrepare("INSERT INTO cached_candles")
	prep.ExpectExec().
		WithArgs("005930", "1d", "krx", ts.UnixNano(), 1.0, 2.0, 0.5, 1.5, 100.0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs("005930", "1d", "krx", ts.AddDate(0, 0, 1).UnixNano(), 1.5, 2.5, 1.0, 2.0, 200.0).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("INSERT INTO cached_series").
		WithArgs("005930", "1d", "krx", "abc", ts.UnixNano()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Put(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandleRepo_PutRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCandleRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cached_candles").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Put(context.Background(), interfaces.CacheEntry{Key: testKey})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to clear candles")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandleRepo_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCandleRepo(db, time.Second)

	ts := time.Date(2024, 5, 2, 6, 30, 0, 17, time.UTC)
	mock.ExpectQuery("SELECT symbol, timeframe, source, hash, updated_ns FROM cached_series").
		WithArgs("005930", "1d", "krx").
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "timeframe", "source", "hash", "updated_ns"}).
			AddRow("005930", "1d", "krx", "abc", ts.UnixNano()))
	mock.ExpectQuery("SELECT ts_ns, open, high, low, close, volume FROM cached_candles").
		WithArgs("005930", "1d", "krx").
		WillReturnRows(sqlmock.NewRows([]string{"ts_ns", "open", "high", "low", "close", "volume"}).
			AddRow(ts.UnixNano(), 1.0, 2.0, 0.5, 1.5, 100.0).
			AddRow(ts.AddDate(0, 0, 1).UnixNano(), 1.5, 2.5, 1.0, 2.0, 200.0))

	entry, err := repo.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, "abc", entry.Hash)
	require.Len(t, entry.Candles, 2)
	assert.True(t, entry.Candles[0].Timestamp.Equal(ts))
	assert.Equal(t, 200.0, entry.Candles[1].Volume)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandleRepo_GetMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCandleRepo(db, time.Second)

	mock.ExpectQuery("FROM cached_series").
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "timeframe", "source", "hash", "updated_ns"}))

	_, err := repo.Get(context.Background(), testKey)
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
}

func TestCandleRepo_DeleteMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCandleRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cached_series").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), testKey)
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandleRepo_Keys(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCandleRepo(db, time.Second)

	mock.ExpectQuery("FROM cached_series").
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "timeframe", "source", "hash", "updated_ns"}).
			AddRow("BTC", "1h", "upbit", "h1", int64(1)).
			AddRow("005930", "1d", "krx", "h2", int64(2)))

	keys, err := repo.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interfaces.CacheKey{
		{Symbol: "BTC", Timeframe: interfaces.TF1h, Source: "upbit"},
		{Symbol: "005930", Timeframe: interfaces.TF1d, Source: "krx"},
	}, keys)
}

func TestUniverseRepo_SaveConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUniverseRepo(db, time.Second)

	snapshot := pit.NewSnapshot(time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC), "kospi200", []string{"005930"}, nil)

	mock.ExpectExec("INSERT INTO universe_snapshots").
		WithArgs("2024-06-03", "kospi200", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO universe_snapshots").
		WithArgs("2024-06-03", "kospi200", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Save(context.Background(), snapshot))
	err := repo.Save(context.Background(), snapshot)
	assert.True(t, errors.Is(err, pit.ErrSnapshotExists))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUniverseRepo_GetAndNearest(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUniverseRepo(db, time.Second)
	columns := []string{"snapshot_date", "source", "symbols", "metadata", "created_at"}
	created := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	// target 2024-06-09: offset 0 misses, +1 hits
	mock.ExpectQuery("FROM universe_snapshots").
		WithArgs("2024-06-09", "kosdaq").
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery("FROM universe_snapshots").
		WithArgs("2024-06-10", "kosdaq").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), "kosdaq", "{035720,091990}", []byte(`{"note":"monday"}`), created))

	snapshot, err := pit.GetNearest(context.Background(), repo, time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC), "kosdaq", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"035720", "091990"}, snapshot.Symbols)
	assert.Equal(t, "monday", snapshot.Metadata["note"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGateRepo_UpsertValidation(t *testing.T) {
	db, _ := newMock(t)
	repo := NewGateRepo(db, time.Second)

	err := repo.Upsert(context.Background(), persistence.GateSnapshot{Status: "PURPLE", Score: 50})
	assert.ErrorContains(t, err, "invalid gate status")

	err = repo.Upsert(context.Background(), persistence.GateSnapshot{Status: "GREEN", Score: 120})
	assert.ErrorContains(t, err, "outside")
}

func TestGateRepo_UpsertAndLatest(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGateRepo(db, time.Second)
	ts := time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO gate_snapshots").
		WithArgs(ts, "GREEN", 98.0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(ts))

	require.NoError(t, repo.Upsert(context.Background(), persistence.GateSnapshot{
		Timestamp:  ts,
		Status:     "GREEN",
		Score:      98,
		Components: map[string]float64{"trend": 35},
		Reasons:    []string{"trend aligned"},
	}))

	mock.ExpectQuery("FROM gate_snapshots").
		WillReturnRows(sqlmock.NewRows([]string{"ts", "status", "score", "components", "reasons", "created_at"}).
			AddRow(ts, "GREEN", 98.0, []byte(`{"trend":35}`), []byte(`["trend aligned"]`), ts))

	latest, err := repo.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 35.0, latest.Components["trend"])
	assert.Equal(t, []string{"trend aligned"}, latest.Reasons)

	mock.ExpectQuery("FROM gate_snapshots").
		WillReturnRows(sqlmock.NewRows([]string{"ts", "status", "score", "components", "reasons", "created_at"}))
	none, err := repo.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, none)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGateRepo_StatusCounts(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGateRepo(db, time.Second)
	tr := persistence.TimeRange{From: time.Unix(0, 0).UTC(), To: time.Unix(100, 0).UTC()}

	mock.ExpectQuery("GROUP BY status").
		WithArgs(tr.From, tr.To).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("GREEN", int64(4)).
			AddRow("RED", int64(1)))

	counts, err := repo.StatusCounts(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"GREEN": 4, "RED": 1}, counts)
}

func TestMigrate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS cached_series").
		WillReturnResult(driver.ResultNoRows)
	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
