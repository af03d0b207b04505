package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/pit"
)

func TestUniverseStore_FileOnly(t *testing.T) {
	ctx := context.Background()
	manager, err := NewManager(Config{Enabled: false})
	require.NoError(t, err)

	store := NewUniverseStore(manager, pit.NewStore(t.TempDir()))
	date := time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, pit.NewSnapshot(date, "kospi", []string{"005930"}, nil)))
	assert.True(t, errors.Is(store.Save(ctx, pit.NewSnapshot(date, "kospi", nil, nil)), pit.ErrSnapshotExists))

	got, err := store.GetNearest(ctx, date.AddDate(0, 0, 1), "kospi", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"005930"}, got.Symbols)
}

func TestUniverseStore_DatabaseFirstWithFileFallback(t *testing.T) {
	ctx := context.Background()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	manager := NewManagerWithDB(sqlx.NewDb(mockDB, "postgres"), Config{QueryTimeout: time.Second})
	store := NewUniverseStore(manager, pit.NewStore(t.TempDir()))
	date := time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO universe_snapshots").
		WithArgs("2024-06-07", "kospi", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("database unavailable"))
	require.NoError(t, store.Save(ctx, pit.NewSnapshot(date, "kospi", []string{"005930"}, nil)))

	// database misses, file copy answers
	mock.ExpectQuery("FROM universe_snapshots").
		WithArgs("2024-06-07", "kospi").
		WillReturnRows(sqlmock.NewRows([]string{"snapshot_date", "source", "symbols", "metadata", "created_at"}))
	got, err := store.Get(ctx, date, "kospi")
	require.NoError(t, err)
	assert.Equal(t, []string{"005930"}, got.Symbols)

	// database hit wins
	mock.ExpectQuery("FROM universe_snapshots").
		WithArgs("2024-06-07", "kospi").
		WillReturnRows(sqlmock.NewRows([]string{"snapshot_date", "source", "symbols", "metadata", "created_at"}).
			AddRow(date, "kospi", "{000660}", []byte(`{}`), date))
	got, err = store.Get(ctx, date, "kospi")
	require.NoError(t, err)
	assert.Equal(t, []string{"000660"}, got.Symbols)

	assert.NoError(t, mock.ExpectationsWereMet())
}
