package pit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStore_SaveIsImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewStore(t.TempDir())

	first := NewSnapshot(day(2024, 6, 3), "kospi200", []string{"005930", "000660"}, map[string]string{"rebalance": "june"})
	require.NoError(t, store.Save(ctx, first))

	second := NewSnapshot(day(2024, 6, 3).Add(10*time.Hour), "kospi200", []string{"035420"}, nil)
	err := store.Save(ctx, second)
	assert.True(t, errors.Is(err, ErrSnapshotExists))

	got, err := store.Get(ctx, day(2024, 6, 3), "kospi200")
	require.NoError(t, err)
	assert.Equal(t, []string{"005930", "000660"}, got.Symbols)
	assert.Equal(t, "june", got.Metadata["rebalance"])
	assert.True(t, got.Date.Equal(day(2024, 6, 3)))
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStore_GetMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Get(context.Background(), day(2024, 1, 1), "kospi200")
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))
}

func TestSearchOffsets(t *testing.T) {
	assert.Equal(t, []int{0, 1, -1, 2, -2, 3, -3}, SearchOffsets(3))
	assert.Equal(t, []int{0}, SearchOffsets(0))
}

func TestStore_GetNearest(t *testing.T) {
	ctx := context.Background()
	store := NewStore(t.TempDir())

	// Friday and the following Monday
	require.NoError(t, store.Save(ctx, NewSnapshot(day(2024, 6, 7), "kosdaq", []string{"FRI"}, nil)))
	require.NoError(t, store.Save(ctx, NewSnapshot(day(2024, 6, 10), "kosdaq", []string{"MON"}, nil)))

	tests := []struct {
		name    string
		target  time.Time
		maxDays int
		want    string
		wantErr bool
	}{
		{"exact", day(2024, 6, 7), 7, "FRI", false},
		{"saturday prefers friday at distance one", day(2024, 6, 8), 7, "FRI", false},
		{"sunday prefers monday at distance one", day(2024, 6, 9), 7, "MON", false},
		{"intraday target truncates to day", day(2024, 6, 9).Add(15 * time.Hour), 1, "MON", false},
		{"out of range", day(2024, 6, 20), 3, "", true},
		{"default bound", day(2024, 6, 16), 0, "MON", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetNearest(ctx, tt.target, "kosdaq", tt.maxDays)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrSnapshotNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, got.Symbols)
		})
	}
}

type countingStore struct {
	lookups []time.Time
}

func (c *countingStore) Save(ctx context.Context, s interfaces.UniverseSnapshot) error { return nil }

func (c *countingStore) Get(ctx context.Context, date time.Time, source string) (*interfaces.UniverseSnapshot, error) {
	c.lookups = append(c.lookups, date)
	return nil, ErrSnapshotNotFound
}

func TestGetNearest_SearchOrder(t *testing.T) {
	store := &countingStore{}
	_, err := GetNearest(context.Background(), store, day(2024, 3, 15), "x", 2)
	require.Error(t, err)

	want := []time.Time{day(2024, 3, 15), day(2024, 3, 16), day(2024, 3, 14), day(2024, 3, 17), day(2024, 3, 13)}
	assert.Equal(t, want, store.lookups)
}

func TestStore_RejectsEscapingSources(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "pit"))

	for _, source := range []string{"", ".", "..", "a/b"} {
		err := store.Save(ctx, NewSnapshot(day(2024, 3, 4), source, []string{"A"}, nil))
		assert.ErrorContains(t, err, "invalid snapshot source", source)
		_, err = store.Get(ctx, day(2024, 3, 4), source)
		assert.Error(t, err, source)
		_, err = store.Dates(source)
		assert.Error(t, err, source)
	}

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_Dates(t *testing.T) {
	ctx := context.Background()
	store := NewStore(t.TempDir())
	require.NoError(t, store.Save(ctx, NewSnapshot(day(2024, 2, 2), "s", nil, nil)))
	require.NoError(t, store.Save(ctx, NewSnapshot(day(2024, 1, 5), "s", nil, nil)))

	dates, err := store.Dates("s")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2024, 1, 5), day(2024, 2, 2)}, dates)

	empty, err := store.Dates("missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
