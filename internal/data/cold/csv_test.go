package cold

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

func TestReadCSV(t *testing.T) {
	in := `Date,O,H,L,C,Vol
2024-01-03,101,103,100,102.5,1500
2024-01-02,100,102,99,101,1200
`
	series, err := NewCSVReader().Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), series[0].Timestamp)
	assert.Equal(t, interfaces.Candle{
		Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		Open:      101, High: 103, Low: 100, Close: 102.5, Volume: 1500,
	}, series[1])
}

func TestReadCSV_Timestamps(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339", "2024-01-02T09:30:00+09:00", time.Date(2024, 1, 2, 0, 30, 0, 0, time.UTC)},
		{"unix seconds", "1704153600", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"unix millis", "1704153600000", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"space separated", "2024-01-02 15:04:05", time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewCSVReader().parseTimestamp(tt.raw)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestReadCSV_Errors(t *testing.T) {
	t.Run("missing column", func(t *testing.T) {
		_, err := NewCSVReader().Read(strings.NewReader("timestamp,open,high,low,close\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"volume"`)
	})

	t.Run("malformed row skipped", func(t *testing.T) {
		in := "timestamp,open,high,low,close,volume\n2024-01-02,1,2,0.5,1.5,10\nbad,1,2,0.5,1.5,10\n"
		series, err := NewCSVReader().Read(strings.NewReader(in))
		require.NoError(t, err)
		assert.Len(t, series, 1)
	})

	t.Run("malformed row strict", func(t *testing.T) {
		in := "timestamp,open,high,low,close,volume\n2024-01-02,1,2,0.5,x,10\n"
		_, err := NewCSVReader().Strict().Read(strings.NewReader(in))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "row 2")
	})

	t.Run("duplicate timestamp", func(t *testing.T) {
		in := "timestamp,open,high,low,close,volume\n2024-01-02,1,2,0.5,1.5,10\n2024-01-02,1,2,0.5,1.5,10\n"
		_, err := NewCSVReader().Read(strings.NewReader(in))
		assert.True(t, errors.Is(err, interfaces.ErrOutOfOrder))
	})
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aaa.json")
	body := `[{"timestamp":"2024-01-03T00:00:00Z","open":2,"high":3,"low":1,"close":2.5,"volume":5},
{"timestamp":"2024-01-02T00:00:00Z","open":1,"high":2,"low":0.5,"close":1.5,"volume":4}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	series, err := NewCSVReader().LoadFile(path)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, 1.5, series[0].Close)

	_, err = NewCSVReader().LoadFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
