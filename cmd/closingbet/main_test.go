package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/domain/guards"
)

var day0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

// isolate points every store at a temp dir
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CLOSINGBET_CACHE_BACKEND", "file")
	t.Setenv("CLOSINGBET_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("CLOSINGBET_UNIVERSE_DIR", filepath.Join(dir, "universe"))
	t.Setenv("CLOSINGBET_MACRO_FILE", "")
	t.Setenv("CLOSINGBET_LOG_LEVEL", "error")
	t.Setenv("PG_ENABLED", "false")
	t.Setenv("REDIS_ADDR", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--json"))
	err := root.Execute()
	return out.String(), err
}

func writeCSV(t *testing.T, dir, name string, closes []float64) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,open,high,low,close,volume\n")
	for i, c := range closes {
		fmt.Fprintf(&b, "%s,%g,%g,%g,%g,1000\n", day0.AddDate(0, 0, i).Format("2006-01-02"), c, c+1, c-1, c)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestSplitListAndParseTime(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, splitList(" A, ,B,"))
	assert.Nil(t, splitList(""))

	ts, err := parseTime("2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, day0, ts)

	ts, err = parseTime("2024-03-04T09:00:00+09:00")
	require.NoError(t, err)
	assert.Equal(t, day0, ts)

	_, err = parseTime("yesterday")
	assert.Error(t, err)
}

func TestReadCandidates(t *testing.T) {
	in := `{"symbol":"AAA","event_timestamp":"2024-03-05T00:00:00Z","pattern_type":"BREAKOUT","score":80,"pivot_price":100}

{"symbol":"BBB","event_timestamp":"2024-03-06T09:00:00+09:00","score":70}
`
	cands, err := readCandidates(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "AAA", cands[0].Symbol)
	assert.Equal(t, interfaces.PatternBreakout, cands[0].PatternType)
	assert.Equal(t, time.UTC, cands[1].EventTimestamp.Location())

	_, err = readCandidates(strings.NewReader(`{"symbol":"AAA"}`))
	assert.ErrorContains(t, err, "line 1")

	_, err = readCandidates(strings.NewReader("{bad"))
	assert.ErrorContains(t, err, "line 1")
}

func TestSchedule(t *testing.T) {
	bars := make([]time.Time, 10)
	for i := range bars {
		bars[i] = day0.AddDate(0, 0, i)
	}
	cands := []interfaces.SignalCandidate{
		{Symbol: "AAA", EventTimestamp: bars[3]},
		{Symbol: "BBB", EventTimestamp: bars[4].Add(-time.Hour)}, // joins bar 4
		{Symbol: "CCC", EventTimestamp: bars[9].Add(time.Hour)},  // after the last bar
	}

	// last candidate on bar 4 fills on bar 5 and exits two bars later
	got, byBar := schedule(bars, cands, 2)
	assert.Equal(t, bars[3:8], got)
	require.Len(t, byBar[0], 1)
	assert.Equal(t, "AAA", byBar[0][0].Symbol)
	require.Len(t, byBar[1], 1)
	assert.Equal(t, "BBB", byBar[1][0].Symbol)

	got, byBar = schedule(bars, cands[2:], 2)
	assert.Empty(t, got)
	assert.Empty(t, byBar)
}

func TestCacheImportAndShow(t *testing.T) {
	dir := isolate(t)
	path := writeCSV(t, dir, "aaa.csv", []float64{100, 101, 102})

	out, err := execute(t, "cache", "import", path, "--symbol", "AAA", "--source", "krx")
	require.NoError(t, err)
	var imported struct {
		Candles int    `json:"candles"`
		Hash    string `json:"hash"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Equal(t, 3, imported.Candles)
	assert.Len(t, imported.Hash, 64)

	out, err = execute(t, "cache", "show")
	require.NoError(t, err)
	var shown struct {
		Entries []cacheRow `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Len(t, shown.Entries, 1)
	assert.Equal(t, interfaces.CacheKey{Symbol: "AAA", Timeframe: interfaces.TF1d, Source: "krx"}, shown.Entries[0].Key)
	assert.Equal(t, imported.Hash, shown.Entries[0].Hash)
	assert.Equal(t, "2024-03-06T00:00:00Z", shown.Entries[0].Last)
}

func TestUniverseCommands(t *testing.T) {
	isolate(t)

	_, err := execute(t, "universe", "save", "--date", "2024-03-04", "--source", "kospi", "--symbols", "AAA,BBB")
	require.NoError(t, err)

	_, err = execute(t, "universe", "save", "--date", "2024-03-04", "--source", "kospi", "--symbols", "CCC")
	assert.ErrorContains(t, err, "already exists")

	out, err := execute(t, "universe", "nearest", "--date", "2024-03-06", "--source", "kospi")
	require.NoError(t, err)
	var snap interfaces.UniverseSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, []string{"AAA", "BBB"}, snap.Symbols)
	assert.Equal(t, day0, snap.Date)

	_, err = execute(t, "universe", "get", "--date", "2024-03-06", "--source", "kospi")
	assert.Error(t, err)
}

func TestTimingCommand(t *testing.T) {
	isolate(t)

	out, err := execute(t, "timing", "--signal", "2024-03-05", "--data-through", "2024-03-05", "--entry", "2024-03-06")
	require.NoError(t, err)
	var results []guards.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.True(t, results[0].Valid)
	assert.True(t, results[1].Valid)

	_, err = execute(t, "timing", "--signal", "2024-03-05", "--entry", "2024-03-05")
	assert.True(t, errors.Is(err, guards.ErrLookahead))

	_, err = execute(t, "timing", "--signal", "2024-03-05")
	assert.Error(t, err)
}

func TestReplayStandsAsideWithoutHistory(t *testing.T) {
	dir := isolate(t)
	closes := []float64{100, 101, 102, 103, 104, 105, 106, 107}
	for _, symbol := range []string{"REF", "AAA"} {
		_, err := execute(t, "cache", "import", writeCSV(t, dir, symbol+".csv", closes), "--symbol", symbol)
		require.NoError(t, err)
	}

	candPath := filepath.Join(dir, "cands.jsonl")
	require.NoError(t, os.WriteFile(candPath, []byte(
		`{"symbol":"AAA","event_timestamp":"2024-03-06T00:00:00Z","pattern_type":"BREAKOUT","score":80,"pivot_price":101.5,"atr_pct":2}`+"\n"), 0o644))

	out, err := execute(t, "replay", "--candidates", candPath, "--reference", "REF", "--hold-bars", "2")
	require.NoError(t, err)

	var report struct {
		Bars []struct {
			StandAside bool `json:"stand_aside"`
			Entries    []struct{}
			Rejected   []struct {
				Symbol string `json:"symbol"`
				Stage  string `json:"stage"`
			} `json:"rejected"`
		} `json:"bars"`
		Status struct {
			Risk struct {
				Equity float64 `json:"equity"`
			} `json:"risk"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Bars, 4)
	for _, bar := range report.Bars {
		assert.True(t, bar.StandAside)
		assert.Empty(t, bar.Entries)
	}
	require.Len(t, report.Bars[0].Rejected, 1)
	assert.Equal(t, "gate", report.Bars[0].Rejected[0].Stage)
	assert.Equal(t, 100000.0, report.Status.Risk.Equity)
}

func TestOpenAfter(t *testing.T) {
	series := interfaces.Series{
		{Timestamp: day0, Open: 10, Close: 11},
		{Timestamp: day0.AddDate(0, 0, 1), Open: 12, Close: 13},
	}

	ts, price, ok := openAfter(series, day0, day0.AddDate(0, 0, 1))
	require.True(t, ok)
	assert.Equal(t, day0.AddDate(0, 0, 1), ts)
	assert.Equal(t, 12.0, price)

	_, _, ok = openAfter(series, day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 5))
	assert.False(t, ok)
	_, _, ok = openAfter(series, day0.Add(-time.Hour), day0.Add(-time.Minute))
	assert.False(t, ok)
}

func TestReplayFillsNextBarAndExitsAfterHold(t *testing.T) {
	dir := isolate(t)
	closes := make([]float64, 300)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	for _, symbol := range []string{"REF", "AAA"} {
		_, err := execute(t, "cache", "import", writeCSV(t, dir, symbol+".csv", closes), "--symbol", symbol)
		require.NoError(t, err)
	}

	event := day0.AddDate(0, 0, 280)
	candPath := filepath.Join(dir, "cands.jsonl")
	require.NoError(t, os.WriteFile(candPath, []byte(fmt.Sprintf(
		`{"symbol":"AAA","event_timestamp":%q,"pattern_type":"BREAKOUT","score":80,"pivot_price":375}`+"\n",
		event.Format(time.RFC3339))), 0o644))

	out, err := execute(t, "replay", "--candidates", candPath, "--reference", "REF", "--hold-bars", "2")
	require.NoError(t, err)

	var report struct {
		Bars []struct {
			StandAside bool       `json:"stand_aside"`
			Entries    []struct{} `json:"entries"`
		} `json:"bars"`
		Fills []replayFill `json:"fills"`
		Exits []replayExit `json:"exits"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	require.Len(t, report.Bars, 4)
	assert.False(t, report.Bars[0].StandAside)
	require.Len(t, report.Bars[0].Entries, 1)

	require.Len(t, report.Fills, 1)
	fill := report.Fills[0]
	assert.Equal(t, "AAA", fill.Symbol)
	assert.True(t, fill.Timestamp.After(event), "fill must come after the signal candle")
	assert.Equal(t, event.AddDate(0, 0, 1), fill.Timestamp)
	assert.Equal(t, closes[281], fill.Price)

	require.Len(t, report.Exits, 1)
	exit := report.Exits[0]
	assert.Equal(t, fill.Timestamp, exit.Entry)
	assert.Equal(t, fill.Timestamp.AddDate(0, 0, 2), exit.Timestamp)
	assert.Greater(t, exit.PnL, 0.0)

	res := guards.CheckEntryTiming(event, fill.Timestamp, 24*time.Hour)
	assert.True(t, res.Valid)
}
