package quality

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

var t0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func candle(i int, open, high, low, close float64) interfaces.Candle {
	return interfaces.Candle{Timestamp: t0.AddDate(0, 0, i), Open: open, High: high, Low: low, Close: close, Volume: 1000}
}

// breakoutSeries has five quiet bars under 100, a breakout bar at index 5 and then the given closes
func breakoutSeries(breakout interfaces.Candle, after ...float64) interfaces.Series {
	s := interfaces.Series{}
	for i := 0; i < 5; i++ {
		s = append(s, candle(i, 98, 99.5, 97, 98.5))
	}
	breakout.Timestamp = t0.AddDate(0, 0, 5)
	s = append(s, breakout)
	for i, c := range after {
		s = append(s, candle(6+i, c, c+0.5, c-0.5, c))
	}
	return s
}

func newFilter(t *testing.T, cfg Config) *Filter {
	t.Helper()
	f, err := NewFilter(cfg)
	require.NoError(t, err)
	return f
}

func TestNewFilter_RejectsPenaltyAboveCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPenalty = 50
	_, err := NewFilter(cfg)
	assert.ErrorContains(t, err, "MaxPenalty")

	cfg = DefaultConfig()
	cfg.HoldBars = 0
	_, err = NewFilter(cfg)
	assert.Error(t, err)
}

func TestEvaluate_HeavyPenaltiesStayWithinCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WickPenalty = 25
	cfg.HighPenalty = 25
	cfg.HoldPenalty = 25
	f := newFilter(t, cfg)

	s := breakoutSeries(candle(0, 99.9, 100.4, 99.5, 100.1), 98)
	s[4].High = 101

	q := f.Evaluate(s, 5, 100)
	assert.False(t, q.IsValid)
	assert.Equal(t, PenaltyCap, q.ScorePenalty)
}

func TestCheckWickRejection(t *testing.T) {
	f := newFilter(t, DefaultConfig())

	tests := []struct {
		name   string
		candle interfaces.Candle
		passed bool
	}{
		{"no wick", candle(0, 100, 102, 99, 102), true},
		{"short wick", candle(0, 100, 102.5, 99, 102), true},
		{"wick at limit", candle(0, 100, 103, 99, 102), true},
		{"long wick", candle(0, 100, 104, 99, 102), false},
		{"doji with wick", candle(0, 100, 101, 99, 100), false},
		{"flat doji", candle(0, 100, 100, 99, 100), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.CheckWickRejection(tt.candle)
			assert.Equal(t, tt.passed, got.Passed)
			if !tt.passed {
				assert.Equal(t, 10.0, got.Penalty)
				assert.False(t, got.Hard)
			}
		})
	}
}

func TestCheckCloseMargin(t *testing.T) {
	f := newFilter(t, DefaultConfig())

	assert.True(t, f.CheckCloseMargin(candle(0, 99, 101, 99, 100.6), 100).Passed)
	assert.False(t, f.CheckCloseMargin(candle(0, 99, 101, 99, 100.4), 100).Passed)
	assert.Equal(t, 5.0, f.CheckCloseMargin(candle(0, 99, 101, 99, 99), 100).Penalty)

	skipped := f.CheckCloseMargin(candle(0, 99, 101, 99, 100), 0)
	assert.True(t, skipped.Passed)
	assert.True(t, skipped.Skipped)
}

func TestCheckHighConfirmation(t *testing.T) {
	f := newFilter(t, DefaultConfig())

	s := breakoutSeries(candle(0, 99, 102, 98.8, 101.8))
	assert.True(t, f.CheckHighConfirmation(s, 5).Passed)

	s[2].High = 103
	got := f.CheckHighConfirmation(s, 5)
	assert.False(t, got.Passed)
	assert.Equal(t, 10.0, got.Penalty)

	early := f.CheckHighConfirmation(s, 3)
	assert.True(t, early.Passed)
	assert.Contains(t, early.Reason, "insufficient bars")
}

func TestCheckHoldRule(t *testing.T) {
	f := newFilter(t, DefaultConfig())
	bo := candle(0, 99, 102, 98.8, 101.8)

	held := f.CheckHoldRule(breakoutSeries(bo, 101, 100.5, 100), 5, 100)
	assert.True(t, held.Passed)
	assert.False(t, held.Skipped)

	broke := f.CheckHoldRule(breakoutSeries(bo, 101, 99.9, 102), 5, 100)
	assert.False(t, broke.Passed)
	assert.True(t, broke.Hard)
	assert.Equal(t, 15.0, broke.Penalty)
	assert.Contains(t, broke.Reason, "2 bar(s)")

	// only the fourth bar breaks, outside the hold window
	late := f.CheckHoldRule(breakoutSeries(bo, 101, 101, 101, 95), 5, 100)
	assert.True(t, late.Passed)

	streaming := f.CheckHoldRule(breakoutSeries(bo, 101), 5, 100)
	assert.True(t, streaming.Passed)
	assert.True(t, streaming.Skipped)
	assert.Contains(t, streaming.Reason, "insufficient bars")

	earlyBreak := f.CheckHoldRule(breakoutSeries(bo, 99), 5, 100)
	assert.False(t, earlyBreak.Passed)
}

func TestEvaluate_CleanBreakout(t *testing.T) {
	f := newFilter(t, DefaultConfig())
	s := breakoutSeries(candle(0, 99, 102, 98.8, 101.8), 101.5, 101, 100.8)

	q := f.Evaluate(s, 5, 100)
	assert.True(t, q.IsValid)
	assert.Equal(t, 0.0, q.ScorePenalty)
	assert.Empty(t, q.Reasons)
	assert.Len(t, q.Checks, 4)
}

func TestEvaluate_PenaltiesCapAndHardFail(t *testing.T) {
	f := newFilter(t, DefaultConfig())

	// long wick, thin margin, lower high and a failed hold: 10+5+10+15 capped at 30
	s := breakoutSeries(candle(0, 99.9, 100.4, 99.5, 100.1), 98)
	s[4].High = 101

	q := f.Evaluate(s, 5, 100)
	assert.False(t, q.IsValid)
	assert.Equal(t, 30.0, q.ScorePenalty)
	assert.Len(t, q.Reasons, 4)
	assert.Equal(t, 70.0, AdjustedScore(100, q))
	assert.Equal(t, 0.0, AdjustedScore(20, q))
}

func TestEvaluate_SoftChecksNeverInvalidate(t *testing.T) {
	f := newFilter(t, DefaultConfig())
	s := breakoutSeries(candle(0, 99.9, 100.4, 99.5, 100.1))
	s[4].High = 101

	q := f.Evaluate(s, 5, 100)
	assert.True(t, q.IsValid)
	assert.Equal(t, 25.0, q.ScorePenalty)
}

func TestEvaluate_PenaltyBounds(t *testing.T) {
	f := newFilter(t, DefaultConfig())

	for i := 0; i < 50; i++ {
		close := 95 + float64(i)*0.2
		s := breakoutSeries(candle(0, 99, close+float64(i%7), 98, close), close-1, close+1)
		q := f.Evaluate(s, 5, 100)
		assert.GreaterOrEqual(t, q.ScorePenalty, 0.0)
		assert.LessOrEqual(t, q.ScorePenalty, 30.0)
	}
}

func TestEvaluateCandidate(t *testing.T) {
	f := newFilter(t, DefaultConfig())
	s := breakoutSeries(candle(0, 99, 102, 98.8, 101.8))

	q, err := f.EvaluateCandidate(s, interfaces.SignalCandidate{
		Symbol:         "ABC",
		EventTimestamp: t0.AddDate(0, 0, 5),
		PivotPrice:     100,
	})
	require.NoError(t, err)
	assert.True(t, q.IsValid)

	_, err = f.EvaluateCandidate(s, interfaces.SignalCandidate{Symbol: "ABC", EventTimestamp: t0.AddDate(0, 1, 0)})
	assert.ErrorIs(t, err, ErrCandleNotFound)

	assert.False(t, math.IsNaN(AdjustedScore(50, q)))
}

func TestLongUpperWickIsSoftPenalty(t *testing.T) {
	f := newFilter(t, DefaultConfig())
	s := breakoutSeries(candle(0, 100, 115, 99, 102))

	q := f.Evaluate(s, 5, 100)
	assert.True(t, q.IsValid)
	assert.GreaterOrEqual(t, q.ScorePenalty, 10.0)
	assert.Contains(t, q.Reasons[0], "6.50")
}

func TestHoldRule_PartialWindowPasses(t *testing.T) {
	f := newFilter(t, DefaultConfig())
	s := breakoutSeries(candle(0, 104, 108, 103.5, 107.5), 106)

	got := f.CheckHoldRule(s, 5, 105)
	assert.True(t, got.Passed)
	assert.Contains(t, got.Reason, "insufficient bars")
}
