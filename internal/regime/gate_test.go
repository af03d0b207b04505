package regime

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	eval, err := NewEvaluator(DefaultConfig())
	require.NoError(t, err)
	return eval
}

func TestNewEvaluator_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlowEMA = 20
	_, err := NewEvaluator(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.GreenThreshold = 40
	_, err = NewEvaluator(cfg)
	assert.Error(t, err)
}

func TestEvaluate_StrongUptrendIsGreen(t *testing.T) {
	eval := newEvaluator(t)

	result := eval.Evaluate(Inputs{
		Reference: trendingSeries(300, 0.002, 2000),
		Basket:    basket(7, 3),
		Leverage:  &LeverageMetrics{FundingRate: ptr(0.0002)},
	})

	require.False(t, result.InsufficientData)
	assert.Equal(t, 35.0, result.Components[ComponentTrend])
	assert.Equal(t, 18.0, result.Components[ComponentVolatility])
	assert.Equal(t, 18.0, result.Components[ComponentParticipation])
	assert.Equal(t, 18.0, result.Components[ComponentBreadth])
	assert.Equal(t, 9.0, result.Components[ComponentLeverage])
	assert.Equal(t, 98.0, result.Score)
	assert.Equal(t, Green, result.Status)
	assert.Len(t, result.Reasons, 5)
	assert.InDelta(t, 0.7, result.Metrics["breadth_frac"], 1e-9)
	assert.Greater(t, result.Metrics["ema_slow_slope_pct"], 1.0)
}

func TestEvaluate_DowntrendIsRed(t *testing.T) {
	eval := newEvaluator(t)

	result := eval.Evaluate(Inputs{
		Reference: trendingSeries(300, -0.002, 2000),
		Basket:    basket(0, 6),
	})

	assert.Equal(t, 0.0, result.Components[ComponentTrend])
	assert.Equal(t, 0.0, result.Components[ComponentBreadth])
	assert.Equal(t, 6.0, result.Components[ComponentLeverage])
	assert.Equal(t, Red, result.Status)
	assert.Contains(t, result.Reasons[0], "ATR")
}

func TestEvaluate_InsufficientDataFailsClosed(t *testing.T) {
	eval := newEvaluator(t)

	result := eval.Evaluate(Inputs{
		Reference: trendingSeries(259, 0.002, 2000),
		Basket:    basket(10, 0),
	})

	assert.True(t, result.InsufficientData)
	assert.Equal(t, Red, result.Status)
	assert.Equal(t, 0.0, result.Score)
	require.Len(t, result.Reasons, 1)
	assert.Contains(t, result.Reasons[0], "insufficient data")
}

func TestEvaluate_UnknownComponentsAreNeutral(t *testing.T) {
	eval := newEvaluator(t)

	// flat volume makes the z-score undefined, basket too small for breadth
	ref := trendingSeries(300, 0.002, 1000)
	for i := range ref {
		ref[i].Volume = 500
	}
	result := eval.Evaluate(Inputs{Reference: ref, Basket: basket(3, 0)})

	assert.Equal(t, 9.0, result.Components[ComponentParticipation])
	assert.Equal(t, 9.0, result.Components[ComponentBreadth])
	assert.Equal(t, 6.0, result.Components[ComponentLeverage])
}

func TestEvaluate_IntradayParticipation(t *testing.T) {
	eval := newEvaluator(t)
	daily := trendingSeries(300, 0.002, 1100)

	quiet := eval.Evaluate(Inputs{Reference: daily})
	loud := eval.Evaluate(Inputs{Reference: daily, Intraday: trendingSeries(51, 0.0001, 5000)})
	short := eval.Evaluate(Inputs{Reference: daily, Intraday: trendingSeries(50, 0.0001, 5000)})

	assert.Equal(t, 18.0, loud.Components[ComponentParticipation])
	assert.Equal(t, quiet.Components[ComponentParticipation], short.Components[ComponentParticipation])
	assert.NotEqual(t, quiet.Components[ComponentParticipation], loud.Components[ComponentParticipation])
}

func TestScoreLeverage(t *testing.T) {
	eval := newEvaluator(t)
	ref := trendingSeries(300, 0.002, 2000)

	tests := []struct {
		name     string
		leverage *LeverageMetrics
		want     float64
	}{
		{"unknown", nil, 6},
		{"neutral band", &LeverageMetrics{FundingRate: ptr(-0.0001)}, 11},
		{"mild", &LeverageMetrics{FundingRate: ptr(0.0005)}, 9},
		{"elevated", &LeverageMetrics{FundingRate: ptr(0.001)}, 5},
		{"extreme", &LeverageMetrics{FundingRate: ptr(0.003)}, 2},
		{"oi rising", &LeverageMetrics{FundingRate: ptr(0.0001), OIDeltaZ: ptr(1.5)}, 9},
		{"oi surge", &LeverageMetrics{FundingRate: ptr(0.0001), OIDeltaZ: ptr(2.5)}, 7},
		{"floored", &LeverageMetrics{FundingRate: ptr(0.01), OIDeltaZ: ptr(3)}, 0},
		{"unknown funding with oi", &LeverageMetrics{OIDeltaZ: ptr(2)}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eval.Evaluate(Inputs{Reference: ref, Leverage: tt.leverage})
			assert.Equal(t, tt.want, result.Components[ComponentLeverage])
		})
	}
}

func TestClassify_Monotonic(t *testing.T) {
	eval := newEvaluator(t)

	assert.Equal(t, Red, eval.Classify(47.999))
	assert.Equal(t, Yellow, eval.Classify(48))
	assert.Equal(t, Yellow, eval.Classify(71.999))
	assert.Equal(t, Green, eval.Classify(72))

	prev := Red
	for score := 0.0; score <= 100; score += 0.5 {
		status := eval.Classify(score)
		assert.GreaterOrEqual(t, int(status), int(prev), "score %.1f", score)
		prev = status
	}
}

func TestEvaluate_ScoreAlwaysInRange(t *testing.T) {
	eval := newEvaluator(t)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 25; i++ {
		ref := trendingSeries(260+rng.Intn(100), (rng.Float64()-0.5)*0.01, rng.Float64()*5000)
		b := make(map[string]interfaces.Series)
		for j := 0; j < rng.Intn(10); j++ {
			b[string(rune('A'+j))] = trendingSeries(40+rng.Intn(40), (rng.Float64()-0.5)*0.01, 1000)
		}
		result := eval.Evaluate(Inputs{
			Reference: ref,
			Basket:    b,
			Leverage:  &LeverageMetrics{FundingRate: ptr((rng.Float64() - 0.5) * 0.01), OIDeltaZ: ptr(rng.Float64() * 4)},
		})
		assert.GreaterOrEqual(t, result.Score, 0.0)
		assert.LessOrEqual(t, result.Score, 100.0)
		assert.Equal(t, eval.Classify(result.Score), result.Status)
	}
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "GREEN", Green.String())
	assert.Equal(t, "RED", Red.String())
	assert.False(t, Red.AllowsEntries())
	assert.True(t, Yellow.AllowsEntries())
}
