package indicators

import (
	"math"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

// Result represents the outcome of an indicator calculation
type Result struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

func invalid(period, count int) Result {
	return Result{Period: period, IsValid: false, DataCount: count}
}

// EMASeries returns the exponential moving average for every input point.
// The first value seeds the average; callers should ignore roughly the first
// period values as warm-up.
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) == 0 {
		return nil
	}
	alpha := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// EMA calculates the latest exponential moving average value
func EMA(values []float64, period int) Result {
	if period <= 0 || len(values) < period {
		return invalid(period, len(values))
	}
	series := EMASeries(values, period)
	return Result{
		Value:     series[len(series)-1],
		Period:    period,
		IsValid:   true,
		DataCount: len(values),
	}
}

// TrueRanges computes max(high-low, |high-prevClose|, |low-prevClose|) for each bar after the first
func TrueRanges(candles interfaces.Series) []float64 {
	if len(candles) < 2 {
		return nil
	}
	trs := make([]float64, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		cur := candles[i]
		prevClose := candles[i-1].Close

		hl := cur.High - cur.Low
		hc := math.Abs(cur.High - prevClose)
		lc := math.Abs(cur.Low - prevClose)

		trs[i-1] = math.Max(hl, math.Max(hc, lc))
	}
	return trs
}

// ATR calculates the Average True Range using Wilder's smoothing
func ATR(candles interfaces.Series, period int) Result {
	if period <= 0 || len(candles) < period+1 {
		return invalid(period, len(candles))
	}

	trueRanges := TrueRanges(candles)

	// Initial ATR is the SMA of the first period
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period; i < len(trueRanges); i++ {
		atr = atr*(1-alpha) + trueRanges[i]*alpha
	}

	return Result{
		Value:     atr,
		Period:    period,
		IsValid:   true,
		DataCount: len(candles),
	}
}

// ATRPct expresses ATR as a percentage of the last close
func ATRPct(candles interfaces.Series, period int) Result {
	res := ATR(candles, period)
	if !res.IsValid {
		return res
	}
	last, _ := candles.Last()
	if last.Close <= 0 {
		return invalid(period, len(candles))
	}
	res.Value = res.Value / last.Close * 100
	return res
}

// ZScore measures how far the last value sits from the mean of the preceding window.
// The window excludes the last value so it needs period+1 points.
func ZScore(values []float64, period int) Result {
	if period < 2 || len(values) < period+1 {
		return invalid(period, len(values))
	}

	window := values[len(values)-period-1 : len(values)-1]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(period-1))
	if std == 0 || math.IsNaN(std) {
		return invalid(period, len(values))
	}

	return Result{
		Value:     (values[len(values)-1] - mean) / std,
		Period:    period,
		IsValid:   true,
		DataCount: len(values),
	}
}

// SlopePct returns the percentage change between the value lookback points ago and the last value
func SlopePct(values []float64, lookback int) Result {
	if lookback <= 0 || len(values) < lookback+1 {
		return invalid(lookback, len(values))
	}
	prev := values[len(values)-1-lookback]
	if prev == 0 {
		return invalid(lookback, len(values))
	}
	return Result{
		Value:     (values[len(values)-1] - prev) / prev * 100,
		Period:    lookback,
		IsValid:   true,
		DataCount: len(values),
	}
}
