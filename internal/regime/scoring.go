package regime

import (
	"fmt"
	"math"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/domain/indicators"
)

// Points awarded when a component cannot be measured
const (
	neutralVolatility    = 9.0
	neutralParticipation = 9.0
	neutralBreadth       = 9.0
	neutralFunding       = 6.0
)

// scoreTrend awards up to 20 points for price/EMA ordering and up to 15 for the slow EMA slope
func (e *Evaluator) scoreTrend(ref interfaces.Series, metrics map[string]float64) []contribution {
	closes := ref.Closes()
	fast := indicators.EMASeries(closes, e.config.FastEMA)
	slow := indicators.EMASeries(closes, e.config.SlowEMA)

	price := closes[len(closes)-1]
	emaFast := fast[len(fast)-1]
	emaSlow := slow[len(slow)-1]
	metrics["close"] = price
	metrics["ema_fast"] = emaFast
	metrics["ema_slow"] = emaSlow

	var ordering contribution
	switch {
	case price > emaFast && emaFast > emaSlow:
		ordering = contribution{20, "price above rising EMA stack (close > EMA50 > EMA200)"}
	case price > emaSlow && emaFast > emaSlow:
		ordering = contribution{12, "price between EMA50 and EMA200 in an uptrend"}
	case price > emaSlow:
		ordering = contribution{8, "price above EMA200 but EMA50 below EMA200"}
	case emaFast > emaSlow:
		ordering = contribution{4, "price below EMA200 while EMA50 still above EMA200"}
	default:
		ordering = contribution{0, "price and EMA50 below EMA200 (downtrend)"}
	}

	slope := indicators.SlopePct(slow, e.config.SlopeLookback)
	var slopePart contribution
	if !slope.IsValid {
		slopePart = contribution{0, "EMA200 slope unavailable"}
	} else {
		metrics["ema_slow_slope_pct"] = slope.Value
		var pts float64
		switch {
		case slope.Value >= 1.0:
			pts = 15
		case slope.Value >= 0.3:
			pts = 10
		case slope.Value >= 0:
			pts = 5
		}
		slopePart = contribution{pts, fmt.Sprintf("EMA200 %d-bar slope %+.2f%%", e.config.SlopeLookback, slope.Value)}
	}

	return []contribution{ordering, slopePart}
}

// scoreVolatility rewards calm markets: lower ATR% scores higher
func (e *Evaluator) scoreVolatility(ref interfaces.Series, metrics map[string]float64) contribution {
	atr := indicators.ATRPct(ref, e.config.ATRPeriod)
	if !atr.IsValid {
		return contribution{neutralVolatility, "volatility unknown (neutral)"}
	}
	metrics["atr_pct"] = atr.Value

	var pts float64
	switch {
	case atr.Value <= 2.0:
		pts = 18
	case atr.Value <= 3.0:
		pts = 14
	case atr.Value <= 4.5:
		pts = 9
	case atr.Value <= 6.0:
		pts = 4
	}
	return contribution{pts, fmt.Sprintf("ATR%d at %.2f%% of price", e.config.ATRPeriod, atr.Value)}
}

// scoreParticipation rewards above-average volume, preferring the intraday series when it is long enough
func (e *Evaluator) scoreParticipation(ref, intraday interfaces.Series, metrics map[string]float64) contribution {
	series, source := ref, "daily"
	if len(intraday) >= e.config.VolumePeriod+1 {
		series, source = intraday, "intraday"
	}

	z := indicators.ZScore(series.Volumes(), e.config.VolumePeriod)
	if !z.IsValid {
		return contribution{neutralParticipation, "participation unknown (neutral)"}
	}
	metrics["volume_z"] = z.Value

	var pts float64
	switch {
	case z.Value >= 1.0:
		pts = 18
	case z.Value >= 0.3:
		pts = 13
	case z.Value >= -0.5:
		pts = 9
	case z.Value >= -1.0:
		pts = 4
	}
	return contribution{pts, fmt.Sprintf("%s volume z-score %+.2f", source, z.Value)}
}

// scoreBreadth measures the share of basket assets closing above their own fast EMA
func (e *Evaluator) scoreBreadth(basket map[string]interfaces.Series, metrics map[string]float64) contribution {
	usable, above := 0, 0
	for _, series := range basket {
		if len(series) < e.config.BreadthEMA {
			continue
		}
		ema := indicators.EMA(series.Closes(), e.config.BreadthEMA)
		if !ema.IsValid {
			continue
		}
		usable++
		if last, _ := series.Last(); last.Close > ema.Value {
			above++
		}
	}
	metrics["breadth_assets"] = float64(usable)

	if usable < e.config.MinBreadthAssets {
		return contribution{neutralBreadth, fmt.Sprintf("breadth unknown (%d usable assets, neutral)", usable)}
	}

	frac := float64(above) / float64(usable)
	metrics["breadth_frac"] = frac

	var pts float64
	switch {
	case frac >= 0.65:
		pts = 18
	case frac >= 0.50:
		pts = 13
	case frac >= 0.35:
		pts = 7
	}
	return contribution{pts, fmt.Sprintf("%.0f%% of %d assets above EMA%d", frac*100, usable, e.config.BreadthEMA)}
}

// scoreLeverage prefers neutral funding and penalises crowded open interest.
// The component is floored at zero by the caller.
func (e *Evaluator) scoreLeverage(lev *LeverageMetrics, metrics map[string]float64) []contribution {
	if lev == nil || lev.FundingRate == nil || math.IsNaN(*lev.FundingRate) {
		out := []contribution{{neutralFunding, "funding unknown (neutral)"}}
		return append(out, oiPenalty(lev, metrics)...)
	}

	f := *lev.FundingRate
	metrics["funding_rate"] = f
	abs := math.Abs(f)

	var pts float64
	switch {
	case abs <= 0.0001:
		pts = 11
	case abs <= 0.0005:
		pts = 9
	case abs <= 0.001:
		pts = 5
	default:
		pts = 2
	}
	out := []contribution{{pts, fmt.Sprintf("funding rate %.4f%%", f*100)}}
	return append(out, oiPenalty(lev, metrics)...)
}

func oiPenalty(lev *LeverageMetrics, metrics map[string]float64) []contribution {
	if lev == nil || lev.OIDeltaZ == nil || math.IsNaN(*lev.OIDeltaZ) {
		return nil
	}
	z := *lev.OIDeltaZ
	metrics["oi_delta_z"] = z
	switch {
	case z >= 2:
		return []contribution{{-4, fmt.Sprintf("open interest surge (z %.2f)", z)}}
	case z >= 1:
		return []contribution{{-2, fmt.Sprintf("open interest rising (z %.2f)", z)}}
	}
	return nil
}
