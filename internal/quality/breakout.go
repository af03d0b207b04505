package quality

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/validation"
)

// PenaltyCap bounds the combined score penalty regardless of configuration
const PenaltyCap = 30.0

// ErrCandleNotFound is returned when a candidate's event candle is not in the series
var ErrCandleNotFound = errors.New("breakout candle not found")

// Config holds breakout quality thresholds and penalties
type Config struct {
	MaxWickBodyRatio      float64 `yaml:"max_wick_body_ratio" default:"0.5" validate:"gt=0"`
	MinCloseAbovePivotPct float64 `yaml:"min_close_above_pivot_pct" default:"0.5" validate:"gte=0"`
	HighLookback          int     `yaml:"high_lookback" default:"5" validate:"gt=0"`
	HoldBars              int     `yaml:"hold_bars" default:"3" validate:"gt=0"`
	WickPenalty           float64 `yaml:"wick_penalty" default:"10" validate:"gte=0"`
	MarginPenalty         float64 `yaml:"margin_penalty" default:"5" validate:"gte=0"`
	HighPenalty           float64 `yaml:"high_penalty" default:"10" validate:"gte=0"`
	HoldPenalty           float64 `yaml:"hold_penalty" default:"15" validate:"gte=0"`
	MaxPenalty            float64 `yaml:"max_penalty" default:"30" validate:"gte=0,lte=30"`
}

// DefaultConfig returns the standard breakout quality configuration
func DefaultConfig() Config {
	return Config{
		MaxWickBodyRatio:      0.5,
		MinCloseAbovePivotPct: 0.5,
		HighLookback:          5,
		HoldBars:              3,
		WickPenalty:           10,
		MarginPenalty:         5,
		HighPenalty:           10,
		HoldPenalty:           15,
		MaxPenalty:            30,
	}
}

// CheckResult is the outcome of one quality check
type CheckResult struct {
	Name    string  `json:"name"`
	Passed  bool    `json:"passed"`
	Hard    bool    `json:"hard"`
	Skipped bool    `json:"skipped"`
	Penalty float64 `json:"penalty"`
	Reason  string  `json:"reason"`
}

// BreakoutQuality summarises all checks for one candidate
type BreakoutQuality struct {
	IsValid      bool          `json:"is_valid"`
	ScorePenalty float64       `json:"score_penalty"`
	Reasons      []string      `json:"reasons"`
	Checks       []CheckResult `json:"checks"`
}

// Filter scores breakout candles. Only the hold rule can invalidate; the rest add penalties.
type Filter struct {
	config Config
}

// NewFilter creates a breakout quality filter. Config is validated as given;
// start from DefaultConfig for the standard thresholds.
func NewFilter(config Config) (*Filter, error) {
	if err := validation.Struct(&config); err != nil {
		return nil, err
	}
	return &Filter{config: config}, nil
}

// Config returns the filter configuration
func (f *Filter) Config() Config {
	return f.config
}

// CheckWickRejection penalises a long upper wick relative to the body.
// A zero body with any upper wick counts as an infinite ratio.
func (f *Filter) CheckWickRejection(c interfaces.Candle) CheckResult {
	body, wick := c.Body(), c.UpperWick()

	var ratio float64
	switch {
	case wick == 0:
		ratio = 0
	case body == 0:
		ratio = math.Inf(1)
	default:
		ratio = wick / body
	}

	if ratio > f.config.MaxWickBodyRatio {
		return CheckResult{
			Name:    "wick_rejection",
			Penalty: f.config.WickPenalty,
			Reason:  fmt.Sprintf("upper wick/body %.2f exceeds %.2f", ratio, f.config.MaxWickBodyRatio),
		}
	}
	return CheckResult{Name: "wick_rejection", Passed: true}
}

// CheckCloseMargin penalises a close too near the pivot
func (f *Filter) CheckCloseMargin(c interfaces.Candle, pivot float64) CheckResult {
	if pivot <= 0 || math.IsNaN(pivot) {
		return CheckResult{Name: "close_margin", Passed: true, Skipped: true, Reason: "no pivot price"}
	}

	margin := (c.Close - pivot) / pivot * 100
	if margin < f.config.MinCloseAbovePivotPct {
		return CheckResult{
			Name:    "close_margin",
			Penalty: f.config.MarginPenalty,
			Reason:  fmt.Sprintf("close %.2f%% above pivot, need %.2f%%", margin, f.config.MinCloseAbovePivotPct),
		}
	}
	return CheckResult{Name: "close_margin", Passed: true}
}

// CheckHighConfirmation requires the breakout high to exceed the highs of the prior HighLookback candles
func (f *Filter) CheckHighConfirmation(series interfaces.Series, idx int) CheckResult {
	n := f.config.HighLookback
	if idx < n {
		return CheckResult{Name: "high_confirmation", Passed: true, Skipped: true,
			Reason: fmt.Sprintf("insufficient bars: %d prior candles, need %d", idx, n)}
	}

	priorHigh := math.Inf(-1)
	for _, c := range series[idx-n : idx] {
		priorHigh = math.Max(priorHigh, c.High)
	}
	if series[idx].High <= priorHigh {
		return CheckResult{
			Name:    "high_confirmation",
			Penalty: f.config.HighPenalty,
			Reason:  fmt.Sprintf("high %.4f does not exceed prior %d-bar high %.4f", series[idx].High, n, priorHigh),
		}
	}
	return CheckResult{Name: "high_confirmation", Passed: true}
}

// CheckHoldRule fails hard when any of the next HoldBars closes drops below the pivot.
// Fewer available candles pass unless one already violated.
func (f *Filter) CheckHoldRule(series interfaces.Series, idx int, pivot float64) CheckResult {
	if pivot <= 0 || math.IsNaN(pivot) {
		return CheckResult{Name: "hold_rule", Passed: true, Skipped: true, Reason: "no pivot price"}
	}

	end := idx + 1 + f.config.HoldBars
	if end > len(series) {
		end = len(series)
	}
	following := series[idx+1 : end]

	for i, c := range following {
		if c.Close < pivot {
			return CheckResult{
				Name:    "hold_rule",
				Hard:    true,
				Penalty: f.config.HoldPenalty,
				Reason:  fmt.Sprintf("close %.4f fell below pivot %.4f %d bar(s) after breakout", c.Close, pivot, i+1),
			}
		}
	}

	if len(following) < f.config.HoldBars {
		return CheckResult{Name: "hold_rule", Passed: true, Skipped: true,
			Reason: fmt.Sprintf("insufficient bars: %d of %d follow-up candles", len(following), f.config.HoldBars)}
	}
	return CheckResult{Name: "hold_rule", Passed: true}
}

// Evaluate runs every check on the candle at idx
func (f *Filter) Evaluate(series interfaces.Series, idx int, pivot float64) BreakoutQuality {
	if idx < 0 || idx >= len(series) {
		return BreakoutQuality{IsValid: true, Reasons: []string{"insufficient bars: breakout candle unavailable"}}
	}

	c := series[idx]
	checks := []CheckResult{
		f.CheckWickRejection(c),
		f.CheckCloseMargin(c, pivot),
		f.CheckHighConfirmation(series, idx),
		f.CheckHoldRule(series, idx, pivot),
	}

	q := BreakoutQuality{IsValid: true, Checks: checks}
	for _, check := range checks {
		if check.Hard && !check.Passed {
			q.IsValid = false
		}
		q.ScorePenalty += check.Penalty
		if check.Reason != "" {
			q.Reasons = append(q.Reasons, check.Reason)
		}
	}
	q.ScorePenalty = math.Max(0, math.Min(q.ScorePenalty, math.Min(f.config.MaxPenalty, PenaltyCap)))
	return q
}

// EvaluateCandidate locates the candidate's event candle and evaluates it
func (f *Filter) EvaluateCandidate(series interfaces.Series, cand interfaces.SignalCandidate) (BreakoutQuality, error) {
	idx := indexOf(series, cand.EventTimestamp)
	if idx < 0 {
		return BreakoutQuality{}, fmt.Errorf("%s at %s: %w", cand.Symbol, cand.EventTimestamp.Format(time.RFC3339), ErrCandleNotFound)
	}
	return f.Evaluate(series, idx, cand.PivotPrice), nil
}

// AdjustedScore subtracts the penalty from a candidate score, floored at zero
func AdjustedScore(score float64, q BreakoutQuality) float64 {
	return math.Max(0, score-q.ScorePenalty)
}

func indexOf(series interfaces.Series, ts time.Time) int {
	i := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(ts)
	})
	if i < len(series) && series[i].Timestamp.Equal(ts) {
		return i
	}
	return -1
}
