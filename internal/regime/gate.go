package regime

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/validation"
)

// Status is the market gate classification
type Status int

const (
	Red Status = iota
	Yellow
	Green
)

func (s Status) String() string {
	switch s {
	case Green:
		return "GREEN"
	case Yellow:
		return "YELLOW"
	case Red:
		return "RED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status name in JSON and YAML
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AllowsEntries reports whether new positions may be opened under this status
func (s Status) AllowsEntries() bool {
	return s != Red
}

// Component names used in Result.Components
const (
	ComponentTrend         = "trend"
	ComponentVolatility    = "volatility"
	ComponentParticipation = "participation"
	ComponentBreadth       = "breadth"
	ComponentLeverage      = "leverage"
)

// Config holds the market gate windows and classification thresholds
type Config struct {
	MinReferenceBars int     `yaml:"min_reference_bars" default:"260" validate:"gtfield=SlowEMA"`
	FastEMA          int     `yaml:"fast_ema" default:"50" validate:"gt=0"`
	SlowEMA          int     `yaml:"slow_ema" default:"200" validate:"gtfield=FastEMA"`
	SlopeLookback    int     `yaml:"slope_lookback" default:"20" validate:"gt=0"`
	ATRPeriod        int     `yaml:"atr_period" default:"14" validate:"gt=0"`
	VolumePeriod     int     `yaml:"volume_period" default:"50" validate:"gt=1"`
	BreadthEMA       int     `yaml:"breadth_ema" default:"50" validate:"gt=0"`
	MinBreadthAssets int     `yaml:"min_breadth_assets" default:"5" validate:"gt=0"`
	GreenThreshold   float64 `yaml:"green_threshold" default:"72" validate:"gtfield=YellowThreshold,lte=100"`
	YellowThreshold  float64 `yaml:"yellow_threshold" default:"48" validate:"gte=0"`
	MaxReasons       int     `yaml:"max_reasons" default:"5" validate:"gt=0"`
}

// DefaultConfig returns the standard market gate configuration
func DefaultConfig() Config {
	return Config{
		MinReferenceBars: 260,
		FastEMA:          50,
		SlowEMA:          200,
		SlopeLookback:    20,
		ATRPeriod:        14,
		VolumePeriod:     50,
		BreadthEMA:       50,
		MinBreadthAssets: 5,
		GreenThreshold:   72,
		YellowThreshold:  48,
		MaxReasons:       5,
	}
}

// LeverageMetrics carries optional derivatives positioning data
type LeverageMetrics struct {
	FundingRate *float64 `json:"funding_rate,omitempty"`
	OIDeltaZ    *float64 `json:"oi_delta_z,omitempty"`
}

// Inputs bundles the series the gate scores.
// Every series must already be cut at the evaluation timestamp.
type Inputs struct {
	Reference interfaces.Series            // daily series of the reference asset
	Intraday  interfaces.Series            // optional shorter timeframe of the reference asset
	Basket    map[string]interfaces.Series // secondary assets for breadth
	Leverage  *LeverageMetrics
}

// Result contains the market gate classification
type Result struct {
	Status           Status             `json:"status"`
	Score            float64            `json:"score"`
	Components       map[string]float64 `json:"components"`
	Reasons          []string           `json:"reasons"`
	Metrics          map[string]float64 `json:"metrics"`
	Timestamp        time.Time          `json:"timestamp"`
	InsufficientData bool               `json:"insufficient_data"`
}

// Evaluator scores market conditions into GREEN/YELLOW/RED
type Evaluator struct {
	config Config
}

// NewEvaluator creates a market gate evaluator
func NewEvaluator(config Config) (*Evaluator, error) {
	if err := validation.Struct(&config); err != nil {
		return nil, err
	}
	return &Evaluator{config: config}, nil
}

// Config returns the evaluator configuration
func (e *Evaluator) Config() Config {
	return e.config
}

// Classify maps a score to a status. It is monotonic in score.
func (e *Evaluator) Classify(score float64) Status {
	switch {
	case score >= e.config.GreenThreshold:
		return Green
	case score >= e.config.YellowThreshold:
		return Yellow
	default:
		return Red
	}
}

// Evaluate scores the five components and classifies the total.
// Fewer than MinReferenceBars reference candles fails closed to RED with score 0.
func (e *Evaluator) Evaluate(in Inputs) Result {
	var ts time.Time
	if last, ok := in.Reference.Last(); ok {
		ts = last.Timestamp
	}

	if len(in.Reference) < e.config.MinReferenceBars {
		return Result{
			Status:     Red,
			Score:      0,
			Components: map[string]float64{},
			Reasons: []string{fmt.Sprintf("insufficient data: %d reference bars, need %d",
				len(in.Reference), e.config.MinReferenceBars)},
			Metrics:          map[string]float64{"reference_bars": float64(len(in.Reference))},
			Timestamp:        ts,
			InsufficientData: true,
		}
	}

	metrics := map[string]float64{"reference_bars": float64(len(in.Reference))}
	var contributions []contribution

	trend := e.scoreTrend(in.Reference, metrics)
	volatility := e.scoreVolatility(in.Reference, metrics)
	participation := e.scoreParticipation(in.Reference, in.Intraday, metrics)
	breadth := e.scoreBreadth(in.Basket, metrics)
	leverage := e.scoreLeverage(in.Leverage, metrics)

	contributions = append(contributions, trend...)
	contributions = append(contributions, volatility, participation, breadth)
	contributions = append(contributions, leverage...)

	components := map[string]float64{
		ComponentTrend:         sumPoints(trend),
		ComponentVolatility:    volatility.points,
		ComponentParticipation: participation.points,
		ComponentBreadth:       breadth.points,
		ComponentLeverage:      math.Max(0, sumPoints(leverage)),
	}

	total := 0.0
	for _, v := range components {
		total += v
	}
	total = math.Max(0, math.Min(100, total))

	return Result{
		Status:     e.Classify(total),
		Score:      total,
		Components: components,
		Reasons:    topReasons(contributions, e.config.MaxReasons),
		Metrics:    metrics,
		Timestamp:  ts,
	}
}

// contribution is one explained piece of the score
type contribution struct {
	points float64
	reason string
}

func sumPoints(cs []contribution) float64 {
	total := 0.0
	for _, c := range cs {
		total += c.points
	}
	return total
}

// topReasons ranks explanations by point magnitude, keeping insertion order on ties
func topReasons(cs []contribution, n int) []string {
	ranked := append([]contribution(nil), cs...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].points) > math.Abs(ranked[j].points)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	reasons := make([]string, len(ranked))
	for i, c := range ranked {
		reasons[i] = c.reason
	}
	return reasons
}
