package gates

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/macro"
)

// Comparison is one of GreaterThan, LessThan, GreaterOrEqual, LessOrEqual or Between
type Comparison interface {
	Holds(value float64) bool
	String() string
	comparison()
}

type GreaterThan struct{ Threshold float64 }
type LessThan struct{ Threshold float64 }
type GreaterOrEqual struct{ Threshold float64 }
type LessOrEqual struct{ Threshold float64 }

// Between holds when Low <= value <= High
type Between struct{ Low, High float64 }

func (c GreaterThan) Holds(v float64) bool    { return v > c.Threshold }
func (c LessThan) Holds(v float64) bool       { return v < c.Threshold }
func (c GreaterOrEqual) Holds(v float64) bool { return v >= c.Threshold }
func (c LessOrEqual) Holds(v float64) bool    { return v <= c.Threshold }
func (c Between) Holds(v float64) bool        { return v >= c.Low && v <= c.High }

func (c GreaterThan) String() string    { return fmt.Sprintf("> %g", c.Threshold) }
func (c LessThan) String() string       { return fmt.Sprintf("< %g", c.Threshold) }
func (c GreaterOrEqual) String() string { return fmt.Sprintf(">= %g", c.Threshold) }
func (c LessOrEqual) String() string    { return fmt.Sprintf("<= %g", c.Threshold) }
func (c Between) String() string        { return fmt.Sprintf("in [%g, %g]", c.Low, c.High) }

func (GreaterThan) comparison()    {}
func (LessThan) comparison()       {}
func (GreaterOrEqual) comparison() {}
func (LessOrEqual) comparison()    {}
func (Between) comparison()        {}

// Condition is a threshold test on one macro indicator
type Condition struct {
	Indicator   string
	Comparison  Comparison
	Description string
}

// ConditionSpec is the YAML form of a Condition
type ConditionSpec struct {
	Indicator   string   `yaml:"indicator"`
	Op          string   `yaml:"op"`
	Threshold   *float64 `yaml:"threshold,omitempty"`
	Low         *float64 `yaml:"low,omitempty"`
	High        *float64 `yaml:"high,omitempty"`
	Description string   `yaml:"description"`
}

// ParseCondition converts the YAML form into a typed Condition
func ParseCondition(spec ConditionSpec) (Condition, error) {
	if strings.TrimSpace(spec.Indicator) == "" {
		return Condition{}, fmt.Errorf("macro condition missing indicator")
	}

	cond := Condition{Indicator: spec.Indicator, Description: spec.Description}
	op := strings.ToLower(strings.TrimSpace(spec.Op))

	if op == "between" {
		if spec.Low == nil || spec.High == nil {
			return Condition{}, fmt.Errorf("condition %s: between requires low and high", spec.Indicator)
		}
		if *spec.Low > *spec.High {
			return Condition{}, fmt.Errorf("condition %s: low %g exceeds high %g", spec.Indicator, *spec.Low, *spec.High)
		}
		cond.Comparison = Between{Low: *spec.Low, High: *spec.High}
		return cond, nil
	}

	if spec.Threshold == nil {
		return Condition{}, fmt.Errorf("condition %s: op %q requires threshold", spec.Indicator, spec.Op)
	}
	t := *spec.Threshold
	switch op {
	case "gt":
		cond.Comparison = GreaterThan{t}
	case "lt":
		cond.Comparison = LessThan{t}
	case "gte":
		cond.Comparison = GreaterOrEqual{t}
	case "lte":
		cond.Comparison = LessOrEqual{t}
	default:
		return Condition{}, fmt.Errorf("condition %s: unknown op %q", spec.Indicator, spec.Op)
	}
	return cond, nil
}

// ParseConditions converts a list of specs, failing on the first invalid one
func ParseConditions(specs []ConditionSpec) ([]Condition, error) {
	out := make([]Condition, 0, len(specs))
	for i, spec := range specs {
		cond, err := ParseCondition(spec)
		if err != nil {
			return nil, fmt.Errorf("macro condition %d: %w", i, err)
		}
		out = append(out, cond)
	}
	return out, nil
}

// LoadConditions reads a YAML file of the form {conditions: [...]}
func LoadConditions(path string) ([]Condition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read macro conditions: %w", err)
	}

	var doc struct {
		Conditions []ConditionSpec `yaml:"conditions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse macro conditions: %w", err)
	}
	return ParseConditions(doc.Conditions)
}

// DefaultConditions is a conservative risk-on checklist
func DefaultConditions() []Condition {
	return []Condition{
		{Indicator: "vix", Comparison: LessThan{25}, Description: "equity volatility not stressed"},
		{Indicator: "dxy", Comparison: LessThan{107}, Description: "dollar not squeezing risk assets"},
		{Indicator: "hy_spread", Comparison: LessOrEqual{5}, Description: "credit spreads contained"},
		{Indicator: "yield_curve_10y2y", Comparison: GreaterOrEqual{-0.75}, Description: "curve not deeply inverted"},
		{Indicator: "fear_greed", Comparison: Between{25, 80}, Description: "sentiment neither panicked nor euphoric"},
	}
}

// MacroSignal classifies the macro score
type MacroSignal int

const (
	MacroBlocked MacroSignal = iota
	MacroWeak
	MacroModerate
	MacroStrong
)

func (s MacroSignal) String() string {
	switch s {
	case MacroStrong:
		return "STRONG"
	case MacroModerate:
		return "MODERATE"
	case MacroWeak:
		return "WEAK"
	case MacroBlocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the signal name
func (s MacroSignal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ClassifyMacro maps a score to a signal
func ClassifyMacro(score float64) MacroSignal {
	switch {
	case score >= 80:
		return MacroStrong
	case score >= 60:
		return MacroModerate
	case score >= 40:
		return MacroWeak
	default:
		return MacroBlocked
	}
}

// neutralMacroScore is reported when nothing could be evaluated
const neutralMacroScore = 50.0

// ConditionOutcome reports how one condition fared
type ConditionOutcome struct {
	Indicator   string  `json:"indicator"`
	Comparison  string  `json:"comparison"`
	Description string  `json:"description,omitempty"`
	Value       float64 `json:"value"`
	Passed      bool    `json:"passed"`
	NoData      bool    `json:"no_data"`
}

// MacroGateResult contains the macro classification
type MacroGateResult struct {
	Signal      MacroSignal        `json:"signal"`
	Score       float64            `json:"score"`
	ShouldTrade bool               `json:"should_trade"`
	Passed      int                `json:"passed"`
	Evaluated   int                `json:"evaluated"`
	Details     []ConditionOutcome `json:"details"`
	Reasons     []string           `json:"reasons"`
	NoData      bool               `json:"no_data"`
	SnapshotAt  time.Time          `json:"snapshot_at,omitempty"`
}

// MacroGate filters trading on macro indicator thresholds
type MacroGate struct {
	provider   macro.Provider
	conditions []Condition
}

// NewMacroGate creates a macro gate over provider
func NewMacroGate(provider macro.Provider, conditions []Condition) *MacroGate {
	return &MacroGate{provider: provider, conditions: conditions}
}

// Conditions returns the configured conditions
func (g *MacroGate) Conditions() []Condition {
	return g.conditions
}

// Evaluate fetches the current snapshot and scores the conditions.
// A failed fetch degrades to the neutral result.
func (g *MacroGate) Evaluate(ctx context.Context) MacroGateResult {
	if g.provider == nil {
		return neutralMacro("no data: no macro provider configured", nil)
	}
	snap, err := g.provider.Snapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Macro snapshot unavailable, using neutral macro gate")
		return neutralMacro("no data: "+err.Error(), nil)
	}
	return g.EvaluateSnapshot(snap)
}

// EvaluateSnapshot scores the conditions against snap.
// Conditions whose indicator is missing are skipped and reported as no data.
func (g *MacroGate) EvaluateSnapshot(snap *macro.Snapshot) MacroGateResult {
	if snap.Empty() {
		return neutralMacro("no data: empty macro snapshot", nil)
	}
	if len(g.conditions) == 0 {
		return neutralMacro("no data: no macro conditions configured", nil)
	}

	details := make([]ConditionOutcome, 0, len(g.conditions))
	var reasons []string
	passed, evaluated := 0, 0

	for _, cond := range g.conditions {
		outcome := ConditionOutcome{
			Indicator:   cond.Indicator,
			Comparison:  cond.Comparison.String(),
			Description: cond.Description,
		}

		v, ok := snap.Value(cond.Indicator)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			outcome.NoData = true
			details = append(details, outcome)
			reasons = append(reasons, fmt.Sprintf("%s: no data", cond.Indicator))
			continue
		}

		evaluated++
		outcome.Value = v
		outcome.Passed = cond.Comparison.Holds(v)
		if outcome.Passed {
			passed++
		} else {
			reasons = append(reasons, fmt.Sprintf("%s %g fails %s", cond.Indicator, v, cond.Comparison))
		}
		details = append(details, outcome)
	}

	if evaluated == 0 {
		result := neutralMacro("no data: none of the macro indicators are available", details)
		result.SnapshotAt = snap.Timestamp
		return result
	}

	score := float64(passed) / float64(evaluated) * 100
	signal := ClassifyMacro(score)

	log.Info().
		Str("signal", signal.String()).
		Float64("score", score).
		Int("passed", passed).
		Int("evaluated", evaluated).
		Msg("Macro gate evaluated")

	return MacroGateResult{
		Signal:      signal,
		Score:       score,
		ShouldTrade: score >= 40,
		Passed:      passed,
		Evaluated:   evaluated,
		Details:     details,
		Reasons:     reasons,
		SnapshotAt:  snap.Timestamp,
	}
}

func neutralMacro(reason string, details []ConditionOutcome) MacroGateResult {
	return MacroGateResult{
		Signal:      ClassifyMacro(neutralMacroScore),
		Score:       neutralMacroScore,
		ShouldTrade: true,
		Details:     details,
		Reasons:     []string{reason},
		NoData:      true,
	}
}
