// Package pipeline runs the per-bar decision flow for one universe:
// timing guards, market gate, macro gate, breakout quality, selection and risk.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/point10890-crypto/closing-bet-sub002/internal/config"
	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/data/macro"
	"github.com/point10890-crypto/closing-bet-sub002/internal/domain/guards"
	"github.com/point10890-crypto/closing-bet-sub002/internal/gates"
	"github.com/point10890-crypto/closing-bet-sub002/internal/persistence"
	"github.com/point10890-crypto/closing-bet-sub002/internal/portfolio"
	"github.com/point10890-crypto/closing-bet-sub002/internal/quality"
	"github.com/point10890-crypto/closing-bet-sub002/internal/regime"
	"github.com/point10890-crypto/closing-bet-sub002/internal/risk"
)

// ErrUnknownPosition is returned when closing a symbol the coordinator never opened
var ErrUnknownPosition = errors.New("unknown position")

// Step names reported in BarResult.StepDurations
const (
	StepGuards    = "guards"
	StepMarket    = "market_gate"
	StepMacro     = "macro_gate"
	StepQuality   = "quality"
	StepSelection = "selection"
)

// Rejection stages
const (
	StageQuality = "quality"
	StageRisk    = "risk"
	StageGate    = "gate"
)

// Recorder receives per-bar observations. *metrics.Registry implements it.
type Recorder interface {
	ObserveBar(d time.Duration)
	RecordMarketGate(res regime.Result, change *regime.GateChange)
	RecordMacroGate(res gates.MacroGateResult)
	RecordRisk(st risk.Status)
	RecordRiskDecision(d risk.Decision)
	RecordSignals(stage string, n int)
}

// Deps are the optional collaborators of a Coordinator
type Deps struct {
	MacroProvider macro.Provider     // nil evaluates the macro gate to its neutral default
	Conditions    []gates.Condition  // nil uses gates.DefaultConditions
	GateRepo      persistence.GateRepo
	Recorder      Recorder
	HistorySize   int
}

// BarInput is everything known at the close of one bar.
// Every series must already be cut at Timestamp; anything newer is a lookahead violation.
type BarInput struct {
	Timestamp  time.Time
	Market     regime.Inputs
	Candidates []interfaces.SignalCandidate
	Series     map[string]interfaces.Series // per-symbol candles for the quality filter
}

// Entry is a candidate that passed every stage, sized by the risk manager
type Entry struct {
	Candidate     interfaces.SignalCandidate `json:"candidate"`
	AdjustedScore float64                    `json:"adjusted_score"`
	Quality       quality.BreakoutQuality    `json:"quality"`
	Decision      risk.Decision              `json:"decision"`
	Value         float64                    `json:"value"`
}

// Rejection explains why a candidate did not become an entry
type Rejection struct {
	Symbol string `json:"symbol"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// BarResult is the outcome of one ProcessBar call
type BarResult struct {
	Bar            int                      `json:"bar"`
	Timestamp      time.Time                `json:"timestamp"`
	Market         regime.Result            `json:"market"`
	Change         *regime.GateChange       `json:"change,omitempty"`
	Macro          gates.MacroGateResult    `json:"macro"`
	StandAside     bool                     `json:"stand_aside"`
	Recommendation string                   `json:"recommendation,omitempty"`
	Entries        []Entry                  `json:"entries"`
	Rejected       []Rejection              `json:"rejected,omitempty"`
	Risk           risk.Status              `json:"risk"`
	Notes          []string                 `json:"notes,omitempty"`
	StepDurations  map[string]time.Duration `json:"step_durations"`
}

// Position is an entry the coordinator opened and has not yet closed
type Position struct {
	Symbol   string    `json:"symbol"`
	Sector   string    `json:"sector,omitempty"`
	Value    float64   `json:"value"`
	EntryBar int       `json:"entry_bar"`
	OpenedAt time.Time `json:"opened_at"`
}

// Coordinator owns the risk manager and signal queue of one universe.
// ProcessBar calls must be made in chronological order; readers may call Status concurrently.
type Coordinator struct {
	mu sync.Mutex

	universe    string
	timeframe   interfaces.Timeframe
	positionPct float64

	market    *regime.Evaluator
	history   *regime.History
	macroGate *gates.MacroGate
	quality   *quality.Filter
	risk      *risk.Manager
	portfolio *portfolio.Manager

	gateRepo persistence.GateRepo
	recorder Recorder

	open       map[string]Position
	lastMacro  *gates.MacroGateResult
	lastBar    time.Time
	barQuality map[string]quality.BreakoutQuality
}

// NewCoordinator builds every component from cfg
func NewCoordinator(cfg *config.AppConfig, deps Deps) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	riskManager, err := risk.NewManager(cfg.InitialCapital, cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("risk manager: %w", err)
	}
	portfolioManager, err := portfolio.NewManager(cfg.Portfolio)
	if err != nil {
		return nil, fmt.Errorf("portfolio manager: %w", err)
	}

	market, err := regime.NewEvaluator(cfg.Regime)
	if err != nil {
		return nil, fmt.Errorf("market gate: %w", err)
	}
	filter, err := quality.NewFilter(cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("quality filter: %w", err)
	}

	conditions := deps.Conditions
	if conditions == nil {
		conditions = gates.DefaultConditions()
	}

	return &Coordinator{
		universe:    cfg.Universe,
		timeframe:   cfg.Timeframe,
		positionPct: cfg.PositionPct,
		market:      market,
		history:     regime.NewHistory(deps.HistorySize),
		macroGate:   gates.NewMacroGate(deps.MacroProvider, conditions),
		quality:     filter,
		risk:        riskManager,
		portfolio:   portfolioManager,
		gateRepo:    deps.GateRepo,
		recorder:    deps.Recorder,
		open:        make(map[string]Position),
	}, nil
}

// Risk exposes the risk manager for manual halts and resumes
func (c *Coordinator) Risk() *risk.Manager {
	return c.risk
}

// History exposes the market gate history
func (c *Coordinator) History() *regime.History {
	return c.history
}

// ProcessBar runs one bar through the pipeline.
// A lookahead violation aborts the bar before any state changes and is returned as an error
// wrapping guards.ErrLookahead. A RED market gate or a macro gate that does not permit trading
// is a stand-aside recommendation, not an error.
func (c *Coordinator) ProcessBar(ctx context.Context, in BarInput) (*BarResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	result := &BarResult{
		Bar:           c.portfolio.Bar(),
		Timestamp:     in.Timestamp,
		Entries:       []Entry{},
		StepDurations: make(map[string]time.Duration),
	}

	if !c.lastBar.IsZero() && !in.Timestamp.After(c.lastBar) {
		return nil, fmt.Errorf("bar at %s is not after previous bar at %s: %w",
			in.Timestamp.Format(time.RFC3339), c.lastBar.Format(time.RFC3339), interfaces.ErrOutOfOrder)
	}

	steps := []struct {
		name string
		fn   func(ctx context.Context, in BarInput, result *BarResult) error
	}{
		{StepGuards, c.checkTiming},
		{StepMarket, c.evaluateMarket},
		{StepMacro, c.evaluateMacro},
		{StepQuality, c.filterCandidates},
		{StepSelection, c.selectEntries},
	}

	c.barQuality = make(map[string]quality.BreakoutQuality)
	for _, step := range steps {
		stepStart := time.Now()
		err := step.fn(ctx, in, result)
		result.StepDurations[step.name] = time.Since(stepStart)
		if err != nil {
			log.Error().Err(err).Str("universe", c.universe).Str("step", step.name).
				Time("bar", in.Timestamp).Msg("Bar aborted")
			return nil, err
		}
		if step.name == StepGuards {
			// Nothing has been mutated yet; from here on the bar is committed.
			c.lastBar = in.Timestamp
		}
	}

	c.portfolio.AdvanceBar()
	result.Risk = c.risk.Status()

	if c.recorder != nil {
		c.recorder.RecordRisk(result.Risk)
		c.recorder.ObserveBar(time.Since(start))
	}

	log.Info().
		Str("universe", c.universe).
		Time("bar", in.Timestamp).
		Str("market", result.Market.Status.String()).
		Str("macro", result.Macro.Signal.String()).
		Int("candidates", len(in.Candidates)).
		Int("entries", len(result.Entries)).
		Int("rejected", len(result.Rejected)).
		Bool("stand_aside", result.StandAside).
		Dur("duration", time.Since(start)).
		Msg("Bar processed")

	return result, nil
}

// checkTiming rejects any input that extends past the bar timestamp
func (c *Coordinator) checkTiming(_ context.Context, in BarInput, result *BarResult) error {
	var checks []guards.Result

	checks = append(checks, guards.CheckSeriesCutoff(in.Market.Reference, in.Timestamp))
	checks = append(checks, guards.CheckSeriesCutoff(in.Market.Intraday, in.Timestamp))
	for _, symbol := range sortedKeys(in.Market.Basket) {
		checks = append(checks, guards.CheckSeriesCutoff(in.Market.Basket[symbol], in.Timestamp))
	}
	for _, symbol := range sortedKeys(in.Series) {
		checks = append(checks, guards.CheckSeriesCutoff(in.Series[symbol], in.Timestamp))
	}
	for _, cand := range in.Candidates {
		checks = append(checks, guards.CheckSignalTiming(in.Timestamp, cand.EventTimestamp, c.timeframe.Duration()))
	}

	for _, chk := range checks {
		if err := chk.Err(); err != nil {
			return err
		}
		result.Notes = append(result.Notes, chk.Notes...)
	}
	return nil
}

// evaluateMarket scores the market gate, records history and persists the snapshot
func (c *Coordinator) evaluateMarket(ctx context.Context, in BarInput, result *BarResult) error {
	res := c.market.Evaluate(in.Market)
	if res.Timestamp.IsZero() {
		res.Timestamp = in.Timestamp
	}
	result.Market = res
	result.Change = c.history.Record(res)

	if result.Change != nil {
		log.Info().
			Str("universe", c.universe).
			Str("from", result.Change.From.String()).
			Str("to", result.Change.To.String()).
			Float64("score", res.Score).
			Msg("Market gate changed")
	}

	if c.gateRepo != nil {
		snap := persistence.GateSnapshot{
			Timestamp:  res.Timestamp,
			Status:     res.Status.String(),
			Score:      res.Score,
			Components: res.Components,
			Reasons:    res.Reasons,
		}
		if err := c.gateRepo.Upsert(ctx, snap); err != nil {
			log.Warn().Err(err).Time("bar", in.Timestamp).Msg("Failed to persist market gate snapshot")
		}
	}

	if c.recorder != nil {
		c.recorder.RecordMarketGate(res, result.Change)
	}
	return nil
}

func (c *Coordinator) evaluateMacro(ctx context.Context, _ BarInput, result *BarResult) error {
	res := c.macroGate.Evaluate(ctx)
	result.Macro = res
	c.lastMacro = &res

	if c.recorder != nil {
		c.recorder.RecordMacroGate(res)
	}
	return nil
}

// filterCandidates applies the stand-aside rules and the breakout quality filter, then enqueues survivors
func (c *Coordinator) filterCandidates(_ context.Context, in BarInput, result *BarResult) error {
	if c.recorder != nil {
		c.recorder.RecordSignals("received", len(in.Candidates))
	}

	switch {
	case !result.Market.Status.AllowsEntries():
		result.StandAside = true
		result.Recommendation = fmt.Sprintf("stand aside: market gate RED (score %.1f)", result.Market.Score)
	case !result.Macro.ShouldTrade:
		result.StandAside = true
		result.Recommendation = fmt.Sprintf("stand aside: macro gate %s (score %.1f)", result.Macro.Signal, result.Macro.Score)
	}
	if result.StandAside {
		for _, cand := range in.Candidates {
			result.Rejected = append(result.Rejected, Rejection{Symbol: cand.Symbol, Stage: StageGate, Reason: result.Recommendation})
		}
		log.Info().Str("universe", c.universe).Time("bar", in.Timestamp).
			Str("recommendation", result.Recommendation).Msg("New entries blocked")
		return nil
	}

	var survivors []interfaces.SignalCandidate
	for _, cand := range in.Candidates {
		series, ok := in.Series[cand.Symbol]
		if !ok {
			result.Rejected = append(result.Rejected, Rejection{Symbol: cand.Symbol, Stage: StageQuality, Reason: "no candles supplied"})
			continue
		}

		q, err := c.quality.EvaluateCandidate(series, cand)
		if err != nil {
			result.Rejected = append(result.Rejected, Rejection{Symbol: cand.Symbol, Stage: StageQuality, Reason: err.Error()})
			continue
		}
		if !q.IsValid {
			result.Rejected = append(result.Rejected, Rejection{Symbol: cand.Symbol, Stage: StageQuality, Reason: hardFailure(q)})
			continue
		}

		cand.Score = quality.AdjustedScore(cand.Score, q)
		c.barQuality[cand.Symbol] = q
		survivors = append(survivors, cand)
	}

	accepted := c.portfolio.AddSignals(survivors)
	if c.recorder != nil {
		c.recorder.RecordSignals("qualified", len(survivors))
		c.recorder.RecordSignals("queued", accepted)
	}
	return nil
}

// selectEntries takes the queue's picks and asks the risk manager about each one
func (c *Coordinator) selectEntries(_ context.Context, in BarInput, result *BarResult) error {
	if result.StandAside {
		return nil
	}

	held := make([]string, 0, len(c.open))
	for symbol := range c.open {
		held = append(held, symbol)
	}
	sort.Strings(held)

	openSlots := c.risk.Limits().MaxPositions - len(c.open)
	selected := c.portfolio.GetNextSignals(0, held, openSlots)

	for _, cand := range selected {
		equity := c.risk.Status().Equity
		requested := equity * c.positionPct

		atrRatio := math.NaN()
		if cand.ATRPct > 0 {
			atrRatio = cand.ATRPct / 100
		}

		decision := c.risk.CheckCanOpenPosition(requested, atrRatio, cand.Sector)
		if c.recorder != nil {
			c.recorder.RecordRiskDecision(decision)
		}
		if !decision.Allowed {
			result.Rejected = append(result.Rejected, Rejection{Symbol: cand.Symbol, Stage: StageRisk, Reason: decision.Reason})
			continue
		}

		value := requested * decision.SuggestedSizePct / 100
		c.risk.OpenPosition(cand.Symbol, value, cand.Sector)
		c.portfolio.RecordEntry(cand.Symbol)
		c.open[cand.Symbol] = Position{
			Symbol:   cand.Symbol,
			Sector:   cand.Sector,
			Value:    value,
			EntryBar: result.Bar,
			OpenedAt: in.Timestamp,
		}

		result.Entries = append(result.Entries, Entry{
			Candidate:     cand,
			AdjustedScore: cand.Score,
			Quality:       c.barQuality[cand.Symbol],
			Decision:      decision,
			Value:         value,
		})
	}

	if c.recorder != nil {
		c.recorder.RecordSignals("selected", len(selected))
		c.recorder.RecordSignals("entered", len(result.Entries))
	}
	return nil
}

// RecordExit closes a position opened by ProcessBar and books its realised pnl
func (c *Coordinator) RecordExit(symbol string, pnl float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.open[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrUnknownPosition)
	}
	delete(c.open, symbol)

	c.risk.ClosePosition(symbol, pos.Value, pos.Sector)
	c.risk.RecordTradeResult(pnl, pnl > 0, symbol, pos.Sector)
	c.portfolio.RecordExit(symbol)

	if c.recorder != nil {
		c.recorder.RecordRisk(c.risk.Status())
	}
	return nil
}

// StartDay resets daily risk counters and per-symbol trade caps
func (c *Coordinator) StartDay() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.risk.ResetDaily()
	c.portfolio.ResetDaily()
}

// StartWeek resets weekly risk counters
func (c *Coordinator) StartWeek() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.risk.ResetWeekly()
}

// StartMonth resets monthly risk counters
func (c *Coordinator) StartMonth() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.risk.ResetMonthly()
}

// Status is the monitoring view of a coordinator
type Status struct {
	Universe      string                 `json:"universe"`
	LastBar       time.Time              `json:"last_bar"`
	Market        *regime.Result         `json:"market,omitempty"`
	MarketStable  bool                   `json:"market_stable"`
	GateCounts    map[string]int         `json:"gate_counts"`
	GateChanges   []regime.GateChange    `json:"gate_changes"`
	Macro         *gates.MacroGateResult `json:"macro,omitempty"`
	Risk          risk.Status            `json:"risk"`
	Queue         portfolio.Snapshot     `json:"queue"`
	OpenPositions []Position             `json:"open_positions"`
}

// Status returns a snapshot safe to serialise from another goroutine
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Universe:      c.universe,
		LastBar:       c.lastBar,
		GateCounts:    c.history.Counts(),
		GateChanges:   c.history.Changes(),
		Risk:          c.risk.Status(),
		Queue:         c.portfolio.Snapshot(),
		OpenPositions: make([]Position, 0, len(c.open)),
	}
	if latest, ok := c.history.Latest(); ok {
		st.Market = &latest
		st.MarketStable = c.history.IsStable(c.lastBar, 24*time.Hour)
	}
	if c.lastMacro != nil {
		m := *c.lastMacro
		st.Macro = &m
	}
	for _, symbol := range sortedKeys(c.open) {
		st.OpenPositions = append(st.OpenPositions, c.open[symbol])
	}
	return st
}

// hardFailure returns the reason of the check that invalidated q
func hardFailure(q quality.BreakoutQuality) string {
	for _, check := range q.Checks {
		if check.Hard && !check.Passed {
			return check.Reason
		}
	}
	return "breakout quality rejected"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
