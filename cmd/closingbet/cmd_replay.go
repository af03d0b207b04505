package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/point10890-crypto/closing-bet-sub002/internal/application/pipeline"
	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/domain/guards"
	"github.com/point10890-crypto/closing-bet-sub002/internal/regime"
)

func newReplayCmd() *cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay candidates bar by bar through the gates and risk limits",
		Long: `Feeds a JSON-lines file of signal candidates through the coordinator using
cached series only. Each candidate joins the first reference bar at or after
its event. An entry selected on a bar fills at the open of the next candle and
is closed at the close of the bar --hold-bars after the fill.`,
		RunE: runReplay,
	}

	addReplayFlags(replayCmd)
	_ = replayCmd.MarkFlagRequired("candidates")
	_ = replayCmd.MarkFlagRequired("reference")

	return replayCmd
}

// readCandidates parses one SignalCandidate per line, ignoring blank lines
func readCandidates(r io.Reader) ([]interfaces.SignalCandidate, error) {
	var out []interfaces.SignalCandidate
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var cand interfaces.SignalCandidate
		if err := json.Unmarshal([]byte(text), &cand); err != nil {
			return nil, fmt.Errorf("candidates line %d: %w", line, err)
		}
		if cand.Symbol == "" || cand.EventTimestamp.IsZero() {
			return nil, fmt.Errorf("candidates line %d: symbol and event_timestamp are required", line)
		}
		cand.EventTimestamp = cand.EventTimestamp.UTC()
		out = append(out, cand)
	}
	return out, scanner.Err()
}

// schedule assigns every candidate to the first bar at or after its event.
// Bars run from the first candidate's bar through its fill bar plus holdBars.
func schedule(bars []time.Time, candidates []interfaces.SignalCandidate, holdBars int) ([]time.Time, map[int][]interfaces.SignalCandidate) {
	byBar := make(map[int][]interfaces.SignalCandidate)
	first, last := -1, -1
	for _, cand := range candidates {
		i := sort.Search(len(bars), func(i int) bool { return !bars[i].Before(cand.EventTimestamp) })
		if i == len(bars) {
			log.Warn().Str("symbol", cand.Symbol).Time("event", cand.EventTimestamp).
				Msg("Candidate is after the last reference bar, dropped")
			continue
		}
		byBar[i] = append(byBar[i], cand)
		if first < 0 || i < first {
			first = i
		}
		if i > last {
			last = i
		}
	}
	if first < 0 {
		return nil, nil
	}

	end := last + holdBars + 2
	if end > len(bars) {
		end = len(bars)
	}
	shifted := make(map[int][]interfaces.SignalCandidate, len(byBar))
	for i, cands := range byBar {
		shifted[i-first] = cands
	}
	return bars[first:end], shifted
}

// heldPosition tracks what replay needs to price an exit
type heldPosition struct {
	bar        int
	filledAt   time.Time
	entryPrice float64
	value      float64
}

// pendingFill is an entry selected on bar that fills on the next one
type pendingFill struct {
	bar       int
	candidate interfaces.SignalCandidate
	value     float64
}

// replayReport is the JSON shape of `closingbet replay`
type replayReport struct {
	Bars     []*pipeline.BarResult `json:"bars"`
	Fills    []replayFill          `json:"fills"`
	Exits    []replayExit          `json:"exits"`
	Unfilled []string              `json:"unfilled,omitempty"`
	Status   pipeline.Status       `json:"status"`
}

type replayFill struct {
	Symbol    string    `json:"symbol"`
	Signal    time.Time `json:"signal_timestamp"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

type replayExit struct {
	Symbol    string    `json:"symbol"`
	Entry     time.Time `json:"entry_timestamp"`
	Timestamp time.Time `json:"timestamp"`
	PnL       float64   `json:"pnl"`
}

// replayer drives a coordinator over cached series
type replayer struct {
	coord        *pipeline.Coordinator
	ref          interfaces.Series
	basket       map[string]interfaces.Series
	symbolSeries map[string]interfaces.Series
	bars         []time.Time
	byBar        map[int][]interfaces.SignalCandidate
	holdBars     int
	timeframe    interfaces.Timeframe
	leverage     *regime.LeverageMetrics
	pending      []pendingFill
	held         map[string]heldPosition
	report       replayReport
}

// addReplayFlags registers the flags shared by replay and monitor
func addReplayFlags(cmd *cobra.Command) {
	cmd.Flags().String("candidates", "", "JSON-lines file of signal candidates")
	cmd.Flags().String("reference", "", "Reference asset symbol")
	cmd.Flags().String("basket", "", "Comma-separated breadth basket symbols")
	cmd.Flags().String("source", "csv", "Cache source of the series")
	cmd.Flags().Int("hold-bars", 3, "Bars each entry is held before it is closed")
	cmd.Flags().Float64("funding", 0, "Funding rate of the reference perpetual")
	cmd.Flags().Float64("oi-z", 0, "Open interest delta z-score")
}

// newCoordinator builds a coordinator wired to the macro chain, gate history and metrics
func newCoordinator(svc *services) (*pipeline.Coordinator, error) {
	conditions, err := svc.conditions()
	if err != nil {
		return nil, err
	}
	deps := pipeline.Deps{
		MacroProvider: svc.macroProvider(),
		Conditions:    conditions,
		Recorder:      svc.metrics,
	}
	if svc.db.IsEnabled() {
		deps.GateRepo = svc.db.Repository().Gates
	}
	return pipeline.NewCoordinator(svc.cfg, deps)
}

func prepareReplay(cmd *cobra.Command, svc *services) (*replayer, error) {
	ctx := cmd.Context()
	cfg := svc.cfg

	candidatesPath, _ := cmd.Flags().GetString("candidates")
	reference, _ := cmd.Flags().GetString("reference")
	basketFlag, _ := cmd.Flags().GetString("basket")
	source, _ := cmd.Flags().GetString("source")
	holdBars, _ := cmd.Flags().GetInt("hold-bars")
	if candidatesPath == "" || reference == "" {
		return nil, fmt.Errorf("--candidates and --reference are required")
	}
	if holdBars < 1 {
		return nil, fmt.Errorf("--hold-bars must be at least 1, got %d", holdBars)
	}

	f, err := os.Open(candidatesPath)
	if err != nil {
		return nil, fmt.Errorf("open candidates: %w", err)
	}
	candidates, err := readCandidates(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	ref, err := svc.loadSeries(ctx, reference, cfg.Timeframe, source)
	if err != nil {
		return nil, err
	}

	refTimes := make([]time.Time, len(ref))
	for i, c := range ref {
		refTimes[i] = c.Timestamp
	}
	bars, byBar := schedule(refTimes, candidates, holdBars)
	if len(bars) == 0 {
		return nil, fmt.Errorf("no candidate falls inside the %s reference series", reference)
	}

	symbolSeries := make(map[string]interfaces.Series)
	for _, cand := range candidates {
		if _, seen := symbolSeries[cand.Symbol]; seen {
			continue
		}
		series, err := svc.loadSeries(ctx, cand.Symbol, cfg.Timeframe, source)
		if err != nil {
			log.Warn().Err(err).Str("symbol", cand.Symbol).Msg("Candidate series unavailable")
		}
		symbolSeries[cand.Symbol] = series
	}

	coord, err := newCoordinator(svc)
	if err != nil {
		return nil, err
	}

	return &replayer{
		coord:        coord,
		ref:          ref,
		basket:       svc.loadBasket(ctx, splitList(basketFlag), cfg.Timeframe, source),
		symbolSeries: symbolSeries,
		bars:         bars,
		byBar:        byBar,
		holdBars:     holdBars,
		timeframe:    cfg.Timeframe,
		leverage:     leverageFromFlags(cmd),
		held:         make(map[string]heldPosition),
	}, nil
}

// run processes every bar, sleeping pause between bars when positive
func (r *replayer) run(ctx context.Context, pause time.Duration) error {
	for i := range r.bars {
		if err := r.step(ctx, i); err != nil {
			return err
		}
		if pause > 0 && i < len(r.bars)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
	}
	for _, p := range r.pending {
		log.Warn().Str("symbol", p.candidate.Symbol).Time("bar", r.bars[p.bar]).
			Msg("Entry selected on the last bar was never filled")
		r.report.Unfilled = append(r.report.Unfilled, p.candidate.Symbol)
	}
	r.pending = nil
	r.report.Status = r.coord.Status()
	return nil
}

// step fills entries selected on the previous bar, closes positions due at bar i,
// then processes the bar
func (r *replayer) step(ctx context.Context, i int) error {
	ts := r.bars[i]
	if i > 0 {
		startPeriods(r.coord, r.bars[i-1], ts)
	}
	if err := r.fill(i); err != nil {
		return err
	}

	for _, symbol := range sortedHeld(r.held) {
		pos := r.held[symbol]
		if i-pos.bar < r.holdBars {
			continue
		}
		pnl := 0.0
		if exitPrice, ok := closeAt(r.symbolSeries[symbol], ts); ok && pos.entryPrice > 0 {
			pnl = pos.value * (exitPrice/pos.entryPrice - 1)
		}
		if err := r.coord.RecordExit(symbol, pnl); err != nil {
			return err
		}
		delete(r.held, symbol)
		r.report.Exits = append(r.report.Exits, replayExit{Symbol: symbol, Entry: pos.filledAt, Timestamp: ts, PnL: pnl})
	}

	in := pipeline.BarInput{
		Timestamp: ts,
		Market: regime.Inputs{
			Reference: r.ref.Through(ts),
			Basket:    make(map[string]interfaces.Series, len(r.basket)),
			Leverage:  r.leverage,
		},
		Candidates: r.byBar[i],
		Series:     make(map[string]interfaces.Series),
	}
	for symbol, series := range r.basket {
		in.Market.Basket[symbol] = series.Through(ts)
	}
	for _, cand := range r.byBar[i] {
		if series := r.symbolSeries[cand.Symbol]; len(series) > 0 {
			in.Series[cand.Symbol] = series.Through(ts)
		}
	}

	result, err := r.coord.ProcessBar(ctx, in)
	if err != nil {
		return fmt.Errorf("bar %s: %w", fmtTime(ts), err)
	}
	for _, entry := range result.Entries {
		r.pending = append(r.pending, pendingFill{bar: i, candidate: entry.Candidate, value: entry.Value})
	}
	r.report.Bars = append(r.report.Bars, result)
	return nil
}

// fill prices the entries selected on an earlier bar at the open of the first
// candle after that bar. A fill that is not strictly after its signal is a
// lookahead violation.
func (r *replayer) fill(i int) error {
	ts := r.bars[i]
	for _, p := range r.pending {
		symbol := p.candidate.Symbol
		filledAt, price, ok := openAfter(r.symbolSeries[symbol], r.bars[p.bar], ts)
		if !ok {
			filledAt = ts
		}

		check := guards.CheckEntryTiming(p.candidate.EventTimestamp, filledAt, r.timeframe.Duration())
		if err := check.Err(); err != nil {
			return fmt.Errorf("fill %s: %w", symbol, err)
		}
		for _, note := range check.Notes {
			log.Debug().Str("symbol", symbol).Msg(note)
		}

		r.held[symbol] = heldPosition{bar: i, filledAt: filledAt, entryPrice: price, value: p.value}
		r.report.Fills = append(r.report.Fills, replayFill{
			Symbol: symbol, Signal: p.candidate.EventTimestamp, Timestamp: filledAt, Price: price,
		})
	}
	r.pending = r.pending[:0]
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	svc, err := openServices(configFrom(cmd))
	if err != nil {
		return err
	}
	defer svc.Close()

	r, err := prepareReplay(cmd, svc)
	if err != nil {
		return err
	}
	if err := r.run(cmd.Context(), 0); err != nil {
		return err
	}
	report := r.report

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, report)
	}

	rows := make([][]string, 0, len(report.Bars))
	for _, b := range report.Bars {
		rows = append(rows, []string{
			fmtTime(b.Timestamp),
			fmt.Sprintf("%s %.1f", b.Market.Status, b.Market.Score),
			b.Macro.Signal.String(),
			entrySymbols(b.Entries),
			fmt.Sprint(len(b.Rejected)),
			fmtFloat(b.Risk.Equity, 2),
			b.Risk.State,
		})
	}
	renderTable(out, []string{"Bar", "Market", "Macro", "Entries", "Rejected", "Equity", "Risk"}, rows)

	st := report.Status
	fmt.Fprintf(out, "%d fills, %d exits, equity %.2f, drawdown %.2f%%, state %s\n",
		len(report.Fills), len(report.Exits), st.Risk.Equity, st.Risk.DrawdownPct*100, st.Risk.State)
	return nil
}

// startPeriods resets the loss windows the step from prev to ts crossed
func startPeriods(coord *pipeline.Coordinator, prev, ts time.Time) {
	prev, ts = prev.UTC(), ts.UTC()
	if prev.Year() != ts.Year() || prev.Month() != ts.Month() {
		coord.StartMonth()
	}
	py, pw := prev.ISOWeek()
	ty, tw := ts.ISOWeek()
	if py != ty || pw != tw {
		coord.StartWeek()
	}
	if prev.YearDay() != ts.YearDay() || prev.Year() != ts.Year() {
		coord.StartDay()
	}
}

// openAfter returns the first candle strictly after from and at or before through
func openAfter(series interfaces.Series, from, through time.Time) (time.Time, float64, bool) {
	i := sort.Search(len(series), func(i int) bool { return series[i].Timestamp.After(from) })
	if i == len(series) || series[i].Timestamp.After(through) {
		return time.Time{}, 0, false
	}
	return series[i].Timestamp, series[i].Open, true
}

// closeAt returns the close of the last candle at or before ts
func closeAt(series interfaces.Series, ts time.Time) (float64, bool) {
	last, ok := series.Through(ts).Last()
	if !ok {
		return 0, false
	}
	return last.Close, true
}

func sortedHeld(held map[string]heldPosition) []string {
	symbols := make([]string, 0, len(held))
	for s := range held {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

func entrySymbols(entries []pipeline.Entry) string {
	if len(entries) == 0 {
		return "-"
	}
	symbols := make([]string, len(entries))
	for i, e := range entries {
		symbols[i] = e.Candidate.Symbol
	}
	return strings.Join(symbols, ",")
}
