package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/gates"
	"github.com/point10890-crypto/closing-bet-sub002/internal/regime"
)

func newGateCmd() *cobra.Command {
	gateCmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate the market and macro gates",
		Long: `Scores the market regime from cached reference and basket series and
evaluates the macro conditions against the configured snapshot file.

Series are read from the cache at the configured timeframe and cut at --at,
so the same invocation always yields the same classification.`,
		RunE: runGate,
	}

	gateCmd.Flags().String("reference", "", "Reference asset symbol (required)")
	gateCmd.Flags().String("basket", "", "Comma-separated breadth basket symbols")
	gateCmd.Flags().String("source", "csv", "Cache source of the series")
	gateCmd.Flags().String("intraday", "", "Optional intraday timeframe of the reference asset (e.g. 1h)")
	gateCmd.Flags().String("at", "", "Evaluation time (RFC3339 or YYYY-MM-DD); defaults to the last reference candle")
	gateCmd.Flags().Float64("funding", 0, "Funding rate of the reference perpetual")
	gateCmd.Flags().Float64("oi-z", 0, "Open interest delta z-score")
	_ = gateCmd.MarkFlagRequired("reference")

	return gateCmd
}

// gateReport is the JSON shape of `closingbet gate`
type gateReport struct {
	Market regime.Result         `json:"market"`
	Macro  gates.MacroGateResult `json:"macro"`
}

func runGate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := configFrom(cmd)

	reference, _ := cmd.Flags().GetString("reference")
	basketFlag, _ := cmd.Flags().GetString("basket")
	source, _ := cmd.Flags().GetString("source")
	intradayTF, _ := cmd.Flags().GetString("intraday")
	atFlag, _ := cmd.Flags().GetString("at")

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ref, err := svc.loadSeries(ctx, reference, cfg.Timeframe, source)
	if err != nil {
		return err
	}

	at := time.Time{}
	if atFlag != "" {
		if at, err = parseTime(atFlag); err != nil {
			return err
		}
	} else if last, ok := ref.Last(); ok {
		at = last.Timestamp
	}

	in := regime.Inputs{
		Reference: ref.Through(at),
		Basket:    make(map[string]interfaces.Series),
	}
	for symbol, series := range svc.loadBasket(ctx, splitList(basketFlag), cfg.Timeframe, source) {
		in.Basket[symbol] = series.Through(at)
	}
	if intradayTF != "" {
		intraday, err := svc.loadSeries(ctx, reference, interfaces.Timeframe(intradayTF), source)
		if err != nil {
			log.Warn().Err(err).Msg("Intraday series unavailable, participation uses daily volume")
		} else {
			in.Intraday = intraday.Through(at)
		}
	}
	in.Leverage = leverageFromFlags(cmd)

	evaluator, err := regime.NewEvaluator(cfg.Regime)
	if err != nil {
		return err
	}
	result := evaluator.Evaluate(in)
	result.Timestamp = at
	svc.metrics.RecordMarketGate(result, nil)

	conditions, err := svc.conditions()
	if err != nil {
		return err
	}
	macroResult := gates.NewMacroGate(svc.macroProvider(), conditions).Evaluate(ctx)
	svc.metrics.RecordMacroGate(macroResult)

	log.Info().
		Str("market", result.Status.String()).
		Float64("market_score", result.Score).
		Str("macro", macroResult.Signal.String()).
		Bool("should_trade", macroResult.ShouldTrade).
		Msg("Gates evaluated")

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, gateReport{Market: result, Macro: macroResult})
	}

	fmt.Fprintf(out, "Market gate: %s (%.1f) at %s\n", result.Status, result.Score, fmtTime(at))
	renderTable(out, []string{"Component", "Points"}, componentRows(result.Components))
	if len(result.Reasons) > 0 {
		fmt.Fprintf(out, "Reasons: %s\n", strings.Join(result.Reasons, "; "))
	}

	fmt.Fprintf(out, "\nMacro gate: %s (%.1f, %d/%d passed, trade=%t)\n",
		macroResult.Signal, macroResult.Score, macroResult.Passed, macroResult.Evaluated, macroResult.ShouldTrade)
	renderTable(out, []string{"Indicator", "Condition", "Value", "Result"}, macroRows(macroResult.Details))
	return nil
}

// leverageFromFlags returns nil unless --funding or --oi-z was given
func leverageFromFlags(cmd *cobra.Command) *regime.LeverageMetrics {
	var lev regime.LeverageMetrics
	if cmd.Flags().Changed("funding") {
		v, _ := cmd.Flags().GetFloat64("funding")
		lev.FundingRate = &v
	}
	if cmd.Flags().Changed("oi-z") {
		v, _ := cmd.Flags().GetFloat64("oi-z")
		lev.OIDeltaZ = &v
	}
	if lev.FundingRate == nil && lev.OIDeltaZ == nil {
		return nil
	}
	return &lev
}

func componentRows(components map[string]float64) [][]string {
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, fmtFloat(components[name], 1)})
	}
	return rows
}

func macroRows(details []gates.ConditionOutcome) [][]string {
	rows := make([][]string, 0, len(details))
	for _, d := range details {
		value, result := fmtFloat(d.Value, 2), "FAIL"
		switch {
		case d.NoData:
			value, result = "-", "NO DATA"
		case d.Passed:
			result = "PASS"
		}
		rows = append(rows, []string{d.Indicator, d.Comparison, value, result})
	}
	return rows
}
