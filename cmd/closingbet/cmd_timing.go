package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/domain/guards"
)

func newTimingCmd() *cobra.Command {
	timingCmd := &cobra.Command{
		Use:   "timing",
		Short: "Check signal and entry timestamps for lookahead",
		Long: `Verifies that the data behind a signal ends at or before the signal and that
the entry fill happens strictly after it. Exits non-zero on a violation.`,
		RunE: runTiming,
	}

	timingCmd.Flags().String("signal", "", "Signal timestamp (required)")
	timingCmd.Flags().String("data-through", "", "Timestamp of the last candle the signal used")
	timingCmd.Flags().String("entry", "", "Entry fill timestamp")
	timingCmd.Flags().String("timeframe", "", "Candle timeframe (defaults to the configured one)")
	_ = timingCmd.MarkFlagRequired("signal")

	return timingCmd
}

func runTiming(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd)

	signalFlag, _ := cmd.Flags().GetString("signal")
	throughFlag, _ := cmd.Flags().GetString("data-through")
	entryFlag, _ := cmd.Flags().GetString("entry")
	tf, _ := cmd.Flags().GetString("timeframe")

	timeframe := cfg.Timeframe
	if tf != "" {
		timeframe = interfaces.Timeframe(tf)
	}
	candle := timeframe.Duration()

	signalTS, err := parseTime(signalFlag)
	if err != nil {
		return err
	}

	var results []guards.Result
	if throughFlag != "" {
		through, err := parseTime(throughFlag)
		if err != nil {
			return err
		}
		results = append(results, guards.CheckSignalTiming(signalTS, through, candle))
	}
	if entryFlag != "" {
		entry, err := parseTime(entryFlag)
		if err != nil {
			return err
		}
		results = append(results, guards.CheckEntryTiming(signalTS, entry, candle))
	}
	if len(results) == 0 {
		return errors.New("nothing to check: give --data-through and/or --entry")
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		if err := printJSON(out, results); err != nil {
			return err
		}
	} else {
		rows := make([][]string, 0, len(results))
		for _, r := range results {
			verdict := "OK"
			if !r.Valid {
				verdict = "VIOLATION"
			}
			rows = append(rows, []string{string(r.Check), verdict, r.Reason, strings.Join(r.Notes, "; ")})
		}
		renderTable(out, []string{"Check", "Result", "Reason", "Notes"}, rows)
	}

	return firstViolation(results)
}

func firstViolation(results []guards.Result) error {
	for _, r := range results {
		if err := r.Err(); err != nil {
			return err
		}
	}
	return nil
}
