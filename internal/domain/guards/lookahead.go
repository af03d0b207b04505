package guards

import (
	"fmt"
	"time"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

// CheckSignalTiming verifies that the data feeding a signal does not extend past the signal itself.
// A lag longer than one candle is allowed but noted, since the signal was computed on stale data.
func CheckSignalTiming(signalTS, dataThroughTS time.Time, candle time.Duration) Result {
	lag := signalTS.Sub(dataThroughTS)
	details := map[string]interface{}{
		"signal_ts":       formatTS(signalTS),
		"data_through_ts": formatTS(dataThroughTS),
		"lag_seconds":     lag.Seconds(),
		"candle_seconds":  candle.Seconds(),
	}

	if dataThroughTS.After(signalTS) {
		return Result{
			Check:   CheckSignal,
			Valid:   false,
			Reason:  fmt.Sprintf("data through %s is after signal at %s", formatTS(dataThroughTS), formatTS(signalTS)),
			Details: details,
		}
	}

	res := Result{
		Check:   CheckSignal,
		Valid:   true,
		Reason:  "data_ok",
		Details: details,
	}
	if candle > 0 && lag > candle {
		res.Notes = append(res.Notes, fmt.Sprintf("data lags signal by %s (more than one %s candle)", lag, candle))
	}
	return res
}

// CheckEntryTiming verifies that an entry fill happens strictly after the signal.
// Same-candle execution is rejected; a gap shorter than one candle passes with a warning.
func CheckEntryTiming(signalTS, entryTS time.Time, candle time.Duration) Result {
	gap := entryTS.Sub(signalTS)
	details := map[string]interface{}{
		"signal_ts":      formatTS(signalTS),
		"entry_ts":       formatTS(entryTS),
		"gap_seconds":    gap.Seconds(),
		"candle_seconds": candle.Seconds(),
	}

	if !entryTS.After(signalTS) {
		return Result{
			Check:   CheckEntry,
			Valid:   false,
			Reason:  fmt.Sprintf("entry at %s is not after signal at %s", formatTS(entryTS), formatTS(signalTS)),
			Details: details,
		}
	}

	res := Result{
		Check:   CheckEntry,
		Valid:   true,
		Reason:  "timing_ok",
		Details: details,
	}
	if candle > 0 && gap < candle {
		res.Notes = append(res.Notes, fmt.Sprintf("entry %s after signal is shorter than one %s candle", gap, candle))
	}
	return res
}

// CheckSeriesCutoff verifies that no candle in the series is newer than the signal timestamp
func CheckSeriesCutoff(series interfaces.Series, signalTS time.Time) Result {
	last, ok := series.Last()
	if !ok {
		return Result{Check: CheckCutoff, Valid: true, Reason: "empty series"}
	}
	res := CheckSignalTiming(signalTS, last.Timestamp, 0)
	res.Check = CheckCutoff
	if !res.Valid {
		future := len(series) - len(series.Through(signalTS))
		res.Details["future_candles"] = future
		res.Reason = fmt.Sprintf("%d candle(s) after signal at %s", future, formatTS(signalTS))
	}
	return res
}
