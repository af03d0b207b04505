package guards

import (
	"errors"
	"fmt"
	"time"
)

// ErrLookahead marks use of data or fills that were not available at decision time.
// It is the one timing failure that must surface instead of degrading.
var ErrLookahead = errors.New("lookahead violation")

// Check identifies which timing guard produced a result
type Check string

const (
	CheckSignal Check = "signal_timing"
	CheckEntry  Check = "entry_timing"
	CheckCutoff Check = "series_cutoff"
)

// Result is the outcome of a timing guard
type Result struct {
	Check   Check                  `json:"check"`
	Valid   bool                   `json:"valid"`
	Reason  string                 `json:"reason"`
	Notes   []string               `json:"notes,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Err returns nil for valid results and an ErrLookahead-wrapped error otherwise
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%s: %w: %s", r.Check, ErrLookahead, r.Reason)
}

func formatTS(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}
