package regime

import (
	"sync"
	"time"
)

// DefaultHistorySize bounds how many evaluations History retains
const DefaultHistorySize = 500

// GateChange tracks status transitions for stability analysis
type GateChange struct {
	Timestamp time.Time `json:"timestamp"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Score     float64   `json:"score"`
}

// History records gate evaluations and the transitions between statuses.
// It is safe for concurrent use so monitoring can read while the pipeline writes.
type History struct {
	mu      sync.RWMutex
	size    int
	results []Result
	changes []GateChange
	counts  map[Status]int
}

// NewHistory creates a history holding at most size results and size changes
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{
		size:   size,
		counts: make(map[Status]int),
	}
}

// Record appends a result and returns the transition it caused, if any
func (h *History) Record(result Result) *GateChange {
	h.mu.Lock()
	defer h.mu.Unlock()

	var change *GateChange
	if n := len(h.results); n > 0 && h.results[n-1].Status != result.Status {
		change = &GateChange{
			Timestamp: result.Timestamp,
			From:      h.results[n-1].Status,
			To:        result.Status,
			Score:     result.Score,
		}
		h.changes = appendBounded(h.changes, *change, h.size)
	}

	h.results = appendBounded(h.results, result, h.size)
	h.counts[result.Status]++
	return change
}

// Latest returns the most recent result
func (h *History) Latest() (Result, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.results) == 0 {
		return Result{}, false
	}
	return h.results[len(h.results)-1], true
}

// Changes returns a copy of the retained transitions, oldest first
func (h *History) Changes() []GateChange {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return append([]GateChange(nil), h.changes...)
}

// Counts returns how many evaluations ended in each status since creation
func (h *History) Counts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]int, len(h.counts))
	for status, n := range h.counts {
		out[status.String()] = n
	}
	return out
}

// IsStable reports whether the status has not changed within the given window before now
func (h *History) IsStable(now time.Time, window time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := now.Add(-window)
	for _, change := range h.changes {
		if change.Timestamp.After(cutoff) {
			return false
		}
	}
	return true
}

func appendBounded[T any](items []T, item T, size int) []T {
	items = append(items, item)
	if len(items) > size {
		items = append(items[:0:0], items[len(items)-size:]...)
	}
	return items
}
