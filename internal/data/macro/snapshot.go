// Package macro supplies macro indicator snapshots to the macro condition gate.
package macro

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNoSnapshot is returned when a source has nothing to offer
var ErrNoSnapshot = errors.New("macro snapshot unavailable")

// Snapshot is one observation of macro indicators keyed by indicator name
type Snapshot struct {
	Timestamp time.Time          `json:"timestamp" yaml:"timestamp"`
	Source    string             `json:"source" yaml:"source"`
	Values    map[string]float64 `json:"values" yaml:"values"`
}

// Value returns an indicator value and whether it is present
func (s *Snapshot) Value(indicator string) (float64, bool) {
	if s == nil || s.Values == nil {
		return 0, false
	}
	v, ok := s.Values[indicator]
	return v, ok
}

// Empty reports whether the snapshot carries no indicators
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Values) == 0
}

// Indicators lists indicator names in sorted order
func (s *Snapshot) Indicators() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Values))
	for name := range s.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Age is the time elapsed since the snapshot was taken
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// Source fetches fresh snapshots from an upstream
type Source interface {
	Name() string
	Fetch(ctx context.Context) (*Snapshot, error)
}

// Provider hands out the snapshot the gate should use
type Provider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// StaticSource serves a fixed snapshot
type StaticSource struct {
	name     string
	snapshot *Snapshot
}

// NewStaticSource wraps a fixed snapshot as a Source
func NewStaticSource(name string, snapshot *Snapshot) *StaticSource {
	return &StaticSource{name: name, snapshot: snapshot}
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) Fetch(ctx context.Context) (*Snapshot, error) {
	if s.snapshot == nil {
		return nil, ErrNoSnapshot
	}
	return s.snapshot, nil
}
