package interfaces

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Data layer interfaces and types shared across packages

// ErrNotFound is returned by stores when no entry exists for a key
var ErrNotFound = errors.New("entry not found")

// ErrOutOfOrder is returned when a candle would break the strictly increasing timestamp order of a series
var ErrOutOfOrder = errors.New("candle timestamp not after last candle")

// Candle is one OHLCV bar for a (symbol, timeframe) pair
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Body returns the absolute open/close distance
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// UpperWick returns the distance from the top of the body to the high
func (c Candle) UpperWick() float64 {
	top := c.Open
	if c.Close > top {
		top = c.Close
	}
	if c.High <= top {
		return 0
	}
	return c.High - top
}

// Series is an ordered, append-only candle sequence without duplicate timestamps
type Series []Candle

// Append adds a candle, rejecting timestamps that are not strictly after the last one
func (s Series) Append(c Candle) (Series, error) {
	if n := len(s); n > 0 && !c.Timestamp.After(s[n-1].Timestamp) {
		return s, fmt.Errorf("%w: %s <= %s", ErrOutOfOrder,
			c.Timestamp.Format(time.RFC3339Nano), s[n-1].Timestamp.Format(time.RFC3339Nano))
	}
	return append(s, c), nil
}

// Validate checks ordering across the whole series
func (s Series) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i].Timestamp.After(s[i-1].Timestamp) {
			return fmt.Errorf("%w at index %d", ErrOutOfOrder, i)
		}
	}
	return nil
}

// Last returns the most recent candle
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

// Through returns the point-in-time prefix containing only candles with timestamp <= ts
func (s Series) Through(ts time.Time) Series {
	n := len(s)
	for n > 0 && s[n-1].Timestamp.After(ts) {
		n--
	}
	return s[:n]
}

// Closes extracts close prices
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts volumes
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Volume
	}
	return out
}

// Timeframe identifies a candle duration such as "1h" or "1d"
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

// Duration returns the wall-clock length of one candle, zero for unknown timeframes
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	case TF1w:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// CacheKey addresses one cached series
type CacheKey struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Source    string    `json:"source"`
}

// String renders the key as symbol|timeframe|source
func (k CacheKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Symbol, k.Timeframe, k.Source)
}

// Validate rejects keys with empty parts or separators inside a part
func (k CacheKey) Validate() error {
	parts := map[string]string{"symbol": k.Symbol, "timeframe": string(k.Timeframe), "source": k.Source}
	for name, v := range parts {
		if v == "" {
			return fmt.Errorf("cache key %s is empty", name)
		}
		if strings.ContainsAny(v, "|/\\") {
			return fmt.Errorf("cache key %s %q contains a reserved character", name, v)
		}
		if v == "." || v == ".." {
			return fmt.Errorf("cache key %s %q is not a valid path segment", name, v)
		}
	}
	return nil
}

// PatternType classifies a candidate relative to its pivot
type PatternType string

const (
	PatternBreakout    PatternType = "BREAKOUT"
	PatternRetest      PatternType = "RETEST"
	PatternApproaching PatternType = "APPROACHING"
)

// Valid reports whether the pattern type is one of the known values
func (p PatternType) Valid() bool {
	switch p {
	case PatternBreakout, PatternRetest, PatternApproaching:
		return true
	}
	return false
}

// SignalCandidate is produced by an external pattern detector and consumed read-only
type SignalCandidate struct {
	Symbol         string      `json:"symbol"`
	EventTimestamp time.Time   `json:"event_timestamp"`
	PatternType    PatternType `json:"pattern_type"`
	Score          float64     `json:"score"` // 0-100
	PivotPrice     float64     `json:"pivot_price"`
	ATRPct         float64     `json:"atr_pct"` // ATR as percent of price
	RegimeTag      string      `json:"regime_tag"`
	Sector         string      `json:"sector,omitempty"`
}

// CandleStore persists cached series keyed by (symbol, timeframe, source)
type CandleStore interface {
	Put(ctx context.Context, entry CacheEntry) error
	Get(ctx context.Context, key CacheKey) (*CacheEntry, error)
	Delete(ctx context.Context, key CacheKey) error
	Keys(ctx context.Context) ([]CacheKey, error)
}

// CacheEntry is one persisted series with its content hash
type CacheEntry struct {
	Key       CacheKey  `json:"key"`
	Candles   Series    `json:"candles"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UniverseSnapshot is the immutable tradable symbol list for a date and source
type UniverseSnapshot struct {
	Date      time.Time         `json:"date"`
	Source    string            `json:"source"`
	Symbols   []string          `json:"symbols"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// UniverseStore persists point-in-time universe snapshots
type UniverseStore interface {
	Save(ctx context.Context, snapshot UniverseSnapshot) error
	Get(ctx context.Context, date time.Time, source string) (*UniverseSnapshot, error)
}

// CacheStats summarises cache activity
type CacheStats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Writes   int64   `json:"writes"`
	HitRatio float64 `json:"hit_ratio"`
}
