package portfolio

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/validation"
)

// Policy orders competing candidates
type Policy string

const (
	PolicyScore  Policy = "score"
	PolicyATR    Policy = "atr"
	PolicyRegime Policy = "regime"
)

// Config is the immutable selection configuration
type Config struct {
	MaxSignalsPerBar        int    `yaml:"max_signals_per_bar" json:"max_signals_per_bar" default:"3" validate:"gt=0"`
	Policy                  Policy `yaml:"policy" json:"policy" default:"score" validate:"oneof=score atr regime"`
	CooldownBars            int    `yaml:"cooldown_bars" json:"cooldown_bars" default:"5" validate:"gte=0"`
	MaxDailyTradesPerSymbol int    `yaml:"max_daily_trades_per_symbol" json:"max_daily_trades_per_symbol" default:"1" validate:"gt=0"`
}

// DefaultConfig returns the standard selection configuration
func DefaultConfig() Config {
	return Config{
		MaxSignalsPerBar:        3,
		Policy:                  PolicyScore,
		CooldownBars:            5,
		MaxDailyTradesPerSymbol: 1,
	}
}

var bullishTags = map[string]bool{
	"bull":          true,
	"bullish":       true,
	"green":         true,
	"trending_bull": true,
	"risk_on":       true,
}

// IsBullish reports whether a regime tag counts as bullish
func IsBullish(tag string) bool {
	return bullishTags[strings.ToLower(strings.TrimSpace(tag))]
}

// Manager keeps the per-bar signal queue of one universe.
// Within a bar call AddSignals, then GetNextSignals, then AdvanceBar.
type Manager struct {
	mu sync.Mutex

	config      Config
	bar         int
	pending     []interfaces.SignalCandidate
	cooldowns   map[string]int
	dailyTrades map[string]int

	dropped int
}

// NewManager creates a signal queue
func NewManager(config Config) (*Manager, error) {
	if err := validation.Struct(&config); err != nil {
		return nil, err
	}
	return &Manager{
		config:      config,
		cooldowns:   make(map[string]int),
		dailyTrades: make(map[string]int),
	}, nil
}

// Config returns the selection configuration
func (m *Manager) Config() Config {
	return m.config
}

// AddSignals enqueues candidates, dropping symbols on cooldown or at their daily cap.
// It returns how many were accepted.
func (m *Manager) AddSignals(candidates []interfaces.SignalCandidate) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	accepted := 0
	for _, c := range candidates {
		if reason := m.blocked(c.Symbol); reason != "" {
			m.dropped++
			log.Debug().Str("symbol", c.Symbol).Int("bar", m.bar).Str("reason", reason).Msg("Signal dropped")
			continue
		}
		m.pending = append(m.pending, c)
		accepted++
	}
	return accepted
}

// GetNextSignals returns at most min(n, openSlots) candidates in policy order and removes them from pending.
// A non-positive n uses MaxSignalsPerBar. Held, cooling and capped symbols are never returned, nor is any symbol twice.
func (m *Manager) GetNextSignals(n int, positions []string, openSlots int) []interfaces.SignalCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 {
		n = m.config.MaxSignalsPerBar
	}
	if openSlots < n {
		n = openSlots
	}
	if n <= 0 || len(m.pending) == 0 {
		return nil
	}

	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p] = true
	}

	eligible := make([]int, 0, len(m.pending))
	for i, c := range m.pending {
		if held[c.Symbol] || m.blocked(c.Symbol) != "" {
			continue
		}
		eligible = append(eligible, i)
	}
	m.sortIndexes(eligible)

	selected := make([]interfaces.SignalCandidate, 0, n)
	taken := make(map[int]bool, n)
	seen := make(map[string]bool, n)
	for _, i := range eligible {
		if len(selected) == n {
			break
		}
		c := m.pending[i]
		if seen[c.Symbol] {
			continue
		}
		seen[c.Symbol] = true
		taken[i] = true
		selected = append(selected, c)
	}

	remaining := m.pending[:0:0]
	for i, c := range m.pending {
		if !taken[i] {
			remaining = append(remaining, c)
		}
	}
	m.pending = remaining

	return selected
}

// sortIndexes stable-sorts pending indexes by the configured policy
func (m *Manager) sortIndexes(idx []int) {
	p := m.pending
	var less func(a, b interfaces.SignalCandidate) bool

	switch m.config.Policy {
	case PolicyATR:
		less = func(a, b interfaces.SignalCandidate) bool { return a.ATRPct < b.ATRPct }
	case PolicyRegime:
		less = func(a, b interfaces.SignalCandidate) bool {
			ab, bb := IsBullish(a.RegimeTag), IsBullish(b.RegimeTag)
			if ab != bb {
				return ab
			}
			return a.Score > b.Score
		}
	default:
		less = func(a, b interfaces.SignalCandidate) bool { return a.Score > b.Score }
	}

	sort.SliceStable(idx, func(i, j int) bool {
		return less(p[idx[i]], p[idx[j]])
	})
}

// RecordEntry counts a trade toward the symbol's daily cap
func (m *Manager) RecordEntry(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyTrades[symbol]++
}

// RecordExit puts the symbol on cooldown for CooldownBars bars
func (m *Manager) RecordExit(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cooldowns[symbol] = m.bar + m.config.CooldownBars
}

// AdvanceBar moves to the next bar, expires cooldowns and discards unselected candidates
func (m *Manager) AdvanceBar() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bar++
	for symbol, until := range m.cooldowns {
		if until <= m.bar {
			delete(m.cooldowns, symbol)
		}
	}
	if len(m.pending) > 0 {
		log.Debug().Int("bar", m.bar).Int("discarded", len(m.pending)).Msg("Unselected signals discarded")
	}
	m.pending = nil
}

// ResetDaily clears the per-symbol trade counts
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyTrades = make(map[string]int)
}

// Bar returns the current bar index
func (m *Manager) Bar() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.bar
}

// Snapshot is a monitoring view of the queue
type Snapshot struct {
	Bar         int            `json:"bar"`
	Policy      Policy         `json:"policy"`
	Pending     []string       `json:"pending"`
	Cooldowns   map[string]int `json:"cooldowns"`
	DailyTrades map[string]int `json:"daily_trades"`
	Dropped     int            `json:"dropped"`
}

// Snapshot returns a copy of the queue state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Bar:         m.bar,
		Policy:      m.config.Policy,
		Pending:     make([]string, 0, len(m.pending)),
		Cooldowns:   make(map[string]int, len(m.cooldowns)),
		DailyTrades: make(map[string]int, len(m.dailyTrades)),
		Dropped:     m.dropped,
	}
	for _, c := range m.pending {
		s.Pending = append(s.Pending, c.Symbol)
	}
	for k, v := range m.cooldowns {
		s.Cooldowns[k] = v
	}
	for k, v := range m.dailyTrades {
		s.DailyTrades[k] = v
	}
	return s
}

// blocked explains why a symbol cannot be traded this bar, or returns ""
func (m *Manager) blocked(symbol string) string {
	if until, ok := m.cooldowns[symbol]; ok && m.bar < until {
		return fmt.Sprintf("cooldown until bar %d", until)
	}
	if m.dailyTrades[symbol] >= m.config.MaxDailyTradesPerSymbol {
		return "daily trade cap reached"
	}
	return ""
}
