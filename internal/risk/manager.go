package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State of the risk session
type State int

const (
	Active State = iota
	Halted
)

func (s State) String() string {
	if s == Halted {
		return "HALTED"
	}
	return "ACTIVE"
}

// HaltReason says why trading stopped. Values are ordered by severity.
type HaltReason int

const (
	HaltNone HaltReason = iota
	HaltDailyLoss
	HaltWeeklyLoss
	HaltManual
	HaltDrawdown
)

func (r HaltReason) String() string {
	switch r {
	case HaltDailyLoss:
		return "daily loss limit"
	case HaltWeeklyLoss:
		return "weekly loss limit"
	case HaltManual:
		return "manual halt"
	case HaltDrawdown:
		return "max drawdown"
	default:
		return "none"
	}
}

// MarshalText renders the reason text
func (r HaltReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// SelfClearing reports whether a period reset can lift the halt
func (r HaltReason) SelfClearing() bool {
	return r == HaltDailyLoss || r == HaltWeeklyLoss
}

// Decision is the answer to a position request
type Decision struct {
	Allowed          bool     `json:"allowed"`
	Reason           string   `json:"reason"`
	SuggestedSizePct float64  `json:"suggested_size_pct"`
	Warnings         []string `json:"warnings,omitempty"`
}

// TradeRecord is one closed trade as seen by the risk manager
type TradeRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Symbol      string    `json:"symbol"`
	Sector      string    `json:"sector,omitempty"`
	PnL         float64   `json:"pnl"`
	IsWin       bool      `json:"is_win"`
	EquityAfter float64   `json:"equity_after"`
}

// Manager enforces Limits over one trading session.
// It is owned by a single universe; the mutex only lets monitoring read snapshots.
type Manager struct {
	mu sync.Mutex

	limits    Limits
	sessionID uuid.UUID
	startedAt time.Time
	now       func() time.Time

	initialCapital float64
	equity         float64
	peakEquity     float64
	drawdownPct    float64

	dailyPnL   float64
	weeklyPnL  float64
	monthlyPnL float64

	positions      int
	sectorExposure map[string]float64
	lossStreak     int

	halted     bool
	haltReason HaltReason
	haltNote   string
	haltedAt   time.Time

	trades []TradeRecord
}

// NewManager starts a risk session with the given capital
func NewManager(initialCapital float64, limits Limits) (*Manager, error) {
	if !(initialCapital > 0) || math.IsInf(initialCapital, 0) {
		return nil, fmt.Errorf("initial capital must be positive, got %v", initialCapital)
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		limits:         limits,
		sessionID:      uuid.New(),
		now:            time.Now,
		initialCapital: initialCapital,
		equity:         initialCapital,
		peakEquity:     initialCapital,
		sectorExposure: make(map[string]float64),
	}
	m.startedAt = m.now()

	log.Info().
		Str("session", m.sessionID.String()).
		Float64("capital", initialCapital).
		Msg("Risk session started")
	return m, nil
}

// Limits returns the session limits
func (m *Manager) Limits() Limits {
	return m.limits
}

// SessionID identifies this risk session
func (m *Manager) SessionID() uuid.UUID {
	return m.sessionID
}

// CheckCanOpenPosition decides whether a position of value may be opened.
// Hard blocks short-circuit with a zero size; soft checks only shrink SuggestedSizePct.
func (m *Manager) CheckCanOpenPosition(value, atrRatio float64, sector string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	block := func(reason string, warnings []string) Decision {
		return Decision{Allowed: false, Reason: reason, SuggestedSizePct: 0, Warnings: warnings}
	}

	if m.halted {
		return block(fmt.Sprintf("trading halted: %s", m.haltReason), nil)
	}
	if m.dailyLossBreached() {
		return block(fmt.Sprintf("daily loss limit reached (%.2f of %.2f)", -m.dailyPnL, m.limits.MaxDailyLossPct*m.initialCapital), nil)
	}
	if m.weeklyLossBreached() {
		return block(fmt.Sprintf("weekly loss limit reached (%.2f of %.2f)", -m.weeklyPnL, m.limits.MaxWeeklyLossPct*m.initialCapital), nil)
	}
	if m.positions >= m.limits.MaxPositions {
		return block(fmt.Sprintf("max positions reached (%d/%d)", m.positions, m.limits.MaxPositions), nil)
	}
	if !(m.equity > 0) {
		return block("no equity available", nil)
	}
	if !(value > 0) || math.IsInf(value, 0) {
		return block(fmt.Sprintf("invalid position value %v", value), nil)
	}

	var warnings []string
	size := 100.0

	maxValue := m.limits.MaxSinglePositionPct * m.equity
	if value > maxValue {
		size = maxValue / value * 100
		warnings = append(warnings, fmt.Sprintf("position %.2f exceeds single-position cap %.2f, scaled to %.1f%%", value, maxValue, size))
	}

	if sector != "" {
		exposure := m.sectorExposure[sector] + value*size/100
		limit := m.limits.MaxSectorPct * m.equity
		if exposure > limit {
			return block(fmt.Sprintf("sector %s exposure %.2f would exceed %.2f", sector, exposure, limit), warnings)
		}
	}

	if math.IsNaN(atrRatio) || math.IsInf(atrRatio, 0) || atrRatio < 0 {
		warnings = append(warnings, "volatility unknown")
	} else {
		if atrRatio >= m.limits.VolatilityHaltATR {
			return block(fmt.Sprintf("volatility %.2f%% at or above halt threshold %.2f%%", atrRatio*100, m.limits.VolatilityHaltATR*100), warnings)
		}
		if atrRatio >= m.limits.VolatilityReduceATR {
			size *= m.limits.ReducedSizeFactor
			warnings = append(warnings, fmt.Sprintf("high volatility %.2f%%, size reduced", atrRatio*100))
		}
	}

	if m.drawdownPct >= m.limits.MaxDrawdownPct {
		return block(fmt.Sprintf("drawdown %.2f%% at or above cap %.2f%%", m.drawdownPct*100, m.limits.MaxDrawdownPct*100), warnings)
	}

	if m.lossStreak >= m.limits.LossStreakCooldown {
		size *= m.limits.ReducedSizeFactor
		warnings = append(warnings, fmt.Sprintf("%d consecutive losses, size reduced", m.lossStreak))
	}

	return Decision{
		Allowed:          true,
		Reason:           "ok",
		SuggestedSizePct: clamp(size, 0, 100),
		Warnings:         warnings,
	}
}

// RecordTradeResult applies a closed trade. Calls must follow the order trades closed.
func (m *Manager) RecordTradeResult(pnl float64, isWin bool, symbol, sector string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		log.Warn().Str("symbol", symbol).Msg("Non-finite trade pnl treated as zero")
		pnl = 0
	}

	m.dailyPnL += pnl
	m.weeklyPnL += pnl
	m.monthlyPnL += pnl
	m.equity += pnl
	if m.equity > m.peakEquity {
		m.peakEquity = m.equity
	}
	m.updateDrawdown()

	// breakeven trades leave the streak as it is
	switch {
	case isWin:
		m.lossStreak = 0
	case pnl < 0:
		m.lossStreak++
	}

	m.trades = append(m.trades, TradeRecord{
		Timestamp:   m.now(),
		Symbol:      symbol,
		Sector:      sector,
		PnL:         pnl,
		IsWin:       isWin,
		EquityAfter: m.equity,
	})

	log.Debug().
		Str("symbol", symbol).
		Float64("pnl", pnl).
		Float64("equity", m.equity).
		Float64("drawdown", m.drawdownPct).
		Int("loss_streak", m.lossStreak).
		Msg("Trade result recorded")

	m.evaluateHalts()
}

// OpenPosition registers an opened position
func (m *Manager) OpenPosition(symbol string, value float64, sector string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions++
	if sector != "" && value > 0 {
		m.sectorExposure[sector] += value
	}
}

// ClosePosition releases a position. Counts and exposure never go negative.
func (m *Manager) ClosePosition(symbol string, value float64, sector string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.positions > 0 {
		m.positions--
	}
	if sector == "" {
		return
	}
	exposure := m.sectorExposure[sector] - math.Max(0, value)
	if exposure <= 0 {
		delete(m.sectorExposure, sector)
		return
	}
	m.sectorExposure[sector] = exposure
}

// Halt stops trading until Resume
func (m *Manager) Halt(note string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.escalate(HaltManual, note)
}

// Resume lifts any halt. After a drawdown halt the peak is rebased to current equity.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.halted {
		return
	}
	if m.haltReason == HaltDrawdown {
		m.peakEquity = m.equity
		m.updateDrawdown()
	}
	log.Info().Str("session", m.sessionID.String()).Str("reason", m.haltReason.String()).Msg("Risk halt lifted manually")
	m.clearHalt()
}

// ResetDaily zeroes the daily counter and lifts a daily-loss halt
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyPnL = 0
	if m.halted && m.haltReason == HaltDailyLoss {
		m.clearHalt()
	}
	m.evaluateHalts()
}

// ResetWeekly zeroes the weekly counter and lifts a weekly-loss halt
func (m *Manager) ResetWeekly() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.weeklyPnL = 0
	if m.halted && m.haltReason == HaltWeeklyLoss {
		m.clearHalt()
	}
	m.evaluateHalts()
}

// ResetMonthly zeroes the monthly counter
func (m *Manager) ResetMonthly() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.monthlyPnL = 0
}

// Status is a monitoring snapshot of the session
type Status struct {
	SessionID          string             `json:"session_id"`
	State              string             `json:"state"`
	Text               string             `json:"text"`
	HaltReason         HaltReason         `json:"halt_reason"`
	HaltNote           string             `json:"halt_note,omitempty"`
	HaltedAt           *time.Time         `json:"halted_at,omitempty"`
	StartedAt          time.Time          `json:"started_at"`
	InitialCapital     float64            `json:"initial_capital"`
	Equity             float64            `json:"equity"`
	PeakEquity         float64            `json:"peak_equity"`
	DrawdownPct        float64            `json:"drawdown_pct"`
	DailyPnL           float64            `json:"daily_pnl"`
	WeeklyPnL          float64            `json:"weekly_pnl"`
	MonthlyPnL         float64            `json:"monthly_pnl"`
	MonthlyLimitHit    bool               `json:"monthly_limit_hit"`
	OpenPositions      int                `json:"open_positions"`
	SectorExposure     map[string]float64 `json:"sector_exposure"`
	ConsecutiveLosses  int                `json:"consecutive_losses"`
	Trades             int                `json:"trades"`
	Wins               int                `json:"wins"`
	TopExposureSectors []string           `json:"top_exposure_sectors,omitempty"`
}

// Status returns a snapshot safe to hand to other goroutines
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	exposure := make(map[string]float64, len(m.sectorExposure))
	sectors := make([]string, 0, len(m.sectorExposure))
	for k, v := range m.sectorExposure {
		exposure[k] = v
		sectors = append(sectors, k)
	}
	sort.Slice(sectors, func(i, j int) bool {
		if exposure[sectors[i]] != exposure[sectors[j]] {
			return exposure[sectors[i]] > exposure[sectors[j]]
		}
		return sectors[i] < sectors[j]
	})

	wins := 0
	for _, t := range m.trades {
		if t.IsWin {
			wins++
		}
	}

	st := Status{
		SessionID:          m.sessionID.String(),
		State:              m.state().String(),
		Text:               m.statusText(),
		HaltReason:         m.haltReason,
		HaltNote:           m.haltNote,
		StartedAt:          m.startedAt,
		InitialCapital:     m.initialCapital,
		Equity:             m.equity,
		PeakEquity:         m.peakEquity,
		DrawdownPct:        m.drawdownPct,
		DailyPnL:           m.dailyPnL,
		WeeklyPnL:          m.weeklyPnL,
		MonthlyPnL:         m.monthlyPnL,
		MonthlyLimitHit:    m.lossBreached(m.monthlyPnL, m.limits.MaxMonthlyLossPct),
		OpenPositions:      m.positions,
		SectorExposure:     exposure,
		ConsecutiveLosses:  m.lossStreak,
		Trades:             len(m.trades),
		Wins:               wins,
		TopExposureSectors: sectors,
	}
	if m.halted {
		at := m.haltedAt
		st.HaltedAt = &at
	}
	return st
}

// Trades returns a copy of the trade log
func (m *Manager) Trades() []TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]TradeRecord(nil), m.trades...)
}

func (m *Manager) state() State {
	if m.halted {
		return Halted
	}
	return Active
}

// statusText keeps a halt recognisable as a recommendation rather than a failure
func (m *Manager) statusText() string {
	if !m.halted {
		return "ACTIVE"
	}
	text := fmt.Sprintf("HALTED (recommendation: stand aside): %s", m.haltReason)
	if m.haltNote != "" {
		text += " - " + m.haltNote
	}
	return text
}

// lossEpsilon absorbs float error so a loss exactly at the limit counts as reached
const lossEpsilon = 1e-12

// lossBreached compares a net period loss with pct of initial capital in ratio space.
// Profits never breach.
func (m *Manager) lossBreached(pnl, pct float64) bool {
	return -pnl/m.initialCapital >= pct-lossEpsilon
}

// dailyLossBreached uses net daily pnl, so a profitable day never halts
func (m *Manager) dailyLossBreached() bool {
	return m.lossBreached(m.dailyPnL, m.limits.MaxDailyLossPct)
}

func (m *Manager) weeklyLossBreached() bool {
	return m.lossBreached(m.weeklyPnL, m.limits.MaxWeeklyLossPct)
}

func (m *Manager) updateDrawdown() {
	if m.peakEquity <= 0 {
		m.drawdownPct = 1
		return
	}
	m.drawdownPct = clamp(1-m.equity/m.peakEquity, 0, 1)
}

func (m *Manager) evaluateHalts() {
	if m.drawdownPct >= m.limits.MaxDrawdownPct {
		m.escalate(HaltDrawdown, fmt.Sprintf("drawdown %.2f%%", m.drawdownPct*100))
	}
	if m.weeklyLossBreached() {
		m.escalate(HaltWeeklyLoss, fmt.Sprintf("weekly pnl %.2f", m.weeklyPnL))
	}
	if m.dailyLossBreached() {
		m.escalate(HaltDailyLoss, fmt.Sprintf("daily pnl %.2f", m.dailyPnL))
	}
}

// escalate halts with reason unless an equal or more severe halt is already in place
func (m *Manager) escalate(reason HaltReason, note string) {
	if m.halted && reason <= m.haltReason {
		return
	}
	m.halted = true
	m.haltReason = reason
	m.haltNote = note
	m.haltedAt = m.now()

	log.Warn().
		Str("session", m.sessionID.String()).
		Str("reason", reason.String()).
		Str("note", note).
		Msg("Trading halted, recommendation: stand aside")
}

func (m *Manager) clearHalt() {
	m.halted = false
	m.haltReason = HaltNone
	m.haltNote = ""
	m.haltedAt = time.Time{}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
