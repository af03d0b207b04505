package risk

import (
	"github.com/point10890-crypto/closing-bet-sub002/internal/validation"
)

// Limits are the immutable risk thresholds of a session. Percentages are fractions.
type Limits struct {
	MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct" default:"0.03" validate:"gt=0,lte=1"`
	MaxWeeklyLossPct     float64 `yaml:"max_weekly_loss_pct" json:"max_weekly_loss_pct" default:"0.07" validate:"gt=0,lte=1"`
	MaxMonthlyLossPct    float64 `yaml:"max_monthly_loss_pct" json:"max_monthly_loss_pct" default:"0.12" validate:"gt=0,lte=1"`
	MaxPositions         int     `yaml:"max_positions" json:"max_positions" default:"5" validate:"gt=0"`
	MaxSinglePositionPct float64 `yaml:"max_single_position_pct" json:"max_single_position_pct" default:"0.20" validate:"gt=0,lte=1"`
	MaxSectorPct         float64 `yaml:"max_sector_pct" json:"max_sector_pct" default:"0.40" validate:"gt=0,lte=1"`
	VolatilityReduceATR  float64 `yaml:"volatility_reduce_atr" json:"volatility_reduce_atr" default:"0.05" validate:"gt=0"`
	VolatilityHaltATR    float64 `yaml:"volatility_halt_atr" json:"volatility_halt_atr" default:"0.08" validate:"gtfield=VolatilityReduceATR"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct" default:"0.15" validate:"gt=0,lte=1"`
	LossStreakCooldown   int     `yaml:"loss_streak_cooldown" json:"loss_streak_cooldown" default:"3" validate:"gt=0"`
	ReducedSizeFactor    float64 `yaml:"reduced_size_factor" json:"reduced_size_factor" default:"0.5" validate:"gt=0,lte=1"`
}

// DefaultLimits returns the standard risk limits
func DefaultLimits() Limits {
	return Limits{
		MaxDailyLossPct:      0.03,
		MaxWeeklyLossPct:     0.07,
		MaxMonthlyLossPct:    0.12,
		MaxPositions:         5,
		MaxSinglePositionPct: 0.20,
		MaxSectorPct:         0.40,
		VolatilityReduceATR:  0.05,
		VolatilityHaltATR:    0.08,
		MaxDrawdownPct:       0.15,
		LossStreakCooldown:   3,
		ReducedSizeFactor:    0.5,
	}
}

// Validate fills unset fields with defaults and checks bounds
func (l *Limits) Validate() error {
	return validation.Apply(l)
}
