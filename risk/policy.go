package risk

import (
	"math"

	"github.com/rustyeddy/perpbt/errs"
)

// Policy is the risk configuration of a run. Percentages are fractions
// (0.05 = 5%).
type Policy struct {
	// Position limits. Sizes are notional as a fraction of equity.
	MaxPositionSizePct float64 `json:"max_position_size_pct" yaml:"max_position_size_pct"`
	MaxLeverage        float64 `json:"max_leverage" yaml:"max_leverage"`
	MaxPositions       int     `json:"max_positions" yaml:"max_positions"`

	// Exits on unrealized PnL relative to entry notional; 0 disables.
	StopLossPct             float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct           float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	UseTrailingStop         bool    `json:"use_trailing_stop" yaml:"use_trailing_stop"`
	TrailingStopDistancePct float64 `json:"trailing_stop_distance_pct" yaml:"trailing_stop_distance_pct"`

	// Kill switch: blocks new entries until the next UTC day.
	MaxDailyLossPct float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxPositionSizePct:      0.1,
		MaxDailyLossPct:         0.02,
		StopLossPct:             0.05,
		TakeProfitPct:           0.1,
		MaxLeverage:             3.0,
		MaxPositions:            1,
		MaxDrawdownPct:          0.15,
		UseTrailingStop:         false,
		TrailingStopDistancePct: 0.02,
	}
}

func (p Policy) Validate() error {
	const op = "risk.Policy.Validate"

	bad := func(format string, args ...any) error {
		return errs.E(errs.KindConfiguration, op, format, args...)
	}

	switch {
	case !(p.MaxLeverage > 0) || math.IsInf(p.MaxLeverage, 0):
		return bad("max_leverage %v must be positive", p.MaxLeverage)
	case !(p.MaxPositionSizePct > 0) || p.MaxPositionSizePct > p.MaxLeverage:
		return bad("max_position_size_pct %v must be in (0, max_leverage]", p.MaxPositionSizePct)
	case !fraction(p.MaxDailyLossPct) || p.MaxDailyLossPct == 0:
		return bad("max_daily_loss_pct %v must be in (0, 1]", p.MaxDailyLossPct)
	case !fraction(p.MaxDrawdownPct) || p.MaxDrawdownPct == 0:
		return bad("max_drawdown_pct %v must be in (0, 1]", p.MaxDrawdownPct)
	case !fraction(p.StopLossPct):
		return bad("stop_loss_pct %v must be in [0, 1]", p.StopLossPct)
	case !(p.TakeProfitPct >= 0) || math.IsInf(p.TakeProfitPct, 0):
		return bad("take_profit_pct %v must not be negative", p.TakeProfitPct)
	case p.MaxPositions < 1:
		return bad("max_positions %d must be at least 1", p.MaxPositions)
	case p.UseTrailingStop && (!fraction(p.TrailingStopDistancePct) || p.TrailingStopDistancePct == 0):
		return bad("trailing_stop_distance_pct %v must be in (0, 1]", p.TrailingStopDistancePct)
	}
	return nil
}

func fraction(x float64) bool { return x >= 0 && x <= 1 }
