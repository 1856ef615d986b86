package sim

import (
	"math"

	"github.com/rustyeddy/perpbt/errs"
)

type Liquidity int

const (
	Taker Liquidity = iota
	Maker
)

func (l Liquidity) String() string {
	if l == Maker {
		return "MAKER"
	}
	return "TAKER"
}

type CommissionConfig struct {
	MakerRate      float64 `json:"maker_rate" yaml:"maker_rate"`
	TakerRate      float64 `json:"taker_rate" yaml:"taker_rate"`
	FundingEnabled bool    `json:"funding_enabled" yaml:"funding_enabled"`
}

// DefaultCommission is a typical perp venue fee schedule: 2bp maker, 5bp taker.
func DefaultCommission() CommissionConfig {
	return CommissionConfig{
		MakerRate:      0.0002,
		TakerRate:      0.0005,
		FundingEnabled: true,
	}
}

func (c CommissionConfig) Validate() error {
	const op = "sim.CommissionConfig.Validate"

	if !inUnit(c.MakerRate) {
		return errs.E(errs.KindConfiguration, op, "maker_rate %v must be between 0 and 1", c.MakerRate)
	}
	if !inUnit(c.TakerRate) {
		return errs.E(errs.KindConfiguration, op, "taker_rate %v must be between 0 and 1", c.TakerRate)
	}
	if c.MakerRate > c.TakerRate {
		return errs.E(errs.KindConfiguration, op, "maker_rate %v exceeds taker_rate %v", c.MakerRate, c.TakerRate)
	}
	return nil
}

func inUnit(x float64) bool { return !math.IsNaN(x) && x >= 0 && x <= 1 }

func (c CommissionConfig) Rate(liq Liquidity) float64 {
	if liq == Maker {
		return c.MakerRate
	}
	return c.TakerRate
}

// Fee is the commission on a traded notional.
func (c CommissionConfig) Fee(notional float64, liq Liquidity) float64 {
	return math.Abs(notional) * c.Rate(liq)
}

// CommissionStats breaks commission down by liquidity. Counts are fills,
// not legs.
type CommissionStats struct {
	MakerFees   float64
	TakerFees   float64
	MakerOrders int
	TakerOrders int
}

func (s CommissionStats) Total() float64 { return s.MakerFees + s.TakerFees }

func (s CommissionStats) MakerRatio() float64 {
	n := s.MakerOrders + s.TakerOrders
	if n == 0 {
		return 0
	}
	return float64(s.MakerOrders) / float64(n)
}

func (s *CommissionStats) add(fee float64, liq Liquidity) {
	if liq == Maker {
		s.MakerFees += fee
		s.MakerOrders++
		return
	}
	s.TakerFees += fee
	s.TakerOrders++
}
