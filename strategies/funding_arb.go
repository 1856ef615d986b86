package strategies

import (
	"fmt"
	"math"

	"github.com/rustyeddy/perpbt/sim"
)

// FundingArb collects funding: when the latest rate is beyond Threshold
// it holds the side that receives (long on negative rates, short on
// positive) and it exits once the rate is back inside the threshold.
type FundingArb struct {
	threshold float64
	sizePct   float64
	leverage  float64
}

func NewFundingArb(cfg Config) (*FundingArb, error) {
	if cfg.Threshold < 0 || math.IsNaN(cfg.Threshold) {
		return nil, fmt.Errorf("funding-arb: threshold must not be negative")
	}
	if cfg.SizePct <= 0 {
		return nil, fmt.Errorf("funding-arb: size_pct must be positive")
	}
	return &FundingArb{threshold: cfg.Threshold, sizePct: cfg.SizePct, leverage: cfg.Leverage}, nil
}

func (f *FundingArb) Name() string {
	return fmt.Sprintf("FUNDING_ARB(%g)", f.threshold)
}

func (f *FundingArb) Reset() {}

func (f *FundingArb) Next(v View) *sim.OrderRequest {
	if !v.HasFunding {
		return nil
	}
	rate := v.Funding.Rate
	if math.Abs(rate) <= f.threshold {
		return exit(v, "funding inside threshold")
	}

	dir := sim.Buy
	if rate > 0 {
		dir = sim.Sell
	}
	return target(v, dir, entrySize(v, f.sizePct, f.leverage), fmt.Sprintf("funding %g beyond %g", rate, f.threshold))
}
