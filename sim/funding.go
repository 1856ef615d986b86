package sim

import (
	"github.com/rustyeddy/perpbt/errs"
	"github.com/rustyeddy/perpbt/market"
)

// FundingEngine settles funding samples against a ledger. Each sample
// timestamp settles at most once, whatever the position was at the time.
type FundingEngine struct {
	enabled bool
	applied map[int64]struct{}
}

func NewFundingEngine(cfg CommissionConfig) *FundingEngine {
	return &FundingEngine{
		enabled: cfg.FundingEnabled,
		applied: make(map[int64]struct{}),
	}
}

// Apply settles s on l at mark. A long pays qty*mark*rate when the rate is
// positive and receives it when negative; a short is the mirror image.
// It reports false when nothing was booked: funding disabled, the sample
// already settled, or the position flat.
func (f *FundingEngine) Apply(l *Ledger, s market.FundingSample, mark float64) (FundingPayment, bool, error) {
	if !f.enabled {
		return FundingPayment{}, false, nil
	}
	key := s.Time.UnixNano()
	if _, done := f.applied[key]; done {
		return FundingPayment{}, false, nil
	}
	f.applied[key] = struct{}{}

	q := l.Position().Quantity
	if q == 0 {
		return FundingPayment{}, false, nil
	}

	payment := q * mark * s.Rate
	if !finite(payment) {
		return FundingPayment{}, false, errs.E(errs.KindNumericFault, "sim.FundingEngine.Apply",
			"funding %v x %v x %v is not finite", q, mark, s.Rate)
	}

	p := FundingPayment{
		Time:      s.Time,
		Quantity:  q,
		MarkPrice: mark,
		Rate:      s.Rate,
		Amount:    -payment,
	}
	l.applyFunding(p)
	return p, true, nil
}

// Applied reports whether s has settled.
func (f *FundingEngine) Applied(s market.FundingSample) bool {
	_, ok := f.applied[s.Time.UnixNano()]
	return ok
}
