package backtest

import (
	"math"
	"time"

	"github.com/rustyeddy/perpbt/errs"
	"github.com/rustyeddy/perpbt/sim"
)

// identityTolerance is relative to initial capital.
const identityTolerance = 1e-6

// EquityPoint is the account after one bar. Cash already contains
// realized PnL, funding and commission, so Equity = Cash + UnrealizedPnL.
type EquityPoint struct {
	Time          time.Time
	Cash          float64
	UnrealizedPnL float64
	RealizedPnL   float64
	FundingPnL    float64
	Commission    float64
	Equity        float64
	Position      float64
	Mark          float64
}

// EquityCurveBuilder appends one point per bar and checks that every
// point decomposes into initial capital, realized PnL, funding,
// commission and unrealized PnL.
type EquityCurveBuilder struct {
	initial float64
	points  []EquityPoint
}

func NewEquityCurveBuilder(initial float64) *EquityCurveBuilder {
	return &EquityCurveBuilder{initial: initial}
}

func (b *EquityCurveBuilder) Record(t time.Time, l *sim.Ledger) (EquityPoint, error) {
	const op = "backtest.EquityCurveBuilder.Record"

	pos := l.Position()
	p := EquityPoint{
		Time:          t,
		Cash:          l.Cash(),
		UnrealizedPnL: l.Unrealized(),
		RealizedPnL:   l.Realized(),
		FundingPnL:    l.FundingPnL(),
		Commission:    l.CommissionPaid(),
		Equity:        l.Equity(),
		Position:      pos.Quantity,
		Mark:          pos.MarkPrice,
	}

	for _, v := range []float64{p.Cash, p.UnrealizedPnL, p.RealizedPnL, p.FundingPnL, p.Commission, p.Equity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return p, errs.E(errs.KindNumericFault, op, "non-finite equity component at %s", t.Format(time.RFC3339))
		}
	}

	want := b.initial + p.RealizedPnL + p.FundingPnL - p.Commission + p.UnrealizedPnL
	tol := identityTolerance * math.Max(math.Abs(b.initial), math.Abs(p.Equity))
	if math.Abs(want-p.Equity) > tol {
		return p, errs.E(errs.KindNumericFault, op, "equity %.10f does not reconcile to %.10f at %s",
			p.Equity, want, t.Format(time.RFC3339))
	}

	b.points = append(b.points, p)
	return p, nil
}

func (b *EquityCurveBuilder) Initial() float64 { return b.initial }

func (b *EquityCurveBuilder) Len() int { return len(b.points) }

func (b *EquityCurveBuilder) Points() []EquityPoint {
	out := make([]EquityPoint, len(b.points))
	copy(out, b.points)
	return out
}

func (b *EquityCurveBuilder) Last() (EquityPoint, bool) {
	if len(b.points) == 0 {
		return EquityPoint{}, false
	}
	return b.points[len(b.points)-1], true
}
