package sim

import (
	"math"
	"time"

	"github.com/rustyeddy/perpbt/errs"
	"github.com/rustyeddy/perpbt/internal/id"
)

// qtyEpsilon treats residual quantities this small, relative to the
// position, as flat.
const qtyEpsilon = 1e-12

// Ledger owns the cash, PnL components, position and trade log of one run.
// It is not safe for concurrent use; each run owns its own ledger.
type Ledger struct {
	instrument string
	initial    float64
	comm       CommissionConfig
	ids        *id.Generator

	pos        Position
	cash       float64
	realized   float64
	commission float64
	funding    float64

	trades   []Trade
	payments []FundingPayment
	stats    CommissionStats
}

func NewLedger(instrument string, initial float64, comm CommissionConfig, ids *id.Generator) (*Ledger, error) {
	const op = "sim.NewLedger"

	if instrument == "" {
		return nil, errs.E(errs.KindConfiguration, op, "instrument is required")
	}
	if math.IsNaN(initial) || math.IsInf(initial, 0) || initial <= 0 {
		return nil, errs.E(errs.KindConfiguration, op, "initial capital %v must be positive", initial)
	}
	if err := comm.Validate(); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = id.NewGenerator(0)
	}
	return &Ledger{
		instrument: instrument,
		initial:    initial,
		comm:       comm,
		ids:        ids,
		pos:        Position{Instrument: instrument},
		cash:       initial,
	}, nil
}

func (l *Ledger) Instrument() string           { return l.instrument }
func (l *Ledger) Initial() float64             { return l.initial }
func (l *Ledger) Commission() CommissionConfig { return l.comm }
func (l *Ledger) Position() Position           { return l.pos }

// Cash is the settled balance: initial + realized - commission + funding.
func (l *Ledger) Cash() float64 { return l.cash }

func (l *Ledger) Realized() float64 { return l.realized }

// CommissionPaid is cumulative commission, as a positive number.
func (l *Ledger) CommissionPaid() float64 { return l.commission }

// FundingPnL is cumulative funding, positive when net received.
func (l *Ledger) FundingPnL() float64 { return l.funding }

func (l *Ledger) Unrealized() float64 { return l.pos.Unrealized() }

func (l *Ledger) Equity() float64 { return l.cash + l.pos.Unrealized() }

func (l *Ledger) CommissionStats() CommissionStats { return l.stats }

func (l *Ledger) Trades() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *Ledger) FundingPayments() []FundingPayment {
	out := make([]FundingPayment, len(l.payments))
	copy(out, l.payments)
	return out
}

// Mark revalues the open position at price.
func (l *Ledger) Mark(price float64) error {
	if !finite(price) || price < 0 {
		return errs.E(errs.KindNumericFault, "sim.Ledger.Mark", "bad mark price %v", price)
	}
	l.pos.mark(price)
	return nil
}

// ApplyFill books the execution of o at price. Increases move the average
// entry price; reductions realize PnL against it; a fill that crosses zero
// is split into a closing leg and an opening leg and committed as a unit.
// Commission is charged on the whole traded notional and split across
// legs by quantity.
func (l *Ledger) ApplyFill(t time.Time, o OrderRequest, price float64, liq Liquidity) ([]Trade, error) {
	const op = "sim.Ledger.ApplyFill"

	if err := o.Validate(l.instrument); err != nil {
		return nil, err
	}
	if !finite(price) || price <= 0 {
		return nil, errs.E(errs.KindInvalidOrder, op, "fill price %v must be positive", price)
	}

	q := l.pos.Quantity
	qty := o.Quantity
	if o.ReduceOnly {
		if q == 0 || SideOf(q) == o.Side {
			return nil, errs.E(errs.KindInvalidOrder, op, "reduce-only %s with position %v", o.Side, q)
		}
		qty = math.Min(qty, math.Abs(q))
	}

	fee := l.comm.Fee(qty*price, liq)
	if !finite(fee) {
		return nil, errs.E(errs.KindNumericFault, op, "commission on %v@%v is not finite", qty, price)
	}

	fillID := l.ids.At(t)
	pos := l.pos
	var legs []Trade

	leg := func(kind TradeKind, n, legFee float64) Trade {
		return Trade{
			ID:         l.ids.At(t),
			FillID:     fillID,
			Time:       t,
			Instrument: l.instrument,
			Side:       o.Side,
			Kind:       kind,
			Quantity:   n,
			Price:      price,
			Fee:        legFee,
			Liquidity:  liq,
			Reason:     o.Reason,
		}
	}

	remaining := qty
	var realized, booked float64

	if q != 0 && SideOf(q) != o.Side {
		closeQty := math.Min(remaining, math.Abs(q))
		kind := Reduce
		newQ := q + o.Side.Sign()*closeQty
		if closeQty >= math.Abs(q) || math.Abs(newQ) <= qtyEpsilon*math.Abs(q) {
			// a dust residual closes with the rest of the position
			kind = Close
			newQ = 0
			closeQty = math.Abs(q)
		}
		pnl := (price - pos.EntryPrice) * closeQty * math.Copysign(1, q)

		closeFee := fee * closeQty / qty
		if qty-closeQty <= qtyEpsilon*qty {
			closeFee = fee
		}
		booked = closeFee

		tr := leg(kind, closeQty, closeFee)
		tr.RealizedPnL = pnl
		tr.EntryPrice = pos.EntryPrice
		tr.EntryTime = pos.EntryTime
		tr.PositionAfter = newQ
		legs = append(legs, tr)

		realized += pnl
		remaining -= closeQty
		if newQ == 0 {
			pos = Position{Instrument: l.instrument, MarkPrice: price}
		} else {
			pos.Quantity = newQ
		}
	}

	if remaining > qtyEpsilon*qty {
		kind := Increase
		newQ := pos.Quantity + o.Side.Sign()*remaining
		if pos.Quantity == 0 {
			kind = Open
			pos.EntryTime = t
			pos.EntryPrice = price
			pos.PeakPrice = price
			pos.Funding = 0
		} else {
			pos.EntryPrice = (math.Abs(pos.Quantity)*pos.EntryPrice + remaining*price) / math.Abs(newQ)
		}
		pos.Quantity = newQ

		tr := leg(kind, remaining, fee-booked)
		tr.PositionAfter = newQ
		legs = append(legs, tr)
	}
	// the peak only moves on Mark, which the engine calls at bar close
	pos.MarkPrice = price

	cash := l.cash + realized - fee
	if !finite(cash) || !finite(pos.EntryPrice) || !finite(pos.Quantity) {
		return nil, errs.E(errs.KindNumericFault, op, "fill %v@%v produced non-finite state", qty, price)
	}

	l.pos = pos
	l.cash = cash
	l.realized += realized
	l.commission += fee
	l.stats.add(fee, liq)
	l.trades = append(l.trades, legs...)

	return legs, nil
}

// applyFunding settles amount against cash and the open position.
func (l *Ledger) applyFunding(p FundingPayment) {
	l.cash += p.Amount
	l.funding += p.Amount
	l.pos.Funding += p.Amount
	l.payments = append(l.payments, p)
}

// Check returns a numeric fault when any running total is not finite.
func (l *Ledger) Check() error {
	for _, v := range []float64{l.cash, l.realized, l.commission, l.funding, l.pos.Quantity, l.pos.EntryPrice, l.pos.MarkPrice} {
		if !finite(v) {
			return errs.E(errs.KindNumericFault, "sim.Ledger.Check", "ledger holds non-finite value")
		}
	}
	return nil
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
