package sim

import (
	"math"

	"github.com/rustyeddy/perpbt/errs"
)

type Side int

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return "?"
}

func (s Side) Sign() float64 { return float64(s) }

// SideOf returns the side that increases a signed quantity.
func SideOf(qty float64) Side {
	if qty < 0 {
		return Sell
	}
	return Buy
}

type OrderKind int

const (
	Market OrderKind = iota
	Limit
)

func (k OrderKind) String() string {
	if k == Limit {
		return "LIMIT"
	}
	return "MARKET"
}

type TimeInForce int

const (
	GTC TimeInForce = iota
	IOC
	// ALO only adds liquidity; a marketable ALO order is rejected.
	ALO
)

func (t TimeInForce) String() string {
	switch t {
	case IOC:
		return "IOC"
	case ALO:
		return "ALO"
	}
	return "GTC"
}

// OrderRequest is an intent produced for a single bar. It is consumed by
// the risk manager and the ledger and never outlives the bar.
type OrderRequest struct {
	Instrument string
	Side       Side
	Quantity   float64 // always positive
	Kind       OrderKind
	Price      float64 // limit price, zero for market orders
	ReduceOnly bool
	TIF        TimeInForce
	Reason     string
}

// Signed returns Quantity with the side's sign.
func (o OrderRequest) Signed() float64 { return o.Side.Sign() * o.Quantity }

// RefPrice is the price the order is sized at: its limit price when it
// has one, mark otherwise.
func (o OrderRequest) RefPrice(mark float64) float64 {
	if o.Kind == Limit && o.Price > 0 {
		return o.Price
	}
	return mark
}

func (o OrderRequest) Notional(mark float64) float64 {
	return o.Quantity * o.RefPrice(mark)
}

// Validate rejects malformed orders. instrument is the instrument the run
// trades; anything else is unknown.
func (o OrderRequest) Validate(instrument string) error {
	const op = "sim.OrderRequest.Validate"

	switch {
	case o.Instrument == "":
		return errs.E(errs.KindInvalidOrder, op, "instrument is required")
	case o.Instrument != instrument:
		return errs.E(errs.KindInvalidOrder, op, "unknown instrument %q", o.Instrument)
	case o.Side != Buy && o.Side != Sell:
		return errs.E(errs.KindInvalidOrder, op, "bad side %d", int(o.Side))
	case math.IsNaN(o.Quantity) || math.IsInf(o.Quantity, 0) || o.Quantity <= 0:
		return errs.E(errs.KindInvalidOrder, op, "quantity %v must be positive", o.Quantity)
	}

	switch o.Kind {
	case Market:
		if o.Price != 0 {
			return errs.E(errs.KindInvalidOrder, op, "market order carries price %v", o.Price)
		}
		if o.TIF == ALO {
			return errs.E(errs.KindInvalidOrder, op, "market order cannot be ALO")
		}
	case Limit:
		if math.IsNaN(o.Price) || math.IsInf(o.Price, 0) || o.Price <= 0 {
			return errs.E(errs.KindInvalidOrder, op, "limit price %v must be positive", o.Price)
		}
	default:
		return errs.E(errs.KindInvalidOrder, op, "unknown order kind %d", int(o.Kind))
	}
	return nil
}

// MarketOrder builds a taker order for qty in the direction of its sign.
func MarketOrder(instrument string, qty float64, reason string) OrderRequest {
	return OrderRequest{
		Instrument: instrument,
		Side:       SideOf(qty),
		Quantity:   math.Abs(qty),
		Kind:       Market,
		Reason:     reason,
	}
}

// CloseOrder builds a reduce-only market order that flattens pos.
func CloseOrder(instrument string, pos float64, reason string) OrderRequest {
	o := MarketOrder(instrument, -pos, reason)
	o.ReduceOnly = true
	return o
}
