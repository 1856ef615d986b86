package sim

import "time"

type TradeKind int

const (
	Open TradeKind = iota
	Increase
	Reduce
	Close
)

func (k TradeKind) String() string {
	switch k {
	case Open:
		return "OPEN"
	case Increase:
		return "INCREASE"
	case Reduce:
		return "REDUCE"
	case Close:
		return "CLOSE"
	}
	return "?"
}

// Closing reports whether the leg realized PnL.
func (k TradeKind) Closing() bool { return k == Reduce || k == Close }

// Trade is one immutable leg of a fill. A fill that flips the position
// produces a Close leg and an Open leg that share FillID.
type Trade struct {
	ID         string
	FillID     string
	Time       time.Time
	Instrument string
	Side       Side
	Kind       TradeKind
	Quantity   float64
	Price      float64
	Fee        float64
	Liquidity  Liquidity

	// Closing legs only.
	RealizedPnL float64
	EntryPrice  float64
	EntryTime   time.Time

	PositionAfter float64
	Reason        string
}

// NetPnL is realized PnL after this leg's commission.
func (t Trade) NetPnL() float64 { return t.RealizedPnL - t.Fee }

// Duration is the holding time of the position the leg closed.
func (t Trade) Duration() time.Duration {
	if !t.Kind.Closing() || t.EntryTime.IsZero() {
		return 0
	}
	return t.Time.Sub(t.EntryTime)
}

// FundingPayment is one funding settlement. Amount > 0 means received.
type FundingPayment struct {
	Time      time.Time
	Quantity  float64
	MarkPrice float64
	Rate      float64
	Amount    float64
}
