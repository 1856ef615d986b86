package sim

import (
	"math"
	"time"
)

// Position is the open exposure on one instrument. The zero value is flat.
type Position struct {
	Instrument string
	Quantity   float64 // signed: >0 long, <0 short
	EntryPrice float64 // volume-weighted average
	EntryTime  time.Time
	Funding    float64 // cumulative funding on this position, >0 received
	MarkPrice  float64
	PeakPrice  float64 // best favorable mark since entry
}

func (p Position) Flat() bool { return p.Quantity == 0 }

func (p Position) Long() bool { return p.Quantity > 0 }

func (p Position) Side() Side { return SideOf(p.Quantity) }

func (p Position) Notional() float64 { return math.Abs(p.Quantity) * p.MarkPrice }

// Unrealized is the mark-to-market PnL at MarkPrice.
func (p Position) Unrealized() float64 {
	if p.Flat() {
		return 0
	}
	return (p.MarkPrice - p.EntryPrice) * p.Quantity
}

// UnrealizedPct is unrealized PnL as a fraction of entry notional.
func (p Position) UnrealizedPct() float64 {
	basis := math.Abs(p.Quantity) * p.EntryPrice
	if basis == 0 {
		return 0
	}
	return p.Unrealized() / basis
}

// Retrace is the adverse move from PeakPrice to MarkPrice as a fraction of
// PeakPrice. It is never negative.
func (p Position) Retrace() float64 {
	if p.Flat() || p.PeakPrice == 0 {
		return 0
	}
	var r float64
	if p.Long() {
		r = (p.PeakPrice - p.MarkPrice) / p.PeakPrice
	} else {
		r = (p.MarkPrice - p.PeakPrice) / p.PeakPrice
	}
	return math.Max(r, 0)
}

func (p *Position) mark(price float64) {
	p.MarkPrice = price
	if p.Flat() {
		return
	}
	if p.PeakPrice == 0 || (p.Long() && price > p.PeakPrice) || (!p.Long() && price < p.PeakPrice) {
		p.PeakPrice = price
	}
}
