package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/perpbt/sim"
)

const (
	CodeStopLoss     = "STOP_LOSS"
	CodeTakeProfit   = "TAKE_PROFIT"
	CodeTrailingStop = "TRAILING_STOP"
	CodeMaxLeverage  = "MAX_LEVERAGE"
	CodeMaxPosition  = "MAX_POSITION_SIZE"
	CodeMaxPositions = "TOO_MANY_POSITIONS"
	CodeDailyLoss    = "DAILY_LOSS_LIMIT"
	CodeMaxDrawdown  = "MAX_DRAWDOWN"
	CodeNoEquity     = "NO_EQUITY"
	CodeReduceOnly   = "REDUCE_ONLY"
)

type Violation struct {
	Code string
	Msg  string
}

func (v Violation) String() string { return v.Code + ": " + v.Msg }

type Outcome int

const (
	NoAction Outcome = iota
	Approved
	Resized
	Rejected
	ForcedClose
)

func (o Outcome) String() string {
	switch o {
	case Approved:
		return "APPROVED"
	case Resized:
		return "RESIZED"
	case Rejected:
		return "REJECTED"
	case ForcedClose:
		return "FORCED_CLOSE"
	}
	return "NO_ACTION"
}

// Decision is the result of one evaluation. Order is set for Approved,
// Resized and ForcedClose. Violation explains anything other than a plain
// approval. A rejection is a decision, not an error.
type Decision struct {
	Outcome   Outcome
	Order     *sim.OrderRequest
	Violation *Violation

	// Dropped is the candidate a forced close replaced, if any.
	Dropped *sim.OrderRequest
}

func (d Decision) Allowed() bool { return d.Order != nil }

func (d *Decision) set(o Outcome, code, msg string) {
	d.Outcome = o
	d.Violation = &Violation{Code: code, Msg: msg}
}

// Account is the equity picture the checks run against.
type Account struct {
	Equity         float64
	DayStartEquity float64
	PeakEquity     float64
	OpenPositions  int
}

type Input struct {
	Time      time.Time
	Mark      float64
	Position  sim.Position // marked at Mark
	Account   Account
	Candidate *sim.OrderRequest
}

// Manager evaluates orders against a Policy. Its only state is the
// kill-switch latch, which holds until the end of the UTC trading day.
type Manager struct {
	policy Policy

	haltDay time.Time
	halt    Violation
}

func NewManager(p Policy) (*Manager, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Manager{policy: p}, nil
}

func (m *Manager) Policy() Policy { return m.policy }

func tradingDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// Halted reports whether new entries are blocked at t.
func (m *Manager) Halted(t time.Time) bool {
	return !m.haltDay.IsZero() && tradingDay(t).Equal(m.haltDay)
}

// Evaluate runs the checks for one bar. Exits on the open position come
// first and replace any candidate. Orders that only reduce the position
// are always approved. Entries go through leverage and size limits
// (resized where there is headroom), the position count, and the daily
// loss / drawdown kill switch, stopping at the first rejection.
func (m *Manager) Evaluate(in Input) Decision {
	m.updateKillSwitch(in.Time, in.Account)

	if d, ok := m.exitCheck(in); ok {
		return d
	}

	d := Decision{Outcome: NoAction}
	if in.Candidate == nil {
		return d
	}
	o := *in.Candidate
	q := in.Position.Quantity

	var closing, opening float64
	switch {
	case q != 0 && o.Side != in.Position.Side():
		closing = math.Min(o.Quantity, math.Abs(q))
		opening = o.Quantity - closing
		if o.ReduceOnly {
			opening = 0
		}
	case o.ReduceOnly:
		d.set(Rejected, CodeReduceOnly, fmt.Sprintf("reduce-only %s with position %g", o.Side, q))
		return d
	default:
		opening = o.Quantity
	}

	if opening == 0 {
		o.Quantity = closing
		d.Outcome = Approved
		d.Order = &o
		return d
	}

	// Exposure already held on the entry side.
	held := 0.0
	if closing == 0 {
		held = math.Abs(q)
	}
	allowed, v := m.entryCheck(in, o, held, opening, closing > 0)

	switch {
	case allowed <= 0 && closing > 0:
		o.Quantity = closing
		d.Order = &o
		d.set(Resized, v.Code, v.Msg+"; close leg kept")
	case allowed <= 0:
		d.set(Rejected, v.Code, v.Msg)
	case allowed < opening:
		o.Quantity = closing + allowed
		d.Order = &o
		d.set(Resized, v.Code, v.Msg)
	default:
		d.Outcome = Approved
		d.Order = &o
	}
	return d
}

func (m *Manager) exitCheck(in Input) (Decision, bool) {
	pos := in.Position
	if pos.Flat() {
		return Decision{}, false
	}
	p := m.policy
	upct := pos.UnrealizedPct()

	var code, msg string
	switch {
	case p.StopLossPct > 0 && upct <= -p.StopLossPct:
		code, msg = CodeStopLoss, fmt.Sprintf("unrealized %.2f%% at or below -%.2f%%", 100*upct, 100*p.StopLossPct)
	case p.TakeProfitPct > 0 && upct >= p.TakeProfitPct:
		code, msg = CodeTakeProfit, fmt.Sprintf("unrealized %.2f%% at or above %.2f%%", 100*upct, 100*p.TakeProfitPct)
	case p.UseTrailingStop && pos.Retrace() >= p.TrailingStopDistancePct:
		code, msg = CodeTrailingStop, fmt.Sprintf("retrace %.2f%% from peak %g", 100*pos.Retrace(), pos.PeakPrice)
	default:
		return Decision{}, false
	}

	o := sim.CloseOrder(pos.Instrument, pos.Quantity, code)
	d := Decision{Order: &o, Dropped: in.Candidate}
	d.set(ForcedClose, code, msg)
	return d, true
}

// entryCheck returns how much of opening may be added on top of held.
// A result of zero comes with the violation that stopped it.
func (m *Manager) entryCheck(in Input, o sim.OrderRequest, held, opening float64, flipping bool) (float64, Violation) {
	p := m.policy
	eq := in.Account.Equity
	price := o.RefPrice(in.Mark)

	if eq <= 0 || price <= 0 {
		return 0, Violation{CodeNoEquity, fmt.Sprintf("equity %.2f cannot fund entries", eq)}
	}

	// (a) leverage and position size
	levCap := p.MaxLeverage * eq
	sizeCap := p.MaxPositionSizePct * eq
	limit, code := levCap, CodeMaxLeverage
	if sizeCap < levCap {
		limit, code = sizeCap, CodeMaxPosition
	}

	allowed := opening
	var resized *Violation
	headroom := limit - held*price
	want := (held + opening) * price
	if want > limit {
		if headroom <= limit*1e-9 {
			return 0, Violation{code, fmt.Sprintf("notional %.2f already at limit %.2f", held*price, limit)}
		}
		allowed = headroom / price
		resized = &Violation{code, fmt.Sprintf("notional %.2f resized to limit %.2f", want, limit)}
	}

	// (b) position count, only for a new instrument
	if held == 0 && !flipping && in.Account.OpenPositions >= p.MaxPositions {
		return 0, Violation{CodeMaxPositions, fmt.Sprintf("open positions %d >= max %d", in.Account.OpenPositions, p.MaxPositions)}
	}

	// (e) kill switch
	if m.Halted(in.Time) {
		return 0, m.halt
	}

	if resized != nil {
		return allowed, *resized
	}
	return allowed, Violation{}
}

func (m *Manager) updateKillSwitch(t time.Time, a Account) {
	if m.Halted(t) {
		return
	}
	p := m.policy

	if a.DayStartEquity > 0 {
		loss := DailyLossPct(a.DayStartEquity, a.Equity)
		if loss >= p.MaxDailyLossPct {
			m.haltDay = tradingDay(t)
			m.halt = Violation{CodeDailyLoss, fmt.Sprintf("daily loss %.2f%% >= max %.2f%%", 100*loss, 100*p.MaxDailyLossPct)}
			return
		}
	}
	if a.PeakEquity > 0 {
		dd := (a.PeakEquity - a.Equity) / a.PeakEquity
		if dd >= p.MaxDrawdownPct {
			m.haltDay = tradingDay(t)
			m.halt = Violation{CodeMaxDrawdown, fmt.Sprintf("drawdown %.2f%% >= max %.2f%%", 100*dd, 100*p.MaxDrawdownPct)}
		}
	}
}
