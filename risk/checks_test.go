package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/perpbt/errs"
	"github.com/rustyeddy/perpbt/sim"
)

const instr = "BTC-PERP"

var day = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func permissive() Policy {
	p := DefaultPolicy()
	p.MaxPositionSizePct = 1
	p.MaxLeverage = 1
	p.MaxDailyLossPct = 0.5
	p.MaxDrawdownPct = 0.5
	p.StopLossPct = 0
	p.TakeProfitPct = 0
	return p
}

func manager(t *testing.T, p Policy) *Manager {
	t.Helper()
	m, err := NewManager(p)
	require.NoError(t, err)
	return m
}

func flatAccount(eq float64) Account {
	return Account{Equity: eq, DayStartEquity: eq, PeakEquity: eq}
}

func order(qty float64) *sim.OrderRequest {
	o := sim.MarketOrder(instr, qty, "signal")
	return &o
}

func long(qty, entry, mark, peak float64) sim.Position {
	return sim.Position{Instrument: instr, Quantity: qty, EntryPrice: entry, MarkPrice: mark, PeakPrice: peak}
}

func TestLeverageResizesToLimit(t *testing.T) {
	t.Parallel()

	p := permissive()
	p.MaxLeverage = 2
	p.MaxPositionSizePct = 2
	m := manager(t, p)

	// 3 @ 10000 = 30000 notional against 10000 equity
	d := m.Evaluate(Input{
		Time:      day,
		Mark:      10000,
		Account:   flatAccount(10000),
		Candidate: order(3),
	})

	require.Equal(t, Resized, d.Outcome)
	require.NotNil(t, d.Order)
	assert.Equal(t, 20000.0, d.Order.Quantity*10000)
	assert.Equal(t, CodeMaxLeverage, d.Violation.Code)
}

func TestLeverageCountsHeldExposure(t *testing.T) {
	t.Parallel()

	p := permissive()
	p.MaxLeverage = 2
	p.MaxPositionSizePct = 2
	m := manager(t, p)

	acct := flatAccount(10000)
	acct.OpenPositions = 1

	d := m.Evaluate(Input{Time: day, Mark: 100, Position: long(150, 100, 100, 100), Account: acct, Candidate: order(100)})
	require.Equal(t, Resized, d.Outcome)
	assert.InDelta(t, 50.0, d.Order.Quantity, 1e-9)

	d = m.Evaluate(Input{Time: day, Mark: 100, Position: long(200, 100, 100, 100), Account: acct, Candidate: order(1)})
	assert.Equal(t, Rejected, d.Outcome)
	assert.Equal(t, CodeMaxLeverage, d.Violation.Code)
	assert.False(t, d.Allowed())
}

func TestPositionSizeCap(t *testing.T) {
	t.Parallel()

	p := permissive()
	p.MaxLeverage = 3
	p.MaxPositionSizePct = 0.1
	m := manager(t, p)

	d := m.Evaluate(Input{Time: day, Mark: 100, Account: flatAccount(10000), Candidate: order(50)})
	require.Equal(t, Resized, d.Outcome)
	assert.InDelta(t, 10.0, d.Order.Quantity, 1e-9)
	assert.Equal(t, CodeMaxPosition, d.Violation.Code)
}

func TestWithinLimitsApproved(t *testing.T) {
	t.Parallel()

	m := manager(t, permissive())
	d := m.Evaluate(Input{Time: day, Mark: 100, Account: flatAccount(10000), Candidate: order(5)})
	assert.Equal(t, Approved, d.Outcome)
	assert.Nil(t, d.Violation)
	assert.Equal(t, 5.0, d.Order.Quantity)

	d = m.Evaluate(Input{Time: day, Mark: 100, Account: flatAccount(10000)})
	assert.Equal(t, NoAction, d.Outcome)
}

func TestMaxPositions(t *testing.T) {
	t.Parallel()

	m := manager(t, permissive())
	acct := flatAccount(10000)
	acct.OpenPositions = 1

	d := m.Evaluate(Input{Time: day, Mark: 100, Account: acct, Candidate: order(1)})
	assert.Equal(t, Rejected, d.Outcome)
	assert.Equal(t, CodeMaxPositions, d.Violation.Code)
}

func TestStopLossTakeProfitOverrideSignal(t *testing.T) {
	t.Parallel()

	p := permissive()
	p.StopLossPct = 0.05
	p.TakeProfitPct = 0.10
	m := manager(t, p)
	acct := flatAccount(10000)
	acct.OpenPositions = 1

	tests := []struct {
		name string
		pos  sim.Position
		code string
	}{
		{"long stop", long(1, 100, 94, 100), CodeStopLoss},
		{"long target", long(1, 100, 111, 111), CodeTakeProfit},
		{"short stop", sim.Position{Instrument: instr, Quantity: -1, EntryPrice: 100, MarkPrice: 106, PeakPrice: 100}, CodeStopLoss},
		{"short target", sim.Position{Instrument: instr, Quantity: -1, EntryPrice: 100, MarkPrice: 89, PeakPrice: 89}, CodeTakeProfit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := order(1)
			d := m.Evaluate(Input{Time: day, Mark: tt.pos.MarkPrice, Position: tt.pos, Account: acct, Candidate: cand})
			require.Equal(t, ForcedClose, d.Outcome)
			assert.Equal(t, tt.code, d.Violation.Code)
			assert.Equal(t, cand, d.Dropped)
			assert.True(t, d.Order.ReduceOnly)
			assert.Equal(t, 1.0, d.Order.Quantity)
			assert.Equal(t, -tt.pos.Side(), d.Order.Side)
		})
	}
}

func TestTrailingStop(t *testing.T) {
	t.Parallel()

	p := permissive()
	p.UseTrailingStop = true
	p.TrailingStopDistancePct = 0.02
	m := manager(t, p)
	acct := flatAccount(10000)
	acct.OpenPositions = 1

	d := m.Evaluate(Input{Time: day, Mark: 119, Position: long(1, 100, 119, 120), Account: acct})
	assert.Equal(t, NoAction, d.Outcome)

	d = m.Evaluate(Input{Time: day, Mark: 117, Position: long(1, 100, 117, 120), Account: acct})
	assert.Equal(t, ForcedClose, d.Outcome)
	assert.Equal(t, CodeTrailingStop, d.Violation.Code)
}

func TestKillSwitchLatchesForDay(t *testing.T) {
	t.Parallel()

	p := permissive()
	p.MaxDailyLossPct = 0.02
	m := manager(t, p)

	down := Account{Equity: 9700, DayStartEquity: 10000, PeakEquity: 10000}
	d := m.Evaluate(Input{Time: day, Mark: 100, Account: down, Candidate: order(1)})
	assert.Equal(t, Rejected, d.Outcome)
	assert.Equal(t, CodeDailyLoss, d.Violation.Code)
	assert.True(t, m.Halted(day))

	// recovered equity later the same day: still halted
	up := Account{Equity: 10100, DayStartEquity: 10000, PeakEquity: 10100}
	d = m.Evaluate(Input{Time: day.Add(5 * time.Hour), Mark: 100, Account: up, Candidate: order(1)})
	assert.Equal(t, Rejected, d.Outcome)

	// closing is still allowed
	up.OpenPositions = 1
	d = m.Evaluate(Input{Time: day.Add(6 * time.Hour), Mark: 100, Position: long(2, 100, 100, 100), Account: up, Candidate: order(-2)})
	assert.Equal(t, Approved, d.Outcome)
	assert.Equal(t, 2.0, d.Order.Quantity)

	// a flip keeps only the close leg
	d = m.Evaluate(Input{Time: day.Add(6 * time.Hour), Mark: 100, Position: long(2, 100, 100, 100), Account: up, Candidate: order(-5)})
	assert.Equal(t, Resized, d.Outcome)
	assert.Equal(t, 2.0, d.Order.Quantity)
	assert.Equal(t, CodeDailyLoss, d.Violation.Code)

	// next UTC day clears the latch
	next := day.Add(24 * time.Hour).Truncate(24 * time.Hour)
	fresh := flatAccount(10100)
	d = m.Evaluate(Input{Time: next, Mark: 100, Account: fresh, Candidate: order(1)})
	assert.Equal(t, Approved, d.Outcome)
	assert.False(t, m.Halted(next))
}

func TestDrawdownKillSwitch(t *testing.T) {
	t.Parallel()

	p := permissive()
	p.MaxDrawdownPct = 0.15
	m := manager(t, p)

	acct := Account{Equity: 8400, DayStartEquity: 8400, PeakEquity: 10000}
	d := m.Evaluate(Input{Time: day, Mark: 100, Account: acct, Candidate: order(1)})
	assert.Equal(t, Rejected, d.Outcome)
	assert.Equal(t, CodeMaxDrawdown, d.Violation.Code)
}

func TestReduceOnlyWithoutPosition(t *testing.T) {
	t.Parallel()

	m := manager(t, permissive())
	o := order(-1)
	o.ReduceOnly = true
	d := m.Evaluate(Input{Time: day, Mark: 100, Account: flatAccount(1000), Candidate: o})
	assert.Equal(t, Rejected, d.Outcome)
	assert.Equal(t, CodeReduceOnly, d.Violation.Code)
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Policy)
		errMsg string
	}{
		{"default", func(*Policy) {}, ""},
		{"zero leverage", func(p *Policy) { p.MaxLeverage = 0 }, "max_leverage"},
		{"size above leverage", func(p *Policy) { p.MaxPositionSizePct = 5 }, "max_position_size_pct"},
		{"daily loss zero", func(p *Policy) { p.MaxDailyLossPct = 0 }, "max_daily_loss_pct"},
		{"drawdown above one", func(p *Policy) { p.MaxDrawdownPct = 1.5 }, "max_drawdown_pct"},
		{"negative stop", func(p *Policy) { p.StopLossPct = -0.1 }, "stop_loss_pct"},
		{"no positions", func(p *Policy) { p.MaxPositions = 0 }, "max_positions"},
		{"trailing without distance", func(p *Policy) {
			p.UseTrailingStop = true
			p.TrailingStopDistancePct = 0
		}, "trailing_stop_distance_pct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
		})
	}
}
