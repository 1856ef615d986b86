package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/perpbt/errs"
	"github.com/rustyeddy/perpbt/internal/id"
)

const instr = "BTC-PERP"

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, comm CommissionConfig) *Ledger {
	t.Helper()
	l, err := NewLedger(instr, 10_000, comm, id.NewGenerator(7))
	require.NoError(t, err)
	return l
}

func buy(qty float64) OrderRequest  { return MarketOrder(instr, qty, "test") }
func sell(qty float64) OrderRequest { return MarketOrder(instr, -qty, "test") }

func noFees() CommissionConfig { return CommissionConfig{} }

// identity checks equity == initial + realized + funding - commission + unrealized.
func identity(t *testing.T, l *Ledger) {
	t.Helper()
	want := l.Initial() + l.Realized() + l.FundingPnL() - l.CommissionPaid() + l.Unrealized()
	assert.InDelta(t, want, l.Equity(), 1e-9)
}

func TestOpenAndIncreaseAveragesEntry(t *testing.T) {
	t.Parallel()

	l := newLedger(t, noFees())

	legs, err := l.ApplyFill(t0, buy(1), 100, Taker)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, Open, legs[0].Kind)

	legs, err = l.ApplyFill(t0.Add(time.Hour), buy(3), 200, Taker)
	require.NoError(t, err)
	assert.Equal(t, Increase, legs[0].Kind)

	p := l.Position()
	assert.Equal(t, 4.0, p.Quantity)
	assert.InDelta(t, 175.0, p.EntryPrice, 1e-12)
	assert.Equal(t, t0, p.EntryTime)
	assert.Equal(t, 0.0, l.Realized())
	identity(t, l)
}

func TestReduceRealizesAgainstAverage(t *testing.T) {
	t.Parallel()

	l := newLedger(t, noFees())
	_, err := l.ApplyFill(t0, buy(2), 100, Taker)
	require.NoError(t, err)

	legs, err := l.ApplyFill(t0.Add(time.Hour), sell(1), 110, Taker)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, Reduce, legs[0].Kind)
	assert.InDelta(t, 10.0, legs[0].RealizedPnL, 1e-12)
	assert.Equal(t, time.Hour, legs[0].Duration())

	p := l.Position()
	assert.Equal(t, 1.0, p.Quantity)
	assert.Equal(t, 100.0, p.EntryPrice)
	assert.InDelta(t, 10_010.0, l.Cash(), 1e-9)
	identity(t, l)
}

func TestShortRealizesWithSign(t *testing.T) {
	t.Parallel()

	l := newLedger(t, noFees())
	_, err := l.ApplyFill(t0, sell(2), 100, Taker)
	require.NoError(t, err)

	legs, err := l.ApplyFill(t0.Add(time.Hour), buy(2), 90, Taker)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, Close, legs[0].Kind)
	assert.InDelta(t, 20.0, legs[0].RealizedPnL, 1e-12)
	assert.True(t, l.Position().Flat())
	identity(t, l)
}

func TestFlipSplitsIntoTwoLegs(t *testing.T) {
	t.Parallel()

	comm := CommissionConfig{MakerRate: 0.001, TakerRate: 0.002}
	l := newLedger(t, comm)
	_, err := l.ApplyFill(t0, buy(1), 100, Taker)
	require.NoError(t, err)

	legs, err := l.ApplyFill(t0.Add(2*time.Hour), sell(3), 120, Taker)
	require.NoError(t, err)
	require.Len(t, legs, 2)

	closing, opening := legs[0], legs[1]
	assert.Equal(t, closing.FillID, opening.FillID)
	assert.NotEqual(t, closing.ID, opening.ID)

	assert.Equal(t, Close, closing.Kind)
	assert.Equal(t, 1.0, closing.Quantity)
	assert.InDelta(t, 20.0, closing.RealizedPnL, 1e-12)
	assert.Equal(t, 0.0, closing.PositionAfter)

	assert.Equal(t, Open, opening.Kind)
	assert.Equal(t, 2.0, opening.Quantity)
	assert.Equal(t, -2.0, opening.PositionAfter)

	// 3 * 120 * 0.002 = 0.72, split 1:2
	assert.InDelta(t, 0.24, closing.Fee, 1e-12)
	assert.InDelta(t, 0.48, opening.Fee, 1e-12)

	p := l.Position()
	assert.Equal(t, -2.0, p.Quantity)
	assert.Equal(t, 120.0, p.EntryPrice)
	assert.Equal(t, t0.Add(2*time.Hour), p.EntryTime)
	identity(t, l)
}

func TestCommissionUsesLiquidity(t *testing.T) {
	t.Parallel()

	comm := CommissionConfig{MakerRate: 0.0002, TakerRate: 0.0005}
	l := newLedger(t, comm)

	_, err := l.ApplyFill(t0, buy(1), 1000, Maker)
	require.NoError(t, err)
	_, err = l.ApplyFill(t0, sell(1), 1000, Taker)
	require.NoError(t, err)

	st := l.CommissionStats()
	assert.InDelta(t, 0.2, st.MakerFees, 1e-12)
	assert.InDelta(t, 0.5, st.TakerFees, 1e-12)
	assert.Equal(t, 1, st.MakerOrders)
	assert.Equal(t, 1, st.TakerOrders)
	assert.InDelta(t, 0.5, st.MakerRatio(), 1e-12)
	assert.InDelta(t, 0.7, l.CommissionPaid(), 1e-12)
	assert.InDelta(t, 10_000-0.7, l.Equity(), 1e-9)
	identity(t, l)
}

func TestReduceOnly(t *testing.T) {
	t.Parallel()

	l := newLedger(t, noFees())

	o := sell(1)
	o.ReduceOnly = true
	_, err := l.ApplyFill(t0, o, 100, Taker)
	assert.Equal(t, errs.KindInvalidOrder, errs.KindOf(err))

	_, err = l.ApplyFill(t0, buy(2), 100, Taker)
	require.NoError(t, err)

	o = sell(5)
	o.ReduceOnly = true
	legs, err := l.ApplyFill(t0, o, 100, Taker)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, 2.0, legs[0].Quantity)
	assert.True(t, l.Position().Flat())
}

func TestInvalidOrdersNeverReachLedger(t *testing.T) {
	t.Parallel()

	l := newLedger(t, noFees())

	tests := []struct {
		name  string
		order OrderRequest
		price float64
	}{
		{"zero quantity", OrderRequest{Instrument: instr, Side: Buy}, 100},
		{"negative quantity", OrderRequest{Instrument: instr, Side: Buy, Quantity: -1}, 100},
		{"unknown instrument", MarketOrder("ETH-PERP", 1, ""), 100},
		{"bad limit", OrderRequest{Instrument: instr, Side: Buy, Quantity: 1, Kind: Limit}, 100},
		{"bad price", buy(1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.ApplyFill(t0, tt.order, tt.price, Taker)
			assert.Equal(t, errs.KindInvalidOrder, errs.KindOf(err))
		})
	}
	assert.Empty(t, l.Trades())
	assert.Equal(t, 10_000.0, l.Cash())
}

func TestMarkTracksPeak(t *testing.T) {
	t.Parallel()

	l := newLedger(t, noFees())
	_, err := l.ApplyFill(t0, buy(1), 100, Taker)
	require.NoError(t, err)

	for _, px := range []float64{105, 110, 104} {
		require.NoError(t, l.Mark(px))
	}
	p := l.Position()
	assert.Equal(t, 110.0, p.PeakPrice)
	assert.InDelta(t, 6.0/110.0, p.Retrace(), 1e-12)
	assert.InDelta(t, 0.04, p.UnrealizedPct(), 1e-12)
	identity(t, l)

	assert.Equal(t, errs.KindNumericFault, errs.KindOf(l.Mark(nan())))
}

func TestDustResidualIsRealized(t *testing.T) {
	t.Parallel()

	l := newLedger(t, noFees())
	_, err := l.ApplyFill(t0, buy(1000), 100, Taker)
	require.NoError(t, err)

	legs, err := l.ApplyFill(t0.Add(time.Hour), sell(1000*(1-1e-13)), 110, Taker)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, Close, legs[0].Kind)
	assert.Equal(t, 1000.0, legs[0].Quantity)
	assert.Equal(t, 10_000.0, legs[0].RealizedPnL)
	assert.Equal(t, 10_000.0, l.Realized())
	assert.True(t, l.Position().Flat())
	identity(t, l)
}

func TestFillDoesNotMovePeak(t *testing.T) {
	t.Parallel()

	l := newLedger(t, noFees())
	_, err := l.ApplyFill(t0, buy(1), 100, Taker)
	require.NoError(t, err)
	require.NoError(t, l.Mark(105))

	_, err = l.ApplyFill(t0.Add(time.Hour), buy(1), 110, Maker)
	require.NoError(t, err)
	p := l.Position()
	assert.Equal(t, 105.0, p.PeakPrice)
	assert.Equal(t, 110.0, p.MarkPrice)

	require.NoError(t, l.Mark(108))
	assert.Equal(t, 108.0, l.Position().PeakPrice)
	identity(t, l)
}

func TestNewLedgerValidates(t *testing.T) {
	t.Parallel()

	_, err := NewLedger(instr, 0, noFees(), nil)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))

	_, err = NewLedger(instr, 100, CommissionConfig{MakerRate: 0.01, TakerRate: 0.001}, nil)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestLedgerIDsAreDeterministic(t *testing.T) {
	t.Parallel()

	run := func() []string {
		l, err := NewLedger(instr, 1000, noFees(), id.NewGenerator(3))
		require.NoError(t, err)
		_, err = l.ApplyFill(t0, buy(1), 10, Taker)
		require.NoError(t, err)
		_, err = l.ApplyFill(t0.Add(time.Hour), sell(2), 11, Taker)
		require.NoError(t, err)
		var ids []string
		for _, tr := range l.Trades() {
			ids = append(ids, tr.ID, tr.FillID)
		}
		return ids
	}
	assert.Equal(t, run(), run())
}
