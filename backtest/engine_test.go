package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/perpbt/errs"
	"github.com/rustyeddy/perpbt/market"
	"github.com/rustyeddy/perpbt/risk"
	"github.com/rustyeddy/perpbt/sim"
	"github.com/rustyeddy/perpbt/strategies"
)

const instr = "BTC-PERP"

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(t *testing.T, closes []float64, funding ...market.FundingSample) *market.Series {
	t.Helper()
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	s, err := market.NewSeries(instr, market.H1, bars, funding)
	require.NoError(t, err)
	return s
}

// loose never limits the tests' small positions.
func loose() risk.Policy {
	return risk.Policy{
		MaxPositionSizePct: 10,
		MaxLeverage:        10,
		MaxPositions:       1,
		MaxDailyLossPct:    1,
		MaxDrawdownPct:     1,
	}
}

func options() Options {
	return Options{
		InitialCapital: 10_000,
		Commission:     sim.CommissionConfig{MakerRate: 0, TakerRate: 0.001, FundingEnabled: true},
		Risk:           loose(),
		Seed:           42,
	}
}

func engine(t *testing.T, o Options) *Engine {
	t.Helper()
	e, err := New(o)
	require.NoError(t, err)
	return e
}

// at returns a strategy that sends a market order for qty on bar i.
func at(i int, qty float64) strategies.Strategy {
	return strategies.Func{Label: "at", Fn: func(v strategies.View) *sim.OrderRequest {
		if v.Index != i {
			return nil
		}
		o := sim.MarketOrder(v.Instrument, qty, "entry")
		return &o
	}}
}

func TestNewRejectsBadOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mod  func(*Options)
	}{
		{"zero capital", func(o *Options) { o.InitialCapital = 0 }},
		{"maker above taker", func(o *Options) { o.Commission.MakerRate = 0.01 }},
		{"no leverage", func(o *Options) { o.Risk.MaxLeverage = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := options()
			tt.mod(&o)
			_, err := New(o)
			require.Error(t, err)
			assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
		})
	}
}

func TestRunLongWithFundingAndCloseAtEnd(t *testing.T) {
	t.Parallel()

	s := series(t, []float64{100, 110, 120}, market.FundingSample{Time: t0.Add(time.Hour), Rate: 0.001})
	o := options()
	o.CloseEnd = true

	res, err := engine(t, o).Run(context.Background(), s, at(0, 1))
	require.NoError(t, err)
	require.Len(t, res.Curve, 3)
	assert.False(t, res.Truncated)
	assert.Equal(t, t0.Add(2*time.Hour), res.LastTimestamp)

	// bar 0: buy 1 @ 100, fee 0.1
	assert.InDelta(t, 9999.9, res.Curve[0].Equity, 1e-9)
	assert.Equal(t, 1.0, res.Curve[0].Position)

	// bar 1: +10 unrealized, pays 1*110*0.001
	assert.InDelta(t, 10009.79, res.Curve[1].Equity, 1e-9)
	require.Len(t, res.FundingPayments, 1)
	assert.InDelta(t, -0.11, res.FundingPayments[0].Amount, 1e-12)

	// bar 2: closed @ 120, fee 0.12
	last := res.Curve[2]
	assert.Equal(t, 0.0, last.Position)
	assert.InDelta(t, 10019.67, last.Equity, 1e-9)
	assert.InDelta(t, last.Cash, last.Equity, 1e-12)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, sim.Open, res.Trades[0].Kind)
	assert.Equal(t, sim.Close, res.Trades[1].Kind)
	assert.Equal(t, "EndOfReplay", res.Trades[1].Reason)

	r := res.Report
	assert.InDelta(t, 19.67, r.NetPnL, 1e-9)
	assert.InDelta(t, 20.0, r.TradingPnL, 1e-9)
	assert.InDelta(t, 0.22, r.Commission, 1e-12)
	assert.InDelta(t, -0.11, r.FundingPnL, 1e-12)
	assert.Equal(t, 0.0, r.UnrealizedPnL)
	assert.Equal(t, 1, r.Trades.Closing)
	assert.Equal(t, 1, r.Trades.Wins)
	assert.Equal(t, 2, r.Commissions.TakerOrders)
}

func TestEquityIdentityHoldsEveryBar(t *testing.T) {
	t.Parallel()

	closes := []float64{100, 102, 101, 105, 110, 108, 104, 100, 97, 99, 103, 106, 104, 101, 98}
	var funding []market.FundingSample
	for i := range closes {
		rate := 0.0005
		if i%3 == 0 {
			rate = -0.0003
		}
		funding = append(funding, market.FundingSample{Time: t0.Add(time.Duration(i)*time.Hour + 30*time.Minute), Rate: rate})
	}
	s := series(t, closes, funding...)

	strat, err := strategies.ByName(strategies.Config{Name: "sma-cross", Short: 2, Long: 4, SizePct: 0.5, Leverage: 1, AllowShort: true})
	require.NoError(t, err)

	res, err := engine(t, options()).Run(context.Background(), s, strat)
	require.NoError(t, err)
	require.Len(t, res.Curve, len(closes))
	require.NotEmpty(t, res.Trades)

	for _, p := range res.Curve {
		want := 10_000 + p.RealizedPnL + p.FundingPnL - p.Commission + p.UnrealizedPnL
		assert.InDelta(t, want, p.Equity, 1e-6, "bar %s", p.Time)
		assert.InDelta(t, p.Cash+p.UnrealizedPnL, p.Equity, 1e-9)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	closes := []float64{1, 2, 3, 4, 5, 4, 3, 2, 1, 2, 3, 4, 5}
	s := series(t, closes, market.FundingSample{Time: t0.Add(4 * time.Hour), Rate: 0.0001})
	cfg := strategies.Config{Name: "sma-cross", Short: 2, Long: 3, SizePct: 0.5, Leverage: 1}

	run := func() *Result {
		strat, err := strategies.ByName(cfg)
		require.NoError(t, err)
		res, err := engine(t, options()).Run(context.Background(), s, strat)
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	assert.Equal(t, a.Report, b.Report)
	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.Curve, b.Curve)
	assert.Equal(t, a.FundingPayments, b.FundingPayments)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestStopLossForcesClose(t *testing.T) {
	t.Parallel()

	s := series(t, []float64{100, 100, 90, 90})
	o := options()
	o.Commission = sim.CommissionConfig{FundingEnabled: true}
	o.Risk.StopLossPct = 0.05

	buyEveryBar := strategies.Func{Label: "buyer", Fn: func(v strategies.View) *sim.OrderRequest {
		if !v.Position.Flat() && v.Index != 2 {
			return nil
		}
		if v.Index > 2 {
			return nil
		}
		o := sim.MarketOrder(v.Instrument, 1, "entry")
		return &o
	}}

	res, err := engine(t, o).Run(context.Background(), s, buyEveryBar)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, sim.Close, res.Trades[1].Kind)
	assert.Equal(t, risk.CodeStopLoss, res.Trades[1].Reason)
	assert.InDelta(t, -10.0, res.Trades[1].RealizedPnL, 1e-12)

	require.Len(t, res.Diagnostics, 1)
	d := res.Diagnostics[0]
	assert.Equal(t, EventForcedClose, d.Kind)
	assert.Equal(t, risk.CodeStopLoss, d.Code)
	assert.Equal(t, 2, d.Index)
	assert.Contains(t, d.Msg, "dropped")

	assert.Equal(t, 0.0, res.Curve[3].Position)
	assert.InDelta(t, 9990.0, res.Report.FinalEquity, 1e-9)
}

func TestInvalidOrderIsDiagnosedNotFatal(t *testing.T) {
	t.Parallel()

	s := series(t, []float64{100, 101, 102})
	wrong := strategies.Func{Label: "wrong", Fn: func(v strategies.View) *sim.OrderRequest {
		if v.Index != 1 {
			return nil
		}
		o := sim.MarketOrder("ETH-PERP", 1, "oops")
		return &o
	}}

	res, err := engine(t, options()).Run(context.Background(), s, wrong)
	require.NoError(t, err)
	require.Len(t, res.Curve, 3)
	assert.Empty(t, res.Trades)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, EventInvalidOrder, res.Diagnostics[0].Kind)
	assert.Equal(t, errs.KindInvalidOrder.String(), res.Diagnostics[0].Code)
}

func TestUnfilledLimitIsDiagnosed(t *testing.T) {
	t.Parallel()

	s := series(t, []float64{100, 101})
	limit := strategies.Func{Label: "limit", Fn: func(v strategies.View) *sim.OrderRequest {
		if v.Index != 0 {
			return nil
		}
		return &sim.OrderRequest{Instrument: v.Instrument, Side: sim.Buy, Quantity: 1, Kind: sim.Limit, Price: 95}
	}}

	res, err := engine(t, options()).Run(context.Background(), s, limit)
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, EventUnfilled, res.Diagnostics[0].Kind)
}

func TestMakerLimitFillMarkedAtClose(t *testing.T) {
	t.Parallel()

	bars := []market.Bar{
		{Time: t0, Open: 100, High: 100, Low: 90, Close: 100, Volume: 1},
		{Time: t0.Add(time.Hour), Open: 100, High: 104, Low: 99, Close: 102, Volume: 1},
	}
	s, err := market.NewSeries(instr, market.H1, bars, nil)
	require.NoError(t, err)

	limit := strategies.Func{Label: "limit", Fn: func(v strategies.View) *sim.OrderRequest {
		if v.Index != 0 {
			return nil
		}
		return &sim.OrderRequest{Instrument: v.Instrument, Side: sim.Buy, Quantity: 1, Kind: sim.Limit, Price: 95}
	}}

	o := options()
	o.Commission.MakerRate = 0.0005
	res, err := engine(t, o).Run(context.Background(), s, limit)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, sim.Maker, res.Trades[0].Liquidity)
	assert.Equal(t, 95.0, res.Trades[0].Price)

	require.Len(t, res.Curve, 2)
	first := res.Curve[0]
	assert.Equal(t, 100.0, first.Mark)
	assert.InDelta(t, 5.0, first.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10_000+5-0.0475, first.Equity, 1e-9)
	assert.InDelta(t, 7.0, res.Curve[1].UnrealizedPnL, 1e-9)
}

func TestReportFaultReachesCaller(t *testing.T) {
	t.Parallel()

	o := options()
	o.InitialCapital = 100
	o.Commission.TakerRate = 0

	res, err := engine(t, o).Run(context.Background(), series(t, []float64{100, 0, 50}), at(0, 1))
	require.Error(t, err)

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, errs.KindNumericFault, re.Kind)
	assert.Equal(t, t0.Add(2*time.Hour), re.LastTimestamp)

	require.NotNil(t, res)
	require.Len(t, res.Curve, 3)
	assert.Equal(t, []float64{100, 0, 50}, []float64{res.Curve[0].Equity, res.Curve[1].Equity, res.Curve[2].Equity})
	assert.InDelta(t, 1.0, res.Report.MaxDrawdown, 1e-12)
	assert.Equal(t, 1, res.Report.Trades.Fills)
}

func TestFundingAlignment(t *testing.T) {
	t.Parallel()

	// 20 minutes after bar 0: nearest is bar 0, next is bar 1.
	f := market.FundingSample{Time: t0.Add(20 * time.Minute), Rate: 0.001}

	tests := []struct {
		align market.FundingAlignment
		want  float64
	}{
		{market.AlignNextBar, -0.11},
		{market.AlignNearestBar, -0.10},
	}
	for _, tt := range tests {
		t.Run(tt.align.String(), func(t *testing.T) {
			o := options()
			o.Alignment = tt.align
			res, err := engine(t, o).Run(context.Background(), series(t, []float64{100, 110, 120}, f), at(0, 1))
			require.NoError(t, err)
			require.Len(t, res.FundingPayments, 1)
			assert.InDelta(t, tt.want, res.FundingPayments[0].Amount, 1e-12)
			assert.Equal(t, 1, res.Report.Funding.Samples)
			assert.Equal(t, 1, res.Report.Funding.PaidCount)
		})
	}
}

func TestFundingDisabled(t *testing.T) {
	t.Parallel()

	s := series(t, []float64{100, 110}, market.FundingSample{Time: t0.Add(time.Hour), Rate: 0.01})
	o := options()
	o.Commission.FundingEnabled = false

	res, err := engine(t, o).Run(context.Background(), s, at(0, 1))
	require.NoError(t, err)
	assert.Empty(t, res.FundingPayments)
	assert.Equal(t, 0.0, res.Report.FundingPnL)
}

func TestCancelledRunIsTruncated(t *testing.T) {
	t.Parallel()

	s := series(t, []float64{100, 101, 102, 103, 104, 105})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopAt2 := strategies.Func{Label: "stop", Fn: func(v strategies.View) *sim.OrderRequest {
		if v.Index == 2 {
			cancel()
		}
		return nil
	}}

	res, err := engine(t, options()).Run(ctx, s, stopAt2)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.True(t, res.Report.Truncated)
	assert.Len(t, res.Curve, 3)
	assert.Equal(t, t0.Add(2*time.Hour), res.LastTimestamp)
}

func TestCancelledBeforeFirstBar(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := engine(t, options()).Run(ctx, series(t, []float64{100, 101}), strategies.Noop{})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Empty(t, res.Curve)
	assert.True(t, res.LastTimestamp.IsZero())
	assert.Equal(t, 10_000.0, res.Report.FinalEquity)
}

func TestRunRejectsMissingInputs(t *testing.T) {
	t.Parallel()

	e := engine(t, options())

	_, err := e.Run(context.Background(), nil, strategies.Noop{})
	assert.Equal(t, errs.KindInputData, errs.KindOf(err))

	_, err = e.Run(context.Background(), series(t, []float64{1}), nil)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestRunError(t *testing.T) {
	t.Parallel()

	inner := errs.E(errs.KindNumericFault, "sim.Ledger.Check", "ledger holds non-finite value")
	err := error(&RunError{Kind: errs.KindNumericFault, LastTimestamp: t0, Err: inner})

	assert.Contains(t, err.Error(), "2024-01-01T00:00:00Z")
	assert.Equal(t, errs.KindNumericFault, errs.KindOf(err))

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, t0, re.LastTimestamp)
	assert.True(t, errors.Is(err, &errs.Error{Kind: errs.KindNumericFault}))

	early := &RunError{Kind: errs.KindNumericFault, Err: inner}
	assert.Contains(t, early.Error(), "before first bar")
}

func TestMonitorDoesNotBlock(t *testing.T) {
	t.Parallel()

	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	mon := NewChannelMonitor(1)
	o := options()
	o.Monitor = mon

	res, err := engine(t, o).Run(context.Background(), series(t, closes), strategies.Noop{})
	require.NoError(t, err)
	assert.Len(t, res.Curve, 10)
	assert.Len(t, mon.Bars, 1)
	assert.Equal(t, int64(9), mon.Dropped())

	first := <-mon.Bars
	assert.Equal(t, t0, first.Time)
}
