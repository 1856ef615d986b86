package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/perpbt/errs"
	"github.com/rustyeddy/perpbt/internal/id"
	"github.com/rustyeddy/perpbt/market"
	"github.com/rustyeddy/perpbt/risk"
	"github.com/rustyeddy/perpbt/sim"
	"github.com/rustyeddy/perpbt/strategies"
)

// Options configures a run. The zero Logger and Monitor are no-ops.
type Options struct {
	InitialCapital float64
	Commission     sim.CommissionConfig
	Risk           risk.Policy
	Alignment      market.FundingAlignment

	// If true, close the open position on the last bar.
	// Close reason will be CloseReason (or "EndOfReplay" if empty).
	CloseEnd    bool
	CloseReason string

	// Seed makes fill and trade ids reproducible.
	Seed int64

	Logger  *zap.Logger
	Monitor Monitor
}

func (o Options) Validate() error {
	if math.IsNaN(o.InitialCapital) || math.IsInf(o.InitialCapital, 0) || o.InitialCapital <= 0 {
		return errs.E(errs.KindConfiguration, "backtest.Options.Validate", "initial capital %v must be positive", o.InitialCapital)
	}
	if err := o.Commission.Validate(); err != nil {
		return err
	}
	return o.Risk.Validate()
}

// Result is what a run leaves behind. On a fault or cancellation it holds
// everything up to the last processed bar.
type Result struct {
	RunID    string
	Strategy string

	Report          Report
	Curve           []EquityPoint
	Trades          []sim.Trade
	FundingPayments []sim.FundingPayment
	Diagnostics     []Event // signals dropped, resized or overridden

	Truncated     bool
	LastTimestamp time.Time
}

// RunError is a fault that stopped a run mid-way.
type RunError struct {
	Kind          errs.Kind
	LastTimestamp time.Time // last bar fully processed, zero if none
	Err           error
}

func (e *RunError) Error() string {
	if e.LastTimestamp.IsZero() {
		return fmt.Sprintf("run failed before first bar: %v", e.Err)
	}
	return fmt.Sprintf("run failed after %s: %v", e.LastTimestamp.Format(time.RFC3339), e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

type Engine struct {
	opts Options
	log  *zap.Logger
	mon  Monitor
}

func New(opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.CloseReason == "" {
		opts.CloseReason = "EndOfReplay"
	}
	e := &Engine{opts: opts, log: opts.Logger, mon: opts.Monitor}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.mon == nil {
		e.mon = nopMonitor{}
	}
	return e, nil
}

func (e *Engine) Options() Options { return e.opts }

// run is the mutable state of one replay.
type run struct {
	*Engine
	id     string
	series *market.Series
	strat  strategies.Strategy

	ledger  *sim.Ledger
	funding *sim.FundingEngine
	risk    *risk.Manager
	curve   *EquityCurveBuilder

	diags []Event

	day      time.Time
	dayStart float64
	peak     float64
	last     time.Time
}

// Run replays s through strat one bar at a time. For each bar it marks
// the position, asks the strategy for an order, passes it through the
// risk manager, fills it against the bar, settles any funding due, and
// records equity.
//
// Cancelling ctx stops the run between bars; the partial Result has
// Truncated set and the error is nil. A numeric fault stops the run and
// returns the partial Result with a *RunError.
func (e *Engine) Run(ctx context.Context, s *market.Series, strat strategies.Strategy) (*Result, error) {
	if s == nil || s.Len() == 0 {
		return nil, errs.E(errs.KindInputData, "backtest.Run", "empty series")
	}
	if strat == nil {
		return nil, errs.E(errs.KindConfiguration, "backtest.Run", "strategy is required")
	}

	r, err := e.newRun(s, strat)
	if err != nil {
		return nil, err
	}

	r.log.Info("backtest started",
		zap.String("run", r.id),
		zap.String("instrument", s.Instrument()),
		zap.String("interval", s.Interval().String()),
		zap.String("strategy", strat.Name()),
		zap.Int("bars", s.Len()),
		zap.Int("funding_samples", s.FundingLen()),
	)

	schedule := s.FundingSchedule(e.opts.Alignment)
	truncated := false

	for i := 0; i < s.Len(); i++ {
		if ctx.Err() != nil {
			truncated = true
			r.log.Warn("backtest cancelled", zap.String("run", r.id), zap.Int("bar", i))
			break
		}
		if err := r.step(i, schedule[i]); err != nil {
			res, _ := r.result(true)
			r.log.Error("backtest halted", zap.String("run", r.id), zap.Int("bar", i), zap.Error(err))
			return res, &RunError{Kind: errs.KindOf(err), LastTimestamp: r.last, Err: err}
		}
	}

	res, err := r.result(truncated)
	if err != nil {
		r.log.Error("report failed", zap.String("run", r.id), zap.Error(err))
		return res, &RunError{Kind: errs.KindOf(err), LastTimestamp: r.last, Err: err}
	}
	r.log.Info("backtest finished",
		zap.String("run", r.id),
		zap.Bool("truncated", truncated),
		zap.Float64("final_equity", res.Report.FinalEquity),
		zap.Float64("total_return", res.Report.TotalReturn),
		zap.Int("fills", res.Report.Trades.Fills),
		zap.Int("diagnostics", len(res.Diagnostics)),
	)
	return res, nil
}

func (e *Engine) newRun(s *market.Series, strat strategies.Strategy) (*run, error) {
	ledger, err := sim.NewLedger(s.Instrument(), e.opts.InitialCapital, e.opts.Commission, id.NewGenerator(e.opts.Seed))
	if err != nil {
		return nil, err
	}
	rm, err := risk.NewManager(e.opts.Risk)
	if err != nil {
		return nil, err
	}
	strat.Reset()

	return &run{
		Engine:   e,
		id:       id.New(),
		series:   s,
		strat:    strat,
		ledger:   ledger,
		funding:  sim.NewFundingEngine(e.opts.Commission),
		risk:     rm,
		curve:    NewEquityCurveBuilder(e.opts.InitialCapital),
		dayStart: e.opts.InitialCapital,
		peak:     e.opts.InitialCapital,
	}, nil
}

func (r *run) step(i int, due []market.FundingSample) error {
	bar := r.series.Bar(i)
	instr := r.series.Instrument()

	if d := bar.Time.UTC().Truncate(24 * time.Hour); !d.Equal(r.day) {
		r.day = d
		r.dayStart = r.ledger.Equity()
	}

	if err := r.ledger.Mark(bar.Close); err != nil {
		return err
	}

	view := strategies.View{
		Index:      i,
		Instrument: instr,
		Bar:        bar,
		History:    r.series.Window(i),
		Position:   r.ledger.Position(),
		Equity:     r.ledger.Equity(),
	}
	view.Funding, view.HasFunding = r.series.FundingAt(bar.Time)

	cand := r.strat.Next(view)
	if cand != nil {
		if err := cand.Validate(instr); err != nil {
			r.diag(i, bar.Time, EventInvalidOrder, errs.KindInvalidOrder.String(), err.Error())
			cand = nil
		}
	}

	pos := r.ledger.Position()
	open := 0
	if !pos.Flat() {
		open = 1
	}
	dec := r.risk.Evaluate(risk.Input{
		Time:     bar.Time,
		Mark:     bar.Close,
		Position: pos,
		Account: risk.Account{
			Equity:         r.ledger.Equity(),
			DayStartEquity: r.dayStart,
			PeakEquity:     r.peak,
			OpenPositions:  open,
		},
		Candidate: cand,
	})
	r.noteDecision(i, bar.Time, dec)

	if dec.Order != nil {
		if err := r.execute(i, bar, *dec.Order); err != nil {
			return err
		}
		// limit fills book at their own price; equity is valued at close
		if err := r.ledger.Mark(bar.Close); err != nil {
			return err
		}
	}

	for _, f := range due {
		p, ok, err := r.funding.Apply(r.ledger, f, bar.Close)
		if err != nil {
			return err
		}
		if ok {
			r.log.Debug("funding settled",
				zap.Time("time", f.Time),
				zap.Float64("rate", f.Rate),
				zap.Float64("amount", p.Amount),
			)
			r.mon.OnEvent(Event{Time: bar.Time, Index: i, Kind: EventFunding, Msg: fmt.Sprintf("rate %g amount %.6f", f.Rate, p.Amount)})
		}
	}

	if i == r.series.Len()-1 && r.opts.CloseEnd {
		if p := r.ledger.Position(); !p.Flat() {
			if err := r.execute(i, bar, sim.CloseOrder(instr, p.Quantity, r.opts.CloseReason)); err != nil {
				return err
			}
			r.mon.OnEvent(Event{Time: bar.Time, Index: i, Kind: EventEndOfReplay, Msg: r.opts.CloseReason})
		}
	}

	if err := r.ledger.Check(); err != nil {
		return err
	}
	pt, err := r.curve.Record(bar.Time, r.ledger)
	if err != nil {
		return err
	}
	r.mon.OnBar(pt)

	r.peak = math.Max(r.peak, pt.Equity)
	r.last = bar.Time
	return nil
}

// execute fills o against bar. Orders that do not fill or that the ledger
// rejects become diagnostics; numeric faults stop the run.
func (r *run) execute(i int, bar market.Bar, o sim.OrderRequest) error {
	fill, ok, why := sim.Match(o, bar)
	if !ok {
		r.diag(i, bar.Time, EventUnfilled, "", why)
		return nil
	}

	before := r.ledger.Position()
	legs, err := r.ledger.ApplyFill(bar.Time, o, fill.Price, fill.Liquidity)
	if err != nil {
		if errs.KindOf(err).Fatal() {
			return err
		}
		r.diag(i, bar.Time, EventInvalidOrder, errs.KindOf(err).String(), err.Error())
		return nil
	}

	for _, t := range legs {
		r.log.Debug("fill",
			zap.String("id", t.ID),
			zap.String("fill", t.FillID),
			zap.Time("time", t.Time),
			zap.String("side", t.Side.String()),
			zap.String("kind", t.Kind.String()),
			zap.Float64("qty", t.Quantity),
			zap.Float64("price", t.Price),
			zap.Float64("fee", t.Fee),
			zap.Float64("realized", t.RealizedPnL),
			zap.String("reason", t.Reason),
		)
		r.mon.OnEvent(Event{
			Time:  bar.Time,
			Index: i,
			Kind:  EventFill,
			Code:  t.Kind.String(),
			Msg:   fmt.Sprintf("%s %g @ %g fee %.6f", t.Side, t.Quantity, t.Price, t.Fee),
		})
	}

	if after := r.ledger.Position(); !after.Flat() && (before.Flat() || before.Side() != after.Side()) {
		pol := r.risk.Policy()
		side := int(after.Side())
		stop := risk.StopPrice(side, after.EntryPrice, pol.StopLossPct)
		target := risk.TargetPrice(side, after.EntryPrice, pol.TakeProfitPct)
		r.log.Debug("position opened",
			zap.Float64("qty", after.Quantity),
			zap.Float64("entry", after.EntryPrice),
			zap.Float64("stop", stop),
			zap.Float64("target", target),
			zap.Float64("reward_risk", risk.RR(after.EntryPrice, stop, target)),
			zap.Float64("leverage", risk.Leverage(after.Notional(), r.ledger.Equity())),
		)
	}
	return nil
}

func (r *run) noteDecision(i int, t time.Time, d risk.Decision) {
	if d.Violation == nil {
		return
	}
	kind := ""
	switch d.Outcome {
	case risk.Rejected:
		kind = EventRiskRejected
	case risk.Resized:
		kind = EventRiskResized
	case risk.ForcedClose:
		kind = EventForcedClose
	default:
		return
	}
	msg := d.Violation.Msg
	if d.Dropped != nil {
		msg += fmt.Sprintf("; dropped %s %g", d.Dropped.Side, d.Dropped.Quantity)
	}
	r.diag(i, t, kind, d.Violation.Code, msg)
}

func (r *run) diag(i int, t time.Time, kind, code, msg string) {
	ev := Event{Time: t, Index: i, Kind: kind, Code: code, Msg: msg}
	r.diags = append(r.diags, ev)
	r.log.Info("signal diagnostic",
		zap.String("run", r.id),
		zap.Int("bar", i),
		zap.String("kind", kind),
		zap.String("code", code),
		zap.String("msg", msg),
	)
	r.mon.OnEvent(ev)
}

// result snapshots the run. The Result is returned even when the report
// statistics fault, so the caller keeps the curve and trade log.
func (r *run) result(truncated bool) (*Result, error) {
	curve := r.curve.Points()
	in := ReportInput{
		Instrument:     r.series.Instrument(),
		Strategy:       r.strat.Name(),
		Interval:       r.series.Interval(),
		InitialCapital: r.opts.InitialCapital,
		Curve:          curve,
		Trades:         r.ledger.Trades(),
		Payments:       r.ledger.FundingPayments(),
		Samples:        samplesThrough(r.series, r.last),
		Commissions:    r.ledger.CommissionStats(),
		Truncated:      truncated,
	}
	rep, err := GenerateReport(in)

	diags := make([]Event, len(r.diags))
	copy(diags, r.diags)

	return &Result{
		RunID:           r.id,
		Strategy:        r.strat.Name(),
		Report:          rep,
		Curve:           curve,
		Trades:          in.Trades,
		FundingPayments: in.Payments,
		Diagnostics:     diags,
		Truncated:       truncated,
		LastTimestamp:   r.last,
	}, err
}

// samplesThrough is the funding published between the first bar and last.
func samplesThrough(s *market.Series, last time.Time) []market.FundingSample {
	var out []market.FundingSample
	if last.IsZero() {
		return out
	}
	for _, f := range s.Funding() {
		if !f.Time.Before(s.First()) && !f.Time.After(last) {
			out = append(out, f)
		}
	}
	return out
}
