package backtest

import (
	"math"
	"time"

	"github.com/rustyeddy/perpbt/errs"
	"github.com/rustyeddy/perpbt/market"
	"github.com/rustyeddy/perpbt/sim"
)

// FundingStats splits funding cash flow by direction and summarizes the
// rate distribution over the run.
type FundingStats struct {
	Net           float64
	Received      float64
	Paid          float64 // positive number
	Payments      int
	ReceivedCount int
	PaidCount     int

	// AvgRate is the mean rate of the settled payments.
	AvgRate float64

	// Samples published during the run, by value and by sign.
	Samples      int
	Distribution RateDistribution
	Direction    DirectionStats

	// Periods groups the settled payments by calendar period.
	Periods PeriodMetrics

	// Efficiency is Net / (Received + Paid): 1 when every payment was
	// received, -1 when every payment was paid.
	Efficiency float64

	// Contribution is funding as a fraction of net PnL.
	Contribution float64
}

type TradeStats struct {
	Fills        int
	Closing      int
	Wins         int
	Losses       int
	WinRate      float64
	GrossProfit  float64
	GrossLoss    float64 // positive number
	ProfitFactor float64 // 0 when there are no losing trades
	AvgDuration  time.Duration
}

// Report is the read-only summary of a run.
type Report struct {
	Instrument string
	Strategy   string
	Interval   market.Interval
	Start      time.Time
	End        time.Time
	Bars       int

	InitialCapital float64
	FinalEquity    float64
	TotalReturn    float64
	NetPnL         float64

	TradingPnL    float64 // realized, excluding funding and commission
	Commission    float64
	FundingPnL    float64
	UnrealizedPnL float64

	Sharpe      float64
	MaxDrawdown float64

	Trades      TradeStats
	Funding     FundingStats
	Commissions sim.CommissionStats

	Truncated bool
}

// ReportInput is everything GenerateReport reads. None of it is modified.
type ReportInput struct {
	Instrument     string
	Strategy       string
	Interval       market.Interval
	InitialCapital float64
	Curve          []EquityPoint
	Trades         []sim.Trade
	Payments       []sim.FundingPayment
	Samples        []market.FundingSample
	Commissions    sim.CommissionStats
	Truncated      bool
}

// GenerateReport derives the statistics of a completed (or truncated)
// run. It is a pure function of its input.
func GenerateReport(in ReportInput) (Report, error) {
	const op = "backtest.GenerateReport"

	if in.InitialCapital <= 0 {
		return Report{}, errs.E(errs.KindNumericFault, op, "initial capital %v must be positive", in.InitialCapital)
	}

	r := Report{
		Instrument:     in.Instrument,
		Strategy:       in.Strategy,
		Interval:       in.Interval,
		Bars:           len(in.Curve),
		InitialCapital: in.InitialCapital,
		FinalEquity:    in.InitialCapital,
		Commissions:    in.Commissions,
		Truncated:      in.Truncated,
	}

	equity := make([]float64, len(in.Curve))
	for i, p := range in.Curve {
		equity[i] = p.Equity
	}

	if n := len(in.Curve); n > 0 {
		last := in.Curve[n-1]
		r.Start = in.Curve[0].Time
		r.End = last.Time
		r.FinalEquity = last.Equity
		r.TradingPnL = last.RealizedPnL
		r.Commission = last.Commission
		r.FundingPnL = last.FundingPnL
		r.UnrealizedPnL = last.UnrealizedPnL
	}
	r.NetPnL = r.FinalEquity - r.InitialCapital
	r.TotalReturn = r.FinalEquity/r.InitialCapital - 1

	r.MaxDrawdown = MaxDrawdown(in.InitialCapital, equity)
	r.Trades = tradeStats(in.Trades)
	r.Funding = fundingStats(in.Payments, in.Samples, r.NetPnL)

	rets, err := Returns(in.InitialCapital, equity)
	if err != nil {
		return r, err
	}
	r.Sharpe = Sharpe(rets, in.Interval.BarsPerYear())

	for _, v := range []float64{r.TotalReturn, r.Sharpe, r.MaxDrawdown, r.Funding.Distribution.StdDev, r.Funding.Distribution.Kurtosis, r.Trades.ProfitFactor} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return r, errs.E(errs.KindNumericFault, op, "statistics are not finite")
		}
	}
	return r, nil
}

func tradeStats(trades []sim.Trade) TradeStats {
	var s TradeStats
	fills := make(map[string]struct{})
	var held time.Duration

	for _, t := range trades {
		fills[t.FillID] = struct{}{}
		if !t.Kind.Closing() {
			continue
		}
		s.Closing++
		held += t.Duration()

		net := t.NetPnL()
		switch {
		case net > 0:
			s.Wins++
			s.GrossProfit += net
		case net < 0:
			s.Losses++
			s.GrossLoss -= net
		}
	}
	s.Fills = len(fills)

	if s.Closing > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Closing)
		s.AvgDuration = held / time.Duration(s.Closing)
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	return s
}

func fundingStats(payments []sim.FundingPayment, samples []market.FundingSample, netPnL float64) FundingStats {
	var s FundingStats
	rates := make([]float64, 0, len(payments))

	for _, p := range payments {
		s.Payments++
		rates = append(rates, p.Rate)
		switch {
		case p.Amount > 0:
			s.Received += p.Amount
			s.ReceivedCount++
		case p.Amount < 0:
			s.Paid -= p.Amount
			s.PaidCount++
		}
	}
	s.Net = s.Received - s.Paid
	s.AvgRate = Mean(rates)

	if gross := s.Received + s.Paid; gross > 0 {
		s.Efficiency = s.Net / gross
	}
	if netPnL != 0 {
		s.Contribution = s.Net / netPnL
	}

	dist := make([]float64, len(samples))
	for i, f := range samples {
		dist[i] = f.Rate
	}
	s.Samples = len(dist)
	s.Distribution = Distribution(dist)
	s.Direction = Direction(dist)
	s.Periods = FundingByPeriod(payments)
	return s
}
