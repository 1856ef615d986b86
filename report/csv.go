package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/perpbt/backtest"
)

var (
	tradeHeader   = []string{"id", "fill_id", "time", "instrument", "side", "kind", "quantity", "price", "fee", "liquidity", "realized_pnl", "net_pnl", "entry_price", "position_after", "reason"}
	equityHeader  = []string{"time", "cash", "unrealized_pnl", "realized_pnl", "funding_pnl", "commission", "equity", "position", "mark"}
	fundingHeader = []string{"time", "rate", "quantity", "mark", "amount"}
	periodHeader  = []string{"period", "start", "payments", "avg_rate", "pnl", "volatility", "sharpe"}
	summaryHeader = []string{"metric", "value"}
)

// CSV writes trades, equity, funding, funding_periods and summary files
// into Dir. File names are prefixed with Prefix, e.g. "run1_trades.csv".
type CSV struct {
	Dir    string
	Prefix string
}

func (c CSV) Path(name string) string {
	return filepath.Join(c.Dir, c.Prefix+name+".csv")
}

func (c CSV) Write(res *backtest.Result) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}

	trades := make([][]string, 0, len(res.Trades))
	for _, t := range res.Trades {
		trades = append(trades, []string{
			t.ID,
			t.FillID,
			ts(t.Time),
			t.Instrument,
			t.Side.String(),
			t.Kind.String(),
			qty(t.Quantity),
			price(t.Price),
			money(t.Fee),
			t.Liquidity.String(),
			money(t.RealizedPnL),
			money(t.NetPnL()),
			price(t.EntryPrice),
			qty(t.PositionAfter),
			t.Reason,
		})
	}

	equity := make([][]string, 0, len(res.Curve))
	for _, p := range res.Curve {
		equity = append(equity, []string{
			ts(p.Time),
			money(p.Cash),
			money(p.UnrealizedPnL),
			money(p.RealizedPnL),
			money(p.FundingPnL),
			money(p.Commission),
			money(p.Equity),
			qty(p.Position),
			price(p.Mark),
		})
	}

	funding := make([][]string, 0, len(res.FundingPayments))
	for _, f := range res.FundingPayments {
		funding = append(funding, []string{
			ts(f.Time),
			rate(f.Rate),
			qty(f.Quantity),
			price(f.MarkPrice),
			money(f.Amount),
		})
	}

	files := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{"trades", tradeHeader, trades},
		{"equity", equityHeader, equity},
		{"funding", fundingHeader, funding},
		{"funding_periods", periodHeader, periods(res.Report.Funding.Periods)},
		{"summary", summaryHeader, summary(res)},
	}
	for _, f := range files {
		if err := writeCSV(c.Path(f.name), f.header, f.rows); err != nil {
			return fmt.Errorf("report csv %s: %w", f.name, err)
		}
	}
	return nil
}

func periods(m backtest.PeriodMetrics) [][]string {
	var rows [][]string
	for _, g := range []struct {
		name string
		ms   []backtest.PeriodMetric
	}{{"daily", m.Daily}, {"weekly", m.Weekly}, {"monthly", m.Monthly}} {
		for _, p := range g.ms {
			rows = append(rows, []string{
				g.name,
				ts(p.Start),
				strconv.Itoa(p.Payments),
				rate(p.AvgRate),
				money(p.PnL),
				rate(p.Volatility),
				ratio(p.Sharpe),
			})
		}
	}
	return rows
}

func summary(res *backtest.Result) [][]string {
	r := res.Report
	d, dir := r.Funding.Distribution, r.Funding.Direction
	return [][]string{
		{"run_id", res.RunID},
		{"strategy", r.Strategy},
		{"instrument", r.Instrument},
		{"interval", r.Interval.String()},
		{"start", ts(r.Start)},
		{"end", ts(r.End)},
		{"bars", strconv.Itoa(r.Bars)},
		{"truncated", strconv.FormatBool(r.Truncated)},
		{"initial_capital", money(r.InitialCapital)},
		{"final_equity", money(r.FinalEquity)},
		{"net_pnl", money(r.NetPnL)},
		{"total_return", ratio(r.TotalReturn)},
		{"trading_pnl", money(r.TradingPnL)},
		{"funding_pnl", money(r.FundingPnL)},
		{"commission", money(r.Commission)},
		{"unrealized_pnl", money(r.UnrealizedPnL)},
		{"sharpe", ratio(r.Sharpe)},
		{"max_drawdown", ratio(r.MaxDrawdown)},
		{"fills", strconv.Itoa(r.Trades.Fills)},
		{"closing_trades", strconv.Itoa(r.Trades.Closing)},
		{"win_rate", ratio(r.Trades.WinRate)},
		{"profit_factor", ratio(r.Trades.ProfitFactor)},
		{"maker_fees", money(r.Commissions.MakerFees)},
		{"taker_fees", money(r.Commissions.TakerFees)},
		{"funding_received", money(r.Funding.Received)},
		{"funding_paid", money(r.Funding.Paid)},
		{"funding_efficiency", ratio(r.Funding.Efficiency)},
		{"funding_contribution", ratio(r.Funding.Contribution)},
		{"funding_samples", strconv.Itoa(r.Funding.Samples)},
		{"rate_mean", rate(d.Mean)},
		{"rate_median", rate(d.Median)},
		{"rate_stddev", rate(d.StdDev)},
		{"rate_min", rate(d.Min)},
		{"rate_max", rate(d.Max)},
		{"rate_skewness", ratio(d.Skewness)},
		{"rate_kurtosis", ratio(d.Kurtosis)},
		{"rate_p10", rate(d.P10)},
		{"rate_p25", rate(d.P25)},
		{"rate_p75", rate(d.P75)},
		{"rate_p90", rate(d.P90)},
		{"rate_positive", strconv.Itoa(dir.Positive)},
		{"rate_negative", strconv.Itoa(dir.Negative)},
		{"rate_zero", strconv.Itoa(dir.Zero)},
		{"rate_positive_pct", ratio(dir.PositivePct)},
		{"rate_negative_pct", ratio(dir.NegativePct)},
		{"avg_positive_rate", rate(dir.AvgPositive)},
		{"avg_negative_rate", rate(dir.AvgNegative)},
		{"longest_positive_streak", strconv.Itoa(dir.LongestPositive)},
		{"longest_negative_streak", strconv.Itoa(dir.LongestNegative)},
		{"diagnostics", strconv.Itoa(len(res.Diagnostics))},
	}
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Close()
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func money(x float64) string { return decimal.NewFromFloat(x).StringFixed(2) }
func price(x float64) string { return decimal.NewFromFloat(x).StringFixed(8) }
func qty(x float64) string   { return decimal.NewFromFloat(x).StringFixed(8) }
func ratio(x float64) string { return decimal.NewFromFloat(x).StringFixed(6) }
func rate(x float64) string  { return decimal.NewFromFloat(x).StringFixed(8) }
