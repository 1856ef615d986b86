package report

import (
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/perpbt/backtest"
)

const rule = "--------------------------------------------------"

// Text prints a run summary to W.
type Text struct {
	W io.Writer
}

func (t Text) Write(res *backtest.Result) error {
	Print(t.W, res)
	return nil
}

func Print(w io.Writer, res *backtest.Result) {
	r := res.Report

	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Run ID:          %s\n", res.RunID)
	fmt.Fprintf(w, "Strategy:        %s\n", r.Strategy)
	fmt.Fprintf(w, "Instrument:      %s\n", r.Instrument)
	fmt.Fprintf(w, "Interval:        %s\n", r.Interval)
	if res.Truncated {
		fmt.Fprintf(w, "Truncated:       yes (last bar %s)\n", stamp(res.LastTimestamp))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Start:           %s\n", stamp(r.Start))
	fmt.Fprintf(w, "End:             %s\n", stamp(r.End))
	fmt.Fprintf(w, "Bars:            %d\n", r.Bars)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Initial Capital: %.2f\n", r.InitialCapital)
	fmt.Fprintf(w, "Final Equity:    %.2f\n", r.FinalEquity)
	fmt.Fprintf(w, "Net P/L:         %.2f\n", r.NetPnL)
	fmt.Fprintf(w, "Return:          %.2f%%\n", r.TotalReturn*100)
	fmt.Fprintf(w, "Sharpe:          %.2f\n", r.Sharpe)
	fmt.Fprintf(w, "Max Drawdown:    %.2f%%\n", r.MaxDrawdown*100)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "P/L Breakdown")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Trading:         %.2f\n", r.TradingPnL)
	fmt.Fprintf(w, "Funding:         %.2f\n", r.FundingPnL)
	fmt.Fprintf(w, "Commission:      %.2f\n", -r.Commission)
	fmt.Fprintf(w, "Unrealized:      %.2f\n", r.UnrealizedPnL)

	ts := r.Trades
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Fills:           %d\n", ts.Fills)
	fmt.Fprintf(w, "Closing Trades:  %d\n", ts.Closing)
	fmt.Fprintf(w, "Wins:            %d\n", ts.Wins)
	fmt.Fprintf(w, "Losses:          %d\n", ts.Losses)
	fmt.Fprintf(w, "Win Rate:        %.2f%%\n", ts.WinRate*100)
	if ts.ProfitFactor > 0 {
		fmt.Fprintf(w, "Profit Factor:   %.2f\n", ts.ProfitFactor)
	}
	if ts.AvgDuration > 0 {
		fmt.Fprintf(w, "Avg Hold:        %s\n", ts.AvgDuration.Round(time.Minute))
	}

	cs := r.Commissions
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commission")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Maker:           %.2f (%d fills)\n", cs.MakerFees, cs.MakerOrders)
	fmt.Fprintf(w, "Taker:           %.2f (%d fills)\n", cs.TakerFees, cs.TakerOrders)
	fmt.Fprintf(w, "Maker Ratio:     %.2f%%\n", cs.MakerRatio()*100)

	fs := r.Funding
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Funding")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Received:        %.2f (%d)\n", fs.Received, fs.ReceivedCount)
	fmt.Fprintf(w, "Paid:            %.2f (%d)\n", fs.Paid, fs.PaidCount)
	fmt.Fprintf(w, "Net:             %.2f\n", fs.Net)
	fmt.Fprintf(w, "Avg Rate:        %.4f%%\n", fs.AvgRate*100)
	fmt.Fprintf(w, "Efficiency:      %.2f\n", fs.Efficiency)
	fmt.Fprintf(w, "Contribution:    %.2f%%\n", fs.Contribution*100)

	d, dir := fs.Distribution, fs.Direction
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Funding Rates")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Samples:         %d (+%d / -%d / 0 %d)\n", fs.Samples, dir.Positive, dir.Negative, dir.Zero)
	fmt.Fprintf(w, "Positive:        %.2f%% (avg %.4f%%)\n", dir.PositivePct*100, dir.AvgPositive*100)
	fmt.Fprintf(w, "Negative:        %.2f%% (avg %.4f%%)\n", dir.NegativePct*100, dir.AvgNegative*100)
	fmt.Fprintf(w, "Streaks:         +%d / -%d\n", dir.LongestPositive, dir.LongestNegative)
	fmt.Fprintf(w, "Mean:            %.4f%%\n", d.Mean*100)
	fmt.Fprintf(w, "Median:          %.4f%%\n", d.Median*100)
	fmt.Fprintf(w, "Std Dev:         %.4f%%\n", d.StdDev*100)
	fmt.Fprintf(w, "Range:           %.4f%% .. %.4f%%\n", d.Min*100, d.Max*100)
	fmt.Fprintf(w, "P10 / P90:       %.4f%% / %.4f%%\n", d.P10*100, d.P90*100)
	fmt.Fprintf(w, "P25 / P75:       %.4f%% / %.4f%%\n", d.P25*100, d.P75*100)
	fmt.Fprintf(w, "Skew / Kurt:     %.2f / %.2f\n", d.Skewness, d.Kurtosis)
	fmt.Fprintf(w, "Periods:         %d days, %d weeks, %d months\n", len(fs.Periods.Daily), len(fs.Periods.Weekly), len(fs.Periods.Monthly))

	if len(res.Diagnostics) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Diagnostics")
		fmt.Fprintln(w, rule)
		for _, d := range res.Diagnostics {
			fmt.Fprintf(w, "- %s %s %s %s\n", stamp(d.Time), d.Kind, d.Code, d.Msg)
		}
	}

	fmt.Fprintln(w)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
