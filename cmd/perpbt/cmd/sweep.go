package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/perpbt/backtest"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a strategy over a grid of window settings in parallel",
	Long: `Sweep runs one backtest per (short, long) pair with short < long and
prints a comparison table. Every run uses the same data, costs and risk
policy.

Example:
  perpbt sweep --data ./data --instrument BTC-PERP --interval 1h \
      --shorts 5,10,20 --longs 30,50,100 --workers 4`,
	RunE: runSweep,
}

var (
	swShorts  string
	swLongs   string
	swWorkers int
)

func init() {
	rootCmd.AddCommand(sweepCmd)
	runFlags(sweepCmd)

	sweepCmd.Flags().StringVar(&swShorts, "shorts", "5,10,20", "comma separated short windows")
	sweepCmd.Flags().StringVar(&swLongs, "longs", "30,50,100", "comma separated long windows")
	sweepCmd.Flags().IntVarP(&swWorkers, "workers", "w", runtime.NumCPU(), "parallel runs")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	shorts, err := parseInts(swShorts)
	if err != nil {
		return fmt.Errorf("--shorts: %w", err)
	}
	longs, err := parseInts(swLongs)
	if err != nil {
		return fmt.Errorf("--longs: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	series, err := loadSeries(ctx, cfg)
	if err != nil {
		return err
	}

	var jobs []backtest.Job
	for _, s := range shorts {
		for _, l := range longs {
			if s >= l {
				continue
			}
			sc := cfg.Strategy
			sc.Short, sc.Long = s, l
			jobs = append(jobs, backtest.Job{
				Name:     fmt.Sprintf("%s(%d,%d)", sc.Name, s, l),
				Series:   series,
				Strategy: sc,
				Options:  cfg.Options(logger),
			})
		}
	}
	if len(jobs) == 0 {
		return fmt.Errorf("no (short, long) pair with short < long")
	}

	fmt.Printf("Sweeping %d runs on %d workers: %s %s\n\n", len(jobs), swWorkers, series.Instrument(), series.Interval())

	results, err := backtest.Sweep(ctx, jobs, swWorkers)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-22s %10s %9s %8s %8s %7s %9s\n", "Run", "Equity", "Return%", "Sharpe", "MaxDD%", "Trades", "Funding")
	fmt.Fprintln(w, strings.Repeat("-", 79))
	for _, r := range results {
		if r.Result == nil {
			fmt.Fprintf(w, "%-22s error: %v\n", r.Job.Name, r.Err)
			continue
		}
		rep := r.Result.Report
		fmt.Fprintf(w, "%-22s %10.2f %9.2f %8.2f %8.2f %7d %9.2f\n",
			r.Job.Name, rep.FinalEquity, rep.TotalReturn*100, rep.Sharpe, rep.MaxDrawdown*100, rep.Trades.Closing, rep.FundingPnL)
		if r.Err != nil {
			fmt.Fprintf(w, "%-22s stopped early: %v\n", "", r.Err)
		}
	}
	return nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
