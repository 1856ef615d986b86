package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/perpbt/backtest"
	"github.com/rustyeddy/perpbt/config"
	"github.com/rustyeddy/perpbt/market"
	"github.com/rustyeddy/perpbt/report"
	"github.com/rustyeddy/perpbt/strategies"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a backtest over stored bars and funding rates",
	Long: fmt.Sprintf(`Backtest replays one instrument through a strategy and prints a report.

Settings come from --config (defaults otherwise), then PERPBT_* variables,
then the flags below.

Registered strategies: %s

Example:
  perpbt backtest --data ./data --instrument BTC-PERP --interval 1h \
      --strategy sma-cross --short 10 --long 30 --csv-dir ./out`, strings.Join(strategies.Names(), ", ")),
	RunE: runBacktest,
}

var (
	btDataDir    string
	btDBPath     string
	btInstrument string
	btInterval   string
	btFrom       string
	btTo         string
	btAllowGaps  bool
	btAlignment  string

	btBalance  float64
	btCloseEnd bool
	btSeed     int64

	btStrategy   string
	btShort      int
	btLong       int
	btThreshold  float64
	btSize       float64
	btLeverage   float64
	btAllowShort bool

	btCSVDir  string
	btOrgPath string
)

func init() {
	rootCmd.AddCommand(backtestCmd)
	runFlags(backtestCmd)

	backtestCmd.Flags().IntVar(&btShort, "short", 10, "sma-cross: short window")
	backtestCmd.Flags().IntVar(&btLong, "long", 30, "sma-cross: long window")
	backtestCmd.Flags().StringVar(&btCSVDir, "csv-dir", "", "write trades/equity/funding/summary CSV files here")
	backtestCmd.Flags().StringVar(&btOrgPath, "org", "", "write an org-mode journal entry to this path")
}

// runFlags registers the flags shared by backtest and sweep.
func runFlags(c *cobra.Command) {
	c.Flags().StringVarP(&btDataDir, "data", "d", "", "CSV data directory (<INSTRUMENT>_<interval>.csv, <INSTRUMENT>_funding.csv)")
	c.Flags().StringVar(&btDBPath, "db", "", "SQLite market data store (instead of --data)")
	c.Flags().StringVarP(&btInstrument, "instrument", "i", "", "instrument, e.g. BTC-PERP")
	c.Flags().StringVar(&btInterval, "interval", "", "bar interval (1m, 5m, 15m, 1h, 4h, 1d)")
	c.Flags().StringVar(&btFrom, "from", "", "first bar time, RFC3339 or unix seconds")
	c.Flags().StringVar(&btTo, "to", "", "last bar time, RFC3339 or unix seconds")
	c.Flags().BoolVar(&btAllowGaps, "allow-gaps", false, "mark missing bars instead of failing")
	c.Flags().StringVar(&btAlignment, "funding-alignment", "", "apply funding on the next or nearest bar")

	c.Flags().Float64VarP(&btBalance, "balance", "b", 10_000, "initial capital")
	c.Flags().BoolVar(&btCloseEnd, "close-end", true, "close the open position on the last bar")
	c.Flags().Int64Var(&btSeed, "seed", 1, "seed for trade ids")

	c.Flags().StringVarP(&btStrategy, "strategy", "s", "", "strategy name")
	c.Flags().Float64Var(&btThreshold, "threshold", 0, "funding-arb: funding rate threshold")
	c.Flags().Float64Var(&btSize, "size", 0, "position size as a fraction of equity")
	c.Flags().Float64Var(&btLeverage, "leverage", 0, "strategy leverage")
	c.Flags().BoolVar(&btAllowShort, "allow-short", false, "let the strategy go short")
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(c *cobra.Command, cfg *config.Config) {
	set := c.Flags().Changed

	if set("data") {
		cfg.Data.Source, cfg.Data.Dir = "csv", btDataDir
	}
	if set("db") {
		cfg.Data.Source, cfg.Data.DBPath = "sqlite", btDBPath
	}
	if set("instrument") {
		cfg.Data.Instrument = btInstrument
	}
	if set("interval") {
		cfg.Data.Interval = btInterval
	}
	if set("from") {
		cfg.Data.From = btFrom
	}
	if set("to") {
		cfg.Data.To = btTo
	}
	if set("allow-gaps") {
		cfg.Data.AllowGaps = btAllowGaps
	}
	if set("funding-alignment") {
		cfg.Data.Alignment = btAlignment
	}
	if set("balance") {
		cfg.Account.Balance = btBalance
	}
	if set("close-end") {
		cfg.Run.CloseAtEnd = btCloseEnd
	}
	if set("seed") {
		cfg.Run.Seed = btSeed
	}
	if set("strategy") {
		cfg.Strategy.Name = btStrategy
	}
	if set("short") {
		cfg.Strategy.Short = btShort
	}
	if set("long") {
		cfg.Strategy.Long = btLong
	}
	if set("threshold") {
		cfg.Strategy.Threshold = btThreshold
	}
	if set("size") {
		cfg.Strategy.SizePct = btSize
	}
	if set("leverage") {
		cfg.Strategy.Leverage = btLeverage
	}
	if set("allow-short") {
		cfg.Strategy.AllowShort = btAllowShort
	}
	if set("csv-dir") {
		cfg.Output.CSVDir = btCSVDir
	}
	if set("org") {
		cfg.Output.OrgPath = btOrgPath
	}
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	series, err := loadSeries(ctx, cfg)
	if err != nil {
		return err
	}

	strat, err := strategies.ByName(cfg.Strategy)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	engine, err := backtest.New(cfg.Options(logger))
	if err != nil {
		return err
	}

	fmt.Printf("Running backtest with strategy: %s\n", strat.Name())
	fmt.Printf("  Data: %s %s %s (%d bars, %d funding samples)\n",
		cfg.Data.Instrument, series.Interval(), cfg.Data.Range(), series.Len(), series.FundingLen())
	fmt.Println()

	res, runErr := engine.Run(ctx, series, strat)
	if res == nil {
		return runErr
	}

	sinks := report.Multi{report.Text{W: cmd.OutOrStdout()}}
	if cfg.Output.CSVDir != "" {
		sinks = append(sinks, report.CSV{Dir: cfg.Output.CSVDir, Prefix: cfg.Output.Prefix})
	}
	if cfg.Output.OrgPath != "" {
		sinks = append(sinks, report.Org{Path: cfg.Output.OrgPath})
	}
	if err := sinks.Write(res); err != nil {
		logger.Error("report", zap.Error(err))
		return fmt.Errorf("write report: %w", err)
	}

	var re *backtest.RunError
	if errors.As(runErr, &re) {
		return fmt.Errorf("backtest failed: %w", re)
	}
	return runErr
}

func loadSeries(ctx context.Context, cfg *config.Config) (*market.Series, error) {
	req, err := cfg.Request()
	if err != nil {
		return nil, err
	}
	p, closeFn, err := provider(cfg)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	series, err := p.Load(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", req.Instrument, req.Interval, err)
	}
	logger.Info("series loaded",
		zap.String("instrument", series.Instrument()),
		zap.Int("bars", series.Len()),
		zap.Int("funding", series.FundingLen()),
		zap.Time("first", series.First()),
		zap.Time("last", series.Last()),
	)
	return series, nil
}
