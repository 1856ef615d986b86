package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/perpbt/config"
	"github.com/rustyeddy/perpbt/market"
	"github.com/rustyeddy/perpbt/marketdb"
)

var rootCmd = &cobra.Command{
	Use:   "perpbt",
	Short: "A perpetual futures backtester with funding and risk controls",
	Long: `perpbt replays historical bars and funding rates for perpetual futures
through a strategy, a risk manager and a fill simulator.

It provides tools for:
  - Backtesting strategies bar by bar with maker/taker commission
  - Settling funding payments on open positions
  - Risk limits: leverage, position size, stops, daily loss and drawdown
  - Parameter sweeps across strategy settings
  - Storing market data in SQLite

Complete documentation is available at https://github.com/rustyeddy/perpbt`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(logLevel)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

var (
	cfgFile  string
	envFile  string
	logLevel string

	logger = zap.NewNop()
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "run configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "dotenv file with PERPBT_* overrides (default .env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

// newLogger logs JSON to stderr so that reports on stdout stay clean.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	if lvl.Level() == zap.DebugLevel {
		zc.Development = true
		zc.Encoding = "console"
	}
	return zc.Build()
}

// loadConfig reads --config (or the defaults) and then the dotenv overlay.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		c, err := config.LoadFromFile(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = c
	}

	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	if err := cfg.LoadEnv(files...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// provider opens the market data source named by cfg. The returned
// close func is never nil.
func provider(cfg *config.Config) (market.Provider, func() error, error) {
	switch cfg.Data.Source {
	case "sqlite":
		store, err := marketdb.NewSQLite(cfg.Data.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		return store, store.Close, nil
	default:
		return market.CSVProvider{Dir: cfg.Data.Dir}, func() error { return nil }, nil
	}
}
