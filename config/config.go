package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/perpbt/backtest"
	"github.com/rustyeddy/perpbt/errs"
	"github.com/rustyeddy/perpbt/market"
	"github.com/rustyeddy/perpbt/risk"
	"github.com/rustyeddy/perpbt/sim"
	"github.com/rustyeddy/perpbt/strategies"
)

// Config represents a complete backtest run
type Config struct {
	Account    AccountConfig        `json:"account" yaml:"account"`
	Data       DataConfig           `json:"data" yaml:"data"`
	Commission sim.CommissionConfig `json:"commission" yaml:"commission"`
	Risk       risk.Policy          `json:"risk" yaml:"risk"`
	Strategy   strategies.Config    `json:"strategy" yaml:"strategy"`
	Run        RunConfig            `json:"run" yaml:"run"`
	Output     OutputConfig         `json:"output" yaml:"output"`
}

type AccountConfig struct {
	Balance float64 `json:"balance" yaml:"balance"`
}

// DataConfig selects the market data for the run
type DataConfig struct {
	Source     string `json:"source" yaml:"source"` // "csv" or "sqlite"
	Dir        string `json:"dir,omitempty" yaml:"dir,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Instrument string `json:"instrument" yaml:"instrument"`
	Interval   string `json:"interval" yaml:"interval"`
	From       string `json:"from,omitempty" yaml:"from,omitempty"` // RFC3339 or unix seconds
	To         string `json:"to,omitempty" yaml:"to,omitempty"`
	AllowGaps  bool   `json:"allow_gaps" yaml:"allow_gaps"`
	Alignment  string `json:"funding_alignment" yaml:"funding_alignment"` // "next" or "nearest"
}

type RunConfig struct {
	Seed        int64  `json:"seed" yaml:"seed"`
	CloseAtEnd  bool   `json:"close_at_end" yaml:"close_at_end"`
	CloseReason string `json:"close_reason,omitempty" yaml:"close_reason,omitempty"`
}

// OutputConfig controls where report sinks write. Empty values disable
// the sink.
type OutputConfig struct {
	CSVDir  string `json:"csv_dir,omitempty" yaml:"csv_dir,omitempty"`
	Prefix  string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	OrgPath string `json:"org_path,omitempty" yaml:"org_path,omitempty"`
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON).
// Keys missing from the file keep their Default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "config.LoadFromFile",
				fmt.Errorf("parse config (tried YAML and JSON): %w", err))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration as YAML or JSON depending on the extension
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// LoadEnv reads .env files (default ".env", skipped when missing) into
// the process environment, then applies PERPBT_* overrides to c.
// Variables already set in the environment win over the files.
func (c *Config) LoadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading .env file: %w", err)
		}
	}
	return c.ApplyEnv()
}

// ApplyEnv overrides fields from PERPBT_* environment variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"PERPBT_DATA_SOURCE": &c.Data.Source,
		"PERPBT_DATA_DIR":    &c.Data.Dir,
		"PERPBT_DB":          &c.Data.DBPath,
		"PERPBT_INSTRUMENT":  &c.Data.Instrument,
		"PERPBT_INTERVAL":    &c.Data.Interval,
		"PERPBT_FROM":        &c.Data.From,
		"PERPBT_TO":          &c.Data.To,
		"PERPBT_STRATEGY":    &c.Strategy.Name,
		"PERPBT_CSV_DIR":     &c.Output.CSVDir,
		"PERPBT_ORG_PATH":    &c.Output.OrgPath,
	}
	for k, p := range str {
		if v, ok := os.LookupEnv(k); ok {
			*p = v
		}
	}

	if v, ok := os.LookupEnv("PERPBT_BALANCE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errs.E(errs.KindConfiguration, "config.ApplyEnv", "PERPBT_BALANCE %q is not a number", v)
		}
		c.Account.Balance = f
	}
	if v, ok := os.LookupEnv("PERPBT_SEED"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errs.E(errs.KindConfiguration, "config.ApplyEnv", "PERPBT_SEED %q is not an integer", v)
		}
		c.Run.Seed = n
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return errs.E(errs.KindConfiguration, "config.Validate", format, args...)
	}

	if !(c.Account.Balance > 0) {
		return bad("account.balance must be positive")
	}
	switch c.Data.Source {
	case "csv":
		if c.Data.Dir == "" {
			return bad("data.dir required for csv source")
		}
	case "sqlite":
		if c.Data.DBPath == "" {
			return bad("data.db_path required for sqlite source")
		}
	default:
		return bad("data.source must be 'csv' or 'sqlite'")
	}
	if _, err := c.Request(); err != nil {
		return err
	}
	if _, ok := market.ParseAlignment(c.Data.Alignment); !ok {
		return bad("data.funding_alignment must be 'next' or 'nearest'")
	}
	if err := c.Commission.Validate(); err != nil {
		return fmt.Errorf("commission: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if _, err := strategies.ByName(c.Strategy); err != nil {
		return errs.Wrap(errs.KindConfiguration, "config.Validate", fmt.Errorf("strategy: %w", err))
	}
	return nil
}

// Request is the market data request described by Data.
func (c *Config) Request() (market.Request, error) {
	bad := func(format string, args ...any) error {
		return errs.E(errs.KindConfiguration, "config.Request", format, args...)
	}

	d := c.Data
	if d.Instrument == "" {
		return market.Request{}, bad("data.instrument is required")
	}
	iv, err := market.ParseInterval(d.Interval)
	if err != nil {
		return market.Request{}, bad("data.interval %q must be one of 1m, 5m, 15m, 1h, 4h, 1d", d.Interval)
	}

	req := market.Request{Instrument: d.Instrument, Interval: iv, AllowGaps: d.AllowGaps}
	if d.From != "" {
		if req.From, err = market.ParseTime(d.From); err != nil {
			return market.Request{}, bad("data.from: %v", err)
		}
	}
	if d.To != "" {
		if req.To, err = market.ParseTime(d.To); err != nil {
			return market.Request{}, bad("data.to: %v", err)
		}
	}
	if !req.From.IsZero() && !req.To.IsZero() && !req.From.Before(req.To) {
		return market.Request{}, bad("data.from must be before data.to")
	}
	return req, nil
}

// Options builds engine options; log may be nil.
func (c *Config) Options(log *zap.Logger) backtest.Options {
	align, _ := market.ParseAlignment(c.Data.Alignment)
	return backtest.Options{
		InitialCapital: c.Account.Balance,
		Commission:     c.Commission,
		Risk:           c.Risk,
		Alignment:      align,
		CloseEnd:       c.Run.CloseAtEnd,
		CloseReason:    c.Run.CloseReason,
		Seed:           c.Run.Seed,
		Logger:         log,
	}
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Balance: 10000,
		},
		Data: DataConfig{
			Source:     "csv",
			Dir:        "./data",
			Instrument: "BTC-PERP",
			Interval:   "1h",
			Alignment:  "next",
		},
		Commission: sim.DefaultCommission(),
		Risk:       risk.DefaultPolicy(),
		Strategy: strategies.Config{
			Name:     "sma-cross",
			Short:    10,
			Long:     30,
			SizePct:  0.1,
			Leverage: 1,
		},
		Run: RunConfig{
			Seed:       1,
			CloseAtEnd: true,
		},
	}
}

// Range reports the configured window for display.
func (d DataConfig) Range() string {
	from, to := d.From, d.To
	if from == "" {
		from = "start"
	}
	if to == "" {
		to = "end"
	}
	return from + " .. " + to
}
