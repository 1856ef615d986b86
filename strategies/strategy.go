package strategies

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rustyeddy/perpbt/market"
	"github.com/rustyeddy/perpbt/risk"
	"github.com/rustyeddy/perpbt/sim"
)

// View is what a strategy sees on one bar: history up to and including
// the current bar, the latest funding sample, and the account.
type View struct {
	Index      int
	Instrument string
	Bar        market.Bar
	History    market.Window

	Funding    market.FundingSample
	HasFunding bool

	Position sim.Position
	Equity   float64
}

// Strategy turns one bar into at most one order intent. It returns nil
// when it has nothing to say, including while it is warming up.
type Strategy interface {
	Name() string
	Reset()
	Next(v View) *sim.OrderRequest
}

// Config selects and parameterises a registered strategy.
type Config struct {
	Name       string  `json:"name" yaml:"name"`
	Short      int     `json:"short" yaml:"short"`
	Long       int     `json:"long" yaml:"long"`
	Threshold  float64 `json:"threshold" yaml:"threshold"`
	SizePct    float64 `json:"size_pct" yaml:"size_pct"`
	Leverage   float64 `json:"leverage" yaml:"leverage"`
	AllowShort bool    `json:"allow_short" yaml:"allow_short"`
}

type Factory func(Config) (Strategy, error)

var registry = map[string]Factory{}

func Register(name string, f Factory) {
	registry[name] = f
}

// Names lists the registered strategies.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func ByName(cfg Config) (Strategy, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", cfg.Name, strings.Join(Names(), ", "))
	}
	return f(cfg)
}

// entrySize is the quantity SizePct of equity buys at the current close.
func entrySize(v View, pct, lev float64) float64 {
	return risk.Calculate(risk.Inputs{
		Equity:     v.Equity,
		RiskPct:    pct,
		EntryPrice: v.Bar.Close,
		Leverage:   lev,
	}).Quantity
}

// target moves the position to dir (+1 long, -1 short) with a fresh entry
// of size, reversing through zero when needed. It returns nil when the
// position already points that way.
func target(v View, dir sim.Side, size float64, reason string) *sim.OrderRequest {
	q := v.Position.Quantity
	if q != 0 && v.Position.Side() == dir {
		return nil
	}
	if size <= 0 {
		return nil
	}
	o := sim.MarketOrder(v.Instrument, dir.Sign()*(abs(q)+size), reason)
	return &o
}

func exit(v View, reason string) *sim.OrderRequest {
	if v.Position.Flat() {
		return nil
	}
	o := sim.CloseOrder(v.Instrument, v.Position.Quantity, reason)
	return &o
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func init() {
	Register("noop", func(Config) (Strategy, error) { return Noop{}, nil })
	Register("sma-cross", func(c Config) (Strategy, error) { return NewSMACross(c) })
	Register("ema-cross", func(c Config) (Strategy, error) { return NewEMACross(c) })
	Register("funding-arb", func(c Config) (Strategy, error) { return NewFundingArb(c) })
}

// Noop never trades.
type Noop struct{}

func (Noop) Name() string { return "noop" }
func (Noop) Reset()        {}

func (Noop) Next(View) *sim.OrderRequest { return nil }

// Func adapts a plain function into a Strategy.
type Func struct {
	Label string
	Fn    func(View) *sim.OrderRequest
}

func (f Func) Name() string { return f.Label }
func (f Func) Reset()       {}

func (f Func) Next(v View) *sim.OrderRequest {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(v)
}
