package strategies

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/perpbt/indicators"
	"github.com/rustyeddy/perpbt/sim"
)

// MACross trades a short/long moving average crossover. It goes long
// when the short average crosses above the long one and exits (or goes
// short with AllowShort) when it crosses back below. The state before
// the long window fills counts as "not above", so the first bar on which
// the short average is above the long one is an upward cross.
type MACross struct {
	short indicators.Indicator
	long  indicators.Indicator

	sizePct    float64
	leverage   float64
	allowShort bool

	started   bool
	prevAbove bool
	name      string
	label     string // "sma" or "ema", used in trade reasons
}

// NewSMACross crosses simple moving averages.
func NewSMACross(cfg Config) (*MACross, error) {
	if err := checkWindows("sma-cross", cfg); err != nil {
		return nil, err
	}
	return newMACross(cfg, "sma", indicators.NewMA(cfg.Short), indicators.NewMA(cfg.Long)), nil
}

// NewEMACross crosses exponential moving averages seeded with the simple
// mean of their first window.
func NewEMACross(cfg Config) (*MACross, error) {
	if err := checkWindows("ema-cross", cfg); err != nil {
		return nil, err
	}
	return newMACross(cfg, "ema", indicators.NewEMA(cfg.Short), indicators.NewEMA(cfg.Long)), nil
}

func checkWindows(name string, cfg Config) error {
	if cfg.Short <= 0 || cfg.Long <= 0 {
		return fmt.Errorf("%s: windows must be > 0 (short=%d long=%d)", name, cfg.Short, cfg.Long)
	}
	if cfg.Short >= cfg.Long {
		return fmt.Errorf("%s: short window %d must be below long window %d", name, cfg.Short, cfg.Long)
	}
	if cfg.SizePct <= 0 {
		return fmt.Errorf("%s: size_pct must be positive", name)
	}
	return nil
}

func newMACross(cfg Config, label string, short, long indicators.Indicator) *MACross {
	return &MACross{
		short:      short,
		long:       long,
		sizePct:    cfg.SizePct,
		leverage:   cfg.Leverage,
		allowShort: cfg.AllowShort,
		label:      label,
		name:       fmt.Sprintf("%s_CROSS(%d,%d)", strings.ToUpper(label), cfg.Short, cfg.Long),
	}
}

func (x *MACross) Name() string { return x.name }

func (x *MACross) Reset() {
	x.short.Reset()
	x.long.Reset()
	x.started = false
	x.prevAbove = false
}

func (x *MACross) Ready() bool {
	return x.short.Ready() && x.long.Ready()
}

// observe feeds one close to both averages. ok is false until both are
// warmed up.
func (x *MACross) observe(c float64) (above, ok bool) {
	x.short.Update(c)
	x.long.Update(c)
	if !x.Ready() {
		return false, false
	}
	return x.short.Value() > x.long.Value(), true
}

func (x *MACross) Next(v View) *sim.OrderRequest {
	if !x.started {
		x.started = true
		// joining mid-series: warm up on the bars before this one
		for _, c := range v.History.Closes(v.History.Len() - 1) {
			if above, ok := x.observe(c); ok {
				x.prevAbove = above
			}
		}
	}

	above, ok := x.observe(v.Bar.Close)
	if !ok {
		return nil
	}
	crossedUp := above && !x.prevAbove
	crossedDown := !above && x.prevAbove
	x.prevAbove = above

	size := entrySize(v, x.sizePct, x.leverage)
	switch {
	case crossedUp:
		return target(v, sim.Buy, size, x.label+" cross up")
	case crossedDown && x.allowShort:
		return target(v, sim.Sell, size, x.label+" cross down")
	case crossedDown:
		return exit(v, x.label+" cross down")
	}
	return nil
}
