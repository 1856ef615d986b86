package sim

import (
	"fmt"

	"github.com/rustyeddy/perpbt/market"
)

// Fill is the execution of an order against a bar.
type Fill struct {
	Price     float64
	Liquidity Liquidity
}

// Match executes o against bar b. Market orders and marketable limits take
// liquidity at the close. A limit resting away from the close adds
// liquidity at its own price when the bar traded through it. Orders that
// do not fill expire with the bar; the returned string says why.
func Match(o OrderRequest, b market.Bar) (Fill, bool, string) {
	if o.Kind == Market {
		return Fill{Price: b.Close, Liquidity: Taker}, true, ""
	}

	marketable := (o.Side == Buy && o.Price >= b.Close) || (o.Side == Sell && o.Price <= b.Close)
	if marketable {
		if o.TIF == ALO {
			return Fill{}, false, fmt.Sprintf("ALO %s limit %g would cross close %g", o.Side, o.Price, b.Close)
		}
		return Fill{Price: b.Close, Liquidity: Taker}, true, ""
	}

	if o.TIF == IOC {
		return Fill{}, false, fmt.Sprintf("IOC %s limit %g not marketable at close %g", o.Side, o.Price, b.Close)
	}
	if !b.Contains(o.Price) {
		return Fill{}, false, fmt.Sprintf("%s limit %g outside bar range [%g, %g]", o.Side, o.Price, b.Low, b.High)
	}
	return Fill{Price: o.Price, Liquidity: Maker}, true, ""
}
