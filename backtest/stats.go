package backtest

import (
	"math"

	"github.com/rustyeddy/perpbt/errs"
)

// Returns are simple per-bar returns of an equity series, the first one
// measured against initial.
func Returns(initial float64, equity []float64) ([]float64, error) {
	out := make([]float64, 0, len(equity))
	prev := initial
	for i, e := range equity {
		if prev == 0 {
			return nil, errs.E(errs.KindNumericFault, "backtest.Returns", "zero equity before bar %d", i)
		}
		out = append(out, e/prev-1)
		prev = e
	}
	return out, nil
}

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev is the sample standard deviation (n-1).
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Sharpe annualizes mean/stddev of per-bar returns by sqrt(barsPerYear).
// It is zero when the returns have no dispersion.
func Sharpe(returns []float64, barsPerYear float64) float64 {
	sd := StdDev(returns)
	if sd == 0 {
		return 0
	}
	return Mean(returns) / sd * math.Sqrt(barsPerYear)
}

// MaxDrawdown is the largest peak-to-trough decline as a fraction of the
// peak. Initial capital is the first peak.
func MaxDrawdown(initial float64, equity []float64) float64 {
	peak := initial
	maxDD := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
			continue
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - e) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// longestStreaks counts the longest runs of strictly positive and
// strictly negative values.
func longestStreaks(xs []float64) (pos, neg int) {
	var curPos, curNeg int
	for _, x := range xs {
		switch {
		case x > 0:
			curPos++
			curNeg = 0
		case x < 0:
			curNeg++
			curPos = 0
		default:
			curPos, curNeg = 0, 0
		}
		pos = max(pos, curPos)
		neg = max(neg, curNeg)
	}
	return pos, neg
}
