package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/perpbt/sim"
)

// RateDistribution describes a set of funding rates. StdDev is the
// sample deviation; Kurtosis is excess kurtosis. Percentiles are nearest
// rank.
type RateDistribution struct {
	Mean     float64
	Median   float64
	StdDev   float64
	Min      float64
	Max      float64
	Skewness float64
	Kurtosis float64
	P10      float64
	P25      float64
	P75      float64
	P90      float64
}

// Distribution summarizes rates. An empty input gives the zero value.
func Distribution(rates []float64) RateDistribution {
	n := len(rates)
	if n == 0 {
		return RateDistribution{}
	}

	sorted := make([]float64, n)
	copy(sorted, rates)
	sort.Float64s(sorted)

	d := RateDistribution{
		Mean:   Mean(rates),
		StdDev: StdDev(rates),
		Min:    sorted[0],
		Max:    sorted[n-1],
		P10:    rank(sorted, 0.10),
		P25:    rank(sorted, 0.25),
		P75:    rank(sorted, 0.75),
		P90:    rank(sorted, 0.90),
	}
	if n%2 == 0 {
		d.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		d.Median = sorted[n/2]
	}

	if d.StdDev > 0 {
		var m3, m4 float64
		for _, r := range rates {
			x := r - d.Mean
			m3 += x * x * x
			m4 += x * x * x * x
		}
		m3 /= float64(n)
		m4 /= float64(n)
		d.Skewness = m3 / math.Pow(d.StdDev, 3)
		d.Kurtosis = m4/math.Pow(d.StdDev, 4) - 3
	}
	return d
}

func rank(sorted []float64, p float64) float64 {
	i := int(math.Round(float64(len(sorted)) * p))
	return sorted[min(i, len(sorted)-1)]
}

// DirectionStats counts which side paid funding. Percentages are
// fractions of all samples.
type DirectionStats struct {
	Positive        int
	Negative        int
	Zero            int
	PositivePct     float64
	NegativePct     float64
	AvgPositive     float64
	AvgNegative     float64
	LongestPositive int
	LongestNegative int
}

func Direction(rates []float64) DirectionStats {
	var d DirectionStats
	var pos, neg float64
	for _, r := range rates {
		switch {
		case r > 0:
			d.Positive++
			pos += r
		case r < 0:
			d.Negative++
			neg += r
		default:
			d.Zero++
		}
	}
	if n := len(rates); n > 0 {
		d.PositivePct = float64(d.Positive) / float64(n)
		d.NegativePct = float64(d.Negative) / float64(n)
	}
	if d.Positive > 0 {
		d.AvgPositive = pos / float64(d.Positive)
	}
	if d.Negative > 0 {
		d.AvgNegative = neg / float64(d.Negative)
	}
	d.LongestPositive, d.LongestNegative = longestStreaks(rates)
	return d
}

// PeriodMetric is the funding settled in one calendar period.
type PeriodMetric struct {
	Start      time.Time
	Payments   int
	AvgRate    float64
	PnL        float64
	Volatility float64 // sample deviation of the rates
	Sharpe     float64 // mean payment over its deviation, 0 without dispersion
}

// PeriodMetrics groups payments by UTC day, ISO week (starting Monday)
// and calendar month, oldest period first.
type PeriodMetrics struct {
	Daily   []PeriodMetric
	Weekly  []PeriodMetric
	Monthly []PeriodMetric
}

func FundingByPeriod(payments []sim.FundingPayment) PeriodMetrics {
	return PeriodMetrics{
		Daily:   byPeriod(payments, utcDay),
		Weekly:  byPeriod(payments, utcWeek),
		Monthly: byPeriod(payments, utcMonth),
	}
}

func byPeriod(payments []sim.FundingPayment, start func(time.Time) time.Time) []PeriodMetric {
	var out []PeriodMetric
	var rates, amounts []float64

	flush := func() {
		if len(rates) == 0 {
			return
		}
		m := &out[len(out)-1]
		m.Payments = len(rates)
		m.AvgRate = Mean(rates)
		m.Volatility = StdDev(rates)
		if sd := StdDev(amounts); sd > 0 {
			m.Sharpe = Mean(amounts) / sd
		}
		rates, amounts = rates[:0], amounts[:0]
	}

	for _, p := range payments {
		s := start(p.Time)
		if len(out) == 0 || !out[len(out)-1].Start.Equal(s) {
			flush()
			out = append(out, PeriodMetric{Start: s})
		}
		out[len(out)-1].PnL += p.Amount
		rates = append(rates, p.Rate)
		amounts = append(amounts, p.Amount)
	}
	flush()
	return out
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func utcWeek(t time.Time) time.Time {
	d := utcDay(t)
	back := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -back)
}

func utcMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
