package risk

import "math"

// StopPrice is the price at which a position entered at entry on side
// (+1 long, -1 short) has lost pct of its entry notional.
func StopPrice(side int, entry, pct float64) float64 {
	return entry * (1 - float64(side)*pct)
}

// TargetPrice is the mirror of StopPrice for take-profit.
func TargetPrice(side int, entry, pct float64) float64 {
	return entry * (1 + float64(side)*pct)
}

func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	reward := math.Abs(takeProfit - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

// DailyLossPct is the loss since the start of the day as a fraction of
// day-start equity; gains report zero.
func DailyLossPct(dayStart, equity float64) float64 {
	if dayStart <= 0 {
		return 0
	}
	return math.Max((dayStart-equity)/dayStart, 0)
}
