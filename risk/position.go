package risk

import "math"

// Inputs describes an entry to size. With StopPrice set the size risks
// RiskPct of equity between entry and stop; otherwise it commits
// RiskPct of equity as notional, scaled by Leverage.
type Inputs struct {
	Equity     float64
	RiskPct    float64 // 0.1
	EntryPrice float64
	StopPrice  float64 // optional
	Leverage   float64 // optional, defaults to 1
}

type Result struct {
	Quantity   float64
	Notional   float64
	RiskAmount float64
}

func Calculate(in Inputs) Result {
	if in.Equity <= 0 || in.EntryPrice <= 0 || in.RiskPct <= 0 {
		return Result{}
	}
	riskAmt := in.Equity * in.RiskPct

	var qty float64
	if in.StopPrice > 0 {
		dist := math.Abs(in.EntryPrice - in.StopPrice)
		if dist == 0 {
			return Result{}
		}
		qty = riskAmt / dist
	} else {
		lev := in.Leverage
		if lev <= 0 {
			lev = 1
		}
		qty = riskAmt * lev / in.EntryPrice
	}

	return Result{
		Quantity:   qty,
		Notional:   qty * in.EntryPrice,
		RiskAmount: riskAmt,
	}
}

// Leverage is notional over equity; infinite when equity is gone.
func Leverage(notional, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return math.Abs(notional) / equity
}
