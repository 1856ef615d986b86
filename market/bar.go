package market

import (
	"fmt"
	"math"
	"time"
)

// Bar is one OHLCV interval.
type Bar struct {
	Time   time.Time // bar open, UTC
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64

	// Gap marks a bar that follows one or more missing intervals.
	Gap bool
}

// Validate checks High >= max(Open,Close) >= min(Open,Close) >= Low >= 0
// and that every field is finite.
func (b Bar) Validate() error {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bar %s: non-finite value", b.Time.Format(time.RFC3339))
		}
	}
	hiBody := math.Max(b.Open, b.Close)
	loBody := math.Min(b.Open, b.Close)
	switch {
	case b.High < hiBody:
		return fmt.Errorf("bar %s: high %g below body %g", b.Time.Format(time.RFC3339), b.High, hiBody)
	case b.Low > loBody:
		return fmt.Errorf("bar %s: low %g above body %g", b.Time.Format(time.RFC3339), b.Low, loBody)
	case b.Low < 0:
		return fmt.Errorf("bar %s: negative low %g", b.Time.Format(time.RFC3339), b.Low)
	case b.Volume < 0:
		return fmt.Errorf("bar %s: negative volume %g", b.Time.Format(time.RFC3339), b.Volume)
	}
	return nil
}

// Contains reports whether price traded inside the bar's range.
func (b Bar) Contains(price float64) bool {
	return price >= b.Low && price <= b.High
}
