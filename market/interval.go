package market

import (
	"strings"
	"time"
)

type Interval string

const (
	M1  Interval = "1m"
	M5  Interval = "5m"
	M15 Interval = "15m"
	H1  Interval = "1h"
	H4  Interval = "4h"
	D1  Interval = "1d"
)

var intervals = map[Interval]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
}

// tradingYear is a 24/7 crypto year.
const tradingYear = 365 * 24 * time.Hour

func ParseInterval(s string) (Interval, error) {
	iv := Interval(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := intervals[iv]; !ok {
		return "", unsupported(s)
	}
	return iv, nil
}

func (iv Interval) Valid() bool {
	_, ok := intervals[iv]
	return ok
}

func (iv Interval) Duration() time.Duration {
	return intervals[iv]
}

// BarsPerYear is the Sharpe annualization base for this interval.
func (iv Interval) BarsPerYear() float64 {
	d := iv.Duration()
	if d == 0 {
		return 0
	}
	return float64(tradingYear) / float64(d)
}

func (iv Interval) String() string { return string(iv) }
