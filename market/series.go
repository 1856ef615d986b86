package market

import (
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/perpbt/errs"
)

// Series is an immutable, time-ordered run of bars plus the funding
// samples published for the same instrument.
type Series struct {
	instrument string
	interval   Interval
	bars       []Bar
	funding    []FundingSample
}

// NewSeries validates and copies its inputs. Bars must be strictly
// increasing and spaced exactly one interval apart unless flagged Gap.
// Funding samples are sorted; duplicate timestamps are rejected.
func NewSeries(instrument string, iv Interval, bars []Bar, funding []FundingSample) (*Series, error) {
	const op = "market.NewSeries"

	if instrument == "" {
		return nil, errs.E(errs.KindInputData, op, "instrument is required")
	}
	if !iv.Valid() {
		return nil, unsupported(string(iv))
	}
	if len(bars) == 0 {
		return nil, unavailable(op, "no bars for %s %s", instrument, iv)
	}

	step := iv.Duration()
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return nil, errs.Wrap(errs.KindInputData, op, err)
		}
		if i == 0 {
			continue
		}
		dt := b.Time.Sub(bars[i-1].Time)
		switch {
		case dt <= 0:
			return nil, errs.E(errs.KindInputData, op, "bar %d at %s not after %s",
				i, b.Time.Format(time.RFC3339), bars[i-1].Time.Format(time.RFC3339))
		case dt%step != 0:
			return nil, errs.E(errs.KindInputData, op, "bar %d at %s is not aligned to %s",
				i, b.Time.Format(time.RFC3339), iv)
		case dt > step && !b.Gap:
			return nil, errs.E(errs.KindInputData, op, "unmarked gap of %s before bar %d at %s",
				dt-step, i, b.Time.Format(time.RFC3339))
		}
	}

	fs := make([]FundingSample, len(funding))
	copy(fs, funding)
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].Time.Before(fs[j].Time) })
	for i, f := range fs {
		if math.IsNaN(f.Rate) || math.IsInf(f.Rate, 0) {
			return nil, errs.E(errs.KindInputData, op, "funding rate at %s is not finite", f.Time.Format(time.RFC3339))
		}
		if i > 0 && f.Time.Equal(fs[i-1].Time) {
			return nil, errs.E(errs.KindInputData, op, "duplicate funding sample at %s", f.Time.Format(time.RFC3339))
		}
	}

	bs := make([]Bar, len(bars))
	copy(bs, bars)

	return &Series{instrument: instrument, interval: iv, bars: bs, funding: fs}, nil
}

func (s *Series) Instrument() string { return s.instrument }
func (s *Series) Interval() Interval { return s.interval }
func (s *Series) Len() int           { return len(s.bars) }
func (s *Series) Bar(i int) Bar      { return s.bars[i] }
func (s *Series) First() time.Time   { return s.bars[0].Time }
func (s *Series) Last() time.Time    { return s.bars[len(s.bars)-1].Time }
func (s *Series) FundingLen() int    { return len(s.funding) }

// Funding returns a copy of the funding samples.
func (s *Series) Funding() []FundingSample {
	out := make([]FundingSample, len(s.funding))
	copy(out, s.funding)
	return out
}

// Bars returns a copy of the bars.
func (s *Series) Bars() []Bar {
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Window is the history visible at bar i: bars [0, i].
func (s *Series) Window(i int) Window {
	return Window{bars: s.bars[:i+1]}
}

// FundingAt returns the latest sample with Time <= t.
func (s *Series) FundingAt(t time.Time) (FundingSample, bool) {
	i := sort.Search(len(s.funding), func(i int) bool { return s.funding[i].Time.After(t) })
	if i == 0 {
		return FundingSample{}, false
	}
	return s.funding[i-1], true
}

// Window is a read-only view of bar history with no look-ahead.
type Window struct {
	bars []Bar
}

func (w Window) Len() int     { return len(w.bars) }
func (w Window) At(i int) Bar { return w.bars[i] }
func (w Window) Last() Bar    { return w.bars[len(w.bars)-1] }

// Closes returns the last n closes, oldest first. Fewer are returned when
// the window is shorter than n.
func (w Window) Closes(n int) []float64 {
	if n > len(w.bars) {
		n = len(w.bars)
	}
	out := make([]float64, n)
	start := len(w.bars) - n
	for i := range out {
		out[i] = w.bars[start+i].Close
	}
	return out
}
