package market

import (
	"sort"
	"time"
)

// FundingSample is the funding rate published at Time, as a signed
// fraction of notional for one funding interval.
type FundingSample struct {
	Time time.Time
	Rate float64
}

// FundingAlignment decides which bar applies a sample that falls between
// bar timestamps.
type FundingAlignment int

const (
	// AlignNextBar applies a sample on the first bar with Time >= sample.Time.
	AlignNextBar FundingAlignment = iota
	// AlignNearestBar applies a sample on the closest bar; ties go to the
	// later bar.
	AlignNearestBar
)

func (a FundingAlignment) String() string {
	switch a {
	case AlignNearestBar:
		return "nearest"
	default:
		return "next"
	}
}

func ParseAlignment(s string) (FundingAlignment, bool) {
	switch s {
	case "", "next":
		return AlignNextBar, true
	case "nearest":
		return AlignNearestBar, true
	}
	return AlignNextBar, false
}

// FundingSchedule maps bar index to the samples applied on that bar, in
// time order. Samples before the first bar or after the last bar are
// dropped.
func (s *Series) FundingSchedule(align FundingAlignment) map[int][]FundingSample {
	out := make(map[int][]FundingSample)
	if len(s.bars) == 0 {
		return out
	}
	first, last := s.First(), s.Last()

	for _, f := range s.funding {
		if f.Time.Before(first) || f.Time.After(last) {
			continue
		}
		// first bar at or after the sample
		i := sort.Search(len(s.bars), func(i int) bool { return !s.bars[i].Time.Before(f.Time) })
		if align == AlignNearestBar && i > 0 && !s.bars[i].Time.Equal(f.Time) {
			before := f.Time.Sub(s.bars[i-1].Time)
			after := s.bars[i].Time.Sub(f.Time)
			if before < after {
				i--
			}
		}
		out[i] = append(out[i], f)
	}
	return out
}
