package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/perpbt/errs"
)

var (
	ErrUnsupportedInterval = errors.New("unsupported interval")
	ErrDataUnavailable     = errors.New("data unavailable")
)

// Request selects bars and funding for one instrument over the inclusive
// range [From, To].
type Request struct {
	Instrument string
	Interval   Interval
	From       time.Time
	To         time.Time

	// AllowGaps marks missing intervals on the following bar instead of
	// failing the load.
	AllowGaps bool
}

func (r Request) Validate() error {
	if r.Instrument == "" {
		return errs.E(errs.KindInputData, "market.Request", "instrument is required")
	}
	if !r.Interval.Valid() {
		return unsupported(string(r.Interval))
	}
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return errs.E(errs.KindInputData, "market.Request", "from %s must be before to %s",
			r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t falls inside the request range. Zero bounds
// are open.
func (r Request) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Provider produces a validated Series or fails outright; it never returns
// partial data.
type Provider interface {
	Load(ctx context.Context, req Request) (*Series, error)
}

func unsupported(s string) error {
	return errs.Wrap(errs.KindInputData, "market", fmt.Errorf("%w: %q", ErrUnsupportedInterval, s))
}

func unavailable(op, format string, args ...any) error {
	return errs.Wrap(errs.KindInputData, op, fmt.Errorf("%w: %s", ErrDataUnavailable, fmt.Sprintf(format, args...)))
}

// MarkGaps flags every bar that follows a missing interval and reports how
// many were flagged.
func MarkGaps(bars []Bar, iv Interval) int {
	step := iv.Duration()
	n := 0
	for i := 1; i < len(bars); i++ {
		if bars[i].Time.Sub(bars[i-1].Time) > step {
			bars[i].Gap = true
			n++
		}
	}
	return n
}
