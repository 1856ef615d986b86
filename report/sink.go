package report

import (
	"errors"

	"github.com/rustyeddy/perpbt/backtest"
)

// Sink consumes a finished (or truncated) run.
type Sink interface {
	Write(res *backtest.Result) error
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(res *backtest.Result) error {
	var all []error
	for _, s := range m {
		if err := s.Write(res); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}
