// Package errs defines the error kinds a backtest can fail with.
//
// Risk rejections are not errors; they are reported as risk.Decision values.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInputData
	KindInvalidOrder
	KindNumericFault
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindInputData:
		return "INPUT_DATA"
	case KindInvalidOrder:
		return "INVALID_ORDER"
	case KindNumericFault:
		return "NUMERIC_FAULT"
	case KindConfiguration:
		return "CONFIGURATION"
	default:
		return "UNKNOWN"
	}
}

// Fatal reports whether an error of this kind stops a run.
func (k Kind) Fatal() bool {
	return k != KindInvalidOrder
}

type Error struct {
	Kind Kind
	Op   string // e.g. "market.NewSeries"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind alone: errors.Is(err, &Error{Kind: KindInputData}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func E(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Has(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
