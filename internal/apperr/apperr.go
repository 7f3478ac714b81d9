// Package apperr defines the error taxonomy shared by every layer of the
// engine, per the error-handling design: numeric primitives never fail,
// fallibility is pushed to load/quantize/session-open and the decode
// orchestrator, and callers distinguish failure modes with errors.Is.
package apperr

import "errors"

// Kind classifies a failure into one of the six error kinds the decode
// controller and loaders can surface.
type Kind uint8

const (
	_ Kind = iota
	KindMalformedModel
	KindInvalidConfiguration
	KindResourceExhausted
	KindNumericFault
	KindCancelled
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindMalformedModel:
		return "malformed_model"
	case KindInvalidConfiguration:
		return "invalid_configuration"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindNumericFault:
		return "numeric_fault"
	case KindCancelled:
		return "cancelled"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Sentinel errors for errors.Is matching against a Kind without unwrapping
// the wrapping *Error by hand.
var (
	ErrMalformedModel       = errors.New("malformed model")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrResourceExhausted    = errors.New("resource exhausted")
	ErrNumericFault         = errors.New("numeric fault")
	ErrCancelled            = errors.New("cancelled")
	ErrInternal             = errors.New("internal invariant violated")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindMalformedModel:
		return ErrMalformedModel
	case KindInvalidConfiguration:
		return ErrInvalidConfiguration
	case KindResourceExhausted:
		return ErrResourceExhausted
	case KindNumericFault:
		return ErrNumericFault
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrInternal
	}
}

// Error wraps an operation name and underlying cause with its Kind, in the
// same Unwrap-to-sentinel shape the teacher's api package uses for request
// errors.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return sentinelFor(e.Kind)
}

// Cause returns the original error, if any, distinct from the sentinel
// returned by Unwrap.
func (e *Error) Cause() error {
	return e.Err
}

// New constructs a wrapped Error for op, with optional underlying cause.
func New(k Kind, op string, cause error) *Error {
	return &Error{Kind: k, Op: op, Err: cause}
}

// Is reports whether err (or anything it wraps) is of Kind k.
func Is(err error, k Kind) bool {
	return errors.Is(err, sentinelFor(k))
}
