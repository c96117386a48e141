// Package apperr defines the error kinds surfaced by the reservation,
// occupancy and waitlist services. Callers branch on Kind, never on text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable symbolic error category.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindInvalidInput    Kind = "invalid_input"
	KindInvalidRange    Kind = "invalid_range"
	KindInactive        Kind = "inactive"
	KindConflict        Kind = "conflict"
	KindInvalidState    Kind = "invalid_state"
	KindInvalidCode     Kind = "invalid_code"
	KindExpired         Kind = "expired"
	KindOutOfWindow     Kind = "out_of_window"
	KindDeliveryFailure Kind = "delivery_failure"
	KindStoreFailure    Kind = "store_failure"
)

// Error carries a Kind, a human-readable message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Store wraps a persistence error unless it already carries a kind.
func Store(err error, op string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindStoreFailure, Msg: op, Err: err}
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the human-readable part of err.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
