// Package errs defines the error taxonomy shared by the pollers.
//
// Configuration and auth failures abort a run before any state mutation;
// everything else is logged and skipped so one bad message or one unwritable
// sink never blocks the rest of the batch.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind uint8

// Error kinds, in rough order of severity.
const (
	KindUnknown Kind = iota

	// KindConfiguration is for a rule source that is present but unreadable
	// or unparsable.
	KindConfiguration

	// KindAuth is for credential or token failures.
	KindAuth

	// KindTransient is for rate limiting and timeouts, retried a bounded
	// number of times inside fetch.
	KindTransient

	// KindMessageShape is for a single message missing expected fields.
	KindMessageShape

	// KindStoreWrite is for an unwritable append target.
	KindStoreWrite
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and a message.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's kind.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the kind of the first *Error in err's chain,
// or KindUnknown if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// IsKind reports whether err's chain contains an *Error of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// Fatal reports whether err must abort the run without state mutation.
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindAuth:
		return true
	default:
		return false
	}
}
