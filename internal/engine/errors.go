package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures for callers that map them to transport
// status codes.
type Kind int

const (
	// KindInvalid is an input validation failure. Nothing was written.
	KindInvalid Kind = iota + 1
	// KindUnauthorized means the caller may not touch the referenced rows.
	KindUnauthorized
	// KindNotFound means a referenced artifact, scenario or session is missing.
	KindNotFound
	// KindUnavailable is a dependency failure; the call may be retried.
	KindUnavailable
	// KindConflict means a concurrent writer won a race that retries could not resolve.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a classified engine error.
type Error struct {
	Err  error
	Code string
	Kind Kind
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func invalid(code, format string, args ...interface{}) *Error {
	return newError(KindInvalid, code, fmt.Errorf(format, args...))
}

func unavailable(code string, err error) *Error {
	return newError(KindUnavailable, code, err)
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// CodeOf returns the machine-readable code of err, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
