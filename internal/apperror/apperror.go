// Package apperror defines the error kinds the rest of sensbee returns,
// carrying enough information for an HTTP handler to render a status code
// and a safe public message without leaking internals (SQL fragments, stack
// traces) to the caller.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error for status-code mapping and logging level.
type Kind int

const (
	// KindInternal covers anything unexpected; maps to 500.
	KindInternal Kind = iota
	// KindUnauthorized covers failed authentication/authorization; maps to 401.
	KindUnauthorized
	// KindNotFound covers missing entities; maps to 404.
	KindNotFound
	// KindValidation covers malformed caller input; maps to 400.
	KindValidation
	// KindDatabase covers a failed database operation; maps to 500.
	KindDatabase
)

// Error is the typed error returned by every sensbee component. Wrap lower
// level errors with Wrap to retain the original for logging while
// keeping msg as the only thing that reaches the client.
type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.err }

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// New builds an Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error that carries an underlying cause for logging. The
// cause is never included in Msg, which is what callers see.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, err: cause}
}

// Unauthorized is a convenience constructor for the most common ingest/API
// failure: a missing or insufficient permission.
func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }

// NotFound is a convenience constructor for a missing entity.
func NotFound(msg string) *Error { return New(KindNotFound, msg) }

// Validation is a convenience constructor for malformed caller input.
func Validation(msg string) *Error { return New(KindValidation, msg) }

// Internal wraps an unexpected error as a 500 without exposing cause.
func Internal(msg string, cause error) *Error { return Wrap(KindInternal, msg, cause) }

// Database wraps a failed database operation as a 500.
func Database(msg string, cause error) *Error { return Wrap(KindDatabase, msg, cause) }

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
