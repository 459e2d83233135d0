// Package apperror carries the Kind -> HTTP status table of spec.md §7
// through the call stack, from internal/ociclient and internal/pyproxy up
// to the gin error-handling middleware that renders it.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error the way spec.md §7 does; the HTTP status it
// maps to is a pure function of the Kind, never chosen ad hoc at the call
// site.
type Kind int

const (
	Internal Kind = iota
	BadRequest
	Unauthorized
	Forbidden
	NotFound
	Conflict
	PayloadTooLarge
	BadGateway
)

// Status returns the HTTP status spec.md §7 assigns to k.
func (k Kind) Status() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case BadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case PayloadTooLarge:
		return "payload_too_large"
	case BadGateway:
		return "bad_gateway"
	default:
		return "internal"
	}
}

// Error pairs a Kind with a plain-text, client-safe message. spec.md §7:
// "The body never contains credentials or bearer tokens" — callers must
// never wrap an error that itself carries one.
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

// New builds an *Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and a client-facing msg to err, keeping err only as
// the unexported, loggable cause — never rendered to the client.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal when neither
// err nor anything in its chain is an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}
