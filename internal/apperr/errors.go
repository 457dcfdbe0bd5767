// Package apperr holds the error taxonomy shared by the domain services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "not_found"},
	{ErrBadRequest, "bad_request"},
	{ErrForbidden, "forbidden"},
	{ErrUnauthorized, "unauthorized"},
	{ErrConflict, "conflict"},
}

// NotFound wraps ErrNotFound with a message.
func NotFound(format string, args ...any) error { return wrap(ErrNotFound, format, args...) }

// BadRequest wraps ErrBadRequest with a message.
func BadRequest(format string, args ...any) error { return wrap(ErrBadRequest, format, args...) }

// Forbidden wraps ErrForbidden with a message.
func Forbidden(format string, args ...any) error { return wrap(ErrForbidden, format, args...) }

// Unauthorized wraps ErrUnauthorized with a message.
func Unauthorized(format string, args ...any) error { return wrap(ErrUnauthorized, format, args...) }

// Conflict wraps ErrConflict with a message.
func Conflict(format string, args ...any) error { return wrap(ErrConflict, format, args...) }

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns the machine-readable category of err, or "internal" when err
// does not belong to the taxonomy.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// Message returns the human-readable part of err without the category prefix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			if rest, ok := strings.CutPrefix(msg, k.err.Error()+": "); ok {
				return rest
			}
			return msg
		}
	}
	return msg
}
