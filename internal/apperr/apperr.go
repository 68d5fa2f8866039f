// Package apperr описывает таксономию ошибок сервиса и их отображение на HTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind классифицирует ошибку для транспортного слоя.
type Kind int

const (
	Internal Kind = iota
	Config
	Unauthenticated
	Expired
	Invalid
	InvalidArgument
	NotFound
	Conflict
	Persistence
	PayloadTooLarge
	Forbidden
	RateLimited
)

var kindNames = map[Kind]string{
	Internal:        "internal",
	Config:          "config_error",
	Unauthenticated: "unauthenticated",
	Expired:         "expired",
	Invalid:         "invalid_token",
	InvalidArgument: "invalid_argument",
	NotFound:        "not_found",
	Conflict:        "conflict",
	Persistence:     "persistence_error",
	PayloadTooLarge: "payload_too_large",
	Forbidden:       "forbidden",
	RateLimited:     "rate_limited",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[Internal]
}

// Error is an application error with a kind and an optional cause.
type Error struct {
	err     error
	message string
	kind    Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Wrap creates an error of the given kind that wraps err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{kind: kind, message: message, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.message, e.err.Error())
	}
	return e.message
}

// Message returns the message without the wrapped cause.
func (e *Error) Message() string {
	return e.message
}

// Kind returns the error kind.
func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches sentinel errors by identity and by kind+message, so that a
// wrapped copy of a sentinel still satisfies errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e == t || (e.kind == t.kind && e.message == t.message)
}

// KindOf returns the kind of the first *Error in the chain, Internal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Internal
}

// MessageOf returns a client-safe message for err.
// Internal and persistence errors never leak their cause.
func MessageOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal server error"
	}
	switch e.kind {
	case Internal, Persistence, Config:
		return "internal server error"
	}
	return e.message
}

// HTTPStatus maps a kind to the HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthenticated, Expired, Invalid:
		return http.StatusUnauthorized
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case Forbidden:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the wire code reported to clients.
// Invalid tokens are reported as unauthenticated: clients treat both the same way.
func Code(kind Kind) string {
	if kind == Invalid {
		return Unauthenticated.String()
	}
	return kind.String()
}
