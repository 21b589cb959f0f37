package service

import (
	"errors"
	"fmt"
)

// Kind is the stable machine-readable class of a service error
type Kind string

const (
	KindValidation         Kind = "VALIDATION_ERROR"
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindInvalidSignupToken Kind = "INVALID_SIGNUP_TOKEN"
	KindForbidden          Kind = "FORBIDDEN"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindUpstream           Kind = "UPSTREAM_UNAVAILABLE"
	KindInternal           Kind = "INTERNAL_ERROR"
)

// Error is returned for every failure a caller can act on. Anything else
// is an internal error.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, KindInternal for unclassified errors
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func validationError(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

func fieldError(field, rule string) *Error {
	return validationError("invalid request", map[string]string{field: rule})
}

func notFound(what string) *Error {
	return newError(KindNotFound, "%s not found", what)
}

func forbidden(format string, args ...interface{}) *Error {
	return newError(KindForbidden, format, args...)
}

func conflict(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

func upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Err: err}
}

var (
	errInvalidCredentials = newError(KindInvalidCredentials, "invalid email or password")
	errInvalidSignupToken = newError(KindInvalidSignupToken, "signup token is invalid, expired or already used")
	errUnauthorized       = newError(KindUnauthorized, "invalid or expired session")
)
