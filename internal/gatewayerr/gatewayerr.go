// Package gatewayerr implements the error taxonomy of §7: a small set of
// error classes, each carrying the HTTP status it surfaces as and whether
// the dispatcher should retry the next candidate or propagate immediately.
package gatewayerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Class is one of the error classes from spec.md §7.
type Class string

const (
	ClassInvalidRequest    Class = "invalid_request"
	ClassUnknownModel      Class = "unknown_model"
	ClassConfigError       Class = "config_error"
	ClassNoEligible        Class = "no_eligible_provider"
	ClassUpstreamTransient Class = "upstream_transient"
	ClassUpstreamRateLimited Class = "upstream_rate_limited"
	ClassUpstreamAuth      Class = "upstream_auth"
	ClassUpstreamInvalid   Class = "upstream_invalid"
	ClassCancelled         Class = "cancelled"
	ClassInternal          Class = "internal_error"
)

// Retryable reports whether the dispatcher should try the next candidate
// after receiving an error of this class.
func (c Class) Retryable() bool {
	switch c {
	case ClassUpstreamTransient, ClassUpstreamRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus is the status code surfaced to the client for this class.
func (c Class) HTTPStatus() int {
	switch c {
	case ClassInvalidRequest:
		return http.StatusBadRequest
	case ClassUnknownModel:
		return http.StatusNotFound
	case ClassConfigError:
		return http.StatusInternalServerError
	case ClassNoEligible:
		return http.StatusServiceUnavailable
	case ClassUpstreamTransient:
		return http.StatusBadGateway
	case ClassUpstreamRateLimited:
		return http.StatusTooManyRequests
	case ClassUpstreamAuth:
		return http.StatusBadGateway
	case ClassUpstreamInvalid:
		return http.StatusBadRequest
	case ClassCancelled:
		return 499 // client closed request, nginx convention
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified gateway error. It wraps the underlying cause so
// errors.Is/As continue to work against it.
type Error struct {
	Class      Class
	Message    string
	RetryAfter string // upstream Retry-After header, when present
	Cause      error
}

func New(class Class, message string) *Error {
	return &Error{Class: class, Message: message}
}

func Wrap(class Class, message string, cause error) *Error {
	return &Error{Class: class, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// As reports whether err is (or wraps) a *Error, returning it when so.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// ClassOf returns the class of err if it is a *Error, else ClassInternal.
func ClassOf(err error) Class {
	if ge, ok := As(err); ok {
		return ge.Class
	}
	return ClassInternal
}
