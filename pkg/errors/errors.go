// Package errors defines the closed error taxonomy used across octant.
//
// Every failure surfaced to a client is one of the kinds below; the API
// layer translates them to HTTP statuses in exactly one place.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds
const (
	// KindValidation is returned when input is rejected.
	KindValidation = "validation"

	// KindAuthentication is returned for a missing, invalid or expired credential.
	KindAuthentication = "authentication"

	// KindAuthorization is returned when scope or role is insufficient.
	KindAuthorization = "authorization"

	// KindNotFound is returned when a resource is absent or hidden by authorization.
	KindNotFound = "not_found"

	// KindConflict is returned when a uniqueness precondition is violated.
	KindConflict = "conflict"

	// KindInvalidState is returned when a state-machine transition is rejected.
	KindInvalidState = "invalid_state"

	// KindRateLimited is returned when a fixed-window rate limit rejects the request.
	KindRateLimited = "rate_limited"

	// KindUnavailable is returned when the processing queue cannot accept work.
	KindUnavailable = "unavailable"

	// KindTransient is returned on storage or database I/O failure; clients may retry.
	KindTransient = "transient"

	// KindPermanent is returned when a processing handler fails terminally.
	KindPermanent = "permanent"
)

// Error represents a classified error in the application.
type Error struct {
	// Kind is one of the Kind* constants.
	Kind string

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new classified error.
func New(kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewValidation creates a new validation error.
func NewValidation(message string) *Error {
	return New(KindValidation, message, nil)
}

// NewValidationf creates a new validation error with a formatted message.
func NewValidationf(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...), nil)
}

// NewAuthentication creates a new authentication error.
func NewAuthentication(message string) *Error {
	return New(KindAuthentication, message, nil)
}

// NewAuthorization creates a new authorization error.
func NewAuthorization(message string) *Error {
	return New(KindAuthorization, message, nil)
}

// NewNotFound creates a new not-found error.
func NewNotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

// NewConflict creates a new conflict error.
func NewConflict(message string) *Error {
	return New(KindConflict, message, nil)
}

// NewInvalidState creates a new invalid-state error.
func NewInvalidState(message string) *Error {
	return New(KindInvalidState, message, nil)
}

// NewUnavailable creates a new unavailable error.
func NewUnavailable(message string) *Error {
	return New(KindUnavailable, message, nil)
}

// NewTransient creates a new transient failure wrapping an I/O error.
func NewTransient(message string, cause error) *Error {
	return New(KindTransient, message, cause)
}

// NewPermanent creates a new permanent processing failure.
func NewPermanent(message string, cause error) *Error {
	return New(KindPermanent, message, cause)
}

func is(err error, kind string) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsAuthentication checks if the error is an authentication error.
func IsAuthentication(err error) bool { return is(err, KindAuthentication) }

// IsAuthorization checks if the error is an authorization error.
func IsAuthorization(err error) bool { return is(err, KindAuthorization) }

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsInvalidState checks if the error is an invalid-state error.
func IsInvalidState(err error) bool { return is(err, KindInvalidState) }

// IsTransient checks if the error is a transient failure.
func IsTransient(err error) bool { return is(err, KindTransient) }

// AsNotFound transforms authorization errors into not-found errors.
// Existence-sensitive reads use this so a caller without access cannot
// distinguish a hidden resource from a missing one.
func AsNotFound(err error) error {
	if IsAuthorization(err) {
		return NewNotFound("resource not found")
	}
	return err
}

// Message returns the client-safe message for an error. Unclassified errors
// collapse to a generic message so internals never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// HTTPStatus maps an error to the HTTP status code the API layer responds with.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}

	switch e.Kind {
	case KindValidation, KindInvalidState:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
