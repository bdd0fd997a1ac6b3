// Package apperr defines the error taxonomy shared by every service.
//
// Errors are classified by wrapping one of the kind sentinels below with
// %w, so callers and HTTP handlers can recover the kind with errors.Is
// no matter how many layers added context on the way up.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks bad caller input (non-positive amount, missing field).
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing order, wallet, user, or request.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a violated state precondition: wrong order status,
	// a second review of a terminal request, or a bookkeeping mismatch
	// (locked balance smaller than the amount being released).
	ErrConflict = errors.New("conflict")

	// ErrInsufficientFunds marks a failed available-balance check.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrExternal marks a payment-gateway or other collaborator failure.
	// It never implies any wallet state changed.
	ErrExternal = errors.New("external service error")

	// ErrForbidden marks a role or ownership check failure. The upstream
	// auth collaborator owns identity; this guards what a known identity
	// may do.
	ErrForbidden = errors.New("forbidden")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with a formatted message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// InsufficientFundsf wraps ErrInsufficientFunds with a formatted message.
func InsufficientFundsf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInsufficientFunds, fmt.Sprintf(format, args...))
}

// Externalf wraps a collaborator failure, keeping cause for errors.Is/As.
func Externalf(cause error, format string, args ...any) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrExternal, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%w: %s: %w", ErrExternal, fmt.Sprintf(format, args...), cause)
}

// Forbiddenf wraps ErrForbidden with a formatted message.
func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// HTTPStatus maps an error's kind to the HTTP status handlers respond
// with. Unclassified errors are internal server errors.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrExternal):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the wire error code for an error's kind.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrExternal):
		return "gateway_error"
	default:
		return "internal_error"
	}
}
