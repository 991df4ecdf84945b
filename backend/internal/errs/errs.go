// Package errs defines the typed failures the trading engine reports to callers.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code identifies a failure category.
type Code string

const (
	CodeValidation           Code = "validation_error"
	CodePriceUnavailable     Code = "price_unavailable"
	CodeInsufficientFunds    Code = "insufficient_funds"
	CodeInsufficientHoldings Code = "insufficient_holdings"
	CodeOrderNotFound        Code = "order_not_found"
	CodeNotOwner             Code = "not_owner"
	CodeInvalidState         Code = "invalid_state"
	CodeStoreUnavailable     Code = "store_unavailable"
	CodeUnauthorized         Code = "unauthorized"
	CodeForbidden            Code = "forbidden"
	CodeRateLimited          Code = "rate_limited"
	CodeConflict             Code = "conflict"
	CodeInternal             Code = "internal"
)

// Sentinels for errors.Is. Matching is by code, so any *E with the same code matches.
var (
	ErrValidation           = &E{Code: CodeValidation}
	ErrPriceUnavailable     = &E{Code: CodePriceUnavailable}
	ErrInsufficientFunds    = &E{Code: CodeInsufficientFunds}
	ErrInsufficientHoldings = &E{Code: CodeInsufficientHoldings}
	ErrOrderNotFound        = &E{Code: CodeOrderNotFound}
	ErrNotOwner             = &E{Code: CodeNotOwner}
	ErrInvalidState         = &E{Code: CodeInvalidState}
	ErrStoreUnavailable     = &E{Code: CodeStoreUnavailable}
)

// E is the error envelope carried from the engine to the HTTP layer.
type E struct {
	Code    Code
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// New constructs an error with a human-readable message.
func New(code Code, message string, opts ...Option) *E {
	e := &E{Code: code, Message: strings.TrimSpace(message)}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *E {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to a lower-level error.
func Wrap(code Code, err error, message string) *E {
	return New(code, message, WithCause(err))
}

func (e *E) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches any envelope carrying the same code.
func (e *E) Is(target error) bool {
	var other *E
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return e.Code == other.Code
}

// CodeOf returns the code of the first envelope in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns a message safe to show users. Causes are never included.
func MessageOf(err error) string {
	var e *E
	if errors.As(err, &e) && e != nil && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a code to the status the API responds with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodePriceUnavailable, CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case CodeInsufficientFunds, CodeInsufficientHoldings:
		return http.StatusUnprocessableEntity
	case CodeOrderNotFound:
		return http.StatusNotFound
	case CodeNotOwner, CodeForbidden:
		return http.StatusForbidden
	case CodeInvalidState, CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
