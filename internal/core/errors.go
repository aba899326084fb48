// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Errorf creates a new error with the same code and a formatted cause.
func Errorf(base *Error, format string, args ...any) *Error {
	return WrapError(base, fmt.Errorf(format, args...))
}

// Predefined errors
var (
	// Rate errors
	ErrRateMissing      = &Error{Code: "RATE_MISSING", Message: "exchange rate missing"}
	ErrRateInvalid      = &Error{Code: "RATE_INVALID", Message: "exchange rate invalid"}
	ErrRateInconsistent = &Error{Code: "RATE_INCONSISTENT", Message: "exchange rate pair inconsistent with conversion"}

	// Market errors
	ErrMarketNotFound = &Error{Code: "MARKET_NOT_FOUND", Message: "market not found"}
	ErrNoRoute        = &Error{Code: "NO_ROUTE", Message: "no valid route"}

	// Rotation errors
	ErrRotationNotFound = &Error{Code: "ROTATION_NOT_FOUND", Message: "rotation not found"}
	ErrStateCorrupt     = &Error{Code: "STATE_CORRUPT", Message: "rotation state corrupt"}
	ErrPlanNotFound     = &Error{Code: "PLAN_NOT_FOUND", Message: "flight plan not found"}

	// Journal errors
	ErrJournalFailed = &Error{Code: "JOURNAL_FAILED", Message: "journal write failed"}

	// Input errors
	ErrInvalidInput = &Error{Code: "INVALID_INPUT", Message: "invalid input"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
