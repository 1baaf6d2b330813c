package core

import "fmt"

// Error is a structured error with a stable code and an optional cause.
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

// WrapErrorf is WrapError with a formatted cause.
func WrapErrorf(base *Error, format string, args ...any) *Error {
	return WrapError(base, fmt.Errorf(format, args...))
}

// Predefined errors
var (
	// Input validation
	ErrInsufficientData = &Error{Code: "INSUFFICIENT_DATA", Message: "not enough bars for warm-up"}
	ErrInvalidParams    = &Error{Code: "INVALID_PARAMS", Message: "strategy parameters out of range"}
	ErrBadInterval      = &Error{Code: "BAD_INTERVAL", Message: "unsupported bar interval"}
	ErrBadSeries        = &Error{Code: "BAD_SERIES", Message: "bar series violates ordering or price invariants"}

	// Storage
	ErrNoData        = &Error{Code: "NO_DATA", Message: "no bar data available"}
	ErrStorageFailed = &Error{Code: "STORAGE_FAILED", Message: "bar storage operation failed"}

	// Runs
	ErrRunNotFound = &Error{Code: "RUN_NOT_FOUND", Message: "backtest run not found"}
	ErrRunRejected = &Error{Code: "RUN_REJECTED", Message: "backtest run rejected"}

	// Config
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
