package errors

import (
	"errors"
	"fmt"
)

// Error is the typed error carried across the registry core. It tags a cause
// with an ErrorCode kind and, where relevant, the offending field. Messages
// never embed raw caller payloads; context previews live in the reporter.
type Error struct {
	Code    ErrorCode
	Field   string
	Message string
	cause   error
}

// E creates a new Error with the given code and message.
func E(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Ef creates a new Error with a formatted message.
func Ef(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Field creates a new Error attributed to a specific payload field.
func FieldError(code ErrorCode, field, message string) *Error {
	return &Error{Code: code, Field: field, Message: message}
}

// Wrap tags an underlying error with a code. Returns nil when err is nil.
func Wrap(code ErrorCode, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.cause != nil:
		return fmt.Sprintf("%s: field %q: %s: %v", e.Code, e.Field, e.Message, e.cause)
	case e.Field != "":
		return fmt.Sprintf("%s: field %q: %s", e.Code, e.Field, e.Message)
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the ErrorCode from an error chain. Unclassified errors
// report ErrCodeInternalError.
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ErrCodeInternalError
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// Is allows errors.Is(err, &Error{Code: ...}) comparisons by code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}
