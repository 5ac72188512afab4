package ai

import (
	"errors"
	"fmt"
)

// Code classifies a normalized error.
type Code string

const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeRateLimit      Code = "RATE_LIMIT_ERROR"
	CodeAuthentication Code = "AUTHENTICATION_ERROR"
	CodeNetwork        Code = "NETWORK_ERROR"
	CodeModel          Code = "MODEL_ERROR"
	CodeService        Code = "AI_SERVICE_ERROR"
)

// Error is the common error family returned by adapters and the service.
type Error struct {
	Code     Code
	Message  string
	Provider Provider
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a caller may reasonably retry the same request
// later. Authentication and validation failures are not retryable.
func (e *Error) Retryable() bool {
	return e.Code == CodeRateLimit || e.Code == CodeNetwork
}

// NewError builds an Error with the given code.
func NewError(code Code, provider Provider, err error, format string, args ...any) *Error {
	return &Error{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Provider: provider,
		Err:      err,
	}
}

// ValidationError reports malformed input to the service itself.
func ValidationError(format string, args ...any) *Error {
	return NewError(CodeValidation, "", nil, format, args...)
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code Code) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// Normalize converts any error into an *Error attributed to provider.
// Errors that are already normalized are returned unchanged.
func Normalize(provider Provider, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(CodeService, provider, err, "request failed")
}
