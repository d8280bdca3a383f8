package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrorNoProviders        ErrorCode = "NO_PROVIDERS"
	ErrorUnknownProvider    ErrorCode = "UNKNOWN_PROVIDER"
	ErrorProviderInvocation ErrorCode = "PROVIDER_INVOCATION"
	ErrorNotRecorded        ErrorCode = "NOT_RECORDED"
	ErrorSessionStore       ErrorCode = "SESSION_STORE"
	ErrorCanceled           ErrorCode = "CANCELED"
	ErrorInternal           ErrorCode = "INTERNAL"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Recovered reports whether the caller still received an attributed
// response alongside this error.
func (e *Error) Recovered() bool {
	if e == nil {
		return false
	}
	return e.Code == ErrorProviderInvocation || e.Code == ErrorNotRecorded
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the usecase error code carried by err, or "" if none.
func CodeOf(err error) ErrorCode {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Code
	}
	return ""
}
