// Package errors defines the typed failures returned across the connection
// boundary. Every error carries a Code so callers can branch without string
// matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeConfigInvalid: the connection config failed validation. No network
	// I/O was attempted.
	CodeConfigInvalid Code = "CONFIG_INVALID"
	// CodeTransport: TCP, handshake or channel I/O failure.
	CodeTransport Code = "TRANSPORT_ERROR"
	// CodeAuthFailed: the server rejected the credentials.
	CodeAuthFailed Code = "AUTH_FAILED"
	// CodeAlreadyConnected: a Connected session already exists for the id.
	CodeAlreadyConnected Code = "ALREADY_CONNECTED"
	// CodeNotFound: no session or profile is registered under the id.
	CodeNotFound Code = "NOT_FOUND"
	// CodeChannelUnavailable: the session has no live shell channel.
	CodeChannelUnavailable Code = "CHANNEL_UNAVAILABLE"
	// CodeMissingCredential: the auth method has nothing to authenticate with.
	CodeMissingCredential Code = "MISSING_CREDENTIAL"
)

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrConfigInvalid      = &Error{Code: CodeConfigInvalid}
	ErrTransport          = &Error{Code: CodeTransport}
	ErrAuthFailed         = &Error{Code: CodeAuthFailed}
	ErrAlreadyConnected   = &Error{Code: CodeAlreadyConnected}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrChannelUnavailable = &Error{Code: CodeChannelUnavailable}
	ErrMissingCredential  = &Error{Code: CodeMissingCredential}
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New creates an Error.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err.
func Wrap(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg = e.Message
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// IsCode checks whether err is, or wraps, an *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is is errors.Is, re-exported so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As is errors.As, re-exported so callers need a single import.
func As(err error, target any) bool { return stderrors.As(err, target) }
