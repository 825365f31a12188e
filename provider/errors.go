package provider

import (
	"errors"
	"strings"
)

// Code classifies a provider failure.
type Code string

const (
	CodeCancelled           Code = "cancelled"
	CodeNetworkError        Code = "network_error"
	CodeConfigurationError  Code = "configuration_error"
	CodeUnsupportedProvider Code = "unsupported_provider"
	CodeInvalidState        Code = "invalid_state"
	CodeInvalidNonce        Code = "invalid_nonce"
	CodeTokenError          Code = "token_error"
	CodeNoIDToken           Code = "no_id_token"
	CodeParseError          Code = "parse_error"
	CodeRefreshFailed       Code = "refresh_failed"
	CodeUnknown             Code = "unknown"
)

// Error is a delegate failure. Message is opaque to the session core.
type Error struct {
	Code       Code
	Message    string
	Underlying string // raw platform message, if any
}

// NewError builds an Error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// Is matches another *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// CodeOf extracts the Code of err, or CodeUnknown.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnknown
}

// MapError classifies a raw adapter failure by its message.
func MapError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	raw := err.Error()
	msg := strings.ToLower(raw)
	code := CodeUnknown
	switch {
	case strings.Contains(msg, "cancel"), strings.Contains(msg, "popup_closed"):
		code = CodeCancelled
	case strings.Contains(msg, "network"):
		code = CodeNetworkError
	case strings.Contains(msg, "client id"), strings.Contains(msg, "config"):
		code = CodeConfigurationError
	}
	return &Error{Code: code, Message: string(code), Underlying: raw}
}
