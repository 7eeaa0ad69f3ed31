// Package authzerr holds the stable, caller-facing error codes the
// authorization core returns (§7). Every recoverable per-request failure is
// a value of this type; nothing here panics.
package authzerr

import "fmt"

// Code is one of the stable error kinds from spec §7.
type Code string

const (
	MissingHMAC            Code = "missing_hmac"
	InvalidHMAC             Code = "invalid_hmac"
	MissingConnection       Code = "missing_connection"
	UnknownProviderConfig   Code = "unknown_provider_config"
	UnknownProviderTemplate Code = "unknown_provider_template"
	InvalidAuthMode         Code = "invalid_auth_mode"
	InvalidConnectionConfig Code = "invalid_connection_config"
	UnknownGrantType        Code = "unknown_grant_type"
	InvalidCallbackOAuth2   Code = "invalid_callback_oauth2"
	InvalidCallbackOAuth1   Code = "invalid_callback_oauth1"
	InvalidState            Code = "invalid_state"
	TokenExternalError      Code = "token_external_error"
	TokenParsingError       Code = "token_parsing_error"
	RefreshTokenExternalError Code = "refresh_token_external_error"
	RefreshTokenParsingError  Code = "refresh_token_parsing_error"
	ConnectionTestFailed    Code = "connection_test_failed"
	UpstreamTimeout         Code = "upstream_timeout"
	OAuth2CCError           Code = "oauth2_cc_error"
	UnknownError            Code = "unknown_error"
)

// httpStatus maps each code to the HTTP status a transport layer would use
// if it chose to surface one directly, rather than the 200-and-published-
// error pattern (§7) the broker prefers for UI-originated flows.
var httpStatus = map[Code]int{
	MissingHMAC:               401,
	InvalidHMAC:               401,
	MissingConnection:         404,
	UnknownProviderConfig:     404,
	UnknownProviderTemplate:   404,
	InvalidAuthMode:           400,
	InvalidConnectionConfig:   400,
	UnknownGrantType:          400,
	InvalidCallbackOAuth2:     400,
	InvalidCallbackOAuth1:     400,
	InvalidState:              400,
	TokenExternalError:        502,
	TokenParsingError:         502,
	RefreshTokenExternalError: 502,
	RefreshTokenParsingError:  502,
	ConnectionTestFailed:      502,
	UpstreamTimeout:           504,
	OAuth2CCError:             502,
	UnknownError:              500,
}

// Error is the concrete error value carrying a stable Code plus a
// human-readable message and (optionally) the upstream body/status that
// produced it.
type Error struct {
	Code       Code
	Message    string
	UpstreamStatus int
	UpstreamBody   string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// HTTPStatus returns the status code a transport would use for this error.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return 500
}

// New constructs an *Error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error carrying the upstream HTTP response that caused
// it, per §4.5 step 5 ("surface ... with the upstream HTTP body attached").
func Wrap(code Code, status int, body string) *Error {
	return &Error{Code: code, UpstreamStatus: status, UpstreamBody: body}
}

// As reports whether err is an *Error and returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// CodeOf returns the Code of err if it is an *Error, else UnknownError.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return UnknownError
}
