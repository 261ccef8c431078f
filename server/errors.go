package server

import (
	"errors"
	"fmt"
)

// OAuth 2.0 error codes from RFC 6749. The root package re-exports them.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeServerError             = "server_error"
)

// ErrAccessDenied is returned by VerifyAccess for every rejection cause.
// Unknown token and insufficient scope are deliberately indistinguishable so
// the guard cannot be used as an oracle for token validity.
var ErrAccessDenied = errors.New("access denied")

// FlowError is a protocol-level rejection carrying an RFC 6749 error code.
// The HTTP layer maps the code to the wire representation; any other error
// from a flow method is an internal failure (server_error).
type FlowError struct {
	Code        string
	Description string

	// Redirectable marks errors that are reported to the client via a
	// redirect to its verified redirect_uri. Errors raised before the client
	// and redirect URI are verified are terminal and rendered directly.
	Redirectable bool
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func terminalError(code, description string) *FlowError {
	return &FlowError{Code: code, Description: description}
}

func redirectError(code, description string) *FlowError {
	return &FlowError{Code: code, Description: description, Redirectable: true}
}

// AsFlowError unwraps err into a FlowError if it carries one.
func AsFlowError(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
