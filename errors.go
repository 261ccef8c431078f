package grantline

import (
	"fmt"
	"net/http"

	"github.com/grantline/grantline/server"
)

// OAuth error codes, re-exported from the server package so callers of this
// package never need to import it directly.
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeInvalidScope            = server.ErrorCodeInvalidScope
	ErrorCodeAccessDenied            = server.ErrorCodeAccessDenied
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeServerError             = server.ErrorCodeServerError

	// ErrorCodeRateLimitExceeded is an extension code for throttled requests;
	// it never travels through the protocol core.
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable instances
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the grant code is invalid, expired, or already redeemed
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates the requested scope is invalid or unsupported
	ErrInvalidScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
