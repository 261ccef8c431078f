package grantline

import (
	"github.com/grantline/grantline/server"
	"github.com/grantline/grantline/storage"
)

// TokenResponse represents a successful token endpoint response
type TokenResponse struct {
	// AccessToken is the opaque bearer credential
	AccessToken string `json:"access_token"`

	// TokenType is always "bearer" for this server
	TokenType string `json:"token_type"`

	// ExpiresIn is the token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`
}

// ErrorResponse represents an OAuth error response body
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`
}

// Type aliases for the core packages, so embedding applications only need to
// import the root package for common wiring.
type (
	// Config holds authorization server configuration
	Config = server.Config

	// Client is a registered third-party application
	Client = storage.Client

	// User is a resource owner
	User = storage.User

	// GrantCode is a single-use credential exchanged for an access token
	GrantCode = storage.GrantCode

	// AccessToken is a bearer credential for scoped resource access
	AccessToken = storage.AccessToken
)
