// Package storage defines the persistence interfaces the OAuth server consumes:
// a durable credential registry for registered clients and users, and an
// ephemeral key-value store with per-entry TTL for grant codes and access
// tokens. Backends include in-memory and Valkey implementations.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations. Callers match these with
// errors.Is to distinguish "not there" from backend failures.
var (
	ErrClientNotFound      = errors.New("client not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrGrantCodeNotFound   = errors.New("grant code not found")
	ErrAccessTokenNotFound = errors.New("access token not found")
)

// Client represents a registered OAuth client. Records are immutable once
// registered; only the credential store owns them.
type Client struct {
	ID         string
	SecretHash string // bcrypt hash of the client secret
	Name       string

	// RedirectURI is the redirect URI registered for this client.
	// Empty when the client registered without one.
	RedirectURI string

	CreatedAt time.Time
}

// Profile holds the user attributes served by the user_info scope.
type Profile struct {
	Username     string `json:"username"`
	Gender       string `json:"gender"`
	DateOfBirth  string `json:"date_of_birth"`
	Country      string `json:"country"`
	City         string `json:"city"`
	ProfileImage string `json:"profile_image"`
}

// Contact is a single entry served by the contacts scope.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// User represents a resource owner.
type User struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt hash of the login password
	Profile      Profile
	Contacts     []Contact
}

// GrantCode is a single-use credential issued at consent time and redeemed
// exactly once by the token endpoint. Persisted under GrantCodeKey(code).
type GrantCode struct {
	Code     string
	ClientID string
	UserID   string

	// Scope is the granted scope as a space-delimited token list.
	Scope string

	// RedirectURI is the redirect URI the code was bound to, empty if none.
	RedirectURI string

	IssuedAt time.Time
}

// AccessToken is a bearer credential presented to resource endpoints.
// Persisted under AccessTokenKey(token); read, never consumed, by the guard.
type AccessToken struct {
	Token    string
	UserID   string
	Scope    string
	IssuedAt time.Time
}

// CredentialStore is the durable, read-mostly registry of clients and users.
// No method of this interface mutates records.
type CredentialStore interface {
	// FindClient retrieves a client by ID.
	// Returns ErrClientNotFound if no such client is registered.
	FindClient(ctx context.Context, clientID string) (*Client, error)

	// VerifyClientSecret checks a client id/secret pair.
	// Returns ErrInvalidCredentials on any mismatch without revealing
	// whether the id or the secret was wrong.
	VerifyClientSecret(ctx context.Context, clientID, clientSecret string) error

	// FindUser retrieves a user by ID.
	// Returns ErrUserNotFound if no such user exists.
	FindUser(ctx context.Context, userID string) (*User, error)

	// VerifyUserPassword checks a username/password pair and returns the
	// user ID on success. Returns ErrInvalidCredentials on any mismatch.
	VerifyUserPassword(ctx context.Context, username, password string) (string, error)
}

// EphemeralStore is a key-value store with per-entry expiry. Expired entries
// must behave exactly like absent ones; the server runs no sweep of its own.
type EphemeralStore interface {
	// SaveGrantCode stores a grant code with the given TTL.
	SaveGrantCode(ctx context.Context, code *GrantCode, ttl time.Duration) error

	// GetAndDeleteGrantCode atomically retrieves and removes a grant code.
	// When the same code is presented concurrently, at most one caller
	// receives it; all others get ErrGrantCodeNotFound.
	// SECURITY: this MUST be a single atomic operation, not a get followed
	// by a delete, or two concurrent redemptions could both obtain a token.
	GetAndDeleteGrantCode(ctx context.Context, code string) (*GrantCode, error)

	// DeleteGrantCode removes a grant code. Deleting an absent code is not
	// an error.
	DeleteGrantCode(ctx context.Context, code string) error

	// SaveAccessToken stores an access token with the given TTL.
	SaveAccessToken(ctx context.Context, token *AccessToken, ttl time.Duration) error

	// GetAccessToken retrieves an access token without consuming it.
	// Returns ErrAccessTokenNotFound for unknown or expired tokens.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteAccessToken removes an access token.
	DeleteAccessToken(ctx context.Context, token string) error
}
