package server

import (
	"log/slog"
)

// DefaultScopes lists the scopes the server grants when the deployment does
// not configure its own set.
var DefaultScopes = []string{"user_info", "contacts"}

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// GrantCodeTTL is how long grant codes are valid
	GrantCodeTTL int64 // seconds, default: 300 (5 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 86400 (24 hours)

	// SupportedScopes lists the scopes clients may request.
	// Scope matching is case-sensitive, token by token.
	// Default: DefaultScopes
	SupportedScopes []string

	// AllowUnregisteredRedirectURI skips matching the request's redirect_uri
	// against the client's registered URI.
	// WARNING: Only enable for local experimentation. An attacker who can
	// influence the redirect_uri can steal grant codes.
	// Default: false (registered URI enforced)
	AllowUnregisteredRedirectURI bool

	// AllowInsecureHTTP permits a plain-HTTP issuer on non-loopback hosts.
	// WARNING: OAuth over HTTP exposes codes, tokens, and client secrets to
	// interception. Only enable in isolated test environments.
	// Default: false
	AllowInsecureHTTP bool

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	// Default: false
	TrustProxy bool
}

// applySecureDefaults applies secure-by-default configuration values.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.GrantCodeTTL == 0 {
		config.GrantCodeTTL = 300 // 5 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 86400 // 24 hours
	}
	if len(config.SupportedScopes) == 0 {
		config.SupportedScopes = append([]string(nil), DefaultScopes...)
	}

	if config.AllowUnregisteredRedirectURI {
		logger.Warn("SECURITY WARNING: redirect_uri is not checked against the registered URI",
			"recommendation", "register redirect URIs and disable AllowUnregisteredRedirectURI")
	}
	if config.TrustProxy {
		logger.Warn("Proxy headers trusted for client IP extraction",
			"recommendation", "only enable behind a trusted reverse proxy")
	}

	return config
}
