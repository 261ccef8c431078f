package server

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"

	"github.com/grantline/grantline/instrumentation"
	"github.com/grantline/grantline/security"
	"github.com/grantline/grantline/storage"
)

// loopbackHosts lists hostnames accepted for plain-HTTP development issuers.
var loopbackHosts = []string{"localhost", "127.0.0.1", "::1", "[::1]"}

// safeTruncate safely truncates a string to maxLen characters without
// panicking. Used when logging identifiers that may be attacker-controlled.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the Authorization Code grant logic. It coordinates the
// flow across a credential store and an ephemeral store.
type Server struct {
	credentials storage.CredentialStore
	ephemeral   storage.EphemeralStore

	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // IP-based rate limiter
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config
}

// New creates a new authorization server.
func New(
	credentials storage.CredentialStore,
	ephemeral storage.EphemeralStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if ephemeral == nil {
		return nil, fmt.Errorf("ephemeral store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		credentials: credentials,
		ephemeral:   ephemeral,
		Config:      config,
		Logger:      logger,
	}

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	return srv, nil
}

// SetAuditor sets the security auditor.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter.
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetInstrumentation sets the OpenTelemetry instrumentation.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// CredentialStore returns the credential store, for resource handlers that
// need to fetch profile data after the access guard has approved a request.
func (s *Server) CredentialStore() storage.CredentialStore {
	return s.credentials
}

// validateHTTPSEnforcement rejects plain-HTTP issuers outside loopback unless
// explicitly allowed. Codes, tokens, and client secrets all transit the
// issuer's endpoints, so an HTTP issuer exposes every credential in the flow.
func (s *Server) validateHTTPSEnforcement() error {
	if s.Config.Issuer == "" {
		return nil
	}

	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
		if slices.Contains(loopbackHosts, issuerURL.Hostname()) {
			s.Logger.Warn("Issuer uses HTTP on loopback, acceptable for development only",
				"issuer", s.Config.Issuer)
			return nil
		}
		if s.Config.AllowInsecureHTTP {
			s.Logger.Warn("SECURITY WARNING: HTTP issuer on a non-loopback host",
				"issuer", s.Config.Issuer)
			return nil
		}
		return fmt.Errorf("issuer %q uses HTTP on a non-loopback host; use HTTPS or set AllowInsecureHTTP", s.Config.Issuer)
	default:
		return fmt.Errorf("issuer %q has unsupported scheme %q", s.Config.Issuer, issuerURL.Scheme)
	}
}
