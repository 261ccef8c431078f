package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/grantline/grantline/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "oauth:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxTokenLength is the maximum allowed length for opaque identifiers.
	// This prevents DoS via excessively large keys.
	MaxTokenLength = 512
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.CredentialStore and
// storage.EphemeralStore. Expiry of grant codes and access tokens is delegated
// entirely to Valkey TTLs.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks.
var (
	_ storage.CredentialStore = (*Store)(nil)
	_ storage.EphemeralStore  = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Key builders. Ephemeral keys reuse the shared namespaces from the storage
// package so a Valkey instance shared with other processes stays collision
// free.

func (s *Store) grantCodeKey(code string) string {
	return s.prefix + storage.GrantCodeKey(code)
}

func (s *Store) accessTokenKey(token string) string {
	return s.prefix + storage.AccessTokenKey(token)
}

func (s *Store) clientKey(clientID string) string {
	return s.prefix + storage.Key("client", clientID)
}

func (s *Store) userKey(userID string) string {
	return s.prefix + storage.Key("user", userID)
}

func (s *Store) usernameKey(username string) string {
	return s.prefix + storage.Key("username", username)
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
// Uses the valkey-go library's built-in nil detection for robustness.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// validateIdentifierLength rejects oversized opaque identifiers before they
// reach the wire.
func validateIdentifierLength(id string) error {
	if len(id) > MaxTokenLength {
		return fmt.Errorf("identifier exceeds maximum allowed size")
	}
	return nil
}
