// Package memory provides an in-memory implementation of the storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments. Expiry is enforced on read and by a background cleanup loop.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/grantline/grantline/storage"
)

// dummySecretHash is compared against when a client or user does not exist, so
// credential verification costs the same whether or not the principal exists.
var dummySecretHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("grantline-dummy-secret"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()

type grantCodeEntry struct {
	code      *storage.GrantCode
	expiresAt time.Time
}

type accessTokenEntry struct {
	token     *storage.AccessToken
	expiresAt time.Time
}

// Store is an in-memory implementation of storage.CredentialStore and
// storage.EphemeralStore.
type Store struct {
	mu sync.RWMutex

	clients     map[string]*storage.Client
	users       map[string]*storage.User
	usersByName map[string]string // username -> user ID

	// Ephemeral entries, keyed by the namespaced storage key.
	grantCodes   map[string]*grantCodeEntry
	accessTokens map[string]*accessTokenEntry

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *slog.Logger
}

// Compile-time interface checks.
var (
	_ storage.CredentialStore = (*Store)(nil)
	_ storage.EphemeralStore  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, 1 minute is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		users:           make(map[string]*storage.User),
		usersByName:     make(map[string]string),
		grantCodes:      make(map[string]*grantCodeEntry),
		accessTokens:    make(map[string]*accessTokenEntry),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Stop gracefully stops the cleanup goroutine.
func (s *Store) Stop() {
	close(s.stopCleanup)
}

// ============================================================
// Registration helpers (seeding; not part of the store interfaces)
// ============================================================

// RegisterClient registers a client, hashing the supplied secret.
// redirectURI may be empty for clients registered without one.
func (s *Store) RegisterClient(id, secret, name, redirectURI string) error {
	if id == "" || secret == "" {
		return fmt.Errorf("client id and secret are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash client secret: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[id] = &storage.Client{
		ID:          id,
		SecretHash:  string(hash),
		Name:        name,
		RedirectURI: redirectURI,
		CreatedAt:   time.Now(),
	}
	return nil
}

// RegisterUser registers a user, hashing the supplied password. The user's
// PasswordHash field is ignored in favor of the hash computed here.
func (s *Store) RegisterUser(user *storage.User, password string) error {
	if user == nil || user.ID == "" || user.Username == "" {
		return fmt.Errorf("user id and username are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	u := *user
	u.PasswordHash = string(hash)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
	s.usersByName[u.Username] = u.ID
	return nil
}

// ============================================================
// CredentialStore implementation
// ============================================================

// FindClient retrieves a client by ID.
func (s *Store) FindClient(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}

	c := *client
	return &c, nil
}

// VerifyClientSecret checks a client id/secret pair. The bcrypt comparison
// runs even for unknown clients so the response time does not reveal whether
// the id exists.
func (s *Store) VerifyClientSecret(_ context.Context, clientID, clientSecret string) error {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	hash := dummySecretHash
	if ok {
		hash = []byte(client.SecretHash)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(clientSecret)); err != nil || !ok {
		return storage.ErrInvalidCredentials
	}
	return nil
}

// FindUser retrieves a user by ID.
func (s *Store) FindUser(_ context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}

	u := *user
	return &u, nil
}

// VerifyUserPassword checks a username/password pair and returns the user ID.
func (s *Store) VerifyUserPassword(_ context.Context, username, password string) (string, error) {
	s.mu.RLock()
	userID, ok := s.usersByName[username]
	var user *storage.User
	if ok {
		user = s.users[userID]
	}
	s.mu.RUnlock()

	hash := dummySecretHash
	if user != nil {
		hash = []byte(user.PasswordHash)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || user == nil {
		return "", storage.ErrInvalidCredentials
	}
	return userID, nil
}

// ============================================================
// EphemeralStore implementation
// ============================================================

// SaveGrantCode stores a grant code with the given TTL.
func (s *Store) SaveGrantCode(_ context.Context, code *storage.GrantCode, ttl time.Duration) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid grant code")
	}
	if ttl <= 0 {
		return fmt.Errorf("grant code TTL must be positive")
	}

	c := *code

	s.mu.Lock()
	defer s.mu.Unlock()
	s.grantCodes[storage.GrantCodeKey(code.Code)] = &grantCodeEntry{
		code:      &c,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// GetAndDeleteGrantCode atomically retrieves and removes a grant code. The
// lookup and delete happen under a single write lock, so concurrent
// redemptions of the same code have exactly one winner.
func (s *Store) GetAndDeleteGrantCode(_ context.Context, code string) (*storage.GrantCode, error) {
	key := storage.GrantCodeKey(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.grantCodes[key]
	if !ok {
		return nil, fmt.Errorf("%w", storage.ErrGrantCodeNotFound)
	}

	delete(s.grantCodes, key)

	if time.Now().After(entry.expiresAt) {
		return nil, fmt.Errorf("%w: expired", storage.ErrGrantCodeNotFound)
	}

	c := *entry.code
	return &c, nil
}

// DeleteGrantCode removes a grant code.
func (s *Store) DeleteGrantCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grantCodes, storage.GrantCodeKey(code))
	return nil
}

// SaveAccessToken stores an access token with the given TTL.
func (s *Store) SaveAccessToken(_ context.Context, token *storage.AccessToken, ttl time.Duration) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}
	if ttl <= 0 {
		return fmt.Errorf("access token TTL must be positive")
	}

	t := *token

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[storage.AccessTokenKey(token.Token)] = &accessTokenEntry{
		token:     &t,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// GetAccessToken retrieves an access token. Expired tokens are treated as
// absent and removed lazily.
func (s *Store) GetAccessToken(_ context.Context, token string) (*storage.AccessToken, error) {
	key := storage.AccessTokenKey(token)

	s.mu.RLock()
	entry, ok := s.accessTokens[key]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w", storage.ErrAccessTokenNotFound)
	}

	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.accessTokens, key)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: expired", storage.ErrAccessTokenNotFound)
	}

	t := *entry.token
	return &t, nil
}

// DeleteAccessToken removes an access token.
func (s *Store) DeleteAccessToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accessTokens, storage.AccessTokenKey(token))
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes expired grant codes and access tokens. Reads already treat
// expired entries as absent; this just bounds memory growth.
func (s *Store) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var codes, tokens int
	for key, entry := range s.grantCodes {
		if now.After(entry.expiresAt) {
			delete(s.grantCodes, key)
			codes++
		}
	}
	for key, entry := range s.accessTokens {
		if now.After(entry.expiresAt) {
			delete(s.accessTokens, key)
			tokens++
		}
	}

	if codes > 0 || tokens > 0 {
		s.logger.Debug("Cleaned up expired entries",
			"grant_codes", codes,
			"access_tokens", tokens)
	}
}
