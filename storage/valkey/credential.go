package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/grantline/grantline/storage"
)

// ============================================================
// CredentialStore implementation
// ============================================================

// dummySecretHash is compared against when the principal does not exist, so
// credential verification costs the same either way.
var dummySecretHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("grantline-dummy-secret"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()

// clientJSON is the serialized form of a client record.
type clientJSON struct {
	ID          string    `json:"id"`
	SecretHash  string    `json:"secret_hash"`
	Name        string    `json:"name"`
	RedirectURI string    `json:"redirect_uri,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// userJSON is the serialized form of a user record.
type userJSON struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	PasswordHash string            `json:"password_hash"`
	Profile      storage.Profile   `json:"profile"`
	Contacts     []storage.Contact `json:"contacts,omitempty"`
}

// RegisterClient registers a client, hashing the supplied secret. Client
// records carry no TTL; they are durable registration data.
func (s *Store) RegisterClient(ctx context.Context, id, secret, name, redirectURI string) error {
	if id == "" || secret == "" {
		return fmt.Errorf("client id and secret are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash client secret: %w", err)
	}

	data, err := json.Marshal(clientJSON{
		ID:          id,
		SecretHash:  string(hash),
		Name:        name,
		RedirectURI: redirectURI,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.clientKey(id)).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// RegisterUser registers a user, hashing the supplied password.
func (s *Store) RegisterUser(ctx context.Context, user *storage.User, password string) error {
	if user == nil || user.ID == "" || user.Username == "" {
		return fmt.Errorf("user id and username are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	data, err := json.Marshal(userJSON{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: string(hash),
		Profile:      user.Profile,
		Contacts:     user.Contacts,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.userKey(user.ID)).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	// Reverse lookup for login by username.
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.usernameKey(user.Username)).Value(user.ID).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save username lookup: %w", err)
	}
	return nil
}

// FindClient retrieves a client by ID.
func (s *Store) FindClient(ctx context.Context, clientID string) (*storage.Client, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return &storage.Client{
		ID:          j.ID,
		SecretHash:  j.SecretHash,
		Name:        j.Name,
		RedirectURI: j.RedirectURI,
		CreatedAt:   j.CreatedAt,
	}, nil
}

// VerifyClientSecret checks a client id/secret pair. The bcrypt comparison
// runs even for unknown clients so response time does not reveal whether the
// id exists.
func (s *Store) VerifyClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.FindClient(ctx, clientID)

	hash := dummySecretHash
	if err == nil {
		hash = []byte(client.SecretHash)
	}

	if cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(clientSecret)); cmpErr != nil || err != nil {
		return storage.ErrInvalidCredentials
	}
	return nil
}

// FindUser retrieves a user by ID.
func (s *Store) FindUser(ctx context.Context, userID string) (*storage.User, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.userKey(userID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var j userJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &storage.User{
		ID:           j.ID,
		Username:     j.Username,
		PasswordHash: j.PasswordHash,
		Profile:      j.Profile,
		Contacts:     j.Contacts,
	}, nil
}

// VerifyUserPassword checks a username/password pair and returns the user ID.
func (s *Store) VerifyUserPassword(ctx context.Context, username, password string) (string, error) {
	var user *storage.User

	userID, err := s.client.Do(ctx, s.client.B().Get().Key(s.usernameKey(username)).Build()).ToString()
	if err == nil {
		user, err = s.FindUser(ctx, userID)
	} else if !isNilError(err) {
		return "", fmt.Errorf("failed to look up username: %w", err)
	}

	hash := dummySecretHash
	if err == nil && user != nil {
		hash = []byte(user.PasswordHash)
	}

	if cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(password)); cmpErr != nil || user == nil {
		return "", storage.ErrInvalidCredentials
	}
	return user.ID, nil
}
