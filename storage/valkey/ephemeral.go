package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/grantline/grantline/storage"
)

// ============================================================
// EphemeralStore implementation
// ============================================================

// grantCodeJSON is the serialized form of a grant code.
type grantCodeJSON struct {
	Code        string    `json:"code"`
	ClientID    string    `json:"client_id"`
	UserID      string    `json:"user_id"`
	Scope       string    `json:"scope"`
	RedirectURI string    `json:"redirect_uri,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
}

// accessTokenJSON is the serialized form of an access token.
type accessTokenJSON struct {
	Token    string    `json:"token"`
	UserID   string    `json:"user_id"`
	Scope    string    `json:"scope"`
	IssuedAt time.Time `json:"issued_at"`
}

// SaveGrantCode stores a grant code with the given TTL.
func (s *Store) SaveGrantCode(ctx context.Context, code *storage.GrantCode, ttl time.Duration) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid grant code")
	}
	if ttl <= 0 {
		return fmt.Errorf("grant code TTL must be positive")
	}
	if err := validateIdentifierLength(code.Code); err != nil {
		return err
	}

	data, err := json.Marshal(grantCodeJSON{
		Code:        code.Code,
		ClientID:    code.ClientID,
		UserID:      code.UserID,
		Scope:       code.Scope,
		RedirectURI: code.RedirectURI,
		IssuedAt:    code.IssuedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal grant code: %w", err)
	}

	key := s.grantCodeKey(code.Code)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save grant code: %w", err)
	}

	s.logger.Debug("Saved grant code",
		"client_id", code.ClientID,
		"ttl", ttl)
	return nil
}

// GetAndDeleteGrantCode atomically retrieves and removes a grant code using
// GETDEL, so concurrent redemptions of the same code have exactly one winner.
func (s *Store) GetAndDeleteGrantCode(ctx context.Context, code string) (*storage.GrantCode, error) {
	if err := validateIdentifierLength(code); err != nil {
		return nil, err
	}

	key := s.grantCodeKey(code)

	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w", storage.ErrGrantCodeNotFound)
		}
		return nil, fmt.Errorf("failed to redeem grant code: %w", err)
	}

	var j grantCodeJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant code: %w", err)
	}

	return &storage.GrantCode{
		Code:        j.Code,
		ClientID:    j.ClientID,
		UserID:      j.UserID,
		Scope:       j.Scope,
		RedirectURI: j.RedirectURI,
		IssuedAt:    j.IssuedAt,
	}, nil
}

// DeleteGrantCode removes a grant code.
func (s *Store) DeleteGrantCode(ctx context.Context, code string) error {
	if err := validateIdentifierLength(code); err != nil {
		return err
	}

	if err := s.client.Do(ctx,
		s.client.B().Del().Key(s.grantCodeKey(code)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to delete grant code: %w", err)
	}
	return nil
}

// SaveAccessToken stores an access token with the given TTL.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken, ttl time.Duration) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}
	if ttl <= 0 {
		return fmt.Errorf("access token TTL must be positive")
	}
	if err := validateIdentifierLength(token.Token); err != nil {
		return err
	}

	data, err := json.Marshal(accessTokenJSON{
		Token:    token.Token,
		UserID:   token.UserID,
		Scope:    token.Scope,
		IssuedAt: token.IssuedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}

	key := s.accessTokenKey(token.Token)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	s.logger.Debug("Saved access token",
		"user_id", token.UserID,
		"ttl", ttl)
	return nil
}

// GetAccessToken retrieves an access token without consuming it.
// TTL is managed by Valkey, so if the key exists the token is not expired.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	if err := validateIdentifierLength(token); err != nil {
		return nil, err
	}

	key := s.accessTokenKey(token)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w", storage.ErrAccessTokenNotFound)
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var j accessTokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access token: %w", err)
	}

	return &storage.AccessToken{
		Token:    j.Token,
		UserID:   j.UserID,
		Scope:    j.Scope,
		IssuedAt: j.IssuedAt,
	}, nil
}

// DeleteAccessToken removes an access token.
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	if err := validateIdentifierLength(token); err != nil {
		return err
	}

	if err := s.client.Do(ctx,
		s.client.B().Del().Key(s.accessTokenKey(token)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	return nil
}
