package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grantline/grantline/security"
	"github.com/grantline/grantline/storage"
)

// AuthorizeRequest carries the query parameters of an authorization request.
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
}

// ValidateAuthorizeRequest checks an authorization request against the
// registered client and the supported scopes. On rejection it returns a
// FlowError whose Redirectable field tells the HTTP layer whether the error
// may be reported to the client's redirect_uri: errors raised before the
// client and its redirect URI are verified must be rendered terminally,
// never redirected to an unverified URI.
func (s *Server) ValidateAuthorizeRequest(ctx context.Context, req *AuthorizeRequest) (*storage.Client, error) {
	if req.ClientID == "" {
		return nil, terminalError(ErrorCodeInvalidRequest, "client_id is required")
	}

	client, err := s.credentials.FindClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.logAuthFailure(ctx, "", req.ClientID, "unknown_client")
			return nil, terminalError(ErrorCodeInvalidRequest, "unknown client")
		}
		return nil, fmt.Errorf("client lookup failed: %w", err)
	}

	if req.RedirectURI == "" {
		return nil, terminalError(ErrorCodeInvalidRequest, "redirect_uri is required")
	}
	if err := validateRedirectURI(req.RedirectURI); err != nil {
		s.logAuthFailure(ctx, "", req.ClientID, "malformed_redirect_uri")
		return nil, terminalError(ErrorCodeInvalidRequest, err.Error())
	}
	if !s.Config.AllowUnregisteredRedirectURI && client.RedirectURI != "" && req.RedirectURI != client.RedirectURI {
		s.logAuthFailure(ctx, "", req.ClientID, "redirect_uri_mismatch")
		return nil, terminalError(ErrorCodeInvalidRequest, "redirect_uri does not match the registered URI")
	}

	// The client and redirect target are verified from here on, so remaining
	// rejections are recoverable by the client and travel via redirect.
	if req.ResponseType == "" {
		return client, redirectError(ErrorCodeInvalidRequest, "response_type is required")
	}
	if req.ResponseType != "code" {
		return client, redirectError(ErrorCodeUnsupportedResponseType,
			fmt.Sprintf("response type %q is not supported", safeTruncate(req.ResponseType, 32)))
	}
	if _, err := ValidateScope(req.Scope, s.Config.SupportedScopes); err != nil {
		s.logAuthFailure(ctx, "", req.ClientID, ErrorCodeInvalidScope)
		return client, redirectError(ErrorCodeInvalidScope, err.Error())
	}

	return client, nil
}

// AuthenticateUser verifies a username/password pair and returns the user id.
// The caller must not reveal which of the two was wrong.
func (s *Server) AuthenticateUser(ctx context.Context, username, password string) (string, error) {
	userID, err := s.credentials.VerifyUserPassword(ctx, username, password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			s.logAuthFailure(ctx, "", "", "user_login_failed")
		}
		return "", err
	}
	return userID, nil
}

// IssueGrantCode creates a single-use grant code bound to the client, user,
// granted scope, and redirect URI, and stores it with the configured TTL.
func (s *Server) IssueGrantCode(ctx context.Context, client *storage.Client, userID, scope, redirectURI string) (*storage.GrantCode, error) {
	grant := &storage.GrantCode{
		Code:        security.GenerateOpaqueToken(),
		ClientID:    client.ID,
		UserID:      userID,
		Scope:       strings.Join(SplitScope(scope), " "),
		RedirectURI: redirectURI,
		IssuedAt:    time.Now(),
	}

	ttl := time.Duration(s.Config.GrantCodeTTL) * time.Second
	start := time.Now()
	err := s.ephemeral.SaveGrantCode(ctx, grant, ttl)
	s.observeStorage(ctx, "save_grant_code", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to save grant code: %w", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogGrantCodeIssued(userID, client.ID, grant.Scope)
		s.recordAuditEvent(ctx, security.EventGrantCodeIssued)
	}
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordGrantCodeIssued(ctx, client.ID)
	}
	s.Logger.Info("Grant code issued",
		"client_id", client.ID,
		"scope", grant.Scope,
		"ttl_seconds", s.Config.GrantCodeTTL)

	return grant, nil
}

// AuthenticateClient verifies a client id/secret pair. On failure it returns
// a FlowError with code invalid_client; the HTTP layer answers 401 with a
// WWW-Authenticate challenge without revealing which of the two was wrong.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	if err := s.credentials.VerifyClientSecret(ctx, clientID, clientSecret); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) || errors.Is(err, storage.ErrInvalidCredentials) {
			s.logAuthFailure(ctx, "", clientID, ErrorCodeInvalidClient)
			return nil, terminalError(ErrorCodeInvalidClient, "client authentication failed")
		}
		return nil, fmt.Errorf("client verification failed: %w", err)
	}

	client, err := s.credentials.FindClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("client lookup failed: %w", err)
	}
	return client, nil
}

// ExchangeGrantCode redeems a grant code for a fresh access token on behalf
// of the authenticated client.
//
// The code is consumed atomically before any binding check runs. A code
// presented by the wrong client is therefore burned rather than left
// redeemable, and two concurrent requests with the same code can never both
// obtain a token.
func (s *Server) ExchangeGrantCode(ctx context.Context, code, clientID, redirectURI string) (*storage.AccessToken, error) {
	if code == "" {
		return nil, terminalError(ErrorCodeInvalidRequest, "code is required")
	}

	start := time.Now()
	grant, err := s.ephemeral.GetAndDeleteGrantCode(ctx, code)
	s.observeStorage(ctx, "get_and_delete_grant_code", start, err)
	if err != nil {
		if errors.Is(err, storage.ErrGrantCodeNotFound) {
			s.recordRedemptionFailure(ctx, clientID, ErrorCodeInvalidGrant)
			return nil, terminalError(ErrorCodeInvalidGrant, "grant code is invalid or expired")
		}
		return nil, fmt.Errorf("grant code lookup failed: %w", err)
	}

	if grant.ClientID != clientID {
		s.recordRedemptionFailure(ctx, clientID, ErrorCodeInvalidClient)
		return nil, terminalError(ErrorCodeInvalidClient, "grant code was issued to a different client")
	}
	if grant.RedirectURI != "" && redirectURI != "" && grant.RedirectURI != redirectURI {
		s.recordRedemptionFailure(ctx, clientID, ErrorCodeInvalidGrant)
		return nil, terminalError(ErrorCodeInvalidGrant, "redirect_uri does not match the authorization request")
	}

	token := &storage.AccessToken{
		Token:    security.GenerateOpaqueToken(),
		UserID:   grant.UserID,
		Scope:    grant.Scope,
		IssuedAt: time.Now(),
	}

	ttl := time.Duration(s.Config.AccessTokenTTL) * time.Second
	start = time.Now()
	err = s.ephemeral.SaveAccessToken(ctx, token, ttl)
	s.observeStorage(ctx, "save_access_token", start, err)
	if err != nil {
		// The grant code is already consumed. Leaving it consumed is the
		// safe outcome: a storage failure must not make the code replayable.
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(grant.UserID, clientID, grant.Scope)
		s.recordAuditEvent(ctx, security.EventTokenIssued)
	}
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordTokenIssued(ctx, clientID)
	}
	s.Logger.Info("Access token issued",
		"client_id", clientID,
		"scope", grant.Scope,
		"expires_in", s.Config.AccessTokenTTL)

	return token, nil
}

// VerifyAccess checks a presented access token against a required scope and
// returns the stored token on success. Every rejection cause maps to
// ErrAccessDenied; only a missing token parameter is reported distinctly.
func (s *Server) VerifyAccess(ctx context.Context, accessToken, requiredScope string) (*storage.AccessToken, error) {
	if accessToken == "" {
		return nil, terminalError(ErrorCodeInvalidRequest, "access_token is required")
	}

	start := time.Now()
	token, err := s.ephemeral.GetAccessToken(ctx, accessToken)
	s.observeStorage(ctx, "get_access_token", start, err)
	if err != nil {
		if errors.Is(err, storage.ErrAccessTokenNotFound) {
			if s.Auditor != nil {
				s.Auditor.LogAccessDenied("", requiredScope, "unknown_token")
				s.recordAuditEvent(ctx, security.EventAccessDenied)
			}
			return nil, ErrAccessDenied
		}
		return nil, fmt.Errorf("access token lookup failed: %w", err)
	}

	if !HasScope(token.Scope, requiredScope) {
		if s.Auditor != nil {
			s.Auditor.LogAccessDenied(token.UserID, requiredScope, "insufficient_scope")
			s.recordAuditEvent(ctx, security.EventAccessDenied)
		}
		return nil, ErrAccessDenied
	}

	return token, nil
}

func (s *Server) logAuthFailure(ctx context.Context, userID, clientID, reason string) {
	if s.Auditor == nil {
		return
	}
	s.Auditor.LogAuthFailure(userID, clientID, "", reason)
	s.recordAuditEvent(ctx, security.EventAuthFailure)
}

func (s *Server) recordRedemptionFailure(ctx context.Context, clientID, errorCode string) {
	s.logAuthFailure(ctx, "", clientID, errorCode)
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordRedemptionFailure(ctx, errorCode)
	}
	s.Logger.Warn("Grant code redemption rejected",
		"client_id", safeTruncate(clientID, 64),
		"error", errorCode)
}

// recordAuditEvent mirrors an audit log entry into the audit-event counter.
func (s *Server) recordAuditEvent(ctx context.Context, eventType string) {
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordAuditEvent(ctx, eventType)
	}
}

// observeStorage records an ephemeral store call once instrumentation is
// attached. A not-found sentinel counts as an error result; the histogram
// still captures its latency.
func (s *Server) observeStorage(ctx context.Context, operation string, start time.Time, err error) {
	if s.Instrumentation == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	s.Instrumentation.Metrics().RecordStorageOperation(ctx, operation, result,
		float64(time.Since(start).Microseconds())/1000.0)
}
