package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/grantline/grantline/instrumentation"
	"github.com/grantline/grantline/internal/testutil"
	"github.com/grantline/grantline/security"
	"github.com/grantline/grantline/storage"
	"github.com/grantline/grantline/storage/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := testutil.NewSeededStore(t)
	srv, err := New(store, store, &Config{
		Issuer: "https://auth.example.com",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, store
}

func validAuthorizeRequest() *AuthorizeRequest {
	return &AuthorizeRequest{
		ClientID:     testutil.ClientID,
		RedirectURI:  testutil.RedirectURI,
		ResponseType: "code",
		Scope:        "user_info",
		State:        "xyz",
	}
}

func TestServer_ValidateAuthorizeRequest(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(*AuthorizeRequest)
		wantCode     string
		wantRedirect bool
	}{
		{
			name:   "valid request",
			mutate: func(r *AuthorizeRequest) {},
		},
		{
			name:     "missing client_id",
			mutate:   func(r *AuthorizeRequest) { r.ClientID = "" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "unknown client",
			mutate:   func(r *AuthorizeRequest) { r.ClientID = "nobody" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "missing redirect_uri",
			mutate:   func(r *AuthorizeRequest) { r.RedirectURI = "" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "redirect_uri not registered",
			mutate:   func(r *AuthorizeRequest) { r.RedirectURI = "https://evil.example/cb" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "javascript redirect_uri",
			mutate:   func(r *AuthorizeRequest) { r.RedirectURI = "javascript:alert(1)" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:         "missing response_type",
			mutate:       func(r *AuthorizeRequest) { r.ResponseType = "" },
			wantCode:     ErrorCodeInvalidRequest,
			wantRedirect: true,
		},
		{
			name:         "implicit response_type",
			mutate:       func(r *AuthorizeRequest) { r.ResponseType = "token" },
			wantCode:     ErrorCodeUnsupportedResponseType,
			wantRedirect: true,
		},
		{
			name:         "missing scope",
			mutate:       func(r *AuthorizeRequest) { r.Scope = "" },
			wantCode:     ErrorCodeInvalidScope,
			wantRedirect: true,
		},
		{
			name:         "unknown scope token",
			mutate:       func(r *AuthorizeRequest) { r.Scope = "user_info bogus" },
			wantCode:     ErrorCodeInvalidScope,
			wantRedirect: true,
		},
		{
			name:         "scope is case-sensitive",
			mutate:       func(r *AuthorizeRequest) { r.Scope = "User_Info" },
			wantCode:     ErrorCodeInvalidScope,
			wantRedirect: true,
		},
	}

	srv, _ := newTestServer(t)
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validAuthorizeRequest()
			tt.mutate(req)

			client, err := srv.ValidateAuthorizeRequest(ctx, req)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("ValidateAuthorizeRequest() error = %v, want nil", err)
				}
				if client == nil || client.ID != testutil.ClientID {
					t.Fatalf("ValidateAuthorizeRequest() client = %+v, want id %q", client, testutil.ClientID)
				}
				return
			}

			fe, ok := AsFlowError(err)
			if !ok {
				t.Fatalf("ValidateAuthorizeRequest() error = %v, want FlowError", err)
			}
			if fe.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", fe.Code, tt.wantCode)
			}
			if fe.Redirectable != tt.wantRedirect {
				t.Errorf("Redirectable = %v, want %v", fe.Redirectable, tt.wantRedirect)
			}
			if tt.wantRedirect && client == nil {
				t.Error("redirectable error must come with the verified client")
			}
		})
	}
}

func TestServer_ValidateAuthorizeRequest_UnregisteredRedirectAllowed(t *testing.T) {
	store := testutil.NewSeededStore(t)
	srv, err := New(store, store, &Config{
		Issuer:                       "https://auth.example.com",
		AllowUnregisteredRedirectURI: true,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	req := validAuthorizeRequest()
	req.RedirectURI = "https://elsewhere.example/cb"
	if _, err := srv.ValidateAuthorizeRequest(context.Background(), req); err != nil {
		t.Fatalf("ValidateAuthorizeRequest() error = %v, want nil with AllowUnregisteredRedirectURI", err)
	}
}

func TestServer_AuthenticateUser(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	userID, err := srv.AuthenticateUser(ctx, testutil.Username, testutil.Password)
	if err != nil {
		t.Fatalf("AuthenticateUser() error = %v", err)
	}
	if userID != testutil.UserID {
		t.Errorf("AuthenticateUser() = %q, want %q", userID, testutil.UserID)
	}

	if _, err := srv.AuthenticateUser(ctx, testutil.Username, "wrong"); !errors.Is(err, storage.ErrInvalidCredentials) {
		t.Errorf("wrong password: error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := srv.AuthenticateUser(ctx, "mallory", testutil.Password); !errors.Is(err, storage.ErrInvalidCredentials) {
		t.Errorf("unknown user: error = %v, want ErrInvalidCredentials", err)
	}
}

func TestServer_IssueGrantCode(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	client, err := store.FindClient(ctx, testutil.ClientID)
	if err != nil {
		t.Fatalf("FindClient() error = %v", err)
	}

	grant, err := srv.IssueGrantCode(ctx, client, testutil.UserID, "user_info  contacts", testutil.RedirectURI)
	if err != nil {
		t.Fatalf("IssueGrantCode() error = %v", err)
	}
	if grant.Code == "" {
		t.Fatal("IssueGrantCode() returned empty code")
	}
	if grant.Scope != "user_info contacts" {
		t.Errorf("scope = %q, want normalized %q", grant.Scope, "user_info contacts")
	}
	if grant.ClientID != testutil.ClientID || grant.UserID != testutil.UserID {
		t.Errorf("grant bindings = %q/%q, want %q/%q", grant.ClientID, grant.UserID, testutil.ClientID, testutil.UserID)
	}

	stored, err := store.GetAndDeleteGrantCode(ctx, grant.Code)
	if err != nil {
		t.Fatalf("GetAndDeleteGrantCode() error = %v", err)
	}
	if stored.RedirectURI != testutil.RedirectURI {
		t.Errorf("stored redirect_uri = %q, want %q", stored.RedirectURI, testutil.RedirectURI)
	}
}

func TestServer_AuthenticateClient(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	client, err := srv.AuthenticateClient(ctx, testutil.ClientID, testutil.ClientSecret)
	if err != nil {
		t.Fatalf("AuthenticateClient() error = %v", err)
	}
	if client.ID != testutil.ClientID {
		t.Errorf("client.ID = %q, want %q", client.ID, testutil.ClientID)
	}

	for _, tt := range []struct {
		name   string
		id     string
		secret string
	}{
		{"wrong secret", testutil.ClientID, "nope"},
		{"unknown client", "c2", testutil.ClientSecret},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.AuthenticateClient(ctx, tt.id, tt.secret)
			fe, ok := AsFlowError(err)
			if !ok || fe.Code != ErrorCodeInvalidClient {
				t.Errorf("AuthenticateClient() error = %v, want invalid_client", err)
			}
		})
	}
}

func issueTestGrant(t *testing.T, srv *Server, store *memory.Store, scope string) *storage.GrantCode {
	t.Helper()

	client, err := store.FindClient(context.Background(), testutil.ClientID)
	if err != nil {
		t.Fatalf("FindClient() error = %v", err)
	}
	grant, err := srv.IssueGrantCode(context.Background(), client, testutil.UserID, scope, testutil.RedirectURI)
	if err != nil {
		t.Fatalf("IssueGrantCode() error = %v", err)
	}
	return grant
}

func TestServer_ExchangeGrantCode(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	grant := issueTestGrant(t, srv, store, "user_info contacts")

	token, err := srv.ExchangeGrantCode(ctx, grant.Code, testutil.ClientID, testutil.RedirectURI)
	if err != nil {
		t.Fatalf("ExchangeGrantCode() error = %v", err)
	}
	if token.Token == "" || token.Token == grant.Code {
		t.Errorf("token = %q, want fresh opaque value", token.Token)
	}
	if token.UserID != grant.UserID || token.Scope != grant.Scope {
		t.Errorf("token carries %q/%q, want %q/%q", token.UserID, token.Scope, grant.UserID, grant.Scope)
	}

	// Redeemed once means redeemed forever.
	_, err = srv.ExchangeGrantCode(ctx, grant.Code, testutil.ClientID, testutil.RedirectURI)
	if fe, ok := AsFlowError(err); !ok || fe.Code != ErrorCodeInvalidGrant {
		t.Errorf("second redemption: error = %v, want invalid_grant", err)
	}
}

func TestServer_ExchangeGrantCode_Rejections(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	t.Run("unknown code", func(t *testing.T) {
		_, err := srv.ExchangeGrantCode(ctx, "never-issued", testutil.ClientID, testutil.RedirectURI)
		if fe, ok := AsFlowError(err); !ok || fe.Code != ErrorCodeInvalidGrant {
			t.Errorf("error = %v, want invalid_grant", err)
		}
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := srv.ExchangeGrantCode(ctx, "", testutil.ClientID, testutil.RedirectURI)
		if fe, ok := AsFlowError(err); !ok || fe.Code != ErrorCodeInvalidRequest {
			t.Errorf("error = %v, want invalid_request", err)
		}
	})

	t.Run("wrong client burns the code", func(t *testing.T) {
		grant := issueTestGrant(t, srv, store, "user_info")

		_, err := srv.ExchangeGrantCode(ctx, grant.Code, "other-client", testutil.RedirectURI)
		if fe, ok := AsFlowError(err); !ok || fe.Code != ErrorCodeInvalidClient {
			t.Fatalf("wrong client: error = %v, want invalid_client", err)
		}

		// The rightful client cannot redeem it afterwards either.
		_, err = srv.ExchangeGrantCode(ctx, grant.Code, testutil.ClientID, testutil.RedirectURI)
		if fe, ok := AsFlowError(err); !ok || fe.Code != ErrorCodeInvalidGrant {
			t.Errorf("after burn: error = %v, want invalid_grant", err)
		}
	})

	t.Run("redirect_uri mismatch", func(t *testing.T) {
		grant := issueTestGrant(t, srv, store, "user_info")

		_, err := srv.ExchangeGrantCode(ctx, grant.Code, testutil.ClientID, "https://elsewhere.example/cb")
		if fe, ok := AsFlowError(err); !ok || fe.Code != ErrorCodeInvalidGrant {
			t.Errorf("error = %v, want invalid_grant", err)
		}
	})

	t.Run("omitted redirect_uri is accepted", func(t *testing.T) {
		grant := issueTestGrant(t, srv, store, "user_info")

		if _, err := srv.ExchangeGrantCode(ctx, grant.Code, testutil.ClientID, ""); err != nil {
			t.Errorf("error = %v, want nil when redemption omits redirect_uri", err)
		}
	})

	t.Run("expired code", func(t *testing.T) {
		grant := &storage.GrantCode{
			Code:     "expired-code",
			ClientID: testutil.ClientID,
			UserID:   testutil.UserID,
			Scope:    "user_info",
			IssuedAt: time.Now().Add(-10 * time.Minute),
		}
		if err := store.SaveGrantCode(ctx, grant, -time.Second); err != nil {
			t.Fatalf("SaveGrantCode() error = %v", err)
		}

		_, err := srv.ExchangeGrantCode(ctx, grant.Code, testutil.ClientID, testutil.RedirectURI)
		if fe, ok := AsFlowError(err); !ok || fe.Code != ErrorCodeInvalidGrant {
			t.Errorf("error = %v, want invalid_grant", err)
		}
	})
}

func TestServer_ExchangeGrantCode_ConcurrentSingleWinner(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	grant := issueTestGrant(t, srv, store, "user_info")

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		grantErrs int
	)

	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := srv.ExchangeGrantCode(ctx, grant.Code, testutil.ClientID, testutil.RedirectURI)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			default:
				if fe, ok := AsFlowError(err); ok && fe.Code == ErrorCodeInvalidGrant {
					grantErrs++
				} else {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if grantErrs != attempts-1 {
		t.Errorf("invalid_grant count = %d, want %d", grantErrs, attempts-1)
	}
}

func TestServer_VerifyAccess(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	grant := issueTestGrant(t, srv, store, "user_info")
	token, err := srv.ExchangeGrantCode(ctx, grant.Code, testutil.ClientID, testutil.RedirectURI)
	if err != nil {
		t.Fatalf("ExchangeGrantCode() error = %v", err)
	}

	got, err := srv.VerifyAccess(ctx, token.Token, "user_info")
	if err != nil {
		t.Fatalf("VerifyAccess() error = %v", err)
	}
	if got.UserID != testutil.UserID {
		t.Errorf("UserID = %q, want %q", got.UserID, testutil.UserID)
	}

	// Unknown token and insufficient scope collapse into one error so the
	// guard never confirms token validity to a scope prober.
	if _, err := srv.VerifyAccess(ctx, token.Token, "contacts"); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("insufficient scope: error = %v, want ErrAccessDenied", err)
	}
	if _, err := srv.VerifyAccess(ctx, "bogus-token", "user_info"); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("unknown token: error = %v, want ErrAccessDenied", err)
	}

	if _, err := srv.VerifyAccess(ctx, "", "user_info"); errors.Is(err, ErrAccessDenied) {
		t.Error("missing token should be invalid_request, not the undifferentiated denial")
	}
}

func TestServer_VerifyAccess_ExpiredToken(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	token := &storage.AccessToken{
		Token:    "expired-token",
		UserID:   testutil.UserID,
		Scope:    "user_info",
		IssuedAt: time.Now().Add(-48 * time.Hour),
	}
	if err := store.SaveAccessToken(ctx, token, -time.Second); err != nil {
		t.Fatalf("SaveAccessToken() error = %v", err)
	}

	if _, err := srv.VerifyAccess(ctx, token.Token, "user_info"); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expired token: error = %v, want ErrAccessDenied", err)
	}
}

func TestNew_Validation(t *testing.T) {
	store := testutil.NewSeededStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := New(nil, store, nil, logger); err == nil {
		t.Error("New() with nil credential store should fail")
	}
	if _, err := New(store, nil, nil, logger); err == nil {
		t.Error("New() with nil ephemeral store should fail")
	}
	if _, err := New(store, store, &Config{Issuer: "http://auth.example.com"}, logger); err == nil {
		t.Error("New() with plain-HTTP issuer on a public host should fail")
	}
	if _, err := New(store, store, &Config{Issuer: "http://localhost:8080"}, logger); err != nil {
		t.Errorf("New() with loopback HTTP issuer error = %v, want nil", err)
	}

	srv, err := New(store, store, nil, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Config.GrantCodeTTL != 300 || srv.Config.AccessTokenTTL != 86400 {
		t.Errorf("default TTLs = %d/%d, want 300/86400", srv.Config.GrantCodeTTL, srv.Config.AccessTokenTTL)
	}
	if len(srv.Config.SupportedScopes) != 2 {
		t.Errorf("default scopes = %v, want user_info and contacts", srv.Config.SupportedScopes)
	}
}

// Every flow path touches the audit and metric hooks when they are attached;
// this walks the full grant lifecycle with both wired.
func TestServer_FlowsWithObservability(t *testing.T) {
	srv, store := newTestServer(t)
	srv.SetAuditor(security.NewAuditor(slog.New(slog.NewTextHandler(io.Discard, nil)), true))

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "test",
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	srv.SetInstrumentation(inst)

	ctx := context.Background()
	client, err := store.FindClient(ctx, testutil.ClientID)
	if err != nil {
		t.Fatalf("FindClient() error = %v", err)
	}

	grant, err := srv.IssueGrantCode(ctx, client, testutil.UserID, "user_info", testutil.RedirectURI)
	if err != nil {
		t.Fatalf("IssueGrantCode() error = %v", err)
	}
	token, err := srv.ExchangeGrantCode(ctx, grant.Code, testutil.ClientID, testutil.RedirectURI)
	if err != nil {
		t.Fatalf("ExchangeGrantCode() error = %v", err)
	}
	if _, err := srv.VerifyAccess(ctx, token.Token, "user_info"); err != nil {
		t.Fatalf("VerifyAccess() error = %v", err)
	}

	// Denial paths record too.
	if _, err := srv.VerifyAccess(ctx, token.Token, "contacts"); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("insufficient scope: error = %v, want ErrAccessDenied", err)
	}
	if _, err := srv.ExchangeGrantCode(ctx, grant.Code, testutil.ClientID, testutil.RedirectURI); err == nil {
		t.Error("replayed code should fail")
	}
	if _, err := srv.AuthenticateClient(ctx, testutil.ClientID, "wrong"); err == nil {
		t.Error("wrong client secret should fail")
	}
}
