package grantline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/grantline/grantline/instrumentation"
	"github.com/grantline/grantline/security"
	"github.com/grantline/grantline/server"
	"github.com/grantline/grantline/storage"
)

// Handler exposes the authorization server over HTTP: the browser-facing
// authorize page, the token endpoint, and the scope-gated resource endpoints.
type Handler struct {
	server   *server.Server
	sessions SessionManager
	pages    PageRenderer
	logger   *slog.Logger
}

// NewHandler creates an HTTP handler around the authorization server.
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		server:   srv,
		sessions: NewMemorySessionManager(strings.HasPrefix(srv.Config.Issuer, "https://")),
		pages:    defaultPageRenderer{},
		logger:   logger,
	}
}

// SetSessionManager replaces the in-memory session manager, for deployments
// that need sessions shared across instances.
func (h *Handler) SetSessionManager(sm SessionManager) {
	h.sessions = sm
}

// SetPageRenderer replaces the built-in login and consent pages.
func (h *Handler) SetPageRenderer(p PageRenderer) {
	h.pages = p
}

// RegisterRoutes registers all endpoints on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(PathAuthorize, h.instrument(PathAuthorize, h.ServeAuthorize))
	mux.HandleFunc(PathToken, h.instrument(PathToken, h.ServeToken))
	mux.HandleFunc(PathUserInfo, h.instrument(PathUserInfo, h.RequireScope(ScopeUserInfo, h.serveUserInfo)))
	mux.HandleFunc(PathContacts, h.instrument(PathContacts, h.RequireScope(ScopeContacts, h.serveContacts)))
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps an endpoint with request metrics and a trace span. The
// tracer is resolved per request so instrumentation attached after the
// handler was constructed is picked up.
func (h *Handler) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst := h.server.Instrumentation
		if inst == nil {
			next(w, r)
			return
		}

		start := time.Now()
		ctx, span := inst.Tracer("http").Start(r.Context(), "http "+endpoint)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r.WithContext(ctx))

		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, rec.status)
		if rec.status >= http.StatusBadRequest {
			instrumentation.RecordError(span, fmt.Errorf("request rejected with status %d", rec.status))
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		span.End()
		inst.Metrics().RecordHTTPRequest(ctx, r.Method, endpoint, rec.status,
			float64(time.Since(start).Microseconds())/1000.0)
	}
}

// ServeAuthorize drives the authorization endpoint: request validation, user
// login, and the consent page whose accept link carries the grant code back
// to the client.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	security.SetPageSecurityHeaders(w, h.server.Config.Issuer)

	if h.checkIPRateLimit(w, r) {
		return
	}

	q := r.URL.Query()
	req := &server.AuthorizeRequest{
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		ResponseType: q.Get("response_type"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
	}

	client, err := h.server.ValidateAuthorizeRequest(ctx, req)
	if err != nil {
		fe, ok := server.AsFlowError(err)
		if !ok {
			h.logger.Error("Authorize request validation failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if fe.Redirectable {
			// The client and its redirect URI are verified, so the error
			// travels back to the client per RFC 6749 section 4.1.2.1.
			h.redirectWithError(w, r, req.RedirectURI, fe.Code, req.State)
			return
		}
		// Terminal: never redirect to an unverified URI.
		http.Error(w, fe.Description, http.StatusBadRequest)
		return
	}
	instrumentation.AddFlowAttributes(trace.SpanFromContext(ctx), client.ID, "", req.Scope)

	userID, authenticated := h.sessions.UserID(r)
	if authenticated {
		// A session whose user no longer resolves is stale, not an error.
		if _, err := h.server.CredentialStore().FindUser(ctx, userID); err != nil {
			h.sessions.Clear(w, r)
			authenticated = false
		}
	}

	if !authenticated {
		if r.Method != http.MethodPost {
			h.renderLogin(w, r, client)
			return
		}

		userID, err = h.server.AuthenticateUser(ctx, r.PostFormValue("username"), r.PostFormValue("password"))
		if err != nil {
			if errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrUserNotFound) {
				// Deliberately does not reveal which of the two was wrong.
				http.NotFound(w, r)
				return
			}
			h.logger.Error("User authentication failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.sessions.Authenticate(w, r, userID)
	}

	h.renderConsent(w, r, client, userID, req)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, client *storage.Client) {
	data := LoginPageData{
		ClientName: client.Name,
		ActionURL:  r.URL.RequestURI(),
	}
	if err := h.pages.RenderLogin(w, data); err != nil {
		h.logger.Error("Failed to render login page", "error", err)
	}
}

func (h *Handler) renderConsent(w http.ResponseWriter, r *http.Request, client *storage.Client, userID string, req *server.AuthorizeRequest) {
	ctx := r.Context()

	user, err := h.server.CredentialStore().FindUser(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to load user for consent page", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	grant, err := h.server.IssueGrantCode(ctx, client, userID, req.Scope, req.RedirectURI)
	if err != nil {
		h.logger.Error("Failed to issue grant code", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	data := ConsentPageData{
		ClientName:  client.Name,
		Username:    user.Username,
		Permissions: describeScopes(server.SplitScope(req.Scope)),
		AcceptURL:   appendQuery(req.RedirectURI, url.Values{"code": {grant.Code}}, req.State),
		DenyURL:     appendQuery(req.RedirectURI, url.Values{"error": {ErrorCodeAccessDenied}}, req.State),
	}
	if err := h.pages.RenderConsent(w, data); err != nil {
		h.logger.Error("Failed to render consent page", "error", err)
	}
}

// redirectWithError reports a recoverable protocol error to the client's
// verified redirect URI, echoing state verbatim when present.
func (h *Handler) redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, code, state string) {
	target := appendQuery(redirectURI, url.Values{"error": {code}}, state)
	http.Redirect(w, r, target, http.StatusFound)
}

// appendQuery adds params (and state, if non-empty) to the redirect URI,
// preserving any query the client already embedded in it.
func appendQuery(redirectURI string, params url.Values, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		// The URI was validated before we got here.
		return redirectURI
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Set(key, v)
		}
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ServeToken implements the token endpoint: POST only, HTTP Basic client
// authentication, authorization_code grant.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeOAuthError(w, NewOAuthError(ErrorCodeInvalidRequest, "token requests must use POST", http.StatusMethodNotAllowed))
		return
	}

	if h.checkIPRateLimit(w, r) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, ErrInvalidRequest("malformed form body"))
		return
	}

	grantType := r.PostFormValue("grant_type")
	code := r.PostFormValue("code")
	if grantType == "" || code == "" {
		h.writeOAuthError(w, ErrInvalidRequest("grant_type and code are required"))
		return
	}
	if grantType != GrantTypeAuthorizationCode {
		h.writeOAuthError(w, ErrUnsupportedGrantType("only the authorization_code grant is supported"))
		return
	}

	clientID, clientSecret, ok := basicClientCredentials(r)
	if !ok {
		h.writeUnauthorized(w)
		return
	}

	client, err := h.server.AuthenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		if _, ok := server.AsFlowError(err); ok {
			h.writeUnauthorized(w)
			return
		}
		h.logger.Error("Client authentication failed", "error", err)
		h.writeOAuthError(w, ErrServerError("client authentication failed"))
		return
	}

	token, err := h.server.ExchangeGrantCode(ctx, code, client.ID, r.PostFormValue("redirect_uri"))
	if err != nil {
		if fe, ok := server.AsFlowError(err); ok {
			h.writeOAuthError(w, NewOAuthError(fe.Code, fe.Description, http.StatusBadRequest))
			return
		}
		h.logger.Error("Grant code exchange failed", "error", err)
		h.writeOAuthError(w, ErrServerError("grant code exchange failed"))
		return
	}

	instrumentation.AddFlowAttributes(trace.SpanFromContext(ctx), client.ID, token.UserID, token.Scope)

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token.Token,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   h.server.Config.AccessTokenTTL,
	})
}

// basicClientCredentials extracts client_id and client_secret from HTTP Basic
// credentials. Both halves are percent-decoded per RFC 6749 section 2.3.1.
func basicClientCredentials(r *http.Request) (string, string, bool) {
	rawID, rawSecret, ok := r.BasicAuth()
	if !ok {
		return "", "", false
	}
	clientID, err := url.QueryUnescape(rawID)
	if err != nil {
		return "", "", false
	}
	clientSecret, err := url.QueryUnescape(rawSecret)
	if err != nil {
		return "", "", false
	}
	return clientID, clientSecret, true
}

// RequireScope guards a resource handler behind the access token check. The
// wrapped handler receives the token's user id once the token is valid and
// covers the required scope.
func (h *Handler) RequireScope(requiredScope string, next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		security.SetSecurityHeaders(w, h.server.Config.Issuer)

		token, err := h.server.VerifyAccess(ctx, r.URL.Query().Get("access_token"), requiredScope)
		if err != nil {
			switch {
			case errors.Is(err, server.ErrAccessDenied):
				// Unknown token and insufficient scope share one response so
				// the guard is useless as a token-validity oracle.
				if h.server.Instrumentation != nil {
					h.server.Instrumentation.Metrics().RecordGuardDenial(ctx, r.URL.Path)
				}
				h.writeOAuthError(w, NewOAuthError(ErrorCodeAccessDenied, "access denied", http.StatusForbidden))
			default:
				if fe, ok := server.AsFlowError(err); ok {
					h.writeOAuthError(w, NewOAuthError(fe.Code, fe.Description, http.StatusBadRequest))
					return
				}
				h.logger.Error("Access verification failed", "error", err)
				h.writeOAuthError(w, ErrServerError("access verification failed"))
			}
			return
		}

		next(w, r, token.UserID)
	}
}

// serveUserInfo returns the profile document of the token's user.
func (h *Handler) serveUserInfo(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := h.server.CredentialStore().FindUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load user profile", "error", err)
		h.writeOAuthError(w, ErrServerError("failed to load user profile"))
		return
	}
	h.writeJSON(w, http.StatusOK, user.Profile)
}

// serveContacts returns the contact list of the token's user.
func (h *Handler) serveContacts(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := h.server.CredentialStore().FindUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load user contacts", "error", err)
		h.writeOAuthError(w, ErrServerError("failed to load user contacts"))
		return
	}
	contacts := user.Contacts
	if contacts == nil {
		contacts = []storage.Contact{}
	}
	h.writeJSON(w, http.StatusOK, map[string][]storage.Contact{"contacts": contacts})
}

// checkIPRateLimit applies the IP rate limiter. Returns true when the request
// was rejected.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request) bool {
	if h.server.RateLimiter == nil {
		return false
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy)
	if h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP)
	}
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
		if h.server.Auditor != nil {
			h.server.Instrumentation.Metrics().RecordAuditEvent(r.Context(), security.EventRateLimitExceeded)
		}
	}
	h.writeOAuthError(w, NewOAuthError(ErrorCodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests))
	return true
}

// writeUnauthorized answers a failed client authentication with the Basic
// challenge required by RFC 6749 section 5.2. The body never reveals whether
// the id or the secret was wrong.
func (h *Handler) writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="token endpoint"`)
	h.writeOAuthError(w, ErrInvalidClient("client authentication failed"))
}

// writeOAuthError writes the wire form of an OAuthError. The description is
// logged, never sent; the body carries only the error code.
func (h *Handler) writeOAuthError(w http.ResponseWriter, e *OAuthError) {
	h.logger.Debug("Request rejected", "error", e)
	h.writeJSON(w, e.Status, ErrorResponse{Error: e.Code})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}
