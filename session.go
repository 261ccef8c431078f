package grantline

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionCookieName is the cookie carrying the browser session identifier.
const SessionCookieName = "grantline_session"

// defaultSessionTTL bounds how long an authenticated browser session is
// honored before the user must log in again.
const defaultSessionTTL = 24 * time.Hour

// SessionManager binds an authenticated user id to a browser session across
// the authorize flow's GET/POST round trips.
type SessionManager interface {
	// UserID returns the authenticated user for the request's session, if any.
	UserID(r *http.Request) (string, bool)

	// Authenticate binds userID to the request's session, creating the
	// session and setting its cookie when none exists yet.
	Authenticate(w http.ResponseWriter, r *http.Request, userID string)

	// Clear forgets the request's session.
	Clear(w http.ResponseWriter, r *http.Request)
}

type sessionEntry struct {
	userID    string
	expiresAt time.Time
}

// MemorySessionManager is an in-memory SessionManager keyed by a random
// cookie value. Suitable for a single-process deployment; a multi-instance
// deployment needs a shared implementation behind the same interface.
type MemorySessionManager struct {
	mu       sync.Mutex
	sessions map[string]sessionEntry
	ttl      time.Duration
	secure   bool
}

// NewMemorySessionManager creates an in-memory session manager. secure
// controls the cookie's Secure attribute and should be true whenever the
// server is reached over HTTPS.
func NewMemorySessionManager(secure bool) *MemorySessionManager {
	return &MemorySessionManager{
		sessions: make(map[string]sessionEntry),
		ttl:      defaultSessionTTL,
		secure:   secure,
	}
}

// UserID implements SessionManager.
func (m *MemorySessionManager) UserID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[cookie.Value]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.sessions, cookie.Value)
		return "", false
	}
	return entry.userID, true
}

// Authenticate implements SessionManager. The session id is always minted
// server-side at login time; a cookie value the request already carries is
// discarded, so a planted cookie can never become an authenticated session
// (session fixation).
func (m *MemorySessionManager) Authenticate(w http.ResponseWriter, r *http.Request, userID string) {
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, err := r.Cookie(SessionCookieName); err == nil {
		delete(m.sessions, old.Value)
	}
	m.sessions[id] = sessionEntry{
		userID:    userID,
		expiresAt: time.Now().Add(m.ttl),
	}
}

// Clear implements SessionManager.
func (m *MemorySessionManager) Clear(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return
	}

	m.mu.Lock()
	delete(m.sessions, cookie.Value)
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
