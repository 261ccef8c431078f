package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. User
// identifiers are hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// Audit event types.
const (
	EventGrantCodeIssued   = "grant_code_issued"
	EventGrantCodeRedeemed = "grant_code_redeemed"
	EventTokenIssued       = "token_issued"
	EventAuthFailure       = "auth_failure"
	EventAccessDenied      = "access_denied"
	EventRateLimitExceeded = "rate_limit_exceeded"
)

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogGrantCodeIssued logs the issuance of a grant code at consent time
func (a *Auditor) LogGrantCodeIssued(userID, clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventGrantCodeIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenIssued logs a successful grant-code redemption
func (a *Auditor) LogTokenIssued(userID, clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogAuthFailure logs an authentication or grant-redemption failure
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAccessDenied logs a resource-guard rejection. The reason stays in the
// audit log only; the HTTP response is deliberately undifferentiated.
func (a *Auditor) LogAccessDenied(userID, requiredScope, reason string) {
	a.LogEvent(Event{
		Type:   EventAccessDenied,
		UserID: userID,
		Details: map[string]any{
			"required_scope": requiredScope,
			"reason":         reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA-256 hash of sensitive data for logging.
// Allows correlating audit entries for one user without storing the raw id.
func hashForLogging(data string) string {
	if data == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
