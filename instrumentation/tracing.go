package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY WARNING: never put actual credential values (grant codes, access
// tokens, client secrets, passwords) in traces or metrics. Traces are
// persisted, replicated across monitoring infrastructure, and readable by a
// wider audience than the server itself. Record metadata only: identifiers,
// scopes, error codes, durations.
const (
	// OAuth flow attributes, metadata only.
	AttrClientID         = "oauth.client_id"
	AttrUserID           = "oauth.user_id"
	AttrScope            = "oauth.scope"
	AttrGrantType        = "oauth.grant_type"
	AttrResponseType     = "oauth.response_type"
	AttrRedirectURI      = "oauth.redirect_uri"
	AttrExpiresIn        = "oauth.expires_in"
	AttrError            = "oauth.error"
	AttrErrorDescription = "oauth.error_description"

	// Storage attributes.
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes.
	AttrRateLimiterType = "security.rate_limiter.type"
	AttrAuditEventType  = "security.audit.event_type"

	// HTTP attributes.
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds common authorization flow attributes to a span (nil-safe).
func AddFlowAttributes(span trace.Span, clientID, userID, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe).
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
