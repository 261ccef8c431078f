package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Authorization flow
	GrantCodesIssued   metric.Int64Counter
	GrantCodesRedeemed metric.Int64Counter
	TokensIssued       metric.Int64Counter
	RedemptionFailures metric.Int64Counter
	GuardDenials       metric.Int64Counter

	// Security
	RateLimitExceeded metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.HTTPRequestsTotal, err = inst.httpMeter.Int64Counter(
		"oauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = inst.httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.GrantCodesIssued, err = inst.flowMeter.Int64Counter(
		"oauth.grant_code.issued",
		metric.WithDescription("Number of grant codes issued after user approval"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant_code.issued counter: %w", err)
	}

	m.GrantCodesRedeemed, err = inst.flowMeter.Int64Counter(
		"oauth.grant_code.redeemed",
		metric.WithDescription("Number of grant codes successfully redeemed for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant_code.redeemed counter: %w", err)
	}

	m.TokensIssued, err = inst.flowMeter.Int64Counter(
		"oauth.token.issued",
		metric.WithDescription("Number of access tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.issued counter: %w", err)
	}

	m.RedemptionFailures, err = inst.flowMeter.Int64Counter(
		"oauth.grant_code.redemption_failures",
		metric.WithDescription("Number of failed grant code redemption attempts"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant_code.redemption_failures counter: %w", err)
	}

	m.GuardDenials, err = inst.flowMeter.Int64Counter(
		"oauth.resource.denials",
		metric.WithDescription("Number of resource requests denied by the access guard"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource.denials counter: %w", err)
	}

	m.RateLimitExceeded, err = inst.securityMeter.Int64Counter(
		"oauth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.AuditEventsTotal, err = inst.securityMeter.Int64Counter(
		"oauth.audit.events.total",
		metric.WithDescription("Total number of audit events recorded"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.StorageOperationTotal, err = inst.storageMeter.Int64Counter(
		"oauth.storage.operations.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations.total counter: %w", err)
	}

	m.StorageOperationDuration, err = inst.storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with its duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordGrantCodeIssued records a grant code issuance.
func (m *Metrics) RecordGrantCodeIssued(ctx context.Context, clientID string) {
	m.GrantCodesIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
	))
}

// RecordTokenIssued records a successful code-for-token exchange.
func (m *Metrics) RecordTokenIssued(ctx context.Context, clientID string) {
	attrs := metric.WithAttributes(attribute.String(AttrClientID, clientID))
	m.GrantCodesRedeemed.Add(ctx, 1, attrs)
	m.TokensIssued.Add(ctx, 1, attrs)
}

// RecordRedemptionFailure records a failed exchange attempt with its error code.
func (m *Metrics) RecordRedemptionFailure(ctx context.Context, errorCode string) {
	m.RedemptionFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrError, errorCode),
	))
}

// RecordGuardDenial records a resource request rejected by the access guard.
func (m *Metrics) RecordGuardDenial(ctx context.Context, endpoint string) {
	m.GuardDenials.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrHTTPEndpoint, endpoint),
	))
}

// RecordRateLimitExceeded records a rate limit violation.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRateLimiterType, limiterType),
	))
}

// RecordAuditEvent records an audit event by type.
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuditEventType, eventType),
	))
}

// RecordStorageOperation records a storage operation with its duration.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}
