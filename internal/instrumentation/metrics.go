package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	OAuthResultSuccess = "success"
	OAuthResultFailure = "failure"
	OAuthResultExpired = "expired"
	OAuthResultDenied  = "denied"

	ScopeUser      = "user"
	ScopeIP        = "ip"
	ScopeDailyCost = "daily_cost"

	// Stream event types, as returned by stream.Event.Type.
	EventContent = "content"
	EventWarning = "warning"
	EventError   = "error"
	EventDone    = "done"
)

// Metric attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrResult  = "result"
	attrFeature = "feature"
	attrScope   = "scope"
	attrType    = "type"
	attrDomain  = "user_domain"
	attrModel   = "model"
)

// Metrics provides methods for recording observability metrics.
// A zero Metrics is a valid no-op recorder.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Generation metrics
	generateRequestsTotal metric.Int64Counter
	llmRequestDuration    metric.Float64Histogram
	dailyCostTotal        metric.Float64Counter
	rateLimitRejections   metric.Int64Counter
	streamEventsTotal     metric.Int64Counter

	// OAuth metrics
	oauthAuthTotal         metric.Int64Counter
	oauthTokenRefreshTotal metric.Int64Counter

	// detailedLabels adds the user's email domain to generation metrics
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.generateRequestsTotal, err = meter.Int64Counter(
		"generate_requests_total",
		metric.WithDescription("Total number of content generation requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create generate_requests_total counter: %w", err)
	}

	m.llmRequestDuration, err = meter.Float64Histogram(
		"llm_request_duration_seconds",
		metric.WithDescription("Duration of calls to the LLM provider in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm_request_duration_seconds histogram: %w", err)
	}

	m.dailyCostTotal, err = meter.Float64Counter(
		"daily_cost_dollars_total",
		metric.WithDescription("Estimated LLM spend accumulated since start"),
		metric.WithUnit("{dollar}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create daily_cost_dollars_total counter: %w", err)
	}

	m.rateLimitRejections, err = meter.Int64Counter(
		"rate_limit_rejections_total",
		metric.WithDescription("Requests rejected by a rate limit or the cost budget"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit_rejections_total counter: %w", err)
	}

	m.streamEventsTotal, err = meter.Int64Counter(
		"stream_events_total",
		metric.WithDescription("Stream events written to clients by type"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream_events_total counter: %w", err)
	}

	m.oauthAuthTotal, err = meter.Int64Counter(
		"oauth_auth_total",
		metric.WithDescription("Total number of OAuth authentication attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_auth_total counter: %w", err)
	}

	m.oauthTokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)

	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordGenerate records one generation request.
//
// Parameters:
//   - feature: assistant feature, normalized through NormalizeFeature
//   - status: "success" or "error"
//   - email: requesting user; only its domain is used and only with detailed labels
func (m *Metrics) RecordGenerate(ctx context.Context, feature, status, email string) {
	if m == nil || m.generateRequestsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrFeature, NormalizeFeature(feature)),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels && email != "" {
		attrs = append(attrs, attribute.String(attrDomain, ExtractUserDomain(email)))
	}

	m.generateRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLLMRequest records the duration of a provider call.
func (m *Metrics) RecordLLMRequest(ctx context.Context, model, status string, duration time.Duration) {
	if m == nil || m.llmRequestDuration == nil {
		return
	}

	m.llmRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrModel, model),
		attribute.String(attrStatus, status),
	))
}

// RecordCost adds an estimated spend in dollars.
func (m *Metrics) RecordCost(ctx context.Context, dollars float64) {
	if m == nil || m.dailyCostTotal == nil || dollars <= 0 {
		return
	}

	m.dailyCostTotal.Add(ctx, dollars)
}

// RecordRateLimitRejection records a request refused by a limit.
// scope is one of ScopeUser, ScopeIP or ScopeDailyCost.
func (m *Metrics) RecordRateLimitRejection(ctx context.Context, scope string) {
	if m == nil || m.rateLimitRejections == nil {
		return
	}

	m.rateLimitRejections.Add(ctx, 1, metric.WithAttributes(attribute.String(attrScope, scope)))
}

// RecordStreamEvent records a single event written to a stream.
func (m *Metrics) RecordStreamEvent(ctx context.Context, eventType string) {
	if m == nil || m.streamEventsTotal == nil {
		return
	}

	m.streamEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrType, eventType)))
}

// RecordOAuthAuth records an OAuth authentication attempt with result.
// Result should be one of: "success", "failure", "denied"
func (m *Metrics) RecordOAuthAuth(ctx context.Context, result string) {
	if m == nil || m.oauthAuthTotal == nil {
		return
	}

	m.oauthAuthTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordOAuthTokenRefresh records an OAuth token refresh attempt with result.
// Result should be one of: "success", "failure", "expired", "denied"
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.oauthTokenRefreshTotal == nil {
		return
	}

	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}
