package instrumentation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) (*Provider, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
		DetailedLabels:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return provider, ctx
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	provider, ctx := newTestProvider(t)
	metrics := provider.Metrics()
	require.NotNil(t, metrics)

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "GET", "/api/health", 200, 5*time.Millisecond)
	metrics.RecordHTTPRequest(ctx, "POST", "/api/generate", 500, 2*time.Second)
}

func TestMetrics_RecordGenerate(t *testing.T) {
	provider, ctx := newTestProvider(t)
	metrics := provider.Metrics()

	metrics.RecordGenerate(ctx, FeatureSummarize, StatusSuccess, "jane@vu.nl")
	metrics.RecordGenerate(ctx, "something-odd", StatusError, "")
}

func TestMetrics_RecordLLMAndCost(t *testing.T) {
	provider, ctx := newTestProvider(t)
	metrics := provider.Metrics()

	metrics.RecordLLMRequest(ctx, "gemini-pro", StatusSuccess, 800*time.Millisecond)
	metrics.RecordCost(ctx, 0.0123)
	metrics.RecordCost(ctx, 0)  // ignored
	metrics.RecordCost(ctx, -1) // ignored
}

func TestMetrics_RecordRateLimitAndStream(t *testing.T) {
	provider, ctx := newTestProvider(t)
	metrics := provider.Metrics()

	for _, scope := range []string{ScopeUser, ScopeIP, ScopeDailyCost} {
		metrics.RecordRateLimitRejection(ctx, scope)
	}
	for _, ev := range []string{EventContent, EventWarning, EventError, EventDone} {
		metrics.RecordStreamEvent(ctx, ev)
	}
}

func TestMetrics_RecordOAuth(t *testing.T) {
	provider, ctx := newTestProvider(t)
	metrics := provider.Metrics()

	metrics.RecordOAuthAuth(ctx, OAuthResultSuccess)
	metrics.RecordOAuthAuth(ctx, OAuthResultDenied)
	metrics.RecordOAuthTokenRefresh(ctx, OAuthResultSuccess)
	metrics.RecordOAuthTokenRefresh(ctx, OAuthResultFailure)
}

func TestMetrics_ZeroAndNilAreNoOps(t *testing.T) {
	ctx := context.Background()

	zero := &Metrics{}
	zero.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
	zero.RecordGenerate(ctx, "quiz", StatusSuccess, "jane@vu.nl")
	zero.RecordLLMRequest(ctx, "gemini-pro", StatusSuccess, time.Millisecond)
	zero.RecordCost(ctx, 1)
	zero.RecordRateLimitRejection(ctx, ScopeIP)
	zero.RecordStreamEvent(ctx, EventDone)
	zero.RecordOAuthAuth(ctx, OAuthResultSuccess)
	zero.RecordOAuthTokenRefresh(ctx, OAuthResultSuccess)

	var nilMetrics *Metrics
	nilMetrics.RecordGenerate(ctx, "quiz", StatusSuccess, "")
	nilMetrics.RecordOAuthTokenRefresh(ctx, OAuthResultFailure)
}
