// Package instrumentation wires OpenTelemetry metrics and tracing into the
// edulab backend proxy.
//
// Metrics are exported through the default Prometheus registry (served by the
// dedicated metrics server), OTLP over HTTP, or stdout for local debugging:
//   - http_requests_total and http_request_duration_seconds
//   - generate_requests_total by feature and status
//   - llm_request_duration_seconds by model and status
//   - daily_cost_dollars_total
//   - rate_limit_rejections_total by scope (user, ip, daily_cost)
//   - stream_events_total by event type
//   - oauth_auth_total and oauth_token_refresh_total
//
// Spans are opened around every generation request (StartSpan) and around
// every call to the model provider (StartLLMSpan). Only the email domain is
// ever attached to a span or metric label; per-request audit records
// (AuditLogger) hash the address unless IncludePII is set.
//
// Configuration comes from the environment, see DefaultConfig:
//   - INSTRUMENTATION_ENABLED (default true)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE
//   - OTEL_TRACES_SAMPLER_ARG (default 0.1)
//   - METRICS_DETAILED_LABELS (default false)
//   - AUDIT_LOGGING_ENABLED, AUDIT_LOGGING_INCLUDE_PII
package instrumentation
