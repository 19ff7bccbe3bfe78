package instrumentation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Exporters accepted in METRICS_EXPORTER and TRACING_EXPORTER.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// DefaultMetricsPath is where the metrics server exposes Prometheus metrics.
const DefaultMetricsPath = "/metrics"

var (
	metricsExporters = []string{ExporterPrometheus, ExporterOTLP, ExporterStdout}
	tracingExporters = []string{ExporterOTLP, ExporterStdout, ExporterNone}
)

// Config describes the proxy's telemetry.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// ServiceInstanceID falls back to the hostname.
	ServiceInstanceID string
	K8sNamespace      string
	K8sPodName        string

	// Enabled false turns every recorder into a no-op.
	Enabled bool

	MetricsExporter string
	TracingExporter string

	// OTLPEndpoint is host:port without a scheme. OTLPInsecure sends
	// plain HTTP and is meant for local collectors.
	OTLPEndpoint      string
	OTLPInsecure      bool
	TraceSamplingRate float64

	// MetricsPath is served by the metrics server when MetricsExporter is
	// prometheus.
	MetricsPath string

	// DetailedLabels controls whether the user's email domain is attached to
	// generation metrics. Keep it off when many domains are allowed.
	DetailedLabels bool

	AuditLogging AuditLoggingConfig
}

// AuditLoggingConfig controls the per-generation audit records.
type AuditLoggingConfig struct {
	Enabled bool

	// IncludePII writes full email addresses instead of user hashes.
	IncludePII bool

	// Level is used for completed generations. Failures are logged at
	// warn or Level, whichever is higher.
	Level slog.Level
}

// DefaultConfig reads the telemetry settings from the environment.
func DefaultConfig() Config {
	return Config{
		ServiceName:       envString("OTEL_SERVICE_NAME", "edulab"),
		ServiceVersion:    "unknown",
		ServiceInstanceID: os.Getenv("OTEL_SERVICE_INSTANCE_ID"),
		K8sNamespace:      lo.CoalesceOrEmpty(os.Getenv("K8S_NAMESPACE"), os.Getenv("POD_NAMESPACE")),
		K8sPodName:        lo.CoalesceOrEmpty(os.Getenv("K8S_POD_NAME"), os.Getenv("HOSTNAME")),
		Enabled:           envBool("INSTRUMENTATION_ENABLED", true),
		MetricsExporter:   envString("METRICS_EXPORTER", ExporterPrometheus),
		TracingExporter:   envString("TRACING_EXPORTER", ExporterNone),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:      envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSamplingRate: envFloat("OTEL_TRACES_SAMPLER_ARG", 0.1),
		MetricsPath:       envString("PROMETHEUS_ENDPOINT", DefaultMetricsPath),
		DetailedLabels:    envBool("METRICS_DETAILED_LABELS", false),
		AuditLogging: AuditLoggingConfig{
			Enabled:    envBool("AUDIT_LOGGING_ENABLED", true),
			IncludePII: envBool("AUDIT_LOGGING_INCLUDE_PII", false),
			Level:      envLevel("AUDIT_LOGGING_LEVEL", slog.LevelInfo),
		},
	}
}

// Validate reports the first setting the provider cannot work with.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}
	if c.MetricsExporter != "" && !slices.Contains(metricsExporters, c.MetricsExporter) {
		return fmt.Errorf("invalid metrics exporter %q, must be one of: %s", c.MetricsExporter, strings.Join(metricsExporters, ", "))
	}
	if c.TracingExporter != "" && !slices.Contains(tracingExporters, c.TracingExporter) {
		return fmt.Errorf("invalid tracing exporter %q, must be one of: %s", c.TracingExporter, strings.Join(tracingExporters, ", "))
	}
	if c.OTLPEndpoint == "" && (c.TracingExporter == ExporterOTLP || c.MetricsExporter == ExporterOTLP) {
		return errors.New("OTLP endpoint is required when using an OTLP exporter")
	}
	if c.MetricsPath != "" && !strings.HasPrefix(c.MetricsPath, "/") {
		return fmt.Errorf("metrics path %q must start with /", c.MetricsPath)
	}
	return nil
}

func envString(key, fallback string) string {
	return lo.CoalesceOrEmpty(os.Getenv(key), fallback)
}

// envBool and envFloat ignore unparsable values.
func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func envLevel(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return level
}
