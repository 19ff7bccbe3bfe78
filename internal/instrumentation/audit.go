package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/edulab/internal/logging"
)

// Generation captures one content generation request for audit logging.
//
// UserEmail is PII. General logs only carry the hashed identifier and the
// domain; the full address is written only when the AuditLogger is
// configured with IncludePII.
type Generation struct {
	UserEmail string
	Feature   string
	Streaming bool

	PromptChars  int
	OutputChars  int
	CostDollars  float64
	StatusCode   int
	ErrorMessage string

	StartTime time.Time
	Duration  time.Duration
	Success   bool

	TraceID string
	SpanID  string
}

// NewGeneration starts timing a generation for the given user and feature.
func NewGeneration(email, feature string) *Generation {
	return &Generation{
		UserEmail: email,
		Feature:   NormalizeFeature(feature),
		StartTime: time.Now(),
	}
}

// UserDomain returns the domain portion of the user's email.
func (g *Generation) UserDomain() string {
	return ExtractUserDomain(g.UserEmail)
}

// Status returns "success" or "error".
func (g *Generation) Status() string {
	if g.Success {
		return StatusSuccess
	}
	return StatusError
}

// WithStreaming marks the generation as streamed.
func (g *Generation) WithStreaming(streaming bool) *Generation {
	g.Streaming = streaming
	return g
}

// WithPrompt records the size of the prompt sent to the model.
func (g *Generation) WithPrompt(prompt string) *Generation {
	g.PromptChars = len(prompt)
	return g
}

// WithSpanContext copies the trace context of the active span.
func (g *Generation) WithSpanContext(ctx context.Context) *Generation {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		g.TraceID = sc.TraceID().String()
		g.SpanID = sc.SpanID().String()
	}
	return g
}

// Complete stops the timer and records the outcome.
func (g *Generation) Complete(outputChars int, cost float64, err error) *Generation {
	g.Duration = time.Since(g.StartTime)
	g.OutputChars = outputChars
	g.CostDollars = cost
	g.Success = err == nil
	if err != nil {
		g.ErrorMessage = err.Error()
	}
	return g
}

func (g *Generation) attrs(includePII bool) []any {
	args := []any{
		slog.String(logging.KeyFeature, g.Feature),
		slog.String("user_domain", g.UserDomain()),
		slog.Bool("streaming", g.Streaming),
		slog.Int("prompt_chars", g.PromptChars),
		slog.Int("output_chars", g.OutputChars),
		slog.Float64("cost_dollars", g.CostDollars),
		slog.Duration(logging.KeyDuration, g.Duration),
		slog.String(logging.KeyStatus, g.Status()),
	}

	if includePII {
		args = append(args, slog.String("user", g.UserEmail))
	} else {
		args = append(args, logging.UserHash(g.UserEmail))
	}
	if g.StatusCode != 0 {
		args = append(args, slog.Int("http_status", g.StatusCode))
	}
	if g.TraceID != "" {
		args = append(args, slog.String("trace_id", g.TraceID))
	}
	if g.SpanID != "" {
		args = append(args, slog.String("span_id", g.SpanID))
	}
	if g.ErrorMessage != "" {
		args = append(args, slog.String(logging.KeyError, g.ErrorMessage))
	}
	return args
}

// AuditLogger writes one structured record per generation.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
	level      slog.Level
}

// NewAuditLogger creates an enabled AuditLogger that hashes user emails.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates an AuditLogger from configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
		level:      config.Level,
	}
}

// LogGeneration writes the record at the configured level. Failed
// generations are logged at warn or above. A nil AuditLogger drops the
// record.
func (al *AuditLogger) LogGeneration(g *Generation) {
	if al == nil || !al.enabled || g == nil {
		return
	}

	if g.Success {
		al.logger.Log(context.Background(), al.level, "generation_completed", g.attrs(al.includePII)...)
	} else {
		al.logger.Log(context.Background(), max(al.level, slog.LevelWarn), "generation_failed", g.attrs(al.includePII)...)
	}
}
