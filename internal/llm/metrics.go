package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/edulab/internal/instrumentation"
)

func (g *Gemini) finish(ctx context.Context, span trace.Span, start time.Time, outputLen int, err error) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		span.SetAttributes(attribute.Int(instrumentation.SpanAttrOutputLength, outputLen))
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
	g.metrics.RecordLLMRequest(ctx, g.model, status, time.Since(start))
}
