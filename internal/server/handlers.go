package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/edulab/internal/budget"
	"github.com/teemow/edulab/internal/identity"
	"github.com/teemow/edulab/internal/instrumentation"
	"github.com/teemow/edulab/internal/llm"
	"github.com/teemow/edulab/internal/logging"
	"github.com/teemow/edulab/internal/stream"
)

const (
	noContentFallback = "No content generated"
	streamFailMessage = "Failed to generate content"
)

// HealthStatus is the body of GET /api/health.
type HealthStatus struct {
	Status     string  `json:"status"`
	Timestamp  string  `json:"timestamp"`
	DailyCost  string  `json:"dailyCost"`
	DailyLimit float64 `json:"dailyLimit"`
}

// ValidateResponse is the body of GET /api/validate.
type ValidateResponse struct {
	Valid bool         `json:"valid"`
	User  ValidateUser `json:"user"`
}

// ValidateUser identifies the verified caller.
type ValidateUser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt *string `json:"systemPrompt"`
	Feature      string  `json:"feature"`
}

// GenerateResponse is the non-streamed answer of POST /api/generate.
type GenerateResponse struct {
	Content string `json:"content"`
	User    string `json:"user"`
	Feature string `json:"feature"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	spent, err := s.deps.Budget.Spent(r.Context())
	if err != nil {
		s.logger.Warn("failed to read daily cost for health", logging.Err(err))
	}
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:     "healthy",
		Timestamp:  s.now().UTC().Format(isoMillis),
		DailyCost:  fmt.Sprintf("%.2f", spent),
		DailyLimit: s.deps.Budget.Limit(),
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid: true,
		User:  ValidateUser{Email: user.Email, Name: user.Name},
	})
}

// wantsStream reports whether the client asked for the streamed variant.
func wantsStream(r *http.Request) bool {
	if r.URL.Query().Get("stream") == "true" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func decodeGenerateRequest(r *http.Request) (GenerateRequest, *APIError) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, ErrPayloadTooLarge(tooLarge.Limit)
		}
		return req, ErrInvalidBody(err.Error())
	}
	return req, nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	req, apiErr := decodeGenerateRequest(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if req.Feature == "" {
		req.Feature = instrumentation.FeatureGeneral
	}

	streaming := wantsStream(r)
	ctx, span := instrumentation.StartSpan(r.Context(), "edulab.generate",
		instrumentation.NewSpanAttributeBuilder().
			WithFeature(req.Feature).
			WithUser(user.Email).
			WithStreaming(streaming).
			WithPromptLength(len(req.Prompt)).
			Build()...)
	defer span.End()

	logger := s.logger.With(
		logging.KeyRequestID, RequestIDFromContext(ctx),
		logging.UserHash(user.Email),
		logging.Feature(req.Feature))

	exhausted, err := s.deps.Budget.Exhausted(ctx)
	if err != nil {
		logger.Error("failed to read daily cost", logging.Err(err))
		instrumentation.SetSpanError(span, err)
		writeError(w, ErrStoreUnavailable())
		return
	}
	if exhausted {
		s.deps.Metrics.RecordRateLimitRejection(ctx, instrumentation.ScopeDailyCost)
		logger.Warn("daily cost limit reached", "limit", s.deps.Budget.Limit())
		writeError(w, ErrDailyCostLimit())
		return
	}

	if req.Prompt == "" {
		writeError(w, ErrPromptRequired())
		return
	}

	if !s.deps.Generator.Configured() {
		logger.Error("generation requested without an API key")
		writeError(w, ErrAPIKeyMissing())
		return
	}

	llmReq := llm.Request{Prompt: req.Prompt}
	if req.SystemPrompt != nil {
		llmReq.SystemPrompt = *req.SystemPrompt
	}

	gen := instrumentation.NewGeneration(user.Email, req.Feature).
		WithStreaming(streaming).
		WithPrompt(req.Prompt).
		WithSpanContext(ctx)

	if streaming {
		s.generateStream(ctx, w, span, logger, user, req, llmReq, gen)
		return
	}

	content, err := s.deps.Generator.Generate(ctx, llmReq)
	if err != nil {
		s.generationFailed(ctx, span, logger, user, req, gen, err)
		writeError(w, ErrGenerationFailed())
		return
	}
	if content == "" {
		content = noContentFallback
	}

	cost, _ := s.charge(ctx, logger, req.Prompt, content)
	s.deps.Metrics.RecordGenerate(ctx, req.Feature, instrumentation.StatusSuccess, user.Email)
	gen.StatusCode = http.StatusOK
	s.deps.Audit.LogGeneration(gen.Complete(len(content), cost, nil))
	instrumentation.SetSpanSuccess(span)

	writeJSON(w, http.StatusOK, GenerateResponse{
		Content: content,
		User:    user.Email,
		Feature: req.Feature,
	})
}

func (s *Server) generateStream(ctx context.Context, w http.ResponseWriter, span trace.Span, logger *slog.Logger,
	user *identity.UserInfo, req GenerateRequest, llmReq llm.Request, gen *instrumentation.Generation) {
	sw := stream.NewWriter(w, func(ev stream.Event) {
		s.deps.Metrics.RecordStreamEvent(ctx, ev.Type())
	})

	text, err := s.deps.Generator.Stream(ctx, llmReq, sw.Content)
	if err != nil {
		if text != "" {
			s.charge(ctx, logger, req.Prompt, text)
		}
		s.generationFailed(ctx, span, logger, user, req, gen, err)
		if !sw.Started() {
			writeError(w, ErrGenerationFailed())
			return
		}
		if ferr := sw.Fail(streamFailMessage); ferr != nil {
			logger.Warn("failed to send stream error", logging.Err(ferr))
		}
		return
	}

	if text == "" {
		text = noContentFallback
		if err := sw.Content(text); err != nil {
			logger.Warn("failed to send fallback content", logging.Err(err))
			return
		}
	}

	cost, after := s.charge(ctx, logger, req.Prompt, text)
	if s.deps.Budget.NearLimit(after) {
		msg := fmt.Sprintf("Daily cost limit nearly reached ($%.2f of $%.2f)", after, s.deps.Budget.Limit())
		if err := sw.Warning(msg); err != nil {
			logger.Warn("failed to send budget warning", logging.Err(err))
		}
	}
	if err := sw.Done(); err != nil {
		logger.Warn("failed to close stream", logging.Err(err))
	}

	s.deps.Metrics.RecordGenerate(ctx, req.Feature, instrumentation.StatusSuccess, user.Email)
	gen.StatusCode = http.StatusOK
	s.deps.Audit.LogGeneration(gen.Complete(len(text), cost, nil))
	instrumentation.SetSpanSuccess(span)
}

// charge adds the estimated cost of a generation to the daily budget and
// returns the cost and the spend after it.
func (s *Server) charge(ctx context.Context, logger *slog.Logger, prompt, content string) (cost, after float64) {
	cost = budget.EstimateCost(prompt, content)
	before, after, err := s.deps.Budget.Charge(ctx, cost)
	if err != nil {
		logger.Error("failed to record generation cost", logging.Err(err), "cost", cost)
		return cost, 0
	}
	s.deps.Metrics.RecordCost(ctx, cost)
	if s.deps.Budget.CrossedWarning(before, after) {
		logger.Warn("daily cost crossed warning threshold", "spent", after, "limit", s.deps.Budget.Limit())
	}
	return cost, after
}

func (s *Server) generationFailed(ctx context.Context, span trace.Span, logger *slog.Logger,
	user *identity.UserInfo, req GenerateRequest, gen *instrumentation.Generation, err error) {
	logger.Error("generation failed", logging.Err(err))
	instrumentation.SetSpanError(span, err)
	s.deps.Metrics.RecordGenerate(ctx, req.Feature, instrumentation.StatusError, user.Email)
	gen.StatusCode = http.StatusInternalServerError
	s.deps.Audit.LogGeneration(gen.Complete(0, 0, err))
}
