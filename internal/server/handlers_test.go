package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/edulab/internal/budget"
	"github.com/teemow/edulab/internal/llm"
	"github.com/teemow/edulab/internal/stream"
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.budget.Charge(context.Background(), 1.236)
	require.NoError(t, err)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"status": "healthy",
		"timestamp": "2026-03-14T10:30:00.000Z",
		"dailyCost": "1.24",
		"dailyLimit": 50
	}`, rec.Body.String())
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(authedRequest(http.MethodPost, "/api/generate",
		`{"prompt":"What is photosynthesis?","systemPrompt":"Be brief.","feature":"explain"}`))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"content":"Generated answer","user":"jane@vu.nl","feature":"explain"}`, rec.Body.String())
	assert.Equal(t, llm.Request{Prompt: "What is photosynthesis?", SystemPrompt: "Be brief."}, env.gen.lastRequest())

	spent, err := env.budget.Spent(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, budget.EstimateCost("What is photosynthesis?", "Generated answer"), spent, 1e-12)
}

func TestGenerateDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.gen.content = ""

	rec := env.do(authedRequest(http.MethodPost, "/api/generate", `{"prompt":"hi","systemPrompt":null}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"content":"No content generated","user":"jane@vu.nl","feature":"general"}`, rec.Body.String())
	assert.Empty(t, env.gen.lastRequest().SystemPrompt)
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		setup       func(t *testing.T, env *testEnv)
		wantStatus  int
		wantError   string
		wantMessage string
	}{
		{
			name:       "empty prompt",
			body:       `{"prompt":""}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Prompt is required",
		},
		{
			name:       "missing prompt",
			body:       `{"feature":"quiz"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Prompt is required",
		},
		{
			name:       "malformed json",
			body:       `{"prompt":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "api key missing",
			body:       `{"prompt":"hi"}`,
			setup:      func(_ *testing.T, env *testEnv) { env.gen.configured = false },
			wantStatus: http.StatusInternalServerError,
			wantError:  "API key not configured",
		},
		{
			name:        "provider failure",
			body:        `{"prompt":"hi"}`,
			setup:       func(_ *testing.T, env *testEnv) { env.gen.err = &llm.ProviderError{Status: 503} },
			wantStatus:  http.StatusInternalServerError,
			wantError:   "AI generation failed",
			wantMessage: "Failed to generate content",
		},
		{
			name: "daily budget exhausted",
			body: `{"prompt":"hi"}`,
			setup: func(t *testing.T, env *testEnv) {
				_, _, err := env.budget.Charge(context.Background(), DefaultDailyCostLimit)
				require.NoError(t, err)
			},
			wantStatus: http.StatusTooManyRequests,
			wantError:  "Daily cost limit reached",
		},
		{
			name: "budget checked before prompt",
			body: `{"prompt":""}`,
			setup: func(t *testing.T, env *testEnv) {
				_, _, err := env.budget.Charge(context.Background(), DefaultDailyCostLimit+1)
				require.NoError(t, err)
			},
			wantStatus: http.StatusTooManyRequests,
			wantError:  "Daily cost limit reached",
		},
		{
			name:       "prompt checked before api key",
			body:       `{"prompt":""}`,
			setup:      func(_ *testing.T, env *testEnv) { env.gen.configured = false },
			wantStatus: http.StatusBadRequest,
			wantError:  "Prompt is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(t, env)
			}

			rec := env.do(authedRequest(http.MethodPost, "/api/generate", tt.body))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			assert.Equal(t, tt.wantError, body["error"])
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, body["message"])
			}
		})
	}
}

func TestGenerateFailureIsNotCharged(t *testing.T) {
	env := newTestEnv(t)
	env.gen.err = errors.New("boom")

	rec := env.do(authedRequest(http.MethodPost, "/api/generate", `{"prompt":"hi"}`))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	spent, err := env.budget.Spent(context.Background())
	require.NoError(t, err)
	assert.Zero(t, spent)
}

func TestGenerateLogsBudgetWarningOnce(t *testing.T) {
	var logs bytes.Buffer
	limit := budget.EstimateCost("hi", "Generated answer") * 1.5
	env := newTestEnv(t, func(_ *Config, d *Deps) {
		d.Logger = slog.New(slog.NewTextHandler(&logs, nil))
		d.Budget = budget.New(budget.NewMemoryStore(), limit, budget.WithClock(func() time.Time { return testNow }))
	})

	rec := env.do(authedRequest(http.MethodPost, "/api/generate", `{"prompt":"hi"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, logs.String(), "crossed warning threshold")

	rec = env.do(authedRequest(http.MethodPost, "/api/generate", `{"prompt":"hi"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, strings.Count(logs.String(), "crossed warning threshold"))
}

func TestGeneratePayloadTooLarge(t *testing.T) {
	big := `{"prompt":"` + strings.Repeat("a", DefaultMaxBodyBytes) + `"}`

	t.Run("declared length", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(authedRequest(http.MethodPost, "/api/generate", big))
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "Payload too large", decodeBody(t, rec)["error"])
	})

	t.Run("chunked body", func(t *testing.T) {
		env := newTestEnv(t)
		r := authedRequest(http.MethodPost, "/api/generate", big)
		r.ContentLength = -1
		rec := env.do(r)
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "Payload too large", decodeBody(t, rec)["error"])
		assert.Empty(t, env.gen.requests)
	})
}

func streamRequest(body string) *http.Request {
	r := authedRequest(http.MethodPost, "/api/generate", body)
	r.Header.Set("Accept", "text/event-stream")
	return r
}

func TestGenerateStream(t *testing.T) {
	env := newTestEnv(t)
	env.gen.chunks = []string{"Photo", "synthesis"}

	rec := env.do(streamRequest(`{"prompt":"explain","feature":"explain"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)
	assert.Equal(t,
		"data: {\"content\":\"Photo\"}\n"+
			"data: {\"content\":\"synthesis\"}\n"+
			"data: {\"done\":true}\n",
		rec.Body.String())

	text, err := stream.NewRelay(nil).Consume(context.Background(), strings.NewReader(rec.Body.String()), nil)
	require.NoError(t, err)
	assert.Equal(t, "Photosynthesis", text)

	spent, err := env.budget.Spent(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, budget.EstimateCost("explain", "Photosynthesis"), spent, 1e-12)
}

func TestGenerateStreamQueryParameter(t *testing.T) {
	env := newTestEnv(t)
	env.gen.chunks = []string{"ok"}

	rec := env.do(authedRequest(http.MethodPost, "/api/generate?stream=true", `{"prompt":"hi"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: {\"done\":true}\n"))
}

func TestGenerateStreamBudgetWarning(t *testing.T) {
	env := newTestEnv(t)
	env.gen.chunks = []string{"almost out"}
	_, _, err := env.budget.Charge(context.Background(), DefaultDailyCostLimit*0.9)
	require.NoError(t, err)

	rec := env.do(streamRequest(`{"prompt":"hi"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `data: {"content":"almost out"}`, lines[0])
	assert.Contains(t, lines[1], `data: {"warning":"Daily cost limit nearly reached`)
	assert.Equal(t, `data: {"done":true}`, lines[2])
}

func TestGenerateStreamEmptyOutput(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(streamRequest(`{"prompt":"hi"}`))

	assert.Equal(t,
		"data: {\"content\":\"No content generated\"}\n"+
			"data: {\"done\":true}\n",
		rec.Body.String())
}

func TestGenerateStreamFailures(t *testing.T) {
	t.Run("before first chunk answers with json", func(t *testing.T) {
		env := newTestEnv(t)
		env.gen.err = &llm.ProviderError{Status: 500}

		rec := env.do(streamRequest(`{"prompt":"hi"}`))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
		assert.Equal(t, "AI generation failed", decodeBody(t, rec)["error"])
	})

	t.Run("mid stream sends an error record", func(t *testing.T) {
		env := newTestEnv(t)
		env.gen.chunks = []string{"partial"}
		env.gen.err = errors.New("connection reset")

		rec := env.do(streamRequest(`{"prompt":"hi"}`))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t,
			"data: {\"content\":\"partial\"}\n"+
				"data: {\"error\":\"Failed to generate content\"}\n",
			rec.Body.String())

		_, err := stream.NewRelay(nil).Consume(context.Background(), strings.NewReader(rec.Body.String()), nil)
		var streamErr *stream.StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, "Failed to generate content", streamErr.Message)

		spent, err := env.budget.Spent(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, budget.EstimateCost("hi", "partial"), spent, 1e-12)
	})
}

func TestWantsStream(t *testing.T) {
	tests := []struct {
		name   string
		target string
		accept string
		want   bool
	}{
		{"plain", "/api/generate", "application/json", false},
		{"accept header", "/api/generate", "text/event-stream", true},
		{"accept list", "/api/generate", "application/json, text/event-stream", true},
		{"query", "/api/generate?stream=true", "", true},
		{"query false", "/api/generate?stream=false", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.target, nil)
			r.Header.Set("Accept", tt.accept)
			assert.Equal(t, tt.want, wantsStream(r))
		})
	}
}
