// Package llm talks to the hosted model that generates content for the proxy.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teemow/edulab/internal/instrumentation"
	"github.com/teemow/edulab/internal/stream"
)

const (
	// DefaultBaseURL is the Gemini REST API root.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "gemini-pro"

	providerName = "gemini"

	defaultTemperature     = 0.7
	defaultMaxOutputTokens = 2048
	maxErrorBody           = 4096
)

// ErrAPIKeyMissing is returned when no API key is configured.
var ErrAPIKeyMissing = errors.New("gemini API key is not set")

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gemini returned status %d", e.Status)
}

// Request is one generation request.
type Request struct {
	Prompt       string
	SystemPrompt string
}

// Text returns the single text part sent to the model.
func (r Request) Text() string {
	if r.SystemPrompt != "" {
		return r.SystemPrompt + "\n\n" + r.Prompt
	}
	return r.Prompt
}

// Generator produces content for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	// Stream delivers fragments to onChunk as they arrive and returns the
	// full text. An error from onChunk aborts the stream.
	Stream(ctx context.Context, req Request, onChunk func(string) error) (string, error)
	Configured() bool
}

// Config configures a Gemini client.
type Config struct {
	APIKey          string
	Model           string
	BaseURL         string
	Temperature     float64
	MaxOutputTokens int
	HTTPClient      *http.Client
	Metrics         *instrumentation.Metrics
}

// Gemini calls the generateContent and streamGenerateContent endpoints.
type Gemini struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	metrics     *instrumentation.Metrics
}

// NewGemini creates a client, filling in defaults for unset fields.
func NewGemini(cfg Config) *Gemini {
	g := &Gemini{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxOutputTokens,
		httpClient:  cfg.HTTPClient,
		metrics:     cfg.Metrics,
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.baseURL == "" {
		g.baseURL = DefaultBaseURL
	}
	if g.temperature == 0 {
		g.temperature = defaultTemperature
	}
	if g.maxTokens == 0 {
		g.maxTokens = defaultMaxOutputTokens
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return g
}

// Configured reports whether an API key is set.
func (g *Gemini) Configured() bool {
	return g.apiKey != ""
}

// Model returns the model name.
func (g *Gemini) Model() string {
	return g.model
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// text returns the first part of the first candidate.
func (r generateResponse) text() string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Parts[0].Text
}

func (g *Gemini) newRequest(ctx context.Context, method string, query url.Values, req Request) (*http.Request, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: req.Text()}}}},
		GenerationConfig: generationConfig{
			Temperature:     g.temperature,
			MaxOutputTokens: g.maxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode gemini request: %w", err)
	}

	query.Set("key", g.apiKey)
	endpoint := fmt.Sprintf("%s/models/%s:%s?%s", g.baseURL, url.PathEscape(g.model), method, query.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (g *Gemini) do(ctx context.Context, method string, query url.Values, req Request) (*http.Response, error) {
	if !g.Configured() {
		return nil, ErrAPIKeyMissing
	}
	httpReq, err := g.newRequest(ctx, method, query, req)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ProviderError{Status: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, req Request) (text string, err error) {
	ctx, span := instrumentation.StartLLMSpan(ctx, providerName, g.model)
	start := time.Now()
	defer func() { g.finish(ctx, span, start, len(text), err) }()

	resp, err := g.do(ctx, "generateContent", url.Values{}, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode gemini response: %w", err)
	}
	return out.text(), nil
}

// Stream implements Generator using server-sent events.
func (g *Gemini) Stream(ctx context.Context, req Request, onChunk func(string) error) (text string, err error) {
	ctx, span := instrumentation.StartLLMSpan(ctx, providerName, g.model)
	start := time.Now()
	defer func() { g.finish(ctx, span, start, len(text), err) }()

	resp, err := g.do(ctx, "streamGenerateContent", url.Values{"alt": {"sse"}}, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := stream.NewScanner(resp.Body)
	for scanner.Scan() {
		var chunk generateResponse
		if err := json.Unmarshal(scanner.Payload(), &chunk); err != nil {
			return full.String(), fmt.Errorf("failed to decode gemini stream chunk: %w", err)
		}
		piece := chunk.text()
		if piece == "" {
			continue
		}
		full.WriteString(piece)
		if onChunk != nil {
			if err := onChunk(piece); err != nil {
				return full.String(), err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("failed to read gemini stream: %w", err)
	}
	return full.String(), nil
}
