// Package api is the client side of the proxy: it attaches the signed-in
// user's credentials to requests, renews them once when the proxy rejects
// them and turns failures into messages fit for the user.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/edulab/internal/logging"
	"github.com/teemow/edulab/internal/session"
	"github.com/teemow/edulab/internal/stream"
)

// DefaultBaseURL is the proxy address used when none is configured.
const DefaultBaseURL = "http://localhost:3000"

const maxErrorBody = 4096

// TokenSource provides the signed-in user's credentials.
type TokenSource interface {
	GetValidToken(ctx context.Context) string
	RefreshToken(ctx context.Context) string
	CurrentUser() *session.Session
}

// Client calls the proxy on behalf of the signed-in user.
type Client struct {
	BaseURL     string
	ExtensionID string
	Tokens      TokenSource
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// NewClient creates a Client with default transport and logger.
func NewClient(baseURL, extensionID string, tokens TokenSource) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		ExtensionID: extensionID,
		Tokens:      tokens,
		HTTPClient:  &http.Client{Timeout: 5 * time.Minute},
		Logger:      slog.Default(),
	}
}

// Options tune one generation.
type Options struct {
	SystemPrompt string
	Feature      string

	// OnChunk, when set, switches to the streamed variant and receives each
	// content fragment as it arrives.
	OnChunk func(string)
}

type generateBody struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt *string `json:"systemPrompt"`
	Feature      string  `json:"feature"`
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

// credentials returns a valid token and the matching user email.
func (c *Client) credentials(ctx context.Context) (token, email string, err error) {
	token = c.Tokens.GetValidToken(ctx)
	if token == "" {
		return "", "", ErrNotAuthenticated
	}
	user := c.Tokens.CurrentUser()
	if user == nil || user.Email == "" {
		return "", "", ErrNotAuthenticated
	}
	return token, user.Email, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (c *Client) authorize(req *http.Request, token, email string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-User-Email", email)
	req.Header.Set("X-Extension-ID", c.ExtensionID)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &UnreachableError{BaseURL: c.BaseURL, Err: err}
	}
	return resp, nil
}

func readBackendError(resp *http.Response) *BackendError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return newBackendError(resp.StatusCode, body)
}

// GenerateContent asks the proxy for content and returns the full text. A
// 401 answer triggers exactly one token refresh and retry.
func (c *Client) GenerateContent(ctx context.Context, prompt string, opts Options) (string, error) {
	if prompt == "" {
		return "", &BackendError{Status: http.StatusBadRequest, Message: "Invalid request: prompt is required"}
	}

	body := generateBody{Prompt: prompt, Feature: opts.Feature}
	if body.Feature == "" {
		body.Feature = "general"
	}
	if opts.SystemPrompt != "" {
		body.SystemPrompt = &opts.SystemPrompt
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	logger := logging.WithOperation(c.logger(), "generate").With(logging.Feature(body.Feature))

	token, email, err := c.credentials(ctx)
	if err != nil {
		return "", err
	}

	resp, err := c.postGenerate(ctx, payload, token, email, opts.OnChunk != nil)
	if err != nil {
		return "", err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		logger.Info("backend rejected token, refreshing and retrying")

		if c.Tokens.RefreshToken(ctx) == "" {
			return "", ErrAuthExpired
		}
		token, email, err = c.credentials(ctx)
		if err != nil {
			return "", ErrAuthExpired
		}
		resp, err = c.postGenerate(ctx, payload, token, email, opts.OnChunk != nil)
		if err != nil {
			return "", err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return "", ErrAuthExpired
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		berr := readBackendError(resp)
		logger.Warn("backend returned an error", "status", berr.Status, "detail", berr.Detail)
		return "", berr
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		relay := stream.NewRelay(logging.NewSlogAdapter(logger))
		text, err := relay.Consume(ctx, resp.Body, opts.OnChunk)
		if err != nil {
			return "", err
		}
		logger.Debug("stream complete", "length", len(text))
		return text, nil
	}

	var out struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode backend response: %w", err)
	}
	if opts.OnChunk != nil && out.Content != "" {
		opts.OnChunk(out.Content)
	}
	return out.Content, nil
}

func (c *Client) postGenerate(ctx context.Context, payload []byte, token, email string, streaming bool) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/generate", payload)
	if err != nil {
		return nil, err
	}
	c.authorize(req, token, email)
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}
	return c.do(req)
}

// HealthStatus is the proxy's /api/health payload.
type HealthStatus struct {
	Status     string  `json:"status"`
	Timestamp  string  `json:"timestamp"`
	DailyCost  string  `json:"dailyCost"`
	DailyLimit float64 `json:"dailyLimit"`
}

// User is the verified caller reported by /api/validate.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ConnectionStatus summarizes ValidateConnection.
type ConnectionStatus struct {
	Healthy       bool
	Authenticated bool
	User          *User
	Health        *HealthStatus

	// Err explains why Authenticated is false, if it is.
	Err error
}

// BackendStatus returns the proxy's health payload.
func (c *Client) BackendStatus(ctx context.Context) (*HealthStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readBackendError(resp)
	}

	var health HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}

// ValidateConnection checks that the proxy is up and, when a user is signed
// in, that it accepts their credentials. Only an unhealthy proxy is reported
// as an error.
func (c *Client) ValidateConnection(ctx context.Context) (*ConnectionStatus, error) {
	health, err := c.BackendStatus(ctx)
	if err != nil {
		return &ConnectionStatus{}, err
	}
	status := &ConnectionStatus{Healthy: true, Health: health}

	token, email, err := c.credentials(ctx)
	if err != nil {
		status.Err = err
		return status, nil
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/api/validate", nil)
	if err != nil {
		return status, err
	}
	c.authorize(req, token, email)

	resp, err := c.do(req)
	if err != nil {
		status.Err = err
		return status, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Err = readBackendError(resp)
		return status, nil
	}

	var out struct {
		Valid bool `json:"valid"`
		User  User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		status.Err = fmt.Errorf("failed to decode validate response: %w", err)
		return status, nil
	}
	status.Authenticated = out.Valid
	status.User = &out.User
	return status, nil
}
