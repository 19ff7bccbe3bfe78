// Package background hosts the long-lived side of the client: it keeps the
// session fresh and answers auth and generation requests on the message bus.
package background

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teemow/edulab/internal/api"
	"github.com/teemow/edulab/internal/logging"
	"github.com/teemow/edulab/internal/messages"
	"github.com/teemow/edulab/internal/session"
)

// RefreshInterval is how often the signed-in session is refreshed.
const RefreshInterval = 30 * time.Minute

// Auth is the part of the OAuth client the worker needs.
type Auth interface {
	CurrentUser() *session.Session
	StartRefresher(ctx context.Context, interval time.Duration) <-chan struct{}
}

// Generator produces content through the proxy.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string, opts api.Options) (string, error)
}

// Worker answers checkAuth and analyzeContent.
type Worker struct {
	bus       *messages.Bus
	auth      Auth
	generator Generator
	logger    *slog.Logger

	refresherDone <-chan struct{}
}

// New creates a Worker. A nil logger falls back to slog.Default.
func New(bus *messages.Bus, auth Auth, generator Generator, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		bus:       bus,
		auth:      auth,
		generator: generator,
		logger:    logger.With("component", "background"),
	}
}

// Start registers the handlers and starts the session refresher, which runs
// until ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	if err := messages.Register(w.bus, messages.KindCheckAuth, w.checkAuth); err != nil {
		return err
	}
	if err := messages.Register(w.bus, messages.KindAnalyzeContent, w.analyzeContent); err != nil {
		return err
	}
	w.refresherDone = w.auth.StartRefresher(ctx, RefreshInterval)
	return nil
}

// Wait blocks until the refresher started by Start has stopped.
func (w *Worker) Wait() {
	if w.refresherDone != nil {
		<-w.refresherDone
	}
}

func (w *Worker) checkAuth(_ context.Context, _ messages.CheckAuth) (messages.AuthStatus, error) {
	s := w.auth.CurrentUser()
	if s == nil {
		return messages.AuthStatus{}, nil
	}
	return messages.AuthStatus{Authenticated: true, Email: s.Email, Name: s.DisplayName}, nil
}

func (w *Worker) analyzeContent(ctx context.Context, req messages.AnalyzeContent) (messages.AnalyzeResult, error) {
	logger := logging.WithOperation(w.logger, "background.analyze_content")

	content, err := w.generator.GenerateContent(ctx, req.Prompt, api.Options{
		SystemPrompt: req.SystemPrompt,
		Feature:      req.Feature,
		OnChunk:      req.OnChunk,
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("generation failed", logging.Feature(req.Feature), logging.Err(err))
		}
		return messages.AnalyzeResult{}, err
	}
	return messages.AnalyzeResult{Content: content}, nil
}
