package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/teemow/edulab/internal/api"
	"github.com/teemow/edulab/internal/background"
	"github.com/teemow/edulab/internal/google"
	"github.com/teemow/edulab/internal/identity"
	"github.com/teemow/edulab/internal/messages"
	"github.com/teemow/edulab/internal/session"
)

// maxPageBytes bounds the content read for one request.
const maxPageBytes = 1 << 20

// ClientConfig holds the settings shared by the client commands.
type ClientConfig struct {
	BackendURL         string
	ExtensionID        string
	GoogleClientID     string
	GoogleClientSecret string
	SessionStore       string
	AllowedDomains     []string
}

func addClientFlags(cmd *cobra.Command, cfg *ClientConfig) {
	cmd.Flags().StringVar(&cfg.BackendURL, "backend-url", "", "edulab proxy URL (default "+api.DefaultBaseURL+"). Can also use EDULAB_BACKEND_URL env var.")
	cmd.Flags().StringVar(&cfg.ExtensionID, "extension-id", "", "Client ID sent as X-Extension-ID. Can also use EDULAB_EXTENSION_ID env var.")
	cmd.Flags().StringVar(&cfg.SessionStore, "session-store", "", "Where the session is kept: keyring or file (default keyring). Can also use EDULAB_SESSION_STORE env var.")
}

// loadClientEnvVars fills unset client settings from the environment.
func loadClientEnvVars(cfg *ClientConfig) {
	if cfg.BackendURL == "" {
		cfg.BackendURL = os.Getenv("EDULAB_BACKEND_URL")
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = api.DefaultBaseURL
	}
	if cfg.ExtensionID == "" {
		cfg.ExtensionID = os.Getenv("EDULAB_EXTENSION_ID")
	}
	if cfg.SessionStore == "" {
		cfg.SessionStore = os.Getenv("EDULAB_SESSION_STORE")
	}
	if cfg.GoogleClientID == "" {
		cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	}
	if cfg.GoogleClientSecret == "" {
		cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}
	if len(cfg.AllowedDomains) == 0 {
		cfg.AllowedDomains = parseCommaSeparatedList(os.Getenv("ALLOWED_DOMAINS"))
	}
}

// clientApp is the client side of edulab: OAuth, the proxy client and the
// background worker joined by a message bus.
type clientApp struct {
	oauth  *google.Client
	api    *api.Client
	prefs  *session.PreferencesStore
	bus    *messages.Bus
	worker *background.Worker

	stop context.CancelFunc
}

func newClientApp(ctx context.Context, cfg ClientConfig, stdin io.Reader) (*clientApp, error) {
	loadClientEnvVars(&cfg)

	store, err := session.NewStore(cfg.SessionStore)
	if err != nil {
		return nil, err
	}
	prefs, err := session.NewPreferencesStore()
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	oauthClient := google.NewClient(google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		AllowList:    identity.NewAllowList(cfg.AllowedDomains...),
	}, store, google.WithLogger(logger))

	apiClient := api.NewClient(cfg.BackendURL, cfg.ExtensionID, oauthClient)
	apiClient.Logger = logger

	ctx, stop := context.WithCancel(ctx)
	bus := messages.NewBus()
	app := &clientApp{
		oauth: oauthClient,
		api:   apiClient,
		prefs: prefs,
		bus:   bus,
		stop:  stop,
	}

	app.worker = background.New(bus, oauthClient, apiClient, logger)
	if err := app.worker.Start(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := messages.Register(bus, messages.KindGetPageContent, pageReader(stdin)); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// Close stops the worker and the bus.
func (a *clientApp) Close() {
	a.stop()
	if a.worker != nil {
		a.worker.Wait()
	}
	a.bus.Close()
}

func (a *clientApp) language() string {
	prefs, err := a.prefs.Load()
	if err != nil {
		slog.Debug("failed to load preferences", "error", err)
		return session.LanguageEnglish
	}
	return prefs.Language
}

// pageReader answers getPageContent from a file, or from stdin for "" and "-".
func pageReader(stdin io.Reader) func(context.Context, messages.GetPageContent) (messages.PageContent, error) {
	return func(_ context.Context, req messages.GetPageContent) (messages.PageContent, error) {
		var (
			r     io.Reader
			title string
			url   string
		)
		switch req.Source {
		case "", "-":
			r, title = stdin, "stdin"
		default:
			f, err := os.Open(req.Source)
			if err != nil {
				return messages.PageContent{}, fmt.Errorf("failed to open %s: %w", req.Source, err)
			}
			defer f.Close()
			abs, err := filepath.Abs(req.Source)
			if err != nil {
				abs = req.Source
			}
			r, title, url = f, filepath.Base(req.Source), "file://"+filepath.ToSlash(abs)
		}

		data, err := io.ReadAll(io.LimitReader(r, maxPageBytes))
		if err != nil {
			return messages.PageContent{}, fmt.Errorf("failed to read content: %w", err)
		}
		if !utf8.Valid(data) {
			return messages.PageContent{}, errors.New("content is not UTF-8 text")
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return messages.PageContent{}, errors.New("no content to analyze")
		}
		return messages.PageContent{Title: title, URL: url, Text: text}, nil
	}
}
