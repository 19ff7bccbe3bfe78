package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	oauth "github.com/giantswarm/mcp-oauth"
	"github.com/google/uuid"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"
)

// DefaultSignInTimeout bounds how long the browser flow waits for the redirect.
const DefaultSignInTimeout = 5 * time.Minute

const callbackPath = "/callback"

// Authorizer runs the interactive part of sign-in and returns the issued
// token. cfg is a private copy that the Authorizer may modify.
type Authorizer interface {
	Authorize(ctx context.Context, cfg *oauth2.Config, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// BrowserAuthorizer completes the authorization code flow with PKCE in the
// user's browser and receives the redirect on 127.0.0.1.
type BrowserAuthorizer struct {
	// OpenURL opens the consent page. Defaults to browser.OpenURL.
	OpenURL func(url string) error

	// Out receives the consent URL when it cannot be opened. Defaults to
	// stderr.
	Out io.Writer

	// Timeout defaults to DefaultSignInTimeout.
	Timeout time.Duration

	// HTTPClient is used for the code exchange.
	HTTPClient *http.Client

	Logger *slog.Logger
}

type callback struct {
	result *oauth.CallbackResult
}

// Authorize implements Authorizer.
func (b *BrowserAuthorizer) Authorize(ctx context.Context, cfg *oauth2.Config, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultSignInTimeout
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, &AuthError{Code: CodeAuthorizationFail, Err: fmt.Errorf("failed to start loopback listener: %w", err)}
	}
	defer ln.Close()

	cfg.RedirectURL = "http://" + ln.Addr().String() + callbackPath

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	authOpts := append([]oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)}, opts...)
	authURL := cfg.AuthCodeURL(state, authOpts...)

	results := make(chan callback, 1)
	srv := &http.Server{
		Handler:           callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Debug("loopback server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	b.open(authURL, logger)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cb callback
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, &AuthError{Code: CodeTimeout}
	case cb = <-results:
	}

	if err := cb.result.Err(); err != nil {
		return nil, &AuthError{Code: CodeCallbackFailed, Err: err}
	}
	if cb.result.Code == "" {
		return nil, &AuthError{Code: CodeCallbackFailed, Err: errors.New("callback carried no authorization code")}
	}

	if b.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	token, err := cfg.Exchange(ctx, cb.result.Code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, &AuthError{Code: CodeExchangeFailed, Err: err}
	}
	return token, nil
}

func (b *BrowserAuthorizer) open(authURL string, logger *slog.Logger) {
	open := b.OpenURL
	if open == nil {
		open = browser.OpenURL
	}
	if err := open(authURL); err != nil {
		logger.Debug("could not open browser", "error", err)
		out := b.Out
		if out == nil {
			out = os.Stderr
		}
		fmt.Fprintf(out, "Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
	}
}

// callbackHandler forwards the first redirect carrying state. Requests
// with any other state are answered and ignored.
func callbackHandler(state string, results chan<- callback) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "Unknown sign-in request.", http.StatusBadRequest)
			return
		}
		result := oauth.ParseCallbackQuery(
			q.Get("code"),
			q.Get("state"),
			q.Get("error"),
			q.Get("error_description"),
			q.Get("error_uri"),
		)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if result.IsError() {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, "Sign-in failed. You can close this window and try again.")
		} else {
			fmt.Fprintln(w, "Signed in to edulab. You can close this window.")
		}

		select {
		case results <- callback{result: result}:
		default:
		}
	})
	return mux
}
