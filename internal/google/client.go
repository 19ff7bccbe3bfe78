package google

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/edulab/internal/identity"
	"github.com/teemow/edulab/internal/instrumentation"
	"github.com/teemow/edulab/internal/logging"
	"github.com/teemow/edulab/internal/session"
)

// DefaultRefreshInterval is how often StartRefresher renews the token.
const DefaultRefreshInterval = 30 * time.Minute

// Config identifies the OAuth client registered with Google.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string

	// AllowList restricts which accounts may sign in.
	AllowList *identity.AllowList

	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint
}

// TokenRevoker invalidates tokens at the provider.
type TokenRevoker interface {
	Revoke(ctx context.Context, token string) error
}

// Client signs the user in and keeps their Session current.
type Client struct {
	oauthCfg   oauth2.Config
	allow      *identity.AllowList
	store      session.Store
	verifier   identity.TokenVerifier
	revoker    TokenRevoker
	authorizer Authorizer
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
	httpClient *http.Client
	now        func() time.Time

	// mu guards every Session read-modify-write and the generation counter.
	mu         sync.Mutex
	generation uint64

	signIn sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithVerifier replaces the userinfo verifier.
func WithVerifier(v identity.TokenVerifier) Option {
	return func(c *Client) { c.verifier = v }
}

// WithRevoker replaces the token revoker.
func WithRevoker(r TokenRevoker) Option {
	return func(c *Client) { c.revoker = r }
}

// WithAuthorizer replaces the interactive flow.
func WithAuthorizer(a Authorizer) Option {
	return func(c *Client) { c.authorizer = a }
}

// WithMetrics records sign-in and refresh outcomes.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Client persisting to store.
func NewClient(cfg Config, store session.Store, opts ...Option) *Client {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	allow := cfg.AllowList
	if allow == nil {
		allow = identity.NewAllowList()
	}

	c := &Client{
		oauthCfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		allow:  allow,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.verifier == nil {
		c.verifier = identity.NewVerifier(identity.WithHTTPClient(c.httpClient))
	}
	if c.revoker == nil {
		c.revoker = &identity.Revoker{URL: identity.DefaultRevokeURL, HTTPClient: c.httpClient}
	}
	if c.authorizer == nil {
		c.authorizer = &BrowserAuthorizer{HTTPClient: c.httpClient, Logger: c.logger}
	}
	return c
}

func (c *Client) tokenContext(ctx context.Context) context.Context {
	if c.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	return ctx
}

// SignIn runs the interactive flow and persists the new Session. Only one
// sign-in may run at a time.
func (c *Client) SignIn(ctx context.Context) (*session.Session, error) {
	if !c.signIn.TryLock() {
		return nil, &AuthError{Code: CodeSignInInProgress}
	}
	defer c.signIn.Unlock()

	logger := logging.WithOperation(c.logger, "sign_in")

	var opts []oauth2.AuthCodeOption
	if hd := c.allow.HostedDomainHint(); hd != "" {
		opts = append(opts, oauth2.SetAuthURLParam("hd", hd))
	}

	cfg := c.oauthCfg
	token, err := c.authorizer.Authorize(c.tokenContext(ctx), &cfg, opts...)
	if err != nil {
		c.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		var authErr *AuthError
		if errors.As(err, &authErr) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &AuthError{Code: CodeAuthorizationFail, Err: err}
	}
	if token == nil || token.AccessToken == "" {
		c.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, &AuthError{Code: CodeNoToken}
	}

	info, err := c.verifier.UserInfo(ctx, token.AccessToken)
	if err != nil {
		c.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, &AuthError{Code: CodeUserInfoFailed, Err: err}
	}

	if !c.allow.IsAllowed(info.Email) {
		c.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultDenied)
		logger.Warn("sign-in refused for account outside allowed domains", logging.Domain(info.Email))
		c.revoke(ctx, logger, token.AccessToken)
		return nil, &AuthError{Code: CodeDomainDenied, Email: info.Email}
	}

	sess := &session.Session{
		Email:        info.Email,
		DisplayName:  info.Name,
		AvatarURL:    info.Picture,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		IssuedAt:     c.now(),
	}

	c.mu.Lock()
	c.generation++
	err = c.store.Save(sess)
	c.mu.Unlock()
	if err != nil {
		c.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, err
	}

	c.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	logger.Info("signed in", logging.UserHash(sess.Email))
	return sess, nil
}

// SignOut revokes the current token, best effort, and clears the Session.
func (c *Client) SignOut(ctx context.Context) error {
	logger := logging.WithOperation(c.logger, "sign_out")

	if sess := c.CurrentUser(); sess != nil && sess.AccessToken != "" {
		c.revoke(ctx, logger, sess.AccessToken)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return c.store.Clear()
}

// CurrentUser returns the persisted Session, or nil.
func (c *Client) CurrentUser() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, err := c.loadLocked()
	if err != nil {
		c.logger.Warn("failed to load session", logging.Err(err))
		return nil
	}
	return sess
}

// loadLocked loads the Session and drops it when its account is no longer
// allowed. c.mu must be held.
func (c *Client) loadLocked() (*session.Session, error) {
	sess, err := c.store.Load()
	if err != nil || sess == nil {
		return nil, err
	}
	if c.allow.IsAllowed(sess.Email) {
		return sess, nil
	}
	c.generation++
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to clear session", logging.Err(err))
	}
	c.logger.Info("stored session is outside allowed domains, sign in again", logging.Domain(sess.Email))
	return nil, nil
}

// GetValidToken returns an access token the identity provider currently
// accepts, refreshing it when needed. When the refresh fails the Session is
// cleared and "" is returned.
func (c *Client) GetValidToken(ctx context.Context) string {
	c.mu.Lock()
	sess, err := c.loadLocked()
	gen := c.generation
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("failed to load session", logging.Err(err))
		return ""
	}
	if sess == nil {
		return ""
	}

	if _, err := c.verifier.UserInfo(ctx, sess.AccessToken); err == nil {
		return sess.AccessToken
	}

	if token := c.RefreshToken(ctx); token != "" {
		return token
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return ""
	}
	c.generation++
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to clear expired session", logging.Err(err))
	}
	c.logger.Info("session expired, sign in again", logging.UserHash(sess.Email))
	return ""
}

// RefreshToken renews the access token without user interaction and
// persists it. It returns "" on any failure.
func (c *Client) RefreshToken(ctx context.Context) string {
	logger := logging.WithOperation(c.logger, "refresh_token")

	c.mu.Lock()
	sess, err := c.loadLocked()
	gen := c.generation
	c.mu.Unlock()
	if err != nil {
		logger.Warn("failed to load session", logging.Err(err))
		return ""
	}
	if sess == nil {
		return ""
	}
	if sess.RefreshToken == "" {
		c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		logger.Debug("session has no refresh token")
		return ""
	}

	// An expiry in the past forces the token source to hit the token endpoint.
	stale := sess.Token()
	stale.Expiry = time.Unix(1, 0)
	token, err := c.oauthCfg.TokenSource(c.tokenContext(ctx), stale).Token()
	if err != nil {
		if InteractionRequired(err) {
			c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultExpired)
			logger.Info("interactive sign-in required", logging.Err(err))
		} else {
			c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
			logger.Warn("token refresh failed", logging.Err(err))
		}
		return ""
	}

	info, err := c.verifier.UserInfo(ctx, token.AccessToken)
	if err != nil {
		c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		logger.Warn("refreshed token failed verification", logging.Err(err))
		return ""
	}
	if !c.allow.IsAllowed(info.Email) {
		c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultDenied)
		logger.Warn("refreshed token belongs to an account outside allowed domains", logging.Domain(info.Email))
		c.revoke(ctx, logger, token.AccessToken)
		return ""
	}

	updated := *sess
	updated.Email = info.Email
	updated.DisplayName = info.Name
	updated.AvatarURL = info.Picture
	updated.AccessToken = token.AccessToken
	updated.Expiry = token.Expiry
	if token.RefreshToken != "" {
		updated.RefreshToken = token.RefreshToken
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		logger.Info("session changed during refresh, discarding new token")
		return ""
	}
	if err := c.store.Save(&updated); err != nil {
		c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		logger.Warn("failed to persist refreshed session", logging.Err(err))
		return ""
	}

	c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
	logger.Debug("token refreshed", logging.UserHash(updated.Email))
	return updated.AccessToken
}

// StartRefresher refreshes the token every interval while a Session exists,
// until ctx is canceled. The returned channel is closed when it stops.
func (c *Client) StartRefresher(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.CurrentUser() != nil {
					c.RefreshToken(ctx)
				}
			}
		}
	}()
	return done
}

func (c *Client) revoke(ctx context.Context, logger *slog.Logger, token string) {
	if err := c.revoker.Revoke(ctx, token); err != nil {
		logger.Warn("failed to revoke token", logging.Err(err), "token", logging.SanitizeToken(token))
	}
}
