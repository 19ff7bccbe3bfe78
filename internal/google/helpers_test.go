package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"golang.org/x/oauth2"

	"github.com/teemow/edulab/internal/identity"
	"github.com/teemow/edulab/internal/session"
)

const (
	testEmail   = "jane@vu.nl"
	goodCode    = "good-code"
	freshToken  = "access-fresh"
	signInToken = "access-signin"
)

// tokenServer is a fake Google token endpoint.
type tokenServer struct {
	*httptest.Server

	mu             sync.Mutex
	refreshCalls   int
	lastVerifier   string
	refreshGate    chan struct{}
	refreshEntered chan struct{}
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   ts.URL + "/auth",
		TokenURL:  ts.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// holdRefreshes makes refresh requests wait until gate is closed. entered is
// closed when the first one arrives.
func (ts *tokenServer) holdRefreshes() (gate, entered chan struct{}) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.refreshGate = make(chan struct{})
	ts.refreshEntered = make(chan struct{})
	return ts.refreshGate, ts.refreshEntered
}

func (ts *tokenServer) refreshes() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.refreshCalls
}

func (ts *tokenServer) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		ts.mu.Lock()
		ts.lastVerifier = r.PostForm.Get("code_verifier")
		ts.mu.Unlock()
		if r.PostForm.Get("code") != goodCode {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  signInToken,
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	case "refresh_token":
		ts.mu.Lock()
		ts.refreshCalls++
		gate, entered := ts.refreshGate, ts.refreshEntered
		ts.refreshEntered = nil
		ts.mu.Unlock()
		if entered != nil {
			close(entered)
		}
		if gate != nil {
			<-gate
		}
		if r.PostForm.Get("refresh_token") == "revoked" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": freshToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"unsupported_grant_type"}`)
	}
}

type fakeVerifier struct {
	mu    sync.Mutex
	users map[string]*identity.UserInfo
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{users: map[string]*identity.UserInfo{
		signInToken: {Email: testEmail, Name: "Jane Doe", Picture: "https://example.com/jane.png"},
		freshToken:  {Email: testEmail, Name: "Jane Doe"},
	}}
}

func (f *fakeVerifier) set(token string, u *identity.UserInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[token] = u
}

func (f *fakeVerifier) UserInfo(_ context.Context, token string) (*identity.UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[token]
	if !ok {
		return nil, identity.ErrInvalidToken
	}
	return u, nil
}

type fakeRevoker struct {
	mu      sync.Mutex
	revoked []string
	err     error
}

func (f *fakeRevoker) Revoke(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	return f.err
}

func (f *fakeRevoker) tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

// fakeAuthorizer returns a fixed token and remembers the consent URL it
// would have opened.
type fakeAuthorizer struct {
	token   *oauth2.Token
	err     error
	block   chan struct{}
	started chan struct{}
	authURL string
}

func (f *fakeAuthorizer) Authorize(ctx context.Context, cfg *oauth2.Config, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	f.authURL = cfg.AuthCodeURL("state", opts...)
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.token, f.err
}

var errBoom = errors.New("boom")

type testClient struct {
	*Client
	store    *session.MemoryStore
	tokens   *tokenServer
	verifier *fakeVerifier
	revoker  *fakeRevoker
	auth     *fakeAuthorizer
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	tokens := newTokenServer(t)
	tc := &testClient{
		store:    session.NewMemoryStore(),
		tokens:   tokens,
		verifier: newFakeVerifier(),
		revoker:  &fakeRevoker{},
		auth:     &fakeAuthorizer{token: &oauth2.Token{AccessToken: signInToken, RefreshToken: "refresh-1"}},
	}
	tc.Client = NewClient(
		Config{ClientID: "client-id", ClientSecret: "secret", Endpoint: tokens.endpoint()},
		tc.store,
		WithVerifier(tc.verifier),
		WithRevoker(tc.revoker),
		WithAuthorizer(tc.auth),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return tc
}

func (tc *testClient) seed(t *testing.T, accessToken, refreshToken string) {
	t.Helper()
	err := tc.store.Save(&session.Session{
		Email:        testEmail,
		DisplayName:  "Jane Doe",
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}
