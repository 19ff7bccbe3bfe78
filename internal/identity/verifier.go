package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrInvalidToken is returned when the identity provider rejects a token.
var ErrInvalidToken = errors.New("access token rejected by identity provider")

// UserInfo is the verified identity behind an access token.
type UserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	HostedDomain  string `json:"hd,omitempty"`
	Locale        string `json:"locale,omitempty"`
}

// TokenVerifier resolves an access token to the identity it was issued for.
type TokenVerifier interface {
	UserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
}

// Verifier asks Google's userinfo endpoint who owns an access token.
type Verifier struct {
	endpoint   string
	httpClient *http.Client
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithEndpoint points the verifier at a different API root, e.g. a test server.
func WithEndpoint(endpoint string) VerifierOption {
	return func(v *Verifier) { v.endpoint = endpoint }
}

// WithHTTPClient sets the base client used for userinfo calls.
func WithHTTPClient(c *http.Client) VerifierOption {
	return func(v *Verifier) { v.httpClient = c }
}

// NewVerifier creates a Verifier.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// UserInfo verifies accessToken. Any non-2xx answer yields an error wrapping
// ErrInvalidToken; transport failures are returned wrapped as they are.
func (v *Verifier) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}

	clientCtx := ctx
	if v.httpClient != nil {
		clientCtx = context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)
	}
	client := oauth2.NewClient(clientCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if v.endpoint != "" {
		opts = append(opts, option.WithEndpoint(v.endpoint))
	}

	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: userinfo returned status %d", ErrInvalidToken, apiErr.Code)
		}
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}

	return &UserInfo{
		ID:            info.Id,
		Email:         info.Email,
		VerifiedEmail: info.VerifiedEmail != nil && *info.VerifiedEmail,
		Name:          info.Name,
		Picture:       info.Picture,
		HostedDomain:  info.Hd,
		Locale:        info.Locale,
	}, nil
}
