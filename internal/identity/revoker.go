package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// DefaultRevokeURL is Google's token revocation endpoint.
const DefaultRevokeURL = "https://accounts.google.com/o/oauth2/revoke"

// Revoker invalidates access or refresh tokens at the identity provider.
type Revoker struct {
	URL        string
	HTTPClient *http.Client
}

// NewRevoker returns a Revoker for the Google endpoint.
func NewRevoker() *Revoker {
	return &Revoker{URL: DefaultRevokeURL, HTTPClient: http.DefaultClient}
}

// Revoke asks the provider to invalidate token.
func (r *Revoker) Revoke(ctx context.Context, token string) error {
	endpoint := r.URL
	if endpoint == "" {
		endpoint = DefaultRevokeURL
	}
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?token="+url.QueryEscape(token), nil)
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("revoke returned status %d", resp.StatusCode)
	}
	return nil
}
