package google

import (
	"errors"
	"fmt"

	oauth "github.com/giantswarm/mcp-oauth"
	"golang.org/x/oauth2"
)

// AuthError codes.
const (
	CodeNoToken           = "no_token"
	CodeUserInfoFailed    = "userinfo_failed"
	CodeDomainDenied      = "domain_denied"
	CodeSignInInProgress  = "sign_in_in_progress"
	CodeCallbackFailed    = "callback_failed"
	CodeExchangeFailed    = "exchange_failed"
	CodeTimeout           = "timeout"
	CodeAuthorizationFail = "authorization_failed"
)

// AuthError is a failed sign-in.
type AuthError struct {
	Code  string
	Email string
	Err   error
}

func (e *AuthError) Error() string {
	switch e.Code {
	case CodeNoToken:
		return "no access token was issued"
	case CodeUserInfoFailed:
		return fmt.Sprintf("failed to fetch user info: %v", e.Err)
	case CodeDomainDenied:
		return fmt.Sprintf("%s is not allowed to sign in, use your VU Amsterdam account", e.Email)
	case CodeSignInInProgress:
		return "another sign-in is already in progress"
	case CodeTimeout:
		return "timed out waiting for the browser sign-in"
	}
	if e.Err != nil {
		return fmt.Sprintf("sign-in failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("sign-in failed (%s)", e.Code)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is an AuthError with the given code.
func IsAuthError(err error, code string) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Code == code
}

// InteractionRequired reports whether err means the stored grant can no
// longer be used silently and the user has to sign in again. That covers the
// OIDC silent-auth error codes and a revoked or expired refresh token.
func InteractionRequired(err error) bool {
	if err == nil {
		return false
	}
	if oauth.IsSilentAuthError(err) {
		return true
	}
	var re *oauth2.RetrieveError
	return errors.As(err, &re) && re.ErrorCode == "invalid_grant"
}
