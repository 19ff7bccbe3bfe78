// Package google signs the CLI user in with their Google account and keeps
// the resulting access token valid.
//
// The interactive flow runs through an Authorizer; the default
// BrowserAuthorizer opens the consent page and receives the redirect on a
// loopback listener. Access is limited to accounts of the configured email
// domains: tokens issued to any other account are revoked immediately.
//
// After sign-in the Client refreshes the token without user interaction,
// either on demand through GetValidToken or periodically through
// StartRefresher.
package google
