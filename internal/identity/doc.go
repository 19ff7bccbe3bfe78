// Package identity holds what the client and the proxy share about who a
// user is: the email domain allow-list, access token verification against
// Google's userinfo endpoint, and token revocation.
package identity
