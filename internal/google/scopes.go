package google

// DefaultScopes are the scopes requested at sign-in. They are enough for the
// userinfo endpoint to report the account's verified email and profile.
var DefaultScopes = []string{
	"openid",
	"email",
	"profile",
}
