package server

import (
	"context"

	"github.com/teemow/edulab/internal/identity"
)

type contextKey string

const (
	userContextKey      contextKey = "user"
	requestIDContextKey contextKey = "request_id"
)

// UserFromContext returns the verified user stored by the authentication
// middleware.
func UserFromContext(ctx context.Context) (*identity.UserInfo, bool) {
	u, ok := ctx.Value(userContextKey).(*identity.UserInfo)
	return u, ok && u != nil
}

func withUser(ctx context.Context, u *identity.UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// RequestIDFromContext returns the request ID assigned by the middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}
