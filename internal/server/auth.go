package server

import (
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/teemow/edulab/internal/logging"
)

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return token, token != ""
}

// authenticate verifies the caller. The checks run in a fixed order and the
// first failure answers the request.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := s.logger.With(logging.KeyRequestID, RequestIDFromContext(ctx))

		if !lo.Contains(s.cfg.AllowedExtensionIDs, r.Header.Get("X-Extension-ID")) {
			logger.Warn("rejected unknown extension", "extension_id", r.Header.Get("X-Extension-ID"))
			writeError(w, ErrInvalidExtension())
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			writeError(w, ErrNoToken())
			return
		}

		user, err := s.deps.Verifier.UserInfo(ctx, token)
		if err != nil {
			logger.Warn("token verification failed", logging.Err(err), "token", logging.SanitizeToken(token))
			writeError(w, ErrInvalidToken())
			return
		}

		if user.Email != r.Header.Get("X-User-Email") {
			logger.Warn("token email does not match header", logging.UserHash(user.Email))
			writeError(w, ErrEmailMismatch())
			return
		}

		if !s.cfg.AllowList.IsAllowed(user.Email) {
			logger.Warn("user outside allowed domains", logging.Domain(user.Email))
			writeError(w, ErrDomainDenied())
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(ctx, user)))
	})
}
