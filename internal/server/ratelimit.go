package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teemow/edulab/internal/instrumentation"
	"github.com/teemow/edulab/internal/logging"
	"github.com/teemow/edulab/internal/ratelimit"
)

func (s *Server) clientIP(r *http.Request) string {
	return ratelimit.ClientIP(r, s.cfg.TrustProxy)
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision, window time.Duration, now time.Time) {
	reset := int(d.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if reset < 0 {
		reset = 0
	}
	h.Set("RateLimit-Policy", strconv.Itoa(d.Limit)+";w="+strconv.Itoa(int(window/time.Second)))
	h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("RateLimit-Reset", strconv.Itoa(reset))
}

// ipLimit counts every /api/ request per client address before
// authentication runs.
func (s *Server) ipLimit() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			ip := s.clientIP(r)
			d, err := s.deps.IPLimiter.Take(r.Context(), ip)
			if err != nil {
				s.logger.Error("ip rate limit store failed", logging.Err(err))
				writeError(w, ErrStoreUnavailable())
				return
			}

			now := s.now()
			setRateLimitHeaders(w.Header(), d, s.deps.IPLimiter.Window(), now)
			if !d.Allowed {
				s.deps.Metrics.RecordRateLimitRejection(r.Context(), instrumentation.ScopeIP)
				s.logger.Warn("ip rate limit exceeded", logging.ClientIP(ip))
				w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter(now)/time.Second)))
				writeError(w, ErrIPRateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userLimit counts requests per verified user. It must run after
// authentication.
func (s *Server) userLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, NewAPIError(http.StatusUnauthorized, "User not authenticated", ""))
			return
		}

		d, err := s.deps.UserLimiter.Take(r.Context(), strings.ToLower(user.Email))
		if err != nil {
			s.logger.Error("user rate limit store failed", logging.Err(err))
			writeError(w, ErrStoreUnavailable())
			return
		}
		if !d.Allowed {
			s.deps.Metrics.RecordRateLimitRejection(r.Context(), instrumentation.ScopeUser)
			s.logger.Warn("user rate limit exceeded", logging.UserHash(user.Email), "count", d.Count)
			w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter(s.now())/time.Second)))
			writeError(w, ErrUserRateLimited(d.Limit, d.ResetAt))
			return
		}

		s.logger.Debug("user request counted",
			logging.UserHash(user.Email),
			"count", d.Count,
			"limit", d.Limit)
		next.ServeHTTP(w, r)
	})
}
