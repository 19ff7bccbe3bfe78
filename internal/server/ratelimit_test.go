package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/edulab/internal/identity"
	"github.com/teemow/edulab/internal/ratelimit"
)

func newUserLimiter(t *testing.T, limit int) *ratelimit.Limiter {
	t.Helper()
	store := ratelimit.NewMemoryStore(0, ratelimit.WithClock(func() time.Time { return testNow }))
	t.Cleanup(func() { _ = store.Close() })
	return ratelimit.NewLimiter(store, "user", limit, time.Hour)
}

func TestUserRateLimit(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, d *Deps) {
		d.UserLimiter = newUserLimiter(t, 2)
	})

	for i := range 2 {
		rec := env.do(authedRequest(http.MethodPost, "/api/generate", `{"prompt":"hi"}`))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := env.do(authedRequest(http.MethodPost, "/api/generate", `{"prompt":"hi"}`))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.Contains(t, body["message"], "(2)")
	assert.Equal(t, "2026-03-14T11:30:00.000Z", body["resetTime"])
	assert.Equal(t, "3601", rec.Header().Get("Retry-After"))
}

func TestUserRateLimitIsPerUser(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, d *Deps) {
		d.UserLimiter = newUserLimiter(t, 1)
	})
	env.verifier.users["piet-token"] = &identity.UserInfo{Email: "piet@student.vu.nl"}

	rec := env.do(authedRequest(http.MethodPost, "/api/generate", `{"prompt":"hi"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	r := authedRequest(http.MethodPost, "/api/generate", `{"prompt":"hi"}`)
	r.Header.Set("Authorization", "Bearer piet-token")
	r.Header.Set("X-User-Email", "piet@student.vu.nl")
	rec = env.do(r)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(authedRequest(http.MethodPost, "/api/generate", `{"prompt":"hi"}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestIPRateLimit(t *testing.T) {
	store := ratelimit.NewMemoryStore(0, ratelimit.WithClock(func() time.Time { return testNow }))
	t.Cleanup(func() { _ = store.Close() })

	env := newTestEnv(t, func(_ *Config, d *Deps) {
		d.IPLimiter = ratelimit.NewLimiter(store, "ip", 2, 15*time.Minute)
	})

	for i := range 2 {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(1-i), rec.Header().Get("RateLimit-Remaining"))
		assert.Equal(t, "900", rec.Header().Get("RateLimit-Reset"))
		assert.Equal(t, "2;w=900", rec.Header().Get("RateLimit-Policy"))
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests", decodeBody(t, rec)["error"])
	assert.Equal(t, "901", rec.Header().Get("Retry-After"))

	t.Run("checked before authentication", func(t *testing.T) {
		r := authedRequest(http.MethodGet, "/api/validate", "")
		r.Header.Del("Authorization")
		rec := env.do(r)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("probe endpoints are not counted", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("other addresses have their own window", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		r.RemoteAddr = "198.51.100.7:5555"
		rec := env.do(r)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestIPRateLimitTrustProxy(t *testing.T) {
	store := ratelimit.NewMemoryStore(0, ratelimit.WithClock(func() time.Time { return testNow }))
	t.Cleanup(func() { _ = store.Close() })

	env := newTestEnv(t, func(c *Config, d *Deps) {
		c.TrustProxy = true
		d.IPLimiter = ratelimit.NewLimiter(store, "ip", 1, 15*time.Minute)
	})

	for _, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		r.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := env.do(r)
		assert.Equal(t, http.StatusOK, rec.Code, ip)
	}
}

func TestRateStoreUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config, *Deps)
		req    func() *http.Request
	}{
		{
			name: "ip store",
			mutate: func(_ *Config, d *Deps) {
				d.IPLimiter = ratelimit.NewLimiter(failingRateStore{}, "ip", 10, time.Minute)
			},
			req: func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/health", nil) },
		},
		{
			name: "user store",
			mutate: func(_ *Config, d *Deps) {
				d.UserLimiter = ratelimit.NewLimiter(failingRateStore{}, "user", 10, time.Minute)
			},
			req: func() *http.Request {
				return authedRequest(http.MethodPost, "/api/generate", `{"prompt":"hi"}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.mutate)
			rec := env.do(tt.req())
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Empty(t, env.gen.requests)
		})
	}
}
