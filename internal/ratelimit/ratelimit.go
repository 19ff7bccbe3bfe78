// Package ratelimit implements fixed-window request counters. A window opens
// on the first request for a key and lasts for the configured duration; a
// request is rejected when the window already holds limit requests.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of one Take.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before the window
// resets, rounded up to whole seconds and never below one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return wait.Truncate(time.Second) + time.Second
}

// Store holds the counters. Take must check and increment atomically per key.
type Store interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
	Close() error
}

// Limiter applies one limit to a namespace of keys.
type Limiter struct {
	store  Store
	name   string
	limit  int
	window time.Duration
}

// NewLimiter creates a Limiter. name namespaces its keys in the store so
// several limiters can share one.
func NewLimiter(store Store, name string, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, name: name, limit: limit, window: window}
}

// Take counts one request for key.
func (l *Limiter) Take(ctx context.Context, key string) (Decision, error) {
	d, err := l.store.Take(ctx, l.name+":"+key, l.limit, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", l.name, err)
	}
	return d, nil
}

// Limit returns the number of requests allowed per window.
func (l *Limiter) Limit() int {
	return l.limit
}

// Window returns the window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

func decide(count, limit int, allowed bool, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
