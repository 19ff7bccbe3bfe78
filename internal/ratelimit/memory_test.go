package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_FixedWindow(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(0, WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := store.Take(ctx, "jane@vu.nl", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, i, d.Count)
		assert.Equal(t, 3-i, d.Remaining)
		assert.Equal(t, clock.Now().Add(time.Hour), d.ResetAt)
	}

	d, err := store.Take(ctx, "jane@vu.nl", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3, d.Count, "rejected requests are not counted")
	assert.Equal(t, 0, d.Remaining)

	// Exactly at resetAt the window is still closed.
	clock.Advance(time.Hour)
	d, err = store.Take(ctx, "jane@vu.nl", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	clock.Advance(time.Millisecond)
	d, err = store.Take(ctx, "jane@vu.nl", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestMemoryStore_KeysAreIndependent(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	ctx := context.Background()

	d, _ := store.Take(ctx, "a", 1, time.Minute)
	assert.True(t, d.Allowed)
	d, _ = store.Take(ctx, "a", 1, time.Minute)
	assert.False(t, d.Allowed)
	d, _ = store.Take(ctx, "b", 1, time.Minute)
	assert.True(t, d.Allowed)
}

func TestMemoryStore_ConcurrentTakeNeverExceedsLimit(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	const limit = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Take(context.Background(), "shared", limit, time.Hour)
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed)
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(0, WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	_, _ = store.Take(ctx, "short", 5, time.Minute)
	_, _ = store.Take(ctx, "long", 5, time.Hour)
	require.Equal(t, 2, store.Len())

	clock.Advance(2 * time.Minute)
	store.Sweep()
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	store := NewMemoryStore(time.Millisecond)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestLimiter_Namespaces(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	ctx := context.Background()

	user := NewLimiter(store, "user", 1, time.Hour)
	ip := NewLimiter(store, "ip", 1, 15*time.Minute)

	d, err := user.Take(ctx, "x")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = ip.Take(ctx, "x")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "limiters with different names must not share counters")

	assert.Equal(t, 1, user.Limit())
	assert.Equal(t, time.Hour, user.Window())
}

func TestDecision_RetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Second, Decision{ResetAt: now.Add(-time.Minute)}.RetryAfter(now))
	assert.Equal(t, 31*time.Second, Decision{ResetAt: now.Add(30*time.Second + 200*time.Millisecond)}.RetryAfter(now))
}
