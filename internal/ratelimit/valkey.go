package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// takeScript checks and increments a window counter in one round trip.
// It returns {allowed, count, ttl_ms}.
const takeScript = `
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if count >= limit then
  return {0, count, ttl}
end
count = redis.call('INCR', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {1, count, ttl}
`

// ValkeyStore keeps counters in Valkey so that several proxy replicas share
// the same windows. Key expiry replaces the memory sweep.
type ValkeyStore struct {
	client valkey.Client
	prefix string
	script *valkey.Lua
	now    func() time.Time
	owned  bool
}

// NewValkeyStore wraps client. When owned is true Close also closes client.
func NewValkeyStore(client valkey.Client, prefix string, owned bool) *ValkeyStore {
	return &ValkeyStore{
		client: client,
		prefix: prefix,
		script: valkey.NewLuaScript(takeScript),
		now:    time.Now,
		owned:  owned,
	}
}

// Take implements Store.
func (v *ValkeyStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	res, err := v.script.Exec(ctx, v.client,
		[]string{v.prefix + "rl:" + key},
		[]string{fmt.Sprint(limit), fmt.Sprint(window.Milliseconds())},
	).ToArray()
	if err != nil {
		return Decision{}, fmt.Errorf("valkey rate limit script failed: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("valkey rate limit script returned %d values", len(res))
	}

	values := make([]int64, 3)
	for i, msg := range res {
		if values[i], err = msg.AsInt64(); err != nil {
			return Decision{}, fmt.Errorf("valkey rate limit script returned a non-integer: %w", err)
		}
	}

	ttl := time.Duration(values[2]) * time.Millisecond
	if ttl < 0 {
		ttl = window
	}
	return decide(int(values[1]), limit, values[0] == 1, v.now().Add(ttl)), nil
}

// Close implements Store.
func (v *ValkeyStore) Close() error {
	if v.owned {
		v.client.Close()
	}
	return nil
}
