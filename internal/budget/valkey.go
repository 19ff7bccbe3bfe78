package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// dayTTL keeps a day's total around long enough to cover time zone skew
// between replicas.
const dayTTL = 48 * time.Hour

// ValkeyStore keeps daily totals in Valkey, one key per day.
type ValkeyStore struct {
	client valkey.Client
	prefix string
}

// NewValkeyStore wraps client.
func NewValkeyStore(client valkey.Client, prefix string) *ValkeyStore {
	return &ValkeyStore{client: client, prefix: prefix}
}

func (v *ValkeyStore) key(day string) string {
	return v.prefix + "cost:" + day
}

// Add implements Store.
func (v *ValkeyStore) Add(ctx context.Context, day string, dollars float64) (float64, error) {
	key := v.key(day)
	results := v.client.DoMulti(ctx,
		v.client.B().Incrbyfloat().Key(key).Increment(dollars).Build(),
		v.client.B().Expire().Key(key).Seconds(int64(dayTTL/time.Second)).Build(),
	)
	total, err := results[0].AsFloat64()
	if err != nil {
		return 0, fmt.Errorf("valkey INCRBYFLOAT failed: %w", err)
	}
	if err := results[1].Error(); err != nil {
		return total, fmt.Errorf("valkey EXPIRE failed: %w", err)
	}
	return total, nil
}

// Total implements Store.
func (v *ValkeyStore) Total(ctx context.Context, day string) (float64, error) {
	total, err := v.client.Do(ctx, v.client.B().Get().Key(v.key(day)).Build()).AsFloat64()
	if valkey.IsValkeyNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("valkey GET failed: %w", err)
	}
	return total, nil
}

// Prune implements Store. Past days expire on their own.
func (v *ValkeyStore) Prune(context.Context, string) error {
	return nil
}
