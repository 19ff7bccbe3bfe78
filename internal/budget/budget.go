// Package budget tracks the estimated LLM spend of the current local day
// against a dollar limit.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CostPerChar is the estimated price of one prompt or output character.
const CostPerChar = 0.00001

// WarningRatio is the share of the limit at which clients are warned.
const WarningRatio = 0.9

// EstimateCost prices a generation by the size of its prompt and output.
func EstimateCost(prompt, content string) float64 {
	return float64(len(prompt)+len(content)) * CostPerChar
}

// Store accumulates spend per day key.
type Store interface {
	Add(ctx context.Context, day string, dollars float64) (float64, error)
	Total(ctx context.Context, day string) (float64, error)
	// Prune forgets every day except keep.
	Prune(ctx context.Context, keep string) error
}

// Budget is the daily spend limit.
type Budget struct {
	store  Store
	limit  float64
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Budget.
type Option func(*Budget)

// WithClock replaces time.Now. The clock's location decides when a day ends.
func WithClock(now func() time.Time) Option {
	return func(b *Budget) { b.now = now }
}

// WithLogger sets the logger used by Run.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Budget) { b.logger = logger }
}

// New creates a Budget allowing limit dollars per local day.
func New(store Store, limit float64, opts ...Option) *Budget {
	b := &Budget{
		store:  store,
		limit:  limit,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Limit returns the daily limit in dollars.
func (b *Budget) Limit() float64 {
	return b.limit
}

func (b *Budget) day() string {
	return b.now().Format(time.DateOnly)
}

// Spent returns today's spend.
func (b *Budget) Spent(ctx context.Context) (float64, error) {
	total, err := b.store.Total(ctx, b.day())
	if err != nil {
		return 0, fmt.Errorf("failed to read daily cost: %w", err)
	}
	return total, nil
}

// Exhausted reports whether today's spend has reached the limit.
func (b *Budget) Exhausted(ctx context.Context) (bool, error) {
	spent, err := b.Spent(ctx)
	if err != nil {
		return false, err
	}
	return spent >= b.limit, nil
}

// Charge adds dollars to today's spend and returns the totals before and
// after.
func (b *Budget) Charge(ctx context.Context, dollars float64) (before, after float64, err error) {
	after, err = b.store.Add(ctx, b.day(), dollars)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to record daily cost: %w", err)
	}
	return after - dollars, after, nil
}

// CrossedWarning reports whether a charge moved the spend over the warning
// threshold.
func (b *Budget) CrossedWarning(before, after float64) bool {
	threshold := b.limit * WarningRatio
	return before < threshold && after >= threshold
}

// NearLimit reports whether spent is at or above the warning threshold.
func (b *Budget) NearLimit(spent float64) bool {
	return spent >= b.limit*WarningRatio
}

// Run logs each local midnight reset and prunes past days until ctx ends.
func (b *Budget) Run(ctx context.Context) {
	for {
		now := b.now()
		timer := time.NewTimer(untilMidnight(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		b.rollover(ctx)
	}
}

func (b *Budget) rollover(ctx context.Context) {
	today := b.day()
	if err := b.store.Prune(ctx, today); err != nil {
		b.logger.Warn("failed to prune daily cost records", "error", err)
	}
	b.logger.Info("daily cost counter reset", "day", today, "limit", b.limit)
}

// untilMidnight returns the time left until the next local midnight.
func untilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}
