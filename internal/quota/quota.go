// Package quota implements the free-tier dual-window admission engine (C2).
// All state lives in the key/value store; check is idempotent and
// side-effect-free, record is not — the gateway pipeline always performs
// check before dispatch and record only after a successful upstream call,
// so upstream failures never consume free-tier quota.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kiku-jw/kikuai-gateway/internal/redisclient"
)

const (
	dailyTTL   = 48 * time.Hour
	monthlyTTL = 35 * 24 * time.Hour

	// newAccountWindow is the age under which an account's limits are
	// progressively reduced.
	newAccountWindow = 7 * 24 * time.Hour
)

// Limits are the daily/monthly caps for a product.
type Limits struct {
	Daily   int
	Monthly int
}

// scale multiplies both limits by factor, flooring, with a floor of 1 unit.
func (l Limits) scale(factor float64) Limits {
	scaled := Limits{
		Daily:   int(float64(l.Daily) * factor),
		Monthly: int(float64(l.Monthly) * factor),
	}
	if scaled.Daily < 1 {
		scaled.Daily = 1
	}
	if scaled.Monthly < 1 {
		scaled.Monthly = 1
	}
	return scaled
}

// DefaultLimits are the baseline spec limits, reconfigurable by callers that
// construct an Engine with WithLimits.
var DefaultLimits = map[string]Limits{
	"chart2csv": {Daily: 3, Monthly: 50},
	"masker":    {Daily: 100, Monthly: 2000},
	"patas":     {Daily: 100, Monthly: 10000},
	"reliapi":   {Daily: 1000, Monthly: 10000},
}

// fallbackLimits applies to products with no configured limit.
var fallbackLimits = Limits{Daily: 10, Monthly: 100}

// Result is the outcome of a Check.
type Result struct {
	Allowed         bool
	RemainingDaily  int
	RemainingMonthly int
	LimitDaily      int
	LimitMonthly    int
	ResetsDaily     time.Time
	ResetsMonthly   time.Time
}

// Engine tracks dual-window free-tier usage per (product, identity).
type Engine struct {
	kv     *redisclient.Client
	limits map[string]Limits
	now    func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLimits overrides the baseline per-product limits.
func WithLimits(limits map[string]Limits) Option {
	return func(e *Engine) { e.limits = limits }
}

// withClock overrides the time source; used by tests to pin day/month
// boundaries.
func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New constructs a quota Engine backed by the given key/value store.
func New(kv *redisclient.Client, opts ...Option) *Engine {
	e := &Engine{
		kv:     kv,
		limits: DefaultLimits,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) limitsFor(product string, accountCreatedAt *time.Time, anonymous bool) Limits {
	l, ok := e.limits[product]
	if !ok {
		l = fallbackLimits
	}
	if anonymous || accountCreatedAt == nil {
		return l
	}
	if e.now().Sub(*accountCreatedAt) < newAccountWindow {
		return l.scale(0.5)
	}
	return l
}

func dailyKey(product, identity string, at time.Time) string {
	return fmt.Sprintf("free:%s:%s:daily:%s", product, identity, at.Format("2006-01-02"))
}

func monthlyKey(product, identity string, at time.Time) string {
	return fmt.Sprintf("free:%s:%s:monthly:%s", product, identity, at.Format("2006-01"))
}

func nextUTCMidnight(at time.Time) time.Time {
	d := at.Truncate(24 * time.Hour)
	return d.AddDate(0, 0, 1)
}

func nextUTCMonth(at time.Time) time.Time {
	firstOfMonth := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, 1, 0)
}

// Check reports whether `units` more usage is admissible for (product,
// identity) without mutating any counter. accountCreatedAt is nil for
// anonymous callers (who never receive the progressive new-account
// reduction, since they aren't an account at all).
func (e *Engine) Check(ctx context.Context, product, identity string, units int, accountCreatedAt *time.Time) (Result, error) {
	now := e.now()
	limits := e.limitsFor(product, accountCreatedAt, accountCreatedAt == nil)

	dailyUsed, err := e.getCount(ctx, dailyKey(product, identity, now))
	if err != nil {
		return Result{}, err
	}
	monthlyUsed, err := e.getCount(ctx, monthlyKey(product, identity, now))
	if err != nil {
		return Result{}, err
	}

	res := Result{
		RemainingDaily:   max0(limits.Daily - dailyUsed),
		RemainingMonthly: max0(limits.Monthly - monthlyUsed),
		LimitDaily:       limits.Daily,
		LimitMonthly:     limits.Monthly,
		ResetsDaily:      nextUTCMidnight(now),
		ResetsMonthly:    nextUTCMonth(now),
	}
	res.Allowed = dailyUsed+units <= limits.Daily && monthlyUsed+units <= limits.Monthly
	return res, nil
}

// Record atomically increments both windows' counters by units and
// (re)sets their TTLs in one round trip.
func (e *Engine) Record(ctx context.Context, product, identity string, units int) (dailyCount, monthlyCount int64, err error) {
	now := e.now()
	dk := dailyKey(product, identity, now)
	mk := monthlyKey(product, identity, now)

	pipe := e.kv.Raw().Pipeline()
	dailyIncr := pipe.IncrBy(ctx, dk, int64(units))
	monthlyIncr := pipe.IncrBy(ctx, mk, int64(units))
	pipe.Expire(ctx, dk, dailyTTL)
	pipe.Expire(ctx, mk, monthlyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return dailyIncr.Val(), monthlyIncr.Val(), nil
}

func (e *Engine) getCount(ctx context.Context, key string) (int, error) {
	val, ok, err := e.kv.Get(ctx, key)
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var n int
	if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
		return 0, nil
	}
	return n, nil
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
