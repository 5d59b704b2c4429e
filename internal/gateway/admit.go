package gateway

import (
	"context"
	"time"

	"github.com/kiku-jw/kikuai-gateway/internal/catalog"
	"github.com/kiku-jw/kikuai-gateway/internal/money"
	"github.com/kiku-jw/kikuai-gateway/internal/quota"
)

// quotaEngine is the subset of quota.Engine the pipeline depends on,
// defined here so tests can substitute a fake without a live key/value
// store.
type quotaEngine interface {
	Check(ctx context.Context, product, identity string, units int, accountCreatedAt *time.Time) (quota.Result, error)
	Record(ctx context.Context, product, identity string, units int) (dailyCount, monthlyCount int64, err error)
}

// admitDecision is the outcome of step 2. Exactly one of the two result
// shapes is populated, matching whether the caller was authenticated.
type admitDecision struct {
	allowed bool

	// authenticated result
	balance money.Currency
	price   money.Currency

	// anonymous result
	quotaResult quota.Result

	// storeUnavailable distinguishes a hard quota-store outage (fail
	// closed, 503) from an ordinary over-limit rejection (429).
	storeUnavailable bool
}

// admit evaluates step 2: authenticated callers are checked against their
// ledger balance, anonymous callers against the free-tier quota engine.
// It never mutates state — recording only happens after a successful
// upstream call (step 4).
func (p *Pipeline) admit(ctx context.Context, id Identity, product catalog.Product, units int64) (admitDecision, error) {
	if !id.Anonymous {
		balance, err := p.ledger.GetBalance(ctx, id.AccountID)
		if err != nil {
			return admitDecision{}, err
		}
		price, err := product.PriceForUnits(units)
		if err != nil {
			return admitDecision{}, err
		}
		return admitDecision{
			allowed: balance.Cmp(price) >= 0,
			balance: balance,
			price:   price,
		}, nil
	}

	result, err := p.quota.Check(ctx, product.ID, id.identityKey(), int(units), nil)
	if err != nil {
		return admitDecision{storeUnavailable: true}, err
	}
	return admitDecision{allowed: result.Allowed, quotaResult: result}, nil
}

// recordUsage performs step 4 for the admitted caller: a ledger debit for
// authenticated callers, a quota counter increment for anonymous ones.
// Only called after a successful upstream response.
func (p *Pipeline) recordUsage(ctx context.Context, id Identity, product catalog.Product, nominalUnits int64, cost money.Currency, idempotencyKey string, metadata map[string]any) (money.Currency, error) {
	if !id.Anonymous {
		return p.ledger.Debit(ctx, id.AccountID, product.ID, nominalUnits, cost, idempotencyKey, metadata)
	}
	if _, _, err := p.quota.Record(ctx, product.ID, id.identityKey(), int(nominalUnits)); err != nil {
		return money.Zero(), err
	}
	return money.Zero(), nil
}
