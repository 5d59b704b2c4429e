package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kiku-jw/kikuai-gateway/internal/circuitbreaker"
	"github.com/kiku-jw/kikuai-gateway/internal/money"
	"github.com/kiku-jw/kikuai-gateway/internal/redisclient"
)

// balanceCacheTTL is how long a cached balance is trusted before the next
// read falls through to Postgres.
const balanceCacheTTL = time.Hour

// Cache wraps a Ledger with a Redis-mirrored balance read path (§4.3). Every
// successful Credit/Debit writes the new balance to Redis; GetBalance reads
// Redis first and falls back to the underlying ledger on a miss or cache
// failure. The Redis round trip is guarded by a circuit breaker: five
// consecutive failures open the breaker for 60s, during which GetBalance
// skips Redis entirely. The cache is advisory only — Debit/Credit always
// write through Postgres first, so a stale or unavailable cache can never
// corrupt balance, only add one extra read lookup.
type Cache struct {
	Ledger
	kv      *redisclient.Client
	breaker *circuitbreaker.Manager
}

// NewCache wraps ledger with a Redis balance cache. kv may be nil, in which
// case the cache behaves as a pass-through to ledger.
func NewCache(ledger Ledger, kv *redisclient.Client) *Cache {
	return &Cache{
		Ledger:  ledger,
		kv:      kv,
		breaker: circuitbreaker.NewManager(circuitbreaker.DefaultConfig()),
	}
}

func balanceCacheKey(accountID uuid.UUID) string {
	return "balance:" + accountID.String()
}

// GetBalance returns the cached balance when available, otherwise reads
// through to the underlying ledger and repopulates the cache.
func (c *Cache) GetBalance(ctx context.Context, accountID uuid.UUID) (money.Currency, error) {
	if c.kv != nil {
		result, err := c.breaker.Execute(circuitbreaker.ServiceBalanceCache, func() (interface{}, error) {
			raw, found, err := c.kv.Get(ctx, balanceCacheKey(accountID))
			if err != nil || !found {
				return nil, err
			}
			return raw, nil
		})
		if err == nil && result != nil {
			if atomic, parseErr := strconv.ParseInt(result.(string), 10, 64); parseErr == nil {
				return money.FromAtomic(atomic), nil
			}
		}
	}

	account, err := c.Ledger.GetAccount(ctx, accountID)
	if err != nil {
		return money.Currency{}, err
	}
	c.writeThrough(ctx, accountID, account.Balance)
	return account.Balance, nil
}

func (c *Cache) writeThrough(ctx context.Context, accountID uuid.UUID, balance money.Currency) {
	if c.kv == nil {
		return
	}
	_, _ = c.breaker.Execute(circuitbreaker.ServiceBalanceCache, func() (interface{}, error) {
		return nil, c.kv.Set(ctx, balanceCacheKey(accountID), strconv.FormatInt(balance.Atomic, 10), balanceCacheTTL)
	})
}

func (c *Cache) Credit(ctx context.Context, accountID uuid.UUID, amount money.Currency, idempotencyKey string, txType TransactionType, description string) (money.Currency, error) {
	balance, err := c.Ledger.Credit(ctx, accountID, amount, idempotencyKey, txType, description)
	if err != nil {
		return balance, err
	}
	c.writeThrough(ctx, accountID, balance)
	return balance, nil
}

func (c *Cache) Debit(ctx context.Context, accountID uuid.UUID, productID string, units int64, cost money.Currency, idempotencyKey string, metadata map[string]any) (money.Currency, error) {
	balance, err := c.Ledger.Debit(ctx, accountID, productID, units, cost, idempotencyKey, metadata)
	if err != nil {
		return balance, err
	}
	c.writeThrough(ctx, accountID, balance)
	return balance, nil
}
