// Package ledger implements the prepaid financial ledger (C3): the
// transactional source of truth for account balances, with idempotent
// credit/debit operations, row-level locking, and an append-only audit
// trail.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kiku-jw/kikuai-gateway/internal/money"
)

// TransactionType tags the nature of a ledger entry.
type TransactionType string

const (
	TransactionTopUp      TransactionType = "TOPUP"
	TransactionUsage      TransactionType = "USAGE"
	TransactionRefund     TransactionType = "REFUND"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
)

// Account is identified by an opaque UUID and holds the signed balance that
// every Transaction row sums to (I1).
type Account struct {
	ID                    uuid.UUID
	TelegramID            *int64
	Email                 *string
	OAuthSubject          *string
	Balance               money.Currency
	AutoRechargeThreshold *money.Currency
	AutoRechargeAmount    *money.Currency
	DebugOptIn            bool
	MagicLinkToken        *string
	MagicLinkExpiresAt    *time.Time
	CreatedAt             time.Time
	LastActiveAt          time.Time
}

// Transaction is an append-only ledger entry. It is never updated or
// deleted once committed.
type Transaction struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	Amount         money.Currency // signed: positive = credit, negative = debit
	Type           TransactionType
	ProductID      *string
	IdempotencyKey string
	Description    string
	CreatedAt      time.Time
}

// UsageLog accompanies every USAGE Transaction (I3): they are written in
// the same database transaction.
type UsageLog struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	ProductID string
	Units     int64
	Cost      money.Currency
	Metadata  map[string]any
	CreatedAt time.Time
}

// AuditAutoRechargeTriggered is the AuditLog.Action emitted by Debit (§4.3
// step 10) when a post-debit balance falls to or below an account's
// configured auto-recharge threshold.
const AuditAutoRechargeTriggered = "AUTO_RECHARGE_TRIGGERED"

// AuditLog records security-relevant events (e.g. AUTO_RECHARGE_TRIGGERED).
type AuditLog struct {
	ID        uuid.UUID
	Action    string
	AccountID *uuid.UUID
	RequestID string
	IP        string
	UserAgent string
	Metadata  map[string]any
	CreatedAt time.Time
}

// DebugLog captures redacted request/response bodies for accounts that
// opted into per-request debug capture (C8).
type DebugLog struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	RequestID    string
	RequestBody  []byte
	ResponseBody []byte
	Status       int
	CreatedAt    time.Time
}

var (
	// ErrAccountNotFound is returned when an account id or natural key has
	// no matching row.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrInsufficientBalance is returned by Debit when balance < cost (I4).
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

// Ledger is the transactional balance store. Implementations must uphold
// I1-I4: balance equals the signed sum of all Transaction rows at every
// committed checkpoint; idempotency keys are unique; a USAGE Transaction
// and its UsageLog are written atomically; Debit never drives balance
// negative (Credit/Refund may).
type Ledger interface {
	// GetOrCreateAccountByTelegram resolves an account by Telegram id,
	// creating one if none exists. Idempotent on the natural key.
	GetOrCreateAccountByTelegram(ctx context.Context, telegramID int64) (Account, error)

	// GetOrCreateAccountByEmail resolves an account by lowercased email.
	GetOrCreateAccountByEmail(ctx context.Context, email string) (Account, error)

	// GetOrCreateAccountByOAuthSubject resolves an account by provider
	// subject, recording the email alongside on first creation.
	GetOrCreateAccountByOAuthSubject(ctx context.Context, subject, email string) (Account, error)

	// GetAccount loads an account by id.
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)

	// GetBalance returns the current balance for an account. Implementations
	// without a cache simply read through.
	GetBalance(ctx context.Context, id uuid.UUID) (money.Currency, error)

	// Credit adds amount to the account's balance inside a single
	// transaction, short-circuiting on a reused idempotency key.
	Credit(ctx context.Context, accountID uuid.UUID, amount money.Currency, idempotencyKey string, txType TransactionType, description string) (balance money.Currency, err error)

	// Debit records a USAGE transaction and subtracts cost from balance,
	// short-circuiting on a reused idempotency key and failing with
	// ErrInsufficientBalance (never writing a row) if balance < cost.
	Debit(ctx context.Context, accountID uuid.UUID, productID string, units int64, cost money.Currency, idempotencyKey string, metadata map[string]any) (balance money.Currency, err error)

	// TransactionByIdempotencyKey looks up an existing Transaction for
	// idempotent-replay callers (C6 create_payment short-circuit).
	TransactionByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error)

	// ListTransactions returns an account's transactions, most recent
	// first, bounded by limit.
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]Transaction, error)

	// UsageSummary aggregates UsageLog rows for an account within a
	// calendar month (YYYY-MM, UTC), grouped by product id.
	UsageSummary(ctx context.Context, accountID uuid.UUID, yearMonth string) (map[string]ProductUsage, error)

	// RecordAudit appends an AuditLog row. Best-effort: failures are
	// tolerated by callers per §4.3 step 10.
	RecordAudit(ctx context.Context, entry AuditLog) error

	// RecordDebug appends a DebugLog row for an opted-in account.
	RecordDebug(ctx context.Context, entry DebugLog) error

	// SetAccountSettings updates the mutable per-account settings
	// (auto-recharge threshold/amount, debug opt-in).
	SetAccountSettings(ctx context.Context, accountID uuid.UUID, autoRechargeThreshold, autoRechargeAmount *money.Currency, debugOptIn *bool) error

	// SetMagicLinkToken stores a single-use magic-link token with its
	// absolute expiry, replacing any prior token.
	SetMagicLinkToken(ctx context.Context, accountID uuid.UUID, token string, expiresAt time.Time) error

	// ConsumeMagicLinkToken atomically reads and clears the token for the
	// account matching it, returning ErrAccountNotFound if no unexpired
	// token matches.
	ConsumeMagicLinkToken(ctx context.Context, token string) (Account, error)

	// CreateAPIKey persists a new API key hash for an account.
	CreateAPIKey(ctx context.Context, key APIKey) error

	// APIKeyByPrefix looks up an active API key by its public prefix for
	// verification.
	APIKeyByPrefix(ctx context.Context, prefix string) (APIKey, bool, error)

	// TouchAPIKeyLastUsed updates last_used_at; implementations must
	// tolerate being called concurrently with itself.
	TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID) error

	// DeactivateAPIKey soft-deletes a key by clearing its active flag.
	DeactivateAPIKey(ctx context.Context, keyID uuid.UUID) error

	// ListAPIKeys returns an account's keys (active and inactive).
	ListAPIKeys(ctx context.Context, accountID uuid.UUID) ([]APIKey, error)

	Close() error
}

// ProductUsage aggregates usage for a single product within a window.
type ProductUsage struct {
	Units int64
	Cost  money.Currency
}

// APIKey belongs to exactly one Account; the server stores only the prefix
// and a keyed hash of the secret, never the secret itself.
type APIKey struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	Prefix     string
	Hash       string // hex HMAC-SHA256(server_secret, secret)
	Label      string
	Scopes     []string
	Active     bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}
