package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/kiku-jw/kikuai-gateway/internal/money"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id UUID PRIMARY KEY,
	telegram_id BIGINT UNIQUE,
	email TEXT UNIQUE,
	oauth_subject TEXT UNIQUE,
	balance_atomic BIGINT NOT NULL DEFAULT 0,
	auto_recharge_threshold_atomic BIGINT,
	auto_recharge_amount_atomic BIGINT,
	debug_opt_in BOOLEAN NOT NULL DEFAULT FALSE,
	magic_link_token TEXT UNIQUE,
	magic_link_expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_active_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
	id UUID PRIMARY KEY,
	account_id UUID NOT NULL REFERENCES accounts(id),
	prefix TEXT NOT NULL UNIQUE,
	hash TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	scopes TEXT[] NOT NULL DEFAULT '{}',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_used_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_api_keys_account ON api_keys(account_id);

CREATE TABLE IF NOT EXISTS transactions (
	id UUID PRIMARY KEY,
	account_id UUID NOT NULL REFERENCES accounts(id),
	amount_atomic BIGINT NOT NULL,
	type TEXT NOT NULL,
	product_id TEXT,
	idempotency_key TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, created_at DESC);

CREATE TABLE IF NOT EXISTS usage_logs (
	id UUID PRIMARY KEY,
	account_id UUID NOT NULL REFERENCES accounts(id),
	product_id TEXT NOT NULL,
	units BIGINT NOT NULL,
	cost_atomic BIGINT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_usage_logs_account_product ON usage_logs(account_id, product_id, created_at);

CREATE TABLE IF NOT EXISTS audit_logs (
	id UUID PRIMARY KEY,
	action TEXT NOT NULL,
	account_id UUID,
	request_id TEXT NOT NULL DEFAULT '',
	ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS debug_logs (
	id UUID PRIMARY KEY,
	account_id UUID NOT NULL REFERENCES accounts(id),
	request_id TEXT NOT NULL DEFAULT '',
	request_body BYTEA,
	response_body BYTEA,
	status INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// AuditStore persists AuditLog and DebugLog rows on a store separate from
// the balance ledger itself. PostgresLedger writes to its own tables by
// default; an AuditStore lets a deployment route these two append-only,
// non-transactional logs to a document store instead.
type AuditStore interface {
	RecordAudit(ctx context.Context, entry AuditLog) error
	RecordDebug(ctx context.Context, entry DebugLog) error
}

// PostgresLedger is the production Ledger backend. Every Credit/Debit runs
// inside a single sql.Tx with a row-level lock on the account (I1); the
// idempotency_key uniqueness constraint is the source of truth for
// exactly-once semantics (I2), mirroring the insert-then-check-RowsAffected
// pattern used for replay protection elsewhere in this codebase.
type PostgresLedger struct {
	db         *sql.DB
	auditStore AuditStore
}

// Option configures a PostgresLedger at construction time.
type Option func(*PostgresLedger)

// WithAuditStore routes RecordAudit/RecordDebug to store instead of this
// ledger's own audit_logs/debug_logs tables.
func WithAuditStore(store AuditStore) Option {
	return func(l *PostgresLedger) { l.auditStore = store }
}

// NewPostgresLedger opens the schema (idempotently) against db and returns a
// ready Ledger.
func NewPostgresLedger(ctx context.Context, db *sql.DB, opts ...Option) (*PostgresLedger, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("ledger: bootstrap schema: %w", err)
	}
	l := &PostgresLedger{db: db}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *PostgresLedger) Close() error { return nil } // pool owns the *sql.DB

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var a Account
	var thresholdAtomic, amountAtomic sql.NullInt64
	var telegramID sql.NullInt64
	var email, oauthSubject, magicToken sql.NullString
	var magicExpires sql.NullTime
	var balanceAtomic int64

	if err := row.Scan(
		&a.ID, &telegramID, &email, &oauthSubject, &balanceAtomic,
		&thresholdAtomic, &amountAtomic, &a.DebugOptIn,
		&magicToken, &magicExpires, &a.CreatedAt, &a.LastActiveAt,
	); err != nil {
		return Account{}, err
	}
	a.Balance = money.FromAtomic(balanceAtomic)
	if telegramID.Valid {
		v := telegramID.Int64
		a.TelegramID = &v
	}
	if email.Valid {
		v := email.String
		a.Email = &v
	}
	if oauthSubject.Valid {
		v := oauthSubject.String
		a.OAuthSubject = &v
	}
	if thresholdAtomic.Valid {
		v := money.FromAtomic(thresholdAtomic.Int64)
		a.AutoRechargeThreshold = &v
	}
	if amountAtomic.Valid {
		v := money.FromAtomic(amountAtomic.Int64)
		a.AutoRechargeAmount = &v
	}
	if magicToken.Valid {
		v := magicToken.String
		a.MagicLinkToken = &v
	}
	if magicExpires.Valid {
		v := magicExpires.Time
		a.MagicLinkExpiresAt = &v
	}
	return a, nil
}

const accountColumns = `id, telegram_id, email, oauth_subject, balance_atomic,
	auto_recharge_threshold_atomic, auto_recharge_amount_atomic, debug_opt_in,
	magic_link_token, magic_link_expires_at, created_at, last_active_at`

func (l *PostgresLedger) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (l *PostgresLedger) getOrCreateByNaturalKey(ctx context.Context, column, value string) (Account, error) {
	id := uuid.New()
	query := fmt.Sprintf(`
		INSERT INTO accounts (id, %s)
		VALUES ($1, $2)
		ON CONFLICT (%s) DO UPDATE SET last_active_at = accounts.last_active_at
		RETURNING `+accountColumns, column, column)
	row := l.db.QueryRowContext(ctx, query, id, value)
	return scanAccount(row)
}

func (l *PostgresLedger) GetOrCreateAccountByTelegram(ctx context.Context, telegramID int64) (Account, error) {
	id := uuid.New()
	row := l.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, telegram_id)
		VALUES ($1, $2)
		ON CONFLICT (telegram_id) DO UPDATE SET last_active_at = accounts.last_active_at
		RETURNING `+accountColumns, id, telegramID)
	return scanAccount(row)
}

func (l *PostgresLedger) GetOrCreateAccountByEmail(ctx context.Context, email string) (Account, error) {
	return l.getOrCreateByNaturalKey(ctx, "email", email)
}

func (l *PostgresLedger) GetOrCreateAccountByOAuthSubject(ctx context.Context, subject, email string) (Account, error) {
	id := uuid.New()
	row := l.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, oauth_subject, email)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (oauth_subject) DO UPDATE SET last_active_at = accounts.last_active_at
		RETURNING `+accountColumns, id, subject, email)
	return scanAccount(row)
}

// Credit inserts a TOPUP/REFUND/ADJUSTMENT transaction and raises balance.
// A reused idempotency_key causes the unique-constraint insert to report
// zero rows affected; in that case the existing balance is returned rather
// than erroring, matching the payment engine's idempotent-replay contract.
func (l *PostgresLedger) Credit(ctx context.Context, accountID uuid.UUID, amount money.Currency, idempotencyKey string, txType TransactionType, description string) (money.Currency, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return money.Currency{}, err
	}
	defer tx.Rollback()

	var currentAtomic int64
	if err := tx.QueryRowContext(ctx, `SELECT balance_atomic FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&currentAtomic); err != nil {
		if err == sql.ErrNoRows {
			return money.Currency{}, ErrAccountNotFound
		}
		return money.Currency{}, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, amount_atomic, type, idempotency_key, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		uuid.New(), accountID, amount.Atomic, string(txType), idempotencyKey, description)
	if err != nil {
		return money.Currency{}, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return money.Currency{}, err
	}
	if rows == 0 {
		// idempotency key already used: return the balance unchanged.
		tx.Rollback()
		return l.GetBalanceUncached(ctx, accountID)
	}

	newBalance, err := money.FromAtomic(currentAtomic).Add(amount)
	if err != nil {
		return money.Currency{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance_atomic = $1, last_active_at = now() WHERE id = $2`, newBalance.Atomic, accountID); err != nil {
		return money.Currency{}, err
	}
	if err := tx.Commit(); err != nil {
		return money.Currency{}, err
	}
	return newBalance, nil
}

// Debit inserts a USAGE transaction and its UsageLog atomically (I3),
// failing with ErrInsufficientBalance — writing nothing — when the locked
// balance is below cost (I4). A reused idempotency key short-circuits to
// the current balance without writing a second row.
func (l *PostgresLedger) Debit(ctx context.Context, accountID uuid.UUID, productID string, units int64, cost money.Currency, idempotencyKey string, metadata map[string]any) (money.Currency, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return money.Currency{}, err
	}
	defer tx.Rollback()

	var currentAtomic int64
	var thresholdAtomic sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT balance_atomic, auto_recharge_threshold_atomic FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&currentAtomic, &thresholdAtomic); err != nil {
		if err == sql.ErrNoRows {
			return money.Currency{}, ErrAccountNotFound
		}
		return money.Currency{}, err
	}

	if money.FromAtomic(currentAtomic).Cmp(cost) < 0 {
		return money.Currency{}, ErrInsufficientBalance
	}

	txnID := uuid.New()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, amount_atomic, type, product_id, idempotency_key, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		txnID, accountID, -cost.Atomic, string(TransactionUsage), productID, idempotencyKey, fmt.Sprintf("usage: %s x%d", productID, units))
	if err != nil {
		return money.Currency{}, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return money.Currency{}, err
	}
	if rows == 0 {
		tx.Rollback()
		return l.GetBalanceUncached(ctx, accountID)
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return money.Currency{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_logs (id, account_id, product_id, units, cost_atomic, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), accountID, productID, units, cost.Atomic, metaJSON); err != nil {
		return money.Currency{}, err
	}

	newBalance, err := money.FromAtomic(currentAtomic).Sub(cost)
	if err != nil {
		return money.Currency{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance_atomic = $1, last_active_at = now() WHERE id = $2`, newBalance.Atomic, accountID); err != nil {
		return money.Currency{}, err
	}
	if err := tx.Commit(); err != nil {
		return money.Currency{}, err
	}

	if thresholdAtomic.Valid {
		threshold := money.FromAtomic(thresholdAtomic.Int64)
		if newBalance.Cmp(threshold) <= 0 {
			l.recordAutoRechargeTrigger(accountID, newBalance, threshold)
		}
	}

	return newBalance, nil
}

// recordAutoRechargeTrigger is the post-commit, best-effort half of §4.3
// step 10: failures are logged and swallowed, never surfaced to the caller,
// since the debit itself already committed successfully.
func (l *PostgresLedger) recordAutoRechargeTrigger(accountID uuid.UUID, balance, threshold money.Currency) {
	entry := AuditLog{
		Action:    AuditAutoRechargeTriggered,
		AccountID: &accountID,
		Metadata:  map[string]any{"balance": balance.String(), "threshold": threshold.String()},
	}
	if err := l.RecordAudit(context.Background(), entry); err != nil {
		log.Warn().Err(err).Str("account_id", accountID.String()).Msg("ledger: auto-recharge audit write failed")
	}
}

// GetBalance reads balance directly from Postgres. Callers on the happy
// path should wrap PostgresLedger in Cache for a Redis-mirrored read.
func (l *PostgresLedger) GetBalance(ctx context.Context, accountID uuid.UUID) (money.Currency, error) {
	return l.GetBalanceUncached(ctx, accountID)
}

// GetBalanceUncached reads balance directly from Postgres, bypassing the
// Redis mirror. Callers on the happy path should prefer the Cache wrapper.
func (l *PostgresLedger) GetBalanceUncached(ctx context.Context, accountID uuid.UUID) (money.Currency, error) {
	var atomic int64
	err := l.db.QueryRowContext(ctx, `SELECT balance_atomic FROM accounts WHERE id = $1`, accountID).Scan(&atomic)
	if err == sql.ErrNoRows {
		return money.Currency{}, ErrAccountNotFound
	}
	if err != nil {
		return money.Currency{}, err
	}
	return money.FromAtomic(atomic), nil
}

func (l *PostgresLedger) TransactionByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, account_id, amount_atomic, type, product_id, idempotency_key, description, created_at
		FROM transactions WHERE idempotency_key = $1`, key)
	var t Transaction
	var amountAtomic int64
	var productID sql.NullString
	if err := row.Scan(&t.ID, &t.AccountID, &amountAtomic, &t.Type, &productID, &t.IdempotencyKey, &t.Description, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	t.Amount = money.FromAtomic(amountAtomic)
	if productID.Valid {
		v := productID.String
		t.ProductID = &v
	}
	return t, true, nil
}

func (l *PostgresLedger) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, account_id, amount_atomic, type, product_id, idempotency_key, description, created_at
		FROM transactions WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var amountAtomic int64
		var productID sql.NullString
		if err := rows.Scan(&t.ID, &t.AccountID, &amountAtomic, &t.Type, &productID, &t.IdempotencyKey, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount = money.FromAtomic(amountAtomic)
		if productID.Valid {
			v := productID.String
			t.ProductID = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) UsageSummary(ctx context.Context, accountID uuid.UUID, yearMonth string) (map[string]ProductUsage, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT product_id, SUM(units), SUM(cost_atomic)
		FROM usage_logs
		WHERE account_id = $1 AND to_char(created_at, 'YYYY-MM') = $2
		GROUP BY product_id`, accountID, yearMonth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]ProductUsage{}
	for rows.Next() {
		var productID string
		var units, costAtomic int64
		if err := rows.Scan(&productID, &units, &costAtomic); err != nil {
			return nil, err
		}
		out[productID] = ProductUsage{Units: units, Cost: money.FromAtomic(costAtomic)}
	}
	return out, rows.Err()
}

func (l *PostgresLedger) RecordAudit(ctx context.Context, entry AuditLog) error {
	if l.auditStore != nil {
		return l.auditStore.RecordAudit(ctx, entry)
	}
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, account_id, request_id, ip, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), entry.Action, entry.AccountID, entry.RequestID, entry.IP, entry.UserAgent, metaJSON)
	return err
}

func (l *PostgresLedger) RecordDebug(ctx context.Context, entry DebugLog) error {
	if l.auditStore != nil {
		return l.auditStore.RecordDebug(ctx, entry)
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO debug_logs (id, account_id, request_id, request_body, response_body, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), entry.AccountID, entry.RequestID, entry.RequestBody, entry.ResponseBody, entry.Status)
	return err
}

func (l *PostgresLedger) SetAccountSettings(ctx context.Context, accountID uuid.UUID, autoRechargeThreshold, autoRechargeAmount *money.Currency, debugOptIn *bool) error {
	var thresholdAtomic, amountAtomic sql.NullInt64
	if autoRechargeThreshold != nil {
		thresholdAtomic = sql.NullInt64{Int64: autoRechargeThreshold.Atomic, Valid: true}
	}
	if autoRechargeAmount != nil {
		amountAtomic = sql.NullInt64{Int64: autoRechargeAmount.Atomic, Valid: true}
	}
	debugValue := false
	if debugOptIn != nil {
		debugValue = *debugOptIn
	}
	_, err := l.db.ExecContext(ctx, `
		UPDATE accounts SET
			auto_recharge_threshold_atomic = COALESCE($1, auto_recharge_threshold_atomic),
			auto_recharge_amount_atomic = COALESCE($2, auto_recharge_amount_atomic),
			debug_opt_in = CASE WHEN $3::boolean IS NOT NULL THEN $4 ELSE debug_opt_in END
		WHERE id = $5`,
		thresholdAtomic, amountAtomic, debugOptIn != nil, debugValue, accountID)
	return err
}

func (l *PostgresLedger) SetMagicLinkToken(ctx context.Context, accountID uuid.UUID, token string, expiresAt time.Time) error {
	_, err := l.db.ExecContext(ctx, `UPDATE accounts SET magic_link_token = $1, magic_link_expires_at = $2 WHERE id = $3`, token, expiresAt, accountID)
	return err
}

func (l *PostgresLedger) ConsumeMagicLinkToken(ctx context.Context, token string) (Account, error) {
	row := l.db.QueryRowContext(ctx, `
		UPDATE accounts SET magic_link_token = NULL, magic_link_expires_at = NULL
		WHERE magic_link_token = $1 AND magic_link_expires_at > now()
		RETURNING `+accountColumns, token)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (l *PostgresLedger) CreateAPIKey(ctx context.Context, key APIKey) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, account_id, prefix, hash, label, scopes, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.AccountID, key.Prefix, key.Hash, key.Label, pq.Array(key.Scopes), key.Active)
	return err
}

func (l *PostgresLedger) APIKeyByPrefix(ctx context.Context, prefix string) (APIKey, bool, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, account_id, prefix, hash, label, scopes, active, created_at, last_used_at
		FROM api_keys WHERE prefix = $1 AND active`, prefix)
	var k APIKey
	var lastUsed sql.NullTime
	var scopes pq.StringArray
	if err := row.Scan(&k.ID, &k.AccountID, &k.Prefix, &k.Hash, &k.Label, &scopes, &k.Active, &k.CreatedAt, &lastUsed); err != nil {
		if err == sql.ErrNoRows {
			return APIKey{}, false, nil
		}
		return APIKey{}, false, err
	}
	k.Scopes = scopes
	if lastUsed.Valid {
		v := lastUsed.Time
		k.LastUsedAt = &v
	}
	return k, true, nil
}

func (l *PostgresLedger) TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := l.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, keyID)
	return err
}

func (l *PostgresLedger) DeactivateAPIKey(ctx context.Context, keyID uuid.UUID) error {
	_, err := l.db.ExecContext(ctx, `UPDATE api_keys SET active = FALSE WHERE id = $1`, keyID)
	return err
}

func (l *PostgresLedger) ListAPIKeys(ctx context.Context, accountID uuid.UUID) ([]APIKey, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, account_id, prefix, hash, label, scopes, active, created_at, last_used_at
		FROM api_keys WHERE account_id = $1 ORDER BY created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullTime
		var scopes pq.StringArray
		if err := rows.Scan(&k.ID, &k.AccountID, &k.Prefix, &k.Hash, &k.Label, &scopes, &k.Active, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		k.Scopes = scopes
		if lastUsed.Valid {
			v := lastUsed.Time
			k.LastUsedAt = &v
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
