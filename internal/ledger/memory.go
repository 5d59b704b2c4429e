package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiku-jw/kikuai-gateway/internal/money"
)

// MemoryLedger is an in-process Ledger implementation suitable for tests
// and single-instance development deployments. A single mutex serializes
// Credit/Debit, standing in for the row lock Postgres takes with
// SELECT ... FOR UPDATE.
type MemoryLedger struct {
	mu sync.RWMutex

	accounts         map[uuid.UUID]*Account
	byTelegram       map[int64]uuid.UUID
	byEmail          map[string]uuid.UUID
	byOAuthSubject   map[string]uuid.UUID
	byMagicToken     map[string]uuid.UUID
	transactions     map[string]Transaction // idempotency_key -> transaction
	txnByAccount     map[uuid.UUID][]Transaction
	usageLogs        map[uuid.UUID][]UsageLog
	auditLogs        []AuditLog
	debugLogs        []DebugLog
	apiKeysByPrefix  map[string]APIKey
	apiKeysByAccount map[uuid.UUID][]uuid.UUID
}

// NewMemoryLedger constructs an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts:         make(map[uuid.UUID]*Account),
		byTelegram:       make(map[int64]uuid.UUID),
		byEmail:          make(map[string]uuid.UUID),
		byOAuthSubject:   make(map[string]uuid.UUID),
		byMagicToken:     make(map[string]uuid.UUID),
		transactions:     make(map[string]Transaction),
		txnByAccount:     make(map[uuid.UUID][]Transaction),
		usageLogs:        make(map[uuid.UUID][]UsageLog),
		apiKeysByPrefix:  make(map[string]APIKey),
		apiKeysByAccount: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *MemoryLedger) Close() error { return nil }

func newAccount() *Account {
	now := time.Now().UTC()
	return &Account{ID: uuid.New(), CreatedAt: now, LastActiveAt: now}
}

func (m *MemoryLedger) GetOrCreateAccountByTelegram(ctx context.Context, telegramID int64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byTelegram[telegramID]; ok {
		return *m.accounts[id], nil
	}
	a := newAccount()
	a.TelegramID = &telegramID
	m.accounts[a.ID] = a
	m.byTelegram[telegramID] = a.ID
	return *a, nil
}

func (m *MemoryLedger) GetOrCreateAccountByEmail(ctx context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byEmail[email]; ok {
		return *m.accounts[id], nil
	}
	a := newAccount()
	a.Email = &email
	m.accounts[a.ID] = a
	m.byEmail[email] = a.ID
	return *a, nil
}

func (m *MemoryLedger) GetOrCreateAccountByOAuthSubject(ctx context.Context, subject, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byOAuthSubject[subject]; ok {
		return *m.accounts[id], nil
	}
	a := newAccount()
	a.OAuthSubject = &subject
	if email != "" {
		a.Email = &email
	}
	m.accounts[a.ID] = a
	m.byOAuthSubject[subject] = a.ID
	return *a, nil
}

func (m *MemoryLedger) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *a, nil
}

func (m *MemoryLedger) GetBalance(ctx context.Context, id uuid.UUID) (money.Currency, error) {
	a, err := m.GetAccount(ctx, id)
	if err != nil {
		return money.Currency{}, err
	}
	return a.Balance, nil
}

func (m *MemoryLedger) Credit(ctx context.Context, accountID uuid.UUID, amount money.Currency, idempotencyKey string, txType TransactionType, description string) (money.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.transactions[idempotencyKey]; ok {
		a, ok := m.accounts[existing.AccountID]
		if !ok {
			return money.Currency{}, ErrAccountNotFound
		}
		return a.Balance, nil
	}

	a, ok := m.accounts[accountID]
	if !ok {
		return money.Currency{}, ErrAccountNotFound
	}
	newBalance, err := a.Balance.Add(amount)
	if err != nil {
		return money.Currency{}, err
	}

	txn := Transaction{
		ID:             uuid.New(),
		AccountID:      accountID,
		Amount:         amount,
		Type:           txType,
		IdempotencyKey: idempotencyKey,
		Description:    description,
		CreatedAt:      time.Now().UTC(),
	}
	m.transactions[idempotencyKey] = txn
	m.txnByAccount[accountID] = append(m.txnByAccount[accountID], txn)
	a.Balance = newBalance
	a.LastActiveAt = txn.CreatedAt
	return newBalance, nil
}

func (m *MemoryLedger) Debit(ctx context.Context, accountID uuid.UUID, productID string, units int64, cost money.Currency, idempotencyKey string, metadata map[string]any) (money.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.transactions[idempotencyKey]; ok {
		a, ok := m.accounts[existing.AccountID]
		if !ok {
			return money.Currency{}, ErrAccountNotFound
		}
		return a.Balance, nil
	}

	a, ok := m.accounts[accountID]
	if !ok {
		return money.Currency{}, ErrAccountNotFound
	}
	if a.Balance.Cmp(cost) < 0 {
		return money.Currency{}, ErrInsufficientBalance
	}

	newBalance, err := a.Balance.Sub(cost)
	if err != nil {
		return money.Currency{}, err
	}

	now := time.Now().UTC()
	product := productID
	txn := Transaction{
		ID:             uuid.New(),
		AccountID:      accountID,
		Amount:         money.FromAtomic(-cost.Atomic),
		Type:           TransactionUsage,
		ProductID:      &product,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
	}
	m.transactions[idempotencyKey] = txn
	m.txnByAccount[accountID] = append(m.txnByAccount[accountID], txn)
	m.usageLogs[accountID] = append(m.usageLogs[accountID], UsageLog{
		ID:        uuid.New(),
		AccountID: accountID,
		ProductID: productID,
		Units:     units,
		Cost:      cost,
		Metadata:  metadata,
		CreatedAt: now,
	})
	a.Balance = newBalance
	a.LastActiveAt = now

	// §4.3 step 10: post-commit, best-effort auto-recharge audit trail.
	// The mutex is already held here, so this appends directly rather than
	// calling RecordAudit (which would deadlock re-acquiring m.mu).
	if a.AutoRechargeThreshold != nil && newBalance.Cmp(*a.AutoRechargeThreshold) <= 0 {
		m.auditLogs = append(m.auditLogs, AuditLog{
			ID:        uuid.New(),
			Action:    AuditAutoRechargeTriggered,
			AccountID: &accountID,
			Metadata:  map[string]any{"balance": newBalance.String(), "threshold": a.AutoRechargeThreshold.String()},
			CreatedAt: now,
		})
	}

	return newBalance, nil
}

func (m *MemoryLedger) TransactionByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transactions[key]
	return t, ok, nil
}

func (m *MemoryLedger) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := append([]Transaction(nil), m.txnByAccount[accountID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryLedger) UsageSummary(ctx context.Context, accountID uuid.UUID, yearMonth string) (map[string]ProductUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]ProductUsage{}
	for _, log := range m.usageLogs[accountID] {
		if log.CreatedAt.Format("2006-01") != yearMonth {
			continue
		}
		agg := out[log.ProductID]
		agg.Units += log.Units
		sum, err := agg.Cost.Add(log.Cost)
		if err != nil {
			return nil, err
		}
		agg.Cost = sum
		out[log.ProductID] = agg
	}
	return out, nil
}

func (m *MemoryLedger) RecordAudit(ctx context.Context, entry AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()
	m.auditLogs = append(m.auditLogs, entry)
	return nil
}

// AuditLogsFor returns the captured audit logs for an account, most recent
// first. It exists for tests; production callers read audit logs via the
// support tooling that queries Postgres (or the configured AuditStore)
// directly.
func (m *MemoryLedger) AuditLogsFor(accountID uuid.UUID) []AuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AuditLog
	for i := len(m.auditLogs) - 1; i >= 0; i-- {
		if entry := m.auditLogs[i]; entry.AccountID != nil && *entry.AccountID == accountID {
			out = append(out, entry)
		}
	}
	return out
}

// DebugLogsFor returns the captured debug logs for an account, most recent
// first. It exists for tests; production callers read debug logs via the
// support tooling that queries Postgres directly.
func (m *MemoryLedger) DebugLogsFor(accountID uuid.UUID) []DebugLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DebugLog
	for i := len(m.debugLogs) - 1; i >= 0; i-- {
		if m.debugLogs[i].AccountID == accountID {
			out = append(out, m.debugLogs[i])
		}
	}
	return out
}

func (m *MemoryLedger) RecordDebug(ctx context.Context, entry DebugLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()
	m.debugLogs = append(m.debugLogs, entry)
	return nil
}

func (m *MemoryLedger) SetAccountSettings(ctx context.Context, accountID uuid.UUID, autoRechargeThreshold, autoRechargeAmount *money.Currency, debugOptIn *bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if autoRechargeThreshold != nil {
		a.AutoRechargeThreshold = autoRechargeThreshold
	}
	if autoRechargeAmount != nil {
		a.AutoRechargeAmount = autoRechargeAmount
	}
	if debugOptIn != nil {
		a.DebugOptIn = *debugOptIn
	}
	return nil
}

func (m *MemoryLedger) SetMagicLinkToken(ctx context.Context, accountID uuid.UUID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if a.MagicLinkToken != nil {
		delete(m.byMagicToken, *a.MagicLinkToken)
	}
	a.MagicLinkToken = &token
	a.MagicLinkExpiresAt = &expiresAt
	m.byMagicToken[token] = accountID
	return nil
}

func (m *MemoryLedger) ConsumeMagicLinkToken(ctx context.Context, token string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byMagicToken[token]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	a := m.accounts[id]
	if a.MagicLinkExpiresAt == nil || time.Now().UTC().After(*a.MagicLinkExpiresAt) {
		return Account{}, ErrAccountNotFound
	}
	delete(m.byMagicToken, token)
	a.MagicLinkToken = nil
	a.MagicLinkExpiresAt = nil
	return *a, nil
}

func (m *MemoryLedger) CreateAPIKey(ctx context.Context, key APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key.CreatedAt = time.Now().UTC()
	key.Active = true
	m.apiKeysByPrefix[key.Prefix] = key
	m.apiKeysByAccount[key.AccountID] = append(m.apiKeysByAccount[key.AccountID], key.ID)
	return nil
}

func (m *MemoryLedger) APIKeyByPrefix(ctx context.Context, prefix string) (APIKey, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.apiKeysByPrefix[prefix]
	if !ok || !k.Active {
		return APIKey{}, false, nil
	}
	return k, true, nil
}

func (m *MemoryLedger) TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for prefix, k := range m.apiKeysByPrefix {
		if k.ID == keyID {
			now := time.Now().UTC()
			k.LastUsedAt = &now
			m.apiKeysByPrefix[prefix] = k
			return nil
		}
	}
	return nil
}

func (m *MemoryLedger) DeactivateAPIKey(ctx context.Context, keyID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for prefix, k := range m.apiKeysByPrefix {
		if k.ID == keyID {
			k.Active = false
			m.apiKeysByPrefix[prefix] = k
			return nil
		}
	}
	return nil
}

func (m *MemoryLedger) ListAPIKeys(ctx context.Context, accountID uuid.UUID) ([]APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []APIKey
	for _, id := range m.apiKeysByAccount[accountID] {
		for _, k := range m.apiKeysByPrefix {
			if k.ID == id {
				out = append(out, k)
			}
		}
	}
	return out, nil
}
