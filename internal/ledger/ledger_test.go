package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/kiku-jw/kikuai-gateway/internal/money"
)

func mustCurrency(t *testing.T, major string) money.Currency {
	t.Helper()
	c, err := money.FromMajor(major)
	if err != nil {
		t.Fatalf("FromMajor(%q): %v", major, err)
	}
	return c
}

func TestCreditIncreasesBalance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a, _ := l.GetOrCreateAccountByTelegram(ctx, 42)

	bal, err := l.Credit(ctx, a.ID, mustCurrency(t, "10.00"), "topup-1", TransactionTopUp, "initial")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if bal.String() != "10.00000000" {
		t.Errorf("balance = %s, want 10.00000000", bal.String())
	}
}

func TestCreditIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a, _ := l.GetOrCreateAccountByTelegram(ctx, 1)

	first, err := l.Credit(ctx, a.ID, mustCurrency(t, "5.00"), "dup-key", TransactionTopUp, "")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	second, err := l.Credit(ctx, a.ID, mustCurrency(t, "5.00"), "dup-key", TransactionTopUp, "")
	if err != nil {
		t.Fatalf("Credit replay: %v", err)
	}
	if second.Cmp(first) != 0 {
		t.Errorf("replayed credit changed balance: %s -> %s", first.String(), second.String())
	}
}

func TestDebitInsufficientBalanceWritesNothing(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a, _ := l.GetOrCreateAccountByTelegram(ctx, 2)
	l.Credit(ctx, a.ID, mustCurrency(t, "1.00"), "seed", TransactionTopUp, "")

	_, err := l.Debit(ctx, a.ID, "chart2csv", 1, mustCurrency(t, "5.00"), "debit-1", nil)
	if err != ErrInsufficientBalance {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}

	bal, _ := l.GetBalance(ctx, a.ID)
	if bal.String() != "1.00000000" {
		t.Errorf("balance mutated on failed debit: %s", bal.String())
	}
	if _, found, _ := l.TransactionByIdempotencyKey(ctx, "debit-1"); found {
		t.Error("a transaction was written despite insufficient balance")
	}
}

func TestDebitIdempotentReplayDoesNotDoubleCharge(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a, _ := l.GetOrCreateAccountByTelegram(ctx, 3)
	l.Credit(ctx, a.ID, mustCurrency(t, "10.00"), "seed", TransactionTopUp, "")

	first, err := l.Debit(ctx, a.ID, "masker", 1, mustCurrency(t, "1.00"), "usage-1", nil)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	second, err := l.Debit(ctx, a.ID, "masker", 1, mustCurrency(t, "1.00"), "usage-1", nil)
	if err != nil {
		t.Fatalf("Debit replay: %v", err)
	}
	if second.Cmp(first) != 0 {
		t.Errorf("replayed debit charged twice: %s -> %s", first.String(), second.String())
	}
}

func TestDebitWritesUsageLogAtomicallyWithTransaction(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a, _ := l.GetOrCreateAccountByTelegram(ctx, 4)
	l.Credit(ctx, a.ID, mustCurrency(t, "10.00"), "seed", TransactionTopUp, "")

	if _, err := l.Debit(ctx, a.ID, "patas", 100, mustCurrency(t, "0.05"), "usage-2", map[string]any{"messages": 100}); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	txn, found, err := l.TransactionByIdempotencyKey(ctx, "usage-2")
	if err != nil || !found {
		t.Fatalf("transaction not recorded: found=%v err=%v", found, err)
	}
	if txn.Type != TransactionUsage {
		t.Errorf("transaction type = %s, want USAGE", txn.Type)
	}

	summary, err := l.UsageSummary(ctx, a.ID, txn.CreatedAt.Format("2006-01"))
	if err != nil {
		t.Fatalf("UsageSummary: %v", err)
	}
	if summary["patas"].Units != 100 {
		t.Errorf("usage units = %d, want 100", summary["patas"].Units)
	}
}

func TestDebitBelowThresholdRecordsAutoRechargeAudit(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a, _ := l.GetOrCreateAccountByTelegram(ctx, 5)
	l.Credit(ctx, a.ID, mustCurrency(t, "10.00"), "seed", TransactionTopUp, "")

	threshold := mustCurrency(t, "9.50")
	if err := l.SetAccountSettings(ctx, a.ID, &threshold, nil, nil); err != nil {
		t.Fatalf("SetAccountSettings: %v", err)
	}

	// Balance drops from 10.00 to 9.40, at/below the 9.50 threshold.
	if _, err := l.Debit(ctx, a.ID, "masker", 1, mustCurrency(t, "0.60"), "usage-trigger", nil); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	logs := l.AuditLogsFor(a.ID)
	if len(logs) != 1 {
		t.Fatalf("audit logs = %d, want 1", len(logs))
	}
	if logs[0].Action != AuditAutoRechargeTriggered {
		t.Errorf("audit action = %s, want %s", logs[0].Action, AuditAutoRechargeTriggered)
	}
	if logs[0].Metadata["balance"] != "9.40000000" {
		t.Errorf("audit metadata balance = %v, want 9.40000000", logs[0].Metadata["balance"])
	}
}

func TestDebitAboveThresholdDoesNotRecordAudit(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a, _ := l.GetOrCreateAccountByTelegram(ctx, 6)
	l.Credit(ctx, a.ID, mustCurrency(t, "10.00"), "seed", TransactionTopUp, "")

	threshold := mustCurrency(t, "1.00")
	if err := l.SetAccountSettings(ctx, a.ID, &threshold, nil, nil); err != nil {
		t.Fatalf("SetAccountSettings: %v", err)
	}

	if _, err := l.Debit(ctx, a.ID, "masker", 1, mustCurrency(t, "0.60"), "usage-no-trigger", nil); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	if logs := l.AuditLogsFor(a.ID); len(logs) != 0 {
		t.Errorf("audit logs = %d, want 0", len(logs))
	}
}

func TestConcurrentDebitsNeverDriveBalanceNegative(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a, _ := l.GetOrCreateAccountByTelegram(ctx, 5)
	l.Credit(ctx, a.ID, mustCurrency(t, "5.00"), "seed", TransactionTopUp, "")

	const attempts = 20
	cost := mustCurrency(t, "1.00")
	var wg sync.WaitGroup
	successes := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "concurrent-" + string(rune('a'+i))
			_, err := l.Debit(ctx, a.ID, "chart2csv", 1, cost, key, nil)
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	if count != 5 {
		t.Errorf("successful debits = %d, want exactly 5 ($5.00 balance / $1.00 cost)", count)
	}

	bal, _ := l.GetBalance(ctx, a.ID)
	if bal.IsNegative() {
		t.Errorf("balance went negative: %s", bal.String())
	}
	if bal.String() != "0.00000000" {
		t.Errorf("final balance = %s, want 0.00000000", bal.String())
	}
}

func TestRefundCanDriveBalanceDifferentlyThanUsage(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a, _ := l.GetOrCreateAccountByTelegram(ctx, 6)
	l.Credit(ctx, a.ID, mustCurrency(t, "10.00"), "seed", TransactionTopUp, "")
	l.Debit(ctx, a.ID, "chart2csv", 1, mustCurrency(t, "2.00"), "usage-1", nil)

	bal, err := l.Credit(ctx, a.ID, mustCurrency(t, "2.00"), "refund-1", TransactionRefund, "refund of usage-1")
	if err != nil {
		t.Fatalf("Credit refund: %v", err)
	}
	if bal.String() != "10.00000000" {
		t.Errorf("balance after refund = %s, want 10.00000000", bal.String())
	}
}

func TestAccountNaturalKeyResolutionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a1, _ := l.GetOrCreateAccountByEmail(ctx, "user@example.com")
	a2, _ := l.GetOrCreateAccountByEmail(ctx, "user@example.com")
	if a1.ID != a2.ID {
		t.Error("same email resolved to different accounts")
	}
}
