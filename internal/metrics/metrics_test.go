package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}
	if m.AdmissionsTotal == nil {
		t.Error("AdmissionsTotal should be initialized")
	}
	if m.DebitsTotal == nil {
		t.Error("DebitsTotal should be initialized")
	}
	if m.UpstreamCallsTotal == nil {
		t.Error("UpstreamCallsTotal should be initialized")
	}
	if m.ProviderCallsTotal == nil {
		t.Error("ProviderCallsTotal should be initialized")
	}
}

func TestObserveAdmission(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveAdmission("masker", "account", "allowed", 5*time.Millisecond)

	count := promtest.ToFloat64(m.AdmissionsTotal.WithLabelValues("masker", "account", "allowed"))
	if count != 1 {
		t.Errorf("expected 1 admission, got %.0f", count)
	}
}

func TestObserveFreeLimitExceeded(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveFreeLimitExceeded("chart2csv", "daily")

	count := promtest.ToFloat64(m.FreeLimitExceededTotal.WithLabelValues("chart2csv", "daily"))
	if count != 1 {
		t.Errorf("expected 1 free limit exceeded, got %.0f", count)
	}
}

func TestObserveDebit(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveDebit("masker", 2.5)

	count := promtest.ToFloat64(m.DebitsTotal.WithLabelValues("masker"))
	if count != 1 {
		t.Errorf("expected 1 debit, got %.0f", count)
	}
	amount := promtest.ToFloat64(m.DebitAmountTotal.WithLabelValues("masker"))
	if amount != 2.5 {
		t.Errorf("expected 2.5 credits debited, got %.2f", amount)
	}
}

func TestObserveInsufficientCredits(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveInsufficientCredits("patas")

	count := promtest.ToFloat64(m.InsufficientCreditsTotal.WithLabelValues("patas"))
	if count != 1 {
		t.Errorf("expected 1 insufficient credits rejection, got %.0f", count)
	}
}

func TestObserveTopup(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveTopup("card", 100)

	count := promtest.ToFloat64(m.TopupsTotal.WithLabelValues("card"))
	if count != 1 {
		t.Errorf("expected 1 topup, got %.0f", count)
	}
	amount := promtest.ToFloat64(m.TopupAmountTotal.WithLabelValues("card"))
	if amount != 100 {
		t.Errorf("expected 100 credits topped up, got %.0f", amount)
	}
}

func TestObserveUpstreamCall(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantErrorType string
	}{
		{"success", nil, ""},
		{"connection failure", errors.New("connection reset by peer"), "connection"},
		{"timeout", errors.New("context deadline exceeded"), "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := prometheus.NewRegistry()
			m := New(registry)

			m.ObserveUpstreamCall("masker", 100*time.Millisecond, tt.err)

			calls := promtest.ToFloat64(m.UpstreamCallsTotal.WithLabelValues("masker"))
			if calls != 1 {
				t.Errorf("expected 1 upstream call, got %.0f", calls)
			}
			if tt.err != nil {
				errs := promtest.ToFloat64(m.UpstreamErrorsTotal.WithLabelValues("masker", tt.wantErrorType))
				if errs != 1 {
					t.Errorf("expected 1 %s error, got %.0f", tt.wantErrorType, errs)
				}
			}
		})
	}
}

func TestObserveProviderCall(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveProviderCall("card", "charge", 250*time.Millisecond, nil)
	m.ObserveProviderCall("card", "charge", 250*time.Millisecond, errors.New("gateway timeout"))

	calls := promtest.ToFloat64(m.ProviderCallsTotal.WithLabelValues("card", "charge"))
	if calls != 2 {
		t.Errorf("expected 2 provider calls, got %.0f", calls)
	}
	errs := promtest.ToFloat64(m.ProviderErrorsTotal.WithLabelValues("card", "charge"))
	if errs != 1 {
		t.Errorf("expected 1 provider error, got %.0f", errs)
	}
}

func TestObserveWebhook(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveWebhook("card", "success", 500*time.Millisecond, 1, false)

	webhooks := promtest.ToFloat64(m.WebhooksTotal.WithLabelValues("card", "success"))
	if webhooks != 1 {
		t.Errorf("expected 1 webhook, got %.0f", webhooks)
	}

	m.ObserveWebhook("payment.failed", "failed", 2*time.Second, 5, true)

	retries := promtest.ToFloat64(m.WebhookRetriesTotal.WithLabelValues("payment.failed", "5"))
	if retries != 1 {
		t.Errorf("expected 1 webhook retry record, got %.0f", retries)
	}

	dlq := promtest.ToFloat64(m.WebhookDLQTotal.WithLabelValues("payment.failed"))
	if dlq != 1 {
		t.Errorf("expected 1 webhook in DLQ, got %.0f", dlq)
	}
}

func TestObserveRateLimit(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRateLimit("per_account", "account-123")

	hits := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("per_account", "account-123"))
	if hits != 1 {
		t.Errorf("expected 1 rate limit hit, got %.0f", hits)
	}
}

func TestObserveCircuitBreakerStateChange(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveCircuitBreakerStateChange("balance_cache", "closed", "open")

	count := promtest.ToFloat64(m.CircuitBreakerStateChangesTotal.WithLabelValues("balance_cache", "closed", "open"))
	if count != 1 {
		t.Errorf("expected 1 state change, got %.0f", count)
	}
}

func TestObserveDBQuery(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveDBQuery("SELECT", "postgres", 50*time.Millisecond)

	if m.DBQueryDuration == nil {
		t.Error("DBQueryDuration should be initialized")
	}
}

func TestObserveArchival(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveArchival(1500)

	runs := promtest.ToFloat64(m.ArchivalRunsTotal)
	if runs != 1 {
		t.Errorf("expected 1 archival run, got %.0f", runs)
	}

	deleted := promtest.ToFloat64(m.ArchivalRecordsDeleted)
	if deleted != 1500 {
		t.Errorf("expected 1500 records deleted, got %.0f", deleted)
	}
}
