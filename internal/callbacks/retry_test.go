package callbacks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRetryableClientSuccessFirstAttempt(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewRetryableClient(Config{
		URL:   server.URL,
		Retry: RetryConfig{Enabled: true, MaxAttempts: 3, InitialInterval: 10 * time.Millisecond, MaxInterval: 100 * time.Millisecond, Multiplier: 2.0, Timeout: time.Second},
	}, WithRetryLogger(zerolog.Nop()))

	client.PaymentSucceeded(context.Background(), PaymentEvent{AccountID: "acct_1", AmountUSD: "10.00"})
	time.Sleep(200 * time.Millisecond)

	if count := requestCount.Load(); count != 1 {
		t.Errorf("expected 1 request, got %d", count)
	}
}

func TestRetryableClientRetriesUntilSuccess(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewRetryableClient(Config{
		URL:   server.URL,
		Retry: RetryConfig{Enabled: true, MaxAttempts: 5, InitialInterval: 10 * time.Millisecond, MaxInterval: 100 * time.Millisecond, Multiplier: 2.0, Timeout: time.Second},
	}, WithRetryLogger(zerolog.Nop()))

	client.PaymentSucceeded(context.Background(), PaymentEvent{AccountID: "acct_1"})
	time.Sleep(500 * time.Millisecond)

	if count := requestCount.Load(); count != 3 {
		t.Errorf("expected 3 requests, got %d", count)
	}
}

func TestRetryableClientLowBalancePayload(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		received = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewRetryableClient(Config{
		URL:   server.URL,
		Retry: RetryConfig{Enabled: true, MaxAttempts: 3, InitialInterval: 10 * time.Millisecond, MaxInterval: 100 * time.Millisecond, Multiplier: 2.0, Timeout: time.Second},
	}, WithRetryLogger(zerolog.Nop()))

	client.LowBalance(context.Background(), LowBalanceEvent{AccountID: "acct_1", BalanceUSD: "4.50", ThresholdUSD: "5.00"})
	time.Sleep(200 * time.Millisecond)

	var event LowBalanceEvent
	if err := json.Unmarshal(received, &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.AccountID != "acct_1" || event.EventType != "balance.low" {
		t.Errorf("unexpected payload: %+v", event)
	}
}

func TestRetryableClientNoopWhenURLEmpty(t *testing.T) {
	client := NewRetryableClient(Config{})
	if _, ok := client.(NoopNotifier); !ok {
		t.Error("NewRetryableClient() with empty URL should return NoopNotifier")
	}
}

func TestRetryableClientExhaustsRetries(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewRetryableClient(Config{
		URL:   server.URL,
		Retry: RetryConfig{Enabled: true, MaxAttempts: 3, InitialInterval: 10 * time.Millisecond, MaxInterval: 100 * time.Millisecond, Multiplier: 2.0, Timeout: time.Second},
	}, WithRetryLogger(zerolog.Nop()))

	client.PaymentSucceeded(context.Background(), PaymentEvent{AccountID: "acct_1"})
	time.Sleep(500 * time.Millisecond)

	if count := requestCount.Load(); count != 3 {
		t.Errorf("expected 3 requests (max attempts), got %d", count)
	}
}
