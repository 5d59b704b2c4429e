package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiku-jw/kikuai-gateway/internal/auth"
	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
)

func TestTraceMiddlewareStampsRequestIDHeader(t *testing.T) {
	store := ledger.NewMemoryLedger()
	issuer := auth.NewAPIKeyIssuer(store, []byte("secret"))

	mw := TraceMiddleware(zerolog.Nop(), store, issuer)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/balance", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID to be stamped on the response")
	}
}

func TestTraceMiddlewareCapturesDebugOptedInAccount(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	account, _ := store.GetOrCreateAccountByEmail(ctx, "debugger@example.com")
	optIn := true
	if err := store.SetAccountSettings(ctx, account.ID, nil, nil, &optIn); err != nil {
		t.Fatalf("SetAccountSettings: %v", err)
	}
	issuer := auth.NewAPIKeyIssuer(store, []byte("secret"))
	rawKey, _ := issuer.Issue(ctx, account.ID, "test", nil)

	mw := TraceMiddleware(zerolog.Nop(), store, issuer)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"response":"body"}`))
	}))

	r := httptest.NewRequest(http.MethodPost, "/masker/redact", strings.NewReader(`{"request":"body"}`))
	r.Header.Set("X-API-Key", rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", w.Code)
	}

	time.Sleep(20 * time.Millisecond) // let the background RecordDebug goroutine land
	logs := store.DebugLogsFor(account.ID)
	if len(logs) != 1 {
		t.Fatalf("debug logs = %d, want 1", len(logs))
	}
	if logs[0].Status != http.StatusTeapot {
		t.Errorf("captured status = %d, want 418", logs[0].Status)
	}
	if string(logs[0].RequestBody) != `{"request":"body"}` {
		t.Errorf("captured request body = %q", logs[0].RequestBody)
	}
}

func TestTraceMiddlewareSkipsAnonymousCallers(t *testing.T) {
	store := ledger.NewMemoryLedger()
	issuer := auth.NewAPIKeyIssuer(store, []byte("secret"))

	mw := TraceMiddleware(zerolog.Nop(), store, issuer)
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/balance", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if !called {
		t.Error("expected the wrapped handler to run for an anonymous caller")
	}
}
