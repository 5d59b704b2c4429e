package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPDispatcherForwardsMethodBodyAndQuery(t *testing.T) {
	var gotMethod, gotPath, gotQuery, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	d := NewHTTPDispatcher(map[string]string{"masker": upstream.URL})
	r := httptest.NewRequest(http.MethodPost, "/masker/redact?foo=bar", strings.NewReader(`{"text":"hi"}`))

	resp, err := d.Dispatch(context.Background(), "masker", r)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if gotMethod != http.MethodPost || gotPath != "/masker/redact" || gotQuery != "foo=bar" {
		t.Errorf("unexpected forwarded request: method=%s path=%s query=%s", gotMethod, gotPath, gotQuery)
	}
	if gotBody != `{"text":"hi"}` {
		t.Errorf("body = %q, want forwarded verbatim", gotBody)
	}
}

func TestHTTPDispatcherUnknownProduct(t *testing.T) {
	d := NewHTTPDispatcher(map[string]string{})
	r := httptest.NewRequest(http.MethodPost, "/x/y", strings.NewReader("{}"))

	_, err := d.Dispatch(context.Background(), "nope", r)
	if err != ErrUnknownProduct {
		t.Errorf("err = %v, want ErrUnknownProduct", err)
	}
}

func TestExtractCostUSDReadsTopLevelField(t *testing.T) {
	got := extractCostUSD([]byte(`{"result":"...","cost_usd":"0.42"}`))
	if got != "0.42" {
		t.Errorf("got %q, want 0.42", got)
	}
}

func TestExtractCostUSDAbsentOrNotJSON(t *testing.T) {
	if got := extractCostUSD([]byte(`{"result":"..."}`)); got != "" {
		t.Errorf("got %q, want empty", got)
	}
	if got := extractCostUSD([]byte(`not json`)); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
