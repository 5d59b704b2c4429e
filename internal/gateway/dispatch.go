package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kiku-jw/kikuai-gateway/internal/httputil"
)

// upstreamResponse is the result of forwarding a request to a product's
// backing service.
type upstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// ActualCostUSD is populated when the upstream reports a variable
	// cost for this call (e.g. the LLM proxy's per-token price), read
	// from a top-level "cost_usd" field of a JSON response body.
	ActualCostUSD string
}

// Dispatcher forwards an inbound request to the upstream service backing
// a product and returns its response. Implementations own their own
// per-product base URL and deadline.
type Dispatcher interface {
	Dispatch(ctx context.Context, product string, r *http.Request) (*upstreamResponse, error)
}

// productDeadline are the per-product upstream deadlines: 120s for the
// extraction-heavy chart2csv, 30s for the lighter masker and the
// Paddle-class reliapi/patas proxies.
var productDeadline = map[string]time.Duration{
	"chart2csv": 120 * time.Second,
	"masker":    30 * time.Second,
	"patas":     30 * time.Second,
	"reliapi":   30 * time.Second,
}

func deadlineFor(product string) time.Duration {
	if d, ok := productDeadline[product]; ok {
		return d
	}
	return 30 * time.Second
}

// HTTPDispatcher forwards requests verbatim over HTTP to a per-product
// base URL, preserving method, headers, and body.
type HTTPDispatcher struct {
	baseURLs map[string]string
	client   *http.Client
}

// NewHTTPDispatcher builds a dispatcher from a product-id → base-URL map.
// A single shared client is used across products, per the process-wide
// singleton rule for outbound HTTP clients.
func NewHTTPDispatcher(baseURLs map[string]string) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURLs: baseURLs,
		client:   httputil.NewClient(120 * time.Second),
	}
}

// ErrUnknownProduct is returned when no base URL is configured for a product.
var ErrUnknownProduct = errors.New("gateway: no upstream configured for product")

func (d *HTTPDispatcher) Dispatch(ctx context.Context, product string, r *http.Request) (*upstreamResponse, error) {
	base, ok := d.baseURLs[product]
	if !ok {
		return nil, ErrUnknownProduct
	}

	deadline := deadlineFor(product)
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: read request body: %w", err)
	}

	upstreamReq, err := http.NewRequestWithContext(reqCtx, r.Method, base+r.URL.Path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: build upstream request: %w", err)
	}
	upstreamReq.Header = r.Header.Clone()
	upstreamReq.URL.RawQuery = r.URL.RawQuery

	resp, err := d.client.Do(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("gateway: dispatch upstream: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: read upstream response: %w", err)
	}

	return &upstreamResponse{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		Body:          respBody,
		ActualCostUSD: extractCostUSD(respBody),
	}, nil
}

// extractCostUSD reads a top-level "cost_usd" field from a JSON upstream
// body, returning "" when absent or the body isn't JSON.
func extractCostUSD(body []byte) string {
	var probe struct {
		CostUSD string `json:"cost_usd"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.CostUSD
}
