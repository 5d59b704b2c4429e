package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiku-jw/kikuai-gateway/internal/httputil"
	"github.com/kiku-jw/kikuai-gateway/internal/metrics"
)

// Config configures where and how account events are delivered.
type Config struct {
	URL     string
	Headers map[string]string

	Retry RetryConfig
}

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	Enabled         bool
	MaxAttempts     int           // default: 5
	InitialInterval time.Duration // default: 1s
	MaxInterval     time.Duration // default: 5m
	Multiplier      float64       // default: 2.0
	Timeout         time.Duration // per-attempt timeout, default: 10s
}

// DefaultRetryConfig returns sensible defaults for webhook retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:         true,
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// RetryableClient posts account events with exponential backoff retry.
type RetryableClient struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// RetryOption customizes the retry client behavior.
type RetryOption func(*RetryableClient)

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) { c.logger = logger }
}

// WithRetryMetrics wires a metrics collector to observe delivery latency,
// retry counts, and dead-letter exhaustion.
func WithRetryMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) { c.metrics = m }
}

// NewRetryableClient constructs a callback client with retry support. If
// cfg.Retry is the zero value, DefaultRetryConfig applies.
func NewRetryableClient(cfg Config, opts ...RetryOption) Notifier {
	if cfg.URL == "" {
		return NoopNotifier{}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	timeout := cfg.Retry.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &RetryableClient{
		cfg:        cfg,
		httpClient: httputil.NewClient(timeout),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// PaymentSucceeded dispatches the payment event asynchronously with retry.
// EventID is set once and preserved across retries for idempotency.
func (c *RetryableClient) PaymentSucceeded(ctx context.Context, event PaymentEvent) {
	if c == nil || c.cfg.URL == "" {
		return
	}
	eventType := event.EventType
	if eventType == "" {
		eventType = "payment.succeeded"
	}
	preparePaymentEvent(&event, eventType)

	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			c.logger.Error().Err(err).Msg("callbacks: failed to serialize payment event")
			return
		}
		c.dispatch(eventType, payload, event.EventID)
	}()
}

// LowBalance dispatches the low-balance event asynchronously with retry.
func (c *RetryableClient) LowBalance(ctx context.Context, event LowBalanceEvent) {
	if c == nil || c.cfg.URL == "" {
		return
	}
	prepareLowBalanceEvent(&event)

	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			c.logger.Error().Err(err).Msg("callbacks: failed to serialize low-balance event")
			return
		}
		c.dispatch("low_balance", payload, event.EventID)
	}()
}

// dispatch sends the event with retry and records the outcome in metrics.
func (c *RetryableClient) dispatch(eventType string, payload []byte, eventID string) {
	start := time.Now()
	attempts, err := c.sendWithRetry(context.Background(), payload)
	status := "success"
	if err != nil {
		status = "failed"
		c.logger.Error().Err(err).Str("event_id", eventID).Msg("callbacks: webhook failed after all retries")
	}
	if c.metrics != nil {
		c.metrics.ObserveWebhook(eventType, status, time.Since(start), attempts, err != nil)
	}
}

// sendWithRetry attempts to send the webhook with exponential backoff,
// returning the number of attempts made.
func (c *RetryableClient) sendWithRetry(ctx context.Context, payload []byte) (int, error) {
	if !c.cfg.Retry.Enabled {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Retry.Timeout)
		defer cancel()
		return 1, c.sendHTTP(reqCtx, payload)
	}

	var lastErr error
	interval := c.cfg.Retry.InitialInterval

	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Retry.Timeout)
		err := c.sendHTTP(reqCtx, payload)
		cancel()

		if err == nil {
			if attempt > 1 {
				c.logger.Info().Int("attempt", attempt).Msg("callbacks: webhook succeeded after retry")
			}
			return attempt, nil
		}

		lastErr = err
		c.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", c.cfg.Retry.MaxAttempts).Dur("next_retry", interval).Msg("callbacks: webhook attempt failed")

		if attempt < c.cfg.Retry.MaxAttempts {
			time.Sleep(interval)
			interval = time.Duration(float64(interval) * c.cfg.Retry.Multiplier)
			if interval > c.cfg.Retry.MaxInterval {
				interval = c.cfg.Retry.MaxInterval
			}
		}
	}

	return c.cfg.Retry.MaxAttempts, fmt.Errorf("webhook failed after %d attempts: %w", c.cfg.Retry.MaxAttempts, lastErr)
}

// sendHTTP performs the actual HTTP request.
func (c *RetryableClient) sendHTTP(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, c.cfg.URL)
	}
	return nil
}
