package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Admission metrics (the admit() decision on every metered request)
	AdmissionsTotal        *prometheus.CounterVec
	AdmissionDuration      *prometheus.HistogramVec
	FreeLimitExceededTotal *prometheus.CounterVec

	// Ledger metrics
	DebitsTotal              *prometheus.CounterVec
	DebitAmountTotal         *prometheus.CounterVec
	InsufficientCreditsTotal *prometheus.CounterVec
	TopupsTotal              *prometheus.CounterVec
	TopupAmountTotal         *prometheus.CounterVec
	LowBalanceHintsTotal     prometheus.Counter

	// Upstream call metrics
	UpstreamCallsTotal   *prometheus.CounterVec
	UpstreamCallDuration *prometheus.HistogramVec
	UpstreamErrorsTotal  *prometheus.CounterVec

	// Payment provider metrics
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec
	ProviderErrorsTotal  *prometheus.CounterVec

	// Webhook metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal *prometheus.CounterVec
	WebhookDLQTotal     *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerStateChangesTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge

	// System metrics
	ArchivalRunsTotal      prometheus.Counter
	ArchivalRecordsDeleted prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		AdmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admissions_total",
				Help: "Total number of admission decisions",
			},
			[]string{"product", "caller", "outcome"},
		),
		AdmissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_admission_duration_seconds",
				Help:    "Time taken to make an admission decision",
				Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"product"},
		),
		FreeLimitExceededTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_free_limit_exceeded_total",
				Help: "Total number of requests rejected for exceeding the anonymous free tier",
			},
			[]string{"product", "window"},
		),

		DebitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_debits_total",
				Help: "Total number of ledger debits",
			},
			[]string{"product"},
		),
		DebitAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_debit_amount_credits_total",
				Help: "Total credits debited from accounts",
			},
			[]string{"product"},
		),
		InsufficientCreditsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_insufficient_credits_total",
				Help: "Total number of requests rejected for insufficient balance",
			},
			[]string{"product"},
		),
		TopupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_topups_total",
				Help: "Total number of successful top-ups",
			},
			[]string{"provider"},
		),
		TopupAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_topup_amount_credits_total",
				Help: "Total credits credited to accounts via top-up",
			},
			[]string{"provider"},
		),
		LowBalanceHintsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_low_balance_hints_total",
				Help: "Total number of low-balance callback hints dispatched",
			},
		),

		UpstreamCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_calls_total",
				Help: "Total number of upstream product calls",
			},
			[]string{"product"},
		),
		UpstreamCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_call_duration_seconds",
				Help:    "Duration of upstream product calls (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"product"},
		),
		UpstreamErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_errors_total",
				Help: "Total number of upstream product errors",
			},
			[]string{"product", "error_type"},
		),

		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_provider_calls_total",
				Help: "Total number of payment provider API calls",
			},
			[]string{"provider", "operation"},
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_provider_call_duration_seconds",
				Help:    "Duration of payment provider API calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "operation"},
		),
		ProviderErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_provider_errors_total",
				Help: "Total number of payment provider API errors",
			},
			[]string{"provider", "operation"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhooks_total",
				Help: "Total number of inbound payment webhooks processed",
			},
			[]string{"provider", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhook_retries_total",
				Help: "Total number of outbound callback retry attempts",
			},
			[]string{"event_type", "attempt"},
		),
		WebhookDLQTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhook_dlq_total",
				Help: "Total number of outbound callbacks exhausted to the dead letter path",
			},
			[]string{"event_type"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_webhook_duration_seconds",
				Help:    "Time taken to process an inbound webhook or deliver an outbound callback",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),

		CircuitBreakerStateChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_breaker_state_changes_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"breaker", "from", "to"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_db_connections_active",
				Help: "Number of active database connections",
			},
		),

		ArchivalRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_archival_runs_total",
				Help: "Total number of ledger archival runs",
			},
		),
		ArchivalRecordsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_archival_records_deleted_total",
				Help: "Total number of records deleted by archival",
			},
		),
	}
}

// ObserveAdmission records an admission decision.
func (m *Metrics) ObserveAdmission(product, caller, outcome string, duration time.Duration) {
	m.AdmissionsTotal.WithLabelValues(product, caller, outcome).Inc()
	m.AdmissionDuration.WithLabelValues(product).Observe(duration.Seconds())
}

// ObserveFreeLimitExceeded records a free-tier rejection for a given window (daily/monthly).
func (m *Metrics) ObserveFreeLimitExceeded(product, window string) {
	m.FreeLimitExceededTotal.WithLabelValues(product, window).Inc()
}

// ObserveDebit records a successful ledger debit.
func (m *Metrics) ObserveDebit(product string, creditsUsed float64) {
	m.DebitsTotal.WithLabelValues(product).Inc()
	m.DebitAmountTotal.WithLabelValues(product).Add(creditsUsed)
}

// ObserveInsufficientCredits records a rejection for insufficient balance.
func (m *Metrics) ObserveInsufficientCredits(product string) {
	m.InsufficientCreditsTotal.WithLabelValues(product).Inc()
}

// ObserveTopup records a successful top-up.
func (m *Metrics) ObserveTopup(provider string, creditsAdded float64) {
	m.TopupsTotal.WithLabelValues(provider).Inc()
	m.TopupAmountTotal.WithLabelValues(provider).Add(creditsAdded)
}

// ObserveLowBalanceHint records a low-balance callback dispatch.
func (m *Metrics) ObserveLowBalanceHint() {
	m.LowBalanceHintsTotal.Inc()
}

// ObserveUpstreamCall records a call to an upstream product.
func (m *Metrics) ObserveUpstreamCall(product string, duration time.Duration, err error) {
	m.UpstreamCallsTotal.WithLabelValues(product).Inc()
	m.UpstreamCallDuration.WithLabelValues(product).Observe(duration.Seconds())

	if err != nil {
		m.UpstreamErrorsTotal.WithLabelValues(product, classifyError(err)).Inc()
	}
}

// ObserveProviderCall records a call to a payment provider API.
func (m *Metrics) ObserveProviderCall(provider, operation string, duration time.Duration, err error) {
	m.ProviderCallsTotal.WithLabelValues(provider, operation).Inc()
	m.ProviderCallDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
	if err != nil {
		m.ProviderErrorsTotal.WithLabelValues(provider, operation).Inc()
	}
}

// ObserveWebhook records inbound webhook processing or outbound callback delivery.
func (m *Metrics) ObserveWebhook(provider, status string, duration time.Duration, attempt int, sentToDLQ bool) {
	m.WebhooksTotal.WithLabelValues(provider, status).Inc()
	m.WebhookDuration.WithLabelValues(provider).Observe(duration.Seconds())

	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(provider, formatAttempt(attempt)).Inc()
	}

	if sentToDLQ {
		m.WebhookDLQTotal.WithLabelValues(provider).Inc()
	}
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveCircuitBreakerStateChange records a circuit breaker transition.
func (m *Metrics) ObserveCircuitBreakerStateChange(breaker, from, to string) {
	m.CircuitBreakerStateChangesTotal.WithLabelValues(breaker, from, to).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveArchival records a ledger archival run.
func (m *Metrics) ObserveArchival(recordsDeleted int64) {
	m.ArchivalRunsTotal.Inc()
	m.ArchivalRecordsDeleted.Add(float64(recordsDeleted))
}

// classifyError buckets an upstream error into a coarse label for cardinality control.
func classifyError(err error) string {
	msg := err.Error()
	switch {
	case contains(msg, "timeout"), contains(msg, "deadline exceeded"):
		return "timeout"
	case contains(msg, "circuit"):
		return "circuit_open"
	case contains(msg, "connection"), contains(msg, "dial"):
		return "connection"
	case contains(msg, "rate limit"), contains(msg, "429"):
		return "rate_limit"
	default:
		return "other"
	}
}

func contains(s, substr string) bool {
	return indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return string(rune('0' + attempt))
	}
	return "5+"
}
