package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Usage metrics
	UsageIncrementsTotal *prometheus.CounterVec
	QuotaDenialsTotal    *prometheus.CounterVec

	// Auth metrics
	LoginAttemptsTotal *prometheus.CounterVec
	RateLimitedTotal   *prometheus.CounterVec

	// Email metrics
	EmailsSentTotal *prometheus.CounterVec

	// Housekeeping metrics
	PrunedRowsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claimgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimgate_webhook_events_total",
				Help: "Stripe webhook deliveries by event type and outcome",
			},
			[]string{"type", "outcome"},
		),
		UsageIncrementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimgate_usage_increments_total",
				Help: "Metered usage increments by tier and result",
			},
			[]string{"tier", "result"},
		),
		QuotaDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimgate_quota_denials_total",
				Help: "Paywall responses by code",
			},
			[]string{"code"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimgate_login_attempts_total",
				Help: "Login attempts by method and result",
			},
			[]string{"method", "result"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimgate_rate_limited_total",
				Help: "Requests rejected by the throttle",
			},
			[]string{"route"},
		),
		EmailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimgate_emails_sent_total",
				Help: "Outbound emails by template and status",
			},
			[]string{"template", "status"},
		),
		PrunedRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimgate_pruned_rows_total",
				Help: "Rows removed by housekeeping jobs",
			},
			[]string{"job"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhookEventsTotal,
		m.UsageIncrementsTotal,
		m.QuotaDenialsTotal,
		m.LoginAttemptsTotal,
		m.RateLimitedTotal,
		m.EmailsSentTotal,
		m.PrunedRowsTotal,
	)

	return m
}

// RegisterDBStats exports connection pool statistics for db.
func (m *Metrics) RegisterDBStats(db *sql.DB) {
	m.registry.MustRegister(collectors.NewDBStatsCollector(db, "claimgate"))
}

// RecordWebhookEvent counts one webhook delivery.
func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordUsage counts one metered increment attempt.
func (m *Metrics) RecordUsage(tier, result string) {
	m.UsageIncrementsTotal.WithLabelValues(tier, result).Inc()
}

// RecordQuotaDenial counts one paywall response.
func (m *Metrics) RecordQuotaDenial(code string) {
	m.QuotaDenialsTotal.WithLabelValues(code).Inc()
}

// RecordLogin counts one login attempt.
func (m *Metrics) RecordLogin(method, result string) {
	m.LoginAttemptsTotal.WithLabelValues(method, result).Inc()
}

// RecordRateLimited counts one throttled request.
func (m *Metrics) RecordRateLimited(route string) {
	m.RateLimitedTotal.WithLabelValues(route).Inc()
}

// RecordEmail counts one email delivery outcome.
func (m *Metrics) RecordEmail(template, status string) {
	m.EmailsSentTotal.WithLabelValues(template, status).Inc()
}

// RecordPruned adds the rows removed by a housekeeping job.
func (m *Metrics) RecordPruned(job string, n int64) {
	m.PrunedRowsTotal.WithLabelValues(job).Add(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel returns the mux route template so path parameters do not
// explode label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
