package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets      = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	operationDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	bodySizeBuckets          = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service. Recording
// helpers are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Request lifecycle metrics
	RequestsCreatedTotal    *prometheus.CounterVec
	ActionsTotal            *prometheus.CounterVec
	CompletionsTotal        *prometheus.CounterVec
	PendingRequests         *prometheus.GaugeVec
	ValidationFailuresTotal *prometheus.CounterVec
	ConflictsTotal          *prometheus.CounterVec
	OperationDuration       *prometheus.HistogramVec

	// SLA metrics
	OverdueRequests  prometheus.Gauge
	SLABreachesTotal *prometheus.CounterVec

	// Side-effect metrics
	NotificationFailuresTotal *prometheus.CounterVec
	IdempotentReplaysTotal    prometheus.Counter

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter

	// System metrics
	TemplateReloadTotal *prometheus.CounterVec
	TemplatesLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "approvals_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "approvals_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "approvals_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Lifecycle
		RequestsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_requests_created_total",
			Help: "Total number of approval requests created.",
		}, []string{"template_id", "status"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_actions_total",
			Help: "Total number of actions recorded on approval requests.",
		}, []string{"template_id", "action"}),
		CompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_completions_total",
			Help: "Total number of approval requests reaching a terminal status.",
		}, []string{"template_id", "final_status"}),
		PendingRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "approvals_pending_requests",
			Help: "Number of approval requests awaiting a decision, as seen by this process.",
		}, []string{"template_id"}),
		ValidationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_validation_failures_total",
			Help: "Total number of rejected form submissions.",
		}, []string{"template_id"}),
		ConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_transition_conflicts_total",
			Help: "Total number of transitions lost to a concurrent update.",
		}, []string{"operation"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "approvals_operation_duration_seconds",
			Help:    "Engine operation duration in seconds.",
			Buckets: operationDurationBuckets,
		}, []string{"operation", "outcome"}),

		// SLA
		OverdueRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "approvals_overdue_requests",
			Help: "Number of pending requests past their SLA deadline at the last sweep.",
		}),
		SLABreachesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_sla_breaches_total",
			Help: "Total number of distinct SLA breaches observed.",
		}, []string{"template_id"}),

		// Side effects
		NotificationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_notification_failures_total",
			Help: "Total number of lifecycle notifications that could not be delivered.",
		}, []string{"event"}),
		IdempotentReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "approvals_idempotent_replays_total",
			Help: "Total number of responses replayed for a repeated idempotency key.",
		}),

		// Cache
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "approvals_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "approvals_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),

		// System
		TemplateReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_template_reload_total",
			Help: "Total template loads.",
		}, []string{"status"}),
		TemplatesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "approvals_templates_loaded",
			Help: "Number of loaded approval templates.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Lifecycle
		m.RequestsCreatedTotal,
		m.ActionsTotal,
		m.CompletionsTotal,
		m.PendingRequests,
		m.ValidationFailuresTotal,
		m.ConflictsTotal,
		m.OperationDuration,
		// SLA
		m.OverdueRequests,
		m.SLABreachesTotal,
		// Side effects
		m.NotificationFailuresTotal,
		m.IdempotentReplaysTotal,
		// Cache
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		// System
		m.TemplateReloadTotal,
		m.TemplatesLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordRequestCreated records a new request. Requests created directly as
// PENDING also count towards the pending gauge.
func (m *Metrics) RecordRequestCreated(templateID, status string) {
	if m == nil {
		return
	}
	m.RequestsCreatedTotal.WithLabelValues(templateID, status).Inc()
	if status == "PENDING" {
		m.PendingRequests.WithLabelValues(templateID).Inc()
	}
}

// RecordAction records an action appended to a request's log.
func (m *Metrics) RecordAction(templateID, action string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(templateID, action).Inc()
}

// RecordEnteredPending records a request entering PENDING.
func (m *Metrics) RecordEnteredPending(templateID string) {
	if m == nil {
		return
	}
	m.PendingRequests.WithLabelValues(templateID).Inc()
}

// RecordLeftPending records a request leaving PENDING.
func (m *Metrics) RecordLeftPending(templateID string) {
	if m == nil {
		return
	}
	m.PendingRequests.WithLabelValues(templateID).Dec()
}

// RecordCompletion records a request reaching a terminal status.
func (m *Metrics) RecordCompletion(templateID, finalStatus string) {
	if m == nil {
		return
	}
	m.CompletionsTotal.WithLabelValues(templateID, finalStatus).Inc()
}

// RecordValidationFailure records a rejected form submission.
func (m *Metrics) RecordValidationFailure(templateID string) {
	if m == nil {
		return
	}
	m.ValidationFailuresTotal.WithLabelValues(templateID).Inc()
}

// RecordConflict records a transition lost to a concurrent writer.
func (m *Metrics) RecordConflict(operation string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(operation).Inc()
}

// RecordOperation records the duration and outcome of an engine operation.
// The outcome is "ok" or the error code.
func (m *Metrics) RecordOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// SetOverdueRequests sets the number of overdue requests seen by the last sweep.
func (m *Metrics) SetOverdueRequests(count int) {
	if m == nil {
		return
	}
	m.OverdueRequests.Set(float64(count))
}

// RecordSLABreach records a newly observed SLA breach.
func (m *Metrics) RecordSLABreach(templateID string) {
	if m == nil {
		return
	}
	m.SLABreachesTotal.WithLabelValues(templateID).Inc()
}

// RecordNotificationFailure records a notification that could not be delivered.
func (m *Metrics) RecordNotificationFailure(event string) {
	if m == nil {
		return
	}
	m.NotificationFailuresTotal.WithLabelValues(event).Inc()
}

// RecordIdempotentReplay records a response served from the idempotency store.
func (m *Metrics) RecordIdempotentReplay() {
	if m == nil {
		return
	}
	m.IdempotentReplaysTotal.Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	if m == nil {
		return
	}
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	if m == nil {
		return
	}
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordTemplateReload records a template load attempt.
func (m *Metrics) RecordTemplateReload(status string) {
	if m == nil {
		return
	}
	m.TemplateReloadTotal.WithLabelValues(status).Inc()
}

// SetTemplatesLoaded sets the number of loaded templates.
func (m *Metrics) SetTemplatesLoaded(count int) {
	if m == nil {
		return
	}
	m.TemplatesLoaded.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to keep label cardinality
// bounded.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
