package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitabwire/coachbuilder/model"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets      = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	operationDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	bodySizeBuckets          = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the builder service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Session metrics
	SessionEventsTotal       *prometheus.CounterVec
	SessionOperationDuration *prometheus.HistogramVec
	SessionActionsTotal      *prometheus.CounterVec
	SessionsExpiredTotal     prometheus.Counter

	// Document metrics
	ImportsTotal          *prometheus.CounterVec
	ExportsTotal          *prometheus.CounterVec
	ValidationErrorsTotal *prometheus.CounterVec

	// Catalog metrics
	CatalogReloadTotal *prometheus.CounterVec
	ProfilesLoaded     prometheus.Gauge
	MetricsCataloged   prometheus.Gauge

	// Rule set metrics
	RuleSetPublishTotal *prometheus.CounterVec
	RuleSetsPublished   prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachbuilder_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coachbuilder_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coachbuilder_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coachbuilder_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Sessions
		SessionEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachbuilder_session_events_total",
			Help: "Total number of session operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SessionOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coachbuilder_session_operation_duration_seconds",
			Help:    "Session operation duration in seconds.",
			Buckets: operationDurationBuckets,
		}, []string{"kind"}),
		SessionActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachbuilder_session_actions_total",
			Help: "Total number of draft actions applied, by action type.",
		}, []string{"action", "outcome"}),
		SessionsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coachbuilder_sessions_expired_total",
			Help: "Total number of sessions removed by the expiry sweep.",
		}),

		// Documents
		ImportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachbuilder_imports_total",
			Help: "Total number of rule set imports by outcome.",
		}, []string{"outcome"}),
		ExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachbuilder_exports_total",
			Help: "Total number of rule set exports by outcome.",
		}, []string{"outcome"}),
		ValidationErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachbuilder_validation_errors_total",
			Help: "Total number of validation errors reported, by source and code.",
		}, []string{"source", "code"}),

		// Catalog
		CatalogReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachbuilder_catalog_reload_total",
			Help: "Total capability catalog reloads.",
		}, []string{"status"}),
		ProfilesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coachbuilder_capability_profiles_loaded",
			Help: "Number of capability profiles in the active catalog.",
		}),
		MetricsCataloged: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coachbuilder_metrics_cataloged",
			Help: "Number of metrics in the active metric catalog.",
		}),

		// Rule sets
		RuleSetPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachbuilder_ruleset_publish_total",
			Help: "Total rule set publish attempts.",
		}, []string{"status"}),
		RuleSetsPublished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coachbuilder_rulesets_published",
			Help: "Number of rule sets in the published registry.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Sessions
		m.SessionEventsTotal,
		m.SessionOperationDuration,
		m.SessionActionsTotal,
		m.SessionsExpiredTotal,
		// Documents
		m.ImportsTotal,
		m.ExportsTotal,
		m.ValidationErrorsTotal,
		// Catalog
		m.CatalogReloadTotal,
		m.ProfilesLoaded,
		m.MetricsCataloged,
		// Rule sets
		m.RuleSetPublishTotal,
		m.RuleSetsPublished,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordSessionEvent records one session operation.
func (m *Metrics) RecordSessionEvent(kind, outcome string, duration time.Duration) {
	m.SessionEventsTotal.WithLabelValues(kind, outcome).Inc()
	m.SessionOperationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordAction records a draft action applied to a session.
func (m *Metrics) RecordAction(action, outcome string) {
	m.SessionActionsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordSessionsExpired records sessions removed by the expiry sweep.
func (m *Metrics) RecordSessionsExpired(n int) {
	m.SessionsExpiredTotal.Add(float64(n))
}

// RecordImport records an import attempt.
func (m *Metrics) RecordImport(outcome string) {
	m.ImportsTotal.WithLabelValues(outcome).Inc()
}

// RecordExport records an export attempt.
func (m *Metrics) RecordExport(outcome string) {
	m.ExportsTotal.WithLabelValues(outcome).Inc()
}

// RecordValidationErrors counts each error by code. Source names the
// operation that produced them (import, export, validate, publish).
func (m *Metrics) RecordValidationErrors(source string, errs []model.ValidationError) {
	for _, e := range errs {
		m.ValidationErrorsTotal.WithLabelValues(source, e.Code).Inc()
	}
}

// RecordCatalogReload records a capability catalog reload and the sizes of
// the catalogs in use afterwards.
func (m *Metrics) RecordCatalogReload(status string, profiles, metrics int) {
	m.CatalogReloadTotal.WithLabelValues(status).Inc()
	m.ProfilesLoaded.Set(float64(profiles))
	m.MetricsCataloged.Set(float64(metrics))
}

// RecordRuleSetPublish records a publish attempt.
func (m *Metrics) RecordRuleSetPublish(status string) {
	m.RuleSetPublishTotal.WithLabelValues(status).Inc()
}

// SetRuleSetsPublished sets the number of published rule sets.
func (m *Metrics) SetRuleSetsPublished(count int) {
	m.RuleSetsPublished.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
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

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
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
