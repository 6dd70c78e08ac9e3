package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/coachbuilder/model"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"coachbuilder_http_requests_total",
		"coachbuilder_http_request_duration_seconds",
		"coachbuilder_http_request_size_bytes",
		"coachbuilder_http_response_size_bytes",
		"coachbuilder_session_events_total",
		"coachbuilder_session_operation_duration_seconds",
		"coachbuilder_session_actions_total",
		"coachbuilder_sessions_expired_total",
		"coachbuilder_imports_total",
		"coachbuilder_exports_total",
		"coachbuilder_validation_errors_total",
		"coachbuilder_catalog_reload_total",
		"coachbuilder_capability_profiles_loaded",
		"coachbuilder_metrics_cataloged",
		"coachbuilder_ruleset_publish_total",
		"coachbuilder_rulesets_published",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordSessionEvent("import", "ok", time.Millisecond)
	m.RecordAction("step/add", "ok")
	m.RecordSessionsExpired(2)
	m.RecordImport("ok")
	m.RecordExport("ok")
	m.RecordValidationErrors("import", []model.ValidationError{{Path: "sport", Code: model.CodeRequired}})
	m.RecordCatalogReload("success", 2, 3)
	m.RecordRuleSetPublish("success")
	m.SetRuleSetsPublished(4)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/v1/sessions/{sessionID}", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/v1/sessions/{sessionID}", 200, 100*time.Millisecond, 0, 2048)
	m.RecordHTTPRequest("POST", "/v1/sessions/{sessionID}/import", 422, 200*time.Millisecond, 512, 256)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/sessions/{sessionID}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/sessions/{sessionID}/import", "422"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordSessionEvent(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSessionEvent("action", "ok", 2*time.Millisecond)
	m.RecordSessionEvent("action", "conflict", time.Millisecond)
	m.RecordSessionEvent("action", "ok", time.Millisecond)

	if val := testutil.ToFloat64(m.SessionEventsTotal.WithLabelValues("action", "ok")); val != 2 {
		t.Errorf("ok actions = %v, want 2", val)
	}
	if val := testutil.ToFloat64(m.SessionEventsTotal.WithLabelValues("action", "conflict")); val != 1 {
		t.Errorf("conflicts = %v, want 1", val)
	}
	if count := testutil.CollectAndCount(m.SessionOperationDuration); count == 0 {
		t.Error("expected session duration histogram to have observations")
	}
}

func TestRecordAction(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordAction("condition/add", "ok")
	m.RecordAction("condition/add", "ok")
	m.RecordAction("step/remove", "conflict")

	if val := testutil.ToFloat64(m.SessionActionsTotal.WithLabelValues("condition/add", "ok")); val != 2 {
		t.Errorf("condition/add = %v, want 2", val)
	}
	if val := testutil.ToFloat64(m.SessionActionsTotal.WithLabelValues("step/remove", "conflict")); val != 1 {
		t.Errorf("step/remove = %v, want 1", val)
	}
}

func TestRecordSessionsExpired(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSessionsExpired(3)
	m.RecordSessionsExpired(0)
	m.RecordSessionsExpired(2)

	if val := testutil.ToFloat64(m.SessionsExpiredTotal); val != 5 {
		t.Errorf("expired = %v, want 5", val)
	}
}

func TestRecordImportAndExport(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordImport("ok")
	m.RecordImport("rejected")
	m.RecordImport("rejected")
	m.RecordExport("ok")

	if val := testutil.ToFloat64(m.ImportsTotal.WithLabelValues("rejected")); val != 2 {
		t.Errorf("rejected imports = %v, want 2", val)
	}
	if val := testutil.ToFloat64(m.ImportsTotal.WithLabelValues("ok")); val != 1 {
		t.Errorf("accepted imports = %v, want 1", val)
	}
	if val := testutil.ToFloat64(m.ExportsTotal.WithLabelValues("ok")); val != 1 {
		t.Errorf("exports = %v, want 1", val)
	}
}

func TestRecordValidationErrors_countsByCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordValidationErrors("import", []model.ValidationError{
		{Path: "sport", Code: model.CodeRequired},
		{Path: "metadata.title", Code: model.CodeRequired},
		{Path: "rules[0].phase", Code: model.CodeUnknownPhaseRef},
	})
	m.RecordValidationErrors("import", nil)

	if val := testutil.ToFloat64(m.ValidationErrorsTotal.WithLabelValues("import", "required")); val != 2 {
		t.Errorf("required = %v, want 2", val)
	}
	if val := testutil.ToFloat64(m.ValidationErrorsTotal.WithLabelValues("import", "unknown_phase_ref")); val != 1 {
		t.Errorf("unknown_phase_ref = %v, want 1", val)
	}
}

func TestRecordCatalogReload(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCatalogReload("success", 2, 3)
	m.RecordCatalogReload("failure", 2, 3)

	if val := testutil.ToFloat64(m.CatalogReloadTotal.WithLabelValues("success")); val != 1 {
		t.Errorf("reload success = %v, want 1", val)
	}
	if val := testutil.ToFloat64(m.CatalogReloadTotal.WithLabelValues("failure")); val != 1 {
		t.Errorf("reload failure = %v, want 1", val)
	}
	if val := testutil.ToFloat64(m.ProfilesLoaded); val != 2 {
		t.Errorf("profiles loaded = %v, want 2", val)
	}
	if val := testutil.ToFloat64(m.MetricsCataloged); val != 3 {
		t.Errorf("metrics cataloged = %v, want 3", val)
	}
}

func TestRuleSetPublishMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRuleSetPublish("success")
	m.RecordRuleSetPublish("rejected")
	m.SetRuleSetsPublished(5)
	m.SetRuleSetsPublished(6)

	if val := testutil.ToFloat64(m.RuleSetPublishTotal.WithLabelValues("success")); val != 1 {
		t.Errorf("publish success = %v, want 1", val)
	}
	if val := testutil.ToFloat64(m.RuleSetsPublished); val != 6 {
		t.Errorf("rulesets published = %v, want 6", val)
	}
}

func TestMetricsMiddleware_recordsRequestMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Build a chi router so route patterns are captured.
	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/v1/sessions/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/abc", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Verify metrics were recorded with the route pattern, not the actual path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/sessions/{sessionID}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesResponseSize(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// Response size should have been recorded.
	count := testutil.CollectAndCount(m.HTTPResponseSizeBytes)
	if count == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/v1/sessions/{sessionID}/actions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/abc/actions", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/sessions/{sessionID}/actions", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Use middleware directly without chi router.
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Without chi, should fall back to raw path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	// Verify bucket configurations are correct.
	if len(httpDurationBuckets) != 11 {
		t.Errorf("httpDurationBuckets length = %d, want 11", len(httpDurationBuckets))
	}
	if len(operationDurationBuckets) != 9 {
		t.Errorf("operationDurationBuckets length = %d, want 9", len(operationDurationBuckets))
	}
	if len(bodySizeBuckets) != 5 {
		t.Errorf("bodySizeBuckets length = %d, want 5", len(bodySizeBuckets))
	}

	// Verify buckets are sorted ascending.
	for i := 1; i < len(httpDurationBuckets); i++ {
		if httpDurationBuckets[i] <= httpDurationBuckets[i-1] {
			t.Errorf("httpDurationBuckets not sorted at index %d", i)
		}
	}
}
