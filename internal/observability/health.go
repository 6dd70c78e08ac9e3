package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Set from ldflags by the builder binary.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the /readyz body. Checks is keyed by dependency.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult reports one dependency.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker reports whether a dependency can serve requests.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks lists what the authoring service needs before it takes
// traffic. RuleSetsLoaded and Catalog are required; a nil SessionStore is
// skipped since the memory store cannot fail.
type ReadinessChecks struct {
	RuleSetsLoaded func() bool
	Catalog        HealthChecker
	SessionStore   HealthChecker
}

const checkTimeout = 2 * time.Second

var (
	errRuleSetsNotLoaded = errors.New("rule set directories not loaded")
	errNoCatalog         = errors.New("capability catalog not configured")
)

// checks resolves the configured dependencies to named checkers. Missing
// required ones become checkers that always fail.
func (rc ReadinessChecks) checks() map[string]HealthChecker {
	out := map[string]HealthChecker{
		"rulesets": CheckFunc(func(context.Context) error {
			if rc.RuleSetsLoaded == nil || !rc.RuleSetsLoaded() {
				return errRuleSetsNotLoaded
			}
			return nil
		}),
		"capability_catalog": rc.Catalog,
	}
	if rc.Catalog == nil {
		out["capability_catalog"] = CheckFunc(func(context.Context) error { return errNoCatalog })
	}
	if rc.SessionStore != nil {
		out["session_store"] = rc.SessionStore
	}
	return out
}

// HandleHealth serves liveness: the process is up and reports its build.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// HandleReady runs every readiness check concurrently and answers 503 if
// any of them fails.
func HandleReady(rc ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			mu  sync.Mutex
			wg  sync.WaitGroup
			out = ReadinessResponse{Status: "ready", Checks: map[string]CheckResult{}}
		)
		for name, c := range rc.checks() {
			wg.Go(func() {
				res := runCheck(r.Context(), c)
				mu.Lock()
				defer mu.Unlock()
				out.Checks[name] = res
				if res.Status != "ok" {
					out.Status = "not_ready"
				}
			})
		}
		wg.Wait()

		code := http.StatusOK
		if out.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeHealthJSON(w, code, out)
	}
}

// runCheck bounds c by checkTimeout.
func runCheck(parent context.Context, c HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status, res.Error = "error", err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
