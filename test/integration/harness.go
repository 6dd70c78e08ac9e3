// Package integration provides a reusable test harness for end-to-end
// testing of the authoring server. It starts the full HTTP router with real
// JWT verification, an in-memory session store, a file-backed capability
// catalog and a temporary publish directory.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/coachbuilder/internal/capability"
	"github.com/pitabwire/coachbuilder/internal/config"
	"github.com/pitabwire/coachbuilder/internal/observability"
	"github.com/pitabwire/coachbuilder/internal/ruleset"
	"github.com/pitabwire/coachbuilder/internal/session"
	"github.com/pitabwire/coachbuilder/internal/transfer"
	"github.com/pitabwire/coachbuilder/internal/transport"
)

// TestHarness encapsulates a fully wired server for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry     *ruleset.Registry
	Sessions     *session.Manager
	SessionStore *session.MemoryStore
	Capabilities *capability.Resolver
	PublishDir   string

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	maxBodyBytes   int64
	sessionTTL     time.Duration
}

// WithHandlerTimeout overrides the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithMaxBodyBytes overrides the request body limit.
func WithMaxBodyBytes(n int64) HarnessOption {
	return func(c *harnessConfig) {
		c.maxBodyBytes = n
	}
}

// WithSessionTTL overrides the idle lifetime of authoring sessions.
func WithSessionTTL(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.sessionTTL = d
	}
}

// NewTestHarness creates a fully wired server. It is shut down when the
// test finishes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		maxBodyBytes:   1 << 20,
		sessionTTL:     time.Hour,
	}
	for _, opt := range opts {
		opt(hc)
	}

	issuer := newTokenIssuer(t)

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.MaxBodyBytes = hc.maxBodyBytes
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Identity.Issuer = issuer.Issuer()
	cfg.Identity.Audience = issuer.Audience()
	cfg.Identity.JWKSURL = issuer.JWKSURL()
	cfg.Identity.Algorithms = []string{"RS256"}
	cfg.Identity.PublisherRole = "publisher"
	cfg.Sessions.TTL = hc.sessionTTL
	cfg.RuleSets.PublishDir = filepath.Join(t.TempDir(), "published")

	resolver, err := capability.NewResolver(capability.FileSource{
		CapabilityPath: filepath.Join(testdataDir(), "capabilities.yaml"),
		MetricPath:     filepath.Join(testdataDir(), "metrics.yaml"),
	}, 0)
	if err != nil {
		t.Fatalf("load capability catalog: %v", err)
	}

	registry := ruleset.NewRegistry(nil)
	publisher := transfer.NewPublisher(registry, resolver, cfg.RuleSets.PublishDir)

	store := session.NewMemoryStore()
	manager := session.NewManager(store, cfg.Sessions.TTL, session.WithProfiles(resolver))

	logger := zap.NewNop()
	keys := transport.NewKeySet(cfg.Identity.JWKSURL, time.Hour, logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Authenticator: transport.NewJWTAuthenticator(cfg.Identity, keys, logger),
		Sessions:      manager,
		RuleSets:      registry,
		Publisher:     publisher,
		Capabilities:  resolver,
		Readiness: observability.ReadinessChecks{
			RuleSetsLoaded: func() bool { return true },
			Catalog:        observability.CheckFunc(func(context.Context) error { return resolver.Ping() }),
		},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &TestHarness{
		t:            t,
		server:       srv,
		issuer:       issuer,
		Registry:     registry,
		Sessions:     manager,
		SessionStore: store,
		Capabilities: resolver,
		PublishDir:   cfg.RuleSets.PublishDir,
		cfg:          cfg,
	}
}

// BaseURL returns the root URL of the running server.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid signed JWT for the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a signed JWT that expired an hour ago.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// ForgeToken signs claims with a key the server has never seen.
func (h *TestHarness) ForgeToken(claims TestClaims) string {
	return h.issuer.ForgeToken(mustRSAKey(h.t), claims)
}

// --- HTTP helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POST performs an authenticated POST request. A []byte body is sent as is,
// anything else is JSON encoded.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		bodyReader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code and
// closes the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// CoachClaims returns TestClaims for a coach authoring rule sets.
func CoachClaims() TestClaims {
	return TestClaims{
		SubjectID: "coach-ana",
		TenantID:  "riverside-golf",
		Email:     "ana@riverside.example.com",
		Roles:     []string{"coach"},
	}
}

// PublisherClaims returns TestClaims for a user allowed to publish.
func PublisherClaims() TestClaims {
	return TestClaims{
		SubjectID: "lead-ben",
		TenantID:  "riverside-golf",
		Email:     "ben@riverside.example.com",
		Roles:     []string{"coach", "publisher"},
	}
}

// ScopedPublisherClaims returns TestClaims for an author whose token grants
// publishing through its OAuth scope rather than a role.
func ScopedPublisherClaims() TestClaims {
	return TestClaims{
		SubjectID: "release-bot",
		TenantID:  "riverside-golf",
		Scope:     "openid rulesets:publish",
	}
}

// OtherTenantClaims returns TestClaims for a coach in a different tenant.
func OtherTenantClaims() TestClaims {
	return TestClaims{
		SubjectID: "coach-cho",
		TenantID:  "hillside-tennis",
		Email:     "cho@hillside.example.com",
		Roles:     []string{"coach", "publisher"},
	}
}

// testdataDir returns the absolute path of this package's testdata directory.
func testdataDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "testdata")
}
