package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/coachbuilder/internal/capability"
	"github.com/pitabwire/coachbuilder/internal/config"
	"github.com/pitabwire/coachbuilder/internal/observability"
	"github.com/pitabwire/coachbuilder/internal/ruleset"
	"github.com/pitabwire/coachbuilder/internal/session"
	"github.com/pitabwire/coachbuilder/internal/transfer"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger
	// Authenticator resolves bearer tokens. Nil rejects every
	// authenticated route.
	Authenticator Authenticator
	Sessions      *session.Manager
	RuleSets      *ruleset.Registry
	Publisher     *transfer.Publisher
	Capabilities  *capability.Resolver
	// Metrics is nil when metrics are disabled.
	Metrics   *observability.Metrics
	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics, and the schema bypass
// the authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(CORS(cfg.Server.CORS))
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Metrics != nil {
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler())
	}
	r.Get("/v1/schema", handleSchema())

	r.Group(func(r chi.Router) {
		r.Use(RequireAuthor(deps.Authenticator))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(LimitBody(cfg.Server.MaxBodyBytes))
		r.Use(RequestLogging(logger))

		r.Route("/v1/sessions", func(r chi.Router) {
			r.Post("/", handleSessionCreate(deps.Sessions))
			r.Get("/{sessionId}", handleSessionGet(deps.Sessions))
			r.Delete("/{sessionId}", handleSessionDelete(deps.Sessions))
			r.Post("/{sessionId}/actions", handleSessionAction(deps.Sessions))
			r.Post("/{sessionId}/import", handleSessionImport(deps.Sessions))
			r.Get("/{sessionId}/export", handleSessionExport(deps.Sessions))
			r.Get("/{sessionId}/validation", handleSessionValidation(deps.Sessions))
		})

		r.Route("/v1/rulesets", func(r chi.Router) {
			r.Get("/", handleRuleSetList(deps.RuleSets))
			r.Get("/{ruleSetId}", handleRuleSetGet(deps.RuleSets))
			r.Post("/validate", handleRuleSetValidate(deps.Publisher, deps.Metrics))
			r.With(RequireRole(cfg.Identity.PublisherRole)).
				Post("/", handleRuleSetPublish(deps.Publisher, deps.RuleSets, deps.Metrics))
		})

		r.Route("/v1/capabilities", func(r chi.Router) {
			r.Get("/profiles", handleProfileList(deps.Capabilities))
			r.Get("/profiles/{profileId}", handleProfileGet(deps.Capabilities))
			r.Get("/metrics", handleMetricCatalog(deps.Capabilities))
		})
	})

	return r
}
