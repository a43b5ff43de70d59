package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sahidur/ams-sub001/internal/approval"
	"github.com/sahidur/ams-sub001/internal/config"
	"github.com/sahidur/ams-sub001/internal/idempotency"
	"github.com/sahidur/ams-sub001/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Engine       *approval.Engine
	Authenticate func(http.Handler) http.Handler
	// Idempotency is optional; without it POSTs are never replayed.
	Idempotency *idempotency.Middleware
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	Readiness   observability.ReadinessChecks
	OpenAPI     http.Handler
	Logger      *zap.Logger
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and the API document
// bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled {
		gatherer := deps.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.HandlerFor(gatherer))
	}
	if deps.OpenAPI != nil {
		r.Method(http.MethodGet, "/openapi.json", deps.OpenAPI)
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}
	h := &handlers{engine: deps.Engine, writeError: ErrorWriter(logger)}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(cfg.Identity.ClaimPaths))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(MaxBody(cfg.Server.MaxBodyBytes))
		r.Use(RequestLogging(logger))
		if deps.Idempotency != nil {
			r.Use(deps.Idempotency.Handler)
		}

		r.Get("/templates", h.listTemplates)
		r.Get("/templates/{templateId}", h.getTemplate)
		r.Post("/templates/{templateId}/visibility", h.templateVisibility)

		r.Post("/requests", h.createRequest)
		r.Get("/requests", h.listRequests)
		r.Route("/requests/{requestId}", func(r chi.Router) {
			r.Get("/", h.getRequest)
			r.Patch("/", h.updateRequest)
			r.Delete("/", h.deleteRequest)
			r.Post("/submit", h.submitRequest)
			r.Post("/actions", h.applyAction)
			r.Get("/actions", h.requestHistory)
			r.Post("/resubmit", h.resubmitRequest)
			r.Post("/cancel", h.cancelRequest)
			r.Post("/comments", h.addComment)
			r.Get("/approver", h.currentApprover)
			r.Get("/replay", h.replayRequest)
		})
	})

	return r
}
