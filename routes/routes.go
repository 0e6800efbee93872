package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/llm-gateway/app"
	"github.com/upb/llm-gateway/handlers"
	appmw "github.com/upb/llm-gateway/middleware"
	"github.com/upb/llm-gateway/utils"
)

// requestTimeout bounds a whole inbound request, including every recovery
// attempt against the fallback endpoint
const requestTimeout = 3 * time.Minute

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	var observer appmw.HTTPObserver
	if deps.Metrics != nil {
		observer = deps.Metrics
	}

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmw.RequestLogger(deps.Logger, observer))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var auditStats handlers.AuditStatter
	if deps.Audit != nil {
		auditStats = deps.Audit
	}

	health := handlers.NewHealthHandler(deps.SQLDB(), deps.Registry, auditStats, deps.Config.Environment, deps.Logger)
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)
	r.Get("/status", health.HandleStatus)

	if deps.Metrics != nil && deps.Config.Observability.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	gw := handlers.NewGatewayHandler(deps.Gateway, deps.Logger)
	r.Route("/v1", func(r chi.Router) {
		if deps.AuthMiddleware != nil {
			r.Use(deps.AuthMiddleware.RequireAuth)
		}
		r.Post("/generate", gw.HandleGenerate)
		r.Post("/connection/test", gw.HandleConnectionTest)
		r.Get("/dedup/stats", gw.HandleDedupStats)
		r.Delete("/dedup/cache", gw.HandleDedupPurge)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusMethodNotAllowed, utils.ErrorResponse{
			Error:   "method_not_allowed",
			Message: r.Method + " is not allowed on " + r.URL.Path,
		})
	})

	return r
}
