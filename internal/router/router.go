package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"recycloai/internal/handlers/api/v1/catalog"
	"recycloai/internal/handlers/api/v1/impact"
	"recycloai/internal/handlers/api/v1/scans"
	"recycloai/internal/handlers/api/v1/ws"
	"recycloai/internal/middleware"
	"recycloai/internal/realtime"
	"recycloai/internal/response"
	"recycloai/internal/services"
)

// Dependencies are what the HTTP layer is built from
type Dependencies struct {
	Services        *services.ServiceCollection
	Hub             *realtime.Hub
	AuthMiddleware  *middleware.AuthMiddleware
	RateLimiter     *middleware.RateLimiter
	ResponseBuilder *response.Builder
	Logger          *zap.Logger
	AllowedOrigins  []string

	// UploadsDir is served under /uploads when images are stored locally
	UploadsDir string
}

// SetupRouter configures all HTTP routes and returns the main handler
func SetupRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rb := deps.ResponseBuilder

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logger),
		middleware.Recovery(rb),
		middleware.StructuredLogging(nil),
		middleware.Metrics,
		middleware.SecureHeaders,
		middleware.CORS(middleware.DefaultCORSConfig(deps.AllowedOrigins)),
	)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		rb.WriteNotFound(w, req, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		rb.WriteError(w, req, &services.ServiceError{
			Type:       "METHOD_NOT_ALLOWED",
			Message:    "method not allowed",
			StatusCode: http.StatusMethodNotAllowed,
		})
	})

	r.Get("/health", healthHandler(deps.Services, rb))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if deps.UploadsDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(deps.UploadsDir))))
	}

	scanController := scans.NewScanController(deps.Services, logger.Named("scans_api"), rb)
	impactController := impact.NewImpactController(deps.Services, logger.Named("impact_api"), rb)
	catalogController := catalog.NewCatalogController(rb)

	r.Route("/api/v1", func(r chi.Router) {
		// public
		r.Get("/waste-types", catalogController.ListWasteTypes)
		r.Get("/leaderboard", impactController.GetLeaderboard)

		// authenticated
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)

			submit := http.Handler(http.HandlerFunc(scanController.SubmitScan))
			if deps.RateLimiter != nil {
				submit = deps.RateLimiter.Limit(submit)
			}
			r.Method(http.MethodPost, "/scans", submit)
			r.Get("/scans", scanController.ListScans)
			r.Get("/impact", impactController.GetImpact)
			r.Get("/achievements", impactController.GetAchievements)

			if deps.Hub != nil {
				r.Get("/ws", ws.NewWSController(deps.Hub, rb).Connect)
			}
		})
	})

	return r
}

// healthHandler reports dependency health. Unhealthy answers 503 so load
// balancers take the instance out of rotation.
func healthHandler(sc *services.ServiceCollection, rb *response.Builder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := sc.HealthCheck(ctx)
		status := http.StatusOK
		if health.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		resp := rb.Success(r.Context(), health)
		resp.Success = status == http.StatusOK
		rb.WriteJSON(w, r, resp, status)
	}
}
