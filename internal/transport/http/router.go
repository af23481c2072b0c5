package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keygate/internal/config"
	"keygate/internal/middleware"
	"keygate/internal/services"
	"keygate/internal/store"
)

// NewRouter assembles the entitlement server's routes and middleware chain.
func NewRouter(
	cfg *config.Config,
	hbService services.HeartbeatService,
	regService services.RegistrationService,
	st store.Store,
	serverVersion string,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.SecurityHeaders)
	if cfg.Security.EnableCORS {
		r.Use(middleware.OpenCORS)
	}
	if cfg.Security.RateLimit.Enabled {
		rl := middleware.NewRateLimiter(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst, logger)
		r.Use(rl.Handler)
	}

	hbHandler := NewHeartbeatHandler(hbService, logger)
	regHandler := NewRegisterHandler(regService, logger)
	healthHandler := NewHealthHandler(st, serverVersion, logger)

	r.Post("/heartbeat", hbHandler.Heartbeat)
	r.Post("/register", regHandler.Register)
	r.Get("/healthz", healthHandler.Liveness)
	r.Get("/healthz/ready", healthHandler.Readiness)
	r.Method(http.MethodGet, "/metrics", MetricsHandler())

	return r
}
