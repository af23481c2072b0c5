package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"keygate/internal/store"
)

// HealthHandler handles liveness and readiness checks
type HealthHandler struct {
	store   store.Store
	version string
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(st store.Store, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:   st,
		version: version,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Liveness handles GET /healthz
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /healthz/ready, checking store reachability
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.ErrorContext(r.Context(), "store unreachable",
			slog.String("error", err.Error()))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]interface{}{
			"status": "unavailable",
			"error":  "store unreachable",
		})
		return
	}

	render.JSON(w, r, map[string]interface{}{"status": "ready"})
}
