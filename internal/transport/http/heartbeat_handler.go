// Package http exposes the entitlement server's wire contract over chi:
// POST /heartbeat and POST /register, plus health and metrics endpoints.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	kgerrors "keygate/internal/errors"
	"keygate/internal/middleware"
	"keygate/internal/services"
	v1 "keygate/pkg/contracts/api/v1"
)

var validate = validator.New()

// HeartbeatHandler handles POST /heartbeat
type HeartbeatHandler struct {
	service services.HeartbeatService
	logger  *slog.Logger
}

// NewHeartbeatHandler creates a new heartbeat handler
func NewHeartbeatHandler(service services.HeartbeatService, logger *slog.Logger) *HeartbeatHandler {
	return &HeartbeatHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "heartbeat")),
	}
}

// Heartbeat handles POST /heartbeat
func (h *HeartbeatHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	start := time.Now()

	tracer := otel.Tracer("heartbeat-handler")
	ctx, span := tracer.Start(ctx, "heartbeat_handler.heartbeat",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/heartbeat"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	req := &v1.HeartbeatRequest{}
	if err := render.Decode(r, req); err != nil {
		span.RecordError(err)
		h.logger.WarnContext(ctx, "failed to decode heartbeat request",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()))
		renderValidationProblem(w, "/heartbeat", reqID, "request body must be valid JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		span.SetAttributes(attribute.String("error.type", "validation"))
		h.logger.WarnContext(ctx, "invalid heartbeat request",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()))
		renderValidationProblem(w, "/heartbeat", reqID, "deviceId and appVersion are required")
		return
	}

	span.SetAttributes(
		attribute.String("device.id", req.DeviceID),
		attribute.String("device.app_version", req.AppVersion),
	)

	resp, err := h.service.Heartbeat(ctx, req)
	latency := time.Since(start)

	if err != nil {
		span.RecordError(err)
		heartbeatTotal.WithLabelValues(outcomeLabel(err)).Inc()

		h.logger.ErrorContext(ctx, "heartbeat failed",
			slog.String("request_id", reqID),
			slog.String("device_id", req.DeviceID),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()))

		kgerrors.RenderProblem(w, kgerrors.MapError(err, "/heartbeat#"+reqID, reqID))
		return
	}

	heartbeatTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(
		attribute.Bool("heartbeat.registered", resp.Registered),
		attribute.Bool("heartbeat.trial_valid", resp.TrialValid),
	)

	h.logger.InfoContext(ctx, "heartbeat completed",
		slog.String("request_id", reqID),
		slog.String("device_id", req.DeviceID),
		slog.Bool("registered", resp.Registered),
		slog.Bool("trial_valid", resp.TrialValid),
		slog.Duration("latency", latency))

	render.JSON(w, r, resp)
}

// renderValidationProblem answers a 400 problem document for malformed or
// incomplete request bodies.
func renderValidationProblem(w http.ResponseWriter, route, reqID, detail string) {
	problem := kgerrors.NewProblemDetails(
		http.StatusBadRequest,
		"/errors/validation-failed",
		"Validation Failed",
		detail,
		route+"#"+reqID,
	).WithExtension("trace_id", reqID)
	kgerrors.RenderProblem(w, problem)
}

// outcomeLabel classifies a service error for metrics labels.
func outcomeLabel(err error) string {
	switch kgerrors.StatusCode(err) {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusForbidden:
		return "device_limit"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "error"
	}
}
