package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	kgerrors "keygate/internal/errors"
	"keygate/internal/middleware"
	"keygate/internal/services"
	v1 "keygate/pkg/contracts/api/v1"
)

// RegisterHandler handles POST /register
type RegisterHandler struct {
	service services.RegistrationService
	logger  *slog.Logger
}

// NewRegisterHandler creates a new registration handler
func NewRegisterHandler(service services.RegistrationService, logger *slog.Logger) *RegisterHandler {
	return &RegisterHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "register")),
	}
}

// Register handles POST /register
func (h *RegisterHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	start := time.Now()

	tracer := otel.Tracer("register-handler")
	ctx, span := tracer.Start(ctx, "register_handler.register",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/register"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	req := &v1.RegisterRequest{}
	if err := render.Decode(r, req); err != nil {
		span.RecordError(err)
		h.logger.WarnContext(ctx, "failed to decode registration request",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()))
		renderValidationProblem(w, "/register", reqID, "request body must be valid JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		span.SetAttributes(attribute.String("error.type", "validation"))
		h.logger.WarnContext(ctx, "invalid registration request",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()))
		renderValidationProblem(w, "/register", reqID, "deviceId and downloadKey are required")
		return
	}

	// The plaintext key never goes into logs or spans
	span.SetAttributes(attribute.String("device.id", req.DeviceID))

	resp, err := h.service.Register(ctx, req)
	latency := time.Since(start)

	if err != nil {
		span.RecordError(err)
		registrationTotal.WithLabelValues(outcomeLabel(err)).Inc()

		h.logger.ErrorContext(ctx, "registration failed",
			slog.String("request_id", reqID),
			slog.String("device_id", req.DeviceID),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()))

		kgerrors.RenderProblem(w, kgerrors.MapError(err, "/register#"+reqID, reqID))
		return
	}

	if resp.Success {
		registrationTotal.WithLabelValues("ok").Inc()
	} else {
		registrationTotal.WithLabelValues("soft_failure").Inc()
	}
	span.SetAttributes(attribute.Bool("registration.success", resp.Success))

	h.logger.InfoContext(ctx, "registration completed",
		slog.String("request_id", reqID),
		slog.String("device_id", req.DeviceID),
		slog.Bool("success", resp.Success),
		slog.String("key_hint", resp.KeyHint),
		slog.Duration("latency", latency))

	render.JSON(w, r, resp)
}
