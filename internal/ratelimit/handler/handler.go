// Package handler exposes the operator remediation endpoints for the limiter.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idproof/internal/ratelimit/models"
	id "idproof/pkg/domain"
	"idproof/pkg/platform/httputil"
	"idproof/pkg/requestcontext"
)

// Service is the subset of the limiter the admin endpoints need.
type Service interface {
	Status(ctx context.Context, userID id.UserID, action models.Action) (*models.RateLimitResult, error)
	Reset(ctx context.Context, userID id.UserID, action models.Action, actorID, reason string) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterAdmin mounts the admin routes. Callers wrap r with the admin token
// middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/ratelimit/reset", h.HandleReset)
	r.Get("/admin/ratelimit/status", h.HandleStatus)
}

// HandleReset clears one (user, action) counter.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.ResetRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	userID, _ := id.ParseUserID(req.UserID)
	actor := r.Header.Get("X-Operator")
	if actor == "" {
		actor = "admin"
	}

	if err := h.service.Reset(ctx, userID, models.Action(req.Action), actor, req.Reason); err != nil {
		h.logger.ErrorContext(ctx, "failed to reset rate limit", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"reset": true, "user_id": req.UserID, "action": req.Action})
}

// HandleStatus reports remaining attempts for ?user_id=&action=.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	action, err := models.ParseAction(r.URL.Query().Get("action"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.Status(ctx, userID, action)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read rate limit", "request_id", requestcontext.RequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
