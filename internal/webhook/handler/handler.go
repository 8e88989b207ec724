// Package handler exposes the vendor webhook endpoint.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idproof/internal/docauth"
	"idproof/internal/webhook/metrics"
	"idproof/internal/webhook/models"
	"idproof/internal/webhook/signature"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/platform/audit"
	"idproof/pkg/platform/httputil"
	"idproof/pkg/requestcontext"
)

const defaultMaxBodyBytes = 64 << 10

// Service is the ingestion surface the handler drives.
type Service interface {
	Adapter(vendor string) (docauth.AsyncAdapter, error)
	Ingest(ctx context.Context, vendor string, raw []byte) ([]models.Outcome, error)
}

type Handler struct {
	service      Service
	secrets      map[string][]byte
	maxBodyBytes int64
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithMaxBodyBytes bounds the raw body read before signature checks.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// New builds the handler. secrets maps vendor name to its shared secret.
func New(service Service, secrets map[string]string, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:      service,
		secrets:      make(map[string][]byte, len(secrets)),
		maxBodyBytes: defaultMaxBodyBytes,
		logger:       logger,
	}
	for vendor, secret := range secrets {
		if secret != "" {
			h.secrets[vendor] = []byte(secret)
		}
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/{vendor}", h.HandleWebhook)
}

// HandleWebhook verifies and ingests one vendor callback. Rejections at the
// boundary never touch capture state.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	vendor := chi.URLParam(r, "vendor")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(ctx, vendor, "too_large", err)
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "webhook body too large"))
			return
		}
		h.reject(ctx, vendor, "unreadable", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read webhook body"))
		return
	}

	if _, err := h.service.Adapter(vendor); err != nil {
		h.reject(ctx, vendor, "unknown_vendor", err)
		httputil.WriteError(w, err)
		return
	}

	if err := signature.Verify(h.secrets[vendor], raw, r.Header.Get(signature.Header)); err != nil {
		h.reject(ctx, vendor, "bad_signature", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook signature"))
		return
	}

	outcomes, err := h.service.Ingest(ctx, vendor, raw)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeBadRequest) {
			h.reject(ctx, vendor, "malformed", err)
		} else {
			h.logger.ErrorContext(ctx, "failed to ingest webhook",
				"request_id", requestID,
				"vendor", vendor,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "events": len(outcomes)})
}

// reject logs a boundary failure. The audit line goes to the log only.
func (h *Handler) reject(ctx context.Context, vendor, reason string, err error) {
	if h.metrics != nil {
		h.metrics.IncrementRejection(vendor, reason)
	}
	audit.LogAudit(ctx, h.logger, nil, audit.EventWebhookRejected,
		"vendor", vendor,
		"reason", reason,
		"error", err.Error(),
	)
}
