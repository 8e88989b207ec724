// Package handler exposes the proofing flow over HTTP. Every response body is
// a flow View; a redirected view also carries a Location header naming the
// step the client should show.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idproof/internal/docauth"
	"idproof/internal/flow/models"
	"idproof/internal/flow/service"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/platform/httputil"
	"idproof/pkg/requestcontext"
)

// defaultCaptureBodyBytes fits four base64 images at the adapter size cap.
const defaultCaptureBodyBytes = 4 * (docauth.MaxImageBytes * 4 / 3)

// Service is the flow controller surface the handler drives.
type Service interface {
	Start(ctx context.Context, userID id.UserID, req service.StartRequest) (*models.View, error)
	Restart(ctx context.Context, userID id.UserID, req service.StartRequest) (*models.View, error)
	Visit(ctx context.Context, userID id.UserID, step models.Step) (*models.View, error)
	OpenHandoff(ctx context.Context, token string) (*models.View, error)

	SubmitWelcome(ctx context.Context, userID id.UserID) (*models.View, error)
	SubmitConsent(ctx context.Context, userID id.UserID, agreed bool) (*models.View, error)
	ChooseHowToVerify(ctx context.Context, userID id.UserID, method models.Method) (*models.View, error)
	EnrollInPerson(ctx context.Context, userID id.UserID) (*models.View, error)
	ChooseHandoff(ctx context.Context, userID id.UserID, req service.HandoffRequest) (*models.View, error)
	ChooseIDType(ctx context.Context, userID id.UserID, raw string) (*models.View, error)
	SubmitSelfieConsent(ctx context.Context, userID id.UserID, optIn bool) (*models.View, error)
	SubmitCapture(ctx context.Context, userID id.UserID, req service.CaptureRequest) (*models.View, error)
	Poll(ctx context.Context, userID id.UserID, sessionID id.CaptureSessionID) (*models.View, error)
	ConfirmPersonalInfo(ctx context.Context, userID id.UserID, edits docauth.Fields) (*models.View, error)
	VerifyContact(ctx context.Context, userID id.UserID, req service.ContactRequest) (*models.View, error)
	IssueCredential(ctx context.Context, userID id.UserID) (*models.View, error)
}

type Handler struct {
	service          Service
	captureBodyBytes int64
	logger           *slog.Logger
}

type Option func(*Handler)

// WithCaptureBodyBytes bounds capture submissions.
func WithCaptureBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.captureBodyBytes = n
		}
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, captureBodyBytes: defaultCaptureBodyBytes, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the authenticated flow routes. Callers wrap r with the
// bearer token middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/idv/flows", h.HandleStart)
	r.Post("/idv/flows/restart", h.HandleRestart)
	r.Get("/idv/steps/{step}", h.HandleVisit)
	r.Post("/idv/steps/{step}", h.HandleSubmit)
	r.Post("/idv/capture", h.HandleCapture)
	r.Get("/idv/capture/{id}", h.HandlePoll)
}

// RegisterPublic mounts the phone's hand-off entry point, which
// authenticates by its link token.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/idv/hybrid/{token}", h.HandleHybrid)
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.service.Start)
}

func (h *Handler) HandleRestart(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.service.Restart)
}

type startFunc func(ctx context.Context, userID id.UserID, req service.StartRequest) (*models.View, error)

func (h *Handler) start(w http.ResponseWriter, r *http.Request, fn startFunc) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req := &models.StartRequest{}
	if r.ContentLength != 0 {
		var ok bool
		req, ok = httputil.DecodeAndPrepare[models.StartRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
	}
	view, err := fn(ctx, requestcontext.UserID(ctx), service.StartRequest{
		FlowType:     id.FlowType(req.FlowType),
		RelyingParty: req.RelyingParty,
	})
	h.respond(w, r, view, err, "failed to start flow")
}

// HandleVisit renders a step or redirects to the one the flow allows.
func (h *Handler) HandleVisit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	step, err := models.ParseStep(chi.URLParam(r, "step"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.Visit(ctx, requestcontext.UserID(ctx), step)
	h.respond(w, r, view, err, "failed to load step")
}

// HandleSubmit answers a step. Capture has its own endpoint.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID := requestcontext.UserID(ctx)

	step, err := models.ParseStep(chi.URLParam(r, "step"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	answer := &models.StepAnswer{}
	if r.ContentLength != 0 {
		var ok bool
		answer, ok = httputil.DecodeAndPrepare[models.StepAnswer](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
	}

	var view *models.View
	switch step {
	case models.StepWelcome:
		view, err = h.service.SubmitWelcome(ctx, userID)
	case models.StepConsent:
		view, err = h.service.SubmitConsent(ctx, userID, answer.Agreed)
	case models.StepHowToVerify:
		view, err = h.service.ChooseHowToVerify(ctx, userID, models.Method(answer.Method))
	case models.StepInPerson:
		view, err = h.service.EnrollInPerson(ctx, userID)
	case models.StepHandoff:
		view, err = h.service.ChooseHandoff(ctx, userID, service.HandoffRequest{
			Method: models.Handoff(answer.Method),
			Phone:  answer.Phone,
		})
	case models.StepIDType:
		view, err = h.service.ChooseIDType(ctx, userID, answer.IDType)
	case models.StepSelfie:
		view, err = h.service.SubmitSelfieConsent(ctx, userID, answer.OptIn)
	case models.StepPersonalInfo:
		view, err = h.service.ConfirmPersonalInfo(ctx, userID, answer.Fields)
	case models.StepContact:
		view, err = h.service.VerifyContact(ctx, userID, service.ContactRequest{Phone: answer.Phone, Code: answer.Code})
	case models.StepCredential:
		view, err = h.service.IssueCredential(ctx, userID)
	case models.StepCapture:
		err = dErrors.New(dErrors.CodeBadRequest, "submit captures to /idv/capture")
	default:
		err = dErrors.New(dErrors.CodeBadRequest, "step "+step.String()+" takes no answer")
	}
	h.respond(w, r, view, err, "failed to submit step")
}

// HandleCapture submits document images to the routed vendor.
func (h *Handler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req models.CaptureRequest
	if err := httputil.DecodeJSON(w, r, &req, h.captureBodyBytes); err != nil {
		h.logger.WarnContext(ctx, "failed to decode capture", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.SubmitCapture(ctx, requestcontext.UserID(ctx), service.CaptureRequest{
		Images: req.Images(),
		Locale: req.Locale,
	})
	h.respond(w, r, view, err, "failed to submit capture")
}

// HandlePoll reports a capture session scoped to the caller.
func (h *Handler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, err := id.ParseCaptureSessionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "capture session not found"))
		return
	}
	view, err := h.service.Poll(ctx, requestcontext.UserID(ctx), sessionID)
	h.respond(w, r, view, err, "failed to poll capture")
}

// HandleHybrid opens a hand-off link on the phone.
func (h *Handler) HandleHybrid(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.OpenHandoff(r.Context(), chi.URLParam(r, "token"))
	h.respond(w, r, view, err, "failed to open hand-off link")
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, view *models.View, err error, msg string) {
	if err != nil {
		ctx := r.Context()
		if dErrors.CodeOf(err) == dErrors.CodeInternal || dErrors.HasCode(err, dErrors.CodeUnavailable) {
			h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
		}
		httputil.WriteError(w, err)
		return
	}
	if view.Redirected {
		w.Header().Set("Location", "/idv/steps/"+view.Step.String())
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}
