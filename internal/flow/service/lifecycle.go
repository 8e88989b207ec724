package service

import (
	"context"
	"errors"

	captureModels "idproof/internal/capture/models"
	captureService "idproof/internal/capture/service"
	"idproof/internal/flow/graph"
	"idproof/internal/flow/models"
	rlModels "idproof/internal/ratelimit/models"
	routingModels "idproof/internal/routing/models"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/platform/audit"
	"idproof/pkg/platform/sentinel"
	"idproof/pkg/requestcontext"
)

// StartRequest opens a flow for a relying party.
type StartRequest struct {
	FlowType     id.FlowType
	RelyingParty models.RelyingParty
}

// Start opens a flow, or returns the user's current one unchanged.
func (s *Service) Start(ctx context.Context, userID id.UserID, req StartRequest) (*models.View, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if _, err := s.States.Get(ctx, userID); err == nil {
		return s.Visit(ctx, userID, models.StepWelcome)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load flow")
	}

	cp, err := s.open(ctx, userID, req, 0)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			// Lost a race with a parallel start; show the winner.
			return s.Visit(ctx, userID, models.StepWelcome)
		}
		return nil, err
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventFlowStarted,
		"user_id", userID.String(),
		"flow_id", cp.state.FlowID.String(),
		"vendor", cp.state.Routing.Vendor,
		"decision", string(cp.state.Routing.Source),
	)
	return s.view(cp, graph.NextStep(cp.state, cp.state.Flags, cp.now)), nil
}

// Restart discards the current flow and opens a new one with a fresh
// routing decision. The old capture session is superseded so late vendor
// callbacks for it are ignored.
func (s *Service) Restart(ctx context.Context, userID id.UserID, req StartRequest) (*models.View, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	var version int64
	old, err := s.States.Get(ctx, userID)
	switch {
	case err == nil:
		version = old.Version
		if req.FlowType == "" {
			req.FlowType = old.FlowType
			req.RelyingParty = old.Flags.RelyingParty
		}
		if old.HasCapture() {
			s.supersede(ctx, old.Answers.CaptureSessionID)
		}
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load flow")
	}

	cp, err := s.open(ctx, userID, req, version)
	if err != nil {
		return nil, err
	}
	attrs := []any{
		"user_id", userID.String(),
		"flow_id", cp.state.FlowID.String(),
		"vendor", cp.state.Routing.Vendor,
		"decision", string(cp.state.Routing.Source),
	}
	if old != nil {
		attrs = append(attrs, "previous_flow_id", old.FlowID.String())
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventFlowRestarted, attrs...)
	return s.view(cp, graph.NextStep(cp.state, cp.state.Flags, cp.now)), nil
}

// open routes, snapshots flags and writes a new state over version.
func (s *Service) open(ctx context.Context, userID id.UserID, req StartRequest, version int64) (*checkpoint, error) {
	if req.FlowType == "" {
		req.FlowType = id.FlowTypeIDV
	}
	if !req.FlowType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid flow_type")
	}
	if req.FlowType == id.FlowTypeIDVBiometric {
		req.RelyingParty.SelfieRequired = true
	}

	system, _ := s.readFlags(ctx)
	flags := models.Flags{System: system, RelyingParty: req.RelyingParty}

	decision, err := s.Router.Route(ctx, routingModels.Request{UserID: userID, FlowType: req.FlowType})
	if err != nil {
		return nil, err
	}
	budget, err := s.Limiter.Status(ctx, userID, rlModels.ActionDocAuth)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	st := models.NewState(userID, req.FlowType, flags, decision, budget.Remaining, now)
	st.Version = version
	if err := s.States.Save(ctx, st); err != nil {
		if errors.Is(err, sentinel.ErrStale) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "flow changed concurrently, reload")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save flow")
	}
	return &checkpoint{state: st, now: now}, nil
}

func (s *Service) supersede(ctx context.Context, sessionID id.CaptureSessionID) {
	_, err := s.Captures.Update(ctx, sessionID, func(cs *captureModels.CaptureSession) error {
		if cs.Superseded {
			return captureService.ErrNoChange
		}
		cs.Superseded = true
		return nil
	})
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		s.logger.WarnContext(ctx, "failed to supersede capture session on restart",
			"request_id", requestcontext.RequestID(ctx),
			"capture_session_id", sessionID.String(),
			"error", err,
		)
	}
}

// Visit renders step when it is reachable and redirects otherwise. The
// capture wait page reconciles the in-flight capture first.
func (s *Service) Visit(ctx context.Context, userID id.UserID, step models.Step) (*models.View, error) {
	cp, redirect, err := s.enter(ctx, userID, step)
	if err != nil {
		return nil, err
	}
	if redirect != nil {
		if redirect.Step == models.StepCaptureWait {
			return s.refresh(ctx, userID, true)
		}
		return redirect, nil
	}
	if step == models.StepCaptureWait {
		return s.refresh(ctx, userID, false)
	}
	if err := s.persistCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	return s.view(cp, step), nil
}

// OpenHandoff is the phone's entry point. It validates the link, marks it
// opened and mints an access token scoped to the link's lifetime.
func (s *Service) OpenHandoff(ctx context.Context, token string) (*models.View, error) {
	claims, err := s.Tokens.ValidateHandoffToken(token, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid hand-off link")
	}
	flowID, err := id.ParseFlowID(claims.FlowID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid hand-off link")
	}

	cp, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cp.state.FlowID != flowID || cp.state.Answers.Handoff != models.HandoffHybrid {
		return nil, dErrors.New(dErrors.CodeNotFound, "hand-off link is no longer valid")
	}

	err = s.commit(ctx, cp, "", func(st *models.State) error {
		if st.Answers.Handoff != models.HandoffHybrid {
			return dErrors.New(dErrors.CodeNotFound, "hand-off link is no longer valid")
		}
		if st.Answers.HandoffOpenedAt == nil {
			opened := cp.now
			st.Answers.HandoffOpenedAt = &opened
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	access, err := s.Tokens.GenerateAccessToken(userID, cp.now, s.cfg.HandoffLinkTTL)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "hand-off link opened",
		"request_id", requestcontext.RequestID(ctx),
		"flow_id", flowID.String(),
	)
	v := s.view(cp, graph.NextStep(cp.state, cp.state.Flags, cp.now))
	v.AccessToken = access
	return v, nil
}
