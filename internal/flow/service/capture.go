package service

import (
	"context"
	"slices"
	"strings"

	captureModels "idproof/internal/capture/models"
	captureService "idproof/internal/capture/service"
	"idproof/internal/docauth"
	"idproof/internal/flow/graph"
	"idproof/internal/flow/models"
	rlModels "idproof/internal/ratelimit/models"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/platform/audit"
	"idproof/pkg/requestcontext"
)

// CaptureRequest carries the images for one document attempt.
type CaptureRequest struct {
	Images docauth.Images
	Locale string
}

// SubmitCapture sends one capture attempt to the routed vendor. Pre-check
// failures cost nothing; everything past pre-check consumes an attempt.
func (s *Service) SubmitCapture(ctx context.Context, userID id.UserID, req CaptureRequest) (*models.View, error) {
	cp, redirect, err := s.enter(ctx, userID, models.StepCapture)
	if err != nil {
		return nil, err
	}
	if redirect != nil {
		return redirect, nil
	}
	st := cp.state

	adapter, ok := s.Catalog.Get(st.Routing.Vendor)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnavailable, "document verification vendor is not available")
	}

	session := captureModels.NewPending(userID, st.FlowID, st.Answers.IDType, st.SelfieRequired(), adapter.Name(), cp.now)
	meta := docauth.Metadata{
		UserID:           userID,
		CaptureSessionID: session.ID,
		IDType:           st.Answers.IDType,
		SelfieRequired:   session.SelfieRequired,
		Locale:           req.Locale,
		CallbackURL:      strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/webhooks/" + adapter.Name(),
	}
	if err := adapter.PreCheck(req.Images, meta); err != nil {
		audit.LogAudit(ctx, s.logger, nil, audit.EventCaptureRejected,
			"user_id", userID.String(),
			"flow_id", st.FlowID.String(),
			"vendor", adapter.Name(),
			"reason", err.Error(),
		)
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	budget, limited, err := s.consume(ctx, cp, rlModels.ActionDocAuth)
	if err != nil {
		return nil, err
	}
	if limited != nil {
		return limited, nil
	}

	if err := s.Captures.Create(ctx, session); err != nil {
		return nil, unavailable(err, "failed to create capture session")
	}

	sub, err := adapter.Submit(ctx, req.Images, meta)
	if err != nil {
		v := docauth.VerdictFromError(adapter.Name(), err)
		sub = docauth.Submission{Verdict: &v}
	}
	session, err = s.Captures.Update(ctx, session.ID, func(cs *captureModels.CaptureSession) error {
		switch {
		case sub.Pending != nil:
			cs.AttachPending(*sub.Pending, cp.now)
		case sub.Verdict != nil:
			if !cs.ApplyVerdict(*sub.Verdict, cp.now) {
				return captureService.ErrNoChange
			}
		default:
			return captureService.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err, "failed to record capture result")
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventCaptureSubmitted,
		"user_id", userID.String(),
		"flow_id", st.FlowID.String(),
		"vendor", adapter.Name(),
		"decision", string(session.Result),
		"capture_session_id", session.ID.String(),
		"attempts_remaining", budget.Remaining,
	)

	err = s.commit(ctx, cp, models.StepCapture, func(st *models.State) error {
		graph.ClearAfter(models.StepCapture, st)
		st.Answers.CaptureSessionID = session.ID
		st.AttemptsRemaining = budget.Remaining
		applyOutcome(st, session)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordOutcome(ctx, cp, session)

	v := s.view(cp, graph.NextStep(cp.state, cp.state.Flags, cp.now))
	status := session.Status()
	v.Capture = &status
	return v, nil
}

// Poll reports a capture session's status, resolving it with an
// asynchronous vendor when no webhook has landed yet. A terminal verdict on
// the flow's current session advances the flow.
func (s *Service) Poll(ctx context.Context, userID id.UserID, sessionID id.CaptureSessionID) (*models.View, error) {
	cp, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	session, err := s.Captures.GetForUser(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.poll(ctx, cp, session)
}

// refresh reconciles the flow's current capture, if any.
func (s *Service) refresh(ctx context.Context, userID id.UserID, redirected bool) (*models.View, error) {
	cp, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cp.state.HasCapture() {
		if err := s.persistCheckpoint(ctx, cp); err != nil {
			return nil, err
		}
		v := s.view(cp, graph.NextStep(cp.state, cp.state.Flags, cp.now))
		v.Redirected = redirected
		return v, nil
	}
	session, err := s.Captures.GetForUser(ctx, userID, cp.state.Answers.CaptureSessionID)
	if err != nil {
		return nil, err
	}
	v, err := s.poll(ctx, cp, session)
	if err != nil {
		return nil, err
	}
	v.Redirected = redirected
	return v, nil
}

func (s *Service) poll(ctx context.Context, cp *checkpoint, session *captureModels.CaptureSession) (*models.View, error) {
	session = s.resolve(ctx, session)

	current := session.ID == cp.state.Answers.CaptureSessionID && session.FlowID == cp.state.FlowID
	if current && !session.IsPending() && !cp.state.Answers.CapturePassed {
		err := s.commit(ctx, cp, "", func(st *models.State) error {
			if st.Answers.CaptureSessionID != session.ID || st.Answers.CapturePassed {
				return nil
			}
			applyOutcome(st, session)
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.recordOutcome(ctx, cp, session)
	} else if err := s.persistCheckpoint(ctx, cp); err != nil {
		return nil, err
	}

	v := s.view(cp, graph.NextStep(cp.state, cp.state.Flags, cp.now))
	status := session.Status()
	v.Capture = &status
	return v, nil
}

// resolve asks an asynchronous vendor for a verdict the webhook has not
// delivered. Vendor failures keep the session pending; the capture timeout
// bounds the wait.
func (s *Service) resolve(ctx context.Context, session *captureModels.CaptureSession) *captureModels.CaptureSession {
	if !session.IsPending() || session.Superseded || session.Token == "" {
		return session
	}
	adapter, ok := s.Catalog.Get(session.Vendor)
	if !ok {
		return session
	}
	async, ok := adapter.(docauth.AsyncAdapter)
	if !ok {
		return session
	}
	verdict, err := async.Resolve(ctx, session.Token)
	if err != nil {
		s.logger.WarnContext(ctx, "vendor resolve failed, session stays pending",
			"request_id", requestcontext.RequestID(ctx),
			"capture_session_id", session.ID.String(),
			"vendor", session.Vendor,
			"error", err,
		)
		return session
	}
	if !verdict.Result.Terminal() {
		return session
	}
	now := requestcontext.Now(ctx)
	updated, err := s.Captures.Update(ctx, session.ID, func(cs *captureModels.CaptureSession) error {
		if cs.Superseded || !cs.ApplyVerdict(verdict, now) {
			return captureService.ErrNoChange
		}
		return nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record resolved verdict",
			"request_id", requestcontext.RequestID(ctx),
			"capture_session_id", session.ID.String(),
			"error", err,
		)
		return session
	}
	return updated
}

// applyOutcome folds a decided capture session into the flow. A failed
// attempt returns the user to capture until the budget runs out.
func applyOutcome(st *models.State, session *captureModels.CaptureSession) {
	switch session.Result {
	case docauth.ResultPass:
		st.Answers.CapturePassed = true
		st.Answers.LastReasons = nil
		if session.Fields != nil {
			f := *session.Fields
			st.Answers.Fields = &f
		}
	case docauth.ResultFail, docauth.ResultError:
		st.Answers.CaptureSessionID = id.CaptureSessionID{}
		st.Answers.LastReasons = slices.Clone(session.Reasons)
		if st.AttemptsRemaining > 0 {
			return
		}
		if session.TransportError {
			st.Terminal = models.StepTryAgainLater
		} else {
			st.Terminal = models.StepFailure
		}
	}
}

// recordOutcome emits the metrics and audit trail for a decided capture.
func (s *Service) recordOutcome(ctx context.Context, cp *checkpoint, session *captureModels.CaptureSession) {
	if session.IsPending() {
		return
	}
	if s.metrics != nil {
		s.metrics.IncrementCapture(session.Vendor, string(session.Result))
	}
	terminal := cp.state.Terminal
	if !terminal.Terminal() || terminal == models.StepRateLimited {
		return
	}
	if s.metrics != nil {
		s.metrics.IncrementTerminal(string(terminal))
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventFlowFailed,
		"user_id", cp.state.UserID.String(),
		"flow_id", cp.state.FlowID.String(),
		"vendor", session.Vendor,
		"decision", string(terminal),
		"reason", strings.Join(docauth.ReasonStrings(session.Reasons), ","),
	)
}
