// Package service applies normalized vendor webhook events to capture
// sessions and hands accepted events to the repeater.
package service

import (
	"context"
	"log/slog"

	"idproof/internal/capture/models"
	captureService "idproof/internal/capture/service"
	"idproof/internal/docauth"
	"idproof/internal/webhook/metrics"
	webhookModels "idproof/internal/webhook/models"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/platform/audit"
	"idproof/pkg/requestcontext"
)

// Vendors resolves asynchronous adapters by name.
type Vendors interface {
	Async(name string) (docauth.AsyncAdapter, bool)
}

// Sessions is the capture service surface ingestion needs.
type Sessions interface {
	FindByToken(ctx context.Context, vendor, token string) (*models.CaptureSession, error)
	Update(ctx context.Context, sessionID id.CaptureSessionID, mutate captureService.Mutator) (*models.CaptureSession, error)
}

// Dispatcher accepts events for best-effort re-delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, env webhookModels.Envelope) bool
}

type Service struct {
	vendors        Vendors
	sessions       Sessions
	dispatcher     Dispatcher
	metrics        *metrics.Metrics
	auditPublisher audit.Emitter
	logger         *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Emitter) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithDispatcher enables re-broadcast of applied events.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) {
		s.dispatcher = d
	}
}

func New(vendors Vendors, sessions Sessions, opts ...Option) *Service {
	svc := &Service{vendors: vendors, sessions: sessions, logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Adapter returns the asynchronous adapter registered under vendor.
func (s *Service) Adapter(vendor string) (docauth.AsyncAdapter, error) {
	adapter, ok := s.vendors.Async(vendor)
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown webhook vendor")
	}
	return adapter, nil
}

// Ingest parses raw with the vendor's adapter and applies every event. The
// signature must already be verified. Unknown tokens and replays are
// acknowledged without changing state.
func (s *Service) Ingest(ctx context.Context, vendor string, raw []byte) ([]webhookModels.Outcome, error) {
	adapter, err := s.Adapter(vendor)
	if err != nil {
		return nil, err
	}
	events, err := adapter.ParseWebhook(raw)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed webhook payload")
	}
	if len(events) == 0 {
		s.logger.InfoContext(ctx, "webhook carried no recognized events",
			"request_id", requestcontext.RequestID(ctx),
			"vendor", vendor,
		)
	}

	outcomes := make([]webhookModels.Outcome, 0, len(events))
	for _, event := range events {
		outcome, err := s.apply(ctx, vendor, adapter, event)
		if err != nil {
			return outcomes, err
		}
		if s.metrics != nil {
			s.metrics.ObserveEvent(vendor, string(event.Kind), string(outcome))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Service) apply(ctx context.Context, vendor string, adapter docauth.AsyncAdapter, event docauth.WebhookEvent) (webhookModels.Outcome, error) {
	requestID := requestcontext.RequestID(ctx)
	session, err := s.sessions.FindByToken(ctx, vendor, event.Token)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			s.logger.InfoContext(ctx, "webhook for unknown token acknowledged",
				"request_id", requestID,
				"vendor", vendor,
				"kind", string(event.Kind),
			)
			return webhookModels.OutcomeUnknownToken, nil
		}
		return "", err
	}

	now := requestcontext.Now(ctx)
	at := event.OccurredAt
	if at.IsZero() {
		at = now
	}

	// Resolve outside the CAS loop so a retry never repeats the vendor call.
	verdict := event.Verdict
	if event.Kind == docauth.EventCaptureComplete && verdict == nil && session.IsPending() && !session.Superseded {
		resolved, err := adapter.Resolve(ctx, event.Token)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to resolve completed capture, leaving pending",
				"request_id", requestID,
				"vendor", vendor,
				"capture_session_id", session.ID.String(),
				"error", err,
			)
		} else {
			verdict = &resolved
		}
	}

	var (
		outcome   webhookModels.Outcome
		completed bool
	)
	updated, err := s.sessions.Update(ctx, session.ID, func(cs *models.CaptureSession) error {
		completed = false
		switch {
		case cs.Superseded:
			outcome = webhookModels.OutcomeSuperseded
			return captureService.ErrNoChange
		case cs.HasProcessed(event.Kind):
			outcome = webhookModels.OutcomeDuplicate
			return captureService.ErrNoChange
		}

		switch event.Kind {
		case docauth.EventSessionOpened:
			cs.RefreshCaptureApp(event.CaptureAppURL, at)
		case docauth.EventSessionExpired:
			cs.ClearCaptureApp(at)
			if cs.IsPending() {
				completed = cs.ApplyVerdict(docauth.TransportErrorVerdict(docauth.ReasonTimeout, "session_expired"), now)
			}
		case docauth.EventCaptureComplete:
			cleared := cs.ClearCaptureApp(at)
			if cs.IsPending() && (verdict == nil || !verdict.Result.Terminal()) {
				// Leave unprocessed so a replay can resolve it.
				outcome = webhookModels.OutcomeUnresolved
				if !cleared {
					return captureService.ErrNoChange
				}
				return nil
			}
			if verdict != nil {
				completed = cs.ApplyVerdict(*verdict, now)
			}
		case docauth.EventError:
			cs.ClearCaptureApp(at)
			v := docauth.TransportErrorVerdict(docauth.ReasonVendorUnavailable, "capture_error")
			if verdict != nil {
				v = *verdict
			}
			completed = cs.ApplyVerdict(v, now)
		}
		cs.MarkProcessed(event.Kind)
		outcome = webhookModels.OutcomeApplied
		return nil
	})
	if err != nil {
		return "", err
	}

	switch outcome {
	case webhookModels.OutcomeSuperseded:
		s.logger.InfoContext(ctx, "webhook for superseded capture session ignored",
			"request_id", requestID,
			"vendor", vendor,
			"capture_session_id", updated.ID.String(),
		)
		return outcome, nil
	case webhookModels.OutcomeDuplicate:
		s.logger.DebugContext(ctx, "duplicate webhook event ignored",
			"request_id", requestID,
			"vendor", vendor,
			"kind", string(event.Kind),
		)
		return outcome, nil
	}

	if completed {
		audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventCaptureResult,
			"user_id", updated.UserID.String(),
			"flow_id", updated.FlowID.String(),
			"vendor", vendor,
			"capture_session_id", updated.ID.String(),
			"decision", string(updated.Result),
			"reason", reasonOf(updated),
		)
	}
	if outcome == webhookModels.OutcomeApplied && s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, webhookModels.Envelope{
			Vendor:           vendor,
			Token:            event.Token,
			Kind:             event.Kind,
			VendorType:       event.VendorType,
			OccurredAt:       at,
			ReceivedAt:       now,
			CaptureSessionID: updated.ID.String(),
			Result:           string(updated.Result),
			RequestID:        requestID,
		})
	}
	return outcome, nil
}

func reasonOf(s *models.CaptureSession) string {
	if len(s.Reasons) == 0 {
		return ""
	}
	return string(s.Reasons[0])
}
