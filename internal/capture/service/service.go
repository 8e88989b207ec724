// Package service wraps the capture store with optimistic-update retries and
// lazy timeout of overdue pending sessions.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"idproof/internal/capture/models"
	"idproof/internal/capture/store"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/platform/audit"
	"idproof/pkg/platform/sentinel"
	"idproof/pkg/requestcontext"
)

// maxUpdateAttempts bounds CAS retries under contention.
const maxUpdateAttempts = 5

// ErrNoChange lets a mutator report that nothing needs saving.
var ErrNoChange = errors.New("no change")

// Mutator edits a session in place. Returning ErrNoChange skips the write.
type Mutator func(s *models.CaptureSession) error

type Service struct {
	store          store.Store
	timeout        time.Duration
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

// New builds the service. timeout is measured from RequestedAt.
func New(st store.Store, timeout time.Duration, opts ...Option) *Service {
	svc := &Service{store: st, timeout: timeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Timeout is the pending deadline applied on read.
func (s *Service) Timeout() time.Duration {
	return s.timeout
}

// Create stores a new session, superseding the flow's previous one.
func (s *Service) Create(ctx context.Context, session *models.CaptureSession) error {
	if err := s.store.Create(ctx, session); err != nil {
		return s.translate(err, "failed to create capture session")
	}
	return nil
}

// Get loads a session, expiring it first if it is overdue.
func (s *Service) Get(ctx context.Context, sessionID id.CaptureSessionID) (*models.CaptureSession, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, s.translate(err, "capture session not found")
	}
	return s.expireIfDue(ctx, session)
}

// GetForUser is Get scoped to the session owner. Foreign sessions look missing.
func (s *Service) GetForUser(ctx context.Context, userID id.UserID, sessionID id.CaptureSessionID) (*models.CaptureSession, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, dErrors.New(dErrors.CodeNotFound, "capture session not found")
	}
	return session, nil
}

// ActiveForFlow returns the live session for the flow, or CodeNotFound.
func (s *Service) ActiveForFlow(ctx context.Context, userID id.UserID, flowID id.FlowID) (*models.CaptureSession, error) {
	session, err := s.store.ActiveForFlow(ctx, userID, flowID)
	if err != nil {
		return nil, s.translate(err, "no active capture session")
	}
	return s.expireIfDue(ctx, session)
}

// FindByToken resolves a vendor correlation token.
func (s *Service) FindByToken(ctx context.Context, vendor, token string) (*models.CaptureSession, error) {
	session, err := s.store.FindByToken(ctx, vendor, token)
	if err != nil {
		return nil, s.translate(err, "capture session not found")
	}
	return session, nil
}

// Update reloads, mutates and saves the session until the write wins or the
// retry budget runs out.
func (s *Service) Update(ctx context.Context, sessionID id.CaptureSessionID, mutate Mutator) (*models.CaptureSession, error) {
	for attempt := 1; ; attempt++ {
		session, err := s.store.Get(ctx, sessionID)
		if err != nil {
			return nil, s.translate(err, "capture session not found")
		}
		if err := mutate(session); err != nil {
			if errors.Is(err, ErrNoChange) {
				return session, nil
			}
			return nil, err
		}
		err = s.store.Save(ctx, session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, sentinel.ErrStale) || attempt >= maxUpdateAttempts {
			return nil, s.translate(err, "failed to update capture session")
		}
		s.logger.DebugContext(ctx, "capture session write conflict, retrying",
			"capture_session_id", sessionID.String(),
			"attempt", attempt,
		)
	}
}

func (s *Service) expireIfDue(ctx context.Context, session *models.CaptureSession) (*models.CaptureSession, error) {
	now := requestcontext.Now(ctx)
	probe := session.Clone()
	if session.Superseded || !probe.Expire(now, s.timeout) {
		return session, nil
	}
	expired := false
	updated, err := s.Update(ctx, session.ID, func(cs *models.CaptureSession) error {
		expired = !cs.Superseded && cs.Expire(now, s.timeout)
		if !expired {
			return ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventCaptureTimedOut,
			"user_id", updated.UserID.String(),
			"flow_id", updated.FlowID.String(),
			"vendor", updated.Vendor,
			"capture_session_id", updated.ID.String(),
			"decision", string(updated.Result),
			"reason", "capture_timeout",
		)
	}
	return updated, nil
}

func (s *Service) translate(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrStale):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	default:
		return dErrors.Wrap(fmt.Errorf("%s: %w", msg, err), dErrors.CodeInternal, msg)
	}
}
