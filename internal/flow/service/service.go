// Package service is the Step Flow Controller. It runs every request
// through a configuration checkpoint and the step graph before touching the
// limiter, the vendor or the black-box ports.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	captureModels "idproof/internal/capture/models"
	captureService "idproof/internal/capture/service"
	"idproof/internal/docauth"
	"idproof/internal/flow/flags"
	"idproof/internal/flow/graph"
	"idproof/internal/flow/metrics"
	"idproof/internal/flow/models"
	"idproof/internal/flow/ports"
	"idproof/internal/flow/store"
	jwttoken "idproof/internal/jwt_token"
	rlModels "idproof/internal/ratelimit/models"
	routingModels "idproof/internal/routing/models"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/platform/audit"
	"idproof/pkg/platform/sentinel"
	"idproof/pkg/requestcontext"
)

// maxSaveAttempts bounds StepState CAS retries.
const maxSaveAttempts = 5

// Router picks the vendor once per flow instance.
type Router interface {
	Route(ctx context.Context, req routingModels.Request) (routingModels.Decision, error)
}

// Catalog resolves the routed vendor name to its adapter.
type Catalog interface {
	Get(name string) (docauth.Adapter, bool)
}

// Limiter is the rate limiter surface the flow consumes.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, userID id.UserID, action rlModels.Action) (*rlModels.RateLimitResult, error)
	Status(ctx context.Context, userID id.UserID, action rlModels.Action) (*rlModels.RateLimitResult, error)
}

// Captures is the capture session service.
type Captures interface {
	Create(ctx context.Context, session *captureModels.CaptureSession) error
	GetForUser(ctx context.Context, userID id.UserID, sessionID id.CaptureSessionID) (*captureModels.CaptureSession, error)
	Update(ctx context.Context, sessionID id.CaptureSessionID, mutate captureService.Mutator) (*captureModels.CaptureSession, error)
}

// Tokens mints and checks hand-off links and the phone's access token.
type Tokens interface {
	GenerateHandoffToken(userID id.UserID, flowID id.FlowID, now time.Time, expiresIn time.Duration) (string, error)
	GenerateAccessToken(userID id.UserID, now time.Time, expiresIn time.Duration) (string, error)
	ValidateHandoffToken(token string, now time.Time) (*jwttoken.Claims, error)
}

// Deps are the collaborators the controller cannot run without.
type Deps struct {
	States   store.Store
	Flags    flags.Source
	Router   Router
	Catalog  Catalog
	Limiter  Limiter
	Captures Captures
	Tokens   Tokens
	Links    ports.LinkSender
	Contacts ports.ContactVerifier
	Issuer   ports.CredentialIssuer
	Enroller ports.InPersonEnroller
}

// Config holds the flow's tunables.
type Config struct {
	PublicBaseURL  string
	HandoffLinkTTL time.Duration
}

type Service struct {
	Deps
	cfg            Config
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

func New(deps Deps, cfg Config, opts ...Option) (*Service, error) {
	switch {
	case deps.States == nil, deps.Flags == nil, deps.Router == nil, deps.Catalog == nil,
		deps.Limiter == nil, deps.Captures == nil, deps.Tokens == nil:
		return nil, errors.New("flow service: missing required dependency")
	case deps.Links == nil, deps.Contacts == nil, deps.Issuer == nil, deps.Enroller == nil:
		return nil, errors.New("flow service: missing port implementation")
	}
	if cfg.HandoffLinkTTL <= 0 {
		cfg.HandoffLinkTTL = 15 * time.Minute
	}
	svc := &Service{Deps: deps, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// checkpoint is a loaded state with the fresh flag snapshot applied.
type checkpoint struct {
	state        *models.State
	flagsChanged bool
	// dirty marks checkpoint changes that must be saved even on redirect.
	dirty bool
	now   time.Time
}

// load reads the user's flow and runs the configuration checkpoint.
func (s *Service) load(ctx context.Context, userID id.UserID) (*checkpoint, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	st, err := s.States.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no active verification flow")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load flow")
	}
	cp := &checkpoint{state: st, now: requestcontext.Now(ctx)}

	if system, ok := s.readFlags(ctx); ok && st.ApplyFlags(system) {
		cp.flagsChanged = true
		if s.metrics != nil {
			s.metrics.FlagChanges.Inc()
		}
		audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventFlagsChanged,
			"user_id", userID.String(),
			"flow_id", st.FlowID.String(),
			"reason", st.Fingerprint,
		)
	}
	lifted := s.liftRateLimit(ctx, st)
	cp.dirty = cp.flagsChanged || lifted
	return cp, nil
}

// readFlags keeps the stored snapshot when the source is unavailable.
func (s *Service) readFlags(ctx context.Context) (models.SystemFlags, bool) {
	system, err := s.Flags.Flags(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "flag source unavailable, keeping snapshot",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return models.SystemFlags{}, false
	}
	return system, true
}

// liftRateLimit clears a rate_limited terminal once its window has reset.
func (s *Service) liftRateLimit(ctx context.Context, st *models.State) bool {
	if st.Terminal != models.StepRateLimited || st.RateLimitedAction == "" {
		return false
	}
	res, err := s.Limiter.Status(ctx, st.UserID, rlModels.Action(st.RateLimitedAction))
	if err != nil || !res.Allowed {
		return false
	}
	st.Terminal = ""
	st.RateLimitedAction = ""
	return true
}

// enter resolves step for the user. A non-nil view means the request must be
// redirected there instead.
func (s *Service) enter(ctx context.Context, userID id.UserID, step models.Step) (*checkpoint, *models.View, error) {
	cp, err := s.load(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	target, redirected := graph.Resolve(step, cp.state, cp.state.Flags, cp.now)
	if !redirected {
		return cp, nil, nil
	}
	if s.metrics != nil {
		s.metrics.IncrementRedirect(string(step), string(target))
	}
	s.logger.InfoContext(ctx, "step not reachable, redirecting",
		"request_id", requestcontext.RequestID(ctx),
		"flow_id", cp.state.FlowID.String(),
		"requested", string(step),
		"target", string(target),
	)
	if err := s.persistCheckpoint(ctx, cp); err != nil {
		return nil, nil, err
	}
	v := s.view(cp, target)
	v.Redirected = true
	return nil, v, nil
}

// persistCheckpoint saves a changed snapshot even when nothing else moved.
func (s *Service) persistCheckpoint(ctx context.Context, cp *checkpoint) error {
	if !cp.dirty {
		return nil
	}
	return s.commit(ctx, cp, "", func(*models.State) error { return nil })
}

// commit applies mutate and saves with CAS. On a lost race it reloads, keeps
// the checkpoint's snapshot, re-checks that step is still reachable and
// re-applies mutate. Side effects must happen before commit.
func (s *Service) commit(ctx context.Context, cp *checkpoint, step models.Step, mutate func(*models.State) error) error {
	st := cp.state
	for attempt := 1; ; attempt++ {
		if err := mutate(st); err != nil {
			return err
		}
		st.UpdatedAt = cp.now
		err := s.States.Save(ctx, st)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sentinel.ErrStale) || attempt >= maxSaveAttempts {
			if errors.Is(err, sentinel.ErrStale) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "flow changed concurrently, reload")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save flow")
		}

		fresh, err := s.States.Get(ctx, st.UserID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reload flow")
		}
		if fresh.FlowID != st.FlowID {
			return dErrors.New(dErrors.CodeConflict, "flow was restarted")
		}
		fresh.ApplyFlags(st.Flags.System)
		if step != "" {
			if _, redirected := graph.Resolve(step, fresh, fresh.Flags, cp.now); redirected {
				return dErrors.New(dErrors.CodeConflict, "flow changed concurrently, reload")
			}
		}
		*st = *fresh
	}
}

// complete records step as answered, forgetting later answers when the
// answer changed.
func (s *Service) complete(ctx context.Context, cp *checkpoint, step models.Step, answer func(*models.State) bool) (*models.View, error) {
	err := s.commit(ctx, cp, step, func(st *models.State) error {
		if answer(st) {
			graph.ClearAfter(step, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementTransition(string(step))
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventStepCompleted,
		"user_id", cp.state.UserID.String(),
		"flow_id", cp.state.FlowID.String(),
		"decision", string(step),
	)
	return s.view(cp, graph.NextStep(cp.state, cp.state.Flags, cp.now)), nil
}

// terminate pins the flow to a terminal step.
func (s *Service) terminate(ctx context.Context, cp *checkpoint, terminal models.Step, action rlModels.Action) (*models.View, error) {
	err := s.commit(ctx, cp, "", func(st *models.State) error {
		st.Terminal = terminal
		st.RateLimitedAction = string(action)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementTerminal(string(terminal))
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventFlowFailed,
		"user_id", cp.state.UserID.String(),
		"flow_id", cp.state.FlowID.String(),
		"vendor", cp.state.Routing.Vendor,
		"decision", string(terminal),
		"reason", string(action),
	)
	return s.view(cp, terminal), nil
}

// consume charges one attempt of action. A nil result means the flow was
// pinned to rate_limited and view holds the response.
func (s *Service) consume(ctx context.Context, cp *checkpoint, action rlModels.Action) (*rlModels.RateLimitResult, *models.View, error) {
	res, err := s.Limiter.CheckAndIncrement(ctx, cp.state.UserID, action)
	if err != nil {
		return nil, nil, err
	}
	if res.Allowed {
		return res, nil, nil
	}
	v, err := s.terminate(ctx, cp, models.StepRateLimited, action)
	return nil, v, err
}

func (s *Service) view(cp *checkpoint, step models.Step) *models.View {
	st := cp.state
	v := &models.View{
		FlowID:            st.FlowID.String(),
		Step:              step,
		FlagsChanged:      cp.flagsChanged,
		Vendor:            st.Routing.Vendor,
		IDTypes:           st.OfferedIDTypes(),
		Demotions:         st.Routing.Demotions,
		SelfieRequired:    st.SelfieRequired(),
		AttemptsRemaining: st.AttemptsRemaining,
		Reasons:           docauth.ReasonStrings(st.Answers.LastReasons),
		EnrollmentCode:    st.Answers.EnrollmentCode,
		CredentialID:      st.Answers.CredentialID,
	}
	if step == models.StepPersonalInfo {
		v.Fields = st.Answers.Fields
	}
	return v
}

func unavailable(err error, msg string) error {
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		return err
	}
	return dErrors.Wrap(fmt.Errorf("%s: %w", msg, err), dErrors.CodeUnavailable, msg)
}
