// Package service implements the per-user fixed-window attempt limiter.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"idproof/internal/ratelimit/metrics"
	"idproof/internal/ratelimit/models"
	"idproof/internal/ratelimit/ports"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/platform/audit"
	"idproof/pkg/platform/sentinel"
	"idproof/pkg/requestcontext"
)

type (
	Store          = ports.CounterStore
	AuditPublisher = ports.AuditPublisher
)

type Service struct {
	store          Store
	policy         models.Policy
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New requires a store and a limit for every known action.
func New(store Store, policy models.Policy, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	for _, action := range []models.Action{
		models.ActionDocAuth, models.ActionSendLink, models.ActionResolution, models.ActionPhoneConfirmation,
	} {
		limit, ok := policy[action]
		if !ok {
			return nil, fmt.Errorf("no limit configured for action %s", action)
		}
		if limit.MaxAttempts <= 0 || limit.Window <= 0 {
			return nil, fmt.Errorf("invalid limit for action %s", action)
		}
	}

	svc := &Service{
		store:  store,
		policy: policy,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Limit returns the configured budget for an action.
func (s *Service) Limit(action models.Action) (models.Limit, bool) {
	l, ok := s.policy[action]
	return l, ok
}

// CheckAndIncrement consumes one attempt for (user, action) if the budget
// allows it. Denied calls leave the counter unchanged.
func (s *Service) CheckAndIncrement(ctx context.Context, userID id.UserID, action models.Action) (*models.RateLimitResult, error) {
	limit, err := s.limitFor(userID, action)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	counter, allowed, err := s.store.Increment(ctx, models.Key(action, userID), limit.MaxAttempts, limit.Window, now)
	if err != nil {
		return nil, storeError(err, "failed to check rate limit")
	}

	result := buildResult(counter, limit, allowed, now)
	if s.metrics != nil {
		s.metrics.ObserveDecision(action.String(), allowed)
	}
	if !allowed {
		audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRateLimitExceeded,
			"user_id", userID.String(),
			"action", action.String(),
			"reason", "max_attempts_reached",
			"retry_after", result.RetryAfter,
		)
	}
	return result, nil
}

// Status reports the current budget without consuming an attempt.
func (s *Service) Status(ctx context.Context, userID id.UserID, action models.Action) (*models.RateLimitResult, error) {
	limit, err := s.limitFor(userID, action)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	counter, err := s.store.Get(ctx, models.Key(action, userID), limit.Window, now)
	if err != nil {
		return nil, storeError(err, "failed to read rate limit")
	}
	return buildResult(counter, limit, counter.Count < limit.MaxAttempts, now), nil
}

// Reset clears a counter. Only the operator remediation path calls this.
func (s *Service) Reset(ctx context.Context, userID id.UserID, action models.Action, actorID, reason string) error {
	if _, err := s.limitFor(userID, action); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, models.Key(action, userID)); err != nil {
		return storeError(err, "failed to reset rate limit")
	}
	if s.metrics != nil {
		s.metrics.IncrementResets(action.String())
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRateLimitReset,
		"user_id", userID.String(),
		"action", action.String(),
		"actor_id", actorID,
		"reason", reason,
	)
	return nil
}

func (s *Service) limitFor(userID id.UserID, action models.Action) (models.Limit, error) {
	if userID.IsNil() {
		return models.Limit{}, dErrors.New(dErrors.CodeBadRequest, "user_id is required")
	}
	limit, ok := s.policy[action]
	if !ok {
		return models.Limit{}, dErrors.New(dErrors.CodeInvalidInput, "unknown rate limit action")
	}
	return limit, nil
}

func buildResult(counter models.Counter, limit models.Limit, allowed bool, now time.Time) *models.RateLimitResult {
	remaining := max(limit.MaxAttempts-counter.Count, 0)
	resetAt := now.Add(limit.Window)
	if counter.Count > 0 {
		resetAt = counter.ResetAt(limit.Window)
	}
	result := &models.RateLimitResult{
		Allowed:   allowed,
		Limit:     limit.MaxAttempts,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !allowed {
		result.RetryAfter = int(math.Ceil(resetAt.Sub(now).Seconds()))
	}
	return result
}

// storeError fails closed: an unreachable counter store denies the action
// with a retryable error.
func storeError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
