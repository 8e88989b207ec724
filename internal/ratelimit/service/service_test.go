package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"idproof/internal/ratelimit/models"
	"idproof/internal/ratelimit/store/counter"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/platform/audit"
	auditmemory "idproof/pkg/platform/audit/store/memory"
	"idproof/pkg/platform/sentinel"
	"idproof/pkg/requestcontext"
)

func testPolicy() models.Policy {
	return models.Policy{
		models.ActionDocAuth:           {MaxAttempts: 3, Window: 6 * time.Hour},
		models.ActionSendLink:          {MaxAttempts: 5, Window: 10 * time.Minute},
		models.ActionResolution:        {MaxAttempts: 5, Window: 6 * time.Hour},
		models.ActionPhoneConfirmation: {MaxAttempts: 10, Window: 10 * time.Minute},
	}
}

// downStore behaves like an unreachable Redis.
type downStore struct{}

func (downStore) Increment(context.Context, string, int, time.Duration, time.Time) (models.Counter, bool, error) {
	return models.Counter{}, false, fmt.Errorf("increment: %w: %w", sentinel.ErrUnavailable, errors.New("dial tcp: connection refused"))
}
func (downStore) Get(context.Context, string, time.Duration, time.Time) (models.Counter, error) {
	return models.Counter{}, errors.New("protocol error")
}
func (downStore) Delete(context.Context, string) error {
	return fmt.Errorf("delete: %w: %w", sentinel.ErrUnavailable, errors.New("i/o timeout"))
}

type auditSink struct{ store *auditmemory.InMemoryStore }

func (a auditSink) Emit(ctx context.Context, e audit.Event) error { return a.store.Append(ctx, e) }

type ServiceSuite struct {
	suite.Suite
	service *Service
	audits  *auditmemory.InMemoryStore
	user    id.UserID
	start   time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.audits = auditmemory.NewInMemoryStore()
	svc, err := New(counter.NewInMemoryCounterStore(), testPolicy(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(auditSink{s.audits}),
	)
	s.Require().NoError(err)
	s.service = svc
	s.user = id.UserID(uuid.New())
	s.start = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.start.Add(d))
}

func (s *ServiceSuite) TestNew_RequiresCompletePolicy() {
	_, err := New(nil, testPolicy())
	s.Error(err)

	partial := testPolicy()
	delete(partial, models.ActionSendLink)
	_, err = New(counter.NewInMemoryCounterStore(), partial)
	s.Error(err)

	bad := testPolicy()
	bad[models.ActionDocAuth] = models.Limit{MaxAttempts: 0, Window: time.Hour}
	_, err = New(counter.NewInMemoryCounterStore(), bad)
	s.Error(err)
}

func (s *ServiceSuite) TestMaxPlusOneDeniedThenWindowResets() {
	for i := range 3 {
		res, err := s.service.CheckAndIncrement(s.at(time.Duration(i)*time.Minute), s.user, models.ActionDocAuth)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(2-i, res.Remaining)
		s.Equal(s.start.Add(6*time.Hour), res.ResetAt)
	}

	res, err := s.service.CheckAndIncrement(s.at(time.Hour), s.user, models.ActionDocAuth)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(0, res.Remaining)
	s.Equal(5*60*60, res.RetryAfter)

	res, err = s.service.CheckAndIncrement(s.at(6*time.Hour), s.user, models.ActionDocAuth)
	s.Require().NoError(err)
	s.True(res.Allowed, "window elapsed, next call allowed")
	s.Equal(2, res.Remaining)
}

func (s *ServiceSuite) TestDenialIsAudited() {
	for range 4 {
		_, err := s.service.CheckAndIncrement(s.at(0), s.user, models.ActionDocAuth)
		s.Require().NoError(err)
	}
	events := s.audits.ListByAction(context.Background(), audit.EventRateLimitExceeded)
	s.Require().Len(events, 1)
	s.Equal(s.user, events[0].UserID)
}

func (s *ServiceSuite) TestActionsAreIndependent() {
	for range 3 {
		_, _ = s.service.CheckAndIncrement(s.at(0), s.user, models.ActionDocAuth)
	}
	res, err := s.service.CheckAndIncrement(s.at(0), s.user, models.ActionSendLink)
	s.Require().NoError(err)
	s.True(res.Allowed)

	other := id.UserID(uuid.New())
	res, err = s.service.CheckAndIncrement(s.at(0), other, models.ActionDocAuth)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *ServiceSuite) TestStatusDoesNotConsume() {
	res, err := s.service.Status(s.at(0), s.user, models.ActionDocAuth)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(3, res.Remaining)

	_, _ = s.service.CheckAndIncrement(s.at(0), s.user, models.ActionDocAuth)
	for range 5 {
		res, err = s.service.Status(s.at(time.Minute), s.user, models.ActionDocAuth)
		s.Require().NoError(err)
	}
	s.Equal(2, res.Remaining)
}

func (s *ServiceSuite) TestResetRestoresBudgetAndAudits() {
	for range 3 {
		_, _ = s.service.CheckAndIncrement(s.at(0), s.user, models.ActionDocAuth)
	}
	s.Require().NoError(s.service.Reset(s.at(0), s.user, models.ActionDocAuth, "operator-7", "ticket 42"))

	res, err := s.service.CheckAndIncrement(s.at(0), s.user, models.ActionDocAuth)
	s.Require().NoError(err)
	s.True(res.Allowed)

	events := s.audits.ListByAction(context.Background(), audit.EventRateLimitReset)
	s.Require().Len(events, 1)
	s.Equal("operator-7", events[0].ActorID)
}

func (s *ServiceSuite) TestRejectsBadInput() {
	_, err := s.service.CheckAndIncrement(s.at(0), id.UserID{}, models.ActionDocAuth)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.service.CheckAndIncrement(s.at(0), s.user, models.Action("login"))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestUnreachableStoreFailsClosed() {
	svc, err := New(downStore{}, testPolicy())
	s.Require().NoError(err)

	res, err := svc.CheckAndIncrement(s.at(0), s.user, models.ActionDocAuth)
	s.Nil(res)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	_, err = svc.Status(s.at(0), s.user, models.ActionDocAuth)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	err = svc.Reset(s.at(0), s.user, models.ActionDocAuth, "ops-1", "support ticket")
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Equal(http.StatusServiceUnavailable, dErrors.HTTPStatus(dErrors.CodeOf(err)))
}
