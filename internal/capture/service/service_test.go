package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"idproof/internal/capture/models"
	"idproof/internal/capture/store"
	"idproof/internal/docauth"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/platform/audit"
	"idproof/pkg/platform/audit/publisher"
	auditmemory "idproof/pkg/platform/audit/store/memory"
	"idproof/pkg/platform/sentinel"
	"idproof/pkg/requestcontext"
)

// flakyStore fails the first n saves with ErrStale.
type flakyStore struct {
	store.Store
	staleSaves int
	saves      int
}

func (f *flakyStore) Save(ctx context.Context, s *models.CaptureSession) error {
	f.saves++
	if f.staleSaves > 0 {
		f.staleSaves--
		return sentinel.ErrStale
	}
	return f.Store.Save(ctx, s)
}

type ServiceSuite struct {
	suite.Suite
	store   *flakyStore
	audits  *auditmemory.InMemoryStore
	service *Service
	user    id.UserID
	start   time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = &flakyStore{Store: store.NewInMemoryStore()}
	s.audits = auditmemory.NewInMemoryStore()
	s.service = New(s.store, 30*time.Minute,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(publisher.NewPublisher(s.audits)),
	)
	s.user = id.UserID(uuid.New())
	s.start = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.start.Add(d))
}

func (s *ServiceSuite) create() *models.CaptureSession {
	session := models.NewPending(s.user, id.NewFlowID(), docauth.IDTypeStateID, false, "docv", s.start)
	s.Require().NoError(s.service.Create(s.at(0), session))
	return session
}

func (s *ServiceSuite) TestGet_LazilyExpiresOverduePending() {
	session := s.create()

	got, err := s.service.Get(s.at(10*time.Minute), session.ID)
	s.Require().NoError(err)
	s.True(got.IsPending())

	got, err = s.service.Get(s.at(31*time.Minute), session.ID)
	s.Require().NoError(err)
	s.Equal(docauth.ResultError, got.Result)
	s.Equal([]docauth.Reason{docauth.ReasonTimeout}, got.Reasons)

	stored, err := s.store.Get(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Equal(docauth.ResultError, stored.Result, "expiry is persisted")

	events, _ := s.audits.ListByUser(context.Background(), s.user)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventCaptureTimedOut), events[0].Action)

	_, err = s.service.Get(s.at(40*time.Minute), session.ID)
	s.Require().NoError(err)
	events, _ = s.audits.ListByUser(context.Background(), s.user)
	s.Len(events, 1, "expiry is audited once")
}

func (s *ServiceSuite) TestGet_SupersededNotExpired() {
	first := s.create()
	second := models.NewPending(s.user, first.FlowID, docauth.IDTypeStateID, false, "docv", s.start)
	s.Require().NoError(s.service.Create(s.at(0), second))

	got, err := s.service.Get(s.at(time.Hour), first.ID)
	s.Require().NoError(err)
	s.True(got.Superseded)
	s.True(got.IsPending())
}

func (s *ServiceSuite) TestGetForUser_HidesForeignSessions() {
	session := s.create()
	_, err := s.service.GetForUser(s.at(0), id.UserID(uuid.New()), session.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.GetForUser(s.at(0), s.user, session.ID)
	s.NoError(err)
}

func (s *ServiceSuite) TestActiveForFlow() {
	session := s.create()
	got, err := s.service.ActiveForFlow(s.at(0), s.user, session.FlowID)
	s.Require().NoError(err)
	s.Equal(session.ID, got.ID)

	_, err = s.service.ActiveForFlow(s.at(0), s.user, id.NewFlowID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestUpdate_RetriesOnStale() {
	session := s.create()
	s.store.staleSaves = 2

	calls := 0
	got, err := s.service.Update(s.at(0), session.ID, func(cs *models.CaptureSession) error {
		calls++
		cs.MarkProcessed(docauth.EventSessionOpened)
		return nil
	})
	s.Require().NoError(err)
	s.Equal(3, calls)
	s.True(got.HasProcessed(docauth.EventSessionOpened))
}

func (s *ServiceSuite) TestUpdate_GivesUpAfterBudget() {
	session := s.create()
	s.store.staleSaves = maxUpdateAttempts

	_, err := s.service.Update(s.at(0), session.ID, func(*models.CaptureSession) error { return nil })
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal(maxUpdateAttempts, s.store.saves)
}

func (s *ServiceSuite) TestUpdate_NoChangeSkipsWrite() {
	session := s.create()
	got, err := s.service.Update(s.at(0), session.ID, func(*models.CaptureSession) error { return ErrNoChange })
	s.Require().NoError(err)
	s.Equal(int64(1), got.Version)
	s.Zero(s.store.saves)
}

func (s *ServiceSuite) TestUpdate_PropagatesMutatorError() {
	session := s.create()
	boom := errors.New("boom")
	_, err := s.service.Update(s.at(0), session.ID, func(*models.CaptureSession) error { return boom })
	s.ErrorIs(err, boom)
}

func (s *ServiceSuite) TestFindByToken_Missing() {
	_, err := s.service.FindByToken(s.at(0), "docv", "nope")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
