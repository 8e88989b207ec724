package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	captureService "idproof/internal/capture/service"
	captureStore "idproof/internal/capture/store"
	"idproof/internal/docauth"
	"idproof/internal/docauth/adapters/mock"
	"idproof/internal/flow/models"
	"idproof/internal/flow/ports/mocks"
	"idproof/internal/flow/store"
	jwttoken "idproof/internal/jwt_token"
	rlModels "idproof/internal/ratelimit/models"
	rlService "idproof/internal/ratelimit/service"
	"idproof/internal/ratelimit/store/counter"
	routingModels "idproof/internal/routing/models"
	webhookService "idproof/internal/webhook/service"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/requestcontext"
)

const (
	baseURL        = "https://idp.example.test"
	captureTimeout = 5 * time.Minute
)

// switchableFlags lets a test flip system flags between requests.
type switchableFlags struct {
	mu    sync.Mutex
	flags models.SystemFlags
}

func (f *switchableFlags) Flags(context.Context) (models.SystemFlags, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags, nil
}

func (f *switchableFlags) set(flags models.SystemFlags) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = flags
}

type fixedRouter struct{ vendor string }

func (r *fixedRouter) Route(context.Context, routingModels.Request) (routingModels.Decision, error) {
	return routingModels.Decision{
		Vendor:  r.vendor,
		Source:  routingModels.SourceRollout,
		IDTypes: []docauth.IDType{docauth.IDTypeStateID, docauth.IDTypePassport},
	}, nil
}

type FlowSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	links    *mocks.MockLinkSender
	contacts *mocks.MockContactVerifier
	issuer   *mocks.MockCredentialIssuer
	enroller *mocks.MockInPersonEnroller

	flags    *switchableFlags
	router   *fixedRouter
	sync     *mock.Adapter
	async    *mock.AsyncAdapter
	registry *docauth.Registry
	captures *captureService.Service
	limiter  *rlService.Service
	tokens   *jwttoken.JWTService
	states   *store.InMemoryStore
	service  *Service

	user  id.UserID
	start time.Time
}

func TestFlowSuite(t *testing.T) {
	suite.Run(t, new(FlowSuite))
}

func (s *FlowSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.links = mocks.NewMockLinkSender(s.ctrl)
	s.contacts = mocks.NewMockContactVerifier(s.ctrl)
	s.issuer = mocks.NewMockCredentialIssuer(s.ctrl)
	s.enroller = mocks.NewMockInPersonEnroller(s.ctrl)
	s.flags = &switchableFlags{}
	s.router = &fixedRouter{vendor: mock.Name}
	s.start = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s.user = id.NewUserID()
	s.useSyncScript(mock.Passing)
}

// useSyncScript rebuilds the service around a sync vendor running script.
func (s *FlowSuite) useSyncScript(script mock.Script) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.sync = mock.New(mock.WithScript(script))
	s.async = mock.NewAsync("", baseURL)
	s.registry = docauth.NewRegistry()
	s.Require().NoError(s.registry.Register(s.sync))
	s.Require().NoError(s.registry.Register(s.async))

	s.captures = captureService.New(captureStore.NewInMemoryStore(), captureTimeout, captureService.WithLogger(logger))
	limiter, err := rlService.New(counter.NewInMemoryCounterStore(), rlModels.Policy{
		rlModels.ActionDocAuth:           {MaxAttempts: 3, Window: 6 * time.Hour},
		rlModels.ActionSendLink:          {MaxAttempts: 2, Window: 10 * time.Minute},
		rlModels.ActionResolution:        {MaxAttempts: 5, Window: 6 * time.Hour},
		rlModels.ActionPhoneConfirmation: {MaxAttempts: 10, Window: 10 * time.Minute},
	}, rlService.WithLogger(logger))
	s.Require().NoError(err)
	s.limiter = limiter
	s.tokens = jwttoken.NewJWTService("test-signing-key", "idproof", "idproof")
	s.states = store.NewInMemoryStore()

	svc, err := New(Deps{
		States:   s.states,
		Flags:    s.flags,
		Router:   s.router,
		Catalog:  s.registry,
		Limiter:  s.limiter,
		Captures: s.captures,
		Tokens:   s.tokens,
		Links:    s.links,
		Contacts: s.contacts,
		Issuer:   s.issuer,
		Enroller: s.enroller,
	}, Config{PublicBaseURL: baseURL, HandoffLinkTTL: 15 * time.Minute}, WithLogger(logger))
	s.Require().NoError(err)
	s.service = svc
}

func (s *FlowSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.start.Add(d))
}

func stateIDImages() docauth.Images {
	img := func() []byte {
		b := make([]byte, 2048)
		copy(b, []byte{0xFF, 0xD8, 0xFF})
		return b
	}
	return docauth.Images{Front: img(), Back: img()}
}

// toCapture walks a fresh flow to the capture step.
func (s *FlowSuite) toCapture(ctx context.Context) {
	_, err := s.service.Start(ctx, s.user, StartRequest{})
	s.Require().NoError(err)
	_, err = s.service.SubmitWelcome(ctx, s.user)
	s.Require().NoError(err)
	_, err = s.service.SubmitConsent(ctx, s.user, true)
	s.Require().NoError(err)
	v, err := s.service.ChooseIDType(ctx, s.user, "state_id")
	s.Require().NoError(err)
	s.Require().Equal(models.StepCapture, v.Step)
}

func (s *FlowSuite) stored() *models.State {
	st, err := s.states.Get(context.Background(), s.user)
	s.Require().NoError(err)
	return st
}

func (s *FlowSuite) TestStartIsIdempotent() {
	first, err := s.service.Start(s.at(0), s.user, StartRequest{})
	s.Require().NoError(err)
	s.Equal(models.StepWelcome, first.Step)
	s.Equal(mock.Name, first.Vendor)
	s.Equal(3, first.AttemptsRemaining)

	second, err := s.service.Start(s.at(time.Minute), s.user, StartRequest{})
	s.Require().NoError(err)
	s.Equal(first.FlowID, second.FlowID)
}

func (s *FlowSuite) TestStartRejectsUnknownFlowType() {
	_, err := s.service.Start(s.at(0), s.user, StartRequest{FlowType: "idv_magic"})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *FlowSuite) TestVisitWithoutFlow() {
	_, err := s.service.Visit(s.at(0), s.user, models.StepWelcome)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.Visit(s.at(0), id.UserID{}, models.StepWelcome)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *FlowSuite) TestVisitingAheadRedirects() {
	ctx := s.at(0)
	_, err := s.service.Start(ctx, s.user, StartRequest{})
	s.Require().NoError(err)

	v, err := s.service.Visit(ctx, s.user, models.StepCapture)
	s.Require().NoError(err)
	s.True(v.Redirected)
	s.Equal(models.StepWelcome, v.Step)

	// Submitting to an unreachable step redirects without side effects.
	v, err = s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)
	s.True(v.Redirected)
	s.Equal(models.StepWelcome, v.Step)
	s.Zero(s.sync.Calls())
}

func (s *FlowSuite) TestBackNavigationRenders() {
	ctx := s.at(0)
	s.toCapture(ctx)

	v, err := s.service.Visit(ctx, s.user, models.StepConsent)
	s.Require().NoError(err)
	s.False(v.Redirected)
	s.Equal(models.StepConsent, v.Step)
}

func (s *FlowSuite) TestConsentRequired() {
	ctx := s.at(0)
	_, err := s.service.Start(ctx, s.user, StartRequest{})
	s.Require().NoError(err)
	_, err = s.service.SubmitWelcome(ctx, s.user)
	s.Require().NoError(err)

	_, err = s.service.SubmitConsent(ctx, s.user, false)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *FlowSuite) TestSyncPassAdvancesToPersonalInfo() {
	ctx := s.at(0)
	s.toCapture(ctx)

	v, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)
	s.Equal(models.StepPersonalInfo, v.Step)
	s.Require().NotNil(v.Capture)
	s.Equal(string(docauth.ResultPass), v.Capture.Result)
	s.Require().NotNil(v.Fields)
	s.Equal("FAKEY", v.Fields.FirstName)
	s.Equal(2, v.AttemptsRemaining)

	session, err := s.captures.Get(ctx, s.stored().Answers.CaptureSessionID)
	s.Require().NoError(err)
	s.Equal(docauth.ResultPass, session.Result)
}

func (s *FlowSuite) TestFullRemotePathCompletes() {
	ctx := s.at(0)
	s.toCapture(ctx)
	_, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)

	v, err := s.service.ConfirmPersonalInfo(ctx, s.user, docauth.Fields{City: "HELENA"})
	s.Require().NoError(err)
	s.Equal(models.StepContact, v.Step)
	s.Equal("HELENA", s.stored().Answers.Fields.City)

	s.contacts.EXPECT().Confirm(gomock.Any(), s.user, "+15555550100", "000000").Return(false, nil)
	_, err = s.service.VerifyContact(ctx, s.user, ContactRequest{Phone: "+15555550100", Code: "000000"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.contacts.EXPECT().Confirm(gomock.Any(), s.user, "+15555550100", "123456").Return(true, nil)
	v, err = s.service.VerifyContact(ctx, s.user, ContactRequest{Phone: "+15555550100", Code: "123456"})
	s.Require().NoError(err)
	s.Equal(models.StepCredential, v.Step)

	s.issuer.EXPECT().Issue(gomock.Any(), s.user, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ id.UserID, f docauth.Fields) (string, error) {
			s.Equal("MCFAKERSON", f.LastName)
			return "cred-1", nil
		})
	v, err = s.service.IssueCredential(ctx, s.user)
	s.Require().NoError(err)
	s.Equal(models.StepComplete, v.Step)
	s.Equal("cred-1", v.CredentialID)
}

func (s *FlowSuite) TestPersonalInfoValidation() {
	s.useSyncScript(func(docauth.Images, docauth.Metadata) docauth.Verdict {
		return docauth.PassVerdict(&docauth.Fields{FirstName: "A", LastName: "B"})
	})
	ctx := s.at(0)
	s.toCapture(ctx)
	_, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)

	_, err = s.service.ConfirmPersonalInfo(ctx, s.user, docauth.Fields{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = s.service.ConfirmPersonalInfo(ctx, s.user, docauth.Fields{DOB: "06/10/1938"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	v, err := s.service.ConfirmPersonalInfo(ctx, s.user, docauth.Fields{DOB: "1938-10-06"})
	s.Require().NoError(err)
	s.Equal(models.StepContact, v.Step)
}

func (s *FlowSuite) TestPreCheckFailureCostsNothing() {
	ctx := s.at(0)
	s.toCapture(ctx)

	_, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: docauth.Images{}})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Zero(s.sync.Calls())

	budget, err := s.limiter.Status(ctx, s.user, rlModels.ActionDocAuth)
	s.Require().NoError(err)
	s.Equal(3, budget.Remaining)
}

func (s *FlowSuite) TestThreeRejectionsFailThenLimiterStopsTheFourth() {
	s.useSyncScript(func(docauth.Images, docauth.Metadata) docauth.Verdict {
		return docauth.FailVerdict([]docauth.Reason{docauth.ReasonExpired})
	})
	ctx := s.at(0)
	s.toCapture(ctx)

	for attempt := 1; attempt <= 2; attempt++ {
		v, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
		s.Require().NoError(err)
		s.Equal(models.StepCapture, v.Step, "attempt %d", attempt)
		s.Equal([]string{"expired"}, v.Reasons)
		s.Equal(3-attempt, v.AttemptsRemaining)
	}
	v, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)
	s.Equal(models.StepFailure, v.Step)
	s.Equal(3, s.sync.Calls())

	// The flow is pinned; capture is no longer reachable.
	v, err = s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)
	s.True(v.Redirected)
	s.Equal(models.StepFailure, v.Step)

	// A restart does not refill the budget.
	v, err = s.service.Restart(s.at(time.Minute), s.user, StartRequest{})
	s.Require().NoError(err)
	s.Equal(models.StepWelcome, v.Step)
	s.Equal(0, v.AttemptsRemaining)

	ctx = s.at(2 * time.Minute)
	_, err = s.service.SubmitWelcome(ctx, s.user)
	s.Require().NoError(err)
	_, err = s.service.SubmitConsent(ctx, s.user, true)
	s.Require().NoError(err)
	_, err = s.service.ChooseIDType(ctx, s.user, "state_id")
	s.Require().NoError(err)

	v, err = s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)
	s.Equal(models.StepRateLimited, v.Step)
	s.Equal(3, s.sync.Calls(), "the vendor must not see the fourth attempt")

	// The terminal lifts once the window resets.
	v, err = s.service.Visit(s.at(7*time.Hour), s.user, models.StepCapture)
	s.Require().NoError(err)
	s.False(v.Redirected)
	s.Equal(models.StepCapture, v.Step)
	s.Empty(s.stored().Terminal)
}

func (s *FlowSuite) TestVendorOutagesEndInTryAgainLater() {
	s.useSyncScript(func(docauth.Images, docauth.Metadata) docauth.Verdict {
		return docauth.TransportErrorVerdict(docauth.ReasonVendorUnavailable, "http_503")
	})
	ctx := s.at(0)
	s.toCapture(ctx)

	var v *models.View
	var err error
	for range 3 {
		v, err = s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
		s.Require().NoError(err)
	}
	s.Equal(models.StepTryAgainLater, v.Step)
	s.Equal([]string{"vendor_unavailable"}, v.Reasons)
}

func (s *FlowSuite) TestAsyncTimeoutOffersRetry() {
	s.router.vendor = s.async.Name()
	ctx := s.at(0)
	s.toCapture(ctx)

	v, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)
	s.Equal(models.StepCaptureWait, v.Step)
	s.Require().NotNil(v.Capture)
	s.Equal(string(docauth.ResultPending), v.Capture.Result)
	s.NotEmpty(v.Capture.CaptureAppURL)
	sessionID, err := id.ParseCaptureSessionID(v.Capture.ID)
	s.Require().NoError(err)

	v, err = s.service.Poll(s.at(time.Minute), s.user, sessionID)
	s.Require().NoError(err)
	s.Equal(models.StepCaptureWait, v.Step)

	v, err = s.service.Poll(s.at(captureTimeout+time.Second), s.user, sessionID)
	s.Require().NoError(err)
	s.Equal(models.StepCapture, v.Step)
	s.Equal(string(docauth.ResultError), v.Capture.Result)
	s.Equal([]string{"timeout"}, v.Reasons)
	s.Equal(2, v.AttemptsRemaining)
}

func (s *FlowSuite) TestAsyncResolvedByPolling() {
	s.router.vendor = s.async.Name()
	ctx := s.at(0)
	s.toCapture(ctx)
	_, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)

	session, err := s.captures.Get(ctx, s.stored().Answers.CaptureSessionID)
	s.Require().NoError(err)
	s.async.Complete(session.Token, docauth.PassVerdict(mock.SampleFields(docauth.IDTypeStateID)))

	v, err := s.service.Visit(s.at(time.Minute), s.user, models.StepCaptureWait)
	s.Require().NoError(err)
	s.Equal(models.StepPersonalInfo, v.Step)
	s.True(s.stored().Answers.CapturePassed)
}

func (s *FlowSuite) TestAsyncSubmissionWithoutImagesWaitsForCapture() {
	s.router.vendor = s.async.Name()
	ctx := s.at(0)
	s.toCapture(ctx)

	v, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: docauth.Images{}})
	s.Require().NoError(err)
	s.Equal(models.StepCaptureWait, v.Step)
	s.Require().NotNil(v.Capture)
	s.Equal(string(docauth.ResultPending), v.Capture.Result)
	s.NotEmpty(v.Capture.CaptureAppURL)
	s.Equal(1, s.async.Calls())
}

func (s *FlowSuite) TestSessionExpiredWebhookThenFreshSubmission() {
	s.router.vendor = s.async.Name()
	ctx := s.at(0)
	s.toCapture(ctx)
	first, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)
	firstID, err := id.ParseCaptureSessionID(first.Capture.ID)
	s.Require().NoError(err)
	session, err := s.captures.Get(ctx, firstID)
	s.Require().NoError(err)

	hooks := webhookService.New(s.registry, s.captures,
		webhookService.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	send := func(kind docauth.EventKind, at time.Duration, url string) {
		raw, err := json.Marshal(mock.WebhookPayload{
			Token:      session.Token,
			Kind:       string(kind),
			OccurredAt: s.start.Add(at),
			URL:        url,
		})
		s.Require().NoError(err)
		_, err = hooks.Ingest(s.at(at), s.async.Name(), raw)
		s.Require().NoError(err)
	}
	send(docauth.EventSessionOpened, 10*time.Second, baseURL+"/capture/refreshed")
	send(docauth.EventSessionExpired, 20*time.Second, "")

	v, err := s.service.Poll(s.at(30*time.Second), s.user, firstID)
	s.Require().NoError(err)
	s.Empty(v.Capture.CaptureAppURL)
	s.Equal(models.StepCapture, v.Step)

	second, err := s.service.SubmitCapture(s.at(time.Minute), s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)
	s.Equal(models.StepCaptureWait, second.Step)
	s.NotEqual(first.Capture.ID, second.Capture.ID)
	s.NotEmpty(second.Capture.CaptureAppURL)
	s.NotEqual(first.Capture.CaptureAppURL, second.Capture.CaptureAppURL)
}

func (s *FlowSuite) TestRestartSupersedesCaptureSession() {
	s.router.vendor = s.async.Name()
	ctx := s.at(0)
	s.toCapture(ctx)
	_, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)
	old := s.stored()

	v, err := s.service.Restart(s.at(time.Minute), s.user, StartRequest{})
	s.Require().NoError(err)
	s.NotEqual(old.FlowID.String(), v.FlowID)
	s.Equal(models.StepWelcome, v.Step)

	session, err := s.captures.Get(ctx, old.Answers.CaptureSessionID)
	s.Require().NoError(err)
	s.True(session.Superseded)
	s.False(s.stored().HasCapture())
}

func (s *FlowSuite) TestFlagChangeRedirects() {
	s.flags.set(models.SystemFlags{PassportEnabled: true})
	ctx := s.at(0)
	_, err := s.service.Start(ctx, s.user, StartRequest{})
	s.Require().NoError(err)
	_, err = s.service.SubmitWelcome(ctx, s.user)
	s.Require().NoError(err)
	_, err = s.service.SubmitConsent(ctx, s.user, true)
	s.Require().NoError(err)
	v, err := s.service.ChooseIDType(ctx, s.user, "passport")
	s.Require().NoError(err)
	s.Equal(models.StepCapture, v.Step)

	s.flags.set(models.SystemFlags{PassportEnabled: false})
	v, err = s.service.Visit(s.at(time.Minute), s.user, models.StepCapture)
	s.Require().NoError(err)
	s.True(v.Redirected)
	s.True(v.FlagsChanged)
	s.Equal(models.StepIDType, v.Step)
	s.Equal([]docauth.IDType{docauth.IDTypeStateID}, v.IDTypes)
	s.False(s.stored().Flags.System.PassportEnabled)

	_, err = s.service.ChooseIDType(s.at(time.Minute), s.user, "passport")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *FlowSuite) TestMandatorySelfie() {
	s.flags.set(models.SystemFlags{SelfieEnabled: true})
	ctx := s.at(0)
	v, err := s.service.Start(ctx, s.user, StartRequest{FlowType: id.FlowTypeIDVBiometric})
	s.Require().NoError(err)
	s.True(v.SelfieRequired)
	_, err = s.service.SubmitWelcome(ctx, s.user)
	s.Require().NoError(err)
	_, err = s.service.SubmitConsent(ctx, s.user, true)
	s.Require().NoError(err)
	v, err = s.service.ChooseIDType(ctx, s.user, "state_id")
	s.Require().NoError(err)
	s.Equal(models.StepSelfie, v.Step)

	_, err = s.service.SubmitSelfieConsent(ctx, s.user, false)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	v, err = s.service.SubmitSelfieConsent(ctx, s.user, true)
	s.Require().NoError(err)
	s.Equal(models.StepCapture, v.Step)

	// The selfie image is now part of pre-check.
	_, err = s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *FlowSuite) TestHybridHandoff() {
	s.flags.set(models.SystemFlags{HybridEnabled: true})
	ctx := s.at(0)
	_, err := s.service.Start(ctx, s.user, StartRequest{})
	s.Require().NoError(err)
	_, err = s.service.SubmitWelcome(ctx, s.user)
	s.Require().NoError(err)
	v, err := s.service.SubmitConsent(ctx, s.user, true)
	s.Require().NoError(err)
	s.Equal(models.StepHandoff, v.Step)

	_, err = s.service.ChooseHandoff(ctx, s.user, HandoffRequest{Method: models.HandoffHybrid})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	var link string
	s.links.EXPECT().SendLink(gomock.Any(), s.user, "+15555550100", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ id.UserID, _, l string) error {
			link = l
			return nil
		})
	v, err = s.service.ChooseHandoff(ctx, s.user, HandoffRequest{Method: models.HandoffHybrid, Phone: "+15555550100"})
	s.Require().NoError(err)
	s.Equal(models.StepLinkSent, v.Step)
	s.Require().True(strings.HasPrefix(link, baseURL+"/idv/hybrid/"))

	// The desktop cannot skip ahead while the phone has not opened the link.
	v, err = s.service.Visit(s.at(time.Minute), s.user, models.StepIDType)
	s.Require().NoError(err)
	s.True(v.Redirected)
	s.Equal(models.StepLinkSent, v.Step)

	token := strings.TrimPrefix(link, baseURL+"/idv/hybrid/")
	v, err = s.service.OpenHandoff(s.at(2*time.Minute), token)
	s.Require().NoError(err)
	s.Equal(models.StepIDType, v.Step)
	s.NotEmpty(v.AccessToken)

	claims, err := s.tokens.ValidateTokenAt(v.AccessToken, s.start.Add(3*time.Minute))
	s.Require().NoError(err)
	s.Equal(s.user.String(), claims.UserID)
	s.Equal(jwttoken.ScopeAccess, claims.Scope)
}

func (s *FlowSuite) TestUnopenedLinkExpiresBackToHandoff() {
	s.flags.set(models.SystemFlags{HybridEnabled: true})
	ctx := s.at(0)
	_, err := s.service.Start(ctx, s.user, StartRequest{})
	s.Require().NoError(err)
	_, err = s.service.SubmitWelcome(ctx, s.user)
	s.Require().NoError(err)
	_, err = s.service.SubmitConsent(ctx, s.user, true)
	s.Require().NoError(err)
	s.links.EXPECT().SendLink(gomock.Any(), s.user, gomock.Any(), gomock.Any()).Return(nil)
	_, err = s.service.ChooseHandoff(ctx, s.user, HandoffRequest{Method: models.HandoffHybrid, Phone: "+15555550100"})
	s.Require().NoError(err)

	v, err := s.service.Visit(s.at(16*time.Minute), s.user, models.StepLinkSent)
	s.Require().NoError(err)
	s.True(v.Redirected)
	s.Equal(models.StepHandoff, v.Step)

	v, err = s.service.ChooseHandoff(s.at(17*time.Minute), s.user, HandoffRequest{Method: models.HandoffDesktop})
	s.Require().NoError(err)
	s.Equal(models.StepIDType, v.Step)
}

func (s *FlowSuite) TestSendLinkIsRateLimited() {
	s.flags.set(models.SystemFlags{HybridEnabled: true})
	ctx := s.at(0)
	_, err := s.service.Start(ctx, s.user, StartRequest{})
	s.Require().NoError(err)
	_, err = s.service.SubmitWelcome(ctx, s.user)
	s.Require().NoError(err)
	_, err = s.service.SubmitConsent(ctx, s.user, true)
	s.Require().NoError(err)

	s.links.EXPECT().SendLink(gomock.Any(), s.user, gomock.Any(), gomock.Any()).Return(nil).Times(2)
	for range 2 {
		_, err = s.service.ChooseHandoff(ctx, s.user, HandoffRequest{Method: models.HandoffHybrid, Phone: "+15555550100"})
		s.Require().NoError(err)
		// Back to the hand-off page to resend.
		_, err = s.service.Visit(ctx, s.user, models.StepHandoff)
		s.Require().NoError(err)
	}
	v, err := s.service.ChooseHandoff(ctx, s.user, HandoffRequest{Method: models.HandoffHybrid, Phone: "+15555550100"})
	s.Require().NoError(err)
	s.Equal(models.StepRateLimited, v.Step)
}

func (s *FlowSuite) TestInPersonPath() {
	s.flags.set(models.SystemFlags{InPersonEnabled: true})
	ctx := s.at(0)
	_, err := s.service.Start(ctx, s.user, StartRequest{RelyingParty: models.RelyingParty{InPersonAllowed: true}})
	s.Require().NoError(err)
	_, err = s.service.SubmitWelcome(ctx, s.user)
	s.Require().NoError(err)
	v, err := s.service.SubmitConsent(ctx, s.user, true)
	s.Require().NoError(err)
	s.Equal(models.StepHowToVerify, v.Step)

	v, err = s.service.ChooseHowToVerify(ctx, s.user, models.MethodInPerson)
	s.Require().NoError(err)
	s.Equal(models.StepInPerson, v.Step)

	// Remote-only steps are off the path now.
	v, err = s.service.Visit(ctx, s.user, models.StepCapture)
	s.Require().NoError(err)
	s.True(v.Redirected)
	s.Equal(models.StepInPerson, v.Step)

	s.enroller.EXPECT().Enroll(gomock.Any(), s.user, gomock.Any()).Return("ENR-0042", nil)
	v, err = s.service.EnrollInPerson(ctx, s.user)
	s.Require().NoError(err)
	s.Equal(models.StepComplete, v.Step)
	s.Equal("ENR-0042", v.EnrollmentCode)
}

func (s *FlowSuite) TestChangingAnAnswerForgetsLaterOnes() {
	s.flags.set(models.SystemFlags{PassportEnabled: true})
	ctx := s.at(0)
	s.toCapture(ctx)
	_, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)
	s.Require().True(s.stored().Answers.CapturePassed)

	// Re-answering with the same value keeps progress.
	v, err := s.service.ChooseIDType(ctx, s.user, "state_id")
	s.Require().NoError(err)
	s.Equal(models.StepPersonalInfo, v.Step)

	v, err = s.service.ChooseIDType(ctx, s.user, "passport")
	s.Require().NoError(err)
	s.Equal(models.StepCapture, v.Step)
	s.False(s.stored().Answers.CapturePassed)
	s.False(s.stored().HasCapture())
}

func (s *FlowSuite) TestPollOtherUsersSession() {
	s.router.vendor = s.async.Name()
	ctx := s.at(0)
	s.toCapture(ctx)
	v, err := s.service.SubmitCapture(ctx, s.user, CaptureRequest{Images: stateIDImages()})
	s.Require().NoError(err)
	sessionID, err := id.ParseCaptureSessionID(v.Capture.ID)
	s.Require().NoError(err)

	other := id.NewUserID()
	_, err = s.service.Start(ctx, other, StartRequest{})
	s.Require().NoError(err)
	_, err = s.service.Poll(ctx, other, sessionID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
