package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"idproof/internal/docauth"
	"idproof/internal/docauth/adapters/mock"
	"idproof/internal/routing/metrics"
	"idproof/internal/routing/models"
	id "idproof/pkg/domain"
	"idproof/pkg/platform/audit"
	"idproof/pkg/platform/audit/publisher"
	auditmemory "idproof/pkg/platform/audit/store/memory"
)

type stubChecker struct {
	mu    sync.Mutex
	down  map[string]bool
	calls map[string]int
}

func (c *stubChecker) Check(_ context.Context, p models.Prerequisite) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[p.Name]++
	if c.down[p.Name] {
		return errors.New("down")
	}
	return nil
}

type RouterSuite struct {
	suite.Suite
	registry *docauth.Registry
	checker  *stubChecker
	audits   *auditmemory.InMemoryStore
	metrics  *metrics.Metrics
	user     id.UserID
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.registry = docauth.NewRegistry()
	s.Require().NoError(s.registry.Register(mock.New()))
	s.Require().NoError(s.registry.Register(mock.New(mock.WithName("trueid"))))
	s.Require().NoError(s.registry.Register(mock.NewAsync("docv", "")))
	s.checker = &stubChecker{down: map[string]bool{}, calls: map[string]int{}}
	s.audits = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.user = id.UserID(uuid.New())
}

func (s *RouterSuite) table() models.Table {
	return models.Table{
		Fallback: "trueid",
		Rollouts: []models.Rollout{{Vendor: "docv", BasisPoints: models.BucketCount, Prerequisites: []string{"docv_status"}}},
		Prerequisites: map[string]models.Prerequisite{
			"docv_status":  {Name: "docv_status", URL: "http://docv/health"},
			"passport_api": {Name: "passport_api", URL: "http://passport/health", IDType: docauth.IDTypePassport},
		},
	}
}

func (s *RouterSuite) router(table models.Table) *Router {
	r, err := New(table, s.registry, s.checker,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(publisher.NewPublisher(s.audits)),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
	return r
}

func (s *RouterSuite) route(r *Router) models.Decision {
	d, err := r.Route(context.Background(), models.Request{UserID: s.user, FlowType: id.FlowTypeIDV})
	s.Require().NoError(err)
	return d
}

func (s *RouterSuite) TestNew_Validation() {
	t := s.table()
	t.Fallback = "unknown"
	_, err := New(t, s.registry, s.checker)
	s.Error(err)

	t = s.table()
	t.Fallback = "docv"
	_, err = New(t, s.registry, s.checker)
	s.Error(err, "fallback with prerequisites")

	t = s.table()
	t.Rollouts[0].Prerequisites = []string{"missing"}
	_, err = New(t, s.registry, s.checker)
	s.Error(err)
}

func (s *RouterSuite) TestRoute_HealthyRollout() {
	d := s.route(s.router(s.table()))
	s.Equal("docv", d.Vendor)
	s.Equal(models.SourceRollout, d.Source)
	s.Equal([]docauth.IDType{docauth.IDTypeStateID, docauth.IDTypePassport}, d.IDTypes)
	s.False(d.Demoted())
	s.Equal(1, s.checker.calls["docv_status"])
	s.Equal(1, s.checker.calls["passport_api"])

	events, _ := s.audits.ListByUser(context.Background(), s.user)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventVendorSelected), events[0].Action)
	s.Equal("docv", events[0].Vendor)
}

func (s *RouterSuite) TestRoute_Override() {
	t := s.table()
	t.Override = "mock"
	d := s.route(s.router(t))
	s.Equal("mock", d.Vendor)
	s.Equal(models.SourceOverride, d.Source)
	s.Zero(s.checker.calls["docv_status"])
}

func (s *RouterSuite) TestRoute_UnregisteredOverrideIgnored() {
	t := s.table()
	t.Override = "ghost"
	d := s.route(s.router(t))
	s.Equal("docv", d.Vendor)
}

func (s *RouterSuite) TestRoute_ZeroPercentGoesToFallback() {
	t := s.table()
	t.Rollouts[0].BasisPoints = 0
	d := s.route(s.router(t))
	s.Equal("trueid", d.Vendor)
	s.Equal(models.SourceFallback, d.Source)
	s.Zero(s.checker.calls["docv_status"])
}

func (s *RouterSuite) TestRoute_VendorPrerequisiteDownDemotes() {
	s.checker.down["docv_status"] = true
	d := s.route(s.router(s.table()))

	s.Equal("trueid", d.Vendor)
	s.Equal(models.SourceFallback, d.Source)
	s.Require().Len(d.Demotions, 1)
	s.Equal(models.Demotion{Kind: models.DemotionVendor, From: "docv", To: "trueid", Prerequisite: "docv_status"}, d.Demotions[0])
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Demotions.WithLabelValues("vendor", "docv_status")))

	demoted, _ := s.audits.ListByUser(context.Background(), s.user)
	actions := make([]string, 0, len(demoted))
	for _, e := range demoted {
		actions = append(actions, e.Action)
	}
	s.Contains(actions, string(audit.EventVendorDemoted))
}

func (s *RouterSuite) TestRoute_IDTypePrerequisiteDownRemovesIDType() {
	s.checker.down["passport_api"] = true
	d := s.route(s.router(s.table()))

	s.Equal("docv", d.Vendor)
	s.Equal([]docauth.IDType{docauth.IDTypeStateID}, d.IDTypes)
	s.False(d.Offers(docauth.IDTypePassport))
	s.Require().Len(d.Demotions, 1)
	s.Equal(models.DemotionIDType, d.Demotions[0].Kind)
	s.Equal("passport", d.Demotions[0].From)
}

func (s *RouterSuite) TestRoute_RequestedIDTypesSkipUnneededProbes() {
	r := s.router(s.table())
	d, err := r.Route(context.Background(), models.Request{
		UserID: s.user, FlowType: id.FlowTypeIDV, IDTypes: []docauth.IDType{docauth.IDTypeStateID},
	})
	s.Require().NoError(err)
	s.Equal([]docauth.IDType{docauth.IDTypeStateID}, d.IDTypes)
	s.Zero(s.checker.calls["passport_api"])
}

func (s *RouterSuite) TestRoute_RequiresUser() {
	_, err := s.router(s.table()).Route(context.Background(), models.Request{})
	s.Error(err)
}

func (s *RouterSuite) TestRoute_StableForSameUserAndFlow() {
	t := s.table()
	t.Rollouts[0].BasisPoints = 5000
	r := s.router(t)
	first := s.route(r)
	for range 5 {
		s.Equal(first.Vendor, s.route(r).Vendor)
	}
}

func TestBucket_DistributionTracksPercentages(t *testing.T) {
	const users = 10000
	inRollout := 0
	for range users {
		if Bucket(id.UserID(uuid.New()), id.FlowTypeIDV) < 2500 {
			inRollout++
		}
	}
	ratio := float64(inRollout) / users
	if ratio < 0.22 || ratio > 0.28 {
		t.Fatalf("expected about 25%% in rollout, got %.3f", ratio)
	}
}

func TestBucket_DependsOnFlowType(t *testing.T) {
	differs := false
	for range 20 {
		u := id.UserID(uuid.New())
		if Bucket(u, id.FlowTypeIDV) != Bucket(u, id.FlowTypeIDVBiometric) {
			differs = true
			break
		}
	}
	if !differs {
		t.Fatal("flow type did not influence bucketing")
	}
}
