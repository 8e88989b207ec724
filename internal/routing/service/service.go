// Package service chooses the vendor for a flow instance: operator override
// first, then a deterministic rollout bucket, then prerequisite health checks
// that may demote the vendor or remove id types.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"idproof/internal/docauth"
	"idproof/internal/routing/health"
	"idproof/internal/routing/metrics"
	"idproof/internal/routing/models"
	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	"idproof/pkg/platform/audit"
)

// Catalog reports which vendors have a registered adapter.
type Catalog interface {
	Get(name string) (docauth.Adapter, bool)
}

type Router struct {
	table          models.Table
	catalog        Catalog
	checker        health.Checker
	auditPublisher audit.Emitter
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Emitter) Option {
	return func(r *Router) {
		r.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New validates that the fallback vendor is registered and ungated.
func New(table models.Table, catalog Catalog, checker health.Checker, opts ...Option) (*Router, error) {
	if catalog == nil || checker == nil {
		return nil, fmt.Errorf("catalog and health checker are required")
	}
	if _, ok := catalog.Get(table.Fallback); !ok {
		return nil, fmt.Errorf("fallback vendor %q is not registered", table.Fallback)
	}
	for _, r := range table.Rollouts {
		if r.Vendor == table.Fallback && len(r.Prerequisites) > 0 {
			return nil, fmt.Errorf("fallback vendor %q must not have prerequisites", table.Fallback)
		}
		for _, name := range r.Prerequisites {
			if _, ok := table.Prerequisites[name]; !ok {
				return nil, fmt.Errorf("vendor %s: unknown prerequisite %q", r.Vendor, name)
			}
		}
	}

	router := &Router{
		table:   table,
		catalog: catalog,
		checker: checker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(router)
	}
	return router, nil
}

// Route picks the vendor and id types for a new flow instance. The result is
// meant to be stored with the flow and reused until restart.
func (r *Router) Route(ctx context.Context, req models.Request) (models.Decision, error) {
	if req.UserID.IsNil() {
		return models.Decision{}, dErrors.New(dErrors.CodeBadRequest, "user_id is required")
	}

	bucket := Bucket(req.UserID, req.FlowType)
	vendor, source, prereqs := r.pick(bucket)
	decision := models.Decision{
		Vendor:  vendor,
		Source:  source,
		Bucket:  bucket,
		IDTypes: requestedIDTypes(req.IDTypes),
	}

	idPrereqs := r.table.IDTypePrerequisites()
	var toProbe []models.Prerequisite
	toProbe = append(toProbe, prereqs...)
	for _, t := range decision.IDTypes {
		toProbe = append(toProbe, idPrereqs[t]...)
	}
	down := r.probe(ctx, toProbe)

	for _, p := range prereqs {
		if _, failed := down[p.Name]; !failed {
			continue
		}
		d := models.Demotion{Kind: models.DemotionVendor, From: decision.Vendor, To: r.table.Fallback, Prerequisite: p.Name}
		decision.Vendor = r.table.Fallback
		decision.Source = models.SourceFallback
		decision.Demotions = append(decision.Demotions, d)
		r.recordDemotion(ctx, req, d)
		break
	}

	kept := make([]docauth.IDType, 0, len(decision.IDTypes))
	for _, t := range decision.IDTypes {
		blocked := ""
		for _, p := range idPrereqs[t] {
			if _, failed := down[p.Name]; failed {
				blocked = p.Name
				break
			}
		}
		if blocked == "" {
			kept = append(kept, t)
			continue
		}
		d := models.Demotion{Kind: models.DemotionIDType, From: t.String(), Prerequisite: blocked}
		decision.Demotions = append(decision.Demotions, d)
		r.recordDemotion(ctx, req, d)
	}
	decision.IDTypes = kept

	if r.metrics != nil {
		r.metrics.ObserveDecision(decision.Vendor, string(decision.Source))
	}
	audit.LogAudit(ctx, r.logger, r.auditPublisher, audit.EventVendorSelected,
		"user_id", req.UserID.String(),
		"vendor", decision.Vendor,
		"decision", string(decision.Source),
		"bucket", decision.Bucket,
		"id_types", decision.IDTypes,
	)
	return decision, nil
}

// pick applies override and rollout rules. Unregistered vendors fall through
// to the fallback so a config typo cannot strand users.
func (r *Router) pick(bucket int) (string, models.Source, []models.Prerequisite) {
	if r.table.Override != "" {
		if _, ok := r.catalog.Get(r.table.Override); ok {
			return r.table.Override, models.SourceOverride, nil
		}
		r.logger.Warn("vendor override is not registered, ignoring", "vendor", r.table.Override)
	}

	cumulative := 0
	for _, rollout := range r.table.Rollouts {
		cumulative += rollout.BasisPoints
		if bucket >= cumulative {
			continue
		}
		if _, ok := r.catalog.Get(rollout.Vendor); !ok {
			r.logger.Warn("rollout vendor is not registered, using fallback", "vendor", rollout.Vendor)
			break
		}
		prereqs := make([]models.Prerequisite, 0, len(rollout.Prerequisites))
		for _, name := range rollout.Prerequisites {
			prereqs = append(prereqs, r.table.Prerequisites[name])
		}
		return rollout.Vendor, models.SourceRollout, prereqs
	}
	return r.table.Fallback, models.SourceFallback, nil
}

// probe checks prerequisites in parallel and returns the unhealthy ones.
func (r *Router) probe(ctx context.Context, prereqs []models.Prerequisite) map[string]error {
	down := make(map[string]error)
	if len(prereqs) == 0 {
		return down
	}
	var mu sync.Mutex
	seen := make(map[string]struct{}, len(prereqs))
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range prereqs {
		if _, dup := seen[p.Name]; dup {
			continue
		}
		seen[p.Name] = struct{}{}
		g.Go(func() error {
			err := r.checker.Check(gctx, p)
			if r.metrics != nil {
				r.metrics.ObserveProbe(p.Name, err == nil)
			}
			if err != nil {
				mu.Lock()
				down[p.Name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for name, err := range down {
		r.logger.WarnContext(ctx, "vendor prerequisite unavailable", "prerequisite", name, "error", err)
	}
	return down
}

func (r *Router) recordDemotion(ctx context.Context, req models.Request, d models.Demotion) {
	if r.metrics != nil {
		r.metrics.IncrementDemotion(string(d.Kind), d.Prerequisite)
	}
	event := audit.EventVendorDemoted
	if d.Kind == models.DemotionIDType {
		event = audit.EventIDTypeRemoved
	}
	audit.LogAudit(ctx, r.logger, r.auditPublisher, event,
		"user_id", req.UserID.String(),
		"vendor", d.To,
		"decision", d.From,
		"reason", d.Prerequisite+"_unavailable",
	)
}

// Bucket maps (user, flow type) onto [0, BucketCount). The same pair always
// lands in the same bucket.
func Bucket(userID id.UserID, flowType id.FlowType) int {
	sum := sha256.Sum256([]byte(userID.String() + "|" + flowType.String()))
	return int(binary.BigEndian.Uint64(sum[:8]) % models.BucketCount)
}

func requestedIDTypes(requested []docauth.IDType) []docauth.IDType {
	if len(requested) == 0 {
		return []docauth.IDType{docauth.IDTypeStateID, docauth.IDTypePassport}
	}
	out := make([]docauth.IDType, 0, len(requested))
	for _, t := range requested {
		if t.IsValid() && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
