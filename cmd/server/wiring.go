package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	captureService "idproof/internal/capture/service"
	captureStore "idproof/internal/capture/store"
	"idproof/internal/docauth"
	"idproof/internal/docauth/adapters/docv"
	"idproof/internal/docauth/adapters/mock"
	"idproof/internal/docauth/adapters/trueid"
	docauthMetrics "idproof/internal/docauth/metrics"
	"idproof/internal/flow/adapters"
	"idproof/internal/flow/flags"
	flowHandler "idproof/internal/flow/handler"
	flowMetrics "idproof/internal/flow/metrics"
	flowService "idproof/internal/flow/service"
	flowStore "idproof/internal/flow/store"
	jwttoken "idproof/internal/jwt_token"
	"idproof/internal/platform/config"
	"idproof/internal/platform/metrics"
	rlHandler "idproof/internal/ratelimit/handler"
	rlMetrics "idproof/internal/ratelimit/metrics"
	rlModels "idproof/internal/ratelimit/models"
	rlService "idproof/internal/ratelimit/service"
	"idproof/internal/ratelimit/store/counter"
	"idproof/internal/routing/health"
	routingMetrics "idproof/internal/routing/metrics"
	routingModels "idproof/internal/routing/models"
	routingService "idproof/internal/routing/service"
	webhookHandler "idproof/internal/webhook/handler"
	webhookMetrics "idproof/internal/webhook/metrics"
	"idproof/internal/webhook/repeater"
	webhookService "idproof/internal/webhook/service"
	"idproof/pkg/platform/audit"
	"idproof/pkg/platform/audit/publisher"
	auditmemory "idproof/pkg/platform/audit/store/memory"
	auditpostgres "idproof/pkg/platform/audit/store/postgres"
	"idproof/pkg/platform/circuit"
	"idproof/pkg/platform/middleware/admin"
	authmw "idproof/pkg/platform/middleware/auth"
	"idproof/pkg/platform/middleware/request"
	"idproof/pkg/platform/middleware/requesttime"
)

const (
	tokenAudience   = "idproof"
	auditBufferSize = 1024
)

type app struct {
	router   http.Handler
	audit    *publisher.Publisher
	repeater *repeater.Repeater
}

func buildApp(cfg config.Config, in *infra, log *slog.Logger) (*app, error) {
	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	if in.db != nil {
		auditStore = auditpostgres.New(in.db)
	}
	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithLogger(log),
	)

	registry, err := buildRegistry(cfg, log)
	if err != nil {
		return nil, err
	}

	table := routingModels.TableFromConfig(cfg.Vendors)
	checker := health.NewBreakerChecker(health.NewHTTPProber(cfg.Vendors.ProbeTimeout), table.Prerequisites,
		circuit.WithFailureThreshold(cfg.Vendors.ProbeFailures),
		circuit.WithSuccessThreshold(cfg.Vendors.ProbeRecovered),
		circuit.WithCooldown(cfg.Vendors.ProbeCooldown),
	)
	router, err := routingService.New(table, registry, checker,
		routingService.WithLogger(log),
		routingService.WithAuditPublisher(auditPublisher),
		routingService.WithMetrics(routingMetrics.New(nil)),
	)
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}

	var counters rlService.Store = counter.NewInMemoryCounterStore()
	if in.redis != nil {
		counters = counter.NewRedisCounterStore(in.redis.Client)
	}
	limiter, err := rlService.New(counters, policyFromConfig(cfg.RateLimits),
		rlService.WithLogger(log),
		rlService.WithAuditPublisher(auditPublisher),
		rlService.WithMetrics(rlMetrics.New()),
	)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var sessions captureStore.Store = captureStore.NewInMemoryStore()
	if in.db != nil {
		sessions = captureStore.NewPostgresStore(in.db)
	}
	captures := captureService.New(sessions, cfg.Flow.CaptureTimeout,
		captureService.WithLogger(log),
		captureService.WithAuditPublisher(auditPublisher),
	)

	var states flowStore.Store = flowStore.NewInMemoryStore()
	if in.redis != nil {
		states = flowStore.NewRedisStore(in.redis.Client, cfg.Flow.StateTTL)
	}
	var flagSource flags.Source = flags.Static(flags.FromConfig(cfg.Flow))
	if cfg.Flow.FlagsFile != "" {
		flagSource = flags.NewFileSource(cfg.Flow.FlagsFile, flags.FromConfig(cfg.Flow))
	}

	tokens := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, tokenAudience)

	flows, err := flowService.New(flowService.Deps{
		States:   states,
		Flags:    flagSource,
		Router:   router,
		Catalog:  registry,
		Limiter:  limiter,
		Captures: captures,
		Tokens:   tokens,
		Links:    adapters.NewLinkSender(log),
		Contacts: adapters.NewContactVerifier(cfg.Flow.ContactDevCode, log),
		Issuer:   adapters.NewCredentialIssuer(log),
		Enroller: adapters.NewInPersonEnroller(log),
	}, flowService.Config{
		PublicBaseURL:  cfg.Server.PublicBaseURL,
		HandoffLinkTTL: cfg.Flow.HandoffLinkTTL,
	},
		flowService.WithLogger(log),
		flowService.WithAuditPublisher(auditPublisher),
		flowService.WithMetrics(flowMetrics.New(nil)),
	)
	if err != nil {
		return nil, err
	}

	hookMetrics := webhookMetrics.New(nil)
	rep := repeater.New(repeater.Config{
		QueueSize:   cfg.Webhook.RepeaterQueueSize,
		Workers:     cfg.Webhook.RepeaterWorkers,
		MaxAttempts: cfg.Webhook.RepeaterMaxAttempts,
		Backoff:     cfg.Webhook.RepeaterBackoff,
		Timeout:     cfg.Webhook.RepeaterTimeout,
	}, repeaterListeners(cfg, in),
		repeater.WithLogger(log),
		repeater.WithMetrics(hookMetrics),
	)
	hooks := webhookService.New(registry, captures,
		webhookService.WithLogger(log),
		webhookService.WithAuditPublisher(auditPublisher),
		webhookService.WithMetrics(hookMetrics),
		webhookService.WithDispatcher(rep),
	)
	secrets := map[string]string{
		mock.AsyncName: cfg.Webhook.MockSecret,
	}
	if cfg.Vendors.DocVURL != "" {
		secrets[docv.Name] = cfg.Vendors.DocVWebhookSecret
	}

	r := chi.NewRouter()
	httpMetrics := metrics.NewHTTP()
	r.Use(request.RequestID)
	r.Use(request.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(httpMetrics.Middleware)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	flowHTTP := flowHandler.New(flows, log)
	flowHTTP.RegisterPublic(r)
	webhookHandler.New(hooks, secrets, log,
		webhookHandler.WithMetrics(hookMetrics),
		webhookHandler.WithMaxBodyBytes(cfg.Webhook.MaxBodyBytes),
	).Register(r)

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(jwttoken.NewAccessValidator(tokens), log))
		flowHTTP.Register(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(cfg.Server.AdminToken, log))
		rlHandler.New(limiter, log).RegisterAdmin(r)
	})

	return &app{router: r, audit: auditPublisher, repeater: rep}, nil
}

// buildRegistry registers the mock vendors always and the real vendors when
// their endpoints are configured.
func buildRegistry(cfg config.Config, log *slog.Logger) (*docauth.Registry, error) {
	m := docauthMetrics.New(nil)
	vendors := []docauth.Adapter{
		mock.New(),
		mock.NewAsync("", cfg.Server.PublicBaseURL+"/mock-vendor"),
	}
	if cfg.Vendors.TrueIDURL != "" {
		vendors = append(vendors, trueid.New(cfg.Vendors.TrueIDURL, cfg.Vendors.TrueIDAPIKey, cfg.Vendors.HTTPTimeout))
	}
	if cfg.Vendors.DocVURL != "" {
		vendors = append(vendors, docv.New(cfg.Vendors.DocVURL, cfg.Vendors.DocVAPIKey, cfg.Vendors.HTTPTimeout))
	}

	registry := docauth.NewRegistry()
	for _, a := range vendors {
		if err := registry.Register(docauth.Instrument(a, m, log)); err != nil {
			return nil, err
		}
	}
	log.Info("vendors registered", "vendors", registry.Names())
	return registry, nil
}

func policyFromConfig(cfg config.RateLimitsConfig) rlModels.Policy {
	return rlModels.Policy{
		rlModels.ActionDocAuth:           {MaxAttempts: cfg.DocAuthMaxAttempts, Window: cfg.DocAuthWindow},
		rlModels.ActionSendLink:          {MaxAttempts: cfg.SendLinkMaxAttempts, Window: cfg.SendLinkWindow},
		rlModels.ActionResolution:        {MaxAttempts: cfg.ResolutionMaxAttempts, Window: cfg.ResolutionWindow},
		rlModels.ActionPhoneConfirmation: {MaxAttempts: cfg.PhoneMaxAttempts, Window: cfg.PhoneWindow},
	}
}

func repeaterListeners(cfg config.Config, in *infra) []repeater.Listener {
	var listeners []repeater.Listener
	client := &http.Client{Timeout: cfg.Webhook.RepeaterTimeout}
	for _, url := range cfg.Webhook.RepeaterURLs {
		listeners = append(listeners, repeater.NewHTTPListener(url, cfg.Webhook.RepeaterSecret, client))
	}
	if in.kafka != nil {
		listeners = append(listeners, repeater.NewKafkaListener(in.kafka))
	}
	return listeners
}
