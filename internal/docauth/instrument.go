package docauth

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"idproof/internal/docauth/metrics"
	"idproof/pkg/requestcontext"
)

const tracerName = "idproof/docauth"

// Instrument wraps a with tracing, metrics and logging. Async adapters stay
// async so type assertions on the result keep working.
func Instrument(a Adapter, m *metrics.Metrics, logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	base := &instrumented{next: a, metrics: m, logger: logger, tracer: otel.Tracer(tracerName)}
	if async, ok := a.(AsyncAdapter); ok {
		return &instrumentedAsync{instrumented: base, async: async}
	}
	return base
}

type instrumented struct {
	next    Adapter
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

func (i *instrumented) Name() string { return i.next.Name() }
func (i *instrumented) Mode() Mode   { return i.next.Mode() }

func (i *instrumented) PreCheck(images Images, meta Metadata) error {
	return i.next.PreCheck(images, meta)
}

func (i *instrumented) Submit(ctx context.Context, images Images, meta Metadata) (Submission, error) {
	ctx, span := i.tracer.Start(ctx, "docauth.submit", trace.WithAttributes(
		attribute.String("vendor", i.next.Name()),
		attribute.String("id_type", meta.IDType.String()),
		attribute.Bool("selfie", meta.SelfieRequired),
	))
	defer span.End()

	start := time.Now()
	sub, err := i.next.Submit(ctx, images, meta)
	result := "error"
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case sub.Pending != nil:
		result = string(ResultPending)
	case sub.Verdict != nil:
		result = string(sub.Verdict.Result)
		i.annotate(ctx, span, "submit", *sub.Verdict)
	}
	span.SetAttributes(attribute.String("result", result))
	i.observe("submit", result, time.Since(start))
	return sub, err
}

func (i *instrumented) annotate(ctx context.Context, span trace.Span, operation string, v Verdict) {
	if !v.Transport {
		return
	}
	span.SetStatus(codes.Error, "vendor transport failure")
	i.logger.WarnContext(ctx, "vendor transport failure",
		"vendor", i.next.Name(),
		"operation", operation,
		"reasons", ReasonStrings(v.Reasons),
		"vendor_codes", v.VendorCodes,
		"request_id", requestcontext.RequestID(ctx),
	)
}

func (i *instrumented) observe(operation, result string, elapsed time.Duration) {
	if i.metrics == nil {
		return
	}
	i.metrics.ObserveCall(i.next.Name(), operation, result, elapsed)
}

type instrumentedAsync struct {
	*instrumented
	async AsyncAdapter
}

func (i *instrumentedAsync) Resolve(ctx context.Context, token string) (Verdict, error) {
	ctx, span := i.tracer.Start(ctx, "docauth.resolve", trace.WithAttributes(
		attribute.String("vendor", i.async.Name()),
	))
	defer span.End()

	start := time.Now()
	v, err := i.async.Resolve(ctx, token)
	result := string(v.Result)
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.logger.WarnContext(ctx, "vendor resolve failed",
			"vendor", i.async.Name(),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	span.SetAttributes(attribute.String("result", result))
	i.observe("resolve", result, time.Since(start))
	return v, err
}

func (i *instrumentedAsync) ParseWebhook(raw []byte) ([]WebhookEvent, error) {
	events, err := i.async.ParseWebhook(raw)
	if err == nil && i.metrics != nil {
		for _, e := range events {
			i.metrics.ObserveWebhook(i.async.Name(), string(e.Kind))
		}
	}
	return events, err
}
