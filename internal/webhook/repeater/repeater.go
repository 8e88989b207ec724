// Package repeater re-broadcasts accepted webhook events to downstream
// listeners with bounded queueing and per-listener retries.
package repeater

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"idproof/internal/webhook/metrics"
	"idproof/internal/webhook/models"
)

const maxBackoff = 30 * time.Second

// Listener receives envelopes. Deliver must be safe for concurrent use.
type Listener interface {
	Name() string
	Deliver(ctx context.Context, env models.Envelope) error
}

type Config struct {
	QueueSize   int
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

type Repeater struct {
	queue     chan models.Envelope
	listeners []Listener
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Repeater)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Repeater) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Repeater) {
		r.metrics = m
	}
}

func New(cfg Config, listeners []Listener, opts ...Option) *Repeater {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	r := &Repeater{
		queue:     make(chan models.Envelope, cfg.QueueSize),
		listeners: listeners,
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enabled reports whether any listener is registered.
func (r *Repeater) Enabled() bool {
	return len(r.listeners) > 0
}

// Dispatch enqueues env without blocking. A full queue drops the envelope.
func (r *Repeater) Dispatch(ctx context.Context, env models.Envelope) bool {
	if !r.Enabled() {
		return false
	}
	select {
	case r.queue <- env:
		if r.metrics != nil {
			r.metrics.QueueDepth.Set(float64(len(r.queue)))
		}
		return true
	default:
		r.logger.WarnContext(ctx, "repeater queue full, dropping event",
			"vendor", env.Vendor,
			"kind", string(env.Kind),
			"capture_session_id", env.CaptureSessionID,
		)
		if r.metrics != nil {
			r.metrics.Dropped.Inc()
		}
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (r *Repeater) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range r.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Repeater) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.queue:
			if r.metrics != nil {
				r.metrics.QueueDepth.Set(float64(len(r.queue)))
			}
			for _, l := range r.listeners {
				r.deliver(ctx, l, env)
			}
		}
	}
}

func (r *Repeater) deliver(ctx context.Context, l Listener, env models.Envelope) {
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err := r.attempt(ctx, l, env)
		if err == nil {
			if r.metrics != nil {
				r.metrics.ObserveDelivery(l.Name(), true)
			}
			return
		}
		r.logger.WarnContext(ctx, "repeater delivery failed",
			"listener", l.Name(),
			"vendor", env.Vendor,
			"kind", string(env.Kind),
			"attempt", attempt,
			"error", err,
		)
		if attempt == r.cfg.MaxAttempts || !waitForRetry(ctx, r.backoff(attempt)) {
			break
		}
	}
	if r.metrics != nil {
		r.metrics.ObserveDelivery(l.Name(), false)
	}
	r.logger.ErrorContext(ctx, "repeater gave up on event",
		"listener", l.Name(),
		"vendor", env.Vendor,
		"kind", string(env.Kind),
		"capture_session_id", env.CaptureSessionID,
	)
}

func (r *Repeater) attempt(ctx context.Context, l Listener, env models.Envelope) error {
	if r.cfg.Timeout <= 0 {
		return l.Deliver(ctx, env)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return l.Deliver(attemptCtx, env)
}

// backoff doubles the base delay per attempt, capped at maxBackoff.
func (r *Repeater) backoff(attempt int) time.Duration {
	if r.cfg.Backoff <= 0 {
		return 0
	}
	delay := r.cfg.Backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

func waitForRetry(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
