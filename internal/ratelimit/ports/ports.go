// Package ports defines the interfaces the ratelimit service depends on.
package ports

import (
	"context"
	"time"

	"idproof/internal/ratelimit/models"
	"idproof/pkg/platform/audit"
)

// AuditPublisher emits audit events for security-relevant operations.
type AuditPublisher = audit.Emitter

// CounterStore holds fixed-window attempt counters.
type CounterStore interface {
	// Increment atomically consumes one attempt unless the counter is already
	// at max within its window. A denied call leaves the counter untouched.
	// An elapsed window is treated as empty and restarts at now.
	Increment(ctx context.Context, key string, max int, window time.Duration, now time.Time) (models.Counter, bool, error)

	// Get returns the live counter, or the zero Counter if none exists or the
	// window has elapsed.
	Get(ctx context.Context, key string, window time.Duration, now time.Time) (models.Counter, error)

	// Delete clears the counter.
	Delete(ctx context.Context, key string) error
}
