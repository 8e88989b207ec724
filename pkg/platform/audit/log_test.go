package audit_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "idproof/pkg/domain"
	audit "idproof/pkg/platform/audit"
	"idproof/pkg/platform/audit/store/memory"
	"idproof/pkg/requestcontext"
)

type storeEmitter struct{ store *memory.InMemoryStore }

func (e storeEmitter) Emit(ctx context.Context, ev audit.Event) error { return e.store.Append(ctx, ev) }

func TestLogAudit(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	store := memory.NewInMemoryStore()

	userID := id.UserID(uuid.New())
	flowID := id.FlowID(uuid.New())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(requestcontext.WithRequestID(context.Background(), "req-1"), now)

	audit.LogAudit(ctx, logger, storeEmitter{store}, audit.EventVendorDemoted,
		"user_id", userID.String(),
		"flow_id", flowID.String(),
		"vendor", "trueid",
		"reason", "prerequisite_down",
	)

	assert.Contains(t, buf.String(), `"log_type":"audit"`)
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)

	events, err := store.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, string(audit.EventVendorDemoted), ev.Action)
	assert.Equal(t, flowID, ev.FlowID)
	assert.Equal(t, "trueid", ev.Vendor)
	assert.Equal(t, "prerequisite_down", ev.Reason)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, now, ev.Timestamp)
	assert.Equal(t, userID.String(), ev.Subject)
}

func TestLogAudit_NilPublisherOnlyLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	audit.LogAudit(context.Background(), logger, nil, audit.EventRateLimitReset, "actor_id", "ops")
	assert.Contains(t, buf.String(), "rate_limit_reset")
}
