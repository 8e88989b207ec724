package docauth

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idproof/internal/docauth/metrics"
)

type stubAdapter struct {
	name string
	sub  Submission
}

func (s *stubAdapter) Name() string                    { return s.name }
func (s *stubAdapter) Mode() Mode                      { return ModeSync }
func (s *stubAdapter) PreCheck(Images, Metadata) error { return nil }
func (s *stubAdapter) Submit(context.Context, Images, Metadata) (Submission, error) {
	return s.sub, nil
}

type stubAsync struct {
	stubAdapter
	verdict Verdict
	events  []WebhookEvent
}

func (s *stubAsync) Mode() Mode { return ModeAsync }
func (s *stubAsync) Resolve(context.Context, string) (Verdict, error) {
	return s.verdict, nil
}
func (s *stubAsync) ParseWebhook([]byte) ([]WebhookEvent, error) { return s.events, nil }

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAdapter{name: "b"}))
	require.NoError(t, reg.Register(&stubAsync{stubAdapter: stubAdapter{name: "a"}}))
	assert.Error(t, reg.Register(&stubAdapter{name: "b"}))

	assert.Equal(t, []string{"a", "b"}, reg.Names())

	_, ok := reg.Get("missing")
	assert.False(t, ok)

	_, ok = reg.Async("b")
	assert.False(t, ok, "sync adapter is not async")
	async, ok := reg.Async("a")
	require.True(t, ok)
	assert.Equal(t, "a", async.Name())
}

func TestInstrument_PreservesAsyncAndRecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	pass := PassVerdict(&Fields{FirstName: "A"})
	events := []WebhookEvent{{Token: "t", Kind: EventSessionOpened}}
	inner := &stubAsync{
		stubAdapter: stubAdapter{name: "async", sub: Submission{Pending: &PendingToken{Token: "t"}}},
		verdict:     pass,
		events:      events,
	}

	wrapped := Instrument(inner, m, nil)
	async, ok := wrapped.(AsyncAdapter)
	require.True(t, ok)

	sub, err := async.Submit(context.Background(), Images{}, Metadata{IDType: IDTypeStateID})
	require.NoError(t, err)
	assert.Equal(t, "t", sub.Pending.Token)

	v, err := async.Resolve(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, ResultPass, v.Result)

	got, err := async.ParseWebhook(nil)
	require.NoError(t, err)
	assert.Equal(t, events, got)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("async", "submit", "pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("async", "resolve", "pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Webhooks.WithLabelValues("async", "session_opened")))
}

func TestInstrument_SyncStaysSync(t *testing.T) {
	verdict := TransportErrorVerdict(ReasonTimeout, "timeout")
	wrapped := Instrument(&stubAdapter{name: "sync", sub: Submission{Verdict: &verdict}}, nil, nil)
	_, ok := wrapped.(AsyncAdapter)
	assert.False(t, ok)

	sub, err := wrapped.Submit(context.Background(), Images{}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, ResultError, sub.Verdict.Result)
}
