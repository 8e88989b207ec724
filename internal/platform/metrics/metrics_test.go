package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestHTTP() *HTTP {
	return &HTTP{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_requests_total"}, []string{"route", "status"}),
		Latency:  prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_latency_seconds"}, []string{"route"}),
	}
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m := newTestHTTP()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/idv/capture/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/idv/capture/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("/idv/capture/{id}", "2xx")))
}
