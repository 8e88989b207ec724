package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Submissions *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	Webhooks    *prometheus.CounterVec
}

// New registers vendor metrics on reg, or the default registerer when nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_vendor_submissions_total",
			Help: "Vendor submissions and resolutions by vendor, operation and result",
		}, []string{"vendor", "operation", "result"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idproof_vendor_call_duration_seconds",
			Help:    "Vendor call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"vendor", "operation"}),
		Webhooks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_vendor_webhook_events_total",
			Help: "Parsed vendor webhook events by vendor and kind",
		}, []string{"vendor", "kind"}),
	}
}

func (m *Metrics) ObserveCall(vendor, operation, result string, elapsed time.Duration) {
	m.Submissions.WithLabelValues(vendor, operation, result).Inc()
	m.Latency.WithLabelValues(vendor, operation).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveWebhook(vendor, kind string) {
	m.Webhooks.WithLabelValues(vendor, kind).Inc()
}
