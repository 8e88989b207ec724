package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Events     *prometheus.CounterVec
	Rejections *prometheus.CounterVec
	Deliveries *prometheus.CounterVec
	Dropped    prometheus.Counter
	QueueDepth prometheus.Gauge
}

// New registers webhook metrics on reg, or the default registerer when nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_webhook_events_total",
			Help: "Ingested webhook events by vendor, kind and outcome",
		}, []string{"vendor", "kind", "outcome"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_webhook_rejections_total",
			Help: "Webhook requests rejected at the boundary by vendor and reason",
		}, []string{"vendor", "reason"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_repeater_deliveries_total",
			Help: "Repeater deliveries by listener and outcome",
		}, []string{"listener", "outcome"}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "idproof_repeater_dropped_total",
			Help: "Envelopes dropped because the repeater queue was full",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "idproof_repeater_queue_depth",
			Help: "Envelopes waiting for repeater workers",
		}),
	}
}

func (m *Metrics) ObserveEvent(vendor, kind, outcome string) {
	m.Events.WithLabelValues(vendor, kind, outcome).Inc()
}

func (m *Metrics) IncrementRejection(vendor, reason string) {
	m.Rejections.WithLabelValues(vendor, reason).Inc()
}

func (m *Metrics) ObserveDelivery(listener string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "delivered"
	}
	m.Deliveries.WithLabelValues(listener, outcome).Inc()
}
