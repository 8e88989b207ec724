package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions *prometheus.CounterVec
	Demotions *prometheus.CounterVec
	Probes    *prometheus.CounterVec
}

// New registers routing metrics on reg, or the default registerer when nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_routing_decisions_total",
			Help: "Vendor routing decisions by vendor and source",
		}, []string{"vendor", "source"}),
		Demotions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_routing_demotions_total",
			Help: "Routing demotions by kind and prerequisite",
		}, []string{"kind", "prerequisite"}),
		Probes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_routing_probes_total",
			Help: "Prerequisite health probes by prerequisite and outcome",
		}, []string{"prerequisite", "outcome"}),
	}
}

func (m *Metrics) ObserveDecision(vendor, source string) {
	m.Decisions.WithLabelValues(vendor, source).Inc()
}

func (m *Metrics) IncrementDemotion(kind, prerequisite string) {
	m.Demotions.WithLabelValues(kind, prerequisite).Inc()
}

func (m *Metrics) ObserveProbe(prerequisite string, healthy bool) {
	outcome := "down"
	if healthy {
		outcome = "up"
	}
	m.Probes.WithLabelValues(prerequisite, outcome).Inc()
}
