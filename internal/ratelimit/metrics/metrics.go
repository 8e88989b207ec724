package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions *prometheus.CounterVec
	Resets    *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_ratelimit_decisions_total",
			Help: "Rate limit decisions by action and outcome",
		}, []string{"action", "outcome"}),
		Resets: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_ratelimit_resets_total",
			Help: "Operator resets of rate limit counters by action",
		}, []string{"action"}),
	}
}

func (m *Metrics) ObserveDecision(action string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.Decisions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) IncrementResets(action string) {
	m.Resets.WithLabelValues(action).Inc()
}
