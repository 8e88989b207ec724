package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transitions *prometheus.CounterVec
	Redirects   *prometheus.CounterVec
	Terminals   *prometheus.CounterVec
	Captures    *prometheus.CounterVec
	FlagChanges prometheus.Counter
}

// New registers flow metrics on reg, or the default registerer when nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_flow_steps_completed_total",
			Help: "Steps completed by step name",
		}, []string{"step"}),
		Redirects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_flow_redirects_total",
			Help: "Requests redirected away from an unreachable step",
		}, []string{"requested", "target"}),
		Terminals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_flow_terminals_total",
			Help: "Flows that ended in a terminal step",
		}, []string{"terminal"}),
		Captures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idproof_flow_capture_outcomes_total",
			Help: "Capture attempt outcomes by vendor and result",
		}, []string{"vendor", "result"}),
		FlagChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "idproof_flow_flag_changes_total",
			Help: "Checkpoints that swapped in a changed flag snapshot",
		}),
	}
}

func (m *Metrics) IncrementTransition(step string) {
	m.Transitions.WithLabelValues(step).Inc()
}

func (m *Metrics) IncrementRedirect(requested, target string) {
	m.Redirects.WithLabelValues(requested, target).Inc()
}

func (m *Metrics) IncrementTerminal(terminal string) {
	m.Terminals.WithLabelValues(terminal).Inc()
}

func (m *Metrics) IncrementCapture(vendor, result string) {
	m.Captures.WithLabelValues(vendor, result).Inc()
}
