package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	polls       *prometheus.CounterVec
	duration    prometheus.Histogram
	active      prometheus.Gauge
	transitions *prometheus.CounterVec
}

// NewMetrics registers the monitor collectors on reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_monitor_polls_total",
			Help: "Shift status polls by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_monitor_poll_duration_seconds",
			Help:    "Latency of shift status polls.",
			Buckets: prometheus.DefBuckets,
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_monitor_active",
			Help: "Monitors with a running poll task.",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_monitor_transitions_total",
			Help: "Monitor state transitions by target state.",
		}, []string{"state"}),
	}
}

func (m *Metrics) observePoll(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *Metrics) transition(state State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) taskStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) taskStopped() {
	if m == nil {
		return
	}
	m.active.Dec()
}
