package adminapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the prometheus collectors the admin surface exposes at
// /metrics. SetGraphsOpen, ObserveRestart and ObserveSSREvent update them;
// no code outside this file calls those methods, so the collectors keep
// their initial values.
type metrics struct {
	graphsOpen    prometheus.Gauge
	restartsTotal *prometheus.CounterVec
	ssrEvents     *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		graphsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "acdb",
			Name:      "graphs_open",
			Help:      "Number of graph handles currently registered with the runtime.",
		}),
		restartsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acdb",
			Name:      "restarts_total",
			Help:      "Master-proc restarts triggered by the error-detection engine, by reason.",
		}, []string{"reason"}),
		ssrEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acdb",
			Name:      "ssr_events_total",
			Help:      "Subsystem up/down events observed by the restart coordinator.",
		}, []string{"subsystem", "direction"}),
	}
}

// SetGraphsOpen records the current size of the graph handle list.
func (m *metrics) SetGraphsOpen(n int) { m.graphsOpen.Set(float64(n)) }

// ObserveRestart records a master-proc restart triggered for reason.
func (m *metrics) ObserveRestart(reason string) { m.restartsTotal.WithLabelValues(reason).Inc() }

// ObserveSSREvent records a subsystem transition (direction is "up" or
// "down").
func (m *metrics) ObserveSSREvent(subsystem, direction string) {
	m.ssrEvents.WithLabelValues(subsystem, direction).Inc()
}
