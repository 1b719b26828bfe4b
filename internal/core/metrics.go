package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one vigil instance. Each
// instance owns its registry so several dispatchers can coexist in a process.
type Metrics struct {
	Registry *prometheus.Registry

	EventsReceived   prometheus.Counter
	EventsDropped    *prometheus.CounterVec
	AlertsDispatched prometheus.Counter
	ChannelSends     *prometheus.CounterVec
	Verdicts         *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance backed by a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		EventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_events_received_total",
			Help: "Total number of detection events received by the dispatcher",
		}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_events_dropped_total",
			Help: "Detection events dropped before delivery, by reason",
		}, []string{"reason"}),
		AlertsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_alerts_dispatched_total",
			Help: "Total number of alerts that reached channel delivery",
		}),
		ChannelSends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_channel_sends_total",
			Help: "Channel send attempts, by channel and result",
		}, []string{"channel", "result"}),
		Verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_classifier_verdicts_total",
			Help: "Classifier verdicts, by result",
		}, []string{"result"}),
	}
}

// ObserveVerdict counts one classifier verdict.
func (m *Metrics) ObserveVerdict(suspicious bool) {
	if m == nil {
		return
	}
	result := "clean"
	if suspicious {
		result = "suspicious"
	}
	m.Verdicts.WithLabelValues(result).Inc()
}

func (m *Metrics) observeSend(channel string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ChannelSends.WithLabelValues(channel, result).Inc()
}
