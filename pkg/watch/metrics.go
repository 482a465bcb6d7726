package watch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// Dropped response reasons.
const (
	dropUnknownWatch = "unknown_watch"
	dropUnpairedAck  = "unpaired_ack"
	dropCancelled    = "cancelled"
)

// Metrics are the Manager's Prometheus collectors. A nil *Metrics records
// nothing, so a Manager without WithMetrics pays only a nil check.
type Metrics struct {
	subscriptions  prometheus.Gauge
	reconnects     prometheus.Counter
	dropped        *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvwatch",
			Subsystem: "watch",
			Name:      "subscriptions",
			Help:      "Number of live subscriptions",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvwatch",
			Subsystem: "watch",
			Name:      "reconnects_total",
			Help:      "Number of times the watch stream was re-established",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvwatch",
			Subsystem: "watch",
			Name:      "dropped_responses_total",
			Help:      "Number of responses dropped, per reason",
		}, []string{
			"reason",
		}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvwatch",
			Subsystem: "watch",
			Name:      "frames_sent_total",
			Help:      "Number of requests written, per type",
		}, []string{
			"type",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvwatch",
			Subsystem: "watch",
			Name:      "frames_received_total",
			Help:      "Number of responses read, per kind",
		}, []string{
			"kind",
		}),
	}
	reg.MustRegister(m.subscriptions, m.reconnects, m.dropped, m.framesSent, m.framesReceived)
	return m
}

func (m *Metrics) setSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

func (m *Metrics) reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) drop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) sent(req *wire.WatchRequest) {
	if m == nil {
		return
	}
	if req.Cancel != nil {
		m.framesSent.WithLabelValues("cancel").Inc()
		return
	}
	m.framesSent.WithLabelValues("create").Inc()
}

func (m *Metrics) received(resp *wire.WatchResponse) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(resp.Kind().String()).Inc()
}
