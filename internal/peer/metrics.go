package peer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// Metrics are the peer's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	sessions  *prometheus.GaugeVec
	requests  *prometheus.CounterVec
	responses *prometheus.CounterVec
	revision  prometheus.GaugeFunc
}

// NewMetrics creates the collectors and registers them on reg. The store
// revision gauge reads store on each scrape.
func NewMetrics(reg prometheus.Registerer, store *Store) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kvwatch",
			Subsystem: "peer",
			Name:      "sessions",
			Help:      "Number of open watch streams, per transport",
		}, []string{
			"transport",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvwatch",
			Subsystem: "peer",
			Name:      "requests_total",
			Help:      "Number of watch requests received, per type",
		}, []string{
			"type",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvwatch",
			Subsystem: "peer",
			Name:      "responses_total",
			Help:      "Number of watch responses sent, per kind",
		}, []string{
			"kind",
		}),
		revision: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kvwatch",
			Subsystem: "peer",
			Name:      "store_revision",
			Help:      "Current revision of the in-memory store",
		}, func() float64 {
			return float64(store.Rev())
		}),
	}
	reg.MustRegister(m.sessions, m.requests, m.responses, m.revision)
	return m
}

func (m *Metrics) sessionOpened(transport string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(transport).Inc()
}

func (m *Metrics) sessionClosed(transport string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(transport).Dec()
}

func (m *Metrics) request(req *wire.WatchRequest) {
	if m == nil {
		return
	}
	if req.Cancel != nil {
		m.requests.WithLabelValues("cancel").Inc()
		return
	}
	m.requests.WithLabelValues("create").Inc()
}

func (m *Metrics) response(resp *wire.WatchResponse) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(resp.Kind().String()).Inc()
}
