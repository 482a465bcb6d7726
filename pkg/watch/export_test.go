package watch

import "github.com/prometheus/client_golang/prometheus"

// Subscriptions exposes the live-subscription gauge to tests.
func (m *Metrics) Subscriptions() prometheus.Collector { return m.subscriptions }

// Reconnects exposes the reconnect counter to tests.
func (m *Metrics) Reconnects() prometheus.Collector { return m.reconnects }
