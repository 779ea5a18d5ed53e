package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters the UDP transport emits. Grounded on the
// same promauto pattern as internal/engine/metrics.go and
// controlplane/monitor/internal/worker/metrics.go.
type Metrics struct {
	DatagramsSent     prometheus.Counter
	DatagramsReceived prometheus.Counter
}

// NewMetrics registers transport metrics against reg (nil creates them
// without registering them anywhere).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DatagramsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "oxen_transport_datagrams_sent_total",
			Help: "Count of UDP datagrams written to the network.",
		}),
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "oxen_transport_datagrams_received_total",
			Help: "Count of UDP datagrams read from the network and successfully decoded.",
		}),
	}
}
