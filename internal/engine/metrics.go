package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels shared across engine metrics.
const (
	LabelClass = "class"
	LabelPeer  = "peer"
)

// Metrics bundles the counters and gauges the engine emits. Grounded on
// the promauto-based metrics in
// client/doublezerod/internal/liveness/metrics.go and
// controlplane/monitor/internal/worker/metrics.go: registration via
// promauto.With against a caller-supplied registerer, parameterized by class (broadcast/one-to-one)
// rather than per-peer label cardinality explosion.
type Metrics struct {
	MessagesSent       *prometheus.CounterVec
	MessagesDelivered  *prometheus.CounterVec
	RedeliveryAttempts prometheus.Counter
	RedeliveryGiveups  prometheus.Counter
	StrayKeepalives    prometheus.Counter
	PendingMessages    prometheus.Gauge
	PeersReachable     prometheus.Gauge
}

// NewMetrics registers engine metrics against reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid collisions with other
// Engine instances registering against the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oxen_engine_messages_sent_total",
			Help: "Count of application messages handed to the backend for delivery, by class.",
		}, []string{LabelClass}),
		MessagesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oxen_engine_messages_delivered_total",
			Help: "Count of application messages delivered to the handler callback, by class.",
		}, []string{LabelClass}),
		RedeliveryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "oxen_engine_redelivery_attempts_total",
			Help: "Count of redelivery attempts for unacknowledged messages.",
		}),
		RedeliveryGiveups: factory.NewCounter(prometheus.CounterOpts{
			Name: "oxen_engine_redelivery_giveup_total",
			Help: "Count of messages abandoned after exhausting the retry policy.",
		}),
		StrayKeepalives: factory.NewCounter(prometheus.CounterOpts{
			Name: "oxen_engine_stray_keepalives_total",
			Help: "Count of keepalive pongs received with no matching pending request.",
		}),
		PendingMessages: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oxen_engine_pending_messages",
			Help: "Current number of messages awaiting acknowledgement.",
		}),
		PeersReachable: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oxen_engine_peers_reachable",
			Help: "Current number of peers considered reachable, directly or through one relay.",
		}),
	}
}
