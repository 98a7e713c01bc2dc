// Package metrics exposes the Prometheus instrumentation emitted by a node:
// counters for messages sent and received by type, a gauge tracking cluster
// size, and a histogram of ack round-trip latency.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles a node's Prometheus collectors. It is constructed against
// an injectable prometheus.Registerer so tests and embedders can use a
// private registry instead of the global default.
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	ClusterSize      prometheus.Gauge
	AckLatency       prometheus.Histogram
}

// New builds and registers every collector against reg. Registration
// failures from a pre-existing collector of the same name are tolerated,
// mirroring the fallback-to-existing-collector pattern used elsewhere in
// the ecosystem when a process starts more than one node.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silk_messages_sent_total",
			Help: "Total number of envelopes sent, by message type.",
		}, []string{"type"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silk_messages_received_total",
			Help: "Total number of envelopes received, by message type.",
		}, []string{"type"}),
		ClusterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silk_cluster_size",
			Help: "Number of peers currently known to this node.",
		}),
		AckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "silk_ack_latency_seconds",
			Help:    "Round-trip latency between sending a message and receiving its ack.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.MessagesSent = registerOrReuse(reg, m.MessagesSent).(*prometheus.CounterVec)
	m.MessagesReceived = registerOrReuse(reg, m.MessagesReceived).(*prometheus.CounterVec)
	m.ClusterSize = registerOrReuse(reg, m.ClusterSize).(prometheus.Gauge)
	m.AckLatency = registerOrReuse(reg, m.AckLatency).(prometheus.Histogram)
	return m
}

func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if ok := asAlreadyRegistered(err, &already); ok {
			return already.ExistingCollector
		}
	}
	return c
}

func asAlreadyRegistered(err error, target *prometheus.AlreadyRegisteredError) bool {
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if ok {
		*target = are
	}
	return ok
}
