package silk

import (
	"time"

	"github.com/jabolina/silk/internal/cluster"
	"github.com/jabolina/silk/internal/pending"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Endpoints configures the two sockets a node binds at start.
type Endpoints struct {
	// Router is the bind address for the identity-addressed ROUTER
	// socket, e.g. "tcp://*:5000".
	Router string

	// Pub is the bind address for the broadcast PUB socket, e.g.
	// "tcp://*:5001".
	Pub string
}

// Options configures a Node at construction. Endpoints is the only
// required field; everything else has a workable default.
type Options struct {
	// ID is this node's identity. A fresh UUID is generated if empty.
	ID string

	// Name is an optional human-readable label, gossiped alongside ID.
	Name string

	Endpoints Endpoints

	// Keepalive configures this node's own heartbeat cadence, advertised
	// to peers so they know when to consider this node unreachable.
	Keepalive cluster.KeepaliveOptions

	// Headers are arbitrary string pairs gossiped alongside this node's
	// descriptor, e.g. a human-readable role. Purely advisory; silk never
	// reads them itself.
	Headers map[string]string

	// AckAll, when true (the default), acknowledges every inbound
	// application message except those named in AckExclude. When false,
	// only types named in AckInclude are acknowledged.
	AckAll     bool
	AckInclude []string
	AckExclude []string

	// RetryProfile is the default retry policy used for pending acks that
	// do not specify one of their own; defaults to pending.FastRetry.
	RetryProfile pending.RetryPolicy

	// Logger receives structured log output. A default logrus logger at
	// Info level is used when nil.
	Logger *logrus.Logger

	// Registerer receives this node's Prometheus collectors. The default
	// global registry is used when nil.
	Registerer prometheus.Registerer
}

// withDefaults returns a copy of o with every unset field filled to its
// working default.
func (o Options) withDefaults() Options {
	out := o
	if out.Keepalive.Period <= 0 {
		out.Keepalive.Period = 5 * time.Second
	}
	if out.RetryProfile == (pending.RetryPolicy{}) {
		out.RetryProfile = pending.FastRetry
	}
	if out.Logger == nil {
		out.Logger = logrus.New()
	}
	if out.Registerer == nil {
		out.Registerer = prometheus.DefaultRegisterer
	}
	if !out.AckAll && len(out.AckInclude) == 0 && len(out.AckExclude) == 0 {
		out.AckAll = true
	}
	return out
}
