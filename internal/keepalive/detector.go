// Package keepalive implements the liveness side of membership: computing
// a peer's next keepalive deadline and pruning peers whose deadline has
// elapsed.
package keepalive

import (
	"time"

	"github.com/jabolina/silk/internal/cluster"
)

// DefaultPruneInterval is how often the prune loop scans the cluster view
// when the embedder does not override it.
const DefaultPruneInterval = 100 * time.Millisecond

// DefaultPeriod is the heartbeat cadence used when a node does not
// configure one explicitly.
const DefaultPeriod = 5 * time.Second

// Deadline returns the instant at which a peer heartbeating every period
// will next be considered dead, as of now.
func Deadline(period time.Duration, now time.Time) time.Time {
	if period <= 0 {
		period = DefaultPeriod
	}
	return now.Add(period)
}

// Detector prunes a cluster view of peers whose keepalive deadline has
// elapsed. It holds no state of its own beyond the view reference; the
// view is mutated in place, so Detector must only be driven from the
// owning node's event loop, same as the view itself.
type Detector struct {
	view *cluster.View
}

// NewDetector wraps a cluster view for liveness pruning.
func NewDetector(view *cluster.View) *Detector {
	return &Detector{view: view}
}

// Prune removes and returns every peer record whose keepalive deadline is
// before now. Since the deadline refreshed on each `_ka` is now + period,
// a peer is pruned once one full keepalive period passes without a `_ka`
// from it, at the next prune tick after that.
func (d *Detector) Prune(now time.Time) []*cluster.Record {
	return d.view.ExpireBefore(now)
}
