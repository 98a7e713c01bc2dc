package pending

import "errors"

// Sentinel errors delivered to pending-ack and pending-reply callbacks.
var (
	// ErrDeliveryFailed reports that no `_ack` arrived after every retry
	// attempt was exhausted.
	ErrDeliveryFailed = errors.New("pending: delivery failed, no ack after retries")

	// ErrPeerLost reports that the destination peer disappeared from the
	// cluster view while a request was still in flight.
	ErrPeerLost = errors.New("pending: peer lost while request in flight")

	// ErrNodeStopped reports that the node was stopped while a request
	// was still outstanding.
	ErrNodeStopped = errors.New("pending: node stopped")
)
