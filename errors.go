package silk

import (
	"errors"
	"fmt"

	"github.com/jabolina/silk/internal/pending"
)

// Sentinel errors surfaced to embedders. ErrDeliveryFailed, ErrPeerLost and
// ErrNodeStopped are the same values the pending-ack and pending-reply
// tables report internally, re-exported here so callers can use errors.Is
// against a single canonical value regardless of which layer raised it.
var (
	ErrUnknownPeer   = errors.New("silk: unknown peer")
	ErrNoSubscribers = errors.New("silk: no subscribers for type")
	ErrBind          = errors.New("silk: endpoint failed to bind")
	ErrBadPayload    = errors.New("silk: malformed inbound envelope")
	ErrReservedType  = errors.New("silk: reserved message type")

	ErrDeliveryFailed = pending.ErrDeliveryFailed
	ErrPeerLost       = pending.ErrPeerLost
	ErrNodeStopped    = pending.ErrNodeStopped
)

// PeerError annotates an error with the peer id it concerns, so callers can
// log or branch on which peer a delivery failure affected without parsing
// the error text.
type PeerError struct {
	PeerID string
	Op     string
	Err    error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("silk: %s peer %s: %v", e.Op, e.PeerID, e.Err)
}

// Unwrap exposes the underlying sentinel for errors.Is/errors.As.
func (e *PeerError) Unwrap() error { return e.Err }
