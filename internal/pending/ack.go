// Package pending implements the pending-ack and pending-reply registries:
// in-memory tables tracking outbound messages awaiting, respectively, a
// transport-level `_ack` or an application-level `_reply`. Neither table is
// safe for concurrent use; per the engine's single-writer model, both must
// only be accessed from the owning node's event loop.
package pending

import "time"

// AckEntry tracks one outbound message awaiting a `_ack`.
type AckEntry struct {
	MessageID    string
	PeerID       string
	SentAt       time.Time
	ExpiresAt    time.Time
	Fulfilled    bool
	AttemptsLeft int
	Policy       RetryPolicy
	attempt      int

	// Resend re-transmits the original envelope to its original
	// destination. It is called by Sweep on an unfulfilled expiry.
	Resend func() error

	// OnGiveUp is invoked once, with ErrDeliveryFailed, ErrPeerLost or
	// ErrNodeStopped, when the entry is dropped without ever being fulfilled.
	OnGiveUp func(err error)
}

// AckTable is the pending-ack registry.
type AckTable struct {
	entries map[string]*AckEntry
}

// NewAckTable creates an empty pending-ack registry.
func NewAckTable() *AckTable {
	return &AckTable{entries: make(map[string]*AckEntry)}
}

// Register adds an entry to the table, indexed by its message id.
func (t *AckTable) Register(e *AckEntry) {
	t.entries[e.MessageID] = e
}

// Fulfill marks the entry for parentID as fulfilled and drops it. It
// reports whether an entry existed.
func (t *AckTable) Fulfill(parentID string) bool {
	if _, ok := t.entries[parentID]; !ok {
		return false
	}
	delete(t.entries, parentID)
	return true
}

// FulfillObserved marks the entry for parentID fulfilled and drops it, like
// Fulfill, additionally reporting the elapsed time since it was registered
// for ack-latency instrumentation.
func (t *AckTable) FulfillObserved(parentID string, now time.Time) (time.Duration, bool) {
	e, ok := t.entries[parentID]
	if !ok {
		return 0, false
	}
	delete(t.entries, parentID)
	return now.Sub(e.SentAt), true
}

// Sweep is the periodic sweeper tick: expired-and-fulfilled entries are
// dropped (there are none left, as Fulfill drops immediately), and
// expired-and-unfulfilled entries are retried with exponential backoff
// until attempts are exhausted, at which point OnGiveUp fires with
// ErrDeliveryFailed.
func (t *AckTable) Sweep(now time.Time) {
	for id, e := range t.entries {
		if e.Fulfilled || !e.ExpiresAt.Before(now) {
			continue
		}
		e.AttemptsLeft--
		if e.AttemptsLeft <= 0 {
			delete(t.entries, id)
			if e.OnGiveUp != nil {
				e.OnGiveUp(ErrDeliveryFailed)
			}
			continue
		}
		e.attempt++
		e.ExpiresAt = now.Add(e.Policy.Backoff(e.attempt))
		if e.Resend != nil {
			_ = e.Resend()
		}
	}
}

// DropForPeer abandons every pending entry addressed to peerID, reporting
// err (ErrPeerLost) to each OnGiveUp callback. Used when the destination
// disappears from the cluster view while a retry is pending.
func (t *AckTable) DropForPeer(peerID string, err error) {
	for id, e := range t.entries {
		if e.PeerID != peerID {
			continue
		}
		delete(t.entries, id)
		if e.OnGiveUp != nil {
			e.OnGiveUp(err)
		}
	}
}

// DropAll abandons every pending entry, reporting err (ErrNodeStopped) to
// each OnGiveUp callback. Used on Stop.
func (t *AckTable) DropAll(err error) {
	for id, e := range t.entries {
		delete(t.entries, id)
		if e.OnGiveUp != nil {
			e.OnGiveUp(err)
		}
	}
}

// Len returns the number of outstanding entries.
func (t *AckTable) Len() int { return len(t.entries) }
