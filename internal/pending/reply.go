package pending

import (
	"time"

	"github.com/jabolina/silk/internal/wire"
)

// ReplyCallback is invoked once per matching `_reply`, in network arrival
// order.
type ReplyCallback func(msg *wire.Message, err error)

type replyEntry struct {
	peerID    string
	multi     bool
	expiresAt time.Time
	callbacks []ReplyCallback
	done      bool
}

// ReplyTable is the pending-reply registry, keyed by message id. A
// single-reply entry completes and is dropped on the first matching
// `_reply`; a multi-reply (broadcast) entry stays active, delivering every
// arriving reply to its callback, until it is explicitly closed or its
// deadline elapses.
type ReplyTable struct {
	entries map[string]*replyEntry
}

// NewReplyTable creates an empty pending-reply registry.
func NewReplyTable() *ReplyTable {
	return &ReplyTable{entries: make(map[string]*replyEntry)}
}

// RegisterSingle registers a callback fired once on the first `_reply`
// whose parent matches id, then dropped. peerID associates the entry with
// the destination peer so it can be cancelled with ErrPeerLost.
func (t *ReplyTable) RegisterSingle(id, peerID string, cb ReplyCallback) {
	t.entries[id] = &replyEntry{peerID: peerID, callbacks: []ReplyCallback{cb}}
}

// RegisterStream registers a long-lived callback invoked once per arriving
// `_reply` until deadline elapses, at which point the entry is dropped
// (firing no further callback; an empty result is simply the absence of
// further calls).
func (t *ReplyTable) RegisterStream(id string, deadline time.Time, cb ReplyCallback) {
	t.entries[id] = &replyEntry{multi: true, expiresAt: deadline, callbacks: []ReplyCallback{cb}}
}

// AddCallback appends a further callback to an existing entry, used when a
// reply itself expects a reply (chained replies-to-replies).
func (t *ReplyTable) AddCallback(id string, cb ReplyCallback) bool {
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	e.callbacks = append(e.callbacks, cb)
	return true
}

// Dispatch invokes every registered callback for parentID, in registration
// order, then drops the entry unless it is a still-live multi-reply
// stream. It reports whether an entry existed.
func (t *ReplyTable) Dispatch(parentID string, msg *wire.Message) bool {
	e, ok := t.entries[parentID]
	if !ok {
		return false
	}
	for _, cb := range e.callbacks {
		cb(msg, nil)
	}
	if !e.multi {
		delete(t.entries, parentID)
	}
	return true
}

// Fail reports err to every callback registered for id and drops the
// entry, regardless of whether it is a single or stream reply. Used when
// the matching pending-ack gives up on delivery, since no `_reply` can
// ever arrive for a message that was never acknowledged.
func (t *ReplyTable) Fail(id string, err error) bool {
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	delete(t.entries, id)
	for _, cb := range e.callbacks {
		cb(nil, err)
	}
	return true
}

// ExpireBefore closes every multi-reply stream whose deadline has elapsed
// as of now. No callback fires on expiry: an unanswered broadcast simply
// completes with whatever replies already arrived.
func (t *ReplyTable) ExpireBefore(now time.Time) {
	for id, e := range t.entries {
		if e.multi && !e.expiresAt.IsZero() && e.expiresAt.Before(now) {
			delete(t.entries, id)
		}
	}
}

// DropForPeer abandons every pending entry addressed to peerID, reporting
// err (ErrPeerLost) to every registered callback.
func (t *ReplyTable) DropForPeer(peerID string, err error) {
	for id, e := range t.entries {
		if e.peerID != peerID {
			continue
		}
		delete(t.entries, id)
		for _, cb := range e.callbacks {
			cb(nil, err)
		}
	}
}

// DropAll abandons every pending entry, reporting err (ErrNodeStopped) to
// every registered callback.
func (t *ReplyTable) DropAll(err error) {
	for id, e := range t.entries {
		delete(t.entries, id)
		for _, cb := range e.callbacks {
			cb(nil, err)
		}
	}
}

// Len returns the number of outstanding entries.
func (t *ReplyTable) Len() int { return len(t.entries) }
