package transport

import "time"

// SlowJoinerWindow is how long PublishBuffer holds early broadcasts before
// handing them to a transport's real Broadcast: a freshly-Connect()ed
// SUB socket takes a moment to complete its subscription handshake, and any
// PUB sent in that window is silently dropped by the socket, never reaching
// the wire at all.
const SlowJoinerWindow = 200 * time.Millisecond

// PublishBuffer delays the first broadcasts issued after a transport
// starts, replaying them once the slow-joiner window has elapsed so that a
// peer mid-handshake does not miss them. It is driven entirely from calls
// to Broadcast, so - like the rest of the engine's core state - it is only
// safe to use from the owning node's event loop; there is no background
// timer goroutine to race with.
type PublishBuffer struct {
	target   func([]byte) error
	deadline time.Time
	pending  [][]byte
	now      func() time.Time
}

// NewPublishBuffer wraps target (typically a Transport.Broadcast) with a
// startup buffering window measured from the moment of construction.
func NewPublishBuffer(target func([]byte) error) *PublishBuffer {
	return &PublishBuffer{target: target, deadline: time.Now().Add(SlowJoinerWindow), now: time.Now}
}

// Broadcast sends directly once the slow-joiner window has elapsed;
// earlier calls are queued and replayed, in order, on the call that first
// observes the window has closed.
func (b *PublishBuffer) Broadcast(payload []byte) error {
	if b.now().Before(b.deadline) {
		b.pending = append(b.pending, payload)
		return nil
	}
	pending := b.pending
	b.pending = nil
	for _, p := range pending {
		if err := b.target(p); err != nil {
			return err
		}
	}
	return b.target(payload)
}
