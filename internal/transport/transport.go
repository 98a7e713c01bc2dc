// Package transport abstracts the wire-level socket fabric a node uses to
// reach its peers: a ROUTER-to-ROUTER mesh for identity-addressed direct and
// load-balanced sends, plus a PUB/SUB fan-out for broadcasts. A real
// implementation is backed by github.com/pebbe/zmq4 (see zmq.go); an
// in-memory fake (see memory.go) backs fast, deterministic unit and
// integration tests.
package transport

// RouterFrame is one inbound message read off a ROUTER socket, paired with
// the sender's transport identity so a reply can be addressed directly
// without a round trip through the cluster view.
type RouterFrame struct {
	Identity []byte
	Payload  []byte
}

// Transport is the socket fabric a node drives from its single event loop.
// Every method that sends is expected to be non-blocking from the caller's
// perspective; actual I/O happens on the transport's own goroutine(s).
type Transport interface {
	// Start begins accepting inbound connections and polling for frames.
	Start() error

	// Close tears down every socket. Idempotent.
	Close() error

	// ConnectPeer opens an outbound connection to a peer: the router
	// endpoint so it can subsequently be addressed by identity, and the
	// pub endpoint so this node's SUB socket receives its broadcasts.
	ConnectPeer(id string, routerEndpoint string, pubEndpoint string) error

	// DisconnectPeer tears down the outbound connections to a peer.
	DisconnectPeer(id string, routerEndpoint string, pubEndpoint string) error

	// SendRouter transmits payload to the peer identified by identity over
	// the ROUTER socket.
	SendRouter(identity []byte, payload []byte) error

	// Broadcast publishes payload to every subscriber over the PUB socket.
	Broadcast(payload []byte) error

	// Inbox returns the channel of frames arriving on the ROUTER socket.
	Inbox() <-chan RouterFrame

	// Broadcasts returns the channel of payloads arriving on the SUB
	// socket.
	Broadcasts() <-chan []byte

	// PeerIdentity computes the wire identity to address id by, given its
	// advertised router endpoint, before any frame has been exchanged with
	// it - the case when initiating a join to a seed this node has never
	// heard from.
	PeerIdentity(id string, routerEndpoint string) []byte

	// RouterEndpoint returns the address this transport's ROUTER socket is
	// bound to, for inclusion in this node's gossiped descriptor.
	RouterEndpoint() string

	// PubEndpoint returns the address this transport's PUB socket is bound
	// to, for inclusion in this node's gossiped descriptor.
	PubEndpoint() string
}
