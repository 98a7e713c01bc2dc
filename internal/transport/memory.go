package transport

import "sync"

// hub is the process-wide registry of in-memory transports, keyed by their
// router address, so MemoryTransport.ConnectPeer can find a sibling
// instance without any real sockets. Used only in tests.
var hub = struct {
	sync.Mutex
	byRouterAddr map[string]*MemoryTransport
}{byRouterAddr: make(map[string]*MemoryTransport)}

// MemoryTransport is an in-process fake Transport for fast, deterministic
// tests: ConnectPeer wires two instances together directly instead of
// opening sockets, and sends are delivered synchronously onto the
// recipient's inbox channel.
type MemoryTransport struct {
	addr       string
	pubAddr    string
	inbox      chan RouterFrame
	broadcasts chan []byte
	mu         sync.Mutex
	subs       map[string]*MemoryTransport
	closed     bool
}

// NewMemoryTransport creates a fake transport addressed by addr, which
// stands in for both its router and pub endpoint.
func NewMemoryTransport(addr string) *MemoryTransport {
	return &MemoryTransport{
		addr:       addr,
		pubAddr:    addr,
		inbox:      make(chan RouterFrame, 256),
		broadcasts: make(chan []byte, 256),
		subs:       make(map[string]*MemoryTransport),
	}
}

// Start registers this transport in the shared hub so peers can find it.
func (t *MemoryTransport) Start() error {
	hub.Lock()
	hub.byRouterAddr[t.addr] = t
	hub.Unlock()
	return nil
}

// Close unregisters this transport and closes its channels.
func (t *MemoryTransport) Close() error {
	hub.Lock()
	delete(hub.byRouterAddr, t.addr)
	hub.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.inbox)
		close(t.broadcasts)
	}
	return nil
}

// ConnectPeer subscribes this transport to the peer's broadcasts, mirroring
// the real transport's SUB-to-peer's-PUB wiring. Sends need no explicit
// router connection in the fake, since SendRouter resolves identities
// straight through the shared hub.
func (t *MemoryTransport) ConnectPeer(id string, routerEndpoint string, pubEndpoint string) error {
	hub.Lock()
	peer, ok := hub.byRouterAddr[pubEndpoint]
	hub.Unlock()
	if !ok {
		return nil
	}
	peer.mu.Lock()
	peer.subs[t.addr] = t
	peer.mu.Unlock()
	return nil
}

// DisconnectPeer removes the subscription established by ConnectPeer.
func (t *MemoryTransport) DisconnectPeer(id string, routerEndpoint string, pubEndpoint string) error {
	hub.Lock()
	peer, ok := hub.byRouterAddr[pubEndpoint]
	hub.Unlock()
	if !ok {
		return nil
	}
	peer.mu.Lock()
	delete(peer.subs, t.addr)
	peer.mu.Unlock()
	return nil
}

// SendRouter delivers payload directly onto the peer transport identified
// by identity (the peer's router address, used as its identity in tests).
func (t *MemoryTransport) SendRouter(identity []byte, payload []byte) error {
	hub.Lock()
	peer, ok := hub.byRouterAddr[string(identity)]
	hub.Unlock()
	if !ok {
		return nil
	}
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return nil
	}
	peer.inbox <- RouterFrame{Identity: []byte(t.addr), Payload: payload}
	return nil
}

// Broadcast fans payload out to every transport that has connected its SUB
// side to this one.
func (t *MemoryTransport) Broadcast(payload []byte) error {
	t.mu.Lock()
	subs := make([]*MemoryTransport, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()
	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			s.broadcasts <- payload
		}
		s.mu.Unlock()
	}
	return nil
}

// Inbox returns the channel of frames addressed to this transport.
func (t *MemoryTransport) Inbox() <-chan RouterFrame { return t.inbox }

// Broadcasts returns the channel of payloads published by peers this
// transport has connected to.
func (t *MemoryTransport) Broadcasts() <-chan []byte { return t.broadcasts }

// PeerIdentity returns routerEndpoint unchanged: in the fake, a transport's
// address doubles as its wire identity.
func (t *MemoryTransport) PeerIdentity(id string, routerEndpoint string) []byte {
	return []byte(routerEndpoint)
}

// RouterEndpoint returns this transport's address.
func (t *MemoryTransport) RouterEndpoint() string { return t.addr }

// PubEndpoint returns this transport's address.
func (t *MemoryTransport) PubEndpoint() string { return t.pubAddr }
