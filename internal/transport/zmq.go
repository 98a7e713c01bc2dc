package transport

import (
	"fmt"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// pollTimeout bounds how long the I/O goroutine blocks in zmq.Poller.Poll
// before it wakes up to drain the outbox queue; pebbe/zmq4's poller has no
// way to wait on a Go channel directly, so a short timeout is the idiomatic
// way to interleave outbound sends with inbound polling.
const pollTimeout = 50 * time.Millisecond

// ZMQTransport is the production Transport, built on identity-addressed
// ROUTER sockets connected directly to one another and a PUB/SUB fan-out
// for broadcasts. Every socket is owned and touched only by the single I/O
// goroutine started by Start; ConnectPeer, DisconnectPeer, SendRouter, and
// Broadcast hand their request to that goroutine over a channel, since a
// zmq.Socket is not safe for concurrent use even across sends and polls.
type ZMQTransport struct {
	nodeID       string
	routerAddr   string
	pubAddr      string
	router       *zmq.Socket
	pub          *zmq.Socket
	sub          *zmq.Socket
	inbox        chan RouterFrame
	broadcasts   chan []byte
	outbox       chan outboundFrame
	connect      chan connectRequest
	disconnect   chan connectRequest
	closeOnce    sync.Once
	stop         chan struct{}
	stopped      chan struct{}
}

type outboundFrame struct {
	identity []byte
	payload  []byte
	pub      bool
}

type connectRequest struct {
	id             string
	routerEndpoint string
	pubEndpoint    string
	result         chan error
}

// identityPrefix tags every ROUTER identity this package sets, so a raw
// wire identity can later be told apart from one a zmq peer assigned
// itself.
const identityPrefix = 0x01

// routerIdentity builds the ROUTER socket identity for nodeID: a fixed
// prefix byte followed by the raw node-id bytes, so a peer can address
// this node by identity without first completing a handshake.
func routerIdentity(nodeID string) string {
	return string(append([]byte{identityPrefix}, []byte(nodeID)...))
}

// NewZMQTransport creates a transport that binds its ROUTER socket to
// routerBind and its PUB socket to pubBind (each a zmq bind endpoint, e.g.
// "tcp://*:5000"); nodeID is set as the ROUTER socket's identity so peers
// can address this node without first completing a handshake.
func NewZMQTransport(nodeID, routerBind, pubBind string) (*ZMQTransport, error) {
	router, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return nil, fmt.Errorf("transport: new router socket: %w", err)
	}
	if err := router.SetIdentity(routerIdentity(nodeID)); err != nil {
		return nil, fmt.Errorf("transport: set router identity: %w", err)
	}
	if err := router.SetLinger(0); err != nil {
		return nil, fmt.Errorf("transport: set router linger: %w", err)
	}
	if err := router.SetRouterMandatory(1); err != nil {
		return nil, fmt.Errorf("transport: set router mandatory: %w", err)
	}
	if err := router.Bind(routerBind); err != nil {
		return nil, fmt.Errorf("transport: bind router %s: %w", routerBind, err)
	}

	pub, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("transport: new pub socket: %w", err)
	}
	if err := pub.SetLinger(0); err != nil {
		return nil, fmt.Errorf("transport: set pub linger: %w", err)
	}
	if err := pub.Bind(pubBind); err != nil {
		return nil, fmt.Errorf("transport: bind pub %s: %w", pubBind, err)
	}

	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("transport: new sub socket: %w", err)
	}
	if err := sub.SetLinger(0); err != nil {
		return nil, fmt.Errorf("transport: set sub linger: %w", err)
	}
	if err := sub.SetSubscribe(""); err != nil {
		return nil, fmt.Errorf("transport: subscribe: %w", err)
	}

	routerEndpoint, _ := router.GetLastEndpoint()
	pubEndpoint, _ := pub.GetLastEndpoint()

	return &ZMQTransport{
		nodeID:     nodeID,
		routerAddr: endpointOrBind(routerEndpoint, routerBind),
		pubAddr:    endpointOrBind(pubEndpoint, pubBind),
		router:     router,
		pub:        pub,
		sub:        sub,
		inbox:      make(chan RouterFrame, 256),
		broadcasts: make(chan []byte, 256),
		outbox:     make(chan outboundFrame, 256),
		connect:    make(chan connectRequest),
		disconnect: make(chan connectRequest),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}, nil
}

func endpointOrBind(endpoint, fallback string) string {
	if endpoint != "" {
		return endpoint
	}
	return fallback
}

// Start begins the I/O goroutine.
func (t *ZMQTransport) Start() error {
	go t.loop()
	return nil
}

func (t *ZMQTransport) loop() {
	defer close(t.stopped)
	poller := zmq.NewPoller()
	poller.Add(t.router, zmq.POLLIN)
	poller.Add(t.sub, zmq.POLLIN)

	for {
		for drained := false; !drained; {
			select {
			case <-t.stop:
				return
			case req := <-t.connect:
				req.result <- t.connectPeer(req)
			case req := <-t.disconnect:
				req.result <- t.disconnectPeer(req)
			case frame := <-t.outbox:
				t.send(frame)
			default:
				drained = true
			}
		}

		sockets, err := poller.Poll(pollTimeout)
		if err != nil {
			continue
		}
		for _, s := range sockets {
			switch s.Socket {
			case t.router:
				t.recvRouter()
			case t.sub:
				t.recvSub()
			}
		}
	}
}

func (t *ZMQTransport) send(frame outboundFrame) {
	if frame.pub {
		_, _ = t.pub.SendBytes(frame.payload, 0)
		return
	}
	_, _ = t.router.SendMessage(frame.identity, frame.payload)
}

func (t *ZMQTransport) recvRouter() {
	parts, err := t.router.RecvMessageBytes(0)
	if err != nil || len(parts) < 2 {
		return
	}
	frame := RouterFrame{Identity: parts[0], Payload: parts[1]}
	select {
	case t.inbox <- frame:
	default:
	}
}

func (t *ZMQTransport) recvSub() {
	payload, err := t.sub.RecvBytes(0)
	if err != nil {
		return
	}
	select {
	case t.broadcasts <- payload:
	default:
	}
}

// ConnectPeer connects this node's ROUTER socket outbound to the peer's
// bound router endpoint, so it can subsequently be addressed by identity,
// and connects the SUB socket to the peer's PUB endpoint so its broadcasts
// are received.
func (t *ZMQTransport) ConnectPeer(id string, routerEndpoint string, pubEndpoint string) error {
	result := make(chan error, 1)
	select {
	case t.connect <- connectRequest{id: id, routerEndpoint: routerEndpoint, pubEndpoint: pubEndpoint, result: result}:
		return <-result
	case <-t.stopped:
		return fmt.Errorf("transport: closed")
	}
}

func (t *ZMQTransport) connectPeer(req connectRequest) error {
	if req.routerEndpoint != "" {
		if err := t.router.Connect(req.routerEndpoint); err != nil {
			return fmt.Errorf("transport: connect router to %s: %w", req.routerEndpoint, err)
		}
	}
	if req.pubEndpoint != "" {
		if err := t.sub.Connect(req.pubEndpoint); err != nil {
			return fmt.Errorf("transport: connect sub to %s: %w", req.pubEndpoint, err)
		}
	}
	return nil
}

// DisconnectPeer tears down the ROUTER and SUB connections established for
// id.
func (t *ZMQTransport) DisconnectPeer(id string, routerEndpoint string, pubEndpoint string) error {
	result := make(chan error, 1)
	select {
	case t.disconnect <- connectRequest{id: id, routerEndpoint: routerEndpoint, pubEndpoint: pubEndpoint, result: result}:
		return <-result
	case <-t.stopped:
		return fmt.Errorf("transport: closed")
	}
}

func (t *ZMQTransport) disconnectPeer(req connectRequest) error {
	if req.routerEndpoint != "" {
		_ = t.router.Disconnect(req.routerEndpoint)
	}
	if req.pubEndpoint != "" {
		_ = t.sub.Disconnect(req.pubEndpoint)
	}
	return nil
}

// SendRouter queues payload for delivery to identity over the ROUTER
// socket.
func (t *ZMQTransport) SendRouter(identity []byte, payload []byte) error {
	select {
	case t.outbox <- outboundFrame{identity: identity, payload: payload}:
		return nil
	case <-t.stopped:
		return fmt.Errorf("transport: closed")
	}
}

// Broadcast queues payload for publication over the PUB socket.
func (t *ZMQTransport) Broadcast(payload []byte) error {
	select {
	case t.outbox <- outboundFrame{payload: payload, pub: true}:
		return nil
	case <-t.stopped:
		return fmt.Errorf("transport: closed")
	}
}

// Inbox returns the channel of frames arriving on the ROUTER socket.
func (t *ZMQTransport) Inbox() <-chan RouterFrame { return t.inbox }

// Broadcasts returns the channel of payloads arriving on the SUB socket.
func (t *ZMQTransport) Broadcasts() <-chan []byte { return t.broadcasts }

// PeerIdentity computes id's ROUTER identity; routerEndpoint is unused
// here since the identity is derived from id alone, the same way this
// node's own identity was set in NewZMQTransport.
func (t *ZMQTransport) PeerIdentity(id string, routerEndpoint string) []byte {
	return []byte(routerIdentity(id))
}

// RouterEndpoint returns the bound ROUTER address.
func (t *ZMQTransport) RouterEndpoint() string { return t.routerAddr }

// PubEndpoint returns the bound PUB address.
func (t *ZMQTransport) PubEndpoint() string { return t.pubAddr }

// Close stops the I/O goroutine and releases every socket. Idempotent.
func (t *ZMQTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stop)
		<-t.stopped
		_ = t.router.Close()
		_ = t.pub.Close()
		_ = t.sub.Close()
	})
	return nil
}
