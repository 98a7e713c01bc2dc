package silk

import (
	"github.com/jabolina/silk/internal/cluster"
	"github.com/jabolina/silk/internal/wire"
)

// Descriptor is a peer's identity and advertised capabilities, as gossiped
// during the handshake and keepalive.
type Descriptor = cluster.Descriptor

// SubscribeOptions describes the reply policy a handler advertises for its
// message type: the deadline a sender should wait for a reply, and how
// many retries it is willing to absorb. It is gossiped verbatim in this
// node's descriptor so callers know what to expect of the type.
type SubscribeOptions = cluster.ReplyPolicy

// Handler processes one inbound application message.
type Handler func(msg *Message)

// ReplyCallback is invoked with the result of a sendTo/sendAll/reply call
// expecting a reply: once for a direct send, once per arriving reply for a
// broadcast. err is nil with a reply, or one of ErrDeliveryFailed,
// ErrPeerLost, or ErrNodeStopped; ErrUnknownPeer and ErrNoSubscribers are
// returned synchronously by the send call instead.
type ReplyCallback func(msg *Message, err error)

// Message is the application-facing view of an inbound envelope: the
// decoded wire message plus the sender's raw transport identity, carried
// along so a reply can be addressed directly.
type Message struct {
	env      *wire.Message
	identity []byte
}

// ID returns the message's unique id.
func (m *Message) ID() string { return m.env.ID() }

// Src returns the originating node id.
func (m *Message) Src() string { return m.env.Src() }

// Type returns the message type.
func (m *Message) Type() string { return m.env.Type() }

// Data returns the message's "data" payload, or nil if absent.
func (m *Message) Data() map[string]interface{} { return m.env.Data() }

// Get navigates a dotted path into the message body.
func (m *Message) Get(path string) (interface{}, bool) { return m.env.Get(path) }

func fromEnvelope(env *wire.Message, identity []byte) *Message {
	return &Message{env: env, identity: identity}
}
