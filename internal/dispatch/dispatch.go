// Package dispatch implements the protocol dispatcher: the single decision
// table that routes every inbound envelope, reserved or application-level,
// to the right mutation and the right downstream reply. It holds no state
// of its own - every side effect is delegated through a small set of
// interfaces so it can be exercised without a running transport.
package dispatch

import (
	"time"

	"github.com/jabolina/silk/internal/cluster"
	"github.com/jabolina/silk/internal/wire"
)

// Sender transmits an envelope to a peer addressed either by known cluster
// id (peerID) or, when the peer is not yet in the view, by raw transport
// identity - the case during the join handshake.
type Sender interface {
	SendToPeer(peerID string, identity []byte, msg *wire.Message) error
}

// ViewMutator is the subset of the cluster view the dispatcher needs to
// merge gossip and record liveness.
type ViewMutator interface {
	AddOrUpdate(d cluster.Descriptor, identity []byte, now time.Time) bool
	Touch(id string, deadline time.Time) bool
	Remove(id string) (*cluster.Record, bool)
	Get(id string) (*cluster.Record, bool)
	Snapshot() []cluster.Descriptor
}

// AckFulfiller completes a pending outbound ack on receipt of `_ack`.
type AckFulfiller interface {
	Fulfill(parentID string) bool
}

// ReplyDispatcher completes or advances a pending outbound reply on receipt
// of `_reply`.
type ReplyDispatcher interface {
	Dispatch(parentID string, msg *wire.Message) bool
}

// Subscriptions delivers an application message to user handlers and
// reports how many ran, and reports the reply policy advertised for a type.
// Whether to ack is decided by AckPolicy, not by the advertised policy.
type Subscriptions interface {
	Dispatch(msg *wire.Message, identity []byte) int
	Policy(typ string) (cluster.ReplyPolicy, bool)
}

// SelfInfo exposes this node's own descriptor, stamped fresh into outbound
// `_join`/`_connect` replies.
type SelfInfo interface {
	Self() cluster.Descriptor
}

// Events receives lifecycle notifications as peers come and go.
type Events interface {
	Emit(name string, payload interface{})
}

// AckPolicy decides whether an inbound application message of typ should be
// acknowledged. ackAll, when true, acks every application message unless typ
// appears in the exclude set; when false, only types in the include set are
// acked.
type AckPolicy struct {
	AckAll  bool
	Include map[string]struct{}
	Exclude map[string]struct{}
}

// ShouldAck reports whether typ warrants a `_ack`.
func (p AckPolicy) ShouldAck(typ string) bool {
	if p.AckAll {
		_, excluded := p.Exclude[typ]
		return !excluded
	}
	_, included := p.Include[typ]
	return included
}

// Dispatcher routes one inbound envelope to its handling logic.
type Dispatcher struct {
	view    ViewMutator
	acks    AckFulfiller
	replies ReplyDispatcher
	subs    Subscriptions
	self    SelfInfo
	events  Events
	sender  Sender
	factory *wire.Factory
	policy  AckPolicy
	now     func() time.Time
}

// New builds a Dispatcher wired to its collaborators. now defaults to
// time.Now when nil, overridable in tests for deterministic deadlines.
func New(view ViewMutator, acks AckFulfiller, replies ReplyDispatcher, subs Subscriptions, self SelfInfo, events Events, sender Sender, factory *wire.Factory, policy AckPolicy, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		view: view, acks: acks, replies: replies, subs: subs,
		self: self, events: events, sender: sender, factory: factory,
		policy: policy, now: now,
	}
}

// Handle routes one already-parsed envelope, arrived from identity on the
// wire. It reports no error: a `_join`/`_connect` whose descriptor payload
// is malformed is dropped, and application delivery failures have no
// caller left to hand them to once a message has been dispatched off the
// wire.
func (d *Dispatcher) Handle(identity []byte, msg *wire.Message) {
	switch msg.Type() {
	case wire.TypeJoin:
		d.handleGossip(identity, msg, true)
	case wire.TypeConnect:
		d.handleGossip(identity, msg, false)
	case wire.TypeLeave:
		d.handleLeave(msg)
	case wire.TypeKeepalive:
		d.handleKeepalive(identity, msg)
	case wire.TypeAck:
		d.acks.Fulfill(msg.Parent())
	case wire.TypeReply:
		d.replies.Dispatch(msg.Parent(), msg)
	default:
		d.handleApplication(identity, msg)
	}
}

// handleGossip merges the peer descriptor carried by a `_join` or
// `_connect` envelope and acks it. A `_join` reply carries this node's own
// view of the cluster plus its own descriptor, so the joining peer can
// bootstrap its membership in one round trip; a `_connect` reply carries
// only this node's descriptor, since the connecting peer already has the
// cluster view from its `_join`.
func (d *Dispatcher) handleGossip(identity []byte, msg *wire.Message, isJoin bool) {
	desc, ok := decodeDescriptor(msg)
	if !ok {
		return
	}
	isNew := d.view.AddOrUpdate(desc, identity, d.now())
	if isNew {
		d.events.Emit("peer:added", desc)
	}

	var reply *wire.Message
	if isJoin {
		reply = d.factory.Reply(msg, encodeJoinReply(d.self.Self(), d.view.Snapshot()))
	} else {
		reply = d.factory.Reply(msg, encodeDescriptor(d.self.Self()))
	}
	_ = d.sender.SendToPeer(desc.ID, identity, reply)
	ack := d.factory.Ack(msg)
	_ = d.sender.SendToPeer(desc.ID, identity, ack)

	if isJoin {
		d.events.Emit("joined", desc)
	}
}

// handleLeave removes the departing peer immediately; a graceful leave
// needs no ack and no reply, since the sender is not waiting on either.
func (d *Dispatcher) handleLeave(msg *wire.Message) {
	rec, ok := d.view.Remove(msg.Src())
	if ok {
		d.events.Emit("peer:removed", rec.Descriptor)
	}
}

// handleKeepalive refreshes the sender's liveness deadline. A peer that
// sends a keepalive before completing the join handshake is not yet known
// and is silently ignored.
func (d *Dispatcher) handleKeepalive(identity []byte, msg *wire.Message) {
	rec, ok := d.view.Get(msg.Src())
	if !ok {
		return
	}
	period := rec.Descriptor.Keepalive.Period
	if period <= 0 {
		period = 5 * time.Second
	}
	d.view.Touch(msg.Src(), d.now().Add(period))
}

// handleApplication delivers an application message to every subscribed
// handler and, per this node's AckPolicy, acknowledges receipt.
func (d *Dispatcher) handleApplication(identity []byte, msg *wire.Message) {
	d.subs.Dispatch(msg, identity)
	if d.policy.ShouldAck(msg.Type()) {
		ack := d.factory.Ack(msg)
		_ = d.sender.SendToPeer(msg.Src(), identity, ack)
	}
}

func decodeDescriptor(msg *wire.Message) (cluster.Descriptor, bool) {
	raw, ok := msg.Get("data")
	if !ok {
		return cluster.Descriptor{}, false
	}
	asMap, ok := raw.(map[string]interface{})
	if !ok {
		return cluster.Descriptor{}, false
	}
	return DecodeDescriptorMap(msg.Src(), asMap), true
}

// DecodeDescriptor extracts the descriptor carried in a `_join`/`_connect`
// envelope's "data" field.
func DecodeDescriptor(msg *wire.Message) (cluster.Descriptor, bool) {
	return decodeDescriptor(msg)
}

// DecodeDescriptorMap decodes a descriptor from an already-unwrapped data
// map, attributed to id. Exported so the node engine can decode the nested
// "me" and "cluster" descriptors carried in a `_join` reply, which arrive
// as plain maps rather than full envelopes.
func DecodeDescriptorMap(id string, asMap map[string]interface{}) cluster.Descriptor {
	desc := cluster.Descriptor{ID: id}
	if embeddedID, ok := asMap["id"].(string); ok && embeddedID != "" {
		desc.ID = embeddedID
	}
	if name, ok := asMap["name"].(string); ok {
		desc.Name = name
	}
	if router, ok := asMap["router"].(string); ok {
		desc.Router = router
	}
	if pub, ok := asMap["pub"].(string); ok {
		desc.Pub = pub
	}
	if period, ok := asMap["keepalive"].(float64); ok {
		desc.Keepalive.Period = time.Duration(period) * time.Millisecond
	}
	if messages, ok := asMap["messages"].(map[string]interface{}); ok {
		desc.Messages = make(map[string]cluster.ReplyPolicy, len(messages))
		for typ, v := range messages {
			if entry, ok := v.(map[string]interface{}); ok {
				var p cluster.ReplyPolicy
				if period, ok := entry["period"].(float64); ok {
					p.Period = time.Duration(period) * time.Millisecond
				}
				if attempts, ok := entry["attempts"].(float64); ok {
					p.Attempts = int(attempts)
				}
				desc.Messages[typ] = p
			}
		}
	}
	if headers, ok := asMap["headers"].(map[string]interface{}); ok {
		desc.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			if s, ok := v.(string); ok {
				desc.Headers[k] = s
			}
		}
	}
	return desc
}

func encodeDescriptor(d cluster.Descriptor) map[string]interface{} {
	return EncodeDescriptor(d)
}

// EncodeDescriptor builds the wire "data" representation of a descriptor,
// gossiped during the handshake and reused verbatim in a `_join` reply's
// "me"/"cluster" members.
func EncodeDescriptor(d cluster.Descriptor) map[string]interface{} {
	messages := make(map[string]interface{}, len(d.Messages))
	for typ, p := range d.Messages {
		messages[typ] = map[string]interface{}{
			"period":   float64(p.Period / time.Millisecond),
			"attempts": p.Attempts,
		}
	}
	headers := make(map[string]interface{}, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}
	return map[string]interface{}{
		"id":        d.ID,
		"name":      d.Name,
		"router":    d.Router,
		"pub":       d.Pub,
		"keepalive": float64(d.Keepalive.Period / time.Millisecond),
		"messages":  messages,
		"headers":   headers,
	}
}

// encodeJoinReply builds the `_join` reply payload: this node's own
// descriptor under "me" and its current view of the cluster under
// "cluster", so a joining peer can bootstrap full membership from the
// seed's single reply.
func encodeJoinReply(self cluster.Descriptor, view []cluster.Descriptor) map[string]interface{} {
	members := make([]interface{}, 0, len(view))
	for _, d := range view {
		members = append(members, encodeDescriptor(d))
	}
	return map[string]interface{}{
		"me":      encodeDescriptor(self),
		"cluster": members,
	}
}
