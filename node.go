package silk

import (
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jabolina/silk/internal/cluster"
	"github.com/jabolina/silk/internal/dispatch"
	"github.com/jabolina/silk/internal/events"
	"github.com/jabolina/silk/internal/keepalive"
	"github.com/jabolina/silk/internal/loop"
	"github.com/jabolina/silk/internal/metrics"
	"github.com/jabolina/silk/internal/pending"
	"github.com/jabolina/silk/internal/subscribe"
	"github.com/jabolina/silk/internal/transport"
	"github.com/jabolina/silk/internal/wire"
	"github.com/sirupsen/logrus"
)

// ackSweepInterval is how often the pending-ack table retries or gives up
// on unfulfilled entries.
const ackSweepInterval = time.Second

// State is a node's position in its lifecycle.
type State int

// Node lifecycle states.
const (
	Stopped State = iota
	Started
	Joining
	Joined
)

// String renders the state the way it is gossiped and logged.
func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Started:
		return "STARTED"
	case Joining:
		return "JOINING"
	case Joined:
		return "JOINED"
	default:
		return "UNKNOWN"
	}
}

// registeredHandler is node.go's own bookkeeping for a subscription, kept
// alongside the internal subscribe.Table so Off(typ, h) can withdraw the
// one handler a caller named without disturbing its siblings: the table's
// own identity matching only tells apart distinct handler literals, which
// breaks if every registration is wrapped through one shared closure, so
// node.go tracks the original handler's pointer itself and rebuilds the
// table's registration for typ on removal.
type registeredHandler struct {
	ptr     uintptr
	policy  cluster.ReplyPolicy
	wrapped subscribe.Handler
}

// Node is a Silk cluster participant: one identity, one pair of sockets,
// one event loop owning every piece of mutable state beneath it.
type Node struct {
	opts Options
	id   string

	loop       *loop.Loop
	trans      transport.Transport
	factory    *wire.Factory
	view       *cluster.View
	acks       *pending.AckTable
	replies    *pending.ReplyTable
	subs       *subscribe.Table
	dispatcher *dispatch.Dispatcher
	bus        *events.Bus
	metrics    *metrics.Metrics
	detector   *keepalive.Detector
	log        *logrus.Entry
	va         *viewAdapter
	pubBuffer  *transport.PublishBuffer
	rnd        *rand.Rand

	state        State
	terminated   bool
	handlers     map[string][]registeredHandler
	pendingJoins []func()

	stopCh     chan struct{}
	background sync.WaitGroup
	stopOnce   sync.Once
	startOnce  sync.Once
}

// New constructs a node against the production ZeroMQ transport, binding
// its router and publish sockets. It returns ErrBind if either endpoint
// cannot be bound.
func New(opts Options) (*Node, error) {
	opts = opts.withDefaults()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	trans, err := transport.NewZMQTransport(id, opts.Endpoints.Router, opts.Endpoints.Pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}
	return newNode(id, opts, trans), nil
}

// NewWithTransport constructs a node against a caller-supplied transport,
// letting tests substitute the in-memory fake for the production
// ZeroMQ-backed one.
func NewWithTransport(opts Options, trans transport.Transport) *Node {
	opts = opts.withDefaults()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	return newNode(id, opts, trans)
}

func newNode(id string, opts Options, trans transport.Transport) *Node {
	view := cluster.New()
	ackTable := pending.NewAckTable()
	replyTable := pending.NewReplyTable()
	subsTable := subscribe.New()
	bus := events.NewBus()
	met := metrics.New(opts.Registerer)
	detector := keepalive.NewDetector(view)
	factory := wire.NewFactory(id)
	log := opts.Logger.WithField("node", id)

	va := &viewAdapter{view: view, trans: trans, acks: ackTable, replies: replyTable, met: met, log: log}
	sender := &nodeSender{view: view, trans: trans}
	ackFulfiller := &metricsAckFulfiller{acks: ackTable, met: met}

	n := &Node{
		opts: opts, id: id,
		loop: loop.New(), trans: trans, factory: factory,
		view: view, acks: ackTable, replies: replyTable, subs: subsTable,
		bus: bus, metrics: met, detector: detector, log: log, va: va,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		handlers: make(map[string][]registeredHandler),
		stopCh:   make(chan struct{}),
	}
	n.pubBuffer = transport.NewPublishBuffer(trans.Broadcast)

	policy := dispatch.AckPolicy{
		AckAll:  opts.AckAll,
		Include: toSet(opts.AckInclude),
		Exclude: toSet(opts.AckExclude),
	}
	n.dispatcher = dispatch.New(va, ackFulfiller, replyTable, subsTable, nodeSelf{n}, bus, sender, factory, policy, nil)
	return n
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}

// Start starts the transport (whose sockets were already bound at
// construction), begins the inbound dispatch loop and the
// keepalive/prune/ack-sweep timers, and flushes any Join calls made before
// Start. Idempotent once started; returns ErrNodeStopped if the node has
// already been stopped.
func (n *Node) Start() error {
	n.startOnce.Do(n.loop.Start)
	var startErr error
	n.loop.Send(func() {
		if n.terminated {
			startErr = ErrNodeStopped
			return
		}
		if n.state != Stopped {
			return
		}
		if err := n.trans.Start(); err != nil {
			startErr = fmt.Errorf("%w: %v", ErrBind, err)
			return
		}
		n.state = Started
		n.runInboxPump()
		n.runBroadcastPump()
		n.runTicker(keepalivePeriod(n.opts.Keepalive), n.sendKeepalive)
		n.runTicker(keepalive.DefaultPruneInterval, n.runPrune)
		n.runTicker(ackSweepInterval, n.acks.Sweep)
		n.runTicker(ackSweepInterval, n.replies.ExpireBefore)
		// A keepalive sent once the slow-joiner window has closed flushes
		// whatever the publish buffer queued during it.
		n.background.Add(1)
		go func() {
			defer n.background.Done()
			select {
			case <-n.stopCh:
			case <-time.After(transport.SlowJoinerWindow):
				n.loop.Post(func() { n.sendKeepalive(time.Now()) })
			}
		}()
		n.bus.Emit("started", nil)

		queued := n.pendingJoins
		n.pendingJoins = nil
		for _, f := range queued {
			f()
		}
	})
	return startErr
}

func keepalivePeriod(opts cluster.KeepaliveOptions) time.Duration {
	if opts.Period <= 0 {
		return keepalive.DefaultPeriod
	}
	return opts.Period
}

// Stop tears the node down: publishes a graceful `_leave`, stops every
// background goroutine, closes the transport, and fires every outstanding
// callback with ErrNodeStopped. Idempotent; the node cannot be restarted
// afterwards.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		n.loop.Send(func() {
			if n.state == Stopped && n.terminated {
				return
			}
			msg := n.factory.New(wire.TypeLeave, wire.DestAll, nil)
			if raw, err := msg.Bytes(); err == nil {
				// Sent past the publish buffer: the transport is closed
				// right after, so a `_leave` queued there would never go out.
				if err := n.trans.Broadcast(raw); err != nil {
					n.log.WithError(err).Warn("graceful leave broadcast failed")
				}
			}
		})
		close(n.stopCh)
		n.background.Wait()
		_ = n.trans.Close()
		n.loop.Send(func() {
			n.acks.DropAll(ErrNodeStopped)
			n.replies.DropAll(ErrNodeStopped)
			n.subs.OffAll()
			n.handlers = make(map[string][]registeredHandler)
			n.state = Stopped
			n.terminated = true
			n.bus.Emit("stopped", nil)
		})
		n.loop.Stop()
	})
	return nil
}

func (n *Node) publish(raw []byte) error {
	return n.pubBuffer.Broadcast(raw)
}

func (n *Node) runTicker(period time.Duration, fn func(now time.Time)) {
	n.background.Add(1)
	go func() {
		defer n.background.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-n.stopCh:
				return
			case t := <-ticker.C:
				n.loop.Post(func() { fn(t) })
			}
		}
	}()
}

func (n *Node) runInboxPump() {
	n.background.Add(1)
	go func() {
		defer n.background.Done()
		for {
			select {
			case <-n.stopCh:
				return
			case frame, ok := <-n.trans.Inbox():
				if !ok {
					return
				}
				n.handleInboundFrame(frame)
			}
		}
	}()
}

func (n *Node) runBroadcastPump() {
	n.background.Add(1)
	go func() {
		defer n.background.Done()
		for {
			select {
			case <-n.stopCh:
				return
			case payload, ok := <-n.trans.Broadcasts():
				if !ok {
					return
				}
				n.handleInboundBroadcast(payload)
			}
		}
	}()
}

func (n *Node) handleInboundFrame(frame transport.RouterFrame) {
	msg, err := wire.Parse(frame.Payload)
	if err != nil {
		n.log.WithError(err).Warn("dropping malformed envelope")
		bad := n.factory.BadPayload("", err.Error())
		if raw, berr := bad.Bytes(); berr == nil {
			_ = n.trans.SendRouter(frame.Identity, raw)
		}
		return
	}
	n.loop.Post(func() {
		n.metrics.MessagesReceived.WithLabelValues(msg.Type()).Inc()
		n.dispatcher.Handle(frame.Identity, msg)
	})
}

func (n *Node) handleInboundBroadcast(payload []byte) {
	msg, err := wire.Parse(payload)
	if err != nil {
		n.log.WithError(err).Warn("dropping malformed broadcast")
		return
	}
	n.loop.Post(func() {
		n.metrics.MessagesReceived.WithLabelValues(msg.Type()).Inc()
		n.dispatcher.Handle(nil, msg)
	})
}

func (n *Node) sendKeepalive(now time.Time) {
	msg := n.factory.New(wire.TypeKeepalive, wire.DestAll, nil)
	raw, err := msg.Bytes()
	if err != nil {
		return
	}
	if err := n.publish(raw); err != nil {
		n.log.WithError(err).Warn("keepalive broadcast failed")
		return
	}
	n.metrics.MessagesSent.WithLabelValues(wire.TypeKeepalive).Inc()
}

func (n *Node) runPrune(now time.Time) {
	for _, rec := range n.detector.Prune(now) {
		_ = n.trans.DisconnectPeer(rec.Descriptor.ID, rec.Descriptor.Router, rec.Descriptor.Pub)
		n.acks.DropForPeer(rec.Descriptor.ID, ErrPeerLost)
		n.replies.DropForPeer(rec.Descriptor.ID, ErrPeerLost)
		n.metrics.ClusterSize.Set(float64(n.view.Len()))
		n.bus.Emit("peer:removed", rec.Descriptor)
	}
}

// self builds this node's current descriptor, advertising every type it is
// currently subscribed to. Must only be called from the event loop.
func (n *Node) self() cluster.Descriptor {
	messages := make(map[string]cluster.ReplyPolicy, len(n.handlers))
	for typ, regs := range n.handlers {
		if len(regs) == 0 {
			continue
		}
		messages[typ] = regs[len(regs)-1].policy
	}
	return cluster.Descriptor{
		ID:        n.id,
		Name:      n.opts.Name,
		Router:    n.trans.RouterEndpoint(),
		Pub:       n.trans.PubEndpoint(),
		Keepalive: n.opts.Keepalive,
		Messages:  messages,
		Headers:   n.opts.Headers,
	}
}

// Join initiates membership by sending a `_join` to seed's router
// endpoint. Once the seed replies, this node merges the seed's own
// descriptor and fans `_connect` out to every other member of its
// reported cluster view, then invokes cb once. A failed per-peer connect
// is logged and that peer is dropped; Join still reports success as long
// as the seed itself replied. Calling Join before Start queues the call;
// it runs once Start completes.
func (n *Node) Join(seed Descriptor, cb func(error)) {
	if cb == nil {
		cb = func(error) {}
	}
	n.loop.Post(func() {
		if n.state == Stopped {
			n.pendingJoins = append(n.pendingJoins, func() { n.beginJoin(seed, cb) })
			return
		}
		n.beginJoin(seed, cb)
	})
}

func (n *Node) beginJoin(seed Descriptor, cb func(error)) {
	if n.state == Started {
		n.state = Joining
	}
	_ = n.trans.ConnectPeer(seed.ID, seed.Router, seed.Pub)

	msg := n.factory.New(wire.TypeJoin, seed.ID, dispatch.EncodeDescriptor(n.self()))
	raw, err := msg.Bytes()
	if err != nil {
		go cb(err)
		return
	}
	identity := n.trans.PeerIdentity(seed.ID, seed.Router)

	n.replies.RegisterSingle(msg.ID(), seed.ID, func(reply *wire.Message, replyErr error) {
		if replyErr != nil {
			go cb(replyErr)
			return
		}
		n.completeJoin(seed, reply, cb)
	})
	n.registerAck(msg.ID(), seed.ID, identity, raw, cluster.ReplyPolicy{})

	if err := n.trans.SendRouter(identity, raw); err != nil {
		go cb(err)
		return
	}
	n.metrics.MessagesSent.WithLabelValues(wire.TypeJoin).Inc()
}

func (n *Node) completeJoin(seed Descriptor, reply *wire.Message, cb func(error)) {
	data := reply.Data()
	if data == nil {
		go cb(ErrBadPayload)
		return
	}
	meRaw, _ := data["me"].(map[string]interface{})
	me := dispatch.DecodeDescriptorMap(seed.ID, meRaw)
	n.mergePeer(me)

	members, _ := data["cluster"].([]interface{})
	for _, raw := range members {
		asMap, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		peer := dispatch.DecodeDescriptorMap("", asMap)
		if peer.ID == "" || peer.ID == n.id || peer.ID == me.ID {
			continue
		}
		n.sendConnect(peer)
	}

	if n.state == Joining {
		n.state = Joined
	}
	n.bus.Emit("joined", me)
	go cb(nil)
}

func (n *Node) sendConnect(peer cluster.Descriptor) {
	_ = n.trans.ConnectPeer(peer.ID, peer.Router, peer.Pub)

	msg := n.factory.New(wire.TypeConnect, peer.ID, dispatch.EncodeDescriptor(n.self()))
	raw, err := msg.Bytes()
	if err != nil {
		n.log.WithError(err).WithField("peer", peer.ID).Warn("encode connect failed")
		return
	}
	identity := n.trans.PeerIdentity(peer.ID, peer.Router)

	n.replies.RegisterSingle(msg.ID(), peer.ID, func(reply *wire.Message, replyErr error) {
		if replyErr != nil {
			n.log.WithError(replyErr).WithField("peer", peer.ID).Warn("connect failed, dropping peer")
			return
		}
		remote := dispatch.DecodeDescriptorMap(peer.ID, reply.Data())
		n.mergePeer(remote)
	})
	n.registerAck(msg.ID(), peer.ID, identity, raw, cluster.ReplyPolicy{})

	if err := n.trans.SendRouter(identity, raw); err != nil {
		n.log.WithError(err).WithField("peer", peer.ID).Warn("connect send failed")
		return
	}
	n.metrics.MessagesSent.WithLabelValues(wire.TypeConnect).Inc()
}

func (n *Node) mergePeer(d cluster.Descriptor) {
	identity := n.trans.PeerIdentity(d.ID, d.Router)
	isNew := n.va.AddOrUpdate(d, identity, n.now())
	if isNew {
		n.bus.Emit("peer:added", d)
	}
}

func (n *Node) registerAck(msgID, peerID string, identity, raw []byte, policy cluster.ReplyPolicy) {
	retry := n.opts.RetryProfile
	base := retry.MinTimeout
	if policy.Period > 0 {
		base = policy.Period
	}
	attempts := retry.Retries
	if policy.Attempts > 0 {
		attempts = policy.Attempts
	}
	now := n.now()
	n.acks.Register(&pending.AckEntry{
		MessageID:    msgID,
		PeerID:       peerID,
		SentAt:       now,
		ExpiresAt:    now.Add(base),
		AttemptsLeft: attempts,
		Policy:       retry,
		Resend:       func() error { return n.trans.SendRouter(identity, raw) },
		OnGiveUp: func(err error) {
			n.replies.Fail(msgID, err)
		},
	})
}

func (n *Node) now() time.Time { return time.Now() }

// On registers handler for typ with the given reply policy. Reserved
// types (the `_`-prefixed protocol messages) may not be registered this
// way.
func (n *Node) On(typ string, opts SubscribeOptions, h Handler) error {
	if wire.IsReserved(typ) {
		return ErrReservedType
	}
	if h == nil {
		return nil
	}
	ptr := reflect.ValueOf(h).Pointer()
	// Handlers run off the loop goroutine: a handler that calls back into
	// Send/SendTo/Reply would otherwise deadlock, since those block on
	// loop.Send from the very goroutine that would need to drain it.
	wrapped := func(msg *wire.Message, identity []byte) {
		go h(fromEnvelope(msg, identity))
	}
	n.loop.Post(func() {
		n.handlers[typ] = append(n.handlers[typ], registeredHandler{ptr: ptr, policy: opts, wrapped: wrapped})
		n.subs.On(typ, opts, wrapped)
	})
	return nil
}

// Off removes one handler (typ and h both given), every handler for typ
// (h nil), or every handler for every type (typ empty).
func (n *Node) Off(typ string, h Handler) {
	n.loop.Post(func() {
		if typ == "" {
			n.handlers = make(map[string][]registeredHandler)
			n.subs.OffAll()
			return
		}
		if h == nil {
			delete(n.handlers, typ)
			n.subs.Off(typ, nil)
			return
		}
		target := reflect.ValueOf(h).Pointer()
		regs := n.handlers[typ]
		kept := regs[:0]
		for _, r := range regs {
			if r.ptr == target {
				continue
			}
			kept = append(kept, r)
		}
		n.handlers[typ] = kept
		n.subs.Off(typ, nil)
		for _, r := range kept {
			n.subs.On(typ, r.policy, r.wrapped)
		}
	})
}

// Send load-balances to one peer chosen uniformly at random from the
// peers advertising typ, failing synchronously with ErrNoSubscribers if
// none do.
func (n *Node) Send(typ string, data map[string]interface{}, cb ReplyCallback) error {
	if wire.IsReserved(typ) {
		return ErrReservedType
	}
	var outErr error
	n.loop.Send(func() {
		id, ok := n.view.PickForType(typ, n.rnd)
		if !ok {
			outErr = ErrNoSubscribers
			return
		}
		outErr = n.sendToLocked(id, typ, data, cb)
	})
	return outErr
}

// SendTo sends a direct message to id, failing synchronously with
// ErrUnknownPeer if id is not in the cluster view. If cb is non-nil a
// pending reply and pending ack are registered; otherwise the message is
// fire-and-forget.
func (n *Node) SendTo(id string, typ string, data map[string]interface{}, cb ReplyCallback) error {
	if wire.IsReserved(typ) {
		return ErrReservedType
	}
	var outErr error
	n.loop.Send(func() {
		outErr = n.sendToLocked(id, typ, data, cb)
	})
	return outErr
}

func (n *Node) sendToLocked(id string, typ string, data map[string]interface{}, cb ReplyCallback) error {
	rec, ok := n.view.Get(id)
	if !ok {
		return &PeerError{PeerID: id, Op: "sendTo", Err: ErrUnknownPeer}
	}
	msg := n.factory.New(typ, id, data)
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}
	if cb != nil {
		n.replies.RegisterSingle(msg.ID(), id, func(reply *wire.Message, replyErr error) {
			go cb(fromEnvelope(reply, nil), replyErr)
		})
		n.registerAck(msg.ID(), id, rec.Identity, raw, replyPolicyFor(rec, typ))
	}
	if err := n.trans.SendRouter(rec.Identity, raw); err != nil {
		return err
	}
	n.metrics.MessagesSent.WithLabelValues(typ).Inc()
	return nil
}

// replyPolicyFor applies the receiver's-policy-wins rule: the destination's
// own advertised {period, attempts} for typ overrides the sender's default
// retry profile, since the receiver knows its own latency.
func replyPolicyFor(rec *cluster.Record, typ string) cluster.ReplyPolicy {
	return rec.Descriptor.Messages[typ]
}

// SendAll broadcasts on the publish socket with dest = _all. If cb is
// non-nil it is registered as a reply stream, invoked once per arriving
// reply until the broadcast window elapses.
func (n *Node) SendAll(typ string, data map[string]interface{}, cb ReplyCallback) error {
	if wire.IsReserved(typ) {
		return ErrReservedType
	}
	n.loop.Post(func() {
		msg := n.factory.New(typ, wire.DestAll, data)
		raw, err := msg.Bytes()
		if err != nil {
			n.log.WithError(err).Warn("encode broadcast failed")
			return
		}
		if cb != nil {
			deadline := n.now().Add(n.opts.RetryProfile.MaxTimeout)
			n.replies.RegisterStream(msg.ID(), deadline, func(reply *wire.Message, replyErr error) {
				go cb(fromEnvelope(reply, nil), replyErr)
			})
		}
		if err := n.publish(raw); err != nil {
			n.log.WithError(err).Warn("broadcast send failed")
			return
		}
		n.metrics.MessagesSent.WithLabelValues(typ).Inc()
	})
	return nil
}

// Reply emits a `_reply` envelope answering original, addressed back to
// its sender. If cb is non-nil a further pending reply/ack is registered
// on the reply's own id, so a reply-to-a-reply completes the chain.
func (n *Node) Reply(original *Message, data map[string]interface{}, cb ReplyCallback) error {
	if original == nil {
		return ErrUnknownPeer
	}
	var outErr error
	n.loop.Send(func() {
		msg := n.factory.Reply(original.env, data)
		raw, err := msg.Bytes()
		if err != nil {
			outErr = err
			return
		}
		identity := original.identity
		if len(identity) == 0 {
			// A message delivered off a broadcast carries no router
			// identity; resolve it from the cluster view the way
			// nodeSender does, since PeerIdentity alone needs a router
			// endpoint the broadcast frame never carried.
			if rec, ok := n.view.Get(original.Src()); ok {
				identity = rec.Identity
			} else {
				identity = n.trans.PeerIdentity(original.Src(), "")
			}
		}
		if cb != nil {
			n.replies.RegisterSingle(msg.ID(), original.Src(), func(reply *wire.Message, replyErr error) {
				go cb(fromEnvelope(reply, nil), replyErr)
			})
			n.registerAck(msg.ID(), original.Src(), identity, raw, cluster.ReplyPolicy{})
		}
		if err := n.trans.SendRouter(identity, raw); err != nil {
			outErr = err
			return
		}
		n.metrics.MessagesSent.WithLabelValues(wire.TypeReply).Inc()
	})
	return outErr
}

// GetInfo returns this node's current descriptor.
func (n *Node) GetInfo() Descriptor {
	var d Descriptor
	n.loop.Send(func() { d = n.self() })
	return d
}

// Peers returns a snapshot of every peer currently in the cluster view.
func (n *Node) Peers() []Descriptor {
	var out []Descriptor
	n.loop.Send(func() { out = n.view.Snapshot() })
	return out
}

// State returns this node's current lifecycle state.
func (n *Node) State() State {
	var s State
	n.loop.Send(func() { s = n.state })
	return s
}

// OnEvent registers h for the named lifecycle event: "started", "stopped",
// "joined", "peer:added", or "peer:removed".
func (n *Node) OnEvent(name string, h func(interface{})) {
	// Wrapped the same way subscribe handlers are: bus.Emit runs from
	// inside the loop, so a handler calling back into a blocking Node
	// method needs its own goroutine to avoid deadlocking the loop it
	// is itself blocked waiting on.
	wrapped := func(payload interface{}) { go h(payload) }
	n.loop.Post(func() { n.bus.On(name, wrapped) })
}

// nodeSelf adapts Node to dispatch.SelfInfo without widening Node's public
// method set with a Self method embedders have no reason to call.
type nodeSelf struct{ n *Node }

func (s nodeSelf) Self() cluster.Descriptor { return s.n.self() }

// nodeSender adapts the cluster view and transport to dispatch.Sender:
// sends addressed by known cluster id resolve identity from the view;
// sends during the handshake, before a peer is known, carry identity
// directly.
type nodeSender struct {
	view  *cluster.View
	trans transport.Transport
}

func (s *nodeSender) SendToPeer(peerID string, identity []byte, msg *wire.Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}
	if len(identity) == 0 {
		rec, ok := s.view.Get(peerID)
		if !ok {
			return ErrUnknownPeer
		}
		identity = rec.Identity
	}
	return s.trans.SendRouter(identity, raw)
}

// metricsAckFulfiller adapts the pending-ack table to dispatch.AckFulfiller,
// observing round-trip latency on every fulfilled entry.
type metricsAckFulfiller struct {
	acks *pending.AckTable
	met  *metrics.Metrics
}

func (f *metricsAckFulfiller) Fulfill(parentID string) bool {
	elapsed, ok := f.acks.FulfillObserved(parentID, time.Now())
	if ok {
		f.met.AckLatency.Observe(elapsed.Seconds())
	}
	return ok
}

// viewAdapter adapts the cluster view to dispatch.ViewMutator, adding the
// transport connect/disconnect and pending-table cleanup side effects a
// membership change requires: connecting to a newly discovered peer's
// router and publish endpoints, and disconnecting plus failing any
// in-flight requests when a peer is removed.
type viewAdapter struct {
	view    *cluster.View
	trans   transport.Transport
	acks    *pending.AckTable
	replies *pending.ReplyTable
	met     *metrics.Metrics
	log     *logrus.Entry
}

func (a *viewAdapter) AddOrUpdate(d cluster.Descriptor, identity []byte, now time.Time) bool {
	isNew := a.view.AddOrUpdate(d, identity, now)
	if isNew {
		if err := a.trans.ConnectPeer(d.ID, d.Router, d.Pub); err != nil {
			a.log.WithError(err).WithField("peer", d.ID).Warn("connect peer failed")
		}
	}
	a.met.ClusterSize.Set(float64(a.view.Len()))
	return isNew
}

func (a *viewAdapter) Touch(id string, deadline time.Time) bool {
	return a.view.Touch(id, deadline)
}

func (a *viewAdapter) Get(id string) (*cluster.Record, bool) {
	return a.view.Get(id)
}

func (a *viewAdapter) Snapshot() []cluster.Descriptor {
	return a.view.Snapshot()
}

func (a *viewAdapter) Remove(id string) (*cluster.Record, bool) {
	rec, ok := a.view.Remove(id)
	if !ok {
		return nil, false
	}
	if err := a.trans.DisconnectPeer(id, rec.Descriptor.Router, rec.Descriptor.Pub); err != nil {
		a.log.WithError(err).WithField("peer", id).Warn("disconnect peer failed")
	}
	a.acks.DropForPeer(id, ErrPeerLost)
	a.replies.DropForPeer(id, ErrPeerLost)
	a.met.ClusterSize.Set(float64(a.view.Len()))
	return rec, true
}
