package dispatch

import (
	"testing"
	"time"

	"github.com/jabolina/silk/internal/cluster"
	"github.com/jabolina/silk/internal/wire"
)

type fakeSender struct {
	sent []*wire.Message
}

func (f *fakeSender) SendToPeer(peerID string, identity []byte, msg *wire.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

type fakeAcks struct{ fulfilled []string }

func (f *fakeAcks) Fulfill(parentID string) bool {
	f.fulfilled = append(f.fulfilled, parentID)
	return true
}

type fakeReplies struct{ dispatched []string }

func (f *fakeReplies) Dispatch(parentID string, msg *wire.Message) bool {
	f.dispatched = append(f.dispatched, parentID)
	return true
}

type fakeSubs struct {
	calls    int
	policies map[string]cluster.ReplyPolicy
}

func (f *fakeSubs) Dispatch(msg *wire.Message, identity []byte) int {
	f.calls++
	return 1
}

func (f *fakeSubs) Policy(typ string) (cluster.ReplyPolicy, bool) {
	p, ok := f.policies[typ]
	return p, ok
}

type fakeSelf struct{ d cluster.Descriptor }

func (f fakeSelf) Self() cluster.Descriptor { return f.d }

type fakeEvents struct{ emitted []string }

func (f *fakeEvents) Emit(name string, payload interface{}) {
	f.emitted = append(f.emitted, name)
}

func fixedNow() time.Time { return time.Unix(1000, 0) }

func newDispatcher(view ViewMutator, sender *fakeSender, acks *fakeAcks, replies *fakeReplies, subs *fakeSubs, events *fakeEvents, policy AckPolicy) *Dispatcher {
	self := fakeSelf{d: cluster.Descriptor{ID: "self", Name: "self-node"}}
	factory := wire.NewFactory("self")
	return New(view, acks, replies, subs, self, events, sender, factory, policy, fixedNow)
}

func joinMessage(peerID string) *wire.Message {
	factory := wire.NewFactory(peerID)
	return factory.New(wire.TypeJoin, "self", map[string]interface{}{
		"name":   "peer-node",
		"router": "tcp://peer:5000",
	})
}

func TestDispatcher_JoinMergesRepliesAndAcks(t *testing.T) {
	view := cluster.New()
	sender := &fakeSender{}
	events := &fakeEvents{}
	d := newDispatcher(view, sender, &fakeAcks{}, &fakeReplies{}, &fakeSubs{}, events, AckPolicy{AckAll: true})

	d.Handle([]byte("identity-1"), joinMessage("peer-1"))

	if view.Len() != 1 {
		t.Fatalf("expected peer to be merged into the view, got %d", view.Len())
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected a reply and an ack to be sent, got %d messages", len(sender.sent))
	}
	if sender.sent[0].Type() != wire.TypeReply {
		t.Fatalf("expected first sent message to be a reply, got %s", sender.sent[0].Type())
	}
	if sender.sent[1].Type() != wire.TypeAck {
		t.Fatalf("expected second sent message to be an ack, got %s", sender.sent[1].Type())
	}
	foundJoined := false
	for _, e := range events.emitted {
		if e == "joined" {
			foundJoined = true
		}
	}
	if !foundJoined {
		t.Fatalf("expected a joined event to be emitted, got %v", events.emitted)
	}
}

func TestDispatcher_ConnectMergesWithoutJoinedEvent(t *testing.T) {
	view := cluster.New()
	sender := &fakeSender{}
	events := &fakeEvents{}
	d := newDispatcher(view, sender, &fakeAcks{}, &fakeReplies{}, &fakeSubs{}, events, AckPolicy{AckAll: true})

	factory := wire.NewFactory("peer-1")
	connect := factory.New(wire.TypeConnect, "self", map[string]interface{}{"name": "peer-node"})
	d.Handle([]byte("identity-1"), connect)

	for _, e := range events.emitted {
		if e == "joined" {
			t.Fatalf("expected _connect not to emit joined")
		}
	}
	if view.Len() != 1 {
		t.Fatalf("expected peer to be merged via _connect")
	}
}

func TestDispatcher_LeaveRemovesPeerWithoutAckOrReply(t *testing.T) {
	view := cluster.New()
	view.AddOrUpdate(cluster.Descriptor{ID: "peer-1"}, []byte("identity-1"), fixedNow())
	sender := &fakeSender{}
	events := &fakeEvents{}
	d := newDispatcher(view, sender, &fakeAcks{}, &fakeReplies{}, &fakeSubs{}, events, AckPolicy{AckAll: true})

	factory := wire.NewFactory("peer-1")
	leave := factory.New(wire.TypeLeave, "self", nil)
	d.Handle([]byte("identity-1"), leave)

	if view.Len() != 0 {
		t.Fatalf("expected peer to be removed on leave")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no reply or ack to be sent for a leave, got %d", len(sender.sent))
	}
}

func TestDispatcher_KeepaliveTouchesKnownPeerOnly(t *testing.T) {
	view := cluster.New()
	view.AddOrUpdate(cluster.Descriptor{ID: "peer-1", Keepalive: cluster.KeepaliveOptions{Period: time.Second}}, []byte("identity-1"), fixedNow())
	d := newDispatcher(view, &fakeSender{}, &fakeAcks{}, &fakeReplies{}, &fakeSubs{}, &fakeEvents{}, AckPolicy{AckAll: true})

	factory := wire.NewFactory("peer-1")
	ka := factory.New(wire.TypeKeepalive, "self", nil)
	d.Handle(nil, ka)

	rec, _ := view.Get("peer-1")
	if !rec.LastSeenDeadline.After(fixedNow()) {
		t.Fatalf("expected keepalive to push the deadline forward")
	}

	unknown := wire.NewFactory("ghost").New(wire.TypeKeepalive, "self", nil)
	d.Handle(nil, unknown)
}

func TestDispatcher_AckFulfillsPendingEntry(t *testing.T) {
	acks := &fakeAcks{}
	d := newDispatcher(cluster.New(), &fakeSender{}, acks, &fakeReplies{}, &fakeSubs{}, &fakeEvents{}, AckPolicy{AckAll: true})

	original := wire.NewFactory("peer-1").New("work", "self", nil)
	ackMsg := wire.NewFactory("peer-1").Ack(original)
	d.Handle(nil, ackMsg)

	if len(acks.fulfilled) != 1 || acks.fulfilled[0] != original.ID() {
		t.Fatalf("expected ack to fulfill the original message id, got %v", acks.fulfilled)
	}
}

func TestDispatcher_ReplyDispatchesToPendingTable(t *testing.T) {
	replies := &fakeReplies{}
	d := newDispatcher(cluster.New(), &fakeSender{}, &fakeAcks{}, replies, &fakeSubs{}, &fakeEvents{}, AckPolicy{AckAll: true})

	original := wire.NewFactory("peer-1").New("work", "self", nil)
	replyMsg := wire.NewFactory("peer-1").Reply(original, nil)
	d.Handle(nil, replyMsg)

	if len(replies.dispatched) != 1 || replies.dispatched[0] != original.ID() {
		t.Fatalf("expected reply to dispatch against the original message id, got %v", replies.dispatched)
	}
}

func TestDispatcher_ApplicationMessageDeliversAndAcksByDefault(t *testing.T) {
	subs := &fakeSubs{policies: map[string]cluster.ReplyPolicy{}}
	sender := &fakeSender{}
	d := newDispatcher(cluster.New(), sender, &fakeAcks{}, &fakeReplies{}, subs, &fakeEvents{}, AckPolicy{AckAll: true})

	msg := wire.NewFactory("peer-1").New("work", "self", map[string]interface{}{"n": 1.0})
	d.Handle([]byte("identity-1"), msg)

	if subs.calls != 1 {
		t.Fatalf("expected subscription table to be invoked once")
	}
	if len(sender.sent) != 1 || sender.sent[0].Type() != wire.TypeAck {
		t.Fatalf("expected an ack to be sent by default, got %v", sender.sent)
	}
}

func TestDispatcher_ApplicationMessageExcludedFromAckAll(t *testing.T) {
	sender := &fakeSender{}
	policy := AckPolicy{AckAll: true, Exclude: map[string]struct{}{"fire-and-forget": {}}}
	d := newDispatcher(cluster.New(), sender, &fakeAcks{}, &fakeReplies{}, &fakeSubs{}, &fakeEvents{}, policy)

	msg := wire.NewFactory("peer-1").New("fire-and-forget", "self", nil)
	d.Handle(nil, msg)

	if len(sender.sent) != 0 {
		t.Fatalf("expected excluded type not to be acked, got %v", sender.sent)
	}
}

func TestDispatcher_ApplicationMessageAckOnlyAllowlist(t *testing.T) {
	sender := &fakeSender{}
	policy := AckPolicy{AckAll: false, Include: map[string]struct{}{"important": {}}}
	d := newDispatcher(cluster.New(), sender, &fakeAcks{}, &fakeReplies{}, &fakeSubs{}, &fakeEvents{}, policy)

	d.Handle(nil, wire.NewFactory("peer-1").New("important", "self", nil))
	if len(sender.sent) != 1 {
		t.Fatalf("expected allowlisted type to be acked, got %d", len(sender.sent))
	}

	d.Handle(nil, wire.NewFactory("peer-1").New("other", "self", nil))
	if len(sender.sent) != 1 {
		t.Fatalf("expected non-allowlisted type to remain unacked, got %d", len(sender.sent))
	}
}
