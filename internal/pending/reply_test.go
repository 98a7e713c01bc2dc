package pending

import (
	"testing"
	"time"

	"github.com/jabolina/silk/internal/wire"
)

func TestReplyTable_SingleFiresOnceThenDrops(t *testing.T) {
	table := NewReplyTable()
	calls := 0
	table.RegisterSingle("req-1", "peer-a", func(msg *wire.Message, err error) { calls++ })

	reply := wire.FromBody(map[string]interface{}{"id": "r1", "src": "peer-a", "type": wire.TypeReply, "parent": "req-1"})
	if !table.Dispatch("req-1", reply) {
		t.Fatalf("expected dispatch to find the entry")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
	if table.Len() != 0 {
		t.Fatalf("expected single-reply entry to be dropped after dispatch")
	}
}

func TestReplyTable_StreamStaysOpenAcrossReplies(t *testing.T) {
	table := NewReplyTable()
	var order []string
	table.RegisterStream("req-1", time.Now().Add(time.Minute), func(msg *wire.Message, err error) {
		order = append(order, msg.Src())
	})

	replyFrom := func(src string) *wire.Message {
		return wire.FromBody(map[string]interface{}{"id": src + "-reply", "src": src, "type": wire.TypeReply, "parent": "req-1"})
	}
	table.Dispatch("req-1", replyFrom("b"))
	table.Dispatch("req-1", replyFrom("c"))

	if len(order) != 2 || order[0] != "b" || order[1] != "c" {
		t.Fatalf("expected replies delivered in arrival order, got %v", order)
	}
	if table.Len() != 1 {
		t.Fatalf("expected stream entry to remain open")
	}
}

func TestReplyTable_StreamExpires(t *testing.T) {
	table := NewReplyTable()
	table.RegisterStream("req-1", time.Now().Add(-time.Second), func(msg *wire.Message, err error) {})
	table.ExpireBefore(time.Now())
	if table.Len() != 0 {
		t.Fatalf("expected expired stream to be dropped")
	}
}

func TestReplyTable_DropForPeer(t *testing.T) {
	table := NewReplyTable()
	var got error
	table.RegisterSingle("req-1", "peer-a", func(msg *wire.Message, err error) { got = err })
	table.DropForPeer("peer-a", ErrPeerLost)
	if got != ErrPeerLost {
		t.Fatalf("expected ErrPeerLost, got %v", got)
	}
	if table.Len() != 0 {
		t.Fatalf("expected entry dropped")
	}
}

func TestReplyTable_AddCallbackChainsReplyToReply(t *testing.T) {
	table := NewReplyTable()
	var calls []string
	table.RegisterSingle("req-1", "peer-a", func(msg *wire.Message, err error) { calls = append(calls, "first") })
	if !table.AddCallback("req-1", func(msg *wire.Message, err error) { calls = append(calls, "second") }) {
		t.Fatalf("expected AddCallback to find the entry")
	}

	reply := wire.FromBody(map[string]interface{}{"id": "r1", "src": "peer-a", "type": wire.TypeReply, "parent": "req-1"})
	table.Dispatch("req-1", reply)

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("expected both callbacks to fire in registration order, got %v", calls)
	}
}
