package silk_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jabolina/silk"
	"github.com/jabolina/silk/internal/cluster"
	"github.com/jabolina/silk/internal/pending"
	"github.com/jabolina/silk/internal/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func startNode(t *testing.T, addr string, opts silk.Options) (*silk.Node, *transport.MemoryTransport) {
	t.Helper()
	trans := transport.NewMemoryTransport(addr)
	n := silk.NewWithTransport(opts, trans)
	require.NoError(t, n.Start())
	return n, trans
}

func joinSeed(t *testing.T, joiner, seed *silk.Node) {
	t.Helper()
	info := seed.GetInfo()
	done := make(chan error, 1)
	joiner.Join(silk.Descriptor{ID: info.ID, Router: info.Router, Pub: info.Pub}, func(err error) {
		done <- err
	})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("join did not complete in time")
	}
}

func waitForPeerCount(t *testing.T, n *silk.Node, count int, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if len(n.Peers()) >= count {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("node never reached %d peers, has %d", count, len(n.Peers()))
}

// TestTwoNodeHandshake covers the join handshake: after node B joins node A,
// each has the other in its cluster view.
func TestTwoNodeHandshake(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, _ := startNode(t, "mem://handshake-a", silk.Options{})
	b, _ := startNode(t, "mem://handshake-b", silk.Options{})
	defer a.Stop()
	defer b.Stop()

	joinSeed(t, b, a)

	waitForPeerCount(t, a, 1, time.Second)
	waitForPeerCount(t, b, 1, time.Second)

	aInfo := a.GetInfo()
	bInfo := b.GetInfo()
	require.Equal(t, bInfo.ID, a.Peers()[0].ID)
	require.Equal(t, aInfo.ID, b.Peers()[0].ID)
}

// TestRequestReply covers direct send/reply: the reply arrives at the
// caller's callback carrying the handler's payload.
func TestRequestReply(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, _ := startNode(t, "mem://rr-a", silk.Options{RetryProfile: pending.FastRetry})
	b, _ := startNode(t, "mem://rr-b", silk.Options{RetryProfile: pending.FastRetry})
	defer a.Stop()
	defer b.Stop()
	joinSeed(t, b, a)
	waitForPeerCount(t, a, 1, time.Second)

	require.NoError(t, b.On("echo", silk.SubscribeOptions{}, func(msg *silk.Message) {
		data := msg.Data()
		_ = b.Reply(msg, map[string]interface{}{"echo": data["value"]}, nil)
	}))

	done := make(chan *silk.Message, 1)
	err := a.SendTo(b.GetInfo().ID, "echo", map[string]interface{}{"value": "hi"}, func(msg *silk.Message, replyErr error) {
		require.NoError(t, replyErr)
		done <- msg
	})
	require.NoError(t, err)

	select {
	case msg := <-done:
		require.Equal(t, "hi", msg.Data()["echo"])
	case <-time.After(2 * time.Second):
		t.Fatal("reply never arrived")
	}
}

// TestLoadBalanceDistribution covers Send's load-balancing across every
// peer advertising a type: 300 sends against 3 subscribers should land
// roughly a third each.
func TestLoadBalanceDistribution(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, _ := startNode(t, "mem://lb-a", silk.Options{RetryProfile: pending.FastRetry})
	defer a.Stop()

	var counts [3]int64
	peers := make([]*silk.Node, 3)
	for i := 0; i < 3; i++ {
		idx := i
		p, _ := startNode(t, fmt.Sprintf("mem://lb-p%d", i), silk.Options{RetryProfile: pending.FastRetry})
		defer p.Stop()
		require.NoError(t, p.On("work", silk.SubscribeOptions{}, func(msg *silk.Message) {
			atomic.AddInt64(&counts[idx], 1)
		}))
		peers[i] = p
		joinSeed(t, p, a)
	}
	waitForPeerCount(t, a, 3, time.Second)

	const total = 300
	for i := 0; i < total; i++ {
		require.NoError(t, a.Send("work", nil, nil))
	}

	require.Eventually(t, func() bool {
		var sum int64
		for i := range counts {
			sum += atomic.LoadInt64(&counts[i])
		}
		return sum == total
	}, 2*time.Second, 10*time.Millisecond)

	for i := range counts {
		c := atomic.LoadInt64(&counts[i])
		require.GreaterOrEqual(t, c, int64(75), "peer %d got %d", i, c)
		require.LessOrEqual(t, c, int64(125), "peer %d got %d", i, c)
	}
}

// TestBroadcastArrivesAtEveryPeer covers SendAll: a broadcast reaches every
// subscriber and the sender's reply-stream callback fires once per reply.
func TestBroadcastArrivesAtEveryPeer(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, _ := startNode(t, "mem://bc-a", silk.Options{RetryProfile: pending.FastRetry})
	defer a.Stop()

	b, _ := startNode(t, "mem://bc-b", silk.Options{RetryProfile: pending.FastRetry})
	defer b.Stop()
	c, _ := startNode(t, "mem://bc-c", silk.Options{RetryProfile: pending.FastRetry})
	defer c.Stop()

	for _, p := range []*silk.Node{b, c} {
		require.NoError(t, p.On("announce", silk.SubscribeOptions{}, func(msg *silk.Message) {
			_ = p.Reply(msg, map[string]interface{}{"ack": true}, nil)
		}))
		joinSeed(t, p, a)
	}
	waitForPeerCount(t, a, 2, time.Second)

	var mu sync.Mutex
	var replies int
	require.NoError(t, a.SendAll("announce", nil, func(msg *silk.Message, err error) {
		mu.Lock()
		replies++
		mu.Unlock()
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return replies >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

// TestFailureDetection covers keepalive-based liveness: a peer that vanishes
// without a graceful leave is pruned from the view within a few keepalive
// periods.
func TestFailureDetection(t *testing.T) {
	defer goleak.VerifyNone(t)

	period := 30 * time.Millisecond
	a, _ := startNode(t, "mem://fd-a", silk.Options{Keepalive: cluster.KeepaliveOptions{Period: period}})
	defer a.Stop()
	b, bTrans := startNode(t, "mem://fd-b", silk.Options{Keepalive: cluster.KeepaliveOptions{Period: period}})
	defer b.Stop()

	joinSeed(t, b, a)
	waitForPeerCount(t, a, 1, time.Second)

	var removed int32
	a.OnEvent("peer:removed", func(payload interface{}) {
		atomic.StoreInt32(&removed, 1)
	})

	// Simulate an ungraceful failure: close the transport directly, never
	// going through Stop, so no `_leave` is ever sent.
	_ = bTrans.Close()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&removed) == 1 && len(a.Peers()) == 0
	}, 3*period+500*time.Millisecond, 10*time.Millisecond)
}

// TestGracefulLeave covers the `_leave` broadcast: a peer that stops cleanly
// is removed from the other's view immediately, with no detection timeout
// needed.
func TestGracefulLeave(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, _ := startNode(t, "mem://leave-a", silk.Options{})
	defer a.Stop()
	b, _ := startNode(t, "mem://leave-b", silk.Options{})

	joinSeed(t, b, a)
	waitForPeerCount(t, a, 1, time.Second)

	require.NoError(t, b.Stop())

	require.Eventually(t, func() bool {
		return len(a.Peers()) == 0
	}, time.Second, 5*time.Millisecond)
}
