// Package loop implements the single logical event loop that owns a node's
// mutable state. Every mutation - inbound socket events, timer ticks, and
// user API calls from other goroutines - is forwarded onto this loop as a
// closure, so the core data structures never need locks.
package loop

// mailboxSize bounds the common fast path: Post enqueues without spawning a
// goroutine as long as the mailbox has room, preserving per-caller
// ordering. Only once the mailbox is full does Post fall back to a
// goroutine, which can reorder relative to other blocked posters - an
// acceptable, rare edge case under sustained overload.
const mailboxSize = 256

// Loop is a single-goroutine executor: every posted function runs
// serially, in the order it was accepted onto the mailbox.
type Loop struct {
	mailbox chan func()
	done    chan struct{}
}

// New creates a loop. Call Start to begin draining it.
func New() *Loop {
	return &Loop{
		mailbox: make(chan func(), mailboxSize),
		done:    make(chan struct{}),
	}
}

// Start begins draining the mailbox on a new goroutine. It returns
// immediately.
func (l *Loop) Start() {
	go l.run()
}

func (l *Loop) run() {
	for {
		select {
		case f := <-l.mailbox:
			f()
		case <-l.done:
			return
		}
	}
}

// Post enqueues f to run on the loop goroutine and returns immediately
// without waiting for it to execute.
func (l *Loop) Post(f func()) {
	select {
	case l.mailbox <- f:
	case <-l.done:
	default:
		go func() {
			select {
			case l.mailbox <- f:
			case <-l.done:
			}
		}()
	}
}

// Send enqueues f and blocks until it has run, for callers that need a
// synchronous result (e.g. a synchronous UnknownPeer/NoSubscribers check).
// If the loop has already stopped, Send returns without running f.
func (l *Loop) Send(f func()) {
	done := make(chan struct{})
	l.Post(func() {
		f()
		close(done)
	})
	select {
	case <-done:
	case <-l.done:
	}
}

// Stop halts the loop. Already-queued functions that have not yet run are
// discarded. Idempotent.
func (l *Loop) Stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}
