// Package subscribe holds the per-type user handler registry: the
// subscription table that replaces an event-emitter-as-router, storing each
// handler together with the reply policy it advertises for its type.
package subscribe

import (
	"reflect"

	"github.com/jabolina/silk/internal/cluster"
	"github.com/jabolina/silk/internal/wire"
)

// Handler processes one inbound application message. identity is the
// transport identity of the sender, carried along so a reply can be
// addressed directly without a cluster-view lookup.
type Handler func(msg *wire.Message, identity []byte)

type registration struct {
	handler Handler
	ptr     uintptr
}

// Table is the subscription registry: an ordered list of handlers per
// type, plus the reply policy this node advertises for that type. Table is
// not safe for concurrent use; per the engine's single-writer model, it
// must only be accessed from the owning node's event loop.
type Table struct {
	byType   map[string][]registration
	policies map[string]cluster.ReplyPolicy
}

// New creates an empty subscription table.
func New() *Table {
	return &Table{
		byType:   make(map[string][]registration),
		policies: make(map[string]cluster.ReplyPolicy),
	}
}

// On registers a handler for typ with the given reply policy.
func (t *Table) On(typ string, policy cluster.ReplyPolicy, h Handler) {
	t.byType[typ] = append(t.byType[typ], registration{handler: h, ptr: funcPtr(h)})
	t.policies[typ] = policy
}

// Off removes handlers for typ. If h is nil, every handler for typ is
// removed and the type is withdrawn. Otherwise only the handler matching h
// by identity is removed. It reports whether typ has no handlers left.
func (t *Table) Off(typ string, h Handler) (withdrawn bool) {
	if h == nil {
		delete(t.byType, typ)
		delete(t.policies, typ)
		return true
	}
	regs := t.byType[typ]
	target := funcPtr(h)
	out := regs[:0]
	for _, r := range regs {
		if r.ptr == target {
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		delete(t.byType, typ)
		delete(t.policies, typ)
		return true
	}
	t.byType[typ] = out
	return false
}

// OffAll clears every handler and every type, as on Stop.
func (t *Table) OffAll() {
	t.byType = make(map[string][]registration)
	t.policies = make(map[string]cluster.ReplyPolicy)
}

// Types returns every currently subscribed type, used to build this node's
// advertised Messages map.
func (t *Table) Types() []string {
	out := make([]string, 0, len(t.byType))
	for typ := range t.byType {
		out = append(out, typ)
	}
	return out
}

// Policy returns the reply policy advertised for typ.
func (t *Table) Policy(typ string) (cluster.ReplyPolicy, bool) {
	p, ok := t.policies[typ]
	return p, ok
}

// Dispatch invokes every handler registered for the message's type,
// returning how many ran.
func (t *Table) Dispatch(msg *wire.Message, identity []byte) int {
	regs := t.byType[msg.Type()]
	for _, r := range regs {
		r.handler(msg, identity)
	}
	return len(regs)
}

// funcPtr extracts a stable identity for a func value so Off can find the
// matching registration; it only matches the exact func value passed to
// On, not a separately-created closure with equivalent behavior - the same
// caveat as any reflect-based event emitter.
func funcPtr(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}
