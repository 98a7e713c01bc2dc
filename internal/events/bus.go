// Package events is a small synchronous fan-out list used for the node's
// lifecycle notifications (started, stopped, joined, peer:added,
// peer:removed). It is a stand-in for the event-emitter pattern the
// subscription table otherwise replaces for application message types.
package events

// Bus is not safe for concurrent use; per the engine's single-writer
// model, it must only be driven from the owning node's event loop.
type Bus struct {
	handlers map[string][]func(interface{})
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]func(interface{}))}
}

// On registers a handler for name.
func (b *Bus) On(name string, h func(interface{})) {
	b.handlers[name] = append(b.handlers[name], h)
}

// Emit invokes every handler registered for name, in registration order.
func (b *Bus) Emit(name string, payload interface{}) {
	for _, h := range b.handlers[name] {
		h(payload)
	}
}
