// Package wire implements the envelope format exchanged between Silk nodes:
// a tagged JSON object carrying at most one authoritative representation at
// a time, either the decoded structured body or the encoded byte buffer.
package wire

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

// Reserved message types. Any type starting with the reserved prefix is a
// protocol message and may only be emitted by the engine itself.
const (
	ReservedPrefix = "_"

	TypeJoin      = "_join"
	TypeConnect   = "_connect"
	TypeLeave     = "_leave"
	TypeKeepalive = "_ka"
	TypeReply     = "_reply"
	TypeAck       = "_ack"
	TypeHandshake = "_handshake"

	// DestAll is the sentinel destination for a cluster broadcast.
	DestAll = "_all"
)

// IsReserved reports whether typ belongs to the protocol namespace.
func IsReserved(typ string) bool {
	return strings.HasPrefix(typ, ReservedPrefix)
}

// ErrMalformed is returned by Parse when a buffer cannot be decoded into an
// envelope, or is missing a required field.
var ErrMalformed = errors.New("wire: malformed envelope")

// Message is a tagged envelope. It holds either a decoded structured body
// (a map navigable by dotted path) or a raw JSON buffer; the other
// representation is computed lazily on first access and cached.
type Message struct {
	mu   sync.Mutex
	raw  []byte
	body map[string]interface{}
}

// FromBody wraps an already-structured envelope body. The body is not
// copied; callers must not mutate it after the call.
func FromBody(body map[string]interface{}) *Message {
	return &Message{body: body}
}

// Parse decodes raw bytes into an envelope and validates that the required
// `id` and `src` fields are present. It returns ErrMalformed on any failure.
func Parse(raw []byte) (*Message, error) {
	m := &Message{raw: raw}
	if err := m.decode(); err != nil {
		return nil, ErrMalformed
	}
	if m.stringField("id") == "" || m.stringField("src") == "" {
		return nil, ErrMalformed
	}
	return m, nil
}

func (m *Message) decode() error {
	if m.body != nil {
		return nil
	}
	if len(m.raw) == 0 {
		return ErrMalformed
	}
	var body map[string]interface{}
	if err := json.Unmarshal(m.raw, &body); err != nil {
		return err
	}
	m.body = body
	return nil
}

// Bytes returns the JSON-encoded form of the envelope, marshalling from the
// structured body and caching the result if it is not already cached.
func (m *Message) Bytes() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raw != nil {
		return m.raw, nil
	}
	if err := m.decode(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(m.body)
	if err != nil {
		return nil, err
	}
	m.raw = b
	return b, nil
}

func (m *Message) stringField(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.decode(); err != nil {
		return ""
	}
	v, _ := m.body[key].(string)
	return v
}

// ID returns the envelope's unique message id.
func (m *Message) ID() string { return m.stringField("id") }

// Src returns the originating node id.
func (m *Message) Src() string { return m.stringField("src") }

// Dest returns the target id, or DestAll for a broadcast.
func (m *Message) Dest() string { return m.stringField("dest") }

// Type returns the message type, with the reserved prefix intact for
// protocol messages.
func (m *Message) Type() string { return m.stringField("type") }

// Parent returns the id of the message this one answers, if any.
func (m *Message) Parent() string { return m.stringField("parent") }

// Get navigates a dotted path (e.g. "data.gauge") into the structured body,
// returning ok=false rather than failing when an intermediate step is
// missing.
func (m *Message) Get(path string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.decode(); err != nil {
		return nil, false
	}
	var cur interface{} = m.body
	for _, part := range strings.Split(path, ".") {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = asMap[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at the dotted path, creating intermediate maps as
// needed, and invalidates any cached byte encoding.
func (m *Message) Set(path string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.decode()
	if m.body == nil {
		m.body = map[string]interface{}{}
	}
	parts := strings.Split(path, ".")
	cur := m.body
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
	m.raw = nil
}

// Data returns the "data" sub-object, or nil if absent or not an object.
func (m *Message) Data() map[string]interface{} {
	v, ok := m.Get("data")
	if !ok {
		return nil
	}
	asMap, _ := v.(map[string]interface{})
	return asMap
}
