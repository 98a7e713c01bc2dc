package wire

import "github.com/google/uuid"

// Factory stamps defaults onto outbound envelopes: a fresh message id and
// the fixed source node id, merging the caller's body on top.
type Factory struct {
	src   string
	genID func() string
}

// NewFactory creates a factory that stamps src as the source of every
// envelope it builds.
func NewFactory(src string) *Factory {
	return &Factory{src: src, genID: func() string { return uuid.NewString() }}
}

// New builds an outbound envelope of the given type and destination,
// merging data as the envelope's "data" field. dest may be empty for a
// message whose destination is decided by the caller after the fact.
func (f *Factory) New(msgType, dest string, data map[string]interface{}) *Message {
	body := map[string]interface{}{
		"id":   f.genID(),
		"src":  f.src,
		"type": msgType,
	}
	if dest != "" {
		body["dest"] = dest
	}
	if data != nil {
		body["data"] = data
	}
	return FromBody(body)
}

// Reply builds a `_reply` envelope answering original, addressed back to
// its source and carrying parent = original.ID().
func (f *Factory) Reply(original *Message, data map[string]interface{}) *Message {
	msg := f.New(TypeReply, original.Src(), data)
	msg.Set("parent", original.ID())
	return msg
}

// Ack builds a `_ack` envelope acknowledging original.
func (f *Factory) Ack(original *Message) *Message {
	msg := f.New(TypeAck, original.Src(), nil)
	msg.Set("parent", original.ID())
	return msg
}

// BadPayload builds an error envelope reporting a malformed inbound message,
// addressed to dest (best-effort, only possible when framing still
// identifies a source).
func (f *Factory) BadPayload(dest string, reason string) *Message {
	return f.New("_bad_payload", dest, map[string]interface{}{"reason": reason})
}
