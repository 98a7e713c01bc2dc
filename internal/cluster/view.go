// Package cluster maintains a node's local view of cluster membership: a
// dual-indexed registry of known peers, by id and by advertised message
// type. View is not safe for concurrent use; per the engine's single-writer
// model, it must only be accessed from the owning node's event loop.
package cluster

import (
	"math/rand"
	"time"
)

// ReplyPolicy describes the advertised reply deadline and retry budget a
// node offers for one message type.
type ReplyPolicy struct {
	Period   time.Duration
	Attempts int
}

// KeepaliveOptions configures a node's heartbeat cadence.
type KeepaliveOptions struct {
	Period time.Duration
}

// Descriptor is a node's identity and advertised capabilities: the
// information gossiped during the handshake and keepalive.
type Descriptor struct {
	ID        string
	Name      string
	Router    string
	Pub       string
	Keepalive KeepaliveOptions
	Messages  map[string]ReplyPolicy
	Headers   map[string]string
}

// Clone returns a deep copy safe to hand to a goroutine outside the loop.
func (d Descriptor) Clone() Descriptor {
	out := d
	if d.Messages != nil {
		out.Messages = make(map[string]ReplyPolicy, len(d.Messages))
		for k, v := range d.Messages {
			out.Messages[k] = v
		}
	}
	if d.Headers != nil {
		out.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// Record is a peer's entry in the cluster view.
type Record struct {
	Descriptor       Descriptor
	Identity         []byte
	LastSeenDeadline time.Time
}

// View is the id-indexed and type-indexed registry of known peers.
type View struct {
	byID   map[string]*Record
	byType map[string]map[string]struct{}
}

// New creates an empty cluster view.
func New() *View {
	return &View{
		byID:   make(map[string]*Record),
		byType: make(map[string]map[string]struct{}),
	}
}

// AddOrUpdate upserts a peer record for the given descriptor, refreshing
// its keepalive deadline and re-indexing its advertised message types. It
// reports whether the peer was previously unknown.
func (v *View) AddOrUpdate(d Descriptor, identity []byte, now time.Time) bool {
	existing, known := v.byID[d.ID]
	if known {
		v.unindexTypes(d.ID, existing.Descriptor.Messages)
	}
	rec := &Record{
		Descriptor:       d.Clone(),
		Identity:         identity,
		LastSeenDeadline: now.Add(keepaliveOrDefault(d.Keepalive.Period)),
	}
	v.byID[d.ID] = rec
	v.indexTypes(d.ID, d.Messages)
	return !known
}

// Touch refreshes a known peer's keepalive deadline without otherwise
// changing its record. It reports whether the peer was known.
func (v *View) Touch(id string, deadline time.Time) bool {
	rec, ok := v.byID[id]
	if !ok {
		return false
	}
	rec.LastSeenDeadline = deadline
	return true
}

// Remove deletes a peer from both indices and returns its last known
// record.
func (v *View) Remove(id string) (*Record, bool) {
	rec, ok := v.byID[id]
	if !ok {
		return nil, false
	}
	v.unindexTypes(id, rec.Descriptor.Messages)
	delete(v.byID, id)
	return rec, true
}

// Get looks up a peer record by id.
func (v *View) Get(id string) (*Record, bool) {
	rec, ok := v.byID[id]
	return rec, ok
}

// PickForType chooses a peer uniformly at random from the set of ids
// advertising typ. It reports false if no peer advertises it.
func (v *View) PickForType(typ string, rnd *rand.Rand) (string, bool) {
	set, ok := v.byType[typ]
	if !ok || len(set) == 0 {
		return "", false
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids[rnd.Intn(len(ids))], true
}

// Snapshot returns a deep copy of every known descriptor, suitable for
// gossiping to a peer or handing to an embedder.
func (v *View) Snapshot() []Descriptor {
	out := make([]Descriptor, 0, len(v.byID))
	for _, rec := range v.byID {
		out = append(out, rec.Descriptor.Clone())
	}
	return out
}

// ExpireBefore removes and returns every peer whose keepalive deadline has
// elapsed as of now.
func (v *View) ExpireBefore(now time.Time) []*Record {
	var expired []*Record
	for id, rec := range v.byID {
		if rec.LastSeenDeadline.Before(now) {
			v.unindexTypes(id, rec.Descriptor.Messages)
			delete(v.byID, id)
			expired = append(expired, rec)
		}
	}
	return expired
}

// Len returns the number of known peers.
func (v *View) Len() int { return len(v.byID) }

func (v *View) indexTypes(id string, messages map[string]ReplyPolicy) {
	for typ := range messages {
		set, ok := v.byType[typ]
		if !ok {
			set = make(map[string]struct{})
			v.byType[typ] = set
		}
		set[id] = struct{}{}
	}
}

func (v *View) unindexTypes(id string, messages map[string]ReplyPolicy) {
	for typ := range messages {
		set, ok := v.byType[typ]
		if !ok {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(v.byType, typ)
		}
	}
}

func keepaliveOrDefault(period time.Duration) time.Duration {
	if period <= 0 {
		return 5 * time.Second
	}
	return period
}
