package protocol

import (
	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/slot"
)

// Message is the body of one frame.
type Message interface {
	Kind() Kind
}

// FullSnapshot carries every slot of an entity. Seq identifies the snapshot
// in the matching Ack.
type FullSnapshot struct {
	Entity entity.ID               `json:"entity"`
	Seq    uint64                  `json:"seq"`
	Slots  map[slot.ID]slot.Record `json:"slots"`
}

// IncrementalUpdate replaces or removes one slot.
type IncrementalUpdate struct {
	Entity  entity.ID    `json:"entity"`
	Slot    slot.ID      `json:"slot"`
	Removed bool         `json:"removed,omitempty"`
	Record  *slot.Record `json:"record,omitempty"`
}

// ComponentUpdate is a mirror's request to act on one component, such as a
// skill activation. The authority may reject it without reply.
type ComponentUpdate struct {
	Entity  entity.ID `json:"entity"`
	Slot    slot.ID   `json:"slot"`
	Tag     string    `json:"tag"`
	Payload []byte    `json:"payload,omitempty"`
}

// ConfigPush delivers an opaque configuration blob.
type ConfigPush struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Ack confirms a snapshot with the digest the mirror computed.
type Ack struct {
	Entity entity.ID `json:"entity"`
	Seq    uint64    `json:"seq"`
	Digest uint64    `json:"digest"`
}

func (*FullSnapshot) Kind() Kind      { return KindFullSnapshot }
func (*IncrementalUpdate) Kind() Kind { return KindIncremental }
func (*ComponentUpdate) Kind() Kind   { return KindComponentUpdate }
func (*ConfigPush) Kind() Kind        { return KindConfigPush }
func (*Ack) Kind() Kind               { return KindAck }

// bodyCodec sorts map keys, which makes encodings canonical.
var bodyCodec = sonic.ConfigStd

// Digest hashes the canonical encoding of a slot set. Both ends compute it
// independently to confirm a snapshot arrived intact.
func Digest(slots map[slot.ID]slot.Record) uint64 {
	if slots == nil {
		slots = map[slot.ID]slot.Record{}
	}
	data, err := bodyCodec.Marshal(slots)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

func newMessage(k Kind) (Message, bool) {
	switch k {
	case KindFullSnapshot:
		return &FullSnapshot{}, true
	case KindIncremental:
		return &IncrementalUpdate{}, true
	case KindComponentUpdate:
		return &ComponentUpdate{}, true
	case KindConfigPush:
		return &ConfigPush{}, true
	case KindAck:
		return &Ack{}, true
	default:
		return nil, false
	}
}
