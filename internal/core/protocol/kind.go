// Package protocol implements the authority/mirror synchronization of
// installed slots: message kinds, framing, rate limiting, prioritized
// outboxes and the two endpoints.
package protocol

import (
	"fmt"
	"time"
)

// Kind tags a frame. The high bit of the tag byte is reserved for the
// compression flag.
type Kind uint8

const (
	KindFullSnapshot    Kind = 1
	KindIncremental     Kind = 2
	KindComponentUpdate Kind = 3
	KindConfigPush      Kind = 4
	KindAck             Kind = 5
)

// Spec holds the per-kind limits.
type Spec struct {
	// MaxSize bounds the encoded frame, header included.
	MaxSize int
	// MinInterval is the shortest spacing between two messages of this kind
	// for the same rate-limit key.
	MinInterval time.Duration
	// Priority orders outbox draining; higher goes first.
	Priority    int
	AckRequired bool
}

var specs = map[Kind]Spec{
	KindFullSnapshot:    {MaxSize: 1 << 20, MinInterval: time.Second, Priority: 3, AckRequired: true},
	KindIncremental:     {MaxSize: 64 << 10, MinInterval: 50 * time.Millisecond, Priority: 2},
	KindComponentUpdate: {MaxSize: 4 << 10, MinInterval: 100 * time.Millisecond, Priority: 1},
	KindConfigPush:      {MaxSize: 256 << 10, MinInterval: 5 * time.Second, Priority: 0},
	KindAck:             {MaxSize: 64, MinInterval: 0, Priority: 4},
}

// MaxFrameSize is the largest frame of any kind.
const MaxFrameSize = 1 << 20

func (k Kind) Spec() (Spec, bool) {
	s, ok := specs[k]
	return s, ok
}

func (k Kind) Valid() bool {
	_, ok := specs[k]
	return ok
}

func (k Kind) String() string {
	switch k {
	case KindFullSnapshot:
		return "full_snapshot"
	case KindIncremental:
		return "incremental"
	case KindComponentUpdate:
		return "component_update"
	case KindConfigPush:
		return "config_push"
	case KindAck:
		return "ack"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}
