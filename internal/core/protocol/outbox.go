package protocol

import (
	"sync"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/pkg/sequence"
)

// DefaultOutboxCapacity bounds the frames queued for one peer.
const DefaultOutboxCapacity = 1024

// Outgoing is an encoded frame waiting for a peer.
type Outgoing struct {
	Peer    string
	Kind    Kind
	Subject string
	Data    []byte
}

// Outbox queues frames for one peer. Flush drains up to a budget of frames,
// highest priority first and FIFO within a priority. A queued incremental
// for a subject is replaced by a newer one for the same subject.
type Outbox struct {
	mu       sync.Mutex
	queue    *sequence.PriorityQueue[Outgoing]
	pending  map[coalesceKey]*sequence.PriorityItem[Outgoing]
	capacity int
}

type coalesceKey struct {
	kind    Kind
	subject string
}

func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}
	return &Outbox{
		queue:    sequence.NewPriorityQueue[Outgoing](),
		pending:  make(map[coalesceKey]*sequence.PriorityItem[Outgoing]),
		capacity: capacity,
	}
}

func (o *Outbox) Push(out Outgoing) error {
	spec, ok := out.Kind.Spec()
	if !ok {
		return ErrUnknownKind
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if out.Kind == KindIncremental && out.Subject != "" {
		key := coalesceKey{kind: out.Kind, subject: out.Subject}
		if item, ok := o.pending[key]; ok {
			o.queue.Update(item, out, spec.Priority)
			return nil
		}
		if o.queue.Len() >= o.capacity {
			return ErrOutboxFull
		}
		o.pending[key] = o.queue.Enqueue(out, spec.Priority)
		return nil
	}

	if o.queue.Len() >= o.capacity {
		return ErrOutboxFull
	}
	o.queue.Enqueue(out, spec.Priority)
	return nil
}

// Flush removes and returns at most budget frames.
func (o *Outbox) Flush(budget int) []Outgoing {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := min(budget, o.queue.Len())
	if n <= 0 {
		return nil
	}
	out := make([]Outgoing, 0, n)
	for range n {
		next, _ := o.queue.Dequeue()
		if next.Kind == KindIncremental {
			delete(o.pending, coalesceKey{kind: next.Kind, subject: next.Subject})
		}
		out = append(out, next)
	}
	return out
}

// DropIncrementals removes every queued incremental and returns how many
// were dropped. A snapshot queued after them carries the same state.
func (o *Outbox) DropIncrementals() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for key, item := range o.pending {
		if o.queue.Remove(item) {
			n++
		}
		delete(o.pending, key)
	}
	return n
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.Len()
}
