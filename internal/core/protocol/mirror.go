package protocol

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/metrics"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/slot"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/transport"
)

// MirrorOptions configures a Mirror.
type MirrorOptions struct {
	Transport transport.Transport
	// Authority is the peer name of the owning side. Frames from anyone
	// else are dropped.
	Authority string
	Logger    log.Log
	Metrics   *metrics.Metrics

	FlushBudget    int
	OutboxCapacity int
}

// Mirror is the watching side of the sync protocol. It keeps the slot
// records it was sent and never changes them on its own; Request asks the
// authority to act instead.
type Mirror struct {
	mu       sync.RWMutex
	entities map[entity.ID]map[slot.ID]slot.Record
	seqs     map[entity.ID]uint64
	configs  map[string][]byte
	onChange func(entity.ID)

	transport transport.Transport
	authority string
	outbox    *Outbox
	limiter   *Limiter
	budget    int
	logger    log.Log
	metrics   *metrics.Metrics
}

// NewMirror registers the mirror as the transport's frame handler.
func NewMirror(opts MirrorOptions) (*Mirror, error) {
	if opts.Transport == nil || opts.Authority == "" {
		return nil, errors.New("mirror needs a transport and an authority peer")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.FlushBudget <= 0 {
		opts.FlushBudget = DefaultFlushBudget
	}
	m := &Mirror{
		entities:  make(map[entity.ID]map[slot.ID]slot.Record),
		seqs:      make(map[entity.ID]uint64),
		configs:   make(map[string][]byte),
		transport: opts.Transport,
		authority: opts.Authority,
		outbox:    NewOutbox(opts.OutboxCapacity),
		limiter:   NewLimiter(),
		budget:    opts.FlushBudget,
		logger:    opts.Logger.Named("mirror"),
		metrics:   opts.Metrics,
	}
	opts.Transport.OnFrame(m.HandleFrame)
	return m, nil
}

func (m *Mirror) SetClock(now func() time.Time) {
	m.limiter.SetClock(now)
}

// OnChange registers a callback run after an entity's slots change. It runs
// on the transport goroutine, outside the mirror lock.
func (m *Mirror) OnChange(fn func(entity.ID)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// HandleFrame applies one frame from the authority.
func (m *Mirror) HandleFrame(peer string, data []byte) {
	if peer != m.authority {
		dropped(m.metrics, m.logger, Kind(0), "in", peer, len(data), ErrUnexpectedSender)
		return
	}
	f, err := Decode(data)
	if err != nil {
		dropped(m.metrics, m.logger, Kind(0), "in", peer, len(data), err)
		return
	}

	var changed entity.ID
	switch msg := f.Message.(type) {
	case *FullSnapshot:
		changed, err = m.applySnapshot(msg)
	case *IncrementalUpdate:
		changed, err = m.applyIncremental(msg)
	case *ConfigPush:
		m.mu.Lock()
		m.configs[msg.Name] = msg.Data
		m.mu.Unlock()
	default:
		err = fmt.Errorf("%w: %s from authority", ErrUnexpectedSender, f.Kind)
	}
	if err != nil {
		dropped(m.metrics, m.logger, f.Kind, "in", peer, f.Size, err)
		return
	}
	m.metrics.Sync(f.Kind.String(), "in", "ok", f.Size)

	if changed != "" {
		m.mu.RLock()
		fn := m.onChange
		m.mu.RUnlock()
		if fn != nil {
			fn(changed)
		}
	}
}

func (m *Mirror) applySnapshot(msg *FullSnapshot) (entity.ID, error) {
	slots := msg.Slots
	if slots == nil {
		slots = map[slot.ID]slot.Record{}
	}

	m.mu.Lock()
	if last, ok := m.seqs[msg.Entity]; ok && msg.Seq <= last {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: seq %d after %d", ErrStaleSnapshot, msg.Seq, last)
	}
	m.seqs[msg.Entity] = msg.Seq
	m.entities[msg.Entity] = slots
	m.mu.Unlock()

	ack, err := Encode(&Ack{Entity: msg.Entity, Seq: msg.Seq, Digest: Digest(slots)})
	if err != nil {
		return msg.Entity, nil
	}
	if err := m.outbox.Push(Outgoing{Peer: m.authority, Kind: KindAck, Data: ack}); err != nil {
		dropped(m.metrics, m.logger, KindAck, "out", m.authority, len(ack), err)
	}
	return msg.Entity, nil
}

func (m *Mirror) applyIncremental(msg *IncrementalUpdate) (entity.ID, error) {
	if !msg.Removed && msg.Record == nil {
		return "", fmt.Errorf("%w: incremental without record", ErrMalformedFrame)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	slots := m.entities[msg.Entity]
	if slots == nil {
		slots = make(map[slot.ID]slot.Record)
		m.entities[msg.Entity] = slots
	}
	if msg.Removed {
		delete(slots, msg.Slot)
	} else {
		slots[msg.Slot] = *msg.Record
	}
	return msg.Entity, nil
}

// Request asks the authority to activate one component of a slot. Requests
// for the same slot closer together than the kind's interval are dropped.
func (m *Mirror) Request(e entity.ID, id slot.ID, tag string, payload []byte) error {
	data, err := Encode(&ComponentUpdate{Entity: e, Slot: id, Tag: tag, Payload: payload})
	if err != nil {
		dropped(m.metrics, m.logger, KindComponentUpdate, "out", m.authority, 0, err)
		return err
	}
	if !m.limiter.Allow(m.authority, KindComponentUpdate, string(id)) {
		dropped(m.metrics, m.logger, KindComponentUpdate, "out", m.authority, len(data), ErrRateLimited)
		return ErrRateLimited
	}
	return m.outbox.Push(Outgoing{Peer: m.authority, Kind: KindComponentUpdate, Subject: string(id), Data: data})
}

// Flush sends up to the flush budget of queued frames.
func (m *Mirror) Flush() int {
	batch := m.outbox.Flush(m.budget)
	m.metrics.Outbox(m.outbox.Len())
	return send(m.transport, batch, m.metrics, m.logger)
}

// Slots returns a copy of the records known for e.
func (m *Mirror) Slots(e entity.ID) map[slot.ID]slot.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.entities[e])
}

func (m *Mirror) Slot(e entity.ID, id slot.ID) (slot.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.entities[e][id]
	return rec, ok
}

// Digest hashes the records currently held for e.
func (m *Mirror) Digest(e entity.ID) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Digest(m.entities[e])
}

func (m *Mirror) Config(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.configs[name]
	return data, ok
}
