package protocol

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/events/bus"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/modification"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/metrics"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/slot"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/transport"
)

const (
	DefaultAckTimeout  = 3 * time.Second
	DefaultFlushBudget = 32
)

// AuthorityOptions configures an Authority.
type AuthorityOptions struct {
	Manager   *modification.Manager
	Transport transport.Transport
	Logger    log.Log
	Metrics   *metrics.Metrics

	AckTimeout     time.Duration
	FlushBudget    int
	OutboxCapacity int
}

// Authority is the owning side of the sync protocol. It pushes slot state
// of bound entities to their peers and turns valid component updates from
// those peers into manager work.
//
// Bind, Resend and Step must run on the manager's logic goroutine.
// HandleFrame may run on any goroutine.
type Authority struct {
	mu      sync.Mutex
	peers   map[string]*binding
	viewers map[entity.ID]map[string]struct{}
	// owned holds the component tags of every slot of a bound entity as
	// last announced.
	owned map[entity.ID]map[slot.ID][]string
	seq   uint64

	manager   *modification.Manager
	transport transport.Transport
	out       *Limiter
	in        *Limiter
	subs      []bus.Subscription
	logger    log.Log
	metrics   *metrics.Metrics
	now       func() time.Time

	ackTimeout time.Duration
	budget     int
	capacity   int
}

type binding struct {
	peer    string
	handle  entity.Handle
	outbox  *Outbox
	pending *pendingSnapshot
}

type pendingSnapshot struct {
	seq    uint64
	digest uint64
	// sentAt is zero until the snapshot actually left
	sentAt time.Time
}

// NewAuthority subscribes to the manager's slot events and registers itself
// as the transport's frame handler.
func NewAuthority(opts AuthorityOptions) (*Authority, error) {
	if opts.Manager == nil || opts.Transport == nil {
		return nil, errors.New("authority needs a manager and a transport")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.FlushBudget <= 0 {
		opts.FlushBudget = DefaultFlushBudget
	}

	a := &Authority{
		peers:      make(map[string]*binding),
		viewers:    make(map[entity.ID]map[string]struct{}),
		owned:      make(map[entity.ID]map[slot.ID][]string),
		manager:    opts.Manager,
		transport:  opts.Transport,
		out:        NewLimiter(),
		in:         NewLimiter(),
		logger:     opts.Logger.Named("authority"),
		metrics:    opts.Metrics,
		now:        time.Now,
		ackTimeout: opts.AckTimeout,
		budget:     opts.FlushBudget,
		capacity:   opts.OutboxCapacity,
	}

	remote := func(ev bus.Event) bool { return ev.Remote }
	for _, typ := range []string{bus.SlotGranted, bus.SlotRevoked, bus.SlotUpdated} {
		sub, err := opts.Manager.Bus().SubscribeFiltered(typ, remote, a.onSlotEvent)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("subscribe %s: %w", typ, err)
		}
		a.subs = append(a.subs, sub)
	}
	opts.Transport.OnFrame(a.HandleFrame)
	return a, nil
}

// SetClock replaces the time source of the authority and its limiters.
func (a *Authority) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
	a.out.SetClock(now)
	a.in.SetClock(now)
}

// Close stops listening to slot events. Bindings are kept.
func (a *Authority) Close() {
	eb := a.manager.Bus()
	for _, sub := range a.subs {
		_ = eb.Unsubscribe(sub)
	}
	a.subs = nil
}

// Bind attaches peer to the entity h and queues a full snapshot for it.
// Rebinding a peer replaces its previous binding.
func (a *Authority) Bind(ctx context.Context, peer string, h entity.Handle) error {
	slots, err := a.manager.Snapshot(ctx, h)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.unbindLocked(peer)

	b := &binding{peer: peer, handle: h, outbox: NewOutbox(a.capacity)}
	a.peers[peer] = b
	id := h.ID()
	if a.viewers[id] == nil {
		a.viewers[id] = make(map[string]struct{})
	}
	a.viewers[id][peer] = struct{}{}
	a.owned[id] = ownedTags(slots)

	a.logger.Debug("peer bound", log.String("peer", peer), log.String("entity", string(id)))
	return a.queueSnapshotLocked(b, slots)
}

// Unbind forgets peer and everything queued for it.
func (a *Authority) Unbind(peer string) {
	a.mu.Lock()
	a.unbindLocked(peer)
	a.mu.Unlock()
	a.out.Forget(peer)
	a.in.Forget(peer)
}

func (a *Authority) unbindLocked(peer string) {
	b, ok := a.peers[peer]
	if !ok {
		return
	}
	delete(a.peers, peer)
	id := b.handle.ID()
	delete(a.viewers[id], peer)
	if len(a.viewers[id]) == 0 {
		delete(a.viewers, id)
		delete(a.owned, id)
	}
}

// Bound reports the entity peer is bound to.
func (a *Authority) Bound(peer string) (entity.ID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.peers[peer]
	if !ok {
		return "", false
	}
	return b.handle.ID(), true
}

func ownedTags(slots map[slot.ID]slot.Record) map[slot.ID][]string {
	out := make(map[slot.ID][]string, len(slots))
	for id, rec := range slots {
		out[id] = recordTags(rec)
	}
	return out
}

func recordTags(rec slot.Record) []string {
	tags := make([]string, 0, len(rec.Components))
	for tag := range rec.Components {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// queueSnapshotLocked encodes a fresh snapshot for b and queues it. The
// snapshot stays pending until a matching ack arrives; a rate limited one
// goes out on a later Resend.
func (a *Authority) queueSnapshotLocked(b *binding, slots map[slot.ID]slot.Record) error {
	a.seq++
	msg := &FullSnapshot{Entity: b.handle.ID(), Seq: a.seq, Slots: slots}
	b.pending = &pendingSnapshot{seq: msg.Seq, digest: Digest(slots)}

	data, err := Encode(msg)
	if err != nil {
		a.drop(KindFullSnapshot, "out", b.peer, 0, err)
		return err
	}
	if err := a.enqueueLocked(b, KindFullSnapshot, "", data); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return nil
		}
		return err
	}
	if n := b.outbox.DropIncrementals(); n > 0 {
		a.logger.Debug("queued updates superseded by snapshot",
			log.String("peer", b.peer), log.Int("dropped", n))
	}
	b.pending.sentAt = a.now()
	return nil
}

// enqueueLocked applies the outbound rate limit and queues data for b.
func (a *Authority) enqueueLocked(b *binding, k Kind, subject string, data []byte) error {
	if !a.out.Allow(b.peer, k, subject) {
		a.drop(k, "out", b.peer, len(data), ErrRateLimited)
		return ErrRateLimited
	}
	if err := b.outbox.Push(Outgoing{Peer: b.peer, Kind: k, Subject: subject, Data: data}); err != nil {
		a.drop(k, "out", b.peer, len(data), err)
		return err
	}
	return nil
}

func (a *Authority) drop(k Kind, direction, peer string, size int, err error) {
	dropped(a.metrics, a.logger, k, direction, peer, size, err)
}

func dropped(m *metrics.Metrics, logger log.Log, k Kind, direction, peer string, size int, err error) {
	label := "unknown"
	if k.Valid() {
		label = k.String()
	}
	m.Sync(label, direction, Reason(err), size)
	logger.Debug("sync message dropped",
		log.String("kind", label),
		log.String("direction", direction),
		log.String("peer", peer),
		log.Error(err))
}

// onSlotEvent converts a slot event into an incremental update for every
// peer watching the entity.
func (a *Authority) onSlotEvent(ev bus.Event) error {
	msg := &IncrementalUpdate{Entity: ev.Entity, Slot: ev.SlotID}
	if ev.Type == bus.SlotRevoked {
		msg.Removed = true
	} else if ev.Record != nil {
		msg.Record = ev.Record
	} else {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	viewers := a.viewers[ev.Entity]
	if len(viewers) == 0 {
		return nil
	}
	if owned := a.owned[ev.Entity]; owned != nil {
		if msg.Removed {
			delete(owned, ev.SlotID)
		} else {
			owned[ev.SlotID] = recordTags(*msg.Record)
		}
	}

	data, err := Encode(msg)
	if err != nil {
		a.drop(KindIncremental, "out", "", 0, err)
		return nil
	}
	for peer := range viewers {
		b := a.peers[peer]
		if err := a.enqueueLocked(b, KindIncremental, string(ev.SlotID), data); err != nil {
			a.reconcileLocked(b)
		}
	}
	return nil
}

// reconcileLocked marks b for a fresh snapshot on the next Resend after an
// incremental update for it was dropped.
func (a *Authority) reconcileLocked(b *binding) {
	if b.pending == nil {
		b.pending = &pendingSnapshot{}
		return
	}
	b.pending.sentAt = time.Time{}
}

// PushConfig queues a configuration blob for every bound peer.
func (a *Authority) PushConfig(name string, data []byte) error {
	frame, err := Encode(&ConfigPush{Name: name, Data: data})
	if err != nil {
		a.drop(KindConfigPush, "out", "", 0, err)
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for _, b := range a.peers {
		if err := a.enqueueLocked(b, KindConfigPush, name, frame); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", b.peer, err))
		}
	}
	return errors.Join(errs...)
}

// Resend queues a fresh snapshot for every peer whose last snapshot was
// not acknowledged within the ack timeout, or was acknowledged with a
// different digest.
func (a *Authority) Resend(ctx context.Context) {
	a.mu.Lock()
	now := a.now()
	var due []*binding
	for _, b := range a.peers {
		if b.pending == nil {
			continue
		}
		if b.pending.sentAt.IsZero() || now.Sub(b.pending.sentAt) >= a.ackTimeout {
			due = append(due, b)
		}
	}
	a.mu.Unlock()

	for _, b := range due {
		slots, err := a.manager.Snapshot(ctx, b.handle)
		if err != nil {
			a.logger.Debug("snapshot resend deferred", log.String("peer", b.peer), log.Error(err))
			continue
		}
		a.mu.Lock()
		if a.peers[b.peer] == b {
			a.owned[b.handle.ID()] = ownedTags(slots)
			if err := a.queueSnapshotLocked(b, slots); err == nil {
				a.logger.Debug("snapshot resent", log.String("peer", b.peer))
			}
		}
		a.mu.Unlock()
	}
}

// Flush sends up to the flush budget of queued frames per peer and returns
// how many were written.
func (a *Authority) Flush() int {
	a.mu.Lock()
	var batch []Outgoing
	depth := 0
	for _, b := range a.peers {
		batch = append(batch, b.outbox.Flush(a.budget)...)
		depth += b.outbox.Len()
	}
	a.mu.Unlock()
	a.metrics.Outbox(depth)

	return send(a.transport, batch, a.metrics, a.logger)
}

// Step runs Resend then Flush.
func (a *Authority) Step(ctx context.Context) int {
	a.Resend(ctx)
	return a.Flush()
}

func send(t transport.Transport, batch []Outgoing, m *metrics.Metrics, logger log.Log) int {
	sent := 0
	for _, o := range batch {
		if err := t.Send(o.Peer, o.Data); err != nil {
			m.Sync(o.Kind.String(), "out", "error", len(o.Data))
			logger.Debug("send failed", log.String("peer", o.Peer), log.Error(err))
			continue
		}
		m.Sync(o.Kind.String(), "out", "ok", len(o.Data))
		sent++
	}
	return sent
}

// HandleFrame processes one inbound frame from peer. Invalid, rate limited
// or unauthorized frames are dropped without reply.
func (a *Authority) HandleFrame(peer string, data []byte) {
	f, err := Decode(data)
	if err != nil {
		a.drop(Kind(0), "in", peer, len(data), err)
		return
	}
	if !a.in.Allow(peer, f.Kind, "") {
		a.drop(f.Kind, "in", peer, f.Size, ErrRateLimited)
		return
	}

	switch m := f.Message.(type) {
	case *Ack:
		err = a.handleAck(peer, m)
	case *ComponentUpdate:
		err = a.handleComponentUpdate(peer, m)
	default:
		err = fmt.Errorf("%w: %s from mirror", ErrUnexpectedSender, f.Kind)
	}
	if err != nil {
		a.drop(f.Kind, "in", peer, f.Size, err)
		return
	}
	a.metrics.Sync(f.Kind.String(), "in", "ok", f.Size)
}

func (a *Authority) handleAck(peer string, m *Ack) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.peers[peer]
	if !ok {
		return ErrNotBound
	}
	if b.pending == nil || b.pending.seq != m.Seq || b.handle.ID() != m.Entity {
		return fmt.Errorf("%w: seq %d", ErrStaleSnapshot, m.Seq)
	}
	if b.pending.digest != m.Digest {
		// resend on the next Resend
		b.pending.sentAt = time.Time{}
		return fmt.Errorf("%w: seq %d", ErrDigestMismatch, m.Seq)
	}
	b.pending = nil
	return nil
}

func (a *Authority) handleComponentUpdate(peer string, m *ComponentUpdate) error {
	a.mu.Lock()
	b, ok := a.peers[peer]
	if !ok {
		a.mu.Unlock()
		return ErrNotBound
	}
	h := b.handle
	if h.ID() != m.Entity {
		a.mu.Unlock()
		return fmt.Errorf("%w: entity %s", ErrUnexpectedSender, m.Entity)
	}
	tags, ok := a.owned[h.ID()][m.Slot]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSlotNotOwned, m.Slot)
	}
	if i := sort.SearchStrings(tags, m.Tag); i == len(tags) || tags[i] != m.Tag {
		return fmt.Errorf("%w: %s", ErrUnknownTag, m.Tag)
	}

	id, tag, payload := m.Slot, m.Tag, m.Payload
	return a.manager.Submit(func(ctx context.Context, mgr *modification.Manager) error {
		return mgr.Activate(ctx, h, id, tag, payload)
	})
}
