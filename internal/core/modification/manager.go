// Package modification is the runtime that grants, revokes and ticks
// modifications on entities.
//
// A Manager is meant to be driven from one game-logic goroutine: Grant,
// Revoke, Tick, Activate and Drain all run component hooks. Other
// goroutines read through Query and Snapshot, or hand work to the logic
// goroutine with Submit.
package modification

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/events/bus"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/metrics"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/persist"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/resolver"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/slot"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/template"
)

const DefaultMailboxSize = 1024

// Decision is the outcome of CanInstall with the reasons behind it.
type Decision struct {
	Allowed       bool
	Installed     int
	MaxInstances  int
	Compatibility resolver.Result
	Diagnostics   []string
}

type entry struct {
	handle entity.Handle
	slots  []*slot.Slot
	record persist.Record
	dirty  bool
}

func (en *entry) find(id slot.ID) int {
	return slices.IndexFunc(en.slots, func(s *slot.Slot) bool { return s.ID() == id })
}

func (en *entry) count(templateID string) int {
	n := 0
	for _, s := range en.slots {
		if s.TemplateID() == templateID {
			n++
		}
	}
	return n
}

// installedTags lists the component types of installed slots.
func (en *entry) installedTags() []string {
	var tags []string
	for _, s := range en.slots {
		if !s.Installed() {
			continue
		}
		for _, tag := range s.Tags() {
			if !slices.Contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

// Options configures a Manager.
type Options struct {
	Templates   *template.Registry
	Resolver    *resolver.Resolver
	Store       *persist.Store
	Bus         bus.EventBus
	Logger      log.Log
	Metrics     *metrics.Metrics
	MailboxSize int
}

// Manager owns the template registry and the per-entity slot cache.
type Manager struct {
	mu       sync.RWMutex
	entities map[entity.ID]*entry
	loads    singleflight.Group
	closed   bool

	templates *template.Registry
	resolver  *resolver.Resolver
	store     *persist.Store
	bus       bus.EventBus
	logger    log.Log
	metrics   *metrics.Metrics

	mailbox chan Work
}

func New(opts Options) *Manager {
	if opts.Templates == nil {
		opts.Templates = template.NewRegistry(opts.Metrics)
	}
	if opts.Resolver == nil {
		opts.Resolver = resolver.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Store == nil {
		opts.Store = persist.NewStore(nil, opts.Logger, opts.Metrics)
	}
	if opts.Bus == nil {
		opts.Bus = bus.New()
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = DefaultMailboxSize
	}
	return &Manager{
		entities:  make(map[entity.ID]*entry),
		templates: opts.Templates,
		resolver:  opts.Resolver,
		store:     opts.Store,
		bus:       opts.Bus,
		logger:    opts.Logger.Named("modification"),
		metrics:   opts.Metrics,
		mailbox:   make(chan Work, opts.MailboxSize),
	}
}

func (m *Manager) Templates() *template.Registry { return m.templates }
func (m *Manager) Resolver() *resolver.Resolver  { return m.resolver }
func (m *Manager) Bus() bus.EventBus             { return m.bus }

// Load reads e's record into the cache if it is not there yet.
func (m *Manager) Load(ctx context.Context, e entity.Handle) error {
	_, err := m.load(ctx, e)
	return err
}

// load returns the cached entry for e, reading its record on first access.
// Concurrent misses share one load and the first inserted entry wins. A
// record that could not be read is not cached, so nothing is ever written
// over it.
func (m *Manager) load(ctx context.Context, e entity.Handle) (*entry, error) {
	id := e.ID()
	m.mu.RLock()
	en, ok := m.entities[id]
	m.mu.RUnlock()
	if ok {
		return en, nil
	}

	v, err, _ := m.loads.Do(string(id), func() (any, error) {
		m.mu.RLock()
		existing, ok := m.entities[id]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		loaded, err := m.build(ctx, e)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.entities[id]; ok {
			return existing, nil
		}
		m.entities[id] = loaded
		m.metrics.EntitiesDelta(1)
		m.metrics.SlotsDelta(len(loaded.slots))
		return loaded, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, id, err)
	}
	return v.(*entry), nil
}

func (m *Manager) build(ctx context.Context, e entity.Handle) (*entry, error) {
	logger := m.logger.With(log.String("entity", string(e.ID())))
	rec, _, err := m.store.Load(ctx, e.Documents(), e.ID())
	if err != nil {
		return nil, err
	}

	en := &entry{handle: e, record: rec}
	ids := make([]slot.ID, 0, len(rec.InstalledSlots))
	for id := range rec.InstalledSlots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		sr := rec.InstalledSlots[id]
		tmpl, _ := m.templates.Get(sr.TemplateID)
		s, err := slot.FromRecord(id, sr, tmpl)
		if err != nil {
			logger.Warn("dropping unreadable slot", log.String("slot", string(id)), log.Error(err))
			delete(en.record.InstalledSlots, id)
			en.dirty = true
			continue
		}
		if tmpl == nil {
			logger.Warn("slot references unknown template", log.String("slot", string(id)), log.String("template", sr.TemplateID))
		}
		if err := s.Restore(e); err != nil {
			logger.Warn("restoring slot failed, keeping it uninstalled", log.String("slot", string(id)), log.Error(err))
			en.record.InstalledSlots[id] = s.Record()
			en.dirty = true
		}
		en.slots = append(en.slots, s)
	}
	return en, nil
}

// persist writes the entry's record. Callers hold the write lock.
func (m *Manager) persist(ctx context.Context, en *entry) error {
	for _, s := range en.slots {
		en.record.InstalledSlots[s.ID()] = s.Record()
	}
	if err := m.store.Save(ctx, en.handle.Documents(), en.record); err != nil {
		en.dirty = true
		return err
	}
	en.dirty = false
	return nil
}

// CanInstall reports whether t may be granted to e now.
func (m *Manager) CanInstall(ctx context.Context, e entity.Handle, t *template.Template) bool {
	return m.Explain(ctx, e, t).Allowed
}

// Explain is CanInstall with diagnostics. An entity whose record cannot be
// read is never allowed.
func (m *Manager) Explain(ctx context.Context, e entity.Handle, t *template.Template) Decision {
	en, err := m.load(ctx, e)
	if err != nil {
		return Decision{MaxInstances: t.MaxInstances(), Diagnostics: []string{err.Error()}}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.decide(en, t)
}

func (m *Manager) decide(en *entry, t *template.Template) Decision {
	d := Decision{
		Installed:     en.count(t.ID()),
		MaxInstances:  t.MaxInstances(),
		Compatibility: m.resolver.CheckSet(t.Tags(), en.installedTags()),
	}
	if d.Installed >= d.MaxInstances {
		d.Diagnostics = append(d.Diagnostics, "install limit reached: "+t.ID())
	}
	d.Diagnostics = append(d.Diagnostics, d.Compatibility.Diagnostics()...)
	d.Allowed = d.Installed < d.MaxInstances && d.Compatibility.CanInstall
	return d
}

// Grant installs a new slot of templateID on e. On any failure nothing
// changes. Rejections are returned as *GrantError.
func (m *Manager) Grant(ctx context.Context, e entity.Handle, templateID string) (slot.ID, error) {
	logger := m.logger.With(log.String("entity", string(e.ID())), log.String("template", templateID))

	t, ok := m.templates.Get(templateID)
	if !ok {
		m.metrics.Grant(string(CodeTemplateNotFound))
		logger.Info("grant rejected", log.String("reason", string(CodeTemplateNotFound)))
		return "", &GrantError{Code: CodeTemplateNotFound, Entity: e.ID(), TemplateID: templateID}
	}

	en, err := m.load(ctx, e)
	if err != nil {
		m.metrics.Grant(string(CodeUnavailable))
		logger.Warn("grant failed, record unavailable", log.Error(err))
		return "", &GrantError{Code: CodeUnavailable, Entity: e.ID(), TemplateID: templateID, Cause: err}
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	en = m.current(en)

	d := m.decide(en, t)
	if !d.Allowed {
		m.mu.Unlock()
		code := CodeIncompatible
		if d.Installed >= d.MaxInstances {
			code = CodeLimitReached
		}
		m.metrics.Grant(string(code))
		logger.Info("grant rejected", log.String("reason", string(code)), log.Strings("diagnostics", d.Diagnostics))
		return "", &GrantError{Code: code, Entity: e.ID(), TemplateID: templateID, Diagnostics: d.Diagnostics}
	}

	s := slot.New(t)
	if err := s.Install(e); err != nil {
		m.mu.Unlock()
		m.metrics.Grant(string(CodeInstallFailed))
		logger.Warn("grant failed during install", log.Error(err))
		return "", &GrantError{Code: CodeInstallFailed, Entity: e.ID(), TemplateID: templateID, Cause: err}
	}
	en.slots = append(en.slots, s)
	if err := m.persist(ctx, en); err != nil {
		en.slots = en.slots[:len(en.slots)-1]
		delete(en.record.InstalledSlots, s.ID())
		_ = s.Uninstall(e)
		m.mu.Unlock()
		m.metrics.Grant(string(CodeInstallFailed))
		logger.Warn("grant failed during persist", log.Error(err))
		return "", &GrantError{Code: CodeInstallFailed, Entity: e.ID(), TemplateID: templateID, Cause: err}
	}
	rec := s.Record()
	m.mu.Unlock()

	m.metrics.Grant("ok")
	m.metrics.SlotsDelta(1)
	logger.Info("modification granted", log.String("slot", string(s.ID())))
	m.publish(bus.SlotGranted, e, s.ID(), templateID, &rec)
	return s.ID(), nil
}

// current returns the cached entry for en's entity, re-inserting en if the
// entity was forgotten in between. Callers hold the write lock.
func (m *Manager) current(en *entry) *entry {
	id := en.handle.ID()
	if cached, ok := m.entities[id]; ok {
		return cached
	}
	m.entities[id] = en
	m.metrics.EntitiesDelta(1)
	m.metrics.SlotsDelta(len(en.slots))
	return en
}

// Revoke uninstalls and removes every slot of templateID on e. When only
// the persist fails the slots stay removed, the entity stays dirty for the
// next Flush and the error wraps ErrNotPersisted.
func (m *Manager) Revoke(ctx context.Context, e entity.Handle, templateID string) error {
	return m.revoke(ctx, e, func(s *slot.Slot) bool { return s.TemplateID() == templateID }, "template "+templateID)
}

// RevokeSlot uninstalls and removes one slot.
func (m *Manager) RevokeSlot(ctx context.Context, e entity.Handle, id slot.ID) error {
	return m.revoke(ctx, e, func(s *slot.Slot) bool { return s.ID() == id }, "slot "+string(id))
}

func (m *Manager) revoke(ctx context.Context, e entity.Handle, match func(*slot.Slot) bool, what string) error {
	logger := m.logger.With(log.String("entity", string(e.ID())))
	en, err := m.load(ctx, e)
	if err != nil {
		m.metrics.Revoke("unavailable")
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	en = m.current(en)

	var removed []*slot.Slot
	var uninstallErrs []error
	en.slots = slices.DeleteFunc(en.slots, func(s *slot.Slot) bool {
		if !match(s) {
			return false
		}
		if err := s.Uninstall(e); err != nil {
			uninstallErrs = append(uninstallErrs, err)
		}
		delete(en.record.InstalledSlots, s.ID())
		removed = append(removed, s)
		return true
	})
	if len(removed) == 0 {
		m.mu.Unlock()
		m.metrics.Revoke("not_found")
		return fmt.Errorf("%w: %s", ErrSlotNotFound, what)
	}
	persistErr := m.persist(ctx, en)
	m.mu.Unlock()

	m.metrics.Revoke("ok")
	m.metrics.SlotsDelta(-len(removed))
	for _, err := range uninstallErrs {
		logger.Warn("uninstall hook failed", log.Error(err))
	}
	for _, s := range removed {
		logger.Info("modification revoked", log.String("slot", string(s.ID())), log.String("template", s.TemplateID()))
		m.publish(bus.SlotRevoked, e, s.ID(), s.TemplateID(), nil)
	}
	if persistErr != nil {
		logger.Warn("persisting revoke failed, will retry on next write", log.Error(persistErr))
		return fmt.Errorf("%w: revoke %s: %w", ErrNotPersisted, what, persistErr)
	}
	return nil
}

// Query lists the slots of e in grant order.
func (m *Manager) Query(ctx context.Context, e entity.Handle) []slot.View {
	return m.QueryByType(ctx, e, "")
}

// QueryByType lists the slots of e with the given slot type; an empty type
// matches every slot.
func (m *Manager) QueryByType(ctx context.Context, e entity.Handle, slotType string) []slot.View {
	en, err := m.load(ctx, e)
	if err != nil {
		m.logger.Warn("query without record", log.String("entity", string(e.ID())), log.Error(err))
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	views := make([]slot.View, 0, len(en.slots))
	for _, s := range en.slots {
		if slotType == "" || s.SlotType() == slotType {
			views = append(views, s.View())
		}
	}
	return views
}

// Tick advances every installed slot of e by one game tick. It is meant to
// be called once per tick from a single place. Tick state is persisted on
// the next mutation, Flush or Forget.
func (m *Manager) Tick(ctx context.Context, e entity.Handle) {
	en, err := m.load(ctx, e)
	if err != nil {
		m.logger.Debug("tick skipped", log.String("entity", string(e.ID())), log.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	en = m.current(en)
	for _, s := range en.slots {
		if s.Installed() {
			s.Tick(e)
			en.dirty = true
		}
	}
}

// Activate forwards a component update to one component of a slot, then
// persists and announces the new slot state. When only the persist fails
// the new state is kept and announced, the entity stays dirty and the
// error wraps ErrNotPersisted.
func (m *Manager) Activate(ctx context.Context, e entity.Handle, id slot.ID, tag string, payload []byte) error {
	en, err := m.load(ctx, e)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	en = m.current(en)
	idx := en.find(id)
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: slot %s", ErrSlotNotFound, id)
	}
	s := en.slots[idx]
	if err := s.Activate(e, tag, payload); err != nil {
		m.mu.Unlock()
		return err
	}
	persistErr := m.persist(ctx, en)
	rec := s.Record()
	m.mu.Unlock()

	m.publish(bus.SlotUpdated, e, id, s.TemplateID(), &rec)
	if persistErr != nil {
		m.logger.Warn("persisting activation failed", log.String("entity", string(e.ID())), log.Error(persistErr))
		return fmt.Errorf("%w: activate %s: %w", ErrNotPersisted, id, persistErr)
	}
	return nil
}

// Snapshot returns the current record of every slot of e.
func (m *Manager) Snapshot(ctx context.Context, e entity.Handle) (map[slot.ID]slot.Record, error) {
	en, err := m.load(ctx, e)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[slot.ID]slot.Record, len(en.slots))
	for _, s := range en.slots {
		out[s.ID()] = s.Record()
	}
	return out, nil
}

// Cached reports whether e's slots are in the cache.
func (m *Manager) Cached(id entity.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entities[id]
	return ok
}

// Flush persists every cached entity with unsaved tick state.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, en := range m.entities {
		if !en.dirty {
			continue
		}
		if err := m.persist(ctx, en); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forget persists e one last time and drops it from the cache. Installed
// side effects stay on the entity; the host is expected to discard it.
func (m *Manager) Forget(ctx context.Context, id entity.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	en, ok := m.entities[id]
	if !ok {
		return nil
	}
	err := m.persist(ctx, en)
	delete(m.entities, id)
	m.metrics.EntitiesDelta(-1)
	m.metrics.SlotsDelta(-len(en.slots))
	return err
}

// Reload replaces the template set. Slots already granted keep their
// components; templates that disappeared only stop new grants.
func (m *Manager) Reload(batch []*template.Template) error {
	if err := m.templates.Replace(batch); err != nil {
		return err
	}
	m.logger.Info("templates replaced", log.Int("templates", len(batch)))
	return m.bus.Publish(bus.NewEvent(bus.TemplatesReloaded, bus.Event{}))
}

// Close persists every cached entity and rejects further mutations.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var errs []error
	for _, en := range m.entities {
		if err := m.persist(ctx, en); err != nil {
			errs = append(errs, err)
		}
	}
	m.mu.Unlock()
	return errors.Join(errs...)
}

func (m *Manager) publish(typ string, e entity.Handle, id slot.ID, templateID string, rec *slot.Record) {
	err := m.bus.Publish(bus.NewEvent(typ, bus.Event{
		Entity:     e.ID(),
		Remote:     e.Remote(),
		SlotID:     id,
		TemplateID: templateID,
		Record:     rec,
	}))
	if err != nil {
		m.logger.Warn("event handler failed", log.String("event", typ), log.Error(err))
	}
}
