package entity

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/storage"
)

var (
	ErrIndexOutOfRange   = errors.New("inventory index out of range")
	ErrDuplicateModifier = errors.New("modifier already applied")
	ErrUnknownModifier   = errors.New("modifier not applied")
)

var _ Handle = (*Local)(nil)

// Local is a self-contained Handle used by graftd and by tests. It keeps
// attributes, inventory and effects in memory and documents in a scoped view
// of a shared store.
type Local struct {
	id     ID
	remote bool
	docs   storage.Documents

	mu        sync.RWMutex
	position  Vec3
	base      map[string]float64
	modifiers map[string]map[string]Modifier
	stacks    []ItemStack
	effects   map[string]map[string]Effect
}

// NewLocal creates a local entity with an inventory of inventorySize stacks.
func NewLocal(id ID, docs storage.Documents, inventorySize int, remote bool) *Local {
	if docs == nil {
		docs = storage.NewMemory()
	}
	return &Local{
		id:        id,
		remote:    remote,
		docs:      storage.Scoped(docs, string(id)),
		base:      make(map[string]float64),
		modifiers: make(map[string]map[string]Modifier),
		stacks:    make([]ItemStack, inventorySize),
		effects:   make(map[string]map[string]Effect),
	}
}

func (l *Local) ID() ID                       { return l.id }
func (l *Local) Remote() bool                 { return l.remote }
func (l *Local) Attributes() AttributeSink    { return l }
func (l *Local) Inventory() InventorySink     { return (*localInventory)(l) }
func (l *Local) Effects() EffectSink          { return (*localEffects)(l) }
func (l *Local) Documents() storage.Documents { return l.docs }

func (l *Local) Position() Vec3 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.position
}

func (l *Local) MoveTo(p Vec3) {
	l.mu.Lock()
	l.position = p
	l.mu.Unlock()
}

// SetBase sets the unmodified value of an attribute.
func (l *Local) SetBase(attribute string, value float64) {
	l.mu.Lock()
	l.base[attribute] = value
	l.mu.Unlock()
}

func (l *Local) AddModifier(m Modifier) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	mods := l.modifiers[m.Attribute]
	if mods == nil {
		mods = make(map[string]Modifier)
		l.modifiers[m.Attribute] = mods
	}
	if _, ok := mods[m.ID]; ok {
		return fmt.Errorf("%w: %s on %s", ErrDuplicateModifier, m.ID, m.Attribute)
	}
	mods[m.ID] = m
	return nil
}

func (l *Local) RemoveModifier(attribute, modifierID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	mods := l.modifiers[attribute]
	if _, ok := mods[modifierID]; !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnknownModifier, modifierID, attribute)
	}
	delete(mods, modifierID)
	return nil
}

// Modifiers returns the modifiers applied to attribute, ordered by id.
func (l *Local) Modifiers(attribute string) []Modifier {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Modifier, 0, len(l.modifiers[attribute]))
	for _, m := range l.modifiers[attribute] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Attribute computes base plus modifiers: additions first, then base
// multipliers, then total multipliers.
func (l *Local) Attribute(attribute string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	base := l.base[attribute]
	value := base
	for _, m := range l.modifiers[attribute] {
		if m.Operation == OpAdd || m.Operation == "" {
			value += m.Amount
		}
	}
	withAdds := value
	for _, m := range l.modifiers[attribute] {
		if m.Operation == OpMultiplyBase {
			value += withAdds * m.Amount
		}
	}
	for _, m := range l.modifiers[attribute] {
		if m.Operation == OpMultiplyTotal {
			value *= 1 + m.Amount
		}
	}
	return value
}

// ActiveEffects returns the effective application of every effect id: the
// highest amplifier, and among equals the permanent or longest one.
func (l *Local) ActiveEffects() map[string]Effect {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Effect, len(l.effects))
	for id, sources := range l.effects {
		var best Effect
		found := false
		for _, e := range sources {
			if !found || stronger(e, best) {
				best, found = e, true
			}
		}
		if found {
			out[id] = best
		}
	}
	return out
}

// EffectSources lists the sources currently holding effect id.
func (l *Local) EffectSources(id string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.effects[id]))
	for src := range l.effects[id] {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// ClearEffect drops effect id from every source, the way a cure or death
// would on the host.
func (l *Local) ClearEffect(id string) {
	l.mu.Lock()
	delete(l.effects, id)
	l.mu.Unlock()
}

func stronger(a, b Effect) bool {
	if a.Amplifier != b.Amplifier {
		return a.Amplifier > b.Amplifier
	}
	if a.Duration == 0 || b.Duration == 0 {
		return a.Duration == 0 && b.Duration != 0
	}
	if a.Duration != b.Duration {
		return a.Duration > b.Duration
	}
	return a.Source < b.Source
}

type localInventory Local

func (i *localInventory) Size() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.stacks)
}

func (i *localInventory) Stack(index int) ItemStack {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if index < 0 || index >= len(i.stacks) {
		return ItemStack{}
	}
	return i.stacks[index]
}

func (i *localInventory) SetStack(index int, stack ItemStack) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if index < 0 || index >= len(i.stacks) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	i.stacks[index] = stack
	return nil
}

func (i *localInventory) ClearStack(index int) error {
	return i.SetStack(index, ItemStack{})
}

type localEffects Local

func (e *localEffects) ApplyEffect(effect Effect) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sources := e.effects[effect.ID]
	if sources == nil {
		sources = make(map[string]Effect)
		e.effects[effect.ID] = sources
	}
	sources[effect.Source] = effect
	return nil
}

func (e *localEffects) RemoveEffect(id, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sources := e.effects[id]
	delete(sources, source)
	if len(sources) == 0 {
		delete(e.effects, id)
	}
	return nil
}
