package component

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/metrics"
)

// Constructor builds a component for tag from its declarative config. It
// must return a usable component for any input.
type Constructor func(tag string, cfg Config) Component

// Metadata describes a component type to the resolver and to tooling.
type Metadata struct {
	DisplayName    string
	Requires       []string
	ConflictsWith  []string
	SynergizesWith []string
}

// TypeDefinition declares a component type in a definition file. It reuses
// the constructor of Base, a registered type, under a new tag with its own
// relations.
type TypeDefinition struct {
	Tag    string
	Base   string
	Meta   Metadata
	Source string
}

type registration struct {
	ctor     Constructor
	meta     Metadata
	base     string
	declared bool
}

// Factory maps component-type tags to constructors. It is safe for
// concurrent use; registration normally happens once at startup, declared
// types change on every template reload.
type Factory struct {
	mu         sync.RWMutex
	entries    map[string]registration
	generation uint64
	logger     log.Log
	metrics    *metrics.Metrics
	observe    func(Fallback)
}

func NewFactory(logger log.Log, m *metrics.Metrics) *Factory {
	if logger == nil {
		logger = log.Nop()
	}
	return &Factory{
		entries: make(map[string]registration),
		logger:  logger.Named("component"),
		metrics: m,
	}
}

// Register adds a constructor for tag.
func (f *Factory) Register(tag string, ctor Constructor, meta Metadata) error {
	if tag == "" || ctor == nil {
		return fmt.Errorf("register %q: tag and constructor are required", tag)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entries[tag]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, tag)
	}
	if meta.DisplayName == "" {
		meta.DisplayName = tag
	}
	f.entries[tag] = registration{ctor: ctor, meta: meta}
	f.generation++
	return nil
}

// Declare replaces every previously declared type with types. Entries with
// an empty tag, an unknown or declared base, or a tag taken by a registered
// type are skipped and reported in the returned error; the rest apply. On
// duplicate tags the later entry wins.
func (f *Factory) Declare(types []TypeDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for tag, reg := range f.entries {
		if reg.declared {
			delete(f.entries, tag)
		}
	}
	var errs []error
	for _, t := range types {
		if t.Tag == "" {
			errs = append(errs, fmt.Errorf("%s: component type without a tag", t.Source))
			continue
		}
		if reg, ok := f.entries[t.Tag]; ok && !reg.declared {
			errs = append(errs, fmt.Errorf("%s: %w: %s", t.Source, ErrDuplicateType, t.Tag))
			continue
		}
		base, ok := f.entries[t.Base]
		if !ok || base.declared {
			errs = append(errs, fmt.Errorf("%s: %s: %w: base %q", t.Source, t.Tag, ErrUnknownType, t.Base))
			continue
		}
		meta := t.Meta
		if meta.DisplayName == "" {
			meta.DisplayName = t.Tag
		}
		f.entries[t.Tag] = registration{ctor: base.ctor, meta: meta, base: t.Base, declared: true}
	}
	f.generation++
	return errors.Join(errs...)
}

// Declared lists the declared types in tag order.
func (f *Factory) Declared() []TypeDefinition {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []TypeDefinition
	for tag, reg := range f.entries {
		if reg.declared {
			out = append(out, TypeDefinition{Tag: tag, Base: reg.base, Meta: reg.meta})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Generation changes whenever the set of types or their metadata changes.
func (f *Factory) Generation() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.generation
}

// ObserveFallbacks calls fn for every field that falls back to its default,
// in addition to logging it.
func (f *Factory) ObserveFallbacks(fn func(Fallback)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observe = fn
}

// Known reports whether tag has a registered constructor.
func (f *Factory) Known(tag string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.entries[tag]
	return ok
}

func (f *Factory) Metadata(tag string) (Metadata, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	reg, ok := f.entries[tag]
	return reg.meta, ok
}

// Tags returns the registered tags in sorted order.
func (f *Factory) Tags() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	tags := make([]string, 0, len(f.entries))
	for tag := range f.entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Create builds a component and never fails. An unknown tag yields an
// inactive placeholder without side effects; malformed fields fall back to
// their defaults. Both cases are logged and counted.
func (f *Factory) Create(tag string, values map[string]any) Component {
	f.mu.RLock()
	reg, ok := f.entries[tag]
	f.mu.RUnlock()

	if !ok {
		f.logger.Warn("unknown component type, using inactive placeholder", log.String("tag", tag))
		f.reportUnknown(tag)
		placeholder := NewAttributeModifier(tag)
		placeholder.SetActive(false)
		return placeholder
	}

	cfg := NewConfig(tag, values, f.reportFallback)
	c := reg.ctor(tag, cfg)
	if c == nil {
		f.logger.Warn("constructor returned nil, using inactive placeholder", log.String("tag", tag))
		placeholder := NewAttributeModifier(tag)
		placeholder.SetActive(false)
		return placeholder
	}
	if cfg.Has("active") {
		c.SetActive(cfg.Bool("active", true))
	}
	return c
}

func (f *Factory) reportFallback(fb Fallback) {
	f.logger.Warn("component config field defaulted",
		log.String("tag", fb.Tag),
		log.String("field", fb.Field),
		log.Any("value", fb.Raw),
		log.String("reason", fb.Reason),
	)
	f.metrics.ConfigDefault(fb.Tag)
	f.notify(fb)
}

func (f *Factory) reportUnknown(tag string) {
	f.metrics.ConfigDefault(tag)
	f.notify(Fallback{Tag: tag, Reason: "unknown component type"})
}

func (f *Factory) notify(fb Fallback) {
	f.mu.RLock()
	observe := f.observe
	f.mu.RUnlock()
	if observe != nil {
		observe(fb)
	}
}

// Builtins lists the built-in component types with their relations.
func Builtins() map[string]struct {
	Ctor Constructor
	Meta Metadata
} {
	return map[string]struct {
		Ctor Constructor
		Meta Metadata
	}{
		TagInventory:             {Ctor: NewInventoryFromConfig, Meta: Metadata{DisplayName: "Inventory"}},
		TagAttributeModification: {Ctor: NewAttributeModifierFromConfig, Meta: Metadata{DisplayName: "Attribute Modification"}},
		TagSkill: {Ctor: NewSkillFromConfig, Meta: Metadata{
			DisplayName:    "Skill",
			SynergizesWith: []string{TagStatusEffect},
		}},
		TagStatusEffect: {Ctor: NewStatusEffectFromConfig, Meta: Metadata{
			DisplayName:    "Status Effect",
			SynergizesWith: []string{TagSkill},
		}},
	}
}

// RegisterBuiltins registers every built-in component type on f.
func RegisterBuiltins(f *Factory) error {
	builtins := Builtins()
	tags := make([]string, 0, len(builtins))
	for tag := range builtins {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		b := builtins[tag]
		if err := f.Register(tag, b.Ctor, b.Meta); err != nil {
			return err
		}
	}
	return nil
}

// NewInventoryFromConfig reads size, max_stack and filters. Filters map a
// slot index to an item or a list of items.
func NewInventoryFromConfig(tag string, cfg Config) Component {
	size := cfg.IntRange("size", DefaultInventorySize, 1, MaxInventorySize)
	maxStack := cfg.IntRange("max_stack", DefaultMaxStack, 1, DefaultMaxStack)
	inv := NewInventory(tag, size, maxStack)

	filters := cfg.Child("filters")
	for _, key := range filters.Keys() {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= size {
			filters.fallback("filters."+key, key, "not a slot index, ignored")
			continue
		}
		if items := filters.Strings(key); len(items) > 0 {
			inv.Filters[idx] = items
		}
	}
	return inv
}

// NewAttributeModifierFromConfig accepts either a single modifier inline or
// a modifiers list.
func NewAttributeModifierFromConfig(tag string, cfg Config) Component {
	entries := cfg.Children("modifiers")
	if len(entries) == 0 && cfg.Has("attribute") {
		entries = []Config{cfg}
	}
	mods := make([]ModifierSpec, 0, len(entries))
	for _, e := range entries {
		attr := e.String("attribute", "")
		if attr == "" {
			e.fallback("attribute", nil, "missing attribute, modifier skipped")
			continue
		}
		mods = append(mods, ModifierSpec{
			Attribute: attr,
			Amount:    e.Float("amount", 0),
			Operation: parseOperation(e),
		})
	}
	return NewAttributeModifier(tag, mods...)
}

func parseOperation(cfg Config) entity.Operation {
	if !cfg.Has("operation") {
		return entity.OpAdd
	}
	raw := cfg.values["operation"]
	if n, ok := parseInt(raw); ok {
		switch n {
		case 0:
			return entity.OpAdd
		case 1:
			return entity.OpMultiplyBase
		case 2:
			return entity.OpMultiplyTotal
		}
	}
	op := entity.Operation(strings.ToLower(cfg.String("operation", string(entity.OpAdd))))
	switch op {
	case entity.OpAdd, entity.OpMultiplyBase, entity.OpMultiplyTotal:
		return op
	}
	cfg.fallback("operation", raw, `unknown operation, using "add"`)
	return entity.OpAdd
}

// NewSkillFromConfig accepts either a single skill inline or a skills list.
// A skill without a name is named after the tag.
func NewSkillFromConfig(tag string, cfg Config) Component {
	entries := cfg.Children("skills")
	if len(entries) == 0 {
		entries = []Config{cfg}
	}
	skills := make([]SkillState, 0, len(entries))
	for _, e := range entries {
		name := e.String("name", tag)
		if slices.ContainsFunc(skills, func(s SkillState) bool { return s.Name == name }) {
			e.fallback("name", name, "duplicate skill name, skipped")
			continue
		}
		skills = append(skills, SkillState{
			Name:      name,
			Cooldown:  e.IntRange("cooldown", DefaultSkillCooldown, 0, 1<<20),
			Effect:    e.String("effect", ""),
			Amplifier: e.IntRange("amplifier", 0, 0, 255),
			Duration:  e.IntRange("duration", 0, 0, 1<<20),
		})
	}
	return NewSkill(tag, skills...)
}

// NewStatusEffectFromConfig accepts either a single effect inline or an
// effects list. Entries without an effect id are skipped.
func NewStatusEffectFromConfig(tag string, cfg Config) Component {
	entries := cfg.Children("effects")
	if len(entries) == 0 && cfg.Has("effect") {
		entries = []Config{cfg}
	}
	effects := make([]EffectState, 0, len(entries))
	for _, e := range entries {
		id := e.String("effect", "")
		if id == "" {
			e.fallback("effect", nil, "missing effect id, entry skipped")
			continue
		}
		effects = append(effects, EffectState{
			ID:            id,
			Amplifier:     e.IntRange("amplifier", 0, 0, 255),
			Duration:      e.IntRange("duration", 0, 0, 1<<20),
			RenewInterval: e.IntRange("renew_interval", DefaultRenewInterval, 1, 1<<20),
		})
	}
	return NewStatusEffect(tag, effects...)
}
