package persist

import (
	"fmt"
	"maps"
	"slices"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/component"
)

// Migrator upgrades a document from From to To in place.
type Migrator struct {
	From, To int
	Name     string
	Migrate  func(doc Document) error
}

// Chain holds at most one migrator per source version.
type Chain struct {
	steps map[int]Migrator
}

func NewChain(migrators ...Migrator) (*Chain, error) {
	c := &Chain{steps: make(map[int]Migrator)}
	for _, m := range migrators {
		if err := c.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DefaultChain holds the migrators for every released schema version.
func DefaultChain() *Chain {
	c, err := NewChain(
		Migrator{From: 1, To: 2, Name: "rename slots to installed_slots", Migrate: renameSlots},
		Migrator{From: 2, To: 3, Name: "stamp component kind", Migrate: stampComponentKind},
	)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Chain) Register(m Migrator) error {
	if m.To != m.From+1 || m.From <= 0 || m.To > CurrentVersion || m.Migrate == nil {
		return fmt.Errorf("invalid migrator %d->%d", m.From, m.To)
	}
	if _, ok := c.steps[m.From]; ok {
		return fmt.Errorf("duplicate migrator from version %d", m.From)
	}
	c.steps[m.From] = m
	return nil
}

// Versions returns the source versions that have a migrator.
func (c *Chain) Versions() []int {
	return slices.Sorted(maps.Keys(c.steps))
}

// Upgrade applies migrators one step at a time until doc reaches
// CurrentVersion and returns the versions it migrated from. A current
// document is returned unchanged. A gap in the chain is an error wrapping
// ErrNoMigrator; doc is left at the last version reached.
func (c *Chain) Upgrade(doc Document) ([]int, error) {
	var applied []int
	for v := doc.Version(); v < CurrentVersion; v = doc.Version() {
		m, ok := c.steps[v]
		if !ok {
			return applied, fmt.Errorf("%w: %d", ErrNoMigrator, v)
		}
		if err := m.Migrate(doc); err != nil {
			return applied, fmt.Errorf("%w: %d->%d (%s): %v", ErrMigrationFailed, m.From, m.To, m.Name, err)
		}
		doc.setVersion(m.To)
		applied = append(applied, v)
	}
	return applied, nil
}

func renameSlots(doc Document) error {
	slots, ok := doc["slots"]
	if !ok {
		return fmt.Errorf("%w: slots", ErrMissingField)
	}
	delete(doc, "slots")
	doc["installed_slots"] = slots
	return nil
}

func stampComponentKind(doc Document) error {
	slots, ok := doc["installed_slots"].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: installed_slots", ErrMissingField)
	}
	for slotID, raw := range slots {
		rec, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("slot %s is not an object", slotID)
		}
		comps, ok := rec["components"].(map[string]any)
		if !ok {
			rec["components"] = map[string]any{}
			continue
		}
		for tag, rawComp := range comps {
			comp, ok := rawComp.(map[string]any)
			if !ok {
				return fmt.Errorf("slot %s component %s is not an object", slotID, tag)
			}
			if _, ok := comp["kind"]; !ok {
				kind, ok := inferKind(tag, comp)
				if !ok {
					return fmt.Errorf("slot %s component %s: cannot infer kind", slotID, tag)
				}
				comp["kind"] = kind.String()
			}
			if _, ok := comp["active"]; !ok {
				comp["active"] = true
			}
		}
	}
	return nil
}

// inferKind uses the built-in tag, then the variant's characteristic field.
func inferKind(tag string, comp map[string]any) (component.Kind, bool) {
	if kind, ok := component.KindForTag(tag); ok {
		return kind, true
	}
	switch {
	case comp["stacks"] != nil:
		return component.KindInventory, true
	case comp["modifiers"] != nil:
		return component.KindAttributeModifier, true
	case comp["skills"] != nil:
		return component.KindSkill, true
	case comp["effects"] != nil:
		return component.KindStatusEffect, true
	}
	return component.KindUnknown, false
}
