package component

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
)

// Record is the persisted and wire form of a component. Kind selects which
// of the variant fields are meaningful; the others stay empty.
type Record struct {
	Kind   string `json:"kind"`
	Active bool   `json:"active"`
	// Source is the instance id skills and status effects apply effects under.
	Source string `json:"source,omitempty"`

	// inventory
	MaxStack int                 `json:"max_stack,omitempty"`
	Filters  map[string][]string `json:"filters,omitempty"`
	Stacks   []entity.ItemStack  `json:"stacks,omitempty"`

	// attribute modifier
	Modifiers []ModifierSpec `json:"modifiers,omitempty"`
	Applied   []string       `json:"applied,omitempty"`

	// skill
	Skills []SkillState `json:"skills,omitempty"`

	// status effect
	Effects []EffectState `json:"effects,omitempty"`
}

// Encode converts c into its record.
func Encode(c Component) Record {
	rec := Record{Kind: c.Kind().String(), Active: c.Active()}
	switch v := c.(type) {
	case *Inventory:
		rec.MaxStack = v.MaxStack
		rec.Stacks = slices.Clone(v.Stacks)
		if len(v.Filters) > 0 {
			rec.Filters = make(map[string][]string, len(v.Filters))
			for idx, items := range v.Filters {
				rec.Filters[strconv.Itoa(idx)] = slices.Clone(items)
			}
		}
	case *AttributeModifier:
		rec.Modifiers = slices.Clone(v.Modifiers)
		rec.Applied = slices.Clone(v.Applied)
	case *Skill:
		rec.Source = v.Source
		rec.Skills = slices.Clone(v.Skills)
	case *StatusEffect:
		rec.Source = v.Source
		rec.Effects = slices.Clone(v.Effects)
	}
	return rec
}

// Decode rebuilds a component for tag from rec.
func Decode(tag string, rec Record) (Component, error) {
	kind, ok := ParseKind(rec.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q for %s", ErrUnknownKind, rec.Kind, tag)
	}
	b := base{tag: tag, active: rec.Active}
	switch kind {
	case KindInventory:
		inv := &Inventory{
			base:     b,
			MaxStack: rec.MaxStack,
			Filters:  make(map[int][]string, len(rec.Filters)),
			Stacks:   slices.Clone(rec.Stacks),
		}
		if inv.MaxStack <= 0 {
			inv.MaxStack = DefaultMaxStack
		}
		for key, items := range rec.Filters {
			idx, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("inventory filter index %q: %w", key, err)
			}
			inv.Filters[idx] = slices.Clone(items)
		}
		return inv, nil
	case KindAttributeModifier:
		return &AttributeModifier{base: b, Modifiers: slices.Clone(rec.Modifiers), Applied: slices.Clone(rec.Applied)}, nil
	case KindSkill:
		return &Skill{base: b, Source: rec.Source, Skills: slices.Clone(rec.Skills)}, nil
	case KindStatusEffect:
		return &StatusEffect{base: b, Source: rec.Source, Effects: slices.Clone(rec.Effects)}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}
