package component

import (
	"slices"

	"github.com/google/uuid"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
)

// ModifierSpec is one named delta. ID is assigned per instance so two slots
// of the same template never share a modifier id.
type ModifierSpec struct {
	ID        string           `json:"id"`
	Attribute string           `json:"attribute"`
	Amount    float64          `json:"amount"`
	Operation entity.Operation `json:"operation"`
}

// AttributeModifier applies its modifiers on install and removes exactly
// those ids on uninstall.
type AttributeModifier struct {
	base
	Modifiers []ModifierSpec
	// Applied holds the ids currently present on the entity.
	Applied []string
}

func NewAttributeModifier(tag string, mods ...ModifierSpec) *AttributeModifier {
	return &AttributeModifier{
		base:      base{tag: tag, active: true},
		Modifiers: mods,
	}
}

func (a *AttributeModifier) apply(e entity.Handle) error {
	for _, m := range a.Modifiers {
		if slices.Contains(a.Applied, m.ID) {
			continue
		}
		err := e.Attributes().AddModifier(entity.Modifier{
			ID:        m.ID,
			Attribute: m.Attribute,
			Amount:    m.Amount,
			Operation: m.Operation,
		})
		if err != nil {
			return err
		}
		a.Applied = append(a.Applied, m.ID)
	}
	return nil
}

func (a *AttributeModifier) remove(e entity.Handle) error {
	var firstErr error
	for _, m := range a.Modifiers {
		idx := slices.Index(a.Applied, m.ID)
		if idx < 0 {
			continue
		}
		if err := e.Attributes().RemoveModifier(m.Attribute, m.ID); err != nil && firstErr == nil {
			firstErr = err
		}
		a.Applied = slices.Delete(a.Applied, idx, idx+1)
	}
	return firstErr
}

func (a *AttributeModifier) clone() *AttributeModifier {
	return &AttributeModifier{
		base:      a.base,
		Modifiers: slices.Clone(a.Modifiers),
		Applied:   slices.Clone(a.Applied),
	}
}

func (a *AttributeModifier) assignIDs() {
	for i := range a.Modifiers {
		a.Modifiers[i].ID = uuid.NewString()
	}
	a.Applied = nil
}
