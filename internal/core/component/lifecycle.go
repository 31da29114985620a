package component

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
)

// Install runs the install hook of c against e.
func Install(c Component, e entity.Handle) error {
	switch v := c.(type) {
	case *Inventory:
		return nil
	case *AttributeModifier:
		return v.apply(e)
	case *Skill:
		return nil
	case *StatusEffect:
		return v.apply(e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownKind, c)
	}
}

// Uninstall reverses every side effect Install applied.
func Uninstall(c Component, e entity.Handle) error {
	switch v := c.(type) {
	case *Inventory:
		v.spill(e.Inventory())
		return nil
	case *AttributeModifier:
		return v.remove(e)
	case *Skill:
		return nil
	case *StatusEffect:
		return v.remove(e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownKind, c)
	}
}

// Tick advances tickable components by one game tick.
func Tick(c Component, e entity.Handle) {
	switch v := c.(type) {
	case *Skill:
		v.tick()
	case *StatusEffect:
		v.tick(e)
	}
}

// Activate handles a component update request. For skills the payload is the
// skill name.
func Activate(c Component, e entity.Handle, payload []byte) error {
	switch v := c.(type) {
	case *Skill:
		if len(payload) == 0 {
			return fmt.Errorf("%w: empty skill name", ErrMalformedPayload)
		}
		return v.activate(e, string(payload))
	default:
		return fmt.Errorf("%w: %s", ErrNotActivatable, c.Tag())
	}
}

// Clone deep-copies c, including runtime state.
func Clone(c Component) Component {
	switch v := c.(type) {
	case *Inventory:
		return v.clone()
	case *AttributeModifier:
		return v.clone()
	case *Skill:
		return v.clone()
	case *StatusEffect:
		return v.clone()
	default:
		return nil
	}
}

// Instantiate clones a blueprint into a fresh per-slot instance: runtime
// state is reset and per-instance ids are assigned.
func Instantiate(blueprint Component) Component {
	switch v := blueprint.(type) {
	case *Inventory:
		out := v.clone()
		for i := range out.Stacks {
			out.Stacks[i] = entity.ItemStack{}
		}
		return out
	case *AttributeModifier:
		out := v.clone()
		out.assignIDs()
		return out
	case *Skill:
		out := v.clone()
		out.Source = uuid.NewString()
		for i := range out.Skills {
			out.Skills[i].Remaining = 0
			out.Skills[i].Uses = 0
		}
		return out
	case *StatusEffect:
		out := v.clone()
		out.start()
		return out
	default:
		return nil
	}
}

// ForgetAttachments drops the record of side effects applied to a previous
// entity session, so the next Install applies them again.
func ForgetAttachments(c Component) {
	if v, ok := c.(*AttributeModifier); ok {
		v.Applied = nil
	}
}
