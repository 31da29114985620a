// Package component implements the behaviour units carried by installed slots.
//
// Components form a closed union: Inventory, AttributeModifier, Skill and
// StatusEffect. Lifecycle hooks, cloning and encoding dispatch with a type
// switch over the variants, so adding a variant means touching every switch
// in this package and nothing outside it.
package component

import "errors"

var (
	ErrUnknownType      = errors.New("unknown component type")
	ErrDuplicateType    = errors.New("component type already registered")
	ErrNotActivatable   = errors.New("component is not activatable")
	ErrInactive         = errors.New("component is inactive")
	ErrUnknownSkill     = errors.New("unknown skill")
	ErrOnCooldown       = errors.New("skill on cooldown")
	ErrSlotFiltered     = errors.New("item not allowed in inventory slot")
	ErrIndexOutOfRange  = errors.New("inventory index out of range")
	ErrUnknownKind      = errors.New("unknown component kind")
	ErrMalformedPayload = errors.New("malformed component payload")
)

// Built-in component-type tags.
const (
	TagInventory             = "inventory"
	TagAttributeModification = "attribute_modification"
	TagSkill                 = "skill"
	TagStatusEffect          = "status_effect"
)

// Kind is the variant discriminant.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInventory
	KindAttributeModifier
	KindSkill
	KindStatusEffect
)

func (k Kind) String() string {
	switch k {
	case KindInventory:
		return "inventory"
	case KindAttributeModifier:
		return "attribute_modifier"
	case KindSkill:
		return "skill"
	case KindStatusEffect:
		return "status_effect"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "inventory":
		return KindInventory, true
	case "attribute_modifier":
		return KindAttributeModifier, true
	case "skill":
		return KindSkill, true
	case "status_effect":
		return KindStatusEffect, true
	default:
		return KindUnknown, false
	}
}

// KindForTag returns the variant behind a built-in tag.
func KindForTag(tag string) (Kind, bool) {
	switch tag {
	case TagInventory:
		return KindInventory, true
	case TagAttributeModification:
		return KindAttributeModifier, true
	case TagSkill:
		return KindSkill, true
	case TagStatusEffect:
		return KindStatusEffect, true
	default:
		return KindUnknown, false
	}
}

// Capability is a bit set of optional behaviours.
type Capability uint8

const (
	CapSerializable Capability = 1 << iota
	CapTickable
	CapActivatable
)

func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// Component is one typed behaviour unit owned by exactly one slot.
type Component interface {
	// Tag is the component-type tag the resolver reasons about.
	Tag() string
	Kind() Kind
	Active() bool
	SetActive(active bool)

	sealed()
}

type base struct {
	tag    string
	active bool
}

func (b *base) Tag() string           { return b.tag }
func (b *base) Active() bool          { return b.active }
func (b *base) SetActive(active bool) { b.active = active }
func (b *base) sealed()               {}

func (*Inventory) Kind() Kind         { return KindInventory }
func (*AttributeModifier) Kind() Kind { return KindAttributeModifier }
func (*Skill) Kind() Kind             { return KindSkill }
func (*StatusEffect) Kind() Kind      { return KindStatusEffect }

// Capabilities reports what c can do beyond install/uninstall.
func Capabilities(c Component) Capability {
	switch c.(type) {
	case *Skill:
		return CapSerializable | CapTickable | CapActivatable
	case *StatusEffect:
		return CapSerializable | CapTickable
	default:
		return CapSerializable
	}
}
