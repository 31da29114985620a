// Package entity defines the handle through which components touch the game
// world. Components never reach game state any other way.
package entity

import (
	"math"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/storage"
)

// ID is the stable identity of an entity across sessions.
type ID string

// Handle is implemented by the host game for every entity that can carry modifications.
type Handle interface {
	ID() ID
	// Remote reports whether a mirror on another process watches this entity.
	Remote() bool
	Position() Vec3

	Attributes() AttributeSink
	Inventory() InventorySink
	Effects() EffectSink
	Documents() storage.Documents
}

// Operation is how a modifier combines with the base attribute value.
type Operation string

const (
	OpAdd           Operation = "add"
	OpMultiplyBase  Operation = "multiply_base"
	OpMultiplyTotal Operation = "multiply_total"
)

// Modifier is a named numeric delta on one attribute.
type Modifier struct {
	ID        string
	Attribute string
	Amount    float64
	Operation Operation
}

type AttributeSink interface {
	AddModifier(m Modifier) error
	RemoveModifier(attribute, modifierID string) error
}

// ItemStack is a quantity of one item kind. The zero value is an empty stack.
type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

func (s ItemStack) Empty() bool {
	return s.Item == "" || s.Count <= 0
}

type InventorySink interface {
	Size() int
	Stack(index int) ItemStack
	SetStack(index int, stack ItemStack) error
	ClearStack(index int) error
}

// Effect is a status effect application. Duration 0 means permanent.
// Source identifies the component instance that applied it; several sources
// may hold the same effect id at once.
type Effect struct {
	ID        string
	Source    string
	Amplifier int
	Duration  int
}

// EffectSink keeps one application per (id, source). An effect id stays on
// the entity while any source still holds it.
type EffectSink interface {
	ApplyEffect(e Effect) error
	RemoveEffect(id, source string) error
}

// Vec3 is a world position.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) DistanceTo(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
