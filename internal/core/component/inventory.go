package component

import (
	"fmt"
	"slices"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
)

const (
	DefaultInventorySize = 9
	MaxInventorySize     = 54
	DefaultMaxStack      = 64
)

// Inventory is a fixed-size set of item stacks with optional per-slot filters.
type Inventory struct {
	base
	MaxStack int
	// Filters maps a slot index to the items it accepts. Missing index accepts anything.
	Filters map[int][]string
	Stacks  []entity.ItemStack
}

func NewInventory(tag string, size, maxStack int) *Inventory {
	return &Inventory{
		base:     base{tag: tag, active: true},
		MaxStack: maxStack,
		Filters:  make(map[int][]string),
		Stacks:   make([]entity.ItemStack, size),
	}
}

func (inv *Inventory) Size() int {
	return len(inv.Stacks)
}

// Accepts reports whether item may be placed in slot index.
func (inv *Inventory) Accepts(index int, item string) bool {
	allowed, ok := inv.Filters[index]
	if !ok || len(allowed) == 0 {
		return true
	}
	return slices.Contains(allowed, item)
}

// Insert merges stack into slot index and returns what did not fit.
func (inv *Inventory) Insert(index int, stack entity.ItemStack) (entity.ItemStack, error) {
	if index < 0 || index >= len(inv.Stacks) {
		return stack, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if stack.Empty() {
		return entity.ItemStack{}, nil
	}
	if !inv.Accepts(index, stack.Item) {
		return stack, fmt.Errorf("%w: %s in slot %d", ErrSlotFiltered, stack.Item, index)
	}
	current := inv.Stacks[index]
	if !current.Empty() && current.Item != stack.Item {
		return stack, nil
	}
	room := inv.MaxStack - current.Count
	if current.Empty() {
		room = inv.MaxStack
		current = entity.ItemStack{Item: stack.Item}
	}
	// a decoded stack may already hold more than MaxStack
	moved := max(0, min(room, stack.Count))
	current.Count += moved
	inv.Stacks[index] = current

	stack.Count -= moved
	if stack.Count <= 0 {
		return entity.ItemStack{}, nil
	}
	return stack, nil
}

// Extract removes and returns the stack at index.
func (inv *Inventory) Extract(index int) (entity.ItemStack, error) {
	if index < 0 || index >= len(inv.Stacks) {
		return entity.ItemStack{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	out := inv.Stacks[index]
	inv.Stacks[index] = entity.ItemStack{}
	return out, nil
}

// spill moves every stack into empty slots of the entity inventory and keeps
// whatever does not fit.
func (inv *Inventory) spill(sink entity.InventorySink) (moved int) {
	next := 0
	for i, stack := range inv.Stacks {
		if stack.Empty() {
			continue
		}
		for next < sink.Size() && !sink.Stack(next).Empty() {
			next++
		}
		if next >= sink.Size() {
			return moved
		}
		if err := sink.SetStack(next, stack); err != nil {
			return moved
		}
		inv.Stacks[i] = entity.ItemStack{}
		moved++
		next++
	}
	return moved
}

func (inv *Inventory) clone() *Inventory {
	out := &Inventory{
		base:     inv.base,
		MaxStack: inv.MaxStack,
		Filters:  make(map[int][]string, len(inv.Filters)),
		Stacks:   slices.Clone(inv.Stacks),
	}
	for k, v := range inv.Filters {
		out.Filters[k] = slices.Clone(v)
	}
	return out
}
