// Package template holds the immutable modification blueprints and the
// registry they are served from.
package template

import (
	"errors"
	"slices"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/component"
)

const DefaultMaxInstances = 1

var ErrInvalidTemplate = errors.New("invalid template")

// Blueprint is one component of a template. Blueprints are never installed
// directly; slots receive instances made by component.Instantiate.
type Blueprint struct {
	Tag       string
	Component component.Component
}

// Template is an immutable modification blueprint.
type Template struct {
	id           string
	displayName  string
	description  string
	slotType     string
	maxInstances int
	configurable bool
	blueprints   []Blueprint
}

type Option func(*Template)

func WithDisplayName(name string) Option {
	return func(t *Template) { t.displayName = name }
}

func WithDescription(desc string) Option {
	return func(t *Template) { t.description = desc }
}

func WithSlotType(slotType string) Option {
	return func(t *Template) { t.slotType = slotType }
}

// WithMaxInstances sets the per-entity install ceiling. Values below one
// are raised to one.
func WithMaxInstances(n int) Option {
	return func(t *Template) { t.maxInstances = max(n, 1) }
}

func WithConfigurable(configurable bool) Option {
	return func(t *Template) { t.configurable = configurable }
}

// WithComponent appends a blueprint. A repeated tag replaces the earlier
// blueprint in place.
func WithComponent(tag string, c component.Component) Option {
	return func(t *Template) {
		if idx := slices.IndexFunc(t.blueprints, func(b Blueprint) bool { return b.Tag == tag }); idx >= 0 {
			t.blueprints[idx].Component = c
			return
		}
		t.blueprints = append(t.blueprints, Blueprint{Tag: tag, Component: c})
	}
}

// New builds a template. It fails only when id is empty or a blueprint is nil.
func New(id string, opts ...Option) (*Template, error) {
	if id == "" {
		return nil, errors.Join(ErrInvalidTemplate, errors.New("empty id"))
	}
	t := &Template{id: id, displayName: id, maxInstances: DefaultMaxInstances}
	for _, opt := range opts {
		opt(t)
	}
	for _, b := range t.blueprints {
		if b.Component == nil {
			return nil, errors.Join(ErrInvalidTemplate, errors.New("nil component "+b.Tag))
		}
	}
	return t, nil
}

// MustNew is New for static definitions.
func MustNew(id string, opts ...Option) *Template {
	t, err := New(id, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) ID() string          { return t.id }
func (t *Template) DisplayName() string { return t.displayName }
func (t *Template) Description() string { return t.description }
func (t *Template) SlotType() string    { return t.slotType }
func (t *Template) MaxInstances() int   { return t.maxInstances }
func (t *Template) Configurable() bool  { return t.configurable }

// Tags returns the component-type tags in declaration order.
func (t *Template) Tags() []string {
	tags := make([]string, len(t.blueprints))
	for i, b := range t.blueprints {
		tags[i] = b.Tag
	}
	return tags
}

// Instantiate returns fresh per-slot component instances in declaration order.
func (t *Template) Instantiate() []Blueprint {
	out := make([]Blueprint, len(t.blueprints))
	for i, b := range t.blueprints {
		out[i] = Blueprint{Tag: b.Tag, Component: component.Instantiate(b.Component)}
	}
	return out
}

// Blueprint returns a copy of the blueprint for tag.
func (t *Template) Blueprint(tag string) (component.Component, bool) {
	for _, b := range t.blueprints {
		if b.Tag == tag {
			return component.Clone(b.Component), true
		}
	}
	return nil, false
}
