// Package slot implements the per-entity runtime instance of a template.
package slot

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/component"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/template"
)

var (
	ErrUnknownComponent = errors.New("slot has no such component")
	ErrNotInstalled     = errors.New("slot is not installed")
	ErrMalformedRecord  = errors.New("malformed slot record")
)

type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

// Slot owns one instance of every component of its template. Install and
// Uninstall are idempotent; a slot is not safe for concurrent use.
type Slot struct {
	id         ID
	templateID string
	slotType   string
	components []template.Blueprint
	installed  bool
}

// New instantiates t into a fresh, uninstalled slot.
func New(t *template.Template) *Slot {
	return &Slot{
		id:         NewID(),
		templateID: t.ID(),
		slotType:   t.SlotType(),
		components: t.Instantiate(),
	}
}

func (s *Slot) ID() ID             { return s.id }
func (s *Slot) TemplateID() string { return s.templateID }
func (s *Slot) SlotType() string   { return s.slotType }
func (s *Slot) Installed() bool    { return s.installed }

// Tags returns the component tags in install order.
func (s *Slot) Tags() []string {
	tags := make([]string, len(s.components))
	for i, c := range s.components {
		tags[i] = c.Tag
	}
	return tags
}

func (s *Slot) Component(tag string) (component.Component, bool) {
	for _, c := range s.components {
		if c.Tag == tag {
			return c.Component, true
		}
	}
	return nil, false
}

// Install runs every install hook in order and marks the slot installed. If
// a hook fails, the hooks that already ran are reversed and the slot stays
// uninstalled.
func (s *Slot) Install(e entity.Handle) error {
	if s.installed {
		return nil
	}
	for i, c := range s.components {
		if err := component.Install(c.Component, e); err != nil {
			for j := i; j >= 0; j-- {
				_ = component.Uninstall(s.components[j].Component, e)
			}
			return fmt.Errorf("install %s: %w", c.Tag, err)
		}
	}
	s.installed = true
	return nil
}

// Uninstall runs every uninstall hook in reverse order. All hooks run even
// if some fail; the slot ends uninstalled either way.
func (s *Slot) Uninstall(e entity.Handle) error {
	if !s.installed {
		return nil
	}
	var errs []error
	for i := len(s.components) - 1; i >= 0; i-- {
		c := s.components[i]
		if err := component.Uninstall(c.Component, e); err != nil {
			errs = append(errs, fmt.Errorf("uninstall %s: %w", c.Tag, err))
		}
	}
	s.installed = false
	return errors.Join(errs...)
}

// Restore re-applies side effects after the slot was loaded from a record
// for a new entity session.
func (s *Slot) Restore(e entity.Handle) error {
	if !s.installed {
		return nil
	}
	for _, c := range s.components {
		component.ForgetAttachments(c.Component)
	}
	s.installed = false
	return s.Install(e)
}

// Tick forwards to active components of an installed slot.
func (s *Slot) Tick(e entity.Handle) {
	if !s.installed {
		return
	}
	for _, c := range s.components {
		if c.Component.Active() {
			component.Tick(c.Component, e)
		}
	}
}

// Activate routes an update request to the component under tag.
func (s *Slot) Activate(e entity.Handle, tag string, payload []byte) error {
	if !s.installed {
		return ErrNotInstalled
	}
	c, ok := s.Component(tag)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, tag)
	}
	return component.Activate(c, e, payload)
}

// Record is the persisted and wire form of a slot.
type Record struct {
	TemplateID string                      `json:"template_id"`
	SlotType   string                      `json:"slot_type,omitempty"`
	Installed  bool                        `json:"installed"`
	Components map[string]component.Record `json:"components"`
}

func (s *Slot) Record() Record {
	rec := Record{
		TemplateID: s.templateID,
		SlotType:   s.slotType,
		Installed:  s.installed,
		Components: make(map[string]component.Record, len(s.components)),
	}
	for _, c := range s.components {
		rec.Components[c.Tag] = component.Encode(c.Component)
	}
	return rec
}

// FromRecord rebuilds a slot. When t is the slot's template its declaration
// order decides install order; tags unknown to t follow in sorted order.
func FromRecord(id ID, rec Record, t *template.Template) (*Slot, error) {
	if id == "" || rec.TemplateID == "" {
		return nil, fmt.Errorf("%w: missing id or template id", ErrMalformedRecord)
	}
	s := &Slot{
		id:         id,
		templateID: rec.TemplateID,
		slotType:   rec.SlotType,
		installed:  rec.Installed,
	}
	if t != nil && s.slotType == "" {
		s.slotType = t.SlotType()
	}
	for _, tag := range orderTags(rec.Components, t) {
		c, err := component.Decode(tag, rec.Components[tag])
		if err != nil {
			return nil, fmt.Errorf("%w: slot %s: %v", ErrMalformedRecord, id, err)
		}
		s.components = append(s.components, template.Blueprint{Tag: tag, Component: c})
	}
	return s, nil
}

func orderTags(components map[string]component.Record, t *template.Template) []string {
	var ordered []string
	if t != nil {
		for _, tag := range t.Tags() {
			if _, ok := components[tag]; ok {
				ordered = append(ordered, tag)
			}
		}
	}
	var rest []string
	for tag := range components {
		if !slices.Contains(ordered, tag) {
			rest = append(rest, tag)
		}
	}
	sort.Strings(rest)
	return append(ordered, rest...)
}

// View is a read-only summary handed to callers outside the runtime.
type View struct {
	ID         ID
	TemplateID string
	SlotType   string
	Installed  bool
	Components []ComponentView
}

type ComponentView struct {
	Tag    string
	Kind   component.Kind
	Active bool
}

func (s *Slot) View() View {
	v := View{
		ID:         s.id,
		TemplateID: s.templateID,
		SlotType:   s.slotType,
		Installed:  s.installed,
		Components: make([]ComponentView, len(s.components)),
	}
	for i, c := range s.components {
		v.Components[i] = ComponentView{Tag: c.Tag, Kind: c.Component.Kind(), Active: c.Component.Active()}
	}
	return v
}
