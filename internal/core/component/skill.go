package component

import (
	"fmt"
	"slices"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
)

const DefaultSkillCooldown = 20

// SkillState is one named action gated by its own cooldown, counted in ticks.
type SkillState struct {
	Name      string `json:"name"`
	Cooldown  int    `json:"cooldown"`
	Remaining int    `json:"remaining"`
	Uses      int    `json:"uses"`
	// Optional effect applied to the activating entity.
	Effect    string `json:"effect,omitempty"`
	Amplifier int    `json:"amplifier,omitempty"`
	Duration  int    `json:"duration,omitempty"`
}

// Skill effects are applied under Source, a per-instance id.
type Skill struct {
	base
	Source string
	Skills []SkillState
}

func NewSkill(tag string, skills ...SkillState) *Skill {
	return &Skill{
		base:   base{tag: tag, active: true},
		Skills: skills,
	}
}

// Ready reports whether the named skill can fire now.
func (s *Skill) Ready(name string) bool {
	idx := s.index(name)
	return idx >= 0 && s.Skills[idx].Remaining == 0
}

func (s *Skill) index(name string) int {
	return slices.IndexFunc(s.Skills, func(st SkillState) bool { return st.Name == name })
}

func (s *Skill) activate(e entity.Handle, name string) error {
	if !s.active {
		return ErrInactive
	}
	idx := s.index(name)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSkill, name)
	}
	st := &s.Skills[idx]
	if st.Remaining > 0 {
		return fmt.Errorf("%w: %s (%d ticks left)", ErrOnCooldown, name, st.Remaining)
	}
	if st.Effect != "" {
		err := e.Effects().ApplyEffect(entity.Effect{ID: st.Effect, Source: s.Source, Amplifier: st.Amplifier, Duration: st.Duration})
		if err != nil {
			return err
		}
	}
	st.Remaining = st.Cooldown
	st.Uses++
	return nil
}

func (s *Skill) tick() {
	for i := range s.Skills {
		if s.Skills[i].Remaining > 0 {
			s.Skills[i].Remaining--
		}
	}
}

func (s *Skill) clone() *Skill {
	return &Skill{base: s.base, Source: s.Source, Skills: slices.Clone(s.Skills)}
}
