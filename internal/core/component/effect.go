package component

import (
	"slices"

	"github.com/google/uuid"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
)

const DefaultRenewInterval = 100

// EffectState is one status effect. Duration 0 is permanent; otherwise
// Remaining starts at Duration when the component is instantiated, counts
// down while installed and the effect is removed at zero. Every
// RenewInterval ticks the effect is applied again so hosts that clear
// effects (death, cures) get it back.
type EffectState struct {
	ID            string `json:"id"`
	Amplifier     int    `json:"amplifier"`
	Duration      int    `json:"duration"`
	RenewInterval int    `json:"renew_interval"`
	Remaining     int    `json:"remaining"`
	SinceRenew    int    `json:"since_renew"`
}

func (e EffectState) Permanent() bool {
	return e.Duration == 0
}

func (e EffectState) Expired() bool {
	return !e.Permanent() && e.Remaining <= 0
}

// StatusEffect applies its effects under Source, a per-instance id, so two
// slots granting the same effect id hold it independently.
type StatusEffect struct {
	base
	Source  string
	Effects []EffectState
}

func NewStatusEffect(tag string, effects ...EffectState) *StatusEffect {
	return &StatusEffect{
		base:    base{tag: tag, active: true},
		Effects: effects,
	}
}

func (s *StatusEffect) apply(e entity.Handle) error {
	for i := range s.Effects {
		st := &s.Effects[i]
		if st.Expired() {
			continue
		}
		if err := e.Effects().ApplyEffect(st.entityEffect(s.Source)); err != nil {
			return err
		}
		st.SinceRenew = 0
	}
	return nil
}

func (s *StatusEffect) remove(e entity.Handle) error {
	var firstErr error
	for _, st := range s.Effects {
		if err := e.Effects().RemoveEffect(st.ID, s.Source); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *StatusEffect) tick(e entity.Handle) {
	live := 0
	for i := range s.Effects {
		st := &s.Effects[i]
		if st.Expired() {
			continue
		}
		if !st.Permanent() {
			st.Remaining--
			if st.Remaining <= 0 {
				_ = e.Effects().RemoveEffect(st.ID, s.Source)
				continue
			}
		}
		live++
		st.SinceRenew++
		if st.RenewInterval > 0 && st.SinceRenew >= st.RenewInterval {
			_ = e.Effects().ApplyEffect(st.entityEffect(s.Source))
			st.SinceRenew = 0
		}
	}
	if live == 0 {
		s.active = false
	}
}

func (st EffectState) entityEffect(source string) entity.Effect {
	duration := st.Remaining
	if st.Permanent() {
		duration = 0
	}
	return entity.Effect{ID: st.ID, Source: source, Amplifier: st.Amplifier, Duration: duration}
}

func (s *StatusEffect) clone() *StatusEffect {
	return &StatusEffect{base: s.base, Source: s.Source, Effects: slices.Clone(s.Effects)}
}

// start resets runtime state for a fresh instance.
func (s *StatusEffect) start() {
	s.Source = uuid.NewString()
	for i := range s.Effects {
		st := &s.Effects[i]
		st.Remaining = st.Duration
		st.SinceRenew = 0
	}
}
