package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
)

func newEntity() *entity.Local {
	return entity.NewLocal("e1", nil, 9, false)
}

func newFactory(t *testing.T) *Factory {
	t.Helper()
	f := NewFactory(log.Nop(), nil)
	require.NoError(t, RegisterBuiltins(f))
	return f
}

func TestRegisterBuiltins(t *testing.T) {
	f := newFactory(t)
	assert.Equal(t, []string{TagAttributeModification, TagInventory, TagSkill, TagStatusEffect}, f.Tags())

	err := f.Register(TagSkill, NewSkillFromConfig, Metadata{})
	assert.ErrorIs(t, err, ErrDuplicateType)

	meta, ok := f.Metadata(TagSkill)
	require.True(t, ok)
	assert.Equal(t, []string{TagStatusEffect}, meta.SynergizesWith)
}

func TestCreateUnknownTagIsInactivePlaceholder(t *testing.T) {
	f := newFactory(t)
	c := f.Create("laser", map[string]any{"power": 9000})
	require.NotNil(t, c)
	assert.Equal(t, "laser", c.Tag())
	assert.False(t, c.Active())

	e := newEntity()
	require.NoError(t, Install(c, e))
	assert.Empty(t, e.ActiveEffects())
}

func TestInventoryDefaults(t *testing.T) {
	f := newFactory(t)
	tests := []struct {
		name     string
		cfg      map[string]any
		size     int
		maxStack int
	}{
		{"empty", nil, 9, 64},
		{"int", map[string]any{"size": 27}, 27, 64},
		{"float", map[string]any{"size": 18.0}, 18, 64},
		{"string", map[string]any{"size": "12"}, 12, 64},
		{"garbage", map[string]any{"size": "lots"}, 9, 64},
		{"fractional", map[string]any{"size": 3.5}, 9, 64},
		{"too big", map[string]any{"size": 500}, MaxInventorySize, 64},
		{"too small", map[string]any{"size": 0, "max_stack": -4}, 1, 1},
		{"max stack", map[string]any{"max_stack": "16"}, 9, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, ok := f.Create(TagInventory, tt.cfg).(*Inventory)
			require.True(t, ok)
			assert.Equal(t, tt.size, inv.Size())
			assert.Equal(t, tt.maxStack, inv.MaxStack)
			assert.True(t, inv.Active())
		})
	}
}

func TestFallbacksAreReported(t *testing.T) {
	var got []Fallback
	cfg := NewConfig(TagInventory, map[string]any{"size": "x", "max_stack": 99}, func(fb Fallback) {
		got = append(got, fb)
	})
	assert.Equal(t, 9, cfg.IntRange("size", 9, 1, 54))
	assert.Equal(t, 64, cfg.IntRange("max_stack", 64, 1, 64))
	require.Len(t, got, 2)
	assert.Equal(t, "size", got[0].Field)
	assert.Equal(t, "max_stack", got[1].Field)
	assert.Equal(t, TagInventory, got[1].Tag)
}

func TestConfigBool(t *testing.T) {
	cfg := NewConfig("x", map[string]any{"a": "yes", "b": 0, "c": "maybe", "d": true}, nil)
	assert.True(t, cfg.Bool("a", false))
	assert.False(t, cfg.Bool("b", true))
	assert.True(t, cfg.Bool("c", true))
	assert.True(t, cfg.Bool("d", false))
	assert.False(t, cfg.Bool("missing", false))
}

func TestInventoryFilters(t *testing.T) {
	f := newFactory(t)
	inv := f.Create(TagInventory, map[string]any{
		"size":    2,
		"filters": map[string]any{"0": "arrow", "1": []any{"bolt", "dart"}, "7": "rock"},
	}).(*Inventory)

	assert.True(t, inv.Accepts(0, "arrow"))
	assert.False(t, inv.Accepts(0, "bolt"))
	assert.True(t, inv.Accepts(1, "dart"))
	assert.NotContains(t, inv.Filters, 7)

	_, err := inv.Insert(0, entity.ItemStack{Item: "bolt", Count: 1})
	assert.ErrorIs(t, err, ErrSlotFiltered)

	rest, err := inv.Insert(0, entity.ItemStack{Item: "arrow", Count: 70})
	require.NoError(t, err)
	assert.Equal(t, 6, rest.Count)
	assert.Equal(t, 64, inv.Stacks[0].Count)

	_, err = inv.Insert(5, entity.ItemStack{Item: "arrow", Count: 1})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestAttributeModifierInstallIsIdempotent(t *testing.T) {
	f := newFactory(t)
	blueprint := f.Create(TagAttributeModification, map[string]any{
		"modifiers": []any{
			map[string]any{"attribute": "attack_damage", "amount": 3},
			map[string]any{"attribute": "attack_speed", "amount": "0.5", "operation": "multiply_base"},
		},
	})
	c := Instantiate(blueprint)

	e := newEntity()
	e.SetBase("attack_damage", 1)
	e.SetBase("attack_speed", 4)

	require.NoError(t, Install(c, e))
	require.NoError(t, Install(c, e))
	assert.Len(t, e.Modifiers("attack_damage"), 1)
	assert.InDelta(t, 4.0, e.Attribute("attack_damage"), 1e-9)
	assert.InDelta(t, 6.0, e.Attribute("attack_speed"), 1e-9)

	require.NoError(t, Uninstall(c, e))
	assert.Empty(t, e.Modifiers("attack_damage"))
	assert.Empty(t, e.Modifiers("attack_speed"))
	assert.InDelta(t, 1.0, e.Attribute("attack_damage"), 1e-9)
}

func TestInstantiateAssignsFreshModifierIDs(t *testing.T) {
	f := newFactory(t)
	blueprint := f.Create(TagAttributeModification, map[string]any{"attribute": "armor", "amount": 2})

	a := Instantiate(blueprint).(*AttributeModifier)
	b := Instantiate(blueprint).(*AttributeModifier)
	require.Len(t, a.Modifiers, 1)
	assert.NotEmpty(t, a.Modifiers[0].ID)
	assert.NotEqual(t, a.Modifiers[0].ID, b.Modifiers[0].ID)

	e := newEntity()
	require.NoError(t, Install(a, e))
	require.NoError(t, Install(b, e))
	assert.InDelta(t, 4.0, e.Attribute("armor"), 1e-9)

	require.NoError(t, Uninstall(a, e))
	assert.InDelta(t, 2.0, e.Attribute("armor"), 1e-9)
}

func TestUnknownOperationFallsBackToAdd(t *testing.T) {
	f := newFactory(t)
	c := f.Create(TagAttributeModification, map[string]any{"attribute": "armor", "operation": "explode"}).(*AttributeModifier)
	assert.Equal(t, entity.OpAdd, c.Modifiers[0].Operation)

	c = f.Create(TagAttributeModification, map[string]any{"attribute": "armor", "operation": 2}).(*AttributeModifier)
	assert.Equal(t, entity.OpMultiplyTotal, c.Modifiers[0].Operation)
}

func TestSkillCooldown(t *testing.T) {
	f := newFactory(t)
	c := Instantiate(f.Create(TagSkill, map[string]any{
		"name": "dash", "cooldown": 2, "effect": "speed", "duration": 40,
	}))
	e := newEntity()

	require.NoError(t, Activate(c, e, []byte("dash")))
	assert.Contains(t, e.ActiveEffects(), "speed")

	err := Activate(c, e, []byte("dash"))
	assert.ErrorIs(t, err, ErrOnCooldown)

	Tick(c, e)
	Tick(c, e)
	assert.True(t, c.(*Skill).Ready("dash"))
	require.NoError(t, Activate(c, e, []byte("dash")))
	assert.Equal(t, 2, c.(*Skill).Skills[0].Uses)

	assert.ErrorIs(t, Activate(c, e, []byte("blink")), ErrUnknownSkill)
	assert.ErrorIs(t, Activate(c, e, nil), ErrMalformedPayload)

	c.SetActive(false)
	assert.ErrorIs(t, Activate(c, e, []byte("dash")), ErrInactive)
}

func TestSkillDefaults(t *testing.T) {
	f := newFactory(t)
	c := f.Create(TagSkill, map[string]any{"cooldown": "soon"}).(*Skill)
	require.Len(t, c.Skills, 1)
	assert.Equal(t, TagSkill, c.Skills[0].Name)
	assert.Equal(t, DefaultSkillCooldown, c.Skills[0].Cooldown)
}

func TestActivateNonSkill(t *testing.T) {
	f := newFactory(t)
	c := f.Create(TagInventory, nil)
	assert.ErrorIs(t, Activate(c, newEntity(), []byte("x")), ErrNotActivatable)
}

func TestStatusEffectTimedAndRenewed(t *testing.T) {
	f := newFactory(t)
	timed := Instantiate(f.Create(TagStatusEffect, map[string]any{"effect": "glow", "duration": 3}))
	permanent := Instantiate(f.Create(TagStatusEffect, map[string]any{"effect": "night_vision", "renew_interval": 2}))
	e := newEntity()

	require.NoError(t, Install(timed, e))
	require.NoError(t, Install(permanent, e))
	assert.Contains(t, e.ActiveEffects(), "glow")
	assert.Equal(t, 0, e.ActiveEffects()["night_vision"].Duration)

	for range 3 {
		Tick(timed, e)
	}
	assert.NotContains(t, e.ActiveEffects(), "glow")
	assert.False(t, timed.Active())

	e.ClearEffect("night_vision")
	Tick(permanent, e)
	Tick(permanent, e)
	assert.Contains(t, e.ActiveEffects(), "night_vision")
	assert.True(t, permanent.Active())

	require.NoError(t, Uninstall(permanent, e))
	assert.NotContains(t, e.ActiveEffects(), "night_vision")
}

func TestStatusEffectExpiredStaysExpired(t *testing.T) {
	f := newFactory(t)
	c := Instantiate(f.Create(TagStatusEffect, map[string]any{"effect": "haste", "duration": 2})).(*StatusEffect)
	e := newEntity()
	require.NoError(t, Install(c, e))
	assert.Equal(t, 2, c.Effects[0].Remaining)

	Tick(c, e)
	Tick(c, e)
	assert.False(t, c.Active())
	assert.Empty(t, e.ActiveEffects())

	restored, err := Decode(TagStatusEffect, Encode(c))
	require.NoError(t, err)
	next := newEntity()
	require.NoError(t, Install(restored, next))
	assert.Empty(t, next.ActiveEffects())
	assert.Zero(t, restored.(*StatusEffect).Effects[0].Remaining)
}

func TestStatusEffectInstancesHoldEffectSeparately(t *testing.T) {
	f := newFactory(t)
	blueprint := f.Create(TagStatusEffect, map[string]any{"effect": "regeneration"})
	a, b := Instantiate(blueprint).(*StatusEffect), Instantiate(blueprint).(*StatusEffect)
	assert.NotEqual(t, a.Source, b.Source)

	e := newEntity()
	require.NoError(t, Install(a, e))
	require.NoError(t, Install(b, e))
	require.NoError(t, Uninstall(a, e))
	assert.Contains(t, e.ActiveEffects(), "regeneration")
	assert.Equal(t, []string{b.Source}, e.EffectSources("regeneration"))

	require.NoError(t, Uninstall(b, e))
	assert.Empty(t, e.ActiveEffects())
}

func TestStatusEffectDefaults(t *testing.T) {
	f := newFactory(t)
	c := f.Create(TagStatusEffect, map[string]any{"effect": "regen", "amplifier": "x"}).(*StatusEffect)
	require.Len(t, c.Effects, 1)
	assert.Equal(t, 0, c.Effects[0].Amplifier)
	assert.Equal(t, 0, c.Effects[0].Duration)
	assert.Equal(t, DefaultRenewInterval, c.Effects[0].RenewInterval)
}

func TestInventoryInsertIntoOverfullStack(t *testing.T) {
	f := newFactory(t)
	inv := f.Create(TagInventory, map[string]any{"size": 1, "max_stack": 16}).(*Inventory)
	inv.Stacks[0] = entity.ItemStack{Item: "arrow", Count: 20}

	rest, err := inv.Insert(0, entity.ItemStack{Item: "arrow", Count: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, rest.Count)
	assert.Equal(t, 20, inv.Stacks[0].Count)
}

func TestInventoryUninstallSpills(t *testing.T) {
	f := newFactory(t)
	inv := Instantiate(f.Create(TagInventory, map[string]any{"size": 3})).(*Inventory)
	e := entity.NewLocal("e2", nil, 2, false)
	require.NoError(t, e.Inventory().SetStack(0, entity.ItemStack{Item: "dirt", Count: 1}))

	_, err := inv.Insert(0, entity.ItemStack{Item: "gem", Count: 2})
	require.NoError(t, err)
	_, err = inv.Insert(2, entity.ItemStack{Item: "coin", Count: 5})
	require.NoError(t, err)

	require.NoError(t, Install(inv, e))
	require.NoError(t, Uninstall(inv, e))
	assert.Equal(t, entity.ItemStack{Item: "gem", Count: 2}, e.Inventory().Stack(1))
	// no room left for the coins
	assert.Equal(t, 5, inv.Stacks[2].Count)
}

func TestCreateHonoursActiveFlag(t *testing.T) {
	f := newFactory(t)
	c := f.Create(TagSkill, map[string]any{"active": "false"})
	assert.False(t, c.Active())
}

func TestCapabilities(t *testing.T) {
	assert.True(t, Capabilities(&Skill{}).Has(CapActivatable|CapTickable))
	assert.True(t, Capabilities(&StatusEffect{}).Has(CapTickable))
	assert.False(t, Capabilities(&Inventory{}).Has(CapTickable))
	assert.True(t, Capabilities(&AttributeModifier{}).Has(CapSerializable))
}

func TestDeclareTypes(t *testing.T) {
	f := newFactory(t)
	gen := f.Generation()

	err := f.Declare([]TypeDefinition{
		{Tag: "fire_core", Base: TagStatusEffect, Meta: Metadata{ConflictsWith: []string{"frost_core"}}},
		{Tag: "skill", Base: TagInventory, Source: "bad.yaml"},
		{Tag: "laser", Base: "plasma", Source: "bad.yaml"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateType)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Greater(t, f.Generation(), gen)

	c := f.Create("fire_core", map[string]any{"effect": "fire_resistance"})
	assert.Equal(t, KindStatusEffect, c.Kind())
	assert.Equal(t, "fire_core", c.Tag())
	assert.True(t, c.Active())
	meta, ok := f.Metadata("fire_core")
	require.True(t, ok)
	assert.Equal(t, []string{"frost_core"}, meta.ConflictsWith)
	require.Len(t, f.Declared(), 1)
	assert.Equal(t, TagStatusEffect, f.Declared()[0].Base)

	require.NoError(t, f.Declare(nil))
	assert.False(t, f.Known("fire_core"))
	assert.True(t, f.Known(TagSkill))
}

func TestObserveFallbacks(t *testing.T) {
	f := newFactory(t)
	var seen []Fallback
	f.ObserveFallbacks(func(fb Fallback) { seen = append(seen, fb) })

	f.Create(TagInventory, map[string]any{"size": "lots"})
	f.Create("mystery", nil)

	require.Len(t, seen, 2)
	assert.Equal(t, "size", seen[0].Field)
	assert.Equal(t, "mystery", seen[1].Tag)
	assert.Empty(t, seen[1].Field)
}
