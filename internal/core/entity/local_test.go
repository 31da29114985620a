package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/storage"
)

func TestLocalModifiers(t *testing.T) {
	e := NewLocal("e1", nil, 4, false)
	e.SetBase("attack_damage", 10)

	require.NoError(t, e.AddModifier(Modifier{ID: "m1", Attribute: "attack_damage", Amount: 2, Operation: OpAdd}))
	require.NoError(t, e.AddModifier(Modifier{ID: "m2", Attribute: "attack_damage", Amount: 0.5, Operation: OpMultiplyBase}))
	assert.InDelta(t, 18.0, e.Attribute("attack_damage"), 1e-9)

	assert.ErrorIs(t, e.AddModifier(Modifier{ID: "m1", Attribute: "attack_damage"}), ErrDuplicateModifier)

	require.NoError(t, e.RemoveModifier("attack_damage", "m2"))
	assert.InDelta(t, 12.0, e.Attribute("attack_damage"), 1e-9)
	assert.ErrorIs(t, e.RemoveModifier("attack_damage", "m2"), ErrUnknownModifier)
}

func TestLocalInventoryBounds(t *testing.T) {
	e := NewLocal("e1", nil, 2, false)
	inv := e.Inventory()

	require.NoError(t, inv.SetStack(1, ItemStack{Item: "stone", Count: 3}))
	assert.Equal(t, ItemStack{Item: "stone", Count: 3}, inv.Stack(1))
	assert.True(t, inv.Stack(5).Empty())
	assert.ErrorIs(t, inv.SetStack(2, ItemStack{Item: "x", Count: 1}), ErrIndexOutOfRange)

	require.NoError(t, inv.ClearStack(1))
	assert.True(t, inv.Stack(1).Empty())
}

func TestLocalDocumentsAreScoped(t *testing.T) {
	shared := storage.NewMemory()
	a := NewLocal("a", shared, 0, false)
	b := NewLocal("b", shared, 0, false)
	ctx := context.Background()

	require.NoError(t, a.Documents().Put(ctx, "graft", []byte("A")))
	_, err := b.Documents().Get(ctx, "graft")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	raw, err := shared.Get(ctx, "a/graft")
	require.NoError(t, err)
	assert.Equal(t, "A", string(raw))
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Vec3{}.DistanceTo(Vec3{X: 3, Y: 4}), 1e-9)
}

func TestLocalEffectsPerSource(t *testing.T) {
	e := NewLocal("e1", nil, 0, false)
	fx := e.Effects()

	require.NoError(t, fx.ApplyEffect(Effect{ID: "regen", Source: "a", Amplifier: 0}))
	require.NoError(t, fx.ApplyEffect(Effect{ID: "regen", Source: "b", Amplifier: 2, Duration: 40}))
	assert.Equal(t, []string{"a", "b"}, e.EffectSources("regen"))
	assert.Equal(t, 2, e.ActiveEffects()["regen"].Amplifier)

	require.NoError(t, fx.RemoveEffect("regen", "b"))
	assert.Equal(t, Effect{ID: "regen", Source: "a"}, e.ActiveEffects()["regen"])

	require.NoError(t, fx.RemoveEffect("regen", "a"))
	assert.Empty(t, e.ActiveEffects())

	require.NoError(t, fx.ApplyEffect(Effect{ID: "glow", Source: "a"}))
	require.NoError(t, fx.ApplyEffect(Effect{ID: "glow", Source: "b"}))
	e.ClearEffect("glow")
	assert.Empty(t, e.EffectSources("glow"))
}
