package template

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/component"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
)

func newLoader(t *testing.T) *Loader {
	t.Helper()
	f := component.NewFactory(log.Nop(), nil)
	require.NoError(t, component.RegisterBuiltins(f))
	return NewLoader(f, log.Nop(), nil)
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

const handYAML = `
id: simple_hand
display_name: Simple Hand
slot_type: hand
max_instances: 1
components:
  skill:
    name: grab
    cooldown: 10
  inventory:
    size: 3
`

func TestNewTemplate(t *testing.T) {
	tmpl, err := New("glove",
		WithSlotType("hand"),
		WithMaxInstances(0),
		WithComponent(component.TagInventory, component.NewInventory(component.TagInventory, 2, 64)),
		WithComponent(component.TagSkill, component.NewSkill(component.TagSkill)),
	)
	require.NoError(t, err)
	assert.Equal(t, "glove", tmpl.DisplayName())
	assert.Equal(t, 1, tmpl.MaxInstances())
	assert.Equal(t, []string{component.TagInventory, component.TagSkill}, tmpl.Tags())

	_, err = New("")
	assert.ErrorIs(t, err, ErrInvalidTemplate)
	_, err = New("x", WithComponent("inventory", nil))
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestInstantiateDoesNotShareBlueprint(t *testing.T) {
	inv := component.NewInventory(component.TagInventory, 2, 64)
	tmpl := MustNew("bag", WithComponent(component.TagInventory, inv))

	a := tmpl.Instantiate()[0].Component.(*component.Inventory)
	a.Stacks[0].Item, a.Stacks[0].Count = "gem", 1
	b := tmpl.Instantiate()[0].Component.(*component.Inventory)

	assert.True(t, b.Stacks[0].Empty())
	assert.True(t, inv.Stacks[0].Empty())
}

func TestParseDefinitionsKeepsComponentOrder(t *testing.T) {
	defs, err := ParseDefinitions([]byte(handYAML), "hand.yaml", nil)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	def := defs[0]
	assert.Equal(t, "simple_hand", def.ID)
	assert.Equal(t, "hand", def.SlotType)
	require.Len(t, def.Components, 2)
	assert.Equal(t, "skill", def.Components[0].Tag)
	assert.Equal(t, "inventory", def.Components[1].Tag)
	assert.Equal(t, 3, def.Components[1].Config["size"])
}

func TestParseDefinitionsListAndJSON(t *testing.T) {
	list := `
templates:
  - id: a
    max_instances: "3"
  - id: b
    max_instances: many
    components:
      inventory: 12
`
	var fallbacks []component.Fallback
	defs, err := ParseDefinitions([]byte(list), "list.yaml", func(fb component.Fallback) { fallbacks = append(fallbacks, fb) })
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, 3, defs[0].MaxInstances)
	assert.Equal(t, 1, defs[1].MaxInstances)
	assert.Nil(t, defs[1].Components[0].Config)
	assert.Len(t, fallbacks, 2)

	js := `{"id": "j", "slot_type": "core", "components": {"status_effect": {"effect": "glow"}}}`
	defs, err = ParseDefinitions([]byte(js), "j.json", nil)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "core", defs[0].SlotType)

	_, err = ParseDefinitions([]byte("- just\n- a list\n"), "bad.yaml", nil)
	assert.ErrorIs(t, err, ErrMalformedDefinition)
	_, err = ParseDefinitions([]byte("display_name: no id\n"), "bad.yaml", nil)
	assert.ErrorIs(t, err, ErrMalformedDefinition)
}

func TestLoadDirSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hand.yaml", handYAML)
	writeFile(t, dir, "nested/more/boots.yml", "id: boots\nslot_type: feet\ncomponents:\n  attribute_modification:\n    attribute: speed\n    amount: 0.2\n")
	writeFile(t, dir, "broken.yaml", "id: [unterminated\n")
	writeFile(t, dir, "notes.txt", "id: ignored\n")

	l := newLoader(t)
	batch, err := l.LoadDir(context.Background(), dir)
	require.NoError(t, err)

	ids := make([]string, 0, len(batch))
	for _, tmpl := range batch {
		ids = append(ids, tmpl.ID())
	}
	assert.ElementsMatch(t, []string{"simple_hand", "boots"}, ids)

	reg := NewRegistry(nil)
	require.NoError(t, reg.Replace(batch))
	hand, ok := reg.Get("simple_hand")
	require.True(t, ok)
	assert.Equal(t, []string{"skill", "inventory"}, hand.Tags())
	inv, ok := hand.Blueprint("inventory")
	require.True(t, ok)
	assert.Equal(t, 3, inv.(*component.Inventory).Size())
}

func TestReloadIsFullReplace(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hand.yaml", handYAML)
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(MustNew("stale")))

	l := newLoader(t)
	require.NoError(t, l.Reload(context.Background(), dir, reg))
	assert.Equal(t, []string{"simple_hand"}, reg.IDs())

	err := l.Reload(context.Background(), filepath.Join(dir, "missing"), reg)
	assert.Error(t, err)
	assert.Equal(t, []string{"simple_hand"}, reg.IDs())
}

func TestRegistryReplaceIsAtomic(t *testing.T) {
	reg := NewRegistry(nil)
	first := []*Template{MustNew("a1"), MustNew("a2")}
	second := []*Template{MustNew("b1"), MustNew("b2")}
	require.NoError(t, reg.Replace(first))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				_ = reg.Replace(second)
			} else {
				_ = reg.Replace(first)
			}
		}
	}()

	for range 1000 {
		ids := reg.IDs()
		require.Len(t, ids, 2)
		assert.Equal(t, ids[0][0], ids[1][0], "mixed batch: %v", ids)
	}
	close(stop)
	wg.Wait()

	reg.Clear()
	assert.Zero(t, reg.Len())
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hand.yaml", handYAML)

	reg := NewRegistry(nil)
	l := newLoader(t)
	require.NoError(t, l.Reload(context.Background(), dir, reg))

	w := NewWatcher(dir, l, reg, log.Nop())
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeFile(t, dir, "boots.yaml", "id: boots\n")
	require.Eventually(t, func() bool {
		_, ok := reg.Get("boots")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "hand.yaml")))
	require.Eventually(t, func() bool {
		_, ok := reg.Get("simple_hand")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}
