package persist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/component"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/slot"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/storage"
)

const legacyRecord = `{
  "entity_id": "e1",
  "schema_version": 1,
  "slots": {
    "s1": {
      "template_id": "simple_hand",
      "installed": true,
      "components": {
        "skill": {"skills": [{"name": "grab", "cooldown": 10}]},
        "pouch": {"stacks": [{"item": "gem", "count": 1}], "active": false}
      }
    }
  }
}`

func newStore() *Store {
	s := NewStore(nil, log.Nop(), nil)
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s
}

func TestUpgradeLegacyRecord(t *testing.T) {
	s := newStore()
	out, migrated, err := s.Upgrade([]byte(legacyRecord))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, migrated)

	doc, err := ParseDocument(out)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, doc.Version())
	assert.NotContains(t, doc, "slots")

	rec, err := doc.Decode()
	require.NoError(t, err)
	want := Record{
		EntityID:      "e1",
		SchemaVersion: CurrentVersion,
		InstalledSlots: map[slot.ID]slot.Record{
			"s1": {
				TemplateID: "simple_hand",
				Installed:  true,
				Components: map[string]component.Record{
					"skill": {Kind: "skill", Active: true, Skills: []component.SkillState{{Name: "grab", Cooldown: 10}}},
					"pouch": {Kind: "inventory", Active: false, Stacks: []entity.ItemStack{{Item: "gem", Count: 1}}},
				},
			},
		},
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Fatalf("migrated record mismatch (-want +got):\n%s", diff)
	}

	again, migrated, err := s.Upgrade(out)
	require.NoError(t, err)
	assert.Empty(t, migrated)
	assert.Equal(t, out, again)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
		err  error
	}{
		{"empty", Document{}, ErrEmptyRecord},
		{"zero version", Document{"schema_version": 0.0, "entity_id": "e1", "installed_slots": map[string]any{}}, ErrInvalidVersion},
		{"future version", Document{"schema_version": 4.0, "entity_id": "e1", "installed_slots": map[string]any{}}, ErrInvalidVersion},
		{"no entity", Document{"schema_version": 3.0, "installed_slots": map[string]any{}}, ErrMissingField},
		{"no slots", Document{"schema_version": 3.0, "entity_id": "e1"}, ErrMissingField},
		{"legacy slots", Document{"schema_version": 1.0, "entity_id": "e1", "installed_slots": map[string]any{}}, ErrMissingField},
		{"other entity", Document{"schema_version": 3.0, "entity_id": "e2", "installed_slots": map[string]any{}}, ErrEntityMismatch},
		{"ok", Document{"schema_version": 3.0, "entity_id": "e1", "installed_slots": map[string]any{}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.doc, "e1")
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestLoadMissingRecord(t *testing.T) {
	s := newStore()
	rec, outcome, err := s.Load(context.Background(), storage.NewMemory(), "e1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, outcome)
	assert.Equal(t, NewRecord("e1"), rec)
}

func TestLoadMigratesAndWritesBack(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	docs := storage.NewMemory()
	require.NoError(t, docs.Put(ctx, RecordKey, []byte(legacyRecord)))

	rec, outcome, err := s.Load(ctx, docs, "e1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMigrated, outcome)
	assert.Contains(t, rec.InstalledSlots, slot.ID("s1"))

	raw, err := docs.Get(ctx, RecordKey)
	require.NoError(t, err)
	doc, err := ParseDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, doc.Version())

	_, outcome, err = s.Load(ctx, docs, "e1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoaded, outcome)
}

func TestLoadRejectsAndQuarantines(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"corrupt", `{"entity_id": "e1", "schema_ver`},
		{"null", `null`},
		{"wrong entity", `{"entity_id": "e9", "schema_version": 3, "installed_slots": {}}`},
		{"future", `{"entity_id": "e1", "schema_version": 7, "installed_slots": {}}`},
		{"unknown component kind", `{"entity_id": "e1", "schema_version": 2, "installed_slots": {"s": {"template_id": "t", "components": {"mystery": {}}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			docs := storage.NewMemory()
			require.NoError(t, docs.Put(ctx, RecordKey, []byte(tt.raw)))

			rec, outcome, err := newStore().Load(ctx, docs, "e1")
			require.NoError(t, err)
			assert.Equal(t, OutcomeRejected, outcome)
			assert.Equal(t, NewRecord("e1"), rec)

			keys, err := docs.Keys(ctx, QuarantinePrefix)
			require.NoError(t, err)
			require.Len(t, keys, 1)
			quarantined, err := docs.Get(ctx, keys[0])
			require.NoError(t, err)
			assert.Equal(t, tt.raw, string(quarantined))
		})
	}
}

func TestMigrationGapIsHardFailure(t *testing.T) {
	ctx := context.Background()
	chain, err := NewChain(Migrator{From: 2, To: 3, Migrate: stampComponentKind})
	require.NoError(t, err)
	s := NewStore(chain, log.Nop(), nil)

	doc, err := ParseDocument([]byte(legacyRecord))
	require.NoError(t, err)
	_, err = chain.Upgrade(doc)
	assert.ErrorIs(t, err, ErrNoMigrator)

	docs := storage.NewMemory()
	require.NoError(t, docs.Put(ctx, RecordKey, []byte(legacyRecord)))
	_, outcome, err := s.Load(ctx, docs, "e1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
}

type unreadableDocs struct{ storage.Documents }

func (unreadableDocs) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("database is locked")
}

func TestLoadReadFailureLeavesRecordAlone(t *testing.T) {
	ctx := context.Background()
	docs := storage.NewMemory()
	require.NoError(t, docs.Put(ctx, RecordKey, []byte(legacyRecord)))

	_, outcome, err := newStore().Load(ctx, unreadableDocs{docs}, "e1")
	require.ErrorIs(t, err, ErrUnreadable)
	assert.Equal(t, OutcomeError, outcome)

	keys, err := docs.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{RecordKey}, keys)
	raw, err := docs.Get(ctx, RecordKey)
	require.NoError(t, err)
	assert.Equal(t, legacyRecord, string(raw))
}

func TestChainRegister(t *testing.T) {
	_, err := NewChain(Migrator{From: 1, To: 3, Migrate: renameSlots})
	assert.Error(t, err)
	_, err = NewChain(
		Migrator{From: 1, To: 2, Migrate: renameSlots},
		Migrator{From: 1, To: 2, Migrate: renameSlots},
	)
	assert.Error(t, err)
	assert.Equal(t, []int{1, 2}, DefaultChain().Versions())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	docs := storage.NewMemory()

	rec := NewRecord("e1")
	rec.InstalledSlots["a"] = slot.Record{
		TemplateID: "gauntlet",
		SlotType:   "hand",
		Installed:  true,
		Components: map[string]component.Record{
			component.TagAttributeModification: component.Encode(component.NewAttributeModifier(component.TagAttributeModification,
				component.ModifierSpec{ID: "m1", Attribute: "armor", Amount: 1.5, Operation: entity.OpMultiplyBase})),
			component.TagStatusEffect: component.Encode(component.NewStatusEffect(component.TagStatusEffect,
				component.EffectState{ID: "glow", Duration: 20, Remaining: 5, RenewInterval: 100})),
		},
	}
	rec.SchemaVersion = 1
	require.NoError(t, s.Save(ctx, docs, rec))

	got, outcome, err := s.Load(ctx, docs, "e1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoaded, outcome)
	rec.SchemaVersion = CurrentVersion
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
