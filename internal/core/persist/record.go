// Package persist stores one versioned modification record per entity and
// upgrades old records through a chain of migrators before use.
package persist

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/slot"
)

// CurrentVersion is the schema version every record is written at.
const CurrentVersion = 3

// RecordKey is the document key of the record inside an entity's store.
const RecordKey = "modifications"

// QuarantinePrefix prefixes the keys rejected raw records are moved to.
const QuarantinePrefix = RecordKey + ".quarantine."

var (
	ErrEmptyRecord     = errors.New("empty record")
	ErrInvalidVersion  = errors.New("schema version out of range")
	ErrMissingField    = errors.New("required field missing")
	ErrEntityMismatch  = errors.New("record belongs to another entity")
	ErrNoMigrator      = errors.New("no migrator for schema version")
	ErrMigrationFailed = errors.New("migration failed")
	ErrUnreadable      = errors.New("record unreadable")
)

// codec keeps map keys sorted so equal records encode to equal bytes.
var codec = sonic.ConfigStd

// Record is the current-version entity record.
type Record struct {
	EntityID       entity.ID               `json:"entity_id"`
	SchemaVersion  int                     `json:"schema_version"`
	InstalledSlots map[slot.ID]slot.Record `json:"installed_slots"`
}

// NewRecord returns the empty record for id.
func NewRecord(id entity.ID) Record {
	return Record{
		EntityID:       id,
		SchemaVersion:  CurrentVersion,
		InstalledSlots: make(map[slot.ID]slot.Record),
	}
}

// Encode marshals rec at the current version.
func Encode(rec Record) ([]byte, error) {
	rec.SchemaVersion = CurrentVersion
	if rec.InstalledSlots == nil {
		rec.InstalledSlots = make(map[slot.ID]slot.Record)
	}
	return codec.Marshal(rec)
}

// Document is a record in its raw, possibly outdated, form.
type Document map[string]any

// ParseDocument decodes raw bytes without interpreting the schema.
func ParseDocument(data []byte) (Document, error) {
	if len(data) == 0 {
		return nil, ErrEmptyRecord
	}
	var doc Document
	if err := codec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if doc == nil {
		return nil, ErrEmptyRecord
	}
	return doc, nil
}

// Version reads schema_version; zero means absent or not a number.
func (d Document) Version() int {
	switch v := d["schema_version"].(type) {
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func (d Document) setVersion(v int) {
	d["schema_version"] = v
}

// Validate checks a raw or migrated document for entity id: non-empty,
// version in (0, CurrentVersion], required fields present, entity id
// matching. The slot field is "slots" before version 2.
func Validate(doc Document, id entity.ID) error {
	if len(doc) == 0 {
		return ErrEmptyRecord
	}
	version := doc.Version()
	if version <= 0 || version > CurrentVersion {
		return fmt.Errorf("%w: %v", ErrInvalidVersion, doc["schema_version"])
	}
	owner, ok := doc["entity_id"].(string)
	if !ok || owner == "" {
		return fmt.Errorf("%w: entity_id", ErrMissingField)
	}
	slotsField := "installed_slots"
	if version < 2 {
		slotsField = "slots"
	}
	if _, ok := doc[slotsField].(map[string]any); !ok {
		return fmt.Errorf("%w: %s", ErrMissingField, slotsField)
	}
	if entity.ID(owner) != id {
		return fmt.Errorf("%w: %s", ErrEntityMismatch, owner)
	}
	return nil
}

// Decode converts a validated current-version document into a Record.
func (d Document) Decode() (Record, error) {
	data, err := codec.Marshal(d)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := codec.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if rec.InstalledSlots == nil {
		rec.InstalledSlots = make(map[slot.ID]slot.Record)
	}
	return rec, nil
}
