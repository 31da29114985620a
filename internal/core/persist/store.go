package persist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/metrics"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/storage"
)

// Load outcomes, also used as metric labels.
const (
	OutcomeLoaded   = "loaded"
	OutcomeNew      = "new"
	OutcomeMigrated = "migrated"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Store reads and writes entity records through a document store.
type Store struct {
	chain   *Chain
	logger  log.Log
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewStore(chain *Chain, logger log.Log, m *metrics.Metrics) *Store {
	if chain == nil {
		chain = DefaultChain()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Store{chain: chain, logger: logger.Named("persist"), metrics: m, now: time.Now}
}

// Load returns the record of id. A missing record yields a new one; an
// invalid or unmigratable record is copied to a quarantine key and replaced
// by a new one. A migrated record is written back at the current version.
// Only a failed read returns an error, wrapping ErrUnreadable; the stored
// record is left alone so it can be read again later.
func (s *Store) Load(ctx context.Context, docs storage.Documents, id entity.ID) (Record, string, error) {
	logger := s.logger.With(log.String("entity", string(id)))

	data, err := docs.Get(ctx, RecordKey)
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.RecordLoad(OutcomeNew)
		return NewRecord(id), OutcomeNew, nil
	}
	if err != nil {
		logger.Warn("reading record failed", log.Error(err))
		s.metrics.RecordLoad(OutcomeError)
		return Record{}, OutcomeError, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	rec, migrated, err := s.decode(data, id)
	if err != nil {
		if errors.Is(err, ErrNoMigrator) || errors.Is(err, ErrMigrationFailed) {
			logger.Error("record cannot be migrated", log.Error(err))
		} else {
			logger.Warn("record rejected", log.Error(err))
		}
		s.quarantine(ctx, docs, data, logger)
		s.metrics.RecordLoad(OutcomeRejected)
		return NewRecord(id), OutcomeRejected, nil
	}

	if len(migrated) > 0 {
		for _, from := range migrated {
			s.metrics.Migration(strconv.Itoa(from))
		}
		if err := s.Save(ctx, docs, rec); err != nil {
			logger.Warn("writing migrated record failed", log.Error(err))
		}
		logger.Info("record migrated", log.Int("from", migrated[0]), log.Int("to", CurrentVersion))
		s.metrics.RecordLoad(OutcomeMigrated)
		return rec, OutcomeMigrated, nil
	}
	s.metrics.RecordLoad(OutcomeLoaded)
	return rec, OutcomeLoaded, nil
}

// Decode parses, validates and migrates raw record bytes for id.
func (s *Store) Decode(data []byte, id entity.ID) (Record, error) {
	rec, _, err := s.decode(data, id)
	return rec, err
}

func (s *Store) decode(data []byte, id entity.ID) (Record, []int, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return Record{}, nil, err
	}
	if err := Validate(doc, id); err != nil {
		return Record{}, nil, err
	}
	migrated, err := s.chain.Upgrade(doc)
	if err != nil {
		return Record{}, migrated, err
	}
	if err := Validate(doc, id); err != nil {
		return Record{}, migrated, err
	}
	rec, err := doc.Decode()
	return rec, migrated, err
}

// Upgrade migrates raw record bytes to the current version without
// checking the owner. It is idempotent on current records.
func (s *Store) Upgrade(data []byte) ([]byte, []int, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, nil, err
	}
	owner, _ := doc["entity_id"].(string)
	if err := Validate(doc, entity.ID(owner)); err != nil {
		return nil, nil, err
	}
	migrated, err := s.chain.Upgrade(doc)
	if err != nil {
		return nil, migrated, err
	}
	if len(migrated) == 0 {
		return data, nil, nil
	}
	out, err := codec.Marshal(doc)
	return out, migrated, err
}

// Save writes rec at the current version.
func (s *Store) Save(ctx context.Context, docs storage.Documents, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	return docs.Put(ctx, RecordKey, data)
}

func (s *Store) quarantine(ctx context.Context, docs storage.Documents, data []byte, logger log.Log) {
	key := QuarantinePrefix + s.now().UTC().Format("20060102T150405.000000000")
	if err := docs.Put(ctx, key, data); err != nil {
		logger.Warn("quarantining rejected record failed", log.Error(err))
		return
	}
	logger.Warn("rejected record quarantined", log.String("key", key))
}
