package answers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asterion-health/platform/pkg/common/logger"
	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/asterion-health/platform/pkg/instrument"
	"github.com/google/uuid"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrValidation        = errors.New("answer value outside instrument domain")
	ErrStorage           = errors.New("answer storage failure")
)

// Store is the dual-tier answer store. Writes land in the ephemeral tier
// synchronously; the durable tier follows and is allowed to fail without
// failing the operation, so in-progress work survives a durable outage.
type Store struct {
	ephemeral EphemeralTier
	durable   DurableTier
	catalog   instrument.Catalog

	// generation fences slow writes out of a keyspace that was cleared
	// (logout / session switch) while they were in flight.
	generation atomic.Uint64

	// scopeLocks serializes the read-modify-write of one (subject,
	// instrument) map so concurrent writes to different items commute
	// instead of overwriting each other's snapshot.
	mu         sync.Mutex
	scopeLocks map[string]*sync.Mutex
}

func NewStore(ephemeral EphemeralTier, durable DurableTier, catalog instrument.Catalog) *Store {
	return &Store{
		ephemeral:  ephemeral,
		durable:    durable,
		catalog:    catalog,
		scopeLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockScope(subjectID uuid.UUID, instrumentID string) func() {
	key := subjectID.String() + "|" + strings.ToLower(instrumentID)

	s.mu.Lock()
	lock, ok := s.scopeLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.scopeLocks[key] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// SetItem records one raw answer. The full item map is rewritten on both
// tiers so a write is never partially applied.
func (s *Store) SetItem(ctx context.Context, subjectID uuid.UUID, instrumentID string, taskID *uuid.UUID, itemID string, value int) error {
	return s.SetItems(ctx, subjectID, instrumentID, taskID, map[string]int{itemID: value})
}

// SetItems is the bulk variant; all values validate before anything is
// written.
func (s *Store) SetItems(ctx context.Context, subjectID uuid.UUID, instrumentID string, taskID *uuid.UUID, values map[string]int) error {
	def, ok := s.catalog.Lookup(instrumentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, instrumentID)
	}
	for itemID, value := range values {
		if !def.HasItem(itemID) {
			return fmt.Errorf("%w: item %s not in %s", ErrValidation, itemID, def.ID)
		}
		if !def.InRange(value) {
			return fmt.Errorf("%w: item %s value %d", ErrValidation, itemID, value)
		}
	}

	unlock := s.lockScope(subjectID, def.ID)
	defer unlock()

	gen := s.generation.Load()

	current, _, err := s.ephemeral.Get(ctx, subjectID, instrumentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if current.Items == nil {
		current = models.AnswerSet{
			SubjectID:    subjectID,
			InstrumentID: def.ID,
			Items:        map[string]int{},
		}
	}
	for itemID, value := range values {
		current.Items[itemID] = value
	}
	current.TaskID = taskID
	current.UpdatedAt = time.Now().UTC()

	if err := s.ephemeral.Put(ctx, current); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if s.generation.Load() != gen {
		// The session changed under us; the durable write would land in
		// a keyspace that no longer belongs to this work.
		logger.Log.WithField("subject_id", subjectID).Debug("stale answer write fenced out of durable tier")
		return nil
	}

	if err := s.durable.Put(ctx, current); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"subject_id":    subjectID,
			"instrument_id": def.ID,
		}).Warn("durable answer write failed, continuing ephemeral-only")
	}
	return nil
}

// GetAnswers resolves the merged view across tiers. Priority: the
// task-scoped durable record is most authoritative, then the ephemeral
// record, then the subject-scoped durable record. Merging is per item,
// so a tier that comes back empty can never erase answers a faster tier
// already holds.
func (s *Store) GetAnswers(ctx context.Context, subjectID uuid.UUID, instrumentID string, taskID *uuid.UUID) (models.AnswerSet, error) {
	merged := models.AnswerSet{
		SubjectID:    subjectID,
		InstrumentID: instrumentID,
		TaskID:       taskID,
		Items:        map[string]int{},
	}

	// Lowest priority first; later tiers overwrite per item.
	if set, found, err := s.durable.Get(ctx, subjectID, instrumentID, nil); err != nil {
		logger.Log.WithError(err).Warn("subject-scoped durable read failed, degrading")
	} else if found {
		mergeInto(&merged, set)
	}

	set, found, err := s.ephemeral.Get(ctx, subjectID, instrumentID)
	if err != nil {
		return models.AnswerSet{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if found {
		mergeInto(&merged, set)
	}

	if taskID != nil {
		if set, found, err := s.durable.Get(ctx, subjectID, instrumentID, taskID); err != nil {
			logger.Log.WithError(err).Warn("task-scoped durable read failed, degrading")
		} else if found {
			mergeInto(&merged, set)
		}
	}

	return merged, nil
}

// Clear removes both tiers for the subject, one instrument or all of
// them. Used on logout and session switch so the next actor cannot see
// another subject's in-progress answers.
func (s *Store) Clear(ctx context.Context, subjectID uuid.UUID, instrumentID string) error {
	s.generation.Add(1)

	if err := s.ephemeral.Delete(ctx, subjectID, instrumentID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := s.durable.Delete(ctx, subjectID, instrumentID); err != nil {
		logger.Log.WithError(err).WithField("subject_id", subjectID).Warn("durable clear failed")
	}
	return nil
}

func mergeInto(dst *models.AnswerSet, src models.AnswerSet) {
	for itemID, value := range src.Items {
		dst.Items[itemID] = value
	}
	if src.UpdatedAt.After(dst.UpdatedAt) {
		dst.UpdatedAt = src.UpdatedAt
	}
}
