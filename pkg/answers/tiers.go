package answers

import (
	"context"

	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/google/uuid"
)

// EphemeralTier is the fast, session-scoped tier keyed by
// (subject, instrument). It backs UI round-trips while a questionnaire
// is being filled in.
type EphemeralTier interface {
	Get(ctx context.Context, subjectID uuid.UUID, instrumentID string) (models.AnswerSet, bool, error)
	Put(ctx context.Context, set models.AnswerSet) error
	// Delete removes the subject's sets; an empty instrumentID wipes
	// every instrument for the subject.
	Delete(ctx context.Context, subjectID uuid.UUID, instrumentID string) error
}

// StoredSet is a durable record with its storage identity, exposed so
// the reconciliation pass can deduplicate by record.
type StoredSet struct {
	ID  uuid.UUID
	Set models.AnswerSet
}

// DurableTier survives session boundaries. Records are keyed by
// (subject, instrument) plus the task once in-progress work is bound to
// an attempt, so distinct attempts never overwrite each other.
type DurableTier interface {
	Get(ctx context.Context, subjectID uuid.UUID, instrumentID string, taskID *uuid.UUID) (models.AnswerSet, bool, error)
	Put(ctx context.Context, set models.AnswerSet) error
	Delete(ctx context.Context, subjectID uuid.UUID, instrumentID string) error
	List(ctx context.Context, subjectID *uuid.UUID) ([]StoredSet, error)
	Remove(ctx context.Context, id uuid.UUID) error
}
