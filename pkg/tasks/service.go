package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asterion-health/platform/pkg/common/logger"
	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/google/uuid"
)

var ErrTaskCompleted = errors.New("task already completed")

// Service owns the assignment-instance lifecycle. Its single structural
// invariant: at most one task per (subject, instrument) is ever in a
// non-completed status.
type Service struct {
	repo        Repository
	reuseWindow time.Duration
	nowFunc     func() time.Time
}

func NewService(repo Repository, reuseWindow time.Duration) *Service {
	if reuseWindow <= 0 {
		reuseWindow = time.Hour
	}
	return &Service{repo: repo, reuseWindow: reuseWindow, nowFunc: time.Now}
}

// GetOrCreate returns the subject's current attempt at an instrument,
// creating one only when no usable attempt exists. A completed task is
// never resurrected; rapid repeated calls inside the reuse window land
// on the same task instead of minting duplicates.
func (s *Service) GetOrCreate(ctx context.Context, subjectID uuid.UUID, instrumentID string, origin models.TaskOrigin) (models.Task, error) {
	existing, err := s.repo.ListByScope(ctx, subjectID, instrumentID)
	if err != nil {
		return models.Task{}, err
	}

	if task, ok := newest(existing, models.Task.Active); ok {
		return task, nil
	}

	// Racing creators may leave a fresh record whose status is not one
	// of the active pair; anything recent and not completed is still
	// the same intent, so reuse it rather than double-create.
	cutoff := s.nowFunc().Add(-s.reuseWindow)
	if task, ok := newest(existing, func(t models.Task) bool {
		return t.Status != models.StatusCompleted && t.CreatedAt.After(cutoff)
	}); ok {
		return task, nil
	}

	return s.create(ctx, subjectID, instrumentID, origin)
}

// Retake explicitly starts a fresh attempt after earlier ones completed.
// An active attempt still wins: singularity holds even for retakes.
func (s *Service) Retake(ctx context.Context, subjectID uuid.UUID, instrumentID string, origin models.TaskOrigin) (models.Task, error) {
	existing, err := s.repo.ListByScope(ctx, subjectID, instrumentID)
	if err != nil {
		return models.Task{}, err
	}
	if task, ok := newest(existing, models.Task.Active); ok {
		return task, nil
	}
	return s.create(ctx, subjectID, instrumentID, origin)
}

func (s *Service) create(ctx context.Context, subjectID uuid.UUID, instrumentID string, origin models.TaskOrigin) (models.Task, error) {
	task := models.Task{
		ID:           uuid.New(),
		SubjectID:    subjectID,
		InstrumentID: strings.ToLower(instrumentID),
		Origin:       origin,
		Status:       models.StatusNotStarted,
		CreatedAt:    s.nowFunc().UTC(),
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return models.Task{}, fmt.Errorf("create task: %w", err)
	}
	logger.Log.WithFields(map[string]interface{}{
		"task_id":       task.ID,
		"subject_id":    subjectID,
		"instrument_id": task.InstrumentID,
		"origin":        origin,
	}).Info("task created")
	return task, nil
}

// MarkInProgress promotes a not-started task. Transitions never regress:
// calling it on an in-progress task is a no-op, on a completed task an
// error.
func (s *Service) MarkInProgress(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return err
	}
	switch task.Status {
	case models.StatusInProgress:
		return nil
	case models.StatusCompleted:
		return ErrTaskCompleted
	}
	return s.repo.UpdateStatus(ctx, taskID, models.StatusInProgress, nil)
}

// MarkCompleted is idempotent: completing an already-completed task is
// a no-op so retried submissions cannot fail here.
func (s *Service) MarkCompleted(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == models.StatusCompleted {
		return nil
	}
	now := s.nowFunc().UTC()
	if err := s.repo.UpdateStatus(ctx, taskID, models.StatusCompleted, &now); err != nil {
		return err
	}
	return s.repo.UpdateProgress(ctx, taskID, 100)
}

// RecordProgress stores answered/total as a percentage and promotes a
// not-started task once the first answer lands.
func (s *Service) RecordProgress(ctx context.Context, taskID uuid.UUID, answered, total int) error {
	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == models.StatusCompleted {
		return nil
	}

	percent := 0
	if total > 0 {
		percent = answered * 100 / total
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	if task.Status == models.StatusNotStarted && answered > 0 {
		if err := s.repo.UpdateStatus(ctx, taskID, models.StatusInProgress, nil); err != nil {
			return err
		}
	}
	return s.repo.UpdateProgress(ctx, taskID, percent)
}

func (s *Service) Get(ctx context.Context, taskID uuid.UUID) (models.Task, error) {
	return s.repo.Get(ctx, taskID)
}

func (s *Service) ListForSubject(ctx context.Context, subjectID uuid.UUID) ([]models.Task, error) {
	return s.repo.ListBySubject(ctx, subjectID)
}

// SelectForDisplay picks the task a dashboard card should show: the
// newest active attempt, else the newest completed one for history.
func SelectForDisplay(tasks []models.Task) (models.Task, bool) {
	if task, ok := newest(tasks, models.Task.Active); ok {
		return task, true
	}
	if task, ok := newest(tasks, func(t models.Task) bool {
		return t.Status == models.StatusCompleted
	}); ok {
		return task, true
	}
	return models.Task{}, false
}

// newest returns the matching task with the highest creation timestamp,
// ties broken by the higher identifier.
func newest(tasks []models.Task, match func(models.Task) bool) (models.Task, bool) {
	var best models.Task
	found := false
	for _, t := range tasks {
		if !match(t) {
			continue
		}
		if !found || t.CreatedAt.After(best.CreatedAt) ||
			(t.CreatedAt.Equal(best.CreatedAt) && t.ID.String() > best.ID.String()) {
			best = t
			found = true
		}
	}
	return best, found
}
