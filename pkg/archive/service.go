package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asterion-health/platform/pkg/common/logger"
	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/asterion-health/platform/pkg/instrument"
	"github.com/asterion-health/platform/pkg/scoring"
	"github.com/google/uuid"
)

var ErrUnknownInstrument = errors.New("unknown instrument")

// TaskManager is the slice of the task lifecycle the archive needs: the
// record being submitted against, and the completion transition.
type TaskManager interface {
	Get(ctx context.Context, taskID uuid.UUID) (models.Task, error)
	MarkCompleted(ctx context.Context, taskID uuid.UUID) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

// Service turns a finished answer set into an archived, scored response
// and drives the owning task to completed.
type Service struct {
	repo    Repository
	tasks   TaskManager
	catalog instrument.Catalog
	events  EventPublisher
}

func NewService(repo Repository, tasks TaskManager, catalog instrument.Catalog, events EventPublisher) *Service {
	return &Service{repo: repo, tasks: tasks, catalog: catalog, events: events}
}

// Submit archives the answers for a task. Resubmission for the same task
// overwrites the earlier payload instead of producing a second response,
// so retried submissions converge on one record.
func (s *Service) Submit(ctx context.Context, taskID uuid.UUID, answers map[string]int) (models.Response, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return models.Response{}, err
	}

	def, ok := s.catalog.Lookup(task.InstrumentID)
	if !ok {
		return models.Response{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, task.InstrumentID)
	}

	result := scoring.Score(def, answers)

	resp := models.Response{
		ID:               uuid.New(),
		TaskID:           task.ID,
		SubjectID:        task.SubjectID,
		InstrumentID:     strings.ToLower(task.InstrumentID),
		Answers:          answers,
		Scores:           result,
		TotalScore:       result.Total,
		CompletedAt:      time.Now().UTC(),
		VisibleToSubject: true,
	}

	stored, err := s.repo.UpsertByTask(ctx, resp)
	if err != nil {
		return models.Response{}, fmt.Errorf("archive response: %w", err)
	}

	if err := s.tasks.MarkCompleted(ctx, task.ID); err != nil {
		return models.Response{}, fmt.Errorf("complete task: %w", err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"response_id":   stored.ID,
		"task_id":       task.ID,
		"subject_id":    task.SubjectID,
		"instrument_id": stored.InstrumentID,
	}).Info("response archived")

	if s.events != nil {
		if err := s.events.PublishEvent(ctx, "response_submitted", "archive", map[string]interface{}{
			"response_id":   stored.ID.String(),
			"task_id":       task.ID.String(),
			"subject_id":    task.SubjectID.String(),
			"instrument_id": stored.InstrumentID,
		}); err != nil {
			logger.Log.WithError(err).Warn("response event publish failed")
		}
	}

	return stored, nil
}

// ListForViewer returns a subject's archived responses. For the subject's
// own view, responses flagged not visible have their derived scores
// withheld; the raw answers stay.
func (s *Service) ListForViewer(ctx context.Context, subjectID uuid.UUID, viewer models.Role) ([]models.Response, error) {
	responses, err := s.repo.List(ctx, &subjectID)
	if err != nil {
		return nil, err
	}
	if viewer == models.RoleClinician {
		return responses, nil
	}
	out := make([]models.Response, 0, len(responses))
	for _, resp := range responses {
		if !resp.VisibleToSubject {
			resp.Scores = models.ScoreResult{}
			resp.TotalScore = nil
		}
		out = append(out, resp)
	}
	return out, nil
}

func (s *Service) FindByTask(ctx context.Context, taskID uuid.UUID) (models.Response, bool, error) {
	return s.repo.FindByTask(ctx, taskID)
}

// SetVisibility lets a clinician control whether a subject sees the
// derived scores of an archived response.
func (s *Service) SetVisibility(ctx context.Context, responseID uuid.UUID, visible bool) error {
	return s.repo.UpdateVisibility(ctx, responseID, visible)
}
