package platform

import (
	"context"
	"fmt"

	"github.com/asterion-health/platform/pkg/answers"
	"github.com/asterion-health/platform/pkg/archive"
	"github.com/asterion-health/platform/pkg/common/logger"
	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/asterion-health/platform/pkg/instrument"
	"github.com/asterion-health/platform/pkg/reconcile"
	"github.com/asterion-health/platform/pkg/scoring"
	"github.com/asterion-health/platform/pkg/session"
	"github.com/asterion-health/platform/pkg/subjects"
	"github.com/asterion-health/platform/pkg/tasks"
	"github.com/google/uuid"
)

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

// Store is the single operation surface of the assessment subsystem.
// Every call passes the session guard before touching any service, so
// access policy lives in exactly one place.
type Store struct {
	guard    *session.Guard
	registry *subjects.Service
	tasks    *tasks.Service
	answers  *answers.Store
	archive  *archive.Service
	pass     *reconcile.Pass
	catalog  instrument.Catalog
	events   EventPublisher
}

func NewStore(
	guard *session.Guard,
	registry *subjects.Service,
	taskSvc *tasks.Service,
	answerStore *answers.Store,
	archiveSvc *archive.Service,
	pass *reconcile.Pass,
	catalog instrument.Catalog,
	events EventPublisher,
) *Store {
	return &Store{
		guard:    guard,
		registry: registry,
		tasks:    taskSvc,
		answers:  answerStore,
		archive:  archiveSvc,
		pass:     pass,
		catalog:  catalog,
		events:   events,
	}
}

// Login starts a session for the actor, replacing any prior one. A
// clinician must present a password; a subject only has to exist in the
// registry. The prior subject's in-progress answers are cleared so the
// next actor cannot see them.
func (s *Store) Login(ctx context.Context, actorID uuid.UUID, role models.Role, password string) (models.Session, error) {
	switch role {
	case models.RoleClinician:
		if _, err := s.registry.VerifyClinician(ctx, actorID, password); err != nil {
			return models.Session{}, err
		}
	case models.RoleSubject:
		if _, err := s.registry.Get(ctx, actorID); err != nil {
			return models.Session{}, err
		}
	default:
		return models.Session{}, session.ErrInvalidRole
	}

	s.clearCurrentSubject(ctx)
	return s.guard.Authenticate(actorID, role)
}

// Logout ends the session. A subject's ephemeral answers are dropped
// with it; archived responses and task records survive.
func (s *Store) Logout(ctx context.Context) {
	s.clearCurrentSubject(ctx)
	s.guard.Logout()
}

func (s *Store) clearCurrentSubject(ctx context.Context) {
	sess, ok := s.guard.Current()
	if !ok || sess.Role != models.RoleSubject {
		return
	}
	if err := s.answers.Clear(ctx, sess.ActorID, ""); err != nil {
		logger.Log.WithError(err).WithField("subject_id", sess.ActorID).Warn("answer clear on session end failed")
	}
}

func (s *Store) CurrentSession() (models.Session, bool) {
	return s.guard.Current()
}

// GetOrCreateTask resolves the subject's current attempt, creating one
// when needed. Retake forces a fresh attempt once earlier ones finished.
func (s *Store) GetOrCreateTask(ctx context.Context, subjectID uuid.UUID, req models.CreateTaskRequest) (models.Task, error) {
	if err := s.guard.CanAccess(subjectID); err != nil {
		return models.Task{}, err
	}
	if _, ok := s.catalog.Lookup(req.InstrumentID); !ok {
		return models.Task{}, fmt.Errorf("%w: %s", answers.ErrUnknownInstrument, req.InstrumentID)
	}

	origin := req.Origin
	if origin == "" {
		origin = models.OriginSubjectInitiated
		if sess, ok := s.guard.Current(); ok && sess.Role == models.RoleClinician {
			origin = models.OriginClinicianAssigned
		}
	}

	var task models.Task
	var err error
	if req.Retake {
		task, err = s.tasks.Retake(ctx, subjectID, req.InstrumentID, origin)
	} else {
		task, err = s.tasks.GetOrCreate(ctx, subjectID, req.InstrumentID, origin)
	}
	if err != nil {
		return models.Task{}, err
	}

	s.publish(ctx, "task_created", map[string]interface{}{
		"task_id":       task.ID.String(),
		"subject_id":    subjectID.String(),
		"instrument_id": task.InstrumentID,
		"origin":        string(task.Origin),
	})
	return task, nil
}

// SetAnswer records one raw item response and folds the new progress
// into the owning task.
func (s *Store) SetAnswer(ctx context.Context, req models.SetAnswerRequest) error {
	if err := s.guard.CanAccess(req.SubjectID); err != nil {
		return err
	}
	if err := s.answers.SetItem(ctx, req.SubjectID, req.InstrumentID, req.TaskID, req.ItemID, req.Value); err != nil {
		return err
	}
	if req.TaskID == nil {
		return nil
	}

	def, ok := s.catalog.Lookup(req.InstrumentID)
	if !ok {
		return nil
	}
	set, err := s.answers.GetAnswers(ctx, req.SubjectID, req.InstrumentID, req.TaskID)
	if err != nil {
		return nil
	}
	if err := s.tasks.RecordProgress(ctx, *req.TaskID, len(set.Items), len(def.Items)); err != nil {
		logger.Log.WithError(err).WithField("task_id", req.TaskID).Warn("progress update failed")
	}
	return nil
}

func (s *Store) GetAnswers(ctx context.Context, subjectID uuid.UUID, instrumentID string, taskID *uuid.UUID) (models.AnswerSet, error) {
	if err := s.guard.CanAccess(subjectID); err != nil {
		return models.AnswerSet{}, err
	}
	return s.answers.GetAnswers(ctx, subjectID, instrumentID, taskID)
}

// ComputeScore derives domain and total scores without persisting
// anything. Any authenticated actor may score an answer map.
func (s *Store) ComputeScore(ctx context.Context, req models.ComputeScoreRequest) (models.ScoreResult, error) {
	if _, ok := s.guard.Current(); !ok {
		return models.ScoreResult{}, session.ErrUnauthorized
	}
	def, ok := s.catalog.Lookup(req.InstrumentID)
	if !ok {
		return models.ScoreResult{}, fmt.Errorf("%w: %s", answers.ErrUnknownInstrument, req.InstrumentID)
	}
	return scoring.Score(def, req.Answers), nil
}

// SubmitResponse archives a task's answers as a completed response.
// When no answer map is supplied the merged stored answers are used.
func (s *Store) SubmitResponse(ctx context.Context, taskID uuid.UUID, answerMap map[string]int) (models.Response, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return models.Response{}, err
	}
	if err := s.guard.CanAccess(task.SubjectID); err != nil {
		return models.Response{}, err
	}

	if answerMap == nil {
		set, err := s.answers.GetAnswers(ctx, task.SubjectID, task.InstrumentID, &taskID)
		if err != nil {
			return models.Response{}, err
		}
		answerMap = set.Items
	}

	resp, err := s.archive.Submit(ctx, taskID, answerMap)
	if err != nil {
		return models.Response{}, err
	}

	// The attempt is archived; its working answers are no longer the
	// source of truth, and a retake starts clean.
	if err := s.answers.Clear(ctx, task.SubjectID, task.InstrumentID); err != nil {
		logger.Log.WithError(err).Warn("post-submit answer clear failed")
	}

	s.publish(ctx, "task_completed", map[string]interface{}{
		"task_id":    taskID.String(),
		"subject_id": task.SubjectID.String(),
	})
	return resp, nil
}

func (s *Store) ListResponses(ctx context.Context, subjectID uuid.UUID) ([]models.Response, error) {
	if err := s.guard.CanAccess(subjectID); err != nil {
		return nil, err
	}
	sess, _ := s.guard.Current()
	return s.archive.ListForViewer(ctx, subjectID, sess.Role)
}

func (s *Store) ListTasks(ctx context.Context, subjectID uuid.UUID) ([]models.Task, error) {
	if err := s.guard.CanAccess(subjectID); err != nil {
		return nil, err
	}
	return s.tasks.ListForSubject(ctx, subjectID)
}

// SetResponseVisibility is clinician-only: it controls whether the
// subject sees derived scores for an archived response.
func (s *Store) SetResponseVisibility(ctx context.Context, responseID uuid.UUID, visible bool) error {
	if err := s.guard.RequireClinician(); err != nil {
		return err
	}
	return s.archive.SetVisibility(ctx, responseID, visible)
}

// RunMaintenance triggers a reconciliation pass, for one subject or all.
func (s *Store) RunMaintenance(ctx context.Context, subjectID *uuid.UUID) (models.MaintenanceReport, error) {
	if err := s.guard.RequireClinician(); err != nil {
		return models.MaintenanceReport{}, err
	}
	report, err := s.pass.Run(ctx, subjectID)
	if err != nil {
		return models.MaintenanceReport{}, err
	}
	s.publish(ctx, "maintenance_run", map[string]interface{}{
		"issues_found":    report.IssuesFound,
		"issues_resolved": report.IssuesResolved,
	})
	return report, nil
}

// RegisterSubject is clinician-only.
func (s *Store) RegisterSubject(ctx context.Context, req models.RegisterSubjectRequest) (models.Subject, error) {
	if err := s.guard.RequireClinician(); err != nil {
		return models.Subject{}, err
	}
	return s.registry.RegisterSubject(ctx, req)
}

// RegisterClinician is unauthenticated so the first clinician can be
// created on a fresh deployment.
func (s *Store) RegisterClinician(ctx context.Context, req models.RegisterClinicianRequest) (models.Clinician, error) {
	return s.registry.RegisterClinician(ctx, req)
}

// UpdateDemographics replaces a subject's demographic map. A subject may
// edit their own; a clinician anyone's.
func (s *Store) UpdateDemographics(ctx context.Context, subjectID uuid.UUID, demographics map[string]float64) error {
	if err := s.guard.CanAccess(subjectID); err != nil {
		return err
	}
	return s.registry.UpdateDemographics(ctx, subjectID, demographics)
}

// AssignOwner binds a subject to a clinician. Clinician-only.
func (s *Store) AssignOwner(ctx context.Context, subjectID, clinicianID uuid.UUID) error {
	if err := s.guard.RequireClinician(); err != nil {
		return err
	}
	return s.registry.AssignOwner(ctx, subjectID, clinicianID)
}

func (s *Store) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	if err := s.guard.RequireClinician(); err != nil {
		return nil, err
	}
	return s.registry.List(ctx, nil)
}

func (s *Store) Instruments() []instrument.Definition {
	return s.catalog.All()
}

func (s *Store) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, eventType, "assessment-service", data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("event publish failed")
	}
}
