package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/asterion-health/platform/pkg/instrument"
	"github.com/google/uuid"
)

type memoryRepo struct {
	mu        sync.Mutex
	responses map[uuid.UUID]models.Response
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{responses: make(map[uuid.UUID]models.Response)}
}

func (m *memoryRepo) UpsertByTask(_ context.Context, resp models.Response) (models.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.responses {
		if existing.TaskID == resp.TaskID {
			resp.ID = id
			m.responses[id] = resp
			return resp, nil
		}
	}
	m.responses[resp.ID] = resp
	return resp, nil
}

func (m *memoryRepo) FindByTask(_ context.Context, taskID uuid.UUID) (models.Response, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, resp := range m.responses {
		if resp.TaskID == taskID {
			return resp, true, nil
		}
	}
	return models.Response{}, false, nil
}

func (m *memoryRepo) List(_ context.Context, subjectID *uuid.UUID) ([]models.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Response
	for _, resp := range m.responses {
		if subjectID == nil || resp.SubjectID == *subjectID {
			out = append(out, resp)
		}
	}
	return out, nil
}

func (m *memoryRepo) UpdateVisibility(_ context.Context, responseID uuid.UUID, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.responses[responseID]
	if !ok {
		return ErrResponseNotFound
	}
	resp.VisibleToSubject = visible
	m.responses[responseID] = resp
	return nil
}

func (m *memoryRepo) Remove(_ context.Context, responseID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.responses, responseID)
	return nil
}

type fakeTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]models.Task
}

var errNoTask = errors.New("task not found")

func (f *fakeTasks) Get(_ context.Context, taskID uuid.UUID) (models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return models.Task{}, errNoTask
	}
	return task, nil
}

func (f *fakeTasks) MarkCompleted(_ context.Context, taskID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return errNoTask
	}
	if task.Status != models.StatusCompleted {
		now := time.Now().UTC()
		task.Status = models.StatusCompleted
		task.CompletedAt = &now
		f.tasks[taskID] = task
	}
	return nil
}

func newTestService() (*Service, *memoryRepo, *fakeTasks) {
	repo := newMemoryRepo()
	tasks := &fakeTasks{tasks: make(map[uuid.UUID]models.Task)}
	svc := NewService(repo, tasks, instrument.DefaultCatalog(), nil)
	return svc, repo, tasks
}

func seedTask(tasks *fakeTasks, instrumentID string) models.Task {
	task := models.Task{
		ID:           uuid.New(),
		SubjectID:    uuid.New(),
		InstrumentID: instrumentID,
		Status:       models.StatusInProgress,
		CreatedAt:    time.Now().UTC(),
	}
	tasks.tasks[task.ID] = task
	return task
}

func fullHALAnswers(value int) map[string]int {
	def, _ := instrument.DefaultCatalog().Lookup("hal")
	out := make(map[string]int, len(def.Items))
	for _, item := range def.Items {
		out[item] = value
	}
	return out
}

func TestSubmitArchivesScoredResponseAndCompletesTask(t *testing.T) {
	svc, _, tasks := newTestService()
	ctx := context.Background()
	task := seedTask(tasks, "hal")

	resp, err := svc.Submit(ctx, task.ID, fullHALAnswers(6))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if resp.TaskID != task.ID || resp.SubjectID != task.SubjectID {
		t.Fatalf("response not bound to task: %+v", resp)
	}
	if resp.TotalScore == nil || *resp.TotalScore != 100.0 {
		t.Fatalf("expected total 100.0, got %v", resp.TotalScore)
	}

	final, _ := tasks.Get(ctx, task.ID)
	if final.Status != models.StatusCompleted {
		t.Fatalf("expected task completed, got %s", final.Status)
	}
}

func TestResubmissionOverwritesInsteadOfDuplicating(t *testing.T) {
	svc, repo, tasks := newTestService()
	ctx := context.Background()
	task := seedTask(tasks, "hal")

	first, err := svc.Submit(ctx, task.ID, fullHALAnswers(1))
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	second, err := svc.Submit(ctx, task.ID, fullHALAnswers(6))
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected the original response identity kept, got %s and %s", first.ID, second.ID)
	}
	all, _ := repo.List(ctx, &task.SubjectID)
	if len(all) != 1 {
		t.Fatalf("expected one archived response per task, got %d", len(all))
	}
	if all[0].TotalScore == nil || *all[0].TotalScore != 100.0 {
		t.Fatalf("expected second payload to win, got %v", all[0].TotalScore)
	}
}

func TestSubmitUnknownTaskFails(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.Submit(context.Background(), uuid.New(), fullHALAnswers(3)); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestSubmitUnknownInstrumentFails(t *testing.T) {
	svc, _, tasks := newTestService()
	task := seedTask(tasks, "retired-instrument")
	if _, err := svc.Submit(context.Background(), task.ID, map[string]int{"x": 1}); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
}

func TestSubjectViewRedactsHiddenScores(t *testing.T) {
	svc, _, tasks := newTestService()
	ctx := context.Background()
	task := seedTask(tasks, "hal")

	resp, err := svc.Submit(ctx, task.ID, fullHALAnswers(4))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := svc.SetVisibility(ctx, resp.ID, false); err != nil {
		t.Fatalf("set visibility failed: %v", err)
	}

	subjectView, err := svc.ListForViewer(ctx, task.SubjectID, models.RoleSubject)
	if err != nil {
		t.Fatalf("subject list failed: %v", err)
	}
	if len(subjectView) != 1 {
		t.Fatalf("expected one response, got %d", len(subjectView))
	}
	if subjectView[0].TotalScore != nil || len(subjectView[0].Scores.DomainScores) != 0 {
		t.Fatalf("expected scores withheld from subject, got %+v", subjectView[0])
	}
	if len(subjectView[0].Answers) == 0 {
		t.Fatal("expected raw answers retained")
	}

	clinicianView, err := svc.ListForViewer(ctx, task.SubjectID, models.RoleClinician)
	if err != nil {
		t.Fatalf("clinician list failed: %v", err)
	}
	if clinicianView[0].TotalScore == nil {
		t.Fatal("expected clinician to see derived scores")
	}
}
