package answers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/asterion-health/platform/pkg/instrument"
	"github.com/google/uuid"
)

// fakeDurable is a map-backed durable tier with injectable failures.
type fakeDurable struct {
	mu       sync.Mutex
	records  map[uuid.UUID]models.AnswerSet
	failGet  bool
	failPut  bool
	putCalls int
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{records: make(map[uuid.UUID]models.AnswerSet)}
}

func sameKey(set models.AnswerSet, subjectID uuid.UUID, instrumentID string, taskID *uuid.UUID) bool {
	if set.SubjectID != subjectID || !strings.EqualFold(set.InstrumentID, instrumentID) {
		return false
	}
	if (set.TaskID == nil) != (taskID == nil) {
		return false
	}
	return taskID == nil || *set.TaskID == *taskID
}

func (f *fakeDurable) Get(_ context.Context, subjectID uuid.UUID, instrumentID string, taskID *uuid.UUID) (models.AnswerSet, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return models.AnswerSet{}, false, errors.New("durable down")
	}
	for _, set := range f.records {
		if sameKey(set, subjectID, instrumentID, taskID) {
			return set.Clone(), true, nil
		}
	}
	return models.AnswerSet{}, false, nil
}

func (f *fakeDurable) Put(_ context.Context, set models.AnswerSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return errors.New("durable down")
	}
	f.putCalls++
	for id, existing := range f.records {
		if sameKey(existing, set.SubjectID, set.InstrumentID, set.TaskID) {
			f.records[id] = set.Clone()
			return nil
		}
	}
	f.records[uuid.New()] = set.Clone()
	return nil
}

func (f *fakeDurable) Delete(_ context.Context, subjectID uuid.UUID, instrumentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, set := range f.records {
		if set.SubjectID != subjectID {
			continue
		}
		if instrumentID == "" || strings.EqualFold(set.InstrumentID, instrumentID) {
			delete(f.records, id)
		}
	}
	return nil
}

func (f *fakeDurable) List(_ context.Context, subjectID *uuid.UUID) ([]StoredSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []StoredSet
	for id, set := range f.records {
		if subjectID == nil || set.SubjectID == *subjectID {
			out = append(out, StoredSet{ID: id, Set: set.Clone()})
		}
	}
	return out, nil
}

func (f *fakeDurable) Remove(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

// hookedTier lets a test run a callback between the ephemeral and the
// durable write of SetItems.
type hookedTier struct {
	EphemeralTier
	onPut func()
}

func (h *hookedTier) Put(ctx context.Context, set models.AnswerSet) error {
	err := h.EphemeralTier.Put(ctx, set)
	if h.onPut != nil {
		h.onPut()
	}
	return err
}

func newTestStore() (*Store, *fakeDurable) {
	durable := newFakeDurable()
	store := NewStore(NewMemoryTier(), durable, instrument.DefaultCatalog())
	return store, durable
}

func TestSetItemWritesBothTiers(t *testing.T) {
	store, durable := newTestStore()
	ctx := context.Background()
	subjectID := uuid.New()

	if err := store.SetItem(ctx, subjectID, "hal", nil, "hal1", 4); err != nil {
		t.Fatalf("set item failed: %v", err)
	}

	set, err := store.GetAnswers(ctx, subjectID, "hal", nil)
	if err != nil {
		t.Fatalf("get answers failed: %v", err)
	}
	if set.Items["hal1"] != 4 {
		t.Fatalf("expected hal1=4, got %v", set.Items)
	}
	if durable.putCalls != 1 {
		t.Fatalf("expected one durable write, got %d", durable.putCalls)
	}
}

func TestValidationRejectsOutOfDomainValue(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	err := store.SetItem(ctx, uuid.New(), "hal", nil, "hal1", 7)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	err = store.SetItem(ctx, uuid.New(), "hal", nil, "nonexistent", 3)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown item, got %v", err)
	}
	err = store.SetItem(ctx, uuid.New(), "nope", nil, "x", 3)
	if !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
}

func TestNASentinelIsAcceptedAsInput(t *testing.T) {
	store, _ := newTestStore()
	if err := store.SetItem(context.Background(), uuid.New(), "hal", nil, "hal3", 8); err != nil {
		t.Fatalf("expected NA sentinel accepted, got %v", err)
	}
}

func TestDurableOutageDegradesToEphemeralOnly(t *testing.T) {
	store, durable := newTestStore()
	durable.failPut = true
	durable.failGet = true
	ctx := context.Background()
	subjectID := uuid.New()

	if err := store.SetItem(ctx, subjectID, "hal", nil, "hal1", 2); err != nil {
		t.Fatalf("expected write to survive durable outage, got %v", err)
	}

	set, err := store.GetAnswers(ctx, subjectID, "hal", nil)
	if err != nil {
		t.Fatalf("expected read to survive durable outage, got %v", err)
	}
	if set.Items["hal1"] != 2 {
		t.Fatalf("expected in-progress answer preserved, got %v", set.Items)
	}
}

func TestLossPreventionEmptyDurableNeverWins(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	subjectID := uuid.New()

	for i, item := range []string{"hal1", "hal2", "hal3"} {
		if err := store.SetItem(ctx, subjectID, "hal", nil, item, i+1); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	// Durable tier loses everything; the ephemeral copy must survive a
	// reload untouched.
	taskID := uuid.New()
	set, err := store.GetAnswers(ctx, subjectID, "hal", &taskID)
	if err != nil {
		t.Fatalf("get answers failed: %v", err)
	}
	if len(set.Items) != 3 {
		t.Fatalf("expected 3 items retained, got %d", len(set.Items))
	}
}

func TestTaskScopedRecordIsMostAuthoritative(t *testing.T) {
	store, durable := newTestStore()
	ctx := context.Background()
	subjectID := uuid.New()
	taskID := uuid.New()

	// Subject-scoped work predates the task binding.
	if err := store.SetItem(ctx, subjectID, "hal", nil, "hal1", 2); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	// A bound attempt recorded a different value for the same item.
	_ = durable.Put(ctx, models.AnswerSet{
		SubjectID:    subjectID,
		TaskID:       &taskID,
		InstrumentID: "hal",
		Items:        map[string]int{"hal1": 5, "hal2": 6},
		UpdatedAt:    time.Now(),
	})

	set, err := store.GetAnswers(ctx, subjectID, "hal", &taskID)
	if err != nil {
		t.Fatalf("get answers failed: %v", err)
	}
	if set.Items["hal1"] != 5 {
		t.Fatalf("expected task-scoped value to win, got %d", set.Items["hal1"])
	}
	if set.Items["hal2"] != 6 {
		t.Fatalf("expected task-scoped extra item, got %v", set.Items)
	}
}

func TestDistinctTasksDoNotOverwriteEachOther(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	subjectID := uuid.New()
	firstTask := uuid.New()
	secondTask := uuid.New()

	if err := store.SetItem(ctx, subjectID, "hal", &firstTask, "hal1", 1); err != nil {
		t.Fatalf("first attempt write failed: %v", err)
	}
	_ = store.Clear(ctx, subjectID, "") // retake starts clean
	if err := store.SetItem(ctx, subjectID, "hal", &secondTask, "hal1", 6); err != nil {
		t.Fatalf("second attempt write failed: %v", err)
	}

	second, err := store.GetAnswers(ctx, subjectID, "hal", &secondTask)
	if err != nil {
		t.Fatalf("get answers failed: %v", err)
	}
	if second.Items["hal1"] != 6 {
		t.Fatalf("expected second attempt value, got %d", second.Items["hal1"])
	}
}

func TestNoAnswersYetIsEmptyNotError(t *testing.T) {
	store, _ := newTestStore()
	set, err := store.GetAnswers(context.Background(), uuid.New(), "hal", nil)
	if err != nil {
		t.Fatalf("expected empty set, got error %v", err)
	}
	if !set.Empty() {
		t.Fatalf("expected empty set, got %v", set.Items)
	}
}

func TestClearWipesBothTiers(t *testing.T) {
	store, durable := newTestStore()
	ctx := context.Background()
	subjectID := uuid.New()

	if err := store.SetItem(ctx, subjectID, "hal", nil, "hal1", 3); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := store.Clear(ctx, subjectID, ""); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	set, err := store.GetAnswers(ctx, subjectID, "hal", nil)
	if err != nil {
		t.Fatalf("get answers failed: %v", err)
	}
	if !set.Empty() {
		t.Fatalf("expected cleared set, got %v", set.Items)
	}
	if records, _ := durable.List(ctx, &subjectID); len(records) != 0 {
		t.Fatalf("expected durable tier cleared, got %d records", len(records))
	}
}

func TestClearFencesInFlightDurableWrite(t *testing.T) {
	durable := newFakeDurable()
	hooked := &hookedTier{EphemeralTier: NewMemoryTier()}
	store := NewStore(hooked, durable, instrument.DefaultCatalog())
	ctx := context.Background()
	subjectID := uuid.New()

	// Session is cleared between the ephemeral and the durable write,
	// as when a save is in flight during logout.
	hooked.onPut = func() {
		hooked.onPut = nil
		_ = store.Clear(ctx, subjectID, "")
	}

	if err := store.SetItem(ctx, subjectID, "hal", nil, "hal1", 4); err != nil {
		t.Fatalf("set item failed: %v", err)
	}
	if durable.putCalls != 0 {
		t.Fatal("expected stale write fenced out of durable tier")
	}
}

// slowTier widens the window between the read and the write of the
// item map so unserialized writers would interleave on one snapshot.
type slowTier struct {
	EphemeralTier
	delay time.Duration
}

func (s *slowTier) Get(ctx context.Context, subjectID uuid.UUID, instrumentID string) (models.AnswerSet, bool, error) {
	set, ok, err := s.EphemeralTier.Get(ctx, subjectID, instrumentID)
	time.Sleep(s.delay)
	return set, ok, err
}

func TestConcurrentWritesToDistinctItemsBothLand(t *testing.T) {
	durable := newFakeDurable()
	ephemeral := &slowTier{EphemeralTier: NewMemoryTier(), delay: 20 * time.Millisecond}
	store := NewStore(ephemeral, durable, instrument.DefaultCatalog())
	ctx := context.Background()
	subjectID := uuid.New()

	var wg sync.WaitGroup
	for item, value := range map[string]int{"hal1": 3, "hal2": 4} {
		wg.Add(1)
		go func(item string, value int) {
			defer wg.Done()
			if err := store.SetItem(ctx, subjectID, "hal", nil, item, value); err != nil {
				t.Errorf("set %s failed: %v", item, err)
			}
		}(item, value)
	}
	wg.Wait()

	set, err := store.GetAnswers(ctx, subjectID, "hal", nil)
	if err != nil {
		t.Fatalf("get answers failed: %v", err)
	}
	if set.Items["hal1"] != 3 || set.Items["hal2"] != 4 {
		t.Fatalf("expected both concurrent writes retained, got %v", set.Items)
	}
}

func TestManyConcurrentWritersLoseNothing(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	subjectID := uuid.New()
	def, _ := instrument.DefaultCatalog().Lookup("hal")

	var wg sync.WaitGroup
	for _, item := range def.Items {
		wg.Add(1)
		go func(item string) {
			defer wg.Done()
			if err := store.SetItem(ctx, subjectID, "hal", nil, item, 2); err != nil {
				t.Errorf("set %s failed: %v", item, err)
			}
		}(item)
	}
	wg.Wait()

	set, err := store.GetAnswers(ctx, subjectID, "hal", nil)
	if err != nil {
		t.Fatalf("get answers failed: %v", err)
	}
	if len(set.Items) != len(def.Items) {
		t.Fatalf("expected %d items, got %d", len(def.Items), len(set.Items))
	}
}

func TestBulkWriteValidatesBeforeWriting(t *testing.T) {
	store, durable := newTestStore()
	ctx := context.Background()
	subjectID := uuid.New()

	err := store.SetItems(ctx, subjectID, "hal", nil, map[string]int{
		"hal1": 3,
		"hal2": 99, // invalid
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if durable.putCalls != 0 {
		t.Fatal("expected no partial write")
	}
	set, _ := store.GetAnswers(ctx, subjectID, "hal", nil)
	if !set.Empty() {
		t.Fatalf("expected nothing written, got %v", set.Items)
	}
}
