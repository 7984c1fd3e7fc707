package answers

import (
	"context"
	"strings"
	"sync"

	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/google/uuid"
)

// MemoryTier is the in-process ephemeral tier. It is the default for
// single-device deployments and for tests; RedisTier replaces it when a
// shared cache is configured.
type MemoryTier struct {
	mu   sync.RWMutex
	sets map[string]models.AnswerSet
}

func NewMemoryTier() *MemoryTier {
	return &MemoryTier{sets: make(map[string]models.AnswerSet)}
}

func memoryKey(subjectID uuid.UUID, instrumentID string) string {
	return subjectID.String() + "|" + strings.ToLower(instrumentID)
}

func (m *MemoryTier) Get(_ context.Context, subjectID uuid.UUID, instrumentID string) (models.AnswerSet, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.sets[memoryKey(subjectID, instrumentID)]
	if !ok {
		return models.AnswerSet{}, false, nil
	}
	return set.Clone(), true, nil
}

func (m *MemoryTier) Put(_ context.Context, set models.AnswerSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sets[memoryKey(set.SubjectID, set.InstrumentID)] = set.Clone()
	return nil
}

func (m *MemoryTier) Delete(_ context.Context, subjectID uuid.UUID, instrumentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if instrumentID != "" {
		delete(m.sets, memoryKey(subjectID, instrumentID))
		return nil
	}
	prefix := subjectID.String() + "|"
	for key := range m.sets {
		if strings.HasPrefix(key, prefix) {
			delete(m.sets, key)
		}
	}
	return nil
}
