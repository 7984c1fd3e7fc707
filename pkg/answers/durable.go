package answers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormTier is the durable answer tier.
type GormTier struct {
	db *gorm.DB
}

func NewGormTier(db *gorm.DB) *GormTier {
	return &GormTier{db: db}
}

type answerSetModel struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey"`
	SubjectID    uuid.UUID      `gorm:"type:uuid;index:idx_answer_sets_scope"`
	InstrumentID string         `gorm:"index:idx_answer_sets_scope"`
	TaskID       *uuid.UUID     `gorm:"type:uuid;index"`
	Items        datatypes.JSON `gorm:"column:items"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
}

func (answerSetModel) TableName() string { return "answer_sets" }

func (t *GormTier) AutoMigrate() error {
	return t.db.AutoMigrate(&answerSetModel{})
}

func (t *GormTier) Get(ctx context.Context, subjectID uuid.UUID, instrumentID string, taskID *uuid.UUID) (models.AnswerSet, bool, error) {
	query := t.db.WithContext(ctx).
		Where("subject_id = ? AND instrument_id = ?", subjectID, strings.ToLower(instrumentID))
	if taskID != nil {
		query = query.Where("task_id = ?", *taskID)
	} else {
		query = query.Where("task_id IS NULL")
	}

	var row answerSetModel
	err := query.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AnswerSet{}, false, nil
	}
	if err != nil {
		return models.AnswerSet{}, false, err
	}
	return mapAnswerSetModel(row), true, nil
}

// Put replaces the whole item map for the record's key, creating the
// record if absent. Writes are all-or-nothing at the map level.
func (t *GormTier) Put(ctx context.Context, set models.AnswerSet) error {
	items, err := json.Marshal(set.Items)
	if err != nil {
		return err
	}

	query := t.db.WithContext(ctx).
		Where("subject_id = ? AND instrument_id = ?", set.SubjectID, strings.ToLower(set.InstrumentID))
	if set.TaskID != nil {
		query = query.Where("task_id = ?", *set.TaskID)
	} else {
		query = query.Where("task_id IS NULL")
	}

	var row answerSetModel
	err = query.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = answerSetModel{
			ID:           uuid.New(),
			SubjectID:    set.SubjectID,
			InstrumentID: strings.ToLower(set.InstrumentID),
			TaskID:       set.TaskID,
			Items:        datatypes.JSON(items),
			UpdatedAt:    time.Now().UTC(),
		}
		return t.db.WithContext(ctx).Create(&row).Error
	}
	if err != nil {
		return err
	}

	return t.db.WithContext(ctx).Model(&answerSetModel{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
		"items":      datatypes.JSON(items),
		"updated_at": time.Now().UTC(),
	}).Error
}

func (t *GormTier) Delete(ctx context.Context, subjectID uuid.UUID, instrumentID string) error {
	query := t.db.WithContext(ctx).Where("subject_id = ?", subjectID)
	if instrumentID != "" {
		query = query.Where("instrument_id = ?", strings.ToLower(instrumentID))
	}
	return query.Delete(&answerSetModel{}).Error
}

func (t *GormTier) List(ctx context.Context, subjectID *uuid.UUID) ([]StoredSet, error) {
	query := t.db.WithContext(ctx).Order("updated_at DESC")
	if subjectID != nil {
		query = query.Where("subject_id = ?", *subjectID)
	}

	var rows []answerSetModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]StoredSet, 0, len(rows))
	for _, row := range rows {
		out = append(out, StoredSet{ID: row.ID, Set: mapAnswerSetModel(row)})
	}
	return out, nil
}

func (t *GormTier) Remove(ctx context.Context, id uuid.UUID) error {
	return t.db.WithContext(ctx).Where("id = ?", id).Delete(&answerSetModel{}).Error
}

func mapAnswerSetModel(row answerSetModel) models.AnswerSet {
	set := models.AnswerSet{
		SubjectID:    row.SubjectID,
		TaskID:       row.TaskID,
		InstrumentID: row.InstrumentID,
		Items:        map[string]int{},
		UpdatedAt:    row.UpdatedAt,
	}
	if len(row.Items) > 0 {
		_ = json.Unmarshal(row.Items, &set.Items)
	}
	return set
}
