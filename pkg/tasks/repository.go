package tasks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrTaskNotFound = errors.New("task not found")

// Repository is the durable task record store. The gorm implementation
// is the production one; the service only depends on this surface.
type Repository interface {
	Create(ctx context.Context, task models.Task) error
	Get(ctx context.Context, taskID uuid.UUID) (models.Task, error)
	ListByScope(ctx context.Context, subjectID uuid.UUID, instrumentID string) ([]models.Task, error)
	ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]models.Task, error)
	UpdateStatus(ctx context.Context, taskID uuid.UUID, status models.TaskStatus, completedAt *time.Time) error
	UpdateProgress(ctx context.Context, taskID uuid.UUID, percent int) error
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

type taskModel struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	SubjectID       uuid.UUID  `gorm:"type:uuid;index:idx_tasks_scope"`
	InstrumentID    string     `gorm:"index:idx_tasks_scope"`
	Origin          string     `gorm:"column:origin"`
	Status          string     `gorm:"column:status;index"`
	ProgressPercent int        `gorm:"column:progress_percent"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	CompletedAt     *time.Time `gorm:"column:completed_at"`
}

func (taskModel) TableName() string { return "assessment_tasks" }

func (r *GormRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&taskModel{})
}

func (r *GormRepository) Create(ctx context.Context, task models.Task) error {
	row := taskModel{
		ID:              task.ID,
		SubjectID:       task.SubjectID,
		InstrumentID:    strings.ToLower(task.InstrumentID),
		Origin:          string(task.Origin),
		Status:          string(task.Status),
		ProgressPercent: task.ProgressPercent,
		CreatedAt:       task.CreatedAt,
		CompletedAt:     task.CompletedAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *GormRepository) Get(ctx context.Context, taskID uuid.UUID) (models.Task, error) {
	var row taskModel
	err := r.db.WithContext(ctx).First(&row, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return mapTaskModel(row), nil
}

func (r *GormRepository) ListByScope(ctx context.Context, subjectID uuid.UUID, instrumentID string) ([]models.Task, error) {
	var rows []taskModel
	err := r.db.WithContext(ctx).
		Where("subject_id = ? AND instrument_id = ?", subjectID, strings.ToLower(instrumentID)).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return mapTaskModels(rows), nil
}

func (r *GormRepository) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]models.Task, error) {
	var rows []taskModel
	err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return mapTaskModels(rows), nil
}

func (r *GormRepository) UpdateStatus(ctx context.Context, taskID uuid.UUID, status models.TaskStatus, completedAt *time.Time) error {
	updates := map[string]interface{}{"status": string(status)}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}
	result := r.db.WithContext(ctx).Model(&taskModel{}).Where("id = ?", taskID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *GormRepository) UpdateProgress(ctx context.Context, taskID uuid.UUID, percent int) error {
	result := r.db.WithContext(ctx).Model(&taskModel{}).Where("id = ?", taskID).
		Update("progress_percent", percent)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func mapTaskModel(row taskModel) models.Task {
	return models.Task{
		ID:              row.ID,
		SubjectID:       row.SubjectID,
		InstrumentID:    row.InstrumentID,
		Origin:          models.TaskOrigin(row.Origin),
		Status:          models.TaskStatus(row.Status),
		ProgressPercent: row.ProgressPercent,
		CreatedAt:       row.CreatedAt,
		CompletedAt:     row.CompletedAt,
	}
}

func mapTaskModels(rows []taskModel) []models.Task {
	out := make([]models.Task, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapTaskModel(row))
	}
	return out
}
