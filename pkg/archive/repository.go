package archive

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

var ErrResponseNotFound = errors.New("response not found")

// Repository is the append-only store of completed submissions.
type Repository interface {
	UpsertByTask(ctx context.Context, resp models.Response) (models.Response, error)
	FindByTask(ctx context.Context, taskID uuid.UUID) (models.Response, bool, error)
	List(ctx context.Context, subjectID *uuid.UUID) ([]models.Response, error)
	UpdateVisibility(ctx context.Context, responseID uuid.UUID, visible bool) error
	Remove(ctx context.Context, responseID uuid.UUID) error
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

type responseModel struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey"`
	TaskID           uuid.UUID      `gorm:"type:uuid;index"`
	SubjectID        uuid.UUID      `gorm:"type:uuid;index"`
	InstrumentID     string         `gorm:"column:instrument_id"`
	Answers          datatypes.JSON `gorm:"column:answers"`
	Scores           datatypes.JSON `gorm:"column:scores"`
	TotalScore       *float64       `gorm:"column:total_score"`
	CompletedAt      time.Time      `gorm:"column:completed_at"`
	VisibleToSubject bool           `gorm:"column:visible_to_subject"`
}

func (responseModel) TableName() string { return "assessment_responses" }

func (r *GormRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&responseModel{})
}

// UpsertByTask keeps the one-response-per-task invariant: a resubmission
// replaces the payload under the original response identity.
func (r *GormRepository) UpsertByTask(ctx context.Context, resp models.Response) (models.Response, error) {
	answersJSON, err := json.Marshal(resp.Answers)
	if err != nil {
		return models.Response{}, err
	}
	scoresJSON, err := json.Marshal(resp.Scores)
	if err != nil {
		return models.Response{}, err
	}

	var row responseModel
	err = r.db.WithContext(ctx).Where("task_id = ?", resp.TaskID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = responseModel{
			ID:               resp.ID,
			TaskID:           resp.TaskID,
			SubjectID:        resp.SubjectID,
			InstrumentID:     strings.ToLower(resp.InstrumentID),
			Answers:          datatypes.JSON(answersJSON),
			Scores:           datatypes.JSON(scoresJSON),
			TotalScore:       resp.TotalScore,
			CompletedAt:      resp.CompletedAt,
			VisibleToSubject: resp.VisibleToSubject,
		}
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return models.Response{}, err
		}
		return mapResponseModel(row), nil
	}
	if err != nil {
		return models.Response{}, err
	}

	updates := map[string]interface{}{
		"answers":      datatypes.JSON(answersJSON),
		"scores":       datatypes.JSON(scoresJSON),
		"total_score":  resp.TotalScore,
		"completed_at": resp.CompletedAt,
	}
	if err := r.db.WithContext(ctx).Model(&responseModel{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
		return models.Response{}, err
	}
	return r.findByID(ctx, row.ID)
}

func (r *GormRepository) FindByTask(ctx context.Context, taskID uuid.UUID) (models.Response, bool, error) {
	var row responseModel
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Response{}, false, nil
	}
	if err != nil {
		return models.Response{}, false, err
	}
	return mapResponseModel(row), true, nil
}

func (r *GormRepository) List(ctx context.Context, subjectID *uuid.UUID) ([]models.Response, error) {
	query := r.db.WithContext(ctx).Order("completed_at DESC")
	if subjectID != nil {
		query = query.Where("subject_id = ?", *subjectID)
	}
	var rows []responseModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Response, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapResponseModel(row))
	}
	return out, nil
}

func (r *GormRepository) UpdateVisibility(ctx context.Context, responseID uuid.UUID, visible bool) error {
	result := r.db.WithContext(ctx).Model(&responseModel{}).Where("id = ?", responseID).
		Update("visible_to_subject", visible)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrResponseNotFound
	}
	return nil
}

func (r *GormRepository) Remove(ctx context.Context, responseID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", responseID).Delete(&responseModel{}).Error
}

func (r *GormRepository) findByID(ctx context.Context, id uuid.UUID) (models.Response, error) {
	var row responseModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return models.Response{}, err
	}
	return mapResponseModel(row), nil
}

func mapResponseModel(row responseModel) models.Response {
	resp := models.Response{
		ID:               row.ID,
		TaskID:           row.TaskID,
		SubjectID:        row.SubjectID,
		InstrumentID:     row.InstrumentID,
		Answers:          map[string]int{},
		TotalScore:       row.TotalScore,
		CompletedAt:      row.CompletedAt,
		VisibleToSubject: row.VisibleToSubject,
	}
	if len(row.Answers) > 0 {
		_ = json.Unmarshal(row.Answers, &resp.Answers)
	}
	if len(row.Scores) > 0 {
		_ = json.Unmarshal(row.Scores, &resp.Scores)
	}
	return resp
}
