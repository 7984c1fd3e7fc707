package subjects

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrSubjectNotFound   = errors.New("subject not found")
	ErrClinicianNotFound = errors.New("clinician not found")
)

type Repository interface {
	CreateSubject(ctx context.Context, subject models.Subject) error
	GetSubject(ctx context.Context, subjectID uuid.UUID) (models.Subject, error)
	ListSubjects(ctx context.Context, ownerID *uuid.UUID) ([]models.Subject, error)
	UpdateSubject(ctx context.Context, subjectID uuid.UUID, updates map[string]interface{}) error
	CreateClinician(ctx context.Context, clinician models.Clinician, passwordHash string) error
	GetClinician(ctx context.Context, clinicianID uuid.UUID) (models.Clinician, string, error)
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

type subjectModel struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey"`
	DisplayName      string         `gorm:"column:display_name"`
	Demographics     datatypes.JSON `gorm:"column:demographics"`
	OwnerClinicianID *uuid.UUID     `gorm:"type:uuid;index"`
	CreatedAt        time.Time      `gorm:"column:created_at"`
	UpdatedAt        time.Time      `gorm:"column:updated_at"`
}

func (subjectModel) TableName() string { return "subjects" }

type clinicianModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	DisplayName  string    `gorm:"column:display_name"`
	PasswordHash string    `gorm:"column:password_hash"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (clinicianModel) TableName() string { return "clinicians" }

func (r *GormRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&subjectModel{}, &clinicianModel{})
}

func (r *GormRepository) CreateSubject(ctx context.Context, subject models.Subject) error {
	demographics, err := json.Marshal(subject.Demographics)
	if err != nil {
		return err
	}
	row := subjectModel{
		ID:               subject.ID,
		DisplayName:      subject.DisplayName,
		Demographics:     datatypes.JSON(demographics),
		OwnerClinicianID: subject.OwnerClinicianID,
		CreatedAt:        subject.CreatedAt,
		UpdatedAt:        subject.UpdatedAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *GormRepository) GetSubject(ctx context.Context, subjectID uuid.UUID) (models.Subject, error) {
	var row subjectModel
	err := r.db.WithContext(ctx).First(&row, "id = ?", subjectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Subject{}, ErrSubjectNotFound
	}
	if err != nil {
		return models.Subject{}, err
	}
	return mapSubjectModel(row), nil
}

func (r *GormRepository) ListSubjects(ctx context.Context, ownerID *uuid.UUID) ([]models.Subject, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if ownerID != nil {
		query = query.Where("owner_clinician_id = ?", *ownerID)
	}
	var rows []subjectModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Subject, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapSubjectModel(row))
	}
	return out, nil
}

func (r *GormRepository) UpdateSubject(ctx context.Context, subjectID uuid.UUID, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&subjectModel{}).Where("id = ?", subjectID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubjectNotFound
	}
	return nil
}

func (r *GormRepository) CreateClinician(ctx context.Context, clinician models.Clinician, passwordHash string) error {
	row := clinicianModel{
		ID:           clinician.ID,
		DisplayName:  clinician.DisplayName,
		PasswordHash: passwordHash,
		CreatedAt:    clinician.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *GormRepository) GetClinician(ctx context.Context, clinicianID uuid.UUID) (models.Clinician, string, error) {
	var row clinicianModel
	err := r.db.WithContext(ctx).First(&row, "id = ?", clinicianID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Clinician{}, "", ErrClinicianNotFound
	}
	if err != nil {
		return models.Clinician{}, "", err
	}
	clinician := models.Clinician{
		ID:          row.ID,
		DisplayName: row.DisplayName,
		CreatedAt:   row.CreatedAt,
	}
	return clinician, row.PasswordHash, nil
}

func mapSubjectModel(row subjectModel) models.Subject {
	subject := models.Subject{
		ID:               row.ID,
		DisplayName:      row.DisplayName,
		Demographics:     map[string]float64{},
		OwnerClinicianID: row.OwnerClinicianID,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if len(row.Demographics) > 0 {
		_ = json.Unmarshal(row.Demographics, &subject.Demographics)
	}
	return subject
}
