package subjects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/asterion-health/platform/pkg/common/logger"
	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDisplayNameEmpty   = errors.New("display name is required")
)

// Service is the subject and clinician registry.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) RegisterSubject(ctx context.Context, req models.RegisterSubjectRequest) (models.Subject, error) {
	if req.DisplayName == "" {
		return models.Subject{}, ErrDisplayNameEmpty
	}
	now := time.Now().UTC()
	subject := models.Subject{
		ID:               uuid.New(),
		DisplayName:      req.DisplayName,
		Demographics:     req.Demographics,
		OwnerClinicianID: req.OwnerClinicianID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if subject.Demographics == nil {
		subject.Demographics = map[string]float64{}
	}
	if err := s.repo.CreateSubject(ctx, subject); err != nil {
		return models.Subject{}, fmt.Errorf("register subject: %w", err)
	}
	logger.Log.WithFields(map[string]interface{}{
		"subject_id":   subject.ID,
		"display_name": subject.DisplayName,
	}).Info("subject registered")
	return subject, nil
}

func (s *Service) Get(ctx context.Context, subjectID uuid.UUID) (models.Subject, error) {
	return s.repo.GetSubject(ctx, subjectID)
}

// List returns the subjects a clinician can see; nil ownerID means all.
func (s *Service) List(ctx context.Context, ownerID *uuid.UUID) ([]models.Subject, error) {
	return s.repo.ListSubjects(ctx, ownerID)
}

// UpdateDemographics replaces the subject's demographic map.
func (s *Service) UpdateDemographics(ctx context.Context, subjectID uuid.UUID, demographics map[string]float64) error {
	payload, err := json.Marshal(demographics)
	if err != nil {
		return err
	}
	return s.repo.UpdateSubject(ctx, subjectID, map[string]interface{}{
		"demographics": datatypes.JSON(payload),
		"updated_at":   time.Now().UTC(),
	})
}

// AssignOwner binds a subject to the clinician responsible for them.
func (s *Service) AssignOwner(ctx context.Context, subjectID, clinicianID uuid.UUID) error {
	if _, _, err := s.repo.GetClinician(ctx, clinicianID); err != nil {
		return err
	}
	return s.repo.UpdateSubject(ctx, subjectID, map[string]interface{}{
		"owner_clinician_id": clinicianID,
		"updated_at":         time.Now().UTC(),
	})
}

func (s *Service) RegisterClinician(ctx context.Context, req models.RegisterClinicianRequest) (models.Clinician, error) {
	if req.DisplayName == "" {
		return models.Clinician{}, ErrDisplayNameEmpty
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.Clinician{}, fmt.Errorf("hash password: %w", err)
	}
	clinician := models.Clinician{
		ID:          uuid.New(),
		DisplayName: req.DisplayName,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateClinician(ctx, clinician, string(hash)); err != nil {
		return models.Clinician{}, fmt.Errorf("register clinician: %w", err)
	}
	logger.Log.WithField("clinician_id", clinician.ID).Info("clinician registered")
	return clinician, nil
}

// VerifyClinician checks a clinician's password before a clinician-role
// session is started.
func (s *Service) VerifyClinician(ctx context.Context, clinicianID uuid.UUID, password string) (models.Clinician, error) {
	clinician, hash, err := s.repo.GetClinician(ctx, clinicianID)
	if err != nil {
		return models.Clinician{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return models.Clinician{}, ErrInvalidCredentials
	}
	return clinician, nil
}
