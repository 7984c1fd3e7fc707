package models

import (
	"time"

	"github.com/google/uuid"
)

// Actor roles. Closed set: anything else is rejected at the boundary.
type Role string

const (
	RoleSubject   Role = "subject"
	RoleClinician Role = "clinician"
)

func (r Role) Valid() bool {
	return r == RoleSubject || r == RoleClinician
}

// Session is the capability record for the current actor. Exactly one is
// active per runtime context; it is never persisted beyond the device.
type Session struct {
	ActorID        uuid.UUID `json:"actor_id"`
	Role           Role      `json:"role"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Subject & clinician registry
type Subject struct {
	ID               uuid.UUID          `json:"id"`
	DisplayName      string             `json:"display_name"`
	Demographics     map[string]float64 `json:"demographics,omitempty"`
	OwnerClinicianID *uuid.UUID         `json:"owner_clinician_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type Clinician struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Task origin and status
type TaskOrigin string

const (
	OriginClinicianAssigned TaskOrigin = "clinician_assigned"
	OriginSubjectInitiated  TaskOrigin = "subject_initiated"
)

type TaskStatus string

const (
	StatusNotStarted TaskStatus = "not_started"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
)

// Task is one subject's attempt at one instrument. At most one task per
// (subject, instrument) may be in a non-completed status at any time.
type Task struct {
	ID              uuid.UUID  `json:"id"`
	SubjectID       uuid.UUID  `json:"subject_id"`
	InstrumentID    string     `json:"instrument_id"`
	Origin          TaskOrigin `json:"origin"`
	Status          TaskStatus `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func (t Task) Active() bool {
	return t.Status == StatusNotStarted || t.Status == StatusInProgress
}

// AnswerSet holds the raw item responses for one subject and instrument.
// TaskID is nil while in-progress work is not yet bound to an attempt.
type AnswerSet struct {
	SubjectID    uuid.UUID      `json:"subject_id"`
	TaskID       *uuid.UUID     `json:"task_id,omitempty"`
	InstrumentID string         `json:"instrument_id"`
	Items        map[string]int `json:"items"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (a AnswerSet) Empty() bool {
	return len(a.Items) == 0
}

// Clone returns a deep copy so callers can mutate the item map freely.
func (a AnswerSet) Clone() AnswerSet {
	out := a
	out.Items = make(map[string]int, len(a.Items))
	for k, v := range a.Items {
		out.Items[k] = v
	}
	return out
}

// DomainScore is nil in a ScoreResult when no item in the domain was
// answerable (all missing or marked not-applicable).
type DomainScore struct {
	Score       float64 `json:"score"`
	MaxPossible float64 `json:"max_possible"`
	Percent     float64 `json:"percent"`
}

// ScoreResult is derived data, always recomputable from an AnswerSet.
// It is persisted only alongside a completed Response, for audit.
type ScoreResult struct {
	DomainScores map[string]*DomainScore `json:"domain_scores"`
	Total        *float64                `json:"total"`
}

// Response is the append-only record of a completed submission. No two
// responses may reference the same task.
type Response struct {
	ID               uuid.UUID      `json:"id"`
	TaskID           uuid.UUID      `json:"task_id"`
	SubjectID        uuid.UUID      `json:"subject_id"`
	InstrumentID     string         `json:"instrument_id"`
	Answers          map[string]int `json:"answers"`
	Scores           ScoreResult    `json:"scores"`
	TotalScore       *float64       `json:"total_score"`
	CompletedAt      time.Time      `json:"completed_at"`
	VisibleToSubject bool           `json:"visible_to_subject"`
}

// MaintenanceReport summarizes one reconciliation pass.
type MaintenanceReport struct {
	IssuesFound    int `json:"issues_found"`
	IssuesResolved int `json:"issues_resolved"`
}

// Event bus payload for assessment lifecycle events.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // task_created, task_completed, response_submitted, maintenance_run
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Request shapes used by the HTTP operation surface
type LoginRequest struct {
	ActorID  uuid.UUID `json:"actor_id"`
	Role     Role      `json:"role"`
	Password string    `json:"password,omitempty"`
}

type RegisterSubjectRequest struct {
	DisplayName      string             `json:"display_name"`
	Demographics     map[string]float64 `json:"demographics,omitempty"`
	OwnerClinicianID *uuid.UUID         `json:"owner_clinician_id,omitempty"`
}

type RegisterClinicianRequest struct {
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type UpdateDemographicsRequest struct {
	Demographics map[string]float64 `json:"demographics"`
}

type AssignOwnerRequest struct {
	ClinicianID uuid.UUID `json:"clinician_id"`
}

type CreateTaskRequest struct {
	InstrumentID string     `json:"instrument_id"`
	Origin       TaskOrigin `json:"origin"`
	Retake       bool       `json:"retake,omitempty"`
}

type SetAnswerRequest struct {
	SubjectID    uuid.UUID  `json:"subject_id"`
	InstrumentID string     `json:"instrument_id"`
	TaskID       *uuid.UUID `json:"task_id,omitempty"`
	ItemID       string     `json:"item_id"`
	Value        int        `json:"value"`
}

type ComputeScoreRequest struct {
	InstrumentID string         `json:"instrument_id"`
	Answers      map[string]int `json:"answers"`
}

// SubmitResponseRequest carries an optional answer map; when omitted the
// stored answers for the task are archived.
type SubmitResponseRequest struct {
	Answers map[string]int `json:"answers,omitempty"`
}

type SetVisibilityRequest struct {
	Visible bool `json:"visible"`
}
