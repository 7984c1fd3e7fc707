package platform

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/asterion-health/platform/pkg/answers"
	"github.com/asterion-health/platform/pkg/archive"
	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/asterion-health/platform/pkg/session"
	"github.com/asterion-health/platform/pkg/subjects"
	"github.com/asterion-health/platform/pkg/tasks"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Handler exposes the Store over HTTP.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)

	api.HandleFunc("/clinicians", h.registerClinician).Methods(http.MethodPost)
	api.HandleFunc("/subjects", h.registerSubject).Methods(http.MethodPost)
	api.HandleFunc("/subjects", h.listSubjects).Methods(http.MethodGet)

	api.HandleFunc("/subjects/{id}/demographics", h.updateDemographics).Methods(http.MethodPut)
	api.HandleFunc("/subjects/{id}/owner", h.assignOwner).Methods(http.MethodPut)

	api.HandleFunc("/instruments", h.listInstruments).Methods(http.MethodGet)

	api.HandleFunc("/subjects/{id}/tasks", h.createTask).Methods(http.MethodPost)
	api.HandleFunc("/subjects/{id}/tasks", h.listTasks).Methods(http.MethodGet)
	api.HandleFunc("/subjects/{id}/answers", h.getAnswers).Methods(http.MethodGet)
	api.HandleFunc("/subjects/{id}/responses", h.listResponses).Methods(http.MethodGet)

	api.HandleFunc("/answers", h.setAnswer).Methods(http.MethodPost)
	api.HandleFunc("/score", h.computeScore).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/submit", h.submitResponse).Methods(http.MethodPost)
	api.HandleFunc("/responses/{id}/visibility", h.setVisibility).Methods(http.MethodPut)
	api.HandleFunc("/maintenance", h.runMaintenance).Methods(http.MethodPost)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := h.store.Login(r.Context(), req.ActorID, req.Role, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.store.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) registerClinician(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterClinicianRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	clinician, err := h.store.RegisterClinician(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, clinician)
}

func (h *Handler) registerSubject(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	subject, err := h.store.RegisterSubject(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, subject)
}

func (h *Handler) listSubjects(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.ListSubjects(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subjects": all, "count": len(all)})
}

func (h *Handler) updateDemographics(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateDemographicsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.UpdateDemographics(r.Context(), subjectID, req.Demographics); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignOwner(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.AssignOwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.AssignOwner(r.Context(), subjectID, req.ClinicianID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listInstruments(w http.ResponseWriter, r *http.Request) {
	defs := h.store.Instruments()
	writeJSON(w, http.StatusOK, map[string]interface{}{"instruments": defs, "count": len(defs)})
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := h.store.GetOrCreateTask(r.Context(), subjectID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	all, err := h.store.ListTasks(r.Context(), subjectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": all, "count": len(all)})
}

func (h *Handler) setAnswer(w http.ResponseWriter, r *http.Request) {
	var req models.SetAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.SetAnswer(r.Context(), req); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getAnswers(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	instrumentID := r.URL.Query().Get("instrument")
	if instrumentID == "" {
		writeError(w, http.StatusBadRequest, "instrument query parameter is required")
		return
	}
	var taskID *uuid.UUID
	if raw := r.URL.Query().Get("task_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid task_id")
			return
		}
		taskID = &parsed
	}
	set, err := h.store.GetAnswers(r.Context(), subjectID, instrumentID, taskID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (h *Handler) computeScore(w http.ResponseWriter, r *http.Request) {
	var req models.ComputeScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.store.ComputeScore(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) submitResponse(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.SubmitResponseRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	resp, err := h.store.SubmitResponse(r.Context(), taskID, req.Answers)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) listResponses(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	all, err := h.store.ListResponses(r.Context(), subjectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"responses": all, "count": len(all)})
}

func (h *Handler) setVisibility(w http.ResponseWriter, r *http.Request) {
	responseID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.SetVisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.SetResponseVisibility(r.Context(), responseID, req.Visible); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) runMaintenance(w http.ResponseWriter, r *http.Request) {
	var subjectID *uuid.UUID
	if raw := r.URL.Query().Get("subject_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid subject_id")
			return
		}
		subjectID = &parsed
	}
	report, err := h.store.RunMaintenance(r.Context(), subjectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid identifier")
		return uuid.Nil, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnauthorized),
		errors.Is(err, subjects.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, session.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, tasks.ErrTaskNotFound),
		errors.Is(err, subjects.ErrSubjectNotFound),
		errors.Is(err, subjects.ErrClinicianNotFound),
		errors.Is(err, archive.ErrResponseNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tasks.ErrTaskCompleted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrInvalidRole),
		errors.Is(err, answers.ErrValidation),
		errors.Is(err, answers.ErrUnknownInstrument),
		errors.Is(err, archive.ErrUnknownInstrument),
		errors.Is(err, subjects.ErrDisplayNameEmpty):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
