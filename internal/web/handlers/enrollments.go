package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/school-attendance/internal/constants"
	"github.com/kozaktomas/school-attendance/internal/database"
	"github.com/kozaktomas/school-attendance/internal/enrollment"
)

// EnrollmentsHandler handles biometric enrollment endpoints
type EnrollmentsHandler struct {
	manager *enrollment.Manager
	enabled bool
}

// NewEnrollmentsHandler creates a new enrollments handler
func NewEnrollmentsHandler(manager *enrollment.Manager, enabled bool) *EnrollmentsHandler {
	return &EnrollmentsHandler{manager: manager, enabled: enabled}
}

// PersonRef identifies a person in a request body.
type PersonRef struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

// RetryRequest is the body of POST /enrollments/retry.
type RetryRequest struct {
	OlderThanHours int `json:"older_than_hours"`
}

// EmbeddingResponse is the public view of a FaceEmbedding.
type EmbeddingResponse struct {
	PersonKind     database.PersonKind      `json:"person_kind"`
	PersonID       int64                    `json:"person_id"`
	ExternalID     string                   `json:"external_id"`
	Status         database.EmbeddingStatus `json:"status"`
	SourceImageURL string                   `json:"source_image_url"`
	ErrorMessage   string                   `json:"error_message,omitempty"`
	Confidence     *float64                 `json:"confidence,omitempty"`
	Attempts       int                      `json:"attempts"`
	EnrolledAt     *time.Time               `json:"enrolled_at,omitempty"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

func toEmbeddingResponse(e *database.FaceEmbedding) EmbeddingResponse {
	return EmbeddingResponse{
		PersonKind:     e.Kind,
		PersonID:       e.PersonID,
		ExternalID:     e.ExternalID,
		Status:         e.Status,
		SourceImageURL: e.SourceImageURL,
		ErrorMessage:   e.ErrorMessage,
		Confidence:     e.Confidence,
		Attempts:       e.Attempts,
		EnrolledAt:     e.EnrolledAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func (h *EnrollmentsHandler) requireEnabled(w http.ResponseWriter) bool {
	if !h.enabled {
		respondError(w, http.StatusServiceUnavailable, codeFeatureDisabled, "Face recognition is disabled")
		return false
	}
	return true
}

// personFromPath parses the {kind}/{id} URL parameters.
func personFromPath(r *http.Request) (database.PersonKind, int64, bool) {
	kind, err := database.ParsePersonKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return kind, id, true
}

func decodePersonRef(w http.ResponseWriter, r *http.Request) (database.PersonKind, int64, bool) {
	var ref PersonRef
	if err := decodeJSON(w, r, constants.MaxJSONBodySize, &ref); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, errInvalidRequestBody)
		return "", 0, false
	}
	kind, err := database.ParsePersonKind(ref.Kind)
	if err != nil || ref.ID <= 0 {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "kind must be student or teacher and id must be positive")
		return "", 0, false
	}
	return kind, ref.ID, true
}

// Create handles POST /enrollments
func (h *EnrollmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.requireEnabled(w) {
		return
	}
	kind, id, ok := decodePersonRef(w, r)
	if !ok {
		return
	}

	emb, err := h.manager.EnrollByID(r.Context(), tenantID(r), kind, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toEmbeddingResponse(emb))
}

// Get handles GET /enrollments/{kind}/{id}
func (h *EnrollmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := personFromPath(r)
	if !ok {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid person")
		return
	}

	emb, err := h.manager.Get(r.Context(), tenantID(r), kind, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if emb == nil {
		respondError(w, http.StatusNotFound, codeNotFound, "Person is not enrolled")
		return
	}
	respondJSON(w, http.StatusOK, toEmbeddingResponse(emb))
}

// Reenroll handles POST /enrollments/{kind}/{id}/reenroll
func (h *EnrollmentsHandler) Reenroll(w http.ResponseWriter, r *http.Request) {
	if !h.requireEnabled(w) {
		return
	}
	kind, id, ok := personFromPath(r)
	if !ok {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid person")
		return
	}

	existing, err := h.manager.Get(r.Context(), tenantID(r), kind, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if existing == nil {
		respondError(w, http.StatusNotFound, codeNotFound, "Person is not enrolled")
		return
	}

	emb, err := h.manager.Reenroll(r.Context(), *existing)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toEmbeddingResponse(emb))
}

// Delete handles DELETE /enrollments/{kind}/{id}
func (h *EnrollmentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := personFromPath(r)
	if !ok {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid person")
		return
	}

	existing, err := h.manager.Get(r.Context(), tenantID(r), kind, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if existing == nil {
		respondError(w, http.StatusNotFound, codeNotFound, "Person is not enrolled")
		return
	}

	deleted, err := h.manager.Delete(r.Context(), *existing)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": deleted})
}

// Retry handles POST /enrollments/retry
func (h *EnrollmentsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if !h.requireEnabled(w) {
		return
	}
	var req RetryRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, constants.MaxJSONBodySize, &req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, errInvalidRequestBody)
			return
		}
	}
	if req.OlderThanHours < 0 {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "older_than_hours must not be negative")
		return
	}

	result, err := h.manager.RetryFailed(r.Context(), tenantID(r), req.OlderThanHours, nil)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{
		"retried": result.Retried,
		"success": result.Success,
		"failed":  result.Failed,
	})
}

// PhotoUpdated handles POST /enrollments/photo-updated
func (h *EnrollmentsHandler) PhotoUpdated(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := decodePersonRef(w, r)
	if !ok {
		return
	}
	scheduled := h.enabled && h.manager.PhotoUpdated(tenantID(r), kind, id)
	status := http.StatusOK
	if scheduled {
		status = http.StatusAccepted
	}
	respondJSON(w, status, map[string]bool{"scheduled": scheduled})
}

// Status handles GET /biometric/status
func (h *EnrollmentsHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.manager.Status(r.Context(), tenantID(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}
