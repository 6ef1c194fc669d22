package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/kozaktomas/school-attendance/internal/attendance"
	"github.com/kozaktomas/school-attendance/internal/biometric"
	"github.com/kozaktomas/school-attendance/internal/enrollment"
	"github.com/kozaktomas/school-attendance/internal/scan"
	"github.com/kozaktomas/school-attendance/internal/web/middleware"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// Error codes returned in error_code.
const (
	codeInvalidRequest    = "INVALID_REQUEST"
	codeNotFound          = "NOT_FOUND"
	codeNoMatch           = "NO_MATCH"
	codeOutOfScope        = "OUT_OF_SCOPE"
	codeAlreadyRegistered = "ALREADY_REGISTERED"
	codeFeatureDisabled   = "FEATURE_DISABLED"
	codeUnauthorized      = "UNAUTHORIZED"
	codeInternal          = "INTERNAL_ERROR"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Success     bool     `json:"success"`
	ErrorCode   string   `json:"error_code"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, code, message string, suggestions ...string) {
	respondJSON(w, status, errorResponse{
		ErrorCode:   code,
		Message:     message,
		Suggestions: suggestions,
	})
}

// decodeJSON reads a size-limited JSON body into out.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return json.NewDecoder(r.Body).Decode(out)
}

// tenantID returns the tenant of the authenticated caller, or 0.
func tenantID(r *http.Request) int64 {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		return 0
	}
	return claims.TenantID
}

// respondDomainError maps errors of the scan pipeline and enrollment to responses.
// Business outcomes are not logged; anything unrecognized is logged and becomes a 500.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if bioErr, ok := biometric.AsError(err); ok {
		if bioErr.Kind == biometric.KindServiceUnavailable {
			log.Printf("warning: biometric service unavailable: %v", err)
		}
		respondError(w, bioErr.HTTPStatus(), bioErr.Code, bioMessage(bioErr), bioErr.Hints...)
		return
	}

	switch {
	case errors.Is(err, scan.ErrNotFound), errors.Is(err, enrollment.ErrPersonNotFound):
		respondError(w, http.StatusNotFound, codeNotFound, "Person not found")
	case errors.Is(err, scan.ErrNoMatch):
		respondError(w, http.StatusNotFound, codeNoMatch, "No enrolled person matches this face",
			"Make sure the person is enrolled", "Use the QR badge instead")
	case errors.Is(err, scan.ErrOutOfScope), errors.Is(err, attendance.ErrTenantMismatch):
		respondError(w, http.StatusForbidden, codeOutOfScope, "Person is not allowed at this scanner")
	case errors.Is(err, attendance.ErrAlreadyRegistered):
		respondError(w, http.StatusUnprocessableEntity, codeAlreadyRegistered, "Already registered today")
	case errors.Is(err, scan.ErrFaceDisabled):
		respondError(w, http.StatusServiceUnavailable, codeFeatureDisabled, "Face recognition is disabled")
	case errors.Is(err, scan.ErrEmptyPayload), errors.Is(err, attendance.ErrInvalidDirection):
		respondError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nothing was committed.
		respondError(w, http.StatusServiceUnavailable, codeInternal, "Request cancelled")
	default:
		log.Printf("%s %s failed: %v", r.Method, sanitizeForLog(r.URL.Path), err)
		respondError(w, http.StatusInternalServerError, codeInternal, "Internal error")
	}
}

func bioMessage(e *biometric.Error) string {
	if e.Message != "" && e.Kind == biometric.KindUnknown {
		return e.Message
	}
	switch e.Kind {
	case biometric.KindServiceUnavailable:
		return "Face recognition service is unavailable"
	case biometric.KindNoFaceDetected:
		return "No face detected"
	case biometric.KindMultipleFaces:
		return "More than one face detected"
	case biometric.KindImageLoadError:
		return "The image could not be read"
	}
	return "Face recognition failed"
}

// Pinger is implemented by database pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness and database reachability.
type HealthHandler struct {
	db Pinger
}

// NewHealthHandler creates a health handler. db may be nil.
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Check handles the health check endpoint.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			log.Printf("warning: health check: database unreachable: %v", err)
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "degraded",
				"database": "unreachable",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
