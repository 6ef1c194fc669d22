package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/kozaktomas/school-attendance/internal/attendance"
	"github.com/kozaktomas/school-attendance/internal/biometric"
	"github.com/kozaktomas/school-attendance/internal/constants"
	"github.com/kozaktomas/school-attendance/internal/database"
	"github.com/kozaktomas/school-attendance/internal/metrics"
	"github.com/kozaktomas/school-attendance/internal/scan"
)

// ScanHandler handles entry and exit scans
type ScanHandler struct {
	resolver *scan.Resolver
	machine  *attendance.StateMachine
	now      func() time.Time
}

// NewScanHandler creates a new scan handler
func NewScanHandler(resolver *scan.Resolver, machine *attendance.StateMachine) *ScanHandler {
	return &ScanHandler{
		resolver: resolver,
		machine:  machine,
		now:      time.Now,
	}
}

// ScanRequest is the body of an entry or exit scan. Either QRCode or ImageBase64 is set.
type ScanRequest struct {
	QRCode      string `json:"qr_code"`
	ImageBase64 string `json:"image_base64"`
	ClassroomID *int64 `json:"classroom_id"`
	Level       string `json:"level"`
}

// PersonResponse is the public view of a resolved person.
type PersonResponse struct {
	Kind        database.PersonKind `json:"kind"`
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	ClassroomID *int64              `json:"classroom_id,omitempty"`
	Level       string              `json:"level,omitempty"`
}

// MatchResponse describes a face match.
type MatchResponse struct {
	Confidence float64 `json:"confidence"`
	Band       string  `json:"band"`
}

// AttendanceResponse is the public view of an attendance row.
type AttendanceResponse struct {
	ID          int64                 `json:"id"`
	PersonKind  database.PersonKind   `json:"person_kind"`
	PersonID    int64                 `json:"person_id"`
	Date        string                `json:"date"`
	EntryTime   *time.Time            `json:"entry_time"`
	ExitTime    *time.Time            `json:"exit_time"`
	EntryStatus *database.EntryStatus `json:"entry_status"`
	ExitStatus  *database.ExitStatus  `json:"exit_status"`
	EntryMethod *database.ScanMethod  `json:"entry_method"`
	ExitMethod  *database.ScanMethod  `json:"exit_method"`
	Notified    bool                  `json:"notified"`
}

// ScanResponse is returned for a registered scan.
type ScanResponse struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Person     PersonResponse     `json:"person"`
	Attendance AttendanceResponse `json:"attendance"`
	Match      *MatchResponse     `json:"match,omitempty"`
}

func toAttendanceResponse(rec *database.AttendanceRecord) AttendanceResponse {
	return AttendanceResponse{
		ID:          rec.ID,
		PersonKind:  rec.Kind,
		PersonID:    rec.PersonID,
		Date:        rec.Date.Format("2006-01-02"),
		EntryTime:   rec.EntryTime,
		ExitTime:    rec.ExitTime,
		EntryStatus: rec.EntryStatus,
		ExitStatus:  rec.ExitStatus,
		EntryMethod: rec.EntryMethod,
		ExitMethod:  rec.ExitMethod,
		Notified:    rec.Notified,
	}
}

// Entry handles POST /attendance/entry
func (h *ScanHandler) Entry(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, database.DirectionEntry)
}

// Exit handles POST /attendance/exit
func (h *ScanHandler) Exit(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, database.DirectionExit)
}

func (h *ScanHandler) handle(w http.ResponseWriter, r *http.Request, direction database.Direction) {
	// The scan instant is when the request arrived, not when the face search returned.
	at := h.now()

	tenant := tenantID(r)
	if tenant == 0 {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "missing tenant")
		return
	}

	var req ScanRequest
	if err := decodeJSON(w, r, constants.MaxScanBodySize, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, errInvalidRequestBody)
		return
	}

	scanReq := scan.Request{
		Filters: scan.Filters{ClassroomID: req.ClassroomID, Level: req.Level},
	}
	switch {
	case req.QRCode != "":
		scanReq.Mode = scan.ModeQR
		scanReq.QRCode = req.QRCode
	case req.ImageBase64 != "":
		scanReq.Mode = scan.ModeFace
		scanReq.ImageBase64 = req.ImageBase64
	default:
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "qr_code or image_base64 is required")
		return
	}

	res, err := h.resolver.Resolve(r.Context(), tenant, scanReq)
	if err != nil {
		metrics.ObserveScan(string(scanReq.Mode), outcome(err))
		respondDomainError(w, r, err)
		return
	}

	rec, err := h.machine.Register(r.Context(), tenant, res.Person, direction, at, res.Method)
	if err != nil {
		metrics.ObserveScan(string(scanReq.Mode), outcome(err))
		respondDomainError(w, r, err)
		return
	}
	metrics.ObserveScan(string(scanReq.Mode), "ok")

	resp := ScanResponse{
		Success: true,
		Message: registeredMessage(direction, rec.Notified),
		Person: PersonResponse{
			Kind:        res.Person.Kind,
			ID:          res.Person.ID,
			Name:        res.Person.Name,
			ClassroomID: res.Person.ClassroomID,
			Level:       res.Person.Level,
		},
		Attendance: toAttendanceResponse(rec),
	}
	if res.Confidence != nil {
		resp.Match = &MatchResponse{Confidence: *res.Confidence, Band: res.Band}
	}
	respondJSON(w, http.StatusOK, resp)
}

func registeredMessage(direction database.Direction, notified bool) string {
	msg := "Entry registered"
	if direction == database.DirectionExit {
		msg = "Exit registered"
	}
	if !notified {
		msg += ", guardian not notified"
	}
	return msg
}

// outcome is the metrics label of a failed scan.
func outcome(err error) string {
	if bioErr, ok := biometric.AsError(err); ok {
		return bioErr.Code
	}
	switch {
	case errors.Is(err, scan.ErrNotFound):
		return codeNotFound
	case errors.Is(err, scan.ErrNoMatch):
		return codeNoMatch
	case errors.Is(err, scan.ErrOutOfScope), errors.Is(err, attendance.ErrTenantMismatch):
		return codeOutOfScope
	case errors.Is(err, attendance.ErrAlreadyRegistered):
		return codeAlreadyRegistered
	case errors.Is(err, scan.ErrFaceDisabled):
		return codeFeatureDisabled
	case errors.Is(err, scan.ErrEmptyPayload):
		return codeInvalidRequest
	}
	return codeInternal
}

// AttendanceHandler lists attendance rows for reporting
type AttendanceHandler struct {
	machine *attendance.StateMachine
	now     func() time.Time
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(machine *attendance.StateMachine) *AttendanceHandler {
	return &AttendanceHandler{machine: machine, now: time.Now}
}

// List handles GET /attendance?date=YYYY-MM-DD. Defaults to today.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	day := h.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.machine.Location())
		if err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	records, err := h.machine.DayRecords(r.Context(), tenantID(r), day)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	out := make([]AttendanceResponse, 0, len(records))
	for i := range records {
		out = append(out, toAttendanceResponse(&records[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"date":    database.DateOf(day, h.machine.Location()).Format("2006-01-02"),
		"records": out,
	})
}
