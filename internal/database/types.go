package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PersonKind identifies which directory table a person comes from.
type PersonKind string

// PersonKind values.
const (
	PersonKindStudent PersonKind = "STUDENT"
	PersonKindTeacher PersonKind = "TEACHER"
)

// ParsePersonKind accepts the canonical upper-case form as well as the lower-case
// prefix used inside external IDs ("student", "teacher").
func ParsePersonKind(s string) (PersonKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(PersonKindStudent):
		return PersonKindStudent, nil
	case string(PersonKindTeacher):
		return PersonKindTeacher, nil
	}
	return "", fmt.Errorf("unknown person kind %q", s)
}

// Valid reports whether k is one of the known kinds.
func (k PersonKind) Valid() bool {
	return k == PersonKindStudent || k == PersonKindTeacher
}

// Person is a tenant-scoped student or teacher as seen by the directory.
// This service never mutates it.
type Person struct {
	ID              int64
	TenantID        int64
	Kind            PersonKind
	Name            string
	QRCode          string
	PhotoURL        string
	ClassroomID     *int64
	Level           string // educational level, e.g. "Primaria"
	Shift           string // e.g. "mañana", "tarde"; empty means the tenant default
	GuardianContact string // phone or e-mail used for notifications; empty when unreachable
	Active          bool   // teachers must have an active account to be enrolled
}

// ExternalID returns the stable key used for this person inside the biometric service.
func (p Person) ExternalID() string {
	return ExternalID(p.Kind, p.ID)
}

// ExternalID builds the "{kind}_{id}" key, e.g. "student_42".
func ExternalID(kind PersonKind, id int64) string {
	return strings.ToLower(string(kind)) + "_" + strconv.FormatInt(id, 10)
}

// ParseExternalID is the inverse of ExternalID.
func ParseExternalID(externalID string) (PersonKind, int64, error) {
	prefix, rawID, ok := strings.Cut(externalID, "_")
	if !ok {
		return "", 0, fmt.Errorf("malformed external id %q", externalID)
	}
	kind, err := ParsePersonKind(prefix)
	if err != nil {
		return "", 0, fmt.Errorf("malformed external id %q: %w", externalID, err)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("malformed external id %q", externalID)
	}
	return kind, id, nil
}

// EmbeddingStatus is the lifecycle state of a FaceEmbedding.
type EmbeddingStatus string

// EmbeddingStatus values.
const (
	EmbeddingPending EmbeddingStatus = "PENDING"
	EmbeddingActive  EmbeddingStatus = "ACTIVE"
	EmbeddingFailed  EmbeddingStatus = "FAILED"
	EmbeddingNoFace  EmbeddingStatus = "NO_FACE"
)

// Retryable reports whether the retry sweep should pick up embeddings in this state.
func (s EmbeddingStatus) Retryable() bool {
	return s == EmbeddingFailed || s == EmbeddingNoFace
}

// FaceEmbedding tracks the enrollment of one person in the biometric service.
// There is at most one row per (TenantID, Kind, PersonID).
type FaceEmbedding struct {
	ID             int64
	TenantID       int64
	Kind           PersonKind
	PersonID       int64
	ExternalID     string
	Status         EmbeddingStatus
	SourceImageURL string
	ErrorMessage   string
	Confidence     *float64
	Attempts       int
	EnrolledAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Direction of an attendance scan.
type Direction string

// Direction values.
const (
	DirectionEntry Direction = "ENTRY"
	DirectionExit  Direction = "EXIT"
)

// ScanMethod records how the person was identified.
type ScanMethod string

// ScanMethod values.
const (
	MethodQR   ScanMethod = "QR"
	MethodFace ScanMethod = "FACE"
)

// EntryStatus classifies an entry against the tolerance window.
type EntryStatus string

// EntryStatus values.
const (
	EntryOnTime EntryStatus = "PRESENTE"
	EntryLate   EntryStatus = "TARDANZA"
)

// ExitStatus classifies an exit against the optional exit window.
type ExitStatus string

// ExitStatus values.
const (
	ExitRegular ExitStatus = "SALIDA"
	ExitEarly   ExitStatus = "SALIDA_ANTICIPADA"
)

// DayKey identifies a single attendance row.
type DayKey struct {
	TenantID int64
	Kind     PersonKind
	PersonID int64
	Date     time.Time // midnight UTC of the local school date
}

// NewDayKey builds the key for person p on the school-local date of at.
func NewDayKey(p Person, at time.Time, loc *time.Location) DayKey {
	return DayKey{
		TenantID: p.TenantID,
		Kind:     p.Kind,
		PersonID: p.ID,
		Date:     DateOf(at, loc),
	}
}

// DateOf returns the calendar date of t in loc, as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AttendanceRecord is one row per person per school day.
// EntryTime and ExitTime are immutable once set.
type AttendanceRecord struct {
	ID          int64
	TenantID    int64
	Kind        PersonKind
	PersonID    int64
	Date        time.Time
	EntryTime   *time.Time
	ExitTime    *time.Time
	EntryStatus *EntryStatus
	ExitStatus  *ExitStatus
	EntryMethod *ScanMethod
	ExitMethod  *ScanMethod
	Notified    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key returns the uniqueness key of the record.
func (r *AttendanceRecord) Key() DayKey {
	return DayKey{TenantID: r.TenantID, Kind: r.Kind, PersonID: r.PersonID, Date: r.Date}
}
