package database

import (
	"context"
	"time"
)

// PersonDirectory provides read-only, tenant-scoped access to students and teachers.
// Lookups return (nil, nil) when the person does not exist in the tenant.
type PersonDirectory interface {
	// FindByQRCode looks up a person by exact badge code within the tenant
	FindByQRCode(ctx context.Context, tenantID int64, qrCode string) (*Person, error)
	// FindByID looks up a person by kind and directory ID within the tenant
	FindByID(ctx context.Context, tenantID int64, kind PersonKind, id int64) (*Person, error)
	// ListEnrollable returns people of the given kind with a non-empty photo URL.
	// Teachers are only returned when their account is active.
	ListEnrollable(ctx context.Context, tenantID int64, kind PersonKind) ([]Person, error)
}

// DayRecordFunc mutates the locked record for a day. Returning an error aborts the
// transaction and nothing is written.
type DayRecordFunc func(rec *AttendanceRecord) error

// AttendanceReader provides read-only access to attendance rows
type AttendanceReader interface {
	// GetDayRecord returns the record for the key, or nil if none exists yet
	GetDayRecord(ctx context.Context, key DayKey) (*AttendanceRecord, error)
	// ListByDate returns all rows of a tenant for one date, ordered by ID
	ListByDate(ctx context.Context, tenantID int64, date time.Time) ([]AttendanceRecord, error)
}

// AttendanceWriter owns writes to attendance rows.
type AttendanceWriter interface {
	AttendanceReader

	// UpdateDayRecord creates the row for key if it does not exist, locks it for the
	// duration of a transaction and hands it to fn. The mutated record is persisted
	// only if fn returns nil. Concurrent callers for the same key are serialized.
	UpdateDayRecord(ctx context.Context, key DayKey, fn DayRecordFunc) (*AttendanceRecord, error)
}

// EmbeddingReader provides read-only access to enrollment state
type EmbeddingReader interface {
	// GetEmbedding returns the embedding row for a person, or nil if never enrolled
	GetEmbedding(ctx context.Context, tenantID int64, kind PersonKind, personID int64) (*FaceEmbedding, error)
	// ListRetryable returns FAILED and NO_FACE rows last updated before olderThan
	ListRetryable(ctx context.Context, tenantID int64, olderThan time.Time) ([]FaceEmbedding, error)
	// TenantsWithRetryable returns tenant IDs that have at least one retryable row older than olderThan
	TenantsWithRetryable(ctx context.Context, olderThan time.Time) ([]int64, error)
	// CountByStatus returns the number of rows per status for a tenant
	CountByStatus(ctx context.Context, tenantID int64) (map[EmbeddingStatus]int, error)
}

// EmbeddingWriter owns writes to enrollment state.
type EmbeddingWriter interface {
	EmbeddingReader

	// UpsertEmbedding inserts or overwrites the row keyed by (tenant, kind, person).
	// Attempts is incremented whenever the new status is PENDING.
	UpsertEmbedding(ctx context.Context, emb FaceEmbedding) (*FaceEmbedding, error)

	// DeleteEmbedding removes the row for a person. Returns false if no row existed.
	DeleteEmbedding(ctx context.Context, tenantID int64, kind PersonKind, personID int64) (bool, error)
}
