package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/school-attendance/internal/database"
)

// AttendanceRepository provides PostgreSQL-backed attendance storage
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const attendanceColumns = `id, tenant_id, person_kind, person_id, date, entry_time, exit_time,
	entry_status, exit_status, entry_method, exit_method, notified, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttendance(row rowScanner) (*database.AttendanceRecord, error) {
	var (
		rec                     database.AttendanceRecord
		kind                    string
		entryTime, exitTime     sql.NullTime
		entryStatus, exitStatus sql.NullString
		entryMethod, exitMethod sql.NullString
	)
	err := row.Scan(
		&rec.ID,
		&rec.TenantID,
		&kind,
		&rec.PersonID,
		&rec.Date,
		&entryTime,
		&exitTime,
		&entryStatus,
		&exitStatus,
		&entryMethod,
		&exitMethod,
		&rec.Notified,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = database.PersonKind(kind)
	rec.Date = rec.Date.UTC()
	rec.EntryTime = nullTimePtr(entryTime)
	rec.ExitTime = nullTimePtr(exitTime)
	if entryStatus.Valid {
		s := database.EntryStatus(entryStatus.String)
		rec.EntryStatus = &s
	}
	if exitStatus.Valid {
		s := database.ExitStatus(exitStatus.String)
		rec.ExitStatus = &s
	}
	if entryMethod.Valid {
		m := database.ScanMethod(entryMethod.String)
		rec.EntryMethod = &m
	}
	if exitMethod.Valid {
		m := database.ScanMethod(exitMethod.String)
		rec.ExitMethod = &m
	}
	return &rec, nil
}

// GetDayRecord returns the record for a person and date, or nil if none exists
func (r *AttendanceRepository) GetDayRecord(ctx context.Context, key database.DayKey) (*database.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + `
		FROM attendance_records
		WHERE tenant_id = $1 AND person_kind = $2 AND person_id = $3 AND date = $4`

	rec, err := scanAttendance(r.pool.QueryRow(ctx, query, key.TenantID, string(key.Kind), key.PersonID, key.Date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance record: %w", err)
	}
	return rec, nil
}

// ListByDate returns all rows of a tenant for one date
func (r *AttendanceRepository) ListByDate(ctx context.Context, tenantID int64, date time.Time) ([]database.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + `
		FROM attendance_records
		WHERE tenant_id = $1 AND date = $2
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	defer rows.Close()

	var out []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return out, nil
}

// UpdateDayRecord creates the day row if needed, locks it with SELECT ... FOR UPDATE
// and persists fn's changes in the same transaction. The unique day key serializes
// concurrent creators; the row lock serializes concurrent updaters.
func (r *AttendanceRepository) UpdateDayRecord(ctx context.Context, key database.DayKey, fn database.DayRecordFunc) (*database.AttendanceRecord, error) {
	var out *database.AttendanceRecord

	err := r.pool.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records (tenant_id, person_kind, person_id, date)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, person_kind, person_id, date) DO NOTHING
		`, key.TenantID, string(key.Kind), key.PersonID, key.Date)
		if err != nil {
			return fmt.Errorf("create attendance record: %w", err)
		}

		query := `SELECT ` + attendanceColumns + `
			FROM attendance_records
			WHERE tenant_id = $1 AND person_kind = $2 AND person_id = $3 AND date = $4
			FOR UPDATE`
		rec, err := scanAttendance(tx.QueryRowContext(ctx, query, key.TenantID, string(key.Kind), key.PersonID, key.Date))
		if err != nil {
			return fmt.Errorf("lock attendance record: %w", err)
		}

		if err := fn(rec); err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE attendance_records SET
				entry_time = $1,
				exit_time = $2,
				entry_status = $3,
				exit_status = $4,
				entry_method = $5,
				exit_method = $6,
				notified = $7,
				updated_at = NOW()
			WHERE id = $8
			RETURNING updated_at
		`,
			rec.EntryTime,
			rec.ExitTime,
			stringPtr(rec.EntryStatus),
			stringPtr(rec.ExitStatus),
			stringPtr(rec.EntryMethod),
			stringPtr(rec.ExitMethod),
			rec.Notified,
			rec.ID,
		).Scan(&rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update attendance record: %w", err)
		}

		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// stringPtr converts an optional string-backed enum to a driver value.
func stringPtr[T ~string](v *T) any {
	if v == nil {
		return nil
	}
	return string(*v)
}
