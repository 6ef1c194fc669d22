package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/school-attendance/internal/database"
)

// Directory is a read-only PersonDirectory over the school's students and teachers tables.
type Directory struct {
	pool *Pool
}

// NewDirectory creates a directory backed by the pool
func NewDirectory(pool *Pool) *Directory {
	return &Directory{pool: pool}
}

// Both selects project onto the same column list so scanPerson works for either table.
const (
	studentSelect = `
		SELECT s.id, s.tenant_id, CONCAT_WS(' ', s.first_name, s.last_name),
		       COALESCE(s.qr_code, ''), COALESCE(s.photo_url, ''), s.classroom_id,
		       COALESCE(c.level, ''), COALESCE(c.shift, ''),
		       COALESCE(NULLIF(s.guardian_phone, ''), s.guardian_email, ''),
		       s.active
		FROM students s
		LEFT JOIN classrooms c ON c.id = s.classroom_id AND c.tenant_id = s.tenant_id`

	teacherSelect = `
		SELECT t.id, t.tenant_id, CONCAT_WS(' ', t.first_name, t.last_name),
		       COALESCE(t.qr_code, ''), COALESCE(t.photo_url, ''), NULL,
		       COALESCE(t.level, ''), COALESCE(t.shift, ''),
		       COALESCE(NULLIF(t.phone, ''), t.email, ''),
		       COALESCE(u.active, FALSE)
		FROM teachers t
		LEFT JOIN users u ON u.id = t.user_id`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row rowScanner, kind database.PersonKind) (*database.Person, error) {
	var (
		p           database.Person
		classroomID sql.NullInt64
	)
	err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.Name,
		&p.QRCode,
		&p.PhotoURL,
		&classroomID,
		&p.Level,
		&p.Shift,
		&p.GuardianContact,
		&p.Active,
	)
	if err != nil {
		return nil, err
	}
	p.Kind = kind
	if classroomID.Valid {
		id := classroomID.Int64
		p.ClassroomID = &id
	}
	return &p, nil
}

func (d *Directory) findOne(ctx context.Context, kind database.PersonKind, query string, args ...any) (*database.Person, error) {
	p, err := scanPerson(d.pool.db.QueryRowContext(ctx, query, args...), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", kind, err)
	}
	return p, nil
}

// FindByQRCode looks up a badge code among students first, then teachers
func (d *Directory) FindByQRCode(ctx context.Context, tenantID int64, qrCode string) (*database.Person, error) {
	if qrCode == "" {
		return nil, nil
	}
	p, err := d.findOne(ctx, database.PersonKindStudent, studentSelect+` WHERE s.tenant_id = ? AND s.qr_code = ?`, tenantID, qrCode)
	if err != nil || p != nil {
		return p, err
	}
	return d.findOne(ctx, database.PersonKindTeacher, teacherSelect+` WHERE t.tenant_id = ? AND t.qr_code = ?`, tenantID, qrCode)
}

// FindByID looks up a person by kind and ID within the tenant
func (d *Directory) FindByID(ctx context.Context, tenantID int64, kind database.PersonKind, id int64) (*database.Person, error) {
	switch kind {
	case database.PersonKindStudent:
		return d.findOne(ctx, kind, studentSelect+` WHERE s.tenant_id = ? AND s.id = ?`, tenantID, id)
	case database.PersonKindTeacher:
		return d.findOne(ctx, kind, teacherSelect+` WHERE t.tenant_id = ? AND t.id = ?`, tenantID, id)
	}
	return nil, fmt.Errorf("unknown person kind %q", kind)
}

// ListEnrollable returns people with a photo. Teachers also need an active account.
func (d *Directory) ListEnrollable(ctx context.Context, tenantID int64, kind database.PersonKind) ([]database.Person, error) {
	var query string
	switch kind {
	case database.PersonKindStudent:
		query = studentSelect + ` WHERE s.tenant_id = ? AND s.photo_url IS NOT NULL AND s.photo_url <> '' ORDER BY s.id`
	case database.PersonKindTeacher:
		query = teacherSelect + ` WHERE t.tenant_id = ? AND t.photo_url IS NOT NULL AND t.photo_url <> '' AND u.active = TRUE ORDER BY t.id`
	default:
		return nil, fmt.Errorf("unknown person kind %q", kind)
	}

	rows, err := d.pool.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list enrollable %s: %w", kind, err)
	}
	defer rows.Close()

	var people []database.Person
	for rows.Next() {
		p, err := scanPerson(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		people = append(people, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return people, nil
}

var _ database.PersonDirectory = (*Directory)(nil)
