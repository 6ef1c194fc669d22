package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/school-attendance/internal/database"
)

// EmbeddingRepository provides PostgreSQL-backed enrollment state storage
type EmbeddingRepository struct {
	pool *Pool
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

const embeddingColumns = `id, tenant_id, embeddable_kind, embeddable_id, external_id, status,
	source_image_url, error_message, confidence, attempts, enrolled_at, created_at, updated_at`

func scanEmbedding(row rowScanner) (*database.FaceEmbedding, error) {
	var (
		e          database.FaceEmbedding
		kind       string
		status     string
		confidence sql.NullFloat64
		enrolledAt sql.NullTime
	)
	err := row.Scan(
		&e.ID,
		&e.TenantID,
		&kind,
		&e.PersonID,
		&e.ExternalID,
		&status,
		&e.SourceImageURL,
		&e.ErrorMessage,
		&confidence,
		&e.Attempts,
		&enrolledAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = database.PersonKind(kind)
	e.Status = database.EmbeddingStatus(status)
	if confidence.Valid {
		c := confidence.Float64
		e.Confidence = &c
	}
	e.EnrolledAt = nullTimePtr(enrolledAt)
	return &e, nil
}

// GetEmbedding returns the embedding row for a person, or nil if not found
func (r *EmbeddingRepository) GetEmbedding(ctx context.Context, tenantID int64, kind database.PersonKind, personID int64) (*database.FaceEmbedding, error) {
	query := `SELECT ` + embeddingColumns + `
		FROM face_embeddings
		WHERE tenant_id = $1 AND embeddable_kind = $2 AND embeddable_id = $3`

	e, err := scanEmbedding(r.pool.QueryRow(ctx, query, tenantID, string(kind), personID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return e, nil
}

// UpsertEmbedding inserts or overwrites the row for (tenant, kind, person) in a
// single statement. Attempts grows by one for every PENDING write.
func (r *EmbeddingRepository) UpsertEmbedding(ctx context.Context, emb database.FaceEmbedding) (*database.FaceEmbedding, error) {
	attemptInc := 0
	if emb.Status == database.EmbeddingPending {
		attemptInc = 1
	}

	var confidence any
	if emb.Confidence != nil {
		confidence = *emb.Confidence
	}

	query := `
		INSERT INTO face_embeddings (
			tenant_id, embeddable_kind, embeddable_id, external_id, status,
			source_image_url, error_message, confidence, attempts, enrolled_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, embeddable_kind, embeddable_id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			status = EXCLUDED.status,
			source_image_url = EXCLUDED.source_image_url,
			error_message = EXCLUDED.error_message,
			confidence = EXCLUDED.confidence,
			attempts = face_embeddings.attempts + $9,
			enrolled_at = EXCLUDED.enrolled_at,
			updated_at = NOW()
		RETURNING ` + embeddingColumns

	e, err := scanEmbedding(r.pool.QueryRow(ctx, query,
		emb.TenantID,
		string(emb.Kind),
		emb.PersonID,
		emb.ExternalID,
		string(emb.Status),
		emb.SourceImageURL,
		emb.ErrorMessage,
		confidence,
		attemptInc,
		emb.EnrolledAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert embedding: %w", err)
	}
	return e, nil
}

// DeleteEmbedding removes the row for a person
func (r *EmbeddingRepository) DeleteEmbedding(ctx context.Context, tenantID int64, kind database.PersonKind, personID int64) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM face_embeddings
		WHERE tenant_id = $1 AND embeddable_kind = $2 AND embeddable_id = $3
	`, tenantID, string(kind), personID)
	if err != nil {
		return false, fmt.Errorf("delete embedding: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// ListRetryable returns FAILED and NO_FACE rows of a tenant last touched before olderThan
func (r *EmbeddingRepository) ListRetryable(ctx context.Context, tenantID int64, olderThan time.Time) ([]database.FaceEmbedding, error) {
	query := `SELECT ` + embeddingColumns + `
		FROM face_embeddings
		WHERE tenant_id = $1
		  AND status IN ('FAILED', 'NO_FACE')
		  AND updated_at < $2
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, tenantID, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list retryable embeddings: %w", err)
	}
	defer rows.Close()

	var out []database.FaceEmbedding
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// TenantsWithRetryable returns tenants having at least one retryable row older than olderThan
func (r *EmbeddingRepository) TenantsWithRetryable(ctx context.Context, olderThan time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT tenant_id
		FROM face_embeddings
		WHERE status IN ('FAILED', 'NO_FACE') AND updated_at < $1
		ORDER BY tenant_id
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list retry tenants: %w", err)
	}
	defer rows.Close()

	var tenants []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return tenants, nil
}

// CountByStatus returns the number of embedding rows per status for a tenant
func (r *EmbeddingRepository) CountByStatus(ctx context.Context, tenantID int64) (map[database.EmbeddingStatus]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM face_embeddings
		WHERE tenant_id = $1
		GROUP BY status
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count embeddings: %w", err)
	}
	defer rows.Close()

	counts := make(map[database.EmbeddingStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan embedding count: %w", err)
		}
		counts[database.EmbeddingStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding counts: %w", err)
	}
	return counts, nil
}

var (
	_ database.AttendanceWriter = (*AttendanceRepository)(nil)
	_ database.EmbeddingWriter  = (*EmbeddingRepository)(nil)
)
