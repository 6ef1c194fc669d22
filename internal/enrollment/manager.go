// Package enrollment owns the lifecycle of biometric templates: enroll,
// re-enroll, retry and revoke.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kozaktomas/school-attendance/internal/biometric"
	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/constants"
	"github.com/kozaktomas/school-attendance/internal/database"
	"github.com/kozaktomas/school-attendance/internal/metrics"
)

// ErrPersonNotFound is returned when the directory no longer knows the person.
var ErrPersonNotFound = errors.New("person not found")

// FaceService is the part of the biometric client the manager needs.
type FaceService interface {
	Enroll(ctx context.Context, tenantID int64, externalID string, img biometric.ImageSource) (float64, error)
	Delete(ctx context.Context, tenantID int64, externalID string) bool
	Health(ctx context.Context) bool
	EnrolledCount(ctx context.Context, tenantID int64) int
}

// Progress is reported once per processed person of a batch.
type Progress struct {
	Current    int
	Total      int
	ExternalID string
	Status     database.EmbeddingStatus // empty when skipped
	Skipped    bool
}

// RetryResult summarizes a RetryFailed run.
type RetryResult struct {
	Retried int
	Success int
	Failed  int
}

// BulkResult summarizes a BulkEnroll run.
type BulkResult struct {
	Enrolled int
	Failed   int
	Skipped  int
}

// Manager drives FaceEmbedding state. Every person is its own upsert; no lock
// is held across a batch.
type Manager struct {
	store     database.EmbeddingWriter
	directory database.PersonDirectory
	faces     FaceService
	cfg       config.BiometricConfig
	now       func() time.Time

	wg sync.WaitGroup
}

// NewManager creates an enrollment manager
func NewManager(store database.EmbeddingWriter, directory database.PersonDirectory, faces FaceService, cfg config.BiometricConfig) *Manager {
	return &Manager{
		store:     store,
		directory: directory,
		faces:     faces,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Enroll enrolls p and returns the resulting row. Remote failures end up in the
// row's status and message; only storage failures are returned as errors.
func (m *Manager) Enroll(ctx context.Context, p database.Person) (*database.FaceEmbedding, error) {
	emb := database.FaceEmbedding{
		TenantID:       p.TenantID,
		Kind:           p.Kind,
		PersonID:       p.ID,
		ExternalID:     p.ExternalID(),
		Status:         database.EmbeddingPending,
		SourceImageURL: p.PhotoURL,
	}
	if _, err := m.store.UpsertEmbedding(ctx, emb); err != nil {
		return nil, fmt.Errorf("mark %s pending: %w", emb.ExternalID, err)
	}

	if p.PhotoURL == "" {
		emb.Status = database.EmbeddingFailed
		emb.ErrorMessage = constants.NoPhotoMessage
		return m.finish(ctx, emb)
	}

	confidence, err := m.faces.Enroll(ctx, p.TenantID, emb.ExternalID, biometric.ImageSource{URL: p.PhotoURL})
	switch {
	case err == nil:
		enrolledAt := m.now().UTC()
		emb.Status = database.EmbeddingActive
		emb.Confidence = &confidence
		emb.EnrolledAt = &enrolledAt
	case biometric.IsKind(err, biometric.KindNoFaceDetected):
		emb.Status = database.EmbeddingNoFace
		emb.ErrorMessage = errorMessage(err)
	default:
		emb.Status = database.EmbeddingFailed
		emb.ErrorMessage = errorMessage(err)
	}
	return m.finish(ctx, emb)
}

// finish persists the outcome even if the caller's context ended during the
// remote call, so rows are not left PENDING.
func (m *Manager) finish(ctx context.Context, emb database.FaceEmbedding) (*database.FaceEmbedding, error) {
	saved, err := m.store.UpsertEmbedding(context.WithoutCancel(ctx), emb)
	if err != nil {
		return nil, fmt.Errorf("save enrollment of %s: %w", emb.ExternalID, err)
	}
	metrics.ObserveEnrollment(string(saved.Status))
	if saved.Status != database.EmbeddingActive {
		log.Printf("Enrollment of %s in tenant %d: %s (%s)", saved.ExternalID, saved.TenantID, saved.Status, saved.ErrorMessage)
	}
	return saved, nil
}

func errorMessage(err error) string {
	if bioErr, ok := biometric.AsError(err); ok && bioErr.Message != "" {
		return bioErr.Message
	}
	return err.Error()
}

// Reenroll enrolls the person behind emb again using the directory's current photo.
func (m *Manager) Reenroll(ctx context.Context, emb database.FaceEmbedding) (*database.FaceEmbedding, error) {
	p, err := m.directory.FindByID(ctx, emb.TenantID, emb.Kind, emb.PersonID)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", emb.ExternalID, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPersonNotFound, emb.ExternalID)
	}
	return m.Enroll(ctx, *p)
}

// EnrollByID looks up a person and enrolls them.
func (m *Manager) EnrollByID(ctx context.Context, tenantID int64, kind database.PersonKind, id int64) (*database.FaceEmbedding, error) {
	p, err := m.directory.FindByID(ctx, tenantID, kind, id)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", database.ExternalID(kind, id), err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPersonNotFound, database.ExternalID(kind, id))
	}
	return m.Enroll(ctx, *p)
}

// Get returns the row for a person, or nil.
func (m *Manager) Get(ctx context.Context, tenantID int64, kind database.PersonKind, id int64) (*database.FaceEmbedding, error) {
	emb, err := m.store.GetEmbedding(ctx, tenantID, kind, id)
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return emb, nil
}

// Delete revokes an enrollment. The remote template removal is best-effort;
// the row is deleted regardless. Reports whether a row existed.
func (m *Manager) Delete(ctx context.Context, emb database.FaceEmbedding) (bool, error) {
	if !m.faces.Delete(ctx, emb.TenantID, emb.ExternalID) {
		log.Printf("warning: template of %s stays in the biometric service", emb.ExternalID)
	}
	deleted, err := m.store.DeleteEmbedding(ctx, emb.TenantID, emb.Kind, emb.PersonID)
	if err != nil {
		return false, fmt.Errorf("delete embedding of %s: %w", emb.ExternalID, err)
	}
	return deleted, nil
}

// RetryFailed re-enrolls FAILED and NO_FACE rows of a tenant not touched for
// olderThanHours. Zero or less uses the configured default. Attempts are not
// gated; the age is the only criterion.
func (m *Manager) RetryFailed(ctx context.Context, tenantID int64, olderThanHours int, onProgress func(Progress)) (RetryResult, error) {
	if olderThanHours <= 0 {
		olderThanHours = m.cfg.RetryFailedHours
	}
	if olderThanHours <= 0 {
		olderThanHours = constants.DefaultRetryFailedHours
	}
	cutoff := m.now().Add(-time.Duration(olderThanHours) * time.Hour)

	rows, err := m.store.ListRetryable(ctx, tenantID, cutoff)
	if err != nil {
		return RetryResult{}, fmt.Errorf("list retryable: %w", err)
	}

	var result RetryResult
	var mu sync.Mutex
	m.forEach(ctx, len(rows), onProgress, func(i int) Progress {
		emb := rows[i]
		saved, err := m.Reenroll(ctx, emb)

		mu.Lock()
		defer mu.Unlock()
		result.Retried++
		if err != nil {
			result.Failed++
			log.Printf("warning: retry of %s failed: %v", emb.ExternalID, err)
			return Progress{ExternalID: emb.ExternalID, Status: emb.Status}
		}
		if saved.Status == database.EmbeddingActive {
			result.Success++
		} else {
			result.Failed++
		}
		return Progress{ExternalID: saved.ExternalID, Status: saved.Status}
	})
	return result, ctx.Err()
}

// BulkEnroll enrolls every eligible person of a kind, skipping those already ACTIVE.
func (m *Manager) BulkEnroll(ctx context.Context, tenantID int64, kind database.PersonKind, onProgress func(Progress)) (BulkResult, error) {
	people, err := m.directory.ListEnrollable(ctx, tenantID, kind)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list enrollable: %w", err)
	}

	var result BulkResult
	var mu sync.Mutex
	m.forEach(ctx, len(people), onProgress, func(i int) Progress {
		p := people[i]
		existing, err := m.store.GetEmbedding(ctx, tenantID, p.Kind, p.ID)
		if err == nil && existing != nil && existing.Status == database.EmbeddingActive {
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			return Progress{ExternalID: p.ExternalID(), Status: existing.Status, Skipped: true}
		}

		var saved *database.FaceEmbedding
		if err == nil {
			saved, err = m.Enroll(ctx, p)
		}

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failed++
			log.Printf("warning: enrollment of %s failed: %v", p.ExternalID(), err)
			return Progress{ExternalID: p.ExternalID()}
		}
		if saved.Status == database.EmbeddingActive {
			result.Enrolled++
		} else {
			result.Failed++
		}
		return Progress{ExternalID: saved.ExternalID, Status: saved.Status}
	})
	return result, ctx.Err()
}

// forEach runs fn for indexes [0, n) on a bounded pool and reports progress
// after each item. Items not started before ctx ends are dropped.
func (m *Manager) forEach(ctx context.Context, n int, onProgress func(Progress), fn func(i int) Progress) {
	concurrency := m.cfg.EnrollConcurrency
	if concurrency <= 0 {
		concurrency = constants.EnrollWorkerPoolSize
	}

	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var progressMu sync.Mutex
	var processed int

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				return
			}
			p := fn(idx)

			progressMu.Lock()
			defer progressMu.Unlock()
			processed++
			if onProgress != nil {
				p.Current = processed
				p.Total = n
				onProgress(p)
			}
		}(i)
	}
	wg.Wait()
}

// PhotoUpdated enrolls the person in the background when auto-enroll is on.
// Reports whether an enrollment was scheduled.
func (m *Manager) PhotoUpdated(tenantID int64, kind database.PersonKind, id int64) bool {
	if !m.cfg.AutoEnroll {
		return false
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), constants.AsyncEnrollTimeout)
		defer cancel()

		if _, err := m.EnrollByID(ctx, tenantID, kind, id); err != nil {
			log.Printf("warning: auto-enroll of %s failed: %v", database.ExternalID(kind, id), err)
		}
	}()
	return true
}

// Wait blocks until background enrollments are done.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Status is the biometric overview of a tenant.
type Status struct {
	Enabled            bool                             `json:"enabled"`
	Healthy            bool                             `json:"healthy"`
	EnrolledCount      int                              `json:"enrolled_count"`
	EmbeddingsByStatus map[database.EmbeddingStatus]int `json:"embeddings_by_status"`
}

// Status collects service health and local row counts. Remote checks are fail-soft.
func (m *Manager) Status(ctx context.Context, tenantID int64) (Status, error) {
	counts, err := m.store.CountByStatus(ctx, tenantID)
	if err != nil {
		return Status{}, fmt.Errorf("count embeddings: %w", err)
	}
	st := Status{Enabled: m.cfg.Enabled, EmbeddingsByStatus: counts}
	if m.cfg.Enabled {
		st.Healthy = m.faces.Health(ctx)
		st.EnrolledCount = m.faces.EnrolledCount(ctx, tenantID)
	}
	return st, nil
}
