// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/school-attendance/internal/database"
)

// MockPersonDirectory is a mock implementation of database.PersonDirectory
type MockPersonDirectory struct {
	mu     sync.RWMutex
	people map[personKey]database.Person

	// Error injection
	FindByQRCodeError   error
	FindByIDError       error
	ListEnrollableError error
}

type personKey struct {
	tenantID int64
	kind     database.PersonKind
	id       int64
}

// NewMockPersonDirectory creates a new mock directory
func NewMockPersonDirectory() *MockPersonDirectory {
	return &MockPersonDirectory{
		people: make(map[personKey]database.Person),
	}
}

// AddPerson adds a person to the mock directory
func (m *MockPersonDirectory) AddPerson(p database.Person) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people[personKey{p.TenantID, p.Kind, p.ID}] = p
}

// FindByQRCode looks up a person by QR code within the tenant
func (m *MockPersonDirectory) FindByQRCode(_ context.Context, tenantID int64, qrCode string) (*database.Person, error) {
	if m.FindByQRCodeError != nil {
		return nil, m.FindByQRCodeError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.people {
		if p.TenantID == tenantID && qrCode != "" && p.QRCode == qrCode {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

// FindByID looks up a person by kind and ID within the tenant
func (m *MockPersonDirectory) FindByID(_ context.Context, tenantID int64, kind database.PersonKind, id int64) (*database.Person, error) {
	if m.FindByIDError != nil {
		return nil, m.FindByIDError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.people[personKey{tenantID, kind, id}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ListEnrollable returns people with a photo URL, ordered by ID. Teachers must be active.
func (m *MockPersonDirectory) ListEnrollable(_ context.Context, tenantID int64, kind database.PersonKind) ([]database.Person, error) {
	if m.ListEnrollableError != nil {
		return nil, m.ListEnrollableError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Person
	for _, p := range m.people {
		if p.TenantID != tenantID || p.Kind != kind || p.PhotoURL == "" {
			continue
		}
		if kind == database.PersonKindTeacher && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MockAttendanceStore is a mock implementation of database.AttendanceWriter.
// UpdateDayRecord holds the store lock while fn runs, which gives the same
// per-key exclusivity as a row lock.
type MockAttendanceStore struct {
	mu      sync.Mutex
	records map[database.DayKey]*database.AttendanceRecord
	nextID  int64

	// Error injection
	GetError    error
	UpdateError error
}

// NewMockAttendanceStore creates a new mock attendance store
func NewMockAttendanceStore() *MockAttendanceStore {
	return &MockAttendanceStore{
		records: make(map[database.DayKey]*database.AttendanceRecord),
	}
}

// GetDayRecord returns a copy of the record for key, or nil
func (m *MockAttendanceStore) GetDayRecord(_ context.Context, key database.DayKey) (*database.AttendanceRecord, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// ListByDate returns all records of the tenant for date, ordered by ID
func (m *MockAttendanceStore) ListByDate(_ context.Context, tenantID int64, date time.Time) ([]database.AttendanceRecord, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.AttendanceRecord
	for key, rec := range m.records {
		if key.TenantID == tenantID && key.Date.Equal(date) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateDayRecord applies fn to a copy of the record and stores it only if fn succeeds
func (m *MockAttendanceStore) UpdateDayRecord(ctx context.Context, key database.DayKey, fn database.DayRecordFunc) (*database.AttendanceRecord, error) {
	if m.UpdateError != nil {
		return nil, m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var work database.AttendanceRecord
	existing, ok := m.records[key]
	if ok {
		work = *existing
	} else {
		work = database.AttendanceRecord{
			ID:        m.nextID + 1,
			TenantID:  key.TenantID,
			Kind:      key.Kind,
			PersonID:  key.PersonID,
			Date:      key.Date,
			CreatedAt: now,
		}
	}

	if err := fn(&work); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !ok {
		m.nextID++
	}
	work.UpdatedAt = now
	stored := work
	m.records[key] = &stored
	out := work
	return &out, nil
}

// Len returns the number of stored records
func (m *MockAttendanceStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type embeddingKey struct {
	tenantID int64
	kind     database.PersonKind
	personID int64
}

// MockEmbeddingStore is a mock implementation of database.EmbeddingWriter
type MockEmbeddingStore struct {
	mu         sync.RWMutex
	embeddings map[embeddingKey]*database.FaceEmbedding
	nextID     int64

	// Now is the clock used for UpdatedAt. Defaults to time.Now.
	Now func() time.Time

	// Error injection
	GetError    error
	UpsertError error
	DeleteError error
	ListError   error
}

// NewMockEmbeddingStore creates a new mock embedding store
func NewMockEmbeddingStore() *MockEmbeddingStore {
	return &MockEmbeddingStore{
		embeddings: make(map[embeddingKey]*database.FaceEmbedding),
		Now:        time.Now,
	}
}

// GetEmbedding returns a copy of the embedding row, or nil
func (m *MockEmbeddingStore) GetEmbedding(_ context.Context, tenantID int64, kind database.PersonKind, personID int64) (*database.FaceEmbedding, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.embeddings[embeddingKey{tenantID, kind, personID}]
	if !ok {
		return nil, nil
	}
	out := *e
	return &out, nil
}

// UpsertEmbedding inserts or overwrites the row, incrementing attempts on PENDING
func (m *MockEmbeddingStore) UpsertEmbedding(_ context.Context, emb database.FaceEmbedding) (*database.FaceEmbedding, error) {
	if m.UpsertError != nil {
		return nil, m.UpsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now().UTC()
	key := embeddingKey{emb.TenantID, emb.Kind, emb.PersonID}
	if existing, ok := m.embeddings[key]; ok {
		emb.ID = existing.ID
		emb.CreatedAt = existing.CreatedAt
		emb.Attempts = existing.Attempts
	} else {
		m.nextID++
		emb.ID = m.nextID
		emb.CreatedAt = now
		emb.Attempts = 0
	}
	if emb.Status == database.EmbeddingPending {
		emb.Attempts++
	}
	emb.UpdatedAt = now

	stored := emb
	m.embeddings[key] = &stored
	return &emb, nil
}

// DeleteEmbedding removes the row and reports whether it existed
func (m *MockEmbeddingStore) DeleteEmbedding(_ context.Context, tenantID int64, kind database.PersonKind, personID int64) (bool, error) {
	if m.DeleteError != nil {
		return false, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := embeddingKey{tenantID, kind, personID}
	if _, ok := m.embeddings[key]; !ok {
		return false, nil
	}
	delete(m.embeddings, key)
	return true, nil
}

// ListRetryable returns FAILED and NO_FACE rows updated before olderThan, ordered by ID
func (m *MockEmbeddingStore) ListRetryable(_ context.Context, tenantID int64, olderThan time.Time) ([]database.FaceEmbedding, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.FaceEmbedding
	for _, e := range m.embeddings {
		if e.TenantID == tenantID && e.Status.Retryable() && e.UpdatedAt.Before(olderThan) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TenantsWithRetryable returns tenants that have retryable rows updated before olderThan
func (m *MockEmbeddingStore) TenantsWithRetryable(_ context.Context, olderThan time.Time) ([]int64, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[int64]struct{})
	var out []int64
	for _, e := range m.embeddings {
		if !e.Status.Retryable() || !e.UpdatedAt.Before(olderThan) {
			continue
		}
		if _, ok := seen[e.TenantID]; ok {
			continue
		}
		seen[e.TenantID] = struct{}{}
		out = append(out, e.TenantID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// CountByStatus returns the number of rows per status for a tenant
func (m *MockEmbeddingStore) CountByStatus(_ context.Context, tenantID int64) (map[database.EmbeddingStatus]int, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[database.EmbeddingStatus]int)
	for _, e := range m.embeddings {
		if e.TenantID == tenantID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

// Backdate sets UpdatedAt of a row, for exercising the retry age gate
func (m *MockEmbeddingStore) Backdate(tenantID int64, kind database.PersonKind, personID int64, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.embeddings[embeddingKey{tenantID, kind, personID}]; ok {
		e.UpdatedAt = updatedAt
	}
}

// Len returns the number of stored rows
func (m *MockEmbeddingStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.embeddings)
}

var (
	_ database.PersonDirectory  = (*MockPersonDirectory)(nil)
	_ database.AttendanceWriter = (*MockAttendanceStore)(nil)
	_ database.EmbeddingWriter  = (*MockEmbeddingStore)(nil)
)
