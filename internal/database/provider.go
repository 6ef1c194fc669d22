package database

import (
	"context"
	"errors"
	"sync"
)

var (
	backendMu          sync.RWMutex
	attendanceWriter   func() AttendanceWriter
	embeddingWriter    func() EmbeddingWriter
	personDirectory    func() PersonDirectory
	backendInitialized bool
)

// RegisterPostgresBackend registers the PostgreSQL repository constructors.
// This is called by cmd after the pool is initialized to avoid import cycles.
func RegisterPostgresBackend(attendance func() AttendanceWriter, embeddings func() EmbeddingWriter) {
	backendMu.Lock()
	defer backendMu.Unlock()
	attendanceWriter = attendance
	embeddingWriter = embeddings
	backendInitialized = true
}

// RegisterPersonDirectory registers the directory constructor.
func RegisterPersonDirectory(dir func() PersonDirectory) {
	backendMu.Lock()
	defer backendMu.Unlock()
	personDirectory = dir
}

// IsInitialized returns whether the PostgreSQL backend has been registered.
func IsInitialized() bool {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backendInitialized
}

// GetAttendanceWriter returns the registered AttendanceWriter
func GetAttendanceWriter(_ context.Context) (AttendanceWriter, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if !backendInitialized {
		return nil, errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if attendanceWriter == nil {
		return nil, errors.New("PostgreSQL attendance writer not registered")
	}
	return attendanceWriter(), nil
}

// GetEmbeddingWriter returns the registered EmbeddingWriter
func GetEmbeddingWriter(_ context.Context) (EmbeddingWriter, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if !backendInitialized {
		return nil, errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if embeddingWriter == nil {
		return nil, errors.New("PostgreSQL embedding writer not registered")
	}
	return embeddingWriter(), nil
}

// GetPersonDirectory returns the registered PersonDirectory
func GetPersonDirectory(_ context.Context) (PersonDirectory, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if personDirectory == nil {
		return nil, errors.New("person directory not registered: DIRECTORY_DATABASE_URL is required")
	}
	return personDirectory(), nil
}

// resetBackends clears all registrations. Used by tests.
func resetBackends() {
	backendMu.Lock()
	defer backendMu.Unlock()
	attendanceWriter = nil
	embeddingWriter = nil
	personDirectory = nil
	backendInitialized = false
}
