//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/database"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 60,
		MaxIdleConns: 10,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

var errEntryTaken = errors.New("entry already registered")

// markEntry sets the entry once and refuses to overwrite it.
func markEntry(at time.Time) database.DayRecordFunc {
	return func(rec *database.AttendanceRecord) error {
		if rec.EntryTime != nil {
			return errEntryTaken
		}
		status := database.EntryOnTime
		method := database.MethodQR
		rec.EntryTime = &at
		rec.EntryStatus = &status
		rec.EntryMethod = &method
		return nil
	}
}

func TestAttendanceRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewAttendanceRepository(pool)
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	at := time.Date(2026, 3, 16, 13, 5, 0, 0, time.UTC)

	t.Run("CreateOnFirstUpdate", func(t *testing.T) {
		key := database.DayKey{TenantID: 1, Kind: database.PersonKindStudent, PersonID: 42, Date: date}

		got, err := repo.GetDayRecord(ctx, key)
		if err != nil {
			t.Fatalf("GetDayRecord() error = %v", err)
		}
		if got != nil {
			t.Fatalf("expected no record yet, got %+v", got)
		}

		rec, err := repo.UpdateDayRecord(ctx, key, markEntry(at))
		if err != nil {
			t.Fatalf("UpdateDayRecord() error = %v", err)
		}
		if rec.EntryTime == nil || !rec.EntryTime.Equal(at) {
			t.Errorf("expected entry time %v, got %v", at, rec.EntryTime)
		}
		if rec.ExitTime != nil {
			t.Errorf("expected no exit time, got %v", rec.ExitTime)
		}
		if !rec.Date.Equal(date) {
			t.Errorf("expected date %v, got %v", date, rec.Date)
		}
	})

	t.Run("RejectedUpdateKeepsFirstValue", func(t *testing.T) {
		key := database.DayKey{TenantID: 1, Kind: database.PersonKindStudent, PersonID: 42, Date: date}
		later := at.Add(10 * time.Minute)

		if _, err := repo.UpdateDayRecord(ctx, key, markEntry(later)); !errors.Is(err, errEntryTaken) {
			t.Fatalf("expected errEntryTaken, got %v", err)
		}

		got, err := repo.GetDayRecord(ctx, key)
		if err != nil {
			t.Fatalf("GetDayRecord() error = %v", err)
		}
		if !got.EntryTime.Equal(at) {
			t.Errorf("entry time was overwritten: %v", got.EntryTime)
		}
	})

	t.Run("RejectedFirstUpdateCreatesNothing", func(t *testing.T) {
		key := database.DayKey{TenantID: 1, Kind: database.PersonKindTeacher, PersonID: 9, Date: date}
		boom := errors.New("boom")

		if _, err := repo.UpdateDayRecord(ctx, key, func(*database.AttendanceRecord) error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		got, err := repo.GetDayRecord(ctx, key)
		if err != nil {
			t.Fatalf("GetDayRecord() error = %v", err)
		}
		if got != nil {
			t.Errorf("expected rollback to leave no row, got %+v", got)
		}
	})

	t.Run("ConcurrentEntriesRegisterOnce", func(t *testing.T) {
		key := database.DayKey{TenantID: 2, Kind: database.PersonKindStudent, PersonID: 7, Date: date}

		const scanners = 50
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			rejected  int
			others    []error
		)
		for i := 0; i < scanners; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.UpdateDayRecord(ctx, key, markEntry(at.Add(time.Duration(i)*time.Millisecond)))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, errEntryTaken):
					rejected++
				default:
					others = append(others, err)
				}
			}(i)
		}
		wg.Wait()

		if len(others) > 0 {
			t.Fatalf("unexpected errors: %v", others)
		}
		if successes != 1 || rejected != scanners-1 {
			t.Errorf("expected 1 success and %d rejections, got %d and %d", scanners-1, successes, rejected)
		}

		rows, err := repo.ListByDate(ctx, 2, date)
		if err != nil {
			t.Fatalf("ListByDate() error = %v", err)
		}
		if len(rows) != 1 {
			t.Errorf("expected exactly one row, got %d", len(rows))
		}
	})

	t.Run("CancelledContextCommitsNothing", func(t *testing.T) {
		key := database.DayKey{TenantID: 3, Kind: database.PersonKindStudent, PersonID: 1, Date: date}
		cctx, cancel := context.WithCancel(ctx)

		_, err := repo.UpdateDayRecord(cctx, key, func(rec *database.AttendanceRecord) error {
			cancel()
			return markEntry(at)(rec)
		})
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
		got, err := repo.GetDayRecord(ctx, key)
		if err != nil {
			t.Fatalf("GetDayRecord() error = %v", err)
		}
		if got != nil {
			t.Errorf("expected no row after cancellation, got %+v", got)
		}
	})
}

func TestEmbeddingRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewEmbeddingRepository(pool)

	base := database.FaceEmbedding{
		TenantID:       1,
		Kind:           database.PersonKindStudent,
		PersonID:       42,
		ExternalID:     "student_42",
		SourceImageURL: "https://cdn.example.com/42.jpg",
	}

	t.Run("UpsertKeepsOneRow", func(t *testing.T) {
		pending := base
		pending.Status = database.EmbeddingPending
		first, err := repo.UpsertEmbedding(ctx, pending)
		if err != nil {
			t.Fatalf("UpsertEmbedding() error = %v", err)
		}
		if first.Attempts != 1 {
			t.Errorf("expected attempts 1, got %d", first.Attempts)
		}

		now := time.Now().UTC()
		conf := 0.93
		active := base
		active.Status = database.EmbeddingActive
		active.Confidence = &conf
		active.EnrolledAt = &now
		second, err := repo.UpsertEmbedding(ctx, active)
		if err != nil {
			t.Fatalf("UpsertEmbedding() error = %v", err)
		}
		if second.ID != first.ID {
			t.Errorf("expected same row, got ids %d and %d", first.ID, second.ID)
		}
		if second.Attempts != 1 {
			t.Errorf("expected attempts to stay 1, got %d", second.Attempts)
		}
		if second.Confidence == nil || *second.Confidence != conf {
			t.Errorf("expected confidence %v, got %v", conf, second.Confidence)
		}

		_, err = repo.UpsertEmbedding(ctx, pending)
		if err != nil {
			t.Fatalf("UpsertEmbedding() error = %v", err)
		}
		got, err := repo.GetEmbedding(ctx, 1, database.PersonKindStudent, 42)
		if err != nil {
			t.Fatalf("GetEmbedding() error = %v", err)
		}
		if got.Attempts != 2 || got.Status != database.EmbeddingPending {
			t.Errorf("expected PENDING with 2 attempts, got %s with %d", got.Status, got.Attempts)
		}
		if got.EnrolledAt != nil {
			t.Errorf("expected enrolled_at to be cleared, got %v", got.EnrolledAt)
		}
	})

	t.Run("ConcurrentUpsertsKeepOneRow", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e := base
				e.PersonID = 77
				e.ExternalID = "student_77"
				e.Status = database.EmbeddingPending
				if _, err := repo.UpsertEmbedding(ctx, e); err != nil {
					t.Errorf("UpsertEmbedding() error = %v", err)
				}
			}()
		}
		wg.Wait()

		counts, err := repo.CountByStatus(ctx, 1)
		if err != nil {
			t.Fatalf("CountByStatus() error = %v", err)
		}
		if counts[database.EmbeddingPending] != 2 {
			t.Errorf("expected 2 pending rows (42 and 77), got %d", counts[database.EmbeddingPending])
		}
	})

	t.Run("RetryableQueries", func(t *testing.T) {
		failed := base
		failed.TenantID = 5
		failed.PersonID = 1
		failed.ExternalID = "student_1"
		failed.Status = database.EmbeddingFailed
		failed.ErrorMessage = "timeout"
		if _, err := repo.UpsertEmbedding(ctx, failed); err != nil {
			t.Fatalf("UpsertEmbedding() error = %v", err)
		}

		future := time.Now().Add(time.Hour)
		rows, err := repo.ListRetryable(ctx, 5, future)
		if err != nil {
			t.Fatalf("ListRetryable() error = %v", err)
		}
		if len(rows) != 1 || rows[0].ErrorMessage != "timeout" {
			t.Errorf("expected the failed row, got %+v", rows)
		}

		rows, err = repo.ListRetryable(ctx, 5, time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("ListRetryable() error = %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("expected fresh failures to be skipped, got %d", len(rows))
		}

		tenants, err := repo.TenantsWithRetryable(ctx, future)
		if err != nil {
			t.Fatalf("TenantsWithRetryable() error = %v", err)
		}
		if len(tenants) != 1 || tenants[0] != 5 {
			t.Errorf("expected tenant 5, got %v", tenants)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		deleted, err := repo.DeleteEmbedding(ctx, 1, database.PersonKindStudent, 42)
		if err != nil {
			t.Fatalf("DeleteEmbedding() error = %v", err)
		}
		if !deleted {
			t.Error("expected row to be deleted")
		}
		deleted, err = repo.DeleteEmbedding(ctx, 1, database.PersonKindStudent, 42)
		if err != nil {
			t.Fatalf("DeleteEmbedding() error = %v", err)
		}
		if deleted {
			t.Error("expected second delete to report false")
		}
	})
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}

	expectedMigrations := []string{"001_initial.sql"}

	if len(applied) != len(expectedMigrations) {
		t.Errorf("Expected %d migrations, got %d", len(expectedMigrations), len(applied))
	}
	for i, expected := range expectedMigrations {
		if i < len(applied) && applied[i] != expected {
			t.Errorf("Migration %d: expected '%s', got '%s'", i, expected, applied[i])
		}
	}

	// Running again is a no-op
	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}
