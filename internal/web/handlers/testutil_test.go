package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/school-attendance/internal/attendance"
	"github.com/kozaktomas/school-attendance/internal/biometric"
	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/database"
	"github.com/kozaktomas/school-attendance/internal/database/mock"
	"github.com/kozaktomas/school-attendance/internal/enrollment"
	"github.com/kozaktomas/school-attendance/internal/scan"
	"github.com/kozaktomas/school-attendance/internal/web/middleware"
)

// fakeBiometric implements both scan.FaceSearcher and enrollment.FaceService
type fakeBiometric struct {
	mu        sync.Mutex
	matches   []biometric.Match
	searchErr error
	enrollErr error
	searches  int
}

func (f *fakeBiometric) Search(context.Context, int64, string, float64, int) ([]biometric.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	return f.matches, f.searchErr
}

func (f *fakeBiometric) Enroll(context.Context, int64, string, biometric.ImageSource) (float64, error) {
	if f.enrollErr != nil {
		return 0, f.enrollErr
	}
	return 0.9, nil
}

func (f *fakeBiometric) Delete(context.Context, int64, string) bool { return true }
func (f *fakeBiometric) Health(context.Context) bool                { return true }
func (f *fakeBiometric) EnrolledCount(context.Context, int64) int   { return 1 }

type testEnv struct {
	directory  *mock.MockPersonDirectory
	attendance *mock.MockAttendanceStore
	embeddings *mock.MockEmbeddingStore
	bio        *fakeBiometric
	machine    *attendance.StateMachine
	manager    *enrollment.Manager
	scan       *ScanHandler
	enroll     *EnrollmentsHandler
}

// testConfig creates a minimal biometric config for testing
func testConfig() config.BiometricConfig {
	return config.BiometricConfig{
		Enabled:    true,
		AutoEnroll: true,
		Thresholds: config.MatchThresholds{High: 0.85, Medium: 0.70, Low: 0.55},
	}
}

func newTestEnv(t *testing.T, cfg config.BiometricConfig) *testEnv {
	t.Helper()
	env := &testEnv{
		directory:  mock.NewMockPersonDirectory(),
		attendance: mock.NewMockAttendanceStore(),
		embeddings: mock.NewMockEmbeddingStore(),
		bio:        &fakeBiometric{},
	}

	var faces scan.FaceSearcher
	if cfg.Enabled {
		faces = env.bio
	}
	resolver := scan.NewResolver(env.directory, faces, cfg)
	exitStart := attendance.ClockTime{Hour: 13}
	schedule := fixedSchedule{EntryStart: attendance.ClockTime{Hour: 8}, Tolerance: 10 * time.Minute, ExitStart: &exitStart}
	env.machine = attendance.NewStateMachine(env.attendance, schedule, nil, time.UTC)
	env.manager = enrollment.NewManager(env.embeddings, env.directory, env.bio, cfg)
	env.scan = NewScanHandler(resolver, env.machine)
	env.enroll = NewEnrollmentsHandler(env.manager, cfg.Enabled)

	env.directory.AddPerson(database.Person{
		ID: 42, TenantID: 1, Kind: database.PersonKindStudent, Name: "Ana Quispe",
		QRCode: "QR-42", PhotoURL: "https://cdn.example.com/42.jpg", Level: "Primaria",
	})
	return env
}

type fixedSchedule attendance.Window

func (f fixedSchedule) WindowFor(int64, database.Person) attendance.Window {
	return attendance.Window(f)
}

// jsonRequest creates a request with a JSON body and tenant claims in context
func jsonRequest(t *testing.T, method, path string, body any, role string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	ctx := middleware.SetClaimsInContext(req.Context(), &middleware.Claims{TenantID: 1, ScannerID: "gate-1", Role: role})
	return req.WithContext(ctx)
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}
