package biometric

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/school-attendance/internal/config"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return NewClient(config.BiometricConfig{
		ServiceURL:     server.URL + "/",
		ServiceTimeout: 2 * time.Second,
		HealthTimeout:  500 * time.Millisecond,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestEnroll_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/enroll", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var req enrollRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.TenantID != 3 || req.ExternalID != "student_42" || req.ImageURL != "https://cdn.example.com/42.jpg" {
			t.Errorf("unexpected request %+v", req)
		}
		if req.ImageBase64 != "" {
			t.Error("expected image_base64 to be omitted")
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "confidence": 0.97})
	})

	c := newTestClient(t, mux)
	conf, err := c.Enroll(context.Background(), 3, "student_42", ImageSource{URL: "https://cdn.example.com/42.jpg"})
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if conf != 0.97 {
		t.Errorf("expected confidence 0.97, got %v", conf)
	}
}

func TestEnroll_ClassifiesServiceErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		wantKind Kind
		wantCode string
	}{
		{"no face in 200 body", http.StatusOK, map[string]any{"success": false, "error": "NO_FACE_DETECTED", "message": "no face"}, KindNoFaceDetected, "NO_FACE_DETECTED"},
		{"multiple faces in 422", http.StatusUnprocessableEntity, map[string]any{"success": false, "error": "MULTIPLE_FACES"}, KindMultipleFaces, "MULTIPLE_FACES"},
		{"image load error", http.StatusBadRequest, map[string]any{"success": false, "error": "IMAGE_LOAD_ERROR"}, KindImageLoadError, "IMAGE_LOAD_ERROR"},
		{"unknown code kept", http.StatusOK, map[string]any{"success": false, "error": "LOW_QUALITY", "message": "blurry"}, KindUnknown, "LOW_QUALITY"},
		{"missing code", http.StatusOK, map[string]any{"success": false}, KindUnknown, "UNKNOWN"},
		{"500 without code", http.StatusInternalServerError, map[string]any{"detail": "boom"}, KindServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"502 html", http.StatusBadGateway, "<html>bad gateway</html>", KindServiceUnavailable, "SERVICE_UNAVAILABLE"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/enroll", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tc.status, tc.body)
			})
			c := newTestClient(t, mux)

			_, err := c.Enroll(context.Background(), 1, "student_1", ImageSource{Base64: "aGVsbG8="})
			bioErr, ok := AsError(err)
			if !ok {
				t.Fatalf("expected *Error, got %v", err)
			}
			if bioErr.Kind != tc.wantKind {
				t.Errorf("expected kind %s, got %s", tc.wantKind, bioErr.Kind)
			}
			if bioErr.Code != tc.wantCode {
				t.Errorf("expected code %s, got %s", tc.wantCode, bioErr.Code)
			}
			if len(bioErr.Hints) == 0 {
				t.Error("expected remediation hints")
			}
		})
	}
}

func TestEnroll_NoImage(t *testing.T) {
	c := NewClient(config.BiometricConfig{ServiceURL: "http://127.0.0.1:1"})
	_, err := c.Enroll(context.Background(), 1, "student_1", ImageSource{})
	if !IsKind(err, KindImageLoadError) {
		t.Errorf("expected ImageLoadError, got %v", err)
	}
}

func TestSearch_SortsMatches(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Threshold != 0.6 || req.Limit != 5 {
			t.Errorf("unexpected threshold/limit %v/%d", req.Threshold, req.Limit)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"matches": []map[string]any{
				{"external_id": "student_1", "confidence": 0.61},
				{"external_id": "teacher_9", "confidence": 0.92},
				{"external_id": "student_5", "confidence": 0.75},
			},
		})
	})
	c := newTestClient(t, mux)

	matches, err := c.Search(context.Background(), 1, "aGVsbG8=", 0.6, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].ExternalID != "teacher_9" || matches[2].ExternalID != "student_1" {
		t.Errorf("expected matches sorted by confidence, got %+v", matches)
	}
}

func TestSearch_TimeoutIsServiceUnavailable(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	defer close(release)

	c := NewClient(config.BiometricConfig{ServiceURL: server.URL, ServiceTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := c.Search(context.Background(), 1, "aGVsbG8=", 0.6, 5)
	if !IsKind(err, KindServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped deadline error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("search did not honour its timeout")
	}
}

func TestUnreachableServiceIsServiceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NewServeMux())
	url := server.URL
	server.Close()

	c := NewClient(config.BiometricConfig{ServiceURL: url})
	_, err := c.Search(context.Background(), 1, "aGVsbG8=", 0.6, 5)
	bioErr, ok := AsError(err)
	if !ok || bioErr.Kind != KindServiceUnavailable {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
	if bioErr.HTTPStatus() != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", bioErr.HTTPStatus())
	}
}

func TestMissingURLIsServiceUnavailable(t *testing.T) {
	c := NewClient(config.BiometricConfig{})
	if _, err := c.Search(context.Background(), 1, "x", 0.6, 5); !IsKind(err, KindServiceUnavailable) {
		t.Errorf("expected ServiceUnavailable, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/faces/student_42", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		var req deleteRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.TenantID != 8 {
			t.Errorf("expected tenant 8, got %d", req.TenantID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	mux.HandleFunc("/faces/student_43", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "boom"})
	})
	c := newTestClient(t, mux)

	if !c.Delete(context.Background(), 8, "student_42") {
		t.Error("expected delete to succeed")
	}
	if c.Delete(context.Background(), 8, "student_43") {
		t.Error("expected failed delete to report false")
	}
}

func TestHealthAndCountFailSoft(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.HandleFunc("/faces/count", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tenant_id") != "4" {
			t.Errorf("expected tenant_id=4, got %q", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": 120})
	})
	c := newTestClient(t, mux)

	if !c.Health(context.Background()) {
		t.Error("expected healthy service")
	}
	if n := c.EnrolledCount(context.Background(), 4); n != 120 {
		t.Errorf("expected count 120, got %d", n)
	}

	down := NewClient(config.BiometricConfig{ServiceURL: "http://127.0.0.1:1", HealthTimeout: 100 * time.Millisecond})
	if down.Health(context.Background()) {
		t.Error("expected unhealthy for unreachable service")
	}
	if n := down.EnrolledCount(context.Background(), 4); n != 0 {
		t.Errorf("expected 0 for unreachable service, got %d", n)
	}
}

func TestHealth_UnexpectedStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "degraded"})
	})
	c := newTestClient(t, mux)
	if c.Health(context.Background()) {
		t.Error("expected degraded status to be unhealthy")
	}
}
