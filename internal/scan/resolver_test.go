package scan

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/kozaktomas/school-attendance/internal/biometric"
	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/database"
	"github.com/kozaktomas/school-attendance/internal/database/mock"
)

type fakeSearcher struct {
	matches []biometric.Match
	err     error
	calls   int
	lastImg string
}

func (f *fakeSearcher) Search(_ context.Context, _ int64, img string, _ float64, _ int) ([]biometric.Match, error) {
	f.calls++
	f.lastImg = img
	return f.matches, f.err
}

func int64Ptr(v int64) *int64 { return &v }

func testImage(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func testBiometricConfig() config.BiometricConfig {
	return config.BiometricConfig{
		Thresholds:        config.MatchThresholds{High: 0.85, Medium: 0.70, Low: 0.55},
		DistanceThreshold: 0.6,
		SearchLimit:       5,
	}
}

func newTestDirectory() *mock.MockPersonDirectory {
	dir := mock.NewMockPersonDirectory()
	dir.AddPerson(database.Person{ID: 42, TenantID: 1, Kind: database.PersonKindStudent, QRCode: "QR-42", ClassroomID: int64Ptr(10), Level: "Primaria"})
	dir.AddPerson(database.Person{ID: 7, TenantID: 1, Kind: database.PersonKindTeacher, QRCode: "T-7", Level: "Secundaria"})
	dir.AddPerson(database.Person{ID: 99, TenantID: 2, Kind: database.PersonKindStudent, QRCode: "QR-99"})
	return dir
}

func TestResolveQR(t *testing.T) {
	r := NewResolver(newTestDirectory(), nil, testBiometricConfig())

	res, err := r.Resolve(context.Background(), 1, Request{Mode: ModeQR, QRCode: "QR-42"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Person.ID != 42 || res.Method != database.MethodQR {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Confidence != nil {
		t.Error("expected no confidence for QR scans")
	}
}

func TestResolveQR_NotFound(t *testing.T) {
	r := NewResolver(newTestDirectory(), nil, testBiometricConfig())

	tests := map[string]string{
		"unknown code":         "QR-404",
		"code of other tenant": "QR-99",
	}
	for name, code := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), 1, Request{Mode: ModeQR, QRCode: code})
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestResolveQR_DirectoryError(t *testing.T) {
	dir := newTestDirectory()
	dir.FindByQRCodeError = errors.New("connection refused")
	r := NewResolver(dir, nil, testBiometricConfig())

	_, err := r.Resolve(context.Background(), 1, Request{Mode: ModeQR, QRCode: "QR-42"})
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected infrastructure error, got %v", err)
	}
}

func TestResolve_EmptyPayload(t *testing.T) {
	r := NewResolver(newTestDirectory(), &fakeSearcher{}, testBiometricConfig())

	if _, err := r.Resolve(context.Background(), 1, Request{Mode: ModeQR}); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("expected ErrEmptyPayload for QR, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), 1, Request{Mode: ModeFace}); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("expected ErrEmptyPayload for face, got %v", err)
	}
}

func TestResolveFace_BestMatch(t *testing.T) {
	faces := &fakeSearcher{matches: []biometric.Match{
		{ExternalID: "teacher_7", Confidence: 0.78},
		{ExternalID: "student_42", Confidence: 0.60},
	}}
	r := NewResolver(newTestDirectory(), faces, testBiometricConfig())

	res, err := r.Resolve(context.Background(), 1, Request{Mode: ModeFace, ImageBase64: testImage(t)})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Person.Kind != database.PersonKindTeacher || res.Person.ID != 7 {
		t.Errorf("expected teacher 7, got %s %d", res.Person.Kind, res.Person.ID)
	}
	if res.Method != database.MethodFace || res.Band != "medium" {
		t.Errorf("unexpected method/band %s/%s", res.Method, res.Band)
	}
	if res.Confidence == nil || *res.Confidence != 0.78 {
		t.Errorf("expected confidence 0.78, got %v", res.Confidence)
	}
}

func TestResolveFace_BelowThresholdIsNoMatch(t *testing.T) {
	tests := map[string][]biometric.Match{
		"no candidates": nil,
		"all too weak":  {{ExternalID: "student_42", Confidence: 0.54}},
	}
	for name, matches := range tests {
		t.Run(name, func(t *testing.T) {
			r := NewResolver(newTestDirectory(), &fakeSearcher{matches: matches}, testBiometricConfig())
			_, err := r.Resolve(context.Background(), 1, Request{Mode: ModeFace, ImageBase64: testImage(t)})
			if !errors.Is(err, ErrNoMatch) {
				t.Errorf("expected ErrNoMatch, got %v", err)
			}
		})
	}
}

func TestResolveFace_SkipsMalformedExternalID(t *testing.T) {
	faces := &fakeSearcher{matches: []biometric.Match{
		{ExternalID: "visitor_1", Confidence: 0.95},
		{ExternalID: "student_42", Confidence: 0.90},
	}}
	r := NewResolver(newTestDirectory(), faces, testBiometricConfig())

	res, err := r.Resolve(context.Background(), 1, Request{Mode: ModeFace, ImageBase64: testImage(t)})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Person.ID != 42 || res.Band != "high" {
		t.Errorf("expected student 42 with high band, got %+v", res)
	}
}

func TestResolveFace_MatchedPersonMissing(t *testing.T) {
	faces := &fakeSearcher{matches: []biometric.Match{{ExternalID: "student_500", Confidence: 0.9}}}
	r := NewResolver(newTestDirectory(), faces, testBiometricConfig())

	_, err := r.Resolve(context.Background(), 1, Request{Mode: ModeFace, ImageBase64: testImage(t)})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveFace_BiometricErrorsPassThrough(t *testing.T) {
	for _, kind := range []biometric.Kind{biometric.KindNoFaceDetected, biometric.KindMultipleFaces, biometric.KindServiceUnavailable} {
		t.Run(string(kind), func(t *testing.T) {
			var remote error
			if kind == biometric.KindServiceUnavailable {
				remote = biometric.ServiceUnavailable("timeout", nil)
			} else {
				remote = &biometric.Error{Kind: kind, Code: string(kind)}
			}
			r := NewResolver(newTestDirectory(), &fakeSearcher{err: remote}, testBiometricConfig())

			_, err := r.Resolve(context.Background(), 1, Request{Mode: ModeFace, ImageBase64: testImage(t)})
			if !biometric.IsKind(err, kind) {
				t.Errorf("expected %s, got %v", kind, err)
			}
			if errors.Is(err, ErrNoMatch) {
				t.Error("biometric errors must not become ErrNoMatch")
			}
		})
	}
}

func TestResolveFace_InvalidImageIsLocal(t *testing.T) {
	faces := &fakeSearcher{}
	r := NewResolver(newTestDirectory(), faces, testBiometricConfig())

	_, err := r.Resolve(context.Background(), 1, Request{Mode: ModeFace, ImageBase64: "not-an-image"})
	if !biometric.IsKind(err, biometric.KindImageLoadError) {
		t.Errorf("expected ImageLoadError, got %v", err)
	}
	if faces.calls != 0 {
		t.Errorf("expected no remote call, got %d", faces.calls)
	}
}

func TestResolveFace_Disabled(t *testing.T) {
	r := NewResolver(newTestDirectory(), nil, testBiometricConfig())

	_, err := r.Resolve(context.Background(), 1, Request{Mode: ModeFace, ImageBase64: testImage(t)})
	if !errors.Is(err, ErrFaceDisabled) {
		t.Errorf("expected ErrFaceDisabled, got %v", err)
	}
}

func TestResolve_Filters(t *testing.T) {
	r := NewResolver(newTestDirectory(), nil, testBiometricConfig())

	tests := []struct {
		name    string
		code    string
		filters Filters
		wantErr error
	}{
		{"matching classroom", "QR-42", Filters{ClassroomID: int64Ptr(10)}, nil},
		{"other classroom", "QR-42", Filters{ClassroomID: int64Ptr(11)}, ErrOutOfScope},
		{"no classroom fails classroom filter", "T-7", Filters{ClassroomID: int64Ptr(10)}, ErrOutOfScope},
		{"level ignores case and accents", "QR-42", Filters{Level: "PRIMÁRIA"}, nil},
		{"other level", "T-7", Filters{Level: "primaria"}, ErrOutOfScope},
		{"both filters", "QR-42", Filters{ClassroomID: int64Ptr(10), Level: "primaria"}, nil},
		{"blank level ignored", "T-7", Filters{Level: "  "}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), 1, Request{Mode: ModeQR, QRCode: tc.code, Filters: tc.filters})
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}
