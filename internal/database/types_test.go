package database

import (
	"testing"
	"time"
)

func TestExternalIDRoundTrip(t *testing.T) {
	tests := []struct {
		kind PersonKind
		id   int64
		want string
	}{
		{PersonKindStudent, 42, "student_42"},
		{PersonKindTeacher, 7, "teacher_7"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			got := ExternalID(tc.kind, tc.id)
			if got != tc.want {
				t.Fatalf("ExternalID(%s, %d) = %q, want %q", tc.kind, tc.id, got, tc.want)
			}
			kind, id, err := ParseExternalID(got)
			if err != nil {
				t.Fatalf("ParseExternalID(%q) error = %v", got, err)
			}
			if kind != tc.kind || id != tc.id {
				t.Errorf("ParseExternalID(%q) = %s/%d, want %s/%d", got, kind, id, tc.kind, tc.id)
			}
		})
	}
}

func TestParseExternalIDRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "student", "student_", "parent_3", "student_abc", "teacher_-1", "student_0"} {
		if _, _, err := ParseExternalID(in); err == nil {
			t.Errorf("ParseExternalID(%q) expected error", in)
		}
	}
}

func TestParsePersonKind(t *testing.T) {
	tests := map[string]PersonKind{
		"STUDENT":   PersonKindStudent,
		"student":   PersonKindStudent,
		" teacher ": PersonKindTeacher,
	}
	for in, want := range tests {
		got, err := ParsePersonKind(in)
		if err != nil {
			t.Fatalf("ParsePersonKind(%q) error = %v", in, err)
		}
		if got != want {
			t.Errorf("ParsePersonKind(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParsePersonKind("guardian"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestDateOfUsesSchoolTimezone(t *testing.T) {
	lima := time.FixedZone("America/Lima", -5*3600)
	// 02:30 UTC on the 15th is still the 14th in Lima.
	at := time.Date(2026, 3, 15, 2, 30, 0, 0, time.UTC)

	got := DateOf(at, lima)
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DateOf = %v, want %v", got, want)
	}

	if got := DateOf(at, nil); !got.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("DateOf with nil location = %v", got)
	}
}

func TestEmbeddingStatusRetryable(t *testing.T) {
	cases := map[EmbeddingStatus]bool{
		EmbeddingPending: false,
		EmbeddingActive:  false,
		EmbeddingFailed:  true,
		EmbeddingNoFace:  true,
	}
	for status, want := range cases {
		if got := status.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", status, got, want)
		}
	}
}
