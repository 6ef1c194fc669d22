package enrollment

import (
	"context"
	"testing"
	"time"

	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/database"
)

func TestSweepOnce_AllTenants(t *testing.T) {
	m, store, dir, _ := newTestManager(config.BiometricConfig{RetryFailedHours: 12})
	ctx := context.Background()

	for _, tenant := range []int64{1, 2} {
		p := database.Person{ID: 10, TenantID: tenant, Kind: database.PersonKindStudent}
		if _, err := m.Enroll(ctx, p); err != nil {
			t.Fatalf("Enroll() error = %v", err)
		}
		p.PhotoURL = "https://cdn.example.com/10.jpg"
		dir.AddPerson(p)
		store.Backdate(tenant, database.PersonKindStudent, 10, time.Now().Add(-13*time.Hour))
	}

	r, err := m.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if r.Retried != 2 || r.Success != 2 {
		t.Errorf("expected both tenants retried successfully, got %+v", r)
	}

	r, err = m.SweepOnce(ctx)
	if err != nil || r.Retried != 0 {
		t.Errorf("expected nothing left to retry, got %+v %v", r, err)
	}
}

func TestStartRetrySweep(t *testing.T) {
	m, _, _, _ := newTestManager(config.BiometricConfig{})
	sweep, err := m.StartRetrySweep(time.Hour)
	if err != nil {
		t.Fatalf("StartRetrySweep() error = %v", err)
	}
	sweep.Stop()
}
