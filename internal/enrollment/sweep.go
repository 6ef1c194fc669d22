package enrollment

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/kozaktomas/school-attendance/internal/constants"
)

// SweepOnce retries old failures of every tenant that has any.
func (m *Manager) SweepOnce(ctx context.Context) (RetryResult, error) {
	hours := m.cfg.RetryFailedHours
	if hours <= 0 {
		hours = constants.DefaultRetryFailedHours
	}
	cutoff := m.now().Add(-time.Duration(hours) * time.Hour)

	tenants, err := m.store.TenantsWithRetryable(ctx, cutoff)
	if err != nil {
		return RetryResult{}, fmt.Errorf("list tenants to retry: %w", err)
	}

	var total RetryResult
	for _, tenantID := range tenants {
		r, err := m.RetryFailed(ctx, tenantID, hours, nil)
		total.Retried += r.Retried
		total.Success += r.Success
		total.Failed += r.Failed
		if err != nil {
			return total, fmt.Errorf("retry tenant %d: %w", tenantID, err)
		}
	}
	return total, nil
}

// Sweep periodically runs SweepOnce. Runs never overlap.
type Sweep struct {
	scheduler *gocron.Scheduler
}

// StartRetrySweep schedules SweepOnce every interval, starting after the first interval.
func (m *Manager) StartRetrySweep(interval time.Duration) (*Sweep, error) {
	if interval <= 0 {
		interval = constants.DefaultRetryInterval
	}

	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(interval).SingletonMode().WaitForSchedule().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.SweepTimeout)
		defer cancel()

		start := time.Now()
		r, err := m.SweepOnce(ctx)
		if err != nil {
			log.Printf("warning: retry sweep: %v", err)
		}
		if r.Retried > 0 {
			log.Printf("Retry sweep: %d retried, %d enrolled, %d failed in %s", r.Retried, r.Success, r.Failed, time.Since(start).Round(time.Millisecond))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule retry sweep: %w", err)
	}
	s.StartAsync()
	log.Printf("Retry sweep scheduled every %s", interval)
	return &Sweep{scheduler: s}, nil
}

// Stop stops scheduling new runs. A run in progress finishes on its own.
func (s *Sweep) Stop() {
	s.scheduler.Stop()
}
