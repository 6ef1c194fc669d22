// Package attendance records entries and exits, at most one of each per person
// and school day.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kozaktomas/school-attendance/internal/database"
	"github.com/kozaktomas/school-attendance/internal/metrics"
	"github.com/kozaktomas/school-attendance/internal/notify"
)

var (
	// ErrAlreadyRegistered is returned for a second scan in the same direction on the same day.
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrTenantMismatch is returned when the person belongs to another tenant.
	ErrTenantMismatch = errors.New("person belongs to another tenant")
	// ErrInvalidDirection is returned for directions other than ENTRY and EXIT.
	ErrInvalidDirection = errors.New("invalid direction")
)

// StateMachine applies scans to attendance rows. Exits without a prior entry
// are accepted and leave EntryTime nil.
type StateMachine struct {
	store      database.AttendanceWriter
	schedule   ScheduleProvider
	dispatcher notify.Dispatcher
	loc        *time.Location

	wg sync.WaitGroup
}

// NewStateMachine creates a state machine. dispatcher may be nil, in which case
// nothing is ever notified.
func NewStateMachine(store database.AttendanceWriter, schedule ScheduleProvider, dispatcher notify.Dispatcher, loc *time.Location) *StateMachine {
	if loc == nil {
		loc = time.UTC
	}
	return &StateMachine{
		store:      store,
		schedule:   schedule,
		dispatcher: dispatcher,
		loc:        loc,
	}
}

// Location returns the school timezone used to compute dates.
func (sm *StateMachine) Location() *time.Location {
	return sm.loc
}

// Register records a scan of person in direction at the given instant. The
// returned record has Notified set when a notification was handed off for
// this transition.
func (sm *StateMachine) Register(ctx context.Context, tenantID int64, person database.Person, direction database.Direction, at time.Time, method database.ScanMethod) (*database.AttendanceRecord, error) {
	if person.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}
	if direction != database.DirectionEntry && direction != database.DirectionExit {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}

	window := sm.schedule.WindowFor(tenantID, person)
	willNotify := sm.dispatcher != nil && person.GuardianContact != ""
	at = at.UTC()

	rec, err := sm.store.UpdateDayRecord(ctx, database.NewDayKey(person, at, sm.loc), func(rec *database.AttendanceRecord) error {
		switch direction {
		case database.DirectionEntry:
			if rec.EntryTime != nil {
				return ErrAlreadyRegistered
			}
			status := window.EntryStatus(at, sm.loc)
			rec.EntryTime = &at
			rec.EntryStatus = &status
			rec.EntryMethod = &method
		case database.DirectionExit:
			if rec.ExitTime != nil {
				return ErrAlreadyRegistered
			}
			status := window.ExitStatus(at, sm.loc)
			rec.ExitTime = &at
			rec.ExitStatus = &status
			rec.ExitMethod = &method
		}
		rec.Notified = willNotify
		return nil
	})
	if errors.Is(err, ErrAlreadyRegistered) {
		metrics.ObserveDuplicate(string(direction))
		return nil, ErrAlreadyRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("register %s for %s: %w", direction, person.ExternalID(), err)
	}

	metrics.ObserveRegistration(string(direction), statusOf(rec, direction), string(method))
	if willNotify {
		sm.dispatch(notify.NewEvent(person, rec, direction))
	}
	return rec, nil
}

// DayRecords returns the tenant's rows for the school-local date of day.
func (sm *StateMachine) DayRecords(ctx context.Context, tenantID int64, day time.Time) ([]database.AttendanceRecord, error) {
	records, err := sm.store.ListByDate(ctx, tenantID, database.DateOf(day, sm.loc))
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}

// Wait blocks until all in-flight notifications are done.
func (sm *StateMachine) Wait() {
	sm.wg.Wait()
}

// dispatch runs after commit and detached from the request context.
func (sm *StateMachine) dispatch(ev notify.Event) {
	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		err := sm.dispatcher.Dispatch(context.Background(), ev)
		metrics.ObserveNotification(err == nil)
		if err != nil {
			log.Printf("warning: notification %s for %s_%d failed: %v", ev.ID, ev.PersonKind, ev.PersonID, err)
		}
	}()
}

func statusOf(rec *database.AttendanceRecord, direction database.Direction) string {
	if direction == database.DirectionEntry && rec.EntryStatus != nil {
		return string(*rec.EntryStatus)
	}
	if direction == database.DirectionExit && rec.ExitStatus != nil {
		return string(*rec.ExitStatus)
	}
	return ""
}
