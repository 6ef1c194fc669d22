// Package notify hands attendance events to the guardian notification pipeline.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kozaktomas/school-attendance/internal/constants"
	"github.com/kozaktomas/school-attendance/internal/database"
)

// Event is one committed attendance transition addressed to a guardian.
type Event struct {
	ID         string              `json:"id"`
	TenantID   int64               `json:"tenant_id"`
	PersonKind database.PersonKind `json:"person_kind"`
	PersonID   int64               `json:"person_id"`
	PersonName string              `json:"person_name"`
	Contact    string              `json:"contact"`
	Direction  database.Direction  `json:"direction"`
	Status     string              `json:"status"`
	Method     database.ScanMethod `json:"method"`
	Date       string              `json:"date"`
	Time       time.Time           `json:"time"`
}

// NewEvent builds the event for the transition just applied to rec.
func NewEvent(p database.Person, rec *database.AttendanceRecord, direction database.Direction) Event {
	ev := Event{
		ID:         uuid.NewString(),
		TenantID:   rec.TenantID,
		PersonKind: p.Kind,
		PersonID:   p.ID,
		PersonName: p.Name,
		Contact:    p.GuardianContact,
		Direction:  direction,
		Date:       rec.Date.Format("2006-01-02"),
	}
	switch direction {
	case database.DirectionEntry:
		if rec.EntryTime != nil {
			ev.Time = *rec.EntryTime
		}
		if rec.EntryStatus != nil {
			ev.Status = string(*rec.EntryStatus)
		}
		if rec.EntryMethod != nil {
			ev.Method = *rec.EntryMethod
		}
	case database.DirectionExit:
		if rec.ExitTime != nil {
			ev.Time = *rec.ExitTime
		}
		if rec.ExitStatus != nil {
			ev.Status = string(*rec.ExitStatus)
		}
		if rec.ExitMethod != nil {
			ev.Method = *rec.ExitMethod
		}
	}
	return ev
}

// Dispatcher delivers events. Implementations must bound their own duration.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// RedisDispatcher pushes JSON events onto a Redis list consumed by the messaging worker.
type RedisDispatcher struct {
	client *redis.Client
	queue  string
}

// NewRedisDispatcher creates a dispatcher pushing to queue
func NewRedisDispatcher(client *redis.Client, queue string) *RedisDispatcher {
	if queue == "" {
		queue = constants.DefaultNotifyQueue
	}
	return &RedisDispatcher{client: client, queue: queue}
}

// Dispatch appends ev to the queue
func (d *RedisDispatcher) Dispatch(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, constants.NotifyTimeout)
	defer cancel()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := d.client.RPush(ctx, d.queue, data).Err(); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

// LogDispatcher only logs events. Used when no Redis is configured.
type LogDispatcher struct{}

// Dispatch logs the event
func (LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	log.Printf("notification %s: %s %s_%d %s (%s) at %s",
		ev.ID, ev.Direction, ev.PersonKind, ev.PersonID, ev.Status, ev.Method, ev.Time.Format(time.RFC3339))
	return nil
}
