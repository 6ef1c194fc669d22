package attendance

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/database"
	"github.com/kozaktomas/school-attendance/internal/textnorm"
)

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("invalid time of day %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

// On returns the instant of c on the calendar day of t in loc.
func (c ClockTime) On(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, mo, d := local.Date()
	return time.Date(y, mo, d, c.Hour, c.Minute, 0, 0, loc)
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Window is the resolved schedule for one person.
type Window struct {
	EntryStart ClockTime
	Tolerance  time.Duration
	ExitStart  *ClockTime
}

// EntryStatus classifies an entry. The tolerance boundary itself is on time.
func (w Window) EntryStatus(at time.Time, loc *time.Location) database.EntryStatus {
	deadline := w.EntryStart.On(at, loc).Add(w.Tolerance)
	if at.After(deadline) {
		return database.EntryLate
	}
	return database.EntryOnTime
}

// ExitStatus classifies an exit. Without an exit start every exit is regular.
func (w Window) ExitStatus(at time.Time, loc *time.Location) database.ExitStatus {
	if w.ExitStart != nil && at.Before(w.ExitStart.On(at, loc)) {
		return database.ExitEarly
	}
	return database.ExitRegular
}

// ScheduleProvider resolves the window that applies to a person.
type ScheduleProvider interface {
	WindowFor(tenantID int64, p database.Person) Window
}

var fallbackWindow = Window{EntryStart: ClockTime{Hour: 8}, Tolerance: 10 * time.Minute}

// ConfigSchedule resolves windows from config.ScheduleConfig. From least to most
// specific: global default, global level, global shift, tenant default, tenant
// level, tenant shift.
type ConfigSchedule struct {
	cfg config.ScheduleConfig
}

// NewConfigSchedule creates a provider. Level and shift keys are matched after
// textnorm normalization.
func NewConfigSchedule(cfg config.ScheduleConfig) *ConfigSchedule {
	normalized := config.ScheduleConfig{
		Default: cfg.Default,
		Levels:  normalizeKeys(cfg.Levels),
		Shifts:  normalizeKeys(cfg.Shifts),
		Tenants: make(map[int64]config.TenantSchedule, len(cfg.Tenants)),
	}
	for id, ts := range cfg.Tenants {
		normalized.Tenants[id] = config.TenantSchedule{
			Default: ts.Default,
			Levels:  normalizeKeys(ts.Levels),
			Shifts:  normalizeKeys(ts.Shifts),
		}
	}
	return &ConfigSchedule{cfg: normalized}
}

func normalizeKeys(m map[string]config.WindowConfig) map[string]config.WindowConfig {
	out := make(map[string]config.WindowConfig, len(m))
	for k, v := range m {
		out[textnorm.Key(k)] = v
	}
	return out
}

// WindowFor returns the merged window for p
func (s *ConfigSchedule) WindowFor(tenantID int64, p database.Person) Window {
	level := textnorm.Key(p.Level)
	shift := textnorm.Key(p.Shift)

	layers := []config.WindowConfig{s.cfg.Default}
	if level != "" {
		layers = append(layers, s.cfg.Levels[level])
	}
	if shift != "" {
		layers = append(layers, s.cfg.Shifts[shift])
	}
	if ts, ok := s.cfg.Tenants[tenantID]; ok {
		layers = append(layers, ts.Default)
		if level != "" {
			layers = append(layers, ts.Levels[level])
		}
		if shift != "" {
			layers = append(layers, ts.Shifts[shift])
		}
	}

	var merged config.WindowConfig
	for _, layer := range layers {
		merged = layer.Merge(merged)
	}
	return toWindow(tenantID, merged)
}

func toWindow(tenantID int64, wc config.WindowConfig) Window {
	w := fallbackWindow
	if wc.EntryStart != "" {
		start, err := ParseClock(wc.EntryStart)
		if err != nil {
			log.Printf("warning: tenant %d: %v, using %s", tenantID, err, fallbackWindow.EntryStart)
		} else {
			w.EntryStart = start
		}
	}
	if wc.ToleranceMinutes != nil && *wc.ToleranceMinutes >= 0 {
		w.Tolerance = time.Duration(*wc.ToleranceMinutes) * time.Minute
	}
	if wc.ExitStart != "" {
		exit, err := ParseClock(wc.ExitStart)
		if err != nil {
			log.Printf("warning: tenant %d: %v, ignoring exit start", tenantID, err)
		} else {
			w.ExitStart = &exit
		}
	}
	return w
}
