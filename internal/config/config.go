package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/school-attendance/internal/constants"
)

//go:embed schedules.yaml
var schedulesYAML []byte

type Config struct {
	Biometric  BiometricConfig
	Database   DatabaseConfig
	Directory  DirectoryConfig
	Notify     NotifyConfig
	Auth       AuthConfig
	Attendance AttendanceConfig
	Schedules  ScheduleConfig
}

type BiometricConfig struct {
	Enabled           bool
	ServiceURL        string
	ServiceTimeout    time.Duration // enroll and search calls
	HealthTimeout     time.Duration // health and count calls
	Thresholds        MatchThresholds
	DistanceThreshold float64 // sent to the service as the search threshold
	SearchLimit       int
	AutoEnroll        bool // enroll automatically when a person's photo changes
	RetryFailedHours  int
	MaxRetries        int // informational; the retry sweep gates on age only
	RetryInterval     time.Duration
	EnrollConcurrency int
}

// MatchThresholds are confidence bands for face matches. Matches below Low are rejected.
type MatchThresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// Band returns "high", "medium" or "low" for a confidence that already cleared Low.
func (t MatchThresholds) Band(confidence float64) string {
	switch {
	case confidence >= t.High:
		return "high"
	case confidence >= t.Medium:
		return "medium"
	default:
		return "low"
	}
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type DirectoryConfig struct {
	DatabaseURL string // MySQL/MariaDB DSN of the school database (e.g., app:secret@tcp(mariadb:3306)/school?parseTime=true)
}

type NotifyConfig struct {
	RedisAddr     string
	RedisPassword string
	Queue         string
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

type AttendanceConfig struct {
	Timezone     string
	ScheduleFile string
}

// Location returns the school timezone, falling back to UTC if it cannot be loaded.
func (c AttendanceConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ScheduleConfig holds entry windows. Shift overrides beat level overrides, and
// tenant-specific settings beat the global ones.
type ScheduleConfig struct {
	Default WindowConfig             `yaml:"default"`
	Levels  map[string]WindowConfig  `yaml:"levels"`
	Shifts  map[string]WindowConfig  `yaml:"shifts"`
	Tenants map[int64]TenantSchedule `yaml:"tenants"`
}

type TenantSchedule struct {
	Default WindowConfig            `yaml:"default"`
	Levels  map[string]WindowConfig `yaml:"levels"`
	Shifts  map[string]WindowConfig `yaml:"shifts"`
}

// WindowConfig is a partially specified window. Empty fields inherit from the
// next less specific level.
type WindowConfig struct {
	EntryStart       string `yaml:"entry_start"` // "HH:MM" school-local time
	ToleranceMinutes *int   `yaml:"tolerance_minutes"`
	ExitStart        string `yaml:"exit_start"` // optional; exits before it are early
}

// Merge returns w with empty fields filled from base.
func (w WindowConfig) Merge(base WindowConfig) WindowConfig {
	out := base
	if w.EntryStart != "" {
		out.EntryStart = w.EntryStart
	}
	if w.ToleranceMinutes != nil {
		out.ToleranceMinutes = w.ToleranceMinutes
	}
	if w.ExitStart != "" {
		out.ExitStart = w.ExitStart
	}
	return out
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a non-negative float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envBool accepts the usual strconv.ParseBool spellings.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envDuration accepts a Go duration ("30s") or a plain number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(s); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

// ParseSchedules decodes a schedules YAML document.
func ParseSchedules(data []byte) (ScheduleConfig, error) {
	var sc ScheduleConfig
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return ScheduleConfig{}, fmt.Errorf("parse schedules: %w", err)
	}
	return sc, nil
}

// loadSchedules reads the schedule file if one is configured, otherwise the embedded default.
func loadSchedules(path string) ScheduleConfig {
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
		if err == nil {
			if sc, err := ParseSchedules(data); err == nil {
				return sc
			}
		}
		fmt.Fprintf(os.Stderr, "warning: could not load SCHEDULE_FILE %s, using embedded defaults\n", path)
	}
	sc, err := ParseSchedules(schedulesYAML)
	if err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded schedules.yaml: " + err.Error())
	}
	return sc
}

func Load() *Config {
	attendance := AttendanceConfig{
		Timezone:     envString("ATTENDANCE_TIMEZONE", "UTC"),
		ScheduleFile: os.Getenv("SCHEDULE_FILE"),
	}

	return &Config{
		Biometric: BiometricConfig{
			Enabled:        envBool("BIOMETRIC_ENABLED", false),
			ServiceURL:     os.Getenv("BIOMETRIC_SERVICE_URL"),
			ServiceTimeout: envDuration("BIOMETRIC_SERVICE_TIMEOUT", constants.DefaultServiceTimeout),
			HealthTimeout:  envDuration("BIOMETRIC_HEALTH_TIMEOUT", constants.DefaultHealthTimeout),
			Thresholds: MatchThresholds{
				High:   envFloat("BIOMETRIC_THRESHOLD_HIGH", constants.DefaultThresholdHigh),
				Medium: envFloat("BIOMETRIC_THRESHOLD_MEDIUM", constants.DefaultThresholdMedium),
				Low:    envFloat("BIOMETRIC_THRESHOLD_LOW", constants.DefaultThresholdLow),
			},
			DistanceThreshold: envFloat("BIOMETRIC_DISTANCE_THRESHOLD", constants.DefaultDistanceThreshold),
			SearchLimit:       envInt("BIOMETRIC_SEARCH_LIMIT", constants.DefaultSearchLimit),
			AutoEnroll:        envBool("BIOMETRIC_AUTO_ENROLL", false),
			RetryFailedHours:  envInt("BIOMETRIC_RETRY_FAILED_HOURS", constants.DefaultRetryFailedHours),
			MaxRetries:        envInt("BIOMETRIC_MAX_RETRIES", constants.DefaultMaxRetries),
			RetryInterval:     envDuration("BIOMETRIC_RETRY_INTERVAL", constants.DefaultRetryInterval),
			EnrollConcurrency: envInt("BIOMETRIC_ENROLL_CONCURRENCY", constants.EnrollWorkerPoolSize),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Directory: DirectoryConfig{
			DatabaseURL: os.Getenv("DIRECTORY_DATABASE_URL"),
		},
		Notify: NotifyConfig{
			RedisAddr:     os.Getenv("REDIS_ADDR"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			Queue:         envString("NOTIFY_QUEUE", constants.DefaultNotifyQueue),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("SCANNER_JWT_SECRET"),
			JWTIssuer: envString("SCANNER_JWT_ISSUER", "school-attendance"),
		},
		Attendance: attendance,
		Schedules:  loadSchedules(attendance.ScheduleFile),
	}
}
