// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Biometric service constants
const (
	// DefaultServiceTimeout bounds enroll and search calls to the biometric service
	DefaultServiceTimeout = 30 * time.Second

	// DefaultHealthTimeout bounds health and enrolled-count calls
	DefaultHealthTimeout = 5 * time.Second

	// DefaultDistanceThreshold is the maximum distance the service may return for a candidate.
	// Lower values = stricter matching
	DefaultDistanceThreshold = 0.6

	// DefaultSearchLimit is the maximum number of candidates requested per search
	DefaultSearchLimit = 5
)

// Face matching constants
const (
	// DefaultThresholdHigh is the minimum confidence of a "high" match
	DefaultThresholdHigh = 0.85

	// DefaultThresholdMedium is the minimum confidence of a "medium" match
	DefaultThresholdMedium = 0.70

	// DefaultThresholdLow is the minimum confidence accepted at all
	DefaultThresholdLow = 0.55
)

// Enrollment constants
const (
	// DefaultRetryFailedHours is how old a FAILED or NO_FACE row must be before it is retried
	DefaultRetryFailedHours = 24

	// DefaultMaxRetries is reported in status output; retries are gated on age only
	DefaultMaxRetries = 3

	// DefaultRetryInterval is how often the background sweep runs
	DefaultRetryInterval = time.Hour

	// EnrollWorkerPoolSize is the default number of parallel enrollment calls
	EnrollWorkerPoolSize = 4

	// NoPhotoMessage is stored on embeddings of people without a photo URL
	NoPhotoMessage = "No photo URL available"
)

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) of a probe image sent for search
	MaxImageSize = 1920

	// JPEGQuality is the encoding quality used after downscaling
	JPEGQuality = 90
)

// Notification constants
const (
	// DefaultNotifyQueue is the Redis list guardian notifications are pushed to
	DefaultNotifyQueue = "attendance:notifications"

	// NotifyTimeout bounds a single notification push
	NotifyTimeout = 5 * time.Second
)
