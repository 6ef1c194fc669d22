// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Request limits
const (
	// MaxScanBodySize caps a scan request body; face probes are base64 images (10MB)
	MaxScanBodySize = 10 << 20

	// MaxJSONBodySize caps every other JSON request body (1MB)
	MaxJSONBodySize = 1 << 20

	// RequestTimeout bounds a whole HTTP request, including a face search
	RequestTimeout = 2 * DefaultServiceTimeout

	// DefaultTokenTTL is the lifetime of scanner tokens issued by the CLI
	DefaultTokenTTL = 365 * 24 * time.Hour
)

// Background job constants
const (
	// AsyncEnrollTimeout bounds an enrollment started in the background by a photo update
	AsyncEnrollTimeout = 2 * DefaultServiceTimeout

	// SweepTimeout bounds a whole retry sweep across tenants
	SweepTimeout = 30 * time.Minute
)
