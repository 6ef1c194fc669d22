// Package scan turns a raw scanner payload into a person of the directory.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/kozaktomas/school-attendance/internal/biometric"
	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/constants"
	"github.com/kozaktomas/school-attendance/internal/database"
	"github.com/kozaktomas/school-attendance/internal/imageprep"
)

// Business outcomes of a scan. None of them is an infrastructure failure.
var (
	ErrNotFound     = errors.New("person not found")
	ErrNoMatch      = errors.New("no matching face")
	ErrOutOfScope   = errors.New("person is outside this scanner's scope")
	ErrFaceDisabled = errors.New("face recognition is disabled")
	ErrEmptyPayload = errors.New("scan payload is empty")
)

// Mode selects how a scan payload is interpreted.
type Mode string

// Mode values.
const (
	ModeQR   Mode = "QR"
	ModeFace Mode = "FACE"
)

// Filters scope a scanner to part of the school. Zero values disable a filter.
type Filters struct {
	ClassroomID *int64
	Level       string
}

// Request is one scan as received from a scanner.
type Request struct {
	Mode        Mode
	QRCode      string
	ImageBase64 string
	Filters     Filters
}

// Result is the resolved person plus how they were identified.
type Result struct {
	Person     database.Person
	Method     database.ScanMethod
	Confidence *float64 // face scans only
	Band       string   // "high", "medium" or "low"; face scans only
}

// FaceSearcher is the part of the biometric client the resolver needs.
type FaceSearcher interface {
	Search(ctx context.Context, tenantID int64, imageBase64 string, threshold float64, limit int) ([]biometric.Match, error)
}

// Resolver resolves scans against the directory and, for face scans, the biometric service.
type Resolver struct {
	directory         database.PersonDirectory
	faces             FaceSearcher
	thresholds        config.MatchThresholds
	distanceThreshold float64
	searchLimit       int
	maxImageSize      int
}

// NewResolver creates a resolver. faces may be nil when face recognition is disabled.
func NewResolver(directory database.PersonDirectory, faces FaceSearcher, cfg config.BiometricConfig) *Resolver {
	limit := cfg.SearchLimit
	if limit <= 0 {
		limit = constants.DefaultSearchLimit
	}
	return &Resolver{
		directory:         directory,
		faces:             faces,
		thresholds:        cfg.Thresholds,
		distanceThreshold: cfg.DistanceThreshold,
		searchLimit:       limit,
		maxImageSize:      constants.MaxImageSize,
	}
}

// Resolve identifies the person behind a scan within the tenant. Biometric
// failures are returned as *biometric.Error unchanged.
func (r *Resolver) Resolve(ctx context.Context, tenantID int64, req Request) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch req.Mode {
	case ModeQR:
		res, err = r.resolveQR(ctx, tenantID, req.QRCode)
	case ModeFace:
		res, err = r.resolveFace(ctx, tenantID, req.ImageBase64)
	default:
		return nil, fmt.Errorf("unknown scan mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	if !req.Filters.Allows(res.Person) {
		return nil, ErrOutOfScope
	}
	return res, nil
}

func (r *Resolver) resolveQR(ctx context.Context, tenantID int64, code string) (*Result, error) {
	if code == "" {
		return nil, ErrEmptyPayload
	}
	p, err := r.directory.FindByQRCode(ctx, tenantID, code)
	if err != nil {
		return nil, fmt.Errorf("lookup qr code: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return &Result{Person: *p, Method: database.MethodQR}, nil
}

func (r *Resolver) resolveFace(ctx context.Context, tenantID int64, imageBase64 string) (*Result, error) {
	if r.faces == nil {
		return nil, ErrFaceDisabled
	}
	if imageBase64 == "" {
		return nil, ErrEmptyPayload
	}

	probe, err := imageprep.PrepareBase64(imageBase64, r.maxImageSize)
	if err != nil {
		return nil, biometric.ImageLoadError("the captured image could not be decoded", err)
	}

	matches, err := r.faces.Search(ctx, tenantID, probe, r.distanceThreshold, r.searchLimit)
	if err != nil {
		return nil, err
	}

	for _, m := range matches {
		if m.Confidence < r.thresholds.Low {
			// Matches are ordered best first.
			break
		}
		kind, id, err := database.ParseExternalID(m.ExternalID)
		if err != nil {
			log.Printf("warning: ignoring biometric match with malformed external id %q", m.ExternalID)
			continue
		}
		p, err := r.directory.FindByID(ctx, tenantID, kind, id)
		if err != nil {
			return nil, fmt.Errorf("lookup matched person: %w", err)
		}
		if p == nil {
			return nil, ErrNotFound
		}
		confidence := m.Confidence
		return &Result{
			Person:     *p,
			Method:     database.MethodFace,
			Confidence: &confidence,
			Band:       r.thresholds.Band(confidence),
		}, nil
	}
	return nil, ErrNoMatch
}
