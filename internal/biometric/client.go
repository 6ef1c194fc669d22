// Package biometric is a client for the external face recognition service.
package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/constants"
)

const maxResponseSize = 1 << 20

// Client talks to the face recognition service. Every call is bounded by a
// timeout so a stuck service surfaces as KindServiceUnavailable.
type Client struct {
	baseURL        string
	client         *http.Client
	serviceTimeout time.Duration
	healthTimeout  time.Duration
}

// NewClient creates a client from the biometric configuration
func NewClient(cfg config.BiometricConfig) *Client {
	serviceTimeout := cfg.ServiceTimeout
	if serviceTimeout <= 0 {
		serviceTimeout = constants.DefaultServiceTimeout
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = constants.DefaultHealthTimeout
	}
	return &Client{
		baseURL:        strings.TrimSuffix(cfg.ServiceURL, "/"),
		client:         &http.Client{},
		serviceTimeout: serviceTimeout,
		healthTimeout:  healthTimeout,
	}
}

// ImageSource is either a URL the service downloads or an inline base64 image.
type ImageSource struct {
	URL    string
	Base64 string
}

// Match is a search candidate.
type Match struct {
	ExternalID string  `json:"external_id"`
	Confidence float64 `json:"confidence"`
}

// envelope holds the fields every service response may carry.
type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type enrollRequest struct {
	TenantID    int64  `json:"tenant_id"`
	ExternalID  string `json:"external_id"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

type enrollResponse struct {
	Confidence float64 `json:"confidence"`
}

type searchRequest struct {
	TenantID    int64   `json:"tenant_id"`
	ImageBase64 string  `json:"image_base64"`
	Threshold   float64 `json:"threshold"`
	Limit       int     `json:"limit"`
}

type searchResponse struct {
	Matches []Match `json:"matches"`
}

type deleteRequest struct {
	TenantID int64 `json:"tenant_id"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type countResponse struct {
	Count int `json:"count"`
}

// Enroll registers the face found in img under externalID and returns the
// detection confidence reported by the service.
func (c *Client) Enroll(ctx context.Context, tenantID int64, externalID string, img ImageSource) (float64, error) {
	if img.URL == "" && img.Base64 == "" {
		return 0, ImageLoadError("no image provided", nil)
	}
	var resp enrollResponse
	err := c.do(ctx, http.MethodPost, "/enroll", c.serviceTimeout, enrollRequest{
		TenantID:    tenantID,
		ExternalID:  externalID,
		ImageURL:    img.URL,
		ImageBase64: img.Base64,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Confidence, nil
}

// Search returns the candidates for the face in imageBase64, best match first.
func (c *Client) Search(ctx context.Context, tenantID int64, imageBase64 string, threshold float64, limit int) ([]Match, error) {
	var resp searchResponse
	err := c.do(ctx, http.MethodPost, "/search", c.serviceTimeout, searchRequest{
		TenantID:    tenantID,
		ImageBase64: imageBase64,
		Threshold:   threshold,
		Limit:       limit,
	}, &resp)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(resp.Matches, func(i, j int) bool {
		return resp.Matches[i].Confidence > resp.Matches[j].Confidence
	})
	return resp.Matches, nil
}

// Delete removes a person from the service. Failures are logged and reported as false.
func (c *Client) Delete(ctx context.Context, tenantID int64, externalID string) bool {
	var resp envelope
	endpoint := "/faces/" + url.PathEscape(externalID)
	if err := c.do(ctx, http.MethodDelete, endpoint, c.serviceTimeout, deleteRequest{TenantID: tenantID}, &resp); err != nil {
		log.Printf("warning: biometric delete of %s failed: %v", externalID, err)
		return false
	}
	return resp.Success == nil || *resp.Success
}

// Health reports whether the service answers its health check. Never returns an error.
func (c *Client) Health(ctx context.Context) bool {
	var resp healthResponse
	if err := c.do(ctx, http.MethodGet, "/health", c.healthTimeout, nil, &resp); err != nil {
		return false
	}
	switch strings.ToLower(resp.Status) {
	case "ok", "healthy", "up":
		return true
	}
	return false
}

// EnrolledCount returns how many faces the service holds for a tenant, or 0 on any failure.
func (c *Client) EnrolledCount(ctx context.Context, tenantID int64) int {
	var resp countResponse
	endpoint := "/faces/count?tenant_id=" + strconv.FormatInt(tenantID, 10)
	if err := c.do(ctx, http.MethodGet, endpoint, c.healthTimeout, nil, &resp); err != nil {
		return 0
	}
	return resp.Count
}

// do performs a JSON request and classifies every failure into a *Error.
func (c *Client) do(ctx context.Context, method, endpoint string, timeout time.Duration, requestBody, out any) error {
	if c.baseURL == "" {
		return ServiceUnavailable("biometric service URL is not configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if requestBody != nil {
		jsonBody, err := json.Marshal(requestBody)
		if err != nil {
			return newError(KindUnknown, "ENCODE_ERROR", "could not marshal request body", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return ServiceUnavailable("could not create request", err)
	}
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req) //nolint:gosec // base URL comes from operator configuration
	if err != nil {
		return ServiceUnavailable(fmt.Sprintf("could not reach biometric service: %v", err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return ServiceUnavailable("could not read response body", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && env.Error != "" {
			return classify(env.Error, env.Message)
		}
		return ServiceUnavailable(fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, truncate(body)), nil)
	}
	if decodeErr != nil {
		return ServiceUnavailable("could not unmarshal response", decodeErr)
	}
	if env.Success != nil && !*env.Success {
		return classify(env.Error, env.Message)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return ServiceUnavailable("could not unmarshal response", err)
		}
	}
	return nil
}

// truncate limits an error body to a loggable size.
func truncate(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
