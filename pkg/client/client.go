// Package client is a typed HTTP client for the momentum worker API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/momentum/pkg/models"
)

// UserIDHeader carries the caller identity on every request.
const UserIDHeader = "X-User-ID"

// DefaultTimeout applies when no http.Client is supplied.
const DefaultTimeout = 5 * time.Second

// APIError is a non-2xx reply from the worker.
type APIError struct {
	Message    string `json:"error"`
	Code       string `json:"code"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("momentum api %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the worker signalled a transient failure.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to one worker on behalf of one user.
type Client struct {
	http    *http.Client
	baseURL string
	userID  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the worker at baseURL acting as userID.
func New(baseURL, userID string, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: DefaultTimeout},
		baseURL: baseURL,
		userID:  userID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForPort returns a client for a worker on localhost.
func ForPort(port int, userID string, opts ...Option) *Client {
	return New(fmt.Sprintf("http://127.0.0.1:%d", port), userID, opts...)
}

// Health is the worker's health report.
type Health struct {
	Status     string  `json:"status"`
	Version    string  `json:"version"`
	DBDriver   string  `json:"db_driver"`
	Uptime     float64 `json:"uptime"`
	SSEClients int     `json:"sse_clients"`
	DB         bool    `json:"db"`
}

// Health fetches /api/health. A degraded worker returns its report with
// an APIError.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &h)
	var apiErr *APIError
	if errors.As(err, &apiErr) && h.Status != "" {
		return &h, err
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// IsRunning reports whether a healthy worker answers on port.
func IsRunning(ctx context.Context, port int) bool {
	h, err := ForPort(port, "", WithHTTPClient(&http.Client{Timeout: time.Second})).Health(ctx)
	return err == nil && h.Status == "ok"
}

// Momentum returns the user's current momentum.
func (c *Client) Momentum(ctx context.Context) (*models.MomentumState, error) {
	var st models.MomentumState
	if err := c.do(ctx, http.MethodGet, "/api/momentum", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// CompleteConversation records a finished conversation.
func (c *Client) CompleteConversation(ctx context.Context) (*models.ActivityRecord, error) {
	var rec models.ActivityRecord
	if err := c.do(ctx, http.MethodPost, "/api/conversations/complete", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DrillSubmission is a completed drill.
type DrillSubmission struct {
	SessionID   string   `json:"session_id,omitempty"`
	ArtifactID  string   `json:"artifact_id"`
	ScenarioIDs []string `json:"scenario_ids,omitempty"`
	Answers     []int    `json:"answers"`
	IsFirstPlay bool     `json:"is_first_play_for_artifact,omitempty"`
}

// DrillResult is the worker's verdict on a submission.
type DrillResult struct {
	Milestone        *int                     `json:"milestone"`
	NoMomentumReason *models.NoMomentumReason `json:"no_momentum_reason"`
	ArtifactPower    *int                     `json:"artifact_power"`
	SessionID        string                   `json:"session_id"`
	Score            int                      `json:"score"`
	MomentumAwarded  int                      `json:"momentum_awarded"`
	PlayNumber       int                      `json:"play_number"`
	PreviousMomentum float64                  `json:"previous_momentum"`
	NewMomentum      float64                  `json:"new_momentum"`
	Replayed         bool                     `json:"replayed"`
}

// SubmitDrill submits a drill. Resubmitting the same SessionID is safe.
func (c *Client) SubmitDrill(ctx context.Context, sub DrillSubmission) (*DrillResult, error) {
	var res DrillResult
	if err := c.do(ctx, http.MethodPost, "/api/drills", sub, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Eligibility previews whether a drill on artifactID would award momentum.
func (c *Client) Eligibility(ctx context.Context, artifactID string) (*models.AwardEligibility, error) {
	var elig models.AwardEligibility
	path := "/api/eligibility?artifact_id=" + url.QueryEscape(artifactID)
	if err := c.do(ctx, http.MethodGet, path, nil, &elig); err != nil {
		return nil, err
	}
	return &elig, nil
}

// UseArtifact records a confirmed use and returns the new power. A nil
// delta uses the worker's configured default.
func (c *Client) UseArtifact(ctx context.Context, artifactID string, delta *int) (int, error) {
	body := map[string]any{}
	if delta != nil {
		body["delta"] = *delta
	}
	var out struct {
		Power int `json:"power"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/artifacts/"+url.PathEscape(artifactID)+"/use", body, &out); err != nil {
		return 0, err
	}
	return out.Power, nil
}

// SetOnboardingCompleted updates the user's onboarding flag.
func (c *Client) SetOnboardingCompleted(ctx context.Context, done bool) (*models.UserProfile, error) {
	var p models.UserProfile
	if err := c.do(ctx, http.MethodPut, "/api/profile", map[string]bool{"onboarding_completed": done}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(UserIDHeader, c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		// Health reports its body alongside a 503
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
