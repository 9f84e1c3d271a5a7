// Package ndjobisdk is a minimal HTTP client for the Ndjobi triage API.
package ndjobisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one Ndjobi deployment.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Report is the API report model.
type Report struct {
	ID           string  `json:"id"`
	Reference    string  `json:"reference"`
	Title        string  `json:"title"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	Priority     string  `json:"priority"`
	Location     string  `json:"location,omitempty"`
	Description  string  `json:"description"`
	AssignedRole string  `json:"assigned_role"`
	Version      int64   `json:"version"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
	ResolvedAt   *string `json:"resolved_at,omitempty"`
}

// Decision is a ledger entry.
type Decision struct {
	ID        string `json:"id"`
	ReportID  string `json:"report_id"`
	Kind      string `json:"kind"`
	DecidedBy string `json:"decided_by"`
	DecidedAt string `json:"decided_at"`
	Rationale string `json:"rationale,omitempty"`
}

// StatsSnapshot mirrors the per-role dashboard counters.
type StatsSnapshot struct {
	Role        string         `json:"role"`
	Total       int            `json:"total"`
	Pending     int            `json:"pending"`
	InProgress  int            `json:"in_progress"`
	Resolved    int            `json:"resolved"`
	SuccessRate float64        `json:"success_rate"`
	ThisMonth   int            `json:"this_month"`
	LastMonth   int            `json:"last_month"`
	ByType      map[string]int `json:"by_type"`
}

// Event is a ledger entry.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts"`
	Type     string `json:"type"`
	ReportID string `json:"report_id,omitempty"`
	Role     string `json:"role,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload_json"`
}

// ReferenceStatus is the public tracker view.
type ReferenceStatus struct {
	Reference  string  `json:"reference"`
	Status     string  `json:"status"`
	Type       string  `json:"type"`
	Priority   string  `json:"priority"`
	CreatedAt  string  `json:"created_at"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateReportInput are intake parameters.
type CreateReportInput struct {
	Title       string `json:"title"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// CreateReport submits a report; the service routes and persists it at pending.
func (c *Client) CreateReport(ctx context.Context, input CreateReportInput) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "v1/reports", input, &resp)
	return resp, err
}

// GetReport fetches a report by id.
func (c *Client) GetReport(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, "v1/reports/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Track follows a report by its public reference. Works unauthenticated.
func (c *Client) Track(ctx context.Context, reference string) (ReferenceStatus, error) {
	var resp ReferenceStatus
	err := c.do(ctx, http.MethodGet, "v1/reports/reference/"+url.PathEscape(reference), nil, &resp)
	return resp, err
}

// Transition moves a report to target. ifVersion, when non-nil, asserts the
// caller's last-seen version.
func (c *Client) Transition(ctx context.Context, id, target string, ifVersion *int64) (Report, error) {
	body := map[string]any{"status": target}
	if ifVersion != nil {
		body["if_version"] = *ifVersion
	}
	var resp Report
	err := c.do(ctx, http.MethodPatch, "v1/reports/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

// RecordDecision appends a decision. dedupToken makes retries idempotent.
func (c *Client) RecordDecision(ctx context.Context, reportID, kind, rationale, dedupToken string) (Decision, error) {
	body := map[string]any{
		"kind":        kind,
		"rationale":   rationale,
		"dedup_token": dedupToken,
	}
	var resp Decision
	err := c.do(ctx, http.MethodPost, "v1/reports/"+url.PathEscape(reportID)+"/decisions", body, &resp)
	return resp, err
}

// ListDecisions returns the decision trail, oldest first.
func (c *Client) ListDecisions(ctx context.Context, reportID string) ([]Decision, error) {
	var resp struct {
		Items []Decision `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v1/reports/"+url.PathEscape(reportID)+"/decisions", nil, &resp)
	return resp.Items, err
}

// Stats returns the per-role snapshot.
func (c *Client) Stats(ctx context.Context, role string) (StatsSnapshot, error) {
	var resp StatsSnapshot
	err := c.do(ctx, http.MethodGet, "v1/roles/"+url.PathEscape(role)+"/stats", nil, &resp)
	return resp, err
}

// Events returns recent ledger entries, newest first.
func (c *Client) Events(ctx context.Context, n int) ([]Event, error) {
	endpoint := "v1/events"
	if n > 0 {
		endpoint = fmt.Sprintf("%s?n=%d", endpoint, n)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
