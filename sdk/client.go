// Package sdk provides a Go client for the AccessLens HTTP API.
//
// Basic usage:
//
//	c := sdk.NewClient("http://localhost:8080", "tenant-a", "3f0c...-analyst-uuid")
//	list, err := c.ListFindings(ctx, sdk.ListOptions{Severity: "critical"})
//
// Recording a review action:
//
//	res, err := c.ApplyAction(ctx, findingID, sdk.Action{
//		"status":      "RESOLVED",
//		"disposition": "revoked_entitlement",
//		"note":        "removed approve_payment",
//	})
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Finding is one risk finding as returned by the list endpoint.
type Finding struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	IdentityID    string         `json:"identity_id"`
	ApplicationID *string        `json:"application_id"`
	FindingType   string         `json:"finding_type"`
	TypeLabel     string         `json:"type_label"`
	Severity      string         `json:"severity"`
	Score         int            `json:"score"`
	Status        string         `json:"status"`
	StatusLabel   string         `json:"status_label"`
	AssignedTo    *string        `json:"assigned_to"`
	Priority      *string        `json:"priority"`
	DueAt         *string        `json:"due_at"`
	Disposition   *string        `json:"disposition"`
	Confidence    *float64       `json:"confidence"`
	Explanation   *string        `json:"explanation"`
	Evidence      map[string]any `json:"evidence"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ReviewAction is one entry of a finding's audit trail.
type ReviewAction struct {
	ID          string         `json:"id"`
	ActorUserID string         `json:"actor_user_id"`
	Action      string         `json:"action"`
	Note        *string        `json:"note"`
	PrevStatus  *string        `json:"previous_status"`
	NewStatus   *string        `json:"new_status"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}

// FindingDetail is returned by GET /v1/findings/{id}.
type FindingDetail struct {
	Finding
	IdentityName    string         `json:"identity_name"`
	ApplicationName *string        `json:"application_name"`
	Guidance        string         `json:"guidance"`
	Recommendation  string         `json:"recommendation"`
	Rationale       []string       `json:"rationale"`
	NextStatuses    []string       `json:"next_statuses"`
	ReviewActions   []ReviewAction `json:"review_actions"`
}

// ListOptions filters ListFindings. Empty fields are not sent.
type ListOptions struct {
	Status   string
	Severity string
	Type     string
	Identity string
	Assignee string
	Limit    int
}

// Action is a review action payload. Omit a key to leave the field
// alone; set it to nil to clear it.
type Action map[string]any

// Change is one before/after pair in an ActionResult.
type Change struct {
	Previous any `json:"previous"`
	Next     any `json:"next"`
}

// ActionResult is returned by POST /v1/findings/{id}/actions.
type ActionResult struct {
	Finding        Finding           `json:"finding"`
	Changes        map[string]Change `json:"changes"`
	PreviousStatus string            `json:"previous_status"`
	NewStatus      string            `json:"new_status"`
}

// RecomputeResult is returned by POST /v1/risk/recompute.
type RecomputeResult struct {
	TenantID   string         `json:"tenant_id"`
	Inserted   int            `json:"inserted"`
	ByType     map[string]int `json:"by_type"`
	BySeverity map[string]int `json:"by_severity"`
	DurationNS int64          `json:"duration_ns"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Code       string `json:"code"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("accesslens: %s: %s (HTTP %d)", e.Code, e.Message, e.StatusCode)
}

// Client calls the AccessLens API as one tenant member.
type Client struct {
	baseURL    string
	tenantID   string
	actorID    string
	httpClient *http.Client
}

// NewClient creates a client acting as actorID within tenantID.
func NewClient(baseURL, tenantID, actorID string) *Client {
	return &Client{
		baseURL:    baseURL,
		tenantID:   tenantID,
		actorID:    actorID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListFindings returns the tenant's findings, highest score first.
func (c *Client) ListFindings(ctx context.Context, opts ListOptions) ([]Finding, error) {
	q := url.Values{}
	for k, v := range map[string]string{
		"status": opts.Status, "severity": opts.Severity, "type": opts.Type,
		"identity": opts.Identity, "assignee": opts.Assignee,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/v1/findings"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Findings []Finding `json:"findings"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Findings, nil
}

// GetFinding returns one finding with its explanation and review trail.
func (c *Client) GetFinding(ctx context.Context, id string) (*FindingDetail, error) {
	var d FindingDetail
	if err := c.do(ctx, http.MethodGet, "/v1/findings/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ApplyAction records a review action on a finding.
func (c *Client) ApplyAction(ctx context.Context, id string, action Action) (*ActionResult, error) {
	body, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("marshaling action: %w", err)
	}
	var res ActionResult
	if err := c.do(ctx, http.MethodPost, "/v1/findings/"+url.PathEscape(id)+"/actions", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Recompute re-runs the risk rules for the tenant. Admins only.
func (c *Client) Recompute(ctx context.Context) (*RecomputeResult, error) {
	var res RecomputeResult
	if err := c.do(ctx, http.MethodPost, "/v1/risk/recompute", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health checks the server health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Tenant-ID", c.tenantID)
	req.Header.Set("X-Actor-ID", c.actorID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code, apiErr.Message = "HTTP_ERROR", http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
	}
	return nil
}
