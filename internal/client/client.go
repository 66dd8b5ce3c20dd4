// Package client is a typed HTTP client for the outreachd operator API.
//
// It is shared by the outreachctl CLI and the terminal dashboard.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/experiment"
	api "github.com/fyrsmithlabs/outreachd/internal/http"
	"github.com/fyrsmithlabs/outreachd/internal/leads"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
)

// DefaultServerURL is where outreachd listens with the default config.
const DefaultServerURL = "http://127.0.0.1:9191"

// DefaultTimeout bounds every request.
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	// Check is the compliance check that blocked the request, if any.
	Check string
}

func (e *APIError) Error() string {
	if e.Check != "" {
		return fmt.Sprintf("server returned %d: %s (check: %s)", e.StatusCode, e.Message, e.Check)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to one outreachd server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New creates a client for baseURL. An empty baseURL uses DefaultServerURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Health returns the health report. A degraded server answers 503 with a
// report, which is returned without error.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out, http.StatusServiceUnavailable)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns campaign counts and engine totals.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCampaigns lists campaigns, optionally filtered by status.
func (c *Client) ListCampaigns(ctx context.Context, status campaign.Status) ([]*campaign.Campaign, error) {
	path := "/api/v1/campaigns"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out []*campaign.Campaign
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCampaign fetches one campaign.
func (c *Client) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	var out campaign.Campaign
	if err := c.do(ctx, http.MethodGet, "/api/v1/campaigns/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCampaign creates a campaign from cfg.
func (c *Client) CreateCampaign(ctx context.Context, cfg campaign.Config) (*campaign.Campaign, error) {
	var out campaign.Campaign
	if err := c.do(ctx, http.MethodPost, "/api/v1/campaigns", cfg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PauseCampaign pauses a campaign.
func (c *Client) PauseCampaign(ctx context.Context, id, reason string) (*campaign.Campaign, error) {
	var out campaign.Campaign
	err := c.do(ctx, http.MethodPost, "/api/v1/campaigns/"+url.PathEscape(id)+"/pause", api.PauseRequest{Reason: reason}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResumeCampaign resumes a paused campaign. reviewer is required.
func (c *Client) ResumeCampaign(ctx context.Context, id, reviewer string) (*campaign.Campaign, error) {
	var out campaign.Campaign
	err := c.do(ctx, http.MethodPost, "/api/v1/campaigns/"+url.PathEscape(id)+"/resume", api.ResumeRequest{Reviewer: reviewer}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CampaignMetrics returns counters, rates and guardrail violations.
func (c *Client) CampaignMetrics(ctx context.Context, id string) (*api.MetricsResponse, error) {
	var out api.MetricsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/campaigns/"+url.PathEscape(id)+"/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EvaluateGuardrails forces a guardrail evaluation.
func (c *Client) EvaluateGuardrails(ctx context.Context, id string) (*api.GuardrailResponse, error) {
	var out api.GuardrailResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/campaigns/"+url.PathEscape(id)+"/guardrails", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitLeads qualifies cards and starts sequences for the survivors.
func (c *Client) SubmitLeads(ctx context.Context, id string, cards []leads.LeadCard) (*api.LeadsResponse, error) {
	var out api.LeadsResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/campaigns/"+url.PathEscape(id)+"/leads", api.LeadsRequest{Leads: cards}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Sequences lists a campaign's sequences.
func (c *Client) Sequences(ctx context.Context, campaignID string) ([]*sequencer.Sequence, error) {
	var out []*sequencer.Sequence
	if err := c.do(ctx, http.MethodGet, "/api/v1/campaigns/"+url.PathEscape(campaignID)+"/sequences", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Reply records a lead reply on a sequence.
func (c *Client) Reply(ctx context.Context, sequenceID string, r sequencer.Reply) (*sequencer.ReplyResult, error) {
	var out sequencer.ReplyResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/sequences/"+url.PathEscape(sequenceID)+"/replies", r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Policies lists loaded jurisdiction policies.
func (c *Client) Policies(ctx context.Context) ([]*policy.Policy, error) {
	var out []*policy.Policy
	if err := c.do(ctx, http.MethodGet, "/api/v1/policies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Policy resolves a country or jurisdiction key.
func (c *Client) Policy(ctx context.Context, key string) (*api.PolicyResponse, error) {
	var out api.PolicyResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/policies/"+url.PathEscape(key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryLog reads compliance log events matching f.
func (c *Client) QueryLog(ctx context.Context, f compliancelog.Filter) ([]compliancelog.Event, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("campaign_id", f.CampaignID)
	set("lead_id", f.LeadID)
	set("action", f.Action)
	set("result", string(f.Result))
	if !f.Since.IsZero() {
		q.Set("since", f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		q.Set("until", f.Until.UTC().Format(time.RFC3339))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}

	path := "/api/v1/compliance-log"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out api.LogResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// CreateExperiment creates an experiment.
func (c *Client) CreateExperiment(ctx context.Context, spec experiment.Spec) (*experiment.Experiment, error) {
	var out experiment.Experiment
	if err := c.do(ctx, http.MethodPost, "/api/v1/experiments", spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Experiments lists a campaign's experiments.
func (c *Client) Experiments(ctx context.Context, campaignID string) ([]*experiment.Experiment, error) {
	var out []*experiment.Experiment
	if err := c.do(ctx, http.MethodGet, "/api/v1/campaigns/"+url.PathEscape(campaignID)+"/experiments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Recommendations returns suggested experiments for a campaign.
func (c *Client) Recommendations(ctx context.Context, campaignID string) ([]experiment.Plan, error) {
	var out []experiment.Plan
	if err := c.do(ctx, http.MethodGet, "/api/v1/campaigns/"+url.PathEscape(campaignID)+"/recommendations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EvaluateExperiment runs the significance test for an experiment.
func (c *Client) EvaluateExperiment(ctx context.Context, id string) (*experiment.Result, error) {
	var out experiment.Result
	if err := c.do(ctx, http.MethodGet, "/api/v1/experiments/"+url.PathEscape(id)+"/evaluate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordOutcome reports measured metrics for an experiment variant and
// returns the scored reward.
func (c *Client) RecordOutcome(ctx context.Context, experimentID string, req api.OutcomeRequest) (*api.OutcomeResponse, error) {
	var out api.OutcomeResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/experiments/"+url.PathEscape(experimentID)+"/outcomes", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QTable returns every learned state-action value.
func (c *Client) QTable(ctx context.Context) ([]optimizer.Cell, error) {
	var out []optimizer.Cell
	if err := c.do(ctx, http.MethodGet, "/api/v1/qtable", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do sends a JSON request and decodes the response into out. Statuses in
// accept are decoded like 2xx responses.
func (c *Client) do(ctx context.Context, method, path string, in, out any, accept ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, code := range accept {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}
	var body api.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Check = body.Check
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
