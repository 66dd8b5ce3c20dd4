package http

import (
	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/experiment"
	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	"github.com/fyrsmithlabs/outreachd/internal/leads"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status    string       `json:"status"`
	Campaigns StatusCounts `json:"campaigns"`
	Policies  int          `json:"policies"`
	QCells    int          `json:"q_cells"`
}

// PauseRequest is the body of POST /campaigns/:id/pause.
type PauseRequest struct {
	Reason string `json:"reason"`
}

// ResumeRequest is the body of the resume endpoints. Reviewer is required.
type ResumeRequest struct {
	Reviewer string `json:"reviewer"`
}

// MetricsResponse reports a campaign's counters against its guardrails.
type MetricsResponse struct {
	CampaignID string                `json:"campaign_id"`
	Status     campaign.Status       `json:"status"`
	Stats      campaign.Stats        `json:"metrics"`
	Rates      campaign.Rates        `json:"rates"`
	Thresholds guardrail.Thresholds  `json:"thresholds"`
	Violations []guardrail.Violation `json:"violations,omitempty"`
}

// GuardrailResponse is the result of an explicit guardrail evaluation.
type GuardrailResponse struct {
	Breached   bool                  `json:"breached"`
	Violations []guardrail.Violation `json:"violations,omitempty"`
	Campaign   *campaign.Campaign    `json:"campaign"`
}

// LeadsRequest submits candidate leads to a campaign.
type LeadsRequest struct {
	Leads []leads.LeadCard `json:"leads"`
}

// LeadsResponse reports qualification and the sequences started.
type LeadsResponse struct {
	Qualified int               `json:"qualified"`
	Dropped   []leads.Drop      `json:"dropped,omitempty"`
	Started   []string          `json:"started"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// PolicyResponse wraps a lookup. Known is false when the restrictive
// default was returned.
type PolicyResponse struct {
	Known  bool           `json:"known"`
	Policy *policy.Policy `json:"policy"`
}

// LogResponse is the response body for GET /compliance-log.
type LogResponse struct {
	Events []compliancelog.Event `json:"events"`
}

// OutcomeRequest reports measured metrics for one experiment variant.
// With SequenceID the variant and state come from the sequence's
// assignment; otherwise Variant is required and State defaults to the
// campaign's context at receipt.
type OutcomeRequest struct {
	SequenceID string            `json:"sequence_id,omitempty"`
	Variant    string            `json:"variant,omitempty"`
	Metrics    optimizer.Metrics `json:"metrics"`
	State      *optimizer.State  `json:"state,omitempty"`
	NextState  *optimizer.State  `json:"next_state,omitempty"`
}

// OutcomeResponse is the scored outcome.
type OutcomeResponse struct {
	ExperimentID string                   `json:"experiment_id"`
	Variant      string                   `json:"variant"`
	State        optimizer.State          `json:"state"`
	Reward       optimizer.Reward         `json:"reward"`
	Stats        *experiment.VariantStats `json:"stats,omitempty"`
}
