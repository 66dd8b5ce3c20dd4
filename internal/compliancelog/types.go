package compliancelog

import (
	"time"
)

// Result is the outcome recorded for a decision.
type Result string

const (
	ResultPass    Result = "pass"
	ResultBlock   Result = "block"
	ResultWarning Result = "warning"
)

// Well-known actions.
const (
	ActionCampaignPrecheck = "campaign_precheck"
	ActionCampaignCreated  = "campaign_created"
	ActionCampaignPaused   = "campaign_paused"
	ActionCampaignResumed  = "campaign_resumed"
	ActionCampaignDone     = "campaign_completed"
	ActionSendTouch        = "send_touch"
	ActionSequenceEnded    = "sequence_ended"
	ActionSequenceResumed  = "sequence_resumed"
	ActionLeadDropped      = "lead_dropped"
	ActionGuardrailBreach  = "guardrail_breach"
	ActionIncident         = "incident"
)

// Event is one immutable audit record.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"`
	CampaignID  string    `json:"campaign_id,omitempty"`
	LeadID      string    `json:"lead_id,omitempty"`
	Channel     string    `json:"channel,omitempty"`
	Result      Result    `json:"result"`
	Check       string    `json:"check,omitempty"`
	Reason      string    `json:"reason"`
	RequiredFix string    `json:"required_fix,omitempty"`
	Reviewer    string    `json:"reviewer,omitempty"`

	// Snapshot of the decision inputs.
	Jurisdiction     string  `json:"jurisdiction,omitempty"`
	PolicyConfidence float64 `json:"policy_confidence"`
	Input            string  `json:"input,omitempty"` // JSON-encoded verdict input
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	CampaignID string
	LeadID     string
	Action     string
	Result     Result
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Matches reports whether e satisfies the filter (ignoring Limit).
func (f Filter) Matches(e Event) bool {
	if f.CampaignID != "" && e.CampaignID != f.CampaignID {
		return false
	}
	if f.LeadID != "" && e.LeadID != f.LeadID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}
