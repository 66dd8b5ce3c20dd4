package compliance

import (
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// Kind distinguishes what is being gated.
type Kind string

const (
	// KindCampaignPrecheck validates a campaign's channel and disclosure
	// shape at creation. Time and rate checks are skipped.
	KindCampaignPrecheck Kind = "campaign_precheck"

	// KindSendTouch validates one touch immediately before it is sent.
	KindSendTouch Kind = "send_touch"
)

// Check names one gate check.
type Check string

const (
	CheckInputs       Check = "inputs"
	CheckChannel      Check = "channel"
	CheckOptIn        Check = "opt_in"
	CheckDNC          Check = "dnc"
	CheckQuietHours   Check = "quiet_hours"
	CheckRateLimit    Check = "rate_limit"
	CheckDisclosures  Check = "disclosures"
	CheckContent      Check = "content"
	CheckConfidence   Check = "confidence"
	CheckCollaborator Check = "collaborator"
	CheckAudit        Check = "audit"
	CheckNone         Check = ""
)

// Action is one proposed outbound action.
type Action struct {
	Kind       Kind
	CampaignID string
	LeadID     string

	// Send fields.
	Channel   policy.Channel
	Recipient string
	Timezone  string
	Content   string

	// Disclosures the campaign promises to carry. Prechecks accept a
	// declared name; sends are only satisfied by the text in Content.
	Disclosures []string

	// DailyLimit overrides the policy limit when positive. Operating modes
	// use it to cap automated volume.
	DailyLimit int

	// Precheck fields.
	Channels      []policy.Channel
	OptInDeclared bool
	Country       string
	Industry      string
	Language      string
}

// Verdict is the outcome of one Validate call.
type Verdict struct {
	Result      compliancelog.Result `json:"result"`
	Check       Check                `json:"check,omitempty"`
	Reason      string               `json:"reason"`
	RequiredFix string               `json:"required_fix,omitempty"`

	// Transient is set for rate-limit blocks, which defer rather than pause.
	Transient bool `json:"transient,omitempty"`

	// EventID is the id of the compliance log entry for this verdict.
	EventID string `json:"event_id"`

	// SlotKey is the rate counter key reserved by a permitted send.
	SlotKey string `json:"-"`
}

// Permitted reports whether the action may proceed. Warnings proceed.
func (v Verdict) Permitted() bool {
	return v.Result == compliancelog.ResultPass || v.Result == compliancelog.ResultWarning
}

// Err returns a *BlockError for blocks and nil otherwise.
func (v Verdict) Err() error {
	if v.Permitted() {
		return nil
	}
	return &BlockError{Check: v.Check, Reason: v.Reason, transient: v.Transient}
}

func pass(reason string) Verdict {
	return Verdict{Result: compliancelog.ResultPass, Reason: reason}
}

func block(check Check, reason, fix string) Verdict {
	return Verdict{Result: compliancelog.ResultBlock, Check: check, Reason: reason, RequiredFix: fix}
}
