// Package leads sources, scores and filters prospects against a campaign's
// ideal customer profile.
//
// Lead data arrives from external sources in the normalized LeadCard shape.
// Nothing a source says about compliance is trusted: ComplianceOK is always
// recomputed from the source catalog and the campaign policy.
package leads

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// SourceType is the provenance class of a lead.
type SourceType string

const (
	SourceLicensed       SourceType = "licensed"
	SourceAPI            SourceType = "api"
	SourcePermittedCrawl SourceType = "permitted_crawl"
)

// Valid reports whether t is a known provenance class.
func (t SourceType) Valid() bool {
	switch t {
	case SourceLicensed, SourceAPI, SourcePermittedCrawl:
		return true
	}
	return false
}

// Geo locates a lead.
type Geo struct {
	Country string `json:"country"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
}

// Signal is one buying or fit signal attached by a source.
type Signal struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// LeadCard is the normalized prospect record.
type LeadCard struct {
	ID           string     `json:"id"`
	Company      string     `json:"company"`
	Domain       string     `json:"domain,omitempty"`
	Geo          Geo        `json:"geo"`
	Industry     string     `json:"industry"`
	RoleTarget   string     `json:"role_target,omitempty"`
	ContactEmail string     `json:"contact_email,omitempty"`
	ContactPhone string     `json:"contact_phone,omitempty"`
	SourceType   SourceType `json:"source_type"`
	SourceID     string     `json:"source_id"`
	SourceProof  string     `json:"source_proof,omitempty"`
	Signals      []Signal   `json:"signals,omitempty"`
	Score        float64    `json:"lead_score"`
	Timezone     string     `json:"timezone,omitempty"`
	Segment      string     `json:"segment,omitempty"`

	// ComplianceOK is computed by the Qualifier. Values supplied by a
	// source are overwritten.
	ComplianceOK   bool      `json:"compliance_ok"`
	NextBestAction string    `json:"next_best_action,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Recipient returns the contact address for a channel, or "".
func (l *LeadCard) Recipient(ch policy.Channel) string {
	switch ch {
	case policy.ChannelEmail:
		return strings.TrimSpace(l.ContactEmail)
	case policy.ChannelCall, policy.ChannelSMS, policy.ChannelWhatsApp:
		return strings.TrimSpace(l.ContactPhone)
	}
	return ""
}

// Clone returns a deep copy.
func (l *LeadCard) Clone() *LeadCard {
	c := *l
	c.Signals = append([]Signal(nil), l.Signals...)
	return &c
}

// Next best actions assigned during qualification.
const (
	ActionStartSequence = "start_sequence"
	ActionEnrich        = "enrich_with_api"
	ActionDiscard       = "discard"
)
