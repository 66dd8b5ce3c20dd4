package policy

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Channel is an outbound communication channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelCall     Channel = "call"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// AllChannels lists every channel the engine knows about.
var AllChannels = []Channel{ChannelEmail, ChannelCall, ChannelSMS, ChannelWhatsApp}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return slices.Contains(AllChannels, c)
}

// RiskLevel is the enforcement risk of operating in a jurisdiction.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// QuietHours is a local-time window during which no touch may be sent.
// Start and End are "HH:MM". A window whose Start is after its End wraps
// midnight. Equal bounds mean no quiet hours.
type QuietHours struct {
	Start string `json:"start" koanf:"start" toml:"start"`
	End   string `json:"end" koanf:"end" toml:"end"`
}

// Policy is the compliance ruleset for one jurisdiction.
//
// Confidence is the data quality of the ruleset itself, in [0,1]. It is
// unrelated to the statistical confidence of an experiment.
type Policy struct {
	JurisdictionID      string          `json:"jurisdiction_id" koanf:"jurisdiction_id" toml:"jurisdiction_id"`
	Country             string          `json:"country" koanf:"country" toml:"country"`
	City                string          `json:"city,omitempty" koanf:"city" toml:"city"`
	AllowedChannels     []Channel       `json:"allowed_channels" koanf:"allowed_channels" toml:"allowed_channels"`
	OptInRequired       map[string]bool `json:"opt_in_required" koanf:"opt_in_required" toml:"opt_in_required"`
	DNCRequired         bool            `json:"dnc_required" koanf:"dnc_required" toml:"dnc_required"`
	QuietHours          QuietHours      `json:"quiet_hours" koanf:"quiet_hours" toml:"quiet_hours"`
	RequiredDisclosures []string        `json:"required_disclosures" koanf:"required_disclosures" toml:"required_disclosures"`
	DailyLimits         map[string]int  `json:"daily_limits" koanf:"daily_limits" toml:"daily_limits"`
	RetentionDays       int             `json:"retention_days" koanf:"retention_days" toml:"retention_days"`
	RiskLevel           RiskLevel       `json:"risk_level" koanf:"risk_level" toml:"risk_level"`
	EnforcementNotes    string          `json:"enforcement_notes,omitempty" koanf:"enforcement_notes" toml:"enforcement_notes"`
	Confidence          float64         `json:"confidence" koanf:"confidence" toml:"confidence"`
}

// Allows reports whether the channel is permitted.
func (p *Policy) Allows(ch Channel) bool {
	return slices.Contains(p.AllowedChannels, ch)
}

// RequiresOptIn reports whether the channel needs recorded consent.
// A channel missing from the map requires opt-in.
func (p *Policy) RequiresOptIn(ch Channel) bool {
	required, ok := p.OptInRequired[string(ch)]
	if !ok {
		return true
	}
	return required
}

// DailyLimit returns the per-day send limit for the channel. A missing
// entry yields zero, which permits no sends.
func (p *Policy) DailyLimit(ch Channel) int {
	return p.DailyLimits[string(ch)]
}

// Retention returns the retention window.
func (p *Policy) Retention() time.Duration {
	return time.Duration(p.RetentionDays) * 24 * time.Hour
}

// Clone returns a deep copy.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	c := *p
	c.AllowedChannels = slices.Clone(p.AllowedChannels)
	c.RequiredDisclosures = slices.Clone(p.RequiredDisclosures)
	c.OptInRequired = make(map[string]bool, len(p.OptInRequired))
	for k, v := range p.OptInRequired {
		c.OptInRequired[k] = v
	}
	c.DailyLimits = make(map[string]int, len(p.DailyLimits))
	for k, v := range p.DailyLimits {
		c.DailyLimits[k] = v
	}
	return &c
}

// InQuietHours reports whether the local time falls inside the quiet window.
func (p *Policy) InQuietHours(local time.Time) bool {
	start, end, ok := p.quietBounds()
	if !ok {
		return false
	}
	m := local.Hour()*60 + local.Minute()
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// NextPermitted returns local unchanged when it is outside quiet hours, or
// the end of the current quiet window otherwise. The result stays in
// local's location.
func (p *Policy) NextPermitted(local time.Time) time.Time {
	if !p.InQuietHours(local) {
		return local
	}
	_, end, _ := p.quietBounds()
	y, mo, d := local.Date()
	candidate := time.Date(y, mo, d, end/60, end%60, 0, 0, local.Location())
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func (p *Policy) quietBounds() (start, end int, ok bool) {
	s, err := parseClock(p.QuietHours.Start)
	if err != nil {
		return 0, 0, false
	}
	e, err := parseClock(p.QuietHours.End)
	if err != nil {
		return 0, 0, false
	}
	if s == e {
		return 0, 0, false
	}
	return s, e, true
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: quiet hours %q: %v", ErrInvalidPolicy, s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Validate checks the policy for structural errors.
func (p *Policy) Validate() error {
	if strings.TrimSpace(p.JurisdictionID) == "" {
		return fmt.Errorf("%w: jurisdiction_id is required", ErrInvalidPolicy)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: %s: confidence %v outside [0,1]", ErrInvalidPolicy, p.JurisdictionID, p.Confidence)
	}
	if !p.RiskLevel.Valid() {
		return fmt.Errorf("%w: %s: unknown risk level %q", ErrInvalidPolicy, p.JurisdictionID, p.RiskLevel)
	}
	if len(p.AllowedChannels) == 0 {
		return fmt.Errorf("%w: %s: no allowed channels", ErrInvalidPolicy, p.JurisdictionID)
	}
	for _, ch := range p.AllowedChannels {
		if !ch.Valid() {
			return fmt.Errorf("%w: %s: unknown channel %q", ErrInvalidPolicy, p.JurisdictionID, ch)
		}
		if p.DailyLimit(ch) <= 0 {
			return fmt.Errorf("%w: %s: channel %s has no daily limit", ErrInvalidPolicy, p.JurisdictionID, ch)
		}
	}
	for ch := range p.DailyLimits {
		if !p.Allows(Channel(ch)) {
			return fmt.Errorf("%w: %s: limit set for unlisted channel %s", ErrInvalidPolicy, p.JurisdictionID, ch)
		}
	}
	if p.QuietHours.Start != "" || p.QuietHours.End != "" {
		if _, err := parseClock(p.QuietHours.Start); err != nil {
			return err
		}
		if _, err := parseClock(p.QuietHours.End); err != nil {
			return err
		}
	}
	if p.RetentionDays < 0 {
		return fmt.Errorf("%w: %s: negative retention", ErrInvalidPolicy, p.JurisdictionID)
	}
	return nil
}

// Default returns the fail-closed policy used for unknown jurisdictions:
// email only, opt-in required on every channel, high risk, zero confidence
// and a conservative daily limit.
func Default(key string) *Policy {
	optIn := make(map[string]bool, len(AllChannels))
	for _, ch := range AllChannels {
		optIn[string(ch)] = true
	}
	return &Policy{
		JurisdictionID:  UnknownJurisdiction,
		Country:         key,
		AllowedChannels: []Channel{ChannelEmail},
		OptInRequired:   optIn,
		DNCRequired:     true,
		QuietHours:      QuietHours{Start: "20:00", End: "09:00"},
		RequiredDisclosures: []string{
			"Sender identity",
			"Opt-out mechanism",
			"Privacy notice",
		},
		DailyLimits:      map[string]int{string(ChannelEmail): 100},
		RetentionDays:    90,
		RiskLevel:        RiskHigh,
		EnforcementNotes: "Unknown jurisdiction, strictest rules applied",
		Confidence:       0,
	}
}

// UnknownJurisdiction is the JurisdictionID of Default policies.
const UnknownJurisdiction = "UNKNOWN"
