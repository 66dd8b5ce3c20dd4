package campaign

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	"github.com/fyrsmithlabs/outreachd/internal/leads"
	"github.com/fyrsmithlabs/outreachd/internal/mode"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// Status represents the lifecycle state of a campaign.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[Status][]Status{
	StatusActive:    {StatusPaused, StatusCompleted},
	StatusPaused:    {StatusActive, StatusCompleted},
	StatusCompleted: {}, // terminal
}

// CanTransitionTo checks if a transition from current status to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// Config is the operator's campaign request.
type Config struct {
	Country      string           `json:"country"`
	City         string           `json:"city,omitempty"`
	Industry     string           `json:"industry"`
	Language     string           `json:"language"`
	Offer        string           `json:"offer"`
	TargetPlan   string           `json:"target_plan,omitempty"`
	Channels     []policy.Channel `json:"channels,omitempty"`
	WeeklyVolume int              `json:"weekly_volume"`
	Disclosures  []string         `json:"disclosures,omitempty"`
	Timezone     string           `json:"timezone,omitempty"`
	CompanySize  string           `json:"company_size,omitempty"`

	// OptIn declares that the contact list was collected with opt-in
	// consent. Jurisdictions requiring opt-in reject campaigns without it.
	OptIn bool `json:"opt_in"`
}

// Normalize trims fields and fills defaults. Email is the default channel.
func (c *Config) Normalize() {
	c.Country = strings.TrimSpace(c.Country)
	c.City = strings.TrimSpace(c.City)
	c.Industry = strings.ToLower(strings.TrimSpace(c.Industry))
	c.Language = strings.TrimSpace(c.Language)
	c.Offer = strings.TrimSpace(c.Offer)
	if len(c.Channels) == 0 {
		c.Channels = []policy.Channel{policy.ChannelEmail}
	}
}

// Validate checks the config. Errors wrap ErrConfiguration.
func (c *Config) Validate() error {
	if c.Country == "" {
		return fmt.Errorf("%w: country is required", ErrConfiguration)
	}
	if c.Industry == "" {
		return fmt.Errorf("%w: industry is required", ErrConfiguration)
	}
	if c.Language == "" {
		return fmt.Errorf("%w: language is required", ErrConfiguration)
	}
	if c.WeeklyVolume < 0 {
		return fmt.Errorf("%w: weekly_volume must be non-negative", ErrConfiguration)
	}
	seen := make(map[policy.Channel]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if !ch.Valid() {
			return fmt.Errorf("%w: unknown channel %q", ErrConfiguration, ch)
		}
		if seen[ch] {
			return fmt.Errorf("%w: duplicate channel %q", ErrConfiguration, ch)
		}
		seen[ch] = true
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q: %v", ErrConfiguration, c.Timezone, err)
		}
	}
	return nil
}

func (c Config) clone() Config {
	c.Channels = append([]policy.Channel(nil), c.Channels...)
	c.Disclosures = append([]string(nil), c.Disclosures...)
	return c
}

// Stats are the running counters of a campaign.
type Stats struct {
	LeadsSourced    int64 `json:"leads_sourced"`
	TouchesSent     int64 `json:"touches_sent"`
	Delivered       int64 `json:"delivered"`
	Bounced         int64 `json:"bounced"`
	Replies         int64 `json:"replies"`
	PositiveReplies int64 `json:"positive_replies"`
	NegativeReplies int64 `json:"negative_replies"`
	OptOuts         int64 `json:"opt_outs"`
	Complaints      int64 `json:"complaints"`
	DemosBooked     int64 `json:"demos_booked"`
	DemosShown      int64 `json:"demos_shown"`
	DealsClosed     int64 `json:"deals_closed"`
}

// Delta is an increment to Stats.
type Delta Stats

// Add accumulates d. Negative increments are ignored so counters stay
// monotonic.
func (s *Stats) Add(d Delta) {
	add := func(dst *int64, v int64) {
		if v > 0 {
			*dst += v
		}
	}
	add(&s.LeadsSourced, d.LeadsSourced)
	add(&s.TouchesSent, d.TouchesSent)
	add(&s.Delivered, d.Delivered)
	add(&s.Bounced, d.Bounced)
	add(&s.Replies, d.Replies)
	add(&s.PositiveReplies, d.PositiveReplies)
	add(&s.NegativeReplies, d.NegativeReplies)
	add(&s.OptOuts, d.OptOuts)
	add(&s.Complaints, d.Complaints)
	add(&s.DemosBooked, d.DemosBooked)
	add(&s.DemosShown, d.DemosShown)
	add(&s.DealsClosed, d.DealsClosed)
}

// Rates are Stats normalized by touches sent.
type Rates struct {
	ReplyRate         float64 `json:"reply_rate"`
	PositiveReplyRate float64 `json:"positive_reply_rate"`
	DemoBookRate      float64 `json:"demo_book_rate"`
	DemoShowRate      float64 `json:"demo_show_rate"`
	DemoToPaidRate    float64 `json:"demo_to_paid_rate"`
	BounceRate        float64 `json:"bounce_rate"`
	ComplaintRate     float64 `json:"complaint_rate"`
	NegativeReplyRate float64 `json:"negative_reply_rate"`
	OptOutRate        float64 `json:"opt_out_rate"`
}

// Rates derives rates from the counters. All rates are zero until the
// first touch is sent.
func (s Stats) Rates() Rates {
	if s.TouchesSent == 0 {
		return Rates{}
	}
	n := float64(s.TouchesSent)
	return Rates{
		ReplyRate:         float64(s.Replies) / n,
		PositiveReplyRate: float64(s.PositiveReplies) / n,
		DemoBookRate:      float64(s.DemosBooked) / n,
		DemoShowRate:      float64(s.DemosShown) / n,
		DemoToPaidRate:    float64(s.DealsClosed) / n,
		BounceRate:        float64(s.Bounced) / n,
		ComplaintRate:     float64(s.Complaints) / n,
		NegativeReplyRate: float64(s.NegativeReplies) / n,
		OptOutRate:        float64(s.OptOuts) / n,
	}
}

// Guardrail returns the guardrail subset of the rates.
func (r Rates) Guardrail() guardrail.Rates {
	return guardrail.Rates{
		BounceRate:        r.BounceRate,
		ComplaintRate:     r.ComplaintRate,
		NegativeReplyRate: r.NegativeReplyRate,
		OptOutRate:        r.OptOutRate,
	}
}

// Campaign is one outbound campaign.
type Campaign struct {
	ID     string         `json:"id"`
	Config Config         `json:"config"`
	Policy *policy.Policy `json:"policy"`
	Mode   mode.Mode      `json:"mode"`
	Status Status         `json:"status"`
	ICP    leads.ICP      `json:"icp"`
	Stats  Stats          `json:"metrics"`

	// PolicyKnown is false when the jurisdiction fell back to the
	// restrictive default.
	PolicyKnown bool `json:"policy_known"`

	PauseReason string    `json:"pause_reason,omitempty"`
	ResumedBy   string    `json:"resumed_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (c *Campaign) Clone() *Campaign {
	out := *c
	out.Config = c.Config.clone()
	if c.Policy != nil {
		out.Policy = c.Policy.Clone()
	}
	out.ICP = cloneICP(c.ICP)
	return &out
}

// EffectiveDailyLimit is the per-day cap for a channel after the operating
// mode is applied.
func (c *Campaign) EffectiveDailyLimit(ch policy.Channel) int {
	if c.Policy == nil {
		return 0
	}
	return c.Mode.DailyLimit(c.Policy.DailyLimit(ch))
}

// Target returns the qualification context for this campaign.
func (c *Campaign) Target() leads.Target {
	return leads.Target{CampaignID: c.ID, ICP: cloneICP(c.ICP), Policy: c.Policy.Clone()}
}

func cloneICP(i leads.ICP) leads.ICP {
	cp := func(s []string) []string { return append([]string(nil), s...) }
	return leads.ICP{
		Industries:    cp(i.Industries),
		CompanySizes:  cp(i.CompanySizes),
		RevenueRanges: cp(i.RevenueRanges),
		Geos:          cp(i.Geos),
		JobTitles:     cp(i.JobTitles),
		PainPoints:    cp(i.PainPoints),
		Triggers:      cp(i.Triggers),
		Exclusions:    cp(i.Exclusions),
		ValueProps:    cp(i.ValueProps),
	}
}
