package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/clock"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// DefaultWarnBelow is the policy confidence under which passing actions
// are downgraded to warnings.
const DefaultWarnBelow = 0.3

// ContentScanner reports whether content is free of credentials.
type ContentScanner interface {
	Clean(content string) (bool, []string)
}

// Gate validates proposed actions and logs every verdict.
type Gate struct {
	log       compliancelog.Log
	counter   Counter
	consent   ConsentStore
	dnc       SuppressionList
	scanner   ContentScanner
	clock     clock.Clock
	warnBelow float64
	metrics   *Metrics
	logger    *Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithConsentStore sets the consent collaborator.
func WithConsentStore(c ConsentStore) Option {
	return func(g *Gate) { g.consent = c }
}

// WithSuppressionList sets the do-not-contact collaborator.
func WithSuppressionList(s SuppressionList) Option {
	return func(g *Gate) { g.dnc = s }
}

// WithContentScanner enables the credential check.
func WithContentScanner(s ContentScanner) Option {
	return func(g *Gate) { g.scanner = s }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithWarnBelow sets the low-confidence warning threshold.
func WithWarnBelow(v float64) Option {
	return func(g *Gate) { g.warnBelow = v }
}

// WithMetrics sets custom metrics.
func WithMetrics(m *Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.logger = NewLogger(l) }
}

// NewGate creates a gate. Consent and suppression default to empty
// in-memory stores, which means no recipient has consented.
func NewGate(log compliancelog.Log, counter Counter, opts ...Option) (*Gate, error) {
	if log == nil {
		return nil, ErrNilLog
	}
	if counter == nil {
		return nil, ErrNilCounter
	}
	metrics, _ := NewMetrics(nil)
	g := &Gate{
		log:       log,
		counter:   counter,
		clock:     clock.Real{},
		warnBelow: DefaultWarnBelow,
		metrics:   metrics,
		logger:    NewLogger(nil),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.consent == nil {
		g.consent = NewMemoryConsent()
	}
	if g.dnc == nil {
		g.dnc = NewMemorySuppression(g.clock.Now)
	}
	return g, nil
}

// Consent returns the consent collaborator.
func (g *Gate) Consent() ConsentStore { return g.consent }

// Suppression returns the do-not-contact collaborator.
func (g *Gate) Suppression() SuppressionList { return g.dnc }

// decisionInput is the JSON snapshot stored with each event.
type decisionInput struct {
	Kind          Kind              `json:"kind"`
	Channel       policy.Channel    `json:"channel,omitempty"`
	Channels      []policy.Channel  `json:"channels,omitempty"`
	AllowedChan   []policy.Channel  `json:"allowed_channels"`
	OptInRequired bool              `json:"opt_in_required"`
	OptInGranted  bool              `json:"opt_in_granted"`
	DNCRequired   bool              `json:"dnc_required"`
	Suppressed    bool              `json:"suppressed"`
	LocalTime     string            `json:"local_time,omitempty"`
	QuietHours    policy.QuietHours `json:"quiet_hours"`
	Limit         int               `json:"limit,omitempty"`
	Count         int64             `json:"count,omitempty"`
	Required      []string          `json:"required_disclosures,omitempty"`
	Missing       []string          `json:"missing_disclosures,omitempty"`
	ContentRules  []string          `json:"content_rules,omitempty"`
	RiskLevel     policy.RiskLevel  `json:"risk_level"`
}

// Validate evaluates a against p, logs the verdict and returns it.
// A nil policy is treated as the restrictive default. The returned error
// is non-nil only when the verdict could not be logged; the verdict is then
// a block.
func (g *Gate) Validate(ctx context.Context, a Action, p *policy.Policy) (Verdict, error) {
	start := g.clock.Now()
	ctx, span := StartSpan(ctx, "compliance.gate.validate", a.CampaignID, a.LeadID, string(a.Kind))
	defer span.End()

	if p == nil {
		p = policy.Default("")
	}

	in := decisionInput{
		Kind:        a.Kind,
		Channel:     a.Channel,
		Channels:    a.Channels,
		AllowedChan: p.AllowedChannels,
		DNCRequired: p.DNCRequired,
		QuietHours:  p.QuietHours,
		Required:    p.RequiredDisclosures,
		RiskLevel:   p.RiskLevel,
	}

	var (
		v        Verdict
		reserved string
		err      error
	)
	switch a.Kind {
	case KindCampaignPrecheck:
		v = g.precheck(a, p, &in)
	default:
		v, reserved, err = g.checkSend(ctx, a, p, &in, start)
		if err != nil {
			v = block(CheckCollaborator, "collaborator unavailable: "+err.Error(), "retry once the collaborator recovers")
		}
	}

	if v.Result == compliancelog.ResultPass && p.Confidence < g.warnBelow {
		v = Verdict{
			Result:      compliancelog.ResultWarning,
			Check:       CheckConfidence,
			Reason:      fmt.Sprintf("low policy confidence %.2f for %s, manual review recommended", p.Confidence, p.JurisdictionID),
			RequiredFix: "confirm jurisdiction rules with counsel",
		}
	}

	stored, appendErr := g.log.Append(ctx, g.event(a, p, v, in))
	if appendErr != nil {
		if reserved != "" {
			_ = g.counter.Release(ctx, reserved)
		}
		RecordError(ctx, appendErr)
		SetSpanStatus(ctx, codes.Error, "audit append failed")
		g.logger.Error(ctx, "compliance log append failed, blocking action", appendErr,
			zap.String("campaign_id", a.CampaignID),
			zap.String("lead_id", a.LeadID),
		)
		failed := block(CheckAudit, "compliance log unavailable", "restore the compliance log")
		return failed, fmt.Errorf("%w: %v", ErrAuditUnavailable, appendErr)
	}
	v.EventID = stored.ID
	v.SlotKey = reserved

	g.metrics.RecordVerdict(ctx, string(a.Kind), string(v.Result), string(v.Check), g.clock.Now().Sub(start))
	g.logger.Verdict(ctx, a, v)
	return v, nil
}

// Refund releases the rate-counter slot reserved by v when the send it
// permitted was not transmitted. Verdicts without a slot are a no-op.
func (g *Gate) Refund(ctx context.Context, v Verdict) error {
	if v.SlotKey == "" {
		return nil
	}
	return g.counter.Release(ctx, v.SlotKey)
}

func (g *Gate) precheck(a Action, p *policy.Policy, in *decisionInput) Verdict {
	channels := a.Channels
	if len(channels) == 0 {
		channels = []policy.Channel{policy.ChannelEmail}
		in.Channels = channels
	}
	for _, ch := range channels {
		if !p.Allows(ch) {
			return block(CheckChannel,
				fmt.Sprintf("channel %s not allowed in %s", ch, p.Country),
				"remove the channel from the campaign")
		}
	}
	if strings.TrimSpace(a.Country) == "" || strings.TrimSpace(a.Industry) == "" || strings.TrimSpace(a.Language) == "" {
		return block(CheckInputs, "missing required campaign inputs", "provide country, industry and language")
	}
	for _, ch := range channels {
		if p.RequiresOptIn(ch) {
			in.OptInRequired = true
			in.OptInGranted = a.OptInDeclared
			if !a.OptInDeclared {
				return block(CheckOptIn,
					fmt.Sprintf("opt-in consent required for %s in %s", ch, p.JurisdictionID),
					"source only opted-in contacts and declare opt_in")
			}
		}
	}
	if v, ok := checkDisclosures(p, a.Disclosures, a.Content, in); !ok {
		return v
	}
	return pass("campaign shape satisfies policy")
}

func (g *Gate) checkSend(ctx context.Context, a Action, p *policy.Policy, in *decisionInput, now time.Time) (Verdict, string, error) {
	if !p.Allows(a.Channel) {
		return block(CheckChannel,
			fmt.Sprintf("channel %s not allowed in %s", a.Channel, p.JurisdictionID),
			"use a permitted channel"), "", nil
	}

	if p.RequiresOptIn(a.Channel) {
		in.OptInRequired = true
		ok, err := g.consent.HasConsent(ctx, a.Recipient, a.Channel)
		if err != nil {
			return Verdict{}, "", err
		}
		in.OptInGranted = ok
		if !ok {
			return block(CheckOptIn,
				fmt.Sprintf("no recorded opt-in for %s on %s", a.LeadID, a.Channel),
				"obtain opt-in before contacting"), "", nil
		}
	}

	// Opt-outs bind every jurisdiction; DNCRequired only names the
	// external registries a policy also expects to be scrubbed.
	suppressed, err := g.dnc.IsSuppressed(ctx, a.Recipient)
	if err != nil {
		return Verdict{}, "", err
	}
	in.Suppressed = suppressed
	if suppressed {
		return block(CheckDNC, "recipient is on the do-not-contact list", ""), "", nil
	}

	local := now.In(loadLocation(a.Timezone))
	in.LocalTime = local.Format(time.RFC3339)
	if p.InQuietHours(local) {
		return block(CheckQuietHours,
			fmt.Sprintf("local time %s inside quiet hours %s-%s", local.Format("15:04"), p.QuietHours.Start, p.QuietHours.End),
			"reschedule after "+p.QuietHours.End), "", nil
	}

	limit := p.DailyLimit(a.Channel)
	if a.DailyLimit > 0 && a.DailyLimit < limit {
		limit = a.DailyLimit
	}
	in.Limit = limit
	key := CounterKey(a.CampaignID, a.Channel, now)
	allowed, count, err := g.counter.Allow(ctx, key, limit)
	if err != nil {
		return Verdict{}, "", err
	}
	in.Count = count
	if !allowed {
		v := block(CheckRateLimit,
			fmt.Sprintf("daily %s limit %d reached", a.Channel, limit),
			"defer to the next day")
		v.Transient = true
		return v, "", nil
	}

	if v, ok := checkDisclosures(p, nil, a.Content, in); !ok {
		_ = g.counter.Release(ctx, key)
		return v, "", nil
	}

	if g.scanner != nil {
		if clean, rules := g.scanner.Clean(a.Content); !clean {
			in.ContentRules = rules
			_ = g.counter.Release(ctx, key)
			return block(CheckContent,
				"content contains credentials: "+strings.Join(rules, ","),
				"remove secrets from the template"), "", nil
		}
	}

	return pass("all compliance checks passed"), key, nil
}

func checkDisclosures(p *policy.Policy, declared []string, content string, in *decisionInput) (Verdict, bool) {
	missing := missingDisclosures(p.RequiredDisclosures, declared, content)
	in.Missing = missing
	if len(missing) == 0 {
		return Verdict{}, true
	}
	return block(CheckDisclosures,
		"missing required disclosures: "+strings.Join(missing, ", "),
		"add the missing disclosures to the content"), false
}

func missingDisclosures(required, declared []string, content string) []string {
	lowerContent := strings.ToLower(content)
	var missing []string
	for _, req := range required {
		found := false
		for _, d := range declared {
			if strings.EqualFold(strings.TrimSpace(d), req) {
				found = true
				break
			}
		}
		if !found && !strings.Contains(lowerContent, strings.ToLower(req)) {
			missing = append(missing, req)
		}
	}
	return missing
}

func (g *Gate) event(a Action, p *policy.Policy, v Verdict, in decisionInput) compliancelog.Event {
	raw, err := json.Marshal(in)
	if err != nil {
		raw = []byte("{}")
	}
	return compliancelog.Event{
		Action:           string(a.Kind),
		CampaignID:       a.CampaignID,
		LeadID:           a.LeadID,
		Channel:          string(a.Channel),
		Result:           v.Result,
		Check:            string(v.Check),
		Reason:           v.Reason,
		RequiredFix:      v.RequiredFix,
		Jurisdiction:     p.JurisdictionID,
		PolicyConfidence: p.Confidence,
		Input:            string(raw),
	}
}

// loadLocation resolves an IANA zone, falling back to UTC.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
