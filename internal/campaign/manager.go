package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/clock"
	"github.com/fyrsmithlabs/outreachd/internal/compliance"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/events"
	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	"github.com/fyrsmithlabs/outreachd/internal/leads"
	"github.com/fyrsmithlabs/outreachd/internal/mode"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// ManagerConfig holds configuration for the campaign manager.
type ManagerConfig struct {
	// MinGuardrailSample is the number of sent touches required before
	// guardrails are evaluated.
	MinGuardrailSample int64                `json:"min_guardrail_sample" koanf:"min_guardrail_sample"`
	Guardrails         guardrail.Thresholds `json:"guardrails" koanf:"guardrails"`
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		MinGuardrailSample: 50,
		Guardrails:         guardrail.DefaultThresholds(),
	}
}

// PolicySource resolves jurisdiction policies.
type PolicySource interface {
	Lookup(key string) (*policy.Policy, bool)
}

// Validator is the compliance gate.
type Validator interface {
	Validate(ctx context.Context, a compliance.Action, p *policy.Policy) (compliance.Verdict, error)
}

// Manager orchestrates the campaign lifecycle.
type Manager struct {
	repo     Repository
	policies PolicySource
	gate     Validator
	log      compliancelog.Log
	config   *ManagerConfig
	sink     events.Sink
	pager    mode.Pager
	clock    clock.Clock
	metrics  *Metrics
	logger   *Logger

	// mu serializes read-modify-write cycles on stored campaigns.
	mu sync.Mutex
}

// ManagerOption configures Manager.
type ManagerOption func(*Manager)

// WithMetrics sets custom metrics for the manager.
func WithMetrics(m *Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogger sets a custom logger for the manager.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(mgr *Manager) { mgr.logger = NewLogger(l) }
}

// WithSink sets the CRM/analytics event sink.
func WithSink(s events.Sink) ManagerOption {
	return func(mgr *Manager) { mgr.sink = s }
}

// WithPager sets the pager used for guardrail breaches in modes that page.
func WithPager(p mode.Pager) ManagerOption {
	return func(mgr *Manager) { mgr.pager = p }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) ManagerOption {
	return func(mgr *Manager) { mgr.clock = c }
}

// NewManager creates a campaign manager.
func NewManager(repo Repository, policies PolicySource, gate Validator, log compliancelog.Log, config *ManagerConfig, opts ...ManagerOption) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	metrics, _ := NewMetrics(nil)
	m := &Manager{
		repo:     repo,
		policies: policies,
		gate:     gate,
		log:      log,
		config:   config,
		sink:     events.NopSink{},
		pager:    mode.NopPager{},
		clock:    clock.Real{},
		metrics:  metrics,
		logger:   NewLogger(nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create validates cfg, resolves its policy and mode, runs the compliance
// precheck and stores the campaign.
//
// Errors wrap ErrConfiguration for malformed configs and
// compliance.ErrComplianceBlock when the precheck blocks. An unknown
// jurisdiction is not an error: the campaign is created in SAFE mode
// under the restrictive default policy.
func (m *Manager) Create(ctx context.Context, cfg Config) (*Campaign, error) {
	ctx, span := StartSpan(ctx, "campaign.create", "")
	defer span.End()

	cfg = cfg.clone()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		m.metrics.RecordRejected(ctx, "configuration")
		m.logger.Rejected(ctx, cfg.Country, err.Error())
		SetSpanStatus(ctx, codes.Error, err.Error())
		return nil, err
	}

	p, known := m.policies.Lookup(cfg.Country)
	md := mode.Select(p)
	if !known {
		md = mode.Safe
		m.logger.UnknownPolicy(ctx, cfg.Country)
	}

	id := uuid.NewString()
	verdict, err := m.gate.Validate(ctx, compliance.Action{
		Kind:          compliance.KindCampaignPrecheck,
		CampaignID:    id,
		Channels:      cfg.Channels,
		Disclosures:   cfg.Disclosures,
		OptInDeclared: cfg.OptIn,
		Country:       cfg.Country,
		Industry:      cfg.Industry,
		Language:      cfg.Language,
	}, p)
	if err != nil {
		SetSpanStatus(ctx, codes.Error, err.Error())
		return nil, fmt.Errorf("campaign precheck: %w", err)
	}
	if !verdict.Permitted() {
		m.metrics.RecordRejected(ctx, "compliance")
		m.logger.Rejected(ctx, cfg.Country, verdict.Reason)
		SetSpanStatus(ctx, codes.Error, verdict.Reason)
		return nil, fmt.Errorf("campaign rejected: %w", verdict.Err())
	}

	now := m.clock.Now().UTC()
	c := &Campaign{
		ID:          id,
		Config:      cfg,
		Policy:      p,
		Mode:        md,
		Status:      StatusActive,
		ICP:         leads.DefineICP(cfg.Industry, cfg.Country, cfg.CompanySize),
		PolicyKnown: known,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ev := compliancelog.Event{
		Action:           compliancelog.ActionCampaignCreated,
		CampaignID:       id,
		Result:           compliancelog.ResultPass,
		Reason:           "campaign approved by compliance gate",
		Jurisdiction:     p.JurisdictionID,
		PolicyConfidence: p.Confidence,
	}
	var warnings []string
	if !known {
		warnings = append(warnings, fmt.Sprintf("%s: %s, SAFE mode forced", policy.ErrPolicyUnknown, cfg.Country))
	}
	if verdict.Result == compliancelog.ResultWarning {
		warnings = append(warnings, verdict.Reason)
	}
	if len(warnings) > 0 {
		ev.Result = compliancelog.ResultWarning
		ev.Reason = strings.Join(warnings, "; ")
		ev.RequiredFix = "manual policy review recommended"
	}
	if _, err := m.log.Append(ctx, ev); err != nil {
		SetSpanStatus(ctx, codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", compliance.ErrAuditUnavailable, err)
	}
	if err := m.repo.Create(ctx, c); err != nil {
		SetSpanStatus(ctx, codes.Error, err.Error())
		return nil, fmt.Errorf("store campaign: %w", err)
	}

	m.metrics.RecordCreated(ctx, p.JurisdictionID, string(md))
	m.logger.Created(ctx, c)
	m.emit(c, events.TypeCampaignCreated, map[string]any{
		"jurisdiction": p.JurisdictionID,
		"mode":         string(md),
	})
	SetSpanStatus(ctx, codes.Ok, "")
	return c.Clone(), nil
}

// Get returns a campaign by id.
func (m *Manager) Get(ctx context.Context, id string) (*Campaign, error) {
	return m.repo.Get(ctx, id)
}

// List returns every campaign ordered by creation time.
func (m *Manager) List(ctx context.Context) ([]*Campaign, error) {
	return m.repo.List(ctx)
}

// Pause stops new scheduling for a campaign. In-flight sends finish.
func (m *Manager) Pause(ctx context.Context, id, reason string) (*Campaign, error) {
	if reason == "" {
		reason = "paused by operator"
	}
	return m.transition(ctx, id, StatusPaused, func(c *Campaign) {
		c.PauseReason = reason
	}, compliancelog.Event{
		Action: compliancelog.ActionCampaignPaused,
		Result: compliancelog.ResultPass,
		Reason: reason,
	}, events.TypeCampaignPaused)
}

// Resume reactivates a paused campaign. It is the only way out of a
// guardrail pause and requires a named reviewer.
func (m *Manager) Resume(ctx context.Context, id, reviewer string) (*Campaign, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, ErrReviewerRequired
	}
	var previous string
	return m.transition(ctx, id, StatusActive, func(c *Campaign) {
		previous = c.PauseReason
		c.PauseReason = ""
		c.ResumedBy = reviewer
	}, compliancelog.Event{
		Action:   compliancelog.ActionCampaignResumed,
		Result:   compliancelog.ResultPass,
		Reason:   "resumed by reviewer",
		Reviewer: reviewer,
	}, events.TypeCampaignResumed, func(ev *compliancelog.Event) {
		if previous != "" {
			ev.Reason = "resumed by reviewer after: " + previous
		}
	})
}

// Complete marks a campaign exhausted.
func (m *Manager) Complete(ctx context.Context, id, reason string) (*Campaign, error) {
	if reason == "" {
		reason = "campaign exhausted"
	}
	return m.transition(ctx, id, StatusCompleted, func(c *Campaign) {
		c.PauseReason = ""
	}, compliancelog.Event{
		Action: compliancelog.ActionCampaignDone,
		Result: compliancelog.ResultPass,
		Reason: reason,
	}, events.TypeCampaignDone)
}

func (m *Manager) transition(
	ctx context.Context,
	id string,
	to Status,
	mutate func(*Campaign),
	ev compliancelog.Event,
	eventType string,
	finalize ...func(*compliancelog.Event),
) (*Campaign, error) {
	ctx, span := StartSpan(ctx, "campaign.transition", id)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := c.Status
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.Status = to
	mutate(c)
	c.UpdatedAt = m.clock.Now().UTC()

	ev.CampaignID = id
	ev.Jurisdiction = c.Policy.JurisdictionID
	ev.PolicyConfidence = c.Policy.Confidence
	for _, f := range finalize {
		f(&ev)
	}
	if _, err := m.log.Append(ctx, ev); err != nil {
		SetSpanStatus(ctx, codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", compliance.ErrAuditUnavailable, err)
	}
	if err := m.repo.Update(ctx, c); err != nil {
		return nil, err
	}

	m.metrics.RecordTransition(ctx, from, to)
	m.logger.Transition(ctx, id, from, to, ev.Reason)
	m.emit(c, eventType, map[string]any{"from": string(from), "to": string(to), "reason": ev.Reason})
	return c.Clone(), nil
}

// RecordMetrics accumulates d into the campaign's counters and then
// evaluates guardrails. On a breach the updated campaign is returned
// together with an error wrapping ErrGuardrailBreach.
func (m *Manager) RecordMetrics(ctx context.Context, id string, d Delta) (*Campaign, error) {
	m.mu.Lock()
	c, err := m.repo.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	c.Stats.Add(d)
	c.UpdatedAt = m.clock.Now().UTC()
	err = m.repo.Update(ctx, c)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if _, err := m.EvaluateGuardrails(ctx, id); err != nil {
		if !errors.Is(err, ErrGuardrailBreach) {
			return nil, err
		}
		updated, gerr := m.repo.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return updated, err
	}
	return c.Clone(), nil
}

// EvaluateGuardrails checks an active campaign's rates against the
// guardrail thresholds once MinGuardrailSample touches have been sent.
// A breach pauses the campaign, logs every violation and returns a
// *guardrail.BreachError.
func (m *Manager) EvaluateGuardrails(ctx context.Context, id string) ([]guardrail.Violation, error) {
	ctx, span := StartSpan(ctx, "campaign.evaluate_guardrails", id)
	defer span.End()

	m.mu.Lock()
	c, err := m.repo.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if c.Status != StatusActive || c.Stats.TouchesSent < m.config.MinGuardrailSample {
		m.mu.Unlock()
		return nil, nil
	}
	vs := m.config.Guardrails.Check(c.Stats.Rates().Guardrail())
	if len(vs) == 0 {
		m.mu.Unlock()
		return nil, nil
	}

	reason := guardrail.Reasons(vs)
	c.Status = StatusPaused
	c.PauseReason = "guardrail breach: " + reason
	c.UpdatedAt = m.clock.Now().UTC()
	_, logErr := m.log.Append(ctx, compliancelog.Event{
		Action:           compliancelog.ActionGuardrailBreach,
		CampaignID:       id,
		Result:           compliancelog.ResultBlock,
		Check:            "guardrail",
		Reason:           reason,
		RequiredFix:      "review list quality and content, then resume with a named reviewer",
		Jurisdiction:     c.Policy.JurisdictionID,
		PolicyConfidence: c.Policy.Confidence,
	})
	updateErr := m.repo.Update(ctx, c)
	m.mu.Unlock()

	if logErr != nil {
		m.logger.Error(ctx, "log guardrail breach", logErr, zap.String("campaign_id", id))
	}
	if updateErr != nil {
		return vs, updateErr
	}

	m.metrics.RecordBreach(ctx, len(vs))
	m.metrics.RecordTransition(ctx, StatusActive, StatusPaused)
	m.logger.Breach(ctx, id, vs)
	m.emit(c, events.TypeCampaignPaused, map[string]any{"reason": c.PauseReason, "guardrail": true})
	if c.Mode.PagesOnAlert() {
		if err := m.pager.Page(ctx, mode.Alert{
			CampaignID: id,
			Severity:   "critical",
			Summary:    c.PauseReason,
			At:         c.UpdatedAt,
		}); err != nil {
			m.logger.Error(ctx, "page guardrail breach", err, zap.String("campaign_id", id))
		}
	}
	SetSpanStatus(ctx, codes.Error, "guardrail breach")
	return vs, &guardrail.BreachError{Violations: vs}
}

func (m *Manager) emit(c *Campaign, typ string, data map[string]any) {
	m.sink.Record(events.Event{
		Type:       typ,
		CampaignID: c.ID,
		At:         c.UpdatedAt,
		Data:       data,
	})
}
