package sequencer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/clock"
	"github.com/fyrsmithlabs/outreachd/internal/compliance"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/events"
	"github.com/fyrsmithlabs/outreachd/internal/experiment"
	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	"github.com/fyrsmithlabs/outreachd/internal/leads"
	"github.com/fyrsmithlabs/outreachd/internal/mode"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/outreachd/internal/sequencer"

// Defaults.
const (
	DefaultSendTimeout     = 30 * time.Second
	DefaultApprovalTimeout = 5 * time.Minute
	DefaultPausedRecheck   = 15 * time.Minute
)

// Reply texts returned to the caller.
const (
	bookingResponse  = "Great! Here are some times for a demo: %s"
	questionResponse = "Thanks for your question! A member of our team will follow up with details. " +
		"Would you like to schedule a quick demo to see it in action? %s"
)

// CampaignService is the part of the campaign manager the sequencer uses.
type CampaignService interface {
	Get(ctx context.Context, id string) (*campaign.Campaign, error)
	RecordMetrics(ctx context.Context, id string, d campaign.Delta) (*campaign.Campaign, error)
}

// Gate is the compliance gate as seen by the sequencer.
type Gate interface {
	Validate(ctx context.Context, a compliance.Action, p *policy.Policy) (compliance.Verdict, error)
	Refund(ctx context.Context, v compliance.Verdict) error
	Consent() compliance.ConsentStore
	Suppression() compliance.SuppressionList
}

// Sequencer runs per-lead outreach sequences.
type Sequencer struct {
	repo      Repository
	campaigns CampaignService
	gate      Gate
	log       compliancelog.Log

	sender   Sender
	booker   Booker
	review   ReviewQueue
	approver mode.Approver
	pager    mode.Pager
	sink     events.Sink
	clock    clock.Clock

	sendTimeout     time.Duration
	approvalTimeout time.Duration
	pausedRecheck   time.Duration
	retry           *RetryConfig

	experiments ExperimentAssigner

	locks  *keyedMutex
	logger *Logger
}

// ExperimentAssigner picks the variants of a campaign's running
// experiments for one context. The experiment engine implements it.
type ExperimentAssigner interface {
	AssignCampaign(ctx context.Context, campaignID, contextKey string) ([]experiment.Assignment, error)
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithSender sets the channel sender.
func WithSender(s Sender) Option {
	return func(q *Sequencer) { q.sender = s }
}

// WithBooker sets the demo booking collaborator.
func WithBooker(b Booker) Option {
	return func(q *Sequencer) { q.booker = b }
}

// WithReviewQueue sets the incident queue.
func WithReviewQueue(r ReviewQueue) Option {
	return func(q *Sequencer) { q.review = r }
}

// WithApprover sets the approver consulted in SAFE mode.
func WithApprover(a mode.Approver) Option {
	return func(q *Sequencer) { q.approver = a }
}

// WithPager sets the pager used in SEMI mode.
func WithPager(p mode.Pager) Option {
	return func(q *Sequencer) { q.pager = p }
}

// WithSink sets the CRM/analytics event sink.
func WithSink(s events.Sink) Option {
	return func(q *Sequencer) { q.sink = s }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(q *Sequencer) { q.clock = c }
}

// WithExperiments applies running experiment variants to every pack
// passed to Start.
func WithExperiments(a ExperimentAssigner) Option {
	return func(q *Sequencer) { q.experiments = a }
}

// WithSendTimeout bounds each sender call.
func WithSendTimeout(d time.Duration) Option {
	return func(q *Sequencer) { q.sendTimeout = d }
}

// WithApprovalTimeout bounds each approver call.
func WithApprovalTimeout(d time.Duration) Option {
	return func(q *Sequencer) { q.approvalTimeout = d }
}

// WithPausedRecheck sets how long a touch waits while its campaign is paused.
func WithPausedRecheck(d time.Duration) Option {
	return func(q *Sequencer) { q.pausedRecheck = d }
}

// WithRetry sets the send retry policy.
func WithRetry(cfg *RetryConfig) Option {
	return func(q *Sequencer) { q.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Sequencer) { q.logger = NewLogger(l) }
}

// New creates a sequencer. Without WithSender every send fails and is
// retried; without WithApprover SAFE campaigns cannot send.
func New(repo Repository, campaigns CampaignService, gate Gate, log compliancelog.Log, opts ...Option) (*Sequencer, error) {
	if repo == nil || campaigns == nil || gate == nil || log == nil {
		return nil, errors.New("sequencer: repository, campaign service, gate and compliance log are required")
	}
	q := &Sequencer{
		repo:            repo,
		campaigns:       campaigns,
		gate:            gate,
		log:             log,
		sender:          &ScriptedSender{Default: OutcomeFailed},
		booker:          &LinkBooker{},
		review:          &MemoryReviewQueue{},
		approver:        mode.DenyAll{},
		pager:           mode.NopPager{},
		sink:            events.NopSink{},
		clock:           clock.Real{},
		sendTimeout:     DefaultSendTimeout,
		approvalTimeout: DefaultApprovalTimeout,
		pausedRecheck:   DefaultPausedRecheck,
		logger:          NewLogger(nil),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.retry == nil {
		q.retry = DefaultRetryConfig()
	}
	q.retry.ApplyDefaults()
	q.locks = newKeyedMutex()
	return q, nil
}

func startSpan(ctx context.Context, name, sequenceID string) (context.Context, trace.Span) {
	return otel.Tracer(InstrumentationName).Start(ctx, name,
		trace.WithAttributes(attribute.String("outreach.sequence_id", sequenceID)))
}

// Start creates a sequence for a qualified lead and schedules its first
// touch for the next permitted instant.
func (q *Sequencer) Start(ctx context.Context, c *campaign.Campaign, lead leads.LeadCard, pack Pack) (*Sequence, error) {
	ctx, span := startSpan(ctx, "sequencer.start", "")
	defer span.End()

	if c.Status != campaign.StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrCampaignPaused, c.ID, c.Status)
	}
	if !lead.ComplianceOK {
		return nil, fmt.Errorf("%w: %s", ErrLeadNotCompliant, lead.ID)
	}
	if err := pack.Validate(); err != nil {
		return nil, err
	}

	unlock := q.locks.Lock(lead.ID)
	defer unlock()

	if _, err := q.repo.FindByLead(ctx, c.ID, lead.ID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSequenceExists, lead.ID)
	} else if !errors.Is(err, ErrSequenceNotFound) {
		return nil, err
	}

	now := q.clock.Now().UTC()
	s := &Sequence{
		ID:         uuid.NewString(),
		CampaignID: c.ID,
		LeadID:     lead.ID,
		Lead:       *lead.Clone(),
		Pack:       pack.clone(),
		State:      ContextState(c, &lead, now),
		Status:     StatusCreated,
		CreatedAt:  now,
	}
	if q.experiments != nil {
		as, err := q.experiments.AssignCampaign(ctx, c.ID, s.State.Key())
		if err != nil {
			return nil, fmt.Errorf("assign experiment variants: %w", err)
		}
		s.Assignments = as
		s.Pack.ApplyAssignments(as, lead, c.Config.Offer)
	}
	s.Status = StatusActive
	s.NextTouchAt = scheduleTouch(now, 0, s, c.Policy)
	s.UpdatedAt = now
	if err := q.repo.Create(ctx, s); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("outreach.sequence_id", s.ID))
	q.emit(s, events.TypeSequenceStarted, map[string]any{
		"pack_id": s.Pack.ID,
		"touches": len(s.Pack.Touches),
	})
	return s.Clone(), nil
}

// Get returns a sequence by id.
func (q *Sequencer) Get(ctx context.Context, id string) (*Sequence, error) {
	return q.repo.Get(ctx, id)
}

// ListByCampaign returns every sequence of a campaign.
func (q *Sequencer) ListByCampaign(ctx context.Context, campaignID string) ([]*Sequence, error) {
	return q.repo.ListByCampaign(ctx, campaignID)
}

// Due returns active sequences whose next touch is due now.
func (q *Sequencer) Due(ctx context.Context, limit int) ([]*Sequence, error) {
	return q.repo.Due(ctx, q.clock.Now().UTC(), limit)
}

// SendDue processes the next touch of a sequence if it is due. It holds
// the lead's lock for the whole call.
//
// Blocks, deferrals and pauses are dispositions, not errors. The returned
// error wraps ErrSendFailure when a send failed, or
// compliance.ErrAuditUnavailable when the gate could not log.
func (q *Sequencer) SendDue(ctx context.Context, id string) (SendResult, error) {
	ctx, span := startSpan(ctx, "sequencer.send_due", id)
	defer span.End()

	peek, err := q.repo.Get(ctx, id)
	if err != nil {
		return SendResult{}, err
	}
	unlock := q.locks.Lock(peek.LeadID)
	defer unlock()

	s, err := q.repo.Get(ctx, id)
	if err != nil {
		return SendResult{}, err
	}
	res, err := q.sendDue(ctx, s)
	SendsTotal.WithLabelValues(string(res.Disposition)).Inc()
	q.logger.Dispatched(ctx, s, res)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (q *Sequencer) sendDue(ctx context.Context, s *Sequence) (SendResult, error) {
	now := q.clock.Now().UTC()
	res := SendResult{SequenceID: s.ID, TouchIndex: s.Cursor}

	if s.Status != StatusActive {
		res.Disposition = DispositionSkipped
		res.Reason = "sequence is " + string(s.Status)
		return res, nil
	}
	if s.NextTouchAt.After(now) {
		res.Disposition = DispositionSkipped
		res.Reason = "not due"
		res.NextTouchAt = s.NextTouchAt
		return res, nil
	}

	c, err := q.campaigns.Get(ctx, s.CampaignID)
	if err != nil {
		return res, err
	}
	if s.Remaining() <= 0 {
		return q.complete(ctx, s, c, now, "all touches sent")
	}
	switch c.Status {
	case campaign.StatusCompleted:
		return q.complete(ctx, s, c, now, "campaign completed")
	case campaign.StatusPaused:
		s.NextTouchAt = now.Add(q.pausedRecheck)
		s.UpdatedAt = now
		if err := q.repo.Update(ctx, s); err != nil {
			return res, err
		}
		res.Disposition = DispositionDeferred
		res.Reason = "campaign paused"
		res.NextTouchAt = s.NextTouchAt
		return res, nil
	}

	touch := s.Pack.Touches[s.Cursor]
	action := compliance.Action{
		Kind:        compliance.KindSendTouch,
		CampaignID:  c.ID,
		LeadID:      s.LeadID,
		Channel:     touch.Channel,
		Recipient:   s.Lead.Recipient(touch.Channel),
		Timezone:    s.Lead.Timezone,
		Content:     s.Pack.Content(s.Cursor),
		Disclosures: touch.Disclosures,
		DailyLimit:  c.EffectiveDailyLimit(touch.Channel),
	}

	verdict, err := q.gate.Validate(ctx, action, c.Policy)
	if err != nil {
		return q.deferTouch(ctx, s, now.Add(q.retry.InitialBackoff), "compliance gate unavailable", err)
	}
	if !verdict.Permitted() {
		if verdict.Transient {
			next := nextDayWindow(now, s.Lead.Timezone, c.Policy)
			return q.deferTouch(ctx, s, next, verdict.Reason, nil)
		}
		q.page(ctx, c, s, "critical", "touch blocked: "+verdict.Reason)
		return q.pause(ctx, s, now, verdict.Reason, "", nil)
	}
	if verdict.Result == compliancelog.ResultWarning {
		q.page(ctx, c, s, "warning", "touch permitted with warning: "+verdict.Reason)
	}

	if c.Mode.RequiresApproval() {
		approved, err := q.approve(ctx, s, touch)
		if err != nil {
			q.refund(ctx, s, verdict)
			return q.deferTouch(ctx, s, now.Add(q.retry.InitialBackoff), "approval unavailable", err)
		}
		if !approved {
			q.refund(ctx, s, verdict)
			return q.pause(ctx, s, now, "approval denied", "approval", c)
		}
		// Consent and suppression may change while a reviewer decides.
		check, reason, err := q.recheckRecipient(ctx, c, action)
		if err != nil {
			q.refund(ctx, s, verdict)
			return q.deferTouch(ctx, s, now.Add(q.retry.InitialBackoff), "consent or suppression list unavailable", err)
		}
		if check != compliance.CheckNone {
			q.refund(ctx, s, verdict)
			return q.pause(ctx, s, now, reason, string(check), c)
		}
	}

	outcome, sendErr := q.send(ctx, s, touch, action.Recipient)
	switch outcome {
	case OutcomeDelivered, OutcomeBounced:
		return q.advance(ctx, s, c, now, outcome)
	default:
		q.refund(ctx, s, verdict)
		return q.fail(ctx, s, c, now, sendErr)
	}
}

func (q *Sequencer) send(ctx context.Context, s *Sequence, t Touch, recipient string) (Outcome, error) {
	sctx, cancel := context.WithTimeout(ctx, q.sendTimeout)
	defer cancel()

	start := q.clock.Now()
	outcome, err := q.sender.Send(sctx, Message{
		SequenceID:  s.ID,
		CampaignID:  s.CampaignID,
		LeadID:      s.LeadID,
		TouchIndex:  s.Cursor,
		Channel:     t.Channel,
		Recipient:   recipient,
		Subject:     t.Subject,
		Body:        t.Body + "\n\n" + s.Pack.OptOutText,
		CTA:         t.CTA,
		Disclosures: t.Disclosures,
		From:        s.Pack.Sender,
	})
	if err != nil {
		outcome = OutcomeFailed
	} else if outcome != OutcomeDelivered && outcome != OutcomeBounced {
		err = fmt.Errorf("sender reported %q", outcome)
		outcome = OutcomeFailed
	}
	SendDuration.WithLabelValues(string(t.Channel), string(outcome)).Observe(q.clock.Now().Sub(start).Seconds())
	return outcome, err
}

func (q *Sequencer) approve(ctx context.Context, s *Sequence, t Touch) (bool, error) {
	actx, cancel := context.WithTimeout(ctx, q.approvalTimeout)
	defer cancel()
	return q.approver.Approve(actx, mode.ApprovalRequest{
		CampaignID: s.CampaignID,
		SequenceID: s.ID,
		LeadID:     s.LeadID,
		Channel:    string(t.Channel),
		TouchIndex: s.Cursor,
		Subject:    t.Subject,
	})
}

func (q *Sequencer) advance(ctx context.Context, s *Sequence, c *campaign.Campaign, now time.Time, outcome Outcome) (SendResult, error) {
	res := SendResult{SequenceID: s.ID, TouchIndex: s.Cursor, Disposition: DispositionSent}
	delta := campaign.Delta{TouchesSent: 1, Delivered: 1}
	eventType := events.TypeTouchSent
	if outcome == OutcomeBounced {
		res.Disposition = DispositionBounced
		delta = campaign.Delta{TouchesSent: 1, Bounced: 1}
		eventType = events.TypeTouchBounced
	}

	sent := s.Cursor
	s.Cursor++
	s.TouchesSent++
	s.Attempts = 0
	s.LastTouchAt = now
	s.UpdatedAt = now

	last := s.Remaining() == 0
	if last {
		s.Status = StatusCompleted
		s.NextTouchAt = time.Time{}
	} else {
		s.NextTouchAt = scheduleTouch(now, s.Pack.Touches[s.Cursor].DayOffset, s, c.Policy)
		res.NextTouchAt = s.NextTouchAt
	}
	if err := q.repo.Update(ctx, s); err != nil {
		return res, err
	}

	q.emit(s, eventType, map[string]any{
		"touch":   sent,
		"channel": string(s.Pack.Touches[sent].Channel),
	})
	q.recordMetrics(ctx, s, delta)

	if last {
		q.ended(ctx, s, c, "all touches sent")
		res.Disposition = DispositionCompleted
		if outcome == OutcomeBounced {
			res.Reason = "last touch bounced"
		}
	}
	return res, nil
}

func (q *Sequencer) fail(ctx context.Context, s *Sequence, c *campaign.Campaign, now time.Time, cause error) (SendResult, error) {
	res := SendResult{SequenceID: s.ID, TouchIndex: s.Cursor}
	s.Attempts++
	reason := "send failed"
	if cause != nil {
		reason = "send failed: " + cause.Error()
	}
	failure := fmt.Errorf("%w: touch %d attempt %d: %v", ErrSendFailure, s.Cursor, s.Attempts, cause)

	if !q.retry.Exhausted(s.Attempts) {
		s.NextTouchAt = now.Add(q.retry.Backoff(s.Attempts))
		s.UpdatedAt = now
		if err := q.repo.Update(ctx, s); err != nil {
			return res, err
		}
		res.Disposition = DispositionRetrying
		res.Reason = reason
		res.NextTouchAt = s.NextTouchAt
		return res, failure
	}

	pauseReason := fmt.Sprintf("send retries exhausted after %d attempts", s.Attempts)
	res, err := q.pause(ctx, s, now, pauseReason, "", nil)
	if err != nil {
		return res, err
	}
	item := ReviewItem{
		ID:         uuid.NewString(),
		CampaignID: s.CampaignID,
		SequenceID: s.ID,
		LeadID:     s.LeadID,
		TouchIndex: s.Cursor,
		Attempts:   s.Attempts,
		Reason:     reason,
		CreatedAt:  now,
	}
	if err := q.review.Push(ctx, item); err != nil {
		q.logger.Error(ctx, "push review item", err, zap.String("sequence_id", s.ID))
	}
	if _, err := q.log.Append(ctx, compliancelog.Event{
		Action:           compliancelog.ActionIncident,
		CampaignID:       s.CampaignID,
		LeadID:           s.LeadID,
		Channel:          string(s.Pack.Touches[s.Cursor].Channel),
		Result:           compliancelog.ResultBlock,
		Check:            "send",
		Reason:           pauseReason + ": " + reason,
		RequiredFix:      "investigate the channel provider, then resume with a named reviewer",
		Jurisdiction:     c.Policy.JurisdictionID,
		PolicyConfidence: c.Policy.Confidence,
	}); err != nil {
		q.logger.Error(ctx, "log incident", err, zap.String("sequence_id", s.ID))
	}
	IncidentsTotal.Inc()
	q.emit(s, events.TypeIncident, map[string]any{"review_item": item.ID, "attempts": s.Attempts})
	return res, failure
}

func (q *Sequencer) deferTouch(ctx context.Context, s *Sequence, next time.Time, reason string, cause error) (SendResult, error) {
	res := SendResult{SequenceID: s.ID, TouchIndex: s.Cursor, Disposition: DispositionDeferred, Reason: reason}
	s.NextTouchAt = next.UTC()
	s.UpdatedAt = q.clock.Now().UTC()
	if err := q.repo.Update(ctx, s); err != nil {
		return res, err
	}
	res.NextTouchAt = s.NextTouchAt
	return res, cause
}

// pause moves s to PAUSED. When check is set the pause is also logged,
// since the gate has not already recorded it.
func (q *Sequencer) pause(ctx context.Context, s *Sequence, now time.Time, reason, check string, c *campaign.Campaign) (SendResult, error) {
	res := SendResult{SequenceID: s.ID, TouchIndex: s.Cursor, Disposition: DispositionPaused, Reason: reason}
	if !s.Status.CanTransitionTo(StatusPaused) {
		return res, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusPaused)
	}
	if check != "" && c != nil {
		if _, err := q.log.Append(ctx, compliancelog.Event{
			Action:           compliancelog.ActionSendTouch,
			CampaignID:       s.CampaignID,
			LeadID:           s.LeadID,
			Channel:          string(s.Pack.Touches[s.Cursor].Channel),
			Result:           compliancelog.ResultBlock,
			Check:            check,
			Reason:           reason,
			Jurisdiction:     c.Policy.JurisdictionID,
			PolicyConfidence: c.Policy.Confidence,
		}); err != nil {
			return res, fmt.Errorf("%w: %v", compliance.ErrAuditUnavailable, err)
		}
	}
	s.Status = StatusPaused
	s.PauseReason = reason
	s.UpdatedAt = now
	if err := q.repo.Update(ctx, s); err != nil {
		return res, err
	}
	q.emit(s, events.TypeSequencePaused, map[string]any{"reason": reason, "touch": s.Cursor})
	return res, nil
}

func (q *Sequencer) complete(ctx context.Context, s *Sequence, c *campaign.Campaign, now time.Time, reason string) (SendResult, error) {
	res := SendResult{SequenceID: s.ID, TouchIndex: s.Cursor, Disposition: DispositionCompleted, Reason: reason}
	s.Status = StatusCompleted
	s.NextTouchAt = time.Time{}
	s.UpdatedAt = now
	if err := q.repo.Update(ctx, s); err != nil {
		return res, err
	}
	q.ended(ctx, s, c, reason)
	return res, nil
}

// ended records a terminal disposition in the compliance log and the sink.
func (q *Sequencer) ended(ctx context.Context, s *Sequence, c *campaign.Campaign, reason string) {
	ev := compliancelog.Event{
		Action:     compliancelog.ActionSequenceEnded,
		CampaignID: s.CampaignID,
		LeadID:     s.LeadID,
		Result:     compliancelog.ResultPass,
		Reason:     fmt.Sprintf("sequence %s: %s", s.Status, reason),
	}
	if c != nil && c.Policy != nil {
		ev.Jurisdiction = c.Policy.JurisdictionID
		ev.PolicyConfidence = c.Policy.Confidence
	}
	if _, err := q.log.Append(ctx, ev); err != nil {
		q.logger.Error(ctx, "log sequence end", err, zap.String("sequence_id", s.ID))
	}
	q.emit(s, events.TypeSequenceEnded, map[string]any{
		"status":       string(s.Status),
		"reason":       reason,
		"touches_sent": s.TouchesSent,
	})
}

func (q *Sequencer) refund(ctx context.Context, s *Sequence, v compliance.Verdict) {
	if err := q.gate.Refund(ctx, v); err != nil {
		q.logger.Error(ctx, "refund rate slot", err, zap.String("lead_id", s.LeadID))
	}
}

// recheckRecipient repeats the recipient checks after an approval wait.
func (q *Sequencer) recheckRecipient(ctx context.Context, c *campaign.Campaign, a compliance.Action) (compliance.Check, string, error) {
	if c.Policy == nil || c.Policy.RequiresOptIn(a.Channel) {
		ok, err := q.gate.Consent().HasConsent(ctx, a.Recipient, a.Channel)
		if err != nil {
			return compliance.CheckNone, "", err
		}
		if !ok {
			return compliance.CheckOptIn, "consent withdrawn during approval", nil
		}
	}
	suppressed, err := q.gate.Suppression().IsSuppressed(ctx, a.Recipient)
	if err != nil {
		return compliance.CheckNone, "", err
	}
	if suppressed {
		return compliance.CheckDNC, "recipient suppressed during approval", nil
	}
	return compliance.CheckNone, "", nil
}

func (q *Sequencer) page(ctx context.Context, c *campaign.Campaign, s *Sequence, severity, summary string) {
	if !c.Mode.PagesOnAlert() {
		return
	}
	if err := q.pager.Page(ctx, mode.Alert{
		CampaignID: c.ID,
		LeadID:     s.LeadID,
		Severity:   severity,
		Summary:    summary,
		At:         q.clock.Now().UTC(),
	}); err != nil {
		q.logger.Error(ctx, "page operator", err, zap.String("sequence_id", s.ID))
	}
}

// recordMetrics feeds the campaign counters. A guardrail breach pauses the
// campaign inside the manager; here it is only logged.
func (q *Sequencer) recordMetrics(ctx context.Context, s *Sequence, d campaign.Delta) {
	if _, err := q.campaigns.RecordMetrics(ctx, s.CampaignID, d); err != nil {
		if errors.Is(err, guardrail.ErrBreach) {
			q.logger.Warn(ctx, "guardrail breach paused campaign",
				zap.String("campaign_id", s.CampaignID), zap.Error(err))
			return
		}
		q.logger.Error(ctx, "record campaign metrics", err, zap.String("campaign_id", s.CampaignID))
	}
}

// HandleReply applies an inbound reply to its sequence.
func (q *Sequencer) HandleReply(ctx context.Context, id string, reply Reply) (ReplyResult, error) {
	ctx, span := startSpan(ctx, "sequencer.handle_reply", id)
	defer span.End()

	switch reply.Intent {
	case IntentInterested, IntentNotInterested, IntentQuestion, IntentOptOut:
	default:
		return ReplyResult{}, fmt.Errorf("%w: %q", ErrUnknownIntent, reply.Intent)
	}

	peek, err := q.repo.Get(ctx, id)
	if err != nil {
		return ReplyResult{}, err
	}
	unlock := q.locks.Lock(peek.LeadID)
	defer unlock()

	s, err := q.repo.Get(ctx, id)
	if err != nil {
		return ReplyResult{}, err
	}
	if s.Status == StatusOptedOut {
		return ReplyResult{Action: ActionOptedOut, Status: s.Status}, nil
	}
	c, err := q.campaigns.Get(ctx, s.CampaignID)
	if err != nil {
		return ReplyResult{}, err
	}

	now := q.clock.Now().UTC()
	s.RepliesReceived++
	s.UpdatedAt = now
	delta := campaign.Delta{Replies: 1}
	switch reply.Sentiment {
	case SentimentPositive:
		delta.PositiveReplies = 1
	case SentimentNegative:
		delta.NegativeReplies = 1
	}

	var (
		result ReplyResult
		ended  string
	)
	switch reply.Intent {
	case IntentOptOut:
		if err := q.optOut(ctx, s, c, now); err != nil {
			return ReplyResult{}, err
		}
		delta.OptOuts = 1
		result.Action = ActionOptedOut
		ended = "recipient opted out"

	case IntentNotInterested:
		if s.Status.CanTransitionTo(StatusCompleted) {
			s.Status = StatusCompleted
			s.NextTouchAt = time.Time{}
			ended = "lead not interested"
		}
		result.Action = ActionCompleted

	case IntentInterested:
		if s.Status.CanTransitionTo(StatusPaused) {
			s.Status = StatusPaused
			s.PauseReason = "lead interested: booking handoff"
		}
		result.Action = ActionBookDemo
		booking, err := q.book(ctx, s)
		if err != nil {
			q.logger.Error(ctx, "booking handoff", err, zap.String("sequence_id", s.ID))
			result.Response = fmt.Sprintf(bookingResponse, "[BOOKING_LINK]")
		} else {
			result.Booking = &booking
			result.Response = fmt.Sprintf(bookingResponse, booking.Link)
			delta.DemosBooked = 1
		}

	case IntentQuestion:
		result.Action = ActionAnswerQuestion
		result.Response = strings.TrimSpace(fmt.Sprintf(questionResponse, "[BOOKING_LINK]"))
	}

	if err := q.repo.Update(ctx, s); err != nil {
		return ReplyResult{}, err
	}
	result.Status = s.Status

	RepliesTotal.WithLabelValues(string(reply.Intent)).Inc()
	q.emit(s, events.TypeReplyReceived, map[string]any{
		"intent":    string(reply.Intent),
		"sentiment": string(reply.Sentiment),
		"action":    result.Action,
	})
	if result.Booking != nil {
		q.emit(s, events.TypeBookingHandoff, map[string]any{
			"booking_id": result.Booking.ID,
			"link":       result.Booking.Link,
		})
	}
	if ended != "" {
		q.ended(ctx, s, c, ended)
	}
	q.recordMetrics(ctx, s, delta)
	q.logger.Reply(ctx, s, reply.Intent, result.Action)
	return result, nil
}

// optOut revokes consent and suppresses every address of the lead for the
// policy retention window before the status change is stored.
func (q *Sequencer) optOut(ctx context.Context, s *Sequence, c *campaign.Campaign, now time.Time) error {
	if !s.Status.CanTransitionTo(StatusOptedOut) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusOptedOut)
	}
	retention := c.Policy.Retention()
	seen := make(map[string]bool)
	for _, ch := range policy.AllChannels {
		r := s.Lead.Recipient(ch)
		if r == "" {
			continue
		}
		if err := q.gate.Consent().Revoke(ctx, r, ch); err != nil {
			return fmt.Errorf("revoke consent: %w", err)
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		if err := q.gate.Suppression().Suppress(ctx, r, now.Add(retention)); err != nil {
			return fmt.Errorf("suppress recipient: %w", err)
		}
	}
	s.Status = StatusOptedOut
	s.OptedOutAt = now
	s.NextTouchAt = time.Time{}
	return nil
}

func (q *Sequencer) book(ctx context.Context, s *Sequence) (Booking, error) {
	bctx, cancel := context.WithTimeout(ctx, q.sendTimeout)
	defer cancel()
	return q.booker.Book(bctx, BookingRequest{
		CampaignID: s.CampaignID,
		SequenceID: s.ID,
		LeadID:     s.LeadID,
		Timezone:   s.Lead.Timezone,
	})
}

// Resume reactivates a paused sequence. It requires a named reviewer and
// an active campaign. The current touch is rescheduled for the next
// permitted instant and its retry budget is reset.
func (q *Sequencer) Resume(ctx context.Context, id, reviewer string) (*Sequence, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, ErrReviewerRequired
	}
	peek, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := q.locks.Lock(peek.LeadID)
	defer unlock()

	s, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusPaused {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusActive)
	}
	c, err := q.campaigns.Get(ctx, s.CampaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != campaign.StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrCampaignPaused, c.ID, c.Status)
	}

	now := q.clock.Now().UTC()
	previous := s.PauseReason
	if _, err := q.log.Append(ctx, compliancelog.Event{
		Action:           compliancelog.ActionSequenceResumed,
		CampaignID:       s.CampaignID,
		LeadID:           s.LeadID,
		Result:           compliancelog.ResultPass,
		Reason:           "resumed by reviewer after: " + previous,
		Reviewer:         reviewer,
		Jurisdiction:     c.Policy.JurisdictionID,
		PolicyConfidence: c.Policy.Confidence,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", compliance.ErrAuditUnavailable, err)
	}

	s.Status = StatusActive
	s.PauseReason = ""
	s.Attempts = 0
	s.NextTouchAt = scheduleTouch(now, 0, s, c.Policy)
	s.UpdatedAt = now
	if err := q.repo.Update(ctx, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

func (q *Sequencer) emit(s *Sequence, typ string, data map[string]any) {
	q.sink.Record(events.Event{
		Type:       typ,
		CampaignID: s.CampaignID,
		LeadID:     s.LeadID,
		SequenceID: s.ID,
		At:         s.UpdatedAt,
		Data:       data,
	})
}

// schedule adds days to from in the lead's timezone and moves the result
// out of the policy's quiet hours. Unknown zones fall back to UTC.
func schedule(from time.Time, days int, tz string, p *policy.Policy) time.Time {
	local := from.In(loadLocation(tz)).AddDate(0, 0, days)
	if p != nil {
		local = p.NextPermitted(local)
	}
	return local.UTC()
}

// scheduleTouch is schedule held back to the pack's send hour.
func scheduleTouch(from time.Time, days int, s *Sequence, p *policy.Policy) time.Time {
	at := schedule(from, days, s.Lead.Timezone, p)
	if s.Pack.SendAfterHour <= 0 {
		return at
	}
	local := at.In(loadLocation(s.Lead.Timezone))
	if local.Hour() >= s.Pack.SendAfterHour {
		return at
	}
	local = time.Date(local.Year(), local.Month(), local.Day(), s.Pack.SendAfterHour, 0, 0, 0, local.Location())
	if p != nil {
		local = p.NextPermitted(local)
	}
	return local.UTC()
}

// ContextState is the optimizer state for a campaign at a moment: the
// jurisdiction, the industry, the lead's segment and the local time. A
// nil lead uses the campaign's timezone and company size.
func ContextState(c *campaign.Campaign, lead *leads.LeadCard, at time.Time) optimizer.State {
	geo := c.Config.Country
	if c.Policy != nil && c.Policy.JurisdictionID != policy.UnknownJurisdiction {
		geo = c.Policy.JurisdictionID
	}
	tz, segment := c.Config.Timezone, c.Config.CompanySize
	if lead != nil {
		if lead.Timezone != "" {
			tz = lead.Timezone
		}
		if lead.Segment != "" {
			segment = lead.Segment
		}
	}
	return optimizer.StateAt(geo, c.Config.Industry, segment, at.In(loadLocation(tz)))
}

// nextDayWindow is the first permitted instant of the next UTC day.
func nextDayWindow(now time.Time, tz string, p *policy.Policy) time.Time {
	midnight := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return schedule(midnight, 0, tz, p)
}

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
