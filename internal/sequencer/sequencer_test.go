package sequencer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/clock"
	"github.com/fyrsmithlabs/outreachd/internal/compliance"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/events"
	"github.com/fyrsmithlabs/outreachd/internal/leads"
	"github.com/fyrsmithlabs/outreachd/internal/mode"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// 10:00 in New York, 15:00 in London.
var start = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type fixture struct {
	clk      *clock.Fake
	log      *compliancelog.MemoryLog
	counter  *compliance.MemoryCounter
	gate     *compliance.Gate
	mgr      *campaign.Manager
	seq      *Sequencer
	sender   *ScriptedSender
	booker   *LinkBooker
	review   *MemoryReviewQueue
	approver *mode.StaticApprover
	pager    *mode.RecordingPager
	sink     *events.MemorySink
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clk:      clock.NewFake(start),
		counter:  compliance.NewMemoryCounter(),
		sender:   &ScriptedSender{},
		booker:   &LinkBooker{BaseURL: "https://book.test/demo"},
		review:   &MemoryReviewQueue{},
		approver: &mode.StaticApprover{Decision: true},
		pager:    &mode.RecordingPager{},
		sink:     &events.MemorySink{},
	}
	f.log = compliancelog.NewMemoryLog(compliancelog.WithClock(f.clk.Now))
	gate, err := compliance.NewGate(f.log, f.counter, compliance.WithClock(f.clk))
	require.NoError(t, err)
	f.gate = gate
	reg, err := policy.NewRegistry()
	require.NoError(t, err)
	f.mgr = campaign.NewManager(campaign.NewMemoryRepository(), reg, gate, f.log, nil,
		campaign.WithClock(f.clk), campaign.WithSink(f.sink))

	opts = append([]Option{
		WithSender(f.sender),
		WithBooker(f.booker),
		WithReviewQueue(f.review),
		WithApprover(f.approver),
		WithPager(f.pager),
		WithSink(f.sink),
		WithClock(f.clk),
	}, opts...)
	f.seq, err = New(NewMemoryRepository(), f.mgr, gate, f.log, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) usCampaign(t *testing.T) *campaign.Campaign {
	t.Helper()
	c, err := f.mgr.Create(context.Background(), campaign.Config{
		Country:     "United States",
		Industry:    "restaurant",
		Language:    "en",
		Offer:       "AI receptionist that answers every call",
		Channels:    []policy.Channel{policy.ChannelEmail},
		Disclosures: []string{"Sender identity", "Physical address", "Opt-out mechanism"},
	})
	require.NoError(t, err)
	require.Equal(t, mode.Semi, c.Mode)
	return c
}

func (f *fixture) ukCampaign(t *testing.T) *campaign.Campaign {
	t.Helper()
	c, err := f.mgr.Create(context.Background(), campaign.Config{
		Country:     "United Kingdom",
		Industry:    "dental",
		Language:    "en",
		Offer:       "AI receptionist",
		Channels:    []policy.Channel{policy.ChannelEmail},
		Disclosures: []string{"Sender identity", "Opt-out mechanism", "Privacy notice"},
		OptIn:       true,
	})
	require.NoError(t, err)
	require.Equal(t, mode.Safe, c.Mode)
	return c
}

func lead(id, country, tz string) leads.LeadCard {
	return leads.LeadCard{
		ID:           id,
		Company:      "Acme Diner",
		Industry:     "restaurant",
		Geo:          leads.Geo{Country: country},
		ContactEmail: id + "@acme.example",
		SourceType:   leads.SourceLicensed,
		SourceID:     "zoominfo",
		Timezone:     tz,
		ComplianceOK: true,
	}
}

func (f *fixture) start(t *testing.T, c *campaign.Campaign, l leads.LeadCard) *Sequence {
	t.Helper()
	s, err := f.seq.Start(context.Background(), c, l, DefaultPack(l, c.Config.Offer, "en", c.Policy))
	require.NoError(t, err)
	return s
}

func (f *fixture) advanceTo(at time.Time) {
	if d := at.Sub(f.clk.Now()); d > 0 {
		f.clk.Advance(d)
	}
}

func TestStart_SchedulesFirstTouchNow(t *testing.T) {
	f := newFixture(t)
	c := f.usCampaign(t)

	s := f.start(t, c, lead("l1", "US", "America/New_York"))

	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, 0, s.Cursor)
	assert.Equal(t, start, s.NextTouchAt)
	assert.Len(t, s.Pack.Touches, 3)
	require.Len(t, f.sink.OfType(events.TypeSequenceStarted), 1)
}

func TestStart_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.usCampaign(t)
	l := lead("l1", "US", "America/New_York")
	pack := DefaultPack(l, "offer", "en", c.Policy)

	bad := l
	bad.ComplianceOK = false
	_, err := f.seq.Start(ctx, c, bad, pack)
	assert.ErrorIs(t, err, ErrLeadNotCompliant)

	_, err = f.seq.Start(ctx, c, l, Pack{OptOutText: "stop"})
	assert.ErrorIs(t, err, ErrInvalidPack)

	_, err = f.seq.Start(ctx, c, l, pack)
	require.NoError(t, err)
	_, err = f.seq.Start(ctx, c, l, pack)
	assert.ErrorIs(t, err, ErrSequenceExists)

	paused, err := f.mgr.Pause(ctx, c.ID, "operator hold")
	require.NoError(t, err)
	_, err = f.seq.Start(ctx, paused, lead("l2", "US", ""), pack)
	assert.ErrorIs(t, err, ErrCampaignPaused)
}

func TestSendDue_InterestedReplyAfterFirstTouch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.usCampaign(t)
	s := f.start(t, c, lead("l1", "US", "America/New_York"))

	res, err := f.seq.SendDue(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, DispositionSent, res.Disposition)
	assert.Equal(t, 0, res.TouchIndex)
	assert.Equal(t, start.AddDate(0, 0, 3), res.NextTouchAt)

	reply, err := f.seq.HandleReply(ctx, s.ID, Reply{Intent: IntentInterested, Sentiment: SentimentPositive})
	require.NoError(t, err)
	assert.Equal(t, ActionBookDemo, reply.Action)
	assert.Equal(t, StatusPaused, reply.Status)
	require.NotNil(t, reply.Booking)
	assert.Contains(t, reply.Response, reply.Booking.Link)
	require.Len(t, f.booker.Requests(), 1)

	// Touches 2 and 3 never fire.
	f.clk.Advance(30 * 24 * time.Hour)
	due, err := f.seq.Due(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, due)
	res, err = f.seq.SendDue(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, DispositionSkipped, res.Disposition)
	assert.Len(t, f.sender.Sent(), 1)

	got, err := f.seq.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Cursor)
	assert.Equal(t, 1, got.RepliesReceived)

	updated, err := f.mgr.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Stats.TouchesSent)
	assert.Equal(t, int64(1), updated.Stats.Delivered)
	assert.Equal(t, int64(1), updated.Stats.Replies)
	assert.Equal(t, int64(1), updated.Stats.PositiveReplies)
	assert.Equal(t, int64(1), updated.Stats.DemosBooked)
	assert.Len(t, f.sink.OfType(events.TypeBookingHandoff), 1)
}

func TestSendDue_FullSequenceCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.usCampaign(t)
	s := f.start(t, c, lead("l1", "US", "America/New_York"))

	want := []Disposition{DispositionSent, DispositionSent, DispositionCompleted}
	for i, d := range want {
		cur, err := f.seq.Get(ctx, s.ID)
		require.NoError(t, err)
		f.advanceTo(cur.NextTouchAt)

		res, err := f.seq.SendDue(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, d, res.Disposition, "touch %d", i)
		assert.Equal(t, i, res.TouchIndex)
	}

	sent := f.sender.Sent()
	require.Len(t, sent, 3)
	for i, m := range sent {
		assert.Equal(t, i, m.TouchIndex)
		assert.Contains(t, m.Body, DefaultOptOutText)
		assert.Equal(t, "l1@acme.example", m.Recipient)
	}
	// Day 3 after touch 1, then day 7 after touch 2, at the same New York
	// wall-clock time across the DST change.
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 12, 10, 0, 0, 0, ny).UTC(), f.clk.Now())

	got, err := f.seq.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 3, got.Cursor)
	assert.Equal(t, 3, got.TouchesSent)

	ended, err := f.log.Query(ctx, compliancelog.Filter{Action: compliancelog.ActionSequenceEnded})
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, "l1", ended[0].LeadID)
}

func TestHandleReply_OptOutAtFirstTouch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.usCampaign(t)
	l := lead("l1", "US", "America/New_York")
	s := f.start(t, c, l)

	_, err := f.seq.SendDue(ctx, s.ID)
	require.NoError(t, err)

	reply, err := f.seq.HandleReply(ctx, s.ID, Reply{Intent: IntentOptOut, Sentiment: SentimentNegative, Text: "STOP"})
	require.NoError(t, err)
	assert.Equal(t, ActionOptedOut, reply.Action)
	assert.Equal(t, StatusOptedOut, reply.Status)

	suppressed, err := f.gate.Suppression().IsSuppressed(ctx, l.ContactEmail)
	require.NoError(t, err)
	assert.True(t, suppressed)

	// Later touches never send, and a second STOP is idempotent.
	for i := 0; i < 3; i++ {
		f.clk.Advance(4 * 24 * time.Hour)
		res, err := f.seq.SendDue(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, DispositionSkipped, res.Disposition)
	}
	assert.Len(t, f.sender.Sent(), 1)
	again, err := f.seq.HandleReply(ctx, s.ID, Reply{Intent: IntentOptOut})
	require.NoError(t, err)
	assert.Equal(t, ActionOptedOut, again.Action)

	updated, err := f.mgr.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Stats.OptOuts)
	assert.Equal(t, int64(1), updated.Stats.NegativeReplies)

	ended, err := f.log.Query(ctx, compliancelog.Filter{LeadID: "l1", Action: compliancelog.ActionSequenceEnded})
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Contains(t, ended[0].Reason, "opted out")
}

func TestHandleReply_OtherIntents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.usCampaign(t)
	s1 := f.start(t, c, lead("l1", "US", "America/New_York"))
	s2 := f.start(t, c, lead("l2", "US", "America/New_York"))

	q, err := f.seq.HandleReply(ctx, s1.ID, Reply{Intent: IntentQuestion, Sentiment: SentimentNeutral, Text: "How much?"})
	require.NoError(t, err)
	assert.Equal(t, ActionAnswerQuestion, q.Action)
	assert.Equal(t, StatusActive, q.Status)
	assert.NotEmpty(t, q.Response)

	n, err := f.seq.HandleReply(ctx, s2.ID, Reply{Intent: IntentNotInterested, Sentiment: SentimentNegative})
	require.NoError(t, err)
	assert.Equal(t, ActionCompleted, n.Action)
	assert.Equal(t, StatusCompleted, n.Status)

	_, err = f.seq.HandleReply(ctx, s1.ID, Reply{Intent: "maybe"})
	assert.ErrorIs(t, err, ErrUnknownIntent)

	_, err = f.seq.HandleReply(ctx, "missing", Reply{Intent: IntentQuestion})
	assert.ErrorIs(t, err, ErrSequenceNotFound)
}

func TestSendDue_FailureBackoffThenIncident(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sender.Default = OutcomeFailed
	c := f.usCampaign(t)
	s := f.start(t, c, lead("l1", "US", "America/New_York"))

	waits := []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 16 * time.Minute}
	for i, wait := range waits {
		at := f.clk.Now()
		res, err := f.seq.SendDue(ctx, s.ID)
		require.ErrorIs(t, err, ErrSendFailure, "attempt %d", i+1)
		assert.Equal(t, DispositionRetrying, res.Disposition)
		assert.Equal(t, at.Add(wait), res.NextTouchAt)
		f.advanceTo(res.NextTouchAt)
	}

	res, err := f.seq.SendDue(ctx, s.ID)
	require.ErrorIs(t, err, ErrSendFailure)
	assert.Equal(t, DispositionPaused, res.Disposition)

	got, err := f.seq.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, got.Status)
	assert.Equal(t, 0, got.Cursor, "a failed touch is never skipped")
	assert.Equal(t, 6, got.Attempts)

	items := f.review.Items()
	require.Len(t, items, 1)
	assert.Equal(t, s.ID, items[0].SequenceID)

	incidents, err := f.log.Query(ctx, compliancelog.Filter{Action: compliancelog.ActionIncident})
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	// Failed sends give their rate slot back.
	assert.Zero(t, f.counter.Count(compliance.CounterKey(c.ID, policy.ChannelEmail, f.clk.Now())))
	assert.Len(t, f.sender.Sent(), 6)
}

func TestSendDue_GateBlockPausesAndPagesInSemi(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.usCampaign(t)
	l := lead("l1", "US", "America/New_York")
	s := f.start(t, c, l)
	require.NoError(t, f.gate.Suppression().Suppress(ctx, l.ContactEmail, start.Add(48*time.Hour)))

	res, err := f.seq.SendDue(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, DispositionPaused, res.Disposition)
	assert.Contains(t, res.Reason, "do-not-contact")
	assert.Empty(t, f.sender.Sent())
	require.Len(t, f.pager.Alerts(), 1)
	assert.Equal(t, "critical", f.pager.Alerts()[0].Severity)

	// A block never resumes on its own.
	f.clk.Advance(72 * time.Hour)
	res, err = f.seq.SendDue(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, DispositionSkipped, res.Disposition)

	_, err = f.seq.Resume(ctx, s.ID, "")
	assert.ErrorIs(t, err, ErrReviewerRequired)
	resumed, err := f.seq.Resume(ctx, s.ID, "ops@acme.example")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)
	assert.Empty(t, resumed.PauseReason)

	res, err = f.seq.SendDue(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, DispositionSent, res.Disposition)

	resumes, err := f.log.Query(ctx, compliancelog.Filter{Action: compliancelog.ActionSequenceResumed})
	require.NoError(t, err)
	require.Len(t, resumes, 1)
	assert.Equal(t, "ops@acme.example", resumes[0].Reviewer)
}

func TestSendDue_RateLimitDefersToNextDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.usCampaign(t)
	s := f.start(t, c, lead("l1", "US", "America/New_York"))

	limit := c.EffectiveDailyLimit(policy.ChannelEmail)
	key := compliance.CounterKey(c.ID, policy.ChannelEmail, start)
	for i := 0; i < limit; i++ {
		ok, _, err := f.counter.Allow(ctx, key, limit)
		require.NoError(t, err)
		require.True(t, ok)
	}

	res, err := f.seq.SendDue(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, DispositionDeferred, res.Disposition)
	// Midnight UTC is 19:00 in New York, outside quiet hours.
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), res.NextTouchAt)

	got, err := f.seq.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Empty(t, f.sender.Sent())

	f.advanceTo(res.NextTouchAt)
	res, err = f.seq.SendDue(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, DispositionSent, res.Disposition)
}

func TestSendDue_PausedCampaignDefers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.usCampaign(t)
	s := f.start(t, c, lead("l1", "US", "America/New_York"))
	_, err := f.mgr.Pause(ctx, c.ID, "operator hold")
	require.NoError(t, err)

	res, err := f.seq.SendDue(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, DispositionDeferred, res.Disposition)
	assert.Equal(t, start.Add(DefaultPausedRecheck), res.NextTouchAt)
	assert.Empty(t, f.sender.Sent())

	_, err = f.seq.HandleReply(ctx, s.ID, Reply{Intent: IntentInterested})
	require.NoError(t, err)
	_, err = f.seq.Resume(ctx, s.ID, "ops")
	assert.ErrorIs(t, err, ErrCampaignPaused)
}

func TestSendDue_SafeModeApproval(t *testing.T) {
	ctx := context.Background()

	t.Run("denied", func(t *testing.T) {
		f := newFixture(t, WithApprover(mode.DenyAll{}))
		c := f.ukCampaign(t)
		l := lead("l1", "UK", "Europe/London")
		require.NoError(t, f.gate.Consent().Grant(ctx, l.ContactEmail, policy.ChannelEmail))
		s := f.start(t, c, l)

		res, err := f.seq.SendDue(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, DispositionPaused, res.Disposition)
		assert.Equal(t, "approval denied", res.Reason)
		assert.Empty(t, f.sender.Sent())
		assert.Zero(t, f.counter.Count(compliance.CounterKey(c.ID, policy.ChannelEmail, start)))

		blocks, err := f.log.Query(ctx, compliancelog.Filter{LeadID: "l1", Result: compliancelog.ResultBlock})
		require.NoError(t, err)
		require.Len(t, blocks, 1)
		assert.Equal(t, "approval", blocks[0].Check)
	})

	t.Run("approved", func(t *testing.T) {
		f := newFixture(t)
		c := f.ukCampaign(t)
		l := lead("l1", "UK", "Europe/London")
		require.NoError(t, f.gate.Consent().Grant(ctx, l.ContactEmail, policy.ChannelEmail))
		s := f.start(t, c, l)

		res, err := f.seq.SendDue(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, DispositionSent, res.Disposition)
		reqs := f.approver.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, s.ID, reqs[0].SequenceID)
		assert.Equal(t, 0, reqs[0].TouchIndex)
	})

	t.Run("consent withdrawn while waiting", func(t *testing.T) {
		f := newFixture(t)
		c := f.ukCampaign(t)
		l := lead("l1", "UK", "Europe/London")
		require.NoError(t, f.gate.Consent().Grant(ctx, l.ContactEmail, policy.ChannelEmail))
		f.seq.approver = &hookApprover{decision: true, during: func() {
			require.NoError(t, f.gate.Consent().Revoke(ctx, l.ContactEmail, policy.ChannelEmail))
		}}
		s := f.start(t, c, l)

		res, err := f.seq.SendDue(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, DispositionPaused, res.Disposition)
		assert.Contains(t, res.Reason, "consent withdrawn")
		assert.Empty(t, f.sender.Sent())
		assert.Zero(t, f.counter.Count(compliance.CounterKey(c.ID, policy.ChannelEmail, start)))
	})

	t.Run("denial after midnight refunds the reserved day", func(t *testing.T) {
		f := newFixture(t)
		c := f.ukCampaign(t)
		// 18:58 in New York, outside quiet hours.
		l := lead("l1", "UK", "America/New_York")
		require.NoError(t, f.gate.Consent().Grant(ctx, l.ContactEmail, policy.ChannelEmail))
		s := f.start(t, c, l)
		reservedAt := time.Date(2026, 3, 2, 23, 58, 0, 0, time.UTC)
		f.clk.Set(reservedAt)
		f.seq.approver = &hookApprover{during: func() { f.clk.Advance(5 * time.Minute) }}

		res, err := f.seq.SendDue(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, DispositionPaused, res.Disposition)
		assert.Zero(t, f.counter.Count(compliance.CounterKey(c.ID, policy.ChannelEmail, reservedAt)))
	})

	t.Run("no consent blocks before approval", func(t *testing.T) {
		f := newFixture(t)
		c := f.ukCampaign(t)
		s := f.start(t, c, lead("l1", "UK", "Europe/London"))

		res, err := f.seq.SendDue(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, DispositionPaused, res.Disposition)
		assert.Empty(t, f.approver.Requests())
	})
}

func TestSendDue_AuditUnavailableDefers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.usCampaign(t)
	s := f.start(t, c, lead("l1", "US", "America/New_York"))

	broken := &failingGate{Gate: f.gate}
	q, err := New(f.seq.repo, f.mgr, broken, f.log, WithSender(f.sender), WithClock(f.clk))
	require.NoError(t, err)

	res, err := q.SendDue(ctx, s.ID)
	require.ErrorIs(t, err, compliance.ErrAuditUnavailable)
	assert.Equal(t, DispositionDeferred, res.Disposition)
	assert.Equal(t, start.Add(time.Minute), res.NextTouchAt)
	assert.Empty(t, f.sender.Sent())
}

// hookApprover runs during before deciding.
type hookApprover struct {
	decision bool
	during   func()
}

func (h *hookApprover) Approve(context.Context, mode.ApprovalRequest) (bool, error) {
	if h.during != nil {
		h.during()
	}
	return h.decision, nil
}

type failingGate struct {
	*compliance.Gate
}

func (g *failingGate) Validate(context.Context, compliance.Action, *policy.Policy) (compliance.Verdict, error) {
	return compliance.Verdict{Result: compliancelog.ResultBlock}, compliance.ErrAuditUnavailable
}

func TestSchedule_QuietHoursAndTimezones(t *testing.T) {
	us := policy.Default("x")
	us.QuietHours = policy.QuietHours{Start: "21:00", End: "08:00"}

	// 21:00 in New York.
	from := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	got := schedule(from, 3, "America/New_York", us)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 5, 8, 0, 0, 0, ny).UTC(), got)

	// Unknown zones fall back to UTC.
	got = schedule(time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC), 0, "Mars/Olympus", us)
	assert.Equal(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), got)

	// Outside quiet hours the offset keeps the local wall-clock time.
	got = schedule(start, 7, "America/New_York", us)
	assert.Equal(t, time.Date(2026, 3, 9, 10, 0, 0, 0, ny).UTC(), got)
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := &RetryConfig{}
	cfg.ApplyDefaults()

	assert.Equal(t, time.Minute, cfg.Backoff(1))
	assert.Equal(t, 2*time.Minute, cfg.Backoff(2))
	assert.Equal(t, 16*time.Minute, cfg.Backoff(5))
	assert.Equal(t, 32*time.Minute, cfg.Backoff(6))
	assert.Equal(t, time.Hour, cfg.Backoff(7))
	assert.Equal(t, time.Hour, cfg.Backoff(20))
	assert.Equal(t, time.Minute, cfg.Backoff(0))

	assert.False(t, cfg.Exhausted(5))
	assert.True(t, cfg.Exhausted(6))
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	km := newKeyedMutex()
	unlock := km.Lock("a")

	acquired := make(chan struct{})
	go func() {
		u := km.Lock("a")
		close(acquired)
		u()
	}()

	other := km.Lock("b")
	other()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock never released")
	}

	assert.Eventually(t, func() bool {
		km.mu.Lock()
		defer km.mu.Unlock()
		return len(km.locks) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRunner_SendsDueTouchesOnTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	c := f.usCampaign(t)
	f.start(t, c, lead("l1", "US", "America/New_York"))
	f.start(t, c, lead("l2", "US", "America/New_York"))
	f.start(t, c, lead("l3", "US", "America/New_York"))

	r := NewRunner(f.seq, &RunnerConfig{Interval: time.Minute, Concurrency: 2})
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		f.clk.Advance(time.Minute)
		return len(f.sender.Sent()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_TickSkipsAfterCancel(t *testing.T) {
	f := newFixture(t)
	c := f.usCampaign(t)
	f.start(t, c, lead("l1", "US", "America/New_York"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(f.seq, nil)
	n, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.sender.Sent())
}

func TestMemoryRepository_DueOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	mk := func(id, leadID string, at time.Time, st Status) *Sequence {
		return &Sequence{ID: id, CampaignID: "c", LeadID: leadID, Status: st, NextTouchAt: at}
	}
	require.NoError(t, repo.Create(ctx, mk("b", "l2", start.Add(-time.Hour), StatusActive)))
	require.NoError(t, repo.Create(ctx, mk("a", "l1", start.Add(-2*time.Hour), StatusActive)))
	require.NoError(t, repo.Create(ctx, mk("c", "l3", start.Add(time.Hour), StatusActive)))
	require.NoError(t, repo.Create(ctx, mk("d", "l4", start.Add(-time.Hour), StatusPaused)))

	due, err := repo.Due(ctx, start, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].ID)
	assert.Equal(t, "b", due[1].ID)

	due, err = repo.Due(ctx, start, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	err = repo.Create(ctx, mk("e", "l1", start, StatusActive))
	assert.True(t, errors.Is(err, ErrSequenceExists))

	found, err := repo.FindByLead(ctx, "c", "l3")
	require.NoError(t, err)
	assert.Equal(t, "c", found.ID)
}
