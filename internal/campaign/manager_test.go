package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/outreachd/internal/clock"
	"github.com/fyrsmithlabs/outreachd/internal/compliance"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/events"
	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	"github.com/fyrsmithlabs/outreachd/internal/mode"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

type fixture struct {
	mgr   *Manager
	log   *compliancelog.MemoryLog
	sink  *events.MemorySink
	pager *mode.RecordingPager
	reg   *policy.Registry
}

func newFixture(t *testing.T, opts ...ManagerOption) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))
	log := compliancelog.NewMemoryLog(compliancelog.WithClock(clk.Now))
	gate, err := compliance.NewGate(log, compliance.NewMemoryCounter(), compliance.WithClock(clk))
	require.NoError(t, err)
	reg, err := policy.NewRegistry()
	require.NoError(t, err)

	f := &fixture{log: log, sink: &events.MemorySink{}, pager: &mode.RecordingPager{}, reg: reg}
	cfg := DefaultManagerConfig()
	cfg.MinGuardrailSample = 100
	opts = append([]ManagerOption{WithSink(f.sink), WithPager(f.pager), WithClock(clk)}, opts...)
	f.mgr = NewManager(NewMemoryRepository(), reg, gate, log, cfg, opts...)
	return f
}

func usConfig() Config {
	return Config{
		Country:     "United States",
		Industry:    "Restaurant",
		Language:    "en",
		Offer:       "AI receptionist",
		Channels:    []policy.Channel{policy.ChannelEmail},
		Disclosures: []string{"Sender identity", "Physical address", "Opt-out mechanism"},
	}
}

func TestCreate_USCampaign(t *testing.T) {
	f := newFixture(t)
	c, err := f.mgr.Create(context.Background(), usConfig())
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, StatusActive, c.Status)
	assert.Equal(t, mode.Semi, c.Mode)
	assert.True(t, c.PolicyKnown)
	assert.Equal(t, "US", c.Policy.JurisdictionID)
	assert.Equal(t, "restaurant", c.Config.Industry)
	assert.Equal(t, []string{"US"}, c.ICP.Geos)
	assert.Equal(t, 250, c.EffectiveDailyLimit(policy.ChannelEmail))

	logged, err := f.log.Query(context.Background(), compliancelog.Filter{CampaignID: c.ID})
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Equal(t, compliancelog.ActionCampaignPrecheck, logged[0].Action)
	assert.Equal(t, compliancelog.ActionCampaignCreated, logged[1].Action)
	assert.Equal(t, compliancelog.ResultPass, logged[1].Result)

	require.Len(t, f.sink.OfType(events.TypeCampaignCreated), 1)
}

func TestCreate_EUWithoutOptInIsRejected(t *testing.T) {
	f := newFixture(t)
	cfg := Config{
		Country:  "EU",
		Industry: "retail",
		Language: "de",
		Channels: []policy.Channel{policy.ChannelEmail},
		OptIn:    false,
	}
	c, err := f.mgr.Create(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, compliance.ErrComplianceBlock)

	var be *compliance.BlockError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, compliance.CheckOptIn, be.Check)

	list, err := f.mgr.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)

	blocks, err := f.log.Query(context.Background(), compliancelog.Filter{Result: compliancelog.ResultBlock})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0].Reason, "opt-in")
}

func TestCreate_DisallowedChannelIsRejected(t *testing.T) {
	f := newFixture(t)
	cfg := usConfig()
	cfg.Channels = []policy.Channel{policy.ChannelWhatsApp}
	_, err := f.mgr.Create(context.Background(), cfg)
	assert.ErrorIs(t, err, compliance.ErrComplianceBlock)
}

func TestCreate_LookalikeCountryNameForcesSafe(t *testing.T) {
	f := newFixture(t)
	c, err := f.mgr.Create(context.Background(), Config{
		Country:     "Austria",
		Industry:    "retail",
		Language:    "de",
		OptIn:       true,
		Disclosures: []string{"Sender identity", "Opt-out mechanism", "Privacy notice"},
	})
	require.NoError(t, err)
	assert.Equal(t, mode.Safe, c.Mode)
	assert.False(t, c.PolicyKnown)
	assert.Equal(t, policy.UnknownJurisdiction, c.Policy.JurisdictionID)
}

func TestCreate_UnknownJurisdictionForcesSafe(t *testing.T) {
	f := newFixture(t)
	cfg := Config{
		Country:     "Brazil",
		Industry:    "retail",
		Language:    "pt",
		OptIn:       true,
		Disclosures: []string{"Sender identity", "Opt-out mechanism", "Privacy notice"},
	}
	c, err := f.mgr.Create(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, mode.Safe, c.Mode)
	assert.False(t, c.PolicyKnown)
	assert.Equal(t, policy.UnknownJurisdiction, c.Policy.JurisdictionID)
	assert.Equal(t, []policy.Channel{policy.ChannelEmail}, c.Config.Channels)

	created, err := f.log.Query(context.Background(), compliancelog.Filter{
		CampaignID: c.ID,
		Action:     compliancelog.ActionCampaignCreated,
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, compliancelog.ResultWarning, created[0].Result)
	assert.Contains(t, created[0].Reason, policy.ErrPolicyUnknown.Error())
}

func TestCreate_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing country", func(c *Config) { c.Country = " " }},
		{"missing industry", func(c *Config) { c.Industry = "" }},
		{"missing language", func(c *Config) { c.Language = "" }},
		{"negative volume", func(c *Config) { c.WeeklyVolume = -1 }},
		{"unknown channel", func(c *Config) { c.Channels = []policy.Channel{"fax"} }},
		{"duplicate channel", func(c *Config) {
			c.Channels = []policy.Channel{policy.ChannelEmail, policy.ChannelEmail}
		}},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			cfg := usConfig()
			tt.mutate(&cfg)
			_, err := f.mgr.Create(context.Background(), cfg)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Zero(t, f.log.Len(), "configuration errors never reach the gate")
		})
	}
}

func TestCreate_PolicySnapshotIsImmutable(t *testing.T) {
	f := newFixture(t)
	c, err := f.mgr.Create(context.Background(), usConfig())
	require.NoError(t, err)

	c.Policy.AllowedChannels = nil
	c.Policy.DailyLimits["email"] = 1

	stored, err := f.mgr.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, []policy.Channel{policy.ChannelEmail, policy.ChannelCall}, stored.Policy.AllowedChannels)
	assert.Equal(t, 1000, stored.Policy.DailyLimit(policy.ChannelEmail))
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.mgr.Create(ctx, usConfig())
	require.NoError(t, err)

	paused, err := f.mgr.Pause(ctx, c.ID, "holiday freeze")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)
	assert.Equal(t, "holiday freeze", paused.PauseReason)

	_, err = f.mgr.Pause(ctx, c.ID, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.mgr.Resume(ctx, c.ID, "  ")
	assert.ErrorIs(t, err, ErrReviewerRequired)

	resumed, err := f.mgr.Resume(ctx, c.ID, "dana@ops")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)
	assert.Empty(t, resumed.PauseReason)
	assert.Equal(t, "dana@ops", resumed.ResumedBy)

	logged, err := f.log.Query(ctx, compliancelog.Filter{Action: compliancelog.ActionCampaignResumed})
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, "dana@ops", logged[0].Reviewer)
	assert.Contains(t, logged[0].Reason, "holiday freeze")

	done, err := f.mgr.Complete(ctx, c.ID, "")
	require.NoError(t, err)
	assert.True(t, done.Status.IsTerminal())
	_, err = f.mgr.Resume(ctx, c.ID, "dana@ops")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCampaignNotFound)
	_, err = f.mgr.Pause(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestRecordMetrics_AccumulatesAndDerivesRates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.mgr.Create(ctx, usConfig())
	require.NoError(t, err)

	_, err = f.mgr.RecordMetrics(ctx, c.ID, Delta{TouchesSent: 40, Delivered: 39, Bounced: 1, Replies: 4})
	require.NoError(t, err)
	got, err := f.mgr.RecordMetrics(ctx, c.ID, Delta{TouchesSent: 10, Replies: 1, PositiveReplies: 2, DemosBooked: 1, Bounced: -5})
	require.NoError(t, err)

	assert.EqualValues(t, 50, got.Stats.TouchesSent)
	assert.EqualValues(t, 1, got.Stats.Bounced, "negative increments are ignored")
	rates := got.Stats.Rates()
	assert.InDelta(t, 0.10, rates.ReplyRate, 1e-9)
	assert.InDelta(t, 0.04, rates.PositiveReplyRate, 1e-9)
	assert.InDelta(t, 0.02, rates.DemoBookRate, 1e-9)
	assert.InDelta(t, 0.02, rates.BounceRate, 1e-9)
	assert.Equal(t, Rates{}, Stats{}.Rates())
}

func TestRecordMetrics_GuardrailBreachPauses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.mgr.Create(ctx, usConfig())
	require.NoError(t, err)

	// Below the minimum sample a high bounce rate is tolerated.
	_, err = f.mgr.RecordMetrics(ctx, c.ID, Delta{TouchesSent: 50, Bounced: 10})
	require.NoError(t, err)

	got, err := f.mgr.RecordMetrics(ctx, c.ID, Delta{TouchesSent: 50, OptOuts: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGuardrailBreach)

	var be *guardrail.BreachError
	require.True(t, errors.As(err, &be))
	require.Len(t, be.Violations, 2)
	assert.Equal(t, "bounce_rate", be.Violations[0].Metric)
	assert.Equal(t, "opt_out_rate", be.Violations[1].Metric)

	require.NotNil(t, got)
	assert.Equal(t, StatusPaused, got.Status)
	assert.Contains(t, got.PauseReason, "guardrail breach")

	breaches, err := f.log.Query(ctx, compliancelog.Filter{Action: compliancelog.ActionGuardrailBreach})
	require.NoError(t, err)
	require.Len(t, breaches, 1)
	assert.Equal(t, compliancelog.ResultBlock, breaches[0].Result)
	assert.Contains(t, breaches[0].Reason, "bounce_rate")
	assert.Contains(t, breaches[0].Reason, "opt_out_rate")

	// US campaigns run in SEMI mode, which pages on breaches.
	require.Len(t, f.pager.Alerts(), 1)
	assert.Equal(t, c.ID, f.pager.Alerts()[0].CampaignID)

	// A paused campaign is not re-evaluated.
	vs, err := f.mgr.EvaluateGuardrails(ctx, c.ID)
	assert.NoError(t, err)
	assert.Empty(t, vs)

	resumed, err := f.mgr.Resume(ctx, c.ID, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)
}

func TestList_OrderedByCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.mgr.Create(ctx, usConfig())
	require.NoError(t, err)
	f.mgr.clock.(*clock.Fake).Advance(time.Minute)
	b, err := f.mgr.Create(ctx, usConfig())
	require.NoError(t, err)

	list, err := f.mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, StatusActive.CanTransitionTo(StatusPaused))
	assert.True(t, StatusActive.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusPaused.CanTransitionTo(StatusActive))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusActive))
	assert.False(t, StatusActive.CanTransitionTo(StatusActive))
	assert.False(t, Status("bogus").CanTransitionTo(StatusActive))
}
