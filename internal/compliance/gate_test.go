package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/clock"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Monday 15:00 UTC is 11:00 in New York and 16:00 in London.
var noonish = time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)

type fixture struct {
	gate    *Gate
	log     *compliancelog.MemoryLog
	counter *MemoryCounter
	consent *MemoryConsent
	dnc     *MemorySuppression
	clock   *clock.Fake
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		log:     compliancelog.NewMemoryLog(),
		counter: NewMemoryCounter(),
		consent: NewMemoryConsent(),
		clock:   clock.NewFake(noonish),
	}
	f.dnc = NewMemorySuppression(f.clock.Now)
	all := append([]Option{
		WithClock(f.clock),
		WithConsentStore(f.consent),
		WithSuppressionList(f.dnc),
	}, opts...)
	g, err := NewGate(f.log, f.counter, all...)
	require.NoError(t, err)
	f.gate = g
	return f
}

func registry(t *testing.T) *policy.Registry {
	t.Helper()
	r, err := policy.NewRegistry()
	require.NoError(t, err)
	return r
}

func lookup(t *testing.T, key string) *policy.Policy {
	t.Helper()
	p, ok := registry(t).Lookup(key)
	require.True(t, ok)
	return p
}

const usContent = "Hello. Sender identity: Acme. Physical address: 1 Main St. Opt-out mechanism: reply STOP."

func usSend() Action {
	return Action{
		Kind:       KindSendTouch,
		CampaignID: "c1",
		LeadID:     "l1",
		Channel:    policy.ChannelEmail,
		Recipient:  "ceo@example.com",
		Timezone:   "America/New_York",
		Content:    usContent,
	}
}

func TestNewGate_RequiresCollaborators(t *testing.T) {
	_, err := NewGate(nil, NewMemoryCounter())
	assert.ErrorIs(t, err, ErrNilLog)
	_, err = NewGate(compliancelog.NewMemoryLog(), nil)
	assert.ErrorIs(t, err, ErrNilCounter)
}

func TestGate_PassLogsEvent(t *testing.T) {
	f := newFixture(t)

	v, err := f.gate.Validate(context.Background(), usSend(), lookup(t, "US"))
	require.NoError(t, err)

	assert.Equal(t, compliancelog.ResultPass, v.Result)
	assert.True(t, v.Permitted())
	assert.NoError(t, v.Err())
	require.Equal(t, 1, f.log.Len())

	ev := f.log.Tail(1)[0]
	assert.Equal(t, v.EventID, ev.ID)
	assert.Equal(t, "US", ev.Jurisdiction)
	assert.Equal(t, "send_touch", ev.Action)

	var in map[string]any
	require.NoError(t, json.Unmarshal([]byte(ev.Input), &in))
	assert.Equal(t, float64(1000), in["limit"])
	assert.Equal(t, float64(1), in["count"])
}

func TestGate_CheckOrder(t *testing.T) {
	tests := []struct {
		name      string
		policyKey string
		mutate    func(*fixture, *Action)
		wantCheck Check
	}{
		{
			name:      "channel not permitted",
			policyKey: "EU",
			mutate:    func(_ *fixture, a *Action) { a.Channel = policy.ChannelCall },
			wantCheck: CheckChannel,
		},
		{
			name:      "opt-in missing in EU",
			policyKey: "EU",
			mutate:    func(_ *fixture, a *Action) { a.Timezone = "Europe/Berlin" },
			wantCheck: CheckOptIn,
		},
		{
			name:      "suppressed recipient",
			policyKey: "US",
			mutate: func(f *fixture, a *Action) {
				require.NoError(t, f.dnc.Suppress(context.Background(), a.Recipient, noonish.Add(time.Hour)))
			},
			wantCheck: CheckDNC,
		},
		{
			name:      "quiet hours in recipient zone",
			policyKey: "US",
			mutate:    func(_ *fixture, a *Action) { a.Timezone = "Asia/Tokyo" }, // 00:00 local
			wantCheck: CheckQuietHours,
		},
		{
			name:      "missing disclosure",
			policyKey: "US",
			mutate:    func(_ *fixture, a *Action) { a.Content = "Sender identity: Acme" },
			wantCheck: CheckDisclosures,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := usSend()
			tt.mutate(f, &a)

			v, err := f.gate.Validate(context.Background(), a, lookup(t, tt.policyKey))
			require.NoError(t, err)

			assert.Equal(t, compliancelog.ResultBlock, v.Result)
			assert.Equal(t, tt.wantCheck, v.Check)
			assert.ErrorIs(t, v.Err(), ErrComplianceBlock)
			assert.Equal(t, 1, f.log.Len())
		})
	}
}

func TestGate_DisclosureBlockReleasesRateSlot(t *testing.T) {
	f := newFixture(t)
	a := usSend()
	a.Content = "no disclosures"

	_, err := f.gate.Validate(context.Background(), a, lookup(t, "US"))
	require.NoError(t, err)

	assert.Zero(t, f.counter.Count(CounterKey("c1", policy.ChannelEmail, noonish)))
}

func TestGate_DeclaredDisclosuresMustAppearInSentContent(t *testing.T) {
	f := newFixture(t)
	a := usSend()
	a.Content = "Hi. Sender identity: Acme. Opt-out mechanism: reply STOP."
	a.Disclosures = []string{"sender identity", "Physical address", "Opt-out mechanism"}

	v, err := f.gate.Validate(context.Background(), a, lookup(t, "US"))
	require.NoError(t, err)
	assert.Equal(t, compliancelog.ResultBlock, v.Result)
	assert.Equal(t, CheckDisclosures, v.Check)
	assert.Contains(t, v.Reason, "Physical address")
	assert.Empty(t, v.SlotKey)
}

func TestGate_SuppressionAppliesWithoutDNCRequirement(t *testing.T) {
	f := newFixture(t)
	p := lookup(t, "US")
	p.DNCRequired = false
	a := usSend()
	require.NoError(t, f.dnc.Suppress(context.Background(), a.Recipient, noonish.Add(time.Hour)))

	v, err := f.gate.Validate(context.Background(), a, p)
	require.NoError(t, err)
	assert.Equal(t, CheckDNC, v.Check)
	assert.False(t, v.Permitted())
}

func TestGate_RefundReleasesReservedDay(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2026, 6, 1, 23, 59, 0, 0, time.UTC))
	reservedAt := f.clock.Now()
	a := usSend()
	a.Timezone = "America/Los_Angeles"

	v, err := f.gate.Validate(context.Background(), a, lookup(t, "US"))
	require.NoError(t, err)
	require.True(t, v.Permitted())
	assert.Equal(t, CounterKey("c1", policy.ChannelEmail, reservedAt), v.SlotKey)

	// The send is abandoned after UTC midnight.
	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.gate.Refund(context.Background(), v))
	assert.Zero(t, f.counter.Count(CounterKey("c1", policy.ChannelEmail, reservedAt)))

	require.NoError(t, f.gate.Refund(context.Background(), Verdict{}))
}

func TestGate_RateLimitIsTransient(t *testing.T) {
	f := newFixture(t)
	a := usSend()
	a.DailyLimit = 2
	p := lookup(t, "US")

	for i := 0; i < 2; i++ {
		v, err := f.gate.Validate(context.Background(), a, p)
		require.NoError(t, err)
		require.True(t, v.Permitted())
	}

	v, err := f.gate.Validate(context.Background(), a, p)
	require.NoError(t, err)
	assert.Equal(t, CheckRateLimit, v.Check)
	assert.True(t, v.Transient)
	assert.ErrorIs(t, v.Err(), ErrRateLimitExceeded)
	assert.NotErrorIs(t, v.Err(), ErrComplianceBlock)

	// A new UTC day starts a fresh counter.
	f.clock.Advance(24 * time.Hour)
	v, err = f.gate.Validate(context.Background(), a, p)
	require.NoError(t, err)
	assert.True(t, v.Permitted())
}

func TestGate_ModeLimitCannotRaisePolicyLimit(t *testing.T) {
	f := newFixture(t)
	a := usSend()
	a.DailyLimit = 5000

	_, err := f.gate.Validate(context.Background(), a, lookup(t, "US"))
	require.NoError(t, err)

	var in map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.log.Tail(1)[0].Input), &in))
	assert.Equal(t, float64(1000), in["limit"])
}

func TestGate_EUWithConsentPasses(t *testing.T) {
	f := newFixture(t)
	a := usSend()
	a.Timezone = "Europe/Berlin"
	a.Content = "Data controller identity, Legal basis for processing, Right to withdraw consent, Right to erasure, Data protection officer contact"
	require.NoError(t, f.consent.Grant(context.Background(), "CEO@example.com", policy.ChannelEmail))

	v, err := f.gate.Validate(context.Background(), a, lookup(t, "EU"))
	require.NoError(t, err)
	assert.Equal(t, compliancelog.ResultPass, v.Result)
}

func TestGate_LowConfidenceWarns(t *testing.T) {
	f := newFixture(t)
	p := policy.Default("Narnia")
	p.OptInRequired["email"] = false
	a := usSend()
	a.Content = "Sender identity, Opt-out mechanism, Privacy notice"

	v, err := f.gate.Validate(context.Background(), a, p)
	require.NoError(t, err)

	assert.Equal(t, compliancelog.ResultWarning, v.Result)
	assert.Equal(t, CheckConfidence, v.Check)
	assert.True(t, v.Permitted())
}

func TestGate_NilPolicyFailsClosed(t *testing.T) {
	f := newFixture(t)

	v, err := f.gate.Validate(context.Background(), usSend(), nil)
	require.NoError(t, err)
	assert.Equal(t, CheckOptIn, v.Check)
}

func TestGate_IdenticalCallsProduceDistinctEvents(t *testing.T) {
	f := newFixture(t)
	p := lookup(t, "EU")
	a := usSend()

	v1, err := f.gate.Validate(context.Background(), a, p)
	require.NoError(t, err)
	v2, err := f.gate.Validate(context.Background(), a, p)
	require.NoError(t, err)

	assert.NotEqual(t, v1.EventID, v2.EventID)
	v1.EventID, v2.EventID = "", ""
	assert.Equal(t, v1, v2)
	assert.Equal(t, 2, f.log.Len())
}

type failingLog struct{}

func (failingLog) Append(context.Context, compliancelog.Event) (compliancelog.Event, error) {
	return compliancelog.Event{}, errors.New("disk full")
}

func (failingLog) Query(context.Context, compliancelog.Filter) ([]compliancelog.Event, error) {
	return nil, nil
}

func TestGate_AuditFailureBlocksAndRefunds(t *testing.T) {
	counter := NewMemoryCounter()
	g, err := NewGate(failingLog{}, counter, WithClock(clock.NewFake(noonish)))
	require.NoError(t, err)

	v, err := g.Validate(context.Background(), usSend(), lookup(t, "US"))
	require.ErrorIs(t, err, ErrAuditUnavailable)
	assert.False(t, v.Permitted())
	assert.Equal(t, CheckAudit, v.Check)
	assert.Zero(t, counter.Count(CounterKey("c1", policy.ChannelEmail, noonish)))
}

type brokenConsent struct{ *MemoryConsent }

func (brokenConsent) HasConsent(context.Context, string, policy.Channel) (bool, error) {
	return false, errors.New("consent service down")
}

func TestGate_CollaboratorErrorBlocks(t *testing.T) {
	f := newFixture(t, WithConsentStore(brokenConsent{NewMemoryConsent()}))

	v, err := f.gate.Validate(context.Background(), usSend(), lookup(t, "EU"))
	require.NoError(t, err)
	assert.Equal(t, CheckCollaborator, v.Check)
	assert.False(t, v.Permitted())
}

func TestGate_Precheck(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		action    Action
		wantCheck Check
		wantPass  bool
	}{
		{
			name:      "EU email without opt-in is blocked",
			key:       "EU",
			action:    Action{Kind: KindCampaignPrecheck, Channels: []policy.Channel{policy.ChannelEmail}, Country: "EU", Industry: "saas", Language: "en"},
			wantCheck: CheckOptIn,
		},
		{
			name:      "channel outside policy",
			key:       "UK",
			action:    Action{Kind: KindCampaignPrecheck, Channels: []policy.Channel{policy.ChannelSMS}, Country: "UK", Industry: "saas", Language: "en"},
			wantCheck: CheckChannel,
		},
		{
			name:      "missing inputs",
			key:       "US",
			action:    Action{Kind: KindCampaignPrecheck, Country: "US"},
			wantCheck: CheckInputs,
		},
		{
			name: "US email passes",
			key:  "US",
			action: Action{
				Kind: KindCampaignPrecheck, Country: "US", Industry: "saas", Language: "en",
				Disclosures: []string{"Sender identity", "Physical address", "Opt-out mechanism"},
			},
			wantPass: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			v, err := f.gate.Validate(context.Background(), tt.action, lookup(t, tt.key))
			require.NoError(t, err)
			if tt.wantPass {
				assert.Equal(t, compliancelog.ResultPass, v.Result)
				return
			}
			assert.Equal(t, compliancelog.ResultBlock, v.Result)
			assert.Equal(t, tt.wantCheck, v.Check)
			assert.Contains(t, f.log.Tail(1)[0].Reason, v.Reason)
		})
	}
}

type staticScanner struct{ clean bool }

func (s staticScanner) Clean(string) (bool, []string) {
	if s.clean {
		return true, nil
	}
	return false, []string{"generic-api-key"}
}

func TestGate_ContentScannerBlocks(t *testing.T) {
	f := newFixture(t, WithContentScanner(staticScanner{clean: false}))

	v, err := f.gate.Validate(context.Background(), usSend(), lookup(t, "US"))
	require.NoError(t, err)
	assert.Equal(t, CheckContent, v.Check)
	assert.Zero(t, f.counter.Count(CounterKey("c1", policy.ChannelEmail, noonish)))
}

func TestGate_LogsBlocksAtWarn(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := newFixture(t, WithLogger(zap.New(core)))

	_, err := f.gate.Validate(context.Background(), usSend(), lookup(t, "EU"))
	require.NoError(t, err)

	entries := logs.FilterMessage("action blocked").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "opt_in", entries[0].ContextMap()["check"])
}

func TestMemoryCounter_ConcurrentAllowNeverExceedsLimit(t *testing.T) {
	c := NewMemoryCounter()
	key := CounterKey("c1", policy.ChannelEmail, noonish)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := c.Allow(context.Background(), key, 50)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
	assert.Equal(t, int64(50), c.Count(key))
}

func TestMemoryCounter_PrunesOldDays(t *testing.T) {
	c := NewMemoryCounter()
	old := CounterKey("c1", policy.ChannelEmail, noonish.AddDate(0, 0, -5))
	_, _, _ = c.Allow(context.Background(), old, 10)

	_, _, _ = c.Allow(context.Background(), CounterKey("c1", policy.ChannelEmail, noonish), 10)

	assert.Zero(t, c.Count(old))
}

func TestMemorySuppression_Expires(t *testing.T) {
	fc := clock.NewFake(noonish)
	s := NewMemorySuppression(fc.Now)
	require.NoError(t, s.Suppress(context.Background(), "a@b.com", noonish.Add(time.Hour)))

	ok, _ := s.IsSuppressed(context.Background(), "A@B.com")
	assert.True(t, ok)

	fc.Advance(2 * time.Hour)
	ok, _ = s.IsSuppressed(context.Background(), "a@b.com")
	assert.False(t, ok)
}
