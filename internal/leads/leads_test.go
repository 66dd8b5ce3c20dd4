package leads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

func usPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	r, err := policy.NewRegistry()
	require.NoError(t, err)
	p, ok := r.Lookup("US")
	require.True(t, ok)
	return p
}

func lead(id, source string, st SourceType, country string) LeadCard {
	return LeadCard{
		ID:           id,
		Company:      "Company " + id,
		Geo:          Geo{Country: country},
		Industry:     "restaurant",
		ContactEmail: id + "@example.com",
		SourceType:   st,
		SourceID:     source,
		Signals: []Signal{
			{Type: "company_size", Value: "50-200", Confidence: 0.9},
			{Type: "industry", Value: "restaurant", Confidence: 0.95},
		},
		ComplianceOK: true,
	}
}

func newCatalog(t *testing.T, now func() time.Time) *SourceRegistry {
	t.Helper()
	r, err := NewSourceRegistry(DefaultCatalog(), WithNow(now))
	require.NoError(t, err)
	return r
}

func TestDefineICP(t *testing.T) {
	icp := DefineICP("Restaurant", "United States", "")
	assert.Equal(t, []string{"restaurant"}, icp.Industries)
	assert.Equal(t, []string{"US"}, icp.Geos)
	assert.Equal(t, []string{"Owner", "General Manager", "Operations Manager"}, icp.JobTitles)
	assert.Equal(t, []string{"10-50", "50-200", "200-1000"}, icp.CompanySizes)
	assert.Equal(t, []string{"competitors", "not_a_fit"}, icp.Exclusions)

	other := DefineICP("aerospace", "CA", "200-1000")
	assert.Equal(t, []string{"CEO", "COO", "Operations Manager"}, other.JobTitles)
	assert.Equal(t, []string{"Manual processes", "Missed opportunities", "High costs"}, other.PainPoints)
	assert.Equal(t, []string{"200-1000"}, other.CompanySizes)
}

func TestQualify_DropReasons(t *testing.T) {
	catalog := newCatalog(t, time.Now)
	require.NoError(t, catalog.Register(DataSource{
		ID: "scraped", Type: SourcePermittedCrawl, Status: StatusBlocked,
		RequestsPerMinute: 1, RequestsPerDay: 1, DataQuality: 0.5,
	}))
	q := NewQualifier(catalog)
	target := Target{CampaignID: "c1", ICP: DefineICP("restaurant", "US", ""), Policy: usPolicy(t)}

	good := lead("good", "zoominfo", SourceLicensed, "United States")
	unknown := lead("unknown", "mystery", SourceAPI, "US")
	blocked := lead("blocked", "scraped", SourcePermittedCrawl, "US")
	noContact := lead("nocontact", "apollo", SourceAPI, "US")
	noContact.ContactEmail = ""
	foreign := lead("foreign", "apollo", SourceAPI, "FR")
	wrongIndustry := lead("dentist", "apollo", SourceAPI, "US")
	wrongIndustry.Industry = "dental"
	excluded := lead("rival", "apollo", SourceAPI, "US")
	excluded.Signals = append(excluded.Signals, Signal{Type: "competitors", Value: "true", Confidence: 1})
	weak := lead("weak", "company_websites", SourcePermittedCrawl, "US")
	weak.Signals = nil

	res, err := q.Qualify(context.Background(), target,
		[]LeadCard{good, unknown, blocked, noContact, foreign, wrongIndustry, excluded, weak})
	require.NoError(t, err)

	require.Len(t, res.Qualified, 1)
	assert.Equal(t, "good", res.Qualified[0].ID)
	assert.True(t, res.Qualified[0].ComplianceOK)
	assert.Equal(t, "US", res.Qualified[0].Geo.Country)
	assert.Equal(t, ActionStartSequence, res.Qualified[0].NextBestAction)

	reasons := map[string]DropReason{}
	for _, d := range res.Dropped {
		reasons[d.Lead.ID] = d.Reason
	}
	assert.Equal(t, map[string]DropReason{
		"unknown":   DropSourceNotApproved,
		"blocked":   DropSourceNotApproved,
		"nocontact": DropNoPermittedChannel,
		"foreign":   DropJurisdictionMissing,
		"dentist":   DropIndustryMismatch,
		"rival":     DropExcluded,
		"weak":      DropBelowMinScore,
	}, reasons)
	assert.Equal(t, 8, len(res.Qualified)+len(res.Dropped))

	for _, d := range res.Dropped {
		assert.Equal(t, ActionDiscard, d.Lead.NextBestAction)
		if d.Reason == DropSourceNotApproved {
			assert.False(t, d.Lead.ComplianceOK, "source-supplied ComplianceOK must be recomputed")
		}
	}
}

func TestQualify_SortsByScore(t *testing.T) {
	q := NewQualifier(newCatalog(t, time.Now), WithMinScore(0))
	target := Target{ICP: DefineICP("restaurant", "US", ""), Policy: usPolicy(t)}

	low := lead("low", "business_directories", SourcePermittedCrawl, "US")
	high := lead("high", "zoominfo", SourceLicensed, "US")
	high.Signals = append(high.Signals, Signal{Type: "hiring", Value: "front desk", Confidence: 0.8})

	res, err := q.Qualify(context.Background(), target, []LeadCard{low, high})
	require.NoError(t, err)
	require.Len(t, res.Qualified, 2)
	assert.Equal(t, "high", res.Qualified[0].ID)
	assert.Greater(t, res.Qualified[0].Score, res.Qualified[1].Score)
}

func TestQualify_RequiresPolicy(t *testing.T) {
	q := NewQualifier(nil)
	_, err := q.Qualify(context.Background(), Target{}, nil)
	assert.ErrorIs(t, err, ErrNoPolicy)
}

func TestQualify_EUCoversMemberStates(t *testing.T) {
	r, err := policy.NewRegistry()
	require.NoError(t, err)
	eu, ok := r.Lookup("EU")
	require.True(t, ok)

	q := NewQualifier(newCatalog(t, time.Now))
	target := Target{ICP: DefineICP("restaurant", "EU", ""), Policy: eu}
	res, err := q.Qualify(context.Background(), target, []LeadCard{lead("de", "zoominfo", SourceLicensed, "DE")})
	require.NoError(t, err)
	assert.Len(t, res.Qualified, 1)
}

func TestQualify_LogsDrops(t *testing.T) {
	log := compliancelog.NewMemoryLog()
	q := NewQualifier(newCatalog(t, time.Now), WithComplianceLog(log))
	target := Target{CampaignID: "c1", ICP: DefineICP("restaurant", "US", ""), Policy: usPolicy(t)}

	_, err := q.Qualify(context.Background(), target, []LeadCard{lead("x", "mystery", SourceAPI, "US")})
	require.NoError(t, err)

	events, err := log.Query(context.Background(), compliancelog.Filter{CampaignID: "c1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, compliancelog.ActionLeadDropped, events[0].Action)
	assert.Equal(t, "x", events[0].LeadID)
	assert.Equal(t, string(DropSourceNotApproved), events[0].Check)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 0.0, Score(nil, 0))
	assert.Equal(t, 40.0, Score(nil, 1))
	many := make([]Signal, 10)
	for i := range many {
		many[i] = Signal{Confidence: 1}
	}
	assert.Equal(t, 100.0, Score(many, 1))
	assert.Equal(t, 15.0, Score([]Signal{{Confidence: 2}}, -1))
}

func TestSourceRegistry_ApprovedSources(t *testing.T) {
	r := newCatalog(t, time.Now)
	require.NoError(t, r.Register(DataSource{
		ID: "linkedin_scrape", Type: SourcePermittedCrawl, Status: StatusBlocked,
		RequestsPerMinute: 1, RequestsPerDay: 1,
	}))
	approved := r.ApprovedSources()
	assert.Len(t, approved, 7)
	for _, ds := range approved {
		assert.Equal(t, StatusApproved, ds.Status)
	}
	assert.Len(t, r.Sources(), 8)

	err := r.Acquire("linkedin_scrape")
	assert.ErrorIs(t, err, ErrSourceBlocked)
	assert.ErrorIs(t, r.Acquire("nope"), ErrSourceNotFound)
}

func TestSourceRegistry_RateLimits(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	r, err := NewSourceRegistry([]DataSource{{
		ID: "tiny", Type: SourceAPI, Status: StatusApproved,
		RequestsPerMinute: 2, RequestsPerDay: 3, DataQuality: 0.8,
	}}, WithNow(func() time.Time { return now }))
	require.NoError(t, err)

	require.NoError(t, r.Acquire("tiny"))
	require.NoError(t, r.Acquire("tiny"))
	assert.ErrorIs(t, r.Acquire("tiny"), ErrSourceRateLimited)

	st, err := r.RateStatus("tiny")
	require.NoError(t, err)
	assert.Equal(t, 2, st.RequestsLastMinute)
	assert.Equal(t, 2, st.RequestsToday)
	assert.Equal(t, 2, st.LimitPerMinute)
	assert.Equal(t, 3, st.LimitPerDay)

	now = now.Add(time.Minute)
	require.NoError(t, r.Acquire("tiny"))
	assert.ErrorIs(t, r.Acquire("tiny"), ErrSourceRateLimited, "daily quota spent")

	now = now.Add(24 * time.Hour)
	require.NoError(t, r.Acquire("tiny"))
	st, err = r.RateStatus("tiny")
	require.NoError(t, err)
	assert.Equal(t, 1, st.RequestsToday)
}

func TestDataSource_Validate(t *testing.T) {
	for _, ds := range DefaultCatalog() {
		assert.NoError(t, ds.Validate(), ds.ID)
	}
	assert.ErrorIs(t, DataSource{}.Validate(), ErrInvalidSource)
	assert.ErrorIs(t, DataSource{ID: "x", Type: "rumour"}.Validate(), ErrInvalidSource)
	assert.ErrorIs(t, DataSource{ID: "x", Type: SourceAPI, Status: StatusApproved}.Validate(), ErrInvalidSource)
}

func TestSourceAndQualify_FansOut(t *testing.T) {
	apollo := &StaticSource{SourceID: "apollo", Leads: []LeadCard{
		lead("a1", "", "", "US"),
		lead("a2", "", "", "US"),
	}}
	zoominfo := &StaticSource{SourceID: "zoominfo", Leads: []LeadCard{lead("z1", "", "", "US")}}
	broken := &StaticSource{SourceID: "hunter", Err: errors.New("upstream 500")}
	slow := &StaticSource{SourceID: "clearbit", Delay: time.Second, Leads: []LeadCard{lead("c1", "", "", "US")}}

	q := NewQualifier(newCatalog(t, time.Now),
		WithSources(apollo, zoominfo, broken, slow),
		WithSourceTimeout(50*time.Millisecond),
	)
	target := Target{ICP: DefineICP("restaurant", "US", ""), Policy: usPolicy(t)}

	res, err := q.SourceAndQualify(context.Background(), target, Query{Industry: "restaurant", Country: "US", Limit: 10})
	require.NoError(t, err)

	ids := make([]string, 0, len(res.Qualified))
	for _, l := range res.Qualified {
		ids = append(ids, l.ID)
		assert.NotEmpty(t, l.SourceID)
	}
	assert.ElementsMatch(t, []string{"a1", "a2", "z1"}, ids)
	assert.Contains(t, res.SourceErrors, "hunter")
	assert.Contains(t, res.SourceErrors, "clearbit")
	assert.Len(t, apollo.Queries(), 1)
}

func TestSourceAndQualify_Cancelled(t *testing.T) {
	q := NewQualifier(newCatalog(t, time.Now), WithSources(&StaticSource{SourceID: "apollo"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.SourceAndQualify(ctx, Target{Policy: usPolicy(t)}, Query{})
	assert.ErrorIs(t, err, context.Canceled)
}
