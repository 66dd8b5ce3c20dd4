package dashboard

import (
	"context"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/client"
	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	api "github.com/fyrsmithlabs/outreachd/internal/http"
	"github.com/fyrsmithlabs/outreachd/internal/mode"
)

// DefaultMaxRows caps the campaign table.
const DefaultMaxRows = 8

// Source produces dashboard snapshots.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// Snapshot is one refresh of engine state.
type Snapshot struct {
	Health     string
	Checks     map[string]string
	Counts     api.StatusCounts
	Policies   int
	QCells     int
	Thresholds guardrail.Thresholds
	// Totals sums counters over every campaign.
	Totals    campaign.Stats
	Campaigns []CampaignRow
}

// CampaignRow is one live campaign against its guardrails.
type CampaignRow struct {
	ID          string
	Country     string
	Industry    string
	Mode        mode.Mode
	Status      campaign.Status
	TouchesSent int64
	Rates       guardrail.Rates
	Violations  []guardrail.Violation
}

// Utilization is the highest rate-to-limit ratio across guardrails. 1
// means a threshold is reached. A zero limit with a nonzero rate counts
// as fully used.
func Utilization(r guardrail.Rates, t guardrail.Thresholds) float64 {
	var worst float64
	for _, p := range [][2]float64{
		{r.BounceRate, t.MaxBounceRate},
		{r.ComplaintRate, t.MaxComplaintRate},
		{r.NegativeReplyRate, t.MaxNegativeReplyRate},
		{r.OptOutRate, t.MaxOptOutRate},
	} {
		rate, limit := p[0], p[1]
		var u float64
		switch {
		case limit > 0:
			u = rate / limit
		case rate > 0:
			u = 1
		}
		worst = max(worst, u)
	}
	return worst
}

// APISource reads snapshots from a running outreachd.
type APISource struct {
	client  *client.Client
	maxRows int
}

// NewAPISource creates a source over c. maxRows <= 0 uses DefaultMaxRows.
func NewAPISource(c *client.Client, maxRows int) *APISource {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &APISource{client: c, maxRows: maxRows}
}

// URL returns the server being watched.
func (s *APISource) URL() string { return s.client.BaseURL() }

// Fetch reads status, the campaign list and per-campaign metrics for the
// most recently updated live campaigns.
func (s *APISource) Fetch(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	health, err := s.client.Health(ctx)
	if err != nil {
		return snap, fmt.Errorf("health: %w", err)
	}
	snap.Health = health.Status
	snap.Checks = health.Checks

	status, err := s.client.Status(ctx)
	if err != nil {
		return snap, fmt.Errorf("status: %w", err)
	}
	snap.Counts = status.Campaigns
	snap.Policies = status.Policies
	snap.QCells = status.QCells

	cs, err := s.client.ListCampaigns(ctx, "")
	if err != nil {
		return snap, fmt.Errorf("campaigns: %w", err)
	}

	live := make([]*campaign.Campaign, 0, len(cs))
	for _, c := range cs {
		snap.Totals.Add(campaign.Delta(c.Stats))
		if !c.Status.IsTerminal() {
			live = append(live, c)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].UpdatedAt.After(live[j].UpdatedAt) })
	if len(live) > s.maxRows {
		live = live[:s.maxRows]
	}

	snap.Thresholds = guardrail.DefaultThresholds()
	for _, c := range live {
		m, err := s.client.CampaignMetrics(ctx, c.ID)
		if err != nil {
			return snap, fmt.Errorf("metrics for %s: %w", c.ID, err)
		}
		snap.Thresholds = m.Thresholds
		snap.Campaigns = append(snap.Campaigns, CampaignRow{
			ID:          c.ID,
			Country:     c.Config.Country,
			Industry:    c.Config.Industry,
			Mode:        c.Mode,
			Status:      m.Status,
			TouchesSent: m.Stats.TouchesSent,
			Rates:       m.Rates.Guardrail(),
			Violations:  m.Violations,
		})
	}
	return snap, nil
}
