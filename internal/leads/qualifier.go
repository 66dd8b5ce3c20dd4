package leads

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// DropReason explains why a lead was not qualified.
type DropReason string

const (
	DropSourceNotApproved   DropReason = "source_not_approved"
	DropNoPermittedChannel  DropReason = "no_permitted_channel"
	DropJurisdictionMissing DropReason = "jurisdiction_mismatch"
	DropIndustryMismatch    DropReason = "industry_mismatch"
	DropGeoMismatch         DropReason = "geo_mismatch"
	DropExcluded            DropReason = "excluded"
	DropBelowMinScore       DropReason = "below_min_score"
)

// Drop records one disqualified lead.
type Drop struct {
	Lead   LeadCard   `json:"lead"`
	Reason DropReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// Target is the campaign context leads are qualified against.
type Target struct {
	CampaignID string
	ICP        ICP
	Policy     *policy.Policy
}

// Result is the outcome of qualification.
type Result struct {
	Qualified    []LeadCard        `json:"qualified"`
	Dropped      []Drop            `json:"dropped"`
	SourceErrors map[string]string `json:"source_errors,omitempty"`
}

const (
	DefaultMinScore      = 40.0
	DefaultSourceTimeout = 10 * time.Second
	DefaultConcurrency   = 4

	// Unknown sources are scored with this data quality.
	defaultDataQuality = 0.5
)

// Qualifier scores and filters leads.
type Qualifier struct {
	catalog       *SourceRegistry
	sources       map[string]Source
	minScore      float64
	sourceTimeout time.Duration
	concurrency   int
	log           compliancelog.Log
	logger        *zap.Logger
	now           func() time.Time
}

// Option configures a Qualifier.
type Option func(*Qualifier)

// WithSources attaches provider implementations, keyed by Source.ID.
func WithSources(sources ...Source) Option {
	return func(q *Qualifier) {
		for _, s := range sources {
			q.sources[s.ID()] = s
		}
	}
}

// WithMinScore sets the minimum qualifying score.
func WithMinScore(s float64) Option {
	return func(q *Qualifier) { q.minScore = s }
}

// WithSourceTimeout bounds each provider call.
func WithSourceTimeout(d time.Duration) Option {
	return func(q *Qualifier) { q.sourceTimeout = d }
}

// WithConcurrency bounds the number of providers queried at once.
func WithConcurrency(n int) Option {
	return func(q *Qualifier) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithComplianceLog records every dropped lead.
func WithComplianceLog(l compliancelog.Log) Option {
	return func(q *Qualifier) { q.log = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Qualifier) {
		if l != nil {
			q.logger = l.Named("leads")
		}
	}
}

// WithClock sets the time source used for lead timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Qualifier) { q.now = now }
}

// NewQualifier creates a qualifier over a source catalog.
func NewQualifier(catalog *SourceRegistry, opts ...Option) *Qualifier {
	q := &Qualifier{
		catalog:       catalog,
		sources:       make(map[string]Source),
		minScore:      DefaultMinScore,
		sourceTimeout: DefaultSourceTimeout,
		concurrency:   DefaultConcurrency,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Qualify recomputes compliance, filters against the ICP, scores and
// sorts leads by score descending. Every disqualified lead appears in
// Result.Dropped with a reason.
func (q *Qualifier) Qualify(ctx context.Context, t Target, leads []LeadCard) (Result, error) {
	if t.Policy == nil {
		return Result{}, ErrNoPolicy
	}
	res := Result{}
	now := q.now().UTC()
	for i := range leads {
		lead := *leads[i].Clone()
		lead.Geo.Country = policy.CountryCode(lead.Geo.Country)
		if lead.CreatedAt.IsZero() {
			lead.CreatedAt = now
		}
		lead.UpdatedAt = now

		ds, known := q.lookupSource(lead.SourceID)
		reason, detail := q.compliance(&lead, ds, known, t.Policy)
		lead.ComplianceOK = reason == ""
		if reason == "" {
			reason, detail = screen(&lead, t.ICP)
		}
		if reason == "" {
			quality := defaultDataQuality
			if known {
				quality = ds.DataQuality
			}
			lead.Score = Score(lead.Signals, quality)
			if lead.Score < q.minScore {
				reason = DropBelowMinScore
				detail = fmt.Sprintf("score %.1f below %.1f", lead.Score, q.minScore)
			}
		}
		if reason != "" {
			lead.NextBestAction = ActionDiscard
			res.Dropped = append(res.Dropped, Drop{Lead: lead, Reason: reason, Detail: detail})
			continue
		}
		lead.NextBestAction = ActionStartSequence
		res.Qualified = append(res.Qualified, lead)
	}

	sort.SliceStable(res.Qualified, func(i, j int) bool {
		return res.Qualified[i].Score > res.Qualified[j].Score
	})

	QualifiedTotal.Add(float64(len(res.Qualified)))
	for _, d := range res.Dropped {
		DroppedTotal.WithLabelValues(string(d.Reason)).Inc()
	}
	if err := q.recordDrops(ctx, t, res.Dropped); err != nil {
		return res, err
	}
	q.logger.Debug("leads qualified",
		zap.String("campaign_id", t.CampaignID),
		zap.Int("qualified", len(res.Qualified)),
		zap.Int("dropped", len(res.Dropped)),
	)
	return res, nil
}

func (q *Qualifier) lookupSource(id string) (DataSource, bool) {
	if q.catalog == nil || id == "" {
		return DataSource{}, false
	}
	return q.catalog.Get(id)
}

// compliance returns the first compliance failure for the lead.
func (q *Qualifier) compliance(l *LeadCard, ds DataSource, known bool, p *policy.Policy) (DropReason, string) {
	switch {
	case !known:
		return DropSourceNotApproved, fmt.Sprintf("source %q is not in the catalog", l.SourceID)
	case ds.Status != StatusApproved:
		return DropSourceNotApproved, fmt.Sprintf("source %s is %s", ds.ID, ds.Status)
	case ds.Type != l.SourceType:
		return DropSourceNotApproved, fmt.Sprintf("source %s provides %s leads, lead claims %s", ds.ID, ds.Type, l.SourceType)
	}
	reachable := false
	for _, ch := range p.AllowedChannels {
		if l.Recipient(ch) != "" {
			reachable = true
			break
		}
	}
	if !reachable {
		return DropNoPermittedChannel, fmt.Sprintf("no contact for channels %v", p.AllowedChannels)
	}
	if p.JurisdictionID != policy.UnknownJurisdiction && !policy.Covers(p.JurisdictionID, l.Geo.Country) {
		return DropJurisdictionMissing, fmt.Sprintf("country %s is outside %s", l.Geo.Country, p.JurisdictionID)
	}
	if p.JurisdictionID == policy.UnknownJurisdiction && !policy.Covers(policy.CountryCode(p.Country), l.Geo.Country) {
		return DropJurisdictionMissing, fmt.Sprintf("country %s is outside %s", l.Geo.Country, p.Country)
	}
	return "", ""
}

func screen(l *LeadCard, icp ICP) (DropReason, string) {
	if !icp.MatchesIndustry(l.Industry) {
		return DropIndustryMismatch, fmt.Sprintf("industry %q not targeted", l.Industry)
	}
	if !icp.MatchesGeo(l.Geo.Country) {
		return DropGeoMismatch, fmt.Sprintf("country %s not targeted", l.Geo.Country)
	}
	if tag := icp.Excludes(l); tag != "" {
		return DropExcluded, tag
	}
	return "", ""
}

// Score rates a lead from 0 to 100. Source data quality contributes up to
// 40 points and signals up to 60, each weighted by its confidence.
func Score(signals []Signal, dataQuality float64) float64 {
	var sig float64
	for _, s := range signals {
		sig += 15 * clamp01(s.Confidence)
	}
	score := 40*clamp01(dataQuality) + math.Min(sig, 60)
	return math.Round(score*10) / 10
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func (q *Qualifier) recordDrops(ctx context.Context, t Target, drops []Drop) error {
	if q.log == nil {
		return nil
	}
	for _, d := range drops {
		_, err := q.log.Append(ctx, compliancelog.Event{
			Action:           compliancelog.ActionLeadDropped,
			CampaignID:       t.CampaignID,
			LeadID:           d.Lead.ID,
			Result:           compliancelog.ResultBlock,
			Check:            string(d.Reason),
			Reason:           d.Detail,
			Jurisdiction:     t.Policy.JurisdictionID,
			PolicyConfidence: t.Policy.Confidence,
		})
		if err != nil {
			return fmt.Errorf("record dropped lead %s: %w", d.Lead.ID, err)
		}
	}
	return nil
}

// SourceAndQualify queries every approved source that has an attached
// implementation, then qualifies the combined leads. A failing or slow
// source is reported in Result.SourceErrors and does not fail the call.
func (q *Qualifier) SourceAndQualify(ctx context.Context, t Target, query Query) (Result, error) {
	if q.catalog == nil {
		return q.Qualify(ctx, t, nil)
	}
	var (
		mu        sync.Mutex
		collected []LeadCard
		srcErrs   = make(map[string]string)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)
	for _, ds := range q.catalog.ApprovedSources() {
		src, ok := q.sources[ds.ID]
		if !ok {
			continue
		}
		g.Go(func() error {
			leads, err := q.fetch(gctx, ds, src, query)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				srcErrs[ds.ID] = err.Error()
				SourceErrorsTotal.WithLabelValues(ds.ID).Inc()
				q.logger.Warn("lead source failed", zap.String("source", ds.ID), zap.Error(err))
				return nil
			}
			collected = append(collected, leads...)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// Stable input order regardless of which source finished first.
	sort.SliceStable(collected, func(i, j int) bool {
		if collected[i].SourceID != collected[j].SourceID {
			return collected[i].SourceID < collected[j].SourceID
		}
		return collected[i].ID < collected[j].ID
	})
	res, err := q.Qualify(ctx, t, collected)
	if len(srcErrs) > 0 {
		res.SourceErrors = srcErrs
	}
	return res, err
}

func (q *Qualifier) fetch(ctx context.Context, ds DataSource, src Source, query Query) ([]LeadCard, error) {
	if err := q.catalog.Acquire(ds.ID); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, q.sourceTimeout)
	defer cancel()
	leads, err := src.Source(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("source %s timed out after %s: %w", ds.ID, q.sourceTimeout, err)
		}
		return nil, fmt.Errorf("source %s: %w", ds.ID, err)
	}
	for i := range leads {
		if leads[i].SourceID == "" {
			leads[i].SourceID = ds.ID
		}
		if leads[i].SourceType == "" {
			leads[i].SourceType = ds.Type
		}
	}
	return leads, nil
}
