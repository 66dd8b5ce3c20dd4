package experiment

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
)

// DefaultMinSamples is the per-variant sample floor used when a spec sets
// none.
const DefaultMinSamples = 30

// WinnerConfidence is the confidence required to declare a winner.
const WinnerConfidence = 0.95

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusRunning   Status = "running"
	StatusConcluded Status = "concluded"
)

// Spec describes an experiment to create.
type Spec struct {
	CampaignID string             `json:"campaign_id"`
	Name       string             `json:"name,omitempty"`
	Hypothesis string             `json:"hypothesis,omitempty"`
	Variable   optimizer.Variable `json:"variable"`
	Variants   []string           `json:"variants"`
	// Allocation is the traffic share per variant. Empty means uniform.
	Allocation []float64 `json:"allocation,omitempty"`
	MinSamples int       `json:"min_samples,omitempty"`
}

// Experiment is a created experiment and its accumulated outcomes.
type Experiment struct {
	ID         string             `json:"id"`
	CampaignID string             `json:"campaign_id"`
	Name       string             `json:"name,omitempty"`
	Hypothesis string             `json:"hypothesis,omitempty"`
	Variable   optimizer.Variable `json:"variable"`
	Variants   []string           `json:"variants"`
	Allocation []float64          `json:"allocation"`
	MinSamples int                `json:"min_samples"`
	Status     Status             `json:"status"`
	Winner     string             `json:"winner,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`

	Stats map[string]*VariantStats `json:"stats"`
}

// Clone returns a deep copy.
func (e *Experiment) Clone() *Experiment {
	if e == nil {
		return nil
	}
	c := *e
	c.Variants = append([]string(nil), e.Variants...)
	c.Allocation = append([]float64(nil), e.Allocation...)
	c.Stats = make(map[string]*VariantStats, len(e.Stats))
	for k, v := range e.Stats {
		s := *v
		c.Stats[k] = &s
	}
	return &c
}

// VariantStats accumulates reward samples for one variant.
type VariantStats struct {
	N          int64   `json:"n"`
	Sum        float64 `json:"sum"`
	SumSquares float64 `json:"sum_squares"`
	// Violations counts samples that breached a guardrail.
	Violations int64 `json:"violations"`

	// Guardrail rate sums and maxima over all samples.
	RateSums guardrail.Rates `json:"rate_sums"`
	RateMax  guardrail.Rates `json:"rate_max"`
}

func (s *VariantStats) add(r optimizer.Reward) {
	s.N++
	s.Sum += r.Total
	s.SumSquares += r.Total * r.Total
	if !r.GuardrailsSatisfied || len(r.Violations) > 0 {
		s.Violations++
	}
	g := r.Guardrail()
	s.RateSums.BounceRate += g.BounceRate
	s.RateSums.ComplaintRate += g.ComplaintRate
	s.RateSums.NegativeReplyRate += g.NegativeReplyRate
	s.RateSums.OptOutRate += g.OptOutRate
	s.RateMax.BounceRate = max(s.RateMax.BounceRate, g.BounceRate)
	s.RateMax.ComplaintRate = max(s.RateMax.ComplaintRate, g.ComplaintRate)
	s.RateMax.NegativeReplyRate = max(s.RateMax.NegativeReplyRate, g.NegativeReplyRate)
	s.RateMax.OptOutRate = max(s.RateMax.OptOutRate, g.OptOutRate)
}

// Mean is the average reward, or 0 with no samples.
func (s *VariantStats) Mean() float64 {
	if s.N == 0 {
		return 0
	}
	return s.Sum / float64(s.N)
}

// Variance is the unbiased sample variance of the reward.
func (s *VariantStats) Variance() float64 {
	if s.N < 2 {
		return 0
	}
	n := float64(s.N)
	v := (s.SumSquares - s.Sum*s.Sum/n) / (n - 1)
	if v < 0 {
		return 0
	}
	return v
}

// AverageRates returns the mean guardrail rates.
func (s *VariantStats) AverageRates() guardrail.Rates {
	if s.N == 0 {
		return guardrail.Rates{}
	}
	n := float64(s.N)
	return guardrail.Rates{
		BounceRate:        s.RateSums.BounceRate / n,
		ComplaintRate:     s.RateSums.ComplaintRate / n,
		NegativeReplyRate: s.RateSums.NegativeReplyRate / n,
		OptOutRate:        s.RateSums.OptOutRate / n,
	}
}

// VariantResult is one row of an evaluation.
type VariantResult struct {
	Variant    string                `json:"variant"`
	N          int64                 `json:"n"`
	Mean       float64               `json:"mean"`
	StdDev     float64               `json:"std_dev"`
	Violations int64                 `json:"violations"`
	Eligible   bool                  `json:"eligible"`
	Excluded   []guardrail.Violation `json:"excluded_for,omitempty"`
}

// Result is the outcome of Evaluate.
type Result struct {
	ExperimentID   string          `json:"experiment_id"`
	Variable       string          `json:"variable"`
	Variants       []VariantResult `json:"variants"`
	Winner         string          `json:"winner,omitempty"`
	Confidence     float64         `json:"confidence"`
	Recommendation string          `json:"recommendation"`
}

// Plan is a suggested experiment and the reason for it.
type Plan struct {
	Summary    string      `json:"summary"`
	Experiment *Experiment `json:"experiment"`
}

// Assigner decides a variant for a context key, replacing hash
// allocation. The optimizer implements it.
type Assigner interface {
	Choose(ctx context.Context, contextKey string, variable optimizer.Variable, variants []string) (string, error)
}
