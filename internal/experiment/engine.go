package experiment

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/clock"
	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
)

// Engine creates, assigns and evaluates experiments.
type Engine struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment

	thresholds guardrail.Thresholds
	minSamples int
	assigner   Assigner
	learner    Learner
	clock      clock.Clock
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithAssigner delegates variant choice to a, typically the optimizer.
func WithAssigner(a Assigner) Option {
	return func(e *Engine) { e.assigner = a }
}

// WithThresholds sets the guardrails applied during evaluation.
func WithThresholds(t guardrail.Thresholds) Option {
	return func(e *Engine) { e.thresholds = t }
}

// WithMinSamples sets the per-variant sample floor used when a spec leaves
// MinSamples at zero.
func WithMinSamples(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minSamples = n
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l.Named("experiment")
		}
	}
}

// NewEngine creates an experiment engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		experiments: make(map[string]*Experiment),
		thresholds:  guardrail.DefaultThresholds(),
		minSamples:  DefaultMinSamples,
		clock:       clock.Real{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create validates spec and registers the experiment.
func (e *Engine) Create(ctx context.Context, spec Spec) (*Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	alloc, err := validate(spec)
	if err != nil {
		return nil, err
	}
	minSamples := spec.MinSamples
	if minSamples <= 0 {
		minSamples = e.minSamples
	}

	exp := &Experiment{
		ID:         "exp_" + uuid.NewString(),
		CampaignID: spec.CampaignID,
		Name:       spec.Name,
		Hypothesis: spec.Hypothesis,
		Variable:   spec.Variable,
		Variants:   append([]string(nil), spec.Variants...),
		Allocation: alloc,
		MinSamples: minSamples,
		Status:     StatusRunning,
		CreatedAt:  e.clock.Now().UTC(),
		Stats:      make(map[string]*VariantStats, len(spec.Variants)),
	}
	for _, v := range exp.Variants {
		exp.Stats[v] = &VariantStats{}
	}

	e.mu.Lock()
	e.experiments[exp.ID] = exp
	e.mu.Unlock()

	e.logger.Info("experiment created",
		zap.String("experiment_id", exp.ID),
		zap.String("campaign_id", exp.CampaignID),
		zap.String("variable", string(exp.Variable)),
		zap.Int("variants", len(exp.Variants)))
	return exp.Clone(), nil
}

func validate(spec Spec) ([]float64, error) {
	if !spec.Variable.Valid() {
		return nil, fmt.Errorf("%w: unknown variable %q", ErrInvalidSpec, spec.Variable)
	}
	if len(spec.Variants) < 2 {
		return nil, fmt.Errorf("%w: at least 2 variants required, got %d", ErrInvalidSpec, len(spec.Variants))
	}
	seen := make(map[string]bool, len(spec.Variants))
	for _, v := range spec.Variants {
		if v == "" {
			return nil, fmt.Errorf("%w: empty variant name", ErrInvalidSpec)
		}
		if seen[v] {
			return nil, fmt.Errorf("%w: duplicate variant %q", ErrInvalidSpec, v)
		}
		seen[v] = true
	}

	if len(spec.Allocation) == 0 {
		alloc := make([]float64, len(spec.Variants))
		for i := range alloc {
			alloc[i] = 1 / float64(len(alloc))
		}
		return alloc, nil
	}
	if len(spec.Allocation) != len(spec.Variants) {
		return nil, fmt.Errorf("%w: %d allocation weights for %d variants", ErrInvalidSpec, len(spec.Allocation), len(spec.Variants))
	}
	sum := 0.0
	for i, w := range spec.Allocation {
		if w < 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("%w: allocation for %q is negative", ErrInvalidSpec, spec.Variants[i])
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, fmt.Errorf("%w: allocation sums to %v, want 1", ErrInvalidSpec, sum)
	}
	return append([]float64(nil), spec.Allocation...), nil
}

// Get returns a copy of the experiment.
func (e *Engine) Get(ctx context.Context, id string) (*Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	exp, ok := e.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return exp.Clone(), nil
}

// List returns the experiments of a campaign, or all of them when
// campaignID is empty, oldest first.
func (e *Engine) List(ctx context.Context, campaignID string) ([]*Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	out := make([]*Experiment, 0, len(e.experiments))
	for _, exp := range e.experiments {
		if campaignID == "" || exp.CampaignID == campaignID {
			out = append(out, exp.Clone())
		}
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Assign returns the variant for contextKey. Without an Assigner the
// result is a pure function of the experiment ID, the key and the
// allocation.
func (e *Engine) Assign(ctx context.Context, experimentID, contextKey string) (string, error) {
	e.mu.RLock()
	exp, ok := e.experiments[experimentID]
	var (
		variants []string
		alloc    []float64
		variable optimizer.Variable
	)
	if ok {
		variants = append(variants, exp.Variants...)
		alloc = append(alloc, exp.Allocation...)
		variable = exp.Variable
	}
	e.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}

	if e.assigner != nil {
		v, err := e.assigner.Choose(ctx, contextKey, variable, variants)
		if err != nil {
			return "", fmt.Errorf("assign %s: %w", experimentID, err)
		}
		return v, nil
	}
	return hashAssign(experimentID, contextKey, variants, alloc), nil
}

func hashAssign(experimentID, contextKey string, variants []string, alloc []float64) string {
	h := xxhash.Sum64String(experimentID + "|" + contextKey)
	u := float64(h>>11) / (1 << 53)
	cum := 0.0
	last := ""
	for i, w := range alloc {
		if w <= 0 {
			continue
		}
		cum += w
		last = variants[i]
		if u < cum {
			return variants[i]
		}
	}
	// Rounding can leave u just above the final cumulative weight.
	return last
}

// RecordOutcome adds one reward sample to a variant.
func (e *Engine) RecordOutcome(ctx context.Context, experimentID, variant string, r optimizer.Reward) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	exp, ok := e.experiments[experimentID]
	if !ok {
		return ErrNotFound
	}
	s, ok := exp.Stats[variant]
	if !ok {
		return fmt.Errorf("%w: %q in %s", ErrUnknownVariant, variant, experimentID)
	}
	s.add(r)
	return nil
}

// Evaluate compares the two best eligible variants and declares a winner
// when the one-sided confidence reaches WinnerConfidence.
func (e *Engine) Evaluate(ctx context.Context, experimentID string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	exp, ok := e.experiments[experimentID]
	if !ok {
		return Result{}, ErrNotFound
	}

	res := Result{ExperimentID: exp.ID, Variable: string(exp.Variable)}
	var ranked []string
	for _, v := range exp.Variants {
		s := exp.Stats[v]
		vr := VariantResult{
			Variant:    v,
			N:          s.N,
			Mean:       s.Mean(),
			StdDev:     math.Sqrt(s.Variance()),
			Violations: s.Violations,
		}
		vr.Excluded = e.thresholds.Check(s.AverageRates())
		vr.Eligible = len(vr.Excluded) == 0 && s.N >= int64(exp.MinSamples)
		if vr.Eligible {
			ranked = append(ranked, v)
		}
		res.Variants = append(res.Variants, vr)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return exp.Stats[ranked[i]].Mean() > exp.Stats[ranked[j]].Mean()
	})

	switch len(ranked) {
	case 0:
		res.Recommendation = fmt.Sprintf("Continue testing - no variant has %d samples within guardrails", exp.MinSamples)
	case 1:
		res.Recommendation = fmt.Sprintf("Continue testing - only %s has %d samples within guardrails", ranked[0], exp.MinSamples)
	default:
		top, runnerUp := ranked[0], ranked[1]
		res.Confidence = welch(exp.Stats[top], exp.Stats[runnerUp])
		if res.Confidence >= WinnerConfidence {
			res.Winner = top
			res.Recommendation = fmt.Sprintf("Deploy %s (%.1f%% confidence)", top, res.Confidence*100)
		} else {
			res.Recommendation = fmt.Sprintf("Continue testing - insufficient confidence (%.1f%%)", res.Confidence*100)
		}
	}

	if res.Winner != "" && exp.Status == StatusRunning {
		exp.Status = StatusConcluded
		exp.Winner = res.Winner
		e.logger.Info("experiment concluded",
			zap.String("experiment_id", exp.ID),
			zap.String("winner", res.Winner),
			zap.Float64("confidence", res.Confidence))
	}
	return res, nil
}

// Recommendations registers and returns the default experiment plans for
// a campaign: subject line, send window and call to action.
func (e *Engine) Recommendations(ctx context.Context, campaignID string) ([]Plan, error) {
	defaults := []struct {
		summary  string
		variable optimizer.Variable
		variants []string
	}{
		{
			"Test 3 subject line variants to optimize open rates",
			optimizer.VariableSubject,
			[]string{"Question-based subject", "Value proposition subject", "Personalized subject"},
		},
		{
			"Test send time windows to optimize reply rates",
			optimizer.VariableTiming,
			[]string{"Morning (8-10am)", "Midday (12-2pm)", "Afternoon (3-5pm)"},
		},
		{
			"Test CTA variants to optimize demo booking",
			optimizer.VariableCTA,
			[]string{"Book a demo", "Schedule a call", "See it in action"},
		},
	}

	plans := make([]Plan, 0, len(defaults))
	for _, d := range defaults {
		exp, err := e.Create(ctx, Spec{
			CampaignID: campaignID,
			Name:       string(d.variable) + " test",
			Hypothesis: d.summary,
			Variable:   d.variable,
			Variants:   d.variants,
		})
		if err != nil {
			return nil, err
		}
		plans = append(plans, Plan{Summary: d.summary, Experiment: exp})
	}
	return plans, nil
}
