package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
)

const stripes = 64

// Store persists Q-table cells.
type Store interface {
	PutCell(ctx context.Context, c Cell) error
	Cells(ctx context.Context) ([]Cell, error)
}

type row struct {
	mu     sync.RWMutex
	values map[string]float64
}

func (r *row) get(action string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[action]
	return v, ok
}

func (r *row) max() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.values) == 0 {
		return 0
	}
	first := true
	var best float64
	for _, v := range r.values {
		if first || v > best {
			best = v
			first = false
		}
	}
	return best
}

// Optimizer is a guardrailed tabular Q-learner.
type Optimizer struct {
	config *Config
	log    compliancelog.Log
	store  Store

	mu   sync.RWMutex
	rows map[string]*row

	// cellLocks serialize read-modify-write of one cell, indexed by the
	// xxhash of state and action keys.
	cellLocks [stripes]sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand

	metrics *Telemetry
	logger  *zap.Logger
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithRand sets the random source used for exploration.
func WithRand(r *rand.Rand) Option {
	return func(o *Optimizer) { o.rng = r }
}

// WithStore enables write-through persistence of updated cells.
func WithStore(s Store) Option {
	return func(o *Optimizer) { o.store = s }
}

// WithTelemetry sets custom OpenTelemetry instruments.
func WithTelemetry(m *Telemetry) Option {
	return func(o *Optimizer) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.logger = l.Named("optimizer")
		}
	}
}

// New creates an optimizer. Guardrail breaches are written to log.
func New(cfg *Config, log compliancelog.Log, opts ...Option) (*Optimizer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, errors.New("optimizer: compliance log is required")
	}
	metrics, _ := NewTelemetry(nil)
	o := &Optimizer{
		config:  cfg,
		log:     log,
		rows:    make(map[string]*row),
		metrics: metrics,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return o, nil
}

// Config returns the learning parameters.
func (o *Optimizer) Config() Config { return *o.config }

// Reward scores m with the optimizer's weights and guardrails.
func (o *Optimizer) Reward(m Metrics) Reward {
	return Score(o.config, m)
}

// Score weighs m under cfg. A breached guardrail forces the total to -1
// and lists every violation.
func Score(cfg *Config, m Metrics) Reward {
	r := Reward{Metrics: m}
	if vs := cfg.Guardrails.Check(m.Guardrail()); len(vs) > 0 {
		r.Total = -1.0
		r.Violations = vs
		return r
	}
	w := cfg.Weights
	r.Total = w.ReplyRate*m.ReplyRate +
		w.PositiveReplyRate*m.PositiveReplyRate +
		w.DemoBookRate*m.DemoBookRate +
		w.DemoShowRate*m.DemoShowRate +
		w.DemoToPaidRate*m.DemoToPaidRate
	r.GuardrailsSatisfied = true
	return r
}

func (o *Optimizer) row(stateKey string) (*row, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.rows[stateKey]
	return r, ok
}

func (o *Optimizer) rowOrCreate(stateKey string) *row {
	if r, ok := o.row(stateKey); ok {
		return r
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.rows[stateKey]; ok {
		return r
	}
	r := &row{values: make(map[string]float64)}
	o.rows[stateKey] = r
	return r
}

func (o *Optimizer) float64() float64 {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return o.rng.Float64()
}

func (o *Optimizer) intN(n int) int {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return o.rng.IntN(n)
}

// SelectAction picks an action epsilon-greedily. An unvisited state is a
// uniform random choice. Ties go to the earliest action in actions.
func (o *Optimizer) SelectAction(s State, actions []Action) (Action, error) {
	return o.selectByKey(context.Background(), s.Key(), actions)
}

func (o *Optimizer) selectByKey(ctx context.Context, stateKey string, actions []Action) (Action, error) {
	if len(actions) == 0 {
		return Action{}, ErrNoActions
	}
	r, known := o.row(stateKey)
	if known {
		r.mu.RLock()
		known = len(r.values) > 0
		r.mu.RUnlock()
	}
	if !known || o.float64() < o.config.Epsilon {
		o.metrics.RecordSelection(ctx, "explore")
		return actions[o.intN(len(actions))], nil
	}

	best := actions[0]
	bestQ, _ := r.get(best.Key())
	for _, a := range actions[1:] {
		if q, _ := r.get(a.Key()); q > bestQ {
			best, bestQ = a, q
		}
	}
	o.metrics.RecordSelection(ctx, "exploit")
	return best, nil
}

// Choose assigns a variant of variable for contextKey, treating the key
// as a state key. Callers that want learned assignment pass State.Key().
func (o *Optimizer) Choose(ctx context.Context, contextKey string, variable Variable, variants []string) (string, error) {
	actions := make([]Action, len(variants))
	for i, v := range variants {
		actions[i] = Action{Variable: variable, Variant: v}
	}
	a, err := o.selectByKey(ctx, contextKey, actions)
	if err != nil {
		return "", err
	}
	return a.Variant, nil
}

// Update applies one Q-learning step for (s, a) with reward and next
// state. A sample that breaches a guardrail is logged and returns an error
// wrapping ErrGuardrailBreach; the table is not changed.
func (o *Optimizer) Update(ctx context.Context, s State, a Action, reward Reward, next State) error {
	stateKey, actionKey := s.Key(), a.Key()

	vs := reward.Violations
	if len(vs) == 0 {
		vs = o.config.Guardrails.Check(reward.Guardrail())
	}
	if !reward.GuardrailsSatisfied || len(vs) > 0 {
		return o.rejectSample(ctx, stateKey, actionKey, reward, vs)
	}

	maxNext := 0.0
	if nr, ok := o.row(next.Key()); ok {
		maxNext = nr.max()
	}

	lock := &o.cellLocks[xxhash.Sum64String(stateKey+"\x00"+actionKey)%stripes]
	lock.Lock()
	defer lock.Unlock()

	r := o.rowOrCreate(stateKey)
	current, _ := r.get(actionKey)
	updated := current + o.config.Alpha*(reward.Total+o.config.Gamma*maxNext-current)
	r.mu.Lock()
	r.values[actionKey] = updated
	r.mu.Unlock()

	o.metrics.RecordUpdate(ctx, "applied")
	if o.store != nil {
		if err := o.store.PutCell(ctx, Cell{StateKey: stateKey, ActionKey: actionKey, Value: updated}); err != nil {
			return fmt.Errorf("persist q cell: %w", err)
		}
	}
	return nil
}

func (o *Optimizer) rejectSample(ctx context.Context, stateKey, actionKey string, reward Reward, vs []guardrail.Violation) error {
	o.metrics.RecordUpdate(ctx, "rejected")
	breach := &guardrail.BreachError{Violations: vs}
	input, _ := json.Marshal(map[string]any{
		"state":        stateKey,
		"action":       actionKey,
		"total_reward": reward.Total,
		"metrics":      reward.Metrics,
	})
	reason := guardrail.Reasons(vs)
	if reason == "" {
		reason = "reward sample flagged as breaching guardrails"
	}
	_, err := o.log.Append(ctx, compliancelog.Event{
		Action:      compliancelog.ActionGuardrailBreach,
		Result:      compliancelog.ResultBlock,
		Check:       "guardrail",
		Reason:      "sample excluded from learning: " + reason,
		RequiredFix: "investigate the variant before it is selected again",
		Input:       string(input),
	})
	o.logger.Warn("reward sample excluded from learning",
		zap.String("state", stateKey),
		zap.String("action", actionKey),
		zap.String("violations", reason))
	if err != nil {
		return errors.Join(breach, fmt.Errorf("log guardrail breach: %w", err))
	}
	return breach
}

// Value returns Q(s, a) and whether the cell exists.
func (o *Optimizer) Value(s State, a Action) (float64, bool) {
	r, ok := o.row(s.Key())
	if !ok {
		return 0, false
	}
	return r.get(a.Key())
}

// Export returns a copy of the table keyed by state then action.
func (o *Optimizer) Export() map[string]map[string]float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]map[string]float64, len(o.rows))
	for sk, r := range o.rows {
		r.mu.RLock()
		m := make(map[string]float64, len(r.values))
		for ak, v := range r.values {
			m[ak] = v
		}
		r.mu.RUnlock()
		out[sk] = m
	}
	return out
}

// Cells returns the table as a flat slice sorted by state then action.
func (o *Optimizer) Cells() []Cell {
	var out []Cell
	for sk, actions := range o.Export() {
		for ak, v := range actions {
			out = append(out, Cell{StateKey: sk, ActionKey: ak, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StateKey == out[j].StateKey {
			return out[i].ActionKey < out[j].ActionKey
		}
		return out[i].StateKey < out[j].StateKey
	})
	return out
}

// Load replaces the table with cells.
func (o *Optimizer) Load(cells []Cell) {
	rows := make(map[string]*row)
	for _, c := range cells {
		r, ok := rows[c.StateKey]
		if !ok {
			r = &row{values: make(map[string]float64)}
			rows[c.StateKey] = r
		}
		r.values[c.ActionKey] = c.Value
	}
	o.mu.Lock()
	o.rows = rows
	o.mu.Unlock()
}

// Restore loads the table from the configured store.
func (o *Optimizer) Restore(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	cells, err := o.store.Cells(ctx)
	if err != nil {
		return fmt.Errorf("load q table: %w", err)
	}
	o.Load(cells)
	o.logger.Info("q table restored", zap.Int("cells", len(cells)))
	return nil
}
