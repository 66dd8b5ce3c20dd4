package sequencer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/outreachd/internal/clock"
)

// RunnerConfig configures the scheduling loop.
type RunnerConfig struct {
	// Interval between scans for due touches.
	// Default: 30 seconds
	Interval time.Duration `json:"interval" koanf:"interval"`

	// Batch is the maximum number of due sequences handled per tick.
	// Default: 500
	Batch int `json:"batch" koanf:"batch"`

	// Concurrency bounds the number of leads processed in parallel.
	// Default: 16
	Concurrency int `json:"concurrency" koanf:"concurrency"`
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		Interval:    30 * time.Second,
		Batch:       500,
		Concurrency: 16,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RunnerConfig) ApplyDefaults() {
	defaults := DefaultRunnerConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.Batch <= 0 {
		c.Batch = defaults.Batch
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
}

// Runner drives SendDue on a ticker. Each lead is processed on its own
// goroutine; touches of one lead run in order on that goroutine.
type Runner struct {
	seq    *Sequencer
	clock  clock.Clock
	config *RunnerConfig
	logger *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerClock sets the clock whose ticker drives the loop.
func WithRunnerClock(c clock.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l.Named("sequencer.runner")
		}
	}
}

// NewRunner creates a runner for s.
func NewRunner(s *Sequencer, cfg *RunnerConfig, opts ...RunnerOption) *Runner {
	if cfg == nil {
		cfg = DefaultRunnerConfig()
	}
	cfg.ApplyDefaults()
	r := &Runner{
		seq:    s,
		clock:  s.clock,
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes due touches on every tick until ctx is cancelled. Sends
// already in flight when ctx is cancelled run to completion.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("sequencer runner started", zap.Duration("interval", r.config.Interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sequencer runner stopped")
			return nil
		case <-ticker.C():
			if _, err := r.Tick(ctx); err != nil {
				r.logger.Error("tick failed", zap.Error(err))
			}
		}
	}
}

// Tick processes every sequence due now and returns how many were handled.
func (r *Runner) Tick(ctx context.Context) (int, error) {
	TicksTotal.Inc()
	due, err := r.seq.Due(ctx, r.config.Batch)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	byLead := make(map[string][]string)
	var order []string
	for _, s := range due {
		if _, ok := byLead[s.LeadID]; !ok {
			order = append(order, s.LeadID)
		}
		byLead[s.LeadID] = append(byLead[s.LeadID], s.ID)
	}

	// ctx only stops new sends from starting.
	sendCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(r.config.Concurrency)
	handled := make([]int, len(order))
	for i, lead := range order {
		ids := byLead[lead]
		g.Go(func() error {
			for _, id := range ids {
				if ctx.Err() != nil {
					return nil
				}
				res, err := r.seq.SendDue(sendCtx, id)
				handled[i]++
				if err != nil {
					r.logSendError(id, res, err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, n := range handled {
		total += n
	}
	return total, nil
}

func (r *Runner) logSendError(id string, res SendResult, err error) {
	fields := []zap.Field{
		zap.String("sequence_id", id),
		zap.String("disposition", string(res.Disposition)),
		zap.Error(err),
	}
	if errors.Is(err, ErrSendFailure) && res.Disposition == DispositionRetrying {
		r.logger.Warn("send failed, retry scheduled", fields...)
		return
	}
	r.logger.Error("send due touch", fields...)
}
