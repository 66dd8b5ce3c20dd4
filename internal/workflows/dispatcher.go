package workflows

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/clock"
	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
)

// Starter is the part of the Temporal client the dispatcher uses.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// DueLister lists sequences whose next touch is due.
type DueLister interface {
	Due(ctx context.Context, limit int) ([]*sequencer.Sequence, error)
}

// WorkflowID is the workflow id of a sequence. At most one run per
// sequence is open at a time.
func WorkflowID(sequenceID string) string {
	return "sequence-" + sequenceID
}

// Dispatcher starts a SequenceWorkflow for every due sequence that has no
// open run. Sequences already driven by a run are left to its timer.
type Dispatcher struct {
	client Starter
	due    DueLister
	config *Config
	clock  clock.Clock
	logger *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchClock sets the clock whose ticker drives the loop.
func WithDispatchClock(c clock.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(c Starter, due DueLister, cfg *Config, opts ...DispatcherOption) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()
	d := &Dispatcher{
		client: c,
		due:    due,
		config: cfg,
		clock:  clock.Real{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run dispatches on every tick until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.config.DispatchInterval)
	defer ticker.Stop()

	d.logger.Info("sequence dispatcher started",
		zap.String("task_queue", d.config.TaskQueue),
		zap.Duration("interval", d.config.DispatchInterval))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("sequence dispatcher stopped")
			return nil
		case <-ticker.C():
			if _, err := d.Dispatch(ctx); err != nil {
				d.logger.Error("dispatch failed", zap.Error(err))
			}
		}
	}
}

// Dispatch starts workflows for the sequences due now and returns how many
// were handed to Temporal. A sequence whose run is still open counts as
// handed over.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	due, err := d.due.Due(ctx, d.config.Batch)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, s := range due {
		_, err := d.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:                       WorkflowID(s.ID),
			TaskQueue:                d.config.TaskQueue,
			WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
			WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
		}, SequenceWorkflow, SequenceInput{SequenceID: s.ID})
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if err != nil && !errors.As(err, &started) {
			errs = append(errs, fmt.Errorf("start workflow for %s: %w", s.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Worker hosts sequence workflows and activities on a task queue and
// dispatches due sequences to them.
type Worker struct {
	worker     worker.Worker
	dispatcher *Dispatcher
}

// NewWorker registers SequenceWorkflow and the sequencer's activities on
// cfg.TaskQueue.
func NewWorker(c client.Client, seq *sequencer.Sequencer, cfg *Config, opts ...DispatcherOption) *Worker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()
	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(SequenceWorkflow)
	w.RegisterActivity(&Activities{Sequencer: seq})
	return &Worker{
		worker:     w,
		dispatcher: NewDispatcher(c, seq, cfg, opts...),
	}
}

// Run starts the worker and dispatches until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.worker.Start(); err != nil {
		return fmt.Errorf("start temporal worker: %w", err)
	}
	defer w.worker.Stop()
	return w.dispatcher.Run(ctx)
}

// Dial connects to the Temporal frontend named by cfg.
func Dial(cfg *Config) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}
