package services

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/compliance"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/contentguard"
	"github.com/fyrsmithlabs/outreachd/internal/events"
	"github.com/fyrsmithlabs/outreachd/internal/experiment"
	"github.com/fyrsmithlabs/outreachd/internal/leads"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
	"github.com/fyrsmithlabs/outreachd/internal/workflows"
)

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// Registry provides access to all outreachd services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Policies() *policy.Registry
	Log() compliancelog.Log
	Gate() *compliance.Gate
	Guard() *contentguard.Guard
	Campaigns() *campaign.Manager
	Qualifier() *leads.Qualifier
	Sequencer() *sequencer.Sequencer
	Runner() *sequencer.Runner
	Optimizer() *optimizer.Optimizer
	Experiments() *experiment.Engine
	Sink() events.Sink
	HealthChecks() map[string]HealthCheck

	// Run starts background work and blocks until ctx is cancelled.
	Run(ctx context.Context) error
	// Close releases owned resources. It is safe to call more than once.
	Close() error
}

// Options configures the registry with service instances.
type Options struct {
	Policies    *policy.Registry
	Watcher     *policy.Watcher
	Log         compliancelog.Log
	Gate        *compliance.Gate
	Guard       *contentguard.Guard
	Campaigns   *campaign.Manager
	Qualifier   *leads.Qualifier
	Sequencer   *sequencer.Sequencer
	Runner      *sequencer.Runner
	Workflows   *workflows.Worker
	Optimizer   *optimizer.Optimizer
	Experiments *experiment.Engine
	Sink        events.Sink
	Checks      map[string]HealthCheck
}

// registry is the concrete implementation of Registry.
type registry struct {
	opts Options

	// closers run in reverse order on Close.
	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// NewRegistry creates a new service registry. The registry does not own
// the services it is given; Close is a no-op.
func NewRegistry(opts Options) Registry {
	if opts.Sink == nil {
		opts.Sink = events.NopSink{}
	}
	return &registry{opts: opts}
}

func (r *registry) Policies() *policy.Registry      { return r.opts.Policies }
func (r *registry) Log() compliancelog.Log          { return r.opts.Log }
func (r *registry) Gate() *compliance.Gate          { return r.opts.Gate }
func (r *registry) Guard() *contentguard.Guard      { return r.opts.Guard }
func (r *registry) Campaigns() *campaign.Manager    { return r.opts.Campaigns }
func (r *registry) Qualifier() *leads.Qualifier     { return r.opts.Qualifier }
func (r *registry) Sequencer() *sequencer.Sequencer { return r.opts.Sequencer }
func (r *registry) Runner() *sequencer.Runner       { return r.opts.Runner }
func (r *registry) Optimizer() *optimizer.Optimizer { return r.opts.Optimizer }
func (r *registry) Experiments() *experiment.Engine { return r.opts.Experiments }
func (r *registry) Sink() events.Sink               { return r.opts.Sink }

func (r *registry) HealthChecks() map[string]HealthCheck {
	out := make(map[string]HealthCheck, len(r.opts.Checks))
	for k, v := range r.opts.Checks {
		out[k] = v
	}
	return out
}

// Run starts the policy watcher and whichever of the sequencer runner and
// the Temporal worker is configured, and blocks until ctx is cancelled or
// one of them fails.
func (r *registry) Run(ctx context.Context) error {
	if r.opts.Watcher != nil {
		if err := r.opts.Watcher.Start(ctx); err != nil {
			return err
		}
		defer r.opts.Watcher.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.opts.Runner != nil {
		g.Go(func() error { return r.opts.Runner.Run(gctx) })
	}
	if r.opts.Workflows != nil {
		g.Go(func() error { return r.opts.Workflows.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

func (r *registry) Close() error {
	r.closeOnce.Do(func() {
		var errs []error
		for i := len(r.closers) - 1; i >= 0; i-- {
			if err := r.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
