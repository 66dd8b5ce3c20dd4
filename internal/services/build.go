package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/clock"
	"github.com/fyrsmithlabs/outreachd/internal/compliance"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/config"
	"github.com/fyrsmithlabs/outreachd/internal/contentguard"
	"github.com/fyrsmithlabs/outreachd/internal/events"
	"github.com/fyrsmithlabs/outreachd/internal/experiment"
	"github.com/fyrsmithlabs/outreachd/internal/leads"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
	"github.com/fyrsmithlabs/outreachd/internal/workflows"
	"github.com/fyrsmithlabs/outreachd/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/outreachd"

// BuildOptions carries process-level collaborators.
type BuildOptions struct {
	Logger *zap.Logger
	// Meter defaults to the global meter provider.
	Meter metric.Meter
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// persistence is the storage chosen by the store backend.
type persistence struct {
	campaigns campaign.Repository
	sequences sequencer.Repository
	log       compliancelog.Log
	qtable    optimizer.Store
}

// Build constructs every service from cfg. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg *config.Config, opts BuildOptions) (_ Registry, err error) {
	if cfg == nil {
		return nil, errors.New("services: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	r := &registry{opts: Options{Checks: make(map[string]HealthCheck)}}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	guard, err := contentguard.New(&cfg.ContentGuard)
	if err != nil {
		return nil, fmt.Errorf("content guard: %w", err)
	}
	r.opts.Guard = guard

	p, err := r.openStore(ctx, cfg.Store, guard, clk, logger)
	if err != nil {
		return nil, err
	}
	r.opts.Log = p.log

	counter, err := r.openCounter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	nc, err := r.connectNATS(cfg.NATS, logger)
	if err != nil {
		return nil, err
	}
	r.opts.Sink = events.NopSink{}
	if nc != nil {
		sink := events.NewAsyncSink(events.NewNATSPublisher(nc),
			events.WithBuffer(cfg.NATS.Buffer),
			events.WithPublishTimeout(cfg.NATS.PublishTimeout),
			events.WithLogger(logger),
		)
		r.opts.Sink = sink
		r.closers = append(r.closers, func() error { sink.Close(); return nil })
	}
	pager := NewSinkPager(r.opts.Sink, logger)

	if err := r.buildPolicies(cfg.Policy, logger); err != nil {
		return nil, err
	}

	gateMetrics, err := compliance.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("gate metrics: %w", err)
	}
	gateOpts := []compliance.Option{
		compliance.WithClock(clk),
		compliance.WithWarnBelow(cfg.Gate.WarnBelow),
		compliance.WithMetrics(gateMetrics),
		compliance.WithLogger(logger),
	}
	if guard.Enabled() {
		gateOpts = append(gateOpts, compliance.WithContentScanner(guard))
	}
	r.opts.Gate, err = compliance.NewGate(p.log, counter, gateOpts...)
	if err != nil {
		return nil, fmt.Errorf("compliance gate: %w", err)
	}

	campaignMetrics, err := campaign.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("campaign metrics: %w", err)
	}
	managerCfg := cfg.Campaign
	r.opts.Campaigns = campaign.NewManager(p.campaigns, r.opts.Policies, r.opts.Gate, p.log, &managerCfg,
		campaign.WithMetrics(campaignMetrics),
		campaign.WithLogger(logger),
		campaign.WithSink(r.opts.Sink),
		campaign.WithPager(pager),
		campaign.WithClock(clk),
	)

	if err := r.buildQualifier(cfg.Sourcing, p.log, clk, logger); err != nil {
		return nil, err
	}
	if err := r.buildLearning(ctx, cfg, p, meter, clk, logger); err != nil {
		return nil, err
	}
	if err := r.buildSequencer(cfg.Sequencer, p, nc, pager, clk, logger); err != nil {
		return nil, err
	}

	logger.Info("services initialized",
		zap.String("store", cfg.Store.Backend),
		zap.String("counter", cfg.Gate.CounterBackend),
		zap.Bool("nats_connected", nc != nil),
		zap.Int("policies", len(r.opts.Policies.List())),
		zap.Bool("content_guard", guard.Enabled()),
		zap.String("assigner", cfg.Experiment.Assigner),
	)
	return r, nil
}

func (r *registry) openStore(ctx context.Context, cfg config.StoreConfig, guard *contentguard.Guard, clk clock.Clock, logger *zap.Logger) (persistence, error) {
	if cfg.Backend == config.StoreMemory {
		logger.Warn("using in-memory store; state is lost on restart")
		return persistence{
			campaigns: campaign.NewMemoryRepository(),
			sequences: sequencer.NewMemoryRepository(),
			log:       compliancelog.NewMemoryLog(compliancelog.WithClock(clk.Now), compliancelog.WithRedactor(guard)),
		}, nil
	}

	path, err := config.ExpandHome(cfg.Path)
	if err != nil {
		return persistence{}, fmt.Errorf("store path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return persistence{}, fmt.Errorf("creating store directory: %w", err)
	}
	db, err := store.Open(ctx, path, store.WithLogger(logger))
	if err != nil {
		return persistence{}, err
	}
	r.closers = append(r.closers, db.Close)
	r.opts.Checks["store"] = db.Ping
	return persistence{
		campaigns: db.Campaigns(),
		sequences: db.Sequences(),
		log:       db.ComplianceLog(store.WithLogClock(clk.Now), store.WithRedactor(guard)),
		qtable:    db.QTable(),
	}, nil
}

func (r *registry) openCounter(ctx context.Context, cfg *config.Config) (compliance.Counter, error) {
	if cfg.Gate.CounterBackend != config.CounterRedis {
		return compliance.NewMemoryCounter(), nil
	}
	client, err := compliance.NewRedisClient(ctx, cfg.Redis.Client())
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, client.Close)
	r.opts.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return compliance.NewRedisCounter(client, cfg.Redis.Prefix), nil
}

// connectNATS returns nil when no URL is configured.
func (r *registry) connectNATS(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("outreachd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	r.closers = append(r.closers, func() error { nc.Close(); return nil })
	r.opts.Checks["nats"] = func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats %s", nc.Status())
		}
		return nil
	}
	logger.Info("connected to NATS", zap.String("url", cfg.URL))
	return nc, nil
}

func (r *registry) buildPolicies(cfg config.PolicyConfig, logger *zap.Logger) error {
	reg, err := policy.NewRegistry(policy.WithLogger(logger), policy.WithFiles(cfg.Files...))
	if err != nil {
		return fmt.Errorf("policy registry: %w", err)
	}
	r.opts.Policies = reg
	if !cfg.Watch || len(cfg.Files) == 0 {
		return nil
	}
	w, err := policy.NewWatcher(reg, logger, policy.WithReloadHook(func(err error) {
		if err != nil {
			logger.Warn("policy reload rejected; keeping previous policies", zap.Error(err))
		}
	}))
	if err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}
	r.opts.Watcher = w
	r.closers = append(r.closers, func() error { w.Stop(); return nil })
	return nil
}

func (r *registry) buildQualifier(cfg config.SourcingConfig, log compliancelog.Log, clk clock.Clock, logger *zap.Logger) error {
	catalog := cfg.Catalog
	if len(catalog) == 0 {
		catalog = leads.DefaultCatalog()
	}
	sources, err := leads.NewSourceRegistry(catalog, leads.WithNow(clk.Now))
	if err != nil {
		return fmt.Errorf("source catalog: %w", err)
	}
	r.opts.Qualifier = leads.NewQualifier(sources,
		leads.WithMinScore(cfg.MinScore),
		leads.WithSourceTimeout(cfg.SourceTimeout),
		leads.WithConcurrency(cfg.Concurrency),
		leads.WithComplianceLog(log),
		leads.WithLogger(logger),
		leads.WithClock(clk.Now),
	)
	return nil
}

func (r *registry) buildSequencer(cfg config.SequencerConfig, p persistence, nc *nats.Conn, pager *SinkPager, clk clock.Clock, logger *zap.Logger) error {
	retry := cfg.Retry
	opts := []sequencer.Option{
		sequencer.WithBooker(&sequencer.LinkBooker{BaseURL: cfg.BookingURL}),
		sequencer.WithPager(pager),
		sequencer.WithSink(r.opts.Sink),
		sequencer.WithClock(clk),
		sequencer.WithSendTimeout(cfg.SendTimeout),
		sequencer.WithApprovalTimeout(cfg.ApprovalTimeout),
		sequencer.WithPausedRecheck(cfg.PausedRecheck),
		sequencer.WithRetry(&retry),
		sequencer.WithExperiments(r.opts.Experiments),
		sequencer.WithLogger(logger),
	}
	if nc != nil {
		opts = append(opts,
			sequencer.WithSender(NewOutboxSender(nc)),
			sequencer.WithApprover(NewNATSApprover(nc)),
		)
	} else {
		logger.Warn("no NATS connection; touches will fail delivery and SAFE campaigns cannot be approved")
	}

	seq, err := sequencer.New(p.sequences, r.opts.Campaigns, r.opts.Gate, p.log, opts...)
	if err != nil {
		return err
	}
	r.opts.Sequencer = seq

	if cfg.Temporal.Enabled {
		temporalCfg := cfg.Temporal
		c, err := workflows.Dial(&temporalCfg)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, func() error {
			c.Close()
			return nil
		})
		r.opts.Workflows = workflows.NewWorker(c, seq, &temporalCfg,
			workflows.WithDispatchClock(clk),
			workflows.WithDispatchLogger(logger),
		)
		logger.Info("sequences run as temporal workflows",
			zap.String("host", temporalCfg.HostPort),
			zap.String("task_queue", temporalCfg.TaskQueue))
		return nil
	}

	runnerCfg := cfg.Runner
	r.opts.Runner = sequencer.NewRunner(seq, &runnerCfg,
		sequencer.WithRunnerClock(clk),
		sequencer.WithRunnerLogger(logger),
	)
	return nil
}

// buildLearning wires the optimizer and the experiment engine. The
// optimizer's table is restored from the store when one is configured,
// and every observed outcome updates it.
func (r *registry) buildLearning(ctx context.Context, cfg *config.Config, p persistence, meter metric.Meter, clk clock.Clock, logger *zap.Logger) error {
	tel, err := optimizer.NewTelemetry(meter)
	if err != nil {
		return fmt.Errorf("optimizer telemetry: %w", err)
	}
	optOpts := []optimizer.Option{optimizer.WithTelemetry(tel), optimizer.WithLogger(logger)}
	if p.qtable != nil {
		optOpts = append(optOpts, optimizer.WithStore(p.qtable))
	}
	optCfg := cfg.Optimizer
	opt, err := optimizer.New(&optCfg, p.log, optOpts...)
	if err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}
	if err := opt.Restore(ctx); err != nil {
		return err
	}
	r.opts.Optimizer = opt

	expOpts := []experiment.Option{
		experiment.WithThresholds(cfg.Guardrails),
		experiment.WithMinSamples(cfg.Experiment.MinSamples),
		experiment.WithClock(clk),
		experiment.WithLearner(opt),
		experiment.WithLogger(logger),
	}
	if cfg.Experiment.Assigner == config.AssignerOptimizer {
		expOpts = append(expOpts, experiment.WithAssigner(opt))
	}
	r.opts.Experiments = experiment.NewEngine(expOpts...)
	return nil
}
