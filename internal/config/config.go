// Package config loads outreachd configuration.
//
// Values come from three layers, highest precedence first: OUTREACHD_*
// environment variables, the YAML file, and the Default*Config values of
// each component package.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/compliance"
	"github.com/fyrsmithlabs/outreachd/internal/contentguard"
	"github.com/fyrsmithlabs/outreachd/internal/experiment"
	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	"github.com/fyrsmithlabs/outreachd/internal/leads"
	"github.com/fyrsmithlabs/outreachd/internal/logging"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
	"github.com/fyrsmithlabs/outreachd/internal/telemetry"
	"github.com/fyrsmithlabs/outreachd/internal/workflows"
)

// Config holds the complete outreachd configuration.
type Config struct {
	Server        ServerConfig           `koanf:"server"`
	Observability telemetry.Config       `koanf:"observability"`
	Logging       logging.Config         `koanf:"logging"`
	Policy        PolicyConfig           `koanf:"policy"`
	Gate          GateConfig             `koanf:"gate"`
	Redis         RedisConfig            `koanf:"redis"`
	NATS          NATSConfig             `koanf:"nats"`
	Store         StoreConfig            `koanf:"store"`
	Sequencer     SequencerConfig        `koanf:"sequencer"`
	Campaign      campaign.ManagerConfig `koanf:"campaign"`
	Guardrails    guardrail.Thresholds   `koanf:"guardrails"`
	Experiment    ExperimentConfig       `koanf:"experiment"`
	Optimizer     optimizer.Config       `koanf:"optimizer"`
	Sourcing      SourcingConfig         `koanf:"sourcing"`
	ContentGuard  contentguard.Config    `koanf:"contentguard"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PolicyConfig lists jurisdiction overlay files (YAML or TOML) applied on
// top of the built-in seed.
type PolicyConfig struct {
	Files []string `koanf:"files"`
	Watch bool     `koanf:"watch"`
}

// Counter backends.
const (
	CounterMemory = "memory"
	CounterRedis  = "redis"
)

// GateConfig configures the compliance gate.
type GateConfig struct {
	// WarnBelow flags permitted actions whose policy confidence is under
	// this value.
	WarnBelow      float64 `koanf:"warn_below"`
	CounterBackend string  `koanf:"counter_backend"`
}

// RedisConfig configures the shared daily-send counter.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// Client converts to the compliance package's connection settings.
func (r RedisConfig) Client() compliance.RedisConfig {
	return compliance.RedisConfig{
		Addr:     r.Addr,
		Password: r.Password.Value(),
		DB:       r.DB,
		Prefix:   r.Prefix,
	}
}

// NATSConfig configures the event sink. An empty URL disables publishing.
type NATSConfig struct {
	URL            string        `koanf:"url"`
	Buffer         int           `koanf:"buffer"`
	PublishTimeout time.Duration `koanf:"publish_timeout"`
}

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// StoreConfig selects where campaigns, sequences, the compliance log and
// the Q-table live.
type StoreConfig struct {
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
}

// SequencerConfig configures touch dispatch.
type SequencerConfig struct {
	Runner          sequencer.RunnerConfig `koanf:"runner"`
	Retry           sequencer.RetryConfig  `koanf:"retry"`
	SendTimeout     time.Duration          `koanf:"send_timeout"`
	ApprovalTimeout time.Duration          `koanf:"approval_timeout"`
	PausedRecheck   time.Duration          `koanf:"paused_recheck"`

	// Temporal, when enabled, drives sequences as durable workflows in
	// place of Runner.
	Temporal workflows.Config `koanf:"temporal"`

	// BookingURL is the link handed to interested leads.
	BookingURL string `koanf:"booking_url"`
}

// Experiment assigners.
const (
	AssignerHash      = "hash"
	AssignerOptimizer = "optimizer"
)

// ExperimentConfig configures the experiment engine.
type ExperimentConfig struct {
	MinSamples int    `koanf:"min_samples"`
	Assigner   string `koanf:"assigner"`
}

// SourcingConfig configures lead qualification.
type SourcingConfig struct {
	MinScore      float64            `koanf:"min_score"`
	SourceTimeout time.Duration      `koanf:"source_timeout"`
	Concurrency   int                `koanf:"concurrency"`
	Catalog       []leads.DataSource `koanf:"catalog"`
}

// Default returns a configuration built from every component's defaults.
func Default() *Config {
	retry := sequencer.DefaultRetryConfig()
	runner := sequencer.DefaultRunnerConfig()
	temporal := workflows.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: 10 * time.Second,
		},
		Observability: *telemetry.NewDefaultConfig(),
		Logging:       *logging.NewDefaultConfig(),
		Gate: GateConfig{
			WarnBelow:      compliance.DefaultWarnBelow,
			CounterBackend: CounterMemory,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "outreachd",
		},
		NATS: NATSConfig{
			Buffer:         1024,
			PublishTimeout: 2 * time.Second,
		},
		Store: StoreConfig{
			Backend: StoreSQLite,
			Path:    "~/.config/outreachd/outreachd.db",
		},
		Sequencer: SequencerConfig{
			Runner:          *runner,
			Retry:           *retry,
			SendTimeout:     sequencer.DefaultSendTimeout,
			ApprovalTimeout: sequencer.DefaultApprovalTimeout,
			PausedRecheck:   sequencer.DefaultPausedRecheck,
			Temporal:        *temporal,
		},
		Campaign:   *campaign.DefaultManagerConfig(),
		Guardrails: guardrail.DefaultThresholds(),
		Experiment: ExperimentConfig{
			MinSamples: experiment.DefaultMinSamples,
			Assigner:   AssignerOptimizer,
		},
		Optimizer: *optimizer.DefaultConfig(),
		Sourcing: SourcingConfig{
			MinScore:      leads.DefaultMinScore,
			SourceTimeout: leads.DefaultSourceTimeout,
			Concurrency:   leads.DefaultConcurrency,
		},
		ContentGuard: *contentguard.DefaultConfig(),
	}
}

// normalize copies the shared guardrail thresholds into the components
// that enforce them.
func (c *Config) normalize() {
	c.Campaign.Guardrails = c.Guardrails
	c.Optimizer.Guardrails = c.Guardrails
}

// Validate checks every section and joins the failures.
func (c *Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server", fmt.Errorf("http_port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("server", errors.New("shutdown_timeout must be positive"))
	}
	add("observability", c.Observability.Validate())
	add("logging", c.Logging.Validate())

	if c.Gate.WarnBelow < 0 || c.Gate.WarnBelow > 1 {
		add("gate", fmt.Errorf("warn_below must be in [0,1], got %v", c.Gate.WarnBelow))
	}
	switch c.Gate.CounterBackend {
	case CounterMemory:
	case CounterRedis:
		if c.Redis.Addr == "" {
			add("redis", errors.New("addr is required when gate.counter_backend is redis"))
		}
	default:
		add("gate", fmt.Errorf("counter_backend must be memory or redis, got %q", c.Gate.CounterBackend))
	}

	if c.NATS.URL != "" && c.NATS.Buffer <= 0 {
		add("nats", errors.New("buffer must be positive"))
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			add("store", errors.New("path is required for the sqlite backend"))
		}
	default:
		add("store", fmt.Errorf("backend must be sqlite or memory, got %q", c.Store.Backend))
	}

	if c.Sequencer.Runner.Interval <= 0 {
		add("sequencer", errors.New("runner.interval must be positive"))
	}
	if c.Sequencer.Runner.Concurrency <= 0 {
		add("sequencer", errors.New("runner.concurrency must be positive"))
	}
	if c.Sequencer.SendTimeout <= 0 {
		add("sequencer", errors.New("send_timeout must be positive"))
	}
	if c.Sequencer.Retry.MaxRetries < 0 {
		add("sequencer", errors.New("retry.max_retries cannot be negative"))
	}
	if t := c.Sequencer.Temporal; t.Enabled {
		if t.HostPort == "" {
			add("sequencer", errors.New("temporal.host_port is required when temporal is enabled"))
		}
		if t.TaskQueue == "" {
			add("sequencer", errors.New("temporal.task_queue is required when temporal is enabled"))
		}
	}

	add("guardrails", c.Guardrails.Validate())
	add("optimizer", c.Optimizer.Validate())

	if c.Experiment.MinSamples <= 0 {
		add("experiment", errors.New("min_samples must be positive"))
	}
	if c.Experiment.Assigner != AssignerHash && c.Experiment.Assigner != AssignerOptimizer {
		add("experiment", fmt.Errorf("assigner must be hash or optimizer, got %q", c.Experiment.Assigner))
	}

	if c.Sourcing.MinScore < 0 || c.Sourcing.MinScore > 100 {
		add("sourcing", fmt.Errorf("min_score must be in [0,100], got %v", c.Sourcing.MinScore))
	}
	if c.Sourcing.SourceTimeout <= 0 {
		add("sourcing", errors.New("source_timeout must be positive"))
	}

	return errors.Join(errs...)
}
