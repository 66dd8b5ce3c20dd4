package workflows

import "time"

// Config configures the Temporal-backed sequence runner.
type Config struct {
	// Enabled replaces the in-process runner with sequence workflows.
	Enabled bool `koanf:"enabled"`

	// HostPort is the Temporal frontend address.
	// Default: localhost:7233
	HostPort string `koanf:"host_port"`

	// Default: default
	Namespace string `koanf:"namespace"`

	// Default: outreachd-sequences
	TaskQueue string `koanf:"task_queue"`

	// DispatchInterval is how often due sequences are handed to Temporal.
	// Default: 30 seconds
	DispatchInterval time.Duration `koanf:"dispatch_interval"`

	// Batch caps the sequences dispatched per tick.
	// Default: 200
	Batch int `koanf:"batch"`
}

// DefaultConfig returns the default Temporal configuration. It is
// disabled.
func DefaultConfig() *Config {
	return &Config{
		HostPort:         "localhost:7233",
		Namespace:        "default",
		TaskQueue:        "outreachd-sequences",
		DispatchInterval: 30 * time.Second,
		Batch:            200,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.HostPort == "" {
		c.HostPort = defaults.HostPort
	}
	if c.Namespace == "" {
		c.Namespace = defaults.Namespace
	}
	if c.TaskQueue == "" {
		c.TaskQueue = defaults.TaskQueue
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = defaults.DispatchInterval
	}
	if c.Batch <= 0 {
		c.Batch = defaults.Batch
	}
}
