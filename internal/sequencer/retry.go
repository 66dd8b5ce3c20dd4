package sequencer

import "time"

// RetryConfig configures backoff for failed sends.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first failed attempt.
	// Default: 5
	MaxRetries int `json:"max_retries" koanf:"max_retries"`

	// InitialBackoff is the delay before the first retry.
	// Default: 1 minute
	InitialBackoff time.Duration `json:"initial_backoff" koanf:"initial_backoff"`

	// MaxBackoff caps the delay.
	// Default: 1 hour
	MaxBackoff time.Duration `json:"max_backoff" koanf:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2
	BackoffMultiplier float64 `json:"backoff_multiplier" koanf:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    time.Minute,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// Backoff returns the delay before retry number attempt (1-based).
func (c *RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

// Exhausted reports whether attempt failures used up every retry.
func (c *RetryConfig) Exhausted(failures int) bool {
	return failures > c.MaxRetries
}
