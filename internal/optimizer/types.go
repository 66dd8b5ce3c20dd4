package optimizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
)

// Variable is a safe experiment variable.
type Variable string

const (
	VariableSubject Variable = "subject"
	VariableTiming  Variable = "timing"
	VariableCTA     Variable = "cta"
	VariableSegment Variable = "segment"
	VariableLanding Variable = "landing"
)

// Valid reports whether v is a known variable.
func (v Variable) Valid() bool {
	switch v {
	case VariableSubject, VariableTiming, VariableCTA, VariableSegment, VariableLanding:
		return true
	}
	return false
}

// State is the discretized context a decision is made in.
type State struct {
	Geo      string       `json:"geo"`
	Industry string       `json:"industry"`
	Hour     int          `json:"hour"`
	Weekday  time.Weekday `json:"weekday"`
	Segment  string       `json:"segment"`
}

// StateAt builds a state from a local send time.
func StateAt(geo, industry, segment string, local time.Time) State {
	return State{
		Geo:      geo,
		Industry: industry,
		Hour:     local.Hour(),
		Weekday:  local.Weekday(),
		Segment:  segment,
	}
}

// Key is geo|industry|tod|dow|segment, where tod is one of four 6-hour
// buckets.
func (s State) Key() string {
	hour := s.Hour
	if hour < 0 {
		hour = 0
	}
	return fmt.Sprintf("%s|%s|%d|%d|%s",
		strings.ToUpper(s.Geo), strings.ToLower(s.Industry), (hour%24)/6, int(s.Weekday), strings.ToLower(s.Segment))
}

// Action is one (variable, variant) choice.
type Action struct {
	Variable Variable `json:"variable"`
	Variant  string   `json:"variant"`
}

// Key is variable_variant.
func (a Action) Key() string {
	return string(a.Variable) + "_" + a.Variant
}

// Metrics are observed rates for one sample, each in [0,1].
type Metrics struct {
	ReplyRate         float64 `json:"reply_rate"`
	PositiveReplyRate float64 `json:"positive_reply_rate"`
	DemoBookRate      float64 `json:"demo_book_rate"`
	DemoShowRate      float64 `json:"demo_show_rate"`
	DemoToPaidRate    float64 `json:"demo_to_paid_rate"`

	BounceRate        float64 `json:"bounce_rate"`
	ComplaintRate     float64 `json:"complaint_rate"`
	NegativeReplyRate float64 `json:"negative_reply_rate"`
	OptOutRate        float64 `json:"opt_out_rate"`
}

// Guardrail returns the guardrail subset of the metrics.
func (m Metrics) Guardrail() guardrail.Rates {
	return guardrail.Rates{
		BounceRate:        m.BounceRate,
		ComplaintRate:     m.ComplaintRate,
		NegativeReplyRate: m.NegativeReplyRate,
		OptOutRate:        m.OptOutRate,
	}
}

// Reward is a scored sample.
type Reward struct {
	Metrics
	Total               float64               `json:"total_reward"`
	GuardrailsSatisfied bool                  `json:"guardrails_satisfied"`
	Violations          []guardrail.Violation `json:"violations,omitempty"`
}

// Weights are the reward coefficients of the positive rates.
type Weights struct {
	ReplyRate         float64 `json:"reply_rate" koanf:"reply_rate"`
	PositiveReplyRate float64 `json:"positive_reply_rate" koanf:"positive_reply_rate"`
	DemoBookRate      float64 `json:"demo_book_rate" koanf:"demo_book_rate"`
	DemoShowRate      float64 `json:"demo_show_rate" koanf:"demo_show_rate"`
	DemoToPaidRate    float64 `json:"demo_to_paid_rate" koanf:"demo_to_paid_rate"`
}

// DefaultWeights returns 0.20, 0.25, 0.30, 0.15 and 0.10.
func DefaultWeights() Weights {
	return Weights{
		ReplyRate:         0.20,
		PositiveReplyRate: 0.25,
		DemoBookRate:      0.30,
		DemoShowRate:      0.15,
		DemoToPaidRate:    0.10,
	}
}

// Cell is one Q-table entry.
type Cell struct {
	StateKey  string  `json:"state_key"`
	ActionKey string  `json:"action_key"`
	Value     float64 `json:"value"`
}

// Config holds the learning parameters.
type Config struct {
	// Alpha is the learning rate.
	Alpha float64 `json:"alpha" koanf:"alpha"`
	// Gamma is the discount factor.
	Gamma float64 `json:"gamma" koanf:"gamma"`
	// Epsilon is the fixed exploration rate.
	Epsilon float64 `json:"epsilon" koanf:"epsilon"`

	Weights    Weights              `json:"weights" koanf:"weights"`
	Guardrails guardrail.Thresholds `json:"guardrails" koanf:"guardrails"`
}

// DefaultConfig returns alpha 0.1, gamma 0.95 and epsilon 0.15.
func DefaultConfig() *Config {
	return &Config{
		Alpha:      0.1,
		Gamma:      0.95,
		Epsilon:    0.15,
		Weights:    DefaultWeights(),
		Guardrails: guardrail.DefaultThresholds(),
	}
}

// Validate checks parameter ranges.
func (c *Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("%w: alpha %v outside (0,1]", ErrInvalidConfig, c.Alpha)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("%w: gamma %v outside [0,1]", ErrInvalidConfig, c.Gamma)
	}
	if c.Epsilon < 0 || c.Epsilon > 1 {
		return fmt.Errorf("%w: epsilon %v outside [0,1]", ErrInvalidConfig, c.Epsilon)
	}
	if err := c.Guardrails.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
