// Package guardrail defines the hard safety thresholds that override any
// reward signal. Campaign metrics, experiment variants and optimizer reward
// samples are all checked against the same Thresholds.
package guardrail

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBreach marks a guardrail violation. A breach pauses the campaign and
// excludes the triggering sample from learning.
var ErrBreach = errors.New("guardrail breach")

// Thresholds are the maximum tolerated rates, each in [0,1].
type Thresholds struct {
	MaxBounceRate        float64 `json:"max_bounce_rate" koanf:"max_bounce_rate"`
	MaxComplaintRate     float64 `json:"max_complaint_rate" koanf:"max_complaint_rate"`
	MaxNegativeReplyRate float64 `json:"max_negative_reply_rate" koanf:"max_negative_reply_rate"`
	MaxOptOutRate        float64 `json:"max_opt_out_rate" koanf:"max_opt_out_rate"`
}

// DefaultThresholds returns bounce 3%, complaint 0.1%, negative reply 10%
// and opt-out 2%.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxBounceRate:        0.03,
		MaxComplaintRate:     0.001,
		MaxNegativeReplyRate: 0.10,
		MaxOptOutRate:        0.02,
	}
}

// Rates are observed guardrail metrics.
type Rates struct {
	BounceRate        float64 `json:"bounce_rate"`
	ComplaintRate     float64 `json:"complaint_rate"`
	NegativeReplyRate float64 `json:"negative_reply_rate"`
	OptOutRate        float64 `json:"opt_out_rate"`
}

// Violation is one breached threshold.
type Violation struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Limit  float64 `json:"limit"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %.3f%% exceeds %.3f%%", v.Metric, v.Value*100, v.Limit*100)
}

// Check returns every breached threshold. A rate equal to its limit is
// not a breach.
func (t Thresholds) Check(r Rates) []Violation {
	var out []Violation
	add := func(metric string, value, limit float64) {
		if value > limit {
			out = append(out, Violation{Metric: metric, Value: value, Limit: limit})
		}
	}
	add("bounce_rate", r.BounceRate, t.MaxBounceRate)
	add("complaint_rate", r.ComplaintRate, t.MaxComplaintRate)
	add("negative_reply_rate", r.NegativeReplyRate, t.MaxNegativeReplyRate)
	add("opt_out_rate", r.OptOutRate, t.MaxOptOutRate)
	return out
}

// Satisfied reports whether no threshold is breached.
func (t Thresholds) Satisfied(r Rates) bool {
	return len(t.Check(r)) == 0
}

// Validate rejects thresholds outside [0,1].
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"max_bounce_rate":         t.MaxBounceRate,
		"max_complaint_rate":      t.MaxComplaintRate,
		"max_negative_reply_rate": t.MaxNegativeReplyRate,
		"max_opt_out_rate":        t.MaxOptOutRate,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("guardrail %s=%v outside [0,1]", name, v)
		}
	}
	return nil
}

// BreachError carries the violations behind a breach.
type BreachError struct {
	Violations []Violation
}

func (e *BreachError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "guardrail breach: " + strings.Join(parts, "; ")
}

// Unwrap returns ErrBreach.
func (e *BreachError) Unwrap() error { return ErrBreach }

// Reasons formats violations for audit records.
func Reasons(vs []Violation) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}
