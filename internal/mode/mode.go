// Package mode derives a campaign's autonomy level from its policy and
// defines the human-oversight collaborators each level requires.
package mode

import (
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// Mode is an operating autonomy level.
type Mode string

const (
	// Safe requires human approval before every send.
	Safe Mode = "SAFE"
	// Semi caps automated daily volume and pages a human on any block or warning.
	Semi Mode = "SEMI"
	// Auto runs fully automated within policy limits.
	Auto Mode = "AUTO"
)

// SemiVolumeRatio is the share of the policy daily limit SEMI may use.
const SemiVolumeRatio = 0.25

// Select maps a policy to a mode. It is pure and deterministic; anything
// not explicitly trusted falls through to Safe.
func Select(p *policy.Policy) Mode {
	if p == nil {
		return Safe
	}
	switch {
	case p.Confidence < 0.5:
		return Safe
	case p.RiskLevel == policy.RiskHigh:
		return Safe
	case p.RiskLevel == policy.RiskMedium && p.Confidence >= 0.8:
		return Semi
	case p.RiskLevel == policy.RiskLow && p.Confidence >= 0.9:
		return Auto
	default:
		return Safe
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == Safe || m == Semi || m == Auto
}

// RequiresApproval reports whether every send needs a human approval.
func (m Mode) RequiresApproval() bool {
	return m == Safe || !m.Valid()
}

// PagesOnAlert reports whether blocks and warnings page a human.
func (m Mode) PagesOnAlert() bool {
	return m == Semi
}

// DailyLimit returns the automated daily volume allowed under the mode.
// Semi gets a quarter of the policy limit, never less than one.
func (m Mode) DailyLimit(policyLimit int) int {
	if policyLimit <= 0 {
		return 0
	}
	if m != Semi {
		return policyLimit
	}
	capped := int(float64(policyLimit) * SemiVolumeRatio)
	if capped < 1 {
		capped = 1
	}
	return capped
}
