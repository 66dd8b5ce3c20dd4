package compliance

import (
	"errors"
	"fmt"
)

// Gate outcomes.
var (
	// ErrComplianceBlock is a hard stop for one action. It is not fatal to
	// the campaign.
	ErrComplianceBlock = errors.New("compliance block")

	// ErrRateLimitExceeded is transient: defer and retry, do not pause.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrAuditUnavailable means the decision could not be logged, so the
	// action must not proceed.
	ErrAuditUnavailable = errors.New("compliance log unavailable")
)

// Construction errors.
var (
	ErrNilLog     = errors.New("compliance log is required")
	ErrNilCounter = errors.New("rate counter is required")
)

// BlockError describes which check blocked an action.
type BlockError struct {
	Check  Check
	Reason string

	transient bool
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("%s: %s", e.Check, e.Reason)
}

// Unwrap returns ErrRateLimitExceeded for transient blocks and
// ErrComplianceBlock otherwise.
func (e *BlockError) Unwrap() error {
	if e.transient {
		return ErrRateLimitExceeded
	}
	return ErrComplianceBlock
}
