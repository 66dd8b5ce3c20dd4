package sequencer

import "errors"

// Sequence lifecycle errors.
var (
	ErrSequenceNotFound  = errors.New("sequence not found")
	ErrSequenceExists    = errors.New("sequence already exists for lead")
	ErrInvalidTransition = errors.New("invalid sequence status transition")
	ErrNotActive         = errors.New("sequence is not active")
	ErrReviewerRequired  = errors.New("reviewer is required to resume a sequence")
)

// Start errors.
var (
	ErrInvalidPack      = errors.New("invalid sequence pack")
	ErrLeadNotCompliant = errors.New("lead is not compliance-qualified")
	ErrCampaignPaused   = errors.New("campaign is not active")
	ErrUnknownIntent    = errors.New("unknown reply intent")
)

// Delivery errors.
var (
	// ErrSendFailure is a transient delivery failure. The touch is retried
	// under backoff and never skipped.
	ErrSendFailure = errors.New("send failure")
)
