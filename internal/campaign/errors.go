package campaign

import (
	"errors"

	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
)

// Creation errors.
var (
	// ErrConfiguration is a malformed campaign config. Field errors wrap it.
	ErrConfiguration = errors.New("invalid campaign configuration")
)

// Lifecycle errors.
var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrCampaignExists    = errors.New("campaign already exists")
	ErrInvalidTransition = errors.New("invalid campaign status transition")
	ErrReviewerRequired  = errors.New("reviewer is required to resume a campaign")
	ErrCampaignInactive  = errors.New("campaign is not active")
)

// ErrGuardrailBreach is returned when metrics breach a guardrail threshold.
var ErrGuardrailBreach = guardrail.ErrBreach
