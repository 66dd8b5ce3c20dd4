package leads

import "errors"

// Source catalog errors.
var (
	// ErrSourceNotFound indicates the source is not in the catalog.
	ErrSourceNotFound = errors.New("data source not found")

	// ErrSourceBlocked indicates the source is not approved for use.
	ErrSourceBlocked = errors.New("data source not approved")

	// ErrSourceRateLimited indicates the per-minute or per-day quota is spent.
	ErrSourceRateLimited = errors.New("data source rate limit exceeded")

	// ErrInvalidSource indicates a catalog entry failed validation.
	ErrInvalidSource = errors.New("invalid data source")
)

// Qualification errors.
var (
	// ErrNoPolicy indicates Qualify was called without a campaign policy.
	ErrNoPolicy = errors.New("campaign policy is required")
)
