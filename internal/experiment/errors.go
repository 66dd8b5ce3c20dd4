package experiment

import "errors"

// Creation errors.
var (
	// ErrInvalidSpec wraps every experiment validation failure.
	ErrInvalidSpec = errors.New("invalid experiment")
)

// Lookup errors.
var (
	ErrNotFound       = errors.New("experiment not found")
	ErrUnknownVariant = errors.New("unknown variant")
)
