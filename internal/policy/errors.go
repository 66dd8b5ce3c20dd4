package policy

import "errors"

// Lookup errors.
var (
	// ErrPolicyUnknown marks a lookup that fell back to the restrictive default.
	// It is a warning, not a failure: callers continue in SAFE mode.
	ErrPolicyUnknown = errors.New("unknown jurisdiction policy")
)

// Load errors.
var (
	ErrInvalidPolicy     = errors.New("invalid policy")
	ErrUnsupportedFormat = errors.New("unsupported policy file format")
	ErrFileTooLarge      = errors.New("policy file exceeds maximum size")
)
