// Package contentguard scans outbound touch content and audit text for
// leaked credentials using the Gitleaks rule set.
package contentguard

import "errors"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")

	// ErrDetectorInit indicates the Gitleaks detector could not be built.
	ErrDetectorInit = errors.New("failed to initialize credential detector")
)
