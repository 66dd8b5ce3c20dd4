package optimizer

import (
	"errors"

	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
)

// Learning errors.
var (
	// ErrGuardrailBreach is returned by Update for samples that breach a
	// guardrail. The table is left untouched.
	ErrGuardrailBreach = guardrail.ErrBreach

	// ErrNoActions is returned when SelectAction is given no candidates.
	ErrNoActions = errors.New("no actions to choose from")

	// ErrInvalidConfig wraps configuration errors.
	ErrInvalidConfig = errors.New("invalid optimizer config")
)
