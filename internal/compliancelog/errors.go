package compliancelog

import "errors"

var (
	ErrMissingAction = errors.New("event action is required")
	ErrMissingResult = errors.New("event result is required")
	ErrLogClosed     = errors.New("compliance log is closed")
)
