// Package campaign owns the campaign lifecycle.
//
// A campaign resolves exactly one jurisdiction policy and one operating
// mode when it is created, and both stay fixed for its lifetime: later
// policy reloads never reach an existing campaign. Creation runs a
// compliance precheck against the campaign's channel and disclosure shape
// and is rejected if the precheck blocks.
//
// Running metrics accumulate through RecordMetrics. Once enough touches
// have been sent, every delta is checked against the guardrail thresholds
// and a breach pauses the campaign until a named reviewer resumes it.
//
// Status transitions:
//
//	active    -> paused | completed
//	paused    -> active | completed
//	completed (terminal)
package campaign
