// Package compliance implements the pre-action compliance gate.
//
// Gate.Validate evaluates one proposed action against a jurisdiction
// policy. Checks run in a fixed order and the first hard failure blocks:
//
//  1. channel permitted
//  2. opt-in consent when the channel requires it
//  3. do-not-contact suppression when the policy requires it
//  4. recipient local time outside quiet hours
//  5. per-day rate counter (atomic check-and-increment)
//  6. required disclosures present
//  7. no credentials in the content
//
// A passing action on a low-confidence policy returns a warning. Every call
// appends exactly one event to the compliance log before returning; if the
// append fails the action is blocked.
package compliance
