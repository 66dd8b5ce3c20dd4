// Package compliancelog is the append-only audit trail of compliance
// decisions. Events are never mutated after Append; every gate verdict is
// reconstructable from its event alone because the event carries the
// policy facts and inputs the verdict was computed from.
package compliancelog
