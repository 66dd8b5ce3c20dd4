// Package optimizer implements guardrailed tabular Q-learning over the
// safe experiment variables (subject, timing, CTA, segment, landing).
//
// A reward sample whose guardrail rates are breached is forced to -1,
// logged to the compliance log and never applied to the table.
//
// Exploration is epsilon-greedy with a fixed epsilon. The random source
// is injected so tests can replay selections deterministically.
package optimizer
