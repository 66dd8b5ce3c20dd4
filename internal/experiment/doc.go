// Package experiment runs A/B tests over the safe experiment variables.
//
// Assignment is a stable hash of the experiment ID and a context key
// walked along the cumulative allocation, unless an Assigner such as the
// optimizer is attached. Evaluation excludes variants whose guardrail
// averages are breached, then compares the two best eligible variants with
// a one-sided Welch t-test.
package experiment
