// Package services provides the centralized service registry for outreachd.
//
// Build wires every engine component from a loaded configuration: the
// store, the rate counter, the event sink, the policy registry, the gate,
// the campaign manager, the qualifier, the sequencer, the optimizer and
// the experiment engine. The returned Registry owns their lifecycle; call
// Run to start background work and Close to release resources.
//
// NewRegistry wraps already-constructed services for tests and alternate
// wiring.
package services
