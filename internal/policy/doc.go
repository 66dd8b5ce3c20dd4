// Package policy holds jurisdiction compliance rulesets.
//
// A Registry maps a jurisdiction key (a country name or code) to a Policy.
// Lookups that miss return Default, a maximally restrictive policy, so the
// absence of data always fails closed. Policies are configuration data, not
// legal determinations.
//
// The built-in ruleset is embedded from seed.yaml. Operators can overlay
// additional or replacement jurisdictions from YAML or TOML files, and a
// Watcher reloads those overlays when they change on disk. Every Lookup
// returns a deep copy, so campaigns keep the snapshot they resolved.
package policy
