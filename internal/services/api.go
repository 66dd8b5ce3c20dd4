package services

import (
	"github.com/fyrsmithlabs/outreachd/internal/config"
	"github.com/fyrsmithlabs/outreachd/internal/http"
)

// HTTPDeps adapts the registry to the HTTP layer. Services the registry
// does not hold are left nil so their endpoints answer 501.
func HTTPDeps(cfg *config.Config, reg Registry) http.Deps {
	checks := make(map[string]http.HealthCheck)
	for name, check := range reg.HealthChecks() {
		checks[name] = http.HealthCheck(check)
	}
	deps := http.Deps{Log: reg.Log(), Checks: checks}
	if cfg != nil {
		deps.Thresholds = cfg.Guardrails
	}
	if c := reg.Campaigns(); c != nil {
		deps.Campaigns = c
	}
	if p := reg.Policies(); p != nil {
		deps.Policies = p
	}
	if q := reg.Qualifier(); q != nil {
		deps.Qualifier = q
	}
	if s := reg.Sequencer(); s != nil {
		deps.Sequences = s
	}
	if e := reg.Experiments(); e != nil {
		deps.Experiments = e
	}
	if o := reg.Optimizer(); o != nil {
		deps.QTable = o
	}
	return deps
}
