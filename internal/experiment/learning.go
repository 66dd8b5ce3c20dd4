package experiment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
)

// Learner is updated with every observed outcome. The optimizer
// implements it.
type Learner interface {
	Reward(m optimizer.Metrics) optimizer.Reward
	Update(ctx context.Context, s optimizer.State, a optimizer.Action, r optimizer.Reward, next optimizer.State) error
}

// WithLearner feeds observed outcomes to l and scores them with its
// weights.
func WithLearner(l Learner) Option {
	return func(e *Engine) { e.learner = l }
}

// Assignment is the variant one running experiment chose for a context.
type Assignment struct {
	ExperimentID string             `json:"experiment_id"`
	Variable     optimizer.Variable `json:"variable"`
	Variant      string             `json:"variant"`
}

// AssignCampaign assigns a variant from every running experiment of a
// campaign. When several experiments test the same variable the oldest
// one decides it.
func (e *Engine) AssignCampaign(ctx context.Context, campaignID, contextKey string) ([]Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	var running []*Experiment
	for _, exp := range e.experiments {
		if exp.CampaignID == campaignID && exp.Status == StatusRunning {
			running = append(running, exp)
		}
	}
	sort.Slice(running, func(i, j int) bool {
		if running[i].CreatedAt.Equal(running[j].CreatedAt) {
			return running[i].ID < running[j].ID
		}
		return running[i].CreatedAt.Before(running[j].CreatedAt)
	})
	ids := make([]string, 0, len(running))
	vars := make([]optimizer.Variable, 0, len(running))
	seen := make(map[optimizer.Variable]bool, len(running))
	for _, exp := range running {
		if seen[exp.Variable] {
			continue
		}
		seen[exp.Variable] = true
		ids = append(ids, exp.ID)
		vars = append(vars, exp.Variable)
	}
	e.mu.RUnlock()

	out := make([]Assignment, 0, len(ids))
	for i, id := range ids {
		v, err := e.Assign(ctx, id, contextKey)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Assignment{ExperimentID: id, Variable: vars[i], Variant: v})
	}
	return out, nil
}

// Observation is one measured sample for a variant. Next defaults to
// State.
type Observation struct {
	Variant string            `json:"variant"`
	Metrics optimizer.Metrics `json:"metrics"`
	State   optimizer.State   `json:"state"`
	Next    *optimizer.State  `json:"next_state,omitempty"`
}

// Observe scores obs, adds it to the variant's samples and, with a
// learner, applies a Q-update for (State, variable_variant). A sample
// breaching a guardrail is still recorded for evaluation; the learner
// rejects it and logs the breach.
func (e *Engine) Observe(ctx context.Context, experimentID string, obs Observation) (optimizer.Reward, error) {
	exp, err := e.Get(ctx, experimentID)
	if err != nil {
		return optimizer.Reward{}, err
	}
	if _, ok := exp.Stats[obs.Variant]; !ok {
		return optimizer.Reward{}, fmt.Errorf("%w: %q in %s", ErrUnknownVariant, obs.Variant, experimentID)
	}

	var reward optimizer.Reward
	if e.learner != nil {
		reward = e.learner.Reward(obs.Metrics)
	} else {
		cfg := optimizer.DefaultConfig()
		cfg.Guardrails = e.thresholds
		reward = optimizer.Score(cfg, obs.Metrics)
	}
	if err := e.RecordOutcome(ctx, experimentID, obs.Variant, reward); err != nil {
		return reward, err
	}
	if e.learner == nil {
		return reward, nil
	}

	next := obs.State
	if obs.Next != nil {
		next = *obs.Next
	}
	action := optimizer.Action{Variable: exp.Variable, Variant: obs.Variant}
	err = e.learner.Update(ctx, obs.State, action, reward, next)
	// A bare breach is an expected rejection; a joined error also failed
	// to log it.
	var breach *guardrail.BreachError
	if errors.As(err, &breach) && err == error(breach) {
		e.logger.Debug("outcome excluded from learning",
			zap.String("experiment_id", experimentID),
			zap.String("variant", obs.Variant))
		return reward, nil
	}
	if err != nil {
		return reward, fmt.Errorf("update learner: %w", err)
	}
	return reward, nil
}
