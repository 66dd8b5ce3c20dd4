// Package workflows runs outreach sequences as durable Temporal
// workflows, one per sequence, as an alternative to the in-process
// sequencer runner.
package workflows

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
)

const (
	// maxRounds bounds one run's history before it continues as new.
	maxRounds = 100

	// minWait keeps a sequence that reports itself due from spinning.
	minWait = time.Second

	// ErrTypeSequenceNotFound marks the non-retryable activity failure for
	// a sequence that no longer exists.
	ErrTypeSequenceNotFound = "SequenceNotFound"
)

// SequenceInput identifies the sequence a workflow drives.
type SequenceInput struct {
	SequenceID string
}

// SequenceResult summarises one workflow run.
type SequenceResult struct {
	SequenceID string
	Sent       int
	Status     sequencer.Status
	Last       sequencer.SendResult
}

// SequenceWorkflow sends a sequence's touches as they fall due and sleeps
// on a durable timer between them. It returns once the sequence is no
// longer active. A resumed sequence becomes due again and the Dispatcher
// starts a new run for it.
func SequenceWorkflow(ctx workflow.Context, in SequenceInput) (*SequenceResult, error) {
	logger := workflow.GetLogger(ctx)
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeSequenceNotFound},
		},
	})

	result := &SequenceResult{SequenceID: in.SequenceID}
	var a *Activities
	for round := 0; round < maxRounds; round++ {
		var step Step
		if err := workflow.ExecuteActivity(ctx, a.SendDue, in.SequenceID).Get(ctx, &step); err != nil {
			return result, err
		}
		result.Last = step.Result
		result.Status = step.Status
		if step.Result.Disposition == sequencer.DispositionSent {
			result.Sent++
		}
		if step.Status != sequencer.StatusActive {
			logger.Info("sequence workflow finished",
				"sequence_id", in.SequenceID,
				"status", string(step.Status),
				"sent", result.Sent)
			return result, nil
		}

		wait := step.NextTouchAt.Sub(workflow.Now(ctx))
		if wait < minWait {
			wait = minWait
		}
		if err := workflow.Sleep(ctx, wait); err != nil {
			return result, err
		}
	}
	return nil, workflow.NewContinueAsNewError(ctx, SequenceWorkflow, in)
}

// Step is what one SendDue activity observed.
type Step struct {
	Result      sequencer.SendResult
	Status      sequencer.Status
	NextTouchAt time.Time
}

// Activities exposes the sequencer to workers.
type Activities struct {
	Sequencer *sequencer.Sequencer
}

// SendDue processes the sequence's next touch if it is due and reports the
// sequence's state afterwards. A failed send has already been rescheduled
// or paused by the sequencer, so it is a step rather than an activity
// failure; audit and storage errors are retried.
func (a *Activities) SendDue(ctx context.Context, id string) (Step, error) {
	res, err := a.Sequencer.SendDue(ctx, id)
	switch {
	case errors.Is(err, sequencer.ErrSequenceNotFound):
		return Step{}, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeSequenceNotFound, err)
	case errors.Is(err, sequencer.ErrSendFailure):
		activity.GetLogger(ctx).Warn("send failed",
			"sequence_id", id,
			"disposition", string(res.Disposition),
			"error", err)
	case err != nil:
		return Step{}, err
	}

	s, err := a.Sequencer.Get(ctx, id)
	if err != nil {
		return Step{}, err
	}
	return Step{Result: res, Status: s.Status, NextTouchAt: s.NextTouchAt}, nil
}
