package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/internal/resilience"
)

// ErrStepTimeout marks an attempt that exceeded its policy timeout.
// Timeouts are retryable.
var ErrStepTimeout = errors.New("step attempt timed out")

// StepContext carries the per-run state a step may consult: identifiers
// and the outputs of earlier steps. Dependencies (store, clients) are
// bound into the step function explicitly at workflow construction, not
// captured ambiently.
type StepContext struct {
	RunID        string
	SubmissionID string
	Outputs      *Outputs
}

// StepFunc is the unit of work for one step. Its return value is
// serialized to JSON and becomes the step's persisted output.
type StepFunc func(ctx context.Context, sc *StepContext) (any, error)

// StepDefinition is one named unit of work within a workflow. Retry, when
// non-nil, merges over the workflow's default policy.
type StepDefinition struct {
	Name  string
	Retry *RetryPolicy
	Run   StepFunc
}

// Definition is an immutable, ordered workflow. Steps execute strictly in
// declaration order; each may depend on the outputs of those before it.
type Definition struct {
	Name         string
	DefaultRetry RetryPolicy
	Steps        []StepDefinition
}

// policyFor resolves the effective retry policy for a step.
func (d *Definition) policyFor(step StepDefinition) RetryPolicy {
	base := d.DefaultRetry.Merge(DefaultRetryPolicy())
	if step.Retry == nil {
		return base
	}
	return step.Retry.Merge(base)
}

// runStep executes one step with timeout and retry, persisting the step
// record through every transition. On success the serialized output is
// returned; on terminal failure (non-retryable error, or attempts
// exhausted) the record is marked failed and the error propagates.
func (r *Runner) runStep(ctx context.Context, run *model.WorkflowRun, rec *model.StepRecord, step StepDefinition, policy RetryPolicy, sc *StepContext) (json.RawMessage, error) {
	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("step", step.Name),
	)

	var lastErr error
	for rec.Attempts < policy.MaxAttempts {
		rec.Status = model.StepStatusRunning
		rec.Attempts++
		if rec.StartedAt == nil {
			now := time.Now().UTC()
			rec.StartedAt = &now
		}
		if err := r.store.SaveRun(ctx, run); err != nil {
			return nil, eris.Wrapf(err, "workflow: persist step %q start", step.Name)
		}

		out, err := runAttempt(ctx, step, policy.Timeout, sc)
		if err == nil {
			raw, marshalErr := json.Marshal(out)
			if marshalErr != nil {
				// A non-serializable output is a programming error, terminal.
				lastErr = eris.Wrapf(marshalErr, "workflow: marshal output of step %q", step.Name)
				break
			}
			now := time.Now().UTC()
			rec.Status = model.StepStatusCompleted
			rec.Output = raw
			rec.Error = ""
			rec.CompletedAt = &now
			if saveErr := r.store.SaveRun(ctx, run); saveErr != nil {
				return nil, eris.Wrapf(saveErr, "workflow: persist step %q completion", step.Name)
			}
			log.Info("workflow: step completed", zap.Int("attempts", rec.Attempts))
			return raw, nil
		}

		lastErr = err
		retryable := resilience.IsRetryable(err)
		log.Warn("workflow: step attempt failed",
			zap.Int("attempt", rec.Attempts),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)

		if !retryable || rec.Attempts >= policy.MaxAttempts {
			break
		}

		rec.Error = err.Error()
		if saveErr := r.store.SaveRun(ctx, run); saveErr != nil {
			return nil, eris.Wrapf(saveErr, "workflow: persist step %q retry state", step.Name)
		}

		timer := time.NewTimer(policy.BackoffDelay(rec.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
		case <-timer.C:
			continue
		}
		break
	}

	if lastErr == nil {
		lastErr = eris.Errorf("workflow: step %q has no attempts remaining", step.Name)
	}
	now := time.Now().UTC()
	rec.Status = model.StepStatusFailed
	rec.Error = lastErr.Error()
	rec.CompletedAt = &now
	if saveErr := r.store.SaveRun(ctx, run); saveErr != nil {
		return nil, eris.Wrapf(saveErr, "workflow: persist step %q failure", step.Name)
	}
	return nil, lastErr
}

// runAttempt races one invocation of the step against the policy timeout.
// The step receives a deadline-bearing context so cooperative work can
// stop early; work that ignores the context keeps running in its
// goroutine after the deadline and its eventual result is discarded.
func runAttempt(ctx context.Context, step StepDefinition, timeout time.Duration, sc *StepContext) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := step.Run(attemptCtx, sc)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, eris.Wrapf(ErrStepTimeout, "workflow: step %q exceeded %s", step.Name, timeout)
	}
}
