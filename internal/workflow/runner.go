package workflow

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/model"
)

// RunStore is the narrow persistence surface the runner needs. Each call
// is atomic; the runner never assumes transactions beyond one
// load/modify/save cycle per transition.
type RunStore interface {
	LoadRun(ctx context.Context, runID string) (*model.WorkflowRun, error)
	SaveRun(ctx context.Context, run *model.WorkflowRun) error
}

// Runner executes one workflow run for one submission. Steps run strictly
// in declaration order — no parallelism across steps, since each may
// depend on prior step outputs. A single runner instance is expected to
// own a given run at a time; concurrent runners mutating the same run is
// undefined behavior (no row-level locking by design).
type Runner struct {
	store RunStore
}

// NewRunner creates a Runner backed by the given store.
func NewRunner(store RunStore) *Runner {
	return &Runner{store: store}
}

// Execute runs the workflow against the persisted run identified by
// runID. Every status transition and step-record mutation is persisted
// before proceeding, so a crash mid-step leaves state from which the next
// Execute call with the same runID resumes deterministically: steps
// already marked completed are skipped and their cached output is made
// available to later steps.
//
// Execute fails with the terminal error of whichever step failed.
func (r *Runner) Execute(ctx context.Context, def *Definition, runID string) error {
	run, err := r.store.LoadRun(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "workflow: load run %s", runID)
	}

	log := zap.L().With(
		zap.String("workflow", def.Name),
		zap.String("run_id", run.ID),
		zap.String("submission_id", run.SubmissionID),
	)
	log.Info("workflow: starting run", zap.String("prior_status", string(run.Status)))

	run.Status = model.RunStatusRunning
	run.Error = ""
	if run.StartedAt == nil {
		now := time.Now().UTC()
		run.StartedAt = &now
	}
	if err := r.store.SaveRun(ctx, run); err != nil {
		return eris.Wrap(err, "workflow: persist run start")
	}

	outputs := NewOutputs()
	sc := &StepContext{
		RunID:        run.ID,
		SubmissionID: run.SubmissionID,
		Outputs:      outputs,
	}

	for _, step := range def.Steps {
		rec := run.EnsureStep(step.Name)

		if rec.Status == model.StepStatusCompleted {
			// Idempotent resume: never re-run completed work, just
			// rehydrate its cached output for later steps.
			log.Info("workflow: step already completed, skipping", zap.String("step", step.Name))
			if err := outputs.Set(step.Name, rec.Output); err != nil {
				return err
			}
			continue
		}

		if rec.Status == model.StepStatusFailed || rec.Status == model.StepStatusRunning {
			// Re-entry after a terminal failure gets a fresh attempt
			// budget. A record still marked running was interrupted by a
			// crash mid-attempt; it gets the same reset so an interrupted
			// final attempt does not fail the resumed run before the step
			// runs again.
			rec.Status = model.StepStatusPending
			rec.Attempts = 0
			rec.Error = ""
			rec.CompletedAt = nil
		}

		raw, err := r.runStep(ctx, run, rec, step, def.policyFor(step), sc)
		if err != nil {
			now := time.Now().UTC()
			run.Status = model.RunStatusFailed
			run.Error = err.Error()
			run.CompletedAt = &now
			if saveErr := r.store.SaveRun(ctx, run); saveErr != nil {
				log.Error("workflow: failed to persist run failure", zap.Error(saveErr))
			}
			log.Error("workflow: run failed",
				zap.String("step", step.Name),
				zap.Error(err),
			)
			return eris.Wrapf(err, "workflow: step %q", step.Name)
		}

		if err := outputs.Set(step.Name, raw); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	run.Status = model.RunStatusCompleted
	run.CompletedAt = &now
	if err := r.store.SaveRun(ctx, run); err != nil {
		return eris.Wrap(err, "workflow: persist run completion")
	}

	log.Info("workflow: run completed", zap.Int("steps", len(def.Steps)))
	return nil
}
