// Package intake orchestrates the submission workflow: validate the
// submission, crawl the website, extract field values, and persist a
// reviewable draft.
package intake

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/config"
	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/internal/store"
	"github.com/sells-group/intake-service/internal/synthesis"
	"github.com/sells-group/intake-service/internal/webhook"
	"github.com/sells-group/intake-service/internal/workflow"
	"github.com/sells-group/intake-service/pkg/anthropic"
	"github.com/sells-group/intake-service/pkg/crawler"
)

// WorkflowName identifies the intake workflow in run records.
const WorkflowName = "intake"

// Step names, in execution order.
const (
	StepValidate     = "validate"
	StepCrawl        = "crawl"
	StepExtract      = "extract"
	StepPersistDraft = "persist_draft"
)

// Intake wires the intake workflow's dependencies.
type Intake struct {
	cfg      *config.Config
	store    store.Store
	crawler  crawler.Client
	llm      anthropic.Client
	registry *model.FieldRegistry
	webhook  *webhook.Dispatcher
	runner   *workflow.Runner
}

// New creates an Intake with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	crawlClient crawler.Client,
	llmClient anthropic.Client,
	registry *model.FieldRegistry,
	dispatcher *webhook.Dispatcher,
) *Intake {
	return &Intake{
		cfg:      cfg,
		store:    st,
		crawler:  crawlClient,
		llm:      llmClient,
		registry: registry,
		webhook:  dispatcher,
		runner:   workflow.NewRunner(st),
	}
}

// definition builds the intake workflow. Validation failures are tenant
// input errors and never retried, so validate gets a single attempt;
// crawl and extract inherit the configured default policy.
func (in *Intake) definition() *workflow.Definition {
	return &workflow.Definition{
		Name: WorkflowName,
		DefaultRetry: workflow.RetryPolicy{
			MaxAttempts: in.cfg.Workflow.MaxAttempts,
			BaseDelay:   in.cfg.Workflow.BaseDelay,
			MaxDelay:    in.cfg.Workflow.MaxDelay,
			Timeout:     in.cfg.Workflow.StepTimeout,
		},
		Steps: []workflow.StepDefinition{
			{
				Name:  StepValidate,
				Retry: &workflow.RetryPolicy{MaxAttempts: 1},
				Run:   in.validateStep,
			},
			{
				Name: StepCrawl,
				Run:  in.crawlStep,
			},
			{
				Name: StepExtract,
				Run:  in.extractStep,
			},
			{
				Name: StepPersistDraft,
				Run:  in.persistDraftStep,
			},
		},
	}
}

// Start creates a run for the submission and executes it to completion.
func (in *Intake) Start(ctx context.Context, submissionID string) (*model.WorkflowRun, error) {
	run, err := in.store.CreateRun(ctx, submissionID, WorkflowName)
	if err != nil {
		return nil, eris.Wrapf(err, "intake: create run for submission %s", submissionID)
	}
	if err := in.execute(ctx, run.ID); err != nil {
		return run, err
	}
	return run, nil
}

// Resume re-executes an existing run. Completed steps are skipped and
// their persisted outputs rehydrated.
func (in *Intake) Resume(ctx context.Context, runID string) error {
	return in.execute(ctx, runID)
}

// ResumePending finds runs interrupted mid-flight (status running) and
// resumes each. Called at startup so a crashed process picks up where it
// left off.
func (in *Intake) ResumePending(ctx context.Context) error {
	runs, err := in.store.ListRuns(ctx, store.RunFilter{Status: model.RunStatusRunning})
	if err != nil {
		return eris.Wrap(err, "intake: list interrupted runs")
	}
	for _, run := range runs {
		zap.L().Info("intake: resuming interrupted run",
			zap.String("run_id", run.ID),
			zap.String("submission_id", run.SubmissionID),
		)
		if err := in.Resume(ctx, run.ID); err != nil {
			zap.L().Error("intake: resume failed",
				zap.String("run_id", run.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// execute runs the workflow and keeps the submission status and failure
// webhook in sync with the outcome. Draft persistence and the draft-ready
// notification happen inside the persist_draft step so they survive
// crash/resume like any other step.
func (in *Intake) execute(ctx context.Context, runID string) error {
	err := in.runner.Execute(ctx, in.definition(), runID)
	if err == nil {
		return nil
	}

	run, loadErr := in.store.LoadRun(ctx, runID)
	if loadErr != nil {
		zap.L().Error("intake: load run after failure", zap.Error(loadErr))
		return err
	}

	if statusErr := in.store.UpdateSubmissionStatus(ctx, run.SubmissionID, model.SubmissionStatusFailed); statusErr != nil {
		zap.L().Warn("intake: update submission status", zap.Error(statusErr))
	}

	if whErr := in.webhook.Send(ctx, webhook.Payload{
		Event:        webhook.EventRunFailed,
		SubmissionID: run.SubmissionID,
		RunID:        run.ID,
		Error:        run.Error,
	}); whErr != nil {
		zap.L().Warn("intake: failure webhook", zap.Error(whErr))
	}

	return err
}

// synthesizer builds the per-run synthesis facade over the LLM extractor.
func (in *Intake) synthesizer() *synthesis.Synthesizer {
	opts := synthesis.Options{
		CorroborationBoost: in.cfg.Synthesis.CorroborationBoost,
		SourceHintBoost:    in.cfg.Synthesis.SourceHintBoost,
		DefaultThreshold:   in.cfg.Synthesis.DefaultThreshold,
	}
	extractor := newLLMExtractor(in.llm, in.cfg.Anthropic)
	return synthesis.NewSynthesizer(extractor, opts, in.cfg.Synthesis.Concurrency)
}
