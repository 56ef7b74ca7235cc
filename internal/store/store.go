package store

import (
	"context"

	"github.com/sells-group/intake-service/internal/model"
)

// RunFilter specifies criteria for listing workflow runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	SubmissionID string          `json:"submission_id,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the intake service. Each
// call is atomic; callers never assume multi-statement transactions
// beyond one load/modify/save cycle.
type Store interface {
	// Submissions
	CreateSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	UpdateSubmissionStatus(ctx context.Context, id string, status model.SubmissionStatus) error

	// Workflow runs. LoadRun/SaveRun are the runner's wire format: the
	// persisted shape is read back verbatim on resume, so the step
	// records are decoded strictly — malformed stored JSON is an error,
	// never silently empty.
	CreateRun(ctx context.Context, submissionID, workflow string) (*model.WorkflowRun, error)
	LoadRun(ctx context.Context, runID string) (*model.WorkflowRun, error)
	SaveRun(ctx context.Context, run *model.WorkflowRun) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.WorkflowRun, error)

	// Field drafts
	SaveDraft(ctx context.Context, draft *model.FieldDraft) error
	GetDraft(ctx context.Context, submissionID string) (*model.FieldDraft, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
