package intake

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/internal/webhook"
	"github.com/sells-group/intake-service/internal/workflow"
)

// draftSummary is the persist_draft step's output.
type draftSummary struct {
	Fields      int `json:"fields"`
	Auto        int `json:"auto"`
	NeedsReview int `json:"needs_review"`
	Unknown     int `json:"unknown"`
}

// persistDraftStep saves the merged field values as the submission's
// reviewable draft, marks the submission draft-ready, and notifies the
// tenant endpoint. Saving is an upsert, so a resumed run overwrites its
// own partial draft rather than duplicating it.
func (in *Intake) persistDraftStep(ctx context.Context, sc *workflow.StepContext) (any, error) {
	values, err := workflow.Output[[]model.ExtractedFieldValue](sc.Outputs, StepExtract)
	if err != nil {
		return nil, err
	}

	draft := &model.FieldDraft{
		SubmissionID: sc.SubmissionID,
		RunID:        sc.RunID,
		Fields:       values,
	}
	if err := in.store.SaveDraft(ctx, draft); err != nil {
		return nil, eris.Wrap(err, "intake: save draft")
	}

	if err := in.store.UpdateSubmissionStatus(ctx, sc.SubmissionID, model.SubmissionStatusDraftReady); err != nil {
		return nil, eris.Wrap(err, "intake: mark submission draft ready")
	}

	// Notification failures are logged, not fatal: the draft is already
	// durable and reachable through the API.
	if err := in.webhook.Send(ctx, webhook.Payload{
		Event:        webhook.EventDraftReady,
		SubmissionID: sc.SubmissionID,
		RunID:        sc.RunID,
	}); err != nil {
		zap.L().Warn("intake: draft-ready webhook", zap.Error(err))
	}

	summary := draftSummary{Fields: len(values)}
	for _, v := range values {
		switch v.Status {
		case model.FieldStatusAuto:
			summary.Auto++
		case model.FieldStatusNeedsReview:
			summary.NeedsReview++
		case model.FieldStatusUnknown:
			summary.Unknown++
		}
	}
	return summary, nil
}
