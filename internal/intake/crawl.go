package intake

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/resilience"
	"github.com/sells-group/intake-service/internal/workflow"
)

// crawlStep fetches the submission's website. Its output is the full
// CrawlResult so the extract step can resume from persisted pages without
// re-crawling.
func (in *Intake) crawlStep(ctx context.Context, sc *workflow.StepContext) (any, error) {
	validated, err := workflow.Output[validatedSubmission](sc.Outputs, StepValidate)
	if err != nil {
		return nil, err
	}

	result, err := in.crawler.Crawl(ctx, validated.WebsiteURL)
	if err != nil {
		return nil, err
	}
	if len(result.Pages) == 0 {
		return nil, resilience.Codef(422, "intake: crawl of %s yielded no pages", validated.WebsiteURL)
	}

	zap.L().Info("intake: crawl complete",
		zap.String("submission_id", sc.SubmissionID),
		zap.String("url", validated.WebsiteURL),
		zap.Int("pages", len(result.Pages)),
		zap.Int("skipped", len(result.SkippedURLs)),
	)
	return result, nil
}
