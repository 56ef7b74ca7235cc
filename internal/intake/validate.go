package intake

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/internal/resilience"
	"github.com/sells-group/intake-service/internal/workflow"
)

// validatedSubmission is the validate step's output, consumed by crawl.
type validatedSubmission struct {
	TenantID   string `json:"tenant_id"`
	WebsiteURL string `json:"website_url"`
}

// validateStep checks that the submission exists, carries a usable
// website URL, and that the tenant schema declares fields to extract.
// All rejections are 4xx CodedErrors: bad input never retries.
func (in *Intake) validateStep(ctx context.Context, sc *workflow.StepContext) (any, error) {
	sub, err := in.store.GetSubmission(ctx, sc.SubmissionID)
	if err != nil {
		return nil, resilience.NewCodedError(404, err)
	}

	websiteURL, err := normalizeWebsiteURL(sub.WebsiteURL)
	if err != nil {
		return nil, err
	}

	if len(in.registry.Fields) == 0 {
		return nil, resilience.Codef(422, "intake: tenant %s schema declares no fields", sub.TenantID)
	}

	if err := in.store.UpdateSubmissionStatus(ctx, sub.ID, model.SubmissionStatusProcessing); err != nil {
		return nil, eris.Wrap(err, "intake: mark submission processing")
	}

	return validatedSubmission{
		TenantID:   sub.TenantID,
		WebsiteURL: websiteURL,
	}, nil
}

// normalizeWebsiteURL validates the submitted URL, defaulting a missing
// scheme to https.
func normalizeWebsiteURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", resilience.Codef(400, "intake: submission has no website URL")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", resilience.NewCodedError(400, eris.Wrapf(err, "intake: invalid website URL %q", raw))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", resilience.Codef(400, "intake: unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" || !strings.Contains(u.Host, ".") {
		return "", resilience.Codef(400, "intake: website URL %q has no valid host", raw)
	}
	return u.String(), nil
}
