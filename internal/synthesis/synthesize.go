package synthesis

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/internal/resilience"
)

// defaultConcurrency bounds simultaneous per-page extraction calls.
const defaultConcurrency = 4

// PageCandidate is one field value proposed by extraction of one page,
// before bucket construction.
type PageCandidate struct {
	FieldKey   string
	Value      any
	Confidence float64
	Snippet    string
}

// Extractor produces field candidates from a single crawled page. The
// production implementation calls the LLM; tests substitute fakes.
type Extractor interface {
	ExtractPage(ctx context.Context, fields []model.FieldDefinition, page model.CrawledPage) ([]PageCandidate, error)
}

// Synthesizer fans a field schema out across crawled pages, runs
// extraction per page with bounded concurrency, and merges the collected
// candidates per field.
type Synthesizer struct {
	extractor   Extractor
	opts        Options
	concurrency int
	retry       resilience.RetryConfig
}

// NewSynthesizer creates a Synthesizer. concurrency <= 0 falls back to
// the default.
func NewSynthesizer(extractor Extractor, opts Options, concurrency int) *Synthesizer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Synthesizer{
		extractor:   extractor,
		opts:        opts.withDefaults(),
		concurrency: concurrency,
		retry:       resilience.DefaultRetryConfig(),
	}
}

// Synthesize extracts every schema field from every page and returns one
// merged value per field, in schema order. Fields with zero candidates
// still appear, as unknown. Pages contribute independently, so no
// cross-page ordering is required during extraction; candidates are
// assembled in page order afterwards to keep the output deterministic
// for identical inputs.
func (s *Synthesizer) Synthesize(ctx context.Context, fields []model.FieldDefinition, pages []model.CrawledPage) ([]model.ExtractedFieldValue, error) {
	perPage := make([][]PageCandidate, len(pages))
	pageErrs := make([]error, len(pages))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range pages {
		g.Go(func() error {
			cands, err := resilience.DoVal(gCtx, s.retry, func(ctx context.Context) ([]PageCandidate, error) {
				return s.extractor.ExtractPage(ctx, fields, pages[i])
			})
			if err != nil {
				// One unreadable page should not sink the whole
				// extraction; it simply contributes no candidates.
				zap.L().Warn("synthesis: page extraction failed",
					zap.String("url", pages[i].URL),
					zap.Error(err),
				)
				pageErrs[i] = err
				return nil
			}
			perPage[i] = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(pages) > 0 && allFailed(pageErrs) {
		return nil, resilience.NewCodedError(502, eris.Errorf("synthesis: extraction failed for all %d pages", len(pages)))
	}

	buckets := s.buildBuckets(fields, pages, perPage)

	out := make([]model.ExtractedFieldValue, 0, len(fields))
	for _, field := range fields {
		out = append(out, MergeField(field, buckets[field.Key], s.opts))
	}
	return out, nil
}

// buildBuckets turns per-page candidates into one merge bucket per field
// key, applying the source-hint confidence boost.
func (s *Synthesizer) buildBuckets(fields []model.FieldDefinition, pages []model.CrawledPage, perPage [][]PageCandidate) map[string]model.FieldMergeBucket {
	registry := model.NewFieldRegistry(fields)

	buckets := make(map[string]model.FieldMergeBucket, len(fields))
	for _, f := range fields {
		buckets[f.Key] = model.FieldMergeBucket{Key: f.Key}
	}

	for i, cands := range perPage {
		page := pages[i]
		for _, pc := range cands {
			field := registry.ByKey(pc.FieldKey)
			if field == nil {
				zap.L().Debug("synthesis: dropping candidate for unknown field",
					zap.String("field", pc.FieldKey),
					zap.String("url", page.URL),
				)
				continue
			}
			if pc.Value == nil {
				continue
			}

			mc := model.MergeCandidate{
				Value:      pc.Value,
				Confidence: clamp01(pc.Confidence),
				Citation: model.Citation{
					URL:         page.URL,
					Snippet:     pc.Snippet,
					RetrievedAt: page.FetchedAt,
				},
			}
			if matchesSourceHint(page.URL, field.SourceHints) {
				mc.Confidence = clamp01(mc.Confidence + s.opts.SourceHintBoost)
				mc.SourceHintMatch = true
			}

			bucket := buckets[field.Key]
			bucket.Candidates = append(bucket.Candidates, mc)
			buckets[field.Key] = bucket
		}
	}
	return buckets
}

// matchesSourceHint reports whether the page URL contains any of the
// field's hint keywords (case-insensitive).
func matchesSourceHint(pageURL string, hints []string) bool {
	if len(hints) == 0 {
		return false
	}
	lower := strings.ToLower(pageURL)
	for _, h := range hints {
		if h != "" && strings.Contains(lower, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

func allFailed(errs []error) bool {
	for _, err := range errs {
		if err == nil {
			return false
		}
	}
	return true
}
