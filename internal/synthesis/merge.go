package synthesis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/intake-service/internal/model"
)

// Options tunes the merge heuristic. The knobs are intentionally simple
// and explainable; this is not a statistical confidence model.
type Options struct {
	// CorroborationBoost is added to the winning group's base confidence
	// once per additional agreeing candidate, capped at 1.0. Independent
	// agreement across pages should increase trust.
	CorroborationBoost float64

	// SourceHintBoost is added to a candidate's confidence when its
	// source URL matches one of the field's source hints. Applied during
	// bucket construction, before grouping.
	SourceHintBoost float64

	// DefaultThreshold is used for fields without their own threshold.
	DefaultThreshold float64
}

// DefaultOptions returns the merge defaults.
func DefaultOptions() Options {
	return Options{
		CorroborationBoost: 0.1,
		SourceHintBoost:    0.15,
		DefaultThreshold:   model.DefaultConfidenceThreshold,
	}
}

func (o Options) withDefaults() Options {
	if o.CorroborationBoost <= 0 {
		o.CorroborationBoost = 0.1
	}
	if o.SourceHintBoost <= 0 {
		o.SourceHintBoost = 0.15
	}
	if o.DefaultThreshold <= 0 {
		o.DefaultThreshold = model.DefaultConfidenceThreshold
	}
	return o
}

// valueGroup is a set of candidates agreeing on one normalized value.
type valueGroup struct {
	key             string
	value           any
	candidates      []model.MergeCandidate
	totalConfidence float64
}

var caseFolder = cases.Fold()

// normalizeValue produces the grouping key for a candidate value:
// case-folded, whitespace-trimmed compare for strings, structural
// equality (canonical JSON) for everything else.
func normalizeValue(v any) string {
	switch s := v.(type) {
	case string:
		return "s:" + caseFolder.String(strings.TrimSpace(s))
	case nil:
		return "null"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "v:" + fmt.Sprintf("%v", v)
	}
	return "j:" + string(raw)
}

// groupByValue partitions candidates into value groups, tracking the sum
// of member confidences. Group order follows first appearance, so the
// result is deterministic for identical input order.
func groupByValue(candidates []model.MergeCandidate) []*valueGroup {
	var groups []*valueGroup
	index := make(map[string]*valueGroup)
	for _, c := range candidates {
		key := normalizeValue(c.Value)
		g, ok := index[key]
		if !ok {
			g = &valueGroup{key: key, value: c.Value}
			index[key] = g
			groups = append(groups, g)
		}
		g.candidates = append(g.candidates, c)
		g.totalConfidence += c.Confidence
	}
	return groups
}

// rankGroups orders groups best-first: highest total confidence, then
// more corroborating candidates, then smallest normalized value so ties
// resolve the same way every run.
func rankGroups(groups []*valueGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].totalConfidence != groups[j].totalConfidence {
			return groups[i].totalConfidence > groups[j].totalConfidence
		}
		if len(groups[i].candidates) != len(groups[j].candidates) {
			return len(groups[i].candidates) > len(groups[j].candidates)
		}
		return groups[i].key < groups[j].key
	})
}

// MergeField reconciles every candidate extraction of one field into a
// single value with a disposition.
//
// Exactly one distinct value: confidence is the group's mean candidate
// confidence plus the corroboration boost per extra agreeing page,
// clamped to 1.0, compared against the field threshold. Multiple
// distinct values: always needs_review — a high-confidence value is
// never allowed to silently win over a disagreement.
func MergeField(field model.FieldDefinition, bucket model.FieldMergeBucket, opts Options) model.ExtractedFieldValue {
	opts = opts.withDefaults()

	if len(bucket.Candidates) == 0 {
		return model.ExtractedFieldValue{
			Key:        field.Key,
			Value:      nil,
			Confidence: 0,
			Citations:  []model.Citation{},
			Status:     model.FieldStatusUnknown,
		}
	}

	groups := groupByValue(bucket.Candidates)
	rankGroups(groups)
	winner := groups[0]

	base := winner.totalConfidence / float64(len(winner.candidates))
	confidence := base + opts.CorroborationBoost*float64(len(winner.candidates)-1)
	confidence = clamp01(confidence)

	citations := make([]model.Citation, 0, len(winner.candidates))
	for _, c := range winner.candidates {
		citations = append(citations, c.Citation)
	}

	out := model.ExtractedFieldValue{
		Key:        field.Key,
		Value:      winner.value,
		Confidence: confidence,
		Citations:  citations,
	}

	if len(groups) > 1 {
		out.Status = model.FieldStatusNeedsReview
		out.Reason = conflictReason(groups)
		return out
	}

	threshold := field.ConfidenceThreshold
	if threshold <= 0 {
		threshold = opts.DefaultThreshold
	}
	if confidence >= threshold {
		out.Status = model.FieldStatusAuto
	} else {
		out.Status = model.FieldStatusNeedsReview
		out.Reason = fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, threshold)
	}
	return out
}

// conflictReason enumerates the disagreeing values verbatim, best group
// first, for the reviewer.
func conflictReason(groups []*valueGroup) string {
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		parts = append(parts, fmt.Sprintf("%q", fmt.Sprintf("%v", g.value)))
	}
	return "Conflicting values: " + strings.Join(parts, ", ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
