package model

import "time"

// FieldStatus is the disposition assigned to a merged field value.
type FieldStatus string

const (
	// FieldStatusAuto means the merged value cleared the field's
	// confidence threshold and was accepted without human review.
	FieldStatusAuto FieldStatus = "auto"
	// FieldStatusNeedsReview means a human must adjudicate: either the
	// confidence fell short of the threshold, or sources disagreed.
	FieldStatusNeedsReview FieldStatus = "needs_review"
	// FieldStatusUnknown means no page yielded a candidate for the field.
	FieldStatusUnknown FieldStatus = "unknown"
	// FieldStatusUserEdited means a reviewer replaced the merged value.
	FieldStatusUserEdited FieldStatus = "user_edited"
)

// Citation records where a candidate value was observed.
type Citation struct {
	URL         string    `json:"url"`
	Snippet     string    `json:"snippet,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// MergeCandidate is one page's extracted value for one field.
type MergeCandidate struct {
	Value           any      `json:"value"`
	Confidence      float64  `json:"confidence"`
	Citation        Citation `json:"citation"`
	SourceHintMatch bool     `json:"source_hint_match,omitempty"`
}

// FieldMergeBucket collects all candidates for one field across every
// crawled page.
type FieldMergeBucket struct {
	Key        string           `json:"key"`
	Candidates []MergeCandidate `json:"candidates"`
}

// ExtractedFieldValue is the merged output for one field: the winning
// value, its corroboration-adjusted confidence, the provenance of every
// agreeing candidate, and a disposition.
type ExtractedFieldValue struct {
	Key        string      `json:"key"`
	Value      any         `json:"value"`
	Confidence float64     `json:"confidence"`
	Citations  []Citation  `json:"citations"`
	Status     FieldStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"`
}
