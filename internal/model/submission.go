package model

import "time"

// SubmissionStatus tracks a submission through intake.
type SubmissionStatus string

const (
	SubmissionStatusReceived   SubmissionStatus = "received"
	SubmissionStatusProcessing SubmissionStatus = "processing"
	SubmissionStatusDraftReady SubmissionStatus = "draft_ready"
	SubmissionStatusConfirmed  SubmissionStatus = "confirmed"
	SubmissionStatusFailed     SubmissionStatus = "failed"
)

// Submission is a customer's intake request: a website URL to be crawled
// and extracted against a tenant's field schema.
type Submission struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenant_id"`
	WebsiteURL    string           `json:"website_url"`
	SchemaVersion string           `json:"schema_version,omitempty"`
	Status        SubmissionStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// DraftEdit records a reviewer changing one field of a draft.
type DraftEdit struct {
	FieldKey string    `json:"field_key"`
	OldValue any       `json:"old_value"`
	NewValue any       `json:"new_value"`
	EditedBy string    `json:"edited_by,omitempty"`
	EditedAt time.Time `json:"edited_at"`
}

// FieldDraft is the reviewable output of a run: one merged value per
// schema field, plus the edit history accumulated during review.
type FieldDraft struct {
	SubmissionID string                `json:"submission_id"`
	RunID        string                `json:"run_id"`
	Fields       []ExtractedFieldValue `json:"fields"`
	Edits        []DraftEdit           `json:"edits,omitempty"`
	Confirmed    bool                  `json:"confirmed"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// Field returns the draft entry for the given key, or nil if absent.
func (d *FieldDraft) Field(key string) *ExtractedFieldValue {
	for i := range d.Fields {
		if d.Fields[i].Key == key {
			return &d.Fields[i]
		}
	}
	return nil
}
