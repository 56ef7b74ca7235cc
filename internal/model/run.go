package model

import (
	"encoding/json"
	"time"
)

// RunStatus represents the current state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// StepStatus represents the current state of a single workflow step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// StepRecord is the persisted state of one step within a run. A completed
// record's Output is the idempotency cache: it is never discarded or
// overwritten unless the whole run is re-executed from scratch.
type StepRecord struct {
	Name        string          `json:"name"`
	Status      StepStatus      `json:"status"`
	Attempts    int             `json:"attempts"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// WorkflowRun is the persisted aggregate for one execution of a workflow
// for one submission. The same run row is mutated in place across resume
// attempts; a new run is never created for a retry of an existing run.
type WorkflowRun struct {
	ID           string       `json:"id"`
	SubmissionID string       `json:"submission_id"`
	Workflow     string       `json:"workflow"`
	Status       RunStatus    `json:"status"`
	Steps        []StepRecord `json:"steps"`
	Error        string       `json:"error,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Step returns the record for the named step, or nil if none exists yet.
func (r *WorkflowRun) Step(name string) *StepRecord {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}

// EnsureStep returns the record for the named step, appending a fresh
// pending record if the run has never executed it.
func (r *WorkflowRun) EnsureStep(name string) *StepRecord {
	if rec := r.Step(name); rec != nil {
		return rec
	}
	r.Steps = append(r.Steps, StepRecord{Name: name, Status: StepStatusPending})
	return &r.Steps[len(r.Steps)-1]
}
