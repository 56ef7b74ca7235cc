package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/intake-service/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and the single-node deployment mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	website_url    TEXT NOT NULL,
	schema_version TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'received',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS workflow_runs (
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL REFERENCES submissions(id),
	workflow      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	steps         TEXT NOT NULL DEFAULT '[]',
	error         TEXT NOT NULL DEFAULT '',
	started_at    DATETIME,
	completed_at  DATETIME,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS field_drafts (
	submission_id TEXT PRIMARY KEY REFERENCES submissions(id),
	run_id        TEXT NOT NULL,
	fields        TEXT NOT NULL DEFAULT '[]',
	edits         TEXT NOT NULL DEFAULT '[]',
	confirmed     INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_submissions_tenant ON submissions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status);
CREATE INDEX IF NOT EXISTS idx_workflow_runs_submission ON workflow_runs(submission_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.Status == "" {
		sub.Status = model.SubmissionStatusReceived
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, tenant_id, website_url, schema_version, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TenantID, sub.WebsiteURL, sub.SchemaVersion, string(sub.Status), now, now,
	)
	return eris.Wrap(err, "sqlite: insert submission")
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	var sub model.Submission
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, website_url, schema_version, status, created_at, updated_at
		 FROM submissions WHERE id = ?`,
		id,
	).Scan(&sub.ID, &sub.TenantID, &sub.WebsiteURL, &sub.SchemaVersion, &status, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("submission not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get submission %s", id)
	}
	sub.Status = model.SubmissionStatus(status)
	return &sub, nil
}

func (s *SQLiteStore) UpdateSubmissionStatus(ctx context.Context, id string, status model.SubmissionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update submission status %s", id)
	}
	return checkRowsAffected(res, "submission", id)
}

func (s *SQLiteStore) CreateRun(ctx context.Context, submissionID, workflow string) (*model.WorkflowRun, error) {
	run := &model.WorkflowRun{
		ID:           uuid.New().String(),
		SubmissionID: submissionID,
		Workflow:     workflow,
		Status:       model.RunStatusPending,
		Steps:        []model.StepRecord{},
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, submission_id, workflow, status, steps, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SubmissionID, run.Workflow, string(run.Status), "[]", run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) LoadRun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	run, err := scanSQLiteRun(s.db.QueryRowContext(ctx,
		`SELECT id, submission_id, workflow, status, steps, error, started_at, completed_at, created_at, updated_at
		 FROM workflow_runs WHERE id = ?`,
		runID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	return run, err
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.WorkflowRun) error {
	stepsJSON, err := json.Marshal(run.Steps)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal steps")
	}
	run.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ?, steps = ?, error = ?, started_at = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(run.Status), string(stepsJSON), run.Error, run.StartedAt, run.CompletedAt, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.WorkflowRun, error) {
	query := `SELECT id, submission_id, workflow, status, steps, error, started_at, completed_at, created_at, updated_at
		 FROM workflow_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SubmissionID != "" {
		query += ` AND submission_id = ?`
		args = append(args, filter.SubmissionID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.WorkflowRun
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveDraft(ctx context.Context, draft *model.FieldDraft) error {
	fieldsJSON, err := json.Marshal(draft.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal draft fields")
	}
	editsJSON, err := json.Marshal(draft.Edits)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal draft edits")
	}
	now := time.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO field_drafts (submission_id, run_id, fields, edits, confirmed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (submission_id) DO UPDATE SET
		   run_id = excluded.run_id, fields = excluded.fields, edits = excluded.edits,
		   confirmed = excluded.confirmed, updated_at = excluded.updated_at`,
		draft.SubmissionID, draft.RunID, string(fieldsJSON), string(editsJSON), draft.Confirmed, draft.CreatedAt, draft.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save draft for %s", draft.SubmissionID)
}

func (s *SQLiteStore) GetDraft(ctx context.Context, submissionID string) (*model.FieldDraft, error) {
	var d model.FieldDraft
	var fieldsJSON, editsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT submission_id, run_id, fields, edits, confirmed, created_at, updated_at
		 FROM field_drafts WHERE submission_id = ?`,
		submissionID,
	).Scan(&d.SubmissionID, &d.RunID, &fieldsJSON, &editsJSON, &d.Confirmed, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("draft not found for submission: %s", submissionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get draft %s", submissionID)
	}

	decodeDraftJSON(submissionID, []byte(fieldsJSON), []byte(editsJSON), &d)
	return &d, nil
}

func scanSQLiteRun(row rowScanner) (*model.WorkflowRun, error) {
	var run model.WorkflowRun
	var status, stepsJSON string

	err := row.Scan(&run.ID, &run.SubmissionID, &run.Workflow, &status, &stepsJSON,
		&run.Error, &run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	run.Status = model.RunStatus(status)

	if err := json.Unmarshal([]byte(stepsJSON), &run.Steps); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode step records for run %s", run.ID)
	}
	return &run, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
