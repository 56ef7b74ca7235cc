package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/db"
	"github.com/sells-group/intake-service/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	website_url    TEXT NOT NULL,
	schema_version TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'received',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflow_runs (
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL REFERENCES submissions(id),
	workflow      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	steps         JSONB NOT NULL DEFAULT '[]',
	error         TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS field_drafts (
	submission_id TEXT PRIMARY KEY REFERENCES submissions(id),
	run_id        TEXT NOT NULL,
	fields        JSONB NOT NULL DEFAULT '[]',
	edits         JSONB NOT NULL DEFAULT '[]',
	confirmed     BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_submissions_tenant ON submissions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status);
CREATE INDEX IF NOT EXISTS idx_workflow_runs_submission ON workflow_runs(submission_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.Status == "" {
		sub.Status = model.SubmissionStatusReceived
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO submissions (id, tenant_id, website_url, schema_version, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.TenantID, sub.WebsiteURL, sub.SchemaVersion, string(sub.Status), now, now,
	)
	return eris.Wrap(err, "postgres: insert submission")
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	var sub model.Submission
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, website_url, schema_version, status, created_at, updated_at
		 FROM submissions WHERE id = $1`,
		id,
	).Scan(&sub.ID, &sub.TenantID, &sub.WebsiteURL, &sub.SchemaVersion, &status, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("submission not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get submission %s", id)
	}
	sub.Status = model.SubmissionStatus(status)
	return &sub, nil
}

func (s *PostgresStore) UpdateSubmissionStatus(ctx context.Context, id string, status model.SubmissionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update submission status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("submission not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, submissionID, workflow string) (*model.WorkflowRun, error) {
	run := &model.WorkflowRun{
		ID:           uuid.New().String(),
		SubmissionID: submissionID,
		Workflow:     workflow,
		Status:       model.RunStatusPending,
		Steps:        []model.StepRecord{},
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_runs (id, submission_id, workflow, status, steps, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.SubmissionID, run.Workflow, string(run.Status), []byte("[]"), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) LoadRun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, submission_id, workflow, status, steps, error, started_at, completed_at, created_at, updated_at
		 FROM workflow_runs WHERE id = $1`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	return run, err
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *model.WorkflowRun) error {
	stepsJSON, err := json.Marshal(run.Steps)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal steps")
	}
	run.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_runs SET status = $1, steps = $2, error = $3, started_at = $4, completed_at = $5, updated_at = $6
		 WHERE id = $7`,
		string(run.Status), stepsJSON, run.Error, run.StartedAt, run.CompletedAt, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.WorkflowRun, error) {
	query := `SELECT id, submission_id, workflow, status, steps, error, started_at, completed_at, created_at, updated_at
		 FROM workflow_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	if filter.SubmissionID != "" {
		args = append(args, filter.SubmissionID)
		query += ` AND submission_id = $` + itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveDraft(ctx context.Context, draft *model.FieldDraft) error {
	fieldsJSON, err := json.Marshal(draft.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal draft fields")
	}
	editsJSON, err := json.Marshal(draft.Edits)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal draft edits")
	}
	now := time.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	_, err = s.pool.Exec(ctx,
		`INSERT INTO field_drafts (submission_id, run_id, fields, edits, confirmed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (submission_id) DO UPDATE SET
		   run_id = EXCLUDED.run_id, fields = EXCLUDED.fields, edits = EXCLUDED.edits,
		   confirmed = EXCLUDED.confirmed, updated_at = EXCLUDED.updated_at`,
		draft.SubmissionID, draft.RunID, fieldsJSON, editsJSON, draft.Confirmed, draft.CreatedAt, draft.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save draft for %s", draft.SubmissionID)
}

func (s *PostgresStore) GetDraft(ctx context.Context, submissionID string) (*model.FieldDraft, error) {
	var d model.FieldDraft
	var fieldsJSON, editsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT submission_id, run_id, fields, edits, confirmed, created_at, updated_at
		 FROM field_drafts WHERE submission_id = $1`,
		submissionID,
	).Scan(&d.SubmissionID, &d.RunID, &fieldsJSON, &editsJSON, &d.Confirmed, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("draft not found for submission: %s", submissionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get draft %s", submissionID)
	}

	decodeDraftJSON(submissionID, fieldsJSON, editsJSON, &d)
	return &d, nil
}

// decodeDraftJSON fills the draft's fields and edit history. Malformed
// stored JSON loads as empty rather than failing the read — rows written
// before draft versioning carry shapes strict decoding would reject.
func decodeDraftJSON(submissionID string, fieldsJSON, editsJSON []byte, d *model.FieldDraft) {
	if err := json.Unmarshal(fieldsJSON, &d.Fields); err != nil {
		zap.L().Warn("store: discarding malformed draft fields",
			zap.String("submission_id", submissionID),
			zap.Error(err),
		)
		d.Fields = []model.ExtractedFieldValue{}
	}
	if err := json.Unmarshal(editsJSON, &d.Edits); err != nil {
		zap.L().Warn("store: discarding malformed draft edit history",
			zap.String("submission_id", submissionID),
			zap.Error(err),
		)
		d.Edits = nil
	}
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRun decodes one workflow_runs row. Steps are decoded strictly:
// they are the resume wire format, so malformed JSON is a load error.
func scanRun(row rowScanner) (*model.WorkflowRun, error) {
	var run model.WorkflowRun
	var status string
	var stepsJSON []byte

	err := row.Scan(&run.ID, &run.SubmissionID, &run.Workflow, &status, &stepsJSON,
		&run.Error, &run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}
	run.Status = model.RunStatus(status)

	if err := json.Unmarshal(stepsJSON, &run.Steps); err != nil {
		return nil, eris.Wrapf(err, "store: decode step records for run %s", run.ID)
	}
	return &run, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
