package intake

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-service/internal/config"
	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/internal/resilience"
	"github.com/sells-group/intake-service/internal/store"
	"github.com/sells-group/intake-service/internal/webhook"
	"github.com/sells-group/intake-service/pkg/anthropic"
)

// memStore is an in-memory store.Store for workflow tests.
type memStore struct {
	mu          sync.Mutex
	submissions map[string]*model.Submission
	runs        map[string]*model.WorkflowRun
	drafts      map[string]*model.FieldDraft
}

func newMemStore() *memStore {
	return &memStore{
		submissions: make(map[string]*model.Submission),
		runs:        make(map[string]*model.WorkflowRun),
		drafts:      make(map[string]*model.FieldDraft),
	}
}

func (m *memStore) CreateSubmission(_ context.Context, sub *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.Status == "" {
		sub.Status = model.SubmissionStatusReceived
	}
	m.submissions[sub.ID] = sub
	return nil
}

func (m *memStore) GetSubmission(_ context.Context, id string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return nil, eris.Errorf("submission not found: %s", id)
	}
	cp := *sub
	return &cp, nil
}

func (m *memStore) UpdateSubmissionStatus(_ context.Context, id string, status model.SubmissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return eris.Errorf("submission not found: %s", id)
	}
	sub.Status = status
	return nil
}

func (m *memStore) CreateRun(_ context.Context, submissionID, wf string) (*model.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &model.WorkflowRun{
		ID:           uuid.New().String(),
		SubmissionID: submissionID,
		Workflow:     wf,
		Status:       model.RunStatusPending,
		Steps:        []model.StepRecord{},
		CreatedAt:    time.Now().UTC(),
	}
	m.runs[run.ID] = cloneRun(run)
	return run, nil
}

func (m *memStore) LoadRun(_ context.Context, runID string) (*model.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	return cloneRun(run), nil
}

func (m *memStore) SaveRun(_ context.Context, run *model.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return eris.Errorf("run not found: %s", run.ID)
	}
	m.runs[run.ID] = cloneRun(run)
	return nil
}

func (m *memStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WorkflowRun
	for _, run := range m.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.SubmissionID != "" && run.SubmissionID != filter.SubmissionID {
			continue
		}
		out = append(out, *cloneRun(run))
	}
	return out, nil
}

func (m *memStore) SaveDraft(_ context.Context, draft *model.FieldDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *draft
	m.drafts[draft.SubmissionID] = &cp
	return nil
}

func (m *memStore) GetDraft(_ context.Context, submissionID string) (*model.FieldDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft, ok := m.drafts[submissionID]
	if !ok {
		return nil, eris.Errorf("draft not found for submission: %s", submissionID)
	}
	cp := *draft
	return &cp, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func cloneRun(run *model.WorkflowRun) *model.WorkflowRun {
	cp := *run
	cp.Steps = make([]model.StepRecord, len(run.Steps))
	copy(cp.Steps, run.Steps)
	return &cp
}

// fakeCrawler returns canned pages, counting calls.
type fakeCrawler struct {
	calls atomic.Int32
	pages []model.CrawledPage
	err   error
}

func (f *fakeCrawler) Crawl(context.Context, string) (*model.CrawlResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &model.CrawlResult{Pages: f.pages}, nil
}

// fakeLLM answers every ChatWithTools call with the same tool payload.
type fakeLLM struct {
	calls   atomic.Int32
	payload string
	err     error
}

func (f *fakeLLM) ChatWithTools(context.Context, anthropic.ToolRequest) (*anthropic.ToolCall, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.ToolCall{
		Name:  extractToolName,
		Input: json.RawMessage(f.payload),
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{Model: "test-model", MaxTokens: 1024},
		Synthesis: config.SynthesisConfig{
			Concurrency:        2,
			DefaultThreshold:   0.7,
			CorroborationBoost: 0.1,
			SourceHintBoost:    0.15,
		},
		Workflow: config.WorkflowConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			StepTimeout: 5 * time.Second,
		},
	}
}

func testRegistry() *model.FieldRegistry {
	return model.NewFieldRegistry([]model.FieldDefinition{
		{Key: "company_name", Type: model.FieldTypeString, Required: true},
		{Key: "employee_count", Type: model.FieldTypeNumber},
	})
}

func noopDispatcher() *webhook.Dispatcher {
	return webhook.NewDispatcher("", "", resilience.RetryConfig{MaxAttempts: 1})
}

func testPages() []model.CrawledPage {
	now := time.Now().UTC()
	return []model.CrawledPage{
		{URL: "https://acme.example/", Title: "Acme", BodyText: "Acme Corp home", FetchedAt: now},
		{URL: "https://acme.example/about", Title: "About", BodyText: "About Acme Corp", FetchedAt: now},
	}
}

func newTestIntake(t *testing.T, st store.Store, cr *fakeCrawler, llm *fakeLLM) (*Intake, string) {
	t.Helper()
	sub := &model.Submission{TenantID: "tenant-a", WebsiteURL: "https://acme.example"}
	require.NoError(t, st.CreateSubmission(context.Background(), sub))
	in := New(testConfig(), st, cr, llm, testRegistry(), noopDispatcher())
	return in, sub.ID
}

const happyPayload = `{"fields":[
	{"key":"company_name","value":"Acme Corp","confidence":0.9,"snippet":"Acme Corp"},
	{"key":"employee_count","value":42,"confidence":0.8}
]}`

func TestIntake_Start_HappyPath(t *testing.T) {
	st := newMemStore()
	cr := &fakeCrawler{pages: testPages()}
	llm := &fakeLLM{payload: happyPayload}
	in, subID := newTestIntake(t, st, cr, llm)

	run, err := in.Start(context.Background(), subID)
	require.NoError(t, err)

	// Run completed with every step at exactly one attempt.
	saved, err := st.LoadRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, saved.Status)
	require.Len(t, saved.Steps, 4)
	for _, rec := range saved.Steps {
		assert.Equal(t, model.StepStatusCompleted, rec.Status, rec.Name)
		assert.Equal(t, 1, rec.Attempts, rec.Name)
	}

	// One LLM call per page.
	assert.Equal(t, int32(2), llm.calls.Load())

	// Draft persisted with both fields merged; corroborated values auto.
	draft, err := st.GetDraft(context.Background(), subID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, draft.RunID)
	require.Len(t, draft.Fields, 2)

	name := draft.Field("company_name")
	require.NotNil(t, name)
	assert.Equal(t, "Acme Corp", name.Value)
	assert.Equal(t, model.FieldStatusAuto, name.Status)
	assert.Len(t, name.Citations, 2)

	sub, err := st.GetSubmission(context.Background(), subID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStatusDraftReady, sub.Status)
}

func TestIntake_Start_InvalidURLFailsWithoutRetry(t *testing.T) {
	st := newMemStore()
	cr := &fakeCrawler{pages: testPages()}
	llm := &fakeLLM{payload: happyPayload}

	sub := &model.Submission{TenantID: "tenant-a", WebsiteURL: "ftp://acme.example"}
	require.NoError(t, st.CreateSubmission(context.Background(), sub))
	in := New(testConfig(), st, cr, llm, testRegistry(), noopDispatcher())

	run, err := in.Start(context.Background(), sub.ID)
	require.Error(t, err)
	assert.Equal(t, 400, resilience.ErrorCode(err))

	saved, loadErr := st.LoadRun(context.Background(), run.ID)
	require.NoError(t, loadErr)
	assert.Equal(t, model.RunStatusFailed, saved.Status)
	rec := saved.Step(StepValidate)
	require.NotNil(t, rec)
	assert.Equal(t, model.StepStatusFailed, rec.Status)
	assert.Equal(t, 1, rec.Attempts)

	// Crawl never ran.
	assert.Equal(t, int32(0), cr.calls.Load())

	got, err := st.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStatusFailed, got.Status)
}

func TestIntake_Start_CrawlRetriesTransientFailure(t *testing.T) {
	st := newMemStore()
	llm := &fakeLLM{payload: happyPayload}

	cr := &flakyCrawler{failures: 2, pages: testPages()}
	sub := &model.Submission{TenantID: "tenant-a", WebsiteURL: "https://acme.example"}
	require.NoError(t, st.CreateSubmission(context.Background(), sub))
	in := New(testConfig(), st, cr, llm, testRegistry(), noopDispatcher())

	run, err := in.Start(context.Background(), sub.ID)
	require.NoError(t, err)

	saved, err := st.LoadRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, saved.Status)
	rec := saved.Step(StepCrawl)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.Attempts)
}

// flakyCrawler fails with a retryable error a fixed number of times.
type flakyCrawler struct {
	mu       sync.Mutex
	failures int
	pages    []model.CrawledPage
}

func (f *flakyCrawler) Crawl(context.Context, string) (*model.CrawlResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, resilience.Codef(503, "upstream flapping")
	}
	return &model.CrawlResult{Pages: f.pages}, nil
}

func TestIntake_Resume_SkipsCompletedSteps(t *testing.T) {
	st := newMemStore()
	cr := &fakeCrawler{pages: testPages()}
	llm := &fakeLLM{payload: happyPayload}
	in, subID := newTestIntake(t, st, cr, llm)

	ctx := context.Background()
	run, err := st.CreateRun(ctx, subID, WorkflowName)
	require.NoError(t, err)

	// Simulate a crash after validate and crawl completed.
	validated, err := json.Marshal(validatedSubmission{TenantID: "tenant-a", WebsiteURL: "https://acme.example"})
	require.NoError(t, err)
	crawled, err := json.Marshal(model.CrawlResult{Pages: testPages()})
	require.NoError(t, err)
	now := time.Now().UTC()
	run.Status = model.RunStatusRunning
	run.StartedAt = &now
	run.Steps = []model.StepRecord{
		{Name: StepValidate, Status: model.StepStatusCompleted, Attempts: 1, Output: validated},
		{Name: StepCrawl, Status: model.StepStatusCompleted, Attempts: 1, Output: crawled},
	}
	require.NoError(t, st.SaveRun(ctx, run))

	require.NoError(t, in.Resume(ctx, run.ID))

	// Neither completed step re-ran.
	assert.Equal(t, int32(0), cr.calls.Load())
	assert.Equal(t, int32(2), llm.calls.Load())

	saved, err := st.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, saved.Status)
	assert.Equal(t, 1, saved.Step(StepCrawl).Attempts)

	_, err = st.GetDraft(ctx, subID)
	require.NoError(t, err)
}

func TestIntake_ResumePending(t *testing.T) {
	st := newMemStore()
	cr := &fakeCrawler{pages: testPages()}
	llm := &fakeLLM{payload: happyPayload}
	in, subID := newTestIntake(t, st, cr, llm)

	ctx := context.Background()
	run, err := st.CreateRun(ctx, subID, WorkflowName)
	require.NoError(t, err)
	run.Status = model.RunStatusRunning
	require.NoError(t, st.SaveRun(ctx, run))

	require.NoError(t, in.ResumePending(ctx))

	saved, err := st.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, saved.Status)
}

func TestIntake_Start_FailureWebhook(t *testing.T) {
	var events []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhook.Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		events = append(events, p.Event)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := newMemStore()
	cr := &fakeCrawler{err: resilience.Codef(403, "blocked by origin")}
	llm := &fakeLLM{payload: happyPayload}
	sub := &model.Submission{TenantID: "tenant-a", WebsiteURL: "https://acme.example"}
	require.NoError(t, st.CreateSubmission(context.Background(), sub))

	dispatcher := webhook.NewDispatcher(srv.URL, "secret", resilience.RetryConfig{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	})
	in := New(testConfig(), st, cr, llm, testRegistry(), dispatcher)

	_, err := in.Start(context.Background(), sub.ID)
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, webhook.EventRunFailed, events[0])
}
