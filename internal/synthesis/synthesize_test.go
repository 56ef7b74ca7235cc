package synthesis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/internal/resilience"
)

// fakeExtractor returns scripted candidates per page URL. Nil script
// entries fail with the configured error.
type fakeExtractor struct {
	mu          sync.Mutex
	byURL       map[string][]PageCandidate
	failWith    error
	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (f *fakeExtractor) ExtractPage(_ context.Context, _ []model.FieldDefinition, page model.CrawledPage) ([]PageCandidate, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	cands, ok := f.byURL[page.URL]
	f.mu.Unlock()
	if !ok {
		return nil, f.failWith
	}
	return cands, nil
}

func noRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond}
}

func pages(urls ...string) []model.CrawledPage {
	out := make([]model.CrawledPage, 0, len(urls))
	for _, u := range urls {
		out = append(out, model.CrawledPage{URL: u, FetchedAt: time.Now().UTC()})
	}
	return out
}

func TestSynthesize_MergesAcrossPages(t *testing.T) {
	fields := []model.FieldDefinition{
		{Key: "company_name", Type: model.FieldTypeString},
		{Key: "employee_count", Type: model.FieldTypeNumber},
	}
	extractor := &fakeExtractor{byURL: map[string][]PageCandidate{
		"https://acme.test/": {
			{FieldKey: "company_name", Value: "Acme Corp", Confidence: 0.8, Snippet: "Acme Corp home"},
		},
		"https://acme.test/about": {
			{FieldKey: "company_name", Value: "Acme Corp", Confidence: 0.8},
		},
	}}

	s := NewSynthesizer(extractor, DefaultOptions(), 2)
	got, err := s.Synthesize(context.Background(), fields, pages("https://acme.test/", "https://acme.test/about"))
	require.NoError(t, err)
	require.Len(t, got, 2)

	name := got[0]
	assert.Equal(t, "company_name", name.Key)
	assert.Equal(t, model.FieldStatusAuto, name.Status)
	assert.Equal(t, "Acme Corp", name.Value)
	require.Len(t, name.Citations, 2)
	assert.Equal(t, "https://acme.test/", name.Citations[0].URL)
	assert.Equal(t, "Acme Corp home", name.Citations[0].Snippet)

	// A field no page mentioned still appears, as unknown.
	count := got[1]
	assert.Equal(t, "employee_count", count.Key)
	assert.Equal(t, model.FieldStatusUnknown, count.Status)
}

func TestSynthesize_BoundsConcurrency(t *testing.T) {
	extractor := &fakeExtractor{byURL: map[string][]PageCandidate{}, failWith: resilience.Codef(404, "no script")}
	urls := make([]string, 0, 8)
	byURL := make(map[string][]PageCandidate, 8)
	for _, u := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		url := "https://acme.test/" + u
		urls = append(urls, url)
		byURL[url] = nil
	}
	extractor.byURL = byURL

	s := NewSynthesizer(extractor, DefaultOptions(), 2)
	s.retry = noRetry()

	_, err := s.Synthesize(context.Background(), []model.FieldDefinition{{Key: "company_name", Type: model.FieldTypeString}}, pages(urls...))
	require.NoError(t, err)
	assert.Equal(t, int64(8), extractor.calls.Load())
	assert.LessOrEqual(t, extractor.maxInFlight.Load(), int64(2))
}

func TestSynthesize_FailedPageIsSkipped(t *testing.T) {
	fields := []model.FieldDefinition{{Key: "company_name", Type: model.FieldTypeString}}
	extractor := &fakeExtractor{
		byURL: map[string][]PageCandidate{
			"https://acme.test/": {{FieldKey: "company_name", Value: "Acme Corp", Confidence: 0.9}},
		},
		failWith: resilience.Codef(403, "blocked"),
	}

	s := NewSynthesizer(extractor, DefaultOptions(), 2)
	s.retry = noRetry()

	got, err := s.Synthesize(context.Background(), fields, pages("https://acme.test/", "https://acme.test/blocked"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.FieldStatusAuto, got[0].Status)
	assert.Len(t, got[0].Citations, 1)
}

func TestSynthesize_AllPagesFailed(t *testing.T) {
	extractor := &fakeExtractor{byURL: map[string][]PageCandidate{}, failWith: resilience.Codef(403, "blocked")}

	s := NewSynthesizer(extractor, DefaultOptions(), 2)
	s.retry = noRetry()

	_, err := s.Synthesize(context.Background(), []model.FieldDefinition{{Key: "company_name", Type: model.FieldTypeString}}, pages("https://acme.test/", "https://acme.test/about"))
	require.Error(t, err)
	assert.Equal(t, 502, resilience.ErrorCode(err))
}

func TestSynthesize_RetriesTransientExtraction(t *testing.T) {
	fields := []model.FieldDefinition{{Key: "company_name", Type: model.FieldTypeString}}
	var calls atomic.Int64
	extractor := extractorFunc(func(_ context.Context, _ []model.FieldDefinition, _ model.CrawledPage) ([]PageCandidate, error) {
		if calls.Add(1) < 3 {
			return nil, resilience.Codef(503, "rate limited")
		}
		return []PageCandidate{{FieldKey: "company_name", Value: "Acme Corp", Confidence: 0.9}}, nil
	})

	s := NewSynthesizer(extractor, DefaultOptions(), 1)
	s.retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	got, err := s.Synthesize(context.Background(), fields, pages("https://acme.test/"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, model.FieldStatusAuto, got[0].Status)
}

func TestSynthesize_SourceHintBoost(t *testing.T) {
	fields := []model.FieldDefinition{{
		Key:         "contact_email",
		Type:        model.FieldTypeEmail,
		SourceHints: []string{"contact"},
	}}
	extractor := &fakeExtractor{byURL: map[string][]PageCandidate{
		"https://acme.test/contact": {{FieldKey: "contact_email", Value: "info@acme.test", Confidence: 0.6}},
	}}

	s := NewSynthesizer(extractor, DefaultOptions(), 1)
	got, err := s.Synthesize(context.Background(), fields, pages("https://acme.test/contact"))
	require.NoError(t, err)

	// 0.6 base plus the 0.15 hint boost clears the 0.7 default threshold.
	assert.InDelta(t, 0.75, got[0].Confidence, 1e-9)
	assert.Equal(t, model.FieldStatusAuto, got[0].Status)
}

// extractorFunc adapts a function to the Extractor interface.
type extractorFunc func(ctx context.Context, fields []model.FieldDefinition, page model.CrawledPage) ([]PageCandidate, error)

func (f extractorFunc) ExtractPage(ctx context.Context, fields []model.FieldDefinition, page model.CrawledPage) ([]PageCandidate, error) {
	return f(ctx, fields, page)
}
