package gloss

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glosshq/gloss/internal/aggregate"
	"github.com/glosshq/gloss/internal/authz"
	"github.com/glosshq/gloss/internal/cache"
	"github.com/glosshq/gloss/internal/filter"
	"github.com/glosshq/gloss/internal/model"
	"github.com/glosshq/gloss/internal/retrieve"
	"github.com/glosshq/gloss/internal/storage"
	"github.com/glosshq/gloss/internal/testutil"
)

type fakeAuthzStore struct {
	allowed bool
	err     error
	calls   int
}

func (s *fakeAuthzStore) CanViewDocument(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	s.calls++
	return s.allowed, s.err
}

func (s *fakeAuthzStore) CanViewCorpus(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return s.allowed, s.err
}

type fakeSummaryStore struct {
	summary      model.ExtractSummary
	summaryCalls int
}

func (s *fakeSummaryStore) RebuildAggregateView(context.Context) (int64, error) { return 0, nil }

func (s *fakeSummaryStore) GetAggregateSummary(_ context.Context, documentID, extractID uuid.UUID) (model.ExtractSummary, error) {
	s.summaryCalls++
	out := s.summary
	out.DocumentID = documentID
	out.ExtractID = extractID
	return out, nil
}

func (s *fakeSummaryStore) ComputeSummaryDirect(_ context.Context, documentID, extractID uuid.UUID) (model.ExtractSummary, error) {
	return model.ExtractSummary{DocumentID: documentID, ExtractID: extractID, Source: model.SummaryDirect}, nil
}

func (s *fakeSummaryStore) ListAggregatePairs(context.Context) ([]storage.AggregatePair, error) {
	return nil, nil
}

// newTestService wires a Service around fakes, bypassing New() so no database
// or telemetry is needed.
func newTestService(t *testing.T, authzStore *fakeAuthzStore, summaryStore *fakeSummaryStore) *Service {
	t.Helper()
	logger := testutil.TestLogger()
	mem := cache.NewMemory()
	t.Cleanup(mem.Close)
	gate := authz.NewGate(authzStore, time.Minute, logger)
	t.Cleanup(gate.Close)
	return &Service{
		gate:     gate,
		manager:  aggregate.NewManager(summaryStore, mem, mem, 1, 8, time.Minute, logger),
		cache:    mem,
		registry: mem,
		logger:   logger,
	}
}

func TestGetExtractAnnotationSummary_DenialIsZeroSummary(t *testing.T) {
	summaryStore := &fakeSummaryStore{summary: model.ExtractSummary{AnnotationCount: 9}}
	svc := newTestService(t, &fakeAuthzStore{allowed: false}, summaryStore)

	s, err := svc.GetExtractAnnotationSummary(context.Background(), uuid.New(), uuid.New(), uuid.New())
	require.NoError(t, err, "denial must not surface as an error")
	assert.Equal(t, ExtractSummary{}, s, "denial reads as a zero summary")
	assert.Zero(t, summaryStore.summaryCalls, "denied requests never reach the view")
}

func TestGetExtractAnnotationSummary_GateErrorFailsClosed(t *testing.T) {
	svc := newTestService(t, &fakeAuthzStore{err: errors.New("acl query timeout")}, &fakeSummaryStore{})

	_, err := svc.GetExtractAnnotationSummary(context.Background(), uuid.New(), uuid.New(), uuid.New())
	assert.Error(t, err, "a gate failure is not a denial")
}

func TestGetExtractAnnotationSummary_ConvertsFields(t *testing.T) {
	refreshed := time.Now()
	summaryStore := &fakeSummaryStore{summary: model.ExtractSummary{
		AnnotationCount: 5,
		PageCount:       2,
		Pages:           []int{3, 7},
		FirstPage:       3,
		LastPage:        7,
		Source:          model.SummaryAggregate,
		RefreshedAt:     &refreshed,
	}}
	svc := newTestService(t, &fakeAuthzStore{allowed: true}, summaryStore)

	docID, extractID := uuid.New(), uuid.New()
	s, err := svc.GetExtractAnnotationSummary(context.Background(), docID, extractID, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, docID, s.DocumentID)
	assert.Equal(t, extractID, s.ExtractID)
	assert.Equal(t, 5, s.AnnotationCount)
	assert.Equal(t, 2, s.PageCount)
	assert.Equal(t, []int{3, 7}, s.Pages)
	assert.Equal(t, 3, s.FirstPage)
	assert.Equal(t, 7, s.LastPage)
	assert.Equal(t, SummaryAggregate, s.Source)
	require.NotNil(t, s.RefreshedAt)
	assert.Equal(t, refreshed, *s.RefreshedAt)
}

func TestToInternalFilters(t *testing.T) {
	corpusID := uuid.New()
	analysisID := uuid.New()
	extractID := uuid.New()

	tests := []struct {
		name string
		in   Filters
		want filter.Filters
	}{
		{
			"zero value",
			Filters{},
			filter.Filters{Analysis: filter.AnyAnalysis()},
		},
		{
			"structural true",
			Filters{Structural: True},
			filter.Filters{Structural: filter.True, Analysis: filter.AnyAnalysis()},
		},
		{
			"structural false",
			Filters{Structural: False},
			filter.Filters{Structural: filter.False, Analysis: filter.AnyAnalysis()},
		},
		{
			"human only",
			Filters{HumanOnly: true},
			filter.Filters{Analysis: filter.HumanOnly()},
		},
		{
			"analysis id",
			Filters{AnalysisID: &analysisID},
			filter.Filters{Analysis: filter.OneAnalysis(analysisID)},
		},
		{
			"analysis id wins over human only",
			Filters{AnalysisID: &analysisID, HumanOnly: true},
			filter.Filters{Analysis: filter.OneAnalysis(analysisID)},
		},
		{
			"passthrough fields",
			Filters{CorpusID: &corpusID, ExtractID: &extractID, StrictExtract: true, Pages: []int{4, 2}},
			filter.Filters{
				CorpusID:      &corpusID,
				ExtractID:     &extractID,
				StrictExtract: true,
				Pages:         []int{4, 2},
				Analysis:      filter.AnyAnalysis(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toInternalFilters(tt.in))
		})
	}
}

func TestInvalidate_SweepsDocumentScope(t *testing.T) {
	svc := newTestService(t, &fakeAuthzStore{allowed: true}, &fakeSummaryStore{})
	ctx := context.Background()

	docID := uuid.New()
	extractID := uuid.New()
	require.NoError(t, svc.cache.Set(ctx, "k1", []byte("x"), time.Minute))
	require.NoError(t, svc.registry.Register(ctx, retrieve.DocumentScope(docID), "k1"))

	require.NoError(t, svc.Invalidate(ctx, docID, &extractID))

	_, ok, err := svc.cache.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}
