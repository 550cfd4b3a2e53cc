package filter

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glosshq/gloss/internal/model"
)

func TestResolve_CorpusStructuralTable(t *testing.T) {
	corpusID := uuid.New()

	tests := []struct {
		name       string
		corpus     *uuid.UUID
		structural TriState
		want       CorpusScope
	}{
		{"corpus set, structural false", &corpusID, False, ScopeCorpusNonStructural},
		{"corpus set, structural unset", &corpusID, Unset, ScopeCorpusOrStructural},
		{"corpus set, structural true", &corpusID, True, ScopeCorpusOrStructural},
		{"no corpus, structural false", nil, False, ScopeEmpty},
		{"no corpus, structural unset", nil, Unset, ScopeStructuralOnly},
		{"no corpus, structural true", nil, True, ScopeStructuralOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, target := range []Target{TargetAnnotations, TargetRelationships} {
				s := Resolve(Filters{CorpusID: tt.corpus, Structural: tt.structural}, target)
				assert.Equal(t, tt.want, s.Corpus)
				if tt.corpus != nil {
					assert.Equal(t, corpusID, s.CorpusID)
				}
				assert.Equal(t, tt.want == ScopeEmpty, s.Empty())
			}
		})
	}
}

func TestResolve_StrictExtractRelationshipsOnly(t *testing.T) {
	extractID := uuid.New()
	f := Filters{ExtractID: &extractID, StrictExtract: true}

	assert.False(t, Resolve(f, TargetAnnotations).StrictExtract,
		"strict mode has no meaning for annotations")
	assert.True(t, Resolve(f, TargetRelationships).StrictExtract)
}

func TestResolve_AnalysisKeepsStructural(t *testing.T) {
	analysisID := uuid.New()

	tests := []struct {
		name     string
		analysis AnalysisSelector
		target   Target
		want     bool
	}{
		{"relationships, any analysis", AnyAnalysis(), TargetRelationships, true},
		{"relationships, human only", HumanOnly(), TargetRelationships, true},
		{"relationships, one analysis", OneAnalysis(analysisID), TargetRelationships, false},
		{"annotations, any analysis", AnyAnalysis(), TargetAnnotations, false},
		{"annotations, human only", HumanOnly(), TargetAnnotations, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Resolve(Filters{Analysis: tt.analysis}, tt.target)
			assert.Equal(t, tt.want, s.AnalysisKeepsStructural)
		})
	}
}

func TestResolve_NormalizesPages(t *testing.T) {
	s := Resolve(Filters{Pages: []int{7, 2, 7, 1, 2}}, TargetAnnotations)
	assert.Equal(t, []int{1, 2, 7}, s.Pages)

	s = Resolve(Filters{}, TargetAnnotations)
	assert.Nil(t, s.Pages)
}

func noExtract(uuid.UUID) bool { return false }

func TestMatchAnnotation_DefaultScope(t *testing.T) {
	corpusID := uuid.New()
	s := Resolve(Filters{}, TargetAnnotations)

	structural := model.Annotation{ID: uuid.New(), Structural: true, Page: 1}
	corpusRow := model.Annotation{ID: uuid.New(), CorpusID: &corpusID, Page: 1}

	assert.True(t, s.MatchAnnotation(structural, noExtract))
	assert.False(t, s.MatchAnnotation(corpusRow, noExtract),
		"non-structural rows are out of scope without a corpus filter")
}

func TestMatchAnnotation_CorpusOrStructural(t *testing.T) {
	corpusID := uuid.New()
	otherCorpus := uuid.New()
	s := Resolve(Filters{CorpusID: &corpusID}, TargetAnnotations)

	tests := []struct {
		name string
		a    model.Annotation
		want bool
	}{
		{"corpus row", model.Annotation{ID: uuid.New(), CorpusID: &corpusID}, true},
		{"structural row outside corpus", model.Annotation{ID: uuid.New(), Structural: true}, true},
		{"structural row in other corpus", model.Annotation{ID: uuid.New(), CorpusID: &otherCorpus, Structural: true}, true},
		{"non-structural row in other corpus", model.Annotation{ID: uuid.New(), CorpusID: &otherCorpus}, false},
		{"non-structural row with no corpus", model.Annotation{ID: uuid.New()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.MatchAnnotation(tt.a, noExtract))
		})
	}
}

func TestMatchAnnotation_CorpusNonStructural(t *testing.T) {
	corpusID := uuid.New()
	s := Resolve(Filters{CorpusID: &corpusID, Structural: False}, TargetAnnotations)

	assert.True(t, s.MatchAnnotation(model.Annotation{ID: uuid.New(), CorpusID: &corpusID}, noExtract))
	assert.False(t, s.MatchAnnotation(model.Annotation{ID: uuid.New(), CorpusID: &corpusID, Structural: true}, noExtract),
		"structural=false excludes structural corpus rows")
	assert.False(t, s.MatchAnnotation(model.Annotation{ID: uuid.New(), Structural: true}, noExtract))
}

func TestMatchAnnotation_EmptyScope(t *testing.T) {
	s := Resolve(Filters{Structural: False}, TargetAnnotations)
	require.True(t, s.Empty())

	// Even a row that matches every other dimension is excluded.
	assert.False(t, s.MatchAnnotation(model.Annotation{ID: uuid.New()}, noExtract))
	assert.False(t, s.MatchAnnotation(model.Annotation{ID: uuid.New(), Structural: true}, noExtract))
}

func TestMatchAnnotation_Analysis(t *testing.T) {
	analysisID := uuid.New()
	otherAnalysis := uuid.New()

	human := model.Annotation{ID: uuid.New(), Structural: true}
	machine := model.Annotation{ID: uuid.New(), Structural: true, AnalysisID: &analysisID}
	otherMachine := model.Annotation{ID: uuid.New(), Structural: true, AnalysisID: &otherAnalysis}

	humanOnly := Resolve(Filters{Analysis: HumanOnly()}, TargetAnnotations)
	assert.True(t, humanOnly.MatchAnnotation(human, noExtract))
	assert.False(t, humanOnly.MatchAnnotation(machine, noExtract),
		"no structural carve-out on the analysis filter for annotations")

	one := Resolve(Filters{Analysis: OneAnalysis(analysisID)}, TargetAnnotations)
	assert.False(t, one.MatchAnnotation(human, noExtract))
	assert.True(t, one.MatchAnnotation(machine, noExtract))
	assert.False(t, one.MatchAnnotation(otherMachine, noExtract))
}

func TestMatchAnnotation_PagesAndExtract(t *testing.T) {
	extractID := uuid.New()
	inSet := uuid.New()

	s := Resolve(Filters{Pages: []int{2, 3}, ExtractID: &extractID}, TargetAnnotations)
	inExtract := func(id uuid.UUID) bool { return id == inSet }

	assert.True(t, s.MatchAnnotation(model.Annotation{ID: inSet, Structural: true, Page: 2}, inExtract))
	assert.False(t, s.MatchAnnotation(model.Annotation{ID: inSet, Structural: true, Page: 5}, inExtract),
		"page outside the filter")
	assert.False(t, s.MatchAnnotation(model.Annotation{ID: uuid.New(), Structural: true, Page: 2}, inExtract),
		"annotation outside the extract set")
}

func TestMatchRelationship_StructuralCarveOut(t *testing.T) {
	analysisID := uuid.New()
	machine := model.Relationship{ID: uuid.New(), Structural: true, AnalysisID: &analysisID}

	pageOf := func(uuid.UUID) (int, bool) { return 0, false }

	humanOnly := Resolve(Filters{Analysis: HumanOnly()}, TargetRelationships)
	assert.True(t, humanOnly.MatchRelationship(machine, pageOf, noExtract),
		"structural relationships survive the human-only filter")

	one := Resolve(Filters{Analysis: OneAnalysis(uuid.New())}, TargetRelationships)
	assert.False(t, one.MatchRelationship(machine, pageOf, noExtract),
		"a specific analysis filter applies even to structural relationships")
}

func TestMatchRelationship_PageViaEndpoints(t *testing.T) {
	ep1, ep2 := uuid.New(), uuid.New()
	r := model.Relationship{
		ID:         uuid.New(),
		Structural: true,
		SourceIDs:  []uuid.UUID{ep1},
		TargetIDs:  []uuid.UUID{ep2},
	}
	pages := map[uuid.UUID]int{ep1: 1, ep2: 4}
	pageOf := func(id uuid.UUID) (int, bool) { p, ok := pages[id]; return p, ok }

	s := Resolve(Filters{Pages: []int{4}}, TargetRelationships)
	assert.True(t, s.MatchRelationship(r, pageOf, noExtract),
		"any endpoint on a filtered page is enough")

	s = Resolve(Filters{Pages: []int{9}}, TargetRelationships)
	assert.False(t, s.MatchRelationship(r, pageOf, noExtract))

	// An endpoint with no known page never satisfies a page filter.
	s = Resolve(Filters{Pages: []int{1}}, TargetRelationships)
	unknown := func(uuid.UUID) (int, bool) { return 0, false }
	assert.False(t, s.MatchRelationship(r, unknown, noExtract))
}

func TestMatchRelationship_ExtractModes(t *testing.T) {
	extractID := uuid.New()
	ep1, ep2 := uuid.New(), uuid.New()
	r := model.Relationship{
		ID:         uuid.New(),
		Structural: true,
		SourceIDs:  []uuid.UUID{ep1},
		TargetIDs:  []uuid.UUID{ep2},
	}
	pageOf := func(uuid.UUID) (int, bool) { return 1, true }
	onlyFirst := func(id uuid.UUID) bool { return id == ep1 }
	both := func(uuid.UUID) bool { return true }
	neither := func(uuid.UUID) bool { return false }

	loose := Resolve(Filters{ExtractID: &extractID}, TargetRelationships)
	assert.True(t, loose.MatchRelationship(r, pageOf, onlyFirst),
		"one endpoint in the extract suffices by default")
	assert.False(t, loose.MatchRelationship(r, pageOf, neither))

	strict := Resolve(Filters{ExtractID: &extractID, StrictExtract: true}, TargetRelationships)
	assert.True(t, strict.MatchRelationship(r, pageOf, both))
	assert.False(t, strict.MatchRelationship(r, pageOf, onlyFirst),
		"strict mode requires every endpoint in the extract")
}

func TestKeyFragment_Canonical(t *testing.T) {
	corpusID := uuid.New()
	extractID := uuid.New()

	a := Filters{CorpusID: &corpusID, Pages: []int{3, 1, 3}, ExtractID: &extractID}
	b := Filters{CorpusID: &corpusID, Pages: []int{1, 3}, ExtractID: &extractID}
	assert.Equal(t, a.KeyFragment(), b.KeyFragment(),
		"page order and duplicates must not change the key")
}

func TestKeyFragment_DistinguishesEveryDimension(t *testing.T) {
	corpusID := uuid.New()
	extractID := uuid.New()
	analysisID := uuid.New()
	base := Filters{}

	variants := []Filters{
		{CorpusID: &corpusID},
		{Structural: True},
		{Structural: False},
		{Analysis: HumanOnly()},
		{Analysis: OneAnalysis(analysisID)},
		{ExtractID: &extractID},
		{ExtractID: &extractID, StrictExtract: true},
		{Pages: []int{1}},
	}

	seen := map[string]bool{base.KeyFragment(): true}
	for i, f := range variants {
		frag := f.KeyFragment()
		assert.False(t, seen[frag], "variant %d collides with an earlier fragment", i)
		seen[frag] = true
	}
}

func TestContainsPage(t *testing.T) {
	pages := []int{1, 4, 9}
	assert.True(t, containsPage(pages, 4))
	assert.False(t, containsPage(pages, 5))
	assert.False(t, containsPage(nil, 1))
}
