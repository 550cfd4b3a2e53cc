// Package filter implements the retrieval filter policy: the translation of a
// tri-state/optional filter set (corpus, structural, analysis, extract, pages)
// into a deterministic inclusion predicate.
//
// The corpus/structural interplay is deliberately implemented as one explicit
// decision function (Resolve) over enumerated types rather than scattered
// conditionals, so every branch of the table is independently testable. The
// storage layer compiles the resolved Scope to SQL; the predicates here are
// the semantic source of truth the SQL must agree with.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/glosshq/gloss/internal/model"
)

// TriState is an optional boolean filter value.
type TriState uint8

const (
	Unset TriState = iota
	True
	False
)

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unset"
	}
}

// AnalysisKind selects how annotation origin is filtered.
type AnalysisKind uint8

const (
	// AnalysisAny applies no origin filter.
	AnalysisAny AnalysisKind = iota
	// AnalysisHumanOnly restricts to rows with no analysis.
	AnalysisHumanOnly
	// AnalysisOne restricts to rows belonging to a specific analysis.
	AnalysisOne
)

// AnalysisSelector is the tagged analysis filter: any, human-authored only,
// or one specific analysis.
type AnalysisSelector struct {
	Kind AnalysisKind
	ID   uuid.UUID // valid only when Kind == AnalysisOne
}

// AnyAnalysis applies no origin filter.
func AnyAnalysis() AnalysisSelector { return AnalysisSelector{Kind: AnalysisAny} }

// HumanOnly restricts to human-authored rows (no analysis).
func HumanOnly() AnalysisSelector { return AnalysisSelector{Kind: AnalysisHumanOnly} }

// OneAnalysis restricts to rows produced by the given analysis.
func OneAnalysis(id uuid.UUID) AnalysisSelector {
	return AnalysisSelector{Kind: AnalysisOne, ID: id}
}

func (s AnalysisSelector) String() string {
	switch s.Kind {
	case AnalysisHumanOnly:
		return "human"
	case AnalysisOne:
		return s.ID.String()
	default:
		return "any"
	}
}

// Target distinguishes annotation retrieval from relationship retrieval; the
// resolution differs only in the structural carve-out on the analysis filter.
type Target uint8

const (
	TargetAnnotations Target = iota
	TargetRelationships
)

// Filters is the full caller-supplied filter tuple.
type Filters struct {
	CorpusID   *uuid.UUID
	Pages      []int
	Structural TriState
	Analysis   AnalysisSelector
	ExtractID  *uuid.UUID

	// StrictExtract applies to relationships only: when set, every endpoint
	// annotation must belong to the extract's annotation set, not just one.
	StrictExtract bool
}

// CorpusScope enumerates the four outcomes of the corpus/structural table.
type CorpusScope uint8

const (
	// ScopeEmpty: structural=false with no corpus, so there is no scope to
	// draw non-structural rows from, so the result is empty by definition.
	ScopeEmpty CorpusScope = iota
	// ScopeStructuralOnly: no corpus given, only structural rows.
	ScopeStructuralOnly
	// ScopeCorpusOrStructural: corpus rows plus the structural carve-out.
	ScopeCorpusOrStructural
	// ScopeCorpusNonStructural: corpus rows with structural=false only.
	ScopeCorpusNonStructural
)

func (s CorpusScope) String() string {
	switch s {
	case ScopeStructuralOnly:
		return "structural-only"
	case ScopeCorpusOrStructural:
		return "corpus-or-structural"
	case ScopeCorpusNonStructural:
		return "corpus-non-structural"
	default:
		return "empty"
	}
}

// Scope is the resolved, deterministic inclusion rule for one retrieval.
type Scope struct {
	Corpus   CorpusScope
	CorpusID uuid.UUID // valid for the two corpus-based scopes

	Analysis AnalysisSelector
	// AnalysisKeepsStructural exempts structural rows from the analysis
	// filter. Set for relationships with an unset or human-only analysis
	// selector, mirroring the structural carve-out of the corpus rules.
	AnalysisKeepsStructural bool

	Pages []int // sorted, deduplicated; nil means no page filter

	ExtractID     *uuid.UUID
	StrictExtract bool
}

// Resolve translates a filter tuple into a Scope. This is the single decision
// function for the whole retrieval layer; both retrievers and the storage
// layer's SQL compilation derive their behavior from its output.
//
// Corpus/structural resolution:
//  1. corpus given, structural=false  -> corpus rows that are non-structural
//  2. corpus given, structural unset or true -> corpus rows OR structural rows
//  3. corpus omitted, structural=false -> empty
//  4. corpus omitted, structural unset or true -> structural rows only
//
// The analysis selector intersects (never unions) with the extract filter.
func Resolve(f Filters, target Target) Scope {
	s := Scope{
		Analysis:      f.Analysis,
		Pages:         normalizePages(f.Pages),
		ExtractID:     f.ExtractID,
		StrictExtract: target == TargetRelationships && f.StrictExtract,
	}

	switch {
	case f.CorpusID != nil && f.Structural == False:
		s.Corpus = ScopeCorpusNonStructural
		s.CorpusID = *f.CorpusID
	case f.CorpusID != nil:
		s.Corpus = ScopeCorpusOrStructural
		s.CorpusID = *f.CorpusID
	case f.Structural == False:
		s.Corpus = ScopeEmpty
	default:
		s.Corpus = ScopeStructuralOnly
	}

	if target == TargetRelationships && f.Analysis.Kind != AnalysisOne {
		s.AnalysisKeepsStructural = true
	}

	return s
}

// Empty reports whether the scope can match no rows at all.
func (s Scope) Empty() bool { return s.Corpus == ScopeEmpty }

// MatchAnnotation is the pure inclusion predicate for one annotation.
// inExtract reports whether an annotation belongs to the scoped extract's
// annotation set; it is consulted only when an extract filter is present.
func (s Scope) MatchAnnotation(a model.Annotation, inExtract func(uuid.UUID) bool) bool {
	if !s.matchCorpus(a.CorpusID, a.Structural) {
		return false
	}
	if !s.matchAnalysis(a.AnalysisID, a.Structural) {
		return false
	}
	if len(s.Pages) > 0 && !containsPage(s.Pages, a.Page) {
		return false
	}
	if s.ExtractID != nil && !inExtract(a.ID) {
		return false
	}
	return true
}

// MatchRelationship is the pure inclusion predicate for one relationship.
// pageOf resolves an endpoint annotation's page; endpoints without a known
// page never satisfy a page filter.
func (s Scope) MatchRelationship(r model.Relationship, pageOf func(uuid.UUID) (int, bool), inExtract func(uuid.UUID) bool) bool {
	if !s.matchCorpus(r.CorpusID, r.Structural) {
		return false
	}
	if !s.matchAnalysis(r.AnalysisID, r.Structural) {
		return false
	}

	endpoints := make([]uuid.UUID, 0, len(r.SourceIDs)+len(r.TargetIDs))
	endpoints = append(endpoints, r.SourceIDs...)
	endpoints = append(endpoints, r.TargetIDs...)

	if len(s.Pages) > 0 {
		hit := false
		for _, id := range endpoints {
			if p, ok := pageOf(id); ok && containsPage(s.Pages, p) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	if s.ExtractID != nil {
		if s.StrictExtract {
			for _, id := range endpoints {
				if !inExtract(id) {
					return false
				}
			}
		} else {
			hit := false
			for _, id := range endpoints {
				if inExtract(id) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		}
	}

	return true
}

func (s Scope) matchCorpus(corpusID *uuid.UUID, structural bool) bool {
	switch s.Corpus {
	case ScopeStructuralOnly:
		return structural
	case ScopeCorpusOrStructural:
		return structural || (corpusID != nil && *corpusID == s.CorpusID)
	case ScopeCorpusNonStructural:
		return !structural && corpusID != nil && *corpusID == s.CorpusID
	default:
		return false
	}
}

func (s Scope) matchAnalysis(analysisID *uuid.UUID, structural bool) bool {
	if s.AnalysisKeepsStructural && structural {
		return true
	}
	switch s.Analysis.Kind {
	case AnalysisHumanOnly:
		return analysisID == nil
	case AnalysisOne:
		return analysisID != nil && *analysisID == s.Analysis.ID
	default:
		return true
	}
}

// KeyFragment renders the filter tuple as a canonical cache-key fragment.
// Identical filters always produce identical fragments, and any difference
// in any dimension produces a different fragment.
func (f Filters) KeyFragment() string {
	var b strings.Builder

	b.WriteString("corpus=")
	if f.CorpusID != nil {
		b.WriteString(f.CorpusID.String())
	} else {
		b.WriteString("-")
	}

	b.WriteString(";structural=")
	b.WriteString(f.Structural.String())

	b.WriteString(";analysis=")
	b.WriteString(f.Analysis.String())

	b.WriteString(";extract=")
	if f.ExtractID != nil {
		b.WriteString(f.ExtractID.String())
	} else {
		b.WriteString("-")
	}
	if f.StrictExtract {
		b.WriteString(";strict=1")
	}

	b.WriteString(";pages=")
	pages := normalizePages(f.Pages)
	for i, p := range pages {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%d", p)
	}

	return b.String()
}

func normalizePages(pages []int) []int {
	if len(pages) == 0 {
		return nil
	}
	out := make([]int, 0, len(pages))
	seen := make(map[int]bool, len(pages))
	for _, p := range pages {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}

func containsPage(sorted []int, page int) bool {
	i := sort.SearchInts(sorted, page)
	return i < len(sorted) && sorted[i] == page
}
