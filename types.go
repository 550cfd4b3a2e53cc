package gloss

import (
	"time"

	"github.com/google/uuid"
)

// TriState is an optional boolean filter value: unset applies no filter.
type TriState uint8

const (
	Unset TriState = iota
	True
	False
)

// Filters narrows an annotation or relationship retrieval. The zero value
// applies the default scope: structural rows only, any analysis, all pages.
//
// Corpus/structural interplay:
//   - CorpusID set, Structural=False: corpus rows that are non-structural.
//   - CorpusID set otherwise: corpus rows plus all structural rows.
//   - CorpusID nil, Structural=False: empty by definition.
//   - CorpusID nil otherwise: structural rows only.
type Filters struct {
	// CorpusID scopes the retrieval to one corpus.
	CorpusID *uuid.UUID
	// Structural filters on the structural flag per the table above.
	Structural TriState
	// AnalysisID restricts to rows produced by one analysis. Takes
	// precedence over HumanOnly when both are set.
	AnalysisID *uuid.UUID
	// HumanOnly restricts to human-authored rows (no analysis).
	HumanOnly bool
	// ExtractID restricts to rows reachable from the extract's reviewed
	// datacells.
	ExtractID *uuid.UUID
	// StrictExtract applies to relationship retrieval only: every endpoint
	// annotation must belong to the extract, not just one.
	StrictExtract bool
	// Pages restricts to the given page numbers. Order and duplicates are
	// irrelevant; an empty slice applies no page filter.
	Pages []int
}

// SummarySource says how an extract summary was produced.
type SummarySource string

const (
	// SummaryAggregate: read from the precomputed aggregate view.
	SummaryAggregate SummarySource = "aggregate"
	// SummaryDirect: recomputed from live datacell provenance because the
	// view lacked coverage or could not be read.
	SummaryDirect SummarySource = "direct"
)

// ExtractSummary is the per-(document, extract) annotation rollup.
type ExtractSummary struct {
	ExtractID       uuid.UUID
	DocumentID      uuid.UUID
	AnnotationCount int
	PageCount       int
	Pages           []int
	FirstPage       int
	LastPage        int
	Source          SummarySource
	// RefreshedAt is when the aggregate view last rebuilt; nil for direct
	// computations.
	RefreshedAt *time.Time
}

// ViewReport is one aggregate view's freshness.
type ViewReport struct {
	Name        string
	RefreshedAt time.Time
	Age         time.Duration
	Stale       bool
	RowCount    int64
}
