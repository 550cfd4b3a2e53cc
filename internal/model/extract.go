package model

import (
	"time"

	"github.com/google/uuid"
)

// Extract is a named extraction job scoping a set of documents and a fieldset.
type Extract struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	CorpusID   *uuid.UUID `json:"corpus_id,omitempty"`
	FieldsetID uuid.UUID  `json:"fieldset_id"`
	CreatorID  uuid.UUID  `json:"creator_id"`
	Started    *time.Time `json:"started,omitempty"`
	Finished   *time.Time `json:"finished,omitempty"`
	Error      *string    `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Datacell is the extracted value for one (document, column) pair within an
// extract. SourceIDs is the provenance relation: the annotations that justify
// the extracted value. Reviewers may approve, reject, or correct a cell after
// creation; those are the mutations that trigger an aggregate view rebuild.
type Datacell struct {
	ID            uuid.UUID      `json:"id"`
	ExtractID     uuid.UUID      `json:"extract_id"`
	ColumnID      uuid.UUID      `json:"column_id"`
	DocumentID    uuid.UUID      `json:"document_id"`
	Data          map[string]any `json:"data,omitempty"`
	CorrectedData map[string]any `json:"corrected_data,omitempty"`

	Started   *time.Time `json:"started,omitempty"`
	Completed *time.Time `json:"completed,omitempty"`
	Failed    *time.Time `json:"failed,omitempty"`

	ApprovedByID *uuid.UUID `json:"approved_by_id,omitempty"`
	RejectedByID *uuid.UUID `json:"rejected_by_id,omitempty"`

	SourceIDs []uuid.UUID `json:"source_ids,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// SummarySource reports which path produced an ExtractSummary.
type SummarySource string

const (
	// SummaryAggregate means the precomputed view answered the query.
	SummaryAggregate SummarySource = "aggregate"
	// SummaryDirect means the view was unavailable and the summary was
	// recomputed from the live datacell-annotation join.
	SummaryDirect SummarySource = "direct"
)

// ExtractSummary describes the annotations reachable from an extract on one
// document: how many there are and which pages they cover.
type ExtractSummary struct {
	ExtractID       uuid.UUID     `json:"extract_id"`
	DocumentID      uuid.UUID     `json:"document_id"`
	AnnotationCount int           `json:"annotation_count"`
	PageCount       int           `json:"page_count"`
	Pages           []int         `json:"pages"`
	FirstPage       int           `json:"first_page"`
	LastPage        int           `json:"last_page"`
	Source          SummarySource `json:"source"`
	RefreshedAt     *time.Time    `json:"refreshed_at,omitempty"`
}

// AggregateRow is one derived tuple of the extract-annotation view. Rows are
// a pure function of current datacell sources and are never hand-edited.
type AggregateRow struct {
	ExtractID    uuid.UUID `json:"extract_id"`
	DocumentID   uuid.UUID `json:"document_id"`
	AnnotationID uuid.UUID `json:"annotation_id"`
	Page         int       `json:"page"`
}
