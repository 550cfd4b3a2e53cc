// Package model defines the domain entities for the annotation platform:
// documents, corpuses, annotations, relationships, extracts, and the derived
// aggregate view rows built from them.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Annotation is a labeled span or region on a Document. It optionally belongs
// to a Corpus and/or an Analysis. An annotation with a nil AnalysisID is
// human-authored; one with a non-nil AnalysisID was produced by a machine
// analysis and is immutable after creation.
type Annotation struct {
	ID         uuid.UUID  `json:"id"`
	DocumentID uuid.UUID  `json:"document_id"`
	CorpusID   *uuid.UUID `json:"corpus_id,omitempty"`
	AnalysisID *uuid.UUID `json:"analysis_id,omitempty"`
	Label      string     `json:"label"`
	RawText    string     `json:"raw_text,omitempty"`
	Page       int        `json:"page"`

	// Structural annotations describe document layout (headers, page breaks,
	// section boundaries) and are visible regardless of corpus scoping.
	Structural bool `json:"structural"`

	CreatorID uuid.UUID `json:"creator_id"`
	IsPublic  bool      `json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
}

// AnnotationRef is the minimal projection the retrieval layer orders and
// caches: an annotation ID plus the page it sits on.
type AnnotationRef struct {
	ID   uuid.UUID `json:"id"`
	Page int       `json:"page"`
}
