package model

import (
	"time"

	"github.com/google/uuid"
)

// Relationship is a labeled link between one or more source annotations and
// one or more target annotations on the same document. Source and target sets
// are non-empty.
type Relationship struct {
	ID         uuid.UUID  `json:"id"`
	DocumentID uuid.UUID  `json:"document_id"`
	CorpusID   *uuid.UUID `json:"corpus_id,omitempty"`
	AnalysisID *uuid.UUID `json:"analysis_id,omitempty"`
	Label      string     `json:"label"`
	Structural bool       `json:"structural"`

	SourceIDs []uuid.UUID `json:"source_ids"`
	TargetIDs []uuid.UUID `json:"target_ids"`

	CreatorID uuid.UUID `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RelationshipRef is the retrieval-layer projection of a relationship: its ID
// plus the lowest page among its endpoint annotations, which is what the
// deterministic sort orders on.
type RelationshipRef struct {
	ID   uuid.UUID `json:"id"`
	Page int       `json:"page"`
}
