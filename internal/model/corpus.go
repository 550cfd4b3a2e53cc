package model

import (
	"time"

	"github.com/google/uuid"
)

// Document is a source text under annotation. Access control lives on the
// document (and its corpuses), never on individual annotations.
type Document struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	PageCount int       `json:"page_count"`
	CreatorID uuid.UUID `json:"creator_id"`
	IsPublic  bool      `json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
}

// Corpus is a named collection of documents with its own permission scope.
type Corpus struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatorID uuid.UUID `json:"creator_id"`
	IsPublic  bool      `json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
}

// Analysis is a machine-generated batch of annotations and relationships.
// Fine-grained restriction of machine output is achieved by making the
// analysis private and ACL-checking at this level instead of per annotation.
type Analysis struct {
	ID        uuid.UUID  `json:"id"`
	CorpusID  *uuid.UUID `json:"corpus_id,omitempty"`
	Analyzer  string     `json:"analyzer"`
	CreatorID uuid.UUID  `json:"creator_id"`
	IsPublic  bool       `json:"is_public"`
	CreatedAt time.Time  `json:"created_at"`
}

// ObjectType identifies which entity an ACL entry applies to.
type ObjectType string

const (
	ObjectDocument ObjectType = "document"
	ObjectCorpus   ObjectType = "corpus"
	ObjectAnalysis ObjectType = "analysis"
)

// Permission enumerates grantable access levels.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// ACLEntry grants a user a permission on a document, corpus, or analysis.
type ACLEntry struct {
	ObjectType ObjectType `json:"object_type"`
	ObjectID   uuid.UUID  `json:"object_id"`
	UserID     uuid.UUID  `json:"user_id"`
	Permission Permission `json:"permission"`
	CreatedAt  time.Time  `json:"created_at"`
}
