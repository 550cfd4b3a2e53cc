package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/glosshq/gloss/internal/model"
)

// CreateDocument inserts a document and returns it.
func (db *DB) CreateDocument(ctx context.Context, d model.Document) (model.Document, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO documents (id, title, page_count, creator_id, is_public, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Title, d.PageCount, d.CreatorID, d.IsPublic, d.CreatedAt,
	)
	if err != nil {
		return model.Document{}, fmt.Errorf("storage: create document: %w", err)
	}
	return d, nil
}

// GetDocument retrieves a document by ID.
func (db *DB) GetDocument(ctx context.Context, id uuid.UUID) (model.Document, error) {
	var d model.Document
	err := db.pool.QueryRow(ctx,
		`SELECT id, title, page_count, creator_id, is_public, created_at FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.Title, &d.PageCount, &d.CreatorID, &d.IsPublic, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Document{}, fmt.Errorf("storage: document %s: %w", id, ErrNotFound)
		}
		return model.Document{}, fmt.Errorf("storage: get document: %w", err)
	}
	return d, nil
}

// CreateCorpus inserts a corpus and returns it.
func (db *DB) CreateCorpus(ctx context.Context, c model.Corpus) (model.Corpus, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO corpuses (id, title, creator_id, is_public, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Title, c.CreatorID, c.IsPublic, c.CreatedAt,
	)
	if err != nil {
		return model.Corpus{}, fmt.Errorf("storage: create corpus: %w", err)
	}
	return c, nil
}

// AddDocumentToCorpus records corpus membership for a document.
func (db *DB) AddDocumentToCorpus(ctx context.Context, corpusID, documentID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO corpus_documents (corpus_id, document_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		corpusID, documentID,
	)
	if err != nil {
		return fmt.Errorf("storage: add document to corpus: %w", err)
	}
	return nil
}

// CreateAnalysis inserts an analysis and returns it.
func (db *DB) CreateAnalysis(ctx context.Context, a model.Analysis) (model.Analysis, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO analyses (id, corpus_id, analyzer, creator_id, is_public, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.CorpusID, a.Analyzer, a.CreatorID, a.IsPublic, a.CreatedAt,
	)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("storage: create analysis: %w", err)
	}
	return a, nil
}
