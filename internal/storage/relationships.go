package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/glosshq/gloss/internal/filter"
	"github.com/glosshq/gloss/internal/model"
)

// CreateRelationship inserts a relationship and its endpoint rows.
// Source and target sets must be non-empty.
func (db *DB) CreateRelationship(ctx context.Context, r model.Relationship) (model.Relationship, error) {
	if len(r.SourceIDs) == 0 || len(r.TargetIDs) == 0 {
		return model.Relationship{}, fmt.Errorf("storage: relationship requires non-empty source and target sets")
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Relationship{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO relationships (id, document_id, corpus_id, analysis_id, label, structural, creator_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.DocumentID, r.CorpusID, r.AnalysisID, r.Label, r.Structural, r.CreatorID, r.CreatedAt,
	)
	if err != nil {
		return model.Relationship{}, fmt.Errorf("storage: create relationship: %w", err)
	}

	for _, annotationID := range r.SourceIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO relationship_endpoints (relationship_id, annotation_id, role) VALUES ($1, $2, 'source')`,
			r.ID, annotationID,
		); err != nil {
			return model.Relationship{}, fmt.Errorf("storage: insert source endpoint: %w", err)
		}
	}
	for _, annotationID := range r.TargetIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO relationship_endpoints (relationship_id, annotation_id, role) VALUES ($1, $2, 'target')`,
			r.ID, annotationID,
		); err != nil {
			return model.Relationship{}, fmt.Errorf("storage: insert target endpoint: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Relationship{}, fmt.Errorf("storage: commit relationship: %w", err)
	}
	return r, nil
}

// GetRelationship retrieves a relationship with its endpoint sets.
func (db *DB) GetRelationship(ctx context.Context, id uuid.UUID) (model.Relationship, error) {
	var r model.Relationship
	err := db.pool.QueryRow(ctx,
		`SELECT id, document_id, corpus_id, analysis_id, label, structural, creator_id, created_at
		 FROM relationships WHERE id = $1`, id,
	).Scan(&r.ID, &r.DocumentID, &r.CorpusID, &r.AnalysisID, &r.Label, &r.Structural, &r.CreatorID, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Relationship{}, fmt.Errorf("storage: relationship %s: %w", id, ErrNotFound)
		}
		return model.Relationship{}, fmt.Errorf("storage: get relationship: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT annotation_id, role FROM relationship_endpoints WHERE relationship_id = $1 ORDER BY annotation_id`, id)
	if err != nil {
		return model.Relationship{}, fmt.Errorf("storage: get relationship endpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var annotationID uuid.UUID
		var role string
		if err := rows.Scan(&annotationID, &role); err != nil {
			return model.Relationship{}, fmt.Errorf("storage: scan endpoint: %w", err)
		}
		if role == "source" {
			r.SourceIDs = append(r.SourceIDs, annotationID)
		} else {
			r.TargetIDs = append(r.TargetIDs, annotationID)
		}
	}
	return r, rows.Err()
}

// ListRelationshipRefs returns the (id, page) projections of every
// relationship on the document matching the resolved scope, where page is the
// lowest page among the relationship's endpoints. Ordered by page then ID.
// Must agree with filter.Scope.MatchRelationship.
func (db *DB) ListRelationshipRefs(ctx context.Context, documentID uuid.UUID, s filter.Scope) ([]model.RelationshipRef, error) {
	if s.Empty() {
		return nil, nil
	}

	conds := []string{"r.document_id = $1"}
	args := []any{documentID}
	idx := 2

	conds, args, idx = appendScopeConditions(conds, args, idx, s, "r")

	if len(s.Pages) > 0 {
		conds = append(conds, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM relationship_endpoints pe
			JOIN annotations pa ON pa.id = pe.annotation_id
			WHERE pe.relationship_id = r.id AND pa.page = ANY($%d))`, idx))
		args = append(args, pagesArg(s.Pages))
		idx++
	}

	if s.ExtractID != nil {
		if s.StrictExtract {
			// Every endpoint must be reachable from the extract.
			conds = append(conds, fmt.Sprintf(`NOT EXISTS (
				SELECT 1 FROM relationship_endpoints xe
				WHERE xe.relationship_id = r.id
				  AND NOT EXISTS (
					SELECT 1 FROM datacell_sources ds
					JOIN datacells dc ON dc.id = ds.datacell_id
					WHERE ds.annotation_id = xe.annotation_id AND dc.extract_id = $%d))`, idx))
		} else {
			conds = append(conds, fmt.Sprintf(`EXISTS (
				SELECT 1 FROM relationship_endpoints xe
				JOIN datacell_sources ds ON ds.annotation_id = xe.annotation_id
				JOIN datacells dc ON dc.id = ds.datacell_id
				WHERE xe.relationship_id = r.id AND dc.extract_id = $%d)`, idx))
		}
		args = append(args, *s.ExtractID)
	}

	query := `SELECT r.id, MIN(a.page) AS page
		 FROM relationships r
		 JOIN relationship_endpoints e ON e.relationship_id = r.id
		 JOIN annotations a ON a.id = e.annotation_id
		 WHERE ` + strings.Join(conds, " AND ") + `
		 GROUP BY r.id
		 ORDER BY page ASC, r.id ASC`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list relationship refs: %w", err)
	}
	defer rows.Close()

	var refs []model.RelationshipRef
	for rows.Next() {
		var ref model.RelationshipRef
		if err := rows.Scan(&ref.ID, &ref.Page); err != nil {
			return nil, fmt.Errorf("storage: scan relationship ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
