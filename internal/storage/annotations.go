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

// CreateAnnotation inserts an annotation and returns it.
func (db *DB) CreateAnnotation(ctx context.Context, a model.Annotation) (model.Annotation, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO annotations (id, document_id, corpus_id, analysis_id, label, raw_text,
		 page, structural, creator_id, is_public, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.DocumentID, a.CorpusID, a.AnalysisID, a.Label, a.RawText,
		a.Page, a.Structural, a.CreatorID, a.IsPublic, a.CreatedAt,
	)
	if err != nil {
		return model.Annotation{}, fmt.Errorf("storage: create annotation: %w", err)
	}
	return a, nil
}

// GetAnnotation retrieves an annotation by ID.
func (db *DB) GetAnnotation(ctx context.Context, id uuid.UUID) (model.Annotation, error) {
	var a model.Annotation
	err := db.pool.QueryRow(ctx,
		`SELECT id, document_id, corpus_id, analysis_id, label, raw_text,
		 page, structural, creator_id, is_public, created_at
		 FROM annotations WHERE id = $1`, id,
	).Scan(
		&a.ID, &a.DocumentID, &a.CorpusID, &a.AnalysisID, &a.Label, &a.RawText,
		&a.Page, &a.Structural, &a.CreatorID, &a.IsPublic, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Annotation{}, fmt.Errorf("storage: annotation %s: %w", id, ErrNotFound)
		}
		return model.Annotation{}, fmt.Errorf("storage: get annotation: %w", err)
	}
	return a, nil
}

// DeleteAnnotation removes an annotation. Endpoint and provenance join rows
// cascade in the schema.
func (db *DB) DeleteAnnotation(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM annotations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete annotation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: annotation %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListAnnotationRefs returns the (id, page) projections of every annotation
// on the document matching the resolved scope, ordered by page then ID. The
// SQL here must agree with filter.Scope.MatchAnnotation; the parity is pinned
// by the storage integration tests.
func (db *DB) ListAnnotationRefs(ctx context.Context, documentID uuid.UUID, s filter.Scope) ([]model.AnnotationRef, error) {
	if s.Empty() {
		return nil, nil
	}

	conds := []string{"a.document_id = $1"}
	args := []any{documentID}
	idx := 2

	conds, args, idx = appendScopeConditions(conds, args, idx, s, "a")

	if len(s.Pages) > 0 {
		conds = append(conds, fmt.Sprintf("a.page = ANY($%d)", idx))
		args = append(args, pagesArg(s.Pages))
		idx++
	}

	if s.ExtractID != nil {
		conds = append(conds, fmt.Sprintf(annotationInExtract("a"), idx))
		args = append(args, *s.ExtractID)
	}

	query := `SELECT a.id, a.page FROM annotations a WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY a.page ASC, a.id ASC`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list annotation refs: %w", err)
	}
	defer rows.Close()

	var refs []model.AnnotationRef
	for rows.Next() {
		var r model.AnnotationRef
		if err := rows.Scan(&r.ID, &r.Page); err != nil {
			return nil, fmt.Errorf("storage: scan annotation ref: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// appendScopeConditions adds the corpus and analysis clauses for the given
// table alias. The structural column doubles as the carve-out flag for both.
func appendScopeConditions(conds []string, args []any, idx int, s filter.Scope, alias string) ([]string, []any, int) {
	switch s.Corpus {
	case filter.ScopeStructuralOnly:
		conds = append(conds, alias+".structural = TRUE")
	case filter.ScopeCorpusOrStructural:
		conds = append(conds, fmt.Sprintf("(%s.corpus_id = $%d OR %s.structural = TRUE)", alias, idx, alias))
		args = append(args, s.CorpusID)
		idx++
	case filter.ScopeCorpusNonStructural:
		conds = append(conds, fmt.Sprintf("(%s.corpus_id = $%d AND %s.structural = FALSE)", alias, idx, alias))
		args = append(args, s.CorpusID)
		idx++
	}

	var analysisCond string
	switch s.Analysis.Kind {
	case filter.AnalysisHumanOnly:
		analysisCond = alias + ".analysis_id IS NULL"
	case filter.AnalysisOne:
		analysisCond = fmt.Sprintf("%s.analysis_id = $%d", alias, idx)
		args = append(args, s.Analysis.ID)
		idx++
	}
	if analysisCond != "" {
		if s.AnalysisKeepsStructural {
			analysisCond = fmt.Sprintf("(%s.structural = TRUE OR %s)", alias, analysisCond)
		}
		conds = append(conds, analysisCond)
	}

	return conds, args, idx
}

// annotationInExtract renders an EXISTS clause tying an annotation to an
// extract through datacell provenance. The %d placeholder is the extract arg.
func annotationInExtract(alias string) string {
	return `EXISTS (
		SELECT 1 FROM datacell_sources ds
		JOIN datacells dc ON dc.id = ds.datacell_id
		WHERE ds.annotation_id = ` + alias + `.id AND dc.extract_id = $%d)`
}

func pagesArg(pages []int) []int32 {
	out := make([]int32, len(pages))
	for i, p := range pages {
		out[i] = int32(p)
	}
	return out
}
