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

// AggregateViewName identifies the extract-annotation view in aggregate_meta.
const AggregateViewName = "extract_annotations"

// ViewStatus describes one aggregate view's freshness.
type ViewStatus struct {
	Name        string    `json:"name"`
	RefreshedAt time.Time `json:"refreshed_at"`
	RowCount    int64     `json:"row_count"`
}

// AggregatePair is one (document, extract) combination covered by the view.
type AggregatePair struct {
	DocumentID uuid.UUID
	ExtractID  uuid.UUID
}

// RebuildAggregateView rebuilds the extract-annotation view wholesale from
// datacell provenance inside a single transaction. Readers keep seeing the
// pre-rebuild rows until the commit swaps the whole view in; there is no
// partial or incremental update. Returns the new row count.
func (db *DB) RebuildAggregateView(ctx context.Context) (int64, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: begin rebuild: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM extract_annotation_rows`); err != nil {
		return 0, fmt.Errorf("storage: clear aggregate rows: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO extract_annotation_rows (extract_id, document_id, annotation_id, page)
		 SELECT DISTINCT dc.extract_id, dc.document_id, ds.annotation_id, a.page
		 FROM datacells dc
		 JOIN datacell_sources ds ON ds.datacell_id = dc.id
		 JOIN annotations a ON a.id = ds.annotation_id`,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: rebuild aggregate rows: %w", err)
	}
	rowCount := tag.RowsAffected()

	if _, err := tx.Exec(ctx, `DELETE FROM extract_annotation_summaries`); err != nil {
		return 0, fmt.Errorf("storage: clear aggregate summaries: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO extract_annotation_summaries
		 (extract_id, document_id, annotation_count, pages, first_page, last_page, refreshed_at)
		 SELECT extract_id, document_id, COUNT(*),
		        array_agg(DISTINCT page ORDER BY page), MIN(page), MAX(page), now()
		 FROM extract_annotation_rows
		 GROUP BY extract_id, document_id`,
	); err != nil {
		return 0, fmt.Errorf("storage: rebuild aggregate summaries: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO aggregate_meta (view_name, refreshed_at, row_count)
		 VALUES ($1, now(), $2)
		 ON CONFLICT (view_name) DO UPDATE SET refreshed_at = now(), row_count = EXCLUDED.row_count`,
		AggregateViewName, rowCount,
	); err != nil {
		return 0, fmt.Errorf("storage: record aggregate meta: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("storage: commit rebuild: %w", err)
	}
	return rowCount, nil
}

// GetAggregateSummary reads the precomputed summary for one (document,
// extract) pair. Returns ErrNotFound when the view has no coverage for the
// pair; callers fall back to the direct computation.
func (db *DB) GetAggregateSummary(ctx context.Context, documentID, extractID uuid.UUID) (model.ExtractSummary, error) {
	s := model.ExtractSummary{
		DocumentID: documentID,
		ExtractID:  extractID,
		Source:     model.SummaryAggregate,
	}
	var pages []int32
	var refreshedAt time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT annotation_count, pages, first_page, last_page, refreshed_at
		 FROM extract_annotation_summaries
		 WHERE document_id = $1 AND extract_id = $2`,
		documentID, extractID,
	).Scan(&s.AnnotationCount, &pages, &s.FirstPage, &s.LastPage, &refreshedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ExtractSummary{}, fmt.Errorf("storage: aggregate summary: %w", ErrNotFound)
		}
		return model.ExtractSummary{}, fmt.Errorf("storage: get aggregate summary: %w", err)
	}
	s.Pages = pagesFromArg(pages)
	s.PageCount = len(s.Pages)
	s.RefreshedAt = &refreshedAt
	return s, nil
}

// ComputeSummaryDirect recomputes the summary from the live
// datacell-annotation join, bypassing the aggregate view. Used as the
// degraded-mode fallback when the view is unavailable or lacks coverage.
// A pair with no matching annotations yields a zero-count summary.
func (db *DB) ComputeSummaryDirect(ctx context.Context, documentID, extractID uuid.UUID) (model.ExtractSummary, error) {
	s := model.ExtractSummary{
		DocumentID: documentID,
		ExtractID:  extractID,
		Source:     model.SummaryDirect,
	}

	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT a.id, a.page
		 FROM datacells dc
		 JOIN datacell_sources ds ON ds.datacell_id = dc.id
		 JOIN annotations a ON a.id = ds.annotation_id
		 WHERE dc.document_id = $1 AND dc.extract_id = $2
		 ORDER BY a.page ASC`,
		documentID, extractID,
	)
	if err != nil {
		return model.ExtractSummary{}, fmt.Errorf("storage: compute summary direct: %w", err)
	}
	defer rows.Close()

	pageSeen := make(map[int]bool)
	for rows.Next() {
		var id uuid.UUID
		var page int
		if err := rows.Scan(&id, &page); err != nil {
			return model.ExtractSummary{}, fmt.Errorf("storage: scan summary row: %w", err)
		}
		s.AnnotationCount++
		if !pageSeen[page] {
			pageSeen[page] = true
			s.Pages = append(s.Pages, page)
		}
	}
	if err := rows.Err(); err != nil {
		return model.ExtractSummary{}, fmt.Errorf("storage: summary rows: %w", err)
	}

	s.PageCount = len(s.Pages)
	if s.PageCount > 0 {
		s.FirstPage = s.Pages[0]
		s.LastPage = s.Pages[s.PageCount-1]
	}
	return s, nil
}

// ListViewStatus returns freshness metadata for every aggregate view.
func (db *DB) ListViewStatus(ctx context.Context) ([]ViewStatus, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT view_name, refreshed_at, row_count FROM aggregate_meta ORDER BY view_name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list view status: %w", err)
	}
	defer rows.Close()

	var out []ViewStatus
	for rows.Next() {
		var v ViewStatus
		if err := rows.Scan(&v.Name, &v.RefreshedAt, &v.RowCount); err != nil {
			return nil, fmt.Errorf("storage: scan view status: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListAggregatePairs returns every (document, extract) pair the view covers.
// Full-view refreshes use it to invalidate all affected cache scopes.
func (db *DB) ListAggregatePairs(ctx context.Context) ([]AggregatePair, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT document_id, extract_id FROM extract_annotation_rows`)
	if err != nil {
		return nil, fmt.Errorf("storage: list aggregate pairs: %w", err)
	}
	defer rows.Close()

	var pairs []AggregatePair
	for rows.Next() {
		var p AggregatePair
		if err := rows.Scan(&p.DocumentID, &p.ExtractID); err != nil {
			return nil, fmt.Errorf("storage: scan aggregate pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func pagesFromArg(pages []int32) []int {
	out := make([]int, len(pages))
	for i, p := range pages {
		out[i] = int(p)
	}
	return out
}
