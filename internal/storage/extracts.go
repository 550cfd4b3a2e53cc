package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/glosshq/gloss/internal/model"
)

// CreateExtract inserts an extract job and returns it.
func (db *DB) CreateExtract(ctx context.Context, e model.Extract) (model.Extract, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO extracts (id, name, corpus_id, fieldset_id, creator_id, started, finished, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Name, e.CorpusID, e.FieldsetID, e.CreatorID, e.Started, e.Finished, e.Error, e.CreatedAt,
	)
	if err != nil {
		return model.Extract{}, fmt.Errorf("storage: create extract: %w", err)
	}
	return e, nil
}

// GetExtract retrieves an extract by ID.
func (db *DB) GetExtract(ctx context.Context, id uuid.UUID) (model.Extract, error) {
	var e model.Extract
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, corpus_id, fieldset_id, creator_id, started, finished, error, created_at
		 FROM extracts WHERE id = $1`, id,
	).Scan(&e.ID, &e.Name, &e.CorpusID, &e.FieldsetID, &e.CreatorID, &e.Started, &e.Finished, &e.Error, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Extract{}, fmt.Errorf("storage: extract %s: %w", id, ErrNotFound)
		}
		return model.Extract{}, fmt.Errorf("storage: get extract: %w", err)
	}
	return e, nil
}

// FinishExtract records extract completion (or failure, when errMsg is
// non-nil). The caller is responsible for triggering the aggregate rebuild.
func (db *DB) FinishExtract(ctx context.Context, id uuid.UUID, errMsg *string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE extracts SET finished = now(), error = $2 WHERE id = $1`,
		id, errMsg,
	)
	if err != nil {
		return fmt.Errorf("storage: finish extract: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: extract %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateDatacell inserts a datacell with its annotation provenance rows.
func (db *DB) CreateDatacell(ctx context.Context, c model.Datacell) (model.Datacell, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	data, err := marshalCellData(c.Data)
	if err != nil {
		return model.Datacell{}, err
	}
	corrected, err := marshalCellData(c.CorrectedData)
	if err != nil {
		return model.Datacell{}, err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Datacell{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO datacells (id, extract_id, column_id, document_id, data, corrected_data,
		 started, completed, failed, approved_by_id, rejected_by_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.ExtractID, c.ColumnID, c.DocumentID, data, corrected,
		c.Started, c.Completed, c.Failed, c.ApprovedByID, c.RejectedByID, c.CreatedAt,
	)
	if err != nil {
		return model.Datacell{}, fmt.Errorf("storage: create datacell: %w", err)
	}

	for _, annotationID := range c.SourceIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO datacell_sources (datacell_id, annotation_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			c.ID, annotationID,
		); err != nil {
			return model.Datacell{}, fmt.Errorf("storage: insert datacell source: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Datacell{}, fmt.Errorf("storage: commit datacell: %w", err)
	}
	return c, nil
}

// ApproveDatacell marks a cell approved by userID and clears any rejection.
// Returns the cell's (document, extract) pair for cache invalidation.
func (db *DB) ApproveDatacell(ctx context.Context, id, userID uuid.UUID) (model.Datacell, error) {
	return db.reviewDatacell(ctx,
		`UPDATE datacells SET approved_by_id = $2, rejected_by_id = NULL
		 WHERE id = $1 RETURNING id, extract_id, column_id, document_id`,
		id, userID)
}

// RejectDatacell marks a cell rejected by userID and clears any approval.
func (db *DB) RejectDatacell(ctx context.Context, id, userID uuid.UUID) (model.Datacell, error) {
	return db.reviewDatacell(ctx,
		`UPDATE datacells SET rejected_by_id = $2, approved_by_id = NULL
		 WHERE id = $1 RETURNING id, extract_id, column_id, document_id`,
		id, userID)
}

// EditDatacell stores reviewer-corrected data for a cell.
func (db *DB) EditDatacell(ctx context.Context, id uuid.UUID, corrected map[string]any) (model.Datacell, error) {
	payload, err := marshalCellData(corrected)
	if err != nil {
		return model.Datacell{}, err
	}
	return db.reviewDatacell(ctx,
		`UPDATE datacells SET corrected_data = $2
		 WHERE id = $1 RETURNING id, extract_id, column_id, document_id`,
		id, payload)
}

// DeleteDatacell removes a cell and its provenance rows (cascaded), returning
// the affected (document, extract) pair.
func (db *DB) DeleteDatacell(ctx context.Context, id uuid.UUID) (model.Datacell, error) {
	return db.reviewDatacell(ctx,
		`DELETE FROM datacells WHERE id = $1 RETURNING id, extract_id, column_id, document_id`,
		id)
}

func (db *DB) reviewDatacell(ctx context.Context, query string, args ...any) (model.Datacell, error) {
	var c model.Datacell
	err := db.pool.QueryRow(ctx, query, args...).Scan(&c.ID, &c.ExtractID, &c.ColumnID, &c.DocumentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Datacell{}, fmt.Errorf("storage: datacell: %w", ErrNotFound)
		}
		return model.Datacell{}, fmt.Errorf("storage: update datacell: %w", err)
	}
	return c, nil
}

func marshalCellData(data map[string]any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal cell data: %w", err)
	}
	return payload, nil
}
