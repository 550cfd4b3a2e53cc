package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/glosshq/gloss/internal/model"
)

// GrantAccess inserts an ACL entry. Granting an existing entry is a no-op.
func (db *DB) GrantAccess(ctx context.Context, e model.ACLEntry) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO acl_entries (object_type, object_id, user_id, permission)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		e.ObjectType, e.ObjectID, e.UserID, e.Permission,
	)
	if err != nil {
		return fmt.Errorf("storage: grant access: %w", err)
	}
	return nil
}

// RevokeAccess removes an ACL entry.
func (db *DB) RevokeAccess(ctx context.Context, e model.ACLEntry) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM acl_entries
		 WHERE object_type = $1 AND object_id = $2 AND user_id = $3 AND permission = $4`,
		e.ObjectType, e.ObjectID, e.UserID, e.Permission,
	)
	if err != nil {
		return fmt.Errorf("storage: revoke access: %w", err)
	}
	return nil
}

// CanViewDocument reports whether a user may read a document: the document is
// public, the user created it, the user holds a read grant on it, or the user
// can see a corpus that contains it (public corpus or corpus read grant).
// A document that does not exist is simply not viewable; callers must not be
// able to distinguish that from a denial.
func (db *DB) CanViewDocument(ctx context.Context, userID, documentID uuid.UUID) (bool, error) {
	var ok bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM documents d
			WHERE d.id = $1
			  AND (d.is_public
			   OR d.creator_id = $2
			   OR EXISTS (
				SELECT 1 FROM acl_entries ae
				WHERE ae.object_type = 'document' AND ae.object_id = d.id
				  AND ae.user_id = $2 AND ae.permission = 'read')
			   OR EXISTS (
				SELECT 1 FROM corpus_documents cd
				JOIN corpuses c ON c.id = cd.corpus_id
				WHERE cd.document_id = d.id
				  AND (c.is_public
				   OR c.creator_id = $2
				   OR EXISTS (
					SELECT 1 FROM acl_entries ae
					WHERE ae.object_type = 'corpus' AND ae.object_id = c.id
					  AND ae.user_id = $2 AND ae.permission = 'read')))))`,
		documentID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("storage: can view document: %w", err)
	}
	return ok, nil
}

// CanViewCorpus reports whether a user may read a corpus.
func (db *DB) CanViewCorpus(ctx context.Context, userID, corpusID uuid.UUID) (bool, error) {
	var ok bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM corpuses c
			WHERE c.id = $1
			  AND (c.is_public
			   OR c.creator_id = $2
			   OR EXISTS (
				SELECT 1 FROM acl_entries ae
				WHERE ae.object_type = 'corpus' AND ae.object_id = c.id
				  AND ae.user_id = $2 AND ae.permission = 'read')))`,
		corpusID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("storage: can view corpus: %w", err)
	}
	return ok, nil
}
