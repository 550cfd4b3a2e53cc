// Package retrieve implements the permission-scoped annotation and
// relationship retrievers: permission gate first, then cache, then the
// filter-policy-driven store query, with results cached as ID lists and every
// cache key recorded in the scope registry for targeted invalidation.
package retrieve

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/glosshq/gloss/internal/cache"
	"github.com/glosshq/gloss/internal/filter"
	"github.com/glosshq/gloss/internal/model"
)

// DefaultTTL bounds how long a cached ID list may serve reads. It is a
// wall-clock bound independent of aggregate rebuild timing, so results
// converge even if the invalidation pipeline stalls entirely.
const DefaultTTL = 5 * time.Minute

// Gate is the permission check consulted before any query.
type Gate interface {
	CanViewDocument(ctx context.Context, userID, documentID uuid.UUID) (bool, error)
}

// Store is the subset of the entity store the retrievers query on a cache
// miss. Implementations must order results by page then ID.
type Store interface {
	ListAnnotationRefs(ctx context.Context, documentID uuid.UUID, s filter.Scope) ([]model.AnnotationRef, error)
	ListRelationshipRefs(ctx context.Context, documentID uuid.UUID, s filter.Scope) ([]model.RelationshipRef, error)
}

// ref is the common shape both retrievers sort and deduplicate on.
type ref struct {
	ID   uuid.UUID
	Page int
}

// orderAndDedup sorts refs by page then ID bytes and drops duplicate IDs,
// returning the bare ID list. Multi-valued joins (extract, page filters) can
// surface the same row more than once; callers always get each ID once, in a
// deterministic order.
func orderAndDedup(refs []ref) []uuid.UUID {
	sortRefs(refs)

	ids := make([]uuid.UUID, 0, len(refs))
	seen := make(map[uuid.UUID]bool, len(refs))
	for _, r := range refs {
		if !seen[r.ID] {
			seen[r.ID] = true
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func sortRefs(refs []ref) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Page != refs[j].Page {
			return refs[i].Page < refs[j].Page
		}
		return bytes.Compare(refs[i].ID[:], refs[j].ID[:]) < 0
	})
}

func encodeIDs(ids []uuid.UUID) ([]byte, error) {
	return json.Marshal(ids)
}

func decodeIDs(data []byte) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// registryScopes lists every coarse scope a cache key belongs to: the
// document always, plus document+corpus and document+extract when those
// filters are present. Events invalidate at these coarseness levels without
// enumerating full filter combinations.
func registryScopes(documentID uuid.UUID, f filter.Filters) []string {
	scopes := []string{DocumentScope(documentID)}
	if f.CorpusID != nil {
		scopes = append(scopes, CorpusScope(documentID, *f.CorpusID))
	}
	if f.ExtractID != nil {
		scopes = append(scopes, ExtractScope(documentID, *f.ExtractID))
	}
	return scopes
}

// DocumentScope is the registry scope covering every cached retrieval for a
// document.
func DocumentScope(documentID uuid.UUID) string {
	return cache.ScopeKey("doc", documentID.String())
}

// CorpusScope is the registry scope for one document+corpus combination.
func CorpusScope(documentID, corpusID uuid.UUID) string {
	return cache.ScopeKey("doc", documentID.String(), "corpus", corpusID.String())
}

// ExtractScope is the registry scope for one document+extract combination.
func ExtractScope(documentID, extractID uuid.UUID) string {
	return cache.ScopeKey("doc", documentID.String(), "extract", extractID.String())
}
