// Package authz provides the permission gate for the retrieval layer.
//
// Visibility is resolved at the document/corpus level only; annotation and
// relationship rows carry no per-row ACL. At typical volumes (tens of
// thousands of annotations per corpus) per-row checks and bookkeeping are
// cost-prohibitive; fine-grained restriction of machine output is achieved by
// ACL-checking the owning analysis instead.
package authz

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store is the subset of the entity store the gate consults.
type Store interface {
	CanViewDocument(ctx context.Context, userID, documentID uuid.UUID) (bool, error)
	CanViewCorpus(ctx context.Context, userID, corpusID uuid.UUID) (bool, error)
}

// Gate answers document/corpus visibility questions, caching verdicts for a
// short TTL so request bursts don't re-run the ACL query per call.
type Gate struct {
	store  Store
	cache  *ViewerCache
	logger *slog.Logger
}

// NewGate creates a permission gate with a verdict cache of the given TTL.
// Call Close to stop the cache's eviction goroutine.
func NewGate(store Store, ttl time.Duration, logger *slog.Logger) *Gate {
	return &Gate{
		store:  store,
		cache:  NewViewerCache(ttl),
		logger: logger,
	}
}

// CanViewDocument reports whether user may read the document. A missing
// document yields false, indistinguishable from a denial. Store errors
// propagate; the caller decides whether to fail open or closed (the
// retrievers fail closed).
func (g *Gate) CanViewDocument(ctx context.Context, userID, documentID uuid.UUID) (bool, error) {
	key := verdictKey("doc", userID, documentID)
	if allowed, ok := g.cache.Get(key); ok {
		return allowed, nil
	}

	allowed, err := g.store.CanViewDocument(ctx, userID, documentID)
	if err != nil {
		return false, err
	}
	g.cache.Set(key, allowed)
	return allowed, nil
}

// CanViewCorpus reports whether user may read the corpus.
func (g *Gate) CanViewCorpus(ctx context.Context, userID, corpusID uuid.UUID) (bool, error) {
	key := verdictKey("corpus", userID, corpusID)
	if allowed, ok := g.cache.Get(key); ok {
		return allowed, nil
	}

	allowed, err := g.store.CanViewCorpus(ctx, userID, corpusID)
	if err != nil {
		return false, err
	}
	g.cache.Set(key, allowed)
	return allowed, nil
}

// Forget drops any cached verdicts for the given object, e.g. after an ACL
// change. Verdicts for other objects are untouched.
func (g *Gate) Forget(objectID uuid.UUID) {
	g.cache.ForgetObject(objectID)
}

// Close stops the verdict cache's background eviction goroutine.
func (g *Gate) Close() {
	g.cache.Close()
}

func verdictKey(kind string, userID, objectID uuid.UUID) string {
	return kind + ":" + userID.String() + ":" + objectID.String()
}
