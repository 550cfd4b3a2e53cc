package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/glosshq/gloss/internal/cache"
	"github.com/glosshq/gloss/internal/filter"
	"github.com/glosshq/gloss/internal/telemetry"
)

// Annotations retrieves permission-scoped annotation ID lists for a document.
type Annotations struct {
	store    Store
	gate     Gate
	cache    cache.Cache
	registry cache.Registry
	ttl      time.Duration
	logger   *slog.Logger

	group  singleflight.Group
	tracer trace.Tracer
	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// NewAnnotations creates the annotation retriever. ttl <= 0 selects DefaultTTL.
func NewAnnotations(store Store, gate Gate, c cache.Cache, registry cache.Registry, ttl time.Duration, logger *slog.Logger) *Annotations {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	meter := telemetry.Meter("gloss/retrieve")
	hits, _ := meter.Int64Counter("gloss.retrieve.cache_hits",
		metric.WithDescription("Annotation/relationship retrievals served from cache"))
	misses, _ := meter.Int64Counter("gloss.retrieve.cache_misses",
		metric.WithDescription("Annotation/relationship retrievals that queried the store"))

	return &Annotations{
		store:    store,
		gate:     gate,
		cache:    c,
		registry: registry,
		ttl:      ttl,
		logger:   logger,
		tracer:   otel.Tracer("gloss/retrieve"),
		hits:     hits,
		misses:   misses,
	}
}

// Get returns the ordered annotation IDs on documentID visible to userID
// under the given filters.
//
// A permission denial returns an empty list with no error: callers cannot
// distinguish a document they may not see from one with no matching rows.
// A store failure returns an error distinct from an empty result.
func (r *Annotations) Get(ctx context.Context, documentID, userID uuid.UUID, f filter.Filters) ([]uuid.UUID, error) {
	ctx, span := r.tracer.Start(ctx, "retrieve.Annotations.Get",
		trace.WithAttributes(attribute.String("document_id", documentID.String())))
	defer span.End()

	allowed, err := r.gate.CanViewDocument(ctx, userID, documentID)
	if err != nil {
		return nil, fmt.Errorf("retrieve: permission check: %w", err)
	}
	if !allowed {
		return nil, nil
	}

	scope := filter.Resolve(f, filter.TargetAnnotations)
	if scope.Empty() {
		// structural=false with no corpus: defined empty, not an error.
		return nil, nil
	}

	key := scopeKey("ann", documentID, userID, f)

	if data, ok, err := r.cache.Get(ctx, key); err != nil {
		r.logger.Warn("retrieve: cache get failed, querying store directly", "error", err)
	} else if ok {
		if ids, derr := decodeIDs(data); derr == nil {
			r.hits.Add(ctx, 1)
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return ids, nil
		}
		r.logger.Warn("retrieve: corrupt cache entry, requerying", "key", key)
	}
	r.misses.Add(ctx, 1)

	// Collapse concurrent identical misses into one store query. The key
	// includes the user, so flights are never shared across users.
	v, err, _ := r.group.Do(key, func() (any, error) {
		annRefs, err := r.store.ListAnnotationRefs(ctx, documentID, scope)
		if err != nil {
			return nil, fmt.Errorf("retrieve: annotation query: %w", err)
		}

		refs := make([]ref, len(annRefs))
		for i, a := range annRefs {
			refs[i] = ref{ID: a.ID, Page: a.Page}
		}
		ids := orderAndDedup(refs)

		r.cacheResult(ctx, key, documentID, f, ids)
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]uuid.UUID), nil
}

// cacheResult stores the ID list and records the key under every coarse
// registry scope it belongs to. Cache failures degrade to uncached operation;
// they are logged, never surfaced.
func (r *Annotations) cacheResult(ctx context.Context, key string, documentID uuid.UUID, f filter.Filters, ids []uuid.UUID) {
	payload, err := encodeIDs(ids)
	if err != nil {
		r.logger.Warn("retrieve: encode cached result", "error", err)
		return
	}
	if err := r.cache.Set(ctx, key, payload, r.ttl); err != nil {
		r.logger.Warn("retrieve: cache set failed", "error", err)
		return
	}
	for _, scope := range registryScopes(documentID, f) {
		if err := r.registry.Register(ctx, scope, key); err != nil {
			r.logger.Warn("retrieve: registry register failed", "scope", scope, "error", err)
		}
	}
}
