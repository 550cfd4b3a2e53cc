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

// Relationships retrieves permission-scoped relationship ID lists for a
// document. Relationships are filtered through their endpoint annotations:
// page filters match any endpoint's page, and the extract filter requires one
// endpoint (or, in strict mode, every endpoint) to be reachable from the
// extract.
type Relationships struct {
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

// NewRelationships creates the relationship retriever. ttl <= 0 selects DefaultTTL.
func NewRelationships(store Store, gate Gate, c cache.Cache, registry cache.Registry, ttl time.Duration, logger *slog.Logger) *Relationships {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	meter := telemetry.Meter("gloss/retrieve")
	hits, _ := meter.Int64Counter("gloss.retrieve.cache_hits",
		metric.WithDescription("Annotation/relationship retrievals served from cache"))
	misses, _ := meter.Int64Counter("gloss.retrieve.cache_misses",
		metric.WithDescription("Annotation/relationship retrievals that queried the store"))

	return &Relationships{
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

// Get returns the ordered relationship IDs on documentID visible to userID
// under the given filters. Semantics mirror Annotations.Get: silent empty on
// denial, error on store failure.
func (r *Relationships) Get(ctx context.Context, documentID, userID uuid.UUID, f filter.Filters) ([]uuid.UUID, error) {
	ctx, span := r.tracer.Start(ctx, "retrieve.Relationships.Get",
		trace.WithAttributes(attribute.String("document_id", documentID.String())))
	defer span.End()

	allowed, err := r.gate.CanViewDocument(ctx, userID, documentID)
	if err != nil {
		return nil, fmt.Errorf("retrieve: permission check: %w", err)
	}
	if !allowed {
		return nil, nil
	}

	scope := filter.Resolve(f, filter.TargetRelationships)
	if scope.Empty() {
		return nil, nil
	}

	key := scopeKey("rel", documentID, userID, f)

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

	v, err, _ := r.group.Do(key, func() (any, error) {
		relRefs, err := r.store.ListRelationshipRefs(ctx, documentID, scope)
		if err != nil {
			return nil, fmt.Errorf("retrieve: relationship query: %w", err)
		}

		refs := make([]ref, len(relRefs))
		for i, rel := range relRefs {
			refs[i] = ref{ID: rel.ID, Page: rel.Page}
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

func (r *Relationships) cacheResult(ctx context.Context, key string, documentID uuid.UUID, f filter.Filters, ids []uuid.UUID) {
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
