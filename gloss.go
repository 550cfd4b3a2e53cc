// Package gloss is the public API for embedding the Gloss annotation
// retrieval layer.
//
// Consumers import this package to serve permission-scoped annotation and
// relationship lookups over a shared Postgres entity store:
//
//	svc, err := gloss.New(
//	    gloss.WithVersion(version),
//	    gloss.WithLogger(logger),
//	)
//	if err != nil { ... }
//	go svc.Run(ctx)
//
//	ids, err := svc.GetDocumentAnnotations(ctx, docID, userID, gloss.Filters{
//	    CorpusID: &corpusID,
//	})
//
// The import graph enforces a strict no-cycle rule: gloss (root) imports
// internal/*, but internal/* never imports gloss (root). Public types
// (Filters, ExtractSummary, etc.) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package gloss

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/glosshq/gloss/internal/aggregate"
	"github.com/glosshq/gloss/internal/authz"
	"github.com/glosshq/gloss/internal/cache"
	"github.com/glosshq/gloss/internal/config"
	"github.com/glosshq/gloss/internal/filter"
	"github.com/glosshq/gloss/internal/retrieve"
	"github.com/glosshq/gloss/internal/staleness"
	"github.com/glosshq/gloss/internal/storage"
	"github.com/glosshq/gloss/internal/telemetry"
	"github.com/glosshq/gloss/migrations"
)

// Service is the Gloss retrieval layer lifecycle. Construct with New(), start
// the background refresh machinery with Run().
// Service has no public fields; use New() options to configure it.
type Service struct {
	cfg           config.Config
	db            *storage.DB
	gate          *authz.Gate
	annotations   *retrieve.Annotations
	relationships *retrieve.Relationships
	manager       *aggregate.Manager
	monitor       *staleness.Monitor
	cache         cache.Cache
	registry      cache.Registry
	cacheClose    func() error
	otelShutdown  telemetry.Shutdown
	logger        *slog.Logger
	version       string
}

// New initialises the retrieval layer. It connects to the database, runs
// migrations, and wires all subsystems. It does NOT start any goroutines;
// call Run() for the refresh worker pool and staleness monitor, or skip Run()
// entirely for a read-only deployment that never rebuilds the view itself.
func New(opts ...Option) (*Service, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.cacheBackend != "" {
		cfg.CacheBackend = o.cacheBackend
	}
	if o.cachePath != "" {
		cfg.CachePath = o.cachePath
	}
	if o.cacheTTL > 0 {
		cfg.CacheTTL = o.cacheTTL
	}
	if o.stalenessBound > 0 {
		cfg.StalenessBound = o.stalenessBound
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("gloss starting", "version", version, "cache_backend", cfg.CacheBackend)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, false)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Run embedded migrations, then any extras.
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Cache backend.
	var c cache.Cache
	var registry cache.Registry
	var cacheClose func() error
	switch cfg.CacheBackend {
	case "sqlite":
		sq, err := cache.OpenSQLite(cfg.CachePath)
		if err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("cache: %w", err)
		}
		c, registry, cacheClose = sq, sq, sq.Close
		logger.Info("cache: sqlite", "path", cfg.CachePath)
	default:
		mem := cache.NewMemory()
		c, registry = mem, mem
		cacheClose = func() error { mem.Close(); return nil }
		logger.Info("cache: memory")
	}

	// Permission gate.
	gate := authz.NewGate(db, cfg.AuthzTTL, logger)

	// Retrievers.
	annotations := retrieve.NewAnnotations(db, gate, c, registry, cfg.CacheTTL, logger)
	relationships := retrieve.NewRelationships(db, gate, c, registry, cfg.CacheTTL, logger)

	// Aggregate view manager and staleness monitor.
	manager := aggregate.NewManager(db, c, registry,
		cfg.RefreshWorkers, cfg.RefreshQueueSize, cfg.LeaseTTL, logger)
	monitor := staleness.NewMonitor(db, manager, cfg.StalenessBound, cfg.StalenessInterval, logger)

	return &Service{
		cfg:           cfg,
		db:            db,
		gate:          gate,
		annotations:   annotations,
		relationships: relationships,
		manager:       manager,
		monitor:       monitor,
		cache:         c,
		registry:      registry,
		cacheClose:    cacheClose,
		otelShutdown:  otelShutdown,
		logger:        logger,
		version:       version,
	}, nil
}

// Run starts the refresh worker pool and the staleness monitor, then blocks
// until ctx is cancelled. On return, Shutdown is called automatically;
// callers should not call Shutdown separately.
func (s *Service) Run(ctx context.Context) error {
	s.manager.Start(ctx)
	s.monitor.Start(ctx)

	<-ctx.Done()
	return s.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown: stop the staleness monitor, drain
// queued refresh requests, then close the cache, database, and telemetry.
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info("gloss shutting down")

	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	s.monitor.Stop(stopCtx)
	s.manager.Drain(stopCtx)

	s.gate.Close()
	if err := s.cacheClose(); err != nil {
		s.logger.Error("cache close error", "error", err)
	}
	_ = s.otelShutdown(context.Background())
	s.db.Close()

	s.logger.Info("gloss stopped")
	return nil
}

// GetDocumentAnnotations returns the IDs of annotations on the document that
// are visible to the user under the given filters, ordered by page then ID.
//
// A user without read access to the document receives an empty list and no
// error, indistinguishable from a document with no matching annotations.
func (s *Service) GetDocumentAnnotations(ctx context.Context, documentID, userID uuid.UUID, f Filters) ([]uuid.UUID, error) {
	return s.annotations.Get(ctx, documentID, userID, toInternalFilters(f))
}

// GetDocumentRelationships returns the IDs of relationships on the document
// that are visible to the user under the given filters. Page and extract
// filters apply through the relationships' endpoint annotations.
func (s *Service) GetDocumentRelationships(ctx context.Context, documentID, userID uuid.UUID, f Filters) ([]uuid.UUID, error) {
	return s.relationships.Get(ctx, documentID, userID, toInternalFilters(f))
}

// GetExtractAnnotationSummary returns the annotation rollup for one
// (document, extract) pair. It prefers the precomputed aggregate view and
// falls back to direct computation when the view lacks coverage; the Source
// field says which path served the result.
//
// A user without read access to the document receives a zero summary and no
// error.
func (s *Service) GetExtractAnnotationSummary(ctx context.Context, documentID, extractID, userID uuid.UUID) (ExtractSummary, error) {
	allowed, err := s.gate.CanViewDocument(ctx, userID, documentID)
	if err != nil {
		return ExtractSummary{}, fmt.Errorf("permission check: %w", err)
	}
	if !allowed {
		return ExtractSummary{}, nil
	}

	summary, err := s.manager.Summarize(ctx, documentID, extractID)
	if err != nil {
		return ExtractSummary{}, err
	}
	return ExtractSummary{
		ExtractID:       summary.ExtractID,
		DocumentID:      summary.DocumentID,
		AnnotationCount: summary.AnnotationCount,
		PageCount:       summary.PageCount,
		Pages:           summary.Pages,
		FirstPage:       summary.FirstPage,
		LastPage:        summary.LastPage,
		Source:          SummarySource(summary.Source),
		RefreshedAt:     summary.RefreshedAt,
	}, nil
}

// Invalidate drops every cached retrieval for the document: all users, all
// filter combinations. When extractID is non-nil the document+extract scope
// sweeps as well (a strict subset; included for registry hygiene).
func (s *Service) Invalidate(ctx context.Context, documentID uuid.UUID, extractID *uuid.UUID) error {
	scopes := []string{retrieve.DocumentScope(documentID)}
	if extractID != nil {
		scopes = append(scopes, retrieve.ExtractScope(documentID, *extractID))
	}
	return cache.Invalidate(ctx, s.cache, s.registry, scopes...)
}

// ExtractCompleted notifies the service that an extract finished running
// against a document. It queues an aggregate view refresh; cached retrievals
// for the pair are swept once the rebuild lands.
func (s *Service) ExtractCompleted(documentID, extractID uuid.UUID) {
	s.manager.Refresh(aggregate.RefreshRequest{
		Reason:     "extract_completed",
		DocumentID: &documentID,
		ExtractID:  &extractID,
	})
}

// DatacellReviewed notifies the service that a datacell was approved,
// rejected, or edited. Review changes the extract's effective annotation set,
// so the view refreshes and the pair's cached retrievals sweep.
func (s *Service) DatacellReviewed(documentID, extractID uuid.UUID) {
	s.manager.Refresh(aggregate.RefreshRequest{
		Reason:     "datacell_reviewed",
		DocumentID: &documentID,
		ExtractID:  &extractID,
	})
}

// DatacellDeleted notifies the service that a datacell was removed.
func (s *Service) DatacellDeleted(documentID, extractID uuid.UUID) {
	s.manager.Refresh(aggregate.RefreshRequest{
		Reason:     "datacell_deleted",
		DocumentID: &documentID,
		ExtractID:  &extractID,
	})
}

// PermissionsChanged notifies the service that the document's ACL or
// visibility changed. Cached permission verdicts for the document drop
// immediately; cached retrievals sweep so no user keeps reading results their
// new permissions would not produce.
func (s *Service) PermissionsChanged(ctx context.Context, documentID uuid.UUID) error {
	s.gate.Forget(documentID)
	return s.Invalidate(ctx, documentID, nil)
}

// RefreshAggregateView queues a full rebuild of the aggregate view,
// independent of any event. Mostly useful operationally.
func (s *Service) RefreshAggregateView() {
	s.manager.Refresh(aggregate.RefreshRequest{Reason: "manual"})
}

// StalenessReport returns the current freshness of every aggregate view.
func (s *Service) StalenessReport(ctx context.Context) ([]ViewReport, error) {
	reports, err := s.monitor.Report(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ViewReport, len(reports))
	for i, r := range reports {
		out[i] = ViewReport(r)
	}
	return out, nil
}

// toInternalFilters maps the public filter struct onto the internal tuple.
func toInternalFilters(f Filters) filter.Filters {
	out := filter.Filters{
		CorpusID:      f.CorpusID,
		Pages:         f.Pages,
		ExtractID:     f.ExtractID,
		StrictExtract: f.StrictExtract,
	}
	switch f.Structural {
	case True:
		out.Structural = filter.True
	case False:
		out.Structural = filter.False
	}
	switch {
	case f.AnalysisID != nil:
		out.Analysis = filter.OneAnalysis(*f.AnalysisID)
	case f.HumanOnly:
		out.Analysis = filter.HumanOnly()
	default:
		out.Analysis = filter.AnyAnalysis()
	}
	return out
}
