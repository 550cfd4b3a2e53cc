// Package aggregate owns the extract-annotation view: serialized wholesale
// rebuilds behind a cache lease, targeted cache invalidation after each
// rebuild, and summary reads with a direct-computation fallback when the view
// lacks coverage.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/glosshq/gloss/internal/cache"
	"github.com/glosshq/gloss/internal/model"
	"github.com/glosshq/gloss/internal/retrieve"
	"github.com/glosshq/gloss/internal/storage"
	"github.com/glosshq/gloss/internal/telemetry"
)

// DefaultLeaseTTL bounds how long one rebuild may exclude others. A holder
// that dies mid-rebuild lets the lease lapse rather than wedging refreshes.
const DefaultLeaseTTL = 5 * time.Minute

const leaseKey = "lease:aggregate:" + storage.AggregateViewName

// Store is the persistence surface the manager drives.
type Store interface {
	RebuildAggregateView(ctx context.Context) (int64, error)
	GetAggregateSummary(ctx context.Context, documentID, extractID uuid.UUID) (model.ExtractSummary, error)
	ComputeSummaryDirect(ctx context.Context, documentID, extractID uuid.UUID) (model.ExtractSummary, error)
	ListAggregatePairs(ctx context.Context) ([]storage.AggregatePair, error)
}

// RefreshRequest asks for one view rebuild. DocumentID/ExtractID are hints
// for cache invalidation: when set, only that pair's scopes are swept after
// the rebuild; when nil, every pair the view covers is swept.
type RefreshRequest struct {
	Reason     string
	DocumentID *uuid.UUID
	ExtractID  *uuid.UUID
}

// Manager serializes aggregate view rebuilds and serves summaries.
//
// Rebuild requests funnel through a bounded queue into a worker pool; each
// worker takes the rebuild lease before touching the view, so concurrent
// requests collapse into one rebuild and the losers no-op. The view tables
// swap wholesale inside one transaction, so readers never see a torn view.
type Manager struct {
	store    Store
	cache    cache.Cache
	registry cache.Registry
	lease    *cache.Lease
	logger   *slog.Logger
	workers  int

	requests chan RefreshRequest
	rebuilds metric.Int64Counter
	dropped  metric.Int64Counter

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context // carries the drain context to runLoop for the final sweep
}

// NewManager creates the manager. workers <= 0 selects one worker; queueSize
// <= 0 selects a queue of 64. leaseTTL <= 0 selects DefaultLeaseTTL.
func NewManager(store Store, c cache.Cache, registry cache.Registry, workers, queueSize int, leaseTTL time.Duration, logger *slog.Logger) *Manager {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	meter := telemetry.Meter("gloss/aggregate")
	rebuilds, _ := meter.Int64Counter("gloss.aggregate.rebuilds",
		metric.WithDescription("Completed aggregate view rebuilds"))
	dropped, _ := meter.Int64Counter("gloss.aggregate.dropped_requests",
		metric.WithDescription("Refresh requests dropped because the queue was full"))

	return &Manager{
		store:    store,
		cache:    c,
		registry: registry,
		lease:    cache.NewLease(c, leaseKey, leaseTTL),
		logger:   logger,
		workers:  workers,
		requests: make(chan RefreshRequest, queueSize),
		rebuilds: rebuilds,
		dropped:  dropped,
		done:     make(chan struct{}),
		drainCh:  make(chan context.Context, 1),
	}
}

// Start launches the refresh worker pool. Safe to call only once; subsequent
// calls are no-ops and log a warning.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		m.logger.Warn("aggregate: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancelLoop = cancel
	go m.runLoop(loopCtx)
}

// Drain stops accepting dispatches, processes queued requests, and blocks
// until the pool is idle or ctx expires.
func (m *Manager) Drain(ctx context.Context) {
	if !m.started.Load() {
		// Nothing is running; there is no loop to wait for.
		m.once.Do(func() { close(m.done) })
		return
	}
	select {
	case m.drainCh <- ctx:
	default:
	}
	if m.cancelLoop != nil {
		m.cancelLoop()
	}
	select {
	case <-m.done:
	case <-ctx.Done():
		m.logger.Warn("aggregate: drain timed out")
	}
}

// Refresh enqueues a rebuild request without blocking. When the queue is
// full the request is dropped: the staleness monitor re-triggers within its
// bound, so a dropped request delays convergence rather than losing it.
func (m *Manager) Refresh(req RefreshRequest) {
	select {
	case m.requests <- req:
	default:
		m.dropped.Add(context.Background(), 1)
		m.logger.Warn("aggregate: refresh queue full, dropping request", "reason", req.Reason)
	}
}

func (m *Manager) runLoop(ctx context.Context) {
	g := new(errgroup.Group)
	g.SetLimit(m.workers)

	for {
		select {
		case <-ctx.Done():
			// Final sweep under the drain context so queued requests still
			// complete within the caller's deadline.
			var drainCtx context.Context
			select {
			case drainCtx = <-m.drainCh:
			default:
			}
			if drainCtx == nil {
				var cancel context.CancelFunc
				drainCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
			}
			for {
				select {
				case req := <-m.requests:
					m.process(drainCtx, req)
					continue
				default:
				}
				break
			}
			_ = g.Wait()
			m.once.Do(func() { close(m.done) })
			return
		case req := <-m.requests:
			g.Go(func() error {
				workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
				defer cancel()
				m.process(workCtx, req)
				return nil
			})
		}
	}
}

// process performs one rebuild: take the lease, rebuild inside the retry
// wrapper, invalidate affected cache scopes, release the lease.
func (m *Manager) process(ctx context.Context, req RefreshRequest) {
	held, err := m.lease.TryAcquire(ctx)
	if err != nil {
		m.logger.Warn("aggregate: lease acquire failed, rebuilding unguarded", "error", err)
	} else if !held {
		// Another rebuild is in flight; its result supersedes this request.
		m.logger.Debug("aggregate: rebuild already in progress, skipping", "reason", req.Reason)
		return
	}
	if held {
		defer func() {
			if err := m.lease.Release(ctx); err != nil {
				m.logger.Warn("aggregate: lease release failed", "error", err)
			}
		}()
	}

	start := time.Now()
	var rowCount int64
	err = storage.WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		var rerr error
		rowCount, rerr = m.store.RebuildAggregateView(ctx)
		return rerr
	})
	if err != nil {
		m.logger.Error("aggregate: rebuild failed", "reason", req.Reason, "error", err)
		return
	}
	m.rebuilds.Add(ctx, 1)
	m.logger.Info("aggregate: view rebuilt",
		"reason", req.Reason,
		"rows", rowCount,
		"elapsed", time.Since(start),
	)

	if err := m.invalidate(ctx, req); err != nil {
		m.logger.Warn("aggregate: cache invalidation incomplete", "error", err)
	}
}

// invalidate sweeps the cache scopes the rebuild made stale. A hinted request
// sweeps just its pair; an unhinted one sweeps every pair the view covers.
func (m *Manager) invalidate(ctx context.Context, req RefreshRequest) error {
	var scopes []string
	switch {
	case req.DocumentID != nil && req.ExtractID != nil:
		scopes = []string{
			retrieve.ExtractScope(*req.DocumentID, *req.ExtractID),
			retrieve.DocumentScope(*req.DocumentID),
		}
	case req.DocumentID != nil:
		scopes = []string{retrieve.DocumentScope(*req.DocumentID)}
	default:
		pairs, err := m.store.ListAggregatePairs(ctx)
		if err != nil {
			return fmt.Errorf("aggregate: list pairs for invalidation: %w", err)
		}
		seen := make(map[uuid.UUID]bool, len(pairs))
		for _, p := range pairs {
			scopes = append(scopes, retrieve.ExtractScope(p.DocumentID, p.ExtractID))
			if !seen[p.DocumentID] {
				seen[p.DocumentID] = true
				scopes = append(scopes, retrieve.DocumentScope(p.DocumentID))
			}
		}
	}
	return cache.Invalidate(ctx, m.cache, m.registry, scopes...)
}

// Summarize returns the extract-annotation summary for one (document,
// extract) pair. It prefers the precomputed view; when the view lacks
// coverage for the pair or cannot be read, it recomputes directly from
// datacell provenance and marks the result accordingly.
func (m *Manager) Summarize(ctx context.Context, documentID, extractID uuid.UUID) (model.ExtractSummary, error) {
	s, err := m.store.GetAggregateSummary(ctx, documentID, extractID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("aggregate: view read failed, computing directly", "error", err)
	}
	return m.store.ComputeSummaryDirect(ctx, documentID, extractID)
}
