// Package staleness watches aggregate view freshness and triggers refreshes
// when a view's age exceeds the configured bound. It is the backstop for the
// event-driven refresh path: a missed event delays convergence by at most one
// bound, never indefinitely.
package staleness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/glosshq/gloss/internal/aggregate"
	"github.com/glosshq/gloss/internal/storage"
	"github.com/glosshq/gloss/internal/telemetry"
)

// DefaultBound is the maximum tolerated view age before a refresh triggers.
const DefaultBound = 5 * time.Minute

// DefaultInterval is how often the monitor inspects view freshness. Checking
// at half the bound keeps worst-case staleness under bound + interval.
const DefaultInterval = DefaultBound / 2

// Store reads view freshness metadata.
type Store interface {
	ListViewStatus(ctx context.Context) ([]storage.ViewStatus, error)
}

// Refresher accepts rebuild requests. Satisfied by aggregate.Manager.
type Refresher interface {
	Refresh(req aggregate.RefreshRequest)
}

// ViewReport is one view's freshness as seen at report time.
type ViewReport struct {
	Name        string        `json:"name"`
	RefreshedAt time.Time     `json:"refreshed_at"`
	Age         time.Duration `json:"age"`
	Stale       bool          `json:"stale"`
	RowCount    int64         `json:"row_count"`
}

// Monitor periodically compares each view's refresh timestamp against the
// staleness bound and asks the refresher to rebuild anything over it.
type Monitor struct {
	store     Store
	refresher Refresher
	bound     time.Duration
	interval  time.Duration
	logger    *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// NewMonitor creates the monitor. bound <= 0 selects DefaultBound;
// interval <= 0 selects half the bound.
func NewMonitor(store Store, refresher Refresher, bound, interval time.Duration, logger *slog.Logger) *Monitor {
	if bound <= 0 {
		bound = DefaultBound
	}
	if interval <= 0 {
		interval = bound / 2
	}
	return &Monitor{
		store:     store,
		refresher: refresher,
		bound:     bound,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start begins the background check loop. Safe to call only once; subsequent
// calls are no-ops and log a warning.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		m.logger.Warn("staleness: Start called more than once, ignoring")
		return
	}
	m.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancelLoop = cancel
	go m.checkLoop(loopCtx)
}

// Stop halts the check loop and blocks until it exits or ctx expires.
func (m *Monitor) Stop(ctx context.Context) {
	if !m.started.Load() {
		// Nothing is running; there is no loop to wait for.
		m.once.Do(func() { close(m.done) })
		return
	}
	if m.cancelLoop != nil {
		m.cancelLoop()
	}
	select {
	case <-m.done:
	case <-ctx.Done():
		m.logger.Warn("staleness: stop timed out")
	}
}

func (m *Monitor) checkLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.once.Do(func() { close(m.done) })
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			m.check(checkCtx)
			cancel()
		}
	}
}

// check inspects every view and triggers a full refresh for any over the
// bound. The refresh carries no pair hint: a stale view says nothing about
// which pairs moved, so the whole view rebuilds and all its scopes sweep.
func (m *Monitor) check(ctx context.Context) {
	reports, err := m.Report(ctx)
	if err != nil {
		m.logger.Error("staleness: freshness check failed", "error", err)
		return
	}
	for _, r := range reports {
		if !r.Stale {
			continue
		}
		m.logger.Info("staleness: view over bound, triggering refresh",
			"view", r.Name,
			"age", r.Age,
			"bound", m.bound,
		)
		m.refresher.Refresh(aggregate.RefreshRequest{Reason: "staleness"})
	}
}

// Report returns the current freshness of every aggregate view.
func (m *Monitor) Report(ctx context.Context) ([]ViewReport, error) {
	statuses, err := m.store.ListViewStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("staleness: list view status: %w", err)
	}

	now := m.now()
	reports := make([]ViewReport, len(statuses))
	for i, s := range statuses {
		age := now.Sub(s.RefreshedAt)
		reports[i] = ViewReport{
			Name:        s.Name,
			RefreshedAt: s.RefreshedAt,
			Age:         age,
			Stale:       age > m.bound,
			RowCount:    s.RowCount,
		}
	}
	return reports, nil
}

// registerMetrics exposes view age as an observable gauge.
func (m *Monitor) registerMetrics() {
	meter := telemetry.Meter("gloss/staleness")

	_, _ = meter.Float64ObservableGauge("gloss.staleness.view_age_seconds",
		metric.WithDescription("Seconds since each aggregate view was last rebuilt"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			reports, err := m.Report(ctx)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			for _, r := range reports {
				o.Observe(r.Age.Seconds(), metric.WithAttributes(attribute.String("view", r.Name)))
			}
			return nil
		}),
	)
}
