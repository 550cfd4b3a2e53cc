package staleness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glosshq/gloss/internal/aggregate"
	"github.com/glosshq/gloss/internal/storage"
	"github.com/glosshq/gloss/internal/testutil"
)

type fakeViewStore struct {
	statuses []storage.ViewStatus
	err      error
}

func (s *fakeViewStore) ListViewStatus(context.Context) ([]storage.ViewStatus, error) {
	return s.statuses, s.err
}

type fakeRefresher struct {
	requests []aggregate.RefreshRequest
}

func (r *fakeRefresher) Refresh(req aggregate.RefreshRequest) {
	r.requests = append(r.requests, req)
}

func TestReport_AgesAgainstBound(t *testing.T) {
	now := time.Now()
	store := &fakeViewStore{statuses: []storage.ViewStatus{
		{Name: "fresh", RefreshedAt: now.Add(-time.Minute), RowCount: 10},
		{Name: "stale", RefreshedAt: now.Add(-10 * time.Minute), RowCount: 10},
	}}
	m := NewMonitor(store, &fakeRefresher{}, 5*time.Minute, 0, testutil.TestLogger())
	m.now = func() time.Time { return now }

	reports, err := m.Report(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "fresh", reports[0].Name)
	assert.False(t, reports[0].Stale)
	assert.Equal(t, time.Minute, reports[0].Age)

	assert.Equal(t, "stale", reports[1].Name)
	assert.True(t, reports[1].Stale)
}

func TestReport_AgeExactlyAtBoundIsFresh(t *testing.T) {
	now := time.Now()
	store := &fakeViewStore{statuses: []storage.ViewStatus{
		{Name: "edge", RefreshedAt: now.Add(-5 * time.Minute)},
	}}
	m := NewMonitor(store, &fakeRefresher{}, 5*time.Minute, 0, testutil.TestLogger())
	m.now = func() time.Time { return now }

	reports, err := m.Report(context.Background())
	require.NoError(t, err)
	assert.False(t, reports[0].Stale, "staleness requires age strictly over the bound")
}

func TestReport_StoreErrorPropagates(t *testing.T) {
	store := &fakeViewStore{err: errors.New("db down")}
	m := NewMonitor(store, &fakeRefresher{}, time.Minute, 0, testutil.TestLogger())

	_, err := m.Report(context.Background())
	assert.Error(t, err)
}

func TestCheck_TriggersRefreshForStaleViewsOnly(t *testing.T) {
	now := time.Now()
	store := &fakeViewStore{statuses: []storage.ViewStatus{
		{Name: "fresh", RefreshedAt: now.Add(-time.Minute)},
		{Name: "stale", RefreshedAt: now.Add(-time.Hour)},
	}}
	refresher := &fakeRefresher{}
	m := NewMonitor(store, refresher, 5*time.Minute, 0, testutil.TestLogger())
	m.now = func() time.Time { return now }

	m.check(context.Background())

	require.Len(t, refresher.requests, 1)
	assert.Equal(t, "staleness", refresher.requests[0].Reason)
	assert.Nil(t, refresher.requests[0].DocumentID,
		"a staleness refresh carries no pair hint")
}

func TestCheck_NoViewsNoRefresh(t *testing.T) {
	refresher := &fakeRefresher{}
	m := NewMonitor(&fakeViewStore{}, refresher, time.Minute, 0, testutil.TestLogger())

	m.check(context.Background())

	assert.Empty(t, refresher.requests)
}

func TestNewMonitor_Defaults(t *testing.T) {
	m := NewMonitor(&fakeViewStore{}, &fakeRefresher{}, 0, 0, testutil.TestLogger())
	assert.Equal(t, DefaultBound, m.bound)
	assert.Equal(t, DefaultBound/2, m.interval)

	m = NewMonitor(&fakeViewStore{}, &fakeRefresher{}, 10*time.Minute, 0, testutil.TestLogger())
	assert.Equal(t, 5*time.Minute, m.interval, "interval defaults to half the bound")
}

func TestMonitor_StopWithoutStartReturnsImmediately(t *testing.T) {
	m := NewMonitor(&fakeViewStore{}, &fakeRefresher{}, time.Minute, 0, testutil.TestLogger())

	// No deadline on the context: a regression here blocks forever.
	done := make(chan struct{})
	go func() {
		m.Stop(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on an unstarted monitor")
	}
}

func TestMonitor_StartStop(t *testing.T) {
	now := time.Now()
	store := &fakeViewStore{statuses: []storage.ViewStatus{
		{Name: "stale", RefreshedAt: now.Add(-time.Hour)},
	}}
	refresher := &fakeRefresher{}
	m := NewMonitor(store, refresher, 5*time.Minute, 10*time.Millisecond, testutil.TestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	// Let at least one tick fire.
	time.Sleep(50 * time.Millisecond)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	m.Stop(stopCtx)

	assert.NotEmpty(t, refresher.requests, "ticker should have triggered at least one refresh")
}
