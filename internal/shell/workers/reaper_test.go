package workers

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/launchpad/internal/core/domain"
	coreevents "github.com/artpar/launchpad/internal/core/events"
	"github.com/artpar/launchpad/internal/shell/lock"
	"github.com/artpar/launchpad/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

type recordingSink struct {
	mu       sync.Mutex
	statuses []coreevents.Status
}

func (s *recordingSink) DeploymentStatus(_ context.Context, workspaceID string, p coreevents.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.WorkspaceID = workspaceID
	s.statuses = append(s.statuses, p)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "launchpad.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedDeployment stores a deployment of svc in status, last updated at updated.
func seedDeployment(t *testing.T, s store.Store, svc *domain.Service, path []domain.DeploymentStatus, updated time.Time) *domain.Deployment {
	t.Helper()
	ctx := context.Background()
	d := domain.NewDeployment(*svc, domain.TriggerManual, "user-1")
	require.NoError(t, s.CreateDeployment(ctx, d))
	for _, st := range path {
		require.NoError(t, d.Transition(st))
	}
	d.UpdatedAt = updated
	require.NoError(t, s.UpdateDeployment(ctx, d))
	return d
}

func seedService(t *testing.T, s store.Store, ws, name string) *domain.Service {
	t.Helper()
	svc, err := domain.NewService(ws, "proj-1", name, domain.ServiceTypeAPI)
	require.NoError(t, err)
	require.NoError(t, s.CreateService(context.Background(), svc))
	return svc
}

// =============================================================================
// Configuration Tests
// =============================================================================

func TestNewReaper_DefaultConfig(t *testing.T) {
	r := NewReaper(nil, nil, nil, ReaperConfig{}, nil)
	assert.Equal(t, DefaultReaperConfig(), r.config)
}

func TestNewReaper_CustomConfig(t *testing.T) {
	cfg := ReaperConfig{Interval: time.Second, StaleAfter: time.Hour, BatchSize: 7, MaxConcurrent: 2}
	r := NewReaper(nil, nil, nil, cfg, nil)
	assert.Equal(t, cfg, r.config)
}

// =============================================================================
// Reap Tests
// =============================================================================

func TestReaper_RunOnce(t *testing.T) {
	s := newTestStore(t)
	sink := &recordingSink{}
	r := NewReaper(s, lock.NewLocalLocker(), sink, ReaperConfig{StaleAfter: time.Hour}, nil)
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)

	api := seedService(t, s, "ws-1", "api")
	worker := seedService(t, s, "ws-2", "worker")

	building := seedDeployment(t, s, api, []domain.DeploymentStatus{domain.StatusBuilding}, old)
	deploying := seedDeployment(t, s, worker, []domain.DeploymentStatus{domain.StatusBuilding, domain.StatusDeploying}, old)
	fresh := seedDeployment(t, s, api, []domain.DeploymentStatus{domain.StatusBuilding}, time.Now())

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetDeployment(ctx, "ws-1", building.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "abandoned in building")
	assert.NotNil(t, got.CompletedAt)

	got, err = s.GetDeployment(ctx, "ws-2", deploying.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCrashed, got.Status)

	got, err = s.GetDeployment(ctx, "ws-1", fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBuilding, got.Status)

	require.Len(t, sink.statuses, 2)
	byWorkspace := map[string]coreevents.Status{}
	for _, st := range sink.statuses {
		byWorkspace[st.WorkspaceID] = st
	}
	assert.Equal(t, "api", byWorkspace["ws-1"].ServiceName)
	assert.Equal(t, string(domain.StatusFailed), byWorkspace["ws-1"].Status)
	assert.Equal(t, string(domain.StatusCrashed), byWorkspace["ws-2"].Status)

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReaper_SkipsLockedServices(t *testing.T) {
	s := newTestStore(t)
	locker := lock.NewLocalLocker()
	r := NewReaper(s, locker, nil, ReaperConfig{StaleAfter: time.Hour}, nil)
	ctx := context.Background()

	svc := seedService(t, s, "ws-1", "api")
	d := seedDeployment(t, s, svc, []domain.DeploymentStatus{domain.StatusBuilding}, time.Now().Add(-2*time.Hour))

	lease, err := locker.Acquire(ctx, lock.ServiceKey("ws-1", svc.ID))
	require.NoError(t, err)

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.GetDeployment(ctx, "ws-1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBuilding, got.Status)

	require.NoError(t, lease.Release(ctx))
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, locker.Held(lock.ServiceKey("ws-1", svc.ID)))
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestReaper_StartStop(t *testing.T) {
	s := newTestStore(t)
	r := NewReaper(s, nil, nil, ReaperConfig{Interval: 20 * time.Millisecond}, nil)

	r.Start()
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	r.Start()
	r.Stop()
}

func TestReaper_StopWithoutStart(t *testing.T) {
	r := NewReaper(nil, nil, nil, ReaperConfig{}, nil)
	assert.NotPanics(t, r.Stop)
}
