package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "launchpad.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func createTestService(t *testing.T, store Store, workspaceID, name string, typ domain.ServiceType) *domain.Service {
	t.Helper()
	svc, err := domain.NewService(workspaceID, "proj-1", name, typ)
	require.NoError(t, err)
	require.NoError(t, store.CreateService(context.Background(), svc))
	return svc
}

func createTestDeployment(t *testing.T, store Store, svc *domain.Service) *domain.Deployment {
	t.Helper()
	d := domain.NewDeployment(*svc, domain.TriggerManual, "user-1")
	require.NoError(t, store.CreateDeployment(context.Background(), d))
	return d
}

// =============================================================================
// Service Tests
// =============================================================================

func TestSQLiteStore_CreateAndGetService(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	svc, err := domain.NewService("ws-1", "proj-1", "api", domain.ServiceTypeAPI)
	require.NoError(t, err)
	svc.DependsOn = []string{"db"}
	require.NoError(t, store.CreateService(ctx, svc))

	got, err := store.GetService(ctx, "ws-1", svc.ID)
	require.NoError(t, err)
	assert.Equal(t, svc.Name, got.Name)
	assert.Equal(t, domain.ServiceTypeAPI, got.Type)
	assert.Equal(t, domain.ServiceStatusProvisioning, got.Status)
	assert.Equal(t, 1, got.DeployOrder)
	assert.Equal(t, []string{"db"}, got.DependsOn)
	assert.Equal(t, "production", got.Environment)
	assert.WithinDuration(t, svc.CreatedAt, got.CreatedAt, time.Microsecond)
}

func TestSQLiteStore_GetService_OtherWorkspace(t *testing.T) {
	store := setupTestStore(t)
	svc := createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)

	_, err := store.GetService(context.Background(), "ws-2", svc.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStore_CreateService_Duplicates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	svc := createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)

	err := store.CreateService(ctx, svc)
	assert.ErrorIs(t, err, ErrDuplicateID)

	other, err := domain.NewService("ws-1", "proj-1", "api", domain.ServiceTypeWeb)
	require.NoError(t, err)
	err = store.CreateService(ctx, other)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestSQLiteStore_CreateService_DuplicateIDOnly(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	svc := createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)

	renamed := *svc
	renamed.Name = "api-2"
	err := store.CreateService(ctx, &renamed)
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.NotErrorIs(t, err, ErrDuplicateName)
}

func TestSQLiteStore_UpdateService(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	svc := createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)

	svc.SetStatus(domain.ServiceStatusActive)
	require.NoError(t, store.UpdateService(ctx, svc))

	got, err := store.GetService(ctx, "ws-1", svc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceStatusActive, got.Status)

	// a foreign workspace cannot write the record
	svc.WorkspaceID = "ws-2"
	err = store.UpdateService(ctx, svc)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListServices(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestService(t, store, "ws-1", "web", domain.ServiceTypeWeb)
	createTestService(t, store, "ws-1", "db", domain.ServiceTypeDatabase)
	createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)
	removed := createTestService(t, store, "ws-1", "old", domain.ServiceTypeWorker)
	createTestService(t, store, "ws-2", "intruder", domain.ServiceTypeWeb)

	removed.SetStatus(domain.ServiceStatusRemoved)
	require.NoError(t, store.UpdateService(ctx, removed))

	services, err := store.ListServices(ctx, "ws-1", "proj-1")
	require.NoError(t, err)
	require.Len(t, services, 3)
	assert.Equal(t, "db", services[0].Name)
	assert.Equal(t, "api", services[1].Name)
	assert.Equal(t, "web", services[2].Name)
}

// =============================================================================
// Deployment Tests
// =============================================================================

func TestSQLiteStore_DeploymentLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	svc := createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)
	d := createTestDeployment(t, store, svc)

	require.NoError(t, d.Transition(domain.StatusBuilding))
	require.NoError(t, d.Transition(domain.StatusDeploying))
	require.NoError(t, d.Transition(domain.StatusSuccess))
	build, deploy := 42, 7
	d.BuildDurationSeconds = &build
	d.DeployDurationSeconds = &deploy
	d.ProviderDeploymentID = "prov-123456"
	d.URL = "https://api.example.com"
	d.Metadata["attempts"] = "1"
	require.NoError(t, store.UpdateDeployment(ctx, d))

	got, err := store.GetDeployment(ctx, "ws-1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.Equal(t, "prov-123456", got.ProviderDeploymentID)
	assert.Equal(t, "https://api.example.com", got.URL)
	require.NotNil(t, got.BuildDurationSeconds)
	assert.Equal(t, 42, *got.BuildDurationSeconds)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, "1", got.Metadata["attempts"])
	assert.Equal(t, domain.TriggerManual, got.TriggerType)
}

func TestSQLiteStore_GetDeployment_OtherWorkspace(t *testing.T) {
	store := setupTestStore(t)
	svc := createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)
	d := createTestDeployment(t, store, svc)

	_, err := store.GetDeployment(context.Background(), "ws-2", d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_CreateDeployment_UnknownService(t *testing.T) {
	store := setupTestStore(t)
	d := domain.NewDeployment(domain.Service{ID: "missing", WorkspaceID: "ws-1"}, domain.TriggerManual, "")

	err := store.CreateDeployment(context.Background(), d)
	assert.ErrorIs(t, err, ErrForeignKey)
}

func TestSQLiteStore_CreateDeployment_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	svc := createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)
	d := createTestDeployment(t, store, svc)

	err := store.CreateDeployment(context.Background(), d)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestSQLiteStore_ListDeployments_CreationOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	svc := createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, createTestDeployment(t, store, svc).ID)
	}

	list, err := store.ListDeployments(ctx, "ws-1", svc.ID, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, d := range list {
		assert.Equal(t, ids[i], d.ID)
	}

	list, err = store.ListDeployments(ctx, "ws-2", svc.ID, DefaultListOptions())
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = store.ListDeployments(ctx, "ws-1", svc.ID, ListOptions{Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ids[2], list[0].ID)
}

func TestSQLiteStore_LatestSuccessfulDeployment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	svc := createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)

	_, err := store.LatestSuccessfulDeployment(ctx, "ws-1", svc.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var last string
	for i := 0; i < 2; i++ {
		d := createTestDeployment(t, store, svc)
		require.NoError(t, d.Transition(domain.StatusBuilding))
		require.NoError(t, d.Transition(domain.StatusDeploying))
		require.NoError(t, d.Transition(domain.StatusSuccess))
		require.NoError(t, store.UpdateDeployment(ctx, d))
		last = d.ID
	}
	failed := createTestDeployment(t, store, svc)
	require.NoError(t, failed.Fail("boom"))
	require.NoError(t, store.UpdateDeployment(ctx, failed))

	got, err := store.LatestSuccessfulDeployment(ctx, "ws-1", svc.ID)
	require.NoError(t, err)
	assert.Equal(t, last, got.ID)
}

// =============================================================================
// Transaction Tests
// =============================================================================

func TestSQLiteStore_ListStaleDeployments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)

	a := createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)
	b := createTestService(t, store, "ws-2", "worker", domain.ServiceTypeWorker)

	stuck := createTestDeployment(t, store, a)
	require.NoError(t, stuck.Transition(domain.StatusBuilding))
	stuck.UpdatedAt = old
	require.NoError(t, store.UpdateDeployment(ctx, stuck))

	otherWorkspace := createTestDeployment(t, store, b)
	otherWorkspace.UpdatedAt = old.Add(time.Minute)
	require.NoError(t, store.UpdateDeployment(ctx, otherWorkspace))

	finished := createTestDeployment(t, store, a)
	require.NoError(t, finished.Fail("boom"))
	finished.UpdatedAt = old
	require.NoError(t, store.UpdateDeployment(ctx, finished))

	createTestDeployment(t, store, a) // fresh, not stale

	stale, err := store.ListStaleDeployments(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, stuck.ID, stale[0].ID)
	assert.Equal(t, otherWorkspace.ID, stale[1].ID)

	limited, err := store.ListStaleDeployments(ctx, time.Now().Add(-time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStore_WithTx_Rollback(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	svc := createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx Store) error {
		d := domain.NewDeployment(*svc, domain.TriggerManual, "")
		require.NoError(t, tx.CreateDeployment(ctx, d))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, err := store.ListDeployments(ctx, "ws-1", svc.ID, DefaultListOptions())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLiteStore_WithTx_Commit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	svc := createTestService(t, store, "ws-1", "api", domain.ServiceTypeAPI)

	err := store.WithTx(ctx, func(tx Store) error {
		svc.SetStatus(domain.ServiceStatusDeploying)
		if err := tx.UpdateService(ctx, svc); err != nil {
			return err
		}
		return tx.CreateDeployment(ctx, domain.NewDeployment(*svc, domain.TriggerManual, ""))
	})
	require.NoError(t, err)

	got, err := store.GetService(ctx, "ws-1", svc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceStatusDeploying, got.Status)
}

func TestListOptions_Normalize(t *testing.T) {
	assert.Equal(t, ListOptions{Limit: 100}, ListOptions{}.Normalize())
	assert.Equal(t, ListOptions{Limit: 1000}, ListOptions{Limit: 5000, Offset: -1}.Normalize())
}
