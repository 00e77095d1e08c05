package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdeploy-io/stackdeploy/internal/deploy"
	"github.com/stackdeploy-io/stackdeploy/internal/provision"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id string) *deploy.Record {
	return &deploy.Record{
		ID:     id,
		UserID: "alice",
		Name:   "demo",
		State:  deploy.StatePending,
		Request: deploy.Request{
			Name: "demo", UserID: "alice", APIKey: "sk-test", AppImage: "app:latest",
		},
		Snapshot:  deploy.Snapshot{DeploymentID: id, CurrentPhase: deploy.PhaseDiscovery},
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateAndGetDeployment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDeployment(ctx, testRecord("dep-1")))

	got, err := s.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, deploy.StatePending, got.State)
	assert.Equal(t, "sk-test", got.Request.APIKey)
	assert.Equal(t, deploy.PhaseDiscovery, got.Snapshot.CurrentPhase)
	assert.Empty(t, got.Resources)
	assert.Nil(t, got.DeletedAt)
}

func TestGetDeploymentNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetDeployment(context.Background(), "missing")
	assert.ErrorIs(t, err, deploy.ErrDeploymentNotFound)
}

func TestSaveSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateDeployment(ctx, testRecord("dep-1")))

	snap := deploy.Snapshot{
		DeploymentID:    "dep-1",
		OverallProgress: 40,
		CurrentPhase:    deploy.PhaseMvpCore,
	}
	require.NoError(t, s.SaveSnapshot(ctx, "dep-1", deploy.StateRunning, snap))

	got, err := s.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, deploy.StateRunning, got.State)
	assert.Equal(t, 40, got.Snapshot.OverallProgress)
	assert.Equal(t, deploy.PhaseMvpCore, got.Snapshot.CurrentPhase)

	err = s.SaveSnapshot(ctx, "missing", deploy.StateRunning, snap)
	assert.ErrorIs(t, err, deploy.ErrDeploymentNotFound)
}

func TestAppendResourceKeepsOrderAndDeduplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateDeployment(ctx, testRecord("dep-1")))

	secret := provision.Handle{Type: provision.KindSecret, ProviderID: "sd-dep-secret", SecretRef: "sim://sd-dep-secret"}
	db := provision.Handle{Type: provision.KindDatabase, ProviderID: "sd-dep-database", Address: "db:5432"}

	require.NoError(t, s.AppendResource(ctx, "dep-1", secret))
	require.NoError(t, s.AppendResource(ctx, "dep-1", db))
	// Replayed deployments re-acknowledge resources they already created.
	require.NoError(t, s.AppendResource(ctx, "dep-1", secret))

	got, err := s.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, got.Resources, 2)
	assert.Equal(t, "sd-dep-secret", got.Resources[0].ProviderID)
	assert.Equal(t, "sd-dep-database", got.Resources[1].ProviderID)
}

func TestListByStates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	running := testRecord("dep-running")
	running.State = deploy.StateRunning
	completed := testRecord("dep-completed")
	completed.State = deploy.StateCompleted
	require.NoError(t, s.CreateDeployment(ctx, running))
	require.NoError(t, s.CreateDeployment(ctx, completed))

	got, err := s.ListByStates(ctx, deploy.StatePending, deploy.StateRunning)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dep-running", got[0].ID)

	all, err := s.ListDeployments(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMarkDeleted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateDeployment(ctx, testRecord("dep-1")))

	require.NoError(t, s.MarkDeleted(ctx, "dep-1"))

	got, err := s.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, deploy.StateDestroyed, got.State)
	require.NotNil(t, got.DeletedAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.DeletedAt, time.Minute)
}
