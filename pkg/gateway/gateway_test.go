package gateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/state"
	"github.com/cuemby/warren/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateProjectThenFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	project, initial, err := store.CreateProject(ctx, "matrix", "acct-1", false)
	require.NoError(t, err)
	assert.Equal(t, "matrix", project.Name)
	assert.Equal(t, state.KindCreating, initial.Kind)

	found, err := store.FindProject(ctx, "matrix")
	require.NoError(t, err)
	assert.Equal(t, project.ID, found.ID)
}

func TestCreateProjectCollidesWithLiveProject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.CreateProject(ctx, "matrix", "acct-1", false)
	require.NoError(t, err)

	_, _, err = store.CreateProject(ctx, "matrix", "acct-2", false)
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.ProjectAlreadyExists, apiErr.Kind)
}

func TestCreateProjectRecreatesDestroyedRecordPreservingDomain(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.CreateProject(ctx, "matrix", "acct-1", false)
	require.NoError(t, err)
	require.NoError(t, store.CreateCustomDomain(ctx, "matrix", "neo.the.matrix", nil, nil))
	require.NoError(t, store.CommitState(ctx, "matrix", state.State{Kind: state.KindDestroyed, Destroyed: &state.DestroyedData{}}))

	project, initial, err := store.CreateProject(ctx, "matrix", "acct-1", false)
	require.NoError(t, err)
	assert.Equal(t, state.KindCreating, initial.Kind)
	assert.Equal(t, "neo.the.matrix", project.CustomDomain)
}

func TestCreateProjectInvalidName(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.CreateProject(context.Background(), "a", "acct-1", false)
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.InvalidProjectName, apiErr.Kind)
}

func TestDeploymentPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.PutDeployment(ctx, deploymentFixture(i)))
	}

	page1, err := store.ListDeployments(ctx, "svc-1", 1, 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page3, err := store.ListDeployments(ctx, "svc-1", 3, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestGitFieldTruncation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	d := deploymentFixture(0)
	d.GitCommitMsg = string(long)
	require.NoError(t, store.PutDeployment(ctx, d))

	got, err := store.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, got.GitCommitMsg, gitFieldLimit)
}

func deploymentFixture(n int) types.Deployment {
	return types.Deployment{
		ID:        fmt.Sprintf("dep-%d", n),
		ServiceID: "svc-1",
		State:     types.DeploymentStateRunning,
		IsNext:    n == 0,
	}
}
