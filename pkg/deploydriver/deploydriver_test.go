package deploydriver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/state"
	"github.com/cuemby/warren/pkg/types"
)

type fakeStore struct {
	states      map[string]state.State
	deployments map[string]types.Deployment
	running     []types.Deployment
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states:      make(map[string]state.State),
		deployments: make(map[string]types.Deployment),
	}
}

func (f *fakeStore) RunningDeployments(ctx context.Context, serviceID string) ([]types.Deployment, error) {
	var out []types.Deployment
	for _, d := range f.running {
		if d.ServiceID == serviceID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) PutDeployment(ctx context.Context, d types.Deployment) error {
	f.deployments[d.ID] = d
	return nil
}

func (f *fakeStore) CommitState(ctx context.Context, projectName string, s state.State) error {
	f.states[projectName] = s
	return nil
}

func (f *fakeStore) LoadState(ctx context.Context, projectName string) (state.State, error) {
	return f.states[projectName], nil
}

func TestEvictOldDeploymentsStopsEverythingButTarget(t *testing.T) {
	store := newFakeStore()
	store.running = []types.Deployment{
		{ID: "dep-old-1", ServiceID: "svc-1", State: types.DeploymentStateRunning},
		{ID: "dep-old-2", ServiceID: "svc-1", State: types.DeploymentStateRunning},
		{ID: "dep-new", ServiceID: "svc-1", State: types.DeploymentStateRunning},
	}

	d := NewDriver(store, &Resolver{}, NewPortAllocator(40000, 40010), 0)
	err := d.evictOldDeployments(context.Background(), "svc-1", "dep-new")
	require.NoError(t, err)

	assert.Equal(t, types.DeploymentStateStopped, store.deployments["dep-old-1"].State)
	assert.Equal(t, types.DeploymentStateStopped, store.deployments["dep-old-2"].State)
	_, untouched := store.deployments["dep-new"]
	assert.False(t, untouched, "the target deployment is never written by eviction")
}

func TestFailCommitsErroredWithStepDiagnostic(t *testing.T) {
	store := newFakeStore()
	store.states["proj-1"] = state.State{Kind: state.KindReady, Ready: &state.ReadyData{ContainerID: "ctr-1"}}

	d := NewDriver(store, &Resolver{}, NewPortAllocator(40000, 40010), 0)
	err := d.fail(context.Background(), "proj-1", "load", assertError("boom"))
	require.Error(t, err)

	committed := store.states["proj-1"]
	assert.Equal(t, state.KindErrored, committed.Kind)
	require.NotNil(t, committed.Errored)
	assert.Contains(t, committed.Errored.Message, "boom")
}

func TestStartLastDeploymentReturnsNotReadyWithoutAResolvedRequest(t *testing.T) {
	store := newFakeStore()
	d := NewDriver(store, &Resolver{}, NewPortAllocator(40000, 40010), 0)
	err := d.StartLastDeployment(context.Background(), "proj-1")
	assert.Error(t, err)
}

type assertError string

func (e assertError) Error() string { return string(e) }
