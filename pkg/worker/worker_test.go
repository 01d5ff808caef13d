package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/containerctx"
	"github.com/cuemby/warren/pkg/events"
	"github.com/cuemby/warren/pkg/state"
	"github.com/cuemby/warren/pkg/task"
	"github.com/cuemby/warren/pkg/types"
)

type memStore struct {
	states map[string]state.State
}

func newMemStore(name string, s state.State) *memStore {
	return &memStore{states: map[string]state.State{name: s}}
}

func (m *memStore) LoadState(ctx context.Context, name string) (state.State, error) {
	s, ok := m.states[name]
	if !ok {
		return state.State{}, apierrors.New(apierrors.ProjectNotFound, name)
	}
	return s, nil
}

func (m *memStore) CommitState(ctx context.Context, name string, s state.State) error {
	m.states[name] = s
	return nil
}

// fakeEngine is a minimal scripted containerctx.Context double, matching
// pkg/state's test idiom (small per-test fakes over a generic mock).
type fakeEngine struct {
	inspect    containerctx.Inspect
	inspectErr error
}

func (f *fakeEngine) Config() containerctx.EngineConfig { return containerctx.EngineConfig{} }
func (f *fakeEngine) PullImage(ctx context.Context, ref string) error { return nil }
func (f *fakeEngine) CreateContainer(ctx context.Context, cfg containerctx.CreateConfig) (string, error) {
	return "ctr-new", nil
}
func (f *fakeEngine) StartContainer(ctx context.Context, id string) error { return nil }
func (f *fakeEngine) StopContainer(ctx context.Context, id string, grace time.Duration) error {
	return nil
}
func (f *fakeEngine) RemoveContainer(ctx context.Context, id string) error { return nil }
func (f *fakeEngine) Inspect(ctx context.Context, id string) (containerctx.Inspect, error) {
	if f.inspectErr != nil {
		return containerctx.Inspect{}, f.inspectErr
	}
	return f.inspect, nil
}
func (f *fakeEngine) Stats(ctx context.Context, id string) (containerctx.Stats, error) {
	return containerctx.Stats{}, nil
}
func (f *fakeEngine) Exec(ctx context.Context, id string, cmd []string) (string, error) {
	return "", nil
}
func (f *fakeEngine) AttachNetwork(ctx context.Context, id, network string) (string, error) {
	return "", nil
}

type fakeProber struct {
	err error
}

func (p *fakeProber) ProbeContainer(ctx context.Context, containerID string) error { return p.err }

type fakeLister struct {
	projects []types.Project
}

func (f *fakeLister) IterProjects(ctx context.Context) ([]types.Project, error) {
	return f.projects, nil
}

type fakeTraffic struct {
	pending []string
	cleared []string
}

func (f *fakeTraffic) ListPendingTraffic(ctx context.Context) ([]string, error) {
	return f.pending, nil
}

func (f *fakeTraffic) ClearPendingTraffic(ctx context.Context, name string) error {
	f.cleared = append(f.cleared, name)
	return nil
}

func TestDispatcherSubmitRunsTaskAndEmitsEvent(t *testing.T) {
	store := newMemStore("matrix", state.State{Kind: state.KindStopped, Stopped: &state.StoppedData{ContainerID: "ctr-1"}})
	router := task.NewRouter(time.Second)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	d := NewDispatcher(router, store, broker, &fakeEngine{}, 8001)
	d.Submit(context.Background(), Submission{
		ProjectName: "matrix",
		ProjectID:   "proj-1",
		Kind:        "start",
		Task:        task.NewStartTask("matrix", store),
		Timeout:     time.Second,
	})

	select {
	case evt := <-sub:
		assert.Equal(t, "proj-1", evt.ProjectID)
		assert.Equal(t, "starting", evt.Change.StateVariantName)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion event")
	}
}

func TestDispatcherQueueDepthReturnsToZero(t *testing.T) {
	store := newMemStore("matrix", state.State{Kind: state.KindStopped, Stopped: &state.StoppedData{ContainerID: "ctr-1"}})
	router := task.NewRouter(time.Second)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	d := NewDispatcher(router, store, broker, &fakeEngine{}, 8001)
	d.Submit(context.Background(), Submission{
		ProjectName: "matrix",
		ProjectID:   "proj-1",
		Kind:        "start",
		Task:        task.NewStartTask("matrix", store),
	})

	require.Eventually(t, func() bool { return d.QueueDepth() == 0 }, time.Second, 10*time.Millisecond)
}

func TestAmbulanceHealsUnhealthyRunningProject(t *testing.T) {
	store := newMemStore("matrix", state.State{Kind: state.KindRunning, Running: &state.RunningData{ContainerID: "ctr-1"}})
	router := task.NewRouter(time.Second)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	d := NewDispatcher(router, store, broker, &fakeEngine{}, 8001)

	lister := &fakeLister{projects: []types.Project{{Name: "matrix", ID: "proj-1"}}}
	traffic := &fakeTraffic{}
	prober := &fakeProber{err: apierrors.New(apierrors.ProjectUnavailable, "unhealthy")}

	amb := NewAmbulance(d, store, lister, traffic, prober, &fakeEngine{})
	amb.sweep(context.Background())

	require.Eventually(t, func() bool {
		return store.states["matrix"].Kind != state.KindRunning
	}, time.Second, 10*time.Millisecond)
}

func TestAmbulanceStartsStoppedProjectWithPendingTraffic(t *testing.T) {
	store := newMemStore("matrix", state.State{Kind: state.KindStopped, Stopped: &state.StoppedData{ContainerID: "ctr-1"}})
	router := task.NewRouter(time.Second)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	d := NewDispatcher(router, store, broker, &fakeEngine{}, 8001)

	lister := &fakeLister{projects: []types.Project{{Name: "matrix", ID: "proj-1"}}}
	traffic := &fakeTraffic{pending: []string{"matrix"}}
	prober := &fakeProber{}

	amb := NewAmbulance(d, store, lister, traffic, prober, &fakeEngine{})
	amb.sweep(context.Background())

	assert.Equal(t, []string{"matrix"}, traffic.cleared)
	require.Eventually(t, func() bool {
		return store.states["matrix"].Kind != state.KindStopped
	}, time.Second, 10*time.Millisecond)
}

func TestAmbulanceSkipsFreshErroredProject(t *testing.T) {
	store := newMemStore("matrix", state.State{Kind: state.KindErrored, Errored: &state.ErroredData{ErrorKind: state.ErrInternal}})
	router := task.NewRouter(time.Second)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	d := NewDispatcher(router, store, broker, &fakeEngine{}, 8001)

	lister := &fakeLister{projects: []types.Project{{Name: "matrix", ID: "proj-1", UpdatedAt: time.Now()}}}
	traffic := &fakeTraffic{}
	prober := &fakeProber{}

	amb := NewAmbulance(d, store, lister, traffic, prober, &fakeEngine{})
	amb.sweep(context.Background())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, state.KindErrored, store.states["matrix"].Kind)
}

func TestAmbulanceRestartsStaleErroredProject(t *testing.T) {
	store := newMemStore("matrix", state.State{Kind: state.KindErrored, Errored: &state.ErroredData{ErrorKind: state.ErrInternal}})
	router := task.NewRouter(time.Second)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	d := NewDispatcher(router, store, broker, &fakeEngine{}, 8001)

	lister := &fakeLister{projects: []types.Project{{Name: "matrix", ID: "proj-1", UpdatedAt: time.Now().Add(-time.Hour)}}}
	traffic := &fakeTraffic{}
	prober := &fakeProber{}

	amb := NewAmbulance(d, store, lister, traffic, prober, &fakeEngine{}).WithErroredGrace(time.Minute)
	amb.sweep(context.Background())

	require.Eventually(t, func() bool {
		return store.states["matrix"].Kind != state.KindErrored
	}, time.Second, 10*time.Millisecond)
}

func TestContainerHealthProberWrapsFailure(t *testing.T) {
	prober := &ContainerHealthProber{Engine: &fakeEngine{inspectErr: apierrors.New(apierrors.EngineUnavailable, "down")}, ManagementPort: 8001}

	err := prober.ProbeContainer(context.Background(), "ctr-1")

	require.Error(t, err)
}
