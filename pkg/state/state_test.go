package state

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/containerctx"
)

// fakeEngine is a minimal, fully scripted containerctx.Context double. Tests
// configure the fields they care about; everything else zero-values to a
// success response, mirroring the teacher's preference for small per-test
// fakes over a generic mock framework.
type fakeEngine struct {
	cfg containerctx.EngineConfig

	pullErr    error
	createID   string
	createErr  error
	startErr   error
	attachErr  error
	removeErr  error
	inspect    containerctx.Inspect
	inspectErr error
	stats      containerctx.Stats
	statsErr   error
}

func (f *fakeEngine) Config() containerctx.EngineConfig { return f.cfg }
func (f *fakeEngine) PullImage(ctx context.Context, ref string) error { return f.pullErr }
func (f *fakeEngine) CreateContainer(ctx context.Context, cfg containerctx.CreateConfig) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.createID == "" {
		return "ctr-1", nil
	}
	return f.createID, nil
}
func (f *fakeEngine) StartContainer(ctx context.Context, id string) error { return f.startErr }
func (f *fakeEngine) StopContainer(ctx context.Context, id string, grace time.Duration) error {
	return nil
}
func (f *fakeEngine) RemoveContainer(ctx context.Context, id string) error { return f.removeErr }
func (f *fakeEngine) Inspect(ctx context.Context, id string) (containerctx.Inspect, error) {
	if f.inspectErr != nil {
		return containerctx.Inspect{}, f.inspectErr
	}
	insp := f.inspect
	insp.ContainerID = id
	return insp, nil
}
func (f *fakeEngine) Stats(ctx context.Context, id string) (containerctx.Stats, error) {
	return f.stats, f.statsErr
}
func (f *fakeEngine) Exec(ctx context.Context, id string, cmd []string) (string, error) {
	return "", nil
}
func (f *fakeEngine) AttachNetwork(ctx context.Context, id, network string) (string, error) {
	if f.attachErr != nil {
		return "", f.attachErr
	}
	return "10.0.0.5", nil
}

func defaultOpts() Options {
	return Options{
		ProjectName:         "matrix",
		ManagementPort:      8001,
		MaxRestartAttempts:  5,
		MaxRecreateAttempts: 5,
		MaxProbeAttempts:    10,
		ContainerStopGrace:  10 * time.Second,
		IdleMinutes:         2,
		IdleCPUThreshold:    1.0e8,
	}
}

func TestNextCreatingToAttaching(t *testing.T) {
	eng := &fakeEngine{cfg: containerctx.EngineConfig{ImageRef: "img", NetworkName: "net"}}
	s := NewCreating("key-1", map[string]string{"project": "matrix"})

	next := Next(context.Background(), eng, s, defaultOpts())

	require.Equal(t, KindAttaching, next.Kind)
	assert.Equal(t, "ctr-1", next.Attaching.ContainerID)
	assert.Equal(t, "key-1", next.Attaching.InitialKey)
}

func TestNextCreatingPullFailureErrors(t *testing.T) {
	eng := &fakeEngine{pullErr: apierrors.New(apierrors.EngineUnavailable, "down")}
	s := NewCreating("key-1", nil)

	next := Next(context.Background(), eng, s, defaultOpts())

	require.Equal(t, KindErrored, next.Kind)
	assert.Equal(t, ErrEngineUnavailable, next.Errored.ErrorKind)
}

func TestNextAttachingNoNetworkGoesToRecreating(t *testing.T) {
	eng := &fakeEngine{attachErr: apierrors.New(apierrors.NoNetwork, "no network")}
	s := State{Kind: KindAttaching, Attaching: &AttachingData{ContainerID: "ctr-1", InitialKey: "key-1"}}

	next := Next(context.Background(), eng, s, defaultOpts())

	require.Equal(t, KindRecreating, next.Kind)
	assert.Equal(t, "key-1", next.Recreating.InitialKey)
}

func TestNextRecreatingExceedsBoundErrors(t *testing.T) {
	eng := &fakeEngine{}
	s := State{Kind: KindCreating, Creating: &CreatingData{RecreateAttempts: 6}}

	next := Next(context.Background(), eng, s, defaultOpts())

	require.Equal(t, KindErrored, next.Kind)
}

func TestNextStartingToStarted(t *testing.T) {
	eng := &fakeEngine{inspect: containerctx.Inspect{Status: containerctx.StatusRunning}}
	s := State{Kind: KindStarting, Starting: &StartingData{ContainerID: "ctr-1", InitialKey: "key-1"}}

	next := Next(context.Background(), eng, s, defaultOpts())

	require.Equal(t, KindStarted, next.Kind)
}

func TestNextStartingFailureGoesToRestarting(t *testing.T) {
	eng := &fakeEngine{startErr: apierrors.New(apierrors.Internal, "boom")}
	s := State{Kind: KindStarting, Starting: &StartingData{ContainerID: "ctr-1"}}

	next := Next(context.Background(), eng, s, defaultOpts())

	require.Equal(t, KindRestarting, next.Kind)
	assert.Equal(t, 1, next.Restarting.RestartAttempts)
}

func TestBoundedRestartCounterReachesErrored(t *testing.T) {
	eng := &fakeEngine{startErr: apierrors.New(apierrors.Internal, "boom")}
	s := State{Kind: KindStarting, Starting: &StartingData{ContainerID: "ctr-1", RestartAttempts: 5}}

	next := Next(context.Background(), eng, s, defaultOpts())

	require.Equal(t, KindErrored, next.Kind, "exceeding the bound (default N=5) must reach Errored")
}

func TestNextRunningAppendsSampleAndEvictsWhenIdle(t *testing.T) {
	opts := defaultOpts()
	opts.IdleMinutes = 2
	opts.IdleCPUThreshold = 1.0e8

	base := time.Now().Add(-2 * time.Minute)
	s := State{Kind: KindRunning, Running: &RunningData{
		ContainerID: "ctr-1",
		Samples: []CPUSample{
			{SampledAt: base, TotalTicks: 0},
		},
	}}
	eng := &fakeEngine{
		inspect: containerctx.Inspect{Status: containerctx.StatusRunning},
		stats:   containerctx.Stats{SampledAt: base.Add(2 * time.Minute), CPUTotalTicks: 10}, // ~5 ticks/min, below threshold
	}

	next := Next(context.Background(), eng, s, opts)

	require.Equal(t, KindStopping, next.Kind)
}

func TestNextRunningStaysRunningWhenBusy(t *testing.T) {
	opts := defaultOpts()
	base := time.Now().Add(-2 * time.Minute)
	s := State{Kind: KindRunning, Running: &RunningData{
		ContainerID: "ctr-1",
		Samples:     []CPUSample{{SampledAt: base, TotalTicks: 0}},
	}}
	eng := &fakeEngine{
		inspect: containerctx.Inspect{Status: containerctx.StatusRunning},
		stats:   containerctx.Stats{SampledAt: base.Add(2 * time.Minute), CPUTotalTicks: uint64(5 * 1.0e8 * 2)},
	}

	next := Next(context.Background(), eng, s, opts)

	require.Equal(t, KindRunning, next.Kind)
}

func TestRefreshMissingContainerRebuildsFromContainer(t *testing.T) {
	eng := &fakeEngine{inspect: containerctx.Inspect{Status: containerctx.StatusMissing, Labels: map[string]string{"project": "matrix"}}}
	s := State{Kind: KindReady, Ready: &ReadyData{ContainerID: "ctr-1", InitialKey: "key-1"}}

	next, err := Refresh(context.Background(), eng, s, defaultOpts())

	require.NoError(t, err)
	require.Equal(t, KindCreating, next.Kind)
	assert.True(t, next.Creating.FromContainer)
	assert.Equal(t, "matrix", next.Creating.Labels["project"])
}

func TestRefreshExitedWhileStoppingBecomesStopped(t *testing.T) {
	eng := &fakeEngine{inspect: containerctx.Inspect{Status: containerctx.StatusExited}}
	s := State{Kind: KindStopping, Stopping: &StoppingData{ContainerID: "ctr-1"}}

	next, err := Refresh(context.Background(), eng, s, defaultOpts())

	require.NoError(t, err)
	assert.Equal(t, KindStopped, next.Kind)
}

func TestRefreshEngineErrorIsReturnedNotCollapsed(t *testing.T) {
	eng := &fakeEngine{inspectErr: apierrors.New(apierrors.EngineUnavailable, "down")}
	s := State{Kind: KindReady, Ready: &ReadyData{ContainerID: "ctr-1"}}

	next, err := Refresh(context.Background(), eng, s, defaultOpts())

	require.Error(t, err)
	assert.Equal(t, KindReady, next.Kind, "refresh must not collapse an engine error into Errored")
}

func TestRequestStartIdempotentOnRunning(t *testing.T) {
	s := State{Kind: KindRunning, Running: &RunningData{ContainerID: "ctr-1"}}

	next, err := RequestStart(s)

	require.NoError(t, err)
	assert.Equal(t, s, next)
}

func TestRequestStartInvalidFromReady(t *testing.T) {
	s := State{Kind: KindReady, Ready: &ReadyData{ContainerID: "ctr-1"}}

	_, err := RequestStart(s)

	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.InvalidOperation, apiErr.Kind)
}

func TestRequestDestroyIdempotentOnDestroyed(t *testing.T) {
	s := State{Kind: KindDestroyed, Destroyed: &DestroyedData{}}

	next, err := RequestDestroy(s)

	require.NoError(t, err)
	assert.Equal(t, s, next)
}

func TestCanDeleteMatchesPermittedSourceStates(t *testing.T) {
	assert.True(t, CanDelete(State{Kind: KindErrored, Errored: &ErroredData{}}))
	assert.True(t, CanDelete(State{Kind: KindDestroyed}))
	assert.True(t, CanDelete(State{Kind: KindStopped}))
	assert.True(t, CanDelete(State{Kind: KindReady}))
	assert.False(t, CanDelete(State{Kind: KindRunning}))
	assert.False(t, CanDelete(State{Kind: KindStarting}))
}

func TestApplyStopReasonMapsAllThree(t *testing.T) {
	s := State{Kind: KindRunning, Running: &RunningData{ContainerID: "ctr-1"}}

	assert.Equal(t, KindStopped, ApplyStopReason(s, StopReasonRequest, "").Kind)
	assert.Equal(t, KindCompleted, ApplyStopReason(s, StopReasonEnd, "").Kind)

	crashed := ApplyStopReason(s, StopReasonCrash, "panic")
	require.Equal(t, KindErrored, crashed.Kind)
	assert.Equal(t, "panic", crashed.Errored.Message)
}

func TestErroredDepthCapAtConstruction(t *testing.T) {
	first := NewErrored(ErrTimeout, "first failure", nil)
	second := NewErrored(ErrInternal, "second failure", &first)
	third := NewErrored(ErrInternal, "third failure", &second)

	require.NotNil(t, third.Errored.Prior)
	require.Equal(t, KindErrored, third.Errored.Prior.Kind)
	assert.Nil(t, third.Errored.Prior.Errored.Prior, "chain must be flattened to depth 1")
}

func TestStateRoundTripsThroughJSON(t *testing.T) {
	prior := NewErrored(ErrTimeout, "earlier timeout", nil)
	cases := []State{
		NewCreating("key-1", map[string]string{"a": "b"}),
		{Kind: KindRunning, Running: &RunningData{
			ContainerID: "ctr-1",
			InitialKey:  "key-1",
			Samples: []CPUSample{
				{SampledAt: time.Now().UTC().Truncate(time.Second), TotalTicks: 42},
			},
		}},
		NewErrored(ErrNoNetwork, "no network", &prior),
	}

	for _, want := range cases {
		data, err := json.Marshal(want)
		require.NoError(t, err)

		var got State
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, want, got)
	}
}

func TestIsDoneMatchesTerminalSet(t *testing.T) {
	assert.True(t, State{Kind: KindErrored, Errored: &ErroredData{}}.IsDone())
	assert.True(t, State{Kind: KindRunning, Running: &RunningData{}}.IsDone())
	assert.True(t, State{Kind: KindDestroyed, Destroyed: &DestroyedData{}}.IsDone())
	assert.True(t, State{Kind: KindStopped, Stopped: &StoppedData{}}.IsDone())
	assert.False(t, State{Kind: KindReady, Ready: &ReadyData{}}.IsDone())
	assert.False(t, State{Kind: KindStarting, Starting: &StartingData{}}.IsDone())
}
