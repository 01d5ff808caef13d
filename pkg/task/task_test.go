package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/state"
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

func TestSequenceRunsStepsInOrderUntilDone(t *testing.T) {
	var log []string
	step := func(name string, result Result) Task {
		return Func(func(ctx context.Context) Result {
			log = append(log, name)
			return result
		})
	}
	seq := NewSequence(step("a", DoneResult()), step("b", DoneResult()))

	res := seq.Poll(context.Background())

	require.Equal(t, Done, res.Status)
	assert.Equal(t, []string{"a", "b"}, log)
}

func TestSequenceStopsOnErr(t *testing.T) {
	boom := ErrResult(apierrors.New(apierrors.Internal, "boom"))
	calledSecond := false
	seq := NewSequence(
		Func(func(ctx context.Context) Result { return boom }),
		Func(func(ctx context.Context) Result { calledSecond = true; return DoneResult() }),
	)

	res := seq.Poll(context.Background())

	require.Equal(t, Err, res.Status)
	assert.False(t, calledSecond)
}

func TestWithTimeoutCancelsAfterDeadline(t *testing.T) {
	inner := Func(func(ctx context.Context) Result { return PendingResult() })
	wrapped := NewWithTimeout(inner, -1*time.Second) // already expired

	res := wrapped.Poll(context.Background())

	assert.Equal(t, Cancelled, res.Status)
}

func TestRouterSerializesPerProject(t *testing.T) {
	router := NewRouter(50 * time.Millisecond)

	release1, err := router.Acquire(context.Background(), "matrix")
	require.NoError(t, err)

	_, err = router.Acquire(context.Background(), "matrix")
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.ServiceUnavailable, apiErr.Kind)

	release1()

	release2, err := router.Acquire(context.Background(), "matrix")
	require.NoError(t, err)
	release2()
}

func TestRouteReleasesSlotOnTerminalResult(t *testing.T) {
	router := NewRouter(50 * time.Millisecond)
	calls := 0
	inner := Func(func(ctx context.Context) Result {
		calls++
		if calls < 2 {
			return PendingResult()
		}
		return DoneResult()
	})
	route := NewRoute(router, "matrix", inner)

	require.Equal(t, Pending, route.Poll(context.Background()).Status)
	require.Equal(t, Done, route.Poll(context.Background()).Status)

	// slot must be free again
	release, err := router.Acquire(context.Background(), "matrix")
	require.NoError(t, err)
	release()
}

func TestStartTaskRequiresStopped(t *testing.T) {
	store := newMemStore("matrix", state.State{Kind: state.KindReady, Ready: &state.ReadyData{ContainerID: "ctr-1"}})
	res := NewStartTask("matrix", store).Poll(context.Background())

	require.Equal(t, Err, res.Status)
}

func TestStartTaskFromStopped(t *testing.T) {
	store := newMemStore("matrix", state.State{Kind: state.KindStopped, Stopped: &state.StoppedData{ContainerID: "ctr-1"}})
	res := NewStartTask("matrix", store).Poll(context.Background())

	require.Equal(t, Done, res.Status)
	assert.Equal(t, state.KindStarting, store.states["matrix"].Kind)
}

func TestDeleteProjectRequiresPermittedState(t *testing.T) {
	store := newMemStore("matrix", state.State{Kind: state.KindRunning, Running: &state.RunningData{ContainerID: "ctr-1"}})
	task := NewDeleteProjectTask("matrix", store, deleterFunc(func(ctx context.Context, name string) error { return nil }))

	res := task.Poll(context.Background())

	require.Equal(t, Err, res.Status)
}

type deleterFunc func(ctx context.Context, name string) error

func (f deleterFunc) DeleteRecord(ctx context.Context, name string) error { return f(ctx, name) }
