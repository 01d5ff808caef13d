package state

import (
	"context"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/containerctx"
)

// Refresh reconciles a state against the engine's current view of its
// container, independent of the task pipeline's own polling cadence. It is
// used by the ambulance and by controller restart recovery (spec.md §4.2
// "Refresh"). Unlike Next, an engine error is returned to the caller rather
// than collapsed into Errored: refresh is advisory and the caller decides
// whether to retry or give up.
func Refresh(ctx context.Context, eng containerctx.Context, s State, opts Options) (State, error) {
	containerID := s.ContainerID()
	if containerID == "" {
		return s, nil // Creating, Destroyed, Errored: nothing to reconcile against
	}

	insp, err := eng.Inspect(ctx, containerID)
	if err != nil {
		return s, apierrors.Wrap(apierrors.EngineUnavailable, err)
	}

	switch insp.Status {
	case containerctx.StatusMissing:
		// The container the controller remembers is gone; rebuild it from
		// scratch, preserving the labels the engine still reports if any
		// (spec.md §3 Supplemented: recreate-from-container).
		return NewCreatingFromContainer(s.initialKey(), insp.Labels), nil

	case containerctx.StatusRunning:
		return reconcileRunning(s, containerID), nil

	case containerctx.StatusExited, containerctx.StatusDead:
		return reconcileExited(s, containerID, opts), nil

	default:
		return s, nil
	}
}

// reconcileRunning maps an engine-reported running container back onto the
// state machine: any pre-Ready state catches up to Started (so the readiness
// probe still runs), and Running/Ready/Stopping pass through unchanged since
// their own Next step owns the next decision.
func reconcileRunning(s State, containerID string) State {
	switch s.Kind {
	case KindReady, KindRunning, KindStopping, KindRebooting, KindDestroying:
		return s
	default:
		return State{Kind: KindStarted, Started: &StartedData{ContainerID: containerID, InitialKey: s.initialKey()}}
	}
}

// reconcileExited maps an engine-reported exited container: Stopping settles
// to Stopped, Stopped/Destroying/Destroyed stay put, and anything else is
// treated as an unexpected exit and routed to Restarting so Next's backoff
// takes over.
func reconcileExited(s State, containerID string, opts Options) State {
	switch s.Kind {
	case KindStopping:
		return State{Kind: KindStopped, Stopped: &StoppedData{ContainerID: containerID}}
	case KindStopped, KindDestroying, KindDestroyed:
		return s
	default:
		return State{Kind: KindRestarting, Restarting: &RestartingData{
			ContainerID: containerID,
			InitialKey:  s.initialKey(),
		}}
	}
}
