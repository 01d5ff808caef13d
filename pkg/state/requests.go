package state

import (
	"fmt"

	"github.com/cuemby/warren/pkg/apierrors"
)

// The functions in this file are the explicit, task-triggered transitions
// (spec.md §4.3 "Task kinds exposed to operators") as distinct from Next's
// own auto-driven polling. Each either returns the new committed state or an
// InvalidOperation error naming the current state's label, per spec.md §7's
// message-carries-state-label rule.

func invalidOp(s State, verb string) error {
	return apierrors.New(apierrors.InvalidOperation, fmt.Sprintf("cannot %s a project in the %q state", verb, s.Label()))
}

// RequestStart handles the `start` task. Stopped is the only state with a
// legal explicit start; Running is idempotent (spec.md §8 property 6) and
// returns the existing state unchanged.
func RequestStart(s State) (State, error) {
	switch s.Kind {
	case KindStopped:
		return State{Kind: KindStarting, Starting: &StartingData{ContainerID: s.Stopped.ContainerID}}, nil
	case KindRunning:
		return s, nil
	default:
		return s, invalidOp(s, "start")
	}
}

// RequestStop handles the `stop` task: the same edge idle-eviction takes,
// triggered by an operator instead of the CPU sampler. Stopped is idempotent.
func RequestStop(s State) (State, error) {
	switch s.Kind {
	case KindRunning:
		return State{Kind: KindStopping, Stopping: &StoppingData{ContainerID: s.Running.ContainerID}}, nil
	case KindStopped:
		return s, nil
	default:
		return s, invalidOp(s, "stop")
	}
}

// RequestDestroy handles the `destroy` task. Destroyed is idempotent
// (spec.md §8 property 6). A project with no container yet (still Creating)
// destroys immediately with nothing to tear down.
func RequestDestroy(s State) (State, error) {
	switch s.Kind {
	case KindDestroyed:
		return s, nil
	case KindCreating:
		return State{Kind: KindDestroyed, Destroyed: &DestroyedData{}}, nil
	case KindDestroying:
		return s, nil
	default:
		if id := s.ContainerID(); id != "" {
			return State{Kind: KindDestroying, Destroying: &DestroyingData{ContainerID: id}}, nil
		}
		return s, invalidOp(s, "destroy")
	}
}

// RequestReboot handles the `reboot` task, used directly and as the first
// step of the ambulance's unhealthy-project recovery sequence.
func RequestReboot(s State) (State, error) {
	id := s.ContainerID()
	if id == "" {
		return s, invalidOp(s, "reboot")
	}
	return State{Kind: KindRebooting, Rebooting: &RebootingData{ContainerID: id}}, nil
}

// ForceRecreate implements the `restart(project_id)` task: it bypasses
// legality checks entirely and rebuilds a Creating state that carries over
// only the prior state's initial key (no labels, no container handle), used
// to recover Errored projects (spec.md §4.3).
func ForceRecreate(s State) State {
	return NewCreatingFromContainer(s.initialKey(), nil)
}

// StopReason is the deployment driver's runtime stop-subscription reason
// (spec.md §4.5 step 6).
type StopReason string

const (
	StopReasonRequest StopReason = "request"
	StopReasonEnd     StopReason = "end"
	StopReasonCrash   StopReason = "crash"
)

// ApplyStopReason maps a runtime stop notification onto the matching
// terminal-ish state: Request -> Stopped, End -> Completed, Crash -> Errored.
func ApplyStopReason(s State, reason StopReason, message string) State {
	containerID := s.ContainerID()
	switch reason {
	case StopReasonRequest:
		return State{Kind: KindStopped, Stopped: &StoppedData{ContainerID: containerID}}
	case StopReasonEnd:
		return State{Kind: KindCompleted, Completed: &CompletedData{ContainerID: containerID}}
	case StopReasonCrash:
		return NewErrored(ErrInternal, message, &s)
	default:
		return s
	}
}

// CanDelete reports whether `delete_project` may run (spec.md §4.3: permitted
// only from {Errored, Destroyed, Stopped, Ready}).
func CanDelete(s State) bool {
	switch s.Kind {
	case KindErrored, KindDestroyed, KindStopped, KindReady:
		return true
	default:
		return false
	}
}
