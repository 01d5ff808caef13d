// Package state implements the project state machine (spec.md §4.2): a
// tagged union of lifecycle states plus the two operations every state
// supports, Next (an infallible single step forward) and Refresh (reconcile
// against a fresh container inspect). Only this package mutates a
// ProjectState; every other component treats it as read-only data it
// fetches from pkg/gateway and commits back through pkg/gateway once a task
// step finishes (spec.md §3 Invariant 3).
package state

import "time"

// Kind discriminates the tagged union. An implementer without cheap sum
// types falls back to an explicit discriminant plus one payload pointer per
// variant; the operation tables in transitions.go are exhaustive over Kind.
type Kind string

const (
	KindCreating   Kind = "creating"
	KindAttaching  Kind = "attaching"
	KindRecreating Kind = "recreating"
	KindStarting   Kind = "starting"
	KindRestarting Kind = "restarting"
	KindStarted    Kind = "started"
	KindReady      Kind = "ready"
	KindRunning    Kind = "running"
	KindCompleted  Kind = "completed"
	KindStopping   Kind = "stopping"
	KindStopped    Kind = "stopped"
	KindRebooting  Kind = "rebooting"
	KindDestroying Kind = "destroying"
	KindDestroyed  Kind = "destroyed"
	KindErrored    Kind = "errored"
)

// ErrorKind is the diagnostic carried by Errored (spec.md §4.2).
type ErrorKind string

const (
	ErrInternal               ErrorKind = "internal"
	ErrEngineUnavailable      ErrorKind = "engine_unavailable"
	ErrNoNetwork              ErrorKind = "no_network"
	ErrInvalidContainerConfig ErrorKind = "invalid_container_config"
	ErrTimeout                ErrorKind = "timeout"
)

// CPUSample is one entry of the Running ring buffer (spec.md §3, §4.2).
type CPUSample struct {
	SampledAt  time.Time
	TotalTicks uint64
}

// State is the tagged union. Exactly one of the payload pointers is
// non-nil, matching Kind. Each variant carries the minimum data needed to
// resume work after a crash by re-inspecting the container (spec.md §3
// Invariant 5).
type State struct {
	Kind Kind

	Creating   *CreatingData
	Attaching  *AttachingData
	Recreating *RecreatingData
	Starting   *StartingData
	Restarting *RestartingData
	Started    *StartedData
	Ready      *ReadyData
	Running    *RunningData
	Completed  *CompletedData
	Stopping   *StoppingData
	Stopped    *StoppedData
	Rebooting  *RebootingData
	Destroying *DestroyingData
	Destroyed  *DestroyedData
	Errored    *ErroredData
}

type CreatingData struct {
	InitialKey       string
	RecreateAttempts int
	FromContainer    bool // reconstructed from a surviving container (refresh 404/labels path)
	Labels           map[string]string
}

type AttachingData struct {
	ContainerID string
	InitialKey  string
}

type RecreatingData struct {
	ContainerID string
	InitialKey  string
	Attempts    int
}

type StartingData struct {
	ContainerID     string
	InitialKey      string
	RestartAttempts int
}

type RestartingData struct {
	ContainerID     string
	InitialKey      string
	RestartAttempts int
	NextAttemptAt   time.Time
}

type StartedData struct {
	ContainerID   string
	InitialKey    string
	ProbeAttempts int
}

type ReadyData struct {
	ContainerID string
	InitialKey  string
}

type RunningData struct {
	ContainerID string
	InitialKey  string
	Samples     []CPUSample // bounded ring, size == project's idle-minutes setting
}

type CompletedData struct {
	ContainerID string
}

type StoppingData struct {
	ContainerID string
	RequestedAt time.Time
}

type StoppedData struct {
	ContainerID string
}

type RebootingData struct {
	ContainerID string
}

type DestroyingData struct {
	ContainerID string
}

type DestroyedData struct{}

// ErroredData carries the error kind and, for diagnostics, the state active
// when the error occurred. Prior is depth-capped at 1 (spec.md §9) by
// NewErrored and by the JSON codec in serialize.go.
type ErroredData struct {
	ErrorKind ErrorKind
	Message   string
	Prior     *State
}

// Constructors. Each returns a State with exactly the matching payload set.

func NewCreating(initialKey string, labels map[string]string) State {
	return State{Kind: KindCreating, Creating: &CreatingData{InitialKey: initialKey, Labels: labels}}
}

// NewCreatingFromContainer reconstructs a Creating state from a container
// that survived a controller restart but vanished from the engine's view
// (spec.md §4.2 refresh table, 404 row): labels are preserved so the
// recreate attempt carries forward project/service identity.
func NewCreatingFromContainer(initialKey string, labels map[string]string) State {
	return State{Kind: KindCreating, Creating: &CreatingData{InitialKey: initialKey, Labels: labels, FromContainer: true}}
}

func NewErrored(kind ErrorKind, message string, prior *State) State {
	if prior != nil {
		capped := *prior
		if capped.Kind == KindErrored && capped.Errored != nil {
			// depth cap 1: drop a deeper chain rather than let it grow unbounded.
			flattened := *capped.Errored
			flattened.Prior = nil
			capped.Errored = &flattened
		}
		prior = &capped
	}
	return State{Kind: KindErrored, Errored: &ErroredData{ErrorKind: kind, Message: message, Prior: prior}}
}

// Label returns the lowercase state name used in user-facing error messages
// and in ProjectEvent.change.state_variant_name (spec.md §6, §7).
func (s State) Label() string { return string(s.Kind) }

// IsDone reports whether the task runner should stop polling (spec.md §4.2
// "Terminal/complete states").
func (s State) IsDone() bool {
	switch s.Kind {
	case KindErrored, KindRunning, KindDestroyed, KindStopped:
		return true
	default:
		return false
	}
}

// ContainerID returns the container handle carried by any non-terminal
// state, or "" if the state has none (Stopped after forced removal,
// Destroyed, or a fresh Creating).
func (s State) ContainerID() string {
	switch s.Kind {
	case KindAttaching:
		return s.Attaching.ContainerID
	case KindRecreating:
		return s.Recreating.ContainerID
	case KindStarting:
		return s.Starting.ContainerID
	case KindRestarting:
		return s.Restarting.ContainerID
	case KindStarted:
		return s.Started.ContainerID
	case KindReady:
		return s.Ready.ContainerID
	case KindRunning:
		return s.Running.ContainerID
	case KindCompleted:
		return s.Completed.ContainerID
	case KindStopping:
		return s.Stopping.ContainerID
	case KindStopped:
		return s.Stopped.ContainerID
	case KindRebooting:
		return s.Rebooting.ContainerID
	case KindDestroying:
		return s.Destroying.ContainerID
	default:
		return ""
	}
}

// initialKey returns the back-channel secret carried by states that still
// need it (everything before Running has long-lived access to it via the
// project record, but carrying it forward keeps each state self-sufficient
// per spec.md §3 Invariant 5).
func (s State) initialKey() string {
	switch s.Kind {
	case KindCreating:
		return s.Creating.InitialKey
	case KindAttaching:
		return s.Attaching.InitialKey
	case KindRecreating:
		return s.Recreating.InitialKey
	case KindStarting:
		return s.Starting.InitialKey
	case KindRestarting:
		return s.Restarting.InitialKey
	case KindStarted:
		return s.Started.InitialKey
	case KindReady:
		return s.Ready.InitialKey
	case KindRunning:
		return s.Running.InitialKey
	default:
		return ""
	}
}
