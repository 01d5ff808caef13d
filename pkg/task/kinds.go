package task

import (
	"context"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/state"
)

// requestFn is the shape shared by state.RequestStart/Stop/Destroy/Reboot.
type requestFn func(state.State) (state.State, error)

// requestTask runs one explicit state.Request* transition to completion in
// a single Poll call, committing the result through the store. This is the
// `start` / `stop` / `destroy` / `reboot` row of spec.md §4.3's task kinds.
type requestTask struct {
	projectName string
	store       ProjectStore
	apply       requestFn
}

func (t *requestTask) Poll(ctx context.Context) Result {
	current, err := t.store.LoadState(ctx, t.projectName)
	if err != nil {
		return ErrResult(err)
	}
	next, err := t.apply(current)
	if err != nil {
		return ErrResult(err)
	}
	if err := t.store.CommitState(ctx, t.projectName, next); err != nil {
		return ErrResult(err)
	}
	return DoneResult()
}

func NewStartTask(projectName string, store ProjectStore) Task {
	return &requestTask{projectName: projectName, store: store, apply: state.RequestStart}
}

func NewStopTask(projectName string, store ProjectStore) Task {
	return &requestTask{projectName: projectName, store: store, apply: state.RequestStop}
}

func NewDestroyTask(projectName string, store ProjectStore) Task {
	return &requestTask{projectName: projectName, store: store, apply: state.RequestDestroy}
}

func NewRebootTask(projectName string, store ProjectStore) Task {
	return &requestTask{projectName: projectName, store: store, apply: state.RequestReboot}
}

// NewRestartTask implements spec.md §4.3's `restart(project_id)`: forced,
// bypassing legality checks, used to recover an Errored project.
func NewRestartTask(projectName string, store ProjectStore) Task {
	return &requestTask{
		projectName: projectName,
		store:       store,
		apply:       func(s state.State) (state.State, error) { return state.ForceRecreate(s), nil },
	}
}

// HealthProber is the narrow slice of pkg/containerctx + pkg/health that
// check_health needs: probe the container behind a Ready/Running project.
type HealthProber interface {
	ProbeContainer(ctx context.Context, containerID string) error
}

// CheckHealthTask implements spec.md §4.3's `check_health`: probe the
// container's management endpoint; a failure is returned as a
// ProjectUnavailable Err. The task submits no follow-up work itself; the
// ambulance's sweep runs its own probe to decide on a reboot.
type CheckHealthTask struct {
	projectName string
	store       ProjectStore
	prober      HealthProber
}

func NewCheckHealthTask(projectName string, store ProjectStore, prober HealthProber) *CheckHealthTask {
	return &CheckHealthTask{projectName: projectName, store: store, prober: prober}
}

func (t *CheckHealthTask) Poll(ctx context.Context) Result {
	current, err := t.store.LoadState(ctx, t.projectName)
	if err != nil {
		return ErrResult(err)
	}
	containerID := current.ContainerID()
	if containerID == "" {
		return DoneResult() // nothing to probe, e.g. Destroyed/Creating
	}
	if err := t.prober.ProbeContainer(ctx, containerID); err != nil {
		return ErrResult(apierrors.Wrap(apierrors.ProjectUnavailable, err))
	}
	return DoneResult()
}

// DeploymentStarter is the slice of pkg/deploydriver that start_idle_deploys
// needs: resume the last known deployment once a project reaches Ready.
type DeploymentStarter interface {
	StartLastDeployment(ctx context.Context, projectName string) error
}

// StartIdleDeploysTask implements spec.md §4.3's `start_idle_deploys`: only
// acts when the project is Ready.
type StartIdleDeploysTask struct {
	projectName string
	store       ProjectStore
	driver      DeploymentStarter
}

func NewStartIdleDeploysTask(projectName string, store ProjectStore, driver DeploymentStarter) *StartIdleDeploysTask {
	return &StartIdleDeploysTask{projectName: projectName, store: store, driver: driver}
}

func (t *StartIdleDeploysTask) Poll(ctx context.Context) Result {
	current, err := t.store.LoadState(ctx, t.projectName)
	if err != nil {
		return ErrResult(err)
	}
	if current.Kind != state.KindReady {
		return DoneResult() // nothing to do outside Ready
	}
	if err := t.driver.StartLastDeployment(ctx, t.projectName); err != nil {
		return ErrResult(err)
	}
	return DoneResult()
}

// RecordDeleter removes a project's persistence record entirely, the final
// step of `delete_project`.
type RecordDeleter interface {
	DeleteRecord(ctx context.Context, projectName string) error
}

// DeleteProjectTask implements spec.md §4.3's `delete_project`: permitted
// only from {Errored, Destroyed, Stopped, Ready}.
type DeleteProjectTask struct {
	projectName string
	store       ProjectStore
	deleter     RecordDeleter
}

func NewDeleteProjectTask(projectName string, store ProjectStore, deleter RecordDeleter) *DeleteProjectTask {
	return &DeleteProjectTask{projectName: projectName, store: store, deleter: deleter}
}

func (t *DeleteProjectTask) Poll(ctx context.Context) Result {
	current, err := t.store.LoadState(ctx, t.projectName)
	if err != nil {
		return ErrResult(err)
	}
	if !state.CanDelete(current) {
		return ErrResult(apierrors.New(apierrors.InvalidOperation,
			"cannot delete a project in the \""+current.Label()+"\" state"))
	}
	if err := t.deleter.DeleteRecord(ctx, t.projectName); err != nil {
		return ErrResult(err)
	}
	return DoneResult()
}
