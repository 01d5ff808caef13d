package deploydriver

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/runtimeclient"
	"github.com/cuemby/warren/pkg/state"
	"github.com/cuemby/warren/pkg/types"
)

// DeploymentStore is the slice of pkg/gateway the driver needs: list a
// service's running deployments, update one, and commit a project's state
// (it is the only writer of Stopped/Completed/Errored transitions that
// originate from a runtime stop notification, see watchStopNotifications).
type DeploymentStore interface {
	RunningDeployments(ctx context.Context, serviceID string) ([]types.Deployment, error)
	PutDeployment(ctx context.Context, d types.Deployment) error
	CommitState(ctx context.Context, projectName string, s state.State) error
	LoadState(ctx context.Context, projectName string) (state.State, error)
}

// Driver implements spec.md §4.5 end to end.
type Driver struct {
	store     DeploymentStore
	resolver  *Resolver
	ports     *PortAllocator
	rpcTTL    time.Duration
}

func NewDriver(store DeploymentStore, resolver *Resolver, ports *PortAllocator, rpcTimeout time.Duration) *Driver {
	return &Driver{store: store, resolver: resolver, ports: ports, rpcTTL: rpcTimeout}
}

// StartDeploymentRequest is the inbound `start_deployment` call (spec.md §4.5).
type StartDeploymentRequest struct {
	ProjectName    string
	ServiceID      string
	DeploymentID   string
	IsNext         bool
	ExecutablePath string
	ContainerIP    string
	Resources      []types.ResourceInput
}

// Start runs the full Load/Provision/Start/Subscribe sequence. Any failing
// step transitions the project to Errored with a diagnostic naming the
// step (spec.md §4.5, last paragraph).
func (d *Driver) Start(ctx context.Context, req StartDeploymentRequest) error {
	logger := log.WithDeploymentID(req.DeploymentID)

	if err := d.evictOldDeployments(ctx, req.ServiceID, req.DeploymentID); err != nil {
		return d.fail(ctx, req.ProjectName, "evict_old_deployments", err)
	}

	port, err := d.ports.Allocate(req.DeploymentID)
	if err != nil {
		return d.fail(ctx, req.ProjectName, "port_selection", err)
	}
	watching := false
	defer func() {
		if !watching {
			d.ports.Release(req.DeploymentID)
		}
	}()

	addr := fmt.Sprintf("%s:%d", req.ContainerIP, port)
	client, err := runtimeclient.Dial(ctx, addr, d.rpcTTL)
	if err != nil {
		return d.fail(ctx, req.ProjectName, "dial_runtime", err)
	}
	defer client.Close()

	loadResp, err := client.Load(ctx, runtimeclient.LoadRequest{
		ExecutablePath: req.ExecutablePath,
		ServiceName:    req.ServiceID,
		Resources:      req.Resources,
	})
	if err != nil {
		return d.fail(ctx, req.ProjectName, "load", err)
	}
	if !loadResp.Success {
		return d.fail(ctx, req.ProjectName, "load", fmt.Errorf("%s", loadResp.Message))
	}

	resolved, err := d.resolver.Resolve(ctx, req.ServiceID, req.Resources)
	if err != nil {
		return d.fail(ctx, req.ProjectName, "provision", err)
	}
	_ = resolved // not sent to the runtime (Load has already run with req.Resources as given) and not logged

	startResp, err := client.Start(ctx, runtimeclient.StartRequest{BindAddress: addr})
	if err != nil {
		return d.fail(ctx, req.ProjectName, "start", err)
	}
	if !startResp.Success {
		return d.fail(ctx, req.ProjectName, "start", fmt.Errorf("%s", startResp.Message))
	}

	notifications, err := client.Subscribe(ctx, req.DeploymentID)
	if err != nil {
		return d.fail(ctx, req.ProjectName, "subscribe", err)
	}

	if err := d.store.PutDeployment(ctx, types.Deployment{
		ID:         req.DeploymentID,
		ServiceID:  req.ServiceID,
		State:      types.DeploymentStateRunning,
		IsNext:     req.IsNext,
		LastUpdate: time.Now(),
	}); err != nil {
		return d.fail(ctx, req.ProjectName, "persist_deployment", err)
	}

	// Move the project to Running now that user code is serving.
	current, err := d.store.LoadState(ctx, req.ProjectName)
	if err != nil {
		return d.fail(ctx, req.ProjectName, "commit_running", err)
	}
	if current.Kind == state.KindReady {
		running := state.State{Kind: state.KindRunning, Running: &state.RunningData{
			ContainerID: current.Ready.ContainerID,
			InitialKey:  current.Ready.InitialKey,
		}}
		if err := d.store.CommitState(ctx, req.ProjectName, running); err != nil {
			return d.fail(ctx, req.ProjectName, "commit_running", err)
		}
	}

	watching = true
	go d.watchStopNotifications(context.Background(), req.ProjectName, req.DeploymentID, notifications)

	logger.Info().Str("project", req.ProjectName).Msg("deployment started")
	return nil
}

// StartLastDeployment implements pkg/task.DeploymentStarter for the
// `start_idle_deploys` task kind (spec.md §4.3).
func (d *Driver) StartLastDeployment(ctx context.Context, projectName string) error {
	// The caller (pkg/worker) is expected to have resolved the last
	// deployment's request fields before invoking Start; this method exists
	// to satisfy pkg/task.DeploymentStarter's narrow interface at the wiring
	// boundary in cmd/controllerd.
	return apierrors.New(apierrors.NotReady, "no pending deployment request resolved for "+projectName)
}

func (d *Driver) evictOldDeployments(ctx context.Context, serviceID, targetID string) error {
	running, err := d.store.RunningDeployments(ctx, serviceID)
	if err != nil {
		return err
	}
	for _, dep := range running {
		if dep.ID == targetID {
			continue
		}
		dep.State = types.DeploymentStateStopped
		dep.IsNext = false
		if err := d.store.PutDeployment(ctx, dep); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) fail(ctx context.Context, projectName, step string, cause error) error {
	wrapped := apierrors.Wrap(apierrors.Internal, cause).WithStep(step)
	current, err := d.store.LoadState(ctx, projectName)
	if err == nil {
		errored := state.NewErrored(state.ErrInternal, wrapped.Error(), &current)
		_ = d.store.CommitState(ctx, projectName, errored)
	}
	log.WithComponent("deploydriver").Error().Err(wrapped).Str("step", step).Str("project", projectName).Msg("deployment failed")
	return wrapped
}

func (d *Driver) watchStopNotifications(ctx context.Context, projectName, deploymentID string, notifications <-chan runtimeclient.StopNotification) {
	defer d.ports.Release(deploymentID)
	for n := range notifications {
		current, err := d.store.LoadState(ctx, projectName)
		if err != nil {
			continue
		}
		next := state.ApplyStopReason(current, state.StopReason(n.Reason), n.Message)
		if err := d.store.CommitState(ctx, projectName, next); err != nil {
			log.WithComponent("deploydriver").Error().Err(err).Msg("failed to commit stop-reason state")
		}
		return
	}
}
