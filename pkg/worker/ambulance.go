package worker

import (
	"context"
	"time"

	"github.com/cuemby/warren/pkg/containerctx"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/state"
	"github.com/cuemby/warren/pkg/task"
	"github.com/cuemby/warren/pkg/types"
)

// defaultSweepInterval and defaultErroredGrace are the ambulance's
// defaults; both are overridable on Ambulance for tests and for operators
// who want a tighter recovery loop (spec.md §4.7).
const (
	defaultSweepInterval = 30 * time.Second
	defaultErroredGrace  = 5 * time.Minute
)

// ProjectLister is the slice of pkg/gateway the ambulance needs to find
// candidates: every project's static record (name, account, timestamps).
type ProjectLister interface {
	IterProjects(ctx context.Context) ([]types.Project, error)
}

// PendingTrafficStore is the slice of pkg/gateway backing the "stopped with
// pending traffic" rule (spec.md §4.7); markers are written by the proxy
// when an inline wake-on-request fails or times out.
type PendingTrafficStore interface {
	ListPendingTraffic(ctx context.Context) ([]string, error)
	ClearPendingTraffic(ctx context.Context, name string) error
}

// Ambulance periodically sweeps every project looking for the three
// conditions spec.md §4.7 calls out, submitting a recovery task through the
// Dispatcher for each one found. Grounded on the teacher's
// pkg/reconciler.Reconciler ticker loop, generalized from node/container
// cluster state to project lifecycle state.
type Ambulance struct {
	dispatcher *Dispatcher
	store      task.ProjectStore
	lister     ProjectLister
	traffic    PendingTrafficStore
	prober     task.HealthProber
	engine     containerctx.Context

	interval     time.Duration
	erroredGrace time.Duration

	stopCh chan struct{}
}

func NewAmbulance(d *Dispatcher, store task.ProjectStore, lister ProjectLister, traffic PendingTrafficStore, prober task.HealthProber, engine containerctx.Context) *Ambulance {
	return &Ambulance{
		dispatcher:   d,
		store:        store,
		lister:       lister,
		traffic:      traffic,
		prober:       prober,
		engine:       engine,
		interval:     defaultSweepInterval,
		erroredGrace: defaultErroredGrace,
		stopCh:       make(chan struct{}),
	}
}

// WithInterval overrides the sweep cadence; WithErroredGrace overrides how
// long an Errored project waits before a forced restart. Both return the
// Ambulance for chaining at construction time.
func (a *Ambulance) WithInterval(d time.Duration) *Ambulance     { a.interval = d; return a }
func (a *Ambulance) WithErroredGrace(d time.Duration) *Ambulance { a.erroredGrace = d; return a }

func (a *Ambulance) Start() { go a.run() }
func (a *Ambulance) Stop()  { close(a.stopCh) }

func (a *Ambulance) run() {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	logger := log.WithComponent("ambulance")
	logger.Info().Msg("ambulance started")

	for {
		select {
		case <-ticker.C:
			a.sweep(context.Background())
		case <-a.stopCh:
			logger.Info().Msg("ambulance stopped")
			return
		}
	}
}

func (a *Ambulance) sweep(ctx context.Context) {
	metrics.AmbulanceSweepsTotal.Inc()

	projects, err := a.lister.IterProjects(ctx)
	if err != nil {
		log.WithComponent("ambulance").Error().Err(err).Msg("failed to list projects")
		return
	}

	pending, err := a.traffic.ListPendingTraffic(ctx)
	if err != nil {
		log.WithComponent("ambulance").Error().Err(err).Msg("failed to list pending traffic markers")
	}
	pendingSet := make(map[string]bool, len(pending))
	for _, name := range pending {
		pendingSet[name] = true
	}

	for _, project := range projects {
		current, err := a.store.LoadState(ctx, project.Name)
		if err != nil {
			continue
		}

		switch current.Kind {
		case state.KindRunning:
			a.healIfUnhealthy(ctx, project, current)
		case state.KindStopped:
			if pendingSet[project.Name] {
				a.healPendingTraffic(ctx, project)
			}
		case state.KindErrored:
			a.healIfStale(ctx, project)
		}
	}
}

// healIfUnhealthy handles spec.md §4.7's Running-with-failing-health-check
// case: it submits reboot -> run_until_done -> check_health. No separate
// start task is submitted; run_until_done carries the project on from
// Rebooting.
func (a *Ambulance) healIfUnhealthy(ctx context.Context, project types.Project, current state.State) {
	containerID := current.ContainerID()
	if containerID == "" {
		return
	}
	if err := a.prober.ProbeContainer(ctx, containerID); err == nil {
		return // healthy, nothing to do
	}

	metrics.AmbulanceHealsTotal.WithLabelValues("unhealthy").Inc()
	seq := task.NewSequence(
		task.NewRebootTask(project.Name, a.store),
		task.NewRunUntilDone(project.Name, a.store, a.engine, optionsFor(project)),
		task.NewCheckHealthTask(project.Name, a.store, a.prober),
	)
	a.dispatcher.Submit(ctx, Submission{
		ProjectName: project.Name,
		ProjectID:   project.ID,
		Kind:        "ambulance_reboot",
		Task:        seq,
	})
}

// healPendingTraffic implements spec.md §4.7: "Stopped with pending traffic
// markers -> submit start".
func (a *Ambulance) healPendingTraffic(ctx context.Context, project types.Project) {
	metrics.AmbulanceHealsTotal.WithLabelValues("pending_traffic").Inc()
	seq := task.NewSequence(
		task.NewStartTask(project.Name, a.store),
		task.NewRunUntilDone(project.Name, a.store, a.engine, optionsFor(project)),
	)
	a.dispatcher.Submit(ctx, Submission{
		ProjectName: project.Name,
		ProjectID:   project.ID,
		Kind:        "ambulance_start",
		Task:        seq,
	})
	_ = a.traffic.ClearPendingTraffic(ctx, project.Name)
}

// healIfStale implements spec.md §4.7: "Errored and older than the grace
// period -> submit restart". UpdatedAt is bumped on every CommitState, so
// for a project that has sat in Errored untouched it doubles as "time
// entered Errored".
func (a *Ambulance) healIfStale(ctx context.Context, project types.Project) {
	if time.Since(project.UpdatedAt) < a.erroredGrace {
		return
	}

	metrics.AmbulanceHealsTotal.WithLabelValues("errored_stale").Inc()
	seq := task.NewSequence(
		task.NewRestartTask(project.Name, a.store),
		task.NewRunUntilDone(project.Name, a.store, a.engine, optionsFor(project)),
	)
	a.dispatcher.Submit(ctx, Submission{
		ProjectName: project.Name,
		ProjectID:   project.ID,
		Kind:        "ambulance_restart",
		Task:        seq,
	})
}

// optionsFor builds the state.Options a project's own tasks run with.
// ProjectName, ContainerLabels and IdleMinutes come from the project record;
// the management port, attempt caps, stop grace and idle CPU threshold are
// fixed values here and do not follow config.Config.
func optionsFor(project types.Project) state.Options {
	return state.Options{
		ProjectName:         project.Name,
		ContainerLabels:     map[string]string{"project": project.Name},
		ManagementPort:      8001,
		MaxRestartAttempts:  5,
		MaxRecreateAttempts: 5,
		MaxProbeAttempts:    10,
		ContainerStopGrace:  10 * time.Second,
		IdleMinutes:         project.IdleMinutes,
		IdleCPUThreshold:    5.0,
	}
}
