package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cuemby/warren/pkg/containerctx"
	"github.com/cuemby/warren/pkg/events"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/state"
	"github.com/cuemby/warren/pkg/task"
)

const defaultTaskTimeout = 300 * time.Second

// pollInterval is how often a driven task is re-polled while Pending. Tasks
// do their own internal backoff (pkg/task.RunUntilDone); this just bounds
// how promptly the dispatcher notices a task has gone terminal.
const pollInterval = 50 * time.Millisecond

// Submission is one unit of routed work handed to the Dispatcher: a
// project-scoped task plus the identifiers needed to report its completion
// (spec.md §4.7 steps 1-4).
type Submission struct {
	ProjectName string
	ProjectID   string
	ServiceID   string
	Kind        string // pkg/metrics label, e.g. "start", "check_health"
	Task        task.Task
	Timeout     time.Duration // 0 uses defaultTaskTimeout
}

// Dispatcher drains submitted tasks: acquire the project's router slot, poll
// to completion, release the slot, emit a completion event (spec.md §4.7).
// There is no hand-rolled worker pool: Submit launches the task on its own
// goroutine and lets the Go runtime's own work-stealing scheduler multiplex
// it, which is the "unbounded in-process queue" spec.md §5 describes.
type Dispatcher struct {
	router      *task.Router
	store       task.ProjectStore
	broker      *events.Broker
	engine      containerctx.Context
	controlPort int

	queueDepth int64
}

func NewDispatcher(router *task.Router, store task.ProjectStore, broker *events.Broker, engine containerctx.Context, controlPort int) *Dispatcher {
	return &Dispatcher{router: router, store: store, broker: broker, engine: engine, controlPort: controlPort}
}

// QueueDepth reports the number of submissions currently in flight.
func (d *Dispatcher) QueueDepth() int64 { return atomic.LoadInt64(&d.queueDepth) }

// Submit enqueues sub for execution and returns immediately.
func (d *Dispatcher) Submit(ctx context.Context, sub Submission) {
	n := atomic.AddInt64(&d.queueDepth, 1)
	metrics.RouterQueueDepth.Set(float64(n))
	go d.drive(ctx, sub)
}

func (d *Dispatcher) drive(ctx context.Context, sub Submission) {
	defer func() {
		n := atomic.AddInt64(&d.queueDepth, -1)
		metrics.RouterQueueDepth.Set(float64(n))
	}()

	timeout := sub.Timeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	bounded := task.NewWithTimeout(sub.Task, timeout)
	routed := task.NewRoute(d.router, sub.ProjectName, bounded)
	watched := task.NewIdleWarner(routed, sub.ProjectName+"/"+sub.Kind)
	notify := task.NewAndThenNotify(watched)

	timer := metrics.NewTimer()
	res := d.pollToCompletion(ctx, notify)
	timer.ObserveDurationVec(metrics.TaskDuration, sub.Kind)
	metrics.TasksTotal.WithLabelValues(sub.Kind, res.Status.String()).Inc()

	logger := log.WithProjectID(sub.ProjectID)
	if res.Status == task.Err {
		logger.Error().Err(res.Err).Str("kind", sub.Kind).Str("project_name", sub.ProjectName).Msg("task failed")
	} else {
		logger.Info().Str("kind", sub.Kind).Str("status", res.Status.String()).Str("project_name", sub.ProjectName).Msg("task finished")
	}

	d.emit(ctx, sub)
}

func (d *Dispatcher) pollToCompletion(ctx context.Context, t task.Task) task.Result {
	for {
		res := t.Poll(ctx)
		if res.Status != task.Pending {
			return res
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return task.CancelledResult()
		}
	}
}

// emit loads the project's committed state after the task finished and
// broadcasts its variant on the event bus (spec.md §4.7: "{service_id,
// project_id, new_state_variant}"; advisory only, the store stays
// authoritative).
func (d *Dispatcher) emit(ctx context.Context, sub Submission) {
	current, err := d.store.LoadState(ctx, sub.ProjectName)
	if err != nil {
		return // project may have just been deleted; nothing to report
	}
	d.broker.Publish(events.ProjectEvent{
		ServiceID: sub.ServiceID,
		ProjectID: sub.ProjectID,
		Change: events.Change{
			StateVariantName: current.Label(),
			SocketAddr:       d.socketAddrFor(ctx, current),
		},
	})
}

// socketAddrFor resolves the live container's address for states that carry
// a running container, "" otherwise.
func (d *Dispatcher) socketAddrFor(ctx context.Context, s state.State) string {
	if s.Kind != state.KindRunning && s.Kind != state.KindReady {
		return ""
	}
	containerID := s.ContainerID()
	if containerID == "" || d.engine == nil {
		return ""
	}
	insp, err := d.engine.Inspect(ctx, containerID)
	if err != nil || len(insp.Networks) == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", insp.Networks[0].IP, d.controlPort)
}
