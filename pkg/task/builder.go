package task

import (
	"context"
	"time"

	"github.com/cuemby/warren/pkg/log"
)

// WithTimeout wraps a task with a monotonic deadline (spec.md §5
// "Cancellation"). Once the deadline passes, Poll returns Cancelled on the
// next call regardless of the inner task's own result; the inner task
// cannot veto this.
type WithTimeout struct {
	inner    Task
	deadline time.Time
	started  bool
}

// NewWithTimeout sets the deadline to timeout from now; pkg/worker's
// dispatcher passes 300s (spec.md §4.3) when a submission sets none.
func NewWithTimeout(inner Task, timeout time.Duration) *WithTimeout {
	return &WithTimeout{inner: inner, deadline: time.Now().Add(timeout)}
}

func (w *WithTimeout) Poll(ctx context.Context) Result {
	if time.Now().After(w.deadline) {
		return CancelledResult()
	}
	return w.inner.Poll(ctx)
}

// AndThenNotify fires done exactly once, on the first non-Pending result,
// so a caller can await task completion without polling the Task itself
// (spec.md §4.3).
type AndThenNotify struct {
	inner Task
	done  chan Result
	fired bool
}

func NewAndThenNotify(inner Task) *AndThenNotify {
	return &AndThenNotify{inner: inner, done: make(chan Result, 1)}
}

// Done returns a channel that receives the task's terminal Result exactly
// once.
func (a *AndThenNotify) Done() <-chan Result { return a.done }

func (a *AndThenNotify) Poll(ctx context.Context) Result {
	res := a.inner.Poll(ctx)
	if res.Status != Pending && !a.fired {
		a.fired = true
		a.done <- res
	}
	return res
}

// idleWarnThreshold is how long a task may stay Pending before it is logged
// as idling (spec.md §4.3 "Idle-task detection"); it is advisory only, the
// containing WithTimeout remains authoritative for cancellation.
const idleWarnThreshold = 60 * time.Second

// IdleWarner wraps a task to log once if it has stayed Pending past
// idleWarnThreshold.
type IdleWarner struct {
	inner     Task
	name      string
	startedAt time.Time
	warned    bool
}

func NewIdleWarner(inner Task, name string) *IdleWarner {
	return &IdleWarner{inner: inner, name: name, startedAt: time.Now()}
}

func (w *IdleWarner) Poll(ctx context.Context) Result {
	res := w.inner.Poll(ctx)
	if res.Status == Pending && !w.warned && time.Since(w.startedAt) > idleWarnThreshold {
		w.warned = true
		log.WithComponent("task").Warn().Str("task", w.name).Dur("pending_for", time.Since(w.startedAt)).Msg("task idling")
	}
	return res
}
