package task

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/metrics"
)

// Router enforces at-most-one active task per project name via a mapping
// from project name to a single-slot (capacity-1) mailbox, per spec.md §9's
// preferred realisation ("naturally provides backpressure and
// ServiceUnavailable semantics").
type Router struct {
	mu      sync.Mutex
	slots   map[string]chan struct{}
	sendTTL time.Duration
}

// NewRouter builds a Router whose Route call blocks at most sendTimeout
// waiting for a project's slot before returning ServiceUnavailable
// (spec.md §4.3 default 9s).
func NewRouter(sendTimeout time.Duration) *Router {
	return &Router{
		slots:   make(map[string]chan struct{}),
		sendTTL: sendTimeout,
	}
}

func (r *Router) slotFor(name string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[name]
	if !ok {
		slot = make(chan struct{}, 1)
		r.slots[name] = slot
	}
	return slot
}

// Acquire blocks until the project's slot is free or the router's
// send-timeout elapses, whichever comes first. The returned release func
// must be called exactly once to free the slot.
func (r *Router) Acquire(ctx context.Context, projectName string) (release func(), err error) {
	slot := r.slotFor(projectName)

	timer := time.NewTimer(r.sendTTL)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-timer.C:
		metrics.RouterAcquireTimeoutsTotal.Inc()
		return nil, apierrors.New(apierrors.ServiceUnavailable, "project task slot busy")
	case <-ctx.Done():
		return nil, apierrors.Wrap(apierrors.ServiceUnavailable, ctx.Err())
	}
}

// Route wraps a task so that Poll only runs once the project's router slot
// is held, and releases it when the task finishes (Done, Cancelled, or
// Err — per spec.md §4.3 "the Route releases its per-project slot").
type Route struct {
	router      *Router
	projectName string
	inner       Task

	acquired bool
	release  func()
}

func NewRoute(router *Router, projectName string, inner Task) *Route {
	return &Route{router: router, projectName: projectName, inner: inner}
}

func (r *Route) Poll(ctx context.Context) Result {
	if !r.acquired {
		release, err := r.router.Acquire(ctx, r.projectName)
		if err != nil {
			return ErrResult(err)
		}
		r.acquired = true
		r.release = release
	}

	res := r.inner.Poll(ctx)
	if res.Status != Pending {
		r.release()
		r.acquired = false
	}
	return res
}
