package task

import (
	"context"
	"time"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/containerctx"
	"github.com/cuemby/warren/pkg/state"
)

// ProjectStore is the slice of pkg/gateway that RunUntilDone and the task
// kinds below need: load the latest committed state, commit a new one. Kept
// as a narrow interface here so pkg/task does not depend on pkg/gateway's
// full persistence surface (spec.md §3 Invariant 3: only the state machine
// mutates ProjectState, everyone else reads/writes it through the gateway).
type ProjectStore interface {
	LoadState(ctx context.Context, projectName string) (state.State, error)
	CommitState(ctx context.Context, projectName string, s state.State) error
}

// RunUntilDone is the sub-task of spec.md §4.3: refresh then next, in a
// loop, with exponential backoff, until is_done() or the outer WithTimeout
// cancels it.
type RunUntilDone struct {
	projectName string
	store       ProjectStore
	engine      containerctx.Context
	opts        state.Options

	attempt     int
	nextPollAt  time.Time
}

func NewRunUntilDone(projectName string, store ProjectStore, engine containerctx.Context, opts state.Options) *RunUntilDone {
	return &RunUntilDone{projectName: projectName, store: store, engine: engine, opts: opts}
}

// backoffDelay mirrors state's own backoff curve: 2^attempt ms, capped 300s
// (spec.md §5 "Backoff").
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Millisecond
	cap := 300 * time.Second
	if d <= 0 || d > cap {
		return cap
	}
	return d
}

func (r *RunUntilDone) Poll(ctx context.Context) Result {
	if time.Now().Before(r.nextPollAt) {
		return PendingResult()
	}

	current, err := r.store.LoadState(ctx, r.projectName)
	if err != nil {
		return r.retryOrFail(err)
	}

	refreshed, err := state.Refresh(ctx, r.engine, current, r.opts)
	if err != nil {
		return r.retryOrFail(err)
	}

	next := state.Next(ctx, r.engine, refreshed, r.opts)
	if err := r.store.CommitState(ctx, r.projectName, next); err != nil {
		return ErrResult(err)
	}

	if next.IsDone() {
		return DoneResult()
	}

	r.attempt++
	r.nextPollAt = time.Now().Add(backoffDelay(r.attempt))
	return PendingResult()
}

// retryOrFail implements spec.md §4.3 "Failure semantics": retryable kinds
// (EngineUnavailable, Timeout, NoNetwork) come back as TryAgain with
// backoff; everything else propagates as a terminal Err.
func (r *RunUntilDone) retryOrFail(err error) Result {
	if apiErr, ok := apierrors.As(err); ok && apiErr.Retryable() {
		r.attempt++
		r.nextPollAt = time.Now().Add(backoffDelay(r.attempt))
		return TryAgainResult()
	}
	return ErrResult(err)
}
