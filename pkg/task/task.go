// Package task implements the project task pipeline (spec.md §4.3): polled
// units of work bound to one project name, composed into ordered sequences,
// wrapped with a timeout and a single-slot router, and driven to completion
// by pkg/worker. Grounded on the teacher's reconciler tick loop
// (pkg/reconciler/reconciler.go) generalized from a fixed-interval sweep to
// an explicit poll-until-terminal protocol.
package task

import "context"

// Status is a task's poll result.
type Status int

const (
	Pending Status = iota
	Done
	TryAgain
	Cancelled
	Err
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case TryAgain:
		return "try_again"
	case Cancelled:
		return "cancelled"
	case Err:
		return "err"
	default:
		return "unknown"
	}
}

// Result is the outcome of a single Poll call: a Status plus, for Err, the
// error that caused it.
type Result struct {
	Status Status
	Err    error
}

func PendingResult() Result  { return Result{Status: Pending} }
func DoneResult() Result     { return Result{Status: Done} }
func TryAgainResult() Result { return Result{Status: TryAgain} }
func CancelledResult() Result { return Result{Status: Cancelled} }
func ErrResult(err error) Result { return Result{Status: Err, Err: err} }

// Task is a polled unit of work. Poll is called repeatedly by the runner
// until it returns anything other than Pending.
type Task interface {
	Poll(ctx context.Context) Result
}

// Func adapts a plain function to Task.
type Func func(ctx context.Context) Result

func (f Func) Poll(ctx context.Context) Result { return f(ctx) }

// Sequence runs a list of sub-tasks in order: each must finish (return a
// non-Pending result) before the next starts. A TryAgain or Err from any
// sub-task stops the sequence and is returned as-is; Cancelled likewise. Only
// once every sub-task finishes with Done does the sequence report Done.
type Sequence struct {
	steps   []Task
	current int
}

func NewSequence(steps ...Task) *Sequence {
	return &Sequence{steps: steps}
}

func (s *Sequence) Poll(ctx context.Context) Result {
	for s.current < len(s.steps) {
		res := s.steps[s.current].Poll(ctx)
		switch res.Status {
		case Pending:
			return res
		case Done:
			s.current++
			continue
		default: // TryAgain, Cancelled, Err all stop the sequence
			return res
		}
	}
	return DoneResult()
}
