// Package worker is the controller's task runtime (spec.md §4.7): a
// dispatcher that drains submitted project tasks to completion through
// pkg/task's router and timeout wrappers, and an ambulance sweep that keeps
// projects from getting stuck. Grounded on the teacher's
// pkg/reconciler.Reconciler (ticker-driven loop, Start/Stop lifecycle,
// metrics.Timer-wrapped cycles), generalized from a fixed cluster-state
// reconcile to draining an unbounded queue of routed tasks plus a periodic
// project sweep.
package worker
