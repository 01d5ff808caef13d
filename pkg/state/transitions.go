package state

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/warren/pkg/containerctx"
)

// Options carries the per-project, per-task-run configuration Next and
// Refresh need: image/network identity, the bounded-counter limits (spec.md
// §3 Invariant 6, §8 property 7) and the idle-eviction parameters.
type Options struct {
	ProjectName        string
	ContainerLabels    map[string]string
	ManagementPort     int
	MaxRestartAttempts int
	MaxRecreateAttempts int
	MaxProbeAttempts   int
	ContainerStopGrace time.Duration
	IdleMinutes        int
	IdleCPUThreshold   float64
}

// Next attempts one step forward. It never returns an error at the type
// level: unrecoverable failures collapse into Errored carrying the prior
// state (spec.md §4.2).
func Next(ctx context.Context, eng containerctx.Context, s State, opts Options) State {
	switch s.Kind {
	case KindCreating:
		return nextCreating(ctx, eng, s, opts)
	case KindAttaching:
		return nextAttaching(ctx, eng, s, opts)
	case KindRecreating:
		return nextRecreating(ctx, eng, s)
	case KindStarting:
		return nextStarting(ctx, eng, s, opts)
	case KindRestarting:
		return nextRestarting(s, opts)
	case KindStarted:
		return nextStarted(ctx, eng, s, opts)
	case KindRunning:
		return nextRunning(ctx, eng, s, opts)
	case KindStopping:
		return nextStopping(ctx, eng, s, opts)
	case KindRebooting:
		return nextRebooting(ctx, eng, s, opts)
	case KindDestroying:
		return nextDestroying(ctx, eng, s)
	default:
		// Ready, Completed, Stopped, Destroyed, Errored have no further
		// auto-driven step; they wait for an explicit task or an external
		// signal (deploy driver, user request).
		return s
	}
}

func nextCreating(ctx context.Context, eng containerctx.Context, s State, opts Options) State {
	if s.Creating.RecreateAttempts > opts.MaxRecreateAttempts {
		return NewErrored(ErrEngineUnavailable, "exceeded max recreate attempts", &s)
	}
	cfg := eng.Config()
	if err := eng.PullImage(ctx, cfg.ImageRef); err != nil {
		return NewErrored(ErrEngineUnavailable, fmt.Sprintf("pull image: %v", err), &s)
	}
	containerID, err := eng.CreateContainer(ctx, containerctx.CreateConfig{
		Name:   opts.ProjectName,
		Image:  cfg.ImageRef,
		Labels: s.Creating.Labels,
	})
	if err != nil {
		return NewErrored(ErrInvalidContainerConfig, fmt.Sprintf("create container: %v", err), &s)
	}
	return State{Kind: KindAttaching, Attaching: &AttachingData{
		ContainerID: containerID,
		InitialKey:  s.Creating.InitialKey,
	}}
}

func nextAttaching(ctx context.Context, eng containerctx.Context, s State, opts Options) State {
	cfg := eng.Config()
	if _, err := eng.AttachNetwork(ctx, s.Attaching.ContainerID, cfg.NetworkName); err != nil {
		return State{Kind: KindRecreating, Recreating: &RecreatingData{
			ContainerID: s.Attaching.ContainerID,
			InitialKey:  s.Attaching.InitialKey,
		}}
	}
	return State{Kind: KindStarting, Starting: &StartingData{
		ContainerID: s.Attaching.ContainerID,
		InitialKey:  s.Attaching.InitialKey,
	}}
}

func nextRecreating(ctx context.Context, eng containerctx.Context, s State) State {
	_ = eng.RemoveContainer(ctx, s.Recreating.ContainerID) // teardown before re-creating
	return State{Kind: KindCreating, Creating: &CreatingData{
		InitialKey:       s.Recreating.InitialKey,
		RecreateAttempts: s.Recreating.Attempts + 1,
	}}
}

func nextStarting(ctx context.Context, eng containerctx.Context, s State, opts Options) State {
	if err := eng.StartContainer(ctx, s.Starting.ContainerID); err == nil {
		insp, ierr := eng.Inspect(ctx, s.Starting.ContainerID)
		if ierr == nil && insp.Status == containerctx.StatusRunning {
			return State{Kind: KindStarted, Started: &StartedData{
				ContainerID: s.Starting.ContainerID,
				InitialKey:  s.Starting.InitialKey,
			}}
		}
	}

	attempts := s.Starting.RestartAttempts + 1
	if attempts > opts.MaxRestartAttempts {
		return NewErrored(ErrInternal, "exceeded max restart attempts while starting", &s)
	}
	return State{Kind: KindRestarting, Restarting: &RestartingData{
		ContainerID:     s.Starting.ContainerID,
		InitialKey:      s.Starting.InitialKey,
		RestartAttempts: attempts,
		NextAttemptAt:   time.Now().Add(backoff(attempts)),
	}}
}

func nextRestarting(s State, opts Options) State {
	if s.Restarting.RestartAttempts > opts.MaxRestartAttempts {
		return NewErrored(ErrInternal, "exceeded max restart attempts", &s)
	}
	if time.Now().Before(s.Restarting.NextAttemptAt) {
		return s // backoff window not elapsed yet
	}
	return State{Kind: KindStarting, Starting: &StartingData{
		ContainerID:     s.Restarting.ContainerID,
		InitialKey:      s.Restarting.InitialKey,
		RestartAttempts: s.Restarting.RestartAttempts,
	}}
}

func nextStarted(ctx context.Context, eng containerctx.Context, s State, opts Options) State {
	insp, err := eng.Inspect(ctx, s.Started.ContainerID)
	if err != nil || len(insp.Networks) == 0 {
		return bumpProbe(s, opts)
	}
	result := containerctx.ProbeReadiness(ctx, insp.Networks[0].IP, opts.ManagementPort)
	if result.Healthy {
		return State{Kind: KindReady, Ready: &ReadyData{
			ContainerID: s.Started.ContainerID,
			InitialKey:  s.Started.InitialKey,
		}}
	}
	return bumpProbe(s, opts)
}

func bumpProbe(s State, opts Options) State {
	attempts := s.Started.ProbeAttempts + 1
	if attempts > opts.MaxProbeAttempts {
		return NewErrored(ErrTimeout, "readiness probe exceeded max attempts", &s)
	}
	return State{Kind: KindStarted, Started: &StartedData{
		ContainerID:   s.Started.ContainerID,
		InitialKey:    s.Started.InitialKey,
		ProbeAttempts: attempts,
	}}
}

func nextRunning(ctx context.Context, eng containerctx.Context, s State, opts Options) State {
	insp, err := eng.Inspect(ctx, s.Running.ContainerID)
	if err != nil || insp.Status != containerctx.StatusRunning {
		return State{Kind: KindRestarting, Restarting: &RestartingData{
			ContainerID: s.Running.ContainerID,
			InitialKey:  s.Running.InitialKey,
		}}
	}

	stats, serr := eng.Stats(ctx, s.Running.ContainerID)
	samples := s.Running.Samples
	if serr == nil {
		samples = appendSample(samples, CPUSample{SampledAt: stats.SampledAt, TotalTicks: stats.CPUTotalTicks}, opts.IdleMinutes)
	}

	if shouldEvict(samples, opts.IdleMinutes, opts.IdleCPUThreshold) {
		return State{Kind: KindStopping, Stopping: &StoppingData{
			ContainerID: s.Running.ContainerID,
			RequestedAt: time.Now(),
		}}
	}

	return State{Kind: KindRunning, Running: &RunningData{
		ContainerID: s.Running.ContainerID,
		InitialKey:  s.Running.InitialKey,
		Samples:     samples,
	}}
}

func nextStopping(ctx context.Context, eng containerctx.Context, s State, opts Options) State {
	insp, err := eng.Inspect(ctx, s.Stopping.ContainerID)
	if err == nil && insp.Status == containerctx.StatusExited {
		return State{Kind: KindStopped, Stopped: &StoppedData{ContainerID: s.Stopping.ContainerID}}
	}
	if time.Since(s.Stopping.RequestedAt) > opts.ContainerStopGrace {
		_ = eng.StopContainer(ctx, s.Stopping.ContainerID, opts.ContainerStopGrace)
		_ = eng.RemoveContainer(ctx, s.Stopping.ContainerID)
		return State{Kind: KindStopped, Stopped: &StoppedData{}}
	}
	_ = eng.StopContainer(ctx, s.Stopping.ContainerID, opts.ContainerStopGrace)
	return s
}

func nextRebooting(ctx context.Context, eng containerctx.Context, s State, opts Options) State {
	_ = eng.StopContainer(ctx, s.Rebooting.ContainerID, opts.ContainerStopGrace)
	_ = eng.RemoveContainer(ctx, s.Rebooting.ContainerID)
	return State{Kind: KindStarting, Starting: &StartingData{}}
}

func nextDestroying(ctx context.Context, eng containerctx.Context, s State) State {
	if err := eng.RemoveContainer(ctx, s.Destroying.ContainerID); err != nil {
		return NewErrored(ErrEngineUnavailable, fmt.Sprintf("remove container: %v", err), &s)
	}
	return State{Kind: KindDestroyed, Destroyed: &DestroyedData{}}
}

// backoff is RunUntilDone/Restarting's exponential delay, capped at 300s
// (spec.md §5).
func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Millisecond
	cap := 300 * time.Second
	if d > cap || d <= 0 {
		return cap
	}
	return d
}
