package worker

import (
	"context"
	"fmt"

	"github.com/cuemby/warren/pkg/containerctx"
)

// ContainerHealthProber adapts pkg/containerctx's inspect+HTTP-probe pair to
// pkg/task.HealthProber's container-ID-only surface (spec.md §4.3
// check_health, §4.2 "Started -> Ready" readiness probe reused here for the
// ambulance's health sweep).
type ContainerHealthProber struct {
	Engine         containerctx.Context
	ManagementPort int
}

func (p *ContainerHealthProber) ProbeContainer(ctx context.Context, containerID string) error {
	insp, err := p.Engine.Inspect(ctx, containerID)
	if err != nil {
		return err
	}
	if len(insp.Networks) == 0 {
		return fmt.Errorf("container %s has no network attachment", containerID)
	}
	result := containerctx.ProbeReadiness(ctx, insp.Networks[0].IP, p.ManagementPort)
	if !result.Healthy {
		return fmt.Errorf("health probe failed: %s", result.Message)
	}
	return nil
}
