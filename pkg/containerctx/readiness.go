package containerctx

import (
	"context"
	"fmt"

	"github.com/cuemby/warren/pkg/health"
)

// ProbeReadiness issues the Started->Ready HTTP readiness probe against a
// container's management port (spec.md §4.2). ip is the container's address
// on the attached network (from Inspect).
func ProbeReadiness(ctx context.Context, ip string, managementPort int) health.Result {
	checker := health.NewHTTPChecker(fmt.Sprintf("http://%s:%d/healthz", ip, managementPort))
	return checker.Check(ctx)
}
