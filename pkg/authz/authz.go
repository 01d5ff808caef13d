// Package authz maps accounts to tiers and tiers to capability sets
// (spec.md §4.6), and implements team membership and project-ownership
// transfer. Grounded on the teacher's pkg/manager/token.go role/lookup
// pattern, generalized from a join-token role string to a fixed
// tier->capability table.
package authz

import (
	"context"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/types"
)

// Capability is one permission a request can require (spec.md §4.6, §6).
type Capability string

const (
	CapDeploy         Capability = "deploy"
	CapLogs           Capability = "logs"
	CapService        Capability = "service"
	CapServiceCreate  Capability = "service-create"
	CapProject        Capability = "project"
	CapProjectWrite   Capability = "project-write"
	CapResources      Capability = "resources"
	CapResourcesWrite Capability = "resources-write"
	CapSecret         Capability = "secret"
	CapExtraProjects  Capability = "extra-projects"
	CapUser           Capability = "user"
	CapAcme           Capability = "acme"
	CapCustomDomain   Capability = "custom-domain"
	CapGatewayCertRenew Capability = "gateway-cert-renew"
	CapAdmin          Capability = "admin"
	CapDeploymentPush Capability = "deployment-push"
)

var base = map[Capability]bool{
	CapDeploy:        true,
	CapLogs:          true,
	CapService:       true,
	CapServiceCreate: true,
	CapProject:       true,
	CapProjectWrite:  true,
	CapResources:     true,
	CapSecret:        true,
}

// capabilities is the exhaustive, total Tier -> capability-set mapping from
// spec.md §4.6. Deployer is intentionally disjoint from `base`: it is a
// narrow service-account tier for CI pushes, not a tenant tier.
var capabilities = map[types.Tier]map[Capability]bool{
	types.TierBasic:             withBase(),
	types.TierPendingPaymentPro:  withBase(),
	types.TierPro:               withBase(CapExtraProjects),
	types.TierCancelledPro:      withBase(),
	types.TierTeam:              withBase(),
	types.TierAdmin:             withBase(CapUser, CapAcme, CapCustomDomain, CapGatewayCertRenew, CapAdmin),
	types.TierDeployer: {
		CapDeploymentPush: true,
		CapResources:      true,
		CapService:        true,
		CapResourcesWrite: true,
	},
}

func withBase(extra ...Capability) map[Capability]bool {
	set := make(map[Capability]bool, len(base)+len(extra))
	for c := range base {
		set[c] = true
	}
	for _, c := range extra {
		set[c] = true
	}
	return set
}

// CapabilitiesFor returns the exact capability set for a tier (spec.md §8
// property 4: exact equality with the table, not a superset).
func CapabilitiesFor(tier types.Tier) map[Capability]bool {
	return capabilities[tier]
}

// Allowed reports whether an account holding tier may exercise capability.
// Shaped like a policy-decision-point check (SPEC_FULL.md §3 supplemented
// feature) so pkg/controlapi can swap in a remote PDP later without
// changing call sites.
type CapabilityChecker interface {
	Allowed(ctx context.Context, accountID string, capability Capability) bool
}

// TierChecker is the simplest CapabilityChecker: it looks the account's
// tier up via a lookup function and checks the fixed table.
type TierChecker struct {
	TierOf func(ctx context.Context, accountID string) (types.Tier, error)
}

func (c TierChecker) Allowed(ctx context.Context, accountID string, capability Capability) bool {
	tier, err := c.TierOf(ctx, accountID)
	if err != nil {
		return false
	}
	return capabilities[tier][capability]
}

// RequireCapability is the narrow helper pkg/controlapi handlers call.
func RequireCapability(checker CapabilityChecker, ctx context.Context, accountID string, capability Capability) error {
	if !checker.Allowed(ctx, accountID, capability) {
		return apierrors.New(apierrors.Forbidden, string(capability))
	}
	return nil
}
