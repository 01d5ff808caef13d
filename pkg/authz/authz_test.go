package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/warren/pkg/types"
)

func TestCapabilitiesForMatchesSpecTableExactly(t *testing.T) {
	basic := CapabilitiesFor(types.TierBasic)
	assert.True(t, basic[CapDeploy])
	assert.True(t, basic[CapProjectWrite])
	assert.False(t, basic[CapExtraProjects])
	assert.False(t, basic[CapAdmin])

	pro := CapabilitiesFor(types.TierPro)
	assert.True(t, pro[CapExtraProjects])
	assert.True(t, pro[CapDeploy])

	admin := CapabilitiesFor(types.TierAdmin)
	assert.True(t, admin[CapAdmin])
	assert.True(t, admin[CapCustomDomain])
	assert.True(t, admin[CapDeploy], "admin must retain the base set")

	deployer := CapabilitiesFor(types.TierDeployer)
	assert.True(t, deployer[CapDeploymentPush])
	assert.False(t, deployer[CapDeploy], "deployer is disjoint from the tenant base set")
	assert.Len(t, deployer, 4)
}

func TestSyncTierTransitions(t *testing.T) {
	assert.Equal(t, types.TierPendingPaymentPro, SyncTier(types.TierPro, types.SubscriptionIncomplete, false))
	assert.Equal(t, types.TierPro, SyncTier(types.TierPendingPaymentPro, types.SubscriptionActive, false))
	assert.Equal(t, types.TierCancelledPro, SyncTier(types.TierPro, types.SubscriptionActive, true))
	assert.Equal(t, types.TierBasic, SyncTier(types.TierCancelledPro, types.SubscriptionExpired, false))
}

func TestOnlyOneProSubscriptionUpdatesExistingRow(t *testing.T) {
	existing := []types.Subscription{{ID: "sub-1", Type: types.SubscriptionTypePro, Status: types.SubscriptionActive, Quantity: 1}}
	incoming := types.Subscription{ID: "sub-2", Type: types.SubscriptionTypePro, Status: types.SubscriptionIncomplete, Quantity: 2}

	result := OnlyOneProSubscription(existing, incoming)

	assert.Equal(t, "sub-1", result.ID, "must update the existing row, not create a second one")
	assert.Equal(t, types.SubscriptionIncomplete, result.Status)
	assert.Equal(t, 2, result.Quantity)
}
