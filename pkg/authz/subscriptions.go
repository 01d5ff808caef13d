package authz

import "github.com/cuemby/warren/pkg/types"

// SyncTier implements spec.md §4.6's subscription-driven tier state machine
// and §8 scenario f. Called whenever a subscription record changes.
func SyncTier(currentTier types.Tier, status types.SubscriptionStatus, explicitCancel bool) types.Tier {
	switch currentTier {
	case types.TierPro:
		if explicitCancel {
			return types.TierCancelledPro
		}
		if status == types.SubscriptionIncomplete {
			return types.TierPendingPaymentPro
		}
		return types.TierPro
	case types.TierPendingPaymentPro:
		if status == types.SubscriptionActive {
			return types.TierPro
		}
		return types.TierPendingPaymentPro
	case types.TierCancelledPro:
		if status == types.SubscriptionExpired || status != types.SubscriptionActive {
			return types.TierBasic
		}
		return types.TierCancelledPro
	default:
		return currentTier
	}
}

// OnlyOneProSubscription enforces spec.md §4.6: "Only one Pro-class
// subscription per account is permitted; adding a second of the same type
// updates the existing row." Returns the subscription to persist: either
// the new one, or the existing one with quantity/status updated in place.
func OnlyOneProSubscription(existing []types.Subscription, incoming types.Subscription) types.Subscription {
	for _, s := range existing {
		if s.Type == incoming.Type {
			s.Status = incoming.Status
			s.Quantity = incoming.Quantity
			s.UpdatedAt = incoming.UpdatedAt
			return s
		}
	}
	return incoming
}
