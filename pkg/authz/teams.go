package authz

import (
	"context"
	"time"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/types"
)

// TeamStore is the slice of pkg/gateway team persistence needs; kept
// narrow here so pkg/authz has no dependency on pkg/gateway's full surface.
type TeamStore interface {
	TeamMembers(ctx context.Context, teamID string) ([]types.TeamMember, error)
	PutMember(ctx context.Context, m types.TeamMember) error
	RemoveMember(ctx context.Context, teamID, accountID string) error
	TierOf(ctx context.Context, accountID string) (types.Tier, error)
	TeamOwnsAnyProject(ctx context.Context, teamID string) (bool, error)
}

// memberRole returns the actor's role on a team, or "" if not a member.
func memberRole(ctx context.Context, store TeamStore, teamID, accountID string) (types.TeamRole, bool, error) {
	members, err := store.TeamMembers(ctx, teamID)
	if err != nil {
		return "", false, err
	}
	for _, m := range members {
		if m.AccountID == accountID {
			return m.Role, true, nil
		}
	}
	return "", false, nil
}

// AddMember requires the actor to hold `manage` on the team and the added
// user to hold Pro capability (spec.md §4.6).
func AddMember(ctx context.Context, store TeamStore, teamID, actorID, newMemberID string, role types.TeamRole) error {
	actorRole, ok, err := memberRole(ctx, store, teamID, actorID)
	if err != nil {
		return err
	}
	if !ok || actorRole != types.TeamRoleManage {
		return apierrors.New(apierrors.Forbidden, "actor lacks manage capability over team")
	}

	tier, err := store.TierOf(ctx, newMemberID)
	if err != nil {
		return err
	}
	if !capabilities[tier][CapExtraProjects] && tier != types.TierPro {
		return apierrors.New(apierrors.Forbidden, "added user lacks Pro capability")
	}

	return store.PutMember(ctx, types.TeamMember{TeamID: teamID, AccountID: newMemberID, Role: role, JoinedAt: time.Now()})
}

// RemoveMember requires manage capability on the team.
func RemoveMember(ctx context.Context, store TeamStore, teamID, actorID, targetID string) error {
	actorRole, ok, err := memberRole(ctx, store, teamID, actorID)
	if err != nil {
		return err
	}
	if !ok || actorRole != types.TeamRoleManage {
		return apierrors.New(apierrors.Forbidden, "actor lacks manage capability over team")
	}
	return store.RemoveMember(ctx, teamID, targetID)
}

// CanDeleteTeam reports spec.md §4.6's constraint: "a team cannot be
// deleted while it owns projects".
func CanDeleteTeam(ctx context.Context, store TeamStore, teamID string) (bool, error) {
	owns, err := store.TeamOwnsAnyProject(ctx, teamID)
	if err != nil {
		return false, err
	}
	return !owns, nil
}
