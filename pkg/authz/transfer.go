package authz

import (
	"context"

	"github.com/cuemby/warren/pkg/types"
)

// ProjectStore is the slice of pkg/gateway's project record pkg/authz
// needs to rewrite ownership fields on transfer (spec.md §4.6).
type ProjectStore interface {
	FindProject(ctx context.Context, name string) (types.Project, error)
	SetOwner(ctx context.Context, name string, ownerKind types.OwnerKind, ownerID string) error
}

// TransferUserToUser reassigns a project's admin account (spec.md §4.6 (a)).
func TransferUserToUser(ctx context.Context, store ProjectStore, projectName, newOwnerID string) error {
	return store.SetOwner(ctx, projectName, types.OwnerAccount, newOwnerID)
}

// TransferUserToTeam reassigns the project to a team, creating the
// parent/team relationship (spec.md §4.6 (b)).
func TransferUserToTeam(ctx context.Context, store ProjectStore, projectName, teamID string) error {
	return store.SetOwner(ctx, projectName, types.OwnerTeam, teamID)
}

// TransferTeamToUser reassigns a team-owned project back to a user,
// removing the parent relationship (spec.md §4.6 (c)).
func TransferTeamToUser(ctx context.Context, store ProjectStore, projectName, newOwnerID string) error {
	return store.SetOwner(ctx, projectName, types.OwnerAccount, newOwnerID)
}
