package gateway

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/types"
)

// teamMemberKey joins a team and account id into one bucket key so
// membership rows can be upserted/deleted without a full-bucket scan.
func teamMemberKey(teamID, accountID string) []byte {
	return []byte(teamID + "/" + accountID)
}

func (s *Store) CreateTeam(ctx context.Context, t types.Team) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTeams).Put([]byte(t.ID), data)
	})
}

func (s *Store) FindTeam(ctx context.Context, id string) (types.Team, error) {
	var t types.Team
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTeams).Get([]byte(id))
		if raw == nil {
			return apierrors.New(apierrors.UserNotFound, id)
		}
		return json.Unmarshal(raw, &t)
	})
	return t, err
}

// TeamMembers implements pkg/authz.TeamStore.
func (s *Store) TeamMembers(ctx context.Context, teamID string) ([]types.TeamMember, error) {
	prefix := []byte(teamID + "/")
	var members []types.TeamMember
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTeamMembers).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var m types.TeamMember
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			members = append(members, m)
		}
		return nil
	})
	return members, err
}

// PutMember implements pkg/authz.TeamStore.
func (s *Store) PutMember(ctx context.Context, m types.TeamMember) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTeamMembers).Put(teamMemberKey(m.TeamID, m.AccountID), data)
	})
}

// RemoveMember implements pkg/authz.TeamStore.
func (s *Store) RemoveMember(ctx context.Context, teamID, accountID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTeamMembers).Delete(teamMemberKey(teamID, accountID))
	})
}

// TeamOwnsAnyProject implements pkg/authz.TeamStore (spec.md §4.6: "a team
// cannot be deleted while it owns projects").
func (s *Store) TeamOwnsAnyProject(ctx context.Context, teamID string) (bool, error) {
	owns := false
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Project.OwnerKind == types.OwnerTeam && rec.Project.AccountID == teamID {
				owns = true
			}
			return nil
		})
	})
	return owns, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
