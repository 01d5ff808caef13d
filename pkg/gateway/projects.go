package gateway

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/state"
	"github.com/cuemby/warren/pkg/types"
)

var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// FindProject implements spec.md §4.4 `find_project(name)`.
func (s *Store) FindProject(ctx context.Context, name string) (types.Project, error) {
	rec, err := s.getRecord(name)
	if err != nil {
		return types.Project{}, err
	}
	return rec.Project, nil
}

// IterProjects implements `iter_projects()`.
func (s *Store) IterProjects(ctx context.Context) ([]types.Project, error) {
	var out []types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec.Project)
			return nil
		})
	})
	return out, err
}

// IterUserProjects implements `iter_user_projects(account)`.
func (s *Store) IterUserProjects(ctx context.Context, accountID string) ([]types.Project, error) {
	all, err := s.IterProjects(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.Project
	for _, p := range all {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

// IterProjectsByState implements `iter_projects_by_state(account, state_label)`.
func (s *Store) IterProjectsByState(ctx context.Context, accountID, stateLabel string) ([]types.Project, error) {
	var out []types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Project.AccountID == accountID && rec.State.Label() == stateLabel {
				out = append(out, rec.Project)
			}
			return nil
		})
	})
	return out, err
}

// CreateProject implements spec.md §4.4 `create_project(name, account,
// is_admin)`. It runs inside a single bbolt write transaction so the
// existence check and the insert are atomic, closing the race the original
// system's non-transactional create was prone to (SPEC_FULL.md §3
// supplemented feature).
func (s *Store) CreateProject(ctx context.Context, name, accountID string, isAdmin bool) (types.Project, state.State, error) {
	if !projectNamePattern.MatchString(name) {
		return types.Project{}, state.State{}, apierrors.New(apierrors.InvalidProjectName, name)
	}

	var (
		project types.Project
		initial state.State
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		raw := b.Get([]byte(name))

		initialKey := newInitialKey()
		labels := map[string]string{"project": name}

		if raw == nil {
			project = types.Project{
				Name:      name,
				ID:        newID(),
				AccountID: accountID,
				OwnerKind: types.OwnerAccount,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}
			initial = state.NewCreating(initialKey, labels)
			rec := record{Project: project, InitialKey: initialKey, State: initial}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			return b.Put([]byte(name), data)
		}

		var existing record
		if err := json.Unmarshal(raw, &existing); err != nil {
			return err
		}
		if existing.State.Kind != state.KindDestroyed {
			return apierrors.New(apierrors.ProjectAlreadyExists, name)
		}
		if existing.Project.AccountID != accountID && !isAdmin {
			return apierrors.New(apierrors.ProjectAlreadyExists, name)
		}

		// Recreate, preserving the custom domain (spec.md §4.4, §8 scenario e).
		project = existing.Project
		project.UpdatedAt = time.Now()
		initial = state.NewCreating(initialKey, labels)
		rec := record{Project: project, InitialKey: initialKey, State: initial}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return types.Project{}, state.State{}, err
	}
	log.WithProjectID(project.ID).Info().Str("project_name", name).Msg("project created")
	return project, initial, nil
}

// UpdateProject implements `update_project(name, new_state)`.
func (s *Store) UpdateProject(ctx context.Context, name string, newState state.State) error {
	return s.CommitState(ctx, name, newState)
}

// ControlKeyFromProjectName implements `control_key_from_project_name`.
func (s *Store) ControlKeyFromProjectName(ctx context.Context, name string) (string, error) {
	rec, err := s.getRecord(name)
	if err != nil {
		return "", err
	}
	return rec.InitialKey, nil
}

// DeleteRecord implements pkg/task.RecordDeleter for `delete_project`.
func (s *Store) DeleteRecord(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).Delete([]byte(name))
	})
}

// SetOwner implements pkg/authz.ProjectStore for ownership transfer
// (spec.md §4.6).
func (s *Store) SetOwner(ctx context.Context, name string, ownerKind types.OwnerKind, ownerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		raw := b.Get([]byte(name))
		if raw == nil {
			return apierrors.New(apierrors.ProjectNotFound, name)
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		rec.Project.OwnerKind = ownerKind
		rec.Project.AccountID = ownerID
		rec.Project.UpdatedAt = time.Now()
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
}
