package gateway

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/types"
)

// gitFieldLimit is the truncation bound spec.md §6 imposes on the
// deployment request body's git metadata fields.
const gitFieldLimit = 1024

func truncateGitField(s string) string {
	if len(s) <= gitFieldLimit {
		return s
	}
	return s[:gitFieldLimit]
}

// PutDeployment upserts a deployment record, truncating git metadata before
// it is stored (SPEC_FULL.md §3 supplemented feature).
func (s *Store) PutDeployment(ctx context.Context, d types.Deployment) error {
	d.GitCommitID = truncateGitField(d.GitCommitID)
	d.GitCommitMsg = truncateGitField(d.GitCommitMsg)
	d.GitBranch = truncateGitField(d.GitBranch)
	d.LastUpdate = time.Now()

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDeployments).Put([]byte(d.ID), data)
	})
}

func (s *Store) GetDeployment(ctx context.Context, id string) (types.Deployment, error) {
	var d types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDeployments).Get([]byte(id))
		if raw == nil {
			return apierrors.New(apierrors.ProjectNotFound, id)
		}
		return json.Unmarshal(raw, &d)
	})
	return d, err
}

// ListDeployments implements spec.md §6's paginated deployments list (page,
// limit query params), newest first.
func (s *Store) ListDeployments(ctx context.Context, serviceID string, page, limit int) ([]types.Deployment, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	var all []types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).ForEach(func(k, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.ServiceID == serviceID {
				all = append(all, d)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].LastUpdate.After(all[j].LastUpdate) })

	start := (page - 1) * limit
	if start >= len(all) {
		return nil, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// RunningDeployments lists a service's deployments currently in the
// Running state, used by the deployment driver to evict stale ones before
// starting a new one (spec.md §4.5 step 1).
func (s *Store) RunningDeployments(ctx context.Context, serviceID string) ([]types.Deployment, error) {
	var running []types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).ForEach(func(k, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.ServiceID == serviceID && d.State == types.DeploymentStateRunning {
				running = append(running, d)
			}
			return nil
		})
	})
	return running, err
}

// LastDeployment returns the most recently updated deployment marked
// IsNext for a service, used by start_idle_deploys (pkg/task).
func (s *Store) LastDeployment(ctx context.Context, serviceID string) (types.Deployment, bool, error) {
	var candidates []types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).ForEach(func(k, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.ServiceID == serviceID && d.IsNext {
				candidates = append(candidates, d)
			}
			return nil
		})
	})
	if err != nil || len(candidates) == 0 {
		return types.Deployment{}, false, err
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].LastUpdate.After(candidates[j].LastUpdate) })
	return candidates[0], true, nil
}
