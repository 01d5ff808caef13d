package gateway

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/types"
)

// CreateService upserts a project's named service (spec.md §6 "services(id
// PK, name UNIQUE)").
func (s *Store) CreateService(ctx context.Context, svc types.Service) error {
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = time.Now()
	}
	data, err := json.Marshal(svc)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).Put([]byte(svc.ID), data)
	})
}

func (s *Store) FindService(ctx context.Context, id string) (types.Service, error) {
	var svc types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketServices).Get([]byte(id))
		if raw == nil {
			return apierrors.New(apierrors.ProjectNotFound, id)
		}
		return json.Unmarshal(raw, &svc)
	})
	return svc, err
}

// FindServiceByName looks a project's service up by its human name, the
// shape the control-plane API's `/projects/:name/services/:svc` routes
// address services by (spec.md §6).
func (s *Store) FindServiceByName(ctx context.Context, projectName, serviceName string) (types.Service, bool, error) {
	var found types.Service
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var svc types.Service
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			if svc.ProjectName == projectName && svc.Name == serviceName {
				found, ok = svc, true
			}
			return nil
		})
	})
	return found, ok, err
}

func (s *Store) DeleteService(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).Delete([]byte(id))
	})
}
