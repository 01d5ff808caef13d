package gateway

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/tls"
	"github.com/cuemby/warren/pkg/types"
)

// CreateCustomDomain implements spec.md §4.4 `create_custom_domain(project,
// fqdn, cert, key)`: upsert, at most one mapping per fqdn and per project
// (spec.md §3 Invariant 4). The certificate material is additionally
// mirrored into certStore so its expiry can be tracked for rotation
// (pkg/tls), independent of the project-state bucket.
func (s *Store) CreateCustomDomain(ctx context.Context, projectName, fqdn string, cert, key []byte) error {
	if s.certStore != nil {
		if err := s.certStore.Put(fqdn, cert, key); err != nil {
			return err
		}
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		projects := tx.Bucket(bucketProjects)
		if projects.Get([]byte(projectName)) == nil {
			return apierrors.New(apierrors.ProjectNotFound, projectName)
		}

		domains := tx.Bucket(bucketCustomDomains)
		if err := domains.ForEach(func(k, v []byte) error {
			var existing types.CustomDomain
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.ProjectName == projectName && string(k) != fqdn {
				return apierrors.New(apierrors.InvalidOperation, "project already has a custom domain")
			}
			return nil
		}); err != nil {
			return err
		}

		cd := types.CustomDomain{FQDN: fqdn, ProjectName: projectName, Cert: cert, PrivateKey: key, CreatedAt: time.Now()}
		data, err := json.Marshal(cd)
		if err != nil {
			return err
		}

		var rec record
		raw := projects.Get([]byte(projectName))
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		rec.Project.CustomDomain = fqdn
		projectData, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := projects.Put([]byte(projectName), projectData); err != nil {
			return err
		}
		return domains.Put([]byte(fqdn), data)
	})
}

// FindCustomDomainForProject implements `find_custom_domain_for_project`.
func (s *Store) FindCustomDomainForProject(ctx context.Context, projectName string) (types.CustomDomain, bool, error) {
	var found types.CustomDomain
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCustomDomains).ForEach(func(k, v []byte) error {
			var cd types.CustomDomain
			if err := json.Unmarshal(v, &cd); err != nil {
				return err
			}
			if cd.ProjectName == projectName {
				found, ok = cd, true
			}
			return nil
		})
	})
	return found, ok, err
}

// ProjectForCustomDomain implements `project_for_custom_domain(fqdn)`.
func (s *Store) ProjectForCustomDomain(ctx context.Context, fqdn string) (types.Project, error) {
	var projectName string
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCustomDomains).Get([]byte(fqdn))
		if raw == nil {
			return apierrors.New(apierrors.ProjectNotFound, fqdn)
		}
		var cd types.CustomDomain
		if err := json.Unmarshal(raw, &cd); err != nil {
			return err
		}
		projectName = cd.ProjectName
		return nil
	})
	if err != nil {
		return types.Project{}, err
	}
	return s.FindProject(ctx, projectName)
}
