// Package gateway is the persistence and request-routing layer (spec.md
// §4.4): the authoritative table of projects and custom domains, consulted
// by every other component, plus the HTTP proxy routing logic that resolves
// an inbound request to a live container. Grounded on the teacher's
// pkg/storage/boltdb.go bucket-per-entity pattern, generalized from
// cluster/node/service records to project/domain/deployment records.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/state"
	"github.com/cuemby/warren/pkg/tls"
	"github.com/cuemby/warren/pkg/types"
)

var (
	bucketProjects      = []byte("projects")
	bucketCustomDomains = []byte("custom_domains")
	bucketServices      = []byte("services")
	bucketDeployments   = []byte("deployments")
	bucketUsers         = []byte("users")
	bucketSubscriptions = []byte("subscriptions")
	bucketTeams         = []byte("teams")
	bucketTeamMembers   = []byte("team_members")
)

// pendingTraffic bucket is declared in traffic.go; listed here alongside the
// others so Open's bucket-creation loop stays the single source of truth.

// record is the row stored under bucketProjects: the project's static
// fields plus its tagged-union state blob (spec.md §6 "projects(name PK,
// owner_id, initial_key, state BLOB)").
type record struct {
	Project    types.Project `json:"project"`
	InitialKey string        `json:"initial_key"`
	State      state.State   `json:"state"`
}

// Store is the bbolt-backed implementation of the gateway's persistence
// operations (spec.md §4.4).
type Store struct {
	db        *bolt.DB
	certStore *tls.Store
}

func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "gateway.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open gateway store: %w", err)
	}

	buckets := [][]byte{bucketProjects, bucketCustomDomains, bucketServices, bucketDeployments, bucketUsers, bucketSubscriptions, bucketTeams, bucketTeamMembers, bucketPendingTraffic}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	certStore, err := tls.Open(dataDir)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, certStore: certStore}, nil
}

func (s *Store) Close() error {
	_ = s.certStore.Close()
	return s.db.Close()
}

// CustomDomainNeedsRotation reports whether fqdn's stored certificate is
// within the rotation window (pkg/tls), for the ambulance/operator to act
// on via CapGatewayCertRenew (spec.md §4.6).
func (s *Store) CustomDomainNeedsRotation(fqdn string) (bool, error) {
	return s.certStore.NeedsRotation(fqdn)
}

// LoadState implements pkg/task.ProjectStore.
func (s *Store) LoadState(ctx context.Context, projectName string) (state.State, error) {
	rec, err := s.getRecord(projectName)
	if err != nil {
		return state.State{}, err
	}
	return rec.State, nil
}

// CommitState implements pkg/task.ProjectStore: only the state blob and
// the project's UpdatedAt change; everything else about the record is left
// as-is (spec.md §3 Invariant 3: only the state machine mutates state).
func (s *Store) CommitState(ctx context.Context, projectName string, newState state.State) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		raw := b.Get([]byte(projectName))
		if raw == nil {
			return apierrors.New(apierrors.ProjectNotFound, projectName)
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		rec.State = newState
		rec.Project.UpdatedAt = time.Now()
		if newState.Kind == state.KindCreating && newState.Creating != nil {
			rec.InitialKey = newState.Creating.InitialKey
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(projectName), data)
	})
}

func (s *Store) getRecord(projectName string) (record, error) {
	var rec record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketProjects).Get([]byte(projectName))
		if raw == nil {
			return apierrors.New(apierrors.ProjectNotFound, projectName)
		}
		return json.Unmarshal(raw, &rec)
	})
	return rec, err
}

func (s *Store) putRecord(rec record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketProjects).Put([]byte(rec.Project.Name), data)
	})
}
