package gateway

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/types"
)

// CreateAccount upserts an account row (spec.md §6 "users(id PK, name,
// key, tier)").
func (s *Store) CreateAccount(ctx context.Context, a types.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).Put([]byte(a.ID), data)
	})
}

func (s *Store) FindAccount(ctx context.Context, id string) (types.Account, error) {
	var a types.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketUsers).Get([]byte(id))
		if raw == nil {
			return apierrors.New(apierrors.UserNotFound, id)
		}
		return json.Unmarshal(raw, &a)
	})
	return a, err
}

// FindAccountByKeyHash resolves the Bearer-key auth path (spec.md §6
// "Authentication: Bearer API key (validated against the user service)").
func (s *Store) FindAccountByKeyHash(ctx context.Context, keyHash string) (types.Account, bool, error) {
	var found types.Account
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var a types.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.KeyHash == keyHash {
				found, ok = a, true
			}
			return nil
		})
	})
	return found, ok, err
}

// TierOf implements pkg/authz.TeamStore's lookup leg.
func (s *Store) TierOf(ctx context.Context, accountID string) (types.Tier, error) {
	a, err := s.FindAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	return a.Tier, nil
}

// SetAccountTier persists a tier transition from pkg/authz.SyncTier.
func (s *Store) SetAccountTier(ctx context.Context, accountID string, tier types.Tier) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		raw := b.Get([]byte(accountID))
		if raw == nil {
			return apierrors.New(apierrors.UserNotFound, accountID)
		}
		var a types.Account
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		a.Tier = tier
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put([]byte(accountID), data)
	})
}

// PutSubscription upserts a subscription row; UNIQUE(AccountID, Type) is
// enforced by pkg/authz.OnlyOneProSubscription before this is called
// (spec.md §4.6, §6).
func (s *Store) PutSubscription(ctx context.Context, sub types.Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	sub.UpdatedAt = time.Now()
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).Put([]byte(sub.ID), data)
	})
}

// FindSubscription locates an account's existing subscription of type t,
// if any (the "second one updates the existing row" check in spec.md §4.6).
func (s *Store) FindSubscription(ctx context.Context, accountID string, t types.SubscriptionType) (types.Subscription, bool, error) {
	var found types.Subscription
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).ForEach(func(k, v []byte) error {
			var sub types.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			if sub.AccountID == accountID && sub.Type == t {
				found, ok = sub, true
			}
			return nil
		})
	})
	return found, ok, err
}
