package gateway

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// bucketPendingTraffic records projects the proxy tried and failed to wake
// synchronously, so the ambulance (pkg/worker) can retry them asynchronously
// (spec.md §4.7 "Stopped with pending traffic markers").
var bucketPendingTraffic = []byte("pending_traffic")

type pendingTrafficEntry struct {
	MarkedAt time.Time
}

// MarkPendingTraffic records that name received a request while Stopped and
// the inline wake did not complete in time.
func (s *Store) MarkPendingTraffic(ctx context.Context, name string) error {
	data, err := json.Marshal(pendingTrafficEntry{MarkedAt: time.Now()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingTraffic).Put([]byte(name), data)
	})
}

// ListPendingTraffic returns every project name with an unresolved marker.
func (s *Store) ListPendingTraffic(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingTraffic).ForEach(func(k, v []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// ClearPendingTraffic removes name's marker once the ambulance has submitted
// a start task for it.
func (s *Store) ClearPendingTraffic(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingTraffic).Delete([]byte(name))
	})
}
