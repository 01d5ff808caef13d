// Package tls stores and rotates the TLS certificates behind a project's
// custom domain (spec.md §4.4 `create_custom_domain`, persisted layout
// "custom_domains(fqdn PK, project_name FK, cert, private_key)"). Grounded
// on the teacher's pkg/security/certs.go certificate helpers — the
// rotation-threshold constant and the expiry-based NeedsRotation check are
// carried over unchanged; the file-per-node-directory storage they used
// for mTLS node certs is replaced with a bbolt record per FQDN, since this
// controller has no cluster of nodes to issue per-node certs to.
package tls

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// rotationThreshold mirrors the teacher's 30-day certificate rotation
// window (pkg/security/certs.go CertNeedsRotation).
const rotationThreshold = 30 * 24 * time.Hour

var bucketCerts = []byte("custom_domain_certs")

// Record is one FQDN's stored certificate material.
type Record struct {
	FQDN       string
	Cert       []byte // PEM-encoded leaf certificate
	PrivateKey []byte // PEM-encoded private key
	NotAfter   time.Time
	StoredAt   time.Time
}

// Store persists custom-domain certificates in their own bbolt file,
// separate from the gateway's project/domain records so cert rotation
// never contends with project state commits.
type Store struct {
	db *bolt.DB
}

func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "certs.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open cert store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCerts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put stores cert/key for fqdn, parsing the PEM-encoded leaf to record its
// expiry for later rotation checks.
func (s *Store) Put(fqdn string, cert, key []byte) error {
	notAfter, err := leafExpiry(cert)
	if err != nil {
		return fmt.Errorf("parse certificate for %s: %w", fqdn, err)
	}

	rec := Record{FQDN: fqdn, Cert: cert, PrivateKey: key, NotAfter: notAfter, StoredAt: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCerts).Put([]byte(fqdn), data)
	})
}

func (s *Store) Get(fqdn string) (Record, bool, error) {
	var rec Record
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCerts).Get([]byte(fqdn))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	return rec, found, err
}

// NeedsRotation reports whether fqdn's stored certificate expires within
// the rotation threshold (teacher's CertNeedsRotation logic, expiry taken
// from the stored record instead of an in-process *x509.Certificate).
func (s *Store) NeedsRotation(fqdn string) (bool, error) {
	rec, found, err := s.Get(fqdn)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return time.Until(rec.NotAfter) < rotationThreshold, nil
}

func leafExpiry(certPEM []byte) (time.Time, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return time.Time{}, fmt.Errorf("no PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, err
	}
	return cert.NotAfter, nil
}
