// Package registry persists the running-instance registry and deployment
// history in BoltDB. The registry is append-only and keyed by instance id:
// the orchestrator performs a single insert per successful session, and the
// UI layer reads it to list deployments.
package registry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dockhand/dockhand/pkg/types"
)

var (
	bucketInstances = []byte("instances")
	bucketHistory   = []byte("history")
)

// Record is one running-instance registry entry.
type Record struct {
	InstanceID   string                    `json:"instanceId"`
	Descriptor   *types.InstanceDescriptor `json:"descriptor"`
	LogicalOwner string                    `json:"logicalOwner"`
	CreatedAt    time.Time                 `json:"createdAt"`
}

// Store is the BoltDB-backed registry.
type Store struct {
	db *bolt.DB
}

// NewStore opens (or creates) the registry database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "dockhand.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketInstances, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends a record. The registry is append-only: inserting an
// instance id that already exists is an error.
func (s *Store) Insert(rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		if b.Get([]byte(rec.InstanceID)) != nil {
			return fmt.Errorf("instance already registered: %s", rec.InstanceID)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.InstanceID), data)
	})
}

// Get returns the record for an instance id.
func (s *Store) Get(instanceID string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketInstances).Get([]byte(instanceID))
		if data == nil {
			return fmt.Errorf("instance not found: %s", instanceID)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns all registry records.
func (s *Store) List() ([]*Record, error) {
	var records []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
			return nil
		})
	})
	return records, err
}

// SaveHistory persists a finished session for later inspection.
func (s *Store) SaveHistory(session *types.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(session)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHistory).Put([]byte(session.ID), data)
	})
}

// ListHistory returns all persisted sessions.
func (s *Store) ListHistory() ([]*types.Session, error) {
	var sessions []*types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).ForEach(func(k, v []byte) error {
			var sess types.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			sessions = append(sessions, &sess)
			return nil
		})
	})
	return sessions, err
}
