package store

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/settlement"
)

const bucketName = "pending_operations"

// BoltStore keeps the schedule in a single BoltDB file, one JSON record per
// operation keyed by the operation id bytes.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file and its bucket.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Save(_ context.Context, op domain.PendingOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put(op.ID[:], data)
	})
}

func (s *BoltStore) Get(_ context.Context, id domain.ID) (domain.PendingOperation, error) {
	var op domain.PendingOperation
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get(id[:])
		if v == nil {
			return settlement.ErrNotFound
		}
		return json.Unmarshal(v, &op)
	})
	return op, err
}

func (s *BoltStore) List(_ context.Context) ([]domain.PendingOperation, error) {
	var ops []domain.PendingOperation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(_, v []byte) error {
			var op domain.PendingOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			ops = append(ops, op)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByDue(ops)
	return ops, nil
}

// Delete is a no-op for unknown ids.
func (s *BoltStore) Delete(_ context.Context, id domain.ID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete(id[:])
	})
}
