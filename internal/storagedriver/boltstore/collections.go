package boltstore

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// GetCollectionID resolves a collection name to its integer id. Returns
// (0, false, nil) if unknown — callers (the collection-id cache) decide
// whether to auto-create.
func (s *Store) GetCollectionID(ctx context.Context, name string) (int, bool, error) {
	var id uint32
	var found bool
	err := s.view(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCollectionNames).Get([]byte(name))
		if v == nil {
			return nil
		}
		found = true
		id = decodeUint32(v)
		return nil
	})
	return int(id), found, err
}

// CreateCollection atomically assigns the next collection id (>= 100) to
// name, or returns the existing id if another writer raced us to it
// (first writer wins, content-addressed per spec §3).
func (s *Store) CreateCollection(ctx context.Context, name string) (int, error) {
	var id uint32
	err := s.update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketCollectionNames)
		if v := names.Get([]byte(name)); v != nil {
			id = decodeUint32(v)
			return nil
		}
		seq := tx.Bucket(bucketCollectionSeq)
		next, err := seq.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating collection id: %w", err)
		}
		id = uint32(next)
		return names.Put([]byte(name), encodeUint32(id))
	})
	return int(id), err
}
