package boltstore

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
)

// LockForRead establishes the snapshot timestamp for the rest of this
// session's reads (spec §4.2): it begins a read-only bbolt transaction
// that's reused until Commit/Rollback.
func (s *Store) LockForRead(ctx context.Context, user storagedriver.UserID, collection string) error {
	_ = collection
	if s.tx != nil {
		return nil
	}
	tx, err := s.db.Begin(false)
	if err != nil {
		return fmt.Errorf("boltstore: lock_for_read: %w", err)
	}
	s.tx = tx
	s.txWritable = false
	s.touch()
	return nil
}

// LockForWrite begins a writable transaction for this session, setting
// the commit timestamp for subsequent writes.
func (s *Store) LockForWrite(ctx context.Context, user storagedriver.UserID, collection string) error {
	_ = collection
	if s.tx != nil && s.txWritable {
		return nil
	}
	if s.tx != nil && !s.txWritable {
		// Upgrade: release the read snapshot and take a write lock.
		_ = s.tx.Rollback()
		s.tx = nil
	}
	tx, err := s.db.Begin(true)
	if err != nil {
		return fmt.Errorf("boltstore: lock_for_write: %w", err)
	}
	s.tx = tx
	s.txWritable = true
	s.touch()
	return nil
}

// Commit terminates the current transaction, persisting any writes.
func (s *Store) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	var err error
	if s.txWritable {
		err = s.tx.Commit()
	} else {
		err = s.tx.Rollback()
	}
	s.tx = nil
	s.touch()
	if err != nil {
		return fmt.Errorf("boltstore: commit: %w", err)
	}
	return nil
}

// Rollback discards the current transaction. Idempotent.
func (s *Store) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	s.touch()
	if err != nil {
		return fmt.Errorf("boltstore: rollback: %w", err)
	}
	return nil
}

// view runs fn against the session's existing transaction if one is open,
// otherwise against a new short-lived read-only transaction.
func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	return s.db.View(fn)
}

// update runs fn against the session's existing writable transaction if
// one is open, otherwise against a new short-lived writable transaction.
func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	if s.tx != nil && s.txWritable {
		return fn(s.tx)
	}
	return s.db.Update(fn)
}
