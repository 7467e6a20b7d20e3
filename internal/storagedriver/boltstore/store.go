// Package boltstore implements storagedriver.Driver over a single embedded
// go.etcd.io/bbolt file, following the bucket-per-entity, JSON-marshaled
// value shape of the teacher's pkg/storage/boltdb.go. It is the "bolt://"
// (sqlite-analog) backend named in spec §9's factory.
//
// bbolt itself only allows one writable transaction at a time against a
// database file; that single-writer guarantee is coarser than spec §5's
// per-(user,collection) serialization but still correct (it's strictly
// stronger), so no additional in-process locking is layered on top of it.
package boltstore

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
)

var (
	bucketCollectionNames = []byte("collection_names")
	bucketCollectionSeq   = []byte("collection_seq")
	bucketCollMeta        = []byte("collection_meta")
	bucketBSO             = []byte("bso")
	bucketBatches         = []byte("batches")
	bucketBatchSeq        = []byte("batch_seq")
	bucketUserCreated     = []byte("user_created")
)

// Store implements storagedriver.Driver. One Store value represents one
// pooled session: it may hold an in-flight transaction between
// LockForRead/LockForWrite and Commit/Rollback. Multiple Store values
// created via NewSession share the same underlying *bolt.DB handle, which
// bbolt itself serializes safely.
//
// Only one Store per *bolt.DB is the "root" (the value returned by Open).
// Every value returned by NewSession is a non-root session: closing it must
// not close the shared *bolt.DB, since the pool recycles and closes sessions
// independently while other sessions (and the root, at process shutdown)
// still need the file open. isRoot gates that.
type Store struct {
	db   *bolt.DB
	path string

	isRoot bool

	createdAt  time.Time
	lastUsedAt time.Time

	tx         *bolt.Tx
	txWritable bool

	batchIDs *batchIDAllocator
}

// Open creates or opens the bolt file at path and ensures all buckets
// exist. path == ":memory:" is not supported by bbolt; use a temp file
// for tests instead.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("boltstore: empty database path")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: opening %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCollectionNames, bucketCollectionSeq, bucketCollMeta, bucketBSO, bucketBatches, bucketBatchSeq, bucketUserCreated} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return seedWellKnownCollections(tx)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	now := time.Now()
	return &Store{
		db:         db,
		path:       path,
		isRoot:     true,
		createdAt:  now,
		lastUsedAt: now,
		batchIDs:   newBatchIDAllocator(),
	}, nil
}

func seedWellKnownCollections(tx *bolt.Tx) error {
	names := tx.Bucket(bucketCollectionNames)
	seq := tx.Bucket(bucketCollectionSeq)
	for name, id := range storagedriver.WellKnownCollections {
		key := []byte(name)
		if names.Get(key) != nil {
			continue
		}
		if err := names.Put(key, encodeUint32(uint32(id))); err != nil {
			return err
		}
	}
	// Prime the sequence so dynamically created collections start at 100.
	if seq.Sequence() < storagedriver.FirstDynamicCollectionID-1 {
		if err := seq.SetSequence(storagedriver.FirstDynamicCollectionID - 1); err != nil {
			return err
		}
	}
	return nil
}

// NewSession returns a new Store sharing the same underlying *bolt.DB, for
// use as a separate pooled session. The returned session is never root:
// its Close is a no-op, so the pool's recycler (internal/pool) can close
// and replace sessions freely without ever touching the shared database
// file. Only the root Store (the one Open returned) actually closes it.
func (s *Store) NewSession() storagedriver.Driver {
	now := time.Now()
	return &Store{
		db:         s.db,
		path:       s.path,
		isRoot:     false,
		createdAt:  now,
		lastUsedAt: now,
		batchIDs:   s.batchIDs,
	}
}

// CreatedAt reports when this session handle was created.
func (s *Store) CreatedAt() time.Time { return s.createdAt }

// LastUsedAt reports the approximate time of the last operation on this
// session.
func (s *Store) LastUsedAt() time.Time { return s.lastUsedAt }

// touch records that an operation just occurred, for the pool recycler's
// max-idle check.
func (s *Store) touch() { s.lastUsedAt = time.Now() }

// Check is a lightweight liveness probe.
func (s *Store) Check(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		_ = tx.Bucket(bucketCollMeta)
		return nil
	})
}

// Close closes the underlying database when called on the root Store (the
// one Open returned), at process shutdown. Called on a pooled session
// returned by NewSession, it's a no-op: sessions share the root's *bolt.DB,
// and the pool recycles sessions throughout the process's lifetime, so a
// session closing the shared handle would take down every other session
// still using it.
func (s *Store) Close() error {
	if !s.isRoot {
		return nil
	}
	return s.db.Close()
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
	return b
}

func decodeUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
