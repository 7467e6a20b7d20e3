package boltstore

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
	"github.com/mozilla-services/syncstorage-go/internal/synctime"
)

// batchLifetime bounds how long a batch may stay Open before it's treated
// as Expired (spec §4.4).
const batchLifetime = 2 * time.Hour

// batchIDAllocator hands out batch ids from the database's own sequence,
// so ids stay monotonic and unique across every session sharing a Store,
// including across process restarts.
type batchIDAllocator struct{}

func newBatchIDAllocator() *batchIDAllocator {
	return &batchIDAllocator{}
}

func (a *batchIDAllocator) next(tx *bolt.Tx) (int64, error) {
	seq, err := tx.Bucket(bucketBatchSeq).NextSequence()
	if err != nil {
		return 0, err
	}
	return int64(seq), nil
}

// batchRecord is the batches bucket's value shape. State is derived from
// CreatedAt/CommittedAt rather than stored explicitly (spec §4.4's
// Absent/Open/Committed/Expired state machine).
type batchRecord struct {
	Records     []storagedriver.BSOWrite `json:"records"`
	CreatedAt   int64                    `json:"created_at"`
	CommittedAt int64                    `json:"committed_at,omitempty"`
}

func (b batchRecord) expired(now int64) bool {
	return b.CommittedAt == 0 && now-b.CreatedAt > batchLifetime.Milliseconds()
}

// CreateBatch opens a new batch seeded with records (which may be empty)
// and returns its id.
func (s *Store) CreateBatch(ctx context.Context, user storagedriver.UserID, collection string, records []storagedriver.BSOWrite) (int64, error) {
	cid, err := s.ensureCollectionID(ctx, collection)
	if err != nil {
		return 0, err
	}

	now := synctime.Now()
	var id int64
	err = s.update(func(tx *bolt.Tx) error {
		var ierr error
		id, ierr = s.batchIDs.next(tx)
		if ierr != nil {
			return ierr
		}
		rec := batchRecord{Records: records, CreatedAt: int64(now)}
		data, ierr := json.Marshal(rec)
		if ierr != nil {
			return ierr
		}
		return tx.Bucket(bucketBatches).Put(batchKey(uint64(user), uint32(cid), id), data)
	})
	return id, err
}

// ValidateBatch reports whether batchID names a still-Open batch for this
// user/collection.
func (s *Store) ValidateBatch(ctx context.Context, user storagedriver.UserID, collection string, batchID int64) (bool, error) {
	_, ok, err := s.getOpenBatch(ctx, user, collection, batchID)
	return ok, err
}

func (s *Store) getOpenBatch(ctx context.Context, user storagedriver.UserID, collection string, batchID int64) (batchRecord, bool, error) {
	cid, found, err := s.GetCollectionID(ctx, collection)
	if err != nil || !found {
		return batchRecord{}, false, err
	}
	now := synctime.Now()
	var rec batchRecord
	var ok bool
	err = s.view(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBatches).Get(batchKey(uint64(user), uint32(cid), batchID))
		if v == nil {
			return nil
		}
		if jerr := json.Unmarshal(v, &rec); jerr != nil {
			return jerr
		}
		if rec.CommittedAt != 0 || rec.expired(int64(now)) {
			return nil
		}
		ok = true
		return nil
	})
	return rec, ok, err
}

// AppendToBatch adds records to an Open batch, wholesale-overwriting by id
// (spec §4.4: appends never merge with a previously staged record sharing
// the same id).
func (s *Store) AppendToBatch(ctx context.Context, user storagedriver.UserID, collection string, batchID int64, records []storagedriver.BSOWrite) error {
	cid, found, err := s.GetCollectionID(ctx, collection)
	if err != nil {
		return err
	}
	if !found {
		return apperror.Newf(apperror.KindBatchNotFound, "batch %d not found", batchID)
	}
	now := synctime.Now()
	key := batchKey(uint64(user), uint32(cid), batchID)

	return s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBatches)
		v := bucket.Get(key)
		if v == nil {
			return apperror.Newf(apperror.KindBatchNotFound, "batch %d not found", batchID)
		}
		var rec batchRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if rec.CommittedAt != 0 || rec.expired(int64(now)) {
			return apperror.Newf(apperror.KindBatchNotFound, "batch %d not found", batchID)
		}

		byID := map[string]int{}
		for i, r := range rec.Records {
			byID[r.ID] = i
		}
		for _, r := range records {
			if i, exists := byID[r.ID]; exists {
				rec.Records[i] = r
			} else {
				byID[r.ID] = len(rec.Records)
				rec.Records = append(rec.Records, r)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put(key, data)
	})
}

// GetBatch returns the records currently staged in batchID.
func (s *Store) GetBatch(ctx context.Context, user storagedriver.UserID, collection string, batchID int64) ([]storagedriver.BSOWrite, bool, error) {
	rec, ok, err := s.getOpenBatch(ctx, user, collection, batchID)
	if err != nil || !ok {
		return nil, ok, err
	}
	return rec.Records, true, nil
}

// CommitBatch applies every staged record as a single PostBSOs write and
// marks the batch Committed so it can no longer be appended to.
func (s *Store) CommitBatch(ctx context.Context, user storagedriver.UserID, collection string, batchID int64) (storagedriver.PostResult, error) {
	cid, found, err := s.GetCollectionID(ctx, collection)
	if err != nil {
		return storagedriver.PostResult{}, err
	}
	if !found {
		return storagedriver.PostResult{}, apperror.Newf(apperror.KindBatchNotFound, "batch %d not found", batchID)
	}

	rec, ok, err := s.getOpenBatch(ctx, user, collection, batchID)
	if err != nil {
		return storagedriver.PostResult{}, err
	}
	if !ok {
		return storagedriver.PostResult{}, apperror.Newf(apperror.KindBatchNotFound, "batch %d not found", batchID)
	}

	result, err := s.PostBSOs(ctx, user, collection, rec.Records)
	if err != nil {
		return storagedriver.PostResult{}, err
	}

	now := synctime.Now()
	err = s.update(func(tx *bolt.Tx) error {
		key := batchKey(uint64(user), uint32(cid), batchID)
		v := tx.Bucket(bucketBatches).Get(key)
		if v == nil {
			return nil
		}
		var stored batchRecord
		if jerr := json.Unmarshal(v, &stored); jerr != nil {
			return jerr
		}
		stored.CommittedAt = int64(now)
		data, jerr := json.Marshal(stored)
		if jerr != nil {
			return jerr
		}
		return tx.Bucket(bucketBatches).Put(key, data)
	})
	return result, err
}

// DeleteBatch discards a batch without committing it.
func (s *Store) DeleteBatch(ctx context.Context, user storagedriver.UserID, collection string, batchID int64) error {
	cid, found, err := s.GetCollectionID(ctx, collection)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBatches).Delete(batchKey(uint64(user), uint32(cid), batchID))
	})
}
