package boltstore

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
	"github.com/mozilla-services/syncstorage-go/internal/synctime"
)

// collMeta is the collection_meta bucket's value shape.
type collMeta struct {
	LastModified int64 `json:"last_modified"`
	Count        int   `json:"count"`
	TotalBytes   int64 `json:"total_bytes"`
}

func getCollMeta(tx *bolt.Tx, user uint64, cid uint32) (collMeta, bool, error) {
	v := tx.Bucket(bucketCollMeta).Get(collMetaKey(user, cid))
	if v == nil {
		return collMeta{}, false, nil
	}
	var m collMeta
	if err := json.Unmarshal(v, &m); err != nil {
		return collMeta{}, false, fmt.Errorf("decoding collection meta: %w", err)
	}
	return m, true, nil
}

func putCollMeta(tx *bolt.Tx, user uint64, cid uint32, m collMeta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketCollMeta).Put(collMetaKey(user, cid), data)
}

func deleteCollMeta(tx *bolt.Tx, user uint64, cid uint32) error {
	return tx.Bucket(bucketCollMeta).Delete(collMetaKey(user, cid))
}

// idToNameMap scans the global collection_names bucket. Bounded by the
// number of distinct collection names ever created process-wide, which is
// small (well-knowns plus any custom collections).
func idToNameMap(tx *bolt.Tx) (map[uint32]string, error) {
	out := map[uint32]string{}
	err := tx.Bucket(bucketCollectionNames).ForEach(func(k, v []byte) error {
		out[decodeUint32(v)] = string(k)
		return nil
	})
	return out, err
}

// GetCollectionTimestamps returns name -> last_modified for every
// non-empty collection of user.
func (s *Store) GetCollectionTimestamps(ctx context.Context, user storagedriver.UserID) (map[string]synctime.Timestamp, error) {
	out := map[string]synctime.Timestamp{}
	err := s.view(func(tx *bolt.Tx) error {
		names, err := idToNameMap(tx)
		if err != nil {
			return err
		}
		prefix := userPrefix(uint64(user))
		c := tx.Bucket(bucketCollMeta).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			cid := decodeUint32(k[8:12])
			var m collMeta
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if name, ok := names[cid]; ok {
				out[name] = synctime.Timestamp(m.LastModified)
			}
		}
		return nil
	})
	return out, err
}

// GetCollectionTimestamp fails with KindCollectionNotFound if the
// collection has no live BSOs.
func (s *Store) GetCollectionTimestamp(ctx context.Context, user storagedriver.UserID, collection string) (synctime.Timestamp, error) {
	cid, found, err := s.GetCollectionID(ctx, collection)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, apperror.Newf(apperror.KindCollectionNotFound, "collection %q not found", collection)
	}
	var m collMeta
	var ok bool
	err = s.view(func(tx *bolt.Tx) error {
		var ierr error
		m, ok, ierr = getCollMeta(tx, uint64(user), uint32(cid))
		return ierr
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apperror.Newf(apperror.KindCollectionNotFound, "collection %q not found", collection)
	}
	return synctime.Timestamp(m.LastModified), nil
}

// GetCollectionCounts returns name -> live BSO count.
func (s *Store) GetCollectionCounts(ctx context.Context, user storagedriver.UserID) (map[string]int, error) {
	out := map[string]int{}
	ts, err := s.collectMeta(ctx, user)
	if err != nil {
		return nil, err
	}
	for name, m := range ts {
		out[name] = m.Count
	}
	return out, nil
}

// GetCollectionUsage returns name -> total payload bytes.
func (s *Store) GetCollectionUsage(ctx context.Context, user storagedriver.UserID) (map[string]int64, error) {
	out := map[string]int64{}
	ts, err := s.collectMeta(ctx, user)
	if err != nil {
		return nil, err
	}
	for name, m := range ts {
		out[name] = m.TotalBytes
	}
	return out, nil
}

// collectMeta is the shared scan behind GetCollectionCounts/Usage.
func (s *Store) collectMeta(ctx context.Context, user storagedriver.UserID) (map[string]collMeta, error) {
	out := map[string]collMeta{}
	err := s.view(func(tx *bolt.Tx) error {
		names, err := idToNameMap(tx)
		if err != nil {
			return err
		}
		prefix := userPrefix(uint64(user))
		c := tx.Bucket(bucketCollMeta).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			cid := decodeUint32(k[8:12])
			var m collMeta
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if name, ok := names[cid]; ok {
				out[name] = m
			}
		}
		return nil
	})
	return out, err
}

// GetStorageTimestamp returns the max collection timestamp, or the user's
// creation time if they have no collections yet.
func (s *Store) GetStorageTimestamp(ctx context.Context, user storagedriver.UserID) (synctime.Timestamp, error) {
	ts, err := s.GetCollectionTimestamps(ctx, user)
	if err != nil {
		return 0, err
	}
	var max synctime.Timestamp
	for _, t := range ts {
		max = synctime.Max(max, t)
	}
	if max > 0 {
		return max, nil
	}
	return s.getOrSetUserCreated(ctx, user)
}

func (s *Store) getOrSetUserCreated(ctx context.Context, user storagedriver.UserID) (synctime.Timestamp, error) {
	var result synctime.Timestamp
	err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUserCreated)
		key := encodeUint64(uint64(user))
		if v := b.Get(key); v != nil {
			result = synctime.Timestamp(decodeUint64(v))
			return nil
		}
		now := synctime.Now()
		result = now
		return b.Put(key, encodeUint64(uint64(now.Milliseconds())))
	})
	return result, err
}

// GetStorageUsage sums payload bytes over all of the user's collections.
func (s *Store) GetStorageUsage(ctx context.Context, user storagedriver.UserID) (int64, error) {
	usage, err := s.GetCollectionUsage(ctx, user)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, b := range usage {
		total += b
	}
	return total, nil
}

// GetQuotaUsage returns the cached usage the quota enforcer checks writes
// against.
func (s *Store) GetQuotaUsage(ctx context.Context, user storagedriver.UserID, collection string) (storagedriver.QuotaUsage, error) {
	cid, found, err := s.GetCollectionID(ctx, collection)
	if err != nil {
		return storagedriver.QuotaUsage{}, err
	}
	if !found {
		return storagedriver.QuotaUsage{}, nil
	}
	var m collMeta
	err = s.view(func(tx *bolt.Tx) error {
		var ok bool
		var ierr error
		m, ok, ierr = getCollMeta(tx, uint64(user), uint32(cid))
		_ = ok
		return ierr
	})
	if err != nil {
		return storagedriver.QuotaUsage{}, err
	}
	return storagedriver.QuotaUsage{TotalBytes: m.TotalBytes, Count: m.Count}, nil
}

// DeleteStorage removes every collection and BSO belonging to user.
func (s *Store) DeleteStorage(ctx context.Context, user storagedriver.UserID) (synctime.Timestamp, error) {
	prefix := userPrefix(uint64(user))
	err := s.update(func(tx *bolt.Tx) error {
		if err := deletePrefix(tx.Bucket(bucketCollMeta), prefix); err != nil {
			return err
		}
		if err := deletePrefix(tx.Bucket(bucketBSO), prefix); err != nil {
			return err
		}
		if err := deletePrefix(tx.Bucket(bucketBatches), prefix); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return synctime.Now(), nil
}

func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	c := b.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// DeleteCollection removes either specific BSOs (ids non-empty) or the
// whole collection (ids empty). Fails KindCollectionNotFound if nothing
// matched.
func (s *Store) DeleteCollection(ctx context.Context, user storagedriver.UserID, collection string, ids []string) (synctime.Timestamp, error) {
	cid, found, err := s.GetCollectionID(ctx, collection)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, apperror.Newf(apperror.KindCollectionNotFound, "collection %q not found", collection)
	}

	var matched int
	err = s.update(func(tx *bolt.Tx) error {
		bsoBucket := tx.Bucket(bucketBSO)
		if len(ids) == 0 {
			prefix := bsoPrefix(uint64(user), uint32(cid))
			c := bsoBucket.Cursor()
			var keys [][]byte
			for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
				keys = append(keys, append([]byte(nil), k...))
			}
			matched = len(keys)
			for _, k := range keys {
				if err := bsoBucket.Delete(k); err != nil {
					return err
				}
			}
			return deleteCollMeta(tx, uint64(user), uint32(cid))
		}

		m, ok, err := getCollMeta(tx, uint64(user), uint32(cid))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		for _, id := range ids {
			key := bsoKey(uint64(user), uint32(cid), id)
			v := bsoBucket.Get(key)
			if v == nil {
				continue
			}
			var rec bsoRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			matched++
			m.Count--
			m.TotalBytes -= int64(len(rec.Payload))
			if err := bsoBucket.Delete(key); err != nil {
				return err
			}
		}
		if m.Count <= 0 {
			return deleteCollMeta(tx, uint64(user), uint32(cid))
		}
		return putCollMeta(tx, uint64(user), uint32(cid), m)
	})
	if err != nil {
		return 0, err
	}
	if matched == 0 {
		return 0, apperror.Newf(apperror.KindCollectionNotFound, "no matching rows in collection %q", collection)
	}
	return s.GetStorageTimestamp(ctx, user)
}
