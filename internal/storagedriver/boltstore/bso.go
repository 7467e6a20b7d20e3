package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
	"github.com/mozilla-services/syncstorage-go/internal/synctime"
)

// noExpiry marks a BSO with no TTL.
const noExpiry = math.MaxInt64

// bsoRecord is the bso bucket's value shape.
type bsoRecord struct {
	Payload   string `json:"payload"`
	SortIndex *int32 `json:"sortindex,omitempty"`
	Modified  int64  `json:"modified"`
	Expiry    int64  `json:"expiry"`
}

func (r bsoRecord) live(nowSeconds int64) bool {
	return r.Expiry > nowSeconds
}

func expiryFromTTL(ttl *int64, nowSeconds int64) int64 {
	if ttl == nil {
		return noExpiry
	}
	return nowSeconds + *ttl
}

// nextModified computes a timestamp for a new write to (user, cid) that is
// strictly greater than the collection's current last_modified, even if
// called twice within the same 10ms clock bucket (spec invariant 2).
func nextModified(existing collMeta) synctime.Timestamp {
	now := synctime.Now()
	if int64(now) > existing.LastModified {
		return now
	}
	return synctime.Timestamp(existing.LastModified + synctime.Resolution)
}

// GetBSO returns the BSO if live, else nil.
func (s *Store) GetBSO(ctx context.Context, user storagedriver.UserID, collection, id string) (*storagedriver.BSO, error) {
	cid, found, err := s.GetCollectionID(ctx, collection)
	if err != nil || !found {
		return nil, err
	}
	now := nowSeconds()
	var out *storagedriver.BSO
	err = s.view(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBSO).Get(bsoKey(uint64(user), uint32(cid), id))
		if v == nil {
			return nil
		}
		var rec bsoRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if !rec.live(now) {
			return nil
		}
		out = &storagedriver.BSO{
			ID:        id,
			Payload:   rec.Payload,
			SortIndex: rec.SortIndex,
			Modified:  synctime.Timestamp(rec.Modified),
		}
		return nil
	})
	return out, err
}

// DeleteBSO fails KindBsoNotFound if absent.
func (s *Store) DeleteBSO(ctx context.Context, user storagedriver.UserID, collection, id string) error {
	cid, found, err := s.GetCollectionID(ctx, collection)
	if err != nil {
		return err
	}
	if !found {
		return apperror.Newf(apperror.KindBsoNotFound, "bso %q not found", id)
	}
	now := nowSeconds()
	var existed bool
	err = s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBSO)
		key := bsoKey(uint64(user), uint32(cid), id)
		v := bucket.Get(key)
		if v == nil {
			return nil
		}
		var rec bsoRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if !rec.live(now) {
			return nil
		}
		existed = true
		if err := bucket.Delete(key); err != nil {
			return err
		}
		m, ok, err := getCollMeta(tx, uint64(user), uint32(cid))
		if err != nil || !ok {
			return err
		}
		m.Count--
		m.TotalBytes -= int64(len(rec.Payload))
		if m.Count <= 0 {
			return deleteCollMeta(tx, uint64(user), uint32(cid))
		}
		return putCollMeta(tx, uint64(user), uint32(cid), m)
	})
	if err != nil {
		return err
	}
	if !existed {
		return apperror.Newf(apperror.KindBsoNotFound, "bso %q not found", id)
	}
	return nil
}

// PutBSO upserts one BSO, returning the new collection modified time.
func (s *Store) PutBSO(ctx context.Context, user storagedriver.UserID, collection string, record storagedriver.BSOWrite) (synctime.Timestamp, error) {
	result, err := s.PostBSOs(ctx, user, collection, []storagedriver.BSOWrite{record})
	if err != nil {
		return 0, err
	}
	if reason, failed := result.Failed[record.ID]; failed {
		return 0, apperror.New(apperror.KindValidation, reason)
	}
	return result.Modified, nil
}

// PostBSOs upserts many BSOs in one collection write.
func (s *Store) PostBSOs(ctx context.Context, user storagedriver.UserID, collection string, records []storagedriver.BSOWrite) (storagedriver.PostResult, error) {
	cid, err := s.ensureCollectionID(ctx, collection)
	if err != nil {
		return storagedriver.PostResult{}, err
	}

	now := nowSeconds()
	result := storagedriver.PostResult{Failed: map[string]string{}}

	err = s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBSO)
		m, _, err := getCollMeta(tx, uint64(user), uint32(cid))
		if err != nil {
			return err
		}
		modified := nextModified(m)

		for _, rec := range records {
			if !storagedriver.BSOIDOK(rec.ID) {
				result.Failed[rec.ID] = "invalid bso id"
				continue
			}
			key := bsoKey(uint64(user), uint32(cid), rec.ID)
			var existing bsoRecord
			if v := bucket.Get(key); v != nil {
				if err := json.Unmarshal(v, &existing); err != nil {
					return err
				}
				if !existing.live(now) {
					existing = bsoRecord{}
				} else {
					m.TotalBytes -= int64(len(existing.Payload))
					m.Count--
				}
			}

			next := existing
			if rec.Payload != nil {
				next.Payload = *rec.Payload
			}
			if rec.SortIndex != nil {
				next.SortIndex = rec.SortIndex
			}
			switch {
			case rec.TTL != nil:
				next.Expiry = expiryFromTTL(rec.TTL, now)
			case existing.Expiry != 0:
				next.Expiry = existing.Expiry
			default:
				next.Expiry = noExpiry
			}
			next.Modified = int64(modified)

			data, err := json.Marshal(next)
			if err != nil {
				return err
			}
			if err := bucket.Put(key, data); err != nil {
				return err
			}
			m.Count++
			m.TotalBytes += int64(len(next.Payload))
			result.Success = append(result.Success, rec.ID)
		}

		if len(result.Success) > 0 {
			m.LastModified = int64(modified)
			result.Modified = modified
			if err := putCollMeta(tx, uint64(user), uint32(cid), m); err != nil {
				return err
			}
		}
		return nil
	})
	return result, err
}

// ensureCollectionID resolves or creates collection's id, mirroring the
// collection-id cache's miss path (spec §4.5) for direct driver callers
// that bypass the cache (e.g. internal tests).
func (s *Store) ensureCollectionID(ctx context.Context, collection string) (int, error) {
	cid, found, err := s.GetCollectionID(ctx, collection)
	if err != nil {
		return 0, err
	}
	if found {
		return cid, nil
	}
	return s.CreateCollection(ctx, collection)
}

// GetBSOs returns full BSO records matching filter.
func (s *Store) GetBSOs(ctx context.Context, user storagedriver.UserID, collection string, filter storagedriver.ReadFilter) (storagedriver.BSOResults, error) {
	filter.Full = true
	return s.readBSOs(ctx, user, collection, filter)
}

// GetBSOIDs returns only ids matching filter.
func (s *Store) GetBSOIDs(ctx context.Context, user storagedriver.UserID, collection string, filter storagedriver.ReadFilter) (storagedriver.BSOResults, error) {
	filter.Full = false
	return s.readBSOs(ctx, user, collection, filter)
}

func (s *Store) readBSOs(ctx context.Context, user storagedriver.UserID, collection string, filter storagedriver.ReadFilter) (storagedriver.BSOResults, error) {
	cid, found, err := s.GetCollectionID(ctx, collection)
	if err != nil {
		return storagedriver.BSOResults{}, err
	}
	if !found {
		return storagedriver.BSOResults{}, nil
	}

	now := nowSeconds()
	idSet := map[string]bool{}
	for _, id := range filter.IDs {
		idSet[id] = true
	}

	var rows []storagedriver.BSO
	err = s.view(func(tx *bolt.Tx) error {
		prefix := bsoPrefix(uint64(user), uint32(cid))
		c := tx.Bucket(bucketBSO).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var rec bsoRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !rec.live(now) {
				continue
			}
			id := bsoIDFromKey(k)
			if len(idSet) > 0 && !idSet[id] {
				continue
			}
			if filter.Older != nil && !(synctime.Timestamp(rec.Modified) < *filter.Older) {
				continue
			}
			if filter.Newer != nil && !(synctime.Timestamp(rec.Modified) > *filter.Newer) {
				continue
			}
			rows = append(rows, storagedriver.BSO{
				ID:        id,
				Payload:   rec.Payload,
				SortIndex: rec.SortIndex,
				Modified:  synctime.Timestamp(rec.Modified),
			})
		}
		return nil
	})
	if err != nil {
		return storagedriver.BSOResults{}, err
	}

	sortRows(rows, filter.Sort)

	if filter.Offset != "" {
		rows = applyOffset(rows, filter.Offset, filter.Sort)
	}

	limit := filter.Limit
	var nextOffset string
	switch {
	case limit == 0:
		// limit=0 is a boundary case the caller must get an empty page
		// back for, not an "unlimited" sentinel; there's no prior row to
		// anchor a resume token on, so no offset is emitted either.
		rows = rows[:0]
	case len(rows) > limit:
		last := rows[limit-1]
		nextOffset = encodeOffset(last, filter.Sort)
		rows = rows[:limit]
	}

	if !filter.Full {
		for i := range rows {
			rows[i].Payload = ""
		}
	}

	return storagedriver.BSOResults{Items: rows, Offset: nextOffset}, nil
}

func sortRows(rows []storagedriver.BSO, s storagedriver.Sort) {
	switch s {
	case storagedriver.SortNewest:
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Modified != rows[j].Modified {
				return rows[i].Modified > rows[j].Modified
			}
			return rows[i].ID > rows[j].ID
		})
	case storagedriver.SortOldest:
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Modified != rows[j].Modified {
				return rows[i].Modified < rows[j].Modified
			}
			return rows[i].ID < rows[j].ID
		})
	case storagedriver.SortIndex:
		sort.Slice(rows, func(i, j int) bool {
			si, sj := sortIndexOrMin(rows[i]), sortIndexOrMin(rows[j])
			if si != sj {
				return si > sj
			}
			return rows[i].ID > rows[j].ID
		})
	default:
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Modified != rows[j].Modified {
				return rows[i].Modified > rows[j].Modified
			}
			return rows[i].ID > rows[j].ID
		})
	}
}

func sortIndexOrMin(b storagedriver.BSO) int64 {
	if b.SortIndex == nil {
		return math.MinInt64
	}
	return int64(*b.SortIndex)
}

// encodeOffset builds the opaque pagination token per spec §4.3:
// "<modified_ms>:<bso_id>" or "<sortindex>:<bso_id>" for Index sort.
func encodeOffset(b storagedriver.BSO, s storagedriver.Sort) string {
	if s == storagedriver.SortIndex {
		return fmt.Sprintf("%d:%s", sortIndexOrMin(b), b.ID)
	}
	return fmt.Sprintf("%d:%s", b.Modified.Milliseconds(), b.ID)
}

// applyOffset drops every row up to and including the row the offset
// token names, resuming from the next one.
func applyOffset(rows []storagedriver.BSO, offset string, s storagedriver.Sort) []storagedriver.BSO {
	parts := strings.SplitN(offset, ":", 2)
	if len(parts) != 2 {
		return rows
	}
	key, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return rows
	}
	id := parts[1]

	for i, r := range rows {
		var rowKey int64
		if s == storagedriver.SortIndex {
			rowKey = sortIndexOrMin(r)
		} else {
			rowKey = r.Modified.Milliseconds()
		}
		if rowKey == key && r.ID == id {
			return rows[i+1:]
		}
	}
	return rows
}

func nowSeconds() int64 {
	return synctime.Now().Milliseconds() / 1000
}
