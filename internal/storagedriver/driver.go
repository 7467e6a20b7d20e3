// Package storagedriver defines the Storage Driver interface: the
// per-backend capability set the Sync 1.5 request handlers call (spec
// §4.2). Concrete backends live in subpackages (boltstore today; spanner,
// mysql, postgres are factory cases that are not yet implemented — see
// DESIGN.md Open Question 1).
package storagedriver

import (
	"context"

	"github.com/mozilla-services/syncstorage-go/internal/synctime"
)

// UserID identifies a Sync user. There is no ordering across users.
type UserID uint64

// BSO is a Basic Storage Object as read back from storage: payload,
// sortindex, and server-assigned modified time. Expiry is not part of the
// public read shape; liveness has already been applied by the driver.
type BSO struct {
	ID        string              `json:"id"`
	Payload   string              `json:"payload"`
	SortIndex *int32              `json:"sortindex,omitempty"`
	Modified  synctime.Timestamp  `json:"modified"`
}

// BSOWrite is one record as supplied by a client write (PUT, POST, or
// batch append). TTL is relative seconds as received on the wire; nil
// means no expiry. Payload/SortIndex are pointers so a batch append can
// distinguish "not supplied" (leave existing staged value alone is NOT
// supported — appends always overwrite wholesale per spec §4.4) from a
// zero value.
type BSOWrite struct {
	ID        string
	Payload   *string
	SortIndex *int32
	TTL       *int64
}

// Sort selects the ordering of a GetBSOs/GetBSOIDs read.
type Sort int

const (
	SortNone Sort = iota
	SortNewest
	SortOldest
	SortIndex
)

// ReadFilter carries the query parameters of a storage read (spec §4.3).
type ReadFilter struct {
	IDs    []string
	Older  *synctime.Timestamp
	Newer  *synctime.Timestamp
	Sort   Sort
	Limit  int
	Offset string
	Full   bool
}

// BSOResults is the paginated result of a read. Offset is empty unless
// there are more rows to fetch.
type BSOResults struct {
	Items  []BSO
	Offset string
}

// PostResult is returned by any operation that upserts many BSOs at once
// (post_bsos, commit_batch): which ids succeeded, which failed and why,
// and the single server timestamp assigned to the whole write.
type PostResult struct {
	Modified synctime.Timestamp `json:"modified"`
	Success  []string           `json:"success"`
	Failed   map[string]string  `json:"failed"`
}

// QuotaUsage is the cached (total_bytes, count) pair the quota enforcer
// reads before admitting a write.
type QuotaUsage struct {
	TotalBytes int64
	Count      int
}

// Driver is the capability set a Sync 1.5 request handler calls. All
// operations are scoped to the UserID passed in; there is no cross-user
// visibility. A Driver instance is obtained from a connection pool and is
// not safe for concurrent use by more than one in-flight request at a
// time (mirroring a single pooled database session).
type Driver interface {
	// Transaction control (spec §4.2).
	LockForRead(ctx context.Context, user UserID, collection string) error
	LockForWrite(ctx context.Context, user UserID, collection string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Collection-level reads.
	GetCollectionTimestamps(ctx context.Context, user UserID) (map[string]synctime.Timestamp, error)
	GetCollectionTimestamp(ctx context.Context, user UserID, collection string) (synctime.Timestamp, error)
	GetCollectionCounts(ctx context.Context, user UserID) (map[string]int, error)
	GetCollectionUsage(ctx context.Context, user UserID) (map[string]int64, error)
	GetStorageTimestamp(ctx context.Context, user UserID) (synctime.Timestamp, error)
	GetStorageUsage(ctx context.Context, user UserID) (int64, error)
	GetQuotaUsage(ctx context.Context, user UserID, collection string) (QuotaUsage, error)

	// Deletes.
	DeleteStorage(ctx context.Context, user UserID) (synctime.Timestamp, error)
	DeleteCollection(ctx context.Context, user UserID, collection string, ids []string) (synctime.Timestamp, error)
	DeleteBSO(ctx context.Context, user UserID, collection, id string) error

	// BSO reads and writes.
	GetBSOs(ctx context.Context, user UserID, collection string, filter ReadFilter) (BSOResults, error)
	GetBSOIDs(ctx context.Context, user UserID, collection string, filter ReadFilter) (BSOResults, error)
	GetBSO(ctx context.Context, user UserID, collection, id string) (*BSO, error)
	PostBSOs(ctx context.Context, user UserID, collection string, records []BSOWrite) (PostResult, error)
	PutBSO(ctx context.Context, user UserID, collection string, record BSOWrite) (synctime.Timestamp, error)

	// Batch engine (spec §4.4).
	CreateBatch(ctx context.Context, user UserID, collection string, records []BSOWrite) (int64, error)
	ValidateBatch(ctx context.Context, user UserID, collection string, batchID int64) (bool, error)
	AppendToBatch(ctx context.Context, user UserID, collection string, batchID int64, records []BSOWrite) error
	GetBatch(ctx context.Context, user UserID, collection string, batchID int64) ([]BSOWrite, bool, error)
	CommitBatch(ctx context.Context, user UserID, collection string, batchID int64) (PostResult, error)
	DeleteBatch(ctx context.Context, user UserID, collection string, batchID int64) error

	// Collection id resolution (spec §4.5 contract the driver must serve).
	GetCollectionID(ctx context.Context, name string) (int, bool, error)
	CreateCollection(ctx context.Context, name string) (int, error)

	// Check is a lightweight liveness probe used by the connection pool's
	// recycler and the heartbeat endpoint.
	Check(ctx context.Context) error

	// Close releases any resources held by this driver handle.
	Close() error
}
