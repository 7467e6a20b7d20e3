package syncapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
	"github.com/mozilla-services/syncstorage-go/internal/quota"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
	"github.com/mozilla-services/syncstorage-go/internal/synctime"
)

// handler holds the shared Deps and implements every route NewRouter wires
// up. Its methods follow the reference SyncUserHandler shape: acquire a
// pooled driver session, lock it, do the work, commit or roll back.
type handler struct {
	deps Deps
}

// session wraps a checked-out driver for the lifetime of one request,
// guaranteeing it's always returned to the pool.
type session struct {
	h      *handler
	driver storagedriver.Driver
}

func (h *handler) acquire(ctx context.Context) (*session, error) {
	driver, err := h.deps.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &session{h: h, driver: driver}, nil
}

func (s *session) release() {
	s.h.deps.Pool.Release(s.driver)
}

func (s *session) commit(ctx context.Context) error {
	return s.driver.Commit(ctx)
}

func (s *session) rollback(ctx context.Context) {
	_ = s.driver.Rollback(ctx)
}

func (h *handler) deleteEverything(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := uidFromRequest(r)

	sess, err := h.acquire(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer sess.release()

	if err := sess.driver.LockForWrite(ctx, uid, ""); err != nil {
		writeAppError(w, err)
		return
	}

	modified, err := sess.driver.DeleteStorage(ctx, uid)
	if err != nil {
		sess.rollback(ctx)
		writeAppError(w, err)
		return
	}
	if err := sess.commit(ctx); err != nil {
		writeAppError(w, err)
		return
	}

	setTimestampHeaders(w, modified)
	writeJSON(w, modified)
}

func (h *handler) infoCollections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := uidFromRequest(r)

	sess, err := h.acquire(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer sess.release()

	if err := sess.driver.LockForRead(ctx, uid, ""); err != nil {
		writeAppError(w, err)
		return
	}

	timestamps, err := sess.driver.GetCollectionTimestamps(ctx, uid)
	if err != nil {
		sess.rollback(ctx)
		writeAppError(w, err)
		return
	}
	storageModified, err := sess.driver.GetStorageTimestamp(ctx, uid)
	if err != nil {
		sess.rollback(ctx)
		writeAppError(w, err)
		return
	}
	sess.rollback(ctx)

	setTimestampHeaders(w, storageModified)
	writeJSON(w, timestamps)
}

func (h *handler) infoCollectionUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := uidFromRequest(r)

	sess, err := h.acquire(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer sess.release()

	if err := sess.driver.LockForRead(ctx, uid, ""); err != nil {
		writeAppError(w, err)
		return
	}

	usage, err := sess.driver.GetCollectionUsage(ctx, uid)
	sess.rollback(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, usage)
}

func (h *handler) infoCollectionCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := uidFromRequest(r)

	sess, err := h.acquire(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer sess.release()

	if err := sess.driver.LockForRead(ctx, uid, ""); err != nil {
		writeAppError(w, err)
		return
	}

	counts, err := sess.driver.GetCollectionCounts(ctx, uid)
	sess.rollback(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, counts)
}

func (h *handler) infoQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := uidFromRequest(r)

	sess, err := h.acquire(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer sess.release()

	if err := sess.driver.LockForRead(ctx, uid, ""); err != nil {
		writeAppError(w, err)
		return
	}

	usage, err := sess.driver.GetStorageUsage(ctx, uid)
	sess.rollback(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}

	body := map[string]any{"usage": usage}
	if h.deps.Quota != nil {
		if limit := h.deps.Quota.Limits().MaxBytes; limit > 0 {
			body["quota"] = limit
		}
	}
	writeJSON(w, body)
}

func (h *handler) collectionGET(w http.ResponseWriter, r *http.Request) {
	if !acceptHeaderOK(w, r) {
		return
	}
	ctx := r.Context()
	uid := uidFromRequest(r)
	collection := collectionFromRequest(r)

	filter, err := parseReadFilter(r, h.deps.MaxBSOGetLimit)
	if err != nil {
		writeAppError(w, err)
		return
	}

	sess, err := h.acquire(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer sess.release()

	if err := sess.driver.LockForRead(ctx, uid, collection); err != nil {
		writeAppError(w, err)
		return
	}

	modified, err := sess.driver.GetCollectionTimestamp(ctx, uid, collection)
	if err != nil && !apperror.Is(err, apperror.KindCollectionNotFound) {
		sess.rollback(ctx)
		writeAppError(w, err)
		return
	}
	if !checkPreconditions(w, r, modified) {
		sess.rollback(ctx)
		return
	}

	var results storagedriver.BSOResults
	if filter.Full {
		results, err = sess.driver.GetBSOs(ctx, uid, collection, filter)
	} else {
		results, err = sess.driver.GetBSOIDs(ctx, uid, collection, filter)
	}
	sess.rollback(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}

	setTimestampHeaders(w, modified)
	if results.Offset != "" {
		w.Header().Set("X-Weave-Next-Offset", results.Offset)
	}
	if filter.Full {
		writeJSON(w, results.Items)
		return
	}
	ids := make([]string, len(results.Items))
	for i, b := range results.Items {
		ids[i] = b.ID
	}
	writeJSON(w, ids)
}

func (h *handler) collectionPOST(w http.ResponseWriter, r *http.Request) {
	if !acceptHeaderOK(w, r) {
		return
	}
	ctx := r.Context()
	uid := uidFromRequest(r)
	collection := collectionFromRequest(r)

	records, err := decodeBSOWrites(r, h.deps.MaxPostRecords, h.deps.MaxPayloadBytes)
	if err != nil {
		writeAppError(w, err)
		return
	}

	sess, err := h.acquire(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer sess.release()

	if h.deps.Collections != nil {
		if _, err := h.deps.Collections.Resolve(ctx, sess.driver, collection); err != nil {
			writeAppError(w, err)
			return
		}
	}

	if err := sess.driver.LockForWrite(ctx, uid, collection); err != nil {
		writeAppError(w, err)
		return
	}

	if h.deps.Quota != nil {
		result, err := h.deps.Quota.Check(ctx, sess.driver, uid, collection, totalPayloadSize(records))
		if err != nil {
			sess.rollback(ctx)
			writeAppError(w, err)
			return
		}
		if !result.Allowed {
			sess.rollback(ctx)
			writeAppError(w, quota.Reject(uid))
			return
		}
		if result.NearLimit {
			w.Header().Set("X-Weave-Quota-Remaining", "low")
		}
	}

	batchParam := r.URL.Query().Get("batch")
	commit := r.URL.Query().Get("commit") == "true"

	var result storagedriver.PostResult
	var batchID int64
	inBatch := batchParam != ""
	switch {
	case batchParam == "":
		result, err = sess.driver.PostBSOs(ctx, uid, collection, records)
	case batchParam == "true":
		batchID, err = sess.driver.CreateBatch(ctx, uid, collection, records)
		if err == nil {
			result, err = finishBatch(ctx, sess.driver, uid, collection, batchID, commit)
		}
	default:
		batchID, err = parseBatchID(batchParam)
		if err == nil {
			err = sess.driver.AppendToBatch(ctx, uid, collection, batchID, records)
		}
		if err == nil {
			result, err = finishBatch(ctx, sess.driver, uid, collection, batchID, commit)
		}
	}
	if err != nil {
		sess.rollback(ctx)
		writeAppError(w, err)
		return
	}
	if err := sess.commit(ctx); err != nil {
		writeAppError(w, err)
		return
	}

	setTimestampHeaders(w, result.Modified)
	if inBatch && !commit {
		// The client needs the batch id back to append to it (?batch=<id>)
		// or commit it (?batch=<id>&commit=true); without it the batch it
		// just created or appended to is unreachable.
		writeJSON(w, postBatchResponse{PostResult: result, Batch: strconv.FormatInt(batchID, 10)})
		return
	}
	writeJSON(w, result)
}

// postBatchResponse adds the batch id to a PostResult's wire shape while a
// batch is still open, per spec §6's batch query parameters.
type postBatchResponse struct {
	storagedriver.PostResult
	Batch string `json:"batch"`
}

// finishBatch returns the not-yet-committed batch's pending state as a
// PostResult when commit is false, or applies it via CommitBatch when true.
func finishBatch(ctx context.Context, driver storagedriver.Driver, uid storagedriver.UserID, collection string, batchID int64, commit bool) (storagedriver.PostResult, error) {
	if !commit {
		return storagedriver.PostResult{Modified: synctime.Now()}, nil
	}
	return driver.CommitBatch(ctx, uid, collection, batchID)
}

func (h *handler) collectionDELETE(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := uidFromRequest(r)
	collection := collectionFromRequest(r)

	var ids []string
	if v := r.URL.Query().Get("ids"); v != "" {
		filter, err := parseReadFilter(r, h.deps.MaxBSOGetLimit)
		if err != nil {
			writeAppError(w, err)
			return
		}
		ids = filter.IDs
	}

	sess, err := h.acquire(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer sess.release()

	if err := sess.driver.LockForWrite(ctx, uid, collection); err != nil {
		writeAppError(w, err)
		return
	}

	modified, err := sess.driver.DeleteCollection(ctx, uid, collection, ids)
	if err != nil {
		sess.rollback(ctx)
		writeAppError(w, err)
		return
	}
	if err := sess.commit(ctx); err != nil {
		writeAppError(w, err)
		return
	}

	setTimestampHeaders(w, modified)
	writeJSON(w, modified)
}

func (h *handler) bsoGET(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := uidFromRequest(r)
	collection := collectionFromRequest(r)
	bsoID := bsoIDFromRequest(r)

	sess, err := h.acquire(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer sess.release()

	if err := sess.driver.LockForRead(ctx, uid, collection); err != nil {
		writeAppError(w, err)
		return
	}

	bso, err := sess.driver.GetBSO(ctx, uid, collection, bsoID)
	sess.rollback(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if bso == nil {
		writeAppError(w, apperror.New(apperror.KindBsoNotFound, "bso not found"))
		return
	}

	if !checkPreconditions(w, r, bso.Modified) {
		return
	}

	setTimestampHeaders(w, bso.Modified)
	writeJSON(w, bso)
}

func (h *handler) bsoPUT(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := uidFromRequest(r)
	collection := collectionFromRequest(r)
	bsoID := bsoIDFromRequest(r)

	record, err := decodeBSOWrite(r, bsoID, h.deps.MaxPayloadBytes)
	if err != nil {
		writeAppError(w, err)
		return
	}

	sess, err := h.acquire(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer sess.release()

	if h.deps.Collections != nil {
		if _, err := h.deps.Collections.Resolve(ctx, sess.driver, collection); err != nil {
			writeAppError(w, err)
			return
		}
	}

	if err := sess.driver.LockForWrite(ctx, uid, collection); err != nil {
		writeAppError(w, err)
		return
	}

	if existing, err := sess.driver.GetBSO(ctx, uid, collection, bsoID); err == nil && existing != nil {
		if !checkPreconditions(w, r, existing.Modified) {
			sess.rollback(ctx)
			return
		}
	}

	if h.deps.Quota != nil {
		payloadSize := int64(0)
		if record.Payload != nil {
			payloadSize = int64(len(*record.Payload))
		}
		result, err := h.deps.Quota.Check(ctx, sess.driver, uid, collection, payloadSize)
		if err != nil {
			sess.rollback(ctx)
			writeAppError(w, err)
			return
		}
		if !result.Allowed {
			sess.rollback(ctx)
			writeAppError(w, quota.Reject(uid))
			return
		}
	}

	modified, err := sess.driver.PutBSO(ctx, uid, collection, record)
	if err != nil {
		sess.rollback(ctx)
		writeAppError(w, err)
		return
	}
	if err := sess.commit(ctx); err != nil {
		writeAppError(w, err)
		return
	}

	setTimestampHeaders(w, modified)
	writeJSON(w, modified)
}

func (h *handler) bsoDELETE(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := uidFromRequest(r)
	collection := collectionFromRequest(r)
	bsoID := bsoIDFromRequest(r)

	sess, err := h.acquire(ctx)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer sess.release()

	if err := sess.driver.LockForWrite(ctx, uid, collection); err != nil {
		writeAppError(w, err)
		return
	}

	if existing, err := sess.driver.GetBSO(ctx, uid, collection, bsoID); err == nil && existing != nil {
		if !checkPreconditions(w, r, existing.Modified) {
			sess.rollback(ctx)
			return
		}
	}

	if err := sess.driver.DeleteBSO(ctx, uid, collection, bsoID); err != nil {
		sess.rollback(ctx)
		writeAppError(w, err)
		return
	}
	// Deleting the last live BSO in a collection can drop the collection's
	// own meta record, so GetCollectionTimestamp may legitimately report
	// CollectionNotFound right after a successful delete. That's not a
	// failure of this request: fall back to the storage-wide timestamp,
	// which DeleteBSO still advances.
	modified, err := sess.driver.GetCollectionTimestamp(ctx, uid, collection)
	if apperror.Is(err, apperror.KindCollectionNotFound) {
		modified, err = sess.driver.GetStorageTimestamp(ctx, uid)
	}
	if err != nil {
		sess.rollback(ctx)
		writeAppError(w, err)
		return
	}
	if err := sess.commit(ctx); err != nil {
		writeAppError(w, err)
		return
	}

	setTimestampHeaders(w, modified)
	writeJSON(w, modified)
}

func setTimestampHeaders(w http.ResponseWriter, ts synctime.Timestamp) {
	w.Header().Set("X-Last-Modified", ts.AsSecondsString())
	w.Header().Set("X-Weave-Timestamp", ts.AsSecondsString())
}

func parseBatchID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apperror.New(apperror.KindBatchNotFound, "invalid batch id")
	}
	return id, nil
}
