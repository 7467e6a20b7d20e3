package boltstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
)

func TestCreateAndGetBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := storagedriver.UserID(1)

	id, err := s.CreateBatch(ctx, user, "bookmarks", []storagedriver.BSOWrite{
		{ID: "a", Payload: ptrStr("1")},
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	ok, err := s.ValidateBatch(ctx, user, "bookmarks", id)
	require.NoError(t, err)
	assert.True(t, ok)

	records, found, err := s.GetBatch(ctx, user, "bookmarks", id)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ID)
}

func TestAppendToBatchOverwritesByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := storagedriver.UserID(1)

	id, err := s.CreateBatch(ctx, user, "bookmarks", []storagedriver.BSOWrite{
		{ID: "a", Payload: ptrStr("first")},
	})
	require.NoError(t, err)

	require.NoError(t, s.AppendToBatch(ctx, user, "bookmarks", id, []storagedriver.BSOWrite{
		{ID: "a", Payload: ptrStr("second")},
		{ID: "b", Payload: ptrStr("new")},
	}))

	records, _, err := s.GetBatch(ctx, user, "bookmarks", id)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "second", *records[0].Payload)
}

func TestCommitBatchAppliesRecordsAndClosesBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := storagedriver.UserID(1)

	id, err := s.CreateBatch(ctx, user, "bookmarks", []storagedriver.BSOWrite{
		{ID: "a", Payload: ptrStr("payload-a")},
	})
	require.NoError(t, err)

	result, err := s.CommitBatch(ctx, user, "bookmarks", id)
	require.NoError(t, err)
	assert.Contains(t, result.Success, "a")

	bso, err := s.GetBSO(ctx, user, "bookmarks", "a")
	require.NoError(t, err)
	require.NotNil(t, bso)
	assert.Equal(t, "payload-a", bso.Payload)

	_, found, err := s.GetBatch(ctx, user, "bookmarks", id)
	require.NoError(t, err)
	assert.False(t, found, "a committed batch is no longer Open")
}

func TestAppendToClosedBatchFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := storagedriver.UserID(1)

	id, err := s.CreateBatch(ctx, user, "bookmarks", nil)
	require.NoError(t, err)
	_, err = s.CommitBatch(ctx, user, "bookmarks", id)
	require.NoError(t, err)

	err = s.AppendToBatch(ctx, user, "bookmarks", id, []storagedriver.BSOWrite{{ID: "a", Payload: ptrStr("x")}})
	require.Error(t, err)
	assert.Equal(t, apperror.KindBatchNotFound, apperror.KindOf(err))
}

func TestDeleteBatchDiscardsStagedRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := storagedriver.UserID(1)

	id, err := s.CreateBatch(ctx, user, "bookmarks", []storagedriver.BSOWrite{{ID: "a", Payload: ptrStr("x")}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteBatch(ctx, user, "bookmarks", id))

	ok, err := s.ValidateBatch(ctx, user, "bookmarks", id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateBatchUnknownID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ok, err := s.ValidateBatch(ctx, storagedriver.UserID(1), "bookmarks", 999)
	require.NoError(t, err)
	assert.False(t, ok)
}
