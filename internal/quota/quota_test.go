package quota

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
)

type stubDriver struct {
	storagedriver.Driver
	usage storagedriver.QuotaUsage
}

func (s stubDriver) GetQuotaUsage(ctx context.Context, user storagedriver.UserID, collection string) (storagedriver.QuotaUsage, error) {
	return s.usage, nil
}

func TestCheckUnderLimit(t *testing.T) {
	e := New(Limits{MaxBytes: 1000})
	driver := stubDriver{usage: storagedriver.QuotaUsage{TotalBytes: 100}}
	result, err := e.Check(context.Background(), driver, storagedriver.UserID(1), "bookmarks", 50)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestCheckOverLimit(t *testing.T) {
	e := New(Limits{MaxBytes: 1000})
	driver := stubDriver{usage: storagedriver.QuotaUsage{TotalBytes: 950}}
	result, err := e.Check(context.Background(), driver, storagedriver.UserID(1), "bookmarks", 100)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestCheckNearLimitWarning(t *testing.T) {
	e := New(Limits{MaxBytes: 1000, WarnPercent: 0.9})
	driver := stubDriver{usage: storagedriver.QuotaUsage{TotalBytes: 900}}
	result, err := e.Check(context.Background(), driver, storagedriver.UserID(1), "bookmarks", 0)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.True(t, result.NearLimit)
}

func TestCheckDisabledWhenMaxBytesZero(t *testing.T) {
	e := New(Limits{})
	driver := stubDriver{usage: storagedriver.QuotaUsage{TotalBytes: 1 << 40}}
	result, err := e.Check(context.Background(), driver, storagedriver.UserID(1), "bookmarks", 1<<40)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}
