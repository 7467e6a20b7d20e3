package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
)

type fakeDriver struct {
	storagedriver.Driver
	closed int32
}

func (f *fakeDriver) Check(ctx context.Context) error { return nil }
func (f *fakeDriver) Close() error {
	atomic.StoreInt32(&f.closed, 1)
	return nil
}

func newFakeFactory() (Factory, *int32) {
	var created int32
	return func() (storagedriver.Driver, error) {
		atomic.AddInt32(&created, 1)
		return &fakeDriver{}, nil
	}, &created
}

func TestNewCreatesMaxSizeSessions(t *testing.T) {
	factory, created := newFakeFactory()
	p, err := New(Config{MaxSize: 3, ConnectionTimeout: time.Second}, factory)
	require.NoError(t, err)
	defer p.Close()
	assert.EqualValues(t, 3, *created)
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	factory, _ := newFakeFactory()
	p, err := New(Config{MaxSize: 1, ConnectionTimeout: time.Second}, factory)
	require.NoError(t, err)
	defer p.Close()

	driver, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, driver)

	p.Release(driver)
	driver2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, driver, driver2)
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	factory, _ := newFakeFactory()
	p, err := New(Config{MaxSize: 1, ConnectionTimeout: 20 * time.Millisecond}, factory)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperror.KindPoolTimeout, apperror.KindOf(err))
}

func TestCloseClosesAllSessions(t *testing.T) {
	factory, _ := newFakeFactory()
	p, err := New(Config{MaxSize: 2, ConnectionTimeout: time.Second}, factory)
	require.NoError(t, err)

	driver, err := p.Acquire(context.Background())
	require.NoError(t, err)
	fake := driver.(*fakeDriver)

	require.NoError(t, p.Close())
	assert.EqualValues(t, 1, atomic.LoadInt32(&fake.closed))
}
