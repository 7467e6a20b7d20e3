package collections

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
)

// fakeDriver stubs only the two collection-id methods Cache calls.
type fakeDriver struct {
	storagedriver.Driver
	mu       sync.Mutex
	byName   map[string]int
	nextID   int
	creates  int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{byName: map[string]int{}, nextID: 100}
}

func (f *fakeDriver) GetCollectionID(ctx context.Context, name string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[name]
	return id, ok, nil
}

func (f *fakeDriver) CreateCollection(ctx context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byName[name]; ok {
		return id, nil
	}
	f.creates++
	id := f.nextID
	f.nextID++
	f.byName[name] = id
	return id, nil
}

func TestResolveWellKnownSkipsDriver(t *testing.T) {
	c := New()
	driver := newFakeDriver()
	id, err := c.Resolve(context.Background(), driver, "bookmarks")
	require.NoError(t, err)
	assert.Equal(t, storagedriver.WellKnownCollections["bookmarks"], id)
	assert.Equal(t, 0, driver.creates)
}

func TestResolveCreatesOnMiss(t *testing.T) {
	c := New()
	driver := newFakeDriver()
	id, err := c.Resolve(context.Background(), driver, "custom-coll")
	require.NoError(t, err)
	assert.Equal(t, 100, id)
	assert.Equal(t, 1, driver.creates)

	id2, err := c.Resolve(context.Background(), driver, "custom-coll")
	require.NoError(t, err)
	assert.Equal(t, id, id2)
	assert.Equal(t, 1, driver.creates, "second resolve must hit the cache, not the driver")
}

func TestResolveConcurrentMissConvergesOnOneID(t *testing.T) {
	c := New()
	driver := newFakeDriver()

	var wg sync.WaitGroup
	ids := make([]int, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := c.Resolve(context.Background(), driver, "racing-coll")
			require.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id, "every racer must converge on the same winning id")
	}
}
