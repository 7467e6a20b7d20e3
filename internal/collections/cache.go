// Package collections implements the process-wide collection-name-to-id
// cache sitting in front of a storagedriver.Driver (spec §4.5): collection
// ids are immutable and content-addressed once assigned, so every process
// can safely cache them forever, and a cache miss that races another
// goroutine's create resolves to whichever id actually won in storage.
package collections

import (
	"context"
	"sync"

	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
)

// Cache wraps a Driver's GetCollectionID/CreateCollection pair with an
// in-memory map, so repeated lookups of well-known and previously-created
// collection names don't round-trip to storage.
type Cache struct {
	mu  sync.RWMutex
	ids map[string]int
}

// New returns an empty Cache, pre-seeded with the well-known collections
// every backend assigns fixed ids to, so those never need a storage round
// trip at all.
func New() *Cache {
	c := &Cache{ids: make(map[string]int, len(storagedriver.WellKnownCollections))}
	for name, id := range storagedriver.WellKnownCollections {
		c.ids[name] = id
	}
	return c
}

// Resolve returns collection's id, creating it via driver if this is the
// first time this process (or this collection, ever) has seen the name.
// On a miss it re-checks the driver before creating, so a racing creator
// in another process is picked up rather than shadowed.
func (c *Cache) Resolve(ctx context.Context, driver storagedriver.Driver, collection string) (int, error) {
	if id, ok := c.get(collection); ok {
		return id, nil
	}

	id, found, err := driver.GetCollectionID(ctx, collection)
	if err != nil {
		return 0, err
	}
	if found {
		c.set(collection, id)
		return id, nil
	}

	id, err = driver.CreateCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	c.set(collection, id)
	return id, nil
}

func (c *Cache) get(collection string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[collection]
	return id, ok
}

func (c *Cache) set(collection string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A losing racer that created a collection under a different id than
	// a concurrent winner must defer to whichever id is already cached,
	// since both reflect the same underlying CreateCollection call
	// resolving to one winning row in storage.
	if existing, ok := c.ids[collection]; ok && existing != id {
		return
	}
	c.ids[collection] = id
}
