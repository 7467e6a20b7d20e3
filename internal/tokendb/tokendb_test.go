package tokendb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "tokenserver.db"), 0.1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedNode(t *testing.T, db *DB, n Node) int64 {
	t.Helper()
	id, err := db.AddNode(n)
	require.NoError(t, err)
	return id
}

func TestGetOrCreateUserFirstTimeAllocatesNode(t *testing.T) {
	db := newTestDB(t)
	seedNode(t, db, Node{Service: "sync-1.5", Node: "https://node1", Available: 100, Capacity: 100})

	u, err := db.GetOrCreateUser("sync-1.5", "user@example.com", 10, 100, "X")
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.Generation)
	assert.NotZero(t, u.NodeID)
}

func TestGetOrCreateUserGenerationMonotonicity(t *testing.T) {
	// Scenario D
	db := newTestDB(t)
	seedNode(t, db, Node{Service: "sync-1.5", Node: "https://node1", Available: 100, Capacity: 100})

	_, err := db.GetOrCreateUser("sync-1.5", "user@example.com", 10, 100, "X")
	require.NoError(t, err)

	_, err = db.GetOrCreateUser("sync-1.5", "user@example.com", 9, 100, "X")
	require.Error(t, err)
	assert.Equal(t, apperror.KindInvalidGeneration, apperror.KindOf(err))

	again, err := db.GetOrCreateUser("sync-1.5", "user@example.com", 10, 100, "X")
	require.NoError(t, err)
	assert.EqualValues(t, 10, again.Generation, "stored generation must still be 10 after the rejected update")
}

func TestGetOrCreateUserClientStateRotation(t *testing.T) {
	// Scenario E
	db := newTestDB(t)
	seedNode(t, db, Node{Service: "sync-1.5", Node: "https://node1", Available: 100, Capacity: 100})

	first, err := db.GetOrCreateUser("sync-1.5", "user@example.com", 10, 100, "Y")
	require.NoError(t, err)

	second, err := db.GetOrCreateUser("sync-1.5", "user@example.com", 11, 110, "X")
	require.NoError(t, err)

	assert.NotEqual(t, first.UID, second.UID)
	assert.Contains(t, second.OldClientStates, "Y")
	assert.Equal(t, "X", second.ClientState)
}

func TestGetOrCreateUserKeysChangedAtMonotonicity(t *testing.T) {
	db := newTestDB(t)
	seedNode(t, db, Node{Service: "sync-1.5", Node: "https://node1", Available: 100, Capacity: 100})

	_, err := db.GetOrCreateUser("sync-1.5", "user@example.com", 10, 100, "X")
	require.NoError(t, err)

	_, err = db.GetOrCreateUser("sync-1.5", "user@example.com", 10, 50, "X")
	require.Error(t, err)
	assert.Equal(t, apperror.KindInvalidKeysChangedAt, apperror.KindOf(err))
}

func TestGetBestNodeSkipsDownedNode(t *testing.T) {
	db := newTestDB(t)
	seedNode(t, db, Node{Service: "sync-1.5", Node: "https://down", Available: 100, Capacity: 100, Downed: true})
	seedNode(t, db, Node{Service: "sync-1.5", Node: "https://up", Available: 100, Capacity: 100})

	node, err := db.GetBestNode("sync-1.5")
	require.NoError(t, err)
	assert.Equal(t, "https://up", node.Node)
}

func TestGetBestNodeReleasesCapacityUnderPressure(t *testing.T) {
	// Scenario F
	db := newTestDB(t)
	seedNode(t, db, Node{Service: "sync-1.5", Node: "https://node1", Available: 0, Capacity: 100, CurrentLoad: 50})

	node, err := db.GetBestNode("sync-1.5")
	require.NoError(t, err)
	assert.Equal(t, "https://node1", node.Node)
	assert.EqualValues(t, 51, node.CurrentLoad)
}

func TestGetBestNodeFailsWhenNoneQualify(t *testing.T) {
	db := newTestDB(t)
	seedNode(t, db, Node{Service: "sync-1.5", Node: "https://full", Available: 0, Capacity: 100, CurrentLoad: 100})

	_, err := db.GetBestNode("sync-1.5")
	require.Error(t, err)
	assert.Equal(t, apperror.KindBackend, apperror.KindOf(err))
}
