// Package tokendb implements the tokenserver's own bbolt-backed store:
// users, nodes, and services (spec §6's logical schema), plus the
// get_or_create_user and get_best_node operations spec §4.8 drives. It is
// a direct bbolt store rather than a second storagedriver.Driver
// implementation — see DESIGN.md Open Question 2 — grounded on the same
// bucket-per-entity, JSON-marshaled-value shape as
// internal/storagedriver/boltstore.
package tokendb

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
)

var (
	bucketUsers        = []byte("users")
	bucketUsersByEmail = []byte("users_by_email")
	bucketUserSeq      = []byte("user_seq")
	bucketNodes        = []byte("nodes")
	bucketNodeSeq      = []byte("node_seq")
	bucketServices     = []byte("services")
)

// User is one tokenserver user record (spec §3 "Tokenserver user record").
type User struct {
	UID             int64    `json:"uid"`
	Service         string   `json:"service"`
	Email           string   `json:"email"`
	Generation      int64    `json:"generation"`
	ClientState     string   `json:"client_state"`
	OldClientStates []string `json:"old_client_states,omitempty"`
	KeysChangedAt   int64    `json:"keys_changed_at"`
	NodeID          int64    `json:"node_id"`
	CreatedAt       int64    `json:"created_at"`
	ReplacedAt      int64    `json:"replaced_at,omitempty"`
}

// Node is one storage node available to a service.
type Node struct {
	ID          int64  `json:"id"`
	Service     string `json:"service"`
	Node        string `json:"node"`
	Available   int64  `json:"available"`
	CurrentLoad int64  `json:"current_load"`
	Capacity    int64  `json:"capacity"`
	Downed      bool   `json:"downed"`
	Backoff     bool   `json:"backoff"`
}

// DB is the tokenserver's bbolt-backed store.
type DB struct {
	db          *bolt.DB
	releaseRate float64
}

// Open creates or opens the bolt file at path. releaseRate is
// `node_capacity_release_rate` (spec §6), the fraction of a pressured
// node's capacity freed up for a single retry when no node otherwise
// qualifies.
func Open(path string, releaseRate float64) (*DB, error) {
	boltDB, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("tokendb: opening %s: %w", path, err)
	}
	err = boltDB.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketUsers, bucketUsersByEmail, bucketUserSeq, bucketNodes, bucketNodeSeq, bucketServices} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = boltDB.Close()
		return nil, err
	}
	return &DB{db: boltDB, releaseRate: releaseRate}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// Check is a lightweight liveness probe for the heartbeat endpoint.
func (d *DB) Check() error {
	return d.db.View(func(tx *bolt.Tx) error {
		_ = tx.Bucket(bucketUsers)
		return nil
	})
}

// AddNode registers a storage node a service can be allocated onto. Used
// by operators/tests to seed the node pool; spec's core doesn't define an
// HTTP surface for this (out of scope per spec's non-goals on node admin).
func (d *DB) AddNode(n Node) (int64, error) {
	var id int64
	err := d.db.Update(func(tx *bolt.Tx) error {
		seq, err := tx.Bucket(bucketNodeSeq).NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		n.ID = id
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Put(nodeKey(id), data)
	})
	return id, err
}

func nodeKey(id int64) []byte { return []byte(fmt.Sprintf("%020d", id)) }
func userKey(uid int64) []byte { return []byte(fmt.Sprintf("%020d", uid)) }
func emailKey(service, email string) []byte { return []byte(service + "\x00" + email) }

// GetOrCreateUser implements spec §4.8 step 3 / §4.1's monotonicity
// invariant. It returns the current user record after applying generation/
// keys_changed_at/client_state update rules.
func (d *DB) GetOrCreateUser(service, email string, generation, keysChangedAt int64, clientState string) (User, error) {
	var result User
	err := d.db.Update(func(tx *bolt.Tx) error {
		byEmail := tx.Bucket(bucketUsersByEmail)
		users := tx.Bucket(bucketUsers)

		existingUIDBytes := byEmail.Get(emailKey(service, email))
		if existingUIDBytes == nil {
			node, err := d.allocateNode(tx, service)
			if err != nil {
				return err
			}
			u, err := d.insertUser(tx, User{
				Service:       service,
				Email:         email,
				Generation:    generation,
				ClientState:   clientState,
				KeysChangedAt: keysChangedAt,
				NodeID:        node.ID,
				CreatedAt:     time.Now().UnixMilli(),
			})
			if err != nil {
				return err
			}
			if err := byEmail.Put(emailKey(service, email), userKey(u.UID)); err != nil {
				return err
			}
			result = u
			return nil
		}

		v := users.Get(existingUIDBytes)
		if v == nil {
			return fmt.Errorf("tokendb: dangling user index for %s/%s", service, email)
		}
		var current User
		if err := json.Unmarshal(v, &current); err != nil {
			return err
		}

		if generation < current.Generation {
			return apperror.New(apperror.KindInvalidGeneration, "generation moved backwards")
		}
		if keysChangedAt < current.KeysChangedAt {
			return apperror.New(apperror.KindInvalidKeysChangedAt, "keys_changed_at moved backwards")
		}

		if clientState != current.ClientState {
			current.ReplacedAt = time.Now().UnixMilli()
			if err := putUser(tx, current); err != nil {
				return err
			}

			node, err := d.allocateNode(tx, service)
			if err != nil {
				return err
			}
			oldStates := append(append([]string{}, current.OldClientStates...), current.ClientState)
			fresh, err := d.insertUser(tx, User{
				Service:         service,
				Email:           email,
				Generation:      generation,
				ClientState:     clientState,
				KeysChangedAt:   keysChangedAt,
				OldClientStates: oldStates,
				NodeID:          node.ID,
				CreatedAt:       time.Now().UnixMilli(),
			})
			if err != nil {
				return err
			}
			if err := byEmail.Put(emailKey(service, email), userKey(fresh.UID)); err != nil {
				return err
			}
			result = fresh
			return nil
		}

		if generation > current.Generation {
			current.Generation = generation
		}
		if keysChangedAt > current.KeysChangedAt {
			current.KeysChangedAt = keysChangedAt
		}
		if err := putUser(tx, current); err != nil {
			return err
		}
		result = current
		return nil
	})
	return result, err
}

func (d *DB) insertUser(tx *bolt.Tx, u User) (User, error) {
	seq, err := tx.Bucket(bucketUserSeq).NextSequence()
	if err != nil {
		return User{}, err
	}
	u.UID = int64(seq)
	return u, putUser(tx, u)
}

func putUser(tx *bolt.Tx, u User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketUsers).Put(userKey(u.UID), data)
}

// GetNode looks up a single node by id, for resolving a user's assigned
// node back to its URL when building the api_endpoint response field.
func (d *DB) GetNode(id int64) (Node, error) {
	var n Node
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketNodes).Get(nodeKey(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &n)
	})
	if err != nil {
		return Node{}, err
	}
	if !found {
		return Node{}, fmt.Errorf("tokendb: node %d not found", id)
	}
	return n, nil
}

// GetBestNode implements spec §4.8 step 4 / Scenario F: pick the
// least-loaded qualifying node for service, releasing capacity and
// retrying once if nothing qualifies on the first pass.
func (d *DB) GetBestNode(service string) (Node, error) {
	var result Node
	err := d.db.Update(func(tx *bolt.Tx) error {
		n, err := d.allocateNode(tx, service)
		if err != nil {
			return err
		}
		result = n
		return nil
	})
	return result, err
}

func (d *DB) allocateNode(tx *bolt.Tx, service string) (Node, error) {
	node, ok, err := pickNode(tx, service)
	if err != nil {
		return Node{}, err
	}
	if !ok {
		if err := d.releaseCapacity(tx, service); err != nil {
			return Node{}, err
		}
		node, ok, err = pickNode(tx, service)
		if err != nil {
			return Node{}, err
		}
		if !ok {
			return Node{}, apperror.New(apperror.KindBackend, "no node available for service")
		}
	}

	node.CurrentLoad++
	node.Available--
	if node.Available < 0 {
		node.Available = 0
	}
	data, err := json.Marshal(node)
	if err != nil {
		return Node{}, err
	}
	if err := tx.Bucket(bucketNodes).Put(nodeKey(node.ID), data); err != nil {
		return Node{}, err
	}
	return node, nil
}

// pickNode scans every node for service and returns the one minimizing
// log(current_load)/log(capacity) among those with available > 0,
// capacity > current_load, not downed, and not backed off.
func pickNode(tx *bolt.Tx, service string) (Node, bool, error) {
	var best Node
	var bestScore float64
	found := false

	c := tx.Bucket(bucketNodes).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var n Node
		if err := json.Unmarshal(v, &n); err != nil {
			return Node{}, false, err
		}
		if n.Service != service || n.Downed || n.Backoff {
			continue
		}
		if n.Available <= 0 || n.Capacity <= n.CurrentLoad {
			continue
		}
		score := loadScore(n)
		if !found || score < bestScore {
			best, bestScore, found = n, score, true
		}
	}
	return best, found, nil
}

func loadScore(n Node) float64 {
	if n.CurrentLoad <= 0 {
		return 0
	}
	if n.Capacity <= 1 {
		return math.Inf(1)
	}
	return math.Log(float64(n.CurrentLoad)) / math.Log(float64(n.Capacity))
}

// releaseCapacity implements spec §4.8 step 4's pressure-relief rule:
// available = min(capacity*rate, capacity-current_load), applied to every
// non-downed, non-backed-off node at capacity for service.
func (d *DB) releaseCapacity(tx *bolt.Tx, service string) error {
	rate := d.releaseRate
	if rate <= 0 {
		rate = 0.1
	}

	c := tx.Bucket(bucketNodes).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var n Node
		if err := json.Unmarshal(v, &n); err != nil {
			return err
		}
		if n.Service != service || n.Downed || n.Backoff {
			continue
		}
		if n.Capacity <= n.CurrentLoad {
			continue
		}
		released := int64(float64(n.Capacity) * rate)
		headroom := n.Capacity - n.CurrentLoad
		if released > headroom {
			released = headroom
		}
		if released <= n.Available {
			continue
		}
		n.Available = released
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketNodes).Put(k, data); err != nil {
			return err
		}
	}
	return nil
}
