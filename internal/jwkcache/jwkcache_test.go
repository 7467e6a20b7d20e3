package jwkcache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsPrimaryWithoutFetch(t *testing.T) {
	var fetches int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
	}))
	defer server.Close()

	c := New(JWK{Kid: "primary-1"}, server.URL, nil)
	jwk, err := c.Get(context.Background(), "primary-1")
	require.NoError(t, err)
	assert.Equal(t, "primary-1", jwk.Kid)
	assert.Zero(t, atomic.LoadInt32(&fetches))
}

func TestGetFetchesAndCachesSecondary(t *testing.T) {
	var fetches int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		json.NewEncoder(w).Encode(jwkSet{Keys: []JWK{{Kid: "secondary-1", Kty: "RSA"}}})
	}))
	defer server.Close()

	c := New(JWK{Kid: "primary-1"}, server.URL, nil)

	jwk, err := c.Get(context.Background(), "secondary-1")
	require.NoError(t, err)
	assert.Equal(t, "RSA", jwk.Kty)

	_, err = c.Get(context.Background(), "secondary-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetches), "second lookup must hit the cache")
}

func TestGetDedupesConcurrentFetches(t *testing.T) {
	var fetches int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		json.NewEncoder(w).Encode(jwkSet{Keys: []JWK{{Kid: "k", Kty: "RSA"}}})
	}))
	defer server.Close()

	c := New(JWK{Kid: "primary"}, server.URL, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "k")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetches))
}

func TestGetUnknownKidErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jwkSet{Keys: nil})
	}))
	defer server.Close()

	c := New(JWK{Kid: "primary"}, server.URL, nil)
	_, err := c.Get(context.Background(), "missing")
	assert.Error(t, err)
}
