// Package jwkcache caches the FxA OAuth server's signing JWKs by kid,
// fetching from the primary (configured) JWK first and falling back to a
// live HTTP fetch against the FxA verification server when a kid isn't
// recognized — deduplicating concurrent fetches of the same kid with
// golang.org/x/sync/singleflight so a thundering herd of requests bearing
// an unseen kid triggers exactly one upstream call.
package jwkcache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// JWK is the subset of RFC 7517 fields the OAuth verifier needs.
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Crv string `json:"crv"`
}

type jwkSet struct {
	Keys []JWK `json:"keys"`
}

// Cache resolves a kid to its JWK, consulting a configured primary key,
// then an in-memory cache of previously fetched secondary keys, then the
// FxA server itself.
type Cache struct {
	httpClient *http.Client
	jwksURL    string

	primary JWK

	mu        sync.RWMutex
	secondary map[string]JWK

	group singleflight.Group
}

// New builds a Cache. primary is the statically configured JWK
// (`fxa_oauth_primary_jwk`); jwksURL is the FxA server's JWK set endpoint
// consulted for keys outside of a planned rotation.
func New(primary JWK, jwksURL string, httpClient *http.Client) *Cache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Cache{
		httpClient: httpClient,
		jwksURL:    jwksURL,
		primary:    primary,
		secondary:  make(map[string]JWK),
	}
}

// Get resolves kid, fetching from FxA if it's not the primary key and not
// already cached.
func (c *Cache) Get(ctx context.Context, kid string) (JWK, error) {
	if kid == c.primary.Kid {
		return c.primary, nil
	}

	c.mu.RLock()
	jwk, ok := c.secondary[kid]
	c.mu.RUnlock()
	if ok {
		return jwk, nil
	}

	result, err, _ := c.group.Do(kid, func() (any, error) {
		return c.fetch(ctx, kid)
	})
	if err != nil {
		return JWK{}, err
	}
	return result.(JWK), nil
}

func (c *Cache) fetch(ctx context.Context, kid string) (JWK, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return JWK{}, fmt.Errorf("jwkcache: building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return JWK{}, fmt.Errorf("jwkcache: fetching jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return JWK{}, fmt.Errorf("jwkcache: jwks endpoint returned %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return JWK{}, fmt.Errorf("jwkcache: decoding jwks: %w", err)
	}

	var found *JWK
	c.mu.Lock()
	for _, k := range set.Keys {
		c.secondary[k.Kid] = k
		if k.Kid == kid {
			kk := k
			found = &kk
		}
	}
	c.mu.Unlock()

	if found == nil {
		return JWK{}, fmt.Errorf("jwkcache: kid %q not found in jwks", kid)
	}
	return *found, nil
}
