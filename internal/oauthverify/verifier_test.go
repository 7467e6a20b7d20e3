package oauthverify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/internal/jwkcache"
)

func TestVerifyFallsBackToRemoteForOpaqueToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"user":       "fxa-uid-1",
			"generation": 12,
			"scope":      []string{"sync"},
		})
	}))
	defer server.Close()

	jwks := jwkcache.New(jwkcache.JWK{Kid: "primary"}, server.URL, nil)
	v := New(jwks, server.URL, nil)

	claims, err := v.Verify(context.Background(), "not-a-jwt")
	require.NoError(t, err)
	assert.Equal(t, "fxa-uid-1", claims.FxAUID)
	assert.EqualValues(t, 12, claims.Generation)
	assert.Equal(t, []string{"sync"}, claims.Scope)
}

func TestSplitScope(t *testing.T) {
	assert.Equal(t, []string{"sync", "profile"}, splitScope("sync profile"))
	assert.Empty(t, splitScope(""))
	assert.Equal(t, []string{"sync"}, splitScope("sync"))
}

func TestVerifyRemoteNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	jwks := jwkcache.New(jwkcache.JWK{Kid: "primary"}, server.URL, nil)
	v := New(jwks, server.URL, nil)

	_, err := v.Verify(context.Background(), "not-a-jwt")
	assert.Error(t, err)
}
