package tokenserverapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/internal/tokendb"
	"github.com/mozilla-services/syncstorage-go/internal/tokenissuer"
)

type fakeVerifier struct {
	claims tokenissuer.Claims
	err    error
}

func (f fakeVerifier) Verify(ctx context.Context, credential string) (tokenissuer.Claims, error) {
	return f.claims, f.err
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	db, err := tokendb.Open(filepath.Join(t.TempDir(), "tokenserver.db"), 0.1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.AddNode(tokendb.Node{Service: "sync-1.5", Node: "https://node1.example.com", Available: 10, Capacity: 10})
	require.NoError(t, err)

	issuer := tokenissuer.New(tokenissuer.Config{Service: "sync-1.5", MasterSecret: "shh", TokenserverOrigin: "tokenserver"}, fakeVerifier{}, db)
	oauthV := fakeVerifier{claims: tokenissuer.Claims{FxAUID: "fxa-1", Generation: 1}}
	browseridV := fakeVerifier{claims: tokenissuer.Claims{FxAUID: "fxa-2", Generation: 1}}
	return New(issuer, oauthV, browseridV, "metrics-secret")
}

func TestServeHTTPHappyPathBearer(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/1.0/sync/1.5", nil)
	req.Header.Set("Authorization", "Bearer some-jwt")
	req.Header.Set("X-KeyID", "100-Y2xpZW50c3RhdGU")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["id"])
	assert.Contains(t, body["api_endpoint"], "https://node1.example.com/1.5/")
}

func TestServeHTTPMissingAuthorization(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/1.0/sync/1.5", nil)
	req.Header.Set("X-KeyID", "100-Y2xpZW50c3RhdGU")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeHTTPMissingKeyID(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/1.0/sync/1.5", nil)
	req.Header.Set("Authorization", "Bearer some-jwt")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeHTTPRejectsNonGET(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/1.0/sync/1.5", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
