package syncapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/internal/collections"
	"github.com/mozilla-services/syncstorage-go/internal/pool"
	"github.com/mozilla-services/syncstorage-go/internal/quota"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver/boltstore"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	factory := func() (storagedriver.Driver, error) { return store.NewSession(), nil }
	cfg := pool.DefaultConfig()
	cfg.MaxSize = 2
	p, err := pool.New(cfg, factory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	return NewRouter(Deps{
		Pool:            p,
		Collections:     collections.New(),
		Quota:           quota.New(quota.Limits{}),
		MaxBSOGetLimit:  100,
		MaxPostRecords:  100,
		MaxPayloadBytes: 1 << 20,
	})
}

func TestPutThenGetBSO(t *testing.T) {
	h := newTestRouter(t)

	putReq := httptest.NewRequest(http.MethodPut, "/1.5/42/storage/bookmarks/abc123",
		strings.NewReader(`{"payload":"hello"}`))
	putRec := httptest.NewRecorder()
	h.ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusOK, putRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/1.5/42/storage/bookmarks/abc123", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var bso storagedriver.BSO
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &bso))
	assert.Equal(t, "abc123", bso.ID)
	assert.Equal(t, "hello", bso.Payload)
	assert.NotEmpty(t, getRec.Header().Get("X-Last-Modified"))
}

func TestCollectionPOSTThenGetIDs(t *testing.T) {
	h := newTestRouter(t)

	body := `[{"id":"a","payload":"1"},{"id":"b","payload":"2"}]`
	postReq := httptest.NewRequest(http.MethodPost, "/1.5/7/storage/tabs", strings.NewReader(body))
	postReq.Header.Set("Content-Type", "application/json")
	postRec := httptest.NewRecorder()
	h.ServeHTTP(postRec, postReq)
	require.Equal(t, http.StatusOK, postRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/1.5/7/storage/tabs", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var ids []string
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &ids))
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestBSOGETMissingReturns404(t *testing.T) {
	h := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/1.5/1/storage/bookmarks/missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteEverything(t *testing.T) {
	h := newTestRouter(t)

	putReq := httptest.NewRequest(http.MethodPut, "/1.5/9/storage/bookmarks/x", strings.NewReader(`{"payload":"p"}`))
	h.ServeHTTP(httptest.NewRecorder(), putReq)

	delReq := httptest.NewRequest(http.MethodDelete, "/1.5/9", nil)
	delRec := httptest.NewRecorder()
	h.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/1.5/9/storage/bookmarks/x", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestCollectionPOSTBatchCommit(t *testing.T) {
	h := newTestRouter(t)

	createReq := httptest.NewRequest(http.MethodPost, "/1.5/3/storage/history?batch=true",
		strings.NewReader(`[{"id":"a","payload":"1"}]`))
	createReq.Header.Set("Content-Type", "application/json")
	createRec := httptest.NewRecorder()
	h.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusOK, createRec.Code)

	var created storagedriver.PostResult
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	getReq := httptest.NewRequest(http.MethodGet, "/1.5/3/storage/history/a", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}
