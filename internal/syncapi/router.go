// Package syncapi implements the Sync 1.5 HTTP surface (spec §6), grounded
// directly on the reference per-user gorilla/mux sub-router shape of
// `other_examples/.../web-syncUserHandler.go.go`'s SyncUserHandler: one
// PathPrefix("/1.5/{uid}/") subrouter carrying info/, storage/ branches.
package syncapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mozilla-services/syncstorage-go/internal/collections"
	"github.com/mozilla-services/syncstorage-go/internal/pool"
	"github.com/mozilla-services/syncstorage-go/internal/quota"
)

// Deps bundles everything a request handler needs, shared across every
// per-user request rather than recreated per call.
type Deps struct {
	Pool            *pool.Pool
	Collections     *collections.Cache
	Quota           *quota.Enforcer
	MaxBSOGetLimit  int
	MaxPostRecords  int
	MaxPostBytes    int
	MaxPayloadBytes int
}

// NewRouter builds the full Sync 1.5 surface: per-uid deletes, info/, and
// storage/ (collection + individual BSO) routes.
func NewRouter(deps Deps) *mux.Router {
	h := &handler{deps: deps}
	r := mux.NewRouter()

	r.HandleFunc("/1.5/{uid}", h.deleteEverything).Methods(http.MethodDelete)
	r.HandleFunc("/1.5/{uid}/storage", h.deleteEverything).Methods(http.MethodDelete)

	user := r.PathPrefix("/1.5/{uid}/").Subrouter()

	info := user.PathPrefix("info/").Subrouter()
	info.HandleFunc("/collections", h.infoCollections).Methods(http.MethodGet)
	info.HandleFunc("/collection_usage", h.infoCollectionUsage).Methods(http.MethodGet)
	info.HandleFunc("/collection_counts", h.infoCollectionCounts).Methods(http.MethodGet)
	info.HandleFunc("/quota", h.infoQuota).Methods(http.MethodGet)

	storage := user.PathPrefix("storage/").Subrouter()
	storage.HandleFunc("/{collection}", h.collectionGET).Methods(http.MethodGet)
	storage.HandleFunc("/{collection}", h.collectionPOST).Methods(http.MethodPost)
	storage.HandleFunc("/{collection}", h.collectionDELETE).Methods(http.MethodDelete)
	storage.HandleFunc("/{collection}/{bsoId}", h.bsoGET).Methods(http.MethodGet)
	storage.HandleFunc("/{collection}/{bsoId}", h.bsoPUT).Methods(http.MethodPut)
	storage.HandleFunc("/{collection}/{bsoId}", h.bsoDELETE).Methods(http.MethodDelete)

	return r
}
