// Package storagefactory builds a storagedriver.Driver from a database URL,
// dispatching on scheme (spec §9). It is kept separate from
// internal/storagedriver to avoid an import cycle: concrete backends (e.g.
// boltstore) import storagedriver for its shared types, so the thing that
// imports both the interface and its implementations must live elsewhere.
package storagefactory

import (
	"fmt"
	"net/url"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver/boltstore"
)

// New builds a Driver for databaseURL. "bolt"/"file" (and a bare path) are
// fully implemented; "spanner", "mysql", "postgres" are recognized but not
// yet implemented (DESIGN.md Open Question 1).
func New(databaseURL string) (storagedriver.Driver, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storagefactory: parsing database_url: %w", err)
	}

	switch u.Scheme {
	case "", "bolt", "file":
		path := u.Opaque
		if path == "" {
			path = u.Path
		}
		if u.Host != "" {
			path = u.Host + path
		}
		return boltstore.Open(path)
	case "spanner", "mysql", "postgres":
		return nil, apperror.Newf(apperror.KindBackendNotImplemented,
			"storagefactory: backend %q is not implemented", u.Scheme)
	default:
		return nil, apperror.Newf(apperror.KindBackendNotImplemented,
			"storagefactory: unknown backend scheme %q", u.Scheme)
	}
}
